// Copyright 2025-2026 The mdmux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package request

import (
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// ReferenceRequest fetches point-in-time field values for a batch of
// securities. One row per security in the result; item level failures land in
// the result's error collection, not in the returned error.
type ReferenceRequest struct {
	// Securities to query, without identifier scheme prefix
	Securities []string `validate:"required,min=1,dive,required"`
	// Fields to fetch for every security
	Fields []string `validate:"required,min=1,dive,required"`
	// Options tune payload rendering and resolution
	Options Options
}

// Kind implements Request
func (r *ReferenceRequest) Kind() dispatch.Kind {
	return dispatch.KindReference
}

// Service implements Request
func (r *ReferenceRequest) Service() string {
	return ReferenceDataService
}

// ReqOptions implements Request
func (r *ReferenceRequest) ReqOptions() Options {
	return r.Options
}

// Validate implements Request
func (r *ReferenceRequest) Validate() error {
	return validate.Struct(r)
}

// Weight implements Request. Load scales with the response size, which is one
// value per (security, field) pair.
func (r *ReferenceRequest) Weight() int {
	weight := len(r.Securities) * len(r.Fields)
	if weight < 1 {
		weight = 1
	}
	return weight
}

// BuildPayload implements Request
func (r *ReferenceRequest) BuildPayload() core.Payload {
	payload := core.Payload{
		OperationField:  OperationReferenceData,
		SecuritiesField: applyIDType(r.Securities, r.Options.IDType),
		FieldsField:     r.Fields,
	}
	if overrides := r.Options.Overrides.asWire(); overrides != nil {
		payload[OverridesField] = overrides
	}
	return payload
}

// NewAggregator implements Request
func (r *ReferenceRequest) NewAggregator() dispatch.Aggregator {
	return &referenceAggregator{
		idType: r.Options.IDType,
		order:  append([]string{}, r.Securities...),
		rows:   map[string]common.FieldValues{},
		errors: common.NewItemErrors(),
	}
}

// referenceAggregator folds securityData chunks into one row per security.
// Chunks of a paged response may interleave securities in any order; merging
// is keyed by security name so the page arrival order does not matter.
type referenceAggregator struct {
	idType SecurityIDType
	order  []string
	rows   map[string]common.FieldValues
	errors common.ItemErrors
}

// Absorb implements dispatch.Aggregator
func (a *referenceAggregator) Absorb(body core.Payload) error {
	for _, element := range asList(body[SecurityDataField]) {
		item := asMap(element)
		if item == nil {
			continue
		}
		security := stripIDType(asString(item[SecurityField]), a.idType)
		if securityError := asMap(item[SecurityErrorField]); securityError != nil {
			a.errors.AddInvalidSecurity(security)
			continue
		}
		absorbFieldExceptions(&a.errors, security, item)
		if _, known := a.rows[security]; !known {
			if !containsString(a.order, security) {
				a.order = append(a.order, security)
			}
			a.rows[security] = common.FieldValues{}
		}
		for field, value := range asMap(item[FieldDataField]) {
			a.rows[security][field] = value
		}
	}
	return nil
}

// Tick implements dispatch.Aggregator
func (a *referenceAggregator) Tick(body core.Payload) (common.Row, bool) {
	return common.Row{}, false
}

// Result implements dispatch.Aggregator. Rows come out in request order.
func (a *referenceAggregator) Result() common.ResultRecord {
	result := common.NewResultRecord()
	result.Errors = a.errors
	for _, security := range a.order {
		values, ok := a.rows[security]
		if !ok {
			continue
		}
		result.Rows = append(result.Rows, common.Row{Security: security, Values: values})
	}
	return result
}

// absorbFieldExceptions record per field failures reported against a security
func absorbFieldExceptions(errors *common.ItemErrors, security string, item map[string]interface{}) {
	for _, element := range asList(item[FieldExceptionsField]) {
		exception := asMap(element)
		if exception == nil {
			continue
		}
		field := asString(exception[FieldIDField])
		message := asString(asMap(exception[ErrorInfoField])[MessageField])
		errors.AddInvalidField(security, field, message)
	}
}

func containsString(list []string, target string) bool {
	for _, element := range list {
		if element == target {
			return true
		}
	}
	return false
}
