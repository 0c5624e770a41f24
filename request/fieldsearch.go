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

// FieldSearchRequest searches the field catalog by free text query. Each
// matched field becomes one row keyed by the field identifier, carrying the
// scalar field descriptors (mnemonic, description, data type). The catalog
// emits no item level errors; the result's error collection is always empty.
type FieldSearchRequest struct {
	// Query is the free text search expression
	Query string `validate:"required"`
	// Overrides narrow the search, merged verbatim into the request payload
	Overrides Overrides
	// Options tune payload rendering and resolution
	Options Options
}

// Kind implements Request
func (r *FieldSearchRequest) Kind() dispatch.Kind {
	return dispatch.KindLookup
}

// Service implements Request
func (r *FieldSearchRequest) Service() string {
	return FieldCatalogService
}

// ReqOptions implements Request
func (r *FieldSearchRequest) ReqOptions() Options {
	return r.Options
}

// Validate implements Request
func (r *FieldSearchRequest) Validate() error {
	return validate.Struct(r)
}

// Weight implements Request. A catalog search is one bounded round trip.
func (r *FieldSearchRequest) Weight() int {
	return 1
}

// BuildPayload implements Request
func (r *FieldSearchRequest) BuildPayload() core.Payload {
	payload := core.Payload{
		OperationField:  OperationFieldSearch,
		SearchSpecField: r.Query,
	}
	for key, value := range r.Overrides {
		payload[key] = value
	}
	return payload
}

// NewAggregator implements Request
func (r *FieldSearchRequest) NewAggregator() dispatch.Aggregator {
	return &fieldSearchAggregator{matches: []common.Row{}}
}

// fieldSearchAggregator collects catalog fields in arrival order. Responses
// group the matches by category; each entry carries the field identifier and
// a descriptor record.
type fieldSearchAggregator struct {
	matches []common.Row
}

// Absorb implements dispatch.Aggregator
func (a *fieldSearchAggregator) Absorb(body core.Payload) error {
	for _, categoryElement := range asList(body[CategoryField]) {
		category := asMap(categoryElement)
		if category == nil {
			continue
		}
		for _, fieldElement := range asList(category[FieldDataField]) {
			match := asMap(fieldElement)
			if match == nil {
				continue
			}
			values := common.FieldValues{}
			for name, value := range asMap(match[FieldInfoField]) {
				// Nested descriptor lists are usually empty; keep the scalars
				switch value.(type) {
				case []interface{}, map[string]interface{}, core.Payload:
					continue
				}
				values[name] = value
			}
			a.matches = append(a.matches, common.Row{
				Security: asString(match[FieldCatalogIDField]),
				Values:   values,
			})
		}
	}
	return nil
}

// Tick implements dispatch.Aggregator
func (a *fieldSearchAggregator) Tick(body core.Payload) (common.Row, bool) {
	return common.Row{}, false
}

// Result implements dispatch.Aggregator
func (a *fieldSearchAggregator) Result() common.ResultRecord {
	result := common.NewResultRecord()
	result.Rows = a.matches
	return result
}
