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
	"fmt"

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// LookupFamily selects which catalog a security lookup searches
type LookupFamily string

// Supported lookup families
const (
	// LookupInstrument searches the general instrument catalog
	LookupInstrument LookupFamily = "instrument"
	// LookupCurve searches the curve catalog
	LookupCurve LookupFamily = "curve"
	// LookupGovernment searches the government security catalog
	LookupGovernment LookupFamily = "government"
)

// operation the wire operation name of the family
func (f LookupFamily) operation() (string, error) {
	switch f {
	case LookupInstrument:
		return OperationInstrumentList, nil
	case LookupCurve:
		return OperationCurveList, nil
	case LookupGovernment:
		return OperationGovernmentList, nil
	}
	return "", fmt.Errorf("unknown lookup family %s", string(f))
}

// LookupRequest searches a security catalog by free text query. Lookup
// responses carry no item level error descriptors; the result's error
// collection is always empty.
type LookupRequest struct {
	// Family selects the catalog to search
	Family LookupFamily `validate:"required"`
	// Query is the free text search expression
	Query string `validate:"required"`
	// MaxResults caps the match count. Zero means the remote default.
	MaxResults int `validate:"gte=0"`
	// Filters are family specific search filters forwarded verbatim
	Filters map[string]interface{}
	// Options tune payload rendering and resolution
	Options Options
}

// Kind implements Request
func (r *LookupRequest) Kind() dispatch.Kind {
	return dispatch.KindLookup
}

// Service implements Request
func (r *LookupRequest) Service() string {
	return InstrumentsService
}

// ReqOptions implements Request
func (r *LookupRequest) ReqOptions() Options {
	return r.Options
}

// Validate implements Request
func (r *LookupRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	_, err := r.Family.operation()
	return err
}

// Weight implements Request. A lookup is a single bounded round trip.
func (r *LookupRequest) Weight() int {
	if r.MaxResults > 0 {
		return r.MaxResults
	}
	return 10
}

// BuildPayload implements Request
func (r *LookupRequest) BuildPayload() core.Payload {
	operation, _ := r.Family.operation()
	payload := core.Payload{
		OperationField: operation,
		QueryField:     r.Query,
	}
	if r.MaxResults > 0 {
		payload[MaxResultsField] = r.MaxResults
	}
	for filter, value := range r.Filters {
		payload[filter] = value
	}
	return payload
}

// NewAggregator implements Request
func (r *LookupRequest) NewAggregator() dispatch.Aggregator {
	return &lookupAggregator{matches: []common.Row{}}
}

// lookupAggregator collects catalog matches in arrival order
type lookupAggregator struct {
	matches []common.Row
}

// Absorb implements dispatch.Aggregator
func (a *lookupAggregator) Absorb(body core.Payload) error {
	for _, element := range asList(body[ResultsField]) {
		match := asMap(element)
		if match == nil {
			continue
		}
		values := common.FieldValues{}
		for field, value := range match {
			if field == SecurityField {
				continue
			}
			values[field] = value
		}
		a.matches = append(a.matches, common.Row{
			Security: asString(match[SecurityField]),
			Values:   values,
		})
	}
	return nil
}

// Tick implements dispatch.Aggregator
func (a *lookupAggregator) Tick(body core.Payload) (common.Row, bool) {
	return common.Row{}, false
}

// Result implements dispatch.Aggregator
func (a *lookupAggregator) Result() common.ResultRecord {
	result := common.NewResultRecord()
	result.Rows = a.matches
	return result
}
