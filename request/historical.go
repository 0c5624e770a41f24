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
	"sort"
	"time"

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// HistoricalRequest fetches a time series of field values for a batch of
// securities over a date range. The response is typically paged; pages may
// arrive interleaved across securities and dates, so accumulation is keyed by
// (security, date).
type HistoricalRequest struct {
	// Securities to query, without identifier scheme prefix
	Securities []string `validate:"required,min=1,dive,required"`
	// Fields to fetch for every security
	Fields []string `validate:"required,min=1,dive,required"`
	// StartDate is the inclusive range start
	StartDate time.Time `validate:"required"`
	// EndDate is the inclusive range end
	EndDate time.Time `validate:"required"`
	// Periodicity selects the time bucket size, e.g. DAILY. Empty means DAILY.
	Periodicity string
	// Options tune payload rendering and resolution
	Options Options
}

// Kind implements Request
func (r *HistoricalRequest) Kind() dispatch.Kind {
	return dispatch.KindHistorical
}

// Service implements Request
func (r *HistoricalRequest) Service() string {
	return ReferenceDataService
}

// ReqOptions implements Request
func (r *HistoricalRequest) ReqOptions() Options {
	return r.Options
}

// Validate implements Request
func (r *HistoricalRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.EndDate.Before(r.StartDate) {
		return fmt.Errorf(
			"end date %s before start date %s",
			r.EndDate.Format(WireDateFormat),
			r.StartDate.Format(WireDateFormat),
		)
	}
	return nil
}

// Weight implements Request. Load scales with the response size, which is one
// value per (security, field, day) triple.
func (r *HistoricalRequest) Weight() int {
	days := int(r.EndDate.Sub(r.StartDate).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	weight := len(r.Securities) * len(r.Fields) * days
	if weight < 1 {
		weight = 1
	}
	return weight
}

// BuildPayload implements Request
func (r *HistoricalRequest) BuildPayload() core.Payload {
	periodicity := r.Periodicity
	if periodicity == "" {
		periodicity = "DAILY"
	}
	payload := core.Payload{
		OperationField:   OperationHistoricalData,
		SecuritiesField:  applyIDType(r.Securities, r.Options.IDType),
		FieldsField:      r.Fields,
		StartDateField:   r.StartDate.Format(WireDateFormat),
		EndDateField:     r.EndDate.Format(WireDateFormat),
		PeriodicityField: periodicity,
	}
	if overrides := r.Options.Overrides.asWire(); overrides != nil {
		payload[OverridesField] = overrides
	}
	return payload
}

// NewAggregator implements Request
func (r *HistoricalRequest) NewAggregator() dispatch.Aggregator {
	return &historicalAggregator{
		idType: r.Options.IDType,
		order:  append([]string{}, r.Securities...),
		rows:   map[historicalRowKey]common.FieldValues{},
		errors: common.NewItemErrors(),
	}
}

type historicalRowKey struct {
	security string
	date     time.Time
}

// historicalAggregator folds paged time series chunks into one row per
// (security, date) bucket. Keyed merging makes the result independent of page
// arrival order.
type historicalAggregator struct {
	idType SecurityIDType
	order  []string
	rows   map[historicalRowKey]common.FieldValues
	errors common.ItemErrors
}

// Absorb implements dispatch.Aggregator
func (a *historicalAggregator) Absorb(body core.Payload) error {
	// Historical chunks carry a single securityData object per page; batch
	// responses use the repeated form. Accept either.
	elements := asList(body[SecurityDataField])
	if elements == nil {
		if item := asMap(body[SecurityDataField]); item != nil {
			elements = []interface{}{item}
		}
	}
	for _, element := range elements {
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
		if !containsString(a.order, security) {
			a.order = append(a.order, security)
		}
		for _, bucketElement := range asList(item[FieldDataField]) {
			bucket := asMap(bucketElement)
			if bucket == nil {
				continue
			}
			date, ok := parseWireDate(asString(bucket[DateField]))
			if !ok {
				continue
			}
			key := historicalRowKey{security: security, date: date}
			if _, known := a.rows[key]; !known {
				a.rows[key] = common.FieldValues{}
			}
			for field, value := range bucket {
				if field == DateField {
					continue
				}
				a.rows[key][field] = value
			}
		}
	}
	return nil
}

// Tick implements dispatch.Aggregator
func (a *historicalAggregator) Tick(body core.Payload) (common.Row, bool) {
	return common.Row{}, false
}

// Result implements dispatch.Aggregator. Rows come out grouped by security in
// request order, dates ascending within each security.
func (a *historicalAggregator) Result() common.ResultRecord {
	result := common.NewResultRecord()
	result.Errors = a.errors
	for _, security := range a.order {
		var dates []time.Time
		for key := range a.rows {
			if key.security == security {
				dates = append(dates, key.date)
			}
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		for _, date := range dates {
			result.Rows = append(result.Rows, common.Row{
				Security: security,
				Date:     date,
				Values:   a.rows[historicalRowKey{security: security, date: date}],
			})
		}
	}
	return result
}
