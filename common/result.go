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

package common

import (
	"time"
)

// FieldValues field name to value mapping for one result item. Values are
// opaque to the core; nested and repeated elements stay as generic maps and
// slices.
type FieldValues map[string]interface{}

// Row one caller facing result row. Security identifies the queried item,
// Date is only set for time bucketed rows (historical data).
type Row struct {
	Security string      `json:"security"`
	Date     time.Time   `json:"date,omitempty"`
	Values   FieldValues `json:"values"`
}

// FieldErrorKey identifies a (security, field) pair that failed
type FieldErrorKey struct {
	Security string `json:"security"`
	Field    string `json:"field"`
}

// ItemErrors item level failures of a request, returned as data alongside the
// rows rather than as an error. A partially valid batch request still yields
// rows for the valid items.
type ItemErrors struct {
	// InvalidSecurities lists securities the remote service did not recognize
	InvalidSecurities []string `json:"invalid_securities"`
	// InvalidFields maps a (security, field) pair to the reported error text
	InvalidFields map[FieldErrorKey]string `json:"invalid_fields"`
}

// NewItemErrors define an empty ItemErrors collection
func NewItemErrors() ItemErrors {
	return ItemErrors{
		InvalidSecurities: []string{},
		InvalidFields:     map[FieldErrorKey]string{},
	}
}

// Empty whether any item level failure was recorded
func (e ItemErrors) Empty() bool {
	return len(e.InvalidSecurities) == 0 && len(e.InvalidFields) == 0
}

// AddInvalidSecurity record a security the remote service rejected
func (e *ItemErrors) AddInvalidSecurity(security string) {
	for _, existing := range e.InvalidSecurities {
		if existing == security {
			return
		}
	}
	e.InvalidSecurities = append(e.InvalidSecurities, security)
}

// AddInvalidField record a field failure for one security
func (e *ItemErrors) AddInvalidField(security, field, message string) {
	if e.InvalidFields == nil {
		e.InvalidFields = map[FieldErrorKey]string{}
	}
	e.InvalidFields[FieldErrorKey{Security: security, Field: field}] = message
}

// Merge fold another error collection into this one
func (e *ItemErrors) Merge(other ItemErrors) {
	for _, security := range other.InvalidSecurities {
		e.AddInvalidSecurity(security)
	}
	for key, message := range other.InvalidFields {
		e.AddInvalidField(key.Security, key.Field, message)
	}
}

// BySecurity fetch field errors recorded against one security
func (e ItemErrors) BySecurity(security string) map[string]string {
	result := map[string]string{}
	for key, message := range e.InvalidFields {
		if key.Security == security {
			result[key.Field] = message
		}
	}
	return result
}

// ByField fetch errors recorded against one field across securities
func (e ItemErrors) ByField(field string) map[string]string {
	result := map[string]string{}
	for key, message := range e.InvalidFields {
		if key.Field == field {
			result[key.Security] = message
		}
	}
	return result
}

// ResultRecord the accumulated caller facing output of one request: the
// ordered rows and the item level error collection. Errors is always
// populated, even when empty, so callers can inspect partial failure without
// error handling. An empty row set with a non-empty error collection is a
// valid, fully resolved result.
type ResultRecord struct {
	Rows   []Row      `json:"rows"`
	Errors ItemErrors `json:"errors"`
}

// NewResultRecord define an empty ResultRecord
func NewResultRecord() ResultRecord {
	return ResultRecord{Rows: []Row{}, Errors: NewItemErrors()}
}
