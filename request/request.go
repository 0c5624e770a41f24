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
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// SecurityIDType names the identifier scheme of the securities in a request.
// The scheme is prepended to each security identifier on the wire.
type SecurityIDType string

// Supported identifier schemes
const (
	IDTypeNone   SecurityIDType = ""
	IDTypeTicker SecurityIDType = "/ticker/"
	IDTypeISIN   SecurityIDType = "/isin/"
	IDTypeCUSIP  SecurityIDType = "/cusip/"
	IDTypeSEDOL  SecurityIDType = "/sedol/"
)

// Apply prefix one security identifier with the scheme
func (t SecurityIDType) Apply(security string) string {
	return string(t) + security
}

// Overrides are per request field overrides forwarded to the remote service
type Overrides map[string]interface{}

// asWire render the overrides in the repeated element form the wire expects
func (o Overrides) asWire() []interface{} {
	if len(o) == 0 {
		return nil
	}
	result := make([]interface{}, 0, len(o))
	for fieldID, value := range o {
		result = append(result, map[string]interface{}{
			OverrideIDField:  fieldID,
			OverrideValField: value,
		})
	}
	return result
}

// Options tune how one request is built and resolved
type Options struct {
	// IDType is the identifier scheme of the request's securities
	IDType SecurityIDType
	// Overrides are forwarded to the remote service verbatim
	Overrides Overrides
	// StrictPaging rejects paged responses arriving out of sequence instead of
	// merging pages by key
	StrictPaging bool
	// Timeout caps the wait for resolution. Zero means the configured default.
	Timeout time.Duration
}

// Request is one logical request a caller can submit. Implementations build
// the wire payload, estimate their session load, and supply the aggregator
// that folds response chunks into the caller facing result.
type Request interface {
	// Kind the request classification
	Kind() dispatch.Kind
	// Service the service the request targets
	Service() string
	// BuildPayload render the request payload for transmission
	BuildPayload() core.Payload
	// NewAggregator define the response accumulation buffer for this request
	NewAggregator() dispatch.Aggregator
	// Weight estimate the load the request puts on a session
	Weight() int
	// Validate verify the request parameters are usable
	Validate() error
	// ReqOptions fetch the request options
	ReqOptions() Options
}

var validate = validator.New()

// applyIDType prefix every security with the request's identifier scheme
func applyIDType(securities []string, idType SecurityIDType) []string {
	if idType == IDTypeNone {
		return securities
	}
	result := make([]string, len(securities))
	for i, security := range securities {
		result[i] = idType.Apply(security)
	}
	return result
}

// stripIDType undo the identifier scheme prefix on a returned security name
func stripIDType(security string, idType SecurityIDType) string {
	prefix := string(idType)
	if prefix != "" && len(security) > len(prefix) && security[:len(prefix)] == prefix {
		return security[len(prefix):]
	}
	return security
}

// ----------------------------------------------------------------------------------------
// Response payload traversal helpers. The wire payload is generic JSON-ish
// structure; these keep the aggregators free of type assertion noise.

func asList(value interface{}) []interface{} {
	if result, ok := value.([]interface{}); ok {
		return result
	}
	return nil
}

func asMap(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case core.Payload:
		return v
	}
	return nil
}

func asString(value interface{}) string {
	if result, ok := value.(string); ok {
		return result
	}
	return ""
}

// parseWireDate accept the wire layout and the common dashed layout
func parseWireDate(value string) (time.Time, bool) {
	for _, layout := range []string{WireDateFormat, "2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
