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

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// SubscriptionRequest opens a streaming subscription for field updates on a
// batch of securities. Updates surface as rows on a stream instead of a one
// shot result; the stream stays open until unsubscribed, the session is lost,
// or the remote terminates the subscription.
type SubscriptionRequest struct {
	// Securities to subscribe to, without identifier scheme prefix
	Securities []string `validate:"required,min=1,dive,required"`
	// Fields to receive updates for
	Fields []string `validate:"required,min=1,dive,required"`
	// Interval throttles updates to at most one per period. Zero streams every
	// update.
	Interval time.Duration
	// Options tune payload rendering
	Options Options
}

// Kind implements Request
func (r *SubscriptionRequest) Kind() dispatch.Kind {
	return dispatch.KindSubscription
}

// Service implements Request
func (r *SubscriptionRequest) Service() string {
	return MarketDataService
}

// ReqOptions implements Request
func (r *SubscriptionRequest) ReqOptions() Options {
	return r.Options
}

// Validate implements Request
func (r *SubscriptionRequest) Validate() error {
	return validate.Struct(r)
}

// Weight implements Request. A subscription's load persists for its lifetime,
// scaling with the update volume of its (security, field) pairs.
func (r *SubscriptionRequest) Weight() int {
	weight := len(r.Securities) * len(r.Fields)
	if weight < 1 {
		weight = 1
	}
	return weight
}

// BuildPayload implements Request
func (r *SubscriptionRequest) BuildPayload() core.Payload {
	payload := core.Payload{
		OperationField:  OperationSubscribe,
		SecuritiesField: applyIDType(r.Securities, r.Options.IDType),
		FieldsField:     r.Fields,
	}
	if r.Interval > 0 {
		payload["interval"] = int(r.Interval / time.Second)
	}
	return payload
}

// NewAggregator implements Request
func (r *SubscriptionRequest) NewAggregator() dispatch.Aggregator {
	fields := map[string]bool{}
	for _, field := range r.Fields {
		fields[field] = true
	}
	return &subscriptionAggregator{idType: r.Options.IDType, fields: fields}
}

// subscriptionAggregator converts streaming updates into rows. Updates for
// fields outside the subscribed set are filtered out; an update carrying none
// of the subscribed fields produces no row.
type subscriptionAggregator struct {
	idType SecurityIDType
	fields map[string]bool
}

// Absorb implements dispatch.Aggregator
func (a *subscriptionAggregator) Absorb(body core.Payload) error {
	return nil
}

// Tick implements dispatch.Aggregator
func (a *subscriptionAggregator) Tick(body core.Payload) (common.Row, bool) {
	security := stripIDType(asString(body[SecurityField]), a.idType)
	if security == "" {
		return common.Row{}, false
	}
	values := common.FieldValues{}
	for field, value := range body {
		if a.fields[field] {
			values[field] = value
		}
	}
	if len(values) == 0 {
		return common.Row{}, false
	}
	return common.Row{Security: security, Values: values}, true
}

// Result implements dispatch.Aggregator. Subscriptions resolve through their
// stream; there is no terminal record.
func (a *subscriptionAggregator) Result() common.ResultRecord {
	return common.NewResultRecord()
}

// UnsubscribePayload render the payload that tears a subscription down
func UnsubscribePayload() core.Payload {
	return core.Payload{OperationField: OperationUnsubscribe}
}

// CancelPayload render the payload that abandons an in-flight request
func CancelPayload() core.Payload {
	return core.Payload{OperationField: OperationCancel}
}
