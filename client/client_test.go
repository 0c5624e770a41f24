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

package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/request"
	"github.com/stretchr/testify/assert"
)

func testSystemConfig() common.SystemConfig {
	return common.SystemConfig{
		Gateway: common.GatewayConfig{Transport: "emulator", EventBuffer: 256},
		Pool: common.SessionPoolConfig{
			MaxSessionLoad:     100,
			MaxSessions:        2,
			EventPollTimeout:   1,
			ServiceOpenTimeout: 5,
			DrainTimeout:       1,
		},
		Request: common.RequestConfig{DefaultTimeout: 10, StreamBuffer: 4, TaskBuffer: 32},
	}
}

// referenceResponder scripts a two chunk response for reference data requests
func referenceResponder(service, correlationID string, payload core.Payload) []core.RawEvent {
	operation, _ := payload[request.OperationField].(string)
	if operation != request.OperationReferenceData {
		return nil
	}
	return []core.RawEvent{
		{
			Type:           core.EventPartialResponse,
			CorrelationIDs: []string{correlationID},
			Sequence:       1,
			Body: core.Payload{
				request.SecurityDataField: []interface{}{
					map[string]interface{}{
						request.SecurityField: "AAA",
						request.FieldDataField: map[string]interface{}{
							"PX_LAST": 7.25,
						},
					},
				},
			},
		},
		{
			Type:           core.EventResponse,
			CorrelationIDs: []string{correlationID},
			Sequence:       2,
			Body: core.Payload{
				request.SecurityDataField: []interface{}{
					map[string]interface{}{
						request.SecurityField: "BBB",
						request.FieldDataField: map[string]interface{}{
							"PX_LAST": 12.5,
						},
						request.FieldExceptionsField: []interface{}{
							map[string]interface{}{
								request.FieldIDField: "PX_BID",
								request.ErrorInfoField: map[string]interface{}{
									request.MessageField: "field not applicable",
								},
							},
						},
					},
					map[string]interface{}{
						request.SecurityField: "BAD1",
						request.SecurityErrorField: map[string]interface{}{
							request.MessageField: "unknown security",
						},
					},
				},
			},
		},
	}
}

func TestClientStart(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	dialErr := fmt.Errorf("gateway unreachable")
	gateway.FailNextConnect(dialErr)
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	// Case 1: connectivity failure surfaces before any request is issued
	{
		err := uut.Start(context.Background())
		assert.NotNil(err)
		connErr, ok := err.(*common.ConnectionError)
		assert.True(ok)
		assert.Equal(dialErr, connErr.Err)
	}

	// Case 2: successful warm-up opens the first session eagerly
	{
		assert.Nil(uut.Start(context.Background()))
		assert.Len(gateway.Sessions(), 1)
	}
}

func TestClientReferenceDataRoundTrip(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	gateway.SetResponder(referenceResponder)
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	result, err := uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
		Securities: []string{"AAA", "BBB", "BAD1"},
		Fields:     []string{"PX_LAST", "PX_BID"},
	})
	assert.Nil(err)

	assert.Len(result.Rows, 2)
	assert.Equal("AAA", result.Rows[0].Security)
	assert.Equal(7.25, result.Rows[0].Values["PX_LAST"])
	assert.Equal("BBB", result.Rows[1].Security)
	assert.Equal(12.5, result.Rows[1].Values["PX_LAST"])
	assert.Equal([]string{"BAD1"}, result.Errors.InvalidSecurities)
	assert.Equal(
		"field not applicable",
		result.Errors.InvalidFields[common.FieldErrorKey{Security: "BBB", Field: "PX_BID"}],
	)

	// The request went out on the wire with the expected payload shape
	sent := gateway.Sessions()[0].Sent()
	assert.Len(sent, 1)
	assert.Equal(request.ReferenceDataService, sent[0].Service)
	assert.Equal(
		request.OperationReferenceData, sent[0].Payload[request.OperationField],
	)
}

func TestClientConcurrentRequestsShareSession(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	gateway.SetResponder(referenceResponder)
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	wg := sync.WaitGroup{}
	for idx := 0; idx < 8; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
				Securities: []string{"AAA", "BBB", "BAD1"},
				Fields:     []string{"PX_LAST"},
			})
			assert.Nil(err)
			assert.Len(result.Rows, 2)
		}()
	}
	wg.Wait()

	// All callers multiplexed onto the pooled sessions
	stats := uut.Stats()
	assert.LessOrEqual(len(stats.Sessions), 2)
	assert.Equal(0, stats.TotalLoad)
}

func TestClientRequestFailure(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	gateway.SetResponder(func(service, correlationID string, payload core.Payload) []core.RawEvent {
		operation, _ := payload[request.OperationField].(string)
		if operation == request.OperationCancel {
			return nil
		}
		return []core.RawEvent{{
			Type:           core.EventRequestStatus,
			CorrelationIDs: []string{correlationID},
			Body: core.Payload{
				core.ReasonCodeField: "DAILY_LIMIT_REACHED",
				core.ReasonTextField: "daily request limit reached",
			},
		}}
	})
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	_, err = uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
		Securities: []string{"AAA"},
		Fields:     []string{"PX_LAST"},
	})
	assert.NotNil(err)
	failure, ok := err.(*common.RequestFailedError)
	assert.True(ok)
	assert.Equal("DAILY_LIMIT_REACHED", failure.Code)
}

func TestClientRequestTimeout(t *testing.T) {
	assert := assert.New(t)

	// Responder never answers
	gateway := core.GetEmulatorGateway()
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	_, err = uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
		Securities: []string{"AAA"},
		Fields:     []string{"PX_LAST"},
		Options:    request.Options{Timeout: time.Millisecond * 100},
	})
	assert.Equal(common.ErrTimeout, err)

	// The abandoned request was cancelled on the wire
	var sawCancel bool
	for _, sent := range gateway.Sessions()[0].Sent() {
		operation, _ := sent.Payload[request.OperationField].(string)
		if operation == request.OperationCancel {
			sawCancel = true
		}
	}
	assert.True(sawCancel)

	// A stray late response for the abandoned request is dropped quietly
	gateway.Sessions()[0].Inject(core.RawEvent{
		Type:           core.EventResponse,
		CorrelationIDs: []string{gateway.Sessions()[0].Sent()[0].CorrelationID},
		Body:           core.Payload{},
	})
	time.Sleep(time.Millisecond * 100)
}

func TestClientSubscriptionFlow(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	// Remote confirms unsubscribes with a terminal subscription status
	gateway.SetResponder(func(service, correlationID string, payload core.Payload) []core.RawEvent {
		operation, _ := payload[request.OperationField].(string)
		if operation != request.OperationUnsubscribe {
			return nil
		}
		return []core.RawEvent{{
			Type:           core.EventSubscriptionStatus,
			CorrelationIDs: []string{correlationID},
			Body:           core.Payload{core.StatusField: core.StatusSubscriptionEnded},
		}}
	})
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	subscription, err := uut.Subscribe(context.Background(), &request.SubscriptionRequest{
		Securities: []string{"AAA"},
		Fields:     []string{"LAST_PRICE"},
	})
	assert.Nil(err)

	emulated := gateway.Sessions()[0]
	correlationID := subscription.ID()

	// Updates flow through in order
	for _, price := range []float64{10.0, 10.5, 11.0} {
		emulated.Inject(core.RawEvent{
			Type:           core.EventSubscriptionData,
			CorrelationIDs: []string{correlationID},
			Body: core.Payload{
				request.SecurityField: "AAA",
				"LAST_PRICE":          price,
			},
		})
	}
	for _, expected := range []float64{10.0, 10.5, 11.0} {
		select {
		case row := <-subscription.Updates():
			assert.Equal("AAA", row.Security)
			assert.Equal(expected, row.Values["LAST_PRICE"])
		case <-time.After(time.Second * 5):
			assert.FailNow("timed out waiting for update")
		}
	}

	// Unsubscribe closes the stream and notifies the wire
	assert.Nil(subscription.Unsubscribe(context.Background()))
	select {
	case _, open := <-subscription.Updates():
		assert.False(open)
	case <-time.After(time.Second * 5):
		assert.FailNow("stream did not close after unsubscribe")
	}
	assert.Nil(subscription.Err())

	var sawUnsubscribe bool
	for _, sent := range emulated.Sent() {
		operation, _ := sent.Payload[request.OperationField].(string)
		if operation == request.OperationUnsubscribe && sent.CorrelationID == correlationID {
			sawUnsubscribe = true
		}
	}
	assert.True(sawUnsubscribe)
}

func TestClientUnsubscribeAwaitsConfirmation(t *testing.T) {
	assert := assert.New(t)

	// Remote that never answers the unsubscribe on its own
	gateway := core.GetEmulatorGateway()
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	subscription, err := uut.Subscribe(context.Background(), &request.SubscriptionRequest{
		Securities: []string{"AAA"},
		Fields:     []string{"LAST_PRICE"},
	})
	assert.Nil(err)
	emulated := gateway.Sessions()[0]

	unsubDone := make(chan error, 1)
	go func() {
		ctxt, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		unsubDone <- subscription.Unsubscribe(ctxt)
	}()

	// Until the remote confirms, the stream must stay open and the call
	// must stay blocked
	time.Sleep(time.Millisecond * 200)
	select {
	case <-unsubDone:
		assert.FailNow("unsubscribe returned before the terminal status")
	case _, open := <-subscription.Updates():
		assert.True(open, "stream closed before the terminal status")
		assert.FailNow("unexpected update")
	default:
	}

	emulated.Inject(core.RawEvent{
		Type:           core.EventSubscriptionStatus,
		CorrelationIDs: []string{subscription.ID()},
		Body:           core.Payload{core.StatusField: core.StatusSubscriptionEnded},
	})

	select {
	case err := <-unsubDone:
		assert.Nil(err)
	case <-time.After(time.Second * 5):
		assert.FailNow("unsubscribe did not return after the terminal status")
	}
	select {
	case _, open := <-subscription.Updates():
		assert.False(open)
	case <-time.After(time.Second * 5):
		assert.FailNow("stream did not close after confirmation")
	}
	assert.Nil(subscription.Err())
}

func TestClientStopClosesSubscriptions(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)

	var subscriptions []Subscription
	for idx := 0; idx < 3; idx++ {
		subscription, err := uut.Subscribe(context.Background(), &request.SubscriptionRequest{
			Securities: []string{"AAA"},
			Fields:     []string{"LAST_PRICE"},
		})
		assert.Nil(err)
		subscriptions = append(subscriptions, subscription)
	}

	assert.Nil(uut.Stop(context.Background()))

	// Every update channel closed in an orderly fashion
	for _, subscription := range subscriptions {
		select {
		case _, open := <-subscription.Updates():
			assert.False(open)
		case <-time.After(time.Second * 5):
			assert.FailNow("stream did not close on client stop")
		}
		assert.Nil(subscription.Err())
	}

	// Stopped client rejects new requests
	_, err = uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
		Securities: []string{"AAA"},
		Fields:     []string{"PX_LAST"},
	})
	assert.Equal(common.ErrSessionClosed, err)
}

func TestClientSessionLostFailsInFlight(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	uut, err := GetNewClient(gateway, testSystemConfig())
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop(context.Background()))
	}()

	resolved := make(chan error, 1)
	go func() {
		_, err := uut.GetReferenceData(context.Background(), &request.ReferenceRequest{
			Securities: []string{"AAA"},
			Fields:     []string{"PX_LAST"},
		})
		resolved <- err
	}()

	// Wait for the request to hit the wire, then kill the session
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		sessions := gateway.Sessions()
		if len(sessions) > 0 && len(sessions[0].Sent()) > 0 {
			break
		}
		time.Sleep(time.Millisecond * 20)
	}
	sessions := gateway.Sessions()
	assert.NotEmpty(sessions)
	sessions[0].Inject(core.RawEvent{
		Type: core.EventSessionStatus,
		Body: core.Payload{core.StatusField: core.StatusSessionTerminated},
	})

	select {
	case err := <-resolved:
		assert.Equal(common.ErrSessionLost, err)
	case <-time.After(time.Second * 5):
		assert.FailNow("in-flight request not failed on session loss")
	}
}
