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

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/stretchr/testify/assert"
)

type dispatcherTestEnv struct {
	tp         common.TaskProcessor
	table      *CorrelationTable
	dispatcher EventDispatcher
	services   chan string
	wg         *sync.WaitGroup
	cancel     context.CancelFunc
}

func defineDispatcherTestEnv(t *testing.T) *dispatcherTestEnv {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	sessionID := uuid.New().String()
	tp, err := common.GetNewTaskProcessorInstance(sessionID, 16, ctxt)
	assert.Nil(err)
	table := GetNewCorrelationTable(sessionID)
	services := make(chan string, 8)
	dispatcher, err := DefineEventDispatcher(
		sessionID, tp, table, func(service string, ready bool) {
			if ready {
				services <- service
			}
		},
	)
	assert.Nil(err)
	wg := &sync.WaitGroup{}
	assert.Nil(tp.StartEventLoop(wg))
	return &dispatcherTestEnv{
		tp: tp, table: table, dispatcher: dispatcher, services: services, wg: wg, cancel: cancel,
	}
}

func (e *dispatcherTestEnv) stop() {
	_ = e.tp.StopEventLoop()
	e.cancel()
	e.wg.Wait()
}

func awaitDone(t *testing.T, entry *Entry) {
	select {
	case <-entry.Done():
	case <-time.After(time.Second * 5):
		assert.FailNow(t, "entry did not resolve in time")
	}
}

func TestDispatcherResponseResolution(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	aggregator := &recordingAggregator{}
	entry := NewEntry(uuid.New().String(), KindReference, 1, aggregator)
	assert.Nil(env.table.Register(entry))

	// Two partial chunks followed by the final chunk
	ctxt := context.Background()
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventPartialResponse,
		CorrelationIDs: []string{entry.ID()},
		Sequence:       1,
		Body:           core.Payload{"page": 1},
	}, ctxt))
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventPartialResponse,
		CorrelationIDs: []string{entry.ID()},
		Sequence:       2,
		Body:           core.Payload{"page": 2},
	}, ctxt))
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventResponse,
		CorrelationIDs: []string{entry.ID()},
		Sequence:       3,
		Body:           core.Payload{"page": 3},
	}, ctxt))

	awaitDone(t, entry)
	result, err := entry.Outcome()
	assert.Nil(err)
	assert.Len(result.Rows, 3)
	assert.Len(aggregator.absorbed, 3)
	// Entry is gone from the table once resolved
	assert.Nil(env.table.Get(entry.ID()))

	// A stray late event for the resolved entry is dropped quietly
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventResponse,
		CorrelationIDs: []string{entry.ID()},
		Body:           core.Payload{},
	}, ctxt))
}

func TestDispatcherSharedEventFanout(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	entry1 := NewEntry(uuid.New().String(), KindReference, 1, &recordingAggregator{})
	entry2 := NewEntry(uuid.New().String(), KindReference, 1, &recordingAggregator{})
	assert.Nil(env.table.Register(entry1))
	assert.Nil(env.table.Register(entry2))

	// One event carrying both correlation identifiers resolves both entries
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventResponse,
		CorrelationIDs: []string{entry1.ID(), entry2.ID()},
		Body:           core.Payload{},
	}, context.Background()))

	awaitDone(t, entry1)
	awaitDone(t, entry2)
	assert.Equal(0, env.table.Len())
}

func TestDispatcherRequestFailure(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	entry := NewEntry(uuid.New().String(), KindReference, 1, &recordingAggregator{})
	assert.Nil(env.table.Register(entry))

	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventRequestStatus,
		CorrelationIDs: []string{entry.ID()},
		Body: core.Payload{
			core.ReasonCodeField: "DAILY_LIMIT_REACHED",
			core.ReasonTextField: "daily request limit reached",
		},
	}, context.Background()))

	awaitDone(t, entry)
	_, err := entry.Outcome()
	assert.NotNil(err)
	failure, ok := err.(*common.RequestFailedError)
	assert.True(ok)
	assert.Equal("DAILY_LIMIT_REACHED", failure.Code)
	assert.Equal("daily request limit reached", failure.Message)
	assert.Equal(0, env.table.Len())
}

func TestDispatcherStrictPagingRejection(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	entry := NewEntry(uuid.New().String(), KindHistorical, 1, &recordingAggregator{})
	entry.EnableStrictPaging()
	assert.Nil(env.table.Register(entry))

	ctxt := context.Background()
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventPartialResponse,
		CorrelationIDs: []string{entry.ID()},
		Sequence:       1,
		Body:           core.Payload{},
	}, ctxt))
	// Page 3 arrives before page 2
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventPartialResponse,
		CorrelationIDs: []string{entry.ID()},
		Sequence:       3,
		Body:           core.Payload{},
	}, ctxt))

	awaitDone(t, entry)
	_, err := entry.Outcome()
	assert.NotNil(err)
	_, ok := err.(*common.OutOfOrderResponseError)
	assert.True(ok)
}

func TestDispatcherSubscriptionFlow(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	entry := NewStreamingEntry(uuid.New().String(), 1, &recordingAggregator{}, 4)
	assert.Nil(env.table.Register(entry))

	ctxt := context.Background()
	for _, security := range []string{"AAA", "BBB", "AAA"} {
		assert.Nil(env.dispatcher.Submit(core.RawEvent{
			Type:           core.EventSubscriptionData,
			CorrelationIDs: []string{entry.ID()},
			Body:           core.Payload{"security": security},
		}, ctxt))
	}

	for _, expected := range []string{"AAA", "BBB", "AAA"} {
		select {
		case row := <-entry.Stream().Out():
			assert.Equal(expected, row.Security)
		case <-time.After(time.Second * 5):
			assert.FailNow("timed out waiting for update")
		}
	}

	// Remote subscription termination closes the stream and frees the entry
	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type:           core.EventSubscriptionStatus,
		CorrelationIDs: []string{entry.ID()},
		Body:           core.Payload{core.StatusField: core.StatusSubscriptionEnded},
	}, ctxt))

	select {
	case _, open := <-entry.Stream().Out():
		assert.False(open)
	case <-time.After(time.Second * 5):
		assert.FailNow("stream did not close")
	}
	assert.Nil(entry.Stream().Err())
	assert.Equal(0, env.table.Len())
}

func TestDispatcherServiceStatus(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	assert.Nil(env.dispatcher.Submit(core.RawEvent{
		Type: core.EventServiceStatus,
		Body: core.Payload{
			core.ServiceNameField: "//mkt/refdata",
			core.StatusField:      core.StatusServiceOpened,
		},
	}, context.Background()))

	select {
	case service := <-env.services:
		assert.Equal("//mkt/refdata", service)
	case <-time.After(time.Second * 5):
		assert.FailNow("service status callback not invoked")
	}
}

func TestDispatcherSessionLost(t *testing.T) {
	assert := assert.New(t)
	env := defineDispatcherTestEnv(t)
	defer env.stop()

	oneShot := NewEntry(uuid.New().String(), KindReference, 1, &recordingAggregator{})
	streaming := NewStreamingEntry(uuid.New().String(), 1, &recordingAggregator{}, 4)
	assert.Nil(env.table.Register(oneShot))
	assert.Nil(env.table.Register(streaming))

	env.dispatcher.SessionLost(common.ErrSessionLost)

	awaitDone(t, oneShot)
	_, err := oneShot.Outcome()
	assert.Equal(common.ErrSessionLost, err)
	_, open := <-streaming.Stream().Out()
	assert.False(open)
	assert.Equal(common.ErrSessionLost, streaming.Stream().Err())
	assert.Equal(0, env.table.Len())
}
