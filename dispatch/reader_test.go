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

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/stretchr/testify/assert"
)

// captureDispatcher test double recording forwarded events and loss signals
type captureDispatcher struct {
	events chan core.RawEvent
	lost   chan error
}

func newCaptureDispatcher() *captureDispatcher {
	return &captureDispatcher{
		events: make(chan core.RawEvent, 16),
		lost:   make(chan error, 1),
	}
}

func (d *captureDispatcher) Submit(event core.RawEvent, ctxt context.Context) error {
	d.events <- event
	return nil
}

func (d *captureDispatcher) SessionLost(cause error) {
	d.lost <- cause
}

func TestEventReaderForwarding(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	session, err := gateway.OpenSession(context.Background())
	assert.Nil(err)
	emulated := gateway.Sessions()[0]

	dispatcher := newCaptureDispatcher()
	uut, err := DefineEventReader(session, dispatcher, time.Millisecond*50)
	assert.Nil(err)

	wg := sync.WaitGroup{}
	assert.Nil(uut.Start(&wg))
	assert.NotNil(uut.Start(&wg))

	// Events pulled from the queue come out in order
	for idx := uint64(1); idx <= 3; idx++ {
		emulated.Inject(core.RawEvent{
			Type:     core.EventPartialResponse,
			Sequence: idx,
			Body:     core.Payload{},
		})
	}
	for idx := uint64(1); idx <= 3; idx++ {
		select {
		case event := <-dispatcher.events:
			assert.Equal(idx, event.Sequence)
		case <-time.After(time.Second * 5):
			assert.FailNow("timed out waiting for forwarded event")
		}
	}

	// Orderly stop does not signal session loss
	uut.Stop()
	wg.Wait()
	select {
	case <-dispatcher.lost:
		assert.FailNow("orderly stop reported session loss")
	default:
	}
	assert.Nil(session.Close(context.Background()))
}

func TestEventReaderTerminalSessionStatus(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	session, err := gateway.OpenSession(context.Background())
	assert.Nil(err)
	emulated := gateway.Sessions()[0]

	dispatcher := newCaptureDispatcher()
	uut, err := DefineEventReader(session, dispatcher, time.Millisecond*50)
	assert.Nil(err)

	wg := sync.WaitGroup{}
	assert.Nil(uut.Start(&wg))

	// A terminal session status must trigger loss handling, not forwarding
	emulated.Inject(core.RawEvent{
		Type: core.EventSessionStatus,
		Body: core.Payload{core.StatusField: core.StatusSessionTerminated},
	})

	select {
	case cause := <-dispatcher.lost:
		assert.Equal(common.ErrSessionLost, cause)
	case <-time.After(time.Second * 5):
		assert.FailNow("session loss not reported")
	}
	wg.Wait()
	select {
	case <-dispatcher.events:
		assert.FailNow("terminal status was forwarded as a normal event")
	default:
	}
	assert.Nil(session.Close(context.Background()))
}

func TestEventReaderNonTerminalStatusForwarded(t *testing.T) {
	assert := assert.New(t)

	gateway := core.GetEmulatorGateway()
	session, err := gateway.OpenSession(context.Background())
	assert.Nil(err)
	emulated := gateway.Sessions()[0]

	dispatcher := newCaptureDispatcher()
	uut, err := DefineEventReader(session, dispatcher, time.Millisecond*50)
	assert.Nil(err)

	wg := sync.WaitGroup{}
	assert.Nil(uut.Start(&wg))
	defer func() {
		uut.Stop()
		wg.Wait()
	}()

	emulated.Inject(core.RawEvent{
		Type: core.EventSessionStatus,
		Body: core.Payload{core.StatusField: core.StatusSessionConnectionUp},
	})

	select {
	case event := <-dispatcher.events:
		assert.Equal(core.EventSessionStatus, event.Type)
		assert.Equal(core.StatusSessionConnectionUp, event.Status())
	case <-time.After(time.Second * 5):
		assert.FailNow("non-terminal status not forwarded")
	}
}
