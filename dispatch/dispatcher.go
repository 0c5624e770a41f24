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
	"fmt"
	"reflect"

	"github.com/apex/log"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
)

// ServiceStatusCB notifies the session of a service open handshake outcome
type ServiceStatusCB func(service string, ready bool)

// EventDispatcher routes raw session events to the matching correlation
// entries and applies per kind resolution. All handlers execute on one task
// processor loop, so events keep their queue order; the completion signals
// and stream pushes it performs are the only hand-offs back to callers.
type EventDispatcher interface {
	// Submit hand one raw event to the dispatch loop
	Submit(event core.RawEvent, ctxt context.Context) error
	// SessionLost fail every pending entry after a terminal disconnect
	SessionLost(cause error)
}

// eventDispatcherImpl implements EventDispatcher
type eventDispatcherImpl struct {
	common.Component
	tp              common.TaskProcessor
	table           *CorrelationTable
	onServiceStatus ServiceStatusCB
}

// Task parameters of the dispatch loop. One type per event class keeps the
// routing table explicit.
type finalResponseTask struct{ event core.RawEvent }
type partialResponseTask struct{ event core.RawEvent }
type requestStatusTask struct{ event core.RawEvent }
type subscriptionDataTask struct{ event core.RawEvent }
type subscriptionStatusTask struct{ event core.RawEvent }
type sessionStatusTask struct{ event core.RawEvent }
type serviceStatusTask struct{ event core.RawEvent }
type adminTask struct{ event core.RawEvent }

// DefineEventDispatcher create a new event dispatcher for one session
func DefineEventDispatcher(
	sessionID string,
	tp common.TaskProcessor,
	table *CorrelationTable,
	onServiceStatus ServiceStatusCB,
) (EventDispatcher, error) {
	logTags := log.Fields{
		"module":    "dispatch",
		"component": "event-dispatcher",
		"session":   sessionID,
	}
	instance := eventDispatcherImpl{
		Component:       common.Component{LogTags: logTags},
		tp:              tp,
		table:           table,
		onServiceStatus: onServiceStatus,
	}
	// Add handlers
	handlers := map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(finalResponseTask{}):      instance.processFinalResponse,
		reflect.TypeOf(partialResponseTask{}):    instance.processPartialResponse,
		reflect.TypeOf(requestStatusTask{}):      instance.processRequestStatus,
		reflect.TypeOf(subscriptionDataTask{}):   instance.processSubscriptionData,
		reflect.TypeOf(subscriptionStatusTask{}): instance.processSubscriptionStatus,
		reflect.TypeOf(sessionStatusTask{}):      instance.processSessionStatus,
		reflect.TypeOf(serviceStatusTask{}):      instance.processServiceStatus,
		reflect.TypeOf(adminTask{}):              instance.processAdmin,
	}
	for taskType, handler := range handlers {
		if err := tp.AddToTaskExecutionMap(taskType, handler); err != nil {
			return nil, err
		}
	}
	return &instance, nil
}

// Submit implements EventDispatcher
func (d *eventDispatcherImpl) Submit(event core.RawEvent, ctxt context.Context) error {
	var task interface{}
	switch event.Type {
	case core.EventResponse:
		task = finalResponseTask{event: event}
	case core.EventPartialResponse:
		task = partialResponseTask{event: event}
	case core.EventRequestStatus:
		task = requestStatusTask{event: event}
	case core.EventSubscriptionData:
		task = subscriptionDataTask{event: event}
	case core.EventSubscriptionStatus:
		task = subscriptionStatusTask{event: event}
	case core.EventSessionStatus:
		task = sessionStatusTask{event: event}
	case core.EventServiceStatus:
		task = serviceStatusTask{event: event}
	case core.EventAdmin:
		task = adminTask{event: event}
	default:
		log.WithFields(d.LogTags).Warnf("Dropping event of unknown type %d", event.Type)
		return nil
	}
	if err := d.tp.Submit(task, ctxt); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf(
			"Failed to submit %s event for processing", event.Type,
		)
		return err
	}
	return nil
}

// SessionLost implements EventDispatcher
func (d *eventDispatcherImpl) SessionLost(cause error) {
	d.table.FailAll(cause)
}

// ----------------------------------------------------------------------------------------

// absorb feed one response chunk into the entries the event belongs to,
// resolving them when the chunk is final
func (d *eventDispatcherImpl) absorb(event core.RawEvent, final bool) error {
	for _, correlationID := range event.CorrelationIDs {
		entry := d.table.Get(correlationID)
		if entry == nil {
			// Already resolved, cancelled, or a stray late event
			log.WithFields(d.LogTags).Debugf(
				"Dropping %s event for unknown correlation ID %s", event.Type, correlationID,
			)
			continue
		}
		if err := entry.CheckSequence(event.Sequence); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Rejecting paged response for %s", correlationID,
			)
			entry.Fail(err)
			d.table.Remove(correlationID)
			continue
		}
		if err := entry.Aggregator().Absorb(event.Body); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Failed to absorb response chunk for %s", correlationID,
			)
		}
		if final {
			entry.Resolve(entry.Aggregator().Result())
			d.table.Remove(correlationID)
			log.WithFields(d.LogTags).Debugf("Resolved %s request %s", entry.Kind(), correlationID)
		}
	}
	return nil
}

func (d *eventDispatcherImpl) processFinalResponse(param interface{}) error {
	task, ok := param.(finalResponseTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as final response", reflect.TypeOf(param))
	}
	return d.absorb(task.event, true)
}

func (d *eventDispatcherImpl) processPartialResponse(param interface{}) error {
	task, ok := param.(partialResponseTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as partial response", reflect.TypeOf(param))
	}
	return d.absorb(task.event, false)
}

func (d *eventDispatcherImpl) processRequestStatus(param interface{}) error {
	task, ok := param.(requestStatusTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as request status", reflect.TypeOf(param))
	}
	event := task.event
	code, _ := event.Body[core.ReasonCodeField].(string)
	message, _ := event.Body[core.ReasonTextField].(string)
	cause := &common.RequestFailedError{Code: code, Message: message}
	for _, correlationID := range event.CorrelationIDs {
		entry := d.table.Get(correlationID)
		if entry == nil {
			continue
		}
		entry.Fail(cause)
		d.table.Remove(correlationID)
		log.WithFields(d.LogTags).Warnf("Request %s rejected by remote: %s", correlationID, cause)
	}
	return nil
}

func (d *eventDispatcherImpl) processSubscriptionData(param interface{}) error {
	task, ok := param.(subscriptionDataTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as subscription data", reflect.TypeOf(param))
	}
	event := task.event
	for _, correlationID := range event.CorrelationIDs {
		entry := d.table.Get(correlationID)
		if entry == nil || entry.Stream() == nil {
			continue
		}
		row, ok := entry.Aggregator().Tick(event.Body)
		if !ok {
			continue
		}
		if !entry.Stream().Push(row) {
			log.WithFields(d.LogTags).Debugf(
				"Dropping update for closed subscription %s", correlationID,
			)
		}
	}
	return nil
}

func (d *eventDispatcherImpl) processSubscriptionStatus(param interface{}) error {
	task, ok := param.(subscriptionStatusTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as subscription status", reflect.TypeOf(param))
	}
	event := task.event
	status := event.Status()
	switch status {
	case core.StatusSubscriptionStarted, core.StatusSubscriptionActivated:
		log.WithFields(d.LogTags).Debugf("Subscription status %s", status)
	case core.StatusSubscriptionEnded:
		for _, correlationID := range event.CorrelationIDs {
			entry := d.table.Get(correlationID)
			if entry == nil {
				continue
			}
			entry.CloseStream()
			d.table.Remove(correlationID)
			log.WithFields(d.LogTags).Infof("Subscription %s terminated", correlationID)
		}
	default:
		log.WithFields(d.LogTags).Warnf("Unexpected subscription status %s", status)
	}
	return nil
}

func (d *eventDispatcherImpl) processSessionStatus(param interface{}) error {
	task, ok := param.(sessionStatusTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as session status", reflect.TypeOf(param))
	}
	event := task.event
	switch status := event.Status(); status {
	case core.StatusSessionConnectionUp, core.StatusSessionConnectionDown:
		log.WithFields(d.LogTags).Infof("Session connection status %s", status)
	case core.StatusSessionTerminated:
		// Normally intercepted by the event reader; cover direct submissions
		d.SessionLost(common.ErrSessionLost)
	default:
		log.WithFields(d.LogTags).Debugf("Session status %s", status)
	}
	return nil
}

func (d *eventDispatcherImpl) processServiceStatus(param interface{}) error {
	task, ok := param.(serviceStatusTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as service status", reflect.TypeOf(param))
	}
	event := task.event
	service, _ := event.Body[core.ServiceNameField].(string)
	ready := event.Status() == core.StatusServiceOpened
	if !ready {
		log.WithFields(d.LogTags).Errorf("Service %s open failed", service)
	}
	if d.onServiceStatus != nil {
		d.onServiceStatus(service, ready)
	}
	return nil
}

func (d *eventDispatcherImpl) processAdmin(param interface{}) error {
	task, ok := param.(adminTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s as admin event", reflect.TypeOf(param))
	}
	switch status := task.event.Status(); status {
	case core.StatusSlowConsumer:
		log.WithFields(d.LogTags).Warn("Client is slow; event queue is backing up")
	case core.StatusSlowConsumerCleared:
		log.WithFields(d.LogTags).Warn("Client is not slow anymore")
	case core.StatusDataLoss:
		log.WithFields(d.LogTags).Warn("Some data was lost due to event queue overflow")
	default:
		log.WithFields(d.LogTags).Debugf("Admin event %s", status)
	}
	return nil
}
