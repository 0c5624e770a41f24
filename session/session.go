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

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
	"github.com/mdmux/mdmux/request"
)

// Class separates sessions by usage pattern. One-shot requests and streaming
// subscriptions never share a session; a long lived subscription would pin
// request sessions open and skew their load accounting.
type Class int

// Session classes
const (
	// ClassRequest serves one-shot resolution requests
	ClassRequest Class = iota
	// ClassSubscription serves streaming subscriptions
	ClassSubscription
)

// String implements the fmt.Stringer interface
func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassSubscription:
		return "subscription"
	}
	return "unknown"
}

// ManagedSession is one gateway session together with its correlation table,
// dispatch loop, and event reader. All request traffic of the session flows
// through this wrapper.
type ManagedSession interface {
	// ID identifies the underlying gateway session
	ID() string
	// Class the usage class of this session
	Class() Class
	// Load the current request weight carried by this session
	Load() int
	// Table the correlation table of this session
	Table() *dispatch.CorrelationTable
	// EnsureService make sure the named service finished its open handshake
	EnsureService(ctxt context.Context, name string) error
	// Send transmit a request payload into the session
	Send(service, correlationID string, payload core.Payload) error
	// Healthy whether the session is still usable for new requests
	Healthy() bool
	// Stop drain and tear the session down
	Stop(ctxt context.Context) error
}

// serviceState tracks one service open handshake on a session
type serviceState struct {
	done     chan struct{}
	resolved bool
	ok       bool
}

// managedSessionImpl implements ManagedSession
type managedSessionImpl struct {
	common.Component
	class      Class
	session    core.Session
	table      *dispatch.CorrelationTable
	tp         common.TaskProcessor
	dispatcher dispatch.EventDispatcher
	reader     dispatch.EventReader
	wg         sync.WaitGroup

	serviceOpenTimeout time.Duration
	drainTimeout       time.Duration

	serviceLock sync.Mutex
	services    map[string]*serviceState

	lost     int32
	stopped  int32
	stopOnce sync.Once
}

// lossMarkingDispatcher flags the owning session as unusable before failing
// its pending entries
type lossMarkingDispatcher struct {
	inner dispatch.EventDispatcher
	owner *managedSessionImpl
}

// Submit implements dispatch.EventDispatcher
func (d *lossMarkingDispatcher) Submit(event core.RawEvent, ctxt context.Context) error {
	return d.inner.Submit(event, ctxt)
}

// SessionLost implements dispatch.EventDispatcher
func (d *lossMarkingDispatcher) SessionLost(cause error) {
	atomic.StoreInt32(&d.owner.lost, 1)
	d.owner.failPendingServiceOpens()
	d.inner.SessionLost(cause)
}

// DefineManagedSession open a gateway session and start its processing loops
func DefineManagedSession(
	ctxt context.Context,
	class Class,
	gateway core.Gateway,
	poolCfg common.SessionPoolConfig,
	reqCfg common.RequestConfig,
) (ManagedSession, error) {
	session, err := gateway.OpenSession(ctxt)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "session",
		"component": "managed-session",
		"session":   session.ID(),
		"class":     class.String(),
	}
	instance := &managedSessionImpl{
		Component:          common.Component{LogTags: logTags},
		class:              class,
		session:            session,
		table:              dispatch.GetNewCorrelationTable(session.ID()),
		serviceOpenTimeout: time.Second * time.Duration(poolCfg.ServiceOpenTimeout),
		drainTimeout:       time.Second * time.Duration(poolCfg.DrainTimeout),
		services:           map[string]*serviceState{},
	}
	tp, err := common.GetNewTaskProcessorInstance(
		fmt.Sprintf("session-%s", session.ID()), reqCfg.TaskBuffer, ctxt,
	)
	if err != nil {
		_ = session.Close(ctxt)
		return nil, err
	}
	instance.tp = tp
	dispatcher, err := dispatch.DefineEventDispatcher(
		session.ID(), tp, instance.table, instance.onServiceStatus,
	)
	if err != nil {
		_ = session.Close(ctxt)
		return nil, err
	}
	instance.dispatcher = &lossMarkingDispatcher{inner: dispatcher, owner: instance}
	reader, err := dispatch.DefineEventReader(
		session, instance.dispatcher, time.Second*time.Duration(poolCfg.EventPollTimeout),
	)
	if err != nil {
		_ = session.Close(ctxt)
		return nil, err
	}
	instance.reader = reader
	if err := tp.StartEventLoop(&instance.wg); err != nil {
		_ = session.Close(ctxt)
		return nil, err
	}
	if err := reader.Start(&instance.wg); err != nil {
		_ = tp.StopEventLoop()
		_ = session.Close(ctxt)
		return nil, err
	}
	log.WithFields(logTags).Info("Session started")
	return instance, nil
}

// ID implements ManagedSession
func (s *managedSessionImpl) ID() string {
	return s.session.ID()
}

// Class implements ManagedSession
func (s *managedSessionImpl) Class() Class {
	return s.class
}

// Load implements ManagedSession
func (s *managedSessionImpl) Load() int {
	return s.table.TotalWeight()
}

// Table implements ManagedSession
func (s *managedSessionImpl) Table() *dispatch.CorrelationTable {
	return s.table
}

// Healthy implements ManagedSession
func (s *managedSessionImpl) Healthy() bool {
	return atomic.LoadInt32(&s.lost) == 0 && atomic.LoadInt32(&s.stopped) == 0
}

// Send implements ManagedSession
func (s *managedSessionImpl) Send(service, correlationID string, payload core.Payload) error {
	if !s.Healthy() {
		return common.ErrSessionClosed
	}
	return s.session.Send(service, correlationID, payload)
}

// onServiceStatus resolve the pending open handshake of a service. Invoked on
// the dispatch loop when the service status event arrives.
func (s *managedSessionImpl) onServiceStatus(service string, ready bool) {
	s.serviceLock.Lock()
	defer s.serviceLock.Unlock()
	state, exists := s.services[service]
	if !exists {
		// Unsolicited status; record it so later EnsureService calls short-circuit
		state = &serviceState{done: make(chan struct{})}
		s.services[service] = state
	}
	if !state.resolved {
		state.resolved = true
		state.ok = ready
		close(state.done)
	}
}

// failPendingServiceOpens unblock handshake waiters after session loss
func (s *managedSessionImpl) failPendingServiceOpens() {
	s.serviceLock.Lock()
	defer s.serviceLock.Unlock()
	for _, state := range s.services {
		if !state.resolved {
			state.resolved = true
			state.ok = false
			close(state.done)
		}
	}
}

// EnsureService implements ManagedSession. The first call per service starts
// the open handshake; every call blocks until the handshake resolves, the
// configured timeout passes, or the context expires.
func (s *managedSessionImpl) EnsureService(ctxt context.Context, name string) error {
	s.serviceLock.Lock()
	state, exists := s.services[name]
	if !exists {
		state = &serviceState{done: make(chan struct{})}
		s.services[name] = state
		s.serviceLock.Unlock()
		if err := s.session.OpenService(name); err != nil {
			s.onServiceStatus(name, false)
			return err
		}
	} else {
		s.serviceLock.Unlock()
	}
	timer := time.NewTimer(s.serviceOpenTimeout)
	defer timer.Stop()
	select {
	case <-state.done:
	case <-timer.C:
		return fmt.Errorf("service %s open handshake timed out", name)
	case <-ctxt.Done():
		return ctxt.Err()
	}
	if !state.ok {
		return fmt.Errorf("service %s failed to open", name)
	}
	return nil
}

// Stop implements ManagedSession. Live subscriptions are unsubscribed and
// their streams closed in an orderly fashion; in-flight requests get the
// drain window to resolve before being force failed.
func (s *managedSessionImpl) Stop(ctxt context.Context) error {
	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.stopped, 1)
		log.WithFields(s.LogTags).Info("Stopping session")

		// Tear down live subscriptions first so their streams close cleanly
		for _, entry := range s.table.Entries() {
			if !entry.Kind().Streaming() {
				continue
			}
			if err := s.session.Send(
				entry.Service(), entry.ID(), request.UnsubscribePayload(),
			); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debugf(
					"Unsubscribe for %s failed during shutdown", entry.ID(),
				)
			}
			entry.CloseStream()
			s.table.Remove(entry.ID())
		}

		// Give in-flight requests the drain window to resolve
		drainCtxt, cancel := context.WithTimeout(ctxt, s.drainTimeout)
		if err := s.table.AwaitIdle(drainCtxt); err != nil {
			log.WithFields(s.LogTags).Warnf(
				"Draining expired with %d requests in flight", s.table.Len(),
			)
			s.table.FailAll(common.ErrSessionClosed)
		}
		cancel()

		s.reader.Stop()
		if err := s.session.Close(ctxt); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Session close failed")
		}
		_ = s.tp.StopEventLoop()
		s.wg.Wait()
		s.failPendingServiceOpens()
		log.WithFields(s.LogTags).Info("Session stopped")
	})
	return nil
}
