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

package core

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/mdmux/mdmux/common"
)

// EmulatorResponder scripts the emulator's answer to an outgoing request.
// The returned events are injected into the session queue before Send returns.
type EmulatorResponder func(service, correlationID string, payload Payload) []RawEvent

// SentRequest records one request submitted through an emulator session
type SentRequest struct {
	Service       string
	CorrelationID string
	Payload       Payload
}

// EmulatorGateway is an in-memory Gateway for tests and offline operation.
// It plays the role of the remote service: sessions open instantly, services
// open on request, and a responder function scripts the event traffic.
type EmulatorGateway struct {
	common.Component
	lock         sync.Mutex
	sessions     []*EmulatorSession
	responder    EmulatorResponder
	connectErr   error
	failServices map[string]bool
	eventBuffer  int
}

// GetEmulatorGateway define a new in-memory emulator Gateway
func GetEmulatorGateway() *EmulatorGateway {
	logTags := log.Fields{
		"module":    "core",
		"component": "emulator-gateway",
	}
	return &EmulatorGateway{
		Component:    common.Component{LogTags: logTags},
		sessions:     []*EmulatorSession{},
		failServices: map[string]bool{},
		eventBuffer:  1024,
	}
}

// SetResponder install a scripted responder for outgoing requests
func (g *EmulatorGateway) SetResponder(responder EmulatorResponder) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.responder = responder
}

// FailNextConnect make the next OpenSession fail with the given cause
func (g *EmulatorGateway) FailNextConnect(cause error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.connectErr = cause
}

// FailServiceOpen make the open handshake of a named service fail
func (g *EmulatorGateway) FailServiceOpen(service string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.failServices[service] = true
}

// Sessions fetch the sessions opened so far
func (g *EmulatorGateway) Sessions() []*EmulatorSession {
	g.lock.Lock()
	defer g.lock.Unlock()
	result := make([]*EmulatorSession, len(g.sessions))
	copy(result, g.sessions)
	return result
}

// String implements the fmt.Stringer interface
func (g *EmulatorGateway) String() string {
	return "emulator"
}

// Close implements Gateway
func (g *EmulatorGateway) Close(ctxt context.Context) error {
	return nil
}

// OpenSession implements Gateway
func (g *EmulatorGateway) OpenSession(ctxt context.Context) (Session, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.connectErr != nil {
		cause := g.connectErr
		g.connectErr = nil
		return nil, &common.ConnectionError{Gateway: g.String(), Err: cause}
	}
	session := &EmulatorSession{
		Component: common.Component{
			LogTags: log.Fields{
				"module":    "core",
				"component": "emulator-gateway-session",
			},
		},
		gateway:   g,
		sessionID: uuid.New().String(),
		events:    make(chan RawEvent, g.eventBuffer),
		done:      make(chan struct{}),
		sent:      []SentRequest{},
	}
	session.LogTags["session"] = session.sessionID
	g.sessions = append(g.sessions, session)
	return session, nil
}

// EmulatorSession implements Session in memory
type EmulatorSession struct {
	common.Component
	gateway   *EmulatorGateway
	sessionID string
	events    chan RawEvent
	done      chan struct{}
	closeOnce sync.Once
	lock      sync.Mutex
	sent      []SentRequest
}

// ID implements Session
func (s *EmulatorSession) ID() string {
	return s.sessionID
}

// Inject append an event to the session's event queue. Events injected after
// close are dropped.
func (s *EmulatorSession) Inject(event RawEvent) {
	select {
	case s.events <- event:
	case <-s.done:
		log.WithFields(s.LogTags).Debug("Dropping event injected after close")
	}
}

// Sent fetch the requests submitted through this session so far
func (s *EmulatorSession) Sent() []SentRequest {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]SentRequest, len(s.sent))
	copy(result, s.sent)
	return result
}

// Send implements Session
func (s *EmulatorSession) Send(service, correlationID string, payload Payload) error {
	select {
	case <-s.done:
		return common.ErrSessionClosed
	default:
	}
	s.lock.Lock()
	s.sent = append(s.sent, SentRequest{
		Service: service, CorrelationID: correlationID, Payload: payload,
	})
	s.lock.Unlock()

	s.gateway.lock.Lock()
	responder := s.gateway.responder
	s.gateway.lock.Unlock()
	if responder != nil {
		for _, event := range responder(service, correlationID, payload) {
			s.Inject(event)
		}
	}
	return nil
}

// OpenService implements Session. The handshake outcome is injected as a
// service status event, mirroring how a real gateway answers.
func (s *EmulatorSession) OpenService(name string) error {
	s.gateway.lock.Lock()
	failed := s.gateway.failServices[name]
	s.gateway.lock.Unlock()
	status := StatusServiceOpened
	if failed {
		status = StatusServiceOpenFailure
	}
	s.Inject(RawEvent{
		Type: EventServiceStatus,
		Body: Payload{ServiceNameField: name, StatusField: status},
	})
	return nil
}

// NextEvent implements Session
func (s *EmulatorSession) NextEvent(timeout time.Duration) (RawEvent, error) {
	// Drain queued events before honoring close
	select {
	case event := <-s.events:
		return event, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event := <-s.events:
		return event, nil
	case <-s.done:
		return RawEvent{}, common.ErrSessionClosed
	case <-timer.C:
		return RawEvent{}, ErrNoEvent
	}
}

// Close implements Session
func (s *EmulatorSession) Close(ctxt context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
		log.WithFields(s.LogTags).Info("Session closed")
	})
	return nil
}
