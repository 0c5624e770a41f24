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
	"errors"
	"time"
)

// Payload is a structured record keyed by field name. Values may be nested
// maps or repeated elements; the core never interprets them.
type Payload map[string]interface{}

// EventType classifies a RawEvent pulled from a session's event queue
type EventType int

// Event types a gateway session can produce
const (
	EventUnknown EventType = iota
	// EventResponse is the final (or only) message of a request
	EventResponse
	// EventPartialResponse is one page of a multi message response
	EventPartialResponse
	// EventRequestStatus reports a request level failure
	EventRequestStatus
	// EventSubscriptionData is one incremental update of a subscription
	EventSubscriptionData
	// EventSubscriptionStatus reports subscription lifecycle changes
	EventSubscriptionStatus
	// EventSessionStatus reports session lifecycle changes
	EventSessionStatus
	// EventServiceStatus reports the outcome of a service open handshake
	EventServiceStatus
	// EventAdmin carries operational warnings (slow consumer, data loss)
	EventAdmin
)

// String implements the fmt.Stringer interface
func (t EventType) String() string {
	switch t {
	case EventResponse:
		return "RESPONSE"
	case EventPartialResponse:
		return "PARTIAL_RESPONSE"
	case EventRequestStatus:
		return "REQUEST_STATUS"
	case EventSubscriptionData:
		return "SUBSCRIPTION_DATA"
	case EventSubscriptionStatus:
		return "SUBSCRIPTION_STATUS"
	case EventSessionStatus:
		return "SESSION_STATUS"
	case EventServiceStatus:
		return "SERVICE_STATUS"
	case EventAdmin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

// RawEvent is one opaque unit pulled from a session's event queue. One event
// may carry correlation identifiers of multiple concurrently active requests.
type RawEvent struct {
	// Type is the event classification tag
	Type EventType `json:"type"`
	// CorrelationIDs are the request correlation identifiers the event belongs to
	CorrelationIDs []string `json:"correlation_ids,omitempty"`
	// Sequence is the page number for paged responses, starting at 1
	Sequence uint64 `json:"sequence,omitempty"`
	// Body is the structured event payload
	Body Payload `json:"body,omitempty"`
}

// Well known body fields of status carrying events
const (
	StatusField      = "status"
	ServiceNameField = "serviceName"
	ReasonCodeField  = "code"
	ReasonTextField  = "message"
)

// Status values reported through session, service, and subscription status events
const (
	StatusSessionConnectionUp   = "SessionConnectionUp"
	StatusSessionConnectionDown = "SessionConnectionDown"
	StatusSessionTerminated     = "SessionTerminated"
	StatusServiceOpened         = "ServiceOpened"
	StatusServiceOpenFailure    = "ServiceOpenFailure"
	StatusSubscriptionStarted   = "SubscriptionStarted"
	StatusSubscriptionActivated = "SubscriptionStreamsActivated"
	StatusSubscriptionEnded     = "SubscriptionTerminated"
	StatusSlowConsumer          = "SlowConsumerWarning"
	StatusSlowConsumerCleared   = "SlowConsumerWarningCleared"
	StatusDataLoss              = "DataLoss"
)

// Status fetch the status value of a status carrying event
func (e RawEvent) Status() string {
	if value, ok := e.Body[StatusField].(string); ok {
		return value
	}
	return ""
}

// IsTerminalSessionStatus whether the event signals the session is gone for good
func (e RawEvent) IsTerminalSessionStatus() bool {
	return e.Type == EventSessionStatus && e.Status() == StatusSessionTerminated
}

// ErrNoEvent the blocking event pull expired without producing an event
var ErrNoEvent = errors.New("no event available within timeout")

// Session is a handle to one live connection to the remote market data
// service. The request payload schema is outside the session's concern; it
// only moves payloads tagged with correlation identifiers.
type Session interface {
	// ID identifies this session
	ID() string
	// Send transmits a request payload into the session tagged with a
	// correlation identifier
	Send(service, correlationID string, payload Payload) error
	// OpenService starts the open handshake for a named service. Completion is
	// signaled by an EventServiceStatus event on the session's queue.
	OpenService(name string) error
	// NextEvent performs one blocking pull from the session event queue.
	// Returns ErrNoEvent when the timeout expires, or common.ErrSessionClosed
	// once the session is closed and its queue drained.
	NextEvent(timeout time.Duration) (RawEvent, error)
	// Close tears down the session
	Close(ctxt context.Context) error
}

// Gateway opens sessions against one remote market data service endpoint
type Gateway interface {
	// OpenSession establishes a new session. It blocks until the connection
	// handshake completes, fails, or the context expires. Handshake failures
	// surface as *common.ConnectionError.
	OpenSession(ctxt context.Context) (Session, error)
	// Close releases the gateway and all transport resources
	Close(ctxt context.Context) error
	// String describes the gateway endpoint for logging
	String() string
}
