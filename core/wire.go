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

// Gateway frame operations
const (
	opOpenSession  = "open_session"
	opCloseSession = "close_session"
	opOpenService  = "open_service"
	opSend         = "send"
)

// gatewayFrame is the outgoing JSON frame of the NATS and websocket transports
type gatewayFrame struct {
	// Operation is the frame operation
	Operation string `json:"operation"`
	// SessionID identifies the session the frame belongs to
	SessionID string `json:"session_id"`
	// Service is the target service of send and open_service frames
	Service string `json:"service,omitempty"`
	// CorrelationID tags send frames with the request correlation identifier
	CorrelationID string `json:"correlation_id,omitempty"`
	// ReplyInbox is where the gateway should deliver session events (NATS only)
	ReplyInbox string `json:"reply_inbox,omitempty"`
	// Payload is the opaque request payload of send frames
	Payload Payload `json:"payload,omitempty"`
}

// eventFrame is the incoming JSON frame of the NATS and websocket transports
type eventFrame struct {
	// Type is the event classification tag
	Type string `json:"type"`
	// CorrelationIDs are the correlation identifiers the event belongs to
	CorrelationIDs []string `json:"correlation_ids,omitempty"`
	// Sequence is the page number for paged responses
	Sequence uint64 `json:"sequence,omitempty"`
	// Body is the structured event payload
	Body Payload `json:"body,omitempty"`
}

// openSessionReply is the gateway's answer to an open_session frame
type openSessionReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

var wireEventTypes = map[string]EventType{
	"RESPONSE":            EventResponse,
	"PARTIAL_RESPONSE":    EventPartialResponse,
	"REQUEST_STATUS":      EventRequestStatus,
	"SUBSCRIPTION_DATA":   EventSubscriptionData,
	"SUBSCRIPTION_STATUS": EventSubscriptionStatus,
	"SESSION_STATUS":      EventSessionStatus,
	"SERVICE_STATUS":      EventServiceStatus,
	"ADMIN":               EventAdmin,
}

// toRawEvent convert a wire frame into a RawEvent
func (f eventFrame) toRawEvent() RawEvent {
	eventType, ok := wireEventTypes[f.Type]
	if !ok {
		eventType = EventUnknown
	}
	return RawEvent{
		Type:           eventType,
		CorrelationIDs: f.CorrelationIDs,
		Sequence:       f.Sequence,
		Body:           f.Body,
	}
}
