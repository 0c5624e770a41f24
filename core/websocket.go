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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mdmux/mdmux/common"
)

// WebsocketConnectParams websocket gateway connection parameters
type WebsocketConnectParams struct {
	// EndpointURL is the websocket endpoint of the gateway
	EndpointURL string `validate:"required,uri"`
	// HandshakeTimeout max duration of the websocket handshake
	HandshakeTimeout time.Duration
	// WriteTimeout max duration of one outgoing frame write
	WriteTimeout time.Duration
	// EventBuffer per session event queue depth
	EventBuffer int
}

// websocketGateway implements Gateway against a gateway exposed over websocket.
// Each session is carried on its own websocket connection.
type websocketGateway struct {
	common.Component
	param WebsocketConnectParams
}

// GetWebsocketGateway define a new websocket backed Gateway
func GetWebsocketGateway(param WebsocketConnectParams) (Gateway, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "websocket-gateway",
		"instance":  param.EndpointURL,
	}
	if param.EventBuffer < 1 {
		param.EventBuffer = 256
	}
	return &websocketGateway{
		Component: common.Component{LogTags: logTags},
		param:     param,
	}, nil
}

// String implements the fmt.Stringer interface
func (g *websocketGateway) String() string {
	return fmt.Sprintf("websocket[%s]", g.param.EndpointURL)
}

// Close implements Gateway. Sessions own their connections, so there is
// nothing gateway level to release.
func (g *websocketGateway) Close(ctxt context.Context) error {
	return nil
}

// OpenSession dial a new websocket connection and announce the session
func (g *websocketGateway) OpenSession(ctxt context.Context) (Session, error) {
	sessionID := uuid.New().String()
	logTags := log.Fields{
		"module":    "core",
		"component": "websocket-gateway-session",
		"session":   sessionID,
	}

	dialer := websocket.Dialer{HandshakeTimeout: g.param.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctxt, g.param.EndpointURL, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Websocket dial failed")
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}

	session := &websocketSession{
		Component:    common.Component{LogTags: logTags},
		sessionID:    sessionID,
		conn:         conn,
		writeTimeout: g.param.WriteTimeout,
		eventQueue:   make(chan RawEvent, g.param.EventBuffer),
		readerDone:   make(chan struct{}),
	}
	if err := session.write(gatewayFrame{Operation: opOpenSession, SessionID: sessionID}); err != nil {
		_ = conn.Close()
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}
	go session.readPump()

	log.WithFields(logTags).Info("Session opened")
	return session, nil
}

// websocketSession implements Session over one websocket connection
type websocketSession struct {
	common.Component
	sessionID    string
	conn         *websocket.Conn
	writeLock    sync.Mutex
	writeTimeout time.Duration
	eventQueue   chan RawEvent
	readerDone   chan struct{}
	closed       bool
	closedLock   sync.Mutex
}

// readPump moves incoming frames onto the session event queue until the
// connection goes away
func (s *websocketSession) readPump() {
	defer close(s.eventQueue)
	defer close(s.readerDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closedLock.Lock()
			wasClosed := s.closed
			s.closedLock.Unlock()
			if !wasClosed {
				log.WithError(err).WithFields(s.LogTags).Warn("Websocket read failed")
				// Surface the broken transport as a terminal session status so
				// the event reader observes the disconnect in stream order. The
				// send must not block; with a full queue the closed channel
				// itself signals termination to the reader.
				select {
				case s.eventQueue <- RawEvent{
					Type: EventSessionStatus,
					Body: Payload{StatusField: StatusSessionTerminated},
				}:
				default:
					log.WithFields(s.LogTags).Warn(
						"Event queue full; relying on queue closure to signal termination",
					)
				}
			}
			return
		}
		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Discarding malformed event frame")
			continue
		}
		s.eventQueue <- frame.toRawEvent()
	}
}

// ID implements Session
func (s *websocketSession) ID() string {
	return s.sessionID
}

func (s *websocketSession) write(frame gatewayFrame) error {
	frame.SessionID = s.sessionID
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Send implements Session
func (s *websocketSession) Send(service, correlationID string, payload Payload) error {
	return s.write(gatewayFrame{
		Operation:     opSend,
		Service:       service,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// OpenService implements Session
func (s *websocketSession) OpenService(name string) error {
	return s.write(gatewayFrame{Operation: opOpenService, Service: name})
}

// NextEvent implements Session
func (s *websocketSession) NextEvent(timeout time.Duration) (RawEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event, ok := <-s.eventQueue:
		if !ok {
			return RawEvent{}, common.ErrSessionClosed
		}
		return event, nil
	case <-timer.C:
		return RawEvent{}, ErrNoEvent
	}
}

// Close implements Session
func (s *websocketSession) Close(ctxt context.Context) error {
	s.closedLock.Lock()
	if s.closed {
		s.closedLock.Unlock()
		return nil
	}
	s.closed = true
	s.closedLock.Unlock()

	if err := s.write(gatewayFrame{Operation: opCloseSession}); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Session close notify failed")
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := s.conn.Close()
	select {
	case <-s.readerDone:
	case <-ctxt.Done():
		return ctxt.Err()
	}
	log.WithFields(s.LogTags).Info("Session closed")
	return err
}
