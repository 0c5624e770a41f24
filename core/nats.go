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
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/mdmux/mdmux/common"
)

// NATSConnectParams NATS connection parameters
type NATSConnectParams struct {
	// ServerURI connect to the NATS cluster with URI
	ServerURI string `validate:"required,uri"`
	// SubjectPrefix is the subject prefix the gateway serves requests under
	SubjectPrefix string `validate:"required"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempts. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// EventBuffer per session event queue depth
	EventBuffer int
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// natsGateway implements Gateway against a market data gateway fronted by NATS
type natsGateway struct {
	common.Component
	nc            *nats.Conn
	subjectPrefix string
	eventBuffer   int
}

// GetNatsGateway define a new NATS backed Gateway
func GetNatsGateway(param NATSConnectParams) (Gateway, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-gateway",
		"instance":  param.ServerURI,
	}
	nc, err := nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(param.OnDisconnectCallback),
		nats.ReconnectHandler(param.OnReconnectCallback),
		nats.ClosedHandler(param.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return nil, &common.ConnectionError{Gateway: param.ServerURI, Err: err}
	}
	eventBuffer := param.EventBuffer
	if eventBuffer < 1 {
		eventBuffer = 256
	}
	log.WithFields(logTags).Info("Created NATS gateway client")
	return &natsGateway{
		Component:     common.Component{LogTags: logTags},
		nc:            nc,
		subjectPrefix: param.SubjectPrefix,
		eventBuffer:   eventBuffer,
	}, nil
}

// String implements the fmt.Stringer interface
func (g *natsGateway) String() string {
	return fmt.Sprintf("nats[%s/%s]", g.nc.ConnectedUrl(), g.subjectPrefix)
}

// Close close the NATS gateway client
func (g *natsGateway) Close(ctxt context.Context) error {
	if err := g.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(g.LogTags).Errorf("NATS flush failed")
	}
	g.nc.Close()
	log.WithFields(g.LogTags).Infof("Closed NATS gateway client")
	return nil
}

// OpenSession establish a new session with the gateway. The session events
// are delivered on a dedicated inbox subscription which backs the session's
// blocking event queue.
func (g *natsGateway) OpenSession(ctxt context.Context) (Session, error) {
	sessionID := uuid.New().String()
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-gateway-session",
		"session":   sessionID,
	}

	inbox := nats.NewInbox()
	msgQueue := make(chan *nats.Msg, g.eventBuffer)
	sub, err := g.nc.ChanSubscribe(inbox, msgQueue)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to subscribe session inbox")
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}

	openFrame, err := json.Marshal(gatewayFrame{
		Operation: opOpenSession, SessionID: sessionID, ReplyInbox: inbox,
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	reply, err := g.nc.RequestWithContext(
		ctxt, fmt.Sprintf("%s.session", g.subjectPrefix), openFrame,
	)
	if err != nil {
		_ = sub.Unsubscribe()
		log.WithError(err).WithFields(logTags).Error("Session open handshake failed")
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}
	var opened openSessionReply
	if err := json.Unmarshal(reply.Data, &opened); err != nil {
		_ = sub.Unsubscribe()
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}
	if !opened.Success {
		_ = sub.Unsubscribe()
		err := fmt.Errorf("gateway refused session: %s", opened.Message)
		log.WithError(err).WithFields(logTags).Error("Session open handshake refused")
		return nil, &common.ConnectionError{Gateway: g.String(), Err: err}
	}

	log.WithFields(logTags).Info("Session opened")
	return &natsSession{
		Component: common.Component{LogTags: logTags},
		gateway:   g,
		sessionID: sessionID,
		sub:       sub,
		msgQueue:  msgQueue,
	}, nil
}

// natsSession implements Session over one NATS inbox subscription
type natsSession struct {
	common.Component
	gateway   *natsGateway
	sessionID string
	sub       *nats.Subscription
	msgQueue  chan *nats.Msg
}

// ID implements Session
func (s *natsSession) ID() string {
	return s.sessionID
}

func (s *natsSession) publish(frame gatewayFrame) error {
	frame.SessionID = s.sessionID
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.gateway.nc.Publish(
		fmt.Sprintf("%s.session.%s", s.gateway.subjectPrefix, s.sessionID), data,
	)
}

// Send implements Session
func (s *natsSession) Send(service, correlationID string, payload Payload) error {
	return s.publish(gatewayFrame{
		Operation:     opSend,
		Service:       service,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// OpenService implements Session
func (s *natsSession) OpenService(name string) error {
	return s.publish(gatewayFrame{Operation: opOpenService, Service: name})
}

// NextEvent implements Session
func (s *natsSession) NextEvent(timeout time.Duration) (RawEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-s.msgQueue:
		if !ok {
			return RawEvent{}, common.ErrSessionClosed
		}
		var frame eventFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Discarding malformed event frame")
			return RawEvent{}, err
		}
		return frame.toRawEvent(), nil
	case <-timer.C:
		return RawEvent{}, ErrNoEvent
	}
}

// Close implements Session
func (s *natsSession) Close(ctxt context.Context) error {
	if err := s.publish(gatewayFrame{Operation: opCloseSession}); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Session close notify failed")
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return err
	}
	close(s.msgQueue)
	log.WithFields(s.LogTags).Info("Session closed")
	return nil
}
