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
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
	"github.com/mdmux/mdmux/request"
	"github.com/mdmux/mdmux/session"
)

// Subscription is one live streaming subscription
type Subscription interface {
	// ID the correlation identifier of the subscription
	ID() string
	// Updates the stream of update rows. Closes after Unsubscribe, remote
	// termination, or session loss.
	Updates() <-chan common.Row
	// Err the stream termination cause; nil for an orderly close. Only
	// meaningful once Updates is closed.
	Err() error
	// Unsubscribe tear the subscription down
	Unsubscribe(ctxt context.Context) error
}

// Client is the concurrent facade over the market data gateway. Any number of
// goroutines can issue requests; responses resolve through per session
// dispatch loops while callers block only on their own request.
type Client interface {
	// Start eagerly open the first gateway session, surfacing connectivity
	// failure before any request is issued. Optional; sessions also open
	// lazily on first use.
	Start(ctxt context.Context) error
	// GetReferenceData resolve a point-in-time reference data request
	GetReferenceData(
		ctxt context.Context, req *request.ReferenceRequest,
	) (common.ResultRecord, error)
	// GetHistoricalData resolve a historical time series request
	GetHistoricalData(
		ctxt context.Context, req *request.HistoricalRequest,
	) (common.ResultRecord, error)
	// SecurityLookup resolve a security catalog search
	SecurityLookup(
		ctxt context.Context, req *request.LookupRequest,
	) (common.ResultRecord, error)
	// SearchFields resolve a field catalog search
	SearchFields(
		ctxt context.Context, req *request.FieldSearchRequest,
	) (common.ResultRecord, error)
	// Subscribe open a streaming subscription
	Subscribe(
		ctxt context.Context, req *request.SubscriptionRequest,
	) (Subscription, error)
	// Stats snapshot the underlying session pool
	Stats() session.PoolStats
	// Stop drain in-flight requests, close subscriptions, and release the
	// gateway. Idempotent.
	Stop(ctxt context.Context) error
}

// clientImpl implements Client
type clientImpl struct {
	common.Component
	pool           session.SessionPool
	defaultTimeout time.Duration
	streamBuffer   int
}

// GetNewClient define a new Client over one gateway
func GetNewClient(gateway core.Gateway, cfg common.SystemConfig) (Client, error) {
	pool, err := session.GetNewSessionPool(gateway, cfg.Pool, cfg.Request)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "client",
		"component": "client",
		"gateway":   gateway.String(),
	}
	return &clientImpl{
		Component:      common.Component{LogTags: logTags},
		pool:           pool,
		defaultTimeout: time.Second * time.Duration(cfg.Request.DefaultTimeout),
		streamBuffer:   cfg.Request.StreamBuffer,
	}, nil
}

// Start implements Client
func (c *clientImpl) Start(ctxt context.Context) error {
	_, err := c.pool.Acquire(ctxt, session.ClassRequest, 0)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Gateway warm-up failed")
	}
	return err
}

// GetReferenceData implements Client
func (c *clientImpl) GetReferenceData(
	ctxt context.Context, req *request.ReferenceRequest,
) (common.ResultRecord, error) {
	return c.resolve(ctxt, req)
}

// GetHistoricalData implements Client
func (c *clientImpl) GetHistoricalData(
	ctxt context.Context, req *request.HistoricalRequest,
) (common.ResultRecord, error) {
	return c.resolve(ctxt, req)
}

// SecurityLookup implements Client
func (c *clientImpl) SecurityLookup(
	ctxt context.Context, req *request.LookupRequest,
) (common.ResultRecord, error) {
	return c.resolve(ctxt, req)
}

// SearchFields implements Client
func (c *clientImpl) SearchFields(
	ctxt context.Context, req *request.FieldSearchRequest,
) (common.ResultRecord, error) {
	return c.resolve(ctxt, req)
}

// Stats implements Client
func (c *clientImpl) Stats() session.PoolStats {
	return c.pool.Stats()
}

// Stop implements Client
func (c *clientImpl) Stop(ctxt context.Context) error {
	return c.pool.Stop(ctxt)
}

// applyTimeout bound the context by the request or default deadline
func (c *clientImpl) applyTimeout(
	ctxt context.Context, opts request.Options,
) (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}
	if timeout <= 0 {
		return ctxt, func() {}
	}
	return context.WithTimeout(ctxt, timeout)
}

// transmit register a pending entry and send its payload. Registration must
// complete before transmission; a response racing ahead of registration would
// be dropped as unknown and the caller would hang until its deadline.
func (c *clientImpl) transmit(
	managed session.ManagedSession, entry *dispatch.Entry, payload core.Payload,
) error {
	if err := managed.Table().Register(entry); err != nil {
		return err
	}
	if err := managed.Send(entry.Service(), entry.ID(), payload); err != nil {
		managed.Table().Remove(entry.ID())
		return err
	}
	return nil
}

// resolve run one request to completion
func (c *clientImpl) resolve(
	ctxt context.Context, req request.Request,
) (common.ResultRecord, error) {
	if err := req.Validate(); err != nil {
		return common.ResultRecord{}, err
	}
	opts := req.ReqOptions()
	ctxt, cancel := c.applyTimeout(ctxt, opts)
	defer cancel()

	managed, err := c.pool.Acquire(ctxt, session.ClassRequest, req.Weight())
	if err != nil {
		return common.ResultRecord{}, err
	}
	if err := managed.EnsureService(ctxt, req.Service()); err != nil {
		return common.ResultRecord{}, err
	}

	entry := dispatch.NewEntry(
		uuid.New().String(), req.Kind(), req.Weight(), req.NewAggregator(),
	)
	entry.SetService(req.Service())
	if opts.StrictPaging {
		entry.EnableStrictPaging()
	}
	if err := c.transmit(managed, entry, req.BuildPayload()); err != nil {
		return common.ResultRecord{}, err
	}
	log.WithFields(c.LogTags).Debugf(
		"Submitted %s request %s on session %s", req.Kind(), entry.ID(), managed.ID(),
	)

	select {
	case <-entry.Done():
		return entry.Outcome()
	case <-ctxt.Done():
		// Abandon the entry so a late response is dropped instead of delivered
		managed.Table().Remove(entry.ID())
		if err := managed.Send(req.Service(), entry.ID(), request.CancelPayload()); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debugf(
				"Cancel for %s failed", entry.ID(),
			)
		}
		if errors.Is(ctxt.Err(), context.DeadlineExceeded) {
			return common.ResultRecord{}, common.ErrTimeout
		}
		return common.ResultRecord{}, ctxt.Err()
	}
}

// Subscribe implements Client
func (c *clientImpl) Subscribe(
	ctxt context.Context, req *request.SubscriptionRequest,
) (Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	managed, err := c.pool.Acquire(ctxt, session.ClassSubscription, req.Weight())
	if err != nil {
		return nil, err
	}
	if err := managed.EnsureService(ctxt, req.Service()); err != nil {
		return nil, err
	}

	entry := dispatch.NewStreamingEntry(
		uuid.New().String(), req.Weight(), req.NewAggregator(), c.streamBuffer,
	)
	entry.SetService(req.Service())
	if err := c.transmit(managed, entry, req.BuildPayload()); err != nil {
		return nil, err
	}
	log.WithFields(c.LogTags).Infof(
		"Opened subscription %s on session %s", entry.ID(), managed.ID(),
	)
	return &subscriptionImpl{
		Component: common.Component{LogTags: log.Fields{
			"module":       "client",
			"component":    "subscription",
			"subscription": entry.ID(),
		}},
		managed: managed,
		entry:   entry,
	}, nil
}

// subscriptionImpl implements Subscription
type subscriptionImpl struct {
	common.Component
	managed  session.ManagedSession
	entry    *dispatch.Entry
	stopOnce sync.Once
}

// ID implements Subscription
func (s *subscriptionImpl) ID() string {
	return s.entry.ID()
}

// Updates implements Subscription
func (s *subscriptionImpl) Updates() <-chan common.Row {
	return s.entry.Stream().Out()
}

// Err implements Subscription
func (s *subscriptionImpl) Err() error {
	return s.entry.Stream().Err()
}

// Unsubscribe implements Subscription. After the wire unsubscribe goes out,
// the call blocks until the dispatcher observes the remote's terminal
// subscription status and removes the entry; the context bounds that wait,
// falling back to local teardown so a mute remote cannot pin the caller.
func (s *subscriptionImpl) Unsubscribe(ctxt context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.managed.Send(
			s.entry.Service(), s.entry.ID(), request.UnsubscribePayload(),
		); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Wire unsubscribe failed")
		} else {
			select {
			case <-s.entry.Done():
			case <-ctxt.Done():
				log.WithFields(s.LogTags).Warn(
					"No terminal subscription status before deadline; closing locally",
				)
			}
		}
		s.entry.CloseStream()
		s.managed.Table().Remove(s.entry.ID())
		// Drain stragglers so the stream pump can exit if the caller stopped
		// reading updates
		go func() {
			for range s.entry.Stream().Out() {
			}
		}()
		log.WithFields(s.LogTags).Info("Subscription closed")
	})
	return nil
}
