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
	"sync"

	"github.com/apex/log"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/dispatch"
)

// SessionStats is a point-in-time snapshot of one managed session
type SessionStats struct {
	// ID identifies the session
	ID string `json:"id"`
	// Class is the session usage class
	Class string `json:"class"`
	// Load is the request weight currently carried
	Load int `json:"load"`
	// Pending is the number of outstanding one-shot requests
	Pending int `json:"pending"`
	// Subscriptions is the number of live subscriptions
	Subscriptions int `json:"subscriptions"`
	// Healthy whether the session accepts new requests
	Healthy bool `json:"healthy"`
}

// PoolStats is a point-in-time snapshot of the session pool
type PoolStats struct {
	// Sessions are the per session snapshots
	Sessions []SessionStats `json:"sessions"`
	// TotalLoad is the request weight across all sessions
	TotalLoad int `json:"total_load"`
}

// SessionPool hands out gateway sessions by usage class, opening sessions
// lazily and spreading request weight across them. Sessions lost to transport
// failure are pruned on the next acquire.
type SessionPool interface {
	// Acquire fetch the session a request of the given class and weight should
	// run on. Fails with common.ErrSessionClosed after the pool stopped.
	Acquire(ctxt context.Context, class Class, weight int) (ManagedSession, error)
	// Stats snapshot the pool state
	Stats() PoolStats
	// Stop drain and close every session, then the gateway. Idempotent.
	Stop(ctxt context.Context) error
}

// sessionPoolImpl implements SessionPool
type sessionPoolImpl struct {
	common.Component
	gateway  core.Gateway
	poolCfg  common.SessionPoolConfig
	reqCfg   common.RequestConfig
	lock     sync.Mutex
	sessions map[Class][]ManagedSession
	opening  map[Class]chan struct{}
	closed   bool
	stopOnce sync.Once
}

// GetNewSessionPool define a new SessionPool over one gateway
func GetNewSessionPool(
	gateway core.Gateway, poolCfg common.SessionPoolConfig, reqCfg common.RequestConfig,
) (SessionPool, error) {
	logTags := log.Fields{
		"module":    "session",
		"component": "session-pool",
		"gateway":   gateway.String(),
	}
	return &sessionPoolImpl{
		Component: common.Component{LogTags: logTags},
		gateway:   gateway,
		poolCfg:   poolCfg,
		reqCfg:    reqCfg,
		sessions:  map[Class][]ManagedSession{},
		opening:   map[Class]chan struct{}{},
	}, nil
}

// Acquire implements SessionPool. Selection is least-loaded-first; a new
// session opens only when every live session of the class would exceed the
// configured load ceiling and the session cap allows another. The connection
// handshake of a new session runs outside the pool lock, so acquires served
// by an existing session never stall behind it; only acquires of the same
// class which actually need the new session wait for the handshake.
func (p *sessionPoolImpl) Acquire(
	ctxt context.Context, class Class, weight int,
) (ManagedSession, error) {
	for {
		p.lock.Lock()
		if p.closed {
			p.lock.Unlock()
			return nil, common.ErrSessionClosed
		}

		p.pruneLostSessions(ctxt, class)

		candidate := p.leastLoaded(class)
		if candidate != nil && candidate.Load()+weight <= p.poolCfg.MaxSessionLoad {
			p.lock.Unlock()
			return candidate, nil
		}
		if opening := p.opening[class]; opening != nil {
			// Another acquire is already opening a session of this class
			p.lock.Unlock()
			select {
			case <-opening:
			case <-ctxt.Done():
				return nil, ctxt.Err()
			}
			continue
		}
		if len(p.sessions[class]) < p.poolCfg.MaxSessions {
			latch := make(chan struct{})
			p.opening[class] = latch
			p.lock.Unlock()
			return p.openSession(ctxt, class, latch)
		}
		p.lock.Unlock()
		if candidate == nil {
			return nil, common.ErrSessionClosed
		}
		// Session cap reached; oversubscribe the least loaded session
		log.WithFields(p.LogTags).Warnf(
			"All %s sessions past load ceiling; oversubscribing %s", class, candidate.ID(),
		)
		return candidate, nil
	}
}

// openSession run the connection handshake of a new session unlocked, then
// publish the session and release the waiters parked on the latch
func (p *sessionPoolImpl) openSession(
	ctxt context.Context, class Class, latch chan struct{},
) (ManagedSession, error) {
	session, err := DefineManagedSession(ctxt, class, p.gateway, p.poolCfg, p.reqCfg)

	p.lock.Lock()
	delete(p.opening, class)
	close(latch)
	if err != nil {
		p.lock.Unlock()
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Failed to open new %s session", class,
		)
		return nil, err
	}
	if p.closed {
		p.lock.Unlock()
		go func() {
			_ = session.Stop(context.Background())
		}()
		return nil, common.ErrSessionClosed
	}
	p.sessions[class] = append(p.sessions[class], session)
	live := len(p.sessions[class])
	p.lock.Unlock()

	log.WithFields(p.LogTags).Infof(
		"Opened %s session %s (%d live)", class, session.ID(), live,
	)
	return session, nil
}

// pruneLostSessions drop sessions lost to transport failure. Their pending
// entries already failed when the loss was detected.
func (p *sessionPoolImpl) pruneLostSessions(ctxt context.Context, class Class) {
	live := p.sessions[class][:0]
	for _, session := range p.sessions[class] {
		if session.Healthy() {
			live = append(live, session)
			continue
		}
		log.WithFields(p.LogTags).Warnf("Pruning lost %s session %s", class, session.ID())
		go func(lost ManagedSession) {
			_ = lost.Stop(context.Background())
		}(session)
	}
	p.sessions[class] = live
}

// leastLoaded fetch the healthy session of a class with the lowest load
func (p *sessionPoolImpl) leastLoaded(class Class) ManagedSession {
	var result ManagedSession
	for _, session := range p.sessions[class] {
		if !session.Healthy() {
			continue
		}
		if result == nil || session.Load() < result.Load() {
			result = session
		}
	}
	return result
}

// Stats implements SessionPool
func (p *sessionPoolImpl) Stats() PoolStats {
	p.lock.Lock()
	defer p.lock.Unlock()
	stats := PoolStats{Sessions: []SessionStats{}}
	for class, sessions := range p.sessions {
		for _, session := range sessions {
			table := session.Table()
			load := session.Load()
			stats.Sessions = append(stats.Sessions, SessionStats{
				ID:            session.ID(),
				Class:         class.String(),
				Load:          load,
				Pending:       table.Len() - table.CountByKind(dispatch.KindSubscription),
				Subscriptions: table.CountByKind(dispatch.KindSubscription),
				Healthy:       session.Healthy(),
			})
			stats.TotalLoad += load
		}
	}
	return stats
}

// Stop implements SessionPool
func (p *sessionPoolImpl) Stop(ctxt context.Context) error {
	p.stopOnce.Do(func() {
		p.lock.Lock()
		p.closed = true
		var all []ManagedSession
		for _, sessions := range p.sessions {
			all = append(all, sessions...)
		}
		p.sessions = map[Class][]ManagedSession{}
		p.lock.Unlock()

		log.WithFields(p.LogTags).Infof("Stopping pool with %d sessions", len(all))
		for _, session := range all {
			if err := session.Stop(ctxt); err != nil {
				log.WithError(err).WithFields(p.LogTags).Errorf(
					"Failed to stop session %s", session.ID(),
				)
			}
		}
		if err := p.gateway.Close(ctxt); err != nil {
			log.WithError(err).WithFields(p.LogTags).Error("Failed to close gateway")
		}
		log.WithFields(p.LogTags).Info("Pool stopped")
	})
	return nil
}
