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
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
)

// EventReader drains one session's event queue on a dedicated goroutine. The
// pull is genuinely blocking, so it must never run on a goroutine that also
// resolves request completions; events are forwarded to the dispatcher in the
// exact order the queue produced them.
type EventReader interface {
	// Start launch the read loop
	Start(wg *sync.WaitGroup) error
	// Stop end the read loop without failing pending entries
	Stop()
}

// eventReaderImpl implements EventReader
type eventReaderImpl struct {
	common.Component
	session     core.Session
	dispatcher  EventDispatcher
	pollTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	started     bool
}

// DefineEventReader create the event reader for one session
func DefineEventReader(
	session core.Session, dispatcher EventDispatcher, pollTimeout time.Duration,
) (EventReader, error) {
	logTags := log.Fields{
		"module":    "dispatch",
		"component": "event-reader",
		"session":   session.ID(),
	}
	return &eventReaderImpl{
		Component:   common.Component{LogTags: logTags},
		session:     session,
		dispatcher:  dispatcher,
		pollTimeout: pollTimeout,
		stop:        make(chan struct{}),
	}, nil
}

// Stop implements EventReader
func (r *eventReaderImpl) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *eventReaderImpl) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Start implements EventReader
func (r *eventReaderImpl) Start(wg *sync.WaitGroup) error {
	if r.started {
		return errors.New("already started")
	}
	r.started = true
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer log.WithFields(r.LogTags).Info("Event read loop exiting")
		log.WithFields(r.LogTags).Info("Starting event read loop")
		for {
			if r.stopping() {
				return
			}
			event, err := r.session.NextEvent(r.pollTimeout)
			if err != nil {
				if errors.Is(err, core.ErrNoEvent) {
					continue
				}
				if errors.Is(err, common.ErrSessionClosed) {
					if !r.stopping() {
						// Queue closed under us without an orderly stop
						log.WithFields(r.LogTags).Warn("Event queue closed unexpectedly")
						r.dispatcher.SessionLost(common.ErrSessionLost)
					}
					return
				}
				log.WithError(err).WithFields(r.LogTags).Error("Event pull failed")
				continue
			}
			if event.IsTerminalSessionStatus() {
				log.WithFields(r.LogTags).Warn("Session terminated by remote")
				r.dispatcher.SessionLost(common.ErrSessionLost)
				return
			}
			if err := r.dispatcher.Submit(event, context.Background()); err != nil {
				log.WithError(err).WithFields(r.LogTags).Error("Failed to forward event")
			}
		}
	}()
	return nil
}
