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
	"sync"

	"github.com/apex/log"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
)

// Kind classifies an outstanding logical request
type Kind int

// Request kinds
const (
	// KindReference is a single round trip point-in-time lookup
	KindReference Kind = iota
	// KindHistorical is a possibly paged time series request
	KindHistorical
	// KindLookup is a single round trip instrument search
	KindLookup
	// KindSubscription is a persistent streaming request
	KindSubscription
)

// String implements the fmt.Stringer interface
func (k Kind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindHistorical:
		return "historical"
	case KindLookup:
		return "lookup"
	case KindSubscription:
		return "subscription"
	}
	return "unknown"
}

// Streaming whether this kind resolves through a stream instead of a single
// completion
func (k Kind) Streaming() bool {
	return k == KindSubscription
}

// Aggregator accumulates response payload chunks into the final caller facing
// result. Implementations are not safe for concurrent use; the dispatcher is
// the only writer while an entry is live.
type Aggregator interface {
	// Absorb merge one response chunk, folding item level error descriptors
	// into the error collection
	Absorb(body core.Payload) error
	// Tick convert one streaming update into a result row
	Tick(body core.Payload) (common.Row, bool)
	// Result assemble the accumulated ResultRecord
	Result() common.ResultRecord
}

// Entry is the pending state of one outstanding logical request. Exactly one
// Entry exists per live correlation identifier.
type Entry struct {
	id           string
	kind         Kind
	service      string
	weight       int
	strictPaging bool
	aggregator   Aggregator
	stream       *StreamBuffer[common.Row]
	lastSequence uint64

	resolveOnce sync.Once
	done        chan struct{}
	result      common.ResultRecord
	err         error
}

// NewEntry define the pending state for a single resolution request
func NewEntry(id string, kind Kind, weight int, aggregator Aggregator) *Entry {
	return &Entry{
		id:         id,
		kind:       kind,
		weight:     weight,
		aggregator: aggregator,
		done:       make(chan struct{}),
	}
}

// NewStreamingEntry define the pending state for a subscription request
func NewStreamingEntry(
	id string, weight int, aggregator Aggregator, streamCapacity int,
) *Entry {
	entry := NewEntry(id, KindSubscription, weight, aggregator)
	entry.stream = NewStreamBuffer[common.Row](streamCapacity)
	return entry
}

// EnableStrictPaging reject paged responses arriving out of sequence instead
// of merging them by key
func (e *Entry) EnableStrictPaging() {
	e.strictPaging = true
}

// ID the correlation identifier of this entry
func (e *Entry) ID() string {
	return e.id
}

// SetService record which service the request was transmitted to
func (e *Entry) SetService(service string) {
	e.service = service
}

// Service the service the request was transmitted to
func (e *Entry) Service() string {
	return e.service
}

// Kind the request kind of this entry
func (e *Entry) Kind() Kind {
	return e.kind
}

// Weight the load estimate this entry contributes to its session
func (e *Entry) Weight() int {
	return e.weight
}

// Aggregator the result accumulation buffer of this entry
func (e *Entry) Aggregator() Aggregator {
	return e.aggregator
}

// Stream the streaming channel of a subscription entry, nil otherwise
func (e *Entry) Stream() *StreamBuffer[common.Row] {
	return e.stream
}

// CheckSequence validate the page sequence of a paged response chunk. Only
// rejects gaps when strict paging was requested; events without a sequence
// number always pass.
func (e *Entry) CheckSequence(sequence uint64) error {
	if sequence == 0 {
		return nil
	}
	expected := e.lastSequence + 1
	if e.strictPaging && sequence != expected {
		return &common.OutOfOrderResponseError{Expected: expected, Received: sequence}
	}
	if sequence > e.lastSequence {
		e.lastSequence = sequence
	}
	return nil
}

// Resolve complete the entry with its final result
func (e *Entry) Resolve(result common.ResultRecord) {
	e.resolveOnce.Do(func() {
		e.result = result
		close(e.done)
	})
}

// Fail complete the entry with an error. A subscription entry's stream is
// closed with the same cause.
func (e *Entry) Fail(cause error) {
	e.resolveOnce.Do(func() {
		e.err = cause
		if e.stream != nil {
			e.stream.Close(cause)
		}
		close(e.done)
	})
}

// CloseStream terminate a subscription entry's stream in an orderly fashion
func (e *Entry) CloseStream() {
	e.resolveOnce.Do(func() {
		if e.stream != nil {
			e.stream.Close(nil)
		}
		close(e.done)
	})
}

// Done closed once the entry reached a terminal state
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// Outcome the terminal result of the entry; only meaningful after Done
func (e *Entry) Outcome() (common.ResultRecord, error) {
	return e.result, e.err
}

// ========================================================================================

// CorrelationTable is the thread-safe mapping from correlation identifier to
// pending request state for one session. It is written by request submission
// on caller goroutines and by the dispatcher on the session's background
// processing loop.
type CorrelationTable struct {
	common.Component
	lock        sync.RWMutex
	entries     map[string]*Entry
	totalWeight int
	idleWaiters []chan struct{}
}

// GetNewCorrelationTable define a new CorrelationTable
func GetNewCorrelationTable(sessionID string) *CorrelationTable {
	logTags := log.Fields{
		"module":    "dispatch",
		"component": "correlation-table",
		"session":   sessionID,
	}
	return &CorrelationTable{
		Component: common.Component{LogTags: logTags},
		entries:   map[string]*Entry{},
	}
}

// Register add a pending entry. Must complete before the matching request is
// transmitted, otherwise a response racing ahead of registration would be
// dropped as unknown and the caller would hang forever.
func (t *CorrelationTable) Register(entry *Entry) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, exists := t.entries[entry.ID()]; exists {
		return fmt.Errorf("correlation ID %s already registered", entry.ID())
	}
	t.entries[entry.ID()] = entry
	t.totalWeight += entry.Weight()
	log.WithFields(t.LogTags).Debugf("Registered %s entry %s", entry.Kind(), entry.ID())
	return nil
}

// Get fetch the pending entry for a correlation identifier, nil if absent
func (t *CorrelationTable) Get(correlationID string) *Entry {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.entries[correlationID]
}

// Remove drop the pending entry for a correlation identifier. Returns the
// removed entry, or nil if it was already gone.
func (t *CorrelationTable) Remove(correlationID string) *Entry {
	t.lock.Lock()
	entry, exists := t.entries[correlationID]
	if exists {
		delete(t.entries, correlationID)
		t.totalWeight -= entry.Weight()
	}
	var waiters []chan struct{}
	if len(t.entries) == 0 {
		waiters = t.idleWaiters
		t.idleWaiters = nil
	}
	t.lock.Unlock()
	for _, waiter := range waiters {
		close(waiter)
	}
	return entry
}

// Entries snapshot the live entries
func (t *CorrelationTable) Entries() []*Entry {
	t.lock.RLock()
	defer t.lock.RUnlock()
	result := make([]*Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		result = append(result, entry)
	}
	return result
}

// Len number of live entries
func (t *CorrelationTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.entries)
}

// TotalWeight sum of live entry weights; the session's load estimate
func (t *CorrelationTable) TotalWeight() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.totalWeight
}

// CountByKind number of live entries of one kind
func (t *CorrelationTable) CountByKind(kind Kind) int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	count := 0
	for _, entry := range t.entries {
		if entry.Kind() == kind {
			count++
		}
	}
	return count
}

// FailAll fail every live entry with the given cause and clear the table.
// Subscription streams close with the same cause.
func (t *CorrelationTable) FailAll(cause error) {
	t.lock.Lock()
	failed := make([]*Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		failed = append(failed, entry)
	}
	t.entries = map[string]*Entry{}
	t.totalWeight = 0
	waiters := t.idleWaiters
	t.idleWaiters = nil
	t.lock.Unlock()

	for _, entry := range failed {
		entry.Fail(cause)
	}
	for _, waiter := range waiters {
		close(waiter)
	}
	if len(failed) > 0 {
		log.WithFields(t.LogTags).Warnf("Failed %d pending entries: %s", len(failed), cause)
	}
}

// AwaitIdle block until the table holds no entries or the context expires
func (t *CorrelationTable) AwaitIdle(ctxt context.Context) error {
	t.lock.Lock()
	if len(t.entries) == 0 {
		t.lock.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	t.idleWaiters = append(t.idleWaiters, waiter)
	t.lock.Unlock()
	select {
	case <-waiter:
		return nil
	case <-ctxt.Done():
		return ctxt.Err()
	}
}
