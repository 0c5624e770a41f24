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
	"sync"
)

// StreamBuffer is an unbounded ordered hand-off between the dispatcher and a
// stream consumer. Push never blocks; pending items queue in memory until the
// consumer drains them, so a slow consumer grows the process footprint rather
// than stalling event dispatch.
type StreamBuffer[T any] struct {
	lock     sync.Mutex
	pending  []T
	signal   chan struct{}
	out      chan T
	failed   chan struct{}
	closed   bool
	closeErr error

	totalIn  int64
	totalOut int64
}

// NewStreamBuffer define a new StreamBuffer with the given initial capacity
func NewStreamBuffer[T any](initialCapacity int) *StreamBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &StreamBuffer[T]{
		pending: make([]T, 0, initialCapacity),
		signal:  make(chan struct{}, 1),
		out:     make(chan T),
		failed:  make(chan struct{}),
	}
	go b.pump()
	return b
}

// pump moves queued items to the output channel in order, then closes the
// output once the buffer is closed and drained
func (b *StreamBuffer[T]) pump() {
	for {
		b.lock.Lock()
		if len(b.pending) == 0 {
			if b.closed {
				b.lock.Unlock()
				close(b.out)
				return
			}
			b.lock.Unlock()
			<-b.signal
			continue
		}
		item := b.pending[0]
		// Clear the slot so the backing array does not pin the item
		var zero T
		b.pending[0] = zero
		b.pending = b.pending[1:]
		if len(b.pending) == 0 {
			b.pending = b.pending[:0:cap(b.pending)]
		}
		b.totalOut++
		b.lock.Unlock()
		select {
		case b.out <- item:
		case <-b.failed:
			close(b.out)
			return
		}
	}
}

// Push append an item to the stream. Returns false once the stream is closed.
func (b *StreamBuffer[T]) Push(item T) bool {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	b.totalIn++
	b.lock.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// Close terminate the stream. An orderly close (nil cause) still delivers the
// items already queued before the output channel closes; closing with a cause
// discards queued items so the channel closes without needing a consumer. The
// cause is readable through Err once the output channel is closed. Safe to
// call multiple times; the first cause wins.
func (b *StreamBuffer[T]) Close(cause error) {
	b.lock.Lock()
	if !b.closed {
		b.closed = true
		b.closeErr = cause
		if cause != nil {
			b.pending = nil
			close(b.failed)
		}
	}
	b.lock.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Out the channel a consumer drains. After an orderly close the channel
// closes once all queued items were delivered, so the consumer must keep
// draining until closure; after a close with a cause the channel closes
// without further deliveries.
func (b *StreamBuffer[T]) Out() <-chan T {
	return b.out
}

// Err the stream termination cause. Nil for an orderly close.
func (b *StreamBuffer[T]) Err() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.closeErr
}

// Depth number of items queued and not yet consumed
func (b *StreamBuffer[T]) Depth() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.pending)
}
