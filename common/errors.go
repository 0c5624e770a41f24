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

package common

import (
	"errors"
	"fmt"
)

// ErrSessionClosed operation attempted after the client was stopped
var ErrSessionClosed = errors.New("session already closed")

// ErrSessionLost the gateway connection dropped while requests were outstanding.
// Every request still pending on the lost session fails with this error.
var ErrSessionLost = errors.New("session connection lost")

// ErrTimeout the caller specified deadline elapsed before the request resolved
var ErrTimeout = errors.New("request timed out")

// ConnectionError a gateway session could not be established
type ConnectionError struct {
	// Gateway identifies the gateway endpoint the connection was made against
	Gateway string
	// Err is the underlying transport failure
	Err error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to gateway %s: %s", e.Gateway, e.Err)
}

// Unwrap exposes the underlying transport failure
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RequestFailedError the remote service rejected a specific request
type RequestFailedError struct {
	// Code is the failure code reported by the remote service
	Code string
	// Message is the human readable failure description
	Message string
}

// Error implements the error interface
func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed [%s]: %s", e.Code, e.Message)
}

// OutOfOrderResponseError a paged response arrived out of the expected sequence.
// Only returned when a request opted into strict paging.
type OutOfOrderResponseError struct {
	// Expected is the next sequence number the request expected
	Expected uint64
	// Received is the sequence number actually observed
	Received uint64
}

// Error implements the error interface
func (e *OutOfOrderResponseError) Error() string {
	return fmt.Sprintf(
		"paged response out of order: expected sequence %d, received %d",
		e.Expected,
		e.Received,
	)
}
