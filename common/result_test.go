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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemErrors(t *testing.T) {
	assert := assert.New(t)

	uut := NewItemErrors()
	assert.True(uut.Empty())

	// Case 1: record failures
	{
		uut.AddInvalidSecurity("BAD1")
		uut.AddInvalidSecurity("BAD2")
		uut.AddInvalidSecurity("BAD1")
		uut.AddInvalidField("AAA", "PX_LAST", "unknown field")
		uut.AddInvalidField("AAA", "PX_BID", "restricted")
		uut.AddInvalidField("BBB", "PX_LAST", "unknown field")
		assert.False(uut.Empty())
		assert.Len(uut.InvalidSecurities, 2)
		assert.Len(uut.InvalidFields, 3)
	}

	// Case 2: query helpers
	{
		bySecurity := uut.BySecurity("AAA")
		assert.Len(bySecurity, 2)
		assert.Equal("unknown field", bySecurity["PX_LAST"])
		assert.Equal("restricted", bySecurity["PX_BID"])
		byField := uut.ByField("PX_LAST")
		assert.Len(byField, 2)
		assert.Equal("unknown field", byField["AAA"])
		assert.Equal("unknown field", byField["BBB"])
		assert.Empty(uut.BySecurity("CCC"))
	}

	// Case 3: merge is idempotent on duplicates
	{
		other := NewItemErrors()
		other.AddInvalidSecurity("BAD2")
		other.AddInvalidSecurity("BAD3")
		other.AddInvalidField("AAA", "PX_LAST", "unknown field")
		uut.Merge(other)
		assert.Len(uut.InvalidSecurities, 3)
		assert.Len(uut.InvalidFields, 3)
	}
}

func TestResultRecord(t *testing.T) {
	assert := assert.New(t)

	// Case 1: a fresh record is resolved and error free
	{
		uut := NewResultRecord()
		assert.Empty(uut.Rows)
		assert.True(uut.Errors.Empty())
	}

	// Case 2: an all-error record is still a valid result
	{
		uut := NewResultRecord()
		uut.Errors.AddInvalidSecurity("BAD1")
		assert.Empty(uut.Rows)
		assert.False(uut.Errors.Empty())
	}
}
