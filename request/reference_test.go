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

package request

import (
	"testing"

	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/stretchr/testify/assert"
)

func TestReferenceRequestValidation(t *testing.T) {
	assert := assert.New(t)

	// Case 1: valid request
	{
		uut := &ReferenceRequest{
			Securities: []string{"AAA", "BBB"},
			Fields:     []string{"PX_LAST"},
		}
		assert.Nil(uut.Validate())
		assert.Equal(2, uut.Weight())
	}

	// Case 2: missing securities
	{
		uut := &ReferenceRequest{Fields: []string{"PX_LAST"}}
		assert.NotNil(uut.Validate())
	}

	// Case 3: empty security entry
	{
		uut := &ReferenceRequest{
			Securities: []string{"AAA", ""},
			Fields:     []string{"PX_LAST"},
		}
		assert.NotNil(uut.Validate())
	}
}

func TestReferenceRequestPayload(t *testing.T) {
	assert := assert.New(t)

	uut := &ReferenceRequest{
		Securities: []string{"US0378331005", "US5949181045"},
		Fields:     []string{"PX_LAST", "NAME"},
		Options: Options{
			IDType:    IDTypeISIN,
			Overrides: Overrides{"EQY_FUND_CRNCY": "USD"},
		},
	}
	payload := uut.BuildPayload()

	assert.Equal(OperationReferenceData, payload[OperationField])
	assert.Equal(
		[]string{"/isin/US0378331005", "/isin/US5949181045"},
		payload[SecuritiesField],
	)
	assert.Equal([]string{"PX_LAST", "NAME"}, payload[FieldsField])
	overrides, ok := payload[OverridesField].([]interface{})
	assert.True(ok)
	assert.Len(overrides, 1)
	override, ok := overrides[0].(map[string]interface{})
	assert.True(ok)
	assert.Equal("EQY_FUND_CRNCY", override[OverrideIDField])
	assert.Equal("USD", override[OverrideValField])
}

func referenceChunk(securityData ...interface{}) core.Payload {
	return core.Payload{SecurityDataField: securityData}
}

func TestReferenceAggregation(t *testing.T) {
	assert := assert.New(t)

	uut := (&ReferenceRequest{
		Securities: []string{"AAA", "BBB", "BAD1"},
		Fields:     []string{"PX_LAST", "PX_BID"},
	}).NewAggregator()

	// One security per chunk, arriving out of request order
	assert.Nil(uut.Absorb(referenceChunk(map[string]interface{}{
		SecurityField: "BBB",
		FieldDataField: map[string]interface{}{
			"PX_LAST": 12.5,
		},
		FieldExceptionsField: []interface{}{
			map[string]interface{}{
				FieldIDField: "PX_BID",
				ErrorInfoField: map[string]interface{}{
					MessageField: "field not applicable",
				},
			},
		},
	})))
	assert.Nil(uut.Absorb(referenceChunk(
		map[string]interface{}{
			SecurityField: "AAA",
			FieldDataField: map[string]interface{}{
				"PX_LAST": 7.25,
				"PX_BID":  7.20,
			},
		},
		map[string]interface{}{
			SecurityField: "BAD1",
			SecurityErrorField: map[string]interface{}{
				MessageField: "unknown security",
			},
		},
	)))

	result := uut.Result()

	// Rows come out in request order despite arrival order
	assert.Len(result.Rows, 2)
	assert.Equal("AAA", result.Rows[0].Security)
	assert.Equal(7.25, result.Rows[0].Values["PX_LAST"])
	assert.Equal("BBB", result.Rows[1].Security)
	assert.Equal(12.5, result.Rows[1].Values["PX_LAST"])

	// Item failures land in the error collection, not the rows
	assert.Equal([]string{"BAD1"}, result.Errors.InvalidSecurities)
	assert.Equal(
		"field not applicable",
		result.Errors.InvalidFields[common.FieldErrorKey{Security: "BBB", Field: "PX_BID"}],
	)
}

func TestReferenceAggregationPermutationIndependent(t *testing.T) {
	assert := assert.New(t)

	chunks := []core.Payload{
		referenceChunk(map[string]interface{}{
			SecurityField:  "AAA",
			FieldDataField: map[string]interface{}{"PX_LAST": 1.0},
		}),
		referenceChunk(map[string]interface{}{
			SecurityField:  "BBB",
			FieldDataField: map[string]interface{}{"PX_LAST": 2.0},
		}),
		referenceChunk(map[string]interface{}{
			SecurityField:  "CCC",
			FieldDataField: map[string]interface{}{"PX_LAST": 3.0},
		}),
	}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	var baseline common.ResultRecord
	for idx, permutation := range permutations {
		uut := (&ReferenceRequest{
			Securities: []string{"AAA", "BBB", "CCC"},
			Fields:     []string{"PX_LAST"},
		}).NewAggregator()
		for _, chunkIdx := range permutation {
			assert.Nil(uut.Absorb(chunks[chunkIdx]))
		}
		result := uut.Result()
		if idx == 0 {
			baseline = result
			continue
		}
		assert.Equal(baseline, result)
	}
}

func TestReferenceAggregationStripsIDTypePrefix(t *testing.T) {
	assert := assert.New(t)

	uut := (&ReferenceRequest{
		Securities: []string{"US0378331005"},
		Fields:     []string{"PX_LAST"},
		Options:    Options{IDType: IDTypeISIN},
	}).NewAggregator()

	assert.Nil(uut.Absorb(referenceChunk(map[string]interface{}{
		SecurityField:  "/isin/US0378331005",
		FieldDataField: map[string]interface{}{"PX_LAST": 42.0},
	})))

	result := uut.Result()
	assert.Len(result.Rows, 1)
	assert.Equal("US0378331005", result.Rows[0].Security)
}
