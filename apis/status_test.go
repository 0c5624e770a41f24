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

package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alwitt/goutils"
	"github.com/mdmux/mdmux/client"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/stretchr/testify/assert"
)

func testStatusServerConfig() common.StatusServerConfig {
	return common.StatusServerConfig{
		Enabled:         true,
		ListenOn:        "127.0.0.1",
		Port:            3000,
		PathPrefix:      "/",
		RequestIDHeader: "Mdmux-Request-ID",
	}
}

func defineTestStatusHandler(t *testing.T) (APIRestStatusHandler, client.Client) {
	gateway := core.GetEmulatorGateway()
	cfg := common.SystemConfig{
		Gateway: common.GatewayConfig{Transport: "emulator", EventBuffer: 64},
		Pool: common.SessionPoolConfig{
			MaxSessionLoad:     100,
			MaxSessions:        2,
			EventPollTimeout:   1,
			ServiceOpenTimeout: 5,
			DrainTimeout:       1,
		},
		Request: common.RequestConfig{DefaultTimeout: 10, StreamBuffer: 4, TaskBuffer: 32},
	}
	mdClient, err := client.GetNewClient(gateway, cfg)
	assert.Nil(t, err)
	statusConfig := testStatusServerConfig()
	uut, err := GetAPIRestStatusHandler(mdClient, &statusConfig)
	assert.Nil(t, err)
	return uut, mdClient
}

func TestStatusLivenessEndpoints(t *testing.T) {
	assert := assert.New(t)

	uut, mdClient := defineTestStatusHandler(t)
	defer func() {
		assert.Nil(mdClient.Stop(context.Background()))
	}()

	// Case 1: liveness always succeeds
	{
		req, err := http.NewRequest("GET", "/v1/alive", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		handler := uut.AliveHandler()
		handler.ServeHTTP(respRecorder, req)

		assert.Equal(http.StatusOK, respRecorder.Code)
		var resp goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.True(resp.Success)
	}

	// Case 2: readiness mirrors liveness
	{
		req, err := http.NewRequest("GET", "/v1/ready", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		handler := uut.ReadyHandler()
		handler.ServeHTTP(respRecorder, req)

		assert.Equal(http.StatusOK, respRecorder.Code)
		var resp goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.True(resp.Success)
	}
}

func TestStatusPoolStatsEndpoint(t *testing.T) {
	assert := assert.New(t)

	uut, mdClient := defineTestStatusHandler(t)
	defer func() {
		assert.Nil(mdClient.Stop(context.Background()))
	}()

	// Case 1: fresh pool has no sessions
	{
		req, err := http.NewRequest("GET", "/v1/stats", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		handler := uut.StatsHandler()
		handler.ServeHTTP(respRecorder, req)

		assert.Equal(http.StatusOK, respRecorder.Code)
		var resp APIRestRespPoolStats
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.True(resp.Success)
		assert.Empty(resp.Pool.Sessions)
		assert.Equal(0, resp.Pool.TotalLoad)
	}
}
