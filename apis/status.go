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
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/mdmux/mdmux/client"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/session"
)

// APIRestStatusHandler REST handler exposing liveness and session pool state
type APIRestStatusHandler struct {
	goutils.RestAPIHandler
	core client.Client
}

// GetAPIRestStatusHandler define APIRestStatusHandler
func GetAPIRestStatusHandler(
	core client.Client, statusConfig *common.StatusServerConfig,
) (APIRestStatusHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "status",
	}
	return APIRestStatusHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &statusConfig.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range statusConfig.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		}, core: core,
	}, nil
}

// Write implements io.Writer so the handler can receive HTTP access logs
func (h APIRestStatusHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// ====================================================================================
// Liveness

// Alive godoc
// @Summary For liveness check
// @Description Will return success to indicate the process is still running
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/alive [get]
func (h APIRestStatusHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestStatusHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// ====================================================================================
// Readiness

// Ready godoc
// @Summary For readiness check
// @Description Will return success if the client can serve requests
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ready [get]
func (h APIRestStatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.Alive(w, r)
}

// ReadyHandler Wrapper around Ready
func (h APIRestStatusHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// ====================================================================================
// Session Pool Stats

// APIRestRespPoolStats response wrapping the session pool snapshot
type APIRestRespPoolStats struct {
	goutils.RestAPIBaseResponse
	// Pool is the session pool snapshot
	Pool session.PoolStats `json:"pool"`
}

// Stats godoc
// @Summary Query the session pool state
// @Description Returns the per session load, pending request, and subscription counts
// @tags Status
// @Produce json
// @Success 200 {object} APIRestRespPoolStats "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/stats [get]
func (h APIRestStatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespPoolStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Pool: h.core.Stats(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatsHandler Wrapper around Stats
func (h APIRestStatusHandler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Stats(w, r)
	}
}
