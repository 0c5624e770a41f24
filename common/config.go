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

import "github.com/spf13/viper"

// ===============================================================================
// Gateway Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSGatewayConfig defines parameters for reaching a market data gateway
// fronted by NATS
type NATSGatewayConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// SubjectPrefix is the subject prefix the gateway serves requests under
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// WebsocketGatewayConfig defines parameters for reaching a market data
// gateway exposed over a websocket endpoint
type WebsocketGatewayConfig struct {
	// EndpointURL is the websocket endpoint of the gateway
	EndpointURL string `mapstructure:"endpoint_url" json:"endpoint_url" validate:"required,uri"`
	// HandshakeTimeout is the max duration of the websocket handshake in seconds
	HandshakeTimeout int `mapstructure:"handshake_timeout_sec" json:"handshake_timeout_sec" validate:"gte=1"`
	// WriteTimeout is the max duration of one outgoing frame write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
}

// GatewayConfig defines which gateway transport to use and its parameters
type GatewayConfig struct {
	// Transport selects the gateway transport
	Transport string `mapstructure:"transport" json:"transport" validate:"required,oneof=nats websocket emulator"`
	// EventBuffer is the per session event queue depth of the transport
	EventBuffer int `mapstructure:"event_buffer" json:"event_buffer" validate:"gte=1"`
	// NATS are the NATS transport parameters
	NATS *NATSGatewayConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty,dive"`
	// Websocket are the websocket transport parameters
	Websocket *WebsocketGatewayConfig `mapstructure:"websocket,omitempty" json:"websocket,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================
// Session Pool Related Config

// SessionPoolConfig defines session pool sizing and shutdown parameters
type SessionPoolConfig struct {
	// MaxSessionLoad is the request weight ceiling of one session; past it the
	// pool starts another session
	MaxSessionLoad int `mapstructure:"max_session_load" json:"max_session_load" validate:"gte=1"`
	// MaxSessions is the max number of sessions per session class
	MaxSessions int `mapstructure:"max_sessions" json:"max_sessions" validate:"gte=1"`
	// EventPollTimeout is the blocking event pull timeout in seconds. The
	// reader re-arms the pull on expiry; this only bounds shutdown latency.
	EventPollTimeout int `mapstructure:"event_poll_timeout_sec" json:"event_poll_timeout_sec" validate:"gte=1"`
	// ServiceOpenTimeout is the max duration to wait for a service open
	// handshake in seconds
	ServiceOpenTimeout int `mapstructure:"service_open_timeout_sec" json:"service_open_timeout_sec" validate:"gte=1"`
	// DrainTimeout is the max duration stop() waits for in-flight requests to
	// resolve before force-cancelling them, in seconds
	DrainTimeout int `mapstructure:"drain_timeout_sec" json:"drain_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Request Related Config

// RequestConfig defines request handling defaults
type RequestConfig struct {
	// DefaultTimeout is the default per request deadline in seconds. Zero
	// disables the default deadline.
	DefaultTimeout int `mapstructure:"default_timeout_sec" json:"default_timeout_sec" validate:"gte=0"`
	// StreamBuffer is the initial capacity of a subscription stream buffer.
	// The buffer grows without bound under a slow consumer.
	StreamBuffer int `mapstructure:"stream_buffer" json:"stream_buffer" validate:"gte=1"`
	// TaskBuffer is the dispatcher task queue depth per session
	TaskBuffer int `mapstructure:"task_buffer" json:"task_buffer" validate:"gte=1"`
}

// ===============================================================================
// Status Server Related Config

// StatusServerConfig defines the optional status REST API parameters
type StatusServerConfig struct {
	// Enabled whether the status REST API is served
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// PathPrefix is the end-point path prefix for the status APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config of the multiplexer client
type SystemConfig struct {
	// Gateway are the gateway transport config parameters
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway" validate:"required,dive"`
	// Pool are the session pool config parameters
	Pool SessionPoolConfig `mapstructure:"pool" json:"pool" validate:"required,dive"`
	// Request are the request handling config parameters
	Request RequestConfig `mapstructure:"request" json:"request" validate:"required,dive"`
	// Status are the status REST API config parameters
	Status StatusServerConfig `mapstructure:"status" json:"status" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default gateway settings
	viper.SetDefault("gateway.transport", "nats")
	viper.SetDefault("gateway.event_buffer", 256)
	viper.SetDefault("gateway.nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("gateway.nats.subject_prefix", "mdgw")
	viper.SetDefault("gateway.nats.connect_timeout_sec", 30)
	viper.SetDefault("gateway.nats.reconnect.max_attempts", -1)
	viper.SetDefault("gateway.nats.reconnect.wait_interval_sec", 15)
	viper.SetDefault("gateway.websocket.endpoint_url", "ws://127.0.0.1:8194/events")
	viper.SetDefault("gateway.websocket.handshake_timeout_sec", 15)
	viper.SetDefault("gateway.websocket.write_timeout_sec", 15)

	// Default session pool settings
	viper.SetDefault("pool.max_session_load", 500)
	viper.SetDefault("pool.max_sessions", 8)
	viper.SetDefault("pool.event_poll_timeout_sec", 1)
	viper.SetDefault("pool.service_open_timeout_sec", 30)
	viper.SetDefault("pool.drain_timeout_sec", 30)

	// Default request settings
	viper.SetDefault("request.default_timeout_sec", 120)
	viper.SetDefault("request.stream_buffer", 64)
	viper.SetDefault("request.task_buffer", 256)

	// Default status API settings
	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.listen_on", "0.0.0.0")
	viper.SetDefault("status.listen_port", 3000)
	viper.SetDefault("status.path_prefix", "/")
	viper.SetDefault("status.request_id_header", "Mdmux-Request-ID")
	viper.SetDefault("status.do_not_log_headers", []string{"Authorization"})
}
