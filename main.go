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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/mdmux/mdmux/cmd"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
	Hostname   string
}

var cmdArgs cliArgs

var queryArgs cmd.QueryCLIArgs
var historicalArgs cmd.HistoricalCLIArgs
var lookupArgs cmd.LookupCLIArgs
var subscribeArgs cmd.SubscribeCLIArgs

var logTags log.Fields

func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "application entrypoint",
		Description: "Request multiplexing client for session oriented market data gateways",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			// Config file
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use DEFAULT if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
		},
		// Components
		Commands: []*cli.Command{
			{
				Name:        "reference",
				Usage:       "Run one reference data request",
				Description: "Fetches point-in-time field values for a batch of securities",
				Flags:       cmd.GetQueryCLIFlags(&queryArgs),
				Action:      startReferenceQuery,
			},
			{
				Name:        "historical",
				Usage:       "Run one historical data request",
				Description: "Fetches a time series of field values over a date range",
				Flags:       cmd.GetHistoricalCLIFlags(&historicalArgs),
				Action:      startHistoricalQuery,
			},
			{
				Name:        "lookup",
				Usage:       "Run one security lookup",
				Description: "Searches a security catalog by free text query",
				Flags:       cmd.GetLookupCLIFlags(&lookupArgs),
				Action:      startLookupQuery,
			},
			{
				Name:        "subscribe",
				Usage:       "Stream subscription updates",
				Description: "Streams field updates for a batch of securities until interrupted",
				Flags:       cmd.GetSubscribeCLIFlags(&subscribeArgs),
				Action:      startSubscribe,
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// initialCmdArgsProcessing perform initial CMD arg processing
func initialCmdArgsProcessing() (*common.SystemConfig, error) {
	validate := validator.New()
	// Validate command line argument
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}
	setupLogging()
	tmp, err := json.MarshalIndent(&cmdArgs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal args")
		return nil, err
	}
	log.Debugf("Starting params\n%s", tmp)
	// Parse the config file
	if len(cmdArgs.ConfigFile) > 0 {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return nil, err
		}
	}
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to parse config file %s", cmdArgs.ConfigFile,
		)
		return nil, err
	}
	tmp, err = json.MarshalIndent(&config, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal config files")
		return nil, err
	}
	log.Debugf("Config file\n%s", tmp)
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config file content")
		return nil, err
	}
	return &config, nil
}

// prepareGateway define the gateway client for the configured transport
func prepareGateway(
	config *common.GatewayConfig, ctxtCancel context.CancelFunc,
) (core.Gateway, error) {
	switch config.Transport {
	case "nats":
		if config.NATS == nil {
			return nil, fmt.Errorf("nats transport selected without its configurations")
		}
		natsParam := core.NATSConnectParams{
			ServerURI:           config.NATS.ServerURI,
			SubjectPrefix:       config.NATS.SubjectPrefix,
			ConnectTimeout:      time.Second * time.Duration(config.NATS.ConnectTimeout),
			MaxReconnectAttempt: config.NATS.Reconnect.MaxAttempts,
			ReconnectWait:       time.Second * time.Duration(config.NATS.Reconnect.WaitInterval),
			EventBuffer:         config.EventBuffer,
			OnDisconnectCallback: func(_ *nats.Conn, e error) {
				log.WithError(e).WithFields(logTags).Errorf(
					"NATS client disconnected from server %s", config.NATS.ServerURI,
				)
			},
			OnReconnectCallback: func(_ *nats.Conn) {
				log.WithFields(logTags).Warnf(
					"NATS client reconnected with server %s", config.NATS.ServerURI,
				)
			},
			OnCloseCallback: func(_ *nats.Conn) {
				log.WithFields(logTags).Error("NATS client closed connection")
				ctxtCancel()
			},
		}
		return core.GetNatsGateway(natsParam)
	case "websocket":
		if config.Websocket == nil {
			return nil, fmt.Errorf("websocket transport selected without its configurations")
		}
		return core.GetWebsocketGateway(core.WebsocketConnectParams{
			EndpointURL:      config.Websocket.EndpointURL,
			HandshakeTimeout: time.Second * time.Duration(config.Websocket.HandshakeTimeout),
			WriteTimeout:     time.Second * time.Duration(config.Websocket.WriteTimeout),
			EventBuffer:      config.EventBuffer,
		})
	case "emulator":
		return core.GetEmulatorGateway(), nil
	}
	return nil, fmt.Errorf("unknown gateway transport %s", config.Transport)
}

func defineControlVars() (*sync.WaitGroup, context.Context, context.CancelFunc) {
	runTimeContext, rtCancel := context.WithCancel(context.Background())
	return &sync.WaitGroup{}, runTimeContext, rtCancel
}

// signalRecvSetup helper function for setting up the SIG receive handler
func signalRecvSetup(wg *sync.WaitGroup, ctxtCancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
		// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
		signal.Notify(cc, os.Interrupt)
		<-cc
		ctxtCancel()
	}()
}

// prepareRun shared subcommand bring-up
func prepareRun() (*common.SystemConfig, core.Gateway, *sync.WaitGroup, context.Context, context.CancelFunc, error) {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	wg, runTimeContext, rtCancel := defineControlVars()

	gateway, err := prepareGateway(&config.Gateway, rtCancel)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to define gateway client for %s", config.Gateway.Transport,
		)
		rtCancel()
		return nil, nil, nil, nil, nil, err
	}

	signalRecvSetup(wg, rtCancel)
	return config, gateway, wg, runTimeContext, rtCancel, nil
}

// ============================================================================
// Reference subcommand

// startReferenceQuery run one reference data request
func startReferenceQuery(c *cli.Context) error {
	config, gateway, wg, runTimeContext, rtCancel, err := prepareRun()
	if err != nil {
		return err
	}
	defer wg.Wait()
	defer rtCancel()
	return cmd.RunReferenceQuery(runTimeContext, config, cmdArgs.Hostname, gateway, queryArgs)
}

// ============================================================================
// Historical subcommand

// startHistoricalQuery run one historical data request
func startHistoricalQuery(c *cli.Context) error {
	config, gateway, wg, runTimeContext, rtCancel, err := prepareRun()
	if err != nil {
		return err
	}
	defer wg.Wait()
	defer rtCancel()
	return cmd.RunHistoricalQuery(runTimeContext, config, cmdArgs.Hostname, gateway, historicalArgs)
}

// ============================================================================
// Lookup subcommand

// startLookupQuery run one security lookup
func startLookupQuery(c *cli.Context) error {
	config, gateway, wg, runTimeContext, rtCancel, err := prepareRun()
	if err != nil {
		return err
	}
	defer wg.Wait()
	defer rtCancel()
	return cmd.RunLookupQuery(runTimeContext, config, cmdArgs.Hostname, gateway, lookupArgs)
}

// ============================================================================
// Subscribe subcommand

// startSubscribe stream subscription updates until interrupted
func startSubscribe(c *cli.Context) error {
	config, gateway, wg, runTimeContext, rtCancel, err := prepareRun()
	if err != nil {
		return err
	}
	defer wg.Wait()
	defer rtCancel()
	return cmd.RunSubscribe(runTimeContext, config, cmdArgs.Hostname, gateway, subscribeArgs)
}
