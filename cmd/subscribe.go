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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mdmux/mdmux/apis"
	"github.com/mdmux/mdmux/client"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/request"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SubscribeCLIArgs arguments of the subscribe subcommand
type SubscribeCLIArgs struct {
	Securities  string `validate:"required"`
	Fields      string `validate:"required"`
	IDType      string `validate:"omitempty,oneof=ticker isin cusip sedol"`
	IntervalSec int    `validate:"gte=0"`
}

// GetSubscribeCLIFlags retrieve the CMD flags of the subscribe subcommand
func GetSubscribeCLIFlags(args *SubscribeCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "securities",
			Usage:       "Comma separated list of securities to subscribe to",
			Aliases:     []string{"s"},
			EnvVars:     []string{"SUBSCRIBE_SECURITIES"},
			Destination: &args.Securities,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "fields",
			Usage:       "Comma separated list of fields to receive updates for",
			Aliases:     []string{"f"},
			EnvVars:     []string{"SUBSCRIBE_FIELDS"},
			Destination: &args.Fields,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "id-type",
			Usage:       "Security identifier scheme: [ticker isin cusip sedol]",
			EnvVars:     []string{"SUBSCRIBE_ID_TYPE"},
			Value:       "",
			DefaultText: "",
			Destination: &args.IDType,
			Required:    false,
		},
		&cli.IntFlag{
			Name:        "interval-sec",
			Usage:       "Throttle updates to at most one per period. 0 streams every update.",
			EnvVars:     []string{"SUBSCRIBE_INTERVAL_SEC"},
			Value:       0,
			DefaultText: "0",
			Destination: &args.IntervalSec,
			Required:    false,
		},
	}
}

// runStatusServer serve the status REST API until the runtime context ends
func runStatusServer(
	runtimeContext context.Context,
	config *common.StatusServerConfig,
	mdClient client.Client,
	logTags log.Fields,
) error {
	httpHandler, err := apis.GetAPIRestStatusHandler(mdClient, config)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.PathPrefix, nil)

	_ = apis.RegisterPathPrefix(mainRouter, "/v1/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/stats", map[string]http.HandlerFunc{
		"get": httpHandler.StatsHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf("%s:%d", config.ListenOn, config.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * 60,
		ReadTimeout:  time.Second * 60,
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()
	log.WithFields(logTags).Infof("Started status server on http://%s", serverListen)

	go func() {
		<-runtimeContext.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}()
	return nil
}

// RunSubscribe stream subscription updates to STDOUT until interrupted
func RunSubscribe(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	gateway core.Gateway,
	args SubscribeCLIArgs,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "subscribe",
		"instance":  instance,
	}
	if err := validator.New().Struct(&args); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	mdClient, err := client.GetNewClient(gateway, *config)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define client")
		return err
	}
	defer func() {
		stopCtxt, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := mdClient.Stop(stopCtxt); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during client shutdown")
		}
	}()

	if err := mdClient.Start(runtimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to reach gateway")
		return err
	}

	if config.Status.Enabled {
		if err := runStatusServer(runtimeContext, &config.Status, mdClient, logTags); err != nil {
			return err
		}
	}

	req := &request.SubscriptionRequest{
		Securities: splitCommaList(args.Securities),
		Fields:     splitCommaList(args.Fields),
		Interval:   time.Second * time.Duration(args.IntervalSec),
		Options:    request.Options{IDType: parseIDType(args.IDType)},
	}
	subscription, err := mdClient.Subscribe(runtimeContext, req)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Subscribe failed")
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	for {
		select {
		case row, ok := <-subscription.Updates():
			if !ok {
				if cause := subscription.Err(); cause != nil {
					log.WithError(cause).WithFields(logTags).Error("Subscription terminated")
					return cause
				}
				log.WithFields(logTags).Info("Subscription ended")
				return nil
			}
			if err := encoder.Encode(&row); err != nil {
				log.WithError(err).WithFields(logTags).Error("Unable to write update")
			}
		case <-runtimeContext.Done():
			unsubCtxt, cancel := context.WithTimeout(context.Background(), time.Second*10)
			err := subscription.Unsubscribe(unsubCtxt)
			cancel()
			return err
		}
	}
}
