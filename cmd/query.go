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
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/mdmux/mdmux/client"
	"github.com/mdmux/mdmux/common"
	"github.com/mdmux/mdmux/core"
	"github.com/mdmux/mdmux/request"
	"github.com/urfave/cli/v2"
)

// QueryCLIArgs arguments shared by the one-shot query subcommands
type QueryCLIArgs struct {
	Securities   string `validate:"required"`
	Fields       string `validate:"required"`
	IDType       string `validate:"omitempty,oneof=ticker isin cusip sedol"`
	TimeoutSec   int    `validate:"gte=0"`
	StrictPaging bool
}

// HistoricalCLIArgs arguments of the historical query subcommand
type HistoricalCLIArgs struct {
	QueryCLIArgs
	StartDate   string `validate:"required"`
	EndDate     string `validate:"required"`
	Periodicity string
}

// LookupCLIArgs arguments of the lookup subcommand
type LookupCLIArgs struct {
	Query      string `validate:"required"`
	Family     string `validate:"required,oneof=instrument curve government"`
	MaxResults int    `validate:"gte=0"`
	TimeoutSec int    `validate:"gte=0"`
}

// GetQueryCLIFlags retrieve the CMD flags shared by the query subcommands
func GetQueryCLIFlags(args *QueryCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "securities",
			Usage:       "Comma separated list of securities to query",
			Aliases:     []string{"s"},
			EnvVars:     []string{"QUERY_SECURITIES"},
			Destination: &args.Securities,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "fields",
			Usage:       "Comma separated list of fields to fetch",
			Aliases:     []string{"f"},
			EnvVars:     []string{"QUERY_FIELDS"},
			Destination: &args.Fields,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "id-type",
			Usage:       "Security identifier scheme: [ticker isin cusip sedol]",
			EnvVars:     []string{"QUERY_ID_TYPE"},
			Value:       "",
			DefaultText: "",
			Destination: &args.IDType,
			Required:    false,
		},
		&cli.IntFlag{
			Name:        "timeout-sec",
			Usage:       "Per request timeout in seconds. 0 uses the configured default.",
			EnvVars:     []string{"QUERY_TIMEOUT_SEC"},
			Value:       0,
			DefaultText: "0",
			Destination: &args.TimeoutSec,
			Required:    false,
		},
		&cli.BoolFlag{
			Name:        "strict-paging",
			Usage:       "Fail the request if response pages arrive out of sequence",
			EnvVars:     []string{"QUERY_STRICT_PAGING"},
			Value:       false,
			DefaultText: "false",
			Destination: &args.StrictPaging,
			Required:    false,
		},
	}
}

// GetHistoricalCLIFlags retrieve the CMD flags of the historical subcommand
func GetHistoricalCLIFlags(args *HistoricalCLIArgs) []cli.Flag {
	flags := GetQueryCLIFlags(&args.QueryCLIArgs)
	return append(flags,
		&cli.StringFlag{
			Name:        "start-date",
			Usage:       "Inclusive range start as YYYYMMDD",
			EnvVars:     []string{"QUERY_START_DATE"},
			Destination: &args.StartDate,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "end-date",
			Usage:       "Inclusive range end as YYYYMMDD",
			EnvVars:     []string{"QUERY_END_DATE"},
			Destination: &args.EndDate,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "periodicity",
			Usage:       "Time bucket size, e.g. DAILY",
			EnvVars:     []string{"QUERY_PERIODICITY"},
			Value:       "DAILY",
			DefaultText: "DAILY",
			Destination: &args.Periodicity,
			Required:    false,
		},
	)
}

// GetLookupCLIFlags retrieve the CMD flags of the lookup subcommand
func GetLookupCLIFlags(args *LookupCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Usage:       "Free text search expression",
			Aliases:     []string{"q"},
			EnvVars:     []string{"LOOKUP_QUERY"},
			Destination: &args.Query,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "family",
			Usage:       "Catalog to search: [instrument curve government]",
			EnvVars:     []string{"LOOKUP_FAMILY"},
			Value:       "instrument",
			DefaultText: "instrument",
			Destination: &args.Family,
			Required:    false,
		},
		&cli.IntFlag{
			Name:        "max-results",
			Usage:       "Max number of matches. 0 uses the remote default.",
			EnvVars:     []string{"LOOKUP_MAX_RESULTS"},
			Value:       0,
			DefaultText: "0",
			Destination: &args.MaxResults,
			Required:    false,
		},
		&cli.IntFlag{
			Name:        "timeout-sec",
			Usage:       "Per request timeout in seconds. 0 uses the configured default.",
			EnvVars:     []string{"LOOKUP_TIMEOUT_SEC"},
			Value:       0,
			DefaultText: "0",
			Destination: &args.TimeoutSec,
			Required:    false,
		},
	}
}

// splitCommaList split a comma separated CLI value into its elements
func splitCommaList(value string) []string {
	var result []string
	for _, element := range strings.Split(value, ",") {
		element = strings.TrimSpace(element)
		if element != "" {
			result = append(result, element)
		}
	}
	return result
}

// parseIDType map the CLI identifier scheme name to the request form
func parseIDType(name string) request.SecurityIDType {
	switch name {
	case "ticker":
		return request.IDTypeTicker
	case "isin":
		return request.IDTypeISIN
	case "cusip":
		return request.IDTypeCUSIP
	case "sedol":
		return request.IDTypeSEDOL
	}
	return request.IDTypeNone
}

// parseCLIDate accept YYYYMMDD and YYYY-MM-DD
func parseCLIDate(value string) (time.Time, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %s", value)
}

// printResult write a resolved result record to STDOUT
func printResult(result common.ResultRecord) error {
	type printedErrors struct {
		InvalidSecurities []string          `json:"invalid_securities"`
		InvalidFields     map[string]string `json:"invalid_fields"`
	}
	printed := struct {
		Rows   []common.Row  `json:"rows"`
		Errors printedErrors `json:"errors"`
	}{
		Rows: result.Rows,
		Errors: printedErrors{
			InvalidSecurities: result.Errors.InvalidSecurities,
			InvalidFields:     map[string]string{},
		},
	}
	for key, message := range result.Errors.InvalidFields {
		printed.Errors.InvalidFields[fmt.Sprintf("%s/%s", key.Security, key.Field)] = message
	}
	data, err := json.MarshalIndent(&printed, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stdout, "%s\n", data)
	return err
}

// runQuery shared one-shot request execution
func runQuery(
	runtimeContext context.Context,
	config *common.SystemConfig,
	gateway core.Gateway,
	logTags log.Fields,
	resolve func(context.Context, client.Client) (common.ResultRecord, error),
) error {
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

	result, err := resolve(runtimeContext, mdClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Request failed")
		return err
	}
	return printResult(result)
}

// RunReferenceQuery run one reference data request and print the result
func RunReferenceQuery(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	gateway core.Gateway,
	args QueryCLIArgs,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "reference-query",
		"instance":  instance,
	}
	if err := validator.New().Struct(&args); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}
	req := &request.ReferenceRequest{
		Securities: splitCommaList(args.Securities),
		Fields:     splitCommaList(args.Fields),
		Options: request.Options{
			IDType:       parseIDType(args.IDType),
			StrictPaging: args.StrictPaging,
			Timeout:      time.Second * time.Duration(args.TimeoutSec),
		},
	}
	return runQuery(
		runtimeContext, config, gateway, logTags,
		func(ctxt context.Context, mdClient client.Client) (common.ResultRecord, error) {
			return mdClient.GetReferenceData(ctxt, req)
		},
	)
}

// RunHistoricalQuery run one historical data request and print the result
func RunHistoricalQuery(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	gateway core.Gateway,
	args HistoricalCLIArgs,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "historical-query",
		"instance":  instance,
	}
	if err := validator.New().Struct(&args); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}
	startDate, err := parseCLIDate(args.StartDate)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid start date")
		return err
	}
	endDate, err := parseCLIDate(args.EndDate)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid end date")
		return err
	}
	req := &request.HistoricalRequest{
		Securities:  splitCommaList(args.Securities),
		Fields:      splitCommaList(args.Fields),
		StartDate:   startDate,
		EndDate:     endDate,
		Periodicity: args.Periodicity,
		Options: request.Options{
			IDType:       parseIDType(args.IDType),
			StrictPaging: args.StrictPaging,
			Timeout:      time.Second * time.Duration(args.TimeoutSec),
		},
	}
	return runQuery(
		runtimeContext, config, gateway, logTags,
		func(ctxt context.Context, mdClient client.Client) (common.ResultRecord, error) {
			return mdClient.GetHistoricalData(ctxt, req)
		},
	)
}

// RunLookupQuery run one security lookup and print the matches
func RunLookupQuery(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	gateway core.Gateway,
	args LookupCLIArgs,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "lookup-query",
		"instance":  instance,
	}
	if err := validator.New().Struct(&args); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}
	req := &request.LookupRequest{
		Family:     request.LookupFamily(args.Family),
		Query:      args.Query,
		MaxResults: args.MaxResults,
		Options: request.Options{
			Timeout: time.Second * time.Duration(args.TimeoutSec),
		},
	}
	return runQuery(
		runtimeContext, config, gateway, logTags,
		func(ctxt context.Context, mdClient client.Client) (common.ResultRecord, error) {
			return mdClient.SecurityLookup(ctxt, req)
		},
	)
}
