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

// Services a request can target
const (
	// ReferenceDataService serves reference and historical data requests
	ReferenceDataService = "//mkt/refdata"
	// InstrumentsService serves security lookup requests
	InstrumentsService = "//mkt/instruments"
	// MarketDataService serves streaming subscriptions
	MarketDataService = "//mkt/mktdata"
	// FieldCatalogService serves field catalog searches
	FieldCatalogService = "//mkt/apiflds"
)

// Operation names carried in the request payload
const (
	OperationReferenceData  = "ReferenceDataRequest"
	OperationHistoricalData = "HistoricalDataRequest"
	OperationInstrumentList = "instrumentListRequest"
	OperationCurveList      = "curveListRequest"
	OperationGovernmentList = "govtListRequest"
	OperationSubscribe      = "subscribe"
	OperationUnsubscribe    = "unsubscribe"
	OperationCancel         = "cancel"
	OperationFieldSearch    = "CategorizedFieldSearchRequest"
)

// Request payload fields
const (
	OperationField   = "operation"
	SecuritiesField  = "securities"
	FieldsField      = "fields"
	StartDateField   = "startDate"
	EndDateField     = "endDate"
	PeriodicityField = "periodicitySelection"
	OverridesField   = "overrides"
	OverrideIDField  = "fieldId"
	OverrideValField = "value"
	QueryField       = "query"
	MaxResultsField  = "maxResults"
	FilterField      = "yellowKeyFilter"
	SearchSpecField  = "searchSpec"
)

// Response payload fields
const (
	SecurityDataField    = "securityData"
	SecurityField        = "security"
	FieldDataField       = "fieldData"
	SecurityErrorField   = "securityError"
	FieldExceptionsField = "fieldExceptions"
	FieldIDField         = "fieldId"
	ErrorInfoField       = "errorInfo"
	MessageField         = "message"
	DateField            = "date"
	ResultsField         = "results"
	CategoryField        = "category"
	FieldInfoField       = "fieldInfo"
	FieldCatalogIDField  = "id"
)

// WireDateFormat is the date layout of request payload date fields
const WireDateFormat = "20060102"
