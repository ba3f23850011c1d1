// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package mygeotab is a client for the MyGeotab JSON-RPC API.
//
// The client authenticates lazily, adds the session credentials to every
// call, and transparently re-authenticates once when the server reports that
// the session went stale. Parameters may be written with underscores
// (results_limit); they are sent in the camel-case form the server expects.
//
// # Quick Start
//
//	client, err := mygeotab.NewClient(
//	    "user@example.com",
//	    mygeotab.Password("secret"),
//	    mygeotab.Database("my_company"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	devices, err := client.Get(ctx, "Device", nil, mygeotab.ResultsLimit(10))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range devices {
//	    fmt.Println(d.ID(), d.GetValue("name").String())
//	}
//
// # Calls
//
//   - Call: any API method, returning the decoded result
//   - Get, Add, Set, Remove: entity operations
//   - MultiCall: several calls in one request (ExecuteMultiCall)
//   - GetFeed and DataFeed: incremental retrieval by version
//   - ServerCall: unauthenticated calls such as GetVersion
//   - Authenticate: explicit login
//   - GetList: Get returning an EntityList that knows its type name
//   - AltitudeClient: create, wait for and read Data-as-a-Service jobs
//
// Call, MultiCall, Get, Add, Set, Remove and Authenticate also have an
// *Async form returning a Future.
//
// # Dates
//
// time.Time parameters, also inside typed slices, maps and structs, are sent
// in UTC with millisecond precision, clamped to the range the server accepts.
// Response strings starting with a YYYY-MM-DD date are returned as time.Time
// values in UTC.
//
// # Errors
//
//   - *ConfigurationError: the call could not be issued; no network activity
//   - *ServerError: the server returned an error envelope
//   - *AuthenticationError: login failed, or the session was rejected twice
//   - *TimeoutError: no answer within the call timeout
//   - *StatusError: a non-2xx HTTP response
//
// # Thread Safety
//
// A Client is safe for concurrent use. Concurrent re-authentications after a
// stale session share a single Authenticate round trip.
//
// # References
//
//   - MyGeotab SDK: https://developers.geotab.com/myGeotab/introduction
//   - gjson: https://github.com/tidwall/gjson
//   - sjson: https://github.com/tidwall/sjson
package mygeotab
