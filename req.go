// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import "time"

// Req represents per-call options set through request modifiers
//
// Example:
//
//	// Get with a custom timeout and results limit
//	trips, err := client.Get(ctx, "Trip", params,
//	    mygeotab.CallTimeout(30*time.Second),
//	    mygeotab.ResultsLimit(500))
type Req struct {
	// Timeout is the call timeout for the full round trip
	// Overrides the client default if set
	Timeout time.Duration

	// ResultsLimit caps the number of entities returned by Get
	// Zero means no limit
	ResultsLimit int
}

// MethodCall is one entry of a multi-call
type MethodCall struct {
	// Method is the API method name (e.g. "Get")
	Method string

	// Params are the method parameters; nil sends an empty object
	Params map[string]any
}

// NewMethodCall returns a MethodCall for use with MultiCall
//
// Example:
//
//	results, err := client.MultiCall(ctx, []mygeotab.MethodCall{
//	    mygeotab.NewMethodCall("Get", map[string]any{"typeName": "Device"}),
//	    mygeotab.NewMethodCall("GetCountOf", map[string]any{"typeName": "User"}),
//	})
func NewMethodCall(method string, params map[string]any) MethodCall {
	return MethodCall{Method: method, Params: params}
}
