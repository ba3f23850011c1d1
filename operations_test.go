// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// sessionHandler authenticates with newSession and answers other calls with
// result, or with InvalidUserException when they carry a session in stale
func sessionHandler(newSession string, stale map[string]bool, result string) func(context.Context, sentRequest) (*Response, error) {
	return func(_ context.Context, req sentRequest) (*Response, error) {
		switch req.method {
		case MethodAuthenticate:
			return authResponse(newSession, "ThisServer"), nil
		default:
			if stale[req.params.Get("credentials.sessionId").String()] {
				return errorResponse("InvalidUserException", "Incorrect login credentials"), nil
			}
			return resultResponse(result), nil
		}
	}
}

// TestCallEmptyMethod verifies no network activity for a missing method
func TestCallEmptyMethod(t *testing.T) {
	for _, method := range []string{"", "   "} {
		t.Run("method="+method, func(t *testing.T) {
			ft := &fakeTransport{handler: sessionHandler("s1", nil, `"ok"`)}
			client := newTestClient(t, ft)

			_, err := client.Call(context.Background(), method, nil)

			var configErr *ConfigurationError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected *ConfigurationError, got %T: %v", err, err)
			}
			if !errors.Is(err, ErrMethodNameRequired) {
				t.Error("expected ErrMethodNameRequired")
			}
			if n := len(ft.sent()); n != 0 {
				t.Errorf("sent %d requests, want 0", n)
			}
		})
	}
}

// TestCallAuthenticatesFirst verifies lazy authentication and credential stamping
func TestCallAuthenticatesFirst(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `"5.7.2404.1"`)}
	client := newTestClient(t, ft)

	result, err := client.Call(context.Background(), "GetVersion", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "5.7.2404.1" {
		t.Errorf("result = %v, want 5.7.2404.1", result)
	}

	sent := ft.sent()
	if got := ft.methods(); !reflect.DeepEqual(got, []string{"Authenticate", "GetVersion"}) {
		t.Fatalf("methods = %v", got)
	}

	auth := sent[0].params
	if auth.Get("userName").String() != "user@example.com" ||
		auth.Get("password").String() != "secret" ||
		auth.Get("database").String() != "db" {
		t.Errorf("unexpected Authenticate params: %s", auth.Raw)
	}
	if auth.Get("credentials").Exists() {
		t.Error("Authenticate must not carry credentials")
	}

	creds := sent[1].params.Get("credentials")
	if creds.Get("sessionId").String() != "s1" ||
		creds.Get("userName").String() != "user@example.com" ||
		creds.Get("database").String() != "db" {
		t.Errorf("unexpected credentials: %s", creds.Raw)
	}
	if creds.Get("password").Exists() {
		t.Error("password must not be sent with calls")
	}
	for _, r := range sent {
		if r.server != DefaultServer {
			t.Errorf("server = %q, want %q", r.server, DefaultServer)
		}
	}
}

// TestCallStaleSessionRetriesOnce verifies the one-shot re-authentication
func TestCallStaleSessionRetriesOnce(t *testing.T) {
	logger := &mockLogger{}
	ft := &fakeTransport{handler: sessionHandler("s2", map[string]bool{"old": true}, `"ok"`)}
	client := newTestClient(t, ft, SessionID("old"), WithLogger(logger))

	result, err := client.Call(context.Background(), "GetVersion", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}

	want := []string{"GetVersion", "Authenticate", "GetVersion"}
	if got := ft.methods(); !reflect.DeepEqual(got, want) {
		t.Errorf("methods = %v, want %v", got, want)
	}
	if got := ft.sent()[2].params.Get("credentials.sessionId").String(); got != "s2" {
		t.Errorf("retry used session %q, want s2", got)
	}
	if got := client.Credentials().SessionID; got != "s2" {
		t.Errorf("SessionID = %q, want s2", got)
	}
	if got := client.Credentials().Password; got != "secret" {
		t.Errorf("password should survive authentication, got %q", got)
	}
	if !logger.has("WARN", "stale session, re-authenticating") {
		t.Error("expected a warning about the stale session")
	}
}

// TestCallStaleSessionTwice verifies the retry bound
func TestCallStaleSessionTwice(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s2", map[string]bool{"old": true, "s2": true}, `"ok"`)}
	client := newTestClient(t, ft, SessionID("old"))

	_, err := client.Call(context.Background(), "GetVersion", nil)

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthenticationError, got %T: %v", err, err)
	}
	var serverErr *ServerError
	if !errors.As(err, &serverErr) || serverErr.Name != "InvalidUserException" {
		t.Errorf("expected wrapped InvalidUserException, got %v", serverErr)
	}
	want := "mygeotab: cannot authenticate 'user@example.com @ my.geotab.com/db'"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}

	wantMethods := []string{"GetVersion", "Authenticate", "GetVersion"}
	if got := ft.methods(); !reflect.DeepEqual(got, wantMethods) {
		t.Errorf("methods = %v, want %v", got, wantMethods)
	}
}

// TestCallStaleSessionWithoutPassword verifies no retry is possible without a password
func TestCallStaleSessionWithoutPassword(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s2", map[string]bool{"old": true}, `"ok"`)}
	client := newTestClient(t, ft, Password(""), SessionID("old"))

	_, err := client.Call(context.Background(), "GetVersion", nil)

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthenticationError, got %T: %v", err, err)
	}
	if got := ft.methods(); !reflect.DeepEqual(got, []string{"GetVersion"}) {
		t.Errorf("methods = %v, want [GetVersion]", got)
	}
}

// TestCallServerErrors tests which server errors trigger re-authentication
func TestCallServerErrors(t *testing.T) {
	tests := []struct {
		name        string
		errName     string
		errMessage  string
		wantRetry   bool
		wantMethods []string
	}{
		{
			name:        "invalid user",
			errName:     "InvalidUserException",
			errMessage:  "Incorrect login credentials",
			wantRetry:   true,
			wantMethods: []string{"GetVersion", "Authenticate", "GetVersion"},
		},
		{
			name:        "database initializing",
			errName:     "DbUnavailableException",
			errMessage:  "Database 'db' is Initializing",
			wantRetry:   true,
			wantMethods: []string{"GetVersion", "Authenticate", "GetVersion"},
		},
		{
			name:        "database unavailable otherwise",
			errName:     "DbUnavailableException",
			errMessage:  "Database 'db' is in maintenance",
			wantMethods: []string{"GetVersion"},
		},
		{
			name:        "argument error",
			errName:     "ArgumentException",
			errMessage:  "Unknown type name",
			wantMethods: []string{"GetVersion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(_ context.Context, req sentRequest) (*Response, error) {
				if req.method == MethodAuthenticate {
					return authResponse("s2", "ThisServer"), nil
				}
				if req.params.Get("credentials.sessionId").String() == "old" {
					return errorResponse(tt.errName, tt.errMessage), nil
				}
				return resultResponse(`"ok"`), nil
			}}
			client := newTestClient(t, ft, SessionID("old"))

			result, err := client.Call(context.Background(), "GetVersion", nil)

			if tt.wantRetry {
				if err != nil || result != "ok" {
					t.Errorf("Call() = %v, %v; want ok after retry", result, err)
				}
			} else {
				var serverErr *ServerError
				if !errors.As(err, &serverErr) {
					t.Fatalf("expected *ServerError, got %T: %v", err, err)
				}
				if serverErr.Name != tt.errName || serverErr.Message != tt.errMessage {
					t.Errorf("ServerError = %q/%q", serverErr.Name, serverErr.Message)
				}
			}
			if got := ft.methods(); !reflect.DeepEqual(got, tt.wantMethods) {
				t.Errorf("methods = %v, want %v", got, tt.wantMethods)
			}
		})
	}
}

// TestCallTransportErrorNotRetried verifies transport failures surface as is
func TestCallTransportErrorNotRetried(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return nil, &StatusError{Server: DefaultServer, StatusCode: 502, Status: "502 Bad Gateway"}
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	_, err := client.Call(context.Background(), "GetVersion", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 502 {
		t.Fatalf("expected *StatusError 502, got %T: %v", err, err)
	}
	if n := len(ft.sent()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

// TestCallTimeout verifies deadline expiry maps to TimeoutError
func TestCallTimeout(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, _ sentRequest) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	start := time.Now()
	_, err := client.Call(context.Background(), "GetVersion", nil, CallTimeout(20*time.Millisecond))

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if err.Error() != "mygeotab: request timed out @ my.geotab.com" {
		t.Errorf("error = %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if n := len(ft.sent()); n != 1 {
		t.Errorf("timed out call was retried: %d requests", n)
	}
}

// TestCallContextCanceled verifies a canceled context sends nothing
func TestCallContextCanceled(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `"ok"`)}
	client := newTestClient(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Call(ctx, "GetVersion", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if n := len(ft.sent()); n != 0 {
		t.Errorf("sent %d requests, want 0", n)
	}
}

// TestCallParameterNames verifies camel-casing of nested parameters
func TestCallParameterNames(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `3`)}
	client := newTestClient(t, ft, SessionID("s0"))

	result, err := client.Call(context.Background(), "GetCountOf", map[string]any{
		"type_name": "Device",
		"search":    map[string]any{"device_search": map[string]any{"serial_number": "G9"}},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != float64(3) {
		t.Errorf("result = %#v, want float64(3)", result)
	}

	params := ft.sent()[0].params
	if params.Get("typeName").String() != "Device" {
		t.Errorf("typeName missing: %s", params.Raw)
	}
	if params.Get("search.deviceSearch.serialNumber").String() != "G9" {
		t.Errorf("nested names not converted: %s", params.Raw)
	}
	if params.Get("type_name").Exists() {
		t.Errorf("underscore name sent: %s", params.Raw)
	}
}

// TestCallExplicitCredentials verifies caller credentials are not overwritten
func TestCallExplicitCredentials(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `"ok"`)}
	client := newTestClient(t, ft, SessionID("s0"))

	_, err := client.Call(context.Background(), "GetVersion", map[string]any{
		"credentials": map[string]any{"userName": "other", "sessionId": "theirs", "database": "db2"},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	creds := ft.sent()[0].params.Get("credentials")
	if creds.Get("sessionId").String() != "theirs" || creds.Get("userName").String() != "other" {
		t.Errorf("credentials overwritten: %s", creds.Raw)
	}
}

// TestCallNonJSONResponse verifies raw bodies are returned as text
func TestCallNonJSONResponse(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return &Response{Body: []byte("<html>maintenance</html>"), ContentType: "text/html", StatusCode: 200}, nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	result, err := client.Call(context.Background(), "GetVersion", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "<html>maintenance</html>" {
		t.Errorf("result = %#v", result)
	}
}

// TestCallDatesDecoded verifies date strings come back as time.Time
func TestCallDatesDecoded(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`{"dateTime":"2024-05-01T10:00:00.000Z","name":"2024 fleet"}`), nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	result, err := client.Call(context.Background(), "Get", map[string]any{
		"from_date": time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if got := ft.sent()[0].params.Get("fromDate").String(); got != "2024-05-01T10:00:00.000Z" {
		t.Errorf("fromDate = %q", got)
	}

	data := result.(map[string]any)
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got, ok := data["dateTime"].(time.Time); !ok || !got.Equal(want) {
		t.Errorf("dateTime = %#v, want %v", data["dateTime"], want)
	}
	if data["name"] != "2024 fleet" {
		t.Errorf("name = %#v", data["name"])
	}
}

// TestAuthenticateRedirect verifies the server named by path is adopted
func TestAuthenticateRedirect(t *testing.T) {
	logger := &mockLogger{}
	ft := &fakeTransport{handler: func(_ context.Context, req sentRequest) (*Response, error) {
		if req.method == MethodAuthenticate {
			return authResponse("s1", "my3.geotab.com"), nil
		}
		return resultResponse(`"ok"`), nil
	}}
	client := newTestClient(t, ft, WithLogger(logger))

	creds, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if creds.Server != "my3.geotab.com" || client.Server() != "my3.geotab.com" {
		t.Errorf("server = %q / %q, want my3.geotab.com", creds.Server, client.Server())
	}
	if !logger.has("INFO", "authenticated") {
		t.Error("expected an authenticated log entry")
	}

	if _, err := client.Call(context.Background(), "GetVersion", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	sent := ft.sent()
	if sent[0].server != DefaultServer || sent[1].server != "my3.geotab.com" {
		t.Errorf("servers = %q, %q", sent[0].server, sent[1].server)
	}
}

// TestAuthenticateThisServer verifies "ThisServer" keeps the current host
func TestAuthenticateThisServer(t *testing.T) {
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `"ok"`)}
	client := newTestClient(t, ft, Server("my5.geotab.com"))

	creds, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if creds.Server != "my5.geotab.com" {
		t.Errorf("Server = %q, want my5.geotab.com", creds.Server)
	}
	if creds.SessionID != "s1" || creds.Database != "db" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

// TestAuthenticateRejected verifies a rejected login
func TestAuthenticateRejected(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return errorResponse("InvalidUserException", "Incorrect login credentials"), nil
	}}
	client := newTestClient(t, ft)

	_, err := client.Call(context.Background(), "GetVersion", nil)

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthenticationError, got %T: %v", err, err)
	}
	if authErr.Username != "user@example.com" || authErr.Database != "db" || authErr.Server != DefaultServer {
		t.Errorf("unexpected AuthenticationError %+v", authErr)
	}
	if got := ft.methods(); !reflect.DeepEqual(got, []string{"Authenticate"}) {
		t.Errorf("methods = %v", got)
	}
}

// TestAuthenticateExtendSession verifies the session-only path
func TestAuthenticateExtendSession(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`null`), nil
	}}
	client := newTestClient(t, ft, Password(""), SessionID("s0"))

	creds, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if creds.SessionID != "s0" {
		t.Errorf("SessionID = %q, want s0", creds.SessionID)
	}

	sent := ft.sent()
	if len(sent) != 1 || sent[0].method != MethodExtendSession {
		t.Fatalf("methods = %v, want [ExtendSession]", ft.methods())
	}
	if got := sent[0].params.Get("credentials.sessionId").String(); got != "s0" {
		t.Errorf("credentials.sessionId = %q", got)
	}
	if sent[0].params.Get("password").Exists() {
		t.Error("ExtendSession must not send a password")
	}
}

// TestMultiCall verifies call formatting and result order
func TestMultiCall(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`[12, "5.7", {"id":"b1"}]`), nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	results, err := client.MultiCall(context.Background(), []MethodCall{
		NewMethodCall("GetCountOf", map[string]any{"type_name": "Device"}),
		NewMethodCall("GetVersion", nil),
		NewMethodCall("Get", map[string]any{"typeName": "Device", "results_limit": 1}),
	})
	if err != nil {
		t.Fatalf("MultiCall() error = %v", err)
	}
	if len(results) != 3 || results[0] != float64(12) || results[1] != "5.7" {
		t.Errorf("results = %#v", results)
	}

	sent := ft.sent()[0]
	if sent.method != MethodExecuteMultiCall {
		t.Errorf("method = %q", sent.method)
	}
	calls := sent.params.Get("calls").Array()
	if len(calls) != 3 {
		t.Fatalf("calls = %s", sent.params.Get("calls").Raw)
	}
	if calls[0].Get("method").String() != "GetCountOf" || calls[0].Get("params.typeName").String() != "Device" {
		t.Errorf("calls[0] = %s", calls[0].Raw)
	}
	if !calls[1].Get("params").IsObject() {
		t.Errorf("calls[1].params should be an object, got %s", calls[1].Raw)
	}
	if calls[2].Get("params.resultsLimit").Int() != 1 {
		t.Errorf("calls[2] = %s", calls[2].Raw)
	}
	if calls[0].Get("params.credentials").Exists() {
		t.Error("sub-calls must not carry their own credentials")
	}
	if !sent.params.Get("credentials.sessionId").Exists() {
		t.Error("multicall must carry credentials")
	}
}

// TestMultiCallEmptyMethod verifies validation of sub-calls
func TestMultiCallEmptyMethod(t *testing.T) {
	ft := &fakeTransport{}
	client := newTestClient(t, ft, SessionID("s0"))

	_, err := client.MultiCall(context.Background(), []MethodCall{NewMethodCall("", nil)})
	if !errors.Is(err, ErrMethodNameRequired) {
		t.Errorf("error = %v, want ErrMethodNameRequired", err)
	}
	if n := len(ft.sent()); n != 0 {
		t.Errorf("sent %d requests", n)
	}
}

// TestGet verifies search flattening and result conversion
func TestGet(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]any
		mods      []func(*Req)
		wantID    string
		wantLimit int64
	}{
		{
			name:   "flat search",
			params: map[string]any{"id": "b1"},
			wantID: "b1",
		},
		{
			name:   "explicit search",
			params: map[string]any{"search": map[string]any{"id": "b1"}},
			wantID: "b1",
		},
		{
			name:      "results limit parameter",
			params:    map[string]any{"id": "b1", "results_limit": 5},
			wantID:    "b1",
			wantLimit: 5,
		},
		{
			name:      "results limit modifier wins",
			params:    map[string]any{"id": "b1", "resultsLimit": 5},
			mods:      []func(*Req){ResultsLimit(2)},
			wantID:    "b1",
			wantLimit: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
				return resultResponse(`[{"id":"b1","name":"Truck 1"},{"id":"b2","name":"Truck 2"}]`), nil
			}}
			client := newTestClient(t, ft, SessionID("s0"))

			devices, err := client.Get(context.Background(), "Device", tt.params, tt.mods...)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if len(devices) != 2 || devices[1].ID() != "b2" || devices[0].GetValue("name").String() != "Truck 1" {
				t.Errorf("devices = %v", devices)
			}

			params := ft.sent()[0].params
			if params.Get("typeName").String() != "Device" {
				t.Errorf("typeName missing: %s", params.Raw)
			}
			if params.Get("search.id").String() != tt.wantID {
				t.Errorf("search.id missing: %s", params.Raw)
			}
			if params.Get("search.search").Exists() || params.Get("search.resultsLimit").Exists() {
				t.Errorf("search not flattened: %s", params.Raw)
			}
			if got := params.Get("resultsLimit").Int(); got != tt.wantLimit {
				t.Errorf("resultsLimit = %d, want %d", got, tt.wantLimit)
			}
		})
	}
}

// TestGetEmptyResult verifies a null result yields no entities
func TestGetEmptyResult(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`null`), nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	devices, err := client.Get(context.Background(), "Device", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("devices = %#v, want empty slice", devices)
	}
	if ft.sent()[0].params.Get("typeName").String() != "Device" {
		t.Errorf("params = %s", ft.sent()[0].params.Raw)
	}
}

// TestEntityOperations tests Add, Set and Remove
func TestEntityOperations(t *testing.T) {
	ft := &fakeTransport{handler: func(_ context.Context, req sentRequest) (*Response, error) {
		if req.method == MethodAdd {
			return resultResponse(`"b2A"`), nil
		}
		return resultResponse(`null`), nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))
	ctx := context.Background()

	zone := Entity{"name": "Depot", "active_from": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	id, err := client.Add(ctx, "Zone", zone)
	if err != nil || id != "b2A" {
		t.Fatalf("Add() = %q, %v", id, err)
	}
	zone["id"] = id
	if err := client.Set(ctx, "Zone", zone); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := client.Remove(ctx, "Zone", Entity{"id": id}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	want := []string{"Add", "Set", "Remove"}
	if got := ft.methods(); !reflect.DeepEqual(got, want) {
		t.Errorf("methods = %v, want %v", got, want)
	}
	sent := ft.sent()
	if sent[0].params.Get("typeName").String() != "Zone" || sent[0].params.Get("entity.name").String() != "Depot" {
		t.Errorf("Add params = %s", sent[0].params.Raw)
	}
	if got := sent[0].params.Get("entity.activeFrom").String(); got != "2024-01-01T00:00:00.000Z" {
		t.Errorf("entity.activeFrom = %q (%s)", got, sent[0].params.Raw)
	}
	if sent[2].params.Get("entity.id").String() != "b2A" {
		t.Errorf("Remove params = %s", sent[2].params.Raw)
	}

	if _, err := client.Add(ctx, "", zone); err == nil {
		t.Error("Add with empty type name should fail")
	}
}

// TestGetFeed verifies feed parameters and result parsing
func TestGetFeed(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`{"toVersion":"000000000000a1f3","data":[{"id":"e1"},{"id":"e2"}]}`), nil
	}}
	client := newTestClient(t, ft, SessionID("s0"))

	page, err := client.GetFeed(context.Background(), "LogRecord",
		map[string]any{"from_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, "000000000000a1f0", 500)
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}
	if page.ToVersion != "000000000000a1f3" || len(page.Data) != 2 || page.Data[0].ID() != "e1" {
		t.Errorf("page = %+v", page)
	}

	params := ft.sent()[0].params
	if params.Get("typeName").String() != "LogRecord" ||
		params.Get("fromVersion").String() != "000000000000a1f0" ||
		params.Get("resultsLimit").Int() != 500 ||
		params.Get("search.fromDate").String() != "2024-01-01T00:00:00.000Z" {
		t.Errorf("params = %s", params.Raw)
	}
}

// TestGetFeedMalformedResult verifies results without a feed version are errors
func TestGetFeedMalformedResult(t *testing.T) {
	tests := []struct {
		name     string
		response *Response
		wantErr  string
	}{
		{
			name:     "null result",
			response: resultResponse(`null`),
			wantErr:  "unexpected result of type <nil>",
		},
		{
			name:     "non-JSON body",
			response: &Response{Body: []byte("<html>maintenance</html>"), ContentType: "text/html", StatusCode: 200},
			wantErr:  "unexpected result of type string",
		},
		{
			name:     "missing toVersion",
			response: resultResponse(`{"data":[{"id":"e1"}]}`),
			wantErr:  "carries no toVersion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
				return tt.response, nil
			}}
			client := newTestClient(t, ft, SessionID("s0"))

			page, err := client.GetFeed(context.Background(), "LogRecord", nil, "v1", 0)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("GetFeed() error = %v, want %q", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), "LogRecord") {
				t.Errorf("error should name the type: %v", err)
			}
			if page.ToVersion != "" || page.Data != nil {
				t.Errorf("page = %+v, want zero value", page)
			}
		})
	}
}

// TestServerCall verifies unauthenticated calls
func TestServerCall(t *testing.T) {
	ft := &fakeTransport{handler: func(context.Context, sentRequest) (*Response, error) {
		return resultResponse(`"5.7.2404.1"`), nil
	}}
	client := newTestClient(t, ft)

	version, err := client.ServerCall(context.Background(), "my4.geotab.com", "GetVersion", nil)
	if err != nil || version != "5.7.2404.1" {
		t.Fatalf("ServerCall() = %v, %v", version, err)
	}
	sent := ft.sent()
	if len(sent) != 1 || sent[0].server != "my4.geotab.com" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].params.Get("credentials").Exists() {
		t.Error("ServerCall must not send credentials")
	}

	tests := []struct {
		server, method string
		want           error
	}{
		{"", "GetVersion", ErrMissingServer},
		{"my4.geotab.com", "", ErrMethodNameRequired},
	}
	for _, tt := range tests {
		if _, err := client.ServerCall(context.Background(), tt.server, tt.method, nil); !errors.Is(err, tt.want) {
			t.Errorf("ServerCall(%q, %q) error = %v, want %v", tt.server, tt.method, err, tt.want)
		}
	}
	if n := len(ft.sent()); n != 1 {
		t.Errorf("invalid ServerCalls sent requests: %d", n)
	}
}

// TestCheckContextCancellation tests the pre-flight context check
func TestCheckContextCancellation(t *testing.T) {
	if err := checkContextCancellation(context.Background()); err != nil {
		t.Errorf("active context error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := checkContextCancellation(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled context error = %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if err := checkContextCancellation(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expired context error = %v", err)
	}
}

// TestCallLogsCorrelationID verifies every call logs a call_id
func TestCallLogsCorrelationID(t *testing.T) {
	logger := &mockLogger{}
	ft := &fakeTransport{handler: sessionHandler("s1", nil, `"ok"`)}
	client := newTestClient(t, ft, SessionID("s0"), WithLogger(logger))

	if _, err := client.Call(context.Background(), "GetVersion", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(logger.dump(), "call_id") {
		t.Error("expected call_id in logs")
	}
}
