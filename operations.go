// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known API method names
const (
	MethodAuthenticate     = "Authenticate"
	MethodExtendSession    = "ExtendSession"
	MethodExecuteMultiCall = "ExecuteMultiCall"
	MethodGet              = "Get"
	MethodAdd              = "Add"
	MethodSet              = "Set"
	MethodRemove           = "Remove"
	MethodGetFeed          = "GetFeed"
)

// Call performs an authenticated API call and returns its result
//
// Parameter names are converted to camel case (results_limit becomes
// resultsLimit) at every nesting level. The session credentials are added
// unless params already contains a "credentials" entry.
//
// The client authenticates first if it holds no session. If the server
// reports a stale session, the client re-authenticates once and repeats the
// call; a second stale-session error is returned as *AuthenticationError.
// Any other *ServerError, a *TimeoutError or a transport error is returned
// as is and never retried.
//
// Example:
//
//	ctx := context.Background()
//	count, err := client.Call(ctx, "GetCountOf", map[string]any{"type_name": "Device"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Devices:", count)
//
// Returns the decoded "result" member: map[string]any, []any, float64,
// string, bool, time.Time or nil.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, mods ...func(*Req)) (any, error) {
	return c.call(ctx, method, CamelCaseParams(params), newReq(mods))
}

// call runs the dispatch loop on already normalized params
func (c *Client) call(ctx context.Context, method string, params map[string]any, req *Req) (any, error) {
	if strings.TrimSpace(method) == "" {
		return nil, &ConfigurationError{Field: "method", Message: "a method name must be specified", Err: ErrMethodNameRequired}
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkContextCancellation(ctx); err != nil {
		return nil, err
	}

	callID := uuid.NewString()

	if !c.Credentials().HasSession() {
		if _, err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	// At most one re-authentication per call
	for attempt := 0; ; attempt++ {
		creds := c.Credentials()

		result, err := c.query(ctx, callID, creds.server(), method, withCredentials(params, creds), req)
		if err == nil {
			return result, nil
		}

		serverErr, stale := isStaleSession(err)
		if !stale {
			return nil, err
		}

		if attempt > 0 || creds.Password == "" {
			c.logger.Error(ctx, "session rejected, giving up",
				"call_id", callID,
				"method", method,
				"user", creds.Username,
				"server", creds.server(),
				"attempt", attempt,
				"error", serverErr.Name)
			return nil, &AuthenticationError{
				Username: creds.Username,
				Database: creds.Database,
				Server:   creds.server(),
				Err:      serverErr,
			}
		}

		c.logger.Warn(ctx, "stale session, re-authenticating",
			"call_id", callID,
			"method", method,
			"server", creds.server(),
			"error", serverErr.Name)

		if err := c.reauthenticate(ctx, creds.SessionID); err != nil {
			return nil, err
		}
	}
}

// withCredentials returns params with the session credentials added,
// unless the caller supplied credentials explicitly
func withCredentials(params map[string]any, creds Credentials) map[string]any {
	if _, ok := params["credentials"]; ok || !creds.HasSession() {
		return params
	}
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["credentials"] = creds.Param()
	return out
}

// reauthenticate refreshes a stale session. If another call already replaced
// the stale session the new one is used without authenticating again.
func (c *Client) reauthenticate(ctx context.Context, staleSessionID string) error {
	if current := c.Credentials(); current.SessionID != staleSessionID && current.HasSession() {
		c.logger.Debug(ctx, "session already refreshed by a concurrent call",
			"server", current.server())
		return nil
	}
	_, err := c.Authenticate(ctx)
	return err
}

// Authenticate logs in and adopts the server-issued credentials
//
// With a password, the Authenticate method is called and the returned
// session, user, database and server (the server may redirect the client;
// "ThisServer" means no redirect) replace the active credentials. With only
// a session ID, ExtendSession is called instead; if its response carries no
// credentials the active ones are kept.
//
// Concurrent calls share a single round trip, which is not aborted when one
// of the callers gives up. A caller whose ctx ends first returns its own
// context error. A rejected login is returned as *AuthenticationError.
//
// Example:
//
//	creds, err := client.Authenticate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Logged in as", creds)
func (c *Client) Authenticate(ctx context.Context) (Credentials, error) {
	if err := c.checkOpen(); err != nil {
		return Credentials{}, err
	}
	if err := checkContextCancellation(ctx); err != nil {
		return Credentials{}, err
	}

	// The shared round trip must outlive any single caller; it stays bounded
	// by the client timeout applied in query.
	authCtx := context.WithoutCancel(ctx)
	ch := c.authGroup.DoChan("authenticate", func() (any, error) {
		return c.authenticate(authCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug(ctx, "authentication shared with a concurrent call")
		}
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Credentials{}, &TimeoutError{Server: c.Credentials().server(), Err: ctx.Err()}
		}
		return Credentials{}, ctx.Err()
	}
}

// authenticate performs one Authenticate or ExtendSession round trip
func (c *Client) authenticate(ctx context.Context) (Credentials, error) {
	creds := c.Credentials()
	callID := uuid.NewString()
	req := &Req{}

	if creds.HasSession() && creds.Password == "" {
		result, err := c.query(ctx, callID, creds.server(), MethodExtendSession,
			map[string]any{"credentials": creds.Param()}, req)
		if err != nil {
			return Credentials{}, c.authFailure(creds, err)
		}
		if extended, ok := credentialsFromResult(result, creds); ok {
			c.setCredentials(extended)
			return extended, nil
		}
		c.logger.Debug(ctx, "session extended",
			"call_id", callID,
			"server", creds.server())
		return creds, nil
	}

	result, err := c.query(ctx, callID, creds.server(), MethodAuthenticate, map[string]any{
		"database": creds.Database,
		"userName": creds.Username,
		"password": creds.Password,
	}, req)
	if err != nil {
		return Credentials{}, c.authFailure(creds, err)
	}

	authenticated, ok := credentialsFromResult(result, creds)
	if !ok {
		if creds.HasSession() {
			return creds, nil
		}
		return Credentials{}, &AuthenticationError{
			Username: creds.Username,
			Database: creds.Database,
			Server:   creds.server(),
			Err:      errors.New("authentication response carried no session"),
		}
	}

	c.setCredentials(authenticated)

	c.logger.Info(ctx, "authenticated",
		"call_id", callID,
		"user", authenticated.Username,
		"database", authenticated.Database,
		"server", authenticated.server(),
		"redirected", authenticated.server() != creds.server())

	return authenticated, nil
}

// authFailure maps session-invalidity errors during login to AuthenticationError
func (c *Client) authFailure(creds Credentials, err error) error {
	if serverErr, stale := isStaleSession(err); stale {
		return &AuthenticationError{
			Username: creds.Username,
			Database: creds.Database,
			Server:   creds.server(),
			Err:      serverErr,
		}
	}
	return err
}

// credentialsFromResult builds new credentials from an authentication
// result of the form {path, credentials: {userName, sessionId, database}}
func credentialsFromResult(result any, current Credentials) (Credentials, bool) {
	data, ok := result.(map[string]any)
	if !ok {
		return Credentials{}, false
	}
	path, hasPath := data["path"]
	serverCreds, hasCreds := data["credentials"].(map[string]any)
	if !hasPath || !hasCreds {
		return Credentials{}, false
	}

	sessionID := stringValue(serverCreds["sessionId"])
	if sessionID == "" {
		return Credentials{}, false
	}

	server := current.server()
	if p := stringValue(path); p != "" && p != thisServer {
		server = p
	}

	username := stringValue(serverCreds["userName"])
	if username == "" {
		username = current.Username
	}

	return Credentials{
		Username:  username,
		Password:  current.Password,
		Database:  stringValue(serverCreds["database"]),
		Server:    server,
		SessionID: sessionID,
	}, true
}

// query encodes, sends and decodes one call
func (c *Client) query(ctx context.Context, callID, server, method string, params map[string]any, req *Req) (any, error) {
	timeout := c.Timeout
	if req != nil && req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := EncodeRequest(method, params)
	if err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "API request",
		"call_id", callID,
		"server", server,
		"method", method,
		"timeout", timeout.String(),
		"body", c.prepareJSONForLogging(string(body)))

	start := time.Now()
	resp, err := c.transport.Send(ctx, server, body)
	if err != nil {
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{Server: server, Err: err}
		}
		c.logger.Error(ctx, "API request failed",
			"call_id", callID,
			"server", server,
			"method", method,
			"error", err.Error())
		return nil, err
	}

	c.logger.Debug(ctx, "API response",
		"call_id", callID,
		"method", method,
		"duration_ms", time.Since(start).Milliseconds(),
		"content_type", resp.ContentType,
		"body", c.prepareJSONForLogging(string(resp.Body)))

	if !resp.IsJSON() {
		return string(resp.Body), nil
	}

	decoded, err := DecodeResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	return ProcessResponse(decoded)
}

// ServerCall performs an unauthenticated call against an explicit server,
// e.g. "GetVersion". No credentials are added.
//
// Example:
//
//	version, err := client.ServerCall(ctx, "my.geotab.com", "GetVersion", nil)
func (c *Client) ServerCall(ctx context.Context, server, method string, params map[string]any, mods ...func(*Req)) (any, error) {
	if strings.TrimSpace(method) == "" {
		return nil, &ConfigurationError{Field: "method", Message: "a method name must be specified", Err: ErrMethodNameRequired}
	}
	if strings.TrimSpace(server) == "" {
		return nil, &ConfigurationError{Field: "server", Message: "a server (e.g. my3.geotab.com) must be specified", Err: ErrMissingServer}
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.query(ctx, uuid.NewString(), server, method, CamelCaseParams(params), newReq(mods))
}

// MultiCall sends several calls in one ExecuteMultiCall request
//
// The results are returned in call order exactly as the server produced
// them; an individual entry may itself describe an error.
//
// Example:
//
//	results, err := client.MultiCall(ctx, []mygeotab.MethodCall{
//	    mygeotab.NewMethodCall("GetCountOf", map[string]any{"typeName": "Device"}),
//	    mygeotab.NewMethodCall("GetCountOf", map[string]any{"typeName": "User"}),
//	})
func (c *Client) MultiCall(ctx context.Context, calls []MethodCall, mods ...func(*Req)) ([]any, error) {
	formatted := make([]any, len(calls))
	for i, mc := range calls {
		if strings.TrimSpace(mc.Method) == "" {
			return nil, &ConfigurationError{
				Field:   fmt.Sprintf("calls[%d].method", i),
				Message: "a method name must be specified",
				Err:     ErrMethodNameRequired,
			}
		}
		formatted[i] = map[string]any{
			"method": mc.Method,
			"params": CamelCaseParams(mc.Params),
		}
	}

	result, err := c.call(ctx, MethodExecuteMultiCall, map[string]any{"calls": formatted}, newReq(mods))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return []any{}, nil
	}
	list, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("multicall: unexpected result type %T", result)
	}
	return list, nil
}

// Get retrieves entities of a type
//
// Parameters other than a results limit, sort and property selector are
// sent as the search; an explicit "search" map is merged into them. These
// calls are equivalent:
//
//	client.Get(ctx, "Device", map[string]any{"search": map[string]any{"id": "b2"}})
//	client.Get(ctx, "Device", map[string]any{"id": "b2"})
//
// Example:
//
//	trips, err := client.Get(ctx, "Trip", map[string]any{
//	    "device_search": map[string]any{"id": "b2"},
//	    "from_date":     time.Now().Add(-24 * time.Hour),
//	}, mygeotab.ResultsLimit(100))
func (c *Client) Get(ctx context.Context, typeName string, params map[string]any, mods ...func(*Req)) ([]Entity, error) {
	if strings.TrimSpace(typeName) == "" {
		return nil, &ConfigurationError{Field: "typeName", Message: "a type name must be specified"}
	}
	req := newReq(mods)

	getParams := ConvertGetParams(params)
	if req.ResultsLimit > 0 {
		getParams["resultsLimit"] = req.ResultsLimit
	}
	getParams["typeName"] = typeName

	result, err := c.call(ctx, MethodGet, CamelCaseParams(getParams), req)
	if err != nil {
		return nil, err
	}
	entities, err := toEntities(result)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", typeName, err)
	}
	return entities, nil
}

// Add creates an entity and returns the ID assigned by the server
//
// Example:
//
//	id, err := client.Add(ctx, "Zone", mygeotab.Entity{"name": "Depot"})
func (c *Client) Add(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) (string, error) {
	result, err := c.entityCall(ctx, MethodAdd, typeName, entity, mods)
	if err != nil {
		return "", err
	}
	switch id := result.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case map[string]any:
		return Entity(id).ID(), nil
	default:
		return fmt.Sprint(id), nil
	}
}

// Set updates an entity
func (c *Client) Set(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) error {
	_, err := c.entityCall(ctx, MethodSet, typeName, entity, mods)
	return err
}

// Remove deletes an entity
func (c *Client) Remove(ctx context.Context, typeName string, entity Entity, mods ...func(*Req)) error {
	_, err := c.entityCall(ctx, MethodRemove, typeName, entity, mods)
	return err
}

// entityCall sends {typeName, entity} to Add, Set or Remove. Entity field
// names are camel-cased like any other parameter.
func (c *Client) entityCall(ctx context.Context, method, typeName string, entity Entity, mods []func(*Req)) (any, error) {
	if strings.TrimSpace(typeName) == "" {
		return nil, &ConfigurationError{Field: "typeName", Message: "a type name must be specified"}
	}
	return c.call(ctx, method, CamelCaseParams(map[string]any{
		"typeName": typeName,
		"entity":   map[string]any(entity),
	}), newReq(mods))
}

// GetFeed retrieves the entities changed since fromVersion
//
// An empty fromVersion starts the feed at the server's default position.
// A resultsLimit of zero uses the server's default page size.
func (c *Client) GetFeed(ctx context.Context, typeName string, search map[string]any, fromVersion string, resultsLimit int, mods ...func(*Req)) (FeedResult, error) {
	if strings.TrimSpace(typeName) == "" {
		return FeedResult{}, &ConfigurationError{Field: "typeName", Message: "a type name must be specified"}
	}
	params := map[string]any{"typeName": typeName}
	if search != nil {
		params["search"] = CamelCaseParams(search)
	}
	if fromVersion != "" {
		params["fromVersion"] = fromVersion
	}
	if resultsLimit > 0 {
		params["resultsLimit"] = resultsLimit
	}

	result, err := c.call(ctx, MethodGetFeed, params, newReq(mods))
	if err != nil {
		return FeedResult{}, err
	}
	data, ok := result.(map[string]any)
	if !ok {
		return FeedResult{}, fmt.Errorf("feed %s: unexpected result of type %T", typeName, result)
	}
	toVersion := stringValue(data["toVersion"])
	if toVersion == "" {
		return FeedResult{}, fmt.Errorf("feed %s: result carries no toVersion", typeName)
	}
	entities, err := toEntities(data["data"])
	if err != nil {
		return FeedResult{}, fmt.Errorf("feed %s: %w", typeName, err)
	}
	return FeedResult{
		ToVersion: toVersion,
		Data:      entities,
	}, nil
}

// newReq applies request modifiers
func newReq(mods []func(*Req)) *Req {
	req := &Req{}
	for _, mod := range mods {
		mod(req)
	}
	return req
}

// checkContextCancellation returns the context error if ctx is already done
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
