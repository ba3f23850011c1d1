// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Version of this library, sent in the User-Agent header
const Version = "0.1.0"

// Default client configuration values
const (
	DefaultTimeout           = 300 * time.Second
	DefaultVerifyCertificate = true
	DefaultReuseConnections  = true
	DefaultPrettyPrintLogs   = false
)

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024 // 1MB
	MaxSensitiveFields    = 1000
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

// ErrClientClosed is returned by calls made after Close
var ErrClientClosed = errors.New("mygeotab: client is closed")

// sensitiveFields are redacted from logged request and response bodies
var sensitiveFields = []string{"password", "sessionId"}

// defaultRedactionPatterns matches the sensitiveFields in JSON
var defaultRedactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"password"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"sessionId"\s*:\s*"[^"]*"`),
}

// Client dispatches calls to the API on behalf of one user
//
// The client authenticates lazily on the first call, stamps the session into
// every call, and re-authenticates once when the server reports a stale
// session. It is safe for concurrent use.
type Client struct {
	// RWMutex guarding credentials and the closed flag
	mu sync.RWMutex

	// Active identity; replaced wholesale on authentication
	credentials Credentials

	closed bool

	// Concurrent (re-)authentications share one round trip
	authGroup singleflight.Group

	// Transport used for every call
	transport Transport

	// ownedTransport is set when the client built its transport and must
	// release it on Close
	ownedTransport *HTTPTransport

	// Caller-supplied HTTP client (never closed by the client)
	httpClient *http.Client

	// Timeout configuration
	Timeout time.Duration

	// TLS and connection options
	VerifyCertificate bool
	ReuseConnections  bool
	certFile          string // unexported for security
	keyFile           string // unexported for security

	// Rate limiting (0 = unlimited)
	rateLimit rate.Limit
	rateBurst int

	userAgent string

	// Logging configuration
	logger            Logger
	prettyPrintLogs   bool
	redactionPatterns []*regexp.Regexp
}

// NewClient creates a new API client for the given username
//
// A password or a session ID must be supplied through options. No network
// activity happens here: the client authenticates on its first call, or
// explicitly through Authenticate.
//
// Example:
//
//	client, err := mygeotab.NewClient(
//	    "user@example.com",
//	    mygeotab.Password("secret"),
//	    mygeotab.Database("my_company"),
//	)
//	if err != nil {
//	    log.Fatal(err) // Configuration error
//	}
//	defer client.Close()
//
//	devices, err := client.Get(ctx, "Device", nil)
//
// Returns a configured Client or a *ConfigurationError if validation fails.
func NewClient(username string, opts ...func(*Client)) (*Client, error) {
	client := &Client{
		credentials:       Credentials{Username: username},
		Timeout:           DefaultTimeout,
		VerifyCertificate: DefaultVerifyCertificate,
		ReuseConnections:  DefaultReuseConnections,
		logger:            &NoOpLogger{},
		prettyPrintLogs:   DefaultPrettyPrintLogs,
		redactionPatterns: defaultRedactionPatterns,
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.validateConfig(); err != nil {
		return nil, err
	}

	if client.credentials.Server == "" {
		client.credentials.Server = DefaultServer
	}

	if client.transport == nil {
		if err := client.createTransport(); err != nil {
			return nil, err
		}
	}

	client.logger.Info(context.Background(), "API client created",
		"user", client.credentials.Username,
		"server", client.credentials.Server,
		"database", client.credentials.Database,
		"session", client.credentials.HasSession())

	return client, nil
}

// NewClientFromCredentials creates a client from a saved Credentials value.
// Additional options are applied after the credentials.
func NewClientFromCredentials(creds Credentials, opts ...func(*Client)) (*Client, error) {
	base := []func(*Client){
		Password(creds.Password),
		Database(creds.Database),
		SessionID(creds.SessionID),
		Server(creds.Server),
	}
	return NewClient(creds.Username, append(base, opts...)...)
}

// Credentials returns a copy of the active credentials
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials
}

// Server returns the server calls are currently sent to
func (c *Client) Server() string {
	return c.Credentials().server()
}

// setCredentials adopts creds as the active identity
func (c *Client) setCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = creds
}

// Disconnect releases idle connections but keeps the client usable.
//
// Connections of a caller-supplied HTTP client or transport are not touched.
func (c *Client) Disconnect() error {
	if c.ownedTransport != nil {
		c.ownedTransport.CloseIdleConnections()
		c.logger.Debug(context.Background(), "idle connections released",
			"server", c.Server(),
			"reusable", true)
	}
	return nil
}

// Close releases the connections the client opened itself (terminal operation).
//
// Calls made after Close fail with ErrClientClosed. A caller-supplied HTTP
// client or transport is left open; its owner closes it.
//
// Example:
//
//	client, err := mygeotab.NewClient("user@example.com", mygeotab.Password("secret"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// Thread-safe: safe to call multiple times (subsequent calls are no-ops).
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	server := c.credentials.server()
	c.mu.Unlock()

	if c.ownedTransport != nil {
		c.ownedTransport.CloseIdleConnections()
	}

	c.logger.Info(context.Background(), "API client closed",
		"server", server,
		"reusable", false)

	return nil
}

// checkOpen returns ErrClientClosed after Close
func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// validateConfig validates client configuration before any call
//
// Validates:
//   - Username present, and a password or session ID
//   - Positive timeout
//   - Client certificate files exist (if provided)
//
// Returns a *ConfigurationError if validation fails.
func (c *Client) validateConfig() error {
	if strings.TrimSpace(c.credentials.Username) == "" {
		return &ConfigurationError{Field: "username", Message: "a username must be specified", Err: ErrMissingIdentity}
	}
	if err := c.credentials.validate(); err != nil {
		return err
	}

	if c.Timeout <= 0 {
		return &ConfigurationError{Field: "timeout", Message: fmt.Sprintf("timeout must be positive, got: %v", c.Timeout)}
	}

	for field, path := range map[string]string{"certificate": c.certFile, "key": c.keyFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			c.logger.Debug(context.Background(), "client certificate validation failed",
				"path", path,
				"error", err.Error())
			// Return only the file name to prevent path disclosure
			return &ConfigurationError{Field: field, Message: "file not found: " + filepath.Base(path)}
		}
	}

	if !c.VerifyCertificate {
		c.logger.Warn(context.Background(), "TLS certificate verification disabled",
			"server", c.credentials.server(),
			"security_risk", "Man-in-the-Middle attacks possible",
			"recommendation", "Use only in testing environments")
	}

	return nil
}

// createTransport builds the HTTPTransport owned by the client
func (c *Client) createTransport() error {
	t, err := NewHTTPTransport(HTTPTransportConfig{
		HTTPClient:         c.httpClient,
		InsecureSkipVerify: !c.VerifyCertificate,
		CertFile:           c.certFile,
		KeyFile:            c.keyFile,
		DisableKeepAlives:  !c.ReuseConnections,
		RateLimit:          c.rateLimit,
		RateBurst:          c.rateBurst,
		UserAgent:          c.userAgent,
		Logger:             c.logger,
	})
	if err != nil {
		return &ConfigurationError{Field: "certificate", Message: err.Error()}
	}
	c.transport = t
	if t.Owned() {
		c.ownedTransport = t
	}
	return nil
}

// prepareJSONForLogging redacts sensitive data and formats JSON for logging
//
// Oversized bodies and bodies with an excessive number of sensitive fields
// are replaced by a marker instead of being scanned.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := 0
	for _, field := range sensitiveFields {
		sensitiveCount += strings.Count(jsonStr, `"`+field+`"`)
	}
	if sensitiveCount > MaxSensitiveFields {
		c.logger.Warn(context.Background(), "Too many sensitive fields detected",
			"count", sensitiveCount,
			"max", MaxSensitiveFields)
		return JSONTooManySensitiveMsg
	}

	redacted := c.redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}

	return redacted
}

// redactSensitiveData replaces sensitive values in JSON with [REDACTED]
func (c *Client) redactSensitiveData(json string) string {
	result := json
	for i, pattern := range c.redactionPatterns {
		result = pattern.ReplaceAllString(result, `"`+sensitiveFields[i]+`":"[REDACTED]"`)
	}
	return result
}
