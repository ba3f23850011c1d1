// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client configuration options using the functional options pattern

// Password sets the password used to authenticate
func Password(password string) func(*Client) {
	return func(c *Client) {
		c.credentials.Password = password
	}
}

// Database sets the database (company) name
//
// Optional: the server usually resolves it during authentication.
func Database(database string) func(*Client) {
	return func(c *Client) {
		c.credentials.Database = database
	}
}

// SessionID sets an existing session ID
//
// With a session ID and no password the client extends the session instead
// of logging in, and cannot re-authenticate when the session goes stale.
func SessionID(sessionID string) func(*Client) {
	return func(c *Client) {
		c.credentials.SessionID = sessionID
	}
}

// Server sets the API server, e.g. "my3.geotab.com" (default: my.geotab.com)
//
// Authentication may redirect the client to a different server.
func Server(server string) func(*Client) {
	return func(c *Client) {
		c.credentials.Server = server
	}
}

// Timeout sets the per-call timeout covering connect, send and receive
// (default: 300s)
func Timeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.Timeout = duration
	}
}

// ClientCertificate presents a client certificate for mutual TLS. The file
// must contain both the PEM certificate and its private key.
func ClientCertificate(certPath string) func(*Client) {
	return func(c *Client) {
		c.certFile = certPath
		c.keyFile = ""
	}
}

// ClientCertificateKeyPair presents a client certificate and a separate
// private key file for mutual TLS
func ClientCertificateKeyPair(certPath, keyPath string) func(*Client) {
	return func(c *Client) {
		c.certFile = certPath
		c.keyFile = keyPath
	}
}

// VerifyCertificate enables or disables TLS certificate verification (default: true)
//
// Verification is always skipped for localhost and loopback addresses.
//
// WARNING: Disabling certificate verification makes the connection vulnerable
// to Man-in-the-Middle attacks. Only use this in testing environments.
func VerifyCertificate(verify bool) func(*Client) {
	return func(c *Client) {
		c.VerifyCertificate = verify
	}
}

// ReuseConnections enables or disables HTTP keep-alive (default: true)
//
// When disabled every call opens and closes its own connection.
func ReuseConnections(reuse bool) func(*Client) {
	return func(c *Client) {
		c.ReuseConnections = reuse
	}
}

// WithHTTPClient makes the client send requests through an existing
// *http.Client. The caller keeps ownership: Close does not release it, and
// TLS options of this package are not applied to it.
//
// Example:
//
//	httpClient := &http.Client{}
//	defer httpClient.CloseIdleConnections()
//
//	client, _ := mygeotab.NewClient("user@example.com",
//	    mygeotab.Password("secret"),
//	    mygeotab.WithHTTPClient(httpClient))
func WithHTTPClient(httpClient *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTransport replaces the HTTP transport entirely, e.g. with a test double.
// The caller keeps ownership.
func WithTransport(transport Transport) func(*Client) {
	return func(c *Client) {
		if transport != nil {
			c.transport = transport
		}
	}
}

// RateLimit limits outgoing requests to perSecond with the given burst
// (default: unlimited)
func RateLimit(perSecond float64, burst int) func(*Client) {
	return func(c *Client) {
		c.rateLimit = rate.Limit(perSecond)
		c.rateBurst = burst
	}
}

// UserAgent overrides the User-Agent header
func UserAgent(userAgent string) func(*Client) {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
// Request and response bodies logged at Debug level are redacted
// (password, sessionId).
//
// Example:
//
//	logger := mygeotab.NewDefaultLogger(mygeotab.LogLevelInfo)
//	client, _ := mygeotab.NewClient("user@example.com",
//	    mygeotab.Password("secret"),
//	    mygeotab.WithLogger(logger))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in Debug logs
// (default: false)
func WithPrettyPrintLogs(enabled bool) func(*Client) {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}

// Request modifiers for individual calls

// CallTimeout returns a request modifier that sets the timeout of one call.
//
// The timeout priority model is:
//  1. Request-specific timeout (this modifier) - highest priority
//  2. Context deadline, if it is earlier
//  3. Client.Timeout - fallback default
//
// Example:
//
//	devices, err := client.Get(ctx, "Device", nil,
//	    mygeotab.CallTimeout(30*time.Second))
func CallTimeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// ResultsLimit returns a request modifier that caps the number of entities
// a Get returns. It takes precedence over a resultsLimit parameter.
func ResultsLimit(limit int) func(*Req) {
	return func(req *Req) {
		req.ResultsLimit = limit
	}
}
