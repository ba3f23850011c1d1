// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Wire constants
const (
	APIPath     = "/apiv1"
	ContentType = "application/json; charset=UTF-8"
)

// DefaultUserAgent is sent with every request unless overridden
var DefaultUserAgent = "go-mygeotab/" + Version

// Response is the raw result of one HTTP exchange
type Response struct {
	// Body is the raw response body
	Body []byte

	// ContentType is the response Content-Type header
	ContentType string

	// StatusCode is the HTTP status code
	StatusCode int
}

// IsJSON reports whether the response declares a JSON body.
// A missing content type is treated as JSON.
func (r *Response) IsJSON() bool {
	return r.ContentType == "" || strings.Contains(strings.ToLower(r.ContentType), "application/json")
}

// Transport performs the network exchange for one encoded call
//
// Implementations know nothing about JSON-RPC: they POST body to the API
// endpoint of server and return the raw response. The context carries the
// call deadline; implementations must return a *TimeoutError when it expires.
type Transport interface {
	Send(ctx context.Context, server string, body []byte) (*Response, error)
}

// HTTPTransportConfig configures an HTTPTransport
type HTTPTransportConfig struct {
	// HTTPClient, when set, is used for every request and is owned by the
	// caller: the transport never closes it and the TLS settings below are
	// not applied to it.
	HTTPClient *http.Client

	// InsecureSkipVerify disables TLS certificate verification for all hosts.
	// Verification is always disabled for loopback hosts.
	InsecureSkipVerify bool

	// CertFile and KeyFile present a client certificate (mutual TLS). When
	// KeyFile is empty, CertFile must contain both certificate and key.
	CertFile string
	KeyFile  string

	// DisableKeepAlives opens a fresh connection for every call
	DisableKeepAlives bool

	// RateLimit caps requests per second (0 disables limiting)
	RateLimit rate.Limit
	RateBurst int

	// UserAgent overrides DefaultUserAgent
	UserAgent string

	Logger Logger
}

// HTTPTransport sends calls as HTTPS POST requests to https://<server>/apiv1
type HTTPTransport struct {
	client   *http.Client
	insecure *http.Client // used for loopback hosts
	owned    bool

	limiter   *rate.Limiter
	userAgent string
	logger    Logger

	mu sync.Mutex
}

// NewHTTPTransport creates an HTTPTransport
//
// Returns an error if the client certificate cannot be loaded.
//
// Example:
//
//	transport, err := mygeotab.NewHTTPTransport(mygeotab.HTTPTransportConfig{
//	    CertFile: "client.pem",
//	})
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	t := &HTTPTransport{
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
	if t.userAgent == "" {
		t.userAgent = DefaultUserAgent
	}
	if t.logger == nil {
		t.logger = &NoOpLogger{}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	if cfg.HTTPClient != nil {
		t.client = cfg.HTTPClient
		t.insecure = cfg.HTTPClient
		return t, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CertFile != "" {
		keyFile := cfg.KeyFile
		if keyFile == "" {
			keyFile = cfg.CertFile
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, keyFile)
		if err != nil {
			t.logger.Debug(context.Background(), "client certificate load failed",
				"cert", cfg.CertFile,
				"key", keyFile,
				"error", err.Error())
			// Only the file name is returned to avoid disclosing paths
			return nil, fmt.Errorf("failed to load client certificate %s: %w", filepath.Base(cfg.CertFile), err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	insecureConfig := tlsConfig.Clone()
	insecureConfig.InsecureSkipVerify = true //nolint:gosec // loopback hosts or explicit opt-out
	if cfg.InsecureSkipVerify {
		tlsConfig = insecureConfig
	}

	t.client = newHTTPClient(tlsConfig, cfg.DisableKeepAlives)
	t.insecure = newHTTPClient(insecureConfig, cfg.DisableKeepAlives)
	t.owned = true
	return t, nil
}

// newHTTPClient creates an HTTP client; redirects are followed
func newHTTPClient(tlsConfig *tls.Config, disableKeepAlives bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	base.DisableKeepAlives = disableKeepAlives
	return &http.Client{Transport: base}
}

// Send posts body to the API endpoint of server
func (t *HTTPTransport) Send(ctx context.Context, server string, body []byte) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			// Wait fails early, with ctx still live, when the next token
			// would arrive after the deadline
			if _, hasDeadline := ctx.Deadline(); hasDeadline && ctx.Err() == nil {
				return nil, &TimeoutError{Server: server, Err: err}
			}
			return nil, classifyTransportError(ctx, server, err)
		}
	}

	endpoint := APIURL(server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", t.userAgent)

	client := t.client
	if IsLoopback(server) {
		client = t.insecure
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, server, err)
	}
	defer CleanlyCloseBody(resp.Body) //nolint:errcheck // body already consumed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Debug(ctx, "unexpected HTTP status",
			"server", server,
			"status", resp.Status)
		return nil, &StatusError{Server: server, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, server, err)
	}

	return &Response{
		Body:        data,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// CloseIdleConnections releases idle connections of clients the transport
// created itself. A caller-supplied *http.Client is left alone.
func (t *HTTPTransport) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.owned {
		return
	}
	t.client.CloseIdleConnections()
	t.insecure.CloseIdleConnections()
}

// Owned reports whether the transport created (and may close) its HTTP clients
func (t *HTTPTransport) Owned() bool {
	return t.owned
}

// classifyTransportError turns deadline expiry into a *TimeoutError
func classifyTransportError(ctx context.Context, server string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Server: server, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Server: server, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("request to %s canceled: %w", server, ctxErr)
	}
	return fmt.Errorf("request to %s failed: %w", server, err)
}

// CleanlyCloseBody drains and closes an HTTP response body so the
// connection can be reused.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// APIURL returns the API endpoint for a server given as a host name,
// host:port or URL.
//
// Example:
//
//	mygeotab.APIURL("my3.geotab.com")          // "https://my3.geotab.com/apiv1"
//	mygeotab.APIURL("https://my3.geotab.com/") // "https://my3.geotab.com/apiv1"
func APIURL(server string) string {
	return "https://" + hostOf(server) + APIPath
}

// hostOf extracts host[:port] from a server string
func hostOf(server string) string {
	server = strings.TrimSpace(server)
	if strings.Contains(server, "://") {
		if u, err := url.Parse(server); err == nil && u.Host != "" {
			return u.Host
		}
	}
	if i := strings.Index(server, "/"); i >= 0 {
		server = server[:i]
	}
	return server
}

// IsLoopback reports whether server points at the local machine, in which
// case certificate verification is skipped.
func IsLoopback(server string) bool {
	host := hostOf(server)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
