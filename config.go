// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// DefaultEnvPrefix is the environment variable prefix used by LoadEnv
const DefaultEnvPrefix = "MYGEOTAB"

// Config holds client settings loaded from the environment or a TOML file
//
// Environment variables (with the default prefix):
//
//	MYGEOTAB_USERNAME, MYGEOTAB_PASSWORD, MYGEOTAB_DATABASE, MYGEOTAB_SERVER,
//	MYGEOTAB_SESSION_ID, MYGEOTAB_TIMEOUT_SECONDS, MYGEOTAB_CERT_FILE,
//	MYGEOTAB_KEY_FILE, MYGEOTAB_VERIFY_CERTIFICATE, MYGEOTAB_LOG_LEVEL
//
// The TOML keys are the lower-case forms (username, session_id, ...).
// Config is input only; sessions are never written back.
type Config struct {
	Username  string `split_words:"true" toml:"username"`
	Password  string `split_words:"true" toml:"password"`
	Database  string `split_words:"true" toml:"database"`
	Server    string `split_words:"true" toml:"server"`
	SessionID string `split_words:"true" toml:"session_id"`

	// Call timeout
	TimeoutSeconds int `split_words:"true" toml:"timeout_seconds" default:"300"`

	// Client certificate
	CertFile          string `split_words:"true" toml:"cert_file"`
	KeyFile           string `split_words:"true" toml:"key_file"`
	VerifyCertificate bool   `split_words:"true" toml:"verify_certificate" default:"true"`

	// Logging: debug, info, warn, error or none
	LogLevel string `split_words:"true" toml:"log_level" default:"none"`
}

// DefaultConfig returns a Config with the default values applied
func DefaultConfig() Config {
	return Config{
		TimeoutSeconds:    int(DefaultTimeout / time.Second),
		VerifyCertificate: DefaultVerifyCertificate,
		LogLevel:          "none",
	}
}

// LoadEnv loads a Config from environment variables named <prefix>_<FIELD>.
// An empty prefix uses DefaultEnvPrefix.
//
// Example:
//
//	_ = godotenv.Load() // optional .env file
//	cfg, err := mygeotab.LoadEnv("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := cfg.NewClient()
func LoadEnv(prefix string) (*Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s_* environment: %w", prefix, err)
	}
	return &cfg, nil
}

// LoadConfigFile loads a Config from a TOML file. Keys missing from the file
// keep their default values.
//
// Example file:
//
//	username = "user@example.com"
//	password = "secret"
//	database = "my_company"
//	server = "my3.geotab.com"
//	timeout_seconds = 60
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filepath.Base(path), err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the Config can build a client
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return &ConfigurationError{Field: "username", Message: "a username must be specified", Err: ErrMissingIdentity}
	}
	if c.Password == "" && c.SessionID == "" {
		return &ConfigurationError{Field: "password", Message: "a password or a session ID must be specified", Err: ErrMissingSecret}
	}
	if c.TimeoutSeconds <= 0 {
		return &ConfigurationError{Field: "timeout_seconds", Message: fmt.Sprintf("timeout must be positive, got: %d", c.TimeoutSeconds)}
	}
	if c.KeyFile != "" && c.CertFile == "" {
		return &ConfigurationError{Field: "key_file", Message: "a key file requires a certificate file"}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &ConfigurationError{Field: "log_level", Message: err.Error()}
	}
	return nil
}

// Options converts the Config into client options
func (c *Config) Options() []func(*Client) {
	opts := []func(*Client){
		Password(c.Password),
		Database(c.Database),
		SessionID(c.SessionID),
		Server(c.Server),
		Timeout(time.Duration(c.TimeoutSeconds) * time.Second),
		VerifyCertificate(c.VerifyCertificate),
	}

	switch {
	case c.CertFile != "" && c.KeyFile != "":
		opts = append(opts, ClientCertificateKeyPair(c.CertFile, c.KeyFile))
	case c.CertFile != "":
		opts = append(opts, ClientCertificate(c.CertFile))
	}

	if level, err := ParseLogLevel(c.LogLevel); err == nil && level != LogLevelNone {
		opts = append(opts, WithLogger(NewDefaultLogger(level)))
	}

	return opts
}

// NewClient validates the Config and creates a client from it. Additional
// options are applied after the Config's own.
func (c *Config) NewClient(opts ...func(*Client)) (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return NewClient(c.Username, append(c.Options(), opts...)...)
}
