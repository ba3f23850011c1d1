// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import "fmt"

// DefaultServer is used when no server is configured
const DefaultServer = "my.geotab.com"

// thisServer is the authentication path meaning "stay on the current host"
const thisServer = "ThisServer"

// Credentials identifies a user on a database and server
//
// Credentials is a value type. The client never edits a Credentials value in
// place: a successful authentication produces a new value that replaces the
// active one.
type Credentials struct {
	Username  string
	Password  string
	Database  string
	Server    string
	SessionID string
}

// NewCredentials validates and returns a Credentials value
//
// A username is required, as is at least one of password and session ID. An
// empty server is replaced by DefaultServer.
func NewCredentials(username, password, database, server, sessionID string) (Credentials, error) {
	creds := Credentials{
		Username:  username,
		Password:  password,
		Database:  database,
		Server:    server,
		SessionID: sessionID,
	}
	if err := creds.validate(); err != nil {
		return Credentials{}, err
	}
	if creds.Server == "" {
		creds.Server = DefaultServer
	}
	return creds, nil
}

func (c Credentials) validate() error {
	if c.Username == "" {
		return &ConfigurationError{Field: "username", Message: "a username must be specified", Err: ErrMissingIdentity}
	}
	if c.Password == "" && c.SessionID == "" {
		return &ConfigurationError{Field: "password", Message: "a password or a session ID must be specified", Err: ErrMissingSecret}
	}
	return nil
}

// server returns the configured server or DefaultServer
func (c Credentials) server() string {
	if c.Server == "" {
		return DefaultServer
	}
	return c.Server
}

// Param returns the credentials object stamped into authenticated calls
func (c Credentials) Param() map[string]any {
	return map[string]any{
		"userName":  c.Username,
		"sessionId": c.SessionID,
		"database":  c.Database,
	}
}

// HasSession reports whether a session ID is present
func (c Credentials) HasSession() bool {
	return c.SessionID != ""
}

// String renders "user @ server/database" without any secret
func (c Credentials) String() string {
	return fmt.Sprintf("%s @ %s/%s", c.Username, c.server(), c.Database)
}
