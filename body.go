// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"fmt"
	"time"

	"github.com/tidwall/sjson"
)

// Body builds an entity for Add, Set or Remove using sjson paths.
//
// The builder records the first error so calls can be chained; check it
// through Entity(), String() or Err().
//
// Example:
//
//	zone, err := mygeotab.Body{}.
//	    Set("name", "Depot").
//	    Set("groups.0.id", "GroupCompanyId").
//	    Set("activeFrom", time.Now()).
//	    Entity()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := client.Add(ctx, "Zone", zone)
type Body struct {
	str string
	err error
}

// Set sets value at a dot-separated path and returns the new Body.
// A time.Time value is stored in the wire date format.
func (b Body) Set(path string, value any) Body {
	if b.err != nil {
		return b
	}

	switch v := value.(type) {
	case time.Time:
		value = FormatDate(v)
	case Entity:
		value = encodeValue(v)
	case map[string]any:
		value = encodeValue(v)
	}

	result, err := sjson.Set(b.str, path, value)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Body{str: result}
}

// SetRaw sets a raw JSON fragment at path
func (b Body) SetRaw(path, rawJSON string) Body {
	if b.err != nil {
		return b
	}
	result, err := sjson.SetRaw(b.str, path, rawJSON)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("SetRaw(%q): %w", path, err)}
	}
	return Body{str: result}
}

// Delete removes the value at path and returns the new Body
func (b Body) Delete(path string) Body {
	if b.err != nil {
		return b
	}
	result, err := sjson.Delete(b.str, path)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Body{str: result}
}

// String returns the JSON built so far and the first error, if any
func (b Body) String() (string, error) {
	return b.str, b.err
}

// Err returns the first error encountered while building
func (b Body) Err() error {
	return b.err
}

// Bytes returns the JSON as a byte slice and the first error, if any
func (b Body) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []byte(b.str), nil
}

// Entity decodes the built JSON into an Entity. Date strings become
// time.Time values, as in responses.
func (b Body) Entity() (Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.str == "" {
		return Entity{}, nil
	}
	decoded, err := DecodeResponse([]byte(b.str))
	if err != nil {
		return nil, err
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	return Entity(m), nil
}
