// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Entity is a single object returned by or sent to the API, such as a
// Device or a Trip. Dates are time.Time values in UTC.
type Entity map[string]any

// ID returns the entity's "id" field, or an empty string
func (e Entity) ID() string {
	switch id := e["id"].(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// GetValue retrieves a value from the entity using a gjson path.
//
// Dates are rendered in the wire format before querying, so
// GetValue("activeFrom").Time() works as expected.
//
// Example:
//
//	devices, err := client.Get(ctx, "Device", map[string]any{"id": "b123"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	name := devices[0].GetValue("name").String()
//	groupID := devices[0].GetValue("groups.0.id").String()
func (e Entity) GetValue(path string) gjson.Result {
	jsonStr := e.JSON()
	if jsonStr == "" {
		return gjson.Result{}
	}
	return gjson.Get(jsonStr, path)
}

// JSON returns the entity as a JSON string, or an empty string if it cannot
// be marshaled.
func (e Entity) JSON() string {
	if e == nil {
		return ""
	}
	data, err := json.Marshal(encodeValue(map[string]any(e)))
	if err != nil {
		return ""
	}
	return string(data)
}

// toEntities converts a decoded Get/GetFeed result list into entities
func toEntities(v any) ([]Entity, error) {
	if v == nil {
		return []Entity{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T, expected a list", v)
	}
	entities := make([]Entity, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected result item type %T at index %d", item, i)
		}
		entities = append(entities, Entity(m))
	}
	return entities, nil
}

// FeedResult is a single page returned by GetFeed
type FeedResult struct {
	// ToVersion is the version to pass as fromVersion on the next poll
	ToVersion string

	// Data holds the entities changed since the previous version
	Data []Entity
}
