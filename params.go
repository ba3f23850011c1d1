// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"regexp"
	"strings"
)

// underscorePattern matches an underscore and the character that follows it
var underscorePattern = regexp.MustCompile(`_(\w)`)

// Keys of a Get call that live at the envelope top level instead of inside search
var getTopLevelKeys = map[string][]string{
	"resultsLimit":     {"resultsLimit", "results_limit"},
	"sort":             {"sort"},
	"propertySelector": {"propertySelector", "property_selector"},
}

// camelCase converts "results_limit" into "resultsLimit"
func camelCase(name string) string {
	if !strings.Contains(name, "_") {
		return name
	}
	return underscorePattern.ReplaceAllStringFunc(name, func(m string) string {
		return strings.ToUpper(m[1:])
	})
}

// CamelCaseParams rewrites underscore-separated parameter names into the
// camel-case names the server expects, at every nesting level of map values.
//
// Slices and scalar values pass through unchanged. When both spellings of a
// name are present ("from_date" and "fromDate") the converted one wins. The
// input is not modified; nil or empty input yields an empty map.
//
// Example:
//
//	params := mygeotab.CamelCaseParams(map[string]any{
//	    "search":                   map[string]any{"device_search": map[string]any{"id": "b123"}},
//	    "include_overlapped_trips": true,
//	})
//	// {"search": {"deviceSearch": {"id": "b123"}}, "includeOverlappedTrips": true}
func CamelCaseParams(params map[string]any) map[string]any {
	result := make(map[string]any, len(params))
	var converted map[string]bool
	for name, value := range params {
		if nested, ok := asMap(value); ok {
			value = CamelCaseParams(nested)
		}
		key := camelCase(name)
		if key != name {
			if converted == nil {
				converted = map[string]bool{}
			}
			converted[key] = true
		} else if converted[key] {
			continue
		}
		result[key] = value
	}
	return result
}

// ConvertGetParams shapes the parameters of a Get call.
//
// A results limit (resultsLimit or results_limit), a sort and a property
// selector are lifted to the top level. If a "search" map is present its
// entries are merged into the remaining parameters (search entries win on
// conflicts) and everything left is wrapped back into a single "search"
// object, so these calls are equivalent:
//
//	client.Get(ctx, "Device", map[string]any{"search": map[string]any{"id": "b2"}})
//	client.Get(ctx, "Device", map[string]any{"id": "b2"})
//
// The input is not modified; nil or empty input yields an empty map.
func ConvertGetParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}

	search := make(map[string]any, len(params))
	for k, v := range params {
		search[k] = v
	}

	result := map[string]any{}
	for target, spellings := range getTopLevelKeys {
		for _, key := range spellings {
			value, ok := search[key]
			if !ok {
				continue
			}
			delete(search, key)
			if value != nil {
				if _, set := result[target]; !set {
					result[target] = value
				}
			}
		}
	}

	if inner, ok := search["search"]; ok {
		delete(search, "search")
		if nested, ok := asMap(inner); ok {
			for k, v := range nested {
				search[k] = v
			}
		}
	}

	result["search"] = search
	return result
}

// asMap returns v as a map when it is a map-shaped parameter value
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Entity:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
