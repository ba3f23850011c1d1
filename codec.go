// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RequestID is the fixed JSON-RPC id sent with every call
const RequestID = -1

// DateFormat is the wire format for dates: UTC, millisecond precision
const DateFormat = "2006-01-02T15:04:05.000Z"

// Representable date range of the server
var (
	MinDate = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxDate = time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)
)

// datePrefix matches strings that look like dates and are parsed on decode.
//
// This is a heuristic: any string starting with YYYY-MM-DD that also parses
// as a date is converted, even if the field is not semantically a date.
// Narrowing it changes decoded values and needs a review of the fields the
// server actually returns.
var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Layouts tried, in order, when a date-like string is decoded
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// envelope is the JSON-RPC request body
type envelope struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// FormatDate renders t as a UTC ISO 8601 string with millisecond precision,
// clamped to [MinDate, MaxDate].
//
// Example:
//
//	mygeotab.FormatDate(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
//	// "2024-05-01T10:00:00.000Z"
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Before(MinDate) {
		t = MinDate
	} else if t.After(MaxDate) {
		t = MaxDate
	}
	return t.Format(DateFormat)
}

// ParseDate parses a date string the way response decoding does and returns
// the instant in UTC. The boolean is false if s is not a recognised date.
func ParseDate(s string) (time.Time, bool) {
	if !datePrefix.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// EncodeRequest serializes a call into the JSON-RPC request envelope
//
// Dates (time.Time or *time.Time) anywhere in params are rendered with
// FormatDate, including inside typed slices, arrays, maps and struct fields.
// Everything else uses standard JSON encoding.
//
// Example:
//
//	body, err := mygeotab.EncodeRequest("Get", map[string]any{"typeName": "Device"})
//	// {"id":-1,"method":"Get","params":{"typeName":"Device"}}
func EncodeRequest(method string, params map[string]any) ([]byte, error) {
	prepared := make(map[string]any, len(params))
	for k, v := range params {
		prepared[k] = encodeValue(v)
	}

	body, err := json.Marshal(envelope{
		ID:     RequestID,
		Method: method,
		Params: prepared,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return body, nil
}

// encodeValue replaces dates in a parameter tree with their wire strings
func encodeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return FormatDate(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return FormatDate(*val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	case Entity:
		return encodeValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	case []Entity:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	case nil, string, bool, float64, int, int64:
		return v
	default:
		return encodeReflected(reflect.ValueOf(v))
	}
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// encodeReflected walks containers encodeValue has no case for so that
// dates nested in them are still rendered in wire format. Types with their
// own JSON or text encoding are left to encoding/json.
func encodeReflected(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	t := rv.Type()
	if t == timeType {
		return FormatDate(rv.Interface().(time.Time))
	}
	if t.Kind() == reflect.Pointer && t.Elem() == timeType {
		if rv.IsNil() {
			return nil
		}
		return FormatDate(rv.Elem().Interface().(time.Time))
	}
	if t.Implements(marshalerType) || t.Implements(textMarshalerType) {
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && rv.IsNil() {
			return nil
		}
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return encodeReflected(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = encodeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return rv.Interface()
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = encodeValue(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		out := map[string]any{}
		encodeStructFields(rv, out, false)
		return out
	default:
		return rv.Interface()
	}
}

// encodeStructFields copies exported fields into out under their JSON names.
// Fields promoted from embedded structs never replace an outer field.
func encodeStructFields(rv reflect.Value, out map[string]any, promoted bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				if !field.IsExported() || fv.IsNil() {
					continue
				}
				fv, ft = fv.Elem(), ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType &&
				!reflect.PointerTo(ft).Implements(marshalerType) && !ft.Implements(marshalerType) {
				encodeStructFields(fv, out, true)
				continue
			}
			fv = rv.Field(i)
		}
		if !field.IsExported() {
			continue
		}

		if name == "" {
			name = field.Name
		}
		if hasTagOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		if hasTagOption(opts, "omitzero") && fv.IsZero() {
			continue
		}
		if _, exists := out[name]; exists && promoted {
			continue
		}
		out[name] = encodeValue(fv.Interface())
	}
}

func hasTagOption(opts, option string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == option {
			return true
		}
	}
	return false
}

// isEmptyValue follows the omitempty rules of encoding/json
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

// DecodeResponse parses a JSON response body into a value tree of
// map[string]any, []any, float64, bool, string, time.Time and nil.
//
// Strings that look like dates (see ParseDate) are returned as time.Time in
// UTC; strings that fail to parse are left as they are. An empty body
// decodes to nil.
func DecodeResponse(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response (%d bytes)", len(body))
	}
	return decodeValue(gjson.ParseBytes(body)), nil
}

// decodeValue converts a gjson result into a plain Go value
func decodeValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num
	case gjson.String:
		if t, ok := ParseDate(r.Str); ok {
			return t
		}
		return r.Str
	case gjson.JSON:
		if r.IsArray() {
			items := r.Array()
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = decodeValue(item)
			}
			return out
		}
		out := map[string]any{}
		r.ForEach(func(key, value gjson.Result) bool {
			out[key.Str] = decodeValue(value)
			return true
		})
		return out
	default:
		return nil
	}
}

// ProcessResponse classifies a decoded response envelope
//
// An "error" member yields a *ServerError, a "result" member yields its
// value, and anything else (including nil) is returned unchanged.
func ProcessResponse(decoded any) (any, error) {
	data, ok := decoded.(map[string]any)
	if !ok || len(data) == 0 {
		return decoded, nil
	}
	if errVal, ok := data["error"]; ok {
		return nil, newServerError(errVal)
	}
	if result, ok := data["result"]; ok {
		return result, nil
	}
	return decoded, nil
}

// newServerError builds a ServerError from the decoded "error" member
func newServerError(v any) *ServerError {
	serverErr := &ServerError{}
	errMap, _ := v.(map[string]any)
	serverErr.JSONRPCName = stringValue(errMap["name"])
	serverErr.JSONRPCMessage = stringValue(errMap["message"])

	if list, ok := errMap["errors"].([]any); ok {
		for _, item := range list {
			m, _ := item.(map[string]any)
			serverErr.Errors = append(serverErr.Errors, ErrorModel{
				Name:       stringValue(m["name"]),
				Message:    stringValue(m["message"]),
				StackTrace: stringValue(m["stackTrace"]),
				Data:       m["data"],
			})
		}
	}

	if len(serverErr.Errors) > 0 {
		primary := serverErr.Errors[0]
		serverErr.Name = primary.Name
		serverErr.Message = primary.Message
		serverErr.StackTrace = primary.StackTrace
		serverErr.Data = primary.Data
	} else {
		serverErr.Name = serverErr.JSONRPCName
		serverErr.Message = serverErr.JSONRPCMessage
	}
	return serverErr
}

// stringValue returns v as a string; decoded dates are formatted back
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return FormatDate(s)
	default:
		return fmt.Sprint(s)
	}
}
