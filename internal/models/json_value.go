package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSONKind tags which arm of JSONValue is populated.
type JSONKind int

const (
	JSONNull JSONKind = iota
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// JSONValue is the sum type webhook payloads are decoded into: a value is
// parsed once into this shape and never re-parsed downstream (per the
// re-architecture guidance against "dynamic typed payloads").
type JSONValue struct {
	Kind   JSONKind
	Bool   bool
	Number float64
	Str    string
	Array  []JSONValue
	Object map[string]JSONValue
}

// ParseJSONValue decodes raw JSON bytes into a JSONValue tree.
func ParseJSONValue(raw []byte) (JSONValue, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return JSONValue{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return JSONValue{}, fmt.Errorf("trailing data after JSON value")
	}
	return fromAny(v), nil
}

// StringJSONValue wraps a raw string as the String arm, used when a webhook
// body is not JSON-shaped and is stored as-is.
func StringJSONValue(s string) JSONValue {
	return JSONValue{Kind: JSONString, Str: s}
}

func fromAny(v any) JSONValue {
	switch t := v.(type) {
	case nil:
		return JSONValue{Kind: JSONNull}
	case bool:
		return JSONValue{Kind: JSONBool, Bool: t}
	case json.Number:
		f, _ := t.Float64()
		return JSONValue{Kind: JSONNumber, Number: f}
	case string:
		return JSONValue{Kind: JSONString, Str: t}
	case []any:
		arr := make([]JSONValue, 0, len(t))
		for _, e := range t {
			arr = append(arr, fromAny(e))
		}
		return JSONValue{Kind: JSONArray, Array: arr}
	case map[string]any:
		obj := make(map[string]JSONValue, len(t))
		for k, e := range t {
			obj[k] = fromAny(e)
		}
		return JSONValue{Kind: JSONObject, Object: obj}
	default:
		return JSONValue{Kind: JSONNull}
	}
}

// MarshalJSON renders the JSONValue back to its natural JSON form.
func (v JSONValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case JSONNull:
		return []byte("null"), nil
	case JSONBool:
		return json.Marshal(v.Bool)
	case JSONNumber:
		return json.Marshal(v.Number)
	case JSONString:
		return json.Marshal(v.Str)
	case JSONArray:
		return json.Marshal(v.Array)
	case JSONObject:
		return json.Marshal(v.Object)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler so JSONValue round-trips through
// database TEXT columns and API bodies alike.
func (v *JSONValue) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSONValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// LooksLikeJSON reports whether a raw webhook body appears to encode a JSON
// value, per the ingestion decode rule in the webhook pipeline.
func LooksLikeJSON(body []byte) bool {
	trimmedBody := bytes.TrimSpace(body)
	if len(trimmedBody) == 0 {
		return false
	}
	switch trimmedBody[0] {
	case '{', '[', '"':
		return true
	}
	return bytes.HasPrefix(trimmedBody, []byte("true")) || bytes.HasPrefix(trimmedBody, []byte("false"))
}
