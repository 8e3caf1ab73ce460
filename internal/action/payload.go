package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PayloadArg is the single argument that carries the user payload
const PayloadArg = "payload"

var ErrInvalidPayload = errors.New("invalid payload")

// ParsePayload parses raw as a JSON object. Blank input yields an empty
// object; arrays, scalars and null are rejected.
func ParsePayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidPayload)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload must be a JSON object, got %s", ErrInvalidPayload, jsonKind(v))
	}
	return obj, nil
}

// WrapPayload encodes obj as compact JSON text inside the single payload argument
func WrapPayload(obj map[string]any) (map[string]any, error) {
	if obj == nil {
		obj = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return map[string]any{PayloadArg: strings.TrimSuffix(buf.String(), "\n")}, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
