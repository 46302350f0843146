// Package document encodes and decodes the JSON documents stored next to
// relational columns.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnserializable is returned when a field map cannot be encoded.
var ErrUnserializable = errors.New("document is not serializable")

// Encode serializes fields to compact JSON text. Non-ASCII text is kept
// verbatim and json.Number values keep their literal form.
func Encode(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Decode parses text into a field map. Empty, malformed and non-object
// input all yield nil; callers treat nil as "no dynamic fields".
func Decode(text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	if dec.More() {
		return nil
	}
	if out == nil {
		return nil
	}
	return out
}

// DecodeRaw accepts the shapes drivers hand back for a text column.
func DecodeRaw(raw any) map[string]any {
	switch v := raw.(type) {
	case string:
		return Decode(v)
	case []byte:
		return Decode(string(v))
	case map[string]any:
		return v
	default:
		return nil
	}
}

// AliasPrefix is prepended to document keys that collide with row columns.
const AliasPrefix = "document_"

// Merge builds the unified view of a record. Row values win on collision and
// the colliding document value is kept under AliasPrefix+key.
func Merge(row map[string]Value, doc map[string]any) map[string]Value {
	out := make(map[string]Value, len(row)+len(doc))
	for k, v := range row {
		out[k] = v
	}
	for k, v := range doc {
		if _, taken := row[k]; !taken {
			out[k] = Dynamic(v)
			continue
		}
		alias := AliasPrefix + k
		if _, taken := row[alias]; taken {
			continue
		}
		out[alias] = Dynamic(v)
	}
	return out
}

// Clone deep copies a decoded document.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
