package document

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Origin uint8

const (
	// OriginRow values come from the relational projection, including
	// document paths extracted into it.
	OriginRow Origin = iota + 1
	// OriginDocument values come from the decoded document.
	OriginDocument
)

func (o Origin) String() string {
	switch o {
	case OriginRow:
		return "row"
	case OriginDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Value is a field of the unified record view.
type Value struct {
	origin Origin
	raw    any
}

// Column wraps a scanned column value. Byte slices become strings.
func Column(raw any) Value {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	return Value{origin: OriginRow, raw: raw}
}

// Dynamic wraps a value taken from a decoded document.
func Dynamic(raw any) Value {
	return Value{origin: OriginDocument, raw: raw}
}

func (v Value) Origin() Origin { return v.origin }

func (v Value) IsRow() bool { return v.origin == OriginRow }

func (v Value) Raw() any { return v.raw }

func (v Value) IsNull() bool { return v.raw == nil }

// String renders scalars as text; objects and arrays render as JSON.
func (v Value) String() string {
	switch t := v.raw.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Int converts integral values, including numeric strings.
func (v Value) Int() (int64, bool) {
	switch t := v.raw.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t == math.Trunc(t) {
			return int64(t), true
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (v Value) Time() (time.Time, bool) {
	switch t := v.raw.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Map returns the value as an object when it is one.
func (v Value) Map() (map[string]any, bool) {
	m, ok := v.raw.(map[string]any)
	return m, ok
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}
