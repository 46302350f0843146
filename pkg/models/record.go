package models

import (
	"encoding/json"
	"sort"

	"github.com/Ramsey-B/argus/pkg/document"
)

// Record is the unified view of a stored row: relational columns, aliased
// document paths and the decoded document merged into one map.
type Record struct {
	ID       int64
	Fields   map[string]document.Value
	Document map[string]any
}

func NewRecord(id int64, fields map[string]document.Value, doc map[string]any) *Record {
	if fields == nil {
		fields = map[string]document.Value{}
	}
	return &Record{ID: id, Fields: fields, Document: doc}
}

func (r *Record) Value(key string) (document.Value, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

func (r *Record) String(key string) string {
	return r.Fields[key].String()
}

func (r *Record) Int(key string) (int64, bool) {
	v, ok := r.Fields[key]
	if !ok {
		return 0, false
	}
	return v.Int()
}

func (r *Record) Set(key string, v document.Value) {
	r.Fields[key] = v
}

// Keys returns the field names in sorted order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map flattens the view to raw values, e.g. for template filling.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v.Raw()
	}
	out["id"] = r.ID
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
