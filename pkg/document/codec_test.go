package document

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("keeps non-ascii text verbatim", func(t *testing.T) {
		text, err := Encode(map[string]any{"nombre": "Peña & Núñez <SA>"})
		require.NoError(t, err)
		assert.Equal(t, `{"nombre":"Peña & Núñez <SA>"}`, text)
	})

	t.Run("nil map encodes as empty object", func(t *testing.T) {
		text, err := Encode(nil)
		require.NoError(t, err)
		assert.Equal(t, "{}", text)
	})

	t.Run("decoded numbers keep their literal form", func(t *testing.T) {
		doc := Decode(`{"monto":10.50,"plazo":12}`)
		require.NotNil(t, doc)
		text, err := Encode(doc)
		require.NoError(t, err)
		assert.Equal(t, `{"monto":10.50,"plazo":12}`, text)
	})

	t.Run("unserializable values fail", func(t *testing.T) {
		_, err := Encode(map[string]any{"ch": make(chan int)})
		assert.ErrorIs(t, err, ErrUnserializable)

		_, err = Encode(map[string]any{"n": math.NaN()})
		assert.ErrorIs(t, err, ErrUnserializable)
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		isNil bool
	}{
		{name: "empty", input: "", isNil: true},
		{name: "whitespace", input: "   \n", isNil: true},
		{name: "malformed", input: `{"a":`, isNil: true},
		{name: "array", input: `[1,2,3]`, isNil: true},
		{name: "scalar", input: `"text"`, isNil: true},
		{name: "null", input: `null`, isNil: true},
		{name: "trailing data", input: `{"a":1}{"b":2}`, isNil: true},
		{name: "object", input: `{"a":{"b":"c"}}`},
		{name: "empty object", input: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Decode(tt.input)
			if tt.isNil {
				assert.Nil(t, doc)
				return
			}
			assert.NotNil(t, doc)
		})
	}
}

func TestDecodeRaw(t *testing.T) {
	assert.Equal(t, json.Number("1"), DecodeRaw([]byte(`{"a":1}`))["a"])
	assert.Equal(t, "x", DecodeRaw(`{"a":"x"}`)["a"])
	assert.Nil(t, DecodeRaw(42))
	assert.Nil(t, DecodeRaw(nil))
}

func TestMerge(t *testing.T) {
	row := map[string]Value{
		"id":    Column(int64(7)),
		"folio": Column("F-100"),
	}
	doc := map[string]any{
		"folio":   "f-100-old",
		"cliente": map[string]any{"rfc": "XAXX010101000"},
	}

	merged := Merge(row, doc)

	assert.Equal(t, "F-100", merged["folio"].String())
	assert.True(t, merged["folio"].IsRow())
	assert.Equal(t, "f-100-old", merged["document_folio"].String())
	assert.Equal(t, OriginDocument, merged["document_folio"].Origin())

	cliente, ok := merged["cliente"].Map()
	require.True(t, ok)
	assert.Equal(t, "XAXX010101000", cliente["rfc"])

	t.Run("nil document yields the row view", func(t *testing.T) {
		merged := Merge(row, nil)
		assert.Len(t, merged, 2)
	})
}

func TestClone(t *testing.T) {
	doc := map[string]any{"contrato": map[string]any{"folio": "A"}, "tags": []any{"x"}}
	clone := Clone(doc)
	Object(clone, "contrato")["folio"] = "B"
	clone["tags"].([]any)[0] = "y"

	assert.Equal(t, "A", doc["contrato"].(map[string]any)["folio"])
	assert.Equal(t, "x", doc["tags"].([]any)[0])
}
