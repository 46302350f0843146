package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFolio(t *testing.T) {
	tests := []struct {
		input string
		want  string
		key   string
	}{
		{input: "ab-12", want: "AB-12", key: "AB12"},
		{input: "  F_100 ", want: "F_100", key: "F100"},
		{input: "f/100#", want: "F100", key: "F100"},
		{input: "méx-1", want: "MX-1", key: "MX1"},
		{input: "", want: "", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Folio(tt.input))
			assert.Equal(t, tt.key, FolioKey(tt.input))
		})
	}
}

func TestTaxID(t *testing.T) {
	assert.Equal(t, "XAXX010101000", TaxID(" xaxx 010101000 "))
	assert.Equal(t, "GODE561231HDFRRN09", NationalID("gode561231hdfrrn09"))
}

func TestApply(t *testing.T) {
	assert.Equal(t, "AB12", Apply("ab-12", "folio_key"))
	assert.Equal(t, "ab-12", Apply("ab-12", "unknown"))

	_, ok := Get("folio")
	assert.True(t, ok)
}
