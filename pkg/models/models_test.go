package models

import (
	"testing"

	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from RequestStatus
		to   RequestStatus
		want bool
	}{
		{RequestDraft, RequestSubmitted, true},
		{RequestSubmitted, RequestInReview, true},
		{RequestInReview, RequestApproved, true},
		{RequestSubmitted, RequestCancelled, true},
		{RequestInReview, RequestCancelled, true},
		{RequestApproved, RequestCancelled, true},
		{RequestSubmitted, RequestDraft, true},
		{RequestInReview, RequestDraft, true},
		{RequestDraft, RequestApproved, false},
		{RequestDraft, RequestCancelled, false},
		{RequestApproved, RequestDraft, false},
		{RequestCancelled, RequestDraft, false},
		{RequestCancelled, RequestSubmitted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, RequestCancelled.Terminal())
	assert.False(t, RequestApproved.Terminal())
	assert.True(t, IsReturn(RequestInReview, RequestDraft))
	assert.False(t, IsReturn(RequestDraft, RequestSubmitted))
}

func TestParseStatus(t *testing.T) {
	status, err := ParseRequestStatus(" In_Review ")
	require.NoError(t, err)
	assert.Equal(t, RequestInReview, status)

	_, err = ParseRequestStatus("archived")
	assert.Error(t, err)

	cs, err := ParseContractStatus("cancelado")
	require.NoError(t, err)
	assert.Equal(t, ContractCancelled, cs)
	assert.Equal(t, "cancelado", cs.Label())

	_, err = ParseContractStatus("7")
	assert.Error(t, err)
}

func TestRecordProjections(t *testing.T) {
	doc := map[string]any{
		"contrato": map[string]any{"folio": "F-1", "estatus": 2, "cancelado_en": "2024-05-01T10:00:00Z"},
	}
	rec := NewRecord(4, document.Merge(map[string]document.Value{
		"client_id": document.Column(int64(9)),
		"folio":     document.Column("F-1"),
		"estatus":   document.Column("2"),
	}, doc), doc)

	c := ContractFromRecord(rec)
	assert.Equal(t, int64(9), c.ClientID)
	assert.Equal(t, ContractCancelled, c.Status)
	assert.Equal(t, "cancelado", c.Estado)
	require.NotNil(t, c.CancelledAt)

	req := RequestFromRecord(NewRecord(5, map[string]document.Value{
		"estatus": document.Column(nil),
	}, nil))
	assert.Equal(t, RequestDraft, req.Status)

	m := rec.Map()
	assert.Equal(t, int64(4), m["id"])
	assert.Equal(t, "F-1", m["folio"])
}
