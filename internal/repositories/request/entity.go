package request

import (
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/models"
)

const (
	FieldFolio        = "folio"
	FieldStatus       = "estatus"
	FieldUserID       = "user_id"
	FieldUpdatedAt    = "updated_at"
	FieldTaxID        = "rfc"
	FieldNationalID   = "curp"
	FieldReturnReason = "return_reason"
	FieldReturnedBy   = "returned_by"
	FieldReturnedAt   = "returned_at"
)

// Entity is the solicitudes table.
var Entity = record.Entity{
	Name:     "request",
	Table:    "solicitudes",
	Key:      "id",
	Document: "document",
	Columns:  []string{FieldUserID, "created_at", FieldUpdatedAt},
	Fields: []record.Field{
		{Name: FieldFolio, Column: true, Path: []string{"folio"}},
		{Name: FieldStatus, Column: true, Path: []string{"estatus"}, Default: string(models.RequestDraft), Normalize: record.Lowercase},
		{Name: FieldTaxID, Path: []string{"cliente", "rfc"}},
		{Name: FieldNationalID, Path: []string{"cliente", "curp"}},
		{Name: FieldReturnReason, Column: true},
		{Name: FieldReturnedBy, Column: true},
		{Name: FieldReturnedAt, Column: true},
	},
}
