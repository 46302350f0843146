package contract

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/models"
)

const (
	FieldFolio       = "folio"
	FieldStatus      = "estatus"
	FieldCreatedBy   = "created_by"
	FieldOrigin      = "solicitud_origen_id"
	FieldClientID    = "client_id"
	FieldDevelopment = "development_id"
)

// Entity is the contratos table. Older documents carry the status as a label
// in estatus or only as estado; both read as the numeric code.
var Entity = record.Entity{
	Name:     "contract",
	Table:    "contratos",
	Key:      "id",
	Document: "document",
	Columns:  []string{FieldClientID, FieldDevelopment, "created_at"},
	Fields: []record.Field{
		{Name: FieldFolio, Column: true, Path: []string{"contrato", "folio"}},
		{
			Name:      FieldStatus,
			Column:    true,
			Path:      []string{"contrato", "estatus"},
			Fallbacks: [][]string{{"contrato", "estado"}},
			Default:   int(models.ContractActive),
			Normalize: statusCode{},
		},
		{Name: FieldCreatedBy, Column: true},
		{Name: FieldOrigin, Path: []string{"contrato", "solicitud_origen_id"}},
	},
}

// statusCode maps codes and labels onto ContractStatus codes.
type statusCode struct{}

func (statusCode) SQL(expr string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(database.Lower(expr))
	for _, status := range models.ContractStatuses {
		for _, name := range status.Names() {
			fmt.Fprintf(&b, " WHEN '%s' THEN %d", name, int(status))
		}
	}
	b.WriteString(" END")
	return b.String()
}

func (statusCode) Value(raw any) any {
	status, err := models.ParseContractStatus(document.Dynamic(raw).String())
	if err != nil {
		return nil
	}
	return int64(status)
}
