package models

import (
	"fmt"
	"strings"
	"time"
)

type ContractStatus int

const (
	ContractArchived  ContractStatus = 0
	ContractActive    ContractStatus = 1
	ContractCancelled ContractStatus = 2
)

func (s ContractStatus) Valid() bool {
	return s >= ContractArchived && s <= ContractCancelled
}

// Label is the human readable estado stored next to the numeric code.
func (s ContractStatus) Label() string {
	switch s {
	case ContractArchived:
		return "archivado"
	case ContractActive:
		return "activo"
	case ContractCancelled:
		return "cancelado"
	default:
		return ""
	}
}

// ContractStatuses lists every status in code order.
var ContractStatuses = []ContractStatus{ContractArchived, ContractActive, ContractCancelled}

var contractStatusNames = map[ContractStatus][]string{
	ContractArchived:  {"0", "archivado", "archived"},
	ContractActive:    {"1", "activo", "active"},
	ContractCancelled: {"2", "cancelado", "cancelled", "canceled"},
}

// Names are the lowercase spellings accepted for the status, its code first.
func (s ContractStatus) Names() []string {
	return contractStatusNames[s]
}

func ParseContractStatus(s string) (ContractStatus, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, status := range ContractStatuses {
		for _, n := range status.Names() {
			if n == name {
				return status, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid contract status %q", s)
}

type ContractInput struct {
	ClientID      int64          `json:"client_id" validate:"required,gt=0"`
	DevelopmentID int64          `json:"development_id" validate:"required,gt=0"`
	CreatedBy     *int64         `json:"created_by,omitempty"`
	Document      map[string]any `json:"document" validate:"required"`
}

type ContractFilter struct {
	ClientID *int64
	Status   *ContractStatus
	Limit    int
	Offset   int
}

// ActivityCount is the per-client contract tally.
type ActivityCount struct {
	ClientID  int64 `json:"client_id"`
	Total     int   `json:"total"`
	Active    int   `json:"active"`
	Cancelled int   `json:"cancelled"`
	Archived  int   `json:"archived"`
}

// Contract is a typed projection of a contract record.
type Contract struct {
	ID              int64          `json:"id"`
	ClientID        int64          `json:"client_id"`
	DevelopmentID   int64          `json:"development_id"`
	Folio           string         `json:"folio"`
	Status          ContractStatus `json:"estatus"`
	Estado          string         `json:"estado"`
	OriginRequestID *int64         `json:"solicitud_origen_id,omitempty"`
	CancelledAt     *time.Time     `json:"cancelado_en,omitempty"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
	Document        map[string]any `json:"document,omitempty"`
}

func ContractFromRecord(r *Record) *Contract {
	if r == nil {
		return nil
	}
	c := &Contract{
		ID:       r.ID,
		Folio:    r.String("folio"),
		Document: r.Document,
	}
	c.ClientID, _ = r.Int("client_id")
	c.DevelopmentID, _ = r.Int("development_id")
	if status, ok := r.Int("estatus"); ok {
		c.Status = ContractStatus(status)
	} else if status, err := ParseContractStatus(r.String("estatus")); err == nil {
		c.Status = status
	}
	c.Estado = c.Status.Label()
	if origin, ok := r.Int("solicitud_origen_id"); ok {
		c.OriginRequestID = &origin
	}
	if v, ok := r.Value("created_at"); ok {
		if ts, ok := v.Time(); ok {
			c.CreatedAt = &ts
		}
	}
	if contrato, ok := r.Fields["contrato"].Map(); ok {
		if raw, ok := contrato["cancelado_en"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				c.CancelledAt = &ts
			}
		}
	}
	return c
}
