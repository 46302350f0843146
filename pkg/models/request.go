package models

import (
	"fmt"
	"strings"
	"time"
)

type RequestStatus string

const (
	RequestDraft     RequestStatus = "draft"
	RequestSubmitted RequestStatus = "submitted"
	RequestInReview  RequestStatus = "in_review"
	RequestApproved  RequestStatus = "approved"
	RequestCancelled RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestDraft:     {RequestSubmitted},
	RequestSubmitted: {RequestInReview, RequestCancelled, RequestDraft},
	RequestInReview:  {RequestApproved, RequestCancelled, RequestDraft},
	RequestApproved:  {RequestCancelled},
	RequestCancelled: {},
}

func (s RequestStatus) Valid() bool {
	_, ok := requestTransitions[s]
	return ok
}

func (s RequestStatus) Terminal() bool {
	return s.Valid() && len(requestTransitions[s]) == 0
}

// CanTransition reports whether the request state machine has an edge from
// one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsReturn reports whether the edge sends a request back to its author.
func IsReturn(from, to RequestStatus) bool {
	return to == RequestDraft && (from == RequestSubmitted || from == RequestInReview)
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid request status %q", s)
	}
	return status, nil
}

type RequestInput struct {
	UserID   int64          `json:"user_id" validate:"required,gt=0"`
	Document map[string]any `json:"document" validate:"required"`
}

type Scope string

const (
	ScopeAll    Scope = ""
	ScopeMine   Scope = "mine"
	ScopeOthers Scope = "others"
)

// RequestFilter narrows a request listing. Scope is relative to ViewerID:
// ScopeMine keeps the viewer's requests and ScopeOthers drops them.
type RequestFilter struct {
	OwnerID       *int64
	Status        *RequestStatus
	IncludeDrafts bool
	ViewerID      *int64
	Scope         Scope
	Limit         int
	Offset        int
}

type TransitionRequest struct {
	To      RequestStatus `json:"to" validate:"required"`
	Reason  string        `json:"reason,omitempty"`
	ActorID *int64        `json:"actor_id,omitempty"`
}

// Cancelation is the audit object merged into a cancelled request document.
type Cancelation struct {
	Reason      string
	CancelledBy *int64
	CancelledAt time.Time
}

func (c Cancelation) Document() map[string]any {
	out := map[string]any{
		"motivo":       c.Reason,
		"cancelada_en": c.CancelledAt.UTC().Format(time.RFC3339),
	}
	if c.CancelledBy != nil {
		out["cancelada_por"] = *c.CancelledBy
	} else {
		out["cancelada_por"] = nil
	}
	return out
}

// Request is a typed projection of a request record.
type Request struct {
	ID                   int64          `json:"id"`
	UserID               int64          `json:"user_id"`
	Folio                string         `json:"folio"`
	Status               RequestStatus  `json:"estatus"`
	TaxID                string         `json:"rfc,omitempty"`
	NationalID           string         `json:"curp,omitempty"`
	ReturnReason         string         `json:"return_reason,omitempty"`
	LinkedContractID     *int64         `json:"linked_contract_id,omitempty"`
	LinkedContractFolio  string         `json:"linked_contract_folio,omitempty"`
	LinkedContractStatus *int64         `json:"linked_contract_status,omitempty"`
	Document             map[string]any `json:"document,omitempty"`
}

func RequestFromRecord(r *Record) *Request {
	if r == nil {
		return nil
	}
	req := &Request{
		ID:                  r.ID,
		Folio:               r.String("folio"),
		Status:              RequestStatusOf(r),
		TaxID:               r.String("rfc"),
		NationalID:          r.String("curp"),
		ReturnReason:        r.String("return_reason"),
		LinkedContractFolio: r.String("linked_contract_folio"),
		Document:            r.Document,
	}
	req.UserID, _ = r.Int("user_id")
	if id, ok := r.Int("linked_contract_id"); ok {
		req.LinkedContractID = &id
	}
	if status, ok := r.Int("linked_contract_status"); ok {
		req.LinkedContractStatus = &status
	}
	return req
}

// RequestStatusOf reads the status of a request record; an unset status is
// a draft.
func RequestStatusOf(r *Record) RequestStatus {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(r.String("estatus"))))
	if status == "" {
		return RequestDraft
	}
	return status
}

// StatusCount is one row of the per-status counters.
type StatusCount struct {
	Status RequestStatus `json:"estatus"`
	Count  int           `json:"count"`
}
