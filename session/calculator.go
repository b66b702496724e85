package session

import (
	"context"
	"time"

	"github.com/warp/deal-desk/deal"
)

// Previewer recomputes KPIs for a full draft payload.
type Previewer interface {
	Preview(ctx context.Context, payload deal.Detail) (deal.Bundle, error)
}

// Lookup resolves human-entered codes into canonical rows.
type Lookup interface {
	LookupFixedCosts(ctx context.Context, codes []string) ([]deal.FixedCost, error)
	LookupRecurringServices(ctx context.Context, codes []string) ([]deal.RecurringLookup, error)
}

// Calculator is everything a draft session needs from the calculation
// service. remote.Client implements it.
type Calculator interface {
	Previewer
	Lookup
	Submit(ctx context.Context, payload deal.Detail) (deal.Transaction, error)
	Approve(ctx context.Context, id string, review deal.Review) error
	Reject(ctx context.Context, id string, review deal.Review) error
	CalculateCommission(ctx context.Context, id string) (deal.Detail, error)
	GetDetail(ctx context.Context, id string) (deal.Detail, error)
}

// Actor is the authenticated user acting on a draft.
type Actor struct {
	ID    string    `json:"id"`
	Role  deal.Role `json:"role"`
	Token string    `json:"-"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditAction names a lifecycle event.
type AuditAction string

const (
	AuditOpened               AuditAction = "opened"
	AuditSubmitted            AuditAction = "submitted"
	AuditApproved             AuditAction = "approved"
	AuditRejected             AuditAction = "rejected"
	AuditCommissionCalculated AuditAction = "commission_calculated"
	AuditDiscarded            AuditAction = "discarded"
	AuditExpired              AuditAction = "expired"
)

// AuditEntry records one lifecycle event of a draft.
type AuditEntry struct {
	ID            string            `json:"id"`
	DraftID       string            `json:"draft_id"`
	TransactionID string            `json:"transaction_id,omitempty"`
	ActorID       string            `json:"actor_id"`
	Role          deal.Role         `json:"role"`
	Action        AuditAction       `json:"action"`
	Detail        map[string]string `json:"detail,omitempty"`
	At            time.Time         `json:"at"`
}

// AuditFilter selects audit entries. Zero fields match everything.
type AuditFilter struct {
	DraftID       string
	TransactionID string
	Limit         int
}

// AuditLog persists lifecycle events.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
