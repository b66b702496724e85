/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the UI sends. Responses reuse the session and
  dashboard snapshot types directly; they are already shaped for the UI.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Validation is done in handlers and the session package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - session/draft.go: State, the draft response body
*/
package api

import (
	"encoding/json"

	"github.com/warp/deal-desk/deal"
)

// =============================================================================
// DRAFTS
// =============================================================================

// OpenDraftRequest opens a draft. Exactly one of TransactionID or Detail
// is used; with neither, a blank deal is opened.
type OpenDraftRequest struct {
	View          deal.View    `json:"view"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Detail        *deal.Detail `json:"detail,omitempty"`
}

// FieldsRequest edits one field (Field + Value) or several (Values).
type FieldsRequest struct {
	Field  deal.Field                     `json:"field,omitempty"`
	Value  json.RawMessage                `json:"value,omitempty"`
	Values map[deal.Field]json.RawMessage `json:"values,omitempty"`
}

// CodeRequest adds line items by ticket or service code.
type CodeRequest struct {
	Code string `json:"code"`
}

// CellRequest edits one cell of a line-item row.
type CellRequest struct {
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
}

// ReviewRequest carries the approval comment or rejection reason.
type ReviewRequest struct {
	Comment string `json:"comment,omitempty"`
}

// SettledResponse is returned when a lifecycle call ends a draft.
type SettledResponse struct {
	TransactionID string      `json:"transaction_id"`
	Status        deal.Status `json:"status"`
}

// SubmitResponse wraps the transaction created or updated by a submit.
type SubmitResponse struct {
	Transaction deal.Transaction `json:"transaction"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

// FilterRequest sets local dashboard filters. A nil field is left as is;
// an empty Date clears the date filter.
type FilterRequest struct {
	View deal.View `json:"view,omitempty"`
	Text *string   `json:"text,omitempty"`
	Date *string   `json:"date,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	Logout  bool   `json:"logout,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Drafts int    `json:"drafts"`
}
