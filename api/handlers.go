/*
handlers.go - HTTP API handlers for the deal desk

PURPOSE:
  Exposes open drafts, the dashboards and the audit log to the UI. Handles
  HTTP request/response and JSON serialization and delegates to the
  session and dashboard packages.

ENDPOINTS:
  Drafts:
    POST   /api/drafts                          Open a draft
    GET    /api/drafts/{id}                     Draft state (?wait=true settles first)
    DELETE /api/drafts/{id}                     Discard a draft
    GET    /api/drafts/{id}/events              SSE state stream
    POST   /api/drafts/{id}/fields              Edit one or several fields
    DELETE /api/drafts/{id}/error               Dismiss the banner

  Line items:
    POST   /api/drafts/{id}/fixed-costs                 Add by ticket
    DELETE /api/drafts/{id}/fixed-costs/{row}           Remove by ticket
    PATCH  /api/drafts/{id}/fixed-costs/{row}           Edit a cell (row index)
    POST   /api/drafts/{id}/recurring-services          Add by service code
    DELETE /api/drafts/{id}/recurring-services/{row}    Remove by code
    PATCH  /api/drafts/{id}/recurring-services/{row}    Edit a cell (row index)
    PUT    /api/drafts/{id}/recurring-services/{row}    Replace a row (row index)
    DELETE /api/drafts/{id}/recurring-services/at/{row} Remove a row (row index)

  Lifecycle:
    POST   /api/drafts/{id}/submit | approve | reject | commission

  Dashboard:
    GET    /api/dashboard                       Current page (?view=&page=)
    PUT    /api/dashboard/filters               Text/date filters, no refetch

  Admin:
    GET    /api/audit                           Audit entries
    GET    /api/admin/reaper-runs               Idle draft reaper runs

ERROR HANDLING:
  Errors are returned as JSON with a status picked by statusFor:
  - 400: Validation errors, invalid input
  - 401: Calculation service rejected the caller (logout: true)
  - 403: Permission gate refused the edit
  - 404: Unknown draft, code or row
  - 409: Duplicate code, client mismatch, closed draft
  - 502: Calculation service business or transport failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: SSE stream
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/deal-desk/auth"
	"github.com/warp/deal-desk/dashboard"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/logger"
	"github.com/warp/deal-desk/session"
	"github.com/warp/deal-desk/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RunLister lists idle draft reaper runs.
type RunLister interface {
	GetReaperRuns(ctx context.Context, limit int) ([]sqlite.ReaperRun, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Drafts *session.Manager
	Boards *dashboard.Registry
	Audit  session.AuditLog

	// Optional
	Runs RunLister
	DB   Pinger
}

// NewHandler creates a new handler.
func NewHandler(drafts *session.Manager, boards *dashboard.Registry, audit session.AuditLog) *Handler {
	return &Handler{
		Drafts: drafts,
		Boards: boards,
		Audit:  audit,
	}
}

// =============================================================================
// DRAFT HANDLERS
// =============================================================================

// OpenDraft opens a draft for the caller.
func (h *Handler) OpenDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}

	var req OpenDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.View == "" {
		req.View = defaultView(actor.Role)
	}

	var (
		d   *session.Draft
		err error
	)
	switch {
	case strings.TrimSpace(req.TransactionID) != "":
		d, err = h.Drafts.OpenByID(r.Context(), actor, req.View, req.TransactionID)
	case req.Detail != nil:
		d, err = h.Drafts.Open(r.Context(), actor, req.View, *req.Detail)
	default:
		d, err = h.Drafts.Open(r.Context(), actor, req.View, deal.Detail{})
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, d.State())
}

// GetDraft returns the draft state. With ?wait=true it first waits for
// in-flight recalculations, bounded by the request context.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		_ = d.Settle(r.Context())
	}
	writeJSON(w, http.StatusOK, d.State())
}

// CloseDraft discards a draft without saving.
func (h *Handler) CloseDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	if err := h.Drafts.Close(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateFields applies UPDATE_FIELD or UPDATE_MULTIPLE_FIELDS.
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	var req FieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	action, err := fieldsAction(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, d, d.Dispatch(action))
}

func fieldsAction(req FieldsRequest) (deal.Action, error) {
	if req.Field != "" {
		if len(req.Values) > 0 {
			return nil, &deal.ValidationError{Message: "send either field or values, not both"}
		}
		v, err := deal.DecodeValue(req.Field, req.Value)
		if err != nil {
			return nil, err
		}
		return deal.UpdateField{Field: req.Field, Value: v}, nil
	}

	values := make(map[deal.Field]deal.Value, len(req.Values))
	for f, raw := range req.Values {
		v, err := deal.DecodeValue(f, raw)
		if err != nil {
			return nil, err
		}
		values[f] = v
	}
	return deal.UpdateFields{Values: values}, nil
}

// DismissError clears the draft banner.
func (h *Handler) DismissError(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	h.respond(w, d, d.DismissError())
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

// AddFixedCost looks up a ticket and merges its rows.
func (h *Handler) AddFixedCost(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respond(w, d, d.AddFixedCostCode(r.Context(), req.Code))
}

// RemoveFixedCost removes every row of a ticket.
func (h *Handler) RemoveFixedCost(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	h.respond(w, d, d.RemoveFixedCostCode(chi.URLParam(r, "row")))
}

// EditFixedCostCell edits one cell of a fixed-cost row.
func (h *Handler) EditFixedCostCell(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var req CellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respond(w, d, d.EditFixedCostCell(index, req.Column, req.Value))
}

// AddRecurringService looks up a service code and merges its rows.
func (h *Handler) AddRecurringService(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respond(w, d, d.AddRecurringServiceCode(r.Context(), req.Code))
}

// RemoveRecurringService removes every row of a service code.
func (h *Handler) RemoveRecurringService(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	h.respond(w, d, d.RemoveRecurringServiceCode(chi.URLParam(r, "row")))
}

// RemoveRecurringRow removes one recurring row by index.
func (h *Handler) RemoveRecurringRow(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	h.respond(w, d, d.RemoveRecurringRow(index))
}

// EditRecurringCell edits one cell of a recurring row.
func (h *Handler) EditRecurringCell(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var req CellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respond(w, d, d.EditRecurringCell(index, req.Column, req.Value))
}

// ReplaceRecurringRow replaces a whole recurring row.
func (h *Handler) ReplaceRecurringRow(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var row deal.RecurringService
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respond(w, d, d.ReplaceRecurringRow(index, row))
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// Submit sends a sales draft for approval.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	tx, err := h.Drafts.Submit(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{Transaction: tx})
}

// Approve records finance approval.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, deal.StatusApproved, h.Drafts.Approve)
}

// Reject records finance rejection.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, deal.StatusRejected, h.Drafts.Reject)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, status deal.Status,
	call func(ctx context.Context, id string, actor session.Actor, comment string) error) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	actor, _ := auth.ActorFrom(r.Context())

	// The body is optional.
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := call(r.Context(), d.ID, actor, req.Comment); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettledResponse{TransactionID: d.TransactionID(), Status: status})
}

// CalculateCommission computes commission for a pending deal.
func (h *Handler) CalculateCommission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	detail, err := h.Drafts.CalculateCommission(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GetDashboard returns the caller's board. A page parameter loads that
// page; otherwise the current page is returned, refetched if stale.
// Load failures are reported in the snapshot's error field.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	b, ok := h.board(w, r, deal.View(r.URL.Query().Get("view")))
	if !ok {
		return
	}

	var (
		snap dashboard.Snapshot
		err  error
	)
	if p := r.URL.Query().Get("page"); p != "" {
		page, convErr := strconv.Atoi(p)
		if convErr != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer", convErr)
			return
		}
		err = b.Load(r.Context(), page)
		snap = b.Snapshot()
	} else {
		snap, err = b.Current(r.Context())
	}
	if deal.IsUnauthorized(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetDashboardFilters narrows the loaded page without refetching.
func (h *Handler) SetDashboardFilters(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	b, ok := h.board(w, r, req.View)
	if !ok {
		return
	}

	if req.Date != nil {
		if err := b.SetDay(*req.Date); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Text != nil {
		b.SetTextFilter(*req.Text)
	}
	writeJSON(w, http.StatusOK, b.Snapshot())
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request, view deal.View) (*dashboard.Board, bool) {
	actor, ok := actorOf(w, r)
	if !ok {
		return nil, false
	}
	if view == "" {
		view = defaultView(actor.Role)
	}
	if !view.Valid() {
		writeError(w, http.StatusBadRequest, "view must be sales or finance", nil)
		return nil, false
	}
	return h.Boards.Board(actor, view), true
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListAudit returns audit entries, oldest first. Finance and admin only.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	if actor.Role != deal.RoleFinance && actor.Role != deal.RoleAdmin {
		writeError(w, http.StatusForbidden, "audit log requires finance or admin role", nil)
		return
	}

	q := r.URL.Query()
	filter := session.AuditFilter{
		DraftID:       q.Get("draft_id"),
		TransactionID: q.Get("transaction_id"),
		Limit:         100,
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	if entries == nil {
		entries = []session.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListReaperRuns returns recent idle draft reaper runs. Admin only.
func (h *Handler) ListReaperRuns(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(w, r)
	if !ok {
		return
	}
	if actor.Role != deal.RoleAdmin {
		writeError(w, http.StatusForbidden, "reaper runs require admin role", nil)
		return
	}
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []sqlite.ReaperRun{})
		return
	}

	runs, err := h.Runs.GetReaperRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reaper runs", err)
		return
	}
	if runs == nil {
		runs = []sqlite.ReaperRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// Health reports liveness and the number of open drafts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Drafts: h.Drafts.Len()})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorOf(w http.ResponseWriter, r *http.Request) (session.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: auth.ErrMissingToken.Error(), Logout: true})
	}
	return actor, ok
}

// draft resolves the {id} route parameter to one of the caller's drafts.
func (h *Handler) draft(w http.ResponseWriter, r *http.Request) (*session.Draft, bool) {
	actor, ok := actorOf(w, r)
	if !ok {
		return nil, false
	}
	d, err := h.Drafts.Get(chi.URLParam(r, "id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return d, true
}

func rowIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "row must be an index", err)
		return 0, false
	}
	return index, true
}

// respond writes the draft state, or the error of the operation.
func (h *Handler) respond(w http.ResponseWriter, d *session.Draft, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func defaultView(role deal.Role) deal.View {
	if role == deal.RoleSales {
		return deal.ViewSales
	}
	return deal.ViewFinance
}

// statusFor maps an error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case deal.IsUnauthorized(err):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, deal.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, deal.ErrEditNotAllowed):
		return http.StatusForbidden, "edit_not_allowed"
	case errors.Is(err, deal.ErrDraftNotFound):
		return http.StatusNotFound, "draft_not_found"
	case errors.Is(err, deal.ErrCodeNotFound):
		return http.StatusNotFound, "code_not_found"
	case errors.Is(err, deal.ErrRowNotFound):
		return http.StatusNotFound, "row_not_found"
	case errors.Is(err, deal.ErrDuplicateCode):
		return http.StatusConflict, "duplicate_code"
	case errors.Is(err, deal.ErrClientMismatch):
		return http.StatusConflict, "client_mismatch"
	case errors.Is(err, deal.ErrConflictingIdentity):
		return http.StatusConflict, "conflicting_identity"
	case errors.Is(err, deal.ErrDraftClosed):
		return http.StatusConflict, "draft_closed"
	case errors.Is(err, deal.ErrRemote):
		return http.StatusBadGateway, "remote"
	case deal.IsTransport(err):
		return http.StatusBadGateway, "transport"
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError writes err with the status statusFor picks. The message
// is the one the draft banner shows.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: deal.UserMessage(err), Code: code}
	switch status {
	case http.StatusUnauthorized:
		resp.Error = "session expired, please sign in again"
		resp.Logout = true
	case http.StatusInternalServerError:
		logger.L.Error("unhandled error", "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
