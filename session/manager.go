/*
manager.go - Draft lifecycle

PURPOSE:
  Opens, finds and discards drafts, and runs the operations that end a
  draft: submit (sales), approve and reject (finance), and commission
  calculation (finance or admin on a pending deal).

ON SUCCESS:
  1. The draft is discarded
  2. Other open drafts of the same transaction observe the new status
  3. An audit entry is written
  4. The settled hook runs (dashboards refetch)

ON FAILURE:
  The draft stays open with its banner set to the error message. A 401
  fires the logout hook instead.

SEE ALSO:
  - draft.go: Dispatch and the permission gate
  - api/scheduler.go: DraftReaper calls ExpireIdle
*/
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/logger"
)

// Options configures a Manager. Every field is optional.
type Options struct {
	Rates deal.Rates

	// Credentials attaches the actor's credentials to outbound calls.
	Credentials func(ctx context.Context, a Actor) context.Context

	// OnLogout runs when the calculation service rejects an actor.
	OnLogout func(a Actor)

	// OnSettled runs after a successful lifecycle call.
	OnSettled func(transactionID string, status deal.Status)

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns every open draft.
type Manager struct {
	calc  Calculator
	audit AuditLog
	opts  Options
	orch  *Orchestrator
	log   *slog.Logger

	mu     sync.RWMutex
	drafts map[string]*Draft
}

// NewManager creates a manager backed by calc. audit may be nil.
func NewManager(calc Calculator, audit AuditLog, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.L
	}
	orch := NewOrchestrator(calc)
	orch.log = log

	return &Manager{
		calc:   calc,
		audit:  audit,
		opts:   opts,
		orch:   orch,
		log:    log,
		drafts: map[string]*Draft{},
	}
}

// =============================================================================
// OPEN / GET / CLOSE
// =============================================================================

// Open starts a draft over base for actor in view.
func (m *Manager) Open(ctx context.Context, actor Actor, view deal.View, base deal.Detail) (*Draft, error) {
	if !view.Valid() {
		return nil, &deal.ValidationError{Message: fmt.Sprintf("unknown view %q", view)}
	}
	if base.Transaction.Status == "" {
		base.Transaction.Status = deal.StatusDraft
	}

	d := newDraft(uuid.NewString(), actor, view, base, draftDeps{
		rates:    m.opts.Rates,
		orch:     m.orch,
		lookup:   m.calc,
		creds:    m.opts.Credentials,
		onLogout: m.opts.OnLogout,
		now:      m.opts.Now,
	})

	m.mu.Lock()
	m.drafts[d.ID] = d
	m.mu.Unlock()

	m.log.Info("draft opened", "draft_id", d.ID, "transaction_id", d.TransactionID(), "actor", actor.ID, "view", view)
	m.record(ctx, d, AuditOpened, map[string]string{"view": string(view)})
	return d, nil
}

// OpenByID loads a stored transaction and opens a draft over it.
func (m *Manager) OpenByID(ctx context.Context, actor Actor, view deal.View, transactionID string) (*Draft, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, &deal.ValidationError{Message: "transaction id is required"}
	}
	base, err := m.calc.GetDetail(m.creds(ctx, actor), transactionID)
	if err != nil {
		if deal.IsUnauthorized(err) && m.opts.OnLogout != nil {
			m.opts.OnLogout(actor)
		}
		return nil, err
	}
	return m.Open(ctx, actor, view, base)
}

// Get returns an open draft. Drafts belong to the actor that opened them.
func (m *Manager) Get(id string, actor Actor) (*Draft, error) {
	m.mu.RLock()
	d, ok := m.drafts[id]
	m.mu.RUnlock()
	if !ok || d.Actor.ID != actor.ID {
		return nil, fmt.Errorf("%w: %s", deal.ErrDraftNotFound, id)
	}
	d.touch()
	return d, nil
}

// Close discards a draft without saving.
func (m *Manager) Close(ctx context.Context, id string, actor Actor) error {
	d, err := m.Get(id, actor)
	if err != nil {
		return err
	}
	if m.remove(d) {
		m.log.Info("draft discarded", "draft_id", d.ID)
		m.record(ctx, d, AuditDiscarded, nil)
	}
	return nil
}

// Len returns the number of open drafts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.drafts)
}

// ExpireIdle discards drafts with no activity for longer than ttl and
// returns how many were expired.
func (m *Manager) ExpireIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := m.opts.Now().Add(-ttl)

	m.mu.RLock()
	var idle []*Draft
	for _, d := range m.drafts {
		if d.idleSince().Before(cutoff) {
			idle = append(idle, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })

	expired := 0
	for _, d := range idle {
		if m.remove(d) {
			expired++
			m.record(ctx, d, AuditExpired, map[string]string{"ttl": ttl.String()})
		}
	}
	if expired > 0 {
		m.log.Info("expired idle drafts", "count", expired, "ttl", ttl)
	}
	return expired
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Submit sends a sales draft for approval.
func (m *Manager) Submit(ctx context.Context, id string, actor Actor) (deal.Transaction, error) {
	d, err := m.Get(id, actor)
	if err != nil {
		return deal.Transaction{}, err
	}

	payload, err := d.prepare(deal.ViewSales, validateForSubmit)
	if err != nil {
		return deal.Transaction{}, d.report(err)
	}

	tx, err := m.calc.Submit(m.creds(ctx, actor), payload)
	if err != nil {
		return deal.Transaction{}, d.report(err)
	}
	if tx.ID == "" {
		tx.ID = d.TransactionID()
	}

	m.settle(ctx, d, tx.ID, deal.StatusPending, AuditSubmitted, nil)
	return tx, nil
}

// Approve records finance approval with every change finance made.
func (m *Manager) Approve(ctx context.Context, id string, actor Actor, comment string) error {
	return m.review(ctx, id, actor, comment, true)
}

// Reject records finance rejection with every change finance made.
func (m *Manager) Reject(ctx context.Context, id string, actor Actor, reason string) error {
	return m.review(ctx, id, actor, reason, false)
}

func (m *Manager) review(ctx context.Context, id string, actor Actor, comment string, approve bool) error {
	d, err := m.Get(id, actor)
	if err != nil {
		return err
	}
	txID := d.TransactionID()
	if txID == "" {
		return d.report(&deal.ValidationError{Message: "transaction has not been submitted"})
	}

	var review deal.Review
	if _, err := d.prepare(deal.ViewFinance, func(base deal.Detail, o deal.Overlay) error {
		review = deal.BuildReview(base, o, comment)
		return nil
	}); err != nil {
		return d.report(err)
	}

	call, status, action := m.calc.Approve, deal.StatusApproved, AuditApproved
	if !approve {
		call, status, action = m.calc.Reject, deal.StatusRejected, AuditRejected
	}
	if err := call(m.creds(ctx, actor), txID, review); err != nil {
		return d.report(err)
	}

	detail := map[string]string{"changed_fields": fmt.Sprint(len(review.Fields))}
	if comment != "" {
		detail["comment"] = comment
	}
	m.settle(ctx, d, txID, status, action, detail)
	return nil
}

// CalculateCommission asks the service to compute commission for a
// pending deal and returns the refreshed detail.
func (m *Manager) CalculateCommission(ctx context.Context, id string, actor Actor) (deal.Detail, error) {
	d, err := m.Get(id, actor)
	if err != nil {
		return deal.Detail{}, err
	}

	d.mu.Lock()
	closed, status := d.closed, d.status
	d.mu.Unlock()
	if closed {
		return deal.Detail{}, deal.ErrDraftClosed
	}
	if status != deal.StatusPending || (actor.Role != deal.RoleFinance && actor.Role != deal.RoleAdmin) {
		return deal.Detail{}, d.report(&deal.PermissionError{Status: status, Role: actor.Role, View: d.View})
	}

	txID := d.TransactionID()
	out, err := m.calc.CalculateCommission(m.creds(ctx, actor), txID)
	if err != nil {
		return deal.Detail{}, d.report(err)
	}
	if out.Transaction.Status == "" {
		out.Transaction.Status = status
	}

	m.settle(ctx, d, txID, out.Transaction.Status, AuditCommissionCalculated,
		map[string]string{"commission": out.Transaction.KPIs.Commission.String()})
	return out, nil
}

// prepare checks the view and gate of d and returns its assembled payload.
// check runs under the draft lock on the current base and overlay.
func (d *Draft) prepare(view deal.View, check func(base deal.Detail, o deal.Overlay) error) (deal.Detail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return deal.Detail{}, deal.ErrDraftClosed
	}
	if d.View != view {
		return deal.Detail{}, &deal.PermissionError{Status: d.status, Role: d.Actor.Role, View: d.View}
	}
	if err := deal.CheckEdit(d.status, d.Actor.Role, d.View); err != nil {
		return deal.Detail{}, err
	}
	if err := check(d.base, d.overlay); err != nil {
		return deal.Detail{}, err
	}
	d.lastActive = d.now()
	return deal.AssemblePayload(d.base, d.overlay), nil
}

func validateForSubmit(base deal.Detail, o deal.Overlay) error {
	tx := deal.EffectiveTransaction(base, o)
	if strings.TrimSpace(tx.BusinessUnit) == "" {
		return &deal.ValidationError{Field: deal.FieldBusinessUnit, Message: "business unit is required"}
	}
	if deal.IsPlaceholderID(tx.CompanyID) || strings.TrimSpace(tx.ClientName) == "" {
		return &deal.ValidationError{Field: deal.FieldCompanyID, Message: "client identity is required"}
	}
	for _, f := range []deal.Field{deal.FieldTermMonths, deal.FieldMRC, deal.FieldNRC} {
		v, _ := tx.Get(f)
		if err := deal.ValidateValue(f, v); err != nil {
			return err
		}
	}
	return nil
}

// settle finishes a successful lifecycle call.
func (m *Manager) settle(ctx context.Context, d *Draft, txID string, status deal.Status, action AuditAction, detail map[string]string) {
	m.remove(d)

	if txID != "" {
		m.mu.RLock()
		for _, other := range m.drafts {
			if other.TransactionID() == txID {
				other.ObserveStatus(status)
			}
		}
		m.mu.RUnlock()
	}

	if detail == nil {
		detail = map[string]string{}
	}
	detail["status"] = string(status)
	m.recordTx(ctx, d, txID, action, detail)
	m.log.Info("draft settled", "draft_id", d.ID, "transaction_id", txID, "action", action, "status", status)

	if m.opts.OnSettled != nil {
		m.opts.OnSettled(txID, status)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) remove(d *Draft) bool {
	m.mu.Lock()
	delete(m.drafts, d.ID)
	m.mu.Unlock()
	return d.discard()
}

func (m *Manager) creds(ctx context.Context, a Actor) context.Context {
	if m.opts.Credentials == nil {
		return ctx
	}
	return m.opts.Credentials(ctx, a)
}

func (m *Manager) record(ctx context.Context, d *Draft, action AuditAction, detail map[string]string) {
	m.recordTx(ctx, d, d.TransactionID(), action, detail)
}

func (m *Manager) recordTx(ctx context.Context, d *Draft, txID string, action AuditAction, detail map[string]string) {
	if m.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:            uuid.NewString(),
		DraftID:       d.ID,
		TransactionID: txID,
		ActorID:       d.Actor.ID,
		Role:          d.Actor.Role,
		Action:        action,
		Detail:        detail,
		At:            m.opts.Now().UTC(),
	}
	if err := m.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		m.log.Warn("audit append failed", "draft_id", d.ID, "action", action, "error", err)
	}
}
