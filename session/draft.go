/*
Package session holds open deal drafts, one per open modal.

PURPOSE:
  A Draft is a base snapshot plus an overlay of local edits. Dispatch is the
  single mutation entry point; every edit produces a new overlay through
  deal.Reduce and, when it changes inputs, an asynchronous recalculation.

CONCURRENCY:
  All draft state is guarded by one mutex. Recalculation results re-enter
  through the same lock as internal actions (SetComputedKPIs,
  RecalculationFailed). Each recalculation carries a monotonic token; only
  the response for the latest issued token is applied.

LIFECYCLE:
  Open -> Dispatch* -> Submit | Approve | Reject | CalculateCommission | Close
  A draft is discarded on a successful lifecycle call, on Close, or when
  the idle reaper expires it. A discarded draft applies nothing.

SEE ALSO:
  - deal/reducer.go: the pure transition function
  - recalc.go: the recalculation orchestrator
  - lookup.go: code lookup and merge
  - manager.go: lifecycle operations
*/
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/deal-desk/deal"
)

// Draft is one open editing session over a transaction.
type Draft struct {
	ID    string
	Actor Actor
	View  deal.View

	base   deal.Detail
	rates  deal.Rates
	orch   *Orchestrator
	lookup Lookup
	creds  func(context.Context, Actor) context.Context

	// onLogout runs outside the lock when the remote rejects the actor.
	onLogout func(Actor)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	overlay    deal.Overlay
	status     deal.Status
	token      uint64
	pending    int
	settled    chan struct{}
	closed     bool
	lastActive time.Time
	subs       map[int]chan State
	nextSub    int
	now        func() time.Time
}

// State is an immutable snapshot of a draft.
type State struct {
	ID                string                    `json:"id"`
	View              deal.View                 `json:"view"`
	Status            deal.Status               `json:"status"`
	Base              deal.Detail               `json:"base"`
	Effective         deal.Transaction          `json:"effective"`
	Overrides         map[deal.Field]deal.Value `json:"overrides"`
	FixedCosts        []deal.FixedCost          `json:"fixed_costs"`
	RecurringServices []deal.RecurringService   `json:"recurring_services"`
	Computed          *deal.Bundle              `json:"computed"`
	KPIs              deal.KPIs                 `json:"kpis"`
	Timeline          []deal.TimelinePoint      `json:"timeline"`
	LastError         *string                   `json:"last_error"`
	CanEdit           bool                      `json:"can_edit"`
	Recalculating     bool                      `json:"recalculating"`
	Version           uint64                    `json:"version"`
	Closed            bool                      `json:"closed"`
}

type draftDeps struct {
	rates    deal.Rates
	orch     *Orchestrator
	lookup   Lookup
	creds    func(context.Context, Actor) context.Context
	onLogout func(Actor)
	now      func() time.Time
}

func newDraft(id string, actor Actor, view deal.View, base deal.Detail, deps draftDeps) *Draft {
	base = base.Clone()
	d := &Draft{
		ID:       id,
		Actor:    actor,
		View:     view,
		base:     base,
		rates:    deps.rates,
		orch:     deps.orch,
		lookup:   deps.lookup,
		creds:    deps.creds,
		onLogout: deps.onLogout,
		overlay:  deal.NewOverlay(base),
		status:   base.Transaction.Status,
		subs:     map[int]chan State{},
		now:      deps.now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.creds == nil {
		d.creds = func(ctx context.Context, _ Actor) context.Context { return ctx }
	}
	d.ctx, d.cancel = context.WithCancel(d.creds(context.Background(), actor))
	d.lastActive = d.now()
	return d
}

// Base returns a copy of the snapshot the draft was opened on.
func (d *Draft) Base() deal.Detail { return d.base.Clone() }

// TransactionID is the id of the base transaction; empty for new deals.
func (d *Draft) TransactionID() string { return d.base.Transaction.ID }

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatch applies a to the draft. Edits are refused when the draft is
// closed, when the permission gate is shut, or when a precondition fails.
// A refused edit is also shown as the banner.
func (d *Draft) Dispatch(a deal.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.dispatchLocked(a)
	if deal.IsEdit(a) {
		d.bannerLocked(err)
	}
	return err
}

// dispatch is Dispatch for callers that report errors themselves.
func (d *Draft) dispatch(a deal.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchLocked(a)
}

func (d *Draft) dispatchLocked(a deal.Action) error {
	if err := d.applyLocked(a); err != nil {
		return err
	}
	d.notifyLocked()
	return nil
}

// applyLocked is dispatchLocked without notifying subscribers.
func (d *Draft) applyLocked(a deal.Action) error {
	if d.closed {
		return deal.ErrDraftClosed
	}
	if deal.IsEdit(a) {
		if err := deal.CheckEdit(d.status, d.Actor.Role, d.View); err != nil {
			return err
		}
		if err := d.precheck(a); err != nil {
			return err
		}
		d.lastActive = d.now()
	}

	d.overlay = deal.Reduce(d.overlay, a)

	if deal.Recalculates(a) {
		d.token++
		d.startRecalcLocked(d.token, deal.AssemblePayload(d.base, d.overlay))
	}
	return nil
}

func (d *Draft) precheck(a deal.Action) error {
	switch act := a.(type) {
	case deal.UpdateField:
		return checkFieldValue(act.Field, act.Value)
	case deal.UpdateFields:
		if len(act.Values) == 0 {
			return &deal.ValidationError{Message: "no fields to update"}
		}
		for _, f := range deal.SortedFields(act.Values) {
			if err := checkFieldValue(f, act.Values[f]); err != nil {
				return err
			}
		}
	case deal.AddFixedCosts:
		loaded := deal.LoadedTickets(d.overlay)
		for _, row := range act.Rows {
			if code := deal.NormalizeCode(row.Ticket); loaded[code] {
				return &deal.DuplicateCodeError{Code: code, Collection: "fixed_costs"}
			}
		}
	case deal.AddRecurringServices:
		loaded := deal.LoadedServiceCodes(d.overlay)
		for _, row := range act.Rows {
			if code := deal.NormalizeCode(row.ID); loaded[code] {
				return &deal.DuplicateCodeError{Code: code, Collection: "recurring_services"}
			}
		}
	case deal.RemoveFixedCost:
		if !deal.LoadedTickets(d.overlay)[deal.NormalizeCode(act.Ticket)] {
			return fmt.Errorf("%w: fixed cost %s", deal.ErrRowNotFound, act.Ticket)
		}
	case deal.RemoveRecurringService:
		if !deal.LoadedServiceCodes(d.overlay)[deal.NormalizeCode(act.Code)] {
			return fmt.Errorf("%w: recurring service %s", deal.ErrRowNotFound, act.Code)
		}
	case deal.ReplaceFixedCost:
		if err := checkIndex(act.Index, len(d.overlay.FixedCosts), "fixed cost"); err != nil {
			return err
		}
		tickets := make([]string, len(d.overlay.FixedCosts))
		for i, row := range d.overlay.FixedCosts {
			tickets[i] = row.Ticket
		}
		return checkRecode(tickets, act.Index, act.Row.Ticket, "fixed_costs")
	case deal.ReplaceRecurringService:
		if err := checkIndex(act.Index, len(d.overlay.RecurringServices), "recurring service"); err != nil {
			return err
		}
		codes := make([]string, len(d.overlay.RecurringServices))
		for i, row := range d.overlay.RecurringServices {
			codes[i] = row.ID
		}
		return checkRecode(codes, act.Index, act.Row.ID, "recurring_services")
	case deal.RemoveRecurringServiceAt:
		return checkIndex(act.Index, len(d.overlay.RecurringServices), "recurring service")
	}
	return nil
}

func checkFieldValue(f deal.Field, v deal.Value) error {
	kind, ok := deal.KindOf(f)
	if !ok {
		return &deal.ValidationError{Field: f, Message: "unknown field"}
	}
	if v.Kind() != kind {
		return &deal.ValidationError{Field: f, Message: fmt.Sprintf("expected %s value", kind)}
	}
	return deal.ValidateValue(f, v)
}

// checkRecode refuses moving the row at index onto a code another row
// already carries. Rows keep their own code freely.
func checkRecode(codes []string, index int, code, collection string) error {
	code = deal.NormalizeCode(code)
	if code == deal.NormalizeCode(codes[index]) {
		return nil
	}
	for i, c := range codes {
		if i != index && deal.NormalizeCode(c) == code {
			return &deal.DuplicateCodeError{Code: code, Collection: collection}
		}
	}
	return nil
}

func checkIndex(i, n int, what string) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %s row %d", deal.ErrRowNotFound, what, i)
	}
	return nil
}

// DismissError clears the banner.
func (d *Draft) DismissError() error {
	return d.Dispatch(deal.SetAPIError{})
}

// ObserveStatus updates the effective status after another session moved
// the transaction. A final status shuts the gate for every later edit.
func (d *Draft) ObserveStatus(status deal.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.status == status {
		return
	}
	d.status = status
	d.notifyLocked()
}

// report records err as the banner and returns it. Unauthorized errors
// fire the logout hook instead.
func (d *Draft) report(err error) error {
	if err == nil {
		return nil
	}
	if deal.IsUnauthorized(err) {
		d.logout()
		return err
	}
	d.mu.Lock()
	d.bannerLocked(err)
	d.mu.Unlock()
	return err
}

// bannerLocked shows err as the banner. Closed drafts and unauthorized
// errors show nothing.
func (d *Draft) bannerLocked(err error) {
	if err == nil || d.closed || deal.IsUnauthorized(err) {
		return
	}
	_ = d.dispatchLocked(deal.ErrorMessage(deal.UserMessage(err)))
}

func (d *Draft) logout() {
	if d.onLogout != nil {
		d.onLogout(d.Actor)
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// State returns a snapshot of the draft.
func (d *Draft) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Draft) stateLocked() State {
	o := d.overlay
	overrides := make(map[deal.Field]deal.Value, len(o.FieldOverrides))
	for f, v := range o.FieldOverrides {
		overrides[f] = v
	}

	s := State{
		ID:                d.ID,
		View:              d.View,
		Status:            d.status,
		Base:              d.base.Clone(),
		Effective:         deal.EffectiveTransaction(d.base, o),
		Overrides:         overrides,
		FixedCosts:        append([]deal.FixedCost{}, o.FixedCosts...),
		RecurringServices: append([]deal.RecurringService{}, o.RecurringServices...),
		KPIs:              deal.DisplayKPIs(d.base, o),
		Timeline:          append([]deal.TimelinePoint{}, d.base.Timeline...),
		CanEdit:           !d.closed && deal.CanEdit(d.status, d.Actor.Role, d.View),
		Recalculating:     d.pending > 0,
		Version:           d.token,
		Closed:            d.closed,
	}
	s.Effective.Status = d.status
	if o.LastComputed != nil {
		b := *o.LastComputed
		b.Timeline = append([]deal.TimelinePoint{}, b.Timeline...)
		s.Computed = &b
		s.Timeline = b.Timeline
	}
	if o.LastError != nil {
		msg := *o.LastError
		s.LastError = &msg
	}
	return s
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow readers only see the latest snapshot. The channel is closed when
// the draft is discarded or cancel is called.
func (d *Draft) Subscribe() (<-chan State, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan State, 1)
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	ch <- d.stateLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if sub, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(sub)
			}
		})
	}
}

func (d *Draft) notifyLocked() {
	if len(d.subs) == 0 {
		return
	}
	s := d.stateLocked()
	for _, ch := range d.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Settle blocks until no recalculation is in flight or ctx is done.
func (d *Draft) Settle(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.pending == 0 {
			d.mu.Unlock()
			return nil
		}
		ch := d.settled
		d.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// =============================================================================
// DISCARD
// =============================================================================

// discard closes the draft. It reports false if it was already closed.
func (d *Draft) discard() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.closed = true
	d.cancel()
	d.notifyLocked()
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	return true
}

func (d *Draft) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActive
}

func (d *Draft) touch() {
	d.mu.Lock()
	d.lastActive = d.now()
	d.mu.Unlock()
}

// Closed reports whether the draft has been discarded.
func (d *Draft) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
