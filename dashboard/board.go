/*
Package dashboard keeps the transaction lists shown behind the draft modal.

PURPOSE:
  A Board is one user's list for one view: the loaded page, the page
  counters, local filters and a list-level error. Filters never refetch;
  they narrow the page already loaded.

REFRESH:
  A successful submit, approve, reject or commission call invalidates every
  board. The next Current() refetches the page the board is on.

  Loads may overlap. Each load carries a generation number and only the
  latest one is applied.

SEE ALSO:
  - session/manager.go: OnSettled drives Registry.InvalidateAll
  - remote/client.go: List()
*/
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/logger"
	"github.com/warp/deal-desk/session"
)

// Lister fetches one page of transaction summaries.
type Lister interface {
	List(ctx context.Context, view deal.View, page, pageSize int) (deal.SummaryPage, error)
}

// DateLayout is the wire format of the date filter.
const DateLayout = "2006-01-02"

// Board is one actor's list for one view.
type Board struct {
	actor    session.Actor
	view     deal.View
	lister   Lister
	pageSize int
	loc      *time.Location
	creds    func(context.Context, session.Actor) context.Context
	onLogout func(session.Actor)

	mu         sync.Mutex
	items      []deal.Summary
	page       int
	totalPages int
	loaded     bool
	stale      bool
	gen        uint64
	staleGen   uint64
	lastError  *string
	text       string
	day        *time.Time
}

// Snapshot is what the dashboard endpoint returns.
type Snapshot struct {
	View       deal.View      `json:"view"`
	Items      []deal.Summary `json:"items"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	TextFilter string         `json:"text_filter,omitempty"`
	DateFilter string         `json:"date_filter,omitempty"`
	Error      *string        `json:"error"`
}

// Load fetches page and makes it the current page.
func (b *Board) Load(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}

	b.mu.Lock()
	b.gen++
	gen, actor := b.gen, b.actor
	b.mu.Unlock()

	ctx = b.creds(ctx, actor)
	result, err := b.lister.List(ctx, b.view, page, b.pageSize)

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return err
	}
	if err != nil {
		unauthorized := deal.IsUnauthorized(err)
		if !unauthorized {
			msg := deal.UserMessage(err)
			b.lastError = &msg
		}
		b.mu.Unlock()

		logger.L.Warn("dashboard load failed", "actor", actor.ID, "view", b.view, "page", page, "error", err)
		if unauthorized && b.onLogout != nil {
			b.onLogout(actor)
		}
		return err
	}

	b.items = append([]deal.Summary{}, result.Items...)
	b.page = result.Page
	if b.page < 1 {
		b.page = page
	}
	b.totalPages = result.TotalPages
	b.loaded = true
	// An invalidation that arrived while this load was in flight still holds.
	if b.staleGen < gen {
		b.stale = false
	}
	b.lastError = nil
	b.mu.Unlock()
	return nil
}

// Current returns the board, refetching the current page first when it
// has never loaded or was invalidated.
func (b *Board) Current(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	need := !b.loaded || b.stale
	page := b.page
	b.mu.Unlock()

	var err error
	if need {
		err = b.Load(ctx, page)
	}
	return b.Snapshot(), err
}

// Invalidate marks the board for refetch.
func (b *Board) Invalidate() {
	b.mu.Lock()
	b.stale = true
	b.staleGen = b.gen
	b.mu.Unlock()
}

// SetTextFilter filters by client name, case-insensitively.
func (b *Board) SetTextFilter(q string) {
	b.mu.Lock()
	b.text = strings.TrimSpace(q)
	b.mu.Unlock()
}

// SetDateFilter keeps rows submitted on day. Nil clears the filter.
func (b *Board) SetDateFilter(day *time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if day == nil {
		b.day = nil
		return
	}
	d := day.In(b.loc)
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, b.loc)
	b.day = &d
}

// SetDay parses a DateLayout day in the board's location and sets it as
// the date filter. An empty string clears the filter.
func (b *Board) SetDay(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		b.SetDateFilter(nil)
		return nil
	}
	day, err := time.ParseInLocation(DateLayout, s, b.loc)
	if err != nil {
		return &deal.ValidationError{Message: fmt.Sprintf("date filter %q must be YYYY-MM-DD", s)}
	}
	b.SetDateFilter(&day)
	return nil
}

// Visible returns the loaded rows that pass both filters.
func (b *Board) Visible() []deal.Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visibleLocked()
}

func (b *Board) visibleLocked() []deal.Summary {
	q := strings.ToLower(b.text)
	out := make([]deal.Summary, 0, len(b.items))
	for _, s := range b.items {
		if q != "" && !strings.Contains(strings.ToLower(s.ClientName), q) {
			continue
		}
		if b.day != nil && !b.sameDay(s.SubmittedAt) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Board) sameDay(at *time.Time) bool {
	if at == nil {
		return false
	}
	t := at.In(b.loc)
	y, m, d := t.Date()
	fy, fm, fd := b.day.Date()
	return y == fy && m == fm && d == fd
}

// Snapshot returns the board without fetching.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		View:       b.view,
		Items:      b.visibleLocked(),
		Page:       b.page,
		TotalPages: b.totalPages,
		TextFilter: b.text,
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if b.day != nil {
		s.DateFilter = b.day.Format(DateLayout)
	}
	if b.lastError != nil {
		msg := *b.lastError
		s.Error = &msg
	}
	return s
}

// =============================================================================
// REGISTRY
// =============================================================================

// Config configures a Registry.
type Config struct {
	PageSize    int
	Location    *time.Location
	Credentials func(context.Context, session.Actor) context.Context
	OnLogout    func(session.Actor)
}

type boardKey struct {
	actorID string
	view    deal.View
}

// Registry creates boards lazily, one per actor and view.
type Registry struct {
	lister Lister
	cfg    Config

	mu     sync.Mutex
	boards map[boardKey]*Board
}

// NewRegistry creates a registry listing through l.
func NewRegistry(l Lister, cfg Config) *Registry {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Credentials == nil {
		cfg.Credentials = func(ctx context.Context, _ session.Actor) context.Context { return ctx }
	}
	return &Registry{lister: l, cfg: cfg, boards: map[boardKey]*Board{}}
}

// Board returns the actor's board for view. The actor's latest token is
// kept for later fetches.
func (r *Registry) Board(actor session.Actor, view deal.View) *Board {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := boardKey{actorID: actor.ID, view: view}
	if b, ok := r.boards[k]; ok {
		b.mu.Lock()
		b.actor = actor
		b.mu.Unlock()
		return b
	}
	b := &Board{
		actor:    actor,
		view:     view,
		lister:   r.lister,
		pageSize: r.cfg.PageSize,
		loc:      r.cfg.Location,
		creds:    r.cfg.Credentials,
		onLogout: r.cfg.OnLogout,
	}
	r.boards[k] = b
	return b
}

// InvalidateAll marks every board for refetch.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.boards {
		b.Invalidate()
	}
}
