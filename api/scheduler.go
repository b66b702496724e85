/*
scheduler.go - Idle draft reaper

PURPOSE:
  Drafts live in memory, one per open modal. A browser that closes without
  discarding its draft leaves it behind. The reaper periodically discards
  drafts with no activity for longer than the idle TTL.

DESIGN:
  - Runs on a cron schedule (robfig/cron), "@every 5m" by default
  - Each tick calls Manager.ExpireIdle, which audits every expiry
  - Records each tick as a reaper run for the admin endpoint

CONFIGURATION:
  - Schedule: cron expression or "@every <duration>"
  - TTL:      idle time after which a draft expires
  - Enabled:  whether the reaper is active (default: true)

USAGE:
  reaper := NewDraftReaper(manager, store, 30*time.Minute, "@every 5m")
  if err := reaper.Start(); err != nil {
      return err
  }
  defer reaper.Stop()

SEE ALSO:
  - session/manager.go: ExpireIdle
  - store/sqlite/sqlite.go: reaper_runs table
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/warp/deal-desk/logger"
	"github.com/warp/deal-desk/store/sqlite"
)

// Expirer discards idle drafts.
type Expirer interface {
	ExpireIdle(ctx context.Context, ttl time.Duration) int
}

// RunRecorder persists reaper runs.
type RunRecorder interface {
	SaveReaperRun(ctx context.Context, run sqlite.ReaperRun) error
}

// DraftReaper expires idle drafts on a schedule.
type DraftReaper struct {
	Drafts   Expirer
	Runs     RunRecorder
	TTL      time.Duration
	Schedule string
	Location *time.Location
	Enabled  bool

	cron *cron.Cron
	mu   sync.Mutex
	log  *slog.Logger
	now  func() time.Time
}

// NewDraftReaper creates a reaper. runs may be nil.
func NewDraftReaper(drafts Expirer, runs RunRecorder, ttl time.Duration, schedule string) *DraftReaper {
	return &DraftReaper{
		Drafts:   drafts,
		Runs:     runs,
		TTL:      ttl,
		Schedule: schedule,
		Location: time.UTC,
		Enabled:  true,
		log:      logger.L.With("component", "reaper"),
		now:      time.Now,
	}
}

// Start schedules the reaper.
func (dr *DraftReaper) Start() error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if !dr.Enabled {
		dr.log.Info("[Reaper] Disabled, not starting")
		return nil
	}
	if dr.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(dr.Location))
	if _, err := c.AddFunc(dr.Schedule, func() { dr.RunNow() }); err != nil {
		return fmt.Errorf("unable to schedule draft reaper: %w", err)
	}
	c.Start()
	dr.cron = c

	dr.log.Info("[Reaper] Started", "schedule", dr.Schedule, "ttl", dr.TTL)
	return nil
}

// Stop stops the reaper and waits for a running tick to finish.
func (dr *DraftReaper) Stop() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.cron != nil {
		<-dr.cron.Stop().Done()
		dr.cron = nil
		dr.log.Info("[Reaper] Stopped")
	}
}

// RunNow expires idle drafts immediately and returns how many expired.
func (dr *DraftReaper) RunNow() int {
	ctx := context.Background()
	run := sqlite.ReaperRun{
		ID:        "run-" + uuid.NewString(),
		Status:    "running",
		StartedAt: dr.now(),
	}
	dr.save(ctx, run)

	run.Expired = dr.Drafts.ExpireIdle(ctx, dr.TTL)

	completed := dr.now()
	run.Status = "completed"
	run.CompletedAt = &completed
	dr.save(ctx, run)

	if run.Expired > 0 {
		dr.log.Info("[Reaper] Completed", "expired", run.Expired)
	}
	return run.Expired
}

// NextRun returns when the next scheduled tick will occur. Zero when the
// reaper is not running.
func (dr *DraftReaper) NextRun() time.Time {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.cron == nil {
		return time.Time{}
	}
	entries := dr.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (dr *DraftReaper) save(ctx context.Context, run sqlite.ReaperRun) {
	if dr.Runs == nil {
		return
	}
	if err := dr.Runs.SaveReaperRun(ctx, run); err != nil {
		dr.log.Warn("[Reaper] Failed to save run record", "run_id", run.ID, "error", err)
	}
}
