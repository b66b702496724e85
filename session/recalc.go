/*
recalc.go - Recalculation orchestrator

PURPOSE:
  Sends the assembled payload of every recalculating edit to the preview
  endpoint and feeds the response back into the draft.

LATEST-TOKEN-WINS:
  Each edit issues token n+1. Requests run concurrently and may finish in
  any order. A response is applied only if its token is still the latest
  issued for that draft; older responses are dropped, so a slow early
  response can never overwrite the KPIs of a later edit.

OUTCOMES:
  success          -> SetComputedKPIs(bundle)
  401              -> KPIs dropped, no banner, logout hook fired
  anything else    -> RecalculationFailed(user message)

  No retries. A discarded draft drops every response.
*/
package session

import (
	"context"
	"log/slog"

	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/logger"
)

// Orchestrator runs recalculations for every draft of a Manager.
type Orchestrator struct {
	previewer Previewer
	log       *slog.Logger
}

// NewOrchestrator creates an orchestrator calling p.
func NewOrchestrator(p Previewer) *Orchestrator {
	return &Orchestrator{previewer: p}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.log != nil {
		return o.log
	}
	return logger.L
}

// run calls the preview endpoint and applies the outcome to d.
func (o *Orchestrator) run(ctx context.Context, d *Draft, token uint64, payload deal.Detail) {
	bundle, err := o.previewer.Preview(ctx, payload)
	d.applyRecalc(token, bundle, err, o.logger())
}

func (d *Draft) startRecalcLocked(token uint64, payload deal.Detail) {
	if d.orch == nil {
		return
	}
	if d.pending == 0 {
		d.settled = make(chan struct{})
	}
	d.pending++
	go d.orch.run(d.ctx, d, token, payload)
}

func (d *Draft) applyRecalc(token uint64, bundle deal.Bundle, err error, log *slog.Logger) {
	logout := false

	d.mu.Lock()
	switch {
	case d.closed:
		log.Debug("dropping recalculation for closed draft", "draft_id", d.ID, "token", token)
	case token != d.token:
		log.Debug("dropping stale recalculation", "draft_id", d.ID, "token", token, "latest", d.token)
	case err == nil:
		_ = d.dispatchLocked(deal.SetComputedKPIs{Bundle: bundle})
	case deal.IsUnauthorized(err):
		logout = true
		_ = d.dispatchLocked(deal.RecalculationFailed{})
	default:
		log.Warn("recalculation failed", "draft_id", d.ID, "token", token, "error", err)
		_ = d.dispatchLocked(deal.RecalculationFailed{Message: deal.UserMessage(err)})
	}

	d.pending--
	if d.pending == 0 {
		close(d.settled)
		d.notifyLocked()
	}
	d.mu.Unlock()

	if logout {
		d.logout()
	}
}
