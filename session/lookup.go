/*
lookup.go - Code lookup and merge

PURPOSE:
  Users add line items by typing a code. The code is normalized, checked
  against what is already loaded (no network call for duplicates), resolved
  remotely, and merged into the draft.

CLIENT IDENTITY:
  Every recurring row belongs to a client. A draft with a placeholder
  company id adopts the identity of the first merged code; after that,
  codes for any other client are refused with both identities named.

  Rows of one lookup must agree on a non-empty identity, otherwise the
  code is refused as a whole.

FAILURES:
  Every failure is returned and recorded as the draft banner, except 401
  which fires the logout hook instead.
*/
package session

import (
	"context"
	"fmt"

	"github.com/warp/deal-desk/deal"
)

// AddFixedCostCode resolves a ticket and appends its rows.
func (d *Draft) AddFixedCostCode(ctx context.Context, code string) error {
	code, err := d.beginLookup(code)
	if err != nil {
		return d.report(err)
	}
	if d.loadedTicket(code) {
		return d.report(&deal.DuplicateCodeError{Code: code, Collection: "fixed_costs"})
	}

	rows, err := d.lookup.LookupFixedCosts(d.creds(ctx, d.Actor), []string{code})
	if err != nil {
		return d.report(err)
	}
	if len(rows) == 0 {
		return d.report(&deal.CodeNotFoundError{Code: code})
	}
	for i := range rows {
		if rows[i].Ticket == "" {
			rows[i].Ticket = code
		}
	}

	return d.report(d.dispatch(deal.AddFixedCosts{Rows: rows}))
}

// AddRecurringServiceCode resolves a service code, checks its client
// identity against the draft and appends its rows.
func (d *Draft) AddRecurringServiceCode(ctx context.Context, code string) error {
	code, err := d.beginLookup(code)
	if err != nil {
		return d.report(err)
	}
	if d.loadedService(code) {
		return d.report(&deal.DuplicateCodeError{Code: code, Collection: "recurring_services"})
	}

	results, err := d.lookup.LookupRecurringServices(d.creds(ctx, d.Actor), []string{code})
	if err != nil {
		return d.report(err)
	}
	if len(results) == 0 {
		return d.report(&deal.CodeNotFoundError{Code: code})
	}

	found, err := sharedIdentity(code, results)
	if err != nil {
		return d.report(err)
	}
	rows := make([]deal.RecurringService, len(results))
	for i, r := range results {
		rows[i] = r.Service
		if rows[i].ID == "" {
			rows[i].ID = code
		}
	}

	return d.report(d.mergeRecurring(code, found, rows))
}

// mergeRecurring checks the draft identity and merges under one lock.
func (d *Draft) mergeRecurring(code string, found deal.ClientIdentity, rows []deal.RecurringService) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return deal.ErrDraftClosed
	}
	if err := deal.CheckEdit(d.status, d.Actor.Role, d.View); err != nil {
		return err
	}

	current := deal.CurrentClient(d.base, d.overlay)
	switch {
	case deal.IsPlaceholderID(current.TaxID):
		// Nothing is adopted for a code that would be refused.
		if err := d.precheck(deal.AddRecurringServices{Rows: rows}); err != nil {
			return err
		}
		adopt := deal.UpdateFields{Values: map[deal.Field]deal.Value{
			deal.FieldCompanyID:  deal.Text(found.TaxID),
			deal.FieldClientName: deal.Text(found.Name),
		}}
		// Subscribers see the identity and the rows land together.
		if err := d.applyLocked(adopt); err != nil {
			return err
		}
		err := d.applyLocked(deal.AddRecurringServices{Rows: rows})
		d.notifyLocked()
		return err
	case deal.NormalizeCode(current.TaxID) != deal.NormalizeCode(found.TaxID):
		return &deal.ClientMismatchError{Code: code, Current: current, Found: found}
	}

	return d.dispatchLocked(deal.AddRecurringServices{Rows: rows})
}

func sharedIdentity(code string, results []deal.RecurringLookup) (deal.ClientIdentity, error) {
	var identities []deal.ClientIdentity
	seen := map[string]bool{}
	for _, r := range results {
		key := deal.NormalizeCode(r.Client.TaxID)
		if key == "" {
			return deal.ClientIdentity{}, &deal.ValidationError{
				Message: fmt.Sprintf("code %s has no client identity", code),
			}
		}
		if !seen[key] {
			seen[key] = true
			identities = append(identities, r.Client)
		}
	}
	if len(identities) > 1 {
		return deal.ClientIdentity{}, &deal.ConflictingIdentityError{Code: code, Identities: identities}
	}
	return identities[0], nil
}

// RemoveFixedCostCode removes every row carrying ticket.
func (d *Draft) RemoveFixedCostCode(ticket string) error {
	return d.Dispatch(deal.RemoveFixedCost{Ticket: deal.NormalizeCode(ticket)})
}

// RemoveRecurringServiceCode removes every row carrying code.
func (d *Draft) RemoveRecurringServiceCode(code string) error {
	return d.Dispatch(deal.RemoveRecurringService{Code: deal.NormalizeCode(code)})
}

// beginLookup normalizes code and checks the gate before any network call.
func (d *Draft) beginLookup(code string) (string, error) {
	code = deal.NormalizeCode(code)
	if code == "" {
		return "", &deal.ValidationError{Message: "code is required"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", deal.ErrDraftClosed
	}
	if err := deal.CheckEdit(d.status, d.Actor.Role, d.View); err != nil {
		return "", err
	}
	d.lastActive = d.now()
	return code, nil
}

func (d *Draft) loadedTicket(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return deal.LoadedTickets(d.overlay)[code]
}

func (d *Draft) loadedService(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return deal.LoadedServiceCodes(d.overlay)[code]
}
