package session

import (
	"encoding/json"

	"github.com/warp/deal-desk/deal"
)

// EditFixedCostCell changes one column of the fixed-cost row at index and
// refreshes the row's local total before replacing it.
func (d *Draft) EditFixedCostCell(index int, column string, raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.editFixedCostCellLocked(index, column, raw)
	d.bannerLocked(err)
	return err
}

func (d *Draft) editFixedCostCellLocked(index int, column string, raw json.RawMessage) error {
	if err := d.cellGateLocked(index, len(d.overlay.FixedCosts), "fixed cost"); err != nil {
		return err
	}
	row, err := deal.ApplyFixedCostCell(d.overlay.FixedCosts[index], column, raw)
	if err != nil {
		return err
	}
	return d.dispatchLocked(deal.ReplaceFixedCost{Index: index, Row: row})
}

// EditRecurringCell changes one column of the recurring row at index and
// refreshes its monthly income and cost estimates.
func (d *Draft) EditRecurringCell(index int, column string, raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.editRecurringCellLocked(index, column, raw)
	d.bannerLocked(err)
	return err
}

func (d *Draft) editRecurringCellLocked(index int, column string, raw json.RawMessage) error {
	if err := d.cellGateLocked(index, len(d.overlay.RecurringServices), "recurring service"); err != nil {
		return err
	}
	row, err := deal.ApplyRecurringCell(d.overlay.RecurringServices[index], column, raw, d.rates)
	if err != nil {
		return err
	}
	return d.dispatchLocked(deal.ReplaceRecurringService{Index: index, Row: row})
}

// ReplaceRecurringRow replaces the recurring row at index with row, after
// validating it and refreshing its estimates. The row may not take a code
// another row already carries.
func (d *Draft) ReplaceRecurringRow(index int, row deal.RecurringService) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.replaceRecurringRowLocked(index, row)
	d.bannerLocked(err)
	return err
}

func (d *Draft) replaceRecurringRowLocked(index int, row deal.RecurringService) error {
	if err := d.cellGateLocked(index, len(d.overlay.RecurringServices), "recurring service"); err != nil {
		return err
	}
	if err := deal.ValidateRecurringRow(row); err != nil {
		return err
	}
	return d.dispatchLocked(deal.ReplaceRecurringService{Index: index, Row: deal.EstimateRecurring(row, d.rates)})
}

// RemoveRecurringRow removes the recurring row at index.
func (d *Draft) RemoveRecurringRow(index int) error {
	return d.Dispatch(deal.RemoveRecurringServiceAt{Index: index})
}

func (d *Draft) cellGateLocked(index, n int, what string) error {
	if d.closed {
		return deal.ErrDraftClosed
	}
	if err := deal.CheckEdit(d.status, d.Actor.Role, d.View); err != nil {
		return err
	}
	return checkIndex(index, n, what)
}
