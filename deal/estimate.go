/*
estimate.go - Per-row client-side estimates for cell editors

PURPOSE:
  When a user edits a line-item cell, the editor shows the row's own totals
  immediately. Those numbers are a preview only: quantity times unit
  values, converted through a configured rate table. The next successful
  recalculation supersedes them. Deal KPIs are never estimated here.

RATES:
  Rates maps a currency to its value in a common reference currency.
  Converting between two currencies goes through that reference.
  Missing currencies convert at 1.

SEE ALSO:
  - session/cells.go: applies a cell edit, re-estimates, dispatches Replace*
*/
package deal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rates is a currency conversion table for estimates.
type Rates map[Currency]decimal.Decimal

// Convert expresses amount (in from) in to.
func (r Rates) Convert(amount decimal.Decimal, from, to Currency) decimal.Decimal {
	if from == to || from == "" || to == "" {
		return amount
	}
	fromRate, ok := r[from]
	if !ok || fromRate.IsZero() {
		fromRate = decimal.NewFromInt(1)
	}
	toRate, ok := r[to]
	if !ok || toRate.IsZero() {
		toRate = decimal.NewFromInt(1)
	}
	return amount.Mul(fromRate).Div(toRate).Round(4)
}

// EstimateFixedCost refreshes a fixed-cost row's total.
func EstimateFixedCost(row FixedCost) FixedCost {
	row.Total = Money{
		Amount:   row.Quantity.Mul(row.UnitCost.Amount),
		Currency: row.UnitCost.Currency,
	}
	return row
}

// EstimateRecurring refreshes a recurring row's monthly income and cost,
// both expressed in the unit price currency.
func EstimateRecurring(row RecurringService, rates Rates) RecurringService {
	row.MonthlyIncome = row.Quantity.Mul(row.UnitPrice.Amount)
	unitCost := row.Cost1.Add(row.Cost2)
	row.MonthlyCost = rates.Convert(row.Quantity.Mul(unitCost), row.CostCurrency, row.UnitPrice.Currency)
	return row
}

// =============================================================================
// CELL EDITS
// =============================================================================

// ApplyFixedCostCell sets one column of a fixed-cost row from raw JSON.
func ApplyFixedCostCell(row FixedCost, column string, raw json.RawMessage) (FixedCost, error) {
	var err error
	switch column {
	case "description":
		err = json.Unmarshal(raw, &row.Description)
	case "quantity":
		row.Quantity, err = decodeNonNegative(raw)
	case "unit_cost":
		var m Money
		if err = json.Unmarshal(raw, &m); err == nil {
			err = checkMoney(m)
			row.UnitCost = m
		}
	case "start_period":
		err = decodePositiveInt(raw, &row.StartPeriod)
	case "duration_months":
		err = decodePositiveInt(raw, &row.DurationMonths)
	default:
		return row, &ValidationError{Message: fmt.Sprintf("fixed cost column %q is not editable", column)}
	}
	if err != nil {
		return row, asValidation(column, err)
	}
	return EstimateFixedCost(row), nil
}

// ApplyRecurringCell sets one column of a recurring row from raw JSON.
func ApplyRecurringCell(row RecurringService, column string, raw json.RawMessage, rates Rates) (RecurringService, error) {
	var err error
	switch column {
	case "description":
		err = json.Unmarshal(raw, &row.Description)
	case "quantity":
		row.Quantity, err = decodeNonNegative(raw)
	case "unit_price":
		var m Money
		if err = json.Unmarshal(raw, &m); err == nil {
			err = checkMoney(m)
			row.UnitPrice = m
		}
	case "cost1":
		row.Cost1, err = decodeNonNegative(raw)
	case "cost2":
		row.Cost2, err = decodeNonNegative(raw)
	case "cost_currency":
		var c Currency
		if err = json.Unmarshal(raw, &c); err == nil && !c.Valid() {
			err = fmt.Errorf("unsupported currency %q", c)
		}
		row.CostCurrency = c
	default:
		return row, &ValidationError{Message: fmt.Sprintf("recurring service column %q is not editable", column)}
	}
	if err != nil {
		return row, asValidation(column, err)
	}
	return EstimateRecurring(row, rates), nil
}

// ValidateRecurringRow applies the cell rules to a whole replacement row.
func ValidateRecurringRow(row RecurringService) error {
	if strings.TrimSpace(row.ID) == "" {
		return &ValidationError{Message: "id: required"}
	}
	for _, c := range []struct {
		column string
		value  decimal.Decimal
	}{{"quantity", row.Quantity}, {"cost1", row.Cost1}, {"cost2", row.Cost2}} {
		if c.value.IsNegative() {
			return asValidation(c.column, fmt.Errorf("cannot be negative"))
		}
	}
	if err := checkMoney(row.UnitPrice); err != nil {
		return asValidation("unit_price", err)
	}
	if !row.CostCurrency.Valid() {
		return asValidation("cost_currency", fmt.Errorf("unsupported currency %q", row.CostCurrency))
	}
	return nil
}

func decodeNonNegative(raw json.RawMessage) (decimal.Decimal, error) {
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, err
	}
	if d.IsNegative() {
		return d, fmt.Errorf("cannot be negative")
	}
	return d, nil
}

func decodePositiveInt(raw json.RawMessage, dst *int) error {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("must be positive")
	}
	*dst = n
	return nil
}

func checkMoney(m Money) error {
	if m.Amount.IsNegative() {
		return fmt.Errorf("cannot be negative")
	}
	if !m.Currency.Valid() {
		return fmt.Errorf("unsupported currency %q", m.Currency)
	}
	return nil
}

func asValidation(column string, err error) error {
	return &ValidationError{Message: fmt.Sprintf("%s: %v", column, err)}
}
