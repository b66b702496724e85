/*
Package deal provides the domain model of the deal desk: transactions,
line items, the draft overlay, and the pure reducer that edits it.

PURPOSE:
  A salesperson proposes a transaction (pricing, recurring services,
  one-time investment costs), finance reviews it, and a remote service
  computes every financial KPI. This package holds the data shapes and the
  pure rules only. It performs no I/O and computes no financial formula.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal amount tagged with its currency
  - Transaction: the scalar record of a deal, with a KPI display cache
  - FixedCost / RecurringService: the two line-item collections
  - Detail: transaction + collections + timeline, the base snapshot
  - Bundle: what one remote recalculation returns

DESIGN PRINCIPLES:
  1. Precision: all money and KPI values use decimal.Decimal
  2. Display cache: KPIs on a Transaction are never authoritative
  3. Identity: client identity travels beside recurring rows, not in them

SEE ALSO:
  - fields.go: editable scalar fields and typed values
  - overlay.go: base + overlay, effective accessor, payload assembly
  - reducer.go: the only place an overlay changes
*/
package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

type Currency string

const (
	CurrencyPEN Currency = "PEN"
	CurrencyUSD Currency = "USD"
)

// Valid reports whether c is a currency the calculation service accepts.
func (c Currency) Valid() bool {
	return c == CurrencyPEN || c == CurrencyUSD
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func NewMoney(amount float64, currency Currency) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

func (m Money) IsZero() bool                { return m.Amount.IsZero() }
func (m Money) Equal(o Money) bool          { return m.Currency == o.Currency && m.Amount.Equal(o.Amount) }
func (m Money) Mul(d decimal.Decimal) Money { return Money{Amount: m.Amount.Mul(d), Currency: m.Currency} }

// =============================================================================
// STATUS, ROLES, VIEWS
// =============================================================================

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Final reports whether no actor may edit a transaction in this status.
func (s Status) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

type Role string

const (
	RoleSales   Role = "SALES"
	RoleFinance Role = "FINANCE"
	RoleAdmin   Role = "ADMIN"
)

// View is the screen a draft was opened from.
type View string

const (
	ViewSales   View = "sales"
	ViewFinance View = "finance"
)

func (v View) Valid() bool {
	return v == ViewSales || v == ViewFinance
}

// =============================================================================
// KPIs - computed remotely, displayed locally
// =============================================================================

// KPIs are the financial outputs of the calculation service.
type KPIs struct {
	Margin          decimal.Decimal `json:"margin"`
	MarginPct       decimal.Decimal `json:"margin_pct"`
	PaybackMonths   decimal.Decimal `json:"payback_months"`
	NPV             decimal.Decimal `json:"npv"`
	IRR             decimal.Decimal `json:"irr"`
	Commission      decimal.Decimal `json:"commission"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// TimelinePoint is one month of the projected cash flow.
type TimelinePoint struct {
	Period     int             `json:"period"`
	Income     decimal.Decimal `json:"income"`
	Cost       decimal.Decimal `json:"cost"`
	Investment decimal.Decimal `json:"investment"`
	NetFlow    decimal.Decimal `json:"net_flow"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// Bundle is the result of one recalculation: KPIs plus the timeline.
type Bundle struct {
	KPIs     KPIs            `json:"kpis"`
	Timeline []TimelinePoint `json:"timeline,omitempty"`
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is the scalar record of a deal proposal.
type Transaction struct {
	ID              string     `json:"id,omitempty"`
	TransactionCode string     `json:"transaction_code,omitempty"`
	ClientName      string     `json:"client_name"`
	CompanyID       string     `json:"company_id"`
	BusinessUnit    string     `json:"business_unit"`
	TermMonths      int        `json:"term_months"`
	MRC             Money      `json:"mrc"`
	NRC             Money      `json:"nrc"`
	Status          Status     `json:"status"`
	Region          string     `json:"region,omitempty"`
	SaleType        string     `json:"sale_type,omitempty"`
	PreviousMRC     *Money     `json:"previous_mrc,omitempty"`
	Salesperson     string     `json:"salesperson,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`

	// Last-known server output. Display cache only.
	KPIs KPIs `json:"kpis"`
}

// ClientIdentity is the (tax id, name) pair every line item of a draft
// must share.
type ClientIdentity struct {
	TaxID string `json:"ruc"`
	Name  string `json:"client_name"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// FixedCost is a one-time investment line. Several rows may share a ticket.
type FixedCost struct {
	Ticket         string          `json:"ticket"`
	Description    string          `json:"description,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       Money           `json:"unit_cost"`
	StartPeriod    int             `json:"start_period"`
	DurationMonths int             `json:"duration_months"`
	Total          Money           `json:"total"`
}

// RecurringService is a monthly line. Both cost components share CostCurrency.
type RecurringService struct {
	ID            string          `json:"id"`
	Description   string          `json:"description,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     Money           `json:"unit_price"`
	Cost1         decimal.Decimal `json:"cost1"`
	Cost2         decimal.Decimal `json:"cost2"`
	CostCurrency  Currency        `json:"cost_currency"`
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	MonthlyCost   decimal.Decimal `json:"monthly_cost"`
}

// Equal compares rows by value; numerically equal amounts match.
func (f FixedCost) Equal(o FixedCost) bool {
	return f.Ticket == o.Ticket &&
		f.Description == o.Description &&
		f.Quantity.Equal(o.Quantity) &&
		f.UnitCost.Equal(o.UnitCost) &&
		f.StartPeriod == o.StartPeriod &&
		f.DurationMonths == o.DurationMonths &&
		f.Total.Equal(o.Total)
}

// Equal compares rows by value; numerically equal amounts match.
func (r RecurringService) Equal(o RecurringService) bool {
	return r.ID == o.ID &&
		r.Description == o.Description &&
		r.Quantity.Equal(o.Quantity) &&
		r.UnitPrice.Equal(o.UnitPrice) &&
		r.Cost1.Equal(o.Cost1) &&
		r.Cost2.Equal(o.Cost2) &&
		r.CostCurrency == o.CostCurrency &&
		r.MonthlyIncome.Equal(o.MonthlyIncome) &&
		r.MonthlyCost.Equal(o.MonthlyCost)
}

// RecurringLookup is a canonical recurring row as the lookup returns it,
// with the client identity it belongs to at source.
type RecurringLookup struct {
	Service RecurringService `json:"service"`
	Client  ClientIdentity   `json:"client"`
}

// =============================================================================
// DETAIL - the full snapshot a draft is opened on
// =============================================================================

// Detail is a transaction with both collections and its display timeline.
type Detail struct {
	Transaction       Transaction        `json:"transaction"`
	FixedCosts        []FixedCost        `json:"fixed_costs"`
	RecurringServices []RecurringService `json:"recurring_services"`
	Timeline          []TimelinePoint    `json:"timeline,omitempty"`
}

// Clone returns a deep copy so callers can never alias a base snapshot.
func (d Detail) Clone() Detail {
	out := d
	out.FixedCosts = append([]FixedCost(nil), d.FixedCosts...)
	out.RecurringServices = append([]RecurringService(nil), d.RecurringServices...)
	out.Timeline = append([]TimelinePoint(nil), d.Timeline...)
	if d.Transaction.PreviousMRC != nil {
		prev := *d.Transaction.PreviousMRC
		out.Transaction.PreviousMRC = &prev
	}
	if d.Transaction.SubmittedAt != nil {
		at := *d.Transaction.SubmittedAt
		out.Transaction.SubmittedAt = &at
	}
	return out
}

// =============================================================================
// DASHBOARD ROWS
// =============================================================================

// Summary is one row of a dashboard list.
type Summary struct {
	ID              string     `json:"id"`
	TransactionCode string     `json:"transaction_code,omitempty"`
	ClientName      string     `json:"client_name"`
	CompanyID       string     `json:"company_id"`
	BusinessUnit    string     `json:"business_unit"`
	Status          Status     `json:"status"`
	MRC             Money      `json:"mrc"`
	Salesperson     string     `json:"salesperson,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	KPIs            KPIs       `json:"kpis"`
}

// SummaryPage is one page of a dashboard list.
type SummaryPage struct {
	Items      []Summary `json:"items"`
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
}
