package deal_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/deal"
)

func TestEffective_OverrideWinsOverBase(t *testing.T) {
	base := baseDetail()
	o := deal.NewOverlay(base)

	v, ok := deal.Effective(base, o, deal.FieldTermMonths)
	require.True(t, ok)
	assert.Equal(t, 24, v.Int())

	o = deal.Reduce(o, deal.UpdateField{Field: deal.FieldTermMonths, Value: deal.Int(36)})
	v, _ = deal.Effective(base, o, deal.FieldTermMonths)
	assert.Equal(t, 36, v.Int())
	assert.Equal(t, 24, base.Transaction.TermMonths, "base is immutable")
}

func TestEffective_PreviousMRCUnsetUntilOverridden(t *testing.T) {
	base := baseDetail()
	o := deal.NewOverlay(base)

	_, ok := deal.Effective(base, o, deal.FieldPreviousMRC)
	assert.False(t, ok)

	o = deal.Reduce(o, deal.UpdateField{Field: deal.FieldPreviousMRC, Value: deal.MoneyValue(deal.NewMoney(900, deal.CurrencyPEN))})
	tx := deal.EffectiveTransaction(base, o)
	require.NotNil(t, tx.PreviousMRC)
	assert.True(t, tx.PreviousMRC.Amount.Equal(decimal.NewFromInt(900)))
}

func TestAssemblePayload_StripsTimelineAndSubstitutesCollections(t *testing.T) {
	// GIVEN: A base snapshot with a timeline attached
	base := baseDetail()
	require.NotEmpty(t, base.Timeline)
	o := deal.NewOverlay(base)

	// WHEN: The draft is edited and a payload assembled
	o = deal.Reduce(o, deal.RemoveFixedCost{Ticket: "WIN-0"})
	o = deal.Reduce(o, deal.AddFixedCosts{Rows: []deal.FixedCost{fixed("WIN-9", 70)}})
	o = deal.Reduce(o, deal.UpdateField{Field: deal.FieldMRC, Value: deal.MoneyValue(deal.NewMoney(1500, deal.CurrencyUSD))})
	payload := deal.AssemblePayload(base, o)

	// THEN: No timeline, current collections, overridden scalars
	assert.Nil(t, payload.Timeline)
	assert.Equal(t, []string{"WIN-9"}, tickets(payload.FixedCosts))
	assert.Equal(t, deal.CurrencyUSD, payload.Transaction.MRC.Currency)
	assert.Equal(t, "20123", payload.Transaction.CompanyID)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"timeline"`)

	// And the base still carries its own collections
	assert.Equal(t, []string{"WIN-0"}, tickets(base.FixedCosts))
}

func TestAssemblePayload_EmptyTimelineBaseStillStripped(t *testing.T) {
	base := baseDetail()
	base.Timeline = nil
	payload := deal.AssemblePayload(base, deal.NewOverlay(base))
	assert.Nil(t, payload.Timeline)
}

func TestDisplayKPIs_FallsBackToBase(t *testing.T) {
	base := baseDetail()
	base.Transaction.KPIs.NPV = decimal.NewFromInt(10)
	o := deal.NewOverlay(base)

	assert.True(t, deal.DisplayKPIs(base, o).NPV.Equal(decimal.NewFromInt(10)))

	o = deal.Reduce(o, deal.SetComputedKPIs{Bundle: deal.Bundle{KPIs: deal.KPIs{NPV: decimal.NewFromInt(99)}}})
	assert.True(t, deal.DisplayKPIs(base, o).NPV.Equal(decimal.NewFromInt(99)))

	o = deal.Reduce(o, deal.RecalculationFailed{Message: "x"})
	assert.True(t, deal.DisplayKPIs(base, o).NPV.Equal(decimal.NewFromInt(10)))
}

func TestChangeDetection(t *testing.T) {
	base := baseDetail()
	o := deal.NewOverlay(base)
	assert.False(t, deal.FixedCostsChanged(base, o))
	assert.False(t, deal.RecurringChanged(base, o))

	o = deal.Reduce(o, deal.UpdateField{Field: deal.FieldTermMonths, Value: deal.Int(24)})
	o = deal.Reduce(o, deal.UpdateField{Field: deal.FieldRegion, Value: deal.Text("NORTE")})
	changed := deal.ChangedFields(base, o)
	assert.Len(t, changed, 1)
	assert.Contains(t, changed, deal.FieldRegion)

	o = deal.Reduce(o, deal.RemoveRecurringService{Code: "Q-000"})
	assert.True(t, deal.RecurringChanged(base, o))
}

func TestChangeDetection_NumericallyEqualRowsAreUnchanged(t *testing.T) {
	base := baseDetail()
	o := deal.NewOverlay(base)

	// GIVEN: A cell edited away and back to a value written differently
	row, err := deal.ApplyFixedCostCell(o.FixedCosts[0], "quantity", json.RawMessage(`3`))
	require.NoError(t, err)
	o = deal.Reduce(o, deal.ReplaceFixedCost{Index: 0, Row: row})
	assert.True(t, deal.FixedCostsChanged(base, o))

	row, err = deal.ApplyFixedCostCell(o.FixedCosts[0], "quantity", json.RawMessage(`"1.00"`))
	require.NoError(t, err)
	o = deal.Reduce(o, deal.ReplaceFixedCost{Index: 0, Row: row})

	// THEN: The collection counts as unchanged and stays out of the review
	assert.False(t, deal.FixedCostsChanged(base, o))
	assert.Nil(t, deal.BuildReview(base, o, "").FixedCosts)
}

func TestIsPlaceholderID(t *testing.T) {
	for _, id := range []string{"", "  ", "-", "0", "n/a", "NA", "s/n"} {
		assert.True(t, deal.IsPlaceholderID(id), id)
	}
	assert.False(t, deal.IsPlaceholderID("20123"))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "WIN-1", deal.NormalizeCode("  win-1 "))
}
