/*
overlay.go - Base snapshot + overlay, effective values, payload assembly

PURPOSE:
  A draft never edits its base snapshot. Edits live in an Overlay:
  sparse field overrides, the two current line-item collections, the last
  bundle the calculation service returned, and the banner message.

EFFECTIVE VALUE:
  effective(field) = overrides[field] ?? base[field]
  Effective() is the only accessor; nothing reads overrides ad hoc.

PAYLOAD ASSEMBLY:
  base scalars + overrides, current collections instead of the base ones,
  timeline stripped (the calculation service recomputes it).

SEE ALSO:
  - reducer.go: produces new overlays
  - session/recalc.go: sends AssemblePayload() to the preview endpoint
*/
package deal

import (
	"sort"
	"strings"
)

// Overlay is the mutable part of a draft.
type Overlay struct {
	FieldOverrides    map[Field]Value
	FixedCosts        []FixedCost
	RecurringServices []RecurringService
	LastComputed      *Bundle
	LastError         *string
}

// NewOverlay starts an overlay with copies of the base collections.
func NewOverlay(base Detail) Overlay {
	return Overlay{
		FieldOverrides:    map[Field]Value{},
		FixedCosts:        append([]FixedCost{}, base.FixedCosts...),
		RecurringServices: append([]RecurringService{}, base.RecurringServices...),
	}
}

// Effective returns the current value of f for a draft.
func Effective(base Detail, o Overlay, f Field) (Value, bool) {
	if v, ok := o.FieldOverrides[f]; ok {
		return v, true
	}
	return base.Transaction.Get(f)
}

// EffectiveText is Effective for text fields; unset reads as "".
func EffectiveText(base Detail, o Overlay, f Field) string {
	v, ok := Effective(base, o, f)
	if !ok || v.Kind() != KindText {
		return ""
	}
	return v.Text()
}

// EffectiveTransaction applies every override to a copy of the base record.
func EffectiveTransaction(base Detail, o Overlay) Transaction {
	tx := base.Clone().Transaction
	for _, f := range SortedFields(o.FieldOverrides) {
		// Overrides are kind-checked before dispatch.
		_ = tx.Set(f, o.FieldOverrides[f])
	}
	return tx
}

// AssemblePayload builds the full draft payload sent for recalculation,
// submission and review. The timeline is always stripped.
func AssemblePayload(base Detail, o Overlay) Detail {
	return Detail{
		Transaction:       EffectiveTransaction(base, o),
		FixedCosts:        append([]FixedCost{}, o.FixedCosts...),
		RecurringServices: append([]RecurringService{}, o.RecurringServices...),
	}
}

// DisplayKPIs is what the UI shows: the last computed bundle when there is
// one, else the base record's cached KPIs.
func DisplayKPIs(base Detail, o Overlay) KPIs {
	if o.LastComputed != nil {
		return o.LastComputed.KPIs
	}
	return base.Transaction.KPIs
}

// FixedCostsChanged reports whether the current fixed costs differ from base.
func FixedCostsChanged(base Detail, o Overlay) bool {
	return !sameRows(base.FixedCosts, o.FixedCosts, FixedCost.Equal)
}

// RecurringChanged reports whether the current recurring rows differ from base.
func RecurringChanged(base Detail, o Overlay) bool {
	return !sameRows(base.RecurringServices, o.RecurringServices, RecurringService.Equal)
}

// ChangedFields returns overrides whose value differs from the base.
func ChangedFields(base Detail, o Overlay) map[Field]Value {
	out := map[Field]Value{}
	for f, v := range o.FieldOverrides {
		if bv, ok := base.Transaction.Get(f); ok && bv.Equal(v) {
			continue
		}
		out[f] = v
	}
	return out
}

// =============================================================================
// CLIENT IDENTITY
// =============================================================================

var placeholderIDs = map[string]bool{
	"":    true,
	"-":   true,
	"0":   true,
	"N/A": true,
	"NA":  true,
	"S/N": true,
}

// IsPlaceholderID reports whether a company id counts as unset.
func IsPlaceholderID(id string) bool {
	return placeholderIDs[strings.ToUpper(strings.TrimSpace(id))]
}

// CurrentClient returns the draft's effective client identity.
func CurrentClient(base Detail, o Overlay) ClientIdentity {
	return ClientIdentity{
		TaxID: EffectiveText(base, o, FieldCompanyID),
		Name:  EffectiveText(base, o, FieldClientName),
	}
}

// NormalizeCode trims and upper-cases a human-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LoadedTickets returns the normalized tickets currently in o.
func LoadedTickets(o Overlay) map[string]bool {
	out := make(map[string]bool, len(o.FixedCosts))
	for _, fc := range o.FixedCosts {
		out[NormalizeCode(fc.Ticket)] = true
	}
	return out
}

// LoadedServiceCodes returns the normalized recurring codes currently in o.
func LoadedServiceCodes(o Overlay) map[string]bool {
	out := make(map[string]bool, len(o.RecurringServices))
	for _, rs := range o.RecurringServices {
		out[NormalizeCode(rs.ID)] = true
	}
	return out
}

// SortedFields returns the keys of m in order.
func SortedFields(m map[Field]Value) []Field {
	fields := make([]Field, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

func sameRows[T any](a, b []T, eq func(T, T) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !eq(a[i], b[i]) {
			return false
		}
	}
	return true
}

// =============================================================================
// REVIEW PAYLOAD
// =============================================================================

// Review is the body of an approve or reject call: the modified scalar
// fields, and each collection only when it differs from the base. A nil
// collection means unchanged; an empty one means emptied.
type Review struct {
	Fields            map[Field]Value    `json:"fields"`
	FixedCosts        []FixedCost        `json:"fixed_costs"`
	RecurringServices []RecurringService `json:"recurring_services"`
	Comment           string             `json:"comment,omitempty"`
}

// BuildReview collects what finance changed in a draft.
func BuildReview(base Detail, o Overlay, comment string) Review {
	r := Review{Fields: ChangedFields(base, o), Comment: comment}
	if FixedCostsChanged(base, o) {
		r.FixedCosts = append([]FixedCost{}, o.FixedCosts...)
	}
	if RecurringChanged(base, o) {
		r.RecurringServices = append([]RecurringService{}, o.RecurringServices...)
	}
	return r
}
