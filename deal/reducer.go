/*
reducer.go - Pure transition function over a draft overlay

PURPOSE:
  Reduce(overlay, action) -> next overlay. This is the only place an
  overlay changes. It is pure: the input overlay, its override map and its
  slices are never written, so an old overlay stays valid as a snapshot.

CONTRACT:
  - No validation. Gate checks, duplicate guards, client-identity checks
    and index bounds are the dispatcher's job (session/draft.go).
  - Out-of-range indexes are no-ops.
  - RemoveFixedCost removes ALL rows with the ticket, survivors keep order.
  - SetComputedKPIs replaces the bundle wholesale, never field by field.

SEE ALSO:
  - action.go: the action set
  - reducer_test.go: sequence properties
*/
package deal

// Reduce returns the overlay that results from applying a to o.
func Reduce(o Overlay, a Action) Overlay {
	next := o
	switch act := a.(type) {
	case UpdateField:
		next.FieldOverrides = copyOverrides(o.FieldOverrides)
		next.FieldOverrides[act.Field] = act.Value

	case UpdateFields:
		next.FieldOverrides = copyOverrides(o.FieldOverrides)
		for f, v := range act.Values {
			next.FieldOverrides[f] = v
		}

	case AddFixedCosts:
		rows := make([]FixedCost, 0, len(o.FixedCosts)+len(act.Rows))
		rows = append(rows, o.FixedCosts...)
		next.FixedCosts = append(rows, act.Rows...)

	case RemoveFixedCost:
		ticket := NormalizeCode(act.Ticket)
		rows := make([]FixedCost, 0, len(o.FixedCosts))
		for _, fc := range o.FixedCosts {
			if NormalizeCode(fc.Ticket) != ticket {
				rows = append(rows, fc)
			}
		}
		next.FixedCosts = rows

	case ReplaceFixedCost:
		if act.Index < 0 || act.Index >= len(o.FixedCosts) {
			return o
		}
		rows := append([]FixedCost{}, o.FixedCosts...)
		rows[act.Index] = act.Row
		next.FixedCosts = rows

	case AddRecurringServices:
		rows := make([]RecurringService, 0, len(o.RecurringServices)+len(act.Rows))
		rows = append(rows, o.RecurringServices...)
		next.RecurringServices = append(rows, act.Rows...)

	case RemoveRecurringService:
		code := NormalizeCode(act.Code)
		rows := make([]RecurringService, 0, len(o.RecurringServices))
		for _, rs := range o.RecurringServices {
			if NormalizeCode(rs.ID) != code {
				rows = append(rows, rs)
			}
		}
		next.RecurringServices = rows

	case RemoveRecurringServiceAt:
		if act.Index < 0 || act.Index >= len(o.RecurringServices) {
			return o
		}
		rows := make([]RecurringService, 0, len(o.RecurringServices)-1)
		rows = append(rows, o.RecurringServices[:act.Index]...)
		next.RecurringServices = append(rows, o.RecurringServices[act.Index+1:]...)

	case ReplaceRecurringService:
		if act.Index < 0 || act.Index >= len(o.RecurringServices) {
			return o
		}
		rows := append([]RecurringService{}, o.RecurringServices...)
		rows[act.Index] = act.Row
		next.RecurringServices = rows

	case SetAPIError:
		if act.Message == nil {
			next.LastError = nil
		} else {
			msg := *act.Message
			next.LastError = &msg
		}

	case SetComputedKPIs:
		bundle := act.Bundle
		bundle.Timeline = append([]TimelinePoint(nil), act.Bundle.Timeline...)
		next.LastComputed = &bundle

	case RecalculationFailed:
		next.LastComputed = nil
		if act.Message != "" {
			msg := act.Message
			next.LastError = &msg
		}
	}
	return next
}

func copyOverrides(m map[Field]Value) map[Field]Value {
	out := make(map[Field]Value, len(m)+1)
	for f, v := range m {
		out[f] = v
	}
	return out
}
