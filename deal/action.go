/*
action.go - The closed set of draft actions

PURPOSE:
  Every change to a draft overlay is one of these variants. The set is
  closed (unexported marker method), so the reducer's type switch is the
  complete list of what can happen to a draft.

ACTIONS:
  Edits (gated, each followed by one recalculation):
    UpdateField, UpdateFields
    AddFixedCosts, RemoveFixedCost, ReplaceFixedCost
    AddRecurringServices, RemoveRecurringService, RemoveRecurringServiceAt,
    ReplaceRecurringService

  Banner (never gated, never recalculates):
    SetAPIError

  Recalculation results (orchestrator only):
    SetComputedKPIs, RecalculationFailed

SEE ALSO:
  - reducer.go: applies actions
  - session/draft.go: gates and dispatches actions
*/
package deal

// Action is one draft transition.
type Action interface {
	isAction()
}

// UpdateField sets one field override.
type UpdateField struct {
	Field Field
	Value Value
}

// UpdateFields sets several overrides atomically.
type UpdateFields struct {
	Values map[Field]Value
}

// AddFixedCosts appends rows to the fixed-cost collection.
type AddFixedCosts struct {
	Rows []FixedCost
}

// RemoveFixedCost removes every row carrying Ticket.
type RemoveFixedCost struct {
	Ticket string
}

// ReplaceFixedCost replaces the row at Index.
type ReplaceFixedCost struct {
	Index int
	Row   FixedCost
}

// AddRecurringServices appends rows to the recurring collection.
type AddRecurringServices struct {
	Rows []RecurringService
}

// RemoveRecurringService removes every row whose ID is Code.
type RemoveRecurringService struct {
	Code string
}

// RemoveRecurringServiceAt removes the row at Index.
type RemoveRecurringServiceAt struct {
	Index int
}

// ReplaceRecurringService replaces the row at Index.
type ReplaceRecurringService struct {
	Index int
	Row   RecurringService
}

// SetAPIError sets the banner message. A nil Message clears it.
type SetAPIError struct {
	Message *string
}

// SetComputedKPIs replaces the last computed bundle wholesale.
type SetComputedKPIs struct {
	Bundle Bundle
}

// RecalculationFailed drops the last computed bundle and records Message.
// An empty Message drops the bundle without a banner.
type RecalculationFailed struct {
	Message string
}

func (UpdateField) isAction()              {}
func (UpdateFields) isAction()             {}
func (AddFixedCosts) isAction()            {}
func (RemoveFixedCost) isAction()          {}
func (ReplaceFixedCost) isAction()         {}
func (AddRecurringServices) isAction()     {}
func (RemoveRecurringService) isAction()   {}
func (RemoveRecurringServiceAt) isAction() {}
func (ReplaceRecurringService) isAction()  {}
func (SetAPIError) isAction()              {}
func (SetComputedKPIs) isAction()          {}
func (RecalculationFailed) isAction()      {}

// IsEdit reports whether the permission gate applies to a.
func IsEdit(a Action) bool {
	switch a.(type) {
	case SetAPIError, SetComputedKPIs, RecalculationFailed:
		return false
	}
	return true
}

// Recalculates reports whether a must be followed by a recalculation of
// the resulting overlay.
func Recalculates(a Action) bool {
	return IsEdit(a)
}

// ErrorMessage is a helper for SetAPIError.
func ErrorMessage(msg string) SetAPIError {
	return SetAPIError{Message: &msg}
}

// ActionName is used in logs and audit entries.
func ActionName(a Action) string {
	switch a.(type) {
	case UpdateField:
		return "UPDATE_FIELD"
	case UpdateFields:
		return "UPDATE_MULTIPLE_FIELDS"
	case AddFixedCosts:
		return "ADD_FIXED_COSTS"
	case RemoveFixedCost:
		return "REMOVE_FIXED_COST"
	case ReplaceFixedCost:
		return "REPLACE_FIXED_COST"
	case AddRecurringServices:
		return "ADD_RECURRING_SERVICES"
	case RemoveRecurringService, RemoveRecurringServiceAt:
		return "REMOVE_RECURRING_SERVICE"
	case ReplaceRecurringService:
		return "REPLACE_RECURRING_SERVICE"
	case SetAPIError:
		return "SET_API_ERROR"
	case SetComputedKPIs:
		return "SET_COMPUTED_KPIS"
	case RecalculationFailed:
		return "RECALCULATION_FAILED"
	}
	return "UNKNOWN"
}
