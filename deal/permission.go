package deal

// CanEdit is the permission gate. Once a transaction is APPROVED or
// REJECTED nobody edits it. Sales edits before the finance decision,
// finance edits only while the decision is pending.
func CanEdit(status Status, role Role, view View) bool {
	if status.Final() {
		return false
	}
	switch view {
	case ViewSales:
		if role != RoleSales && role != RoleAdmin {
			return false
		}
		return status == StatusDraft || status == StatusPending
	case ViewFinance:
		if role != RoleFinance && role != RoleAdmin {
			return false
		}
		return status == StatusPending
	}
	return false
}

// CheckEdit is CanEdit returning a PermissionError on refusal.
func CheckEdit(status Status, role Role, view View) error {
	if CanEdit(status, role, view) {
		return nil
	}
	return &PermissionError{Status: status, Role: role, View: view}
}
