/*
errors.go - Centralized error types for the deal desk

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every remote call site converts its failure into one of these so the
  draft can record a banner message and handlers can pick a status code.

ERROR CATEGORIES:
  1. Local validation - detected before any mutation or network call
     (missing business unit, duplicate code, client mismatch, gate refusal)
  2. Transport - the calculation service could not be reached or answered
     with something that is not an envelope
  3. Business - the calculation service answered success:false
  4. Authorization - the calculation service answered 401; the caller must
     be logged out, the error is never shown inline

USAGE:
  if deal.IsUnauthorized(err) {
      logout(actor)
      return
  }
  banner := deal.UserMessage(err)

SEE ALSO:
  - remote/client.go: produces RemoteError, TransportError, ErrUnauthorized
  - session/draft.go: records UserMessage(err) as the draft's last error
*/
package deal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when an input fails a local rule.
	ErrValidation = errors.New("validation failed")

	// ErrEditNotAllowed is returned when the permission gate refuses an edit.
	ErrEditNotAllowed = errors.New("editing not allowed")

	// ErrDuplicateCode is returned when a code is already loaded in the draft.
	ErrDuplicateCode = errors.New("code already loaded")

	// ErrClientMismatch is returned when looked-up rows belong to another client.
	ErrClientMismatch = errors.New("client identity mismatch")

	// ErrConflictingIdentity is returned when one lookup response mixes clients.
	ErrConflictingIdentity = errors.New("lookup returned conflicting client identities")

	// ErrCodeNotFound is returned when a lookup returns zero rows.
	ErrCodeNotFound = errors.New("code not found")

	// ErrRowNotFound is returned when a row index or key does not exist.
	ErrRowNotFound = errors.New("row not found")

	// ErrUnauthorized is returned when the calculation service rejects the
	// caller's session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransport is returned when the calculation service is unreachable.
	ErrTransport = errors.New("calculation service unreachable")

	// ErrRemote is returned when the calculation service reports a business error.
	ErrRemote = errors.New("calculation service error")

	// ErrDraftNotFound is returned when a draft id is unknown.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrDraftClosed is returned when a draft was already discarded.
	ErrDraftClosed = errors.New("draft closed")
)

// ConnectivityMessage is what users see for any transport failure.
const ConnectivityMessage = "Could not reach the calculation service. Check your connection and try again."

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field when there is one.
type ValidationError struct {
	Field   Field
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PermissionError explains why the gate refused.
type PermissionError struct {
	Status Status
	Role   Role
	View   View
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %s cannot edit a %s transaction from the %s view", e.Role, e.Status, e.View)
}

func (e *PermissionError) Unwrap() error { return ErrEditNotAllowed }

// DuplicateCodeError reports a code that is already merged into the draft.
type DuplicateCodeError struct {
	Code       string
	Collection string // "fixed_costs" or "recurring_services"
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("code %s is already loaded in %s", e.Code, e.Collection)
}

func (e *DuplicateCodeError) Unwrap() error { return ErrDuplicateCode }

// ClientMismatchError names both identities so the user can tell them apart.
type ClientMismatchError struct {
	Code    string
	Current ClientIdentity
	Found   ClientIdentity
}

func (e *ClientMismatchError) Error() string {
	return fmt.Sprintf("code %s belongs to %s (%s), but this deal is for %s (%s)",
		e.Code, e.Found.Name, e.Found.TaxID, e.Current.Name, e.Current.TaxID)
}

func (e *ClientMismatchError) Unwrap() error { return ErrClientMismatch }

// ConflictingIdentityError is returned when rows of one lookup disagree.
type ConflictingIdentityError struct {
	Code       string
	Identities []ClientIdentity
}

func (e *ConflictingIdentityError) Error() string {
	return fmt.Sprintf("code %s returned rows for %d different clients", e.Code, len(e.Identities))
}

func (e *ConflictingIdentityError) Unwrap() error { return ErrConflictingIdentity }

// CodeNotFoundError reports an empty lookup.
type CodeNotFoundError struct {
	Code string
}

func (e *CodeNotFoundError) Error() string {
	return fmt.Sprintf("no rows found for code %s", e.Code)
}

func (e *CodeNotFoundError) Unwrap() error { return ErrCodeNotFound }

// RemoteError carries a business message from the calculation service.
// The message is shown verbatim.
type RemoteError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return ErrRemote }

// TransportError wraps a network or decoding failure.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsLocal returns true if the error was detected before any network call.
func IsLocal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEditNotAllowed) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrClientMismatch) ||
		errors.Is(err, ErrConflictingIdentity) ||
		errors.Is(err, ErrRowNotFound)
}

func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// UserMessage converts err into the banner text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case IsTransport(err):
		return ConnectivityMessage
	}
	return err.Error()
}
