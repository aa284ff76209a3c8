package session

import (
	"errors"

	"github.com/tradepeer/tradepeer/internal/errs"
	"github.com/tradepeer/tradepeer/invite"
	"github.com/tradepeer/tradepeer/trade"
)

const (
	// ErrInvalidAction is returned when an action is not allowed from the
	// connection's current UserState.
	ErrInvalidAction errs.Sentinel = "action not allowed in current state"
	// ErrAuth is returned when the authenticate action's token fails
	// verification.
	ErrAuth errs.Sentinel = "authentication failed"
	// ErrAlreadyAuthenticated is returned when authenticate succeeds but a
	// connection is already registered for that userId.
	ErrAlreadyAuthenticated errs.Sentinel = "user already has an active connection"
)

// WireError is the {errorName, errorMessage} shape an ack carries on
// failure (spec.md §6).
type WireError struct {
	ErrorName    string `json:"errorName"`
	ErrorMessage string `json:"errorMessage"`
}

// classifiedSentinels maps every classified UserError sentinel (spec.md §7)
// to its wire errorName. Anything not listed here and not an
// [errs.UserError] is an InternalError: it is logged and swallowed, never
// echoed to the caller.
var classifiedSentinels = []struct {
	sentinel error
	name     string
}{
	{ErrInvalidAction, "InvalidActionError"},
	{ErrAuth, "AuthError"},
	{ErrAlreadyAuthenticated, "UserAlreadyAuthenticatedError"},
	{invite.ErrSelfInvite, "SelfInviteError"},
	{invite.ErrInvalidInvite, "InvalidInviteError"},
	{trade.ErrInventoryMismatch, "InventoryMismatchError"},
	{trade.ErrCantComplete, "CantCompleteEitherUnlockedError"},
}

// classify maps err to its wire {errorName, errorMessage} form, or reports
// ok=false if err is an unclassified InternalError.
func classify(err error) (we WireError, ok bool) {
	if err == nil {
		return WireError{}, false
	}
	for _, c := range classifiedSentinels {
		if errors.Is(err, c.sentinel) {
			return WireError{ErrorName: c.name, ErrorMessage: err.Error()}, true
		}
	}
	if ue, ok := errs.As(err); ok {
		return WireError{ErrorName: ue.Name, ErrorMessage: ue.Message}, true
	}
	return WireError{}, false
}
