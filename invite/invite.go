// Package invite tracks the invite graph between users: at most one
// outbound invite per user, the set of inbound invites, and the
// offline-delivery queue replayed on reconnect.
package invite

//go:generate go tool errtrace -w .

import (
	"fmt"

	"braces.dev/errtrace"

	"github.com/tradepeer/tradepeer/internal/errs"
)

// UserID identifies a user across the process lifetime.
type UserID string

const (
	// ErrSelfInvite is returned when a user tries to invite themself.
	ErrSelfInvite errs.Sentinel = "cannot invite yourself"
	// ErrInvalidInvite is returned when an operation references an invite
	// pairing that doesn't exist.
	ErrInvalidInvite errs.Sentinel = "no such invite"
)

// Callbacks are invoked synchronously, under the caller's lock, whenever a
// manager operation changes the invite graph. The caller injects them at
// construction time and is the only place outbound notifications and
// UserState transitions happen (spec.md §4.2, §9 "Callback injection").
type Callbacks struct {
	// OnInviteSent fires when from's outbound invite is recorded, whether
	// or not to is currently connected.
	OnInviteSent func(from, to UserID)
	// OnInviteReplayed fires once per deferred invite when to reconnects,
	// replaying the notification that couldn't be delivered while to was
	// offline. Unlike OnInviteSent, from has already made its
	// sendInvite-triggered state transition; only the notification to to
	// still needs to happen.
	OnInviteReplayed func(from, to UserID)
	// OnInviteCancelled fires when from cancels their own outbound invite.
	OnInviteCancelled func(from, to UserID)
	// OnInviteAccepted fires when to accepts from's invite.
	OnInviteAccepted func(from, to UserID)
	// OnInviteRejected fires when to rejects from's invite, or when to
	// disconnects while from's invite to it is still pending.
	OnInviteRejected func(from, to UserID)
}

// Info is the per-user invite state. It is created lazily on first access
// and lives for the process lifetime.
type Info struct {
	// InviteSentTo is the single outstanding outbound invite, if any.
	InviteSentTo *UserID
	// PendingInvites is the authoritative set of inbound invites: never
	// cleared while a user is offline.
	PendingInvites map[UserID]struct{}
	// PendingNotifications is the subset of PendingInvites that arrived
	// while the user was offline and have not yet been replayed.
	PendingNotifications map[UserID]struct{}
	// Connected reports whether the user currently has a live connection.
	Connected bool
}

func newInfo() *Info {
	return &Info{
		PendingInvites:       make(map[UserID]struct{}),
		PendingNotifications: make(map[UserID]struct{}),
	}
}

// Manager owns every user's [Info]. It performs no locking of its own: the
// spec's single coordinator mutex (spec.md §5) must be held by the caller
// for the duration of every method call, since most operations touch two
// users' Info atomically.
type Manager struct {
	cb    Callbacks
	users map[UserID]*Info
}

// New creates a Manager that reports graph changes through cb.
func New(cb Callbacks) *Manager {
	return &Manager{cb: cb, users: make(map[UserID]*Info)}
}

// Info returns the invite state for u, materializing it on first access.
// The returned pointer is owned by the Manager; callers must not retain it
// past the current critical section.
func (m *Manager) Info(u UserID) *Info {
	info, ok := m.users[u]
	if !ok {
		info = newInfo()
		m.users[u] = info
	}
	return info
}

// UserConnected marks u as online and replays every deferred invite
// notification queued while u was offline (spec.md §4.2).
func (m *Manager) UserConnected(u UserID) {
	info := m.Info(u)
	info.Connected = true

	for from := range info.PendingNotifications {
		m.cb.OnInviteReplayed(from, u)
	}
	clear(info.PendingNotifications)
}

// UserDisconnected cancels u's own outbound invite and rejects every
// inbound invite addressed to u, then marks u offline (spec.md §4.2).
func (m *Manager) UserDisconnected(u UserID) {
	info := m.Info(u)

	if info.InviteSentTo != nil {
		// InviteSentTo being set is exactly CancelInvite's precondition.
		_ = m.CancelInvite(u)
	}

	for from := range info.PendingInvites {
		fromInfo := m.Info(from)
		fromInfo.InviteSentTo = nil
		delete(info.PendingInvites, from)
		delete(info.PendingNotifications, from)
		m.cb.OnInviteRejected(from, u)
	}

	info.Connected = false
}

// SendInvite records from's outbound invite to to (spec.md §4.2).
func (m *Manager) SendInvite(from, to UserID) error {
	if from == to {
		return errtrace.Wrap(errs.New(ErrSelfInvite, "user %q", from))
	}

	fromInfo := m.Info(from)
	if fromInfo.InviteSentTo != nil {
		// The dispatch gate only allows sendInvite from InLobby, which
		// implies no outbound invite is already set; reaching here means
		// a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("invite: %q already has an outbound invite", from))
	}

	toInfo := m.Info(to)
	fromInfo.InviteSentTo = &to
	toInfo.PendingInvites[from] = struct{}{}

	if !toInfo.Connected {
		toInfo.PendingNotifications[from] = struct{}{}
	}
	// Always fire: the sender's own state transition depends on it even
	// when the recipient is offline and the notification is deferred.
	m.cb.OnInviteSent(from, to)
	return nil
}

// CancelInvite removes from's outstanding outbound invite (spec.md §4.2).
func (m *Manager) CancelInvite(from UserID) error {
	fromInfo := m.Info(from)
	if fromInfo.InviteSentTo == nil {
		return errtrace.Wrap(errs.New(ErrInvalidInvite, "from %q has no outbound invite", from))
	}

	to := *fromInfo.InviteSentTo
	toInfo := m.Info(to)
	fromInfo.InviteSentTo = nil
	delete(toInfo.PendingInvites, from)
	delete(toInfo.PendingNotifications, from)

	m.cb.OnInviteCancelled(from, to)
	return nil
}

// AcceptInvite removes the from→to pairing and fires OnInviteAccepted
// (spec.md §4.2). The caller is responsible for starting the trade.
func (m *Manager) AcceptInvite(from, to UserID) error {
	if err := m.removePairing(from, to); err != nil {
		return errtrace.Wrap(err)
	}
	m.cb.OnInviteAccepted(from, to)
	return nil
}

// RejectInvite removes the from→to pairing and fires OnInviteRejected
// (spec.md §4.2).
func (m *Manager) RejectInvite(from, to UserID) error {
	if err := m.removePairing(from, to); err != nil {
		return errtrace.Wrap(err)
	}
	m.cb.OnInviteRejected(from, to)
	return nil
}

func (m *Manager) removePairing(from, to UserID) error {
	fromInfo := m.Info(from)
	if fromInfo.InviteSentTo == nil || *fromInfo.InviteSentTo != to {
		return errtrace.Wrap(errs.New(ErrInvalidInvite, "no invite from %q to %q", from, to))
	}

	toInfo := m.Info(to)
	fromInfo.InviteSentTo = nil
	delete(toInfo.PendingInvites, from)
	delete(toInfo.PendingNotifications, from)
	return nil
}
