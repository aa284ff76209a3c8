// Package trade owns the active trade pairs: mirrored-view consistency on
// lock-in, auto-unlock on inventory changes, and two-phase completion.
package trade

//go:generate go tool errtrace -w .

import (
	"fmt"
	"sort"

	"braces.dev/errtrace"
	"github.com/google/uuid"

	"github.com/tradepeer/tradepeer/internal/errs"
)

// UserID identifies a user across the process lifetime.
type UserID string

// Inventory is a caller-supplied list of item identifiers. Equality between
// two Inventories is a multiset comparison, not positional.
type Inventory []string

// Equal reports whether inv and other contain the same items with the same
// multiplicities, ignoring order.
func (inv Inventory) Equal(other Inventory) bool {
	if len(inv) != len(other) {
		return false
	}
	a := append(Inventory(nil), inv...)
	b := append(Inventory(nil), other...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const (
	// ErrInventoryMismatch is returned when a claimed inventory doesn't
	// match the manager's recorded inventory as a multiset.
	ErrInventoryMismatch errs.Sentinel = "inventory does not match"
	// ErrCantComplete is returned when completeTrade is called while
	// either side of the pair is not locked in.
	ErrCantComplete errs.Sentinel = "cannot complete: both sides must be locked in"
)

// Callbacks are invoked synchronously, under the caller's lock, whenever a
// manager operation changes trade-pair state.
type Callbacks struct {
	OnTradeStarted     func(u1, u2 UserID)
	OnInventoryUpdated func(peer UserID, inv Inventory)
	OnLockedIn         func(u, peer UserID, selfInv, otherInv Inventory)
	OnUnlocked         func(u, peer UserID)
	OnTradeCancelled   func(u, peer UserID)
	OnTradeCompleted   func(pair *TradePair)
}

// UserTradeInfo is one side of a [TradePair].
type UserTradeInfo struct {
	UserID    UserID
	Inventory Inventory
	LockedIn  bool
	Accepted  bool
}

// TradePair holds both sides of an in-progress trade. ID exists only for log
// correlation; it is never part of the wire protocol or of the settlement
// request body.
type TradePair struct {
	ID    uuid.UUID
	Sides [2]*UserTradeInfo
}

func (p *TradePair) self(u UserID) *UserTradeInfo {
	if p.Sides[0].UserID == u {
		return p.Sides[0]
	}
	return p.Sides[1]
}

func (p *TradePair) peer(u UserID) *UserTradeInfo {
	if p.Sides[0].UserID == u {
		return p.Sides[1]
	}
	return p.Sides[0]
}

// Manager owns every active [TradePair], indexed by each participant's
// UserID. It performs no locking of its own: the caller must hold the
// coordinator-wide mutex for the duration of every method call.
type Manager struct {
	cb     Callbacks
	byUser map[UserID]*TradePair
}

// New creates a Manager that reports trade-pair changes through cb.
func New(cb Callbacks) *Manager {
	return &Manager{cb: cb, byUser: make(map[UserID]*TradePair)}
}

// PairOf returns the trade pair u currently participates in, if any.
func (m *Manager) PairOf(u UserID) (*TradePair, bool) {
	p, ok := m.byUser[u]
	return p, ok
}

// StartTrade allocates a new TradePair for u1 and u2, both sides empty,
// unlocked, and unaccepted.
func (m *Manager) StartTrade(u1, u2 UserID) {
	pair := &TradePair{
		ID: uuid.New(),
		Sides: [2]*UserTradeInfo{
			{UserID: u1},
			{UserID: u2},
		},
	}
	m.byUser[u1] = pair
	m.byUser[u2] = pair
	m.cb.OnTradeStarted(u1, u2)
}

// UpdateInventory sets u's inventory, auto-unlocking whichever side had
// locked in against the now-stale pair (spec.md §4.3 "Rationale for
// auto-unlock on update").
func (m *Manager) UpdateInventory(u UserID, inv Inventory) error {
	pair, ok := m.byUser[u]
	if !ok {
		// The session dispatch gate only allows trade actions while in a
		// trade state, which implies m.byUser[u] is set; reaching here
		// means a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("trade: %q is not in a trade", u))
	}

	self := pair.self(u)
	peer := pair.peer(u)
	self.Inventory = inv

	if self.LockedIn {
		self.LockedIn = false
		self.Accepted = false
		m.cb.OnUnlocked(self.UserID, peer.UserID)
	}
	if peer.LockedIn {
		peer.LockedIn = false
		peer.Accepted = false
		m.cb.OnUnlocked(peer.UserID, self.UserID)
	}

	m.cb.OnInventoryUpdated(peer.UserID, inv)
	return nil
}

// LockIn validates u's claimed view of both inventories against the
// manager's recorded state and, if they match, locks u's side in.
func (m *Manager) LockIn(u UserID, selfInvClaim, otherInvClaim Inventory) error {
	pair, ok := m.byUser[u]
	if !ok {
		// The session dispatch gate only allows trade actions while in a
		// trade state, which implies m.byUser[u] is set; reaching here
		// means a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("trade: %q is not in a trade", u))
	}

	self := pair.self(u)
	peer := pair.peer(u)
	if !selfInvClaim.Equal(self.Inventory) {
		return errtrace.Wrap(errs.New(ErrInventoryMismatch, "self inventory for %q", u))
	}
	if !otherInvClaim.Equal(peer.Inventory) {
		return errtrace.Wrap(errs.New(ErrInventoryMismatch, "peer inventory for %q", u))
	}

	self.LockedIn = true
	m.cb.OnLockedIn(u, peer.UserID, self.Inventory, peer.Inventory)
	return nil
}

// Unlock clears u's lock-in (and any pending acceptance).
func (m *Manager) Unlock(u UserID) error {
	pair, ok := m.byUser[u]
	if !ok {
		// The session dispatch gate only allows trade actions while in a
		// trade state, which implies m.byUser[u] is set; reaching here
		// means a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("trade: %q is not in a trade", u))
	}

	self := pair.self(u)
	self.LockedIn = false
	self.Accepted = false
	m.cb.OnUnlocked(u, pair.peer(u).UserID)
	return nil
}

// CancelTrade tears down u's trade pair unconditionally.
func (m *Manager) CancelTrade(u UserID) error {
	pair, ok := m.byUser[u]
	if !ok {
		// The session dispatch gate only allows trade actions while in a
		// trade state, which implies m.byUser[u] is set; reaching here
		// means a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("trade: %q is not in a trade", u))
	}

	peer := pair.peer(u)
	delete(m.byUser, u)
	delete(m.byUser, peer.UserID)
	m.cb.OnTradeCancelled(u, peer.UserID)
	return nil
}

// CompleteTrade records u's acceptance. Once both sides have accepted, the
// pair is removed and OnTradeCompleted fires exactly once.
func (m *Manager) CompleteTrade(u UserID) error {
	pair, ok := m.byUser[u]
	if !ok {
		// The session dispatch gate only allows trade actions while in a
		// trade state, which implies m.byUser[u] is set; reaching here
		// means a coordinator precondition was violated.
		return errtrace.Wrap(fmt.Errorf("trade: %q is not in a trade", u))
	}

	self := pair.self(u)
	peer := pair.peer(u)
	if !self.LockedIn || !peer.LockedIn {
		return errtrace.Wrap(errs.New(ErrCantComplete))
	}

	self.Accepted = true
	if !peer.Accepted {
		return nil
	}

	delete(m.byUser, self.UserID)
	delete(m.byUser, peer.UserID)
	m.cb.OnTradeCompleted(pair)
	return nil
}

// UserDisconnected tears down u's trade pair, if any, exactly as
// CancelTrade would.
func (m *Manager) UserDisconnected(u UserID) {
	if _, ok := m.byUser[u]; ok {
		_ = m.CancelTrade(u)
	}
}
