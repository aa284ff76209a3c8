// Package session implements the SessionCoordinator: the connection
// registry, the per-connection UserState machine, the action-dispatch
// gate, and the translation of InviteManager/TradeManager callbacks into
// peer notifications and state transitions.
package session

//go:generate go tool errtrace -w .

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"braces.dev/errtrace"

	"github.com/tradepeer/tradepeer/internal/applog"
	"github.com/tradepeer/tradepeer/internal/errs"
	"github.com/tradepeer/tradepeer/invite"
	"github.com/tradepeer/tradepeer/trade"
)

// UserID identifies an authenticated user across the process lifetime.
type UserID string

// Conn is the bidirectional event channel a connection is reached through.
// The core never imports a transport package; it only consumes this
// interface, injected by whatever process wiring accepts sockets.
type Conn interface {
	OnAction(handler func(action string, payload json.RawMessage, ack func(error *WireError)))
	Emit(event string, payload any) error
	Close() error
}

// TokenVerifier verifies a credential and returns the user id it
// authenticates, matching spec.md §1's "verifyToken(token) → userId | error".
type TokenVerifier func(token string) (UserID, error)

// Settlement dispatches a completed trade pair to the external settlement
// endpoint. It runs outside the coordinator's lock (spec.md §5).
type Settlement func(ctx context.Context, pair *trade.TradePair)

// ConnectionEntry is a single connection's registration: its UserState
// machine, the user id it authenticated as (empty until authenticate
// succeeds), and the Conn used to reach it.
type ConnectionEntry struct {
	userID UserID
	state  *stateMachine
	conn   Conn
}

// Coordinator owns the connection registry, wires InviteManager and
// TradeManager callbacks to peer notifications and state transitions, and
// gates every inbound action against the current UserState.
type Coordinator struct {
	mu     sync.Mutex
	conns  map[UserID]*ConnectionEntry
	invite *invite.Manager
	trade  *trade.Manager

	verify TokenVerifier
	settle Settlement
	logger *slog.Logger

	pendingSettlement []*trade.TradePair
}

// New constructs a Coordinator. logger defaults to [applog.Default] if nil.
func New(verify TokenVerifier, settle Settlement, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = applog.Default()
	}
	c := &Coordinator{
		conns:  make(map[UserID]*ConnectionEntry),
		verify: verify,
		settle: settle,
		logger: logger,
	}
	c.invite = invite.New(c.inviteCallbacks())
	c.trade = trade.New(c.tradeCallbacks())
	return c
}

func (c *Coordinator) inviteCallbacks() invite.Callbacks {
	return invite.Callbacks{
		OnInviteSent: func(from, to invite.UserID) {
			c.transition(UserID(from), triggerInviteSent)
			c.emit(UserID(to), "inviteReceived", map[string]any{"fromUserId": from})
		},
		OnInviteReplayed: func(from, to invite.UserID) {
			// from already made its sendInvite transition when the invite
			// was originally recorded; replaying it on reconnect only
			// notifies to, it never re-drives from's state machine.
			c.emit(UserID(to), "inviteReceived", map[string]any{"fromUserId": from})
		},
		OnInviteCancelled: func(from, to invite.UserID) {
			c.transition(UserID(from), triggerInviteCancelled)
			c.emit(UserID(to), "inviteCancelled", map[string]any{"fromUserId": from})
		},
		OnInviteAccepted: func(from, to invite.UserID) {
			// from's state is set by the onTradeStarted callback the
			// acceptInvite handler triggers immediately afterward.
			c.emit(UserID(from), "inviteAccepted", map[string]any{"toUserId": to})
		},
		OnInviteRejected: func(from, to invite.UserID) {
			c.transition(UserID(from), triggerInviteRejected)
			c.emit(UserID(from), "inviteRejected", map[string]any{"toUserId": to})
		},
	}
}

func (c *Coordinator) tradeCallbacks() trade.Callbacks {
	return trade.Callbacks{
		OnTradeStarted: func(u1, u2 trade.UserID) {
			c.transition(UserID(u1), triggerTradeStarted)
			c.transition(UserID(u2), triggerTradeStarted)
			c.emit(UserID(u1), "tradeStarted", map[string]any{"peerUserId": u2})
			c.emit(UserID(u2), "tradeStarted", map[string]any{"peerUserId": u1})
		},
		OnInventoryUpdated: func(peer trade.UserID, inv trade.Inventory) {
			c.emit(UserID(peer), "inventoryUpdated", map[string]any{"inventory": inv})
		},
		OnLockedIn: func(u, peer trade.UserID, selfInv, otherInv trade.Inventory) {
			c.transition(UserID(u), triggerLockedIn)
			c.emit(UserID(peer), "lockedIn", map[string]any{
				"selfInventory":  selfInv,
				"otherInventory": otherInv,
			})
		},
		OnUnlocked: func(u, peer trade.UserID) {
			c.transition(UserID(u), triggerUnlocked)
			c.emit(UserID(peer), "unlocked", nil)
		},
		OnTradeCancelled: func(u, peer trade.UserID) {
			c.transition(UserID(u), triggerTradeCancelled)
			c.transition(UserID(peer), triggerTradeCancelled)
			c.emit(UserID(peer), "tradeCancelled", nil)
		},
		OnTradeCompleted: func(pair *trade.TradePair) {
			for _, side := range pair.Sides {
				c.transition(UserID(side.UserID), triggerTradeCompleted)
				c.emit(UserID(side.UserID), "tradeCompleted", nil)
			}
			c.pendingSettlement = append(c.pendingSettlement, pair)
		},
	}
}

// transition fires t against u's connection state machine, if u currently
// has one registered. A rejected Fire means a coordinator invariant was
// violated; it is logged as an internal error, never surfaced to a caller.
func (c *Coordinator) transition(u UserID, t trigger) {
	entry, ok := c.conns[u]
	if !ok {
		return
	}
	if err := entry.state.fire(t); err != nil {
		c.logger.Error("internal: rejected state transition", "user", u, "trigger", t, "error", err)
	}
}

// emit delivers event to u's connection if one is registered. Per spec.md
// §7, peer notifications are never retried: a user who has already gone
// through disconnect cleanup silently misses the event.
func (c *Coordinator) emit(u UserID, event string, payload any) {
	entry, ok := c.conns[u]
	if !ok {
		return
	}
	if err := entry.conn.Emit(event, payload); err != nil {
		c.logger.Warn("emit failed", "user", u, "event", event, "error", err)
	}
}

// Accept registers a freshly connected Conn and wires its inbound actions
// through the dispatch gate. The returned ConnectionEntry's lifecycle is
// owned by the caller: it must call [Coordinator.Disconnect] exactly once,
// when the underlying connection is gone.
func (c *Coordinator) Accept(conn Conn) *ConnectionEntry {
	entry := &ConnectionEntry{state: newStateMachine(), conn: conn}
	conn.OnAction(func(a string, payload json.RawMessage, ack func(error *WireError)) {
		c.dispatch(entry, action(a), payload, ack)
	})
	return entry
}

// Disconnect tears down entry's session state: cancels its invites,
// cancels any active trade, removes it from the registry, and drives its
// state machine to NoUserId.
func (c *Coordinator) Disconnect(entry *ConnectionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown(entry)
}

func (c *Coordinator) teardown(entry *ConnectionEntry) {
	if entry.userID == "" {
		return
	}
	u := entry.userID
	c.invite.UserDisconnected(invite.UserID(u))
	c.trade.UserDisconnected(trade.UserID(u))
	delete(c.conns, u)
	if err := entry.state.fire(triggerDisconnect); err != nil {
		c.logger.Error("internal: rejected disconnect transition", "user", u, "error", err)
	}
	entry.userID = ""
}

// dispatch is the action-dispatch gate: spec.md §4.1's algorithm.
func (c *Coordinator) dispatch(entry *ConnectionEntry, a action, payload json.RawMessage, ack func(error *WireError)) {
	we, toSettle := c.dispatchLocked(entry, a, payload)
	for _, pair := range toSettle {
		ctx := applog.ContextWithLogger(context.Background(), c.logger.With("trade", pair.ID))
		go c.settle(ctx, pair)
	}
	ack(we)
}

func (c *Coordinator) dispatchLocked(entry *ConnectionEntry, a action, payload json.RawMessage) (*WireError, []*trade.TradePair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := entry.state.current()
	var err error
	if !allowed(state, a) {
		err = errtrace.Wrap(errs.New(ErrInvalidAction, "action %q not allowed in state %q", a, state))
	} else {
		err = c.handle(entry, a, payload)
	}

	var we *WireError
	if err != nil {
		if wire, ok := classify(err); ok {
			we = &wire
		} else {
			c.logger.Error("internal error handling action", "action", a, "user", entry.userID, "error", err)
			we = &WireError{ErrorName: "InternalError", ErrorMessage: "internal error"}
		}
	}

	toSettle := c.pendingSettlement
	c.pendingSettlement = nil
	return we, toSettle
}

func (c *Coordinator) handle(entry *ConnectionEntry, a action, payload json.RawMessage) error {
	switch a {
	case actionAuthenticate:
		return c.handleAuthenticate(entry, payload)
	case actionLogOut:
		c.teardown(entry)
		return nil
	case actionSendInvite:
		var p struct {
			ToID UserID `json:"toId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return errtrace.Wrap(fmt.Errorf("sendInvite: malformed payload: %w", err))
		}
		return errtrace.Wrap(c.invite.SendInvite(invite.UserID(entry.userID), invite.UserID(p.ToID)))
	case actionCancelInvite:
		return errtrace.Wrap(c.invite.CancelInvite(invite.UserID(entry.userID)))
	case actionAcceptInvite:
		var p struct {
			FromID UserID `json:"fromId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return errtrace.Wrap(fmt.Errorf("acceptInvite: malformed payload: %w", err))
		}
		if err := c.invite.AcceptInvite(invite.UserID(p.FromID), invite.UserID(entry.userID)); err != nil {
			return errtrace.Wrap(err)
		}
		c.trade.StartTrade(trade.UserID(p.FromID), trade.UserID(entry.userID))
		return nil
	case actionRejectInvite:
		var p struct {
			FromID UserID `json:"fromId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return errtrace.Wrap(fmt.Errorf("rejectInvite: malformed payload: %w", err))
		}
		return errtrace.Wrap(c.invite.RejectInvite(invite.UserID(p.FromID), invite.UserID(entry.userID)))
	case actionUpdateInventory:
		var p struct {
			Inventory trade.Inventory `json:"inventory"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return errtrace.Wrap(fmt.Errorf("updateInventory: malformed payload: %w", err))
		}
		return errtrace.Wrap(c.trade.UpdateInventory(trade.UserID(entry.userID), p.Inventory))
	case actionLockIn:
		var p struct {
			SelfInv  trade.Inventory `json:"selfInv"`
			OtherInv trade.Inventory `json:"otherInv"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return errtrace.Wrap(fmt.Errorf("lockIn: malformed payload: %w", err))
		}
		return errtrace.Wrap(c.trade.LockIn(trade.UserID(entry.userID), p.SelfInv, p.OtherInv))
	case actionUnlock:
		return errtrace.Wrap(c.trade.Unlock(trade.UserID(entry.userID)))
	case actionCancelTrade:
		return errtrace.Wrap(c.trade.CancelTrade(trade.UserID(entry.userID)))
	case actionCompleteTrade:
		return errtrace.Wrap(c.trade.CompleteTrade(trade.UserID(entry.userID)))
	default:
		return errtrace.Wrap(fmt.Errorf("session: unrecognized action %q", a))
	}
}

func (c *Coordinator) handleAuthenticate(entry *ConnectionEntry, payload json.RawMessage) error {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return errtrace.Wrap(fmt.Errorf("authenticate: malformed payload: %w", err))
	}

	userID, err := c.verify(p.Token)
	if err != nil {
		return errtrace.Wrap(errs.New(ErrAuth, err))
	}

	if _, exists := c.conns[userID]; exists {
		return errtrace.Wrap(errs.New(ErrAlreadyAuthenticated, "user %q", userID))
	}
	if !entry.state.canFire(triggerAuthenticate) {
		return errtrace.Wrap(fmt.Errorf("internal: %q cannot authenticate from state %q", userID, entry.state.current()))
	}

	entry.userID = userID
	c.conns[userID] = entry
	if err := entry.state.fire(triggerAuthenticate); err != nil {
		return errtrace.Wrap(fmt.Errorf("internal: rejected authenticate transition for %q: %w", userID, err))
	}
	c.invite.UserConnected(invite.UserID(userID))
	return nil
}
