package session

import (
	"context"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

// UserState is the tagged state of a single authenticated connection.
type UserState string

const (
	// NoUserId is the initial state: a connection exists but has not
	// authenticated.
	NoUserId UserState = "NoUserId"
	// InLobby is an authenticated, idle connection.
	InLobby UserState = "InLobby"
	// SentInvite has exactly one outbound invite outstanding.
	SentInvite UserState = "SentInvite"
	// InTrade is in an active, unlocked trade pair.
	InTrade UserState = "InTrade"
	// LockedIn is in an active trade pair with its own side locked.
	LockedIn UserState = "LockedIn"
)

// action is the name of an inbound client action, exactly as carried on the wire.
type action string

const (
	actionAuthenticate     action = "authenticate"
	actionLogOut           action = "logOut"
	actionSendInvite       action = "sendInvite"
	actionCancelInvite     action = "cancelInvite"
	actionAcceptInvite     action = "acceptInvite"
	actionRejectInvite     action = "rejectInvite"
	actionUpdateInventory  action = "updateInventory"
	actionLockIn           action = "lockIn"
	actionUnlock           action = "unlock"
	actionCancelTrade      action = "cancelTrade"
	actionCompleteTrade    action = "completeTrade"
)

// actionTable is the literal transcription of spec §4.1's allow-table: a
// dumb lookup of which actions are legal in which state. It is deliberately
// NOT derived from the state-machine transition graph below — several
// actions are legal from more than one state for reasons unrelated to how
// that state was reached, and the acceptInvite/rejectInvite Open Question
// resolved in SPEC_FULL.md §9 narrows exactly this table, not the FSM.
var actionTable = map[UserState]map[action]bool{
	NoUserId: {
		actionAuthenticate: true,
	},
	InLobby: {
		actionLogOut:       true,
		actionSendInvite:   true,
		actionAcceptInvite: true,
		actionRejectInvite: true,
	},
	SentInvite: {
		actionCancelInvite: true,
	},
	InTrade: {
		actionUpdateInventory: true,
		actionLockIn:          true,
		actionCancelTrade:     true,
	},
	LockedIn: {
		actionUnlock:        true,
		actionCompleteTrade: true,
	},
}

func allowed(state UserState, a action) bool {
	return actionTable[state][a]
}

// trigger is an internal state-machine input driving the
// *stateless.StateMachine that is the sole authority on UserState
// transition legality (SPEC_FULL.md §4.1). triggerAuthenticate and
// triggerDisconnect are fired by the coordinator's authenticate and
// teardown paths; every other trigger is fired from inside a manager
// callback.
type trigger string

const (
	triggerAuthenticate    trigger = "authenticate"
	triggerInviteSent      trigger = "inviteSent"
	triggerInviteCancelled trigger = "inviteCancelled"
	triggerInviteRejected  trigger = "inviteRejected"
	triggerTradeStarted    trigger = "tradeStarted"
	triggerLockedIn        trigger = "lockedIn"
	triggerUnlocked        trigger = "unlocked"
	triggerTradeCancelled  trigger = "tradeCancelled"
	triggerTradeCompleted  trigger = "tradeCompleted"
	triggerDisconnect      trigger = "disconnect"
)

// newUserStateMachine builds the per-connection FSM with exactly the
// transition edges spec.md §4.1's callback list describes.
func newUserStateMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(NoUserId)

	sm.Configure(NoUserId).
		Permit(triggerAuthenticate, InLobby)

	sm.Configure(InLobby).
		Permit(triggerInviteSent, SentInvite).
		Permit(triggerTradeStarted, InTrade).
		Permit(triggerDisconnect, NoUserId)

	sm.Configure(SentInvite).
		Permit(triggerInviteCancelled, InLobby).
		Permit(triggerInviteRejected, InLobby).
		Permit(triggerTradeStarted, InTrade).
		Permit(triggerDisconnect, NoUserId)

	sm.Configure(InTrade).
		Permit(triggerLockedIn, LockedIn).
		Permit(triggerTradeCancelled, InLobby).
		Permit(triggerTradeCompleted, InLobby).
		Permit(triggerDisconnect, NoUserId)

	sm.Configure(LockedIn).
		Permit(triggerUnlocked, InTrade).
		Permit(triggerTradeCancelled, InLobby).
		Permit(triggerTradeCompleted, InLobby).
		Permit(triggerDisconnect, NoUserId)

	return sm
}

// stateMachine wraps a *stateless.StateMachine for a single connection.
// Firing a trigger the machine has no edge for means a coordinator
// invariant was violated; the caller treats that as an internal error,
// never a user-facing one.
type stateMachine struct {
	sm *stateless.StateMachine
}

func newStateMachine() *stateMachine {
	return &stateMachine{sm: newUserStateMachine()}
}

func (s *stateMachine) current() UserState {
	return s.sm.MustState().(UserState)
}

func (s *stateMachine) canFire(t trigger) bool {
	return s.sm.CanFire(t)
}

func (s *stateMachine) fire(t trigger) error {
	return errtrace.Wrap(s.sm.FireCtx(context.Background(), t))
}
