package invite_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"github.com/tradepeer/tradepeer/invite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	sent      [][2]invite.UserID
	replayed  [][2]invite.UserID
	cancelled [][2]invite.UserID
	accepted  [][2]invite.UserID
	rejected  [][2]invite.UserID
}

func (r *recorder) callbacks() invite.Callbacks {
	return invite.Callbacks{
		OnInviteSent:      func(from, to invite.UserID) { r.sent = append(r.sent, [2]invite.UserID{from, to}) },
		OnInviteReplayed:  func(from, to invite.UserID) { r.replayed = append(r.replayed, [2]invite.UserID{from, to}) },
		OnInviteCancelled: func(from, to invite.UserID) { r.cancelled = append(r.cancelled, [2]invite.UserID{from, to}) },
		OnInviteAccepted:  func(from, to invite.UserID) { r.accepted = append(r.accepted, [2]invite.UserID{from, to}) },
		OnInviteRejected:  func(from, to invite.UserID) { r.rejected = append(r.rejected, [2]invite.UserID{from, to}) },
	}
}

func TestSendInvite_SelfInvite(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())

	err := m.SendInvite("alice", "alice")
	if diff := cmp.Diff(err, invite.ErrSelfInvite, cmpopts.EquateErrors()); diff != "" {
		t.Fatalf("SendInvite self-invite error mismatch (-got +want):\n%s", diff)
	}
}

func TestSendInvite_RecipientOffline_DefersNotification(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())

	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}

	if got := len(r.sent); got != 1 {
		t.Fatalf("OnInviteSent called %d times, want 1", got)
	}
	bob := m.Info("bob")
	if _, ok := bob.PendingInvites["alice"]; !ok {
		t.Fatalf("bob.PendingInvites missing alice")
	}
	if _, ok := bob.PendingNotifications["alice"]; !ok {
		t.Fatalf("bob.PendingNotifications missing alice while offline")
	}

	m.UserConnected("bob")
	if got := len(r.sent); got != 1 {
		t.Fatalf("OnInviteSent called %d times after reconnect, want 1 (unchanged)", got)
	}
	if got := len(r.replayed); got != 1 {
		t.Fatalf("OnInviteReplayed called %d times after reconnect, want 1", got)
	}
	if len(bob.PendingNotifications) != 0 {
		t.Fatalf("PendingNotifications not drained on connect")
	}
	if _, ok := bob.PendingInvites["alice"]; !ok {
		t.Fatalf("PendingInvites should survive reconnect (authoritative set)")
	}
}

func TestSendThenCancel_IsNoOp(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())
	m.Info("bob").Connected = true

	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if err := m.CancelInvite("alice"); err != nil {
		t.Fatalf("CancelInvite() error = %v", err)
	}

	alice := m.Info("alice")
	bob := m.Info("bob")
	if alice.InviteSentTo != nil {
		t.Fatalf("alice.InviteSentTo = %v, want nil", *alice.InviteSentTo)
	}
	if len(bob.PendingInvites) != 0 {
		t.Fatalf("bob.PendingInvites = %v, want empty", bob.PendingInvites)
	}
}

func TestCancelInvite_NoOutboundInvite(t *testing.T) {
	t.Parallel()

	m := invite.New((&recorder{}).callbacks())
	err := m.CancelInvite("alice")
	if diff := cmp.Diff(err, invite.ErrInvalidInvite, cmpopts.EquateErrors()); diff != "" {
		t.Fatalf("CancelInvite() error mismatch (-got +want):\n%s", diff)
	}
}

func TestAcceptInvite_WrongSender(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())
	m.Info("bob").Connected = true
	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}

	err := m.AcceptInvite("carol", "bob")
	if diff := cmp.Diff(err, invite.ErrInvalidInvite, cmpopts.EquateErrors()); diff != "" {
		t.Fatalf("AcceptInvite() error mismatch (-got +want):\n%s", diff)
	}
}

func TestAcceptInvite_RemovesPairingBothSides(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())
	m.Info("bob").Connected = true
	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}

	if err := m.AcceptInvite("alice", "bob"); err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}

	if len(r.accepted) != 1 || r.accepted[0] != [2]invite.UserID{"alice", "bob"} {
		t.Fatalf("OnInviteAccepted = %v, want one call with (alice, bob)", r.accepted)
	}
	if m.Info("alice").InviteSentTo != nil {
		t.Fatalf("alice.InviteSentTo not cleared after accept")
	}
	if _, ok := m.Info("bob").PendingInvites["alice"]; ok {
		t.Fatalf("bob.PendingInvites still contains alice after accept")
	}
}

func TestUserDisconnected_CancelsOutboundAndRejectsInbound(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	m := invite.New(r.callbacks())
	for _, u := range []invite.UserID{"alice", "bob", "carol"} {
		m.Info(u).Connected = true
	}

	// alice -> bob (alice's outbound), carol -> alice (alice's inbound)
	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if err := m.SendInvite("carol", "alice"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}

	m.UserDisconnected("alice")

	if len(r.cancelled) != 1 || r.cancelled[0] != [2]invite.UserID{"alice", "bob"} {
		t.Fatalf("OnInviteCancelled = %v, want one call with (alice, bob)", r.cancelled)
	}
	if len(r.rejected) != 1 || r.rejected[0] != [2]invite.UserID{"carol", "alice"} {
		t.Fatalf("OnInviteRejected = %v, want one call with (carol, alice)", r.rejected)
	}
	if m.Info("carol").InviteSentTo != nil {
		t.Fatalf("carol.InviteSentTo not cleared after alice's disconnect")
	}
	if m.Info("alice").Connected {
		t.Fatalf("alice still marked connected after disconnect")
	}
}

func TestDisconnectReconnect_PendingInviteIsGone(t *testing.T) {
	t.Parallel()

	// Resolves SPEC_FULL.md §9 Open Question 1: alice's own outbound
	// invite does not survive her disconnect, independent of the
	// pendingNotifications mechanism (which only concerns invites other
	// users sent to alice while she was offline).
	r := &recorder{}
	m := invite.New(r.callbacks())
	m.Info("bob").Connected = true

	if err := m.SendInvite("alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	m.UserDisconnected("alice")
	m.UserConnected("alice")

	if m.Info("alice").InviteSentTo != nil {
		t.Fatalf("alice's outbound invite should not survive a disconnect/reconnect cycle")
	}
	if _, ok := m.Info("bob").PendingInvites["alice"]; ok {
		t.Fatalf("bob should no longer see alice's invite after alice's disconnect")
	}
}
