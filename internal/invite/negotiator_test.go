package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"rps_duel/internal/domain"
	"rps_duel/internal/store"
)

type events struct {
	received chan domain.Invite
	cleared  chan struct{}
	accepted chan string
	declined chan string
	expired  chan string
}

func newEvents() *events {
	return &events{
		received: make(chan domain.Invite, 8),
		cleared:  make(chan struct{}, 8),
		accepted: make(chan string, 8),
		declined: make(chan string, 8),
		expired:  make(chan string, 8),
	}
}

func (e *events) hooks() Hooks {
	return Hooks{
		Received: func(inv domain.Invite) { e.received <- inv },
		Cleared:  func() { e.cleared <- struct{}{} },
		Accepted: func(target string) { e.accepted <- target },
		Declined: func(target string) { e.declined <- target },
		Expired:  func(target string) { e.expired <- target },
	}
}

func recv[T any](t *testing.T, what string, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func live(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := st.Update(context.Background(), domain.PlayerPath(id), store.Record{
			domain.FieldScore:  0,
			domain.FieldActive: true,
		}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func inviteExists(t *testing.T, st store.Store, target, requester string) bool {
	t.Helper()
	snap, err := st.Get(context.Background(), domain.InvitePath(target, requester))
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	return len(snap.Records) > 0
}

func slot(t *testing.T, st store.Store, id string) string {
	t.Helper()
	snap, _ := st.Get(context.Background(), domain.PlayerPath(id))
	rec, _ := snap.Value()
	return rec.String(domain.FieldInviteReceived)
}

func TestSendPreconditions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil)
	defer st.Close()
	live(t, st, "alice", "bob")
	_ = st.Update(ctx, domain.PlayerPath("carol"), store.Record{domain.FieldActive: false})

	alice := New(st, clockwork.NewFakeClock(), "alice", 0, Hooks{}, nil)
	defer alice.Close()

	cases := []struct {
		target string
		want   error
	}{
		{"alice", ErrSelfInvite},
		{"carol", ErrTargetOffline},
		{"nobody", ErrTargetOffline},
		{"bad.name", domain.ErrInvalidIdentity},
	}
	for _, c := range cases {
		if err := alice.Send(ctx, c.target); !errors.Is(err, c.want) {
			t.Fatalf("send to %q: expected %v, got %v", c.target, c.want, err)
		}
	}

	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := alice.Send(ctx, "bob"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second send: expected ErrAlreadyPending, got %v", err)
	}
	if !alice.Pending("bob") {
		t.Fatalf("offer to bob should be pending")
	}
}

func TestSendWritesInviteAndSlot(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	alice := New(st, clock, "alice", 0, Hooks{}, nil)
	defer alice.Close()
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	snap, _ := st.Get(ctx, domain.InvitePath("bob", "alice"))
	rec, ok := snap.Value()
	if !ok {
		t.Fatalf("invite record missing")
	}
	if rec.String(domain.FieldRequestedBy) != "alice" || rec.Bool(domain.FieldAccepted) {
		t.Fatalf("unexpected invite %v", rec)
	}
	if !rec.Time(domain.FieldCreatedAt).Equal(clock.Now()) {
		t.Fatalf("createdAt should come from the store clock")
	}
	if got := slot(t, st, "bob"); got != "alice" {
		t.Fatalf("inviteReceived = %q", got)
	}
}

func TestAcceptFlow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	aliceEv, bobEv := newEvents(), newEvents()
	alice := New(st, clock, "alice", 0, aliceEv.hooks(), nil)
	bob := New(st, clock, "bob", 0, bobEv.hooks(), nil)
	defer alice.Close()
	defer bob.Close()

	if err := bob.Observe(ctx); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	inv := recv(t, "invite received", bobEv.received)
	if inv.RequestedBy != "alice" || inv.Target != "bob" {
		t.Fatalf("unexpected invite %+v", inv)
	}

	if err := bob.Accept(ctx, "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := recv(t, "accepted", aliceEv.accepted); got != "bob" {
		t.Fatalf("accepted target = %q", got)
	}
	recv(t, "inbox cleared", bobEv.cleared)

	eventually(t, "invite record removed", func() bool { return !inviteExists(t, st, "bob", "alice") })
	if got := slot(t, st, "bob"); got != "" {
		t.Fatalf("slot should be cleared, got %q", got)
	}
	if alice.Pending("bob") {
		t.Fatalf("offer should be settled")
	}

	// timers are gone: nothing expires later
	clock.Advance(time.Minute)
	select {
	case <-aliceEv.expired:
		t.Fatalf("accepted invite must not expire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeclineFlow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	aliceEv := newEvents()
	alice := New(st, clock, "alice", 0, aliceEv.hooks(), nil)
	bob := New(st, clock, "bob", 0, Hooks{}, nil)
	defer alice.Close()
	defer bob.Close()

	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := bob.Decline(ctx, "alice"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := recv(t, "declined", aliceEv.declined); got != "bob" {
		t.Fatalf("declined target = %q", got)
	}
	if inviteExists(t, st, "bob", "alice") {
		t.Fatalf("invite should be gone")
	}
	if got := slot(t, st, "bob"); got != "" {
		t.Fatalf("slot should be cleared, got %q", got)
	}
}

// lateWatch runs before once ahead of the first Subscribe on path, as if
// the watch had been delivered only after the record changed.
type lateWatch struct {
	store.Store
	path   string
	before func()
}

func (l *lateWatch) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (func(), error) {
	if path == l.path && l.before != nil {
		before := l.before
		l.before = nil
		before()
	}
	return l.Store.Subscribe(ctx, path, fn)
}

func TestDeclineBeforeWatchStarts(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	bob := New(st, clock, "bob", 0, Hooks{}, nil)
	defer bob.Close()
	watched := &lateWatch{
		Store: st,
		path:  domain.InvitePath("bob", "alice"),
		before: func() {
			if err := bob.Decline(ctx, "alice"); err != nil {
				t.Errorf("decline: %v", err)
			}
		},
	}

	aliceEv := newEvents()
	alice := New(watched, clock, "alice", 0, aliceEv.hooks(), nil)
	defer alice.Close()

	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := recv(t, "declined", aliceEv.declined); got != "bob" {
		t.Fatalf("declined target = %q", got)
	}

	clock.Advance(DefaultTTL)
	select {
	case target := <-aliceEv.expired:
		t.Fatalf("declined invite to %s must not expire", target)
	case <-time.After(50 * time.Millisecond):
	}
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("a declined invite frees the slot, send again: %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil)
	defer st.Close()
	live(t, st, "alice", "bob")

	aliceEv := newEvents()
	alice := New(st, clockwork.NewFakeClock(), "alice", 0, aliceEv.hooks(), nil)
	defer alice.Close()

	if err := alice.Cancel(ctx, "bob"); !errors.Is(err, ErrNoInvite) {
		t.Fatalf("cancel without offer: %v", err)
	}
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := alice.Cancel(ctx, "bob"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if inviteExists(t, st, "bob", "alice") || slot(t, st, "bob") != "" {
		t.Fatalf("cancel should remove the invite and the slot")
	}
	select {
	case <-aliceEv.declined:
		t.Fatalf("a cancelled invite is not a decline")
	case <-time.After(50 * time.Millisecond):
	}
}

// An unanswered invite is gone at T+30s from both the requester and the
// receiver paths.
func TestUnansweredInviteExpires(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	aliceEv, bobEv := newEvents(), newEvents()
	alice := New(st, clock, "alice", DefaultTTL, aliceEv.hooks(), nil)
	bob := New(st, clock, "bob", DefaultTTL, bobEv.hooks(), nil)
	defer alice.Close()
	defer bob.Close()

	if err := bob.Observe(ctx); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	recv(t, "invite received", bobEv.received)

	// sender timer + receiver timer
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 2); err != nil {
		t.Fatalf("timers not armed: %v", err)
	}

	clock.Advance(DefaultTTL - time.Second)
	if !inviteExists(t, st, "bob", "alice") {
		t.Fatalf("invite must survive until the TTL")
	}

	clock.Advance(time.Second)
	if got := recv(t, "expired", aliceEv.expired); got != "bob" {
		t.Fatalf("expired target = %q", got)
	}
	recv(t, "receiver cleared", bobEv.cleared)
	eventually(t, "invite gone", func() bool { return !inviteExists(t, st, "bob", "alice") })
	if got := slot(t, st, "bob"); got != "" {
		t.Fatalf("slot should be cleared, got %q", got)
	}
	if alice.Pending("bob") {
		t.Fatalf("offer should be settled")
	}
}

// The receiver alone removes the invite when the requester is gone.
func TestReceiverBackstop(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob")

	_ = st.Update(ctx, domain.InvitePath("bob", "alice"), store.Record{
		domain.FieldRequestedBy: "alice",
		domain.FieldAccepted:    false,
		domain.FieldCreatedAt:   store.ServerTimestamp,
	})
	clock.Advance(10 * time.Second)

	bobEv := newEvents()
	bob := New(st, clock, "bob", DefaultTTL, bobEv.hooks(), nil)
	defer bob.Close()
	if err := bob.Observe(ctx); err != nil {
		t.Fatalf("observe: %v", err)
	}
	recv(t, "invite received", bobEv.received)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("receiver timer not armed: %v", err)
	}

	// remaining time is measured from createdAt, not from when bob saw it
	clock.Advance(20 * time.Second)
	recv(t, "cleared", bobEv.cleared)
	eventually(t, "invite gone", func() bool { return !inviteExists(t, st, "bob", "alice") })
}

func TestStaleInviteRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()

	_ = st.Update(ctx, domain.InvitePath("bob", "alice"), store.Record{
		domain.FieldRequestedBy: "alice",
		domain.FieldAccepted:    false,
		domain.FieldCreatedAt:   store.ServerTimestamp,
	})
	_ = st.Update(ctx, domain.InvitePath("bob", "ghost"), store.Record{domain.FieldAccepted: true})
	clock.Advance(DefaultTTL + time.Second)

	bobEv := newEvents()
	bob := New(st, clock, "bob", DefaultTTL, bobEv.hooks(), nil)
	defer bob.Close()
	if err := bob.Observe(ctx); err != nil {
		t.Fatalf("observe: %v", err)
	}

	eventually(t, "stale invites removed", func() bool {
		snap, _ := st.Get(ctx, domain.InboxPath("bob"))
		return len(snap.Records) == 0
	})
	select {
	case inv := <-bobEv.received:
		t.Fatalf("stale invite surfaced: %+v", inv)
	default:
	}

	if err := bob.Accept(ctx, "alice"); !errors.Is(err, ErrNoInvite) {
		t.Fatalf("accept of removed invite: %v", err)
	}
}

func TestAcceptAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()

	_ = st.Update(ctx, domain.InvitePath("bob", "alice"), store.Record{
		domain.FieldRequestedBy: "alice",
		domain.FieldAccepted:    false,
		domain.FieldCreatedAt:   store.ServerTimestamp,
	})
	_ = st.Update(ctx, domain.PlayerPath("bob"), store.Record{domain.FieldInviteReceived: "alice"})
	clock.Advance(DefaultTTL)

	bob := New(st, clock, "bob", DefaultTTL, Hooks{}, nil)
	defer bob.Close()
	if err := bob.Accept(ctx, "alice"); !errors.Is(err, ErrNoInvite) {
		t.Fatalf("expected ErrNoInvite, got %v", err)
	}
	if inviteExists(t, st, "bob", "alice") {
		t.Fatalf("expired invite should be removed")
	}
	if got := slot(t, st, "bob"); got != "" {
		t.Fatalf("slot should be cleared, got %q", got)
	}
}

func TestSlotKeepsNewerInvite(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	live(t, st, "alice", "bob", "carol")

	bobEv := newEvents()
	alice := New(st, clock, "alice", 0, Hooks{}, nil)
	carol := New(st, clock, "carol", 0, Hooks{}, nil)
	bob := New(st, clock, "bob", 0, bobEv.hooks(), nil)
	defer alice.Close()
	defer carol.Close()
	defer bob.Close()

	if err := bob.Observe(ctx); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := alice.Send(ctx, "bob"); err != nil {
		t.Fatalf("alice send: %v", err)
	}
	recv(t, "alice invite", bobEv.received)

	clock.Advance(time.Second)
	if err := carol.Send(ctx, "bob"); err != nil {
		t.Fatalf("carol send: %v", err)
	}
	if inv := recv(t, "carol invite", bobEv.received); inv.RequestedBy != "carol" {
		t.Fatalf("most recent invite should surface, got %+v", inv)
	}

	if err := alice.Cancel(ctx, "bob"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := slot(t, st, "bob"); got != "carol" {
		t.Fatalf("clearing alice's invite must not clear carol's slot, got %q", got)
	}
}
