// Package invite runs the offer/accept/decline/expire handshake between two
// participants. Each participant's process owns one Negotiator; the two
// sides only meet through the invite record at
// gameRequests/{target}/{requester}.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"rps_duel/internal/domain"
	"rps_duel/internal/logger"
	"rps_duel/internal/metrics"
	"rps_duel/internal/store"
)

// DefaultTTL is how long an invite stays open without an answer.
const DefaultTTL = 30 * time.Second

const cleanupTimeout = 5 * time.Second

var (
	ErrSelfInvite     = errors.New("invite: cannot invite yourself")
	ErrTargetOffline  = errors.New("invite: target is not live")
	ErrAlreadyPending = errors.New("invite: an invite to this participant is already pending")
	ErrNoInvite       = errors.New("invite: no open invite")
)

// Hooks receive the handshake events for the owning participant. They run
// on store or timer goroutines and must not block for long. Any hook may be nil.
type Hooks struct {
	// Received reports the most recent open inbound invite.
	Received func(inv domain.Invite)
	// Cleared reports that no inbound invite is open any more.
	Cleared func()
	// Accepted, Declined and Expired report the fate of an outgoing invite.
	Accepted func(target string)
	Declined func(target string)
	Expired  func(target string)
}

// offer is an outgoing invite held by the requester.
type offer struct {
	target string
	done   bool
	timer  clockwork.Timer
	cancel func()
}

// pending is the receiver-side backstop timer for one inbound invite.
type pending struct {
	createdAt time.Time
	timer     clockwork.Timer
}

type Negotiator struct {
	store store.Store
	clock clockwork.Clock
	self  string
	ttl   time.Duration
	hooks Hooks
	log   *slog.Logger

	mu          sync.Mutex
	outgoing    map[string]*offer
	incoming    map[string]*pending
	surfaced    string
	inboxCancel func()
	closed      bool
}

func New(st store.Store, clock clockwork.Clock, self string, ttl time.Duration, hooks Hooks, log *slog.Logger) *Negotiator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Component("invite")
	}
	return &Negotiator{
		store:    st,
		clock:    clock,
		self:     self,
		ttl:      ttl,
		hooks:    hooks,
		log:      log.With("participant", self),
		outgoing: make(map[string]*offer),
		incoming: make(map[string]*pending),
	}
}

// Send offers a duel to target. The target must be live and distinct from
// the requester. The offer stays open until it is accepted, declined,
// cancelled or the TTL passes; the requester learns which through Hooks.
func (n *Negotiator) Send(ctx context.Context, target string) error {
	if err := domain.ValidateIdentity(target); err != nil {
		return err
	}
	if target == n.self {
		return ErrSelfInvite
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return store.ErrClosed
	}
	if _, ok := n.outgoing[target]; ok {
		n.mu.Unlock()
		return ErrAlreadyPending
	}
	o := &offer{target: target}
	n.outgoing[target] = o
	n.mu.Unlock()

	if err := n.send(ctx, o); err != nil {
		n.mu.Lock()
		if n.outgoing[target] == o {
			delete(n.outgoing, target)
		}
		n.mu.Unlock()
		return err
	}
	return nil
}

func (n *Negotiator) send(ctx context.Context, o *offer) error {
	snap, err := n.store.Get(ctx, domain.PlayerPath(o.target))
	if err != nil {
		return fmt.Errorf("read target: %w", err)
	}
	rec, ok := snap.Value()
	if !ok || !rec.Bool(domain.FieldActive) {
		return ErrTargetOffline
	}

	path := domain.InvitePath(o.target, n.self)
	if err := n.store.Update(ctx, path, store.Record{
		domain.FieldRequestedBy: n.self,
		domain.FieldAccepted:    false,
		domain.FieldCreatedAt:   store.ServerTimestamp,
	}); err != nil {
		n.writeFailed(path, err)
		return fmt.Errorf("write invite: %w", err)
	}
	if err := n.store.Update(ctx, domain.PlayerPath(o.target), store.Record{
		domain.FieldInviteReceived: n.self,
	}); err != nil {
		n.writeFailed(domain.PlayerPath(o.target), err)
	}
	metrics.Invites.WithLabelValues("sent").Inc()
	n.log.Info("invite sent", "target", o.target)

	n.mu.Lock()
	o.timer = n.clock.AfterFunc(n.ttl, func() { n.expire(o) })
	n.mu.Unlock()

	// the watch starts after the write, so a missing record always means the
	// target removed it, even if that happened before the first delivery
	cancel, err := n.store.Subscribe(context.Background(), path, func(s store.Snapshot) {
		n.onOffer(o, s)
	})
	if err != nil {
		// the timer still clears the record
		n.log.Warn("watch invite failed", "target", o.target, "error", err)
		return nil
	}

	n.mu.Lock()
	if o.done {
		n.mu.Unlock()
		cancel()
		return nil
	}
	o.cancel = cancel
	n.mu.Unlock()
	return nil
}

func (n *Negotiator) onOffer(o *offer, s store.Snapshot) {
	rec, ok := s.Value()
	if !ok {
		if n.finish(o) {
			metrics.Invites.WithLabelValues("declined").Inc()
			n.log.Info("invite declined", "target", o.target)
			if n.hooks.Declined != nil {
				n.hooks.Declined(o.target)
			}
		}
		return
	}
	if rec.Bool(domain.FieldAccepted) {
		n.accepted(o)
	}
}

func (n *Negotiator) accepted(o *offer) {
	if !n.finish(o) {
		return
	}
	n.log.Info("invite accepted", "target", o.target)

	// the answer has been read; the record has served its purpose
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	path := domain.InvitePath(o.target, n.self)
	if err := n.store.Delete(ctx, path); err != nil {
		n.writeFailed(path, err)
	}

	if n.hooks.Accepted != nil {
		n.hooks.Accepted(o.target)
	}
}

// expire runs when the requester's timer fires.
func (n *Negotiator) expire(o *offer) {
	n.mu.Lock()
	done := o.done
	n.mu.Unlock()
	if done {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	path := domain.InvitePath(o.target, n.self)
	snap, err := n.store.Get(ctx, path)
	if err == nil {
		if rec, ok := snap.Value(); ok && rec.Bool(domain.FieldAccepted) {
			n.accepted(o)
			return
		}
	}

	if !n.finish(o) {
		return
	}
	if err := n.store.Delete(ctx, path); err != nil {
		n.writeFailed(path, err)
	}
	n.clearSlot(ctx, o.target, n.self)

	metrics.Invites.WithLabelValues("expired").Inc()
	n.log.Info("invite expired", "target", o.target)
	if n.hooks.Expired != nil {
		n.hooks.Expired(o.target)
	}
}

// finish retires an offer. Only the first caller gets true.
func (n *Negotiator) finish(o *offer) bool {
	n.mu.Lock()
	if o.done {
		n.mu.Unlock()
		return false
	}
	o.done = true
	if n.outgoing[o.target] == o {
		delete(n.outgoing, o.target)
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	cancel := o.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Cancel withdraws an outgoing invite.
func (n *Negotiator) Cancel(ctx context.Context, target string) error {
	n.mu.Lock()
	o, ok := n.outgoing[target]
	n.mu.Unlock()
	if !ok || !n.finish(o) {
		return ErrNoInvite
	}

	path := domain.InvitePath(target, n.self)
	if err := n.store.Delete(ctx, path); err != nil {
		n.writeFailed(path, err)
		return fmt.Errorf("withdraw invite: %w", err)
	}
	n.clearSlot(ctx, target, n.self)
	metrics.Invites.WithLabelValues("cancelled").Inc()
	n.log.Info("invite cancelled", "target", target)
	return nil
}

// Pending reports whether an outgoing invite to target is open.
func (n *Negotiator) Pending(target string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.outgoing[target]
	return ok
}

// Observe watches the participant's own inbox. Received and Cleared fire
// as the most recent open invite changes, stale invites are removed by
// their createdAt, and each open invite is auto-declined once its TTL
// passes without an answer.
func (n *Negotiator) Observe(ctx context.Context) error {
	cancel, err := n.store.Subscribe(ctx, domain.InboxPath(n.self), n.onInbox)
	if err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	n.mu.Lock()
	prev := n.inboxCancel
	n.inboxCancel = cancel
	closed := n.closed
	n.mu.Unlock()

	if prev != nil {
		prev()
	}
	if closed {
		cancel()
		return store.ErrClosed
	}
	return nil
}

func (n *Negotiator) onInbox(s store.Snapshot) {
	now := n.clock.Now()

	var (
		latest *domain.Invite
		stale  []string
	)
	open := make(map[string]domain.Invite)
	for requester, rec := range s.Children() {
		inv := decode(n.self, requester, rec)
		if inv.RequestedBy == "" || inv.ExpiredAt(now, n.ttl) {
			// fragments from writes that raced a delete, or answers nobody collected
			stale = append(stale, requester)
			continue
		}
		if inv.Accepted {
			continue
		}
		open[requester] = inv
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) ||
			(inv.CreatedAt.Equal(latest.CreatedAt) && inv.RequestedBy < latest.RequestedBy) {
			cp := inv
			latest = &cp
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	for requester, p := range n.incoming {
		if inv, ok := open[requester]; !ok || !inv.CreatedAt.Equal(p.createdAt) {
			p.timer.Stop()
			delete(n.incoming, requester)
		}
	}
	for requester, inv := range open {
		if _, ok := n.incoming[requester]; ok {
			continue
		}
		left := n.ttl
		if !inv.CreatedAt.IsZero() {
			left -= now.Sub(inv.CreatedAt)
		}
		if left < 0 {
			left = 0
		}
		requester, createdAt := requester, inv.CreatedAt
		n.incoming[requester] = &pending{
			createdAt: createdAt,
			timer:     n.clock.AfterFunc(left, func() { n.autoDecline(requester, createdAt) }),
		}
	}

	key := ""
	if latest != nil {
		key = latest.RequestedBy + "@" + latest.CreatedAt.String()
	}
	changed := key != n.surfaced
	hadSurfaced := n.surfaced != ""
	n.surfaced = key
	n.mu.Unlock()

	if len(stale) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		for _, requester := range stale {
			path := domain.InvitePath(n.self, requester)
			if err := n.store.Delete(ctx, path); err != nil {
				n.writeFailed(path, err)
			}
			n.clearSlot(ctx, n.self, requester)
			n.log.Debug("stale invite removed", "requester", requester)
		}
		cancel()
	}

	if !changed {
		return
	}
	if latest != nil {
		if n.hooks.Received != nil {
			n.hooks.Received(*latest)
		}
	} else if hadSurfaced && n.hooks.Cleared != nil {
		n.hooks.Cleared()
	}
}

// autoDecline is the receiver-side backstop for an unanswered invite.
func (n *Negotiator) autoDecline(requester string, createdAt time.Time) {
	n.mu.Lock()
	p, ok := n.incoming[requester]
	if !ok || !p.createdAt.Equal(createdAt) || n.closed {
		n.mu.Unlock()
		return
	}
	delete(n.incoming, requester)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	path := domain.InvitePath(n.self, requester)
	if err := n.store.Delete(ctx, path); err != nil {
		n.writeFailed(path, err)
	}
	n.clearSlot(ctx, n.self, requester)
	metrics.Invites.WithLabelValues("auto_declined").Inc()
	n.log.Info("invite timed out on receiver side", "requester", requester)
}

// Accept answers an inbound invite from requester. The caller enters the
// session with requester as the opponent once Accept returns nil.
func (n *Negotiator) Accept(ctx context.Context, requester string) error {
	if err := domain.ValidateIdentity(requester); err != nil {
		return err
	}
	n.stopIncoming(requester)

	path := domain.InvitePath(n.self, requester)
	snap, err := n.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("read invite: %w", err)
	}
	rec, ok := snap.Value()
	if !ok {
		return ErrNoInvite
	}
	inv := decode(n.self, requester, rec)
	if inv.RequestedBy == "" || inv.ExpiredAt(n.clock.Now(), n.ttl) {
		if err := n.store.Delete(ctx, path); err != nil {
			n.writeFailed(path, err)
		}
		n.clearSlot(ctx, n.self, requester)
		return ErrNoInvite
	}

	n.clearSlot(ctx, n.self, requester)
	if err := n.store.Update(ctx, path, store.Record{domain.FieldAccepted: true}); err != nil {
		n.writeFailed(path, err)
		return fmt.Errorf("accept invite: %w", err)
	}
	metrics.Invites.WithLabelValues("accepted").Inc()
	n.log.Info("invite accepted", "requester", requester)
	return nil
}

// Decline removes an inbound invite from requester.
func (n *Negotiator) Decline(ctx context.Context, requester string) error {
	if err := domain.ValidateIdentity(requester); err != nil {
		return err
	}
	n.stopIncoming(requester)

	path := domain.InvitePath(n.self, requester)
	if err := n.store.Delete(ctx, path); err != nil {
		n.writeFailed(path, err)
		return fmt.Errorf("decline invite: %w", err)
	}
	n.clearSlot(ctx, n.self, requester)
	metrics.Invites.WithLabelValues("declined").Inc()
	n.log.Info("invite declined", "requester", requester)
	return nil
}

func (n *Negotiator) stopIncoming(requester string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.incoming[requester]; ok {
		p.timer.Stop()
		delete(n.incoming, requester)
	}
}

// clearSlot removes owner's inviteReceived marker if it still names requester.
func (n *Negotiator) clearSlot(ctx context.Context, owner, requester string) {
	path := domain.PlayerPath(owner)
	snap, err := n.store.Get(ctx, path)
	if err != nil {
		n.log.Warn("read invite slot failed", "path", path, "error", err)
		return
	}
	rec, ok := snap.Value()
	if !ok || rec.String(domain.FieldInviteReceived) != requester {
		return
	}
	if err := n.store.Update(ctx, path, store.Record{domain.FieldInviteReceived: nil}); err != nil {
		n.writeFailed(path, err)
	}
}

// Close stops every timer and subscription and withdraws outgoing invites.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	offers := make([]*offer, 0, len(n.outgoing))
	for _, o := range n.outgoing {
		offers = append(offers, o)
	}
	for requester, p := range n.incoming {
		p.timer.Stop()
		delete(n.incoming, requester)
	}
	inbox := n.inboxCancel
	n.inboxCancel = nil
	n.mu.Unlock()

	if inbox != nil {
		inbox()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, o := range offers {
		if !n.finish(o) {
			continue
		}
		path := domain.InvitePath(o.target, n.self)
		if err := n.store.Delete(ctx, path); err != nil {
			n.writeFailed(path, err)
		}
		n.clearSlot(ctx, o.target, n.self)
	}
}

func (n *Negotiator) writeFailed(path string, err error) {
	metrics.StoreWriteErrors.WithLabelValues("invite").Inc()
	n.log.Warn("store write failed", "path", path, "error", err)
}

func decode(target, requester string, rec store.Record) domain.Invite {
	inv := domain.Invite{
		Target:      target,
		RequestedBy: rec.String(domain.FieldRequestedBy),
		Accepted:    rec.Bool(domain.FieldAccepted),
		CreatedAt:   rec.Time(domain.FieldCreatedAt),
	}
	if inv.RequestedBy != "" && inv.RequestedBy != requester {
		// the path is authoritative for who asked
		inv.RequestedBy = requester
	}
	return inv
}
