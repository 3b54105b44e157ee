package duel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"rps_duel/internal/domain"
	"rps_duel/internal/game"
	"rps_duel/internal/metrics"
	"rps_duel/internal/store"
)

// State of one participant's side of the session.
type State string

const (
	StateInitializing State = "initializing"
	StateAwaiting     State = "awaiting_moves"
	StateResolved     State = "resolved"
	StateTornDown     State = "torn_down"
)

// Hooks receive the session events for the owning participant. They run on
// store or timer goroutines. Any hook may be nil.
type Hooks struct {
	// Changed reports every observed change of the current round.
	Changed func(View)
	// Resolved reports the outcome of a round, once per round.
	Resolved func(Result)
	// TornDown reports that the session record is gone.
	TornDown func()
}

// View is the round as one participant may see it. The opponent's choice
// stays hidden until the round resolves.
type View struct {
	Key           string        `json:"key"`
	Self          string        `json:"self"`
	Opponent      string        `json:"opponent"`
	State         State         `json:"state"`
	Round         string        `json:"round"`
	Choice        domain.Choice `json:"choice,omitempty"`
	OpponentReady bool          `json:"opponent_ready"`
	StartedAt     time.Time     `json:"started_at"`
	Deadline      time.Time     `json:"deadline"`
	Remaining     time.Duration `json:"-"`
}

type Result struct {
	View
	Outcome        game.Outcome  `json:"outcome"`
	You            game.Result   `json:"you"`
	OpponentChoice domain.Choice `json:"opponent_choice,omitempty"`
	// Claimed is set on the one process that committed the round.
	Claimed bool `json:"claimed"`
}

type Duel struct {
	engine   *Engine
	self     string
	opponent string
	key      string
	path     string
	hooks    Hooks
	log      *slog.Logger

	mu sync.Mutex
	// resolveMu serializes resolution so Resolved is reported before TornDown.
	resolveMu     sync.Mutex
	state         State
	current       domain.Session
	present       bool
	round         string
	chosen        domain.Choice
	resolvedRound string
	// awaiting is a round claimed elsewhere whose verdict has not arrived.
	awaiting      string
	result        *Result
	timer         clockwork.Timer
	cancel        func()
	closed        bool
}

func (d *Duel) Key() string      { return d.key }
func (d *Duel) Opponent() string { return d.opponent }

func (d *Duel) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// View returns the round as last observed.
func (d *Duel) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

// Result returns the outcome of the last resolved round, if any.
func (d *Duel) Result() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == nil {
		return Result{}, false
	}
	return *d.result, true
}

// begin joins a live round of the pair or writes a fresh record.
func (d *Duel) begin(ctx context.Context) error {
	st := d.engine.store

	snap, err := st.Get(ctx, d.path)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if rec, ok := snap.Value(); ok {
		s := d.decode(rec)
		d.mu.Lock()
		resolved := d.resolvedRound
		d.mu.Unlock()
		if !s.Ended && s.Round != "" && s.Round != resolved &&
			s.Remaining(d.engine.clock.Now(), d.engine.round) > 0 {
			d.log.Info("joined live session", "round", s.Round)
			return nil
		}
	}

	s := domain.NewSession(d.self, d.opponent)
	if err := st.Update(ctx, d.path, store.Record{
		domain.FieldPlayerA:   s.PlayerA,
		domain.FieldPlayerB:   s.PlayerB,
		domain.FieldChoiceA:   nil,
		domain.FieldChoiceB:   nil,
		domain.FieldEnded:     false,
		domain.FieldVerdict:   nil,
		domain.FieldStartedAt: store.ServerTimestamp,
		domain.FieldRound:     newRound(d.engine.clock.Now()),
	}); err != nil {
		d.writeFailed(d.path, err)
		return fmt.Errorf("initialize session: %w", err)
	}
	d.log.Info("session initialized")
	return nil
}

// decode reads a session record. The pair comes from the key, never from
// the record, so a fragment cannot reassign the seats.
func (d *Duel) decode(rec store.Record) domain.Session {
	s := domain.NewSession(d.self, d.opponent)
	s.ChoiceA = storedChoice(rec.String(domain.FieldChoiceA))
	s.ChoiceB = storedChoice(rec.String(domain.FieldChoiceB))
	s.Ended = rec.Bool(domain.FieldEnded)
	s.StartedAt = rec.Time(domain.FieldStartedAt)
	s.Round = rec.String(domain.FieldRound)
	if v := rec.String(domain.FieldVerdict); v != "" {
		if err := s.Settle(v); err != nil {
			d.log.Warn("ignoring malformed verdict", "round", s.Round, "error", err)
		}
	}
	return s
}

func storedChoice(v string) domain.Choice {
	c, err := domain.ParseChoice(v)
	if err != nil {
		return domain.ChoiceNone
	}
	return c
}

func (d *Duel) onSnapshot(snap store.Snapshot) {
	var s domain.Session
	live := false
	if rec, ok := snap.Value(); ok {
		s = d.decode(rec)
		// a move written after a delete leaves a record without a round
		live = s.Round != "" && !s.StartedAt.IsZero()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	if !live {
		d.present = false
		d.stopTimerLocked()
		torn := false
		switch d.state {
		case StateAwaiting:
			metrics.DuelsAbandoned.Inc()
			d.log.Warn("session record removed before resolution", "round", d.round)
			d.state = StateTornDown
			torn = true
		case StateResolved:
			d.state = StateTornDown
			torn = true
		case StateInitializing:
			// the live round joined by begin was deleted before it was seen
			d.log.Info("joined session is gone", "key", d.key)
			d.state = StateTornDown
			torn = true
		}
		d.mu.Unlock()
		if torn {
			d.tornDown()
		}
		return
	}

	d.current = s
	d.present = true
	if s.Round != d.round {
		d.round = s.Round
		d.chosen = domain.ChoiceNone
		d.result = nil
		d.state = StateAwaiting
		d.resetTimerLocked(s)
		d.log.Debug("round started", "round", d.round)
	}
	view := d.viewLocked()
	trigger := d.state == StateAwaiting &&
		(s.BothChosen() || s.Ended || view.Remaining == 0)
	d.mu.Unlock()

	if d.hooks.Changed != nil {
		d.hooks.Changed(view)
	}
	if trigger {
		d.resolve(s)
	}
}

// tornDown reports the end of the record once any pending resolution has
// been reported.
func (d *Duel) tornDown() {
	d.resolveMu.Lock()
	d.resolveMu.Unlock()

	d.mu.Lock()
	report := d.state == StateTornDown && !d.closed
	d.mu.Unlock()
	if report && d.hooks.TornDown != nil {
		d.hooks.TornDown()
	}
}

func (d *Duel) resetTimerLocked(s domain.Session) {
	d.stopTimerLocked()
	round := s.Round
	left := s.Remaining(d.engine.clock.Now(), d.engine.round)
	d.timer = d.engine.clock.AfterFunc(left, func() { d.onDeadline(round) })
}

func (d *Duel) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// onDeadline resolves the round when the countdown runs out before both
// moves are in.
func (d *Duel) onDeadline(round string) {
	d.mu.Lock()
	if d.closed || d.round != round || d.state != StateAwaiting || !d.present {
		d.mu.Unlock()
		return
	}
	s := d.current
	d.mu.Unlock()

	if fresh, ok := d.read(round); ok {
		s = fresh
	}
	d.resolve(s)
}

// read fetches the record and returns it if it still holds round.
func (d *Duel) read(round string) (domain.Session, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	snap, err := d.engine.store.Get(ctx, d.path)
	if err != nil {
		d.log.Warn("read session failed", "round", round, "error", err)
		return domain.Session{}, false
	}
	rec, ok := snap.Value()
	if !ok {
		return domain.Session{}, false
	}
	s := d.decode(rec)
	return s, s.Round == round
}

// resolve settles the round. The first process to claim the round decides
// it: it writes ended together with the verdict, the choices it resolved
// on, and commits the score. Every other observer adopts that verdict, so
// a move landing after the verdict cannot change anyone's outcome.
func (d *Duel) resolve(s domain.Session) {
	d.resolveMu.Lock()
	defer d.resolveMu.Unlock()

	d.mu.Lock()
	skip := d.closed || d.state != StateAwaiting || d.round != s.Round ||
		(!s.Settled && d.awaiting == s.Round)
	d.mu.Unlock()
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if s.Settled {
		if d.settle(s, false) {
			// both sides have resolved
			d.teardown(ctx, s.Round)
		}
		return
	}

	st := d.engine.store
	claims, err := st.Increment(ctx, domain.ClaimsPath(d.key), s.Round, 1)
	switch {
	case err != nil:
		// no claim and no verdict; show what this side saw and leave the
		// record to the opponent
		d.writeFailed(domain.ClaimsPath(d.key), err)
		d.settle(s, false)

	case claims == 1:
		if err := st.Update(ctx, d.path, store.Record{
			domain.FieldEnded:   true,
			domain.FieldVerdict: s.Verdict(),
		}); err != nil {
			d.writeFailed(d.path, err)
		}
		d.commit(ctx, s, game.Resolve(s))
		d.settle(s, true)

		round := s.Round
		d.engine.clock.AfterFunc(teardownGrace, func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			d.teardown(ctx, round)
		})

	default:
		d.mu.Lock()
		d.awaiting = s.Round
		d.mu.Unlock()
		round := s.Round
		d.engine.clock.AfterFunc(teardownGrace, func() { d.onVerdictTimeout(round) })
		d.log.Debug("round claimed elsewhere", "round", round, "claims", claims)
	}
}

// onVerdictTimeout resolves a round whose claimant never wrote a verdict.
// Nothing is committed.
func (d *Duel) onVerdictTimeout(round string) {
	s, ok := d.read(round)

	d.resolveMu.Lock()
	defer d.resolveMu.Unlock()

	d.mu.Lock()
	waiting := !d.closed && d.state == StateAwaiting && d.awaiting == round
	if !ok {
		s = d.current
	}
	d.mu.Unlock()
	if !waiting || s.Round != round {
		return
	}

	if !s.Settled {
		d.log.Warn("no verdict from the claiming side, resolving locally", "round", round)
	}
	if d.settle(s, false) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		d.teardown(ctx, round)
	}
}

// settle marks s resolved and reports it. It runs under resolveMu and
// returns false if the round is no longer awaited.
func (d *Duel) settle(s domain.Session, claimed bool) bool {
	d.mu.Lock()
	if d.closed || d.state != StateAwaiting || d.round != s.Round {
		d.mu.Unlock()
		return false
	}
	d.state = StateResolved
	d.resolvedRound = s.Round
	d.stopTimerLocked()
	view := d.viewLocked()
	d.mu.Unlock()

	outcome := game.Resolve(s)
	metrics.DuelsResolved.WithLabelValues(outcome.Reason, string(outcome.Result)).Inc()
	d.log.Info("round resolved",
		"round", s.Round,
		"reason", outcome.Reason,
		"winner", outcome.Winner,
		"claimed", claimed,
	)

	view.State = StateResolved
	view.Choice = s.ChoiceOf(d.self)
	view.OpponentReady = s.ChoiceOf(d.opponent) != domain.ChoiceNone
	res := Result{
		View:           view,
		Outcome:        outcome,
		You:            outcome.For(d.self, s.PlayerA),
		OpponentChoice: s.ChoiceOf(d.opponent),
		Claimed:        claimed,
	}

	d.mu.Lock()
	if d.resolvedRound == s.Round {
		d.result = &res
	}
	d.mu.Unlock()

	if d.hooks.Resolved != nil {
		d.hooks.Resolved(res)
	}
	return true
}

// commit applies the round's score delta and records it.
func (d *Duel) commit(ctx context.Context, s domain.Session, outcome game.Outcome) {
	st := d.engine.store

	if !outcome.Draw() {
		path := domain.PlayerPath(outcome.Winner)
		if _, err := st.Increment(ctx, path, domain.FieldScore, 1); err != nil {
			// the verdict is already written; the point is lost
			d.writeFailed(path, err)
		} else {
			metrics.ScoreCommits.Inc()
			d.log.Info("score committed", "winner", outcome.Winner)
		}
	}

	d.pruneClaims(ctx)

	if d.engine.history == nil {
		return
	}
	rec := domain.DuelRecord{
		PairKey:   s.Key,
		PlayerA:   s.PlayerA,
		PlayerB:   s.PlayerB,
		ChoiceA:   s.ChoiceA,
		ChoiceB:   s.ChoiceB,
		Winner:    outcome.Winner,
		Reason:    outcome.Reason,
		StartedAt: s.StartedAt,
		EndedAt:   d.engine.clock.Now(),
	}
	if err := d.engine.history.Record(ctx, rec); err != nil {
		d.log.Warn("record duel failed", "error", err)
	}
}

// newRound returns a round id led by its start time, so old claims can be
// told apart by age.
func newRound(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}

// pruneClaims drops claims of rounds that started long ago.
func (d *Duel) pruneClaims(ctx context.Context) {
	path := domain.ClaimsPath(d.key)
	snap, err := d.engine.store.Get(ctx, path)
	if err != nil {
		return
	}
	rec, ok := snap.Value()
	if !ok {
		return
	}

	cutoff := d.engine.clock.Now().Add(-claimRetention).UnixMilli()
	stale := store.Record{}
	for field := range rec {
		prefix, _, _ := strings.Cut(field, "-")
		ms, err := strconv.ParseInt(prefix, 10, 64)
		if err == nil && ms < cutoff {
			stale[field] = nil
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := d.engine.store.Update(ctx, path, stale); err != nil {
		d.writeFailed(path, err)
	}
}

// teardown deletes the record if it still holds round. The check and the
// delete are not atomic; a "play again" landing in between is lost and
// has to be repeated.
func (d *Duel) teardown(ctx context.Context, round string) {
	snap, err := d.engine.store.Get(ctx, d.path)
	if err != nil {
		d.log.Warn("read session for teardown failed", "error", err)
		return
	}
	rec, ok := snap.Value()
	if !ok || d.decode(rec).Round != round {
		return
	}
	if err := d.engine.store.Delete(ctx, d.path); err != nil {
		d.writeFailed(d.path, err)
		return
	}
	d.log.Debug("session deleted", "round", round)
}

// Submit writes the participant's move. A move cannot be taken back; a
// failed write may be retried.
func (d *Duel) Submit(ctx context.Context, choice domain.Choice) error {
	if !choice.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidChoice, choice)
	}

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return store.ErrClosed
	case d.state == StateResolved || d.state == StateTornDown:
		d.mu.Unlock()
		return ErrRoundOver
	case d.state != StateAwaiting:
		d.mu.Unlock()
		return ErrNotAwaiting
	case d.chosen != domain.ChoiceNone || d.current.ChoiceOf(d.self) != domain.ChoiceNone:
		d.mu.Unlock()
		return ErrAlreadyChosen
	case d.current.Ended || d.awaiting == d.round ||
		d.current.Remaining(d.engine.clock.Now(), d.engine.round) == 0:
		d.mu.Unlock()
		return ErrRoundOver
	}
	d.chosen = choice
	round := d.round
	field := d.current.ChoiceField(d.self)
	d.mu.Unlock()

	if err := d.engine.store.Update(ctx, d.path, store.Record{field: string(choice)}); err != nil {
		d.writeFailed(d.path, err)
		d.mu.Lock()
		if d.round == round && d.chosen == choice {
			d.chosen = domain.ChoiceNone
		}
		d.mu.Unlock()
		return fmt.Errorf("submit choice: %w", err)
	}
	d.log.Info("choice submitted", "round", round)
	return nil
}

// PlayAgain starts a new round after the last one resolved. If the
// opponent already started one, it is joined instead.
func (d *Duel) PlayAgain(ctx context.Context) error {
	d.mu.Lock()
	closed, state := d.closed, d.state
	d.mu.Unlock()

	if closed {
		return store.ErrClosed
	}
	if state != StateResolved && state != StateTornDown {
		return ErrInProgress
	}
	return d.begin(ctx)
}

// Close leaves the game view. The record is left to the opponent, whose
// countdown resolves the round.
func (d *Duel) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stopTimerLocked()
	if d.state != StateResolved {
		d.state = StateTornDown
	}
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.log.Debug("left session")
}

func (d *Duel) viewLocked() View {
	v := View{
		Key:      d.key,
		Self:     d.self,
		Opponent: d.opponent,
		State:    d.state,
		Round:    d.round,
	}
	if !d.present {
		v.Choice = d.chosen
		return v
	}

	s := d.current
	v.Choice = s.ChoiceOf(d.self)
	if v.Choice == domain.ChoiceNone {
		v.Choice = d.chosen
	}
	v.OpponentReady = s.ChoiceOf(d.opponent) != domain.ChoiceNone
	v.StartedAt = s.StartedAt
	v.Deadline = s.Deadline(d.engine.round)
	v.Remaining = s.Remaining(d.engine.clock.Now(), d.engine.round)
	return v
}

func (d *Duel) writeFailed(path string, err error) {
	metrics.StoreWriteErrors.WithLabelValues("duel").Inc()
	d.log.Warn("store write failed", "path", path, "error", err)
}
