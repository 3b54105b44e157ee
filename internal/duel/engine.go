// Package duel runs one participant's side of a rock-paper-scissors session.
// The two participants never talk to each other directly: each process
// holds its own Duel, both subscribe to the session record at
// games/{pairKey}, and every transition is derived from the latest
// snapshot of that record.
package duel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"rps_duel/internal/domain"
	"rps_duel/internal/logger"
	"rps_duel/internal/store"
)

// DefaultRound is the countdown of one round.
const DefaultRound = 30 * time.Second

const (
	// teardownGrace is how long the first resolver keeps a resolved record
	// around for an opponent that has not read it yet.
	teardownGrace = 5 * time.Second
	// claimRetention bounds how long resolver claims of old rounds are kept.
	claimRetention = 10 * time.Minute

	writeTimeout = 5 * time.Second
)

var (
	ErrSamePlayer    = errors.New("duel: a participant cannot duel itself")
	ErrNotAwaiting   = errors.New("duel: round is not awaiting moves")
	ErrAlreadyChosen = errors.New("duel: choice already submitted")
	ErrRoundOver     = errors.New("duel: round is over")
	ErrInProgress    = errors.New("duel: round still in progress")
)

// Recorder keeps resolved rounds. It is called once per round, by the
// process that committed the score.
type Recorder interface {
	Record(ctx context.Context, rec domain.DuelRecord) error
}

type Engine struct {
	store   store.Store
	clock   clockwork.Clock
	round   time.Duration
	history Recorder
	log     *slog.Logger
}

// NewEngine returns an engine opening duels against st. history may be nil.
func NewEngine(st store.Store, clock clockwork.Clock, round time.Duration, history Recorder, log *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if round <= 0 {
		round = DefaultRound
	}
	if log == nil {
		log = logger.Component("duel")
	}
	return &Engine{
		store:   st,
		clock:   clock,
		round:   round,
		history: history,
		log:     log,
	}
}

// Round returns the countdown length of every round.
func (e *Engine) Round() time.Duration {
	return e.round
}

// Open enters the game view for self against opponent. A live, unresolved
// round for the pair is joined as is; otherwise a fresh record is written.
// hooks start firing before Open returns.
func (e *Engine) Open(ctx context.Context, self, opponent string, hooks Hooks) (*Duel, error) {
	if err := domain.ValidateIdentity(self); err != nil {
		return nil, err
	}
	if err := domain.ValidateIdentity(opponent); err != nil {
		return nil, err
	}
	if self == opponent {
		return nil, ErrSamePlayer
	}

	key := domain.CanonicalPairKey(self, opponent)
	d := &Duel{
		engine:   e,
		self:     self,
		opponent: opponent,
		key:      key,
		path:     domain.GamePath(key),
		hooks:    hooks,
		log:      e.log.With("session", key, "participant", self),
		state:    StateInitializing,
		current:  domain.NewSession(self, opponent),
	}

	if err := d.begin(ctx); err != nil {
		return nil, err
	}

	cancel, err := e.store.Subscribe(context.Background(), d.path, d.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("watch session: %w", err)
	}
	d.mu.Lock()
	closed := d.closed
	d.cancel = cancel
	d.mu.Unlock()
	if closed {
		cancel()
	}
	return d, nil
}
