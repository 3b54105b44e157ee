package duel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"rps_duel/internal/domain"
	"rps_duel/internal/game"
	"rps_duel/internal/store"
)

type watcher struct {
	changed  chan View
	resolved chan Result
	torn     chan struct{}
}

func newWatcher() *watcher {
	return &watcher{
		changed:  make(chan View, 64),
		resolved: make(chan Result, 8),
		torn:     make(chan struct{}, 8),
	}
}

func (w *watcher) hooks() Hooks {
	return Hooks{
		Changed: func(v View) {
			select {
			case w.changed <- v:
			default:
			}
		},
		Resolved: func(r Result) { w.resolved <- r },
		TornDown: func() { w.torn <- struct{}{} },
	}
}

type history struct {
	mu   sync.Mutex
	recs []domain.DuelRecord
}

func (h *history) Record(_ context.Context, rec domain.DuelRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *history) all() []domain.DuelRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.DuelRecord(nil), h.recs...)
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

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func score(t *testing.T, st store.Store, id string) int64 {
	t.Helper()
	snap, err := st.Get(context.Background(), domain.PlayerPath(id))
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	rec, _ := snap.Value()
	return rec.Int(domain.FieldScore)
}

func sessionRecord(t *testing.T, st store.Store, key string) (store.Record, bool) {
	t.Helper()
	snap, err := st.Get(context.Background(), domain.GamePath(key))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return snap.Value()
}

func awaiting(t *testing.T, d *Duel) {
	t.Helper()
	eventually(t, d.self+" awaiting moves", func() bool { return d.State() == StateAwaiting })
}

func TestOpenValidates(t *testing.T) {
	st := store.NewMemory(nil)
	defer st.Close()
	e := NewEngine(st, clockwork.NewFakeClock(), 0, nil, nil)

	if _, err := e.Open(context.Background(), "alice", "alice", Hooks{}); !errors.Is(err, ErrSamePlayer) {
		t.Fatalf("expected ErrSamePlayer, got %v", err)
	}
	if _, err := e.Open(context.Background(), "alice", "b$b", Hooks{}); !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestOpenInitializesSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	bob, err := e.Open(context.Background(), "bob", "alice", Hooks{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer bob.Close()

	if bob.Key() != "alice-bob" {
		t.Fatalf("key = %q", bob.Key())
	}
	rec, ok := sessionRecord(t, st, "alice-bob")
	if !ok {
		t.Fatalf("session record missing")
	}
	if rec.String(domain.FieldPlayerA) != "alice" || rec.String(domain.FieldPlayerB) != "bob" {
		t.Fatalf("seats = %v", rec)
	}
	if rec.String(domain.FieldChoiceA) != "" || rec.String(domain.FieldChoiceB) != "" || rec.Bool(domain.FieldEnded) {
		t.Fatalf("fresh session expected, got %v", rec)
	}
	if !rec.Time(domain.FieldStartedAt).Equal(clock.Now().Truncate(time.Millisecond)) {
		t.Fatalf("startedAt should come from the store clock")
	}

	awaiting(t, bob)
	v := bob.View()
	if v.Remaining != DefaultRound || v.Opponent != "alice" || v.Choice != domain.ChoiceNone {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestCompleteRoundCommitsOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	h := &history{}
	e := NewEngine(st, clock, 0, h, nil)

	ap, bp := newWatcher(), newWatcher()
	alice, err := e.Open(ctx, "alice", "bob", ap.hooks())
	if err != nil {
		t.Fatalf("open alice: %v", err)
	}
	defer alice.Close()
	bob, err := e.Open(ctx, "bob", "alice", bp.hooks())
	if err != nil {
		t.Fatalf("open bob: %v", err)
	}
	defer bob.Close()
	awaiting(t, alice)
	awaiting(t, bob)

	if alice.View().Round != bob.View().Round {
		t.Fatalf("both sides should play the same round")
	}

	if err := alice.Submit(ctx, domain.ChoiceRock); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	eventually(t, "bob sees alice ready", func() bool { return bob.View().OpponentReady })
	if v := bob.View(); v.Choice != domain.ChoiceNone {
		t.Fatalf("bob has not chosen, view %+v", v)
	}
	if err := bob.Submit(ctx, domain.ChoiceScissors); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	ar := recv(t, "alice result", ap.resolved)
	br := recv(t, "bob result", bp.resolved)
	if ar.Outcome != br.Outcome {
		t.Fatalf("outcomes differ: %+v vs %+v", ar.Outcome, br.Outcome)
	}
	if ar.Outcome.Winner != "alice" || ar.Outcome.Reason != game.ReasonComplete {
		t.Fatalf("unexpected outcome %+v", ar.Outcome)
	}
	if ar.You != game.ResultWin || br.You != game.ResultLose {
		t.Fatalf("alice %s bob %s", ar.You, br.You)
	}
	if ar.OpponentChoice != domain.ChoiceScissors || br.OpponentChoice != domain.ChoiceRock {
		t.Fatalf("choices not revealed: %+v %+v", ar, br)
	}
	if ar.Claimed == br.Claimed {
		t.Fatalf("exactly one side should claim the round")
	}

	if got := score(t, st, "alice"); got != 1 {
		t.Fatalf("alice score = %d", got)
	}
	if got := score(t, st, "bob"); got != 0 {
		t.Fatalf("bob score = %d", got)
	}

	recv(t, "alice torn down", ap.torn)
	recv(t, "bob torn down", bp.torn)
	if _, ok := sessionRecord(t, st, "alice-bob"); ok {
		t.Fatalf("session should be deleted after both sides resolved")
	}

	recs := h.all()
	if len(recs) != 1 || recs[0].Winner != "alice" || recs[0].ChoiceA != domain.ChoiceRock {
		t.Fatalf("history = %+v", recs)
	}
}

func TestDrawLeavesScores(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap, bp := newWatcher(), newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	bob, _ := e.Open(ctx, "bob", "alice", bp.hooks())
	defer bob.Close()
	awaiting(t, alice)
	awaiting(t, bob)

	_ = alice.Submit(ctx, domain.ChoicePaper)
	_ = bob.Submit(ctx, domain.ChoicePaper)

	ar := recv(t, "alice result", ap.resolved)
	recv(t, "bob result", bp.resolved)
	if !ar.Outcome.Draw() || ar.You != game.ResultDraw {
		t.Fatalf("expected draw, got %+v", ar.Outcome)
	}
	if score(t, st, "alice") != 0 || score(t, st, "bob") != 0 {
		t.Fatalf("a draw must not change scores")
	}
}

func TestTimeoutForfeitsMissingChoice(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap, bp := newWatcher(), newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	bob, _ := e.Open(ctx, "bob", "alice", bp.hooks())
	defer bob.Close()
	awaiting(t, alice)
	awaiting(t, bob)
	blockUntil(t, clock, 2)

	if err := alice.Submit(ctx, domain.ChoicePaper); err != nil {
		t.Fatalf("submit: %v", err)
	}
	eventually(t, "bob sees alice ready", func() bool { return bob.View().OpponentReady })

	clock.Advance(DefaultRound - time.Second)
	select {
	case <-ap.resolved:
		t.Fatalf("resolved before the countdown ran out")
	case <-time.After(50 * time.Millisecond):
	}
	clock.Advance(time.Second)

	ar := recv(t, "alice result", ap.resolved)
	br := recv(t, "bob result", bp.resolved)
	if ar.Outcome.Reason != game.ReasonTimeout || ar.Outcome.Winner != "alice" {
		t.Fatalf("unexpected outcome %+v", ar.Outcome)
	}
	if br.You != game.ResultLose || br.Outcome != ar.Outcome {
		t.Fatalf("bob result %+v", br)
	}
	if got := score(t, st, "alice"); got != 1 {
		t.Fatalf("alice score = %d", got)
	}

	if err := bob.Submit(ctx, domain.ChoiceRock); !errors.Is(err, ErrRoundOver) {
		t.Fatalf("late submit: expected ErrRoundOver, got %v", err)
	}
}

func TestOrphanRoundIsDrawAndTornDownAfterGrace(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap := newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	awaiting(t, alice)
	blockUntil(t, clock, 1)

	clock.Advance(DefaultRound)
	ar := recv(t, "alice result", ap.resolved)
	if !ar.Outcome.Draw() || ar.Outcome.Reason != game.ReasonTimeout || !ar.Claimed {
		t.Fatalf("unexpected result %+v", ar)
	}
	if score(t, st, "alice") != 0 {
		t.Fatalf("nobody chose: no score")
	}

	rec, ok := sessionRecord(t, st, "alice-bob")
	if !ok || !rec.Bool(domain.FieldEnded) {
		t.Fatalf("record should stay, ended, for the grace period: %v", rec)
	}

	blockUntil(t, clock, 1)
	clock.Advance(teardownGrace)
	recv(t, "torn down", ap.torn)
	if alice.State() != StateTornDown {
		t.Fatalf("state = %s", alice.State())
	}
}

func TestSubmitRules(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap := newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	awaiting(t, alice)
	blockUntil(t, clock, 1)

	if err := alice.Submit(ctx, domain.Choice("lizard")); !errors.Is(err, domain.ErrInvalidChoice) {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
	if err := alice.Submit(ctx, domain.ChoiceRock); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := alice.Submit(ctx, domain.ChoicePaper); !errors.Is(err, ErrAlreadyChosen) {
		t.Fatalf("expected ErrAlreadyChosen, got %v", err)
	}
	if err := alice.PlayAgain(ctx); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}

	rec, _ := sessionRecord(t, st, "alice-bob")
	if rec.String(domain.FieldChoiceA) != "rock" || rec.String(domain.FieldChoiceB) != "" {
		t.Fatalf("only alice's field should be written: %v", rec)
	}

	clock.Advance(DefaultRound)
	recv(t, "resolved", ap.resolved)
	if err := alice.Submit(ctx, domain.ChoiceRock); !errors.Is(err, ErrRoundOver) {
		t.Fatalf("expected ErrRoundOver, got %v", err)
	}
}

func TestOpenJoinsLiveRound(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	alice, _ := e.Open(ctx, "alice", "bob", Hooks{})
	defer alice.Close()
	awaiting(t, alice)
	if err := alice.Submit(ctx, domain.ChoiceRock); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clock.Advance(10 * time.Second)

	bob, err := e.Open(ctx, "bob", "alice", Hooks{})
	if err != nil {
		t.Fatalf("open bob: %v", err)
	}
	defer bob.Close()
	awaiting(t, bob)

	v := bob.View()
	if !v.OpponentReady || v.Round != alice.View().Round {
		t.Fatalf("bob should join alice's round, view %+v", v)
	}
	if v.Remaining != DefaultRound-10*time.Second {
		t.Fatalf("remaining should follow the shared startedAt, got %s", v.Remaining)
	}
}

// side builds a duel already awaiting s, outside of any subscription.
func side(e *Engine, s domain.Session, self string) (*Duel, *watcher) {
	w := newWatcher()
	return &Duel{
		engine:   e,
		self:     self,
		opponent: s.Opponent(self),
		key:      s.Key,
		path:     domain.GamePath(s.Key),
		hooks:    w.hooks(),
		log:      e.log,
		state:    StateAwaiting,
		current:  s,
		present:  true,
		round:    s.Round,
	}, w
}

func TestDuplicateResolutionCommitsOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	s := domain.NewSession("alice", "bob")
	s.ChoiceA = domain.ChoiceScissors
	s.ChoiceB = domain.ChoicePaper
	s.StartedAt = clock.Now()
	s.Round = newRound(clock.Now())
	if err := st.Update(ctx, domain.GamePath(s.Key), store.Record{
		domain.FieldChoiceA:   string(s.ChoiceA),
		domain.FieldChoiceB:   string(s.ChoiceB),
		domain.FieldStartedAt: store.ServerTimestamp,
		domain.FieldRound:     s.Round,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// a completion observer on each side plus a late timeout on alice's
	alice, aw := side(e, s, "alice")
	bob, bw := side(e, s, "bob")
	late, lw := side(e, s, "alice")

	alice.resolve(s)
	ar := recv(t, "alice result", aw.resolved)
	if !ar.Claimed {
		t.Fatalf("the first resolver should claim the round")
	}

	bob.resolve(s)
	late.resolve(s)
	select {
	case r := <-bw.resolved:
		t.Fatalf("bob resolved before the verdict: %+v", r)
	case r := <-lw.resolved:
		t.Fatalf("late side resolved before the verdict: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	rec, ok := sessionRecord(t, st, s.Key)
	if !ok || !rec.Bool(domain.FieldEnded) || rec.String(domain.FieldVerdict) != "scissors:paper" {
		t.Fatalf("claimant should write ended with its verdict: %v", rec)
	}
	bob.resolve(bob.decode(rec))
	br := recv(t, "bob result", bw.resolved)

	// bob tore the record down; the late side falls back to what it saw
	blockUntil(t, clock, 3)
	clock.Advance(teardownGrace)
	lr := recv(t, "late result", lw.resolved)

	claims := 0
	for _, r := range []Result{ar, br, lr} {
		if r.Outcome != ar.Outcome {
			t.Fatalf("outcomes differ: %+v %+v %+v", ar, br, lr)
		}
		if r.Claimed {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("claims = %d", claims)
	}
	if ar.Outcome.Winner != "alice" {
		t.Fatalf("scissors beats paper, got %+v", ar.Outcome)
	}
	if got := score(t, st, "alice"); got != 1 {
		t.Fatalf("alice score = %d", got)
	}
}

func TestLateMoveAfterVerdictIsIgnored(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	aw, bw := newWatcher(), newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", aw.hooks())
	defer alice.Close()
	bob, _ := e.Open(ctx, "bob", "alice", bw.hooks())
	defer bob.Close()
	awaiting(t, alice)
	awaiting(t, bob)

	if err := alice.Submit(ctx, domain.ChoicePaper); err != nil {
		t.Fatalf("submit: %v", err)
	}
	eventually(t, "bob sees alice ready", func() bool { return bob.View().OpponentReady })

	// another process resolved on a timeout, then bob's move landed late
	if err := st.Update(ctx, domain.GamePath(alice.Key()), store.Record{
		domain.FieldEnded:   true,
		domain.FieldVerdict: "paper:",
		domain.FieldChoiceB: string(domain.ChoiceRock),
	}); err != nil {
		t.Fatalf("write verdict: %v", err)
	}

	ar := recv(t, "alice result", aw.resolved)
	br := recv(t, "bob result", bw.resolved)
	if ar.Outcome != br.Outcome || ar.Outcome.Winner != "alice" {
		t.Fatalf("both sides must follow the verdict: %+v vs %+v", ar.Outcome, br.Outcome)
	}
	if ar.You != game.ResultWin || br.You != game.ResultLose {
		t.Fatalf("alice %s bob %s", ar.You, br.You)
	}
	if ar.OpponentChoice != domain.ChoiceNone || br.OpponentChoice != domain.ChoicePaper {
		t.Fatalf("late rock must not be revealed: %+v %+v", ar, br)
	}
	if ar.Claimed || br.Claimed {
		t.Fatalf("neither side claimed this round")
	}
	if err := bob.Submit(ctx, domain.ChoiceScissors); !errors.Is(err, ErrRoundOver) {
		t.Fatalf("expected ErrRoundOver, got %v", err)
	}
	if got := score(t, st, "alice"); got != 0 {
		t.Fatalf("only the claimant commits, alice score = %d", got)
	}
}

func TestSubmitRejectedWhileAwaitingVerdict(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	s := domain.NewSession("alice", "bob")
	s.ChoiceA = domain.ChoiceRock
	s.StartedAt = clock.Now()
	s.Round = newRound(clock.Now())
	if _, err := st.Increment(ctx, domain.ClaimsPath(s.Key), s.Round, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	bob, bw := side(e, s, "bob")
	bob.resolve(s)
	if err := bob.Submit(ctx, domain.ChoicePaper); !errors.Is(err, ErrRoundOver) {
		t.Fatalf("expected ErrRoundOver, got %v", err)
	}
	select {
	case r := <-bw.resolved:
		t.Fatalf("resolved without a verdict: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinedRoundGoneBeforeFirstSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	w := newWatcher()
	key := domain.CanonicalPairKey("alice", "bob")
	d := &Duel{
		engine:   e,
		self:     "alice",
		opponent: "bob",
		key:      key,
		path:     domain.GamePath(key),
		hooks:    w.hooks(),
		log:      e.log,
		state:    StateInitializing,
		current:  domain.NewSession("alice", "bob"),
	}

	d.onSnapshot(store.Snapshot{Path: d.path})
	recv(t, "torn down", w.torn)
	if d.State() != StateTornDown {
		t.Fatalf("state = %s", d.State())
	}

	if err := d.PlayAgain(ctx); err != nil {
		t.Fatalf("play again: %v", err)
	}
	rec, ok := sessionRecord(t, st, key)
	if !ok || rec.String(domain.FieldRound) == "" {
		t.Fatalf("play again should write a fresh round: %v", rec)
	}
}

func TestPlayAgainStartsFreshRound(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap, bp := newWatcher(), newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	bob, _ := e.Open(ctx, "bob", "alice", bp.hooks())
	defer bob.Close()
	awaiting(t, alice)
	awaiting(t, bob)
	first := alice.View().Round

	_ = alice.Submit(ctx, domain.ChoiceRock)
	_ = bob.Submit(ctx, domain.ChoicePaper)
	recv(t, "alice result", ap.resolved)
	recv(t, "bob result", bp.resolved)
	recv(t, "alice torn down", ap.torn)
	recv(t, "bob torn down", bp.torn)
	if got := score(t, st, "bob"); got != 1 {
		t.Fatalf("bob score = %d", got)
	}

	if err := alice.PlayAgain(ctx); err != nil {
		t.Fatalf("play again: %v", err)
	}
	awaiting(t, alice)
	awaiting(t, bob)
	if r := bob.View().Round; r == first || r != alice.View().Round {
		t.Fatalf("bob should follow alice into a new round")
	}
	if _, ok := alice.Result(); ok {
		t.Fatalf("a new round has no result yet")
	}

	rec, ok := sessionRecord(t, st, "alice-bob")
	if !ok || rec.Bool(domain.FieldEnded) || rec.String(domain.FieldChoiceA) != "" || rec.String(domain.FieldChoiceB) != "" {
		t.Fatalf("expected a fresh record, got %v", rec)
	}

	// the old round's delayed teardown must spare the new round
	clock.Advance(teardownGrace)
	time.Sleep(50 * time.Millisecond)
	if _, ok := sessionRecord(t, st, "alice-bob"); !ok {
		t.Fatalf("new round was deleted by the old teardown")
	}

	if err := bob.Submit(ctx, domain.ChoiceScissors); err != nil {
		t.Fatalf("submit in new round: %v", err)
	}
}

func TestRecordRemovedMidRound(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap := newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	defer alice.Close()
	awaiting(t, alice)

	if err := st.Delete(ctx, domain.GamePath(alice.Key())); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recv(t, "torn down", ap.torn)
	if err := alice.Submit(ctx, domain.ChoiceRock); !errors.Is(err, ErrRoundOver) {
		t.Fatalf("expected ErrRoundOver, got %v", err)
	}
	if _, ok := alice.Result(); ok {
		t.Fatalf("an abandoned round has no result")
	}
}

func TestCloseStopsEvents(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	defer st.Close()
	e := NewEngine(st, clock, 0, nil, nil)

	ap := newWatcher()
	alice, _ := e.Open(ctx, "alice", "bob", ap.hooks())
	awaiting(t, alice)
	blockUntil(t, clock, 1)

	alice.Close()
	alice.Close()
	clock.Advance(DefaultRound)
	select {
	case <-ap.resolved:
		t.Fatalf("closed duel must not resolve")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := sessionRecord(t, st, "alice-bob"); !ok {
		t.Fatalf("leaving keeps the record for the opponent")
	}
	if err := alice.Submit(ctx, domain.ChoiceRock); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
