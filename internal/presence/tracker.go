// Package presence publishes a participant's liveness flag to the shared
// store. Liveness is advisory: writes are logged on failure and never retried.
package presence

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"rps_duel/internal/domain"
	"rps_duel/internal/logger"
	"rps_duel/internal/metrics"
	"rps_duel/internal/store"
)

// writeTimeout bounds a single liveness write.
const writeTimeout = 5 * time.Second

// Signals are the client lifecycle events a tracker listens to. Either
// channel may be nil.
type Signals struct {
	// Visibility delivers true when the client comes to the foreground and
	// false when it goes to the background.
	Visibility <-chan bool
	// Terminating is closed (or sent on) just before the client goes away.
	Terminating <-chan struct{}
}

type Tracker struct {
	store store.Store
	log   *slog.Logger
}

func NewTracker(st store.Store, log *slog.Logger) *Tracker {
	if log == nil {
		log = logger.Component("presence")
	}
	return &Tracker{store: st, log: log}
}

// Start writes active=true for id and keeps the flag in step with sig until
// the returned stop function is called. stop writes active=false and is
// safe to call more than once.
func (t *Tracker) Start(ctx context.Context, id string, sig Signals) (func(), error) {
	if err := domain.ValidateIdentity(id); err != nil {
		return nil, err
	}

	t.write(ctx, id, true)

	quit := make(chan struct{})
	loopDone := make(chan struct{})
	go t.loop(ctx, id, sig, quit, loopDone)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(quit)
			<-loopDone
			t.write(context.Background(), id, false)
		})
	}
	return stop, nil
}

func (t *Tracker) loop(ctx context.Context, id string, sig Signals, quit, done chan struct{}) {
	defer close(done)

	visibility := sig.Visibility
	terminating := sig.Terminating
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case visible, ok := <-visibility:
			if !ok {
				visibility = nil
				continue
			}
			t.write(ctx, id, visible)
		case <-terminating:
			// best effort; the process may be gone before it lands
			go t.write(context.Background(), id, false)
			return
		}
	}
}

func (t *Tracker) write(ctx context.Context, id string, active bool) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	path := domain.PlayerPath(id)
	metrics.PresenceWrites.WithLabelValues(strconv.FormatBool(active)).Inc()
	if err := t.store.Update(ctx, path, store.Record{domain.FieldActive: active}); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("presence").Inc()
		t.log.Warn("liveness write failed", "participant", id, "path", path, "active", active, "error", err)
		return
	}
	t.log.Debug("liveness written", "participant", id, "active", active)
}
