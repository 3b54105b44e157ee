package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// queued delivers every pushed snapshot in order on its own goroutine, so
// callbacks may write back to the store without deadlocking it.
type queued struct {
	path string
	fn   func(Snapshot)

	mu    sync.Mutex
	queue []Snapshot

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newQueued(path string, fn func(Snapshot)) *queued {
	return &queued{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *queued) push(s Snapshot) {
	q.mu.Lock()
	q.queue = append(q.queue, s)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queued) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.queue) == 0 {
				q.mu.Unlock()
				break
			}
			s := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			default:
			}
			q.fn(s)
		}
	}
}

func (q *queued) stop() {
	q.once.Do(func() { close(q.done) })
}

// refresher re-reads its path whenever poked. Pokes that arrive while a
// read is pending collapse into one, so callbacks see the latest state.
type refresher struct {
	path string
	fn   func(Snapshot)
	load func(ctx context.Context) (Snapshot, error)
	log  *slog.Logger

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

const refreshTimeout = 5 * time.Second

func newRefresher(path string, fn func(Snapshot), load func(context.Context) (Snapshot, error), log *slog.Logger) *refresher {
	return &refresher{
		path: path,
		fn:   fn,
		load: load,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (r *refresher) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *refresher) run() {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		snap, err := r.load(ctx)
		cancel()
		if err != nil {
			r.log.Warn("subscription refresh failed", "path", r.path, "error", err)
			continue
		}

		select {
		case <-r.done:
			return
		default:
		}
		r.fn(snap)
	}
}

func (r *refresher) stop() {
	r.once.Do(func() { close(r.done) })
}

// stopOnDone ends a subscription when ctx is cancelled.
func stopOnDone(ctx context.Context, done <-chan struct{}, cancel func()) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
}
