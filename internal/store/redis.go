package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Redis stores each path as a hash of JSON-encoded fields, keeps the set
// of known paths in an index and announces every write on a pub/sub channel
// carrying the changed path. Numbers are stored as plain integers so
// HINCRBY works on fields written by Update.
type Redis struct {
	client *redis.Client
	prefix string
	pubsub *redis.PubSub
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*refresher
	nextID uint64
	closed bool
}

// NewRedis subscribes to the change channel and returns a ready store. The
// client stays owned by the caller.
func NewRedis(ctx context.Context, client *redis.Client, prefix string, log *slog.Logger) (*Redis, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Redis{
		client: client,
		prefix: prefix,
		log:    log,
		subs:   make(map[uint64]*refresher),
	}

	ps := client.Subscribe(ctx, r.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel(), err)
	}
	r.pubsub = ps

	go r.listen()
	return r, nil
}

// Ping checks that the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(path string) string { return r.prefix + ":rec:" + path }
func (r *Redis) indexKey() string       { return r.prefix + ":paths" }
func (r *Redis) channel() string        { return r.prefix + ":changes" }

func (r *Redis) listen() {
	for msg := range r.pubsub.Channel() {
		changed := msg.Payload

		r.mu.Lock()
		for _, sub := range r.subs {
			if related(changed, sub.path) {
				sub.poke()
			}
		}
		r.mu.Unlock()
	}
}

func (r *Redis) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := r.check(path); err != nil {
		return Snapshot{}, err
	}

	paths, err := r.pathsWithin(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Path: path, Records: make(map[string]Record)}
	if len(paths) == 0 {
		return snap, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(paths))
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range paths {
			cmds[i] = pipe.HGetAll(ctx, r.key(p))
		}
		return nil
	}); err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}

	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			// index entry left behind by a record that lost all its fields
			continue
		}
		rec := make(Record, len(vals))
		for f, raw := range vals {
			rec[f] = decodeValue(raw)
		}
		snap.Records[paths[i]] = rec
	}
	return snap, nil
}

func (r *Redis) Update(ctx context.Context, path string, fields Record) error {
	if err := r.check(path); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	set := make(map[string]any, len(fields))
	var del []string
	for k, v := range fields {
		if v == nil {
			del = append(del, k)
			continue
		}
		if v == ServerTimestamp {
			now, err := r.client.Time(ctx).Result()
			if err != nil {
				return fmt.Errorf("server time: %w", err)
			}
			v = now.UnixMilli()
		}
		enc, err := json.Marshal(normalize(v))
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", path, k, err)
		}
		set[k] = string(enc)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, r.key(path), set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, r.key(path), del...)
		}
		pipe.SAdd(ctx, r.indexKey(), path)
		pipe.Publish(ctx, r.channel(), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	if err := r.check(path); err != nil {
		return 0, err
	}

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, r.key(path), field, delta)
		pipe.SAdd(ctx, r.indexKey(), path)
		pipe.Publish(ctx, r.channel(), path)
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, fmt.Errorf("%w: %s.%s", ErrNotNumeric, path, field)
		}
		return 0, fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	return incr.Val(), nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	if err := r.check(path); err != nil {
		return err
	}

	paths, err := r.pathsWithin(ctx, path)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	keys := make([]string, len(paths))
	members := make([]any, len(paths))
	for i, p := range paths {
		keys[i] = r.key(p)
		members[i] = p
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, r.indexKey(), members...)
		pipe.Publish(ctx, r.channel(), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := r.check(path); err != nil {
		return nil, err
	}

	sub := newRefresher(path, fn, func(ctx context.Context) (Snapshot, error) {
		return r.Get(ctx, path)
	}, r.log)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextID++
	id := r.nextID
	r.subs[id] = sub
	r.mu.Unlock()

	sub.poke()
	go sub.run()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		sub.stop()
	}
	stopOnDone(ctx, sub.done, cancel)
	return cancel, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, sub := range r.subs {
		sub.stop()
		delete(r.subs, id)
	}
	r.mu.Unlock()

	return r.pubsub.Close()
}

func (r *Redis) check(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// pathsWithin lists indexed paths at or below root. The index is read in
// full, which assumes the collections stay small.
func (r *Redis) pathsWithin(ctx context.Context, root string) ([]string, error) {
	all, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read path index: %w", err)
	}
	var out []string
	for _, p := range all {
		if within(p, root) {
			out = append(out, p)
		}
	}
	return out, nil
}

func decodeValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
