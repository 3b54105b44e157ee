package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store. ServerTimestamp values come from its clock.
type Memory struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records map[string]Record
	subs    map[uint64]*queued
	nextID  uint64
	closed  bool
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:   clock,
		records: make(map[string]Record),
		subs:    make(map[uint64]*queued),
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := m.check(ctx, path); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(path), nil
}

func (m *Memory) Update(ctx context.Context, path string, fields Record) error {
	if err := m.check(ctx, path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	next := m.records[path].clone()
	changed := false
	for k, v := range fields {
		if v == nil {
			if _, ok := next[k]; ok {
				delete(next, k)
				changed = true
			}
			continue
		}
		if v == ServerTimestamp {
			v = m.clock.Now().UnixMilli()
		}
		v = normalize(v)
		if old, ok := next[k]; !ok || !reflect.DeepEqual(old, v) {
			next[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if len(next) == 0 {
		delete(m.records, path)
	} else {
		m.records[path] = next
	}
	m.notifyLocked(path)
	return nil
}

func (m *Memory) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	if err := m.check(ctx, path); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	next := m.records[path].clone()
	var n int64
	cur, exists := next[field]
	if exists {
		if _, isString := cur.(string); isString {
			return 0, fmt.Errorf("%w: %s.%s", ErrNotNumeric, path, field)
		}
		v, ok := toInt(cur)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrNotNumeric, path, field)
		}
		n = v
	}
	n += delta
	next[field] = n
	m.records[path] = next

	if !exists || delta != 0 {
		m.notifyLocked(path)
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := m.check(ctx, path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	removed := false
	for p := range m.records {
		if within(p, path) {
			delete(m.records, p)
			removed = true
		}
	}
	if removed {
		m.notifyLocked(path)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := m.check(ctx, path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	sub := newQueued(path, fn)
	m.subs[id] = sub
	sub.push(m.snapshotLocked(path))
	m.mu.Unlock()

	go sub.run()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.stop()
	}
	stopOnDone(ctx, sub.done, cancel)
	return cancel, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, sub := range m.subs {
		sub.stop()
		delete(m.subs, id)
	}
	return nil
}

func (m *Memory) check(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Memory) notifyLocked(changed string) {
	for _, sub := range m.subs {
		if related(changed, sub.path) {
			sub.push(m.snapshotLocked(sub.path))
		}
	}
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	recs := make(map[string]Record)
	for p, r := range m.records {
		if within(p, path) {
			recs[p] = r.clone()
		}
	}
	return Snapshot{Path: path, Records: recs}
}

// normalize maps named scalar types onto their base types so readers can
// rely on string, bool, int64 and float64.
func normalize(v any) any {
	switch n := v.(type) {
	case string, bool, int64, float64:
		return v
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return v
	}
}
