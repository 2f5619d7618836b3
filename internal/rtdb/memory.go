package rtdb

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// subscriber channels hold a few snapshots; when a slow consumer falls
// behind, the oldest snapshot is dropped. Every snapshot is a full
// replacement, so the latest one is always sufficient.
const subscriberBuffer = 16

// Memory is the in-process Store used by tests and single-process runs.
// One mutex serializes transactions, which gives Update and Transact
// their all-or-nothing semantics for free.
type Memory struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[int64]*memorySub
	nextSub int64
	closed  bool
}

type memorySub struct {
	target Target
	ch     chan Snapshot
}

func NewMemory() *Memory {
	return &Memory{
		root: make(map[string]any),
		subs: make(map[int64]*memorySub),
	}
}

func (m *Memory) Get(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	return cloneTree(getAtPath(m.root, splitPath(path))), nil
}

func (m *Memory) Update(ctx context.Context, updates map[string]any) error {
	return m.Transact(ctx, func(tx Tx) error {
		for path, value := range updates {
			tx.Set(path, value)
		}
		return nil
	})
}

func (m *Memory) Query(ctx context.Context, target Target) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	return evalQuery(m.root, target), nil
}

func (m *Memory) Transact(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}

	tx := &memoryTx{root: m.root}
	if err := fn(tx); err != nil {
		return err
	}
	for _, w := range tx.writes {
		setAtPath(m.root, splitPath(w.path), w.value)
	}
	m.notifyLocked(tx.writes)
	return nil
}

func (m *Memory) Push(string) string {
	return uuid.NewString()
}

func (m *Memory) Subscribe(target Target) (<-chan Snapshot, *Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrUnavailable
	}

	id := m.nextSub
	m.nextSub++
	sub := &memorySub{target: target, ch: make(chan Snapshot, subscriberBuffer)}
	m.subs[id] = sub
	sub.ch <- Snapshot{Target: target, Value: evalQuery(m.root, target)}

	handle := NewHandle(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(s.ch)
		}
	})
	return sub.ch, handle, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, s := range m.subs {
		delete(m.subs, id)
		close(s.ch)
	}
	return nil
}

func (m *Memory) notifyLocked(writes []stagedWrite) {
	for _, sub := range m.subs {
		touched := false
		for _, w := range writes {
			if pathsOverlap(w.path, sub.target.Path) {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		snap := Snapshot{Target: sub.target, Value: evalQuery(m.root, sub.target)}
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

type stagedWrite struct {
	path  string
	value any
}

// memoryTx runs under the store mutex; reads overlay staged writes on the
// live tree so a transaction observes its own effects.
type memoryTx struct {
	root   map[string]any
	writes []stagedWrite
}

func (t *memoryTx) Get(path string) (any, error) {
	overlay, _ := cloneTree(t.root).(map[string]any)
	for _, w := range t.writes {
		setAtPath(overlay, splitPath(w.path), cloneTree(w.value))
	}
	return getAtPath(overlay, splitPath(path)), nil
}

func (t *memoryTx) Set(path string, value any) {
	t.writes = append(t.writes, stagedWrite{path: path, value: cloneTree(value)})
}
