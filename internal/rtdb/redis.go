package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const txAttempts = 8

// Redis is a Store backed by a shared Redis instance. Each top-level
// collection ("chats", "users", "messages") lives as one JSON document;
// transactions run optimistically against a version key so conflicting
// writers retry instead of interleaving. Change notifications fan out
// over pub/sub and subscribers re-query the full result set, which keeps
// the full-snapshot delivery contract.
type Redis struct {
	client  *redis.Client
	log     *zap.Logger
	prefix  string
	mu      sync.Mutex
	closed  bool
	cancels map[int64]context.CancelFunc
	nextSub int64
}

func NewRedis(client *redis.Client, prefix string, log *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "rtdb"
	}
	return &Redis{
		client:  client,
		log:     log,
		prefix:  prefix,
		cancels: make(map[int64]context.CancelFunc),
	}
}

func (r *Redis) chunkKey(chunk string) string { return r.prefix + ":" + chunk }
func (r *Redis) versionKey() string           { return r.prefix + ":ver" }
func (r *Redis) changeChannel() string        { return r.prefix + ":changed" }

func chunkOf(path string) string {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func (r *Redis) loadChunk(ctx context.Context, get func(context.Context, string) *redis.StringCmd, chunk string) (map[string]any, error) {
	raw, err := get(ctx, r.chunkKey(chunk)).Result()
	if err == redis.Nil {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, chunk, err)
	}
	var node map[string]any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", chunk, err)
	}
	return node, nil
}

func (r *Redis) Get(ctx context.Context, path string) (any, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	node, err := r.loadChunk(ctx, r.client.Get, segs[0])
	if err != nil {
		return nil, err
	}
	return getAtPath(node, segs[1:]), nil
}

func (r *Redis) Query(ctx context.Context, target Target) (map[string]any, error) {
	segs := splitPath(target.Path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	node, err := r.loadChunk(ctx, r.client.Get, segs[0])
	if err != nil {
		return nil, err
	}
	return evalQuery(map[string]any{segs[0]: node}, target), nil
}

func (r *Redis) Update(ctx context.Context, updates map[string]any) error {
	return r.Transact(ctx, func(tx Tx) error {
		for path, value := range updates {
			tx.Set(path, value)
		}
		return nil
	})
}

func (r *Redis) Transact(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < txAttempts; attempt++ {
		err := r.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, store: r, get: rtx.Get, chunks: make(map[string]map[string]any), dirty: make(map[string]bool)}
			if err := fn(tx); err != nil {
				return &bodyError{err: err}
			}
			if tx.loadErr != nil {
				return tx.loadErr
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Incr(ctx, r.versionKey())
				return tx.flush(pipe)
			})
			if err != nil {
				return err
			}
			if len(tx.dirty) > 0 {
				payload, _ := json.Marshal(tx.dirtyChunks())
				r.client.Publish(ctx, r.changeChannel(), string(payload))
			}
			return nil
		}, r.versionKey())

		if err == redis.TxFailedErr {
			continue
		}
		var body *bodyError
		if errors.As(err, &body) {
			return body.err
		}
		if err == nil {
			return nil
		}
		return fmt.Errorf("%w: transact: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: transact contention", ErrUnavailable)
}

// bodyError tags errors raised by the transaction body so they propagate
// untouched instead of being reported as transport failures.
type bodyError struct{ err error }

func (e *bodyError) Error() string { return e.err.Error() }
func (e *bodyError) Unwrap() error { return e.err }

func (r *Redis) Push(string) string {
	return uuid.NewString()
}

func (r *Redis) Subscribe(target Target) (<-chan Snapshot, *Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrUnavailable
	}
	id := r.nextSub
	r.nextSub++
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[id] = cancel
	r.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	pubsub := r.client.Subscribe(ctx, r.changeChannel())
	chunk := chunkOf(target.Path)

	go func() {
		defer close(ch)
		defer pubsub.Close()

		deliver := func() {
			snap := Snapshot{Target: target}
			snap.Value, snap.Err = r.Query(ctx, target)
			select {
			case ch <- snap:
			case <-ctx.Done():
			}
		}
		deliver()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					select {
					case ch <- Snapshot{Target: target, Err: fmt.Errorf("%w: subscription closed", ErrUnavailable)}:
					case <-ctx.Done():
					}
					return
				}
				var chunks []string
				if err := json.Unmarshal([]byte(msg.Payload), &chunks); err != nil {
					r.log.Warn("malformed change notification", zap.String("payload", msg.Payload))
					continue
				}
				for _, c := range chunks {
					if c == chunk {
						deliver()
						break
					}
				}
			}
		}
	}()

	handle := NewHandle(func() {
		r.mu.Lock()
		if c, ok := r.cancels[id]; ok {
			delete(r.cancels, id)
			c()
		}
		r.mu.Unlock()
	})
	return ch, handle, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for id, cancel := range r.cancels {
		delete(r.cancels, id)
		cancel()
	}
	return r.client.Close()
}

// redisTx caches each touched chunk once, overlays staged writes on the
// cache, and marshals dirty chunks back in the commit pipeline.
type redisTx struct {
	ctx     context.Context
	store   *Redis
	get     func(context.Context, string) *redis.StringCmd
	chunks  map[string]map[string]any
	dirty   map[string]bool
	loadErr error
}

func (t *redisTx) chunk(name string) (map[string]any, error) {
	if node, ok := t.chunks[name]; ok {
		return node, nil
	}
	node, err := t.store.loadChunk(t.ctx, t.get, name)
	if err != nil {
		return nil, err
	}
	t.chunks[name] = node
	return node, nil
}

func (t *redisTx) Get(path string) (any, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	node, err := t.chunk(segs[0])
	if err != nil {
		return nil, err
	}
	return cloneTree(getAtPath(node, segs[1:])), nil
}

func (t *redisTx) Set(path string, value any) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return
	}
	node, err := t.chunk(segs[0])
	if err != nil {
		if t.loadErr == nil {
			t.loadErr = err
		}
		return
	}
	if len(segs) == 1 {
		if value == nil {
			node = make(map[string]any)
		} else if m, ok := value.(map[string]any); ok {
			node = m
		}
		t.chunks[segs[0]] = node
	} else {
		setAtPath(node, segs[1:], value)
	}
	t.dirty[segs[0]] = true
}

func (t *redisTx) flush(pipe redis.Pipeliner) error {
	for name := range t.dirty {
		node := t.chunks[name]
		if len(node) == 0 {
			pipe.Del(t.ctx, t.store.chunkKey(name))
			continue
		}
		raw, err := json.Marshal(node)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, t.store.chunkKey(name), raw, 0)
	}
	return nil
}

func (t *redisTx) dirtyChunks() []string {
	out := make([]string, 0, len(t.dirty))
	for name := range t.dirty {
		out = append(out, name)
	}
	return out
}
