// Package rtdb abstracts the hierarchical realtime store the sync core is
// built against: a tree of records addressed by slash-separated paths,
// with atomic multi-path writes, indexed equality queries, and live
// subscriptions that deliver the full result set on every change.
package rtdb

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrUnavailable = errors.New("realtime store unavailable")

// Target identifies a subscribable result set: the children of Path,
// optionally filtered to those whose OrderBy child field equals EqualTo.
type Target struct {
	Path    string
	OrderBy string
	EqualTo any
}

// Snapshot is one full delivery of a target's result set, keyed by child
// record id. A transport failure is reported in Err with a nil Value;
// deliveries after an error resume normally.
type Snapshot struct {
	Target Target
	Value  map[string]any
	Err    error
}

// Tx stages a read-modify-write sequence. Reads observe prior writes in
// the same transaction; staged writes become visible all at once on
// commit.
type Tx interface {
	Get(path string) (any, error)
	// Set stages value at path; a nil value stages a deletion.
	Set(path string, value any)
}

// Store is the remote realtime store surface. Update and Transact are
// atomic across every path they touch: a partial write is never
// observable, by readers or by subscribers.
type Store interface {
	Get(ctx context.Context, path string) (any, error)
	Update(ctx context.Context, updates map[string]any) error
	Query(ctx context.Context, target Target) (map[string]any, error)
	Transact(ctx context.Context, fn func(tx Tx) error) error
	// Push allocates a new store-assigned child key under path.
	Push(path string) string
	// Subscribe delivers the target's current result set immediately and
	// a fresh full snapshot after every relevant change. The handle
	// releases the underlying listener; releasing twice is a no-op.
	Subscribe(target Target) (<-chan Snapshot, *Handle, error)
	Close() error
}

// Handle is the token returned by Subscribe. Unsubscribe releases the
// transport listener exactly once regardless of how often it is called.
type Handle struct {
	once    sync.Once
	release func()
}

func NewHandle(release func()) *Handle {
	return &Handle{release: release}
}

func (h *Handle) Unsubscribe() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func getAtPath(root map[string]any, segs []string) any {
	var cur any = root
	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[seg]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// setAtPath writes value at segs, materializing intermediate maps. A nil
// value deletes the leaf and prunes any maps it leaves empty.
func setAtPath(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		return
	}
	if len(segs) == 1 {
		if value == nil {
			delete(root, segs[0])
		} else {
			root[segs[0]] = value
		}
		return
	}
	child, ok := root[segs[0]].(map[string]any)
	if !ok {
		if value == nil {
			return
		}
		child = make(map[string]any)
		root[segs[0]] = child
	}
	setAtPath(child, segs[1:], value)
	if value == nil && len(child) == 0 {
		delete(root, segs[0])
	}
}

func cloneTree(v any) any {
	node, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(node))
	for k, c := range node {
		out[k] = cloneTree(c)
	}
	return out
}

// fieldValue resolves a nested child field such as "participants/u1"
// inside a record.
func fieldValue(record any, field string) any {
	return getAtPath(map[string]any{"": record}, append([]string{""}, splitPath(field)...))
}

// valueEqual compares scalars across the numeric widenings a JSON
// round-trip introduces.
func valueEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// evalQuery computes a target's result set against a tree root.
func evalQuery(root map[string]any, target Target) map[string]any {
	node, _ := getAtPath(root, splitPath(target.Path)).(map[string]any)
	out := make(map[string]any, len(node))
	for key, record := range node {
		if target.OrderBy != "" && !valueEqual(fieldValue(record, target.OrderBy), target.EqualTo) {
			continue
		}
		out[key] = cloneTree(record)
	}
	return out
}

// pathsOverlap reports whether a change at one path can affect the
// subtree rooted at the other.
func pathsOverlap(a, b string) bool {
	as, bs := splitPath(a), splitPath(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
