package rtdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Update(ctx, map[string]any{
		"users/u1": map[string]any{"email": "a@example.com"},
		"users/u2": map[string]any{"email": "b@example.com"},
	})
	require.NoError(t, err)

	v, err := m.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "a@example.com"}, v)

	v, err = m.Get(ctx, "users/u1/email")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", v)

	v, err = m.Get(ctx, "users/missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemory_DeleteWithNilValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Update(ctx, map[string]any{
		"chats/c1": map[string]any{"createdAt": "now"},
	}))
	require.NoError(t, m.Update(ctx, map[string]any{"chats/c1": nil}))

	v, err := m.Get(ctx, "chats/c1")
	require.NoError(t, err)
	assert.Nil(t, v)

	// The emptied parent is pruned as well.
	v, err = m.Get(ctx, "chats")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemory_QueryByNestedField(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Update(ctx, map[string]any{
		"chats/c1": map[string]any{"participants": map[string]any{"u1": true, "u2": true}},
		"chats/c2": map[string]any{"participants": map[string]any{"u2": true, "u3": true}},
	}))

	res, err := m.Query(ctx, Target{Path: "chats", OrderBy: "participants/u1", EqualTo: true})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res, "c1")

	res, err = m.Query(ctx, Target{Path: "chats", OrderBy: "participants/u2", EqualTo: true})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestMemory_TransactReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Transact(ctx, func(tx Tx) error {
		tx.Set("counters/c", 1)
		v, err := tx.Get("counters/c")
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_TransactRollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := assert.AnError

	err := m.Transact(ctx, func(tx Tx) error {
		tx.Set("users/u1", map[string]any{"email": "x"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := m.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemory_SubscribeDeliversFullSnapshots(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Update(ctx, map[string]any{
		"messages/c1/m1": map[string]any{"content": "one"},
	}))

	events, handle, err := m.Subscribe(Target{Path: "messages/c1"})
	require.NoError(t, err)
	defer handle.Unsubscribe()

	snap := <-events
	require.NoError(t, snap.Err)
	assert.Len(t, snap.Value, 1)

	// A multi-path write lands as one snapshot containing every change.
	require.NoError(t, m.Update(ctx, map[string]any{
		"messages/c1/m2": map[string]any{"content": "two"},
		"messages/c1/m3": map[string]any{"content": "three"},
	}))

	snap = <-events
	require.NoError(t, snap.Err)
	assert.Len(t, snap.Value, 3)
	assert.Contains(t, snap.Value, "m1")
	assert.Contains(t, snap.Value, "m3")
}

func TestMemory_SubscribeFiltersUnrelatedPaths(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	events, handle, err := m.Subscribe(Target{Path: "messages/c1"})
	require.NoError(t, err)
	defer handle.Unsubscribe()
	<-events // initial

	require.NoError(t, m.Update(ctx, map[string]any{
		"messages/c2/m1": map[string]any{"content": "other chat"},
	}))

	select {
	case snap := <-events:
		t.Fatalf("unexpected snapshot for unrelated path: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_UnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	events, handle, err := m.Subscribe(Target{Path: "chats"})
	require.NoError(t, err)
	<-events

	handle.Unsubscribe()
	handle.Unsubscribe()

	_, open := <-events
	assert.False(t, open, "channel must be closed after unsubscribe")

	// Writes after teardown go nowhere but still succeed.
	require.NoError(t, m.Update(ctx, map[string]any{
		"chats/c1": map[string]any{"createdAt": "now"},
	}))
}

func TestMemory_PushAllocatesUniqueKeys(t *testing.T) {
	m := NewMemory()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := m.Push("messages/c1")
		require.NotEmpty(t, key)
		require.False(t, seen[key], "duplicate push key %s", key)
		seen[key] = true
	}
}

func TestMemory_ClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Close())

	_, err := m.Get(ctx, "users")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = m.Update(ctx, map[string]any{"users/u1": "x"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = m.Subscribe(Target{Path: "chats"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
