package adapter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/rtdb"
)

func newTestAdapter(t *testing.T) (*Adapter, *rtdb.Memory) {
	t.Helper()
	mem := rtdb.NewMemory()
	a := New(mem, zap.NewNop(), Options{
		OpTimeout:    time.Second,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	})
	return a, mem
}

func seedUsers(t *testing.T, mem *rtdb.Memory) {
	t.Helper()
	require.NoError(t, mem.Update(context.Background(), map[string]any{
		"users/u1": map[string]any{"email": "alice@example.com", "displayName": "Alice"},
		"users/u2": map[string]any{"email": "bob@example.com", "displayName": "Bob"},
	}))
}

func TestResolveParticipant(t *testing.T) {
	ctx := context.Background()
	a, mem := newTestAdapter(t)
	seedUsers(t, mem)

	t.Run("resolves_by_email", func(t *testing.T) {
		id, err := a.ResolveParticipant(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u2", id)
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := a.ResolveParticipant(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, domain.ErrRecipientNotFound)
	})

	t.Run("duplicate_index_entries_resolve_deterministically", func(t *testing.T) {
		require.NoError(t, mem.Update(ctx, map[string]any{
			"users/u9": map[string]any{"email": "dup@example.com"},
			"users/u3": map[string]any{"email": "dup@example.com"},
		}))
		for i := 0; i < 5; i++ {
			id, err := a.ResolveParticipant(ctx, "dup@example.com")
			require.NoError(t, err)
			assert.Equal(t, "u3", id)
		}
	})
}

func TestCreateChat(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	t.Run("rejects_self_chat", func(t *testing.T) {
		_, err := a.CreateChat(ctx, "u1", "u1")
		assert.ErrorIs(t, err, domain.ErrSelfChat)
	})

	t.Run("creates_with_zeroed_metadata", func(t *testing.T) {
		chatID, err := a.CreateChat(ctx, "u1", "u2")
		require.NoError(t, err)

		chat, err := a.GetChat(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"u1": true, "u2": true}, chat.Participants)
		assert.Nil(t, chat.LastMessage)
		assert.Equal(t, 0, chat.Metadata["u1"].UnreadCount)
		assert.Equal(t, 0, chat.Metadata["u2"].UnreadCount)
		assert.Nil(t, chat.Metadata["u1"].LastReadAt)
	})

	t.Run("distinct_calls_create_distinct_chats", func(t *testing.T) {
		first, err := a.CreateChat(ctx, "u1", "u2")
		require.NoError(t, err)
		second, err := a.CreateChat(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	chatID, err := a.CreateChat(ctx, "u1", "u2")
	require.NoError(t, err)

	t.Run("chat_not_found", func(t *testing.T) {
		_, err := a.AppendMessage(ctx, "ghost", "u1", "hello")
		assert.ErrorIs(t, err, domain.ErrChatNotFound)
	})

	t.Run("sender_must_be_participant", func(t *testing.T) {
		_, err := a.AppendMessage(ctx, chatID, "intruder", "hello")
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
	})

	t.Run("empty_content_rejected", func(t *testing.T) {
		_, err := a.AppendMessage(ctx, chatID, "u1", "")
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	})

	t.Run("updates_last_message_and_peer_counter", func(t *testing.T) {
		msgID, err := a.AppendMessage(ctx, chatID, "u1", "hello")
		require.NoError(t, err)
		require.NotEmpty(t, msgID)

		chat, err := a.GetChat(ctx, chatID)
		require.NoError(t, err)
		require.NotNil(t, chat.LastMessage)
		assert.Equal(t, "hello", chat.LastMessage.Content)
		assert.Equal(t, "u1", chat.LastMessage.SenderID)
		assert.Equal(t, 1, chat.Metadata["u2"].UnreadCount)
		assert.Equal(t, 0, chat.Metadata["u1"].UnreadCount)

		_, err = a.AppendMessage(ctx, chatID, "u1", "again")
		require.NoError(t, err)

		chat, err = a.GetChat(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, "again", chat.LastMessage.Content)
		assert.Equal(t, 2, chat.Metadata["u2"].UnreadCount)
		assert.Equal(t, 0, chat.Metadata["u1"].UnreadCount)
	})
}

func TestSetReadState(t *testing.T) {
	ctx := context.Background()
	a, mem := newTestAdapter(t)

	chatID, err := a.CreateChat(ctx, "u1", "u2")
	require.NoError(t, err)

	fromPeer, err := a.AppendMessage(ctx, chatID, "u1", "hello")
	require.NoError(t, err)
	own, err := a.AppendMessage(ctx, chatID, "u2", "hi back")
	require.NoError(t, err)

	t.Run("chat_not_found", func(t *testing.T) {
		assert.ErrorIs(t, a.SetReadState(ctx, "ghost", "u2"), domain.ErrChatNotFound)
	})

	t.Run("zeroes_counter_and_marks_peer_messages", func(t *testing.T) {
		require.NoError(t, a.SetReadState(ctx, chatID, "u2"))

		chat, err := a.GetChat(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, 0, chat.Metadata["u2"].UnreadCount)
		require.NotNil(t, chat.Metadata["u2"].LastReadAt)

		assert.Equal(t, "read", messageStatus(t, mem, chatID, fromPeer))
		// The participant's own message is untouched.
		assert.Equal(t, "sent", messageStatus(t, mem, chatID, own))
	})

	t.Run("second_call_is_a_no_op_on_the_counter", func(t *testing.T) {
		require.NoError(t, a.SetReadState(ctx, chatID, "u2"))
		chat, err := a.GetChat(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, 0, chat.Metadata["u2"].UnreadCount)
		assert.Equal(t, "read", messageStatus(t, mem, chatID, fromPeer))
	})

	t.Run("append_racing_a_read_waits_for_the_next_read", func(t *testing.T) {
		late, err := a.AppendMessage(ctx, chatID, "u1", "after read")
		require.NoError(t, err)
		assert.Equal(t, "sent", messageStatus(t, mem, chatID, late))

		require.NoError(t, a.SetReadState(ctx, chatID, "u2"))
		assert.Equal(t, "read", messageStatus(t, mem, chatID, late))
	})
}

func TestUpdateMessageStatus(t *testing.T) {
	ctx := context.Background()
	a, mem := newTestAdapter(t)

	chatID, err := a.CreateChat(ctx, "u1", "u2")
	require.NoError(t, err)
	msgID, err := a.AppendMessage(ctx, chatID, "u1", "hello")
	require.NoError(t, err)

	t.Run("message_not_found", func(t *testing.T) {
		err := a.UpdateMessageStatus(ctx, chatID, "ghost", domain.StatusRead)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("forward_transition", func(t *testing.T) {
		require.NoError(t, a.UpdateMessageStatus(ctx, chatID, msgID, domain.StatusDelivered))
		assert.Equal(t, "delivered", messageStatus(t, mem, chatID, msgID))
	})

	t.Run("repeated_update_is_a_no_op", func(t *testing.T) {
		require.NoError(t, a.UpdateMessageStatus(ctx, chatID, msgID, domain.StatusDelivered))
		assert.Equal(t, "delivered", messageStatus(t, mem, chatID, msgID))
	})

	t.Run("backwards_transition_rejected", func(t *testing.T) {
		require.NoError(t, a.UpdateMessageStatus(ctx, chatID, msgID, domain.StatusRead))
		err := a.UpdateMessageStatus(ctx, chatID, msgID, domain.StatusDelivered)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, "read", messageStatus(t, mem, chatID, msgID))
	})

	t.Run("unknown_status_rejected", func(t *testing.T) {
		err := a.UpdateMessageStatus(ctx, chatID, msgID, domain.Status("archived"))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()
	a, mem := newTestAdapter(t)

	chatID, err := a.CreateChat(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = a.AppendMessage(ctx, chatID, "u1", "hello")
	require.NoError(t, err)

	t.Run("not_found", func(t *testing.T) {
		assert.ErrorIs(t, a.DeleteChat(ctx, "ghost"), domain.ErrChatNotFound)
	})

	t.Run("removes_chat_and_messages_atomically", func(t *testing.T) {
		require.NoError(t, a.DeleteChat(ctx, chatID))

		_, err := a.GetChat(ctx, chatID)
		assert.ErrorIs(t, err, domain.ErrChatNotFound)

		msgs, err := mem.Get(ctx, "messages/"+chatID)
		require.NoError(t, err)
		assert.Nil(t, msgs)
	})
}

// flakyStore fails the first n writes with a transport error.
type flakyStore struct {
	rtdb.Store
	failures int
	calls    int
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("%w: connection reset", rtdb.ErrUnavailable)
	}
	return nil
}

func (f *flakyStore) Transact(ctx context.Context, fn func(tx rtdb.Tx) error) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Transact(ctx, fn)
}

func (f *flakyStore) Update(ctx context.Context, updates map[string]any) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Update(ctx, updates)
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("transport_failure_is_retried", func(t *testing.T) {
		mem := rtdb.NewMemory()
		flaky := &flakyStore{Store: mem, failures: 1}
		a := New(flaky, zap.NewNop(), Options{
			OpTimeout:    time.Second,
			MaxRetries:   2,
			RetryBackoff: time.Millisecond,
		})

		chatID, err := a.CreateChat(ctx, "u1", "u2")
		require.NoError(t, err)
		require.NotEmpty(t, chatID)
		assert.Equal(t, 2, flaky.calls)
	})

	t.Run("exhausted_retries_surface_store_unavailable", func(t *testing.T) {
		mem := rtdb.NewMemory()
		flaky := &flakyStore{Store: mem, failures: 10}
		a := New(flaky, zap.NewNop(), Options{
			OpTimeout:    time.Second,
			MaxRetries:   2,
			RetryBackoff: time.Millisecond,
		})

		_, err := a.CreateChat(ctx, "u1", "u2")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("domain_errors_are_not_retried", func(t *testing.T) {
		mem := rtdb.NewMemory()
		flaky := &flakyStore{Store: mem}
		a := New(flaky, zap.NewNop(), Options{
			OpTimeout:    time.Second,
			MaxRetries:   3,
			RetryBackoff: time.Millisecond,
		})

		_, err := a.AppendMessage(ctx, "ghost", "u1", "hello")
		assert.ErrorIs(t, err, domain.ErrChatNotFound)
		assert.Equal(t, 1, flaky.calls)
	})
}

// hangingStore blocks every write until its context expires.
type hangingStore struct {
	rtdb.Store
}

func (h *hangingStore) Transact(ctx context.Context, fn func(tx rtdb.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *hangingStore) Update(ctx context.Context, updates map[string]any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOpTimeout(t *testing.T) {
	a := New(&hangingStore{Store: rtdb.NewMemory()}, zap.NewNop(), Options{
		OpTimeout:    10 * time.Millisecond,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	})

	start := time.Now()
	_, err := a.CreateChat(context.Background(), "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func messageStatus(t *testing.T, mem *rtdb.Memory, chatID, msgID string) string {
	t.Helper()
	v, err := mem.Get(context.Background(), fmt.Sprintf("messages/%s/%s/status", chatID, msgID))
	require.NoError(t, err)
	s, _ := v.(string)
	return s
}
