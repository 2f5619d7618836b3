// Package engine maintains live subscriptions against the realtime store
// and converts its full-collection snapshots into ordered, deduplicated
// domain projections.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/observability"
	"chatsync/internal/rtdb"
)

type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateLive
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Token identifies one subscription. It is consumed by Unsubscribe and
// Retry; a token for a released subscription is inert.
type Token uint64

type Engine struct {
	store         rtdb.Store
	log           *zap.Logger
	fanoutTimeout time.Duration

	mu   sync.Mutex
	subs map[Token]*subscription
	next Token
}

type subscription struct {
	kind        string
	target      rtdb.Target
	state       State
	handle      *rtdb.Handle
	materialize func(rtdb.Snapshot)
	onError     func(error)
}

func New(store rtdb.Store, log *zap.Logger) *Engine {
	return &Engine{
		store:         store,
		log:           log,
		fanoutTimeout: 5 * time.Second,
		subs:          make(map[Token]*subscription),
	}
}

// SubscribeChats materializes the chat list of userID: every chat whose
// participant set contains the user, joined with the peer's profile,
// sorted descending by effective timestamp. Each delivery replaces the
// whole list.
func (e *Engine) SubscribeChats(
	userID string,
	onChats func([]domain.ChatSummary),
	onError func(error),
) (Token, error) {
	sub := &subscription{
		kind: "chats",
		target: rtdb.Target{
			Path:    "chats",
			OrderBy: "participants/" + userID,
			EqualTo: true,
		},
		onError: onError,
	}
	sub.materialize = func(snap rtdb.Snapshot) {
		onChats(e.materializeChats(userID, snap.Value))
	}
	return e.register(sub)
}

// SubscribeMessages materializes the message list of chatID, ascending by
// send time. The chat's existence is verified before the listener is
// established, matching the remote store's access model.
func (e *Engine) SubscribeMessages(
	ctx context.Context,
	chatID string,
	onMessages func(chatID string, msgs []domain.Message),
	onError func(error),
) (Token, error) {
	v, err := e.store.Get(ctx, "chats/"+chatID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if v == nil {
		return 0, domain.ErrChatNotFound
	}

	sub := &subscription{
		kind:    "messages",
		target:  rtdb.Target{Path: "messages/" + chatID},
		onError: onError,
	}
	sub.materialize = func(snap rtdb.Snapshot) {
		onMessages(chatID, materializeMessages(e.log, chatID, snap.Value))
	}
	return e.register(sub)
}

func (e *Engine) register(sub *subscription) (Token, error) {
	events, handle, err := e.store.Subscribe(sub.target)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	e.next++
	tok := e.next
	sub.state = StateSubscribing
	sub.handle = handle
	e.subs[tok] = sub
	e.mu.Unlock()

	observability.ActiveSubscriptions.WithLabelValues(sub.kind).Inc()
	go e.run(tok, sub, events, handle)
	return tok, nil
}

func (e *Engine) run(tok Token, sub *subscription, events <-chan rtdb.Snapshot, handle *rtdb.Handle) {
	for snap := range events {
		if snap.Err != nil {
			e.mu.Lock()
			if e.subs[tok] == sub {
				sub.state = StateErrored
			}
			e.mu.Unlock()
			handle.Unsubscribe()
			e.log.Error("subscription errored",
				zap.String("kind", sub.kind),
				zap.String("path", sub.target.Path),
				zap.Error(snap.Err),
			)
			sub.onError(snap.Err)
			return
		}

		sub.materialize(snap)
		observability.SnapshotsProcessed.WithLabelValues(sub.kind).Inc()

		e.mu.Lock()
		if e.subs[tok] == sub {
			sub.state = StateLive
		}
		e.mu.Unlock()
	}
}

// Unsubscribe releases the subscription's transport listener. Calling it
// again, or with a token that was never issued, is a no-op.
func (e *Engine) Unsubscribe(tok Token) {
	e.mu.Lock()
	sub, ok := e.subs[tok]
	if ok {
		delete(e.subs, tok)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	sub.handle.Unsubscribe()
	observability.ActiveSubscriptions.WithLabelValues(sub.kind).Dec()
	e.log.Debug("unsubscribed",
		zap.String("kind", sub.kind),
		zap.String("path", sub.target.Path),
	)
}

// Retry moves an errored subscription back to subscribing with a fresh
// transport listener under the same token. It does nothing for healthy
// subscriptions; there is no automatic retry.
func (e *Engine) Retry(tok Token) error {
	e.mu.Lock()
	sub, ok := e.subs[tok]
	if !ok || sub.state != StateErrored {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	events, handle, err := e.store.Subscribe(sub.target)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	if e.subs[tok] != sub {
		// Unsubscribed while we were reconnecting.
		e.mu.Unlock()
		handle.Unsubscribe()
		return nil
	}
	sub.state = StateSubscribing
	sub.handle = handle
	e.mu.Unlock()

	go e.run(tok, sub, events, handle)
	return nil
}

// StateOf reports the subscription's current state; released tokens are
// unsubscribed.
func (e *Engine) StateOf(tok Token) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.subs[tok]; ok {
		return sub.state
	}
	return StateUnsubscribed
}

// Close releases every live subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = make(map[Token]*subscription)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.handle.Unsubscribe()
		observability.ActiveSubscriptions.WithLabelValues(sub.kind).Dec()
	}
}
