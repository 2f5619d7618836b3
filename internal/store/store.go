// Package store is the client-side authoritative projection of chats and
// messages: the single mutable structure presentation layers read, and
// the single place subscription lifecycles are driven from. All mutation
// funnels through the exported commands; readers never block on remote
// work.
package store

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

// SessionProvider supplies the current participant id. An empty id means
// no participant is signed in.
type SessionProvider interface {
	CurrentUserID() string
}

// ChatCreator is the directory surface the store drives.
type ChatCreator interface {
	CreateChat(ctx context.Context, initiatorID, recipientEmail string) (string, error)
}

// Messenger is the adapter surface the store drives.
type Messenger interface {
	AppendMessage(ctx context.Context, chatID, senderID, content string) (string, error)
	SetReadState(ctx context.Context, chatID, participantID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// Syncer is the engine surface the store drives.
type Syncer interface {
	SubscribeChats(userID string, onChats func([]domain.ChatSummary), onError func(error)) (engine.Token, error)
	SubscribeMessages(ctx context.Context, chatID string, onMessages func(string, []domain.Message), onError func(error)) (engine.Token, error)
	Unsubscribe(tok engine.Token)
}

type Store struct {
	session   SessionProvider
	directory ChatCreator
	messenger Messenger
	syncer    Syncer
	log       *zap.Logger

	mu       sync.RWMutex
	chats    []domain.ChatSummary
	messages map[string][]domain.Message
	current  *domain.ChatSummary
	loading  bool
	errMsg   string

	chatsToken    engine.Token
	messagesToken engine.Token
}

func New(session SessionProvider, directory ChatCreator, messenger Messenger, syncer Syncer, log *zap.Logger) *Store {
	return &Store{
		session:   session,
		directory: directory,
		messenger: messenger,
		syncer:    syncer,
		log:       log,
		messages:  make(map[string][]domain.Message),
	}
}

// LoadChats establishes the chat-list subscription for the signed-in
// participant, replacing any previous one so re-loading cannot leak a
// listener.
func (s *Store) LoadChats(ctx context.Context) error {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return s.fail(domain.ErrNotSignedIn)
	}

	s.mu.Lock()
	prev := s.chatsToken
	s.chatsToken = 0
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
	if prev != 0 {
		s.syncer.Unsubscribe(prev)
	}

	tok, err := s.syncer.SubscribeChats(userID, s.applyChats, s.applyError)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.chatsToken = tok
	s.mu.Unlock()
	return nil
}

// SelectChat changes the current chat and swaps the message subscription
// with it: the previous chat's listener is torn down, the new chat's is
// established. Selecting nil just tears down.
func (s *Store) SelectChat(ctx context.Context, chat *domain.ChatSummary) error {
	s.mu.Lock()
	prev := s.messagesToken
	s.messagesToken = 0
	if chat == nil {
		s.current = nil
	} else {
		selected := *chat
		s.current = &selected
		s.loading = true
		s.errMsg = ""
	}
	s.mu.Unlock()

	if prev != 0 {
		s.syncer.Unsubscribe(prev)
	}
	if chat == nil {
		return nil
	}

	tok, err := s.syncer.SubscribeMessages(ctx, chat.ID, s.applyMessages, s.applyError)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.messagesToken = tok
	s.mu.Unlock()
	return nil
}

// CreateChat resolves the recipient and creates a durable chat. The new
// chat arrives in the read model through the live chat-list snapshot,
// not through this call.
func (s *Store) CreateChat(ctx context.Context, recipientEmail string) error {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return s.fail(domain.ErrNotSignedIn)
	}

	s.begin()
	if _, err := s.directory.CreateChat(ctx, userID, recipientEmail); err != nil {
		return s.fail(err)
	}
	s.finish()
	return nil
}

// SendMessage appends content to the current chat as the signed-in
// participant.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return s.fail(domain.ErrNotSignedIn)
	}
	current := s.CurrentChat()
	if current == nil {
		return s.fail(domain.ErrNoChatSelected)
	}

	s.begin()
	if _, err := s.messenger.AppendMessage(ctx, current.ID, userID, content); err != nil {
		return s.fail(err)
	}
	s.finish()
	return nil
}

// MarkRead zeroes the signed-in participant's unread counter for the
// current chat and marks the peer's messages read.
func (s *Store) MarkRead(ctx context.Context) error {
	userID := s.session.CurrentUserID()
	if userID == "" {
		return s.fail(domain.ErrNotSignedIn)
	}
	current := s.CurrentChat()
	if current == nil {
		return s.fail(domain.ErrNoChatSelected)
	}

	if err := s.messenger.SetReadState(ctx, current.ID, userID); err != nil {
		return s.fail(err)
	}
	return nil
}

// DeleteChat removes a chat and its messages. Deleting the current chat
// clears the selection and its subscription.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	s.begin()
	if err := s.messenger.DeleteChat(ctx, chatID); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	var prev engine.Token
	if s.current != nil && s.current.ID == chatID {
		s.current = nil
		prev = s.messagesToken
		s.messagesToken = 0
	}
	delete(s.messages, chatID)
	s.loading = false
	s.mu.Unlock()
	if prev != 0 {
		s.syncer.Unsubscribe(prev)
	}
	return nil
}

// Reset tears down every subscription and clears the read model.
func (s *Store) Reset() {
	s.mu.Lock()
	chatsTok, msgsTok := s.chatsToken, s.messagesToken
	s.chatsToken, s.messagesToken = 0, 0
	s.chats = nil
	s.messages = make(map[string][]domain.Message)
	s.current = nil
	s.loading = false
	s.errMsg = ""
	s.mu.Unlock()

	if chatsTok != 0 {
		s.syncer.Unsubscribe(chatsTok)
	}
	if msgsTok != 0 {
		s.syncer.Unsubscribe(msgsTok)
	}
}

// Chats returns the materialized chat list, newest activity first.
func (s *Store) Chats() []domain.ChatSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatSummary, len(s.chats))
	copy(out, s.chats)
	return out
}

// Messages returns the ascending message list of one chat.
func (s *Store) Messages(chatID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *Store) CurrentChat() *domain.ChatSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	current := *s.current
	return &current
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last failure as a human-readable string, or "".
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *Store) applyChats(chats []domain.ChatSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
	s.loading = false
	if s.current == nil {
		return
	}
	for i := range chats {
		if chats[i].ID == s.current.ID {
			refreshed := chats[i]
			s.current = &refreshed
			return
		}
	}
}

func (s *Store) applyMessages(chatID string, msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = msgs
	s.loading = false
}

func (s *Store) applyError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = errorMessage(err)
	s.loading = false
}

func (s *Store) begin() {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
}

func (s *Store) finish() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

func (s *Store) fail(err error) error {
	s.log.Warn("command failed", zap.Error(err))
	s.applyError(err)
	return err
}

// errorMessage converts typed failures into the strings the presentation
// boundary receives.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRecipientNotFound):
		return "User not found"
	case errors.Is(err, domain.ErrSelfChat):
		return "Cannot create chat with yourself"
	case errors.Is(err, domain.ErrChatNotFound):
		return "Chat not found"
	case errors.Is(err, domain.ErrNotParticipant):
		return "Not authorized to send messages in this chat"
	case errors.Is(err, domain.ErrNoChatSelected):
		return "No chat selected"
	case errors.Is(err, domain.ErrNotSignedIn):
		return "Must be signed in"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "Connection problem. Please try again."
	default:
		return err.Error()
	}
}
