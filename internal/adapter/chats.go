package adapter

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/record"
	"chatsync/internal/rtdb"
)

// ResolveParticipant looks a participant up by the indexed email field.
// When the index holds more than one match the lexicographically smallest
// id wins, so repeated calls resolve the same participant.
func (a *Adapter) ResolveParticipant(ctx context.Context, email string) (string, error) {
	var resolved string
	err := a.do(ctx, "resolve_participant", func(ctx context.Context) error {
		matches, err := a.store.Query(ctx, rtdb.Target{
			Path:    "users",
			OrderBy: "email",
			EqualTo: email,
		})
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return domain.ErrRecipientNotFound
		}
		ids := make([]string, 0, len(matches))
		for id := range matches {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > 1 {
			a.log.Warn("duplicate participant index entries",
				zap.String("email", email),
				zap.Int("matches", len(ids)),
			)
		}
		resolved = ids[0]
		return nil
	})
	return resolved, err
}

// CreateChat allocates a chat between two distinct participants with no
// last message and zeroed unread metadata, written in one atomic update.
// Distinct calls create distinct chats even for the same pair.
func (a *Adapter) CreateChat(ctx context.Context, initiatorID, recipientID string) (string, error) {
	if initiatorID == recipientID {
		return "", domain.ErrSelfChat
	}

	chatID := a.store.Push("chats")
	chat := &domain.Chat{
		ID:        chatID,
		CreatedAt: time.Now().UTC(),
		Participants: map[string]bool{
			initiatorID: true,
			recipientID: true,
		},
		Metadata: map[string]domain.ParticipantMeta{
			initiatorID: {},
			recipientID: {},
		},
	}

	err := a.do(ctx, "create_chat", func(ctx context.Context) error {
		return a.store.Update(ctx, map[string]any{
			"chats/" + chatID: record.EncodeChat(chat),
		})
	})
	if err != nil {
		return "", err
	}

	a.log.Info("chat created",
		zap.String("chat_id", chatID),
		zap.String("initiator_id", initiatorID),
		zap.String("recipient_id", recipientID),
	)
	return chatID, nil
}

// GetChat reads a single chat record.
func (a *Adapter) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	var chat *domain.Chat
	err := a.do(ctx, "get_chat", func(ctx context.Context) error {
		v, err := a.store.Get(ctx, "chats/"+chatID)
		if err != nil {
			return err
		}
		if v == nil {
			return domain.ErrChatNotFound
		}
		chat, err = record.DecodeChat(chatID, v)
		return err
	})
	return chat, err
}

// DeleteChat removes the chat record and its entire message set in one
// atomic update.
func (a *Adapter) DeleteChat(ctx context.Context, chatID string) error {
	err := a.do(ctx, "delete_chat", func(ctx context.Context) error {
		return a.store.Transact(ctx, func(tx rtdb.Tx) error {
			v, err := tx.Get("chats/" + chatID)
			if err != nil {
				return err
			}
			if v == nil {
				return domain.ErrChatNotFound
			}
			tx.Set("chats/"+chatID, nil)
			tx.Set("messages/"+chatID, nil)
			return nil
		})
	})
	if err != nil {
		return err
	}
	a.log.Info("chat deleted", zap.String("chat_id", chatID))
	return nil
}
