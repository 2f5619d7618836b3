package engine

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/observability"
	"chatsync/internal/record"
)

// materializeChats builds the chat-list projection from a full snapshot.
// The peer profile fan-out is isolated per chat: a failed or missing
// profile read degrades that one entry to its fallback name instead of
// aborting the snapshot, and a malformed chat record is skipped.
func (e *Engine) materializeChats(userID string, value map[string]any) []domain.ChatSummary {
	summaries := make([]domain.ChatSummary, 0, len(value))

	for id, v := range value {
		chat, err := record.DecodeChat(id, v)
		if err != nil {
			observability.MaterializationFailures.WithLabelValues("chats").Inc()
			e.log.Warn("skipping malformed chat record", zap.String("chat_id", id), zap.Error(err))
			continue
		}
		if !chat.Participants[userID] {
			continue
		}

		profile := e.resolveProfile(chat.OtherParticipant(userID))
		summary := domain.ChatSummary{
			ID:            chat.ID,
			Name:          profile.Name(),
			AvatarURL:     profile.PhotoURL,
			LastMessageAt: chat.EffectiveTimestamp(),
			Participants:  chat.Participants,
			UnreadCount:   chat.Metadata[userID].UnreadCount,
		}
		if chat.LastMessage != nil {
			summary.LastMessage = chat.LastMessage.Content
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].LastMessageAt.Equal(summaries[j].LastMessageAt) {
			return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

func (e *Engine) resolveProfile(peerID string) domain.Profile {
	if peerID == "" {
		return domain.Profile{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.fanoutTimeout)
	defer cancel()

	v, err := e.store.Get(ctx, "users/"+peerID)
	if err != nil {
		observability.MaterializationFailures.WithLabelValues("chats").Inc()
		e.log.Warn("peer profile read failed", zap.String("peer_id", peerID), zap.Error(err))
		return domain.Profile{ID: peerID}
	}
	if v == nil {
		return domain.Profile{ID: peerID}
	}
	profile, err := record.DecodeProfile(peerID, v)
	if err != nil {
		observability.MaterializationFailures.WithLabelValues("chats").Inc()
		e.log.Warn("malformed peer profile", zap.String("peer_id", peerID), zap.Error(err))
		return domain.Profile{ID: peerID}
	}
	return profile
}

// materializeMessages builds the ascending message list from a full
// snapshot. Keying by message id makes repeated snapshot deliveries
// idempotent; a malformed record is skipped.
func materializeMessages(log *zap.Logger, chatID string, value map[string]any) []domain.Message {
	decoded := make(map[string]*domain.Message, len(value))
	for id, v := range value {
		msg, err := record.DecodeMessage(chatID, id, v)
		if err != nil {
			observability.MaterializationFailures.WithLabelValues("messages").Inc()
			log.Warn("skipping malformed message record",
				zap.String("chat_id", chatID),
				zap.String("message_id", id),
				zap.Error(err),
			)
			continue
		}
		decoded[id] = msg
	}

	msgs := lo.Map(lo.Values(decoded), func(m *domain.Message, _ int) domain.Message {
		return *m
	})
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
