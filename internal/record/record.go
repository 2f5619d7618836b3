// Package record maps between domain entities and the raw tree values the
// realtime store holds. Field names follow the store schema: chats/<id>,
// messages/<chatID>/<msgID>, users/<uid>.
package record

import (
	"fmt"
	"time"

	"chatsync/internal/domain"
)

func EncodeChat(c *domain.Chat) map[string]any {
	participants := make(map[string]any, len(c.Participants))
	for id := range c.Participants {
		participants[id] = true
	}
	metadata := make(map[string]any, len(c.Metadata))
	for id, meta := range c.Metadata {
		metadata[id] = encodeMeta(meta)
	}
	node := map[string]any{
		"createdAt":    c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"participants": participants,
		"metadata":     metadata,
	}
	if c.LastMessage != nil {
		node["lastMessage"] = EncodeLastMessage(c.LastMessage)
	}
	return node
}

func EncodeLastMessage(lm *domain.LastMessage) map[string]any {
	return map[string]any{
		"content":   lm.Content,
		"sender":    lm.SenderID,
		"timestamp": lm.SentAt.UTC().Format(time.RFC3339Nano),
	}
}

func encodeMeta(meta domain.ParticipantMeta) map[string]any {
	node := map[string]any{"unreadCount": meta.UnreadCount}
	if meta.LastReadAt != nil {
		node["lastRead"] = meta.LastReadAt.UTC().Format(time.RFC3339Nano)
	}
	return node
}

func DecodeChat(id string, v any) (*domain.Chat, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: chat %s: not a record", domain.ErrMaterialization, id)
	}
	createdAt, err := parseTime(node["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("%w: chat %s: createdAt: %v", domain.ErrMaterialization, id, err)
	}

	chat := &domain.Chat{
		ID:           id,
		CreatedAt:    createdAt,
		Participants: make(map[string]bool),
		Metadata:     make(map[string]domain.ParticipantMeta),
	}
	if parts, ok := node["participants"].(map[string]any); ok {
		for pid, val := range parts {
			if b, ok := val.(bool); ok && b {
				chat.Participants[pid] = true
			}
		}
	}
	if meta, ok := node["metadata"].(map[string]any); ok {
		for pid, val := range meta {
			chat.Metadata[pid] = decodeMeta(val)
		}
	}
	if lm, ok := node["lastMessage"].(map[string]any); ok {
		sentAt, err := parseTime(lm["timestamp"])
		if err != nil {
			return nil, fmt.Errorf("%w: chat %s: lastMessage: %v", domain.ErrMaterialization, id, err)
		}
		chat.LastMessage = &domain.LastMessage{
			Content:  stringField(lm, "content"),
			SenderID: stringField(lm, "sender"),
			SentAt:   sentAt,
		}
	}
	return chat, nil
}

func decodeMeta(v any) domain.ParticipantMeta {
	node, ok := v.(map[string]any)
	if !ok {
		return domain.ParticipantMeta{}
	}
	meta := domain.ParticipantMeta{UnreadCount: intField(node, "unreadCount")}
	if t, err := parseTime(node["lastRead"]); err == nil {
		meta.LastReadAt = &t
	}
	return meta
}

func EncodeMessage(m *domain.Message) map[string]any {
	return map[string]any{
		"content":   m.Content,
		"sender":    m.SenderID,
		"timestamp": m.SentAt.UTC().Format(time.RFC3339Nano),
		"status":    string(m.Status),
	}
}

func DecodeMessage(chatID, id string, v any) (*domain.Message, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: message %s: not a record", domain.ErrMaterialization, id)
	}
	sentAt, err := parseTime(node["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("%w: message %s: timestamp: %v", domain.ErrMaterialization, id, err)
	}
	status := domain.Status(stringField(node, "status"))
	if !status.Valid() {
		status = domain.StatusSent
	}
	return &domain.Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: stringField(node, "sender"),
		Content:  stringField(node, "content"),
		SentAt:   sentAt,
		Status:   status,
	}, nil
}

func DecodeProfile(id string, v any) (domain.Profile, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: profile %s: not a record", domain.ErrMaterialization, id)
	}
	return domain.Profile{
		ID:          id,
		Email:       stringField(node, "email"),
		DisplayName: stringField(node, "displayName"),
		PhotoURL:    stringField(node, "photoURL"),
	}, nil
}

func stringField(node map[string]any, key string) string {
	s, _ := node[key].(string)
	return s
}

func intField(node map[string]any, key string) int {
	switch n := node[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	return t, nil
}
