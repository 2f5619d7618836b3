package domain

import "time"

// LastMessage is the denormalized projection of a chat's newest message,
// rewritten transactionally with every append.
type LastMessage struct {
	Content  string
	SenderID string
	SentAt   time.Time
}

// ParticipantMeta carries the per-participant read state. UnreadCount is
// incremented only by appends from the other participant and reset to zero
// only by the participant's own read action.
type ParticipantMeta struct {
	UnreadCount int
	LastReadAt  *time.Time
}

// Chat Invariants:
// 1. Exactly 2 participants; Metadata keys equal the participant set.
// 2. LastMessage mirrors the newest message or is nil for an empty chat.
// 3. Mutated only through append-message and read-state operations.
type Chat struct {
	ID           string
	CreatedAt    time.Time
	Participants map[string]bool
	LastMessage  *LastMessage
	Metadata     map[string]ParticipantMeta
}

func (c *Chat) CanSend(userID string) error {
	if !c.Participants[userID] {
		return ErrNotParticipant
	}
	return nil
}

// OtherParticipant returns the peer of userID, or "" if userID is not a
// participant or the chat is malformed.
func (c *Chat) OtherParticipant(userID string) string {
	if !c.Participants[userID] {
		return ""
	}
	for id, ok := range c.Participants {
		if ok && id != userID {
			return id
		}
	}
	return ""
}

// EffectiveTimestamp orders the chat list: the last message's send time
// when present, the creation time otherwise.
func (c *Chat) EffectiveTimestamp() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// Profile is the participant identity resolved during chat-list
// materialization. Supplied by the users collection, not owned here.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Name resolves the display identity shown for a peer.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return "Unknown"
}

// ChatSummary is the materialized chat-list entry the presentation layer
// reads: the chat record joined with the peer's resolved identity and the
// viewer's unread counter.
type ChatSummary struct {
	ID            string
	Name          string
	AvatarURL     string
	LastMessage   string
	LastMessageAt time.Time
	Participants  map[string]bool
	UnreadCount   int
}
