package domain

import "time"

const MaxMessageSize = 5000

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether moving to next keeps the monotonic
// sent -> delivered -> read progression. Equal statuses are allowed so a
// repeated update is a no-op rather than an error.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Message Invariants:
// 1. Belongs to exactly one chat; sender is a chat participant.
// 2. Immutable except for Status, which only moves forward.
// 3. Never deleted individually; removed only with its whole chat.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
	SentAt   time.Time
	Status   Status
}

func NewMessage(id, chatID, senderID, content string, sentAt time.Time) (*Message, error) {
	if id == "" || chatID == "" || senderID == "" || content == "" {
		return nil, ErrInvalidMessage
	}
	if len(content) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return &Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		SentAt:   sentAt,
		Status:   StatusSent,
	}, nil
}
