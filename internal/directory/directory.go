// Package directory resolves a human-readable recipient identifier to a
// participant and creates the chat entity. It adds no retries of its own;
// retry policy lives at the adapter boundary and, beyond that, with the
// caller.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chatsync/internal/domain"
)

// Resolver is the adapter surface the directory needs.
type Resolver interface {
	ResolveParticipant(ctx context.Context, email string) (string, error)
	CreateChat(ctx context.Context, initiatorID, recipientID string) (string, error)
}

type Service struct {
	resolver Resolver
	log      *zap.Logger
}

func New(resolver Resolver, log *zap.Logger) *Service {
	return &Service{resolver: resolver, log: log}
}

// CreateChat resolves the recipient and creates a chat with the
// initiator. It surfaces exactly three error kinds: ErrRecipientNotFound,
// ErrSelfChat, and ErrStoreUnavailable wrapping any transport failure.
//
// Creation is not idempotent per participant pair: calling twice for the
// same recipient yields two distinct chats.
func (s *Service) CreateChat(ctx context.Context, initiatorID, recipientEmail string) (string, error) {
	recipientID, err := s.resolver.ResolveParticipant(ctx, recipientEmail)
	if err != nil {
		return "", classify(err)
	}

	chatID, err := s.resolver.CreateChat(ctx, initiatorID, recipientID)
	if err != nil {
		return "", classify(err)
	}

	s.log.Info("directory created chat",
		zap.String("chat_id", chatID),
		zap.String("initiator_id", initiatorID),
	)
	return chatID, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrRecipientNotFound),
		errors.Is(err, domain.ErrSelfChat),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}
