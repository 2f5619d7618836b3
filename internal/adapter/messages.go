package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/record"
	"chatsync/internal/rtdb"
)

// AppendMessage inserts a message with status sent and, in the same
// transaction, overwrites the chat's last-message projection and
// increments the unread counter of every participant except the sender.
func (a *Adapter) AppendMessage(ctx context.Context, chatID, senderID, content string) (string, error) {
	var messageID string
	err := a.do(ctx, "append_message", func(ctx context.Context) error {
		return a.store.Transact(ctx, func(tx rtdb.Tx) error {
			v, err := tx.Get("chats/" + chatID)
			if err != nil {
				return err
			}
			if v == nil {
				return domain.ErrChatNotFound
			}
			chat, err := record.DecodeChat(chatID, v)
			if err != nil {
				return err
			}
			if err := chat.CanSend(senderID); err != nil {
				return err
			}

			msg, err := domain.NewMessage(
				a.store.Push("messages/"+chatID),
				chatID,
				senderID,
				content,
				time.Now().UTC(),
			)
			if err != nil {
				return err
			}

			tx.Set(fmt.Sprintf("messages/%s/%s", chatID, msg.ID), record.EncodeMessage(msg))
			tx.Set("chats/"+chatID+"/lastMessage", record.EncodeLastMessage(&domain.LastMessage{
				Content:  msg.Content,
				SenderID: msg.SenderID,
				SentAt:   msg.SentAt,
			}))
			for pid := range chat.Participants {
				if pid == senderID {
					continue
				}
				tx.Set(
					fmt.Sprintf("chats/%s/metadata/%s/unreadCount", chatID, pid),
					chat.Metadata[pid].UnreadCount+1,
				)
			}

			messageID = msg.ID
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	a.log.Info("message appended",
		zap.String("chat_id", chatID),
		zap.String("message_id", messageID),
		zap.String("sender_id", senderID),
	)
	return messageID, nil
}

// SetReadState zeroes the participant's unread counter, stamps its
// lastRead instant, and transitions every message authored by the other
// participant that is not already read to read. An append racing this
// call keeps its message at sent until the next read-state call.
func (a *Adapter) SetReadState(ctx context.Context, chatID, participantID string) error {
	err := a.do(ctx, "set_read_state", func(ctx context.Context) error {
		return a.store.Transact(ctx, func(tx rtdb.Tx) error {
			v, err := tx.Get("chats/" + chatID)
			if err != nil {
				return err
			}
			if v == nil {
				return domain.ErrChatNotFound
			}

			now := time.Now().UTC().Format(time.RFC3339Nano)
			tx.Set(fmt.Sprintf("chats/%s/metadata/%s/unreadCount", chatID, participantID), 0)
			tx.Set(fmt.Sprintf("chats/%s/metadata/%s/lastRead", chatID, participantID), now)

			raw, err := tx.Get("messages/" + chatID)
			if err != nil {
				return err
			}
			msgs, _ := raw.(map[string]any)
			for msgID, val := range msgs {
				msg, err := record.DecodeMessage(chatID, msgID, val)
				if err != nil {
					continue
				}
				if msg.SenderID == participantID || msg.Status == domain.StatusRead {
					continue
				}
				tx.Set(
					fmt.Sprintf("messages/%s/%s/status", chatID, msgID),
					string(domain.StatusRead),
				)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	a.log.Info("read state set",
		zap.String("chat_id", chatID),
		zap.String("participant_id", participantID),
	)
	return nil
}

// UpdateMessageStatus moves a single message along the monotonic
// sent -> delivered -> read progression; a repeated update is a no-op
// and a backwards transition is rejected.
func (a *Adapter) UpdateMessageStatus(ctx context.Context, chatID, messageID string, status domain.Status) error {
	if !status.Valid() {
		return domain.ErrInvalidTransition
	}
	return a.do(ctx, "update_message_status", func(ctx context.Context) error {
		return a.store.Transact(ctx, func(tx rtdb.Tx) error {
			path := fmt.Sprintf("messages/%s/%s", chatID, messageID)
			v, err := tx.Get(path)
			if err != nil {
				return err
			}
			if v == nil {
				return domain.ErrMessageNotFound
			}
			msg, err := record.DecodeMessage(chatID, messageID, v)
			if err != nil {
				return err
			}
			if msg.Status == status {
				return nil
			}
			if !msg.Status.CanTransition(status) {
				return domain.ErrInvalidTransition
			}
			tx.Set(path+"/status", string(status))
			return nil
		})
	})
}
