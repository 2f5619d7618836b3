package domain

import "errors"

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrChatNotFound      = errors.New("chat not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotParticipant    = errors.New("user not participant")
	ErrSelfChat          = errors.New("cannot create chat with yourself")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrMaterialization   = errors.New("materialization failed")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoChatSelected    = errors.New("no chat selected")
	ErrNotSignedIn       = errors.New("not signed in")
)
