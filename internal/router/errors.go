package router

import "errors"

var (
	ErrUnknownEvent        = errors.New("unknown event")
	ErrMalformedPayload    = errors.New("malformed event payload")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrMissingRecipient    = errors.New("call signal missing recipient")
	ErrMissingMessageID    = errors.New("read receipt missing messageId")
	ErrPersonalRoomLeave   = errors.New("cannot leave own personal room")
	ErrForeignPersonalRoom = errors.New("cannot join another user's personal room")
)
