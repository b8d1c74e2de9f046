package websocket

import (
	"errors"
	"fmt"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
)

// Connection-related errors. Both match interfaces.ErrDeliveryFailed.
var (
	ErrConnectionClosed = fmt.Errorf("connection closed: %w", interfaces.ErrDeliveryFailed)
	ErrSendBufferFull   = fmt.Errorf("send buffer full: %w", interfaces.ErrDeliveryFailed)
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrEmptyUserID   = errors.New("connection has no user")
)
