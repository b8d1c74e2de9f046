package interfaces

import (
	"context"

	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// RoomAuthorizer decides whether a user may join a room. It is consulted
// before a join reaches the registry, outside the hub goroutine, so
// implementations may do I/O.
type RoomAuthorizer interface {
	// CanJoin returns nil to allow, ErrAuthorization to deny.
	CanJoin(ctx context.Context, user types.UserSummary, roomID string) error
}
