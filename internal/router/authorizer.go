package router

import (
	"context"
	"fmt"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// PersonalRoomAuthorizer lets any user join any shared room but keeps
// personal rooms private to their owner. Class and group membership checks
// belong to the CRUD service and can be layered on with Chain.
type PersonalRoomAuthorizer struct{}

// CanJoin implements interfaces.RoomAuthorizer.
func (PersonalRoomAuthorizer) CanJoin(ctx context.Context, user types.UserSummary, roomID string) error {
	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}
	if owner, ok := types.PersonalRoomOwner(roomID); ok && owner != user.ID {
		return fmt.Errorf("%w: %w", interfaces.ErrAuthorization, ErrForeignPersonalRoom)
	}
	return nil
}

// Chain runs authorizers in order and stops at the first refusal.
type Chain []interfaces.RoomAuthorizer

// CanJoin implements interfaces.RoomAuthorizer.
func (c Chain) CanJoin(ctx context.Context, user types.UserSummary, roomID string) error {
	for _, a := range c {
		if err := a.CanJoin(ctx, user, roomID); err != nil {
			return err
		}
	}
	return nil
}
