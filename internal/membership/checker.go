// Package membership decides whether a user may enter a room. The
// gateway consults it before honoring a join; everything downstream of
// that check trusts the in-memory subscription state instead.
package membership

import (
	"context"
	"fmt"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
)

// Checker is the room-access authority.
type Checker interface {
	CanAccess(ctx context.Context, userID, roomID int) (bool, error)
}

// Invalidator drops cached access verdicts after a membership write.
// The room service calls it so invites and removals take effect before
// the cache TTL would have retired the stale answer.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, roomID int) error
	InvalidateRoom(ctx context.Context, roomID int) error
}

// Store is the slice of the database the checker needs.
type Store interface {
	GetRoomByID(ctx context.Context, id int) (*models.Room, error)
	IsMember(ctx context.Context, userID, roomID int) (bool, error)
}

// StoreChecker answers from the database: public rooms admit anyone,
// private rooms require a membership row.
type StoreChecker struct {
	store Store
}

func NewStoreChecker(store Store) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) CanAccess(ctx context.Context, userID, roomID int) (bool, error) {
	room, err := c.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}

	if room.IsPublic {
		return true, nil
	}

	return c.store.IsMember(ctx, userID, roomID)
}
