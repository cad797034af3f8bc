package services

import (
	"context"
	"fmt"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/database"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/membership"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

type RoomService struct {
	db    database.Database
	cache membership.Invalidator
}

// NewRoomService wires the room CRUD surface. cache may be nil when no
// membership cache is configured; membership writes then rely on the
// database alone.
func NewRoomService(db database.Database, cache membership.Invalidator) *RoomService {
	return &RoomService{db: db, cache: cache}
}

func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, ownerID int) (*models.Room, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	room, err := s.db.CreateRoom(ctx, req, ownerID)
	if err != nil {
		return nil, err
	}

	// The owner is a member from the start, so a private room is
	// usable by its creator immediately.
	if err := s.db.AddMembership(ctx, ownerID, room.ID); err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}

	return room, nil
}

func (s *RoomService) ListUserRooms(ctx context.Context, userID int) ([]*models.Room, error) {
	return s.db.ListUserRooms(ctx, userID)
}

func (s *RoomService) GetRoom(ctx context.Context, roomID int) (*models.Room, error) {
	return s.db.GetRoomByID(ctx, roomID)
}

func (s *RoomService) DeleteRoom(ctx context.Context, roomID, ownerID int) error {
	if err := s.db.DeleteRoom(ctx, roomID, ownerID); err != nil {
		return err
	}
	s.invalidateRoom(ctx, roomID)
	return nil
}

func (s *RoomService) InviteUser(ctx context.Context, roomID, inviterID int, email string) error {
	// Get room to check permissions
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room not found")
	}

	// Check if inviter has permission
	if !room.IsPublic {
		canInvite := (room.OwnerID == inviterID)
		if !canInvite {
			isMember, err := s.db.IsMember(ctx, inviterID, roomID)
			if err != nil || !isMember {
				return fmt.Errorf("forbidden - not authorized to invite to this room")
			}
		}
	}

	// Get user by email
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("user not found")
	}

	// Add membership
	if err := s.db.AddMembership(ctx, user.ID, roomID); err != nil {
		return err
	}
	s.invalidate(ctx, user.ID, roomID)
	return nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID int) error {
	isMember, err := s.db.IsMember(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("database error")
	}
	if !isMember {
		return fmt.Errorf("not a member of this room")
	}

	if err := s.db.RemoveMembership(ctx, userID, roomID); err != nil {
		return err
	}
	s.invalidate(ctx, userID, roomID)
	return nil
}

func (s *RoomService) GetRoomMembers(ctx context.Context, roomID, userID int) ([]*models.Member, error) {
	// Check access permissions
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room not found")
	}

	if !room.IsPublic {
		isMember, err := s.db.IsMember(ctx, userID, roomID)
		if err != nil || !isMember {
			return nil, fmt.Errorf("forbidden")
		}
	}

	return s.db.GetRoomMembers(ctx, roomID)
}

func (s *RoomService) GetActiveUsers(ctx context.Context, roomID, userID int) ([]*models.ActiveUser, error) {
	// Check access permissions
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("room not found")
	}

	if !room.IsPublic {
		isMember, err := s.db.IsMember(ctx, userID, roomID)
		if err != nil || !isMember {
			return nil, fmt.Errorf("forbidden")
		}
	}

	return s.db.GetActiveUsersInRoom(ctx, roomID)
}

func (s *RoomService) CanUserAccessRoom(ctx context.Context, userID, roomID int) (bool, error) {
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return false, err
	}

	if room.IsPublic {
		return true, nil
	}

	return s.db.IsMember(ctx, userID, roomID)
}

// Cache invalidation is best-effort: the membership row is already
// written, and a stale verdict retires at the cache TTL anyway.
func (s *RoomService) invalidate(ctx context.Context, userID, roomID int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID, roomID); err != nil {
		logger.Error("Error invalidating membership cache for user %d room %d: %v", userID, roomID, err)
	}
}

func (s *RoomService) invalidateRoom(ctx context.Context, roomID int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRoom(ctx, roomID); err != nil {
		logger.Error("Error invalidating membership cache for room %d: %v", roomID, err)
	}
}
