package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/auth"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/services"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

type RoomHandlers struct {
	roomService *services.RoomService
	authService *auth.Service
}

func NewRoomHandlers(roomService *services.RoomService, authService *auth.Service) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		authService: authService,
	}
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), &req, user.ID)
	if err != nil {
		logger.Warn("Create room rejected for user %d: %v", user.ID, err)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, room)
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rooms, err := h.roomService.ListUserRooms(r.Context(), user.ID)
	if err != nil {
		logger.Error("List rooms error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := h.getRoomIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	if err := h.roomService.DeleteRoom(r.Context(), roomID, user.ID); err != nil {
		logger.Warn("Delete room %d rejected for user %d: %v", roomID, user.ID, err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "room deleted"})
}

func (h *RoomHandlers) InviteUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := h.getRoomIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var req models.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.roomService.InviteUser(r.Context(), roomID, user.ID, req.Email); err != nil {
		logger.Warn("Invite to room %d rejected for user %d: %v", roomID, user.ID, err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "user invited"})
}

func (h *RoomHandlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := h.getRoomIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	if err := h.roomService.LeaveRoom(r.Context(), user.ID, roomID); err != nil {
		logger.Warn("Leave room %d rejected for user %d: %v", roomID, user.ID, err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "left room"})
}

func (h *RoomHandlers) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := h.getRoomIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	members, err := h.roomService.GetRoomMembers(r.Context(), roomID, user.ID)
	if err != nil {
		logger.Warn("List members of room %d rejected for user %d: %v", roomID, user.ID, err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, members)
}

// GetActiveUsers reports who currently holds a live WebSocket session
// in the room, from the active_sessions mirror the gateway maintains.
func (h *RoomHandlers) GetActiveUsers(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := h.getRoomIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	activeUsers, err := h.roomService.GetActiveUsers(r.Context(), roomID, user.ID)
	if err != nil {
		logger.Warn("Active users of room %d rejected for user %d: %v", roomID, user.ID, err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"room_id":      roomID,
		"active_users": activeUsers,
		"count":        len(activeUsers),
	})
}

func (h *RoomHandlers) getUserFromToken(r *http.Request) (*models.User, error) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return nil, fmt.Errorf("missing token")
	}

	return h.authService.GetUserFromToken(r.Context(), tokenStr)
}

func (h *RoomHandlers) getRoomIDFromPath(r *http.Request) (int, error) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("invalid path")
	}

	return strconv.Atoi(parts[2])
}
