package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leadline-ai/leadline/internal/models"
)

// RoomStatus handles GET /api/rooms/{roomID}. Returns the live participant
// snapshot and conversation state for a room.
func (h *Handler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if !h.registry.RoomExists(roomID) {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	participants := h.registry.Participants(roomID)
	state, speaker, _ := h.registry.RoomState(roomID)

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room_id":            roomID,
		"participants":       participants,
		"participant_count":  len(participants),
		"conversation_state": state,
		"current_speaker":    speaker,
		"ai_present":         h.registry.AgentPresent(roomID),
	})
}

// RoomMessages handles GET /api/rooms/{roomID}/messages. Returns recent
// frames from the Redis replay window, newest first.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		h.Error(w, http.StatusNotImplemented, "message replay not configured")
		return
	}

	roomID := chi.URLParam(r, "roomID")
	limit, _ := pagination(r, 50)

	frames, err := h.redis.RecentFrames(r.Context(), roomID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("recent frames failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if frames == nil {
		frames = []models.CachedFrame{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"messages": frames,
	})
}
