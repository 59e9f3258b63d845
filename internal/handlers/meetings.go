package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/models"
)

// ScheduleMeetingRequest represents the meeting scheduling request body.
type ScheduleMeetingRequest struct {
	LeadID         string    `json:"lead_id"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	OrganizerEmail string    `json:"organizer_email,omitempty"`
}

// ScheduleMeeting handles POST /api/meetings. It creates the meeting record,
// generates its room id, and arms the agent's auto-join timer.
func (h *Handler) ScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())

	var req ScheduleMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ScheduledTime.IsZero() {
		h.Error(w, http.StatusBadRequest, "scheduled_time is required")
		return
	}
	if !isValidEmail(req.OrganizerEmail) {
		h.Error(w, http.StatusBadRequest, "invalid organizer_email")
		return
	}

	if _, err := uuid.Parse(req.LeadID); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid lead_id")
		return
	}

	lead, err := h.db.GetLead(r.Context(), req.LeadID)
	if err != nil {
		h.logger.Error().Err(err).Msg("lead lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch lead")
		return
	}
	if lead == nil || lead.UserID != userID {
		h.Error(w, http.StatusNotFound, "lead not found")
		return
	}

	meeting, err := h.db.CreateMeeting(r.Context(), userID, lead.ID, newRoomID(), req.OrganizerEmail, req.ScheduledTime)
	if err != nil {
		h.logger.Error().Err(err).Msg("create meeting failed")
		h.Error(w, http.StatusInternalServerError, "failed to schedule meeting")
		return
	}

	h.orch.ScheduleAutoJoin(meeting.ID, meeting.ScheduledTime, meeting.RoomID, lead)

	h.JSON(w, http.StatusCreated, meeting)
}

// ListMeetings handles GET /api/meetings with an optional status filter.
func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())
	limit, offset := pagination(r, 50)

	status := models.MeetingStatusValue(r.URL.Query().Get("status"))
	switch status {
	case "", models.MeetingScheduled, models.MeetingActive, models.MeetingCompleted, models.MeetingCancelled:
	default:
		h.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	meetings, total, err := h.db.ListMeetings(r.Context(), userID, status, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("list meetings failed")
		h.Error(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"meetings": meetings,
		"total":    total,
	})
}

// GetMeeting handles GET /api/meetings/{id}.
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}
	h.JSON(w, http.StatusOK, meeting)
}

// CancelMeeting handles POST /api/meetings/{id}/cancel. Disarms the agent's
// auto-join and marks the meeting cancelled.
func (h *Handler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}
	if meeting.Status != models.MeetingScheduled {
		h.Error(w, http.StatusConflict, "only scheduled meetings can be cancelled")
		return
	}

	h.orch.CancelAutoJoin(meeting.ID)
	if err := h.db.UpdateMeetingStatus(r.Context(), meeting.ID.String(), models.MeetingCancelled); err != nil {
		h.logger.Error().Err(err).Msg("cancel meeting failed")
		h.Error(w, http.StatusInternalServerError, "failed to cancel meeting")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": string(models.MeetingCancelled)})
}

// EndMeeting handles POST /api/meetings/{id}/end. Forces a graceful end of
// the live conversation and returns the analysis.
func (h *Handler) EndMeeting(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}

	analysis, err := h.orch.EndMeetingGracefully(r.Context(), meeting.ID, meeting.RoomID)
	if err != nil {
		h.Error(w, http.StatusConflict, "no active conversation for meeting")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ending",
		"analysis": analysis,
	})
}

// MeetingMessageRequest represents a human message relayed over REST instead
// of the signaling socket.
type MeetingMessageRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// PostMeetingMessage handles POST /api/meetings/{id}/message. It feeds a
// human message into the live conversation and returns the agent's reply.
func (h *Handler) PostMeetingMessage(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}

	var req MeetingMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID, _ = middleware.UserIDFrom(r.Context())
	}

	reply, err := h.orch.ProcessUserMessage(r.Context(), meeting.ID, meeting.RoomID, req.Message, req.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("process message failed")
		h.Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"response": reply})
}

// GetMeetingTranscript handles GET /api/meetings/{id}/transcript.
func (h *Handler) GetMeetingTranscript(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}

	events, err := h.db.ListConversationEvents(r.Context(), meeting.ID.String())
	if err != nil {
		h.logger.Error().Err(err).Msg("list events failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch transcript")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"meeting_id": meeting.ID,
		"events":     events,
	})
}

// GetMeetingAnalysis handles GET /api/meetings/{id}/analysis.
func (h *Handler) GetMeetingAnalysis(w http.ResponseWriter, r *http.Request) {
	meeting := h.ownedMeeting(w, r)
	if meeting == nil {
		return
	}

	analysis, err := h.db.GetMeetingAnalysis(r.Context(), meeting.ID.String())
	if err != nil {
		h.logger.Error().Err(err).Msg("get analysis failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch analysis")
		return
	}
	if analysis == nil {
		h.Error(w, http.StatusNotFound, "analysis not available")
		return
	}

	h.JSON(w, http.StatusOK, analysis)
}

// ownedMeeting loads the meeting from the id URL param and enforces
// ownership. Writes the error response and returns nil when unavailable.
func (h *Handler) ownedMeeting(w http.ResponseWriter, r *http.Request) *models.ScheduledMeeting {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid meeting id")
		return nil
	}

	meeting, err := h.db.GetMeeting(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("get meeting failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch meeting")
		return nil
	}
	if meeting == nil {
		h.Error(w, http.StatusNotFound, "meeting not found")
		return nil
	}
	if userID, _ := middleware.UserIDFrom(r.Context()); meeting.UserID != userID {
		h.Error(w, http.StatusNotFound, "meeting not found")
		return nil
	}
	return meeting
}
