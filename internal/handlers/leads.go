package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/api/middleware"
)

// CreateLeadRequest represents the lead creation request body.
type CreateLeadRequest struct {
	Name     string `json:"name"`
	Company  string `json:"company"`
	Industry string `json:"industry,omitempty"`
	Email    string `json:"email,omitempty"`
}

// CreateLead handles POST /api/leads.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())

	var req CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "invalid email address")
		return
	}

	lead, err := h.db.CreateLead(r.Context(), userID, req.Name, sanitizeName(req.Company), sanitizeName(req.Industry), req.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("create lead failed")
		h.Error(w, http.StatusInternalServerError, "failed to create lead")
		return
	}

	h.JSON(w, http.StatusCreated, lead)
}

// ListLeads handles GET /api/leads.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())
	limit, offset := pagination(r, 50)

	leads, total, err := h.db.ListLeads(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("list leads failed")
		h.Error(w, http.StatusInternalServerError, "failed to list leads")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"leads": leads,
		"total": total,
	})
}

// GetLead handles GET /api/leads/{id}.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid lead id")
		return
	}

	lead, err := h.db.GetLead(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("get lead failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch lead")
		return
	}
	if lead == nil {
		h.Error(w, http.StatusNotFound, "lead not found")
		return
	}
	if userID, _ := middleware.UserIDFrom(r.Context()); lead.UserID != userID {
		h.Error(w, http.StatusNotFound, "lead not found")
		return
	}

	h.JSON(w, http.StatusOK, lead)
}

// pagination extracts limit/offset query parameters with a default limit.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
