package handlers

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/conversation"
	"github.com/leadline-ai/leadline/internal/rooms"
	"github.com/leadline-ai/leadline/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	registry *rooms.Registry
	orch     *conversation.Orchestrator
	verifier *middleware.TokenVerifier
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(db store.DataStore, redis *store.RedisStore, registry *rooms.Registry, orch *conversation.Orchestrator, verifier *middleware.TokenVerifier, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		registry: registry,
		orch:     orch,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" {
		return true // Empty is valid (optional field)
	}
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newRoomID generates an 8-character room identifier.
func newRoomID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	for i := range buf {
		buf[i] = roomIDAlphabet[int(buf[i])%len(roomIDAlphabet)]
	}
	return string(buf)
}
