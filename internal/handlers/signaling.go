package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/leadline-ai/leadline/internal/metrics"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/rooms"
)

const (
	maxFrameBytes  = 256 * 1024
	writeTimeout   = 10 * time.Second
	closeGraceWait = time.Second
)

// wsTransport adapts a websocket connection to the room transport contract.
// gorilla/websocket allows a single concurrent writer, so sends are
// serialized with a mutex.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceWait))
	t.conn.Close()
}

// sendEnvelope marshals and delivers a frame to this transport only.
func (t *wsTransport) sendEnvelope(env *models.Envelope) error {
	env.Stamp()
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.Send(data)
}

// Signaling handles GET /ws/signaling/{roomID}: the websocket endpoint every
// meeting participant connects to. Authentication failures close the socket
// with policy code 1008 after the upgrade so browser clients can read the
// reason.
func (h *Handler) Signaling(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	userID, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceWait))
		conn.Close()
		return
	}
	if userID == "" {
		userID = "user-" + uuid.NewString()[:8]
	}
	isOrganizer := r.URL.Query().Get("organizer") == "true"

	transport := &wsTransport{conn: conn}
	if err := h.registry.Join(roomID, userID, transport, rooms.KindHuman, isOrganizer); err != nil {
		if errors.Is(err, rooms.ErrRoomFull) {
			transport.sendEnvelope(models.ErrorEnvelope("room_full", "meeting room is at capacity"))
		}
		transport.Close("join rejected")
		return
	}

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	state, speaker, _ := h.registry.RoomState(roomID)
	transport.sendEnvelope(&models.Envelope{
		Type:              models.TypeRoomJoined,
		RoomID:            roomID,
		ToUser:            userID,
		Participants:      h.registry.Participants(roomID),
		ConversationState: string(state),
		CurrentSpeaker:    speaker,
	})

	h.registry.Broadcast(roomID, &models.Envelope{
		Type:     models.TypeParticipantUpdate,
		FromUser: userID,
		Participant: &models.ParticipantUpdate{
			UserID:       userID,
			Action:       models.ActionJoined,
			AudioEnabled: true,
		},
	}, userID)

	h.logger.Info().Str("room_id", roomID).Str("user_id", userID).Msg("signaling connected")
	h.recordParticipant(roomID, userID, string(models.ActionJoined))
	h.readLoop(r.Context(), roomID, userID, transport)

	h.recordParticipant(roomID, userID, string(models.ActionLeft))
	if h.registry.Leave(userID) {
		h.registry.Broadcast(roomID, &models.Envelope{
			Type:     models.TypeParticipantUpdate,
			FromUser: userID,
			Participant: &models.ParticipantUpdate{
				UserID: userID,
				Action: models.ActionLeft,
			},
		}, userID)
	}
	h.logger.Info().Str("room_id", roomID).Str("user_id", userID).Msg("signaling disconnected")
}

// readLoop consumes inbound frames until the client leaves or the connection
// drops. Malformed frames get an error reply and the connection stays open.
func (h *Handler) readLoop(ctx context.Context, roomID, userID string, transport *wsTransport) {
	// Meeting lookup for conversation routing is deferred to the first
	// conversation frame and then remembered for the connection lifetime.
	var meetingID *uuid.UUID

	for {
		_, data, err := transport.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := models.ParseEnvelope(data)
		if err != nil {
			metrics.InvalidFrames.Inc()
			transport.sendEnvelope(models.ErrorEnvelope("invalid_message", err.Error()))
			continue
		}
		env.FromUser = userID

		switch env.Type {
		case models.TypeLeave:
			return

		case models.TypeVoiceActivity:
			state, speaker, ok := h.registry.SetVoiceActivity(userID, env.VoiceActivity.IsSpeaking)
			if !ok {
				return
			}
			env.VoiceActivity.UserID = userID
			env.ConversationState = string(state)
			env.CurrentSpeaker = speaker
			h.registry.Broadcast(roomID, env, userID)

		case models.TypeOffer, models.TypeAnswer, models.TypeICECandidate:
			if env.ToUser != "" {
				if err := h.registry.SendTo(roomID, env.ToUser, env); err != nil {
					transport.sendEnvelope(models.ErrorEnvelope("unknown_target", "target participant not in room"))
				}
			} else {
				h.registry.Broadcast(roomID, env, userID)
			}

		case models.TypeParticipantUpdate:
			if env.Participant == nil {
				metrics.InvalidFrames.Inc()
				transport.sendEnvelope(models.ErrorEnvelope("invalid_message", "participant_update payload missing"))
				continue
			}
			env.Participant.UserID = userID
			switch env.Participant.Action {
			case models.ActionMuted:
				h.registry.SetAudioEnabled(userID, false)
			case models.ActionUnmuted:
				h.registry.SetAudioEnabled(userID, true)
			}
			h.registry.Broadcast(roomID, env, userID)

		case models.TypeConversationMessage:
			h.registry.Broadcast(roomID, env, userID)
			h.cacheFrame(roomID, env)
			if meetingID == nil {
				meetingID = h.meetingForRoom(ctx, roomID)
			}
			if meetingID != nil {
				// The agent's reply is paced; never block the read loop on it.
				go func(id uuid.UUID, text string) {
					if _, err := h.orch.ProcessUserMessage(context.Background(), id, roomID, text, userID); err != nil {
						h.logger.Warn().Err(err).Str("room_id", roomID).Msg("conversation message failed")
					}
				}(*meetingID, env.Text)
			}

		default:
			h.registry.Broadcast(roomID, env, userID)
		}
	}
}

// recordParticipant writes a join/leave audit row, best-effort.
func (h *Handler) recordParticipant(roomID, userID, action string) {
	if h.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.db.RecordParticipantEvent(ctx, roomID, userID, action); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("participant event write failed")
	}
}

// cacheFrame stores a frame in the room's Redis replay window, best-effort.
func (h *Handler) cacheFrame(roomID string, env *models.Envelope) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redis.CacheFrame(ctx, roomID, env); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("frame cache failed")
	}
}

// meetingForRoom resolves the scheduled meeting bound to a room id.
func (h *Handler) meetingForRoom(ctx context.Context, roomID string) *uuid.UUID {
	if h.db == nil {
		return nil
	}
	meeting, err := h.db.GetMeetingByRoomID(ctx, roomID)
	if err != nil || meeting == nil {
		return nil
	}
	return &meeting.ID
}
