package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/conversation"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/rooms"
)

const testSecret = "signaling-test-secret"

func signedToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newSignalingServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	registry := rooms.NewRegistry(logger)
	orch := conversation.NewOrchestrator(registry, nil, nil, nil, nil, nil, conversation.Options{}, logger)
	t.Cleanup(orch.Shutdown)

	verifier := middleware.NewTokenVerifier(testSecret, false)
	h := NewHandler(nil, nil, registry, orch, verifier, &config.Config{}, logger)

	r := chi.NewRouter()
	r.Get("/ws/signaling/{roomID}", h.Signaling)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, roomID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signaling/" + roomID + "?token=" + signedToken(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return &env
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ models.MessageType) *models.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s frame arrived", typ)
	return nil
}

func TestSignalingRejectsBadToken(t *testing.T) {
	srv := newSignalingServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signaling/room1?token=garbage"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Auth failure closes after the upgrade with policy code 1008.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close 1008, got %v", err)
	}
}

func TestSignalingWelcomeFrame(t *testing.T) {
	srv := newSignalingServer(t)
	conn := dial(t, srv, "room1", "u1")

	welcome := readEnvelope(t, conn)
	if welcome.Type != models.TypeRoomJoined {
		t.Fatalf("expected room_joined first, got %s", welcome.Type)
	}
	if welcome.RoomID != "room1" {
		t.Fatalf("unexpected room id %q", welcome.RoomID)
	}
	if welcome.Participants == nil {
		t.Fatal("welcome must carry the participant snapshot")
	}
}

func TestSignalingJoinLeaveBroadcast(t *testing.T) {
	srv := newSignalingServer(t)
	c1 := dial(t, srv, "room1", "u1")
	readEnvelope(t, c1) // room_joined

	c2 := dial(t, srv, "room1", "u2")
	readEnvelope(t, c2) // room_joined

	joined := readUntil(t, c1, models.TypeParticipantUpdate)
	if joined.Participant == nil || joined.Participant.UserID != "u2" || joined.Participant.Action != models.ActionJoined {
		t.Fatalf("unexpected join broadcast: %+v", joined.Participant)
	}

	c2.Close()
	left := readUntil(t, c1, models.TypeParticipantUpdate)
	if left.Participant == nil || left.Participant.Action != models.ActionLeft {
		t.Fatalf("unexpected leave broadcast: %+v", left.Participant)
	}
}

func TestSignalingVoiceActivityRelay(t *testing.T) {
	srv := newSignalingServer(t)
	c1 := dial(t, srv, "room1", "u1")
	readEnvelope(t, c1)
	c2 := dial(t, srv, "room1", "u2")
	readEnvelope(t, c2)
	readUntil(t, c1, models.TypeParticipantUpdate)

	err := c1.WriteJSON(map[string]interface{}{
		"type":           "voice_activity",
		"voice_activity": map[string]interface{}{"is_speaking": true, "audio_level": 0.7},
	})
	if err != nil {
		t.Fatal(err)
	}

	env := readUntil(t, c2, models.TypeVoiceActivity)
	if env.FromUser != "u1" {
		t.Fatalf("sender identity must be stamped by the server, got %q", env.FromUser)
	}
	if env.CurrentSpeaker != "u1" || env.ConversationState != "user_speaking" {
		t.Fatalf("expected u1 speaking, got state=%s speaker=%s", env.ConversationState, env.CurrentSpeaker)
	}
}

func TestSignalingTargetedOffer(t *testing.T) {
	srv := newSignalingServer(t)
	c1 := dial(t, srv, "room1", "u1")
	readEnvelope(t, c1)
	c2 := dial(t, srv, "room1", "u2")
	readEnvelope(t, c2)
	c3 := dial(t, srv, "room1", "u3")
	readEnvelope(t, c3)

	if err := c1.WriteJSON(map[string]interface{}{"type": "offer", "sdp": "v=0", "to_user": "u2"}); err != nil {
		t.Fatal(err)
	}

	offer := readUntil(t, c2, models.TypeOffer)
	if offer.SDP != "v=0" || offer.FromUser != "u1" {
		t.Fatalf("unexpected offer: %+v", offer)
	}

	// u3 gets join broadcasts but never the targeted offer.
	c3.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, data, err := c3.ReadMessage()
		if err != nil {
			break // timeout: no more frames
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type == models.TypeOffer {
			t.Fatal("targeted offer must not reach third parties")
		}
	}
}

func TestSignalingMalformedFrameKeepsConnection(t *testing.T) {
	srv := newSignalingServer(t)
	c1 := dial(t, srv, "room1", "u1")
	readEnvelope(t, c1)

	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer"}`)); err != nil {
		t.Fatal(err)
	}
	errFrame := readUntil(t, c1, models.TypeError)
	if errFrame.Error == nil || errFrame.Error.Code != "invalid_message" {
		t.Fatalf("unexpected error frame: %+v", errFrame.Error)
	}

	// The connection survives: a valid frame still round-trips.
	c2 := dial(t, srv, "room1", "u2")
	readEnvelope(t, c2)
	readUntil(t, c1, models.TypeParticipantUpdate)

	if err := c1.WriteJSON(map[string]interface{}{"type": "conversation_message", "message": "hello"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, c2, models.TypeConversationMessage)
	if msg.Text != "hello" || msg.FromUser != "u1" {
		t.Fatalf("unexpected relay: %+v", msg)
	}
}

func TestSignalingRoomFull(t *testing.T) {
	srv := newSignalingServer(t)

	// Fill the room to its default capacity.
	for i := 0; i < rooms.DefaultMaxParticipants; i++ {
		conn := dial(t, srv, "full", "u"+string(rune('a'+i)))
		readEnvelope(t, conn)
	}

	extra := dial(t, srv, "full", "uz")
	env := readEnvelope(t, extra)
	if env.Type != models.TypeError || env.Error == nil || env.Error.Code != "room_full" {
		t.Fatalf("expected room_full error, got %+v", env)
	}
}
