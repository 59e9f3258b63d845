package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies the kind of signaling frame.
type MessageType string

const (
	TypeJoin              MessageType = "join"
	TypeLeave             MessageType = "leave"
	TypeOffer             MessageType = "offer"
	TypeAnswer            MessageType = "answer"
	TypeICECandidate      MessageType = "ice"
	TypeVoiceActivity     MessageType = "voice_activity"
	TypeParticipantUpdate MessageType = "participant_update"
	TypeMeetingStatus     MessageType = "meeting_status"
	TypeError             MessageType = "error"

	// Conversation and room-lifecycle frames emitted by the server.
	TypeRoomJoined          MessageType = "room_joined"
	TypeConversationMessage MessageType = "conversation_message"
	TypeAgentJoined         MessageType = "ai_joined"
	TypeAgentMessage        MessageType = "ai_message"
	TypeAgentVoiceMessage   MessageType = "ai_voice_message"
	TypeMeetingCompleted    MessageType = "meeting_completed"
)

// ErrInvalidMessage is returned when an inbound frame fails validation.
// The connection stays open; the sender receives an error-typed reply.
var ErrInvalidMessage = errors.New("invalid signaling message")

// ParticipantAction describes a participant state change broadcast to a room.
type ParticipantAction string

const (
	ActionJoined  ParticipantAction = "joined"
	ActionLeft    ParticipantAction = "left"
	ActionMuted   ParticipantAction = "muted"
	ActionUnmuted ParticipantAction = "unmuted"
)

// VoiceActivity carries voice activity detection data.
type VoiceActivity struct {
	IsSpeaking bool    `json:"is_speaking"`
	AudioLevel float64 `json:"audio_level"`
	UserID     string  `json:"user_id"`
}

// ParticipantUpdate describes a join/leave/mute event for one participant.
type ParticipantUpdate struct {
	UserID       string            `json:"user_id"`
	Action       ParticipantAction `json:"action"`
	AudioEnabled bool              `json:"audio_enabled"`
}

// MeetingStatus summarizes room-level meeting state.
type MeetingStatus struct {
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant_count"`
	AgentPresent     bool   `json:"ai_present"`
}

// ErrorData carries a protocol-level error back to the sender.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the signaling frame exchanged over a room's transports.
// ToUser absent means broadcast. SequenceNumber is assigned per room on
// outbound frames; consumers must not assume in-order delivery without it.
type Envelope struct {
	Type          MessageType        `json:"type"`
	RoomID        string             `json:"meeting_room_id,omitempty"`
	FromUser      string             `json:"from_user,omitempty"`
	ToUser        string             `json:"to_user,omitempty"`
	SDP           string             `json:"sdp,omitempty"`
	Candidate     json.RawMessage    `json:"candidate,omitempty"`
	VoiceActivity *VoiceActivity     `json:"voice_activity,omitempty"`
	Participant   *ParticipantUpdate `json:"participant_update,omitempty"`
	MeetingStatus *MeetingStatus     `json:"meeting_status,omitempty"`
	Error         *ErrorData         `json:"error_data,omitempty"`
	Text          string             `json:"message,omitempty"`

	// Server-emitted conversation and room-state fields.
	ConversationState string    `json:"conversation_state,omitempty"`
	CurrentSpeaker    string    `json:"current_speaker,omitempty"`
	IsPrompt          bool      `json:"is_prompt,omitempty"`
	AudioData         string    `json:"audio_data,omitempty"`
	AudioFormat       string    `json:"audio_format,omitempty"`
	Participants      any       `json:"participants,omitempty"`
	Analysis          *Analysis `json:"analysis,omitempty"`
	Summary           string    `json:"summary,omitempty"`

	Timestamp      string `json:"timestamp,omitempty"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
}

// ParseEnvelope decodes and validates an inbound frame.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks type-specific required fields.
func (e *Envelope) Validate() error {
	switch e.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	case TypeOffer, TypeAnswer:
		if e.SDP == "" {
			return fmt.Errorf("%w: %s requires sdp", ErrInvalidMessage, e.Type)
		}
	case TypeICECandidate:
		if len(e.Candidate) == 0 {
			return fmt.Errorf("%w: ice requires candidate", ErrInvalidMessage)
		}
	case TypeVoiceActivity:
		if e.VoiceActivity == nil {
			return fmt.Errorf("%w: voice_activity payload missing", ErrInvalidMessage)
		}
		if e.VoiceActivity.AudioLevel < 0 || e.VoiceActivity.AudioLevel > 1 {
			return fmt.Errorf("%w: audio_level out of range", ErrInvalidMessage)
		}
	case TypeConversationMessage:
		if e.Text == "" {
			return fmt.Errorf("%w: conversation_message requires message", ErrInvalidMessage)
		}
	}
	return nil
}

// Stamp sets the timestamp to now if unset.
func (e *Envelope) Stamp() {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
}

// CachedFrame is the trimmed form of a broadcast frame kept in the Redis
// replay window for a room.
type CachedFrame struct {
	ID        string `json:"id"` // ULID
	Type      string `json:"type"`
	FromUser  string `json:"from_user,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// ErrorEnvelope builds an error-typed reply frame.
func ErrorEnvelope(code, message string) *Envelope {
	env := &Envelope{
		Type:  TypeError,
		Error: &ErrorData{Code: code, Message: message},
	}
	env.Stamp()
	return env
}
