package rooms

import (
	"sync"
	"time"
)

// Kind distinguishes human participants from the agent.
type Kind string

const (
	KindHuman Kind = "human"
	KindAgent Kind = "ai"
)

// State is the room-wide conversation state derived from voice activity.
type State string

const (
	StateWaiting       State = "waiting"
	StateActive        State = "active"
	StateHumanSpeaking State = "user_speaking"
	StateAgentSpeaking State = "ai_speaking"
)

// DefaultMaxParticipants bounds a room when no explicit capacity is given.
const DefaultMaxParticipants = 10

// participant is the live state of one room member. Owned exclusively by its
// room; all access goes through the room's lock.
type participant struct {
	id           string
	kind         Kind
	transport    Transport
	isOrganizer  bool
	audioEnabled bool
	voiceActive  bool
	voiceSeq     uint64 // activation order, used for tie-breaking
	joinedAt     time.Time
	lastActivity time.Time
}

// ParticipantView is an immutable snapshot of a participant, safe to hand to
// callers outside the registry.
type ParticipantView struct {
	UserID       string    `json:"user_id"`
	Kind         Kind      `json:"participant_type"`
	IsOrganizer  bool      `json:"is_organizer"`
	AudioEnabled bool      `json:"audio_enabled"`
	VoiceActive  bool      `json:"voice_activity"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Room groups the participants of one meeting. All mutation is serialized by
// mu; the registry is the only component that mutates room state.
type Room struct {
	mu sync.Mutex

	id              string
	maxParticipants int
	participants    map[string]*participant
	createdAt       time.Time
	state           State
	currentSpeaker  string
	nextVoiceSeq    uint64
	nextSeq         int64
}

func newRoom(id string, maxParticipants int) *Room {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &Room{
		id:              id,
		maxParticipants: maxParticipants,
		participants:    make(map[string]*participant),
		createdAt:       time.Now(),
		state:           StateWaiting,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// add registers a participant. Returns false when the room is at capacity.
func (r *Room) add(p *participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) >= r.maxParticipants {
		return false
	}
	r.participants[p.id] = p
	return true
}

// remove deletes a participant. Returns false if it was not a member.
func (r *Room) remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[userID]; !ok {
		return false
	}
	delete(r.participants, userID)
	if r.currentSpeaker == userID {
		r.rescanSpeakerLocked()
	}
	return true
}

// setVoiceActivity applies a voice-activity flip and arbitrates the room's
// current speaker. An activating participant always becomes the speaker; on
// deactivation the most recently activated still-active participant wins, or
// the speaker is cleared and the room returns to idle.
func (r *Room) setVoiceActivity(userID string, active bool) (State, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userID]
	if !ok {
		return r.state, r.currentSpeaker, false
	}
	p.voiceActive = active
	p.lastActivity = time.Now()

	if active {
		r.nextVoiceSeq++
		p.voiceSeq = r.nextVoiceSeq
		r.currentSpeaker = userID
		if p.kind == KindHuman {
			r.state = StateHumanSpeaking
		} else {
			r.state = StateAgentSpeaking
		}
	} else {
		r.rescanSpeakerLocked()
	}
	return r.state, r.currentSpeaker, true
}

// rescanSpeakerLocked recomputes the current speaker after a deactivation or
// removal. Caller must hold mu.
func (r *Room) rescanSpeakerLocked() {
	var winner *participant
	for _, p := range r.participants {
		if !p.voiceActive {
			continue
		}
		if winner == nil || p.voiceSeq > winner.voiceSeq {
			winner = p
		}
	}
	if winner == nil {
		r.currentSpeaker = ""
		r.state = StateActive
		return
	}
	r.currentSpeaker = winner.id
	if winner.kind == KindHuman {
		r.state = StateHumanSpeaking
	} else {
		r.state = StateAgentSpeaking
	}
}

// setAudioEnabled flips a participant's audio flag.
func (r *Room) setAudioEnabled(userID string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return false
	}
	p.audioEnabled = enabled
	p.lastActivity = time.Now()
	return true
}

// snapshot returns immutable views of all participants.
func (r *Room) snapshot() []ParticipantView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, ParticipantView{
			UserID:       p.id,
			Kind:         p.kind,
			IsOrganizer:  p.isOrganizer,
			AudioEnabled: p.audioEnabled,
			VoiceActive:  p.voiceActive,
			JoinedAt:     p.joinedAt,
			LastActivity: p.lastActivity,
		})
	}
	return views
}

// recipients snapshots the transports to deliver a frame to, assigning the
// frame's room sequence number. Sends happen outside the lock.
func (r *Room) recipients(exclude string) ([]recipient, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	out := make([]recipient, 0, len(r.participants))
	for _, p := range r.participants {
		if p.id == exclude {
			continue
		}
		out = append(out, recipient{id: p.id, transport: p.transport})
	}
	return out, r.nextSeq
}

// transportOf returns the transport of one participant, for directed sends.
func (r *Room) transportOf(userID string) (Transport, int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return nil, 0, false
	}
	r.nextSeq++
	return p.transport, r.nextSeq, true
}

type recipient struct {
	id        string
	transport Transport
}

// counts returns participant totals under the lock.
func (r *Room) counts() (total, humans, agents int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.kind == KindHuman {
			humans++
		} else {
			agents++
		}
	}
	return len(r.participants), humans, agents
}

// empty reports whether the room has no participants.
func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// stateView returns the current conversation state and speaker.
func (r *Room) stateView() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.currentSpeaker
}
