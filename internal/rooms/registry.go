package rooms

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/metrics"
	"github.com/leadline-ai/leadline/internal/models"
)

// ErrRoomFull is returned when a join would exceed the room's capacity.
// The room's participant set is unchanged by the failed attempt.
var ErrRoomFull = errors.New("room is full")

// ErrNotFound is returned for operations against unknown rooms or targets.
var ErrNotFound = errors.New("not found")

// DefaultGracePeriod is how long an empty room survives before destruction.
const DefaultGracePeriod = 5 * time.Minute

// Registry owns all live room and participant state. It is the sole mutator
// of that state; callers only ever receive immutable snapshots.
type Registry struct {
	mu              sync.RWMutex
	rooms           map[string]*Room
	participantRoom map[string]string
	destroyTimers   map[string]*time.Timer

	gracePeriod time.Duration
	defaultCap  int
	logger      zerolog.Logger

	// onFirstHuman fires when the first human joins a room that has no agent
	// participant yet. The scheduler uses it to consider agent auto-join.
	onFirstHuman func(roomID string)

	// onDestroy fires after grace-period destruction removes a room, so
	// per-room caches tied to its lifetime can be released.
	onDestroy func(roomID string)
}

// NewRegistry creates an empty room registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:           make(map[string]*Room),
		participantRoom: make(map[string]string),
		destroyTimers:   make(map[string]*time.Timer),
		gracePeriod:     DefaultGracePeriod,
		logger:          logger.With().Str("component", "rooms").Logger(),
	}
}

// SetGracePeriod overrides the empty-room destruction delay.
func (g *Registry) SetGracePeriod(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gracePeriod = d
}

// SetDefaultCapacity overrides the capacity applied to rooms created without
// an explicit limit.
func (g *Registry) SetDefaultCapacity(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultCap = n
}

// OnFirstHuman registers the scheduler hook invoked when the first human
// participant joins an agent-less room.
func (g *Registry) OnFirstHuman(fn func(roomID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFirstHuman = fn
}

// OnDestroy registers a hook invoked after a room is destroyed at the end of
// its grace period.
func (g *Registry) OnDestroy(fn func(roomID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDestroy = fn
}

// CreateRoom creates a room or returns the existing one. Idempotent.
func (g *Registry) CreateRoom(roomID string, maxParticipants int) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[roomID]; ok {
		return room
	}
	if maxParticipants <= 0 {
		maxParticipants = g.defaultCap
	}
	room := newRoom(roomID, maxParticipants)
	g.rooms[roomID] = room
	metrics.RoomsActive.Inc()
	g.logger.Info().Str("room_id", roomID).Int("max_participants", room.maxParticipants).Msg("room created")
	return room
}

// Join registers a participant in a room, creating the room on first join.
// Returns ErrRoomFull when the room is at capacity. Joining cancels any
// pending destruction of the room.
func (g *Registry) Join(roomID, userID string, t Transport, kind Kind, isOrganizer bool) error {
	// An endpoint lives in exactly one room at a time. A join while still
	// registered elsewhere evicts the stale membership first, so the old
	// room can empty out and broadcasts stop targeting the dead transport.
	if prev, ok := g.RoomOf(userID); ok && prev != roomID {
		g.Leave(userID)
	}

	room := g.CreateRoom(roomID, 0)

	now := time.Now()
	p := &participant{
		id:           userID,
		kind:         kind,
		transport:    t,
		isOrganizer:  isOrganizer,
		audioEnabled: true,
		joinedAt:     now,
		lastActivity: now,
	}
	if !room.add(p) {
		return ErrRoomFull
	}

	g.mu.Lock()
	g.participantRoom[userID] = roomID
	if timer, ok := g.destroyTimers[roomID]; ok {
		timer.Stop()
		delete(g.destroyTimers, roomID)
	}
	hook := g.onFirstHuman
	g.mu.Unlock()

	metrics.ParticipantsJoined.WithLabelValues(string(kind)).Inc()
	g.logger.Info().Str("room_id", roomID).Str("user_id", userID).Str("kind", string(kind)).Msg("participant joined")

	_, humans, agents := room.counts()
	if hook != nil && kind == KindHuman && humans == 1 && agents == 0 {
		hook(roomID)
	}
	return nil
}

// Leave removes a participant from its room. Idempotent: unknown participant
// ids are a no-op returning false. When the room becomes empty, the
// grace-period destruction countdown starts.
func (g *Registry) Leave(userID string) bool {
	g.mu.Lock()
	roomID, ok := g.participantRoom[userID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.participantRoom, userID)
	room := g.rooms[roomID]
	g.mu.Unlock()

	if room == nil || !room.remove(userID) {
		return false
	}
	g.logger.Info().Str("room_id", roomID).Str("user_id", userID).Msg("participant left")

	if room.empty() {
		g.armDestroy(roomID)
	}
	return true
}

// armDestroy schedules room destruction after the grace period. A later join
// cancels the timer; destruction re-checks emptiness before deleting.
func (g *Registry) armDestroy(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.destroyTimers[roomID]; ok {
		return
	}
	grace := g.gracePeriod
	g.destroyTimers[roomID] = time.AfterFunc(grace, func() {
		g.mu.Lock()
		delete(g.destroyTimers, roomID)
		destroyed := false
		room, ok := g.rooms[roomID]
		if ok && room.empty() {
			delete(g.rooms, roomID)
			destroyed = true
			metrics.RoomsActive.Dec()
			g.logger.Info().Str("room_id", roomID).Msg("room destroyed after grace period")
		}
		hook := g.onDestroy
		g.mu.Unlock()

		if destroyed && hook != nil {
			hook(roomID)
		}
	})
}

// room looks up a live room.
func (g *Registry) room(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// RoomExists reports whether a room is currently live.
func (g *Registry) RoomExists(roomID string) bool {
	return g.room(roomID) != nil
}

// SetVoiceActivity applies a voice-activity flip and returns the resulting
// room-wide conversation state and current speaker for broadcast.
func (g *Registry) SetVoiceActivity(userID string, active bool) (State, string, bool) {
	g.mu.RLock()
	roomID, ok := g.participantRoom[userID]
	room := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok || room == nil {
		return "", "", false
	}
	return room.setVoiceActivity(userID, active)
}

// SetAudioEnabled flips a participant's audio flag.
func (g *Registry) SetAudioEnabled(userID string, enabled bool) bool {
	g.mu.RLock()
	roomID, ok := g.participantRoom[userID]
	room := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok || room == nil {
		return false
	}
	return room.setAudioEnabled(userID, enabled)
}

// Broadcast delivers a frame to every participant in a room except the
// excluded one. Transports whose send fails are treated as disconnected and
// removed best-effort; a late broadcast to a destroyed room is dropped.
func (g *Registry) Broadcast(roomID string, env *models.Envelope, exclude string) {
	room := g.room(roomID)
	if room == nil {
		return
	}

	recipients, seq := room.recipients(exclude)
	env.RoomID = roomID
	env.SequenceNumber = seq
	env.Stamp()

	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error().Err(err).Str("room_id", roomID).Msg("broadcast marshal failed")
		return
	}

	var failed []string
	for _, rcpt := range recipients {
		if err := rcpt.transport.Send(data); err != nil {
			g.logger.Warn().Err(err).Str("room_id", roomID).Str("user_id", rcpt.id).Msg("send failed, dropping participant")
			failed = append(failed, rcpt.id)
		}
	}
	metrics.MessagesBroadcast.WithLabelValues(string(env.Type)).Inc()

	for _, id := range failed {
		g.Leave(id)
	}
}

// SendTo delivers a frame to a single participant in a room.
func (g *Registry) SendTo(roomID, targetID string, env *models.Envelope) error {
	room := g.room(roomID)
	if room == nil {
		return ErrNotFound
	}
	t, seq, ok := room.transportOf(targetID)
	if !ok {
		return ErrNotFound
	}
	env.RoomID = roomID
	env.ToUser = targetID
	env.SequenceNumber = seq
	env.Stamp()

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := t.Send(data); err != nil {
		g.Leave(targetID)
		return err
	}
	return nil
}

// Participants returns a snapshot of a room's members. The snapshot does not
// stay valid across concurrent joins and leaves.
func (g *Registry) Participants(roomID string) []ParticipantView {
	room := g.room(roomID)
	if room == nil {
		return nil
	}
	return room.snapshot()
}

// HasHumans reports whether any human participant is present.
func (g *Registry) HasHumans(roomID string) bool {
	room := g.room(roomID)
	if room == nil {
		return false
	}
	_, humans, _ := room.counts()
	return humans > 0
}

// AgentPresent reports whether the agent participant is in the room.
func (g *Registry) AgentPresent(roomID string) bool {
	room := g.room(roomID)
	if room == nil {
		return false
	}
	_, _, agents := room.counts()
	return agents > 0
}

// RoomState returns the room-wide conversation state and current speaker.
func (g *Registry) RoomState(roomID string) (State, string, bool) {
	room := g.room(roomID)
	if room == nil {
		return "", "", false
	}
	state, speaker := room.stateView()
	return state, speaker, true
}

// RoomOf returns the room id a participant currently belongs to.
func (g *Registry) RoomOf(userID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roomID, ok := g.participantRoom[userID]
	return roomID, ok
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown stops all pending destruction timers.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, timer := range g.destroyTimers {
		timer.Stop()
		delete(g.destroyTimers, id)
	}
}
