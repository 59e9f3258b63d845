package rooms

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/models"
)

// captureTransport records every frame sent to it.
type captureTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func (t *captureTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("broken pipe")
	}
	t.frames = append(t.frames, data)
	return nil
}

func (t *captureTransport) Close(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func (t *captureTransport) last(tb testing.TB) *models.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.frames) == 0 {
		tb.Fatal("no frames received")
	}
	var env models.Envelope
	if err := json.Unmarshal(t.frames[len(t.frames)-1], &env); err != nil {
		tb.Fatal(err)
	}
	return &env
}

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestJoinCreatesRoom(t *testing.T) {
	g := newTestRegistry()

	if err := g.Join("r1", "u1", &captureTransport{}, KindHuman, true); err != nil {
		t.Fatal(err)
	}
	if !g.RoomExists("r1") {
		t.Fatal("room should exist after first join")
	}
	if got, ok := g.RoomOf("u1"); !ok || got != "r1" {
		t.Fatalf("expected u1 in r1, got %q", got)
	}
}

func TestRoomCapacity(t *testing.T) {
	g := newTestRegistry()
	g.CreateRoom("r1", 2)

	if err := g.Join("r1", "u1", &captureTransport{}, KindHuman, false); err != nil {
		t.Fatal(err)
	}
	if err := g.Join("r1", "u2", &captureTransport{}, KindHuman, false); err != nil {
		t.Fatal(err)
	}
	if err := g.Join("r1", "u3", &captureTransport{}, KindHuman, false); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	// The failed join must not disturb existing membership.
	if got := len(g.Participants("r1")); got != 2 {
		t.Fatalf("expected 2 participants, got %d", got)
	}
	if _, ok := g.RoomOf("u3"); ok {
		t.Fatal("u3 should not be registered anywhere")
	}

	// u3 can join once a slot frees up.
	g.Leave("u1")
	if err := g.Join("r1", "u3", &captureTransport{}, KindHuman, false); err != nil {
		t.Fatal(err)
	}
}

func TestJoinEvictsPreviousRoom(t *testing.T) {
	g := newTestRegistry()
	g.SetGracePeriod(30 * time.Millisecond)
	old := &captureTransport{}
	g.Join("r1", "u1", old, KindHuman, false)

	if err := g.Join("r2", "u1", &captureTransport{}, KindHuman, false); err != nil {
		t.Fatal(err)
	}
	if got, ok := g.RoomOf("u1"); !ok || got != "r2" {
		t.Fatalf("expected u1 in r2, got %q", got)
	}
	if got := len(g.Participants("r1")); got != 0 {
		t.Fatalf("stale membership must be removed from r1, got %d participants", got)
	}

	// Broadcasts no longer reach the abandoned transport.
	g.Broadcast("r1", &models.Envelope{Type: models.TypeAgentMessage, Text: "x"}, "")
	if old.count() != 0 {
		t.Fatal("old transport must not receive r1 broadcasts")
	}

	// The emptied room runs its grace-period destruction.
	deadline := time.Now().Add(time.Second)
	for g.RoomExists("r1") {
		if time.Now().After(deadline) {
			t.Fatal("emptied room should be destroyed after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	g := newTestRegistry()
	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)

	if !g.Leave("u1") {
		t.Fatal("first leave should report removal")
	}
	if g.Leave("u1") {
		t.Fatal("second leave should be a no-op")
	}
	if g.Leave("never-joined") {
		t.Fatal("leaving an unknown participant should be a no-op")
	}
}

func TestBroadcastExcludesSenderAndStamps(t *testing.T) {
	g := newTestRegistry()
	t1 := &captureTransport{}
	t2 := &captureTransport{}
	g.Join("r1", "u1", t1, KindHuman, false)
	g.Join("r1", "u2", t2, KindHuman, false)

	g.Broadcast("r1", &models.Envelope{Type: models.TypeConversationMessage, FromUser: "u1", Text: "hi"}, "u1")

	if t1.count() != 0 {
		t.Fatal("sender should be excluded from broadcast")
	}
	env := t2.last(t)
	if env.RoomID != "r1" {
		t.Fatalf("expected room id stamped, got %q", env.RoomID)
	}
	if env.Timestamp == "" {
		t.Fatal("expected timestamp stamped")
	}
	if env.SequenceNumber == 0 {
		t.Fatal("expected sequence number assigned")
	}
}

func TestBroadcastSequenceMonotonic(t *testing.T) {
	g := newTestRegistry()
	t1 := &captureTransport{}
	g.Join("r1", "u1", t1, KindHuman, false)

	g.Broadcast("r1", &models.Envelope{Type: models.TypeAgentMessage, Text: "a"}, "")
	g.Broadcast("r1", &models.Envelope{Type: models.TypeAgentMessage, Text: "b"}, "")

	var first, second models.Envelope
	if err := json.Unmarshal(t1.frames[0], &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(t1.frames[1], &second); err != nil {
		t.Fatal(err)
	}
	if second.SequenceNumber <= first.SequenceNumber {
		t.Fatalf("sequence numbers must increase: %d then %d", first.SequenceNumber, second.SequenceNumber)
	}
}

func TestBroadcastDropsFailedTransport(t *testing.T) {
	g := newTestRegistry()
	good := &captureTransport{}
	bad := &captureTransport{fail: true}
	g.Join("r1", "u1", good, KindHuman, false)
	g.Join("r1", "u2", bad, KindHuman, false)

	g.Broadcast("r1", &models.Envelope{Type: models.TypeAgentMessage, Text: "x"}, "")

	if _, ok := g.RoomOf("u2"); ok {
		t.Fatal("participant with failing transport should be removed")
	}
	if _, ok := g.RoomOf("u1"); !ok {
		t.Fatal("healthy participant should remain")
	}
}

func TestSendToUnknownTarget(t *testing.T) {
	g := newTestRegistry()
	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)

	err := g.SendTo("r1", "ghost", &models.Envelope{Type: models.TypeOffer, SDP: "v=0"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := g.SendTo("nope", "u1", &models.Envelope{Type: models.TypeOffer, SDP: "v=0"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown room, got %v", err)
	}
}

func TestGracePeriodDestroy(t *testing.T) {
	g := newTestRegistry()
	g.SetGracePeriod(30 * time.Millisecond)
	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)

	g.Leave("u1")
	if !g.RoomExists("r1") {
		t.Fatal("room should survive until the grace period elapses")
	}

	deadline := time.Now().Add(time.Second)
	for g.RoomExists("r1") {
		if time.Now().After(deadline) {
			t.Fatal("room should be destroyed after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDestroyHookFires(t *testing.T) {
	g := newTestRegistry()
	g.SetGracePeriod(20 * time.Millisecond)

	var mu sync.Mutex
	var destroyed []string
	g.OnDestroy(func(roomID string) {
		mu.Lock()
		destroyed = append(destroyed, roomID)
		mu.Unlock()
	})

	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)
	g.Leave("u1")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(destroyed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("destroy hook never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(destroyed) != 1 || destroyed[0] != "r1" {
		t.Fatalf("hook should fire once for r1, got %v", destroyed)
	}
}

func TestRejoinCancelsDestroy(t *testing.T) {
	g := newTestRegistry()
	g.SetGracePeriod(50 * time.Millisecond)
	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)
	g.Leave("u1")

	// Rejoin within the grace period keeps the room alive.
	if err := g.Join("r1", "u2", &captureTransport{}, KindHuman, false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if !g.RoomExists("r1") {
		t.Fatal("rejoin should cancel pending destruction")
	}
}

func TestFirstHumanHook(t *testing.T) {
	g := newTestRegistry()
	var mu sync.Mutex
	var fired []string
	g.OnFirstHuman(func(roomID string) {
		mu.Lock()
		fired = append(fired, roomID)
		mu.Unlock()
	})

	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)
	g.Join("r1", "u2", &captureTransport{}, KindHuman, false)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "r1" {
		t.Fatalf("hook should fire once for the first human, got %v", fired)
	}
}

func TestHumanAndAgentCounts(t *testing.T) {
	g := newTestRegistry()
	g.Join("r1", "u1", &captureTransport{}, KindHuman, false)

	if !g.HasHumans("r1") {
		t.Fatal("expected humans present")
	}
	if g.AgentPresent("r1") {
		t.Fatal("no agent joined yet")
	}

	g.Join("r1", "ai-assistant-r1", NewNullTransport(), KindAgent, false)
	if !g.AgentPresent("r1") {
		t.Fatal("expected agent present")
	}
}
