package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/rooms"
)

// testTransport records frames delivered to a fake human participant.
type testTransport struct {
	mu     sync.Mutex
	frames []*models.Envelope
}

func (t *testTransport) Send(data []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	t.mu.Lock()
	t.frames = append(t.frames, &env)
	t.mu.Unlock()
	return nil
}

func (t *testTransport) Close(reason string) {}

// waitFor polls until the predicate finds a matching frame or times out.
func (t *testTransport) waitFor(tb testing.TB, typ models.MessageType) *models.Envelope {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		for _, env := range t.frames {
			if env.Type == typ {
				t.mu.Unlock()
				return env
			}
		}
		t.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("no %s frame arrived", typ)
	return nil
}

// fakeStore records persistence calls.
type fakeStore struct {
	mu       sync.Mutex
	meeting  *models.ScheduledMeeting
	lead     *models.Lead
	events   []*models.ConversationEvent
	statuses []models.MeetingStatusValue
	analysis *models.MeetingAnalysis
	email    string
}

func (s *fakeStore) GetMeeting(ctx context.Context, id string) (*models.ScheduledMeeting, error) {
	return s.meeting, nil
}

func (s *fakeStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	return s.lead, nil
}

func (s *fakeStore) AppendConversationEvent(ctx context.Context, ev *models.ConversationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) SaveMeetingAnalysis(ctx context.Context, ma *models.MeetingAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = ma
	return nil
}

func (s *fakeStore) UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatusValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateLeadFromAnalysis(ctx context.Context, id string, score int, status, notes string) error {
	return nil
}

func (s *fakeStore) GetMeetingOwnerEmail(ctx context.Context, id string) (string, error) {
	return s.email, nil
}

func (s *fakeStore) lastStatus() models.MeetingStatusValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

// fakeQuestions returns a fixed list and a canned follow-up.
type fakeQuestions struct{}

func (fakeQuestions) GenerateQuestions(ctx context.Context, lead *models.Lead) ([]string, error) {
	return []string{"Planned one?", "Planned two?"}, nil
}

func (fakeQuestions) NextQuestion(ctx context.Context, history []Turn, lead *models.Lead) (string, error) {
	return "Generated follow-up?", nil
}

// failingQuestions always errors, forcing the fallback path.
type failingQuestions struct{}

func (failingQuestions) GenerateQuestions(ctx context.Context, lead *models.Lead) ([]string, error) {
	return nil, errors.New("model unavailable")
}

func (failingQuestions) NextQuestion(ctx context.Context, history []Turn, lead *models.Lead) (string, error) {
	return "", errors.New("model unavailable")
}

func testOptions() Options {
	return Options{
		SilenceTimeout:   40 * time.Millisecond,
		ResponseDelay:    time.Millisecond,
		MaxExchanges:     2,
		JoinWaitBound:    200 * time.Millisecond,
		JoinPollInterval: 5 * time.Millisecond,
		MonitorInterval:  10 * time.Millisecond,
	}
}

func testLead() *models.Lead {
	return &models.Lead{ID: uuid.New(), Name: "Ada", Company: "Acme"}
}

func setupMeeting(t *testing.T, store Store, qs QuestionGenerator, opts Options) (*Orchestrator, *testTransport, uuid.UUID) {
	t.Helper()
	registry := rooms.NewRegistry(zerolog.Nop())
	orch := NewOrchestrator(registry, store, qs, nil, nil, nil, opts, zerolog.Nop())
	t.Cleanup(orch.Shutdown)

	human := &testTransport{}
	if err := registry.Join("room1", "human1", human, rooms.KindHuman, true); err != nil {
		t.Fatal(err)
	}

	meetingID := uuid.New()
	if err := orch.JoinMeeting(context.Background(), meetingID, "room1", testLead()); err != nil {
		t.Fatal(err)
	}
	return orch, human, meetingID
}

func TestJoinMeetingOpensConversation(t *testing.T) {
	store := &fakeStore{}
	_, human, _ := setupMeeting(t, store, fakeQuestions{}, testOptions())

	human.waitFor(t, models.TypeAgentJoined)

	opening := human.waitFor(t, models.TypeAgentMessage)
	if !strings.Contains(opening.Text, "Planned one?") {
		t.Fatalf("opening should embed the first question: %q", opening.Text)
	}
	if !strings.Contains(opening.Text, "Acme") {
		t.Fatalf("opening should mention the company: %q", opening.Text)
	}
	if store.lastStatus() != models.MeetingActive {
		t.Fatalf("meeting should be active, got %q", store.lastStatus())
	}
}

func TestJoinMeetingRejectsDuplicate(t *testing.T) {
	orch, _, meetingID := setupMeeting(t, &fakeStore{}, fakeQuestions{}, testOptions())

	if err := orch.JoinMeeting(context.Background(), meetingID, "room1", testLead()); err == nil {
		t.Fatal("second join for the same meeting must fail")
	}
}

func TestJoinMeetingAbandonedWithoutHumans(t *testing.T) {
	registry := rooms.NewRegistry(zerolog.Nop())
	orch := NewOrchestrator(registry, nil, nil, nil, nil, nil, testOptions(), zerolog.Nop())
	defer orch.Shutdown()

	registry.CreateRoom("empty", 0)
	err := orch.JoinMeeting(context.Background(), uuid.New(), "empty", testLead())
	if err == nil {
		t.Fatal("join must be abandoned when no humans arrive")
	}
	if registry.AgentPresent("empty") {
		t.Fatal("agent must not linger in an empty room")
	}
}

func TestProcessUserMessageAdvancesQuestions(t *testing.T) {
	opts := testOptions()
	opts.MaxExchanges = 5
	orch, _, meetingID := setupMeeting(t, &fakeStore{}, fakeQuestions{}, opts)

	reply, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "We build rockets.", "human1")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Planned two?" {
		t.Fatalf("expected second planned question, got %q", reply)
	}

	// Planned list exhausted: the generator supplies a follow-up.
	reply, err = orch.ProcessUserMessage(context.Background(), meetingID, "room1", "Mostly reusable ones.", "human1")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Generated follow-up?" {
		t.Fatalf("expected generated follow-up, got %q", reply)
	}
}

func TestProcessUserMessageDropsDuplicates(t *testing.T) {
	opts := testOptions()
	opts.MaxExchanges = 5
	orch, _, meetingID := setupMeeting(t, &fakeStore{}, fakeQuestions{}, opts)

	if _, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "same text", "human1"); err != nil {
		t.Fatal(err)
	}
	reply, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "same text", "human1")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "" {
		t.Fatalf("duplicate must be dropped silently, got %q", reply)
	}
}

func TestProcessUserMessageUnknownMeeting(t *testing.T) {
	registry := rooms.NewRegistry(zerolog.Nop())
	orch := NewOrchestrator(registry, nil, nil, nil, nil, nil, testOptions(), zerolog.Nop())
	defer orch.Shutdown()

	reply, err := orch.ProcessUserMessage(context.Background(), uuid.New(), "room1", "hello?", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "" {
		t.Fatal("late messages for unknown meetings are dropped, not answered")
	}
}

func TestConversationCompletesAndRunsPipeline(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions()
	opts.SilenceTimeout = time.Minute // keep prompts out of the history
	orch, human, meetingID := setupMeeting(t, store, fakeQuestions{}, opts)

	// MaxExchanges is 2: opening + answer + question + answer fills the budget.
	if _, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "answer one", "human1"); err != nil {
		t.Fatal(err)
	}
	reply, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "answer two", "human1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Thank you for sharing") {
		t.Fatalf("expected closing message, got %q", reply)
	}

	done := human.waitFor(t, models.TypeMeetingCompleted)
	if done.Analysis == nil || done.Summary == "" {
		t.Fatal("completion frame must carry the analysis")
	}

	deadline := time.Now().Add(2 * time.Second)
	for orch.ActiveConversations() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session should be torn down after completion")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.analysis == nil {
		t.Fatal("analysis should be persisted")
	}
	if store.analysis.Transcript == "" {
		t.Fatal("transcript should be rendered and persisted")
	}
	if store.statuses[len(store.statuses)-1] != models.MeetingCompleted {
		t.Fatalf("meeting should end completed, got %v", store.statuses)
	}
}

func TestSilencePromptEmitted(t *testing.T) {
	orch, human, _ := setupMeeting(t, &fakeStore{}, fakeQuestions{}, testOptions())
	defer orch.Shutdown()

	human.waitFor(t, models.TypeAgentMessage)

	deadline := time.Now().Add(2 * time.Second)
	for {
		human.mu.Lock()
		var prompt *models.Envelope
		for _, env := range human.frames {
			if env.IsPrompt {
				prompt = env
			}
		}
		human.mu.Unlock()
		if prompt != nil {
			// Prompts are delivered like any other agent speech.
			if prompt.Type != models.TypeAgentMessage {
				t.Fatalf("expected agent message frame, got %s", prompt.Type)
			}
			if prompt.ConversationState == "" {
				t.Fatal("prompt frame must carry the conversation state")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("silence prompt never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndMeetingGracefully(t *testing.T) {
	store := &fakeStore{}
	orch, _, meetingID := setupMeeting(t, store, fakeQuestions{}, testOptions())

	analysis, err := orch.EndMeetingGracefully(context.Background(), meetingID, "room1")
	if err != nil {
		t.Fatal(err)
	}
	if analysis == nil || analysis.Summary == "" {
		t.Fatal("graceful end must return an analysis")
	}

	if _, err := orch.EndMeetingGracefully(context.Background(), uuid.New(), "room1"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestFallbackQuestionsOnGeneratorFailure(t *testing.T) {
	opts := testOptions()
	opts.MaxExchanges = 10
	orch, human, meetingID := setupMeeting(t, &fakeStore{}, failingQuestions{}, opts)

	opening := human.waitFor(t, models.TypeAgentMessage)
	if !strings.Contains(opening.Text, DefaultQuestions()[0]) {
		t.Fatalf("opening should fall back to the default list: %q", opening.Text)
	}

	reply, err := orch.ProcessUserMessage(context.Background(), meetingID, "room1", "an answer", "human1")
	if err != nil {
		t.Fatal(err)
	}
	if reply != DefaultQuestions()[1] {
		t.Fatalf("expected default question 2, got %q", reply)
	}
}

func TestScheduleAutoJoinAndAnnounce(t *testing.T) {
	registry := rooms.NewRegistry(zerolog.Nop())
	orch := NewOrchestrator(registry, nil, fakeQuestions{}, nil, nil, nil, testOptions(), zerolog.Nop())
	defer orch.Shutdown()
	registry.OnFirstHuman(orch.AnnouncePendingJoin)

	meetingID := uuid.New()
	orch.ScheduleAutoJoin(meetingID, time.Now().Add(time.Hour), "room9", testLead())

	human := &testTransport{}
	if err := registry.Join("room9", "human1", human, rooms.KindHuman, true); err != nil {
		t.Fatal(err)
	}
	status := human.waitFor(t, models.TypeMeetingStatus)
	if !strings.Contains(status.Text, "join shortly") {
		t.Fatalf("unexpected announcement: %q", status.Text)
	}

	orch.CancelAutoJoin(meetingID)
}

func TestScheduleAutoJoinFires(t *testing.T) {
	registry := rooms.NewRegistry(zerolog.Nop())
	orch := NewOrchestrator(registry, nil, fakeQuestions{}, nil, nil, nil, testOptions(), zerolog.Nop())
	defer orch.Shutdown()

	human := &testTransport{}
	if err := registry.Join("room2", "human1", human, rooms.KindHuman, true); err != nil {
		t.Fatal(err)
	}

	orch.ScheduleAutoJoin(uuid.New(), time.Now().Add(10*time.Millisecond), "room2", testLead())

	human.waitFor(t, models.TypeAgentJoined)
	if !registry.AgentPresent("room2") {
		t.Fatal("agent should be in the room after the scheduled join")
	}
}
