package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestFlow(t *testing.T) *Flow {
	t.Helper()
	f := NewFlow(uuid.New(), "room1", Lead{Name: "Ada", Company: "Acme"}, 50*time.Millisecond, 7)
	f.SetQuestions(DefaultQuestions())
	return f
}

func TestStartEmbedsFirstQuestion(t *testing.T) {
	f := newTestFlow(t)

	opening := f.Start()
	if !strings.Contains(opening, "Acme") {
		t.Fatalf("opening should mention the company: %q", opening)
	}
	if !strings.Contains(opening, DefaultQuestions()[0]) {
		t.Fatalf("opening should embed the first question: %q", opening)
	}
	if f.State() != FlowAgentSpeaking {
		t.Fatalf("expected ai_speaking, got %s", f.State())
	}
	if len(f.History()) != 1 {
		t.Fatal("opening must be recorded in history")
	}
}

func TestQuestionSequencing(t *testing.T) {
	f := newTestFlow(t)
	f.Start()

	if !f.AppendUser("We build rockets.", "u1") {
		t.Fatal("first answer should be accepted")
	}
	q, ok := f.NextPlanned()
	if !ok {
		t.Fatal("second planned question should exist")
	}
	if q != DefaultQuestions()[1] {
		t.Fatalf("expected question 2, got %q", q)
	}
}

func TestPlannedQuestionsExhaust(t *testing.T) {
	f := NewFlow(uuid.New(), "room1", Lead{}, time.Second, 20)
	f.SetQuestions([]string{"q1", "q2"})
	f.Start()

	if q, ok := f.NextPlanned(); !ok || q != "q2" {
		t.Fatalf("expected q2, got %q ok=%v", q, ok)
	}
	if _, ok := f.NextPlanned(); ok {
		t.Fatal("planned list should be exhausted")
	}
	// The index never regresses: still exhausted.
	if _, ok := f.NextPlanned(); ok {
		t.Fatal("exhausted list must stay exhausted")
	}
}

func TestDuplicateSubmissionDropped(t *testing.T) {
	f := newTestFlow(t)
	f.Start()

	if !f.AppendUser("hello", "u1") {
		t.Fatal("first submission accepted")
	}
	if f.AppendUser("hello", "u1") {
		t.Fatal("identical re-submission within the window must be dropped")
	}
	// A different speaker saying the same thing is not a duplicate.
	if !f.AppendUser("hello", "u2") {
		t.Fatal("same text from another speaker is a real turn")
	}
}

func TestDuplicateDroppedAfterAgentReply(t *testing.T) {
	f := newTestFlow(t)
	f.Start()

	if !f.AppendUser("we ship firmware", "u1") {
		t.Fatal("first submission accepted")
	}
	// The agent answers before the client's retry lands.
	f.RecordAgent("And how large is the team?")

	if f.AppendUser("we ship firmware", "u1") {
		t.Fatal("retry after the agent's reply must still be dropped")
	}
	if got := f.HumanTurns(); got != 1 {
		t.Fatalf("retry must not add a human turn, got %d", got)
	}

	// A genuinely new answer is accepted.
	if !f.AppendUser("around forty people", "u1") {
		t.Fatal("new answer should be accepted")
	}
}

func TestCompletionAfterMaxExchanges(t *testing.T) {
	f := NewFlow(uuid.New(), "room1", Lead{}, time.Second, 2)
	f.SetQuestions([]string{"q1", "q2", "q3"})
	f.Start() // history: 1

	f.AppendUser("a1", "u1") // 2
	if f.ShouldComplete() {
		t.Fatal("one exchange of two should not complete")
	}
	f.RecordAgent("q2")      // 3
	f.AppendUser("a2", "u1") // 4
	if !f.ShouldComplete() {
		t.Fatal("exchange budget used up, should complete")
	}

	closing := f.Complete()
	if closing == "" {
		t.Fatal("closing message expected")
	}
	if !f.Completed() {
		t.Fatal("flow should be terminal")
	}
	if f.Complete() != "" {
		t.Fatal("double completion must be a no-op")
	}
}

func TestShouldPromptOnlyWhileAwaitingResponse(t *testing.T) {
	f := newTestFlow(t)
	f.Start()

	if f.ShouldPrompt() {
		t.Fatal("no prompt while the agent is speaking")
	}

	f.MarkAwaitingResponse()
	if f.ShouldPrompt() {
		t.Fatal("silence timeout has not elapsed yet")
	}

	time.Sleep(70 * time.Millisecond)
	if !f.ShouldPrompt() {
		t.Fatal("prompt expected after silence timeout")
	}

	// Prompting resets the silence clock without changing state.
	prompt := f.Prompt()
	if !strings.Contains(prompt, "repeat the question") {
		t.Fatalf("unexpected prompt text: %q", prompt)
	}
	if f.ShouldPrompt() {
		t.Fatal("prompt just reset the clock")
	}

	// Activity also suppresses prompting.
	f.AppendUser("still here", "u1")
	if f.ShouldPrompt() {
		t.Fatal("no prompt while the user is speaking")
	}
}

func TestHumanTurns(t *testing.T) {
	f := newTestFlow(t)
	f.Start()
	f.AppendUser("a", "u1")
	f.RecordAgent("q")
	f.AppendUser("b", "u1")

	if got := f.HumanTurns(); got != 2 {
		t.Fatalf("expected 2 human turns, got %d", got)
	}
}
