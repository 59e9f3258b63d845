package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlowState is the conversation state machine's position. States only move
// forward, except the waiting_for_response → prompting → waiting_for_response
// loop driven by the silence monitor.
type FlowState string

const (
	FlowWaiting          FlowState = "waiting"
	FlowAgentSpeaking    FlowState = "ai_speaking"
	FlowAwaitingResponse FlowState = "waiting_for_response"
	FlowUserSpeaking     FlowState = "user_speaking"
	FlowCompleted        FlowState = "completed"
)

// Speaker labels for conversation turns.
const (
	SpeakerHuman = "human"
	SpeakerAgent = "ai"
)

// duplicateWindow is how long an identical re-submission from the same
// speaker is treated as a network retry and dropped.
const duplicateWindow = 2 * time.Second

// Turn is one entry in a conversation's append-only message history.
type Turn struct {
	Speaker   string    `json:"speaker"`
	SpeakerID string    `json:"speaker_id,omitempty"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Flow is the turn-taking state of one discovery conversation, keyed by
// meeting id. All access is serialized by its own lock; the orchestrator is
// the sole mutator.
type Flow struct {
	mu sync.Mutex

	meetingID uuid.UUID
	roomID    string
	lead      Lead

	state         FlowState
	questions     []string
	questionIndex int
	history       []Turn
	lastActivity  time.Time

	// last accepted human submission, for the retry guard. Tracked apart
	// from history because the agent's reply lands there in between.
	lastUserID   string
	lastUserText string
	lastUserAt   time.Time

	silenceTimeout time.Duration
	maxExchanges   int
}

// Lead is the minimal prospect context the flow personalizes messages with.
type Lead struct {
	ID      uuid.UUID
	Name    string
	Company string
}

// NewFlow creates a conversation flow in the waiting state.
func NewFlow(meetingID uuid.UUID, roomID string, lead Lead, silenceTimeout time.Duration, maxExchanges int) *Flow {
	if silenceTimeout <= 0 {
		silenceTimeout = 5 * time.Second
	}
	if maxExchanges <= 0 {
		maxExchanges = 7
	}
	return &Flow{
		meetingID:      meetingID,
		roomID:         roomID,
		lead:           lead,
		state:          FlowWaiting,
		lastActivity:   time.Now(),
		silenceTimeout: silenceTimeout,
		maxExchanges:   maxExchanges,
	}
}

// MeetingID returns the meeting this flow belongs to.
func (f *Flow) MeetingID() uuid.UUID { return f.meetingID }

// RoomID returns the room this flow is bound to.
func (f *Flow) RoomID() string { return f.roomID }

// SetQuestions installs the planned question list and resets history.
func (f *Flow) SetQuestions(questions []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append([]string(nil), questions...)
	f.questionIndex = 0
	f.history = nil
	f.lastUserID = ""
	f.lastUserText = ""
	f.lastUserAt = time.Time{}
}

// Start transitions waiting → ai_speaking and returns the greeting embedding
// the first question. The greeting is appended to history.
func (f *Flow) Start() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = FlowAgentSpeaking
	company := f.lead.Company
	if company == "" {
		company = "your business"
	}
	var opening string
	if len(f.questions) == 0 {
		opening = "Hello! I'd like to learn more about your business needs. Can you tell me about your company?"
	} else {
		opening = fmt.Sprintf("Hello! I'm an AI assistant here to learn more about %s. %s", company, f.questions[0])
	}
	f.appendLocked(SpeakerAgent, "", opening)
	return opening
}

// AppendUser records a human turn and transitions to user_speaking.
// An identical text from the same speaker within the duplicate window is
// treated as a client retry and dropped, returning false.
func (f *Flow) AppendUser(text, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if userID == f.lastUserID && text == f.lastUserText && time.Since(f.lastUserAt) < duplicateWindow {
		return false
	}
	f.lastUserID = userID
	f.lastUserText = text
	f.lastUserAt = time.Now()

	f.state = FlowUserSpeaking
	f.appendLocked(SpeakerHuman, userID, text)
	return true
}

// RecordAgent records an agent turn and transitions to ai_speaking.
func (f *Flow) RecordAgent(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = FlowAgentSpeaking
	f.appendLocked(SpeakerAgent, "", text)
}

// MarkAwaitingResponse moves to waiting_for_response once the agent's message
// has been delivered, resetting the silence clock.
func (f *Flow) MarkAwaitingResponse() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FlowCompleted {
		return
	}
	f.state = FlowAwaitingResponse
	f.lastActivity = time.Now()
}

// ShouldComplete reports whether the exchange budget has been used up.
func (f *Flow) ShouldComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history) >= f.maxExchanges*2
}

// Complete transitions to the terminal state and returns the closing message,
// which is appended to history.
func (f *Flow) Complete() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FlowCompleted {
		return ""
	}
	f.state = FlowCompleted
	closing := "Thank you for sharing all that information with me. Let me analyze what we've discussed and provide you with a summary."
	f.appendLocked(SpeakerAgent, "", closing)
	return closing
}

// Completed reports whether the flow reached its terminal state.
func (f *Flow) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == FlowCompleted
}

// NextPlanned advances the question index and returns the next planned
// question. ok is false once the planned list is exhausted; the caller then
// requests a contextual follow-up from the generation collaborator. The
// index never regresses.
func (f *Flow) NextPlanned() (question string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questionIndex++
	if f.questionIndex < len(f.questions) {
		return f.questions[f.questionIndex], true
	}
	return "", false
}

// ShouldPrompt is true only while waiting for a response and the silence
// timeout has elapsed since the last activity.
func (f *Flow) ShouldPrompt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == FlowAwaitingResponse && time.Since(f.lastActivity) > f.silenceTimeout
}

// Prompt records the gentle re-prompt and resets the silence clock without
// advancing the question index.
func (f *Flow) Prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompt := "I'm here when you're ready to continue. Would you like me to repeat the question?"
	f.appendLocked(SpeakerAgent, "", prompt)
	f.lastActivity = time.Now()
	return prompt
}

// State returns the current flow state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// History returns a copy of the append-only message history.
func (f *Flow) History() []Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Turn(nil), f.history...)
}

// HumanTurns counts the human entries in history.
func (f *Flow) HumanTurns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.history {
		if t.Speaker == SpeakerHuman {
			n++
		}
	}
	return n
}

func (f *Flow) appendLocked(speaker, speakerID, text string) {
	f.history = append(f.history, Turn{
		Speaker:   speaker,
		SpeakerID: speakerID,
		Text:      text,
		Timestamp: time.Now(),
	})
	f.lastActivity = time.Now()
}
