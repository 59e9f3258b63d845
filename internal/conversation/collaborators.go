package conversation

import (
	"context"

	"github.com/leadline-ai/leadline/internal/models"
)

// QuestionGenerator produces discovery questions for a lead. Implementations
// may fail; the orchestrator substitutes the built-in default list.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, lead *models.Lead) ([]string, error)
	NextQuestion(ctx context.Context, history []Turn, lead *models.Lead) (string, error)
}

// Analyzer turns a finished conversation into structured insights.
// Failures are absorbed with a heuristic fallback summary.
type Analyzer interface {
	Analyze(ctx context.Context, history []Turn, lead *models.Lead) (*models.Analysis, error)
}

// Speech synthesizes agent speech. A nil or failing implementation degrades
// agent messages to text-only frames.
type Speech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Store is the persistence collaborator boundary: append-only conversation
// events plus post-meeting writes. All calls are fire-and-forget from the
// orchestrator's perspective; failures are logged, never retried
// synchronously, and never surface into the live conversation.
type Store interface {
	GetMeeting(ctx context.Context, meetingID string) (*models.ScheduledMeeting, error)
	GetLead(ctx context.Context, leadID string) (*models.Lead, error)
	AppendConversationEvent(ctx context.Context, ev *models.ConversationEvent) error
	SaveMeetingAnalysis(ctx context.Context, ma *models.MeetingAnalysis) error
	UpdateMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatusValue) error
	UpdateLeadFromAnalysis(ctx context.Context, leadID string, score int, status, notes string) error
	GetMeetingOwnerEmail(ctx context.Context, meetingID string) (string, error)
}

// Notifier dispatches best-effort post-meeting email.
type Notifier interface {
	SendMeetingSummary(ctx context.Context, to string, meeting *models.ScheduledMeeting, lead *models.Lead, analysis *models.Analysis, transcript string) error
	SendFollowUpQuestions(ctx context.Context, to string, lead *models.Lead, questions []string) error
}

// DefaultQuestions is the fixed fallback list used when the generation
// collaborator is unavailable.
func DefaultQuestions() []string {
	return []string{
		"Can you tell me about your company and what you do?",
		"What are the main challenges you're facing in your business right now?",
		"How are you currently handling these challenges?",
		"What would an ideal solution look like for you?",
		"What's your timeline for making a decision on this?",
		"Who else would be involved in the decision-making process?",
		"What budget range are you working with for this project?",
	}
}

// fallbackFollowUp is the question used when the generation collaborator
// cannot produce a contextual follow-up.
const fallbackFollowUp = "Can you tell me more about your current challenges?"
