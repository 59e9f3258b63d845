package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatusValue is the lifecycle status of a scheduled meeting.
type MeetingStatusValue string

const (
	MeetingScheduled MeetingStatusValue = "scheduled"
	MeetingActive    MeetingStatusValue = "active"
	MeetingCompleted MeetingStatusValue = "completed"
	MeetingCancelled MeetingStatusValue = "cancelled"
)

// ScheduledMeeting is a discovery meeting booked against a lead. The room id
// is generated at creation time and maps 1:1 to the meeting id.
type ScheduledMeeting struct {
	ID            uuid.UUID          `json:"id"`
	UserID        string             `json:"user_id"`
	LeadID        uuid.UUID          `json:"lead_id"`
	RoomID        string             `json:"meeting_room_id"`
	ScheduledTime time.Time          `json:"scheduled_time"`
	Status        MeetingStatusValue `json:"status"`
	AgentJoinedAt *time.Time         `json:"ai_joined_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Lead is the prospect a discovery conversation is held with.
type Lead struct {
	ID          uuid.UUID  `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Company     string     `json:"company"`
	Industry    string     `json:"industry,omitempty"`
	Email       string     `json:"email,omitempty"`
	Score       int        `json:"score"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	LastContact *time.Time `json:"last_contact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ConversationEvent is one spoken or typed turn persisted for a meeting.
type ConversationEvent struct {
	ID        string    `json:"id"` // ULID
	MeetingID uuid.UUID `json:"meeting_id"`
	Speaker   string    `json:"speaker_type"` // "human" or "agent"
	SpeakerID string    `json:"speaker_id,omitempty"`
	Text      string    `json:"message_text"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is the structured outcome of a completed discovery conversation.
type Analysis struct {
	Summary             string   `json:"summary"`
	LeadScore           int      `json:"lead_score"`
	KeyInsights         []string `json:"key_insights"`
	PainPoints          []string `json:"pain_points"`
	Opportunities       []string `json:"opportunities,omitempty"`
	BudgetIndicators    string   `json:"budget_indicators,omitempty"`
	TimelineIndicators  string   `json:"timeline_indicators,omitempty"`
	DecisionMakers      string   `json:"decision_makers,omitempty"`
	NextSteps           []string `json:"next_steps"`
	FollowUpQuestions   []string `json:"follow_up_questions,omitempty"`
	QualificationStatus string   `json:"qualification_status"`
	Notes               string   `json:"notes,omitempty"`
}

// MeetingAnalysis is the persisted record binding an analysis and transcript
// to a completed meeting.
type MeetingAnalysis struct {
	ID              uuid.UUID `json:"id"`
	MeetingID       uuid.UUID `json:"meeting_id"`
	LeadID          uuid.UUID `json:"lead_id"`
	Analysis        Analysis  `json:"analysis_data"`
	Transcript      string    `json:"transcript"`
	LeadScoreBefore int       `json:"lead_score_before"`
	LeadScoreAfter  int       `json:"lead_score_after"`
	CreatedAt       time.Time `json:"created_at"`
}
