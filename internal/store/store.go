package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/models"
)

// DataStore defines the interface for persistent storage of leads, scheduled
// meetings, conversation events and meeting analyses. Both PostgresStore and
// SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Lead operations
	CreateLead(ctx context.Context, userID, name, company, industry, email string) (*models.Lead, error)
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	ListLeads(ctx context.Context, userID string, limit, offset int) ([]models.Lead, int, error)
	UpdateLeadFromAnalysis(ctx context.Context, id string, score int, status, notes string) error

	// Meeting operations
	CreateMeeting(ctx context.Context, userID string, leadID uuid.UUID, roomID, organizerEmail string, scheduledTime time.Time) (*models.ScheduledMeeting, error)
	GetMeeting(ctx context.Context, id string) (*models.ScheduledMeeting, error)
	GetMeetingByRoomID(ctx context.Context, roomID string) (*models.ScheduledMeeting, error)
	ListMeetings(ctx context.Context, userID string, status models.MeetingStatusValue, limit, offset int) ([]models.ScheduledMeeting, int, error)
	ListPendingMeetings(ctx context.Context, horizon time.Time) ([]models.ScheduledMeeting, error)
	UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatusValue) error
	GetMeetingOwnerEmail(ctx context.Context, meetingID string) (string, error)

	// Conversation operations
	RecordParticipantEvent(ctx context.Context, roomID, userID, action string) error
	AppendConversationEvent(ctx context.Context, ev *models.ConversationEvent) error
	ListConversationEvents(ctx context.Context, meetingID string) ([]models.ConversationEvent, error)
	SaveMeetingAnalysis(ctx context.Context, ma *models.MeetingAnalysis) error
	GetMeetingAnalysis(ctx context.Context, meetingID string) (*models.MeetingAnalysis, error)
}
