package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/leadline-ai/leadline/internal/models"
)

// SQLiteStore handles SQLite database operations. Used for development and
// single-node deployments where PostgreSQL is not configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/leadline.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/leadline.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		notes TEXT NOT NULL DEFAULT '',
		last_contact DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scheduled_meetings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		lead_id TEXT NOT NULL,
		meeting_room_id TEXT UNIQUE NOT NULL,
		organizer_email TEXT NOT NULL DEFAULT '',
		scheduled_time DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		ai_joined_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS participant_events (
		id TEXT PRIMARY KEY,
		meeting_room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_events (
		id TEXT PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		speaker_type TEXT NOT NULL,
		speaker_id TEXT NOT NULL DEFAULT '',
		message_text TEXT NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meeting_analyses (
		id TEXT PRIMARY KEY,
		meeting_id TEXT UNIQUE NOT NULL,
		lead_id TEXT NOT NULL,
		analysis_data TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		lead_score_before INTEGER NOT NULL DEFAULT 0,
		lead_score_after INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_meetings_room ON scheduled_meetings(meeting_room_id);
	CREATE INDEX IF NOT EXISTS idx_meetings_status ON scheduled_meetings(status, scheduled_time);
	CREATE INDEX IF NOT EXISTS idx_events_meeting ON conversation_events(meeting_id, ts);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateLead creates a new lead record.
func (s *SQLiteStore) CreateLead(ctx context.Context, userID, name, company, industry, email string) (*models.Lead, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, user_id, name, company, industry, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, userID, name, company, industry, email, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetLead(ctx, id)
}

// GetLead retrieves a lead by ID. Returns nil when not found.
func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	lead := &models.Lead{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, company, industry, email, score, status, notes, last_contact, created_at, updated_at
		FROM leads WHERE id = ?
	`, id).Scan(
		&idStr, &lead.UserID, &lead.Name, &lead.Company, &lead.Industry, &lead.Email,
		&lead.Score, &lead.Status, &lead.Notes, &lead.LastContact, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	lead.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// ListLeads retrieves a user's leads with pagination.
func (s *SQLiteStore) ListLeads(ctx context.Context, userID string, limit, offset int) ([]models.Lead, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, company, industry, email, score, status, notes, last_contact, created_at, updated_at
		FROM leads
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		var lead models.Lead
		var idStr string
		if err := rows.Scan(
			&idStr, &lead.UserID, &lead.Name, &lead.Company, &lead.Industry, &lead.Email,
			&lead.Score, &lead.Status, &lead.Notes, &lead.LastContact, &lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		if lead.ID, err = uuid.Parse(idStr); err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	return leads, total, nil
}

// UpdateLeadFromAnalysis applies the post-meeting score, status and notes.
func (s *SQLiteStore) UpdateLeadFromAnalysis(ctx context.Context, id string, score int, status, notes string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET score = ?, status = ?, notes = ?, last_contact = ?, updated_at = ?
		WHERE id = ?
	`, score, status, notes, now, now, id)
	return err
}

// CreateMeeting schedules a new meeting against a lead.
func (s *SQLiteStore) CreateMeeting(ctx context.Context, userID string, leadID uuid.UUID, roomID, organizerEmail string, scheduledTime time.Time) (*models.ScheduledMeeting, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_meetings (id, user_id, lead_id, meeting_room_id, organizer_email, scheduled_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, userID, leadID.String(), roomID, organizerEmail, scheduledTime.UTC(), now, now)
	if err != nil {
		return nil, err
	}

	return s.GetMeeting(ctx, id)
}

// GetMeeting retrieves a meeting by ID. Returns nil when not found.
func (s *SQLiteStore) GetMeeting(ctx context.Context, id string) (*models.ScheduledMeeting, error) {
	return s.getMeeting(ctx, `id = ?`, id)
}

// GetMeetingByRoomID retrieves a meeting by its room ID. Returns nil when
// not found.
func (s *SQLiteStore) GetMeetingByRoomID(ctx context.Context, roomID string) (*models.ScheduledMeeting, error) {
	return s.getMeeting(ctx, `meeting_room_id = ?`, roomID)
}

func (s *SQLiteStore) getMeeting(ctx context.Context, where string, arg any) (*models.ScheduledMeeting, error) {
	m := &models.ScheduledMeeting{}
	var idStr, leadStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings WHERE `+where,
		arg).Scan(
		&idStr, &m.UserID, &leadStr, &m.RoomID, &m.ScheduledTime, &m.Status,
		&m.AgentJoinedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if m.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if m.LeadID, err = uuid.Parse(leadStr); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMeetings retrieves a user's meetings, optionally filtered by status.
func (s *SQLiteStore) ListMeetings(ctx context.Context, userID string, status models.MeetingStatusValue, limit, offset int) ([]models.ScheduledMeeting, int, error) {
	where := `user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_meetings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings
		WHERE `+where+`
		ORDER BY scheduled_time DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	meetings, err := s.scanMeetings(rows)
	if err != nil {
		return nil, 0, err
	}
	return meetings, total, nil
}

// ListPendingMeetings retrieves scheduled meetings due before the horizon,
// used to re-arm auto-join timers after a restart.
func (s *SQLiteStore) ListPendingMeetings(ctx context.Context, horizon time.Time) ([]models.ScheduledMeeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings
		WHERE status = 'scheduled' AND scheduled_time <= ?
		ORDER BY scheduled_time ASC
	`, horizon.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanMeetings(rows)
}

func (s *SQLiteStore) scanMeetings(rows *sql.Rows) ([]models.ScheduledMeeting, error) {
	var meetings []models.ScheduledMeeting
	for rows.Next() {
		var m models.ScheduledMeeting
		var idStr, leadStr string
		if err := rows.Scan(
			&idStr, &m.UserID, &leadStr, &m.RoomID, &m.ScheduledTime, &m.Status,
			&m.AgentJoinedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		var err error
		if m.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if m.LeadID, err = uuid.Parse(leadStr); err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}

// UpdateMeetingStatus transitions a meeting's lifecycle status. The agent
// join and completion timestamps are stamped on the matching transitions.
func (s *SQLiteStore) UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatusValue) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_meetings
		SET status = ?,
		    ai_joined_at = CASE WHEN ? = 'active' AND ai_joined_at IS NULL THEN ? ELSE ai_joined_at END,
		    completed_at = CASE WHEN ? = 'completed' THEN ? ELSE completed_at END,
		    updated_at = ?
		WHERE id = ?
	`, status, status, now, status, now, now, id)
	return err
}

// GetMeetingOwnerEmail returns the organizer email recorded for a meeting.
func (s *SQLiteStore) GetMeetingOwnerEmail(ctx context.Context, meetingID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		SELECT organizer_email FROM scheduled_meetings WHERE id = ?
	`, meetingID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return email, nil
}

// RecordParticipantEvent writes a join/leave row for a room participant.
func (s *SQLiteStore) RecordParticipantEvent(ctx context.Context, roomID, userID, action string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participant_events (id, meeting_room_id, user_id, action, ts)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), roomID, userID, action, time.Now().UTC())
	return err
}

// AppendConversationEvent persists one conversation turn.
func (s *SQLiteStore) AppendConversationEvent(ctx context.Context, ev *models.ConversationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_events (id, meeting_id, speaker_type, speaker_id, message_text, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.MeetingID.String(), ev.Speaker, ev.SpeakerID, ev.Text, ev.Timestamp.UTC())
	return err
}

// ListConversationEvents retrieves a meeting's turns in chronological order.
func (s *SQLiteStore) ListConversationEvents(ctx context.Context, meetingID string) ([]models.ConversationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, meeting_id, speaker_type, speaker_id, message_text, ts
		FROM conversation_events
		WHERE meeting_id = ?
		ORDER BY ts ASC, id ASC
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ConversationEvent
	for rows.Next() {
		var ev models.ConversationEvent
		var meetingStr string
		if err := rows.Scan(&ev.ID, &meetingStr, &ev.Speaker, &ev.SpeakerID, &ev.Text, &ev.Timestamp); err != nil {
			return nil, err
		}
		if ev.MeetingID, err = uuid.Parse(meetingStr); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// SaveMeetingAnalysis persists the post-meeting analysis. Re-running the
// pipeline for the same meeting overwrites the previous record.
func (s *SQLiteStore) SaveMeetingAnalysis(ctx context.Context, ma *models.MeetingAnalysis) error {
	data, err := json.Marshal(ma.Analysis)
	if err != nil {
		return err
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meeting_analyses (id, meeting_id, lead_id, analysis_data, transcript, lead_score_before, lead_score_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (meeting_id) DO UPDATE SET
			analysis_data = excluded.analysis_data,
			transcript = excluded.transcript,
			lead_score_before = excluded.lead_score_before,
			lead_score_after = excluded.lead_score_after
	`, id, ma.MeetingID.String(), ma.LeadID.String(), string(data), ma.Transcript, ma.LeadScoreBefore, ma.LeadScoreAfter)
	return err
}

// GetMeetingAnalysis retrieves the analysis for a meeting. Returns nil when
// not found.
func (s *SQLiteStore) GetMeetingAnalysis(ctx context.Context, meetingID string) (*models.MeetingAnalysis, error) {
	ma := &models.MeetingAnalysis{}
	var idStr, meetingStr, leadStr, data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, meeting_id, lead_id, analysis_data, transcript, lead_score_before, lead_score_after, created_at
		FROM meeting_analyses WHERE meeting_id = ?
	`, meetingID).Scan(
		&idStr, &meetingStr, &leadStr, &data, &ma.Transcript,
		&ma.LeadScoreBefore, &ma.LeadScoreAfter, &ma.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ma.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if ma.MeetingID, err = uuid.Parse(meetingStr); err != nil {
		return nil, err
	}
	if ma.LeadID, err = uuid.Parse(leadStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &ma.Analysis); err != nil {
		return nil, err
	}
	return ma, nil
}
