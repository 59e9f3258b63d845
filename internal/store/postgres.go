package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadline-ai/leadline/internal/metrics"
	"github.com/leadline-ai/leadline/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		notes TEXT NOT NULL DEFAULT '',
		last_contact TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS scheduled_meetings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		lead_id UUID NOT NULL REFERENCES leads(id),
		meeting_room_id TEXT UNIQUE NOT NULL,
		organizer_email TEXT NOT NULL DEFAULT '',
		scheduled_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		ai_joined_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS participant_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		meeting_room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversation_events (
		id TEXT PRIMARY KEY,
		meeting_id UUID NOT NULL REFERENCES scheduled_meetings(id),
		speaker_type TEXT NOT NULL,
		speaker_id TEXT NOT NULL DEFAULT '',
		message_text TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS meeting_analyses (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		meeting_id UUID UNIQUE NOT NULL REFERENCES scheduled_meetings(id),
		lead_id UUID NOT NULL REFERENCES leads(id),
		analysis_data JSONB NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		lead_score_before INTEGER NOT NULL DEFAULT 0,
		lead_score_after INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_meetings_room ON scheduled_meetings(meeting_room_id);
	CREATE INDEX IF NOT EXISTS idx_meetings_status ON scheduled_meetings(status, scheduled_time);
	CREATE INDEX IF NOT EXISTS idx_events_meeting ON conversation_events(meeting_id, ts);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observePostgres(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// CreateLead creates a new lead record.
func (s *PostgresStore) CreateLead(ctx context.Context, userID, name, company, industry, email string) (*models.Lead, error) {
	defer observePostgres(time.Now())
	lead := &models.Lead{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (user_id, name, company, industry, email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, name, company, industry, email, score, status, notes, last_contact, created_at, updated_at
	`, userID, name, company, industry, email).Scan(
		&lead.ID, &lead.UserID, &lead.Name, &lead.Company, &lead.Industry, &lead.Email,
		&lead.Score, &lead.Status, &lead.Notes, &lead.LastContact, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// GetLead retrieves a lead by ID. Returns nil when not found.
func (s *PostgresStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	defer observePostgres(time.Now())
	lead := &models.Lead{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, company, industry, email, score, status, notes, last_contact, created_at, updated_at
		FROM leads WHERE id = $1
	`, id).Scan(
		&lead.ID, &lead.UserID, &lead.Name, &lead.Company, &lead.Industry, &lead.Email,
		&lead.Score, &lead.Status, &lead.Notes, &lead.LastContact, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return lead, nil
}

// ListLeads retrieves a user's leads with pagination.
func (s *PostgresStore) ListLeads(ctx context.Context, userID string, limit, offset int) ([]models.Lead, int, error) {
	defer observePostgres(time.Now())
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, company, industry, email, score, status, notes, last_contact, created_at, updated_at
		FROM leads
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		var lead models.Lead
		if err := rows.Scan(
			&lead.ID, &lead.UserID, &lead.Name, &lead.Company, &lead.Industry, &lead.Email,
			&lead.Score, &lead.Status, &lead.Notes, &lead.LastContact, &lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	return leads, total, nil
}

// UpdateLeadFromAnalysis applies the post-meeting score, status and notes.
func (s *PostgresStore) UpdateLeadFromAnalysis(ctx context.Context, id string, score int, status, notes string) error {
	defer observePostgres(time.Now())
	_, err := s.pool.Exec(ctx, `
		UPDATE leads
		SET score = $2, status = $3, notes = $4, last_contact = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, score, status, notes)
	return err
}

// CreateMeeting schedules a new meeting against a lead.
func (s *PostgresStore) CreateMeeting(ctx context.Context, userID string, leadID uuid.UUID, roomID, organizerEmail string, scheduledTime time.Time) (*models.ScheduledMeeting, error) {
	defer observePostgres(time.Now())
	m := &models.ScheduledMeeting{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_meetings (user_id, lead_id, meeting_room_id, organizer_email, scheduled_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
	`, userID, leadID, roomID, organizerEmail, scheduledTime).Scan(
		&m.ID, &m.UserID, &m.LeadID, &m.RoomID, &m.ScheduledTime, &m.Status,
		&m.AgentJoinedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMeeting retrieves a meeting by ID. Returns nil when not found.
func (s *PostgresStore) GetMeeting(ctx context.Context, id string) (*models.ScheduledMeeting, error) {
	defer observePostgres(time.Now())
	return s.getMeeting(ctx, `id = $1`, id)
}

// GetMeetingByRoomID retrieves a meeting by its room ID. Returns nil when
// not found.
func (s *PostgresStore) GetMeetingByRoomID(ctx context.Context, roomID string) (*models.ScheduledMeeting, error) {
	defer observePostgres(time.Now())
	return s.getMeeting(ctx, `meeting_room_id = $1`, roomID)
}

func (s *PostgresStore) getMeeting(ctx context.Context, where string, arg any) (*models.ScheduledMeeting, error) {
	m := &models.ScheduledMeeting{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings WHERE `+where,
		arg).Scan(
		&m.ID, &m.UserID, &m.LeadID, &m.RoomID, &m.ScheduledTime, &m.Status,
		&m.AgentJoinedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListMeetings retrieves a user's meetings, optionally filtered by status.
func (s *PostgresStore) ListMeetings(ctx context.Context, userID string, status models.MeetingStatusValue, limit, offset int) ([]models.ScheduledMeeting, int, error) {
	defer observePostgres(time.Now())
	where := `user_id = $1`
	args := []any{userID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_meetings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings
		WHERE ` + where + `
		ORDER BY scheduled_time DESC`
	args = append(args, limit, offset)
	if status != "" {
		query += ` LIMIT $3 OFFSET $4`
	} else {
		query += ` LIMIT $2 OFFSET $3`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return scanMeetings(rows, total)
}

// ListPendingMeetings retrieves scheduled meetings due before the horizon,
// used to re-arm auto-join timers after a restart.
func (s *PostgresStore) ListPendingMeetings(ctx context.Context, horizon time.Time) ([]models.ScheduledMeeting, error) {
	defer observePostgres(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, lead_id, meeting_room_id, scheduled_time, status, ai_joined_at, completed_at, created_at, updated_at
		FROM scheduled_meetings
		WHERE status = 'scheduled' AND scheduled_time <= $1
		ORDER BY scheduled_time ASC
	`, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meetings, _, err := scanMeetings(rows, 0)
	return meetings, err
}

func scanMeetings(rows pgx.Rows, total int) ([]models.ScheduledMeeting, int, error) {
	var meetings []models.ScheduledMeeting
	for rows.Next() {
		var m models.ScheduledMeeting
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.LeadID, &m.RoomID, &m.ScheduledTime, &m.Status,
			&m.AgentJoinedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		meetings = append(meetings, m)
	}
	return meetings, total, nil
}

// UpdateMeetingStatus transitions a meeting's lifecycle status. The agent
// join and completion timestamps are stamped on the matching transitions.
func (s *PostgresStore) UpdateMeetingStatus(ctx context.Context, id string, status models.MeetingStatusValue) error {
	defer observePostgres(time.Now())
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_meetings
		SET status = $2,
		    ai_joined_at = CASE WHEN $2 = 'active' AND ai_joined_at IS NULL THEN NOW() ELSE ai_joined_at END,
		    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, status)
	return err
}

// GetMeetingOwnerEmail returns the organizer email recorded for a meeting.
func (s *PostgresStore) GetMeetingOwnerEmail(ctx context.Context, meetingID string) (string, error) {
	defer observePostgres(time.Now())
	var email string
	err := s.pool.QueryRow(ctx, `
		SELECT organizer_email FROM scheduled_meetings WHERE id = $1
	`, meetingID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return email, nil
}

// RecordParticipantEvent writes a join/leave row for a room participant.
func (s *PostgresStore) RecordParticipantEvent(ctx context.Context, roomID, userID, action string) error {
	defer observePostgres(time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participant_events (meeting_room_id, user_id, action)
		VALUES ($1, $2, $3)
	`, roomID, userID, action)
	return err
}

// AppendConversationEvent persists one conversation turn.
func (s *PostgresStore) AppendConversationEvent(ctx context.Context, ev *models.ConversationEvent) error {
	defer observePostgres(time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_events (id, meeting_id, speaker_type, speaker_id, message_text, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.MeetingID, ev.Speaker, ev.SpeakerID, ev.Text, ev.Timestamp)
	return err
}

// ListConversationEvents retrieves a meeting's turns in chronological order.
func (s *PostgresStore) ListConversationEvents(ctx context.Context, meetingID string) ([]models.ConversationEvent, error) {
	defer observePostgres(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT id, meeting_id, speaker_type, speaker_id, message_text, ts
		FROM conversation_events
		WHERE meeting_id = $1
		ORDER BY ts ASC, id ASC
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ConversationEvent
	for rows.Next() {
		var ev models.ConversationEvent
		if err := rows.Scan(&ev.ID, &ev.MeetingID, &ev.Speaker, &ev.SpeakerID, &ev.Text, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// SaveMeetingAnalysis persists the post-meeting analysis. Re-running the
// pipeline for the same meeting overwrites the previous record.
func (s *PostgresStore) SaveMeetingAnalysis(ctx context.Context, ma *models.MeetingAnalysis) error {
	defer observePostgres(time.Now())
	data, err := json.Marshal(ma.Analysis)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO meeting_analyses (meeting_id, lead_id, analysis_data, transcript, lead_score_before, lead_score_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (meeting_id) DO UPDATE SET
			analysis_data = EXCLUDED.analysis_data,
			transcript = EXCLUDED.transcript,
			lead_score_before = EXCLUDED.lead_score_before,
			lead_score_after = EXCLUDED.lead_score_after
	`, ma.MeetingID, ma.LeadID, data, ma.Transcript, ma.LeadScoreBefore, ma.LeadScoreAfter)
	return err
}

// GetMeetingAnalysis retrieves the analysis for a meeting. Returns nil when
// not found.
func (s *PostgresStore) GetMeetingAnalysis(ctx context.Context, meetingID string) (*models.MeetingAnalysis, error) {
	defer observePostgres(time.Now())
	ma := &models.MeetingAnalysis{}
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, meeting_id, lead_id, analysis_data, transcript, lead_score_before, lead_score_after, created_at
		FROM meeting_analyses WHERE meeting_id = $1
	`, meetingID).Scan(
		&ma.ID, &ma.MeetingID, &ma.LeadID, &data, &ma.Transcript,
		&ma.LeadScoreBefore, &ma.LeadScoreAfter, &ma.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &ma.Analysis); err != nil {
		return nil, err
	}
	return ma, nil
}
