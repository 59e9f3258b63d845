package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/metrics"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/rooms"
)

// ErrNoConversation is returned when no active flow exists for a meeting.
var ErrNoConversation = errors.New("no active conversation")

// maxResponseDelay bounds the natural pacing delay regardless of text length.
const maxResponseDelay = 5 * time.Second

// Options tunes the orchestrator's timing behavior.
type Options struct {
	SilenceTimeout   time.Duration // silence before a re-prompt (default 5s)
	ResponseDelay    time.Duration // base pacing before agent replies (default 2s)
	MaxExchanges     int           // question/answer pairs before completion (default 7)
	JoinWaitBound    time.Duration // wait for humans before abandoning (default 10m)
	JoinPollInterval time.Duration // human-presence poll interval (default 5s)
	MonitorInterval  time.Duration // conversation monitor tick (default 2s)
}

func (o *Options) fill() {
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 5 * time.Second
	}
	if o.ResponseDelay <= 0 {
		o.ResponseDelay = 2 * time.Second
	}
	if o.MaxExchanges <= 0 {
		o.MaxExchanges = 7
	}
	if o.JoinWaitBound <= 0 {
		o.JoinWaitBound = 10 * time.Minute
	}
	if o.JoinPollInterval <= 0 {
		o.JoinPollInterval = 5 * time.Second
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 2 * time.Second
	}
}

// session is the orchestrator's bookkeeping for one active meeting: the flow,
// its lead context, the agent's registry identity, and the cancel handle for
// its background tasks. Destroyed alongside the conversation.
type session struct {
	flow    *Flow
	lead    *models.Lead
	meeting *models.ScheduledMeeting
	agentID string
	cancel  context.CancelFunc
}

// Orchestrator drives the agent's side of discovery conversations: question
// sequencing, silence prompts, completion, scheduled auto-join, and the
// post-meeting pipeline. It is the sole mutator of conversation-flow state.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	joins    map[uuid.UUID]*scheduledJoin

	registry  *rooms.Registry
	store     Store
	questions QuestionGenerator
	analyzer  Analyzer
	tts       Speech
	notifier  Notifier

	opts   Options
	logger zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
}

// NewOrchestrator creates an orchestrator. store, questions, analyzer, tts
// and notifier may each be nil; missing collaborators degrade to built-in
// defaults rather than failing conversations.
func NewOrchestrator(registry *rooms.Registry, store Store, questions QuestionGenerator, analyzer Analyzer, tts Speech, notifier Notifier, opts Options, logger zerolog.Logger) *Orchestrator {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sessions:  make(map[uuid.UUID]*session),
		joins:     make(map[uuid.UUID]*scheduledJoin),
		registry:  registry,
		store:     store,
		questions: questions,
		analyzer:  analyzer,
		tts:       tts,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "conversation").Logger(),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

// agentID builds the agent participant's room identity. An endpoint is in
// exactly one room at a time, so concurrent meetings need distinct ids.
func agentID(roomID string) string {
	return "ai-assistant-" + roomID
}

func (o *Orchestrator) session(meetingID uuid.UUID) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[meetingID]
}

// JoinMeeting joins the agent into a room and starts the conversation.
// It blocks, bounded by JoinWaitBound, until a human participant is present;
// if none arrive the join is abandoned and logged, not retried.
func (o *Orchestrator) JoinMeeting(ctx context.Context, meetingID uuid.UUID, roomID string, lead *models.Lead) error {
	meeting, storedLead := o.lookupMeeting(ctx, meetingID)
	if lead == nil {
		lead = storedLead
	}

	if o.session(meetingID) != nil {
		return fmt.Errorf("conversation already active for meeting %s", meetingID)
	}

	if !o.waitForHumans(ctx, roomID) {
		metrics.SchedulingTimeouts.Inc()
		o.logger.Warn().Str("meeting_id", meetingID.String()).Str("room_id", roomID).
			Dur("bound", o.opts.JoinWaitBound).Msg("no human participants arrived, abandoning auto-join")
		return fmt.Errorf("no human participants in room %s", roomID)
	}

	aid := agentID(roomID)
	if err := o.registry.Join(roomID, aid, rooms.NewNullTransport(), rooms.KindAgent, false); err != nil {
		return fmt.Errorf("agent join: %w", err)
	}

	flowLead := Lead{}
	if lead != nil {
		flowLead = Lead{ID: lead.ID, Name: lead.Name, Company: lead.Company}
	}
	flow := NewFlow(meetingID, roomID, flowLead, o.opts.SilenceTimeout, o.opts.MaxExchanges)
	flow.SetQuestions(o.generateQuestions(ctx, lead))

	sessCtx, cancel := context.WithCancel(o.baseCtx)
	sess := &session{flow: flow, lead: lead, meeting: meeting, agentID: aid, cancel: cancel}

	o.mu.Lock()
	if _, exists := o.sessions[meetingID]; exists {
		o.mu.Unlock()
		cancel()
		o.registry.Leave(aid)
		return fmt.Errorf("conversation already active for meeting %s", meetingID)
	}
	o.sessions[meetingID] = sess
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.UpdateMeetingStatus(ctx, meetingID.String(), models.MeetingActive); err != nil {
			o.collaboratorFailure("persistence", err)
		}
	}

	o.registry.Broadcast(roomID, &models.Envelope{
		Type:     models.TypeAgentJoined,
		FromUser: aid,
		Text:     "AI assistant has joined the meeting",
	}, "")

	metrics.ConversationsStarted.Inc()
	opening := flow.Start()
	o.persistTurn(meetingID, SpeakerAgent, "", opening)
	o.speak(sessCtx, sess, opening, false)
	flow.MarkAwaitingResponse()

	go o.monitor(sessCtx, meetingID, sess)

	o.logger.Info().Str("meeting_id", meetingID.String()).Str("room_id", roomID).Msg("agent joined meeting")
	return nil
}

// ProcessUserMessage appends a human message to the conversation and returns
// the agent's reply, or empty when the message was a duplicate, the
// conversation is over, or no conversation exists for the meeting (late
// messages are dropped, not errored).
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, meetingID uuid.UUID, roomID, text, userID string) (string, error) {
	sess := o.session(meetingID)
	if sess == nil || sess.flow.Completed() {
		return "", nil
	}
	flow := sess.flow

	if !flow.AppendUser(text, userID) {
		return "", nil
	}
	o.persistTurn(meetingID, SpeakerHuman, userID, text)

	if flow.ShouldComplete() {
		closing := flow.Complete()
		o.persistTurn(meetingID, SpeakerAgent, "", closing)
		metrics.ConversationsCompleted.Inc()
		o.speak(ctx, sess, closing, false)
		go o.postProcess(meetingID, sess)
		return closing, nil
	}

	next, ok := flow.NextPlanned()
	if !ok {
		next = o.followUpQuestion(ctx, flow, sess.lead)
	}
	flow.RecordAgent(next)
	o.persistTurn(meetingID, SpeakerAgent, "", next)
	o.speak(ctx, sess, next, false)
	flow.MarkAwaitingResponse()
	return next, nil
}

// EndMeetingGracefully forces completion if needed and returns the final
// analysis. The post-meeting pipeline runs in the background.
func (o *Orchestrator) EndMeetingGracefully(ctx context.Context, meetingID uuid.UUID, roomID string) (*models.Analysis, error) {
	sess := o.session(meetingID)
	if sess == nil {
		return nil, ErrNoConversation
	}
	flow := sess.flow

	if !flow.Completed() {
		closing := flow.Complete()
		o.persistTurn(meetingID, SpeakerAgent, "", closing)
		metrics.ConversationsCompleted.Inc()
		o.speak(ctx, sess, closing, false)
		go o.postProcess(meetingID, sess)
	}

	return o.analyze(ctx, flow.History(), sess.lead), nil
}

// ActiveConversations returns the number of live flows.
func (o *Orchestrator) ActiveConversations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Shutdown cancels all scheduled joins and monitors.
func (o *Orchestrator) Shutdown() {
	o.stop()
}

// monitor polls the conversation at a fixed interval, emitting silence
// prompts until the flow completes, then tears down its own bookkeeping.
func (o *Orchestrator) monitor(ctx context.Context, meetingID uuid.UUID, sess *session) {
	ticker := time.NewTicker(o.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.cleanup(meetingID)
			return
		case <-ticker.C:
			if sess.flow.Completed() {
				o.cleanup(meetingID)
				return
			}
			if sess.flow.ShouldPrompt() {
				prompt := sess.flow.Prompt()
				metrics.SilencePrompts.Inc()
				o.persistTurn(meetingID, SpeakerAgent, "", prompt)
				o.speak(ctx, sess, prompt, true)
			}
		}
	}
}

// cleanup removes the session bookkeeping and the agent participant.
// Safe to call more than once.
func (o *Orchestrator) cleanup(meetingID uuid.UUID) {
	o.mu.Lock()
	sess, ok := o.sessions[meetingID]
	if ok {
		delete(o.sessions, meetingID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	o.registry.Leave(sess.agentID)
}

// speak broadcasts an agent message to the room after a natural pacing
// delay, with synthesized audio when the TTS collaborator is available.
func (o *Orchestrator) speak(ctx context.Context, sess *session, text string, isPrompt bool) {
	select {
	case <-time.After(o.pacingDelay(text)):
	case <-ctx.Done():
		return
	}

	env := &models.Envelope{
		Type:              models.TypeAgentMessage,
		FromUser:          sess.agentID,
		Text:              text,
		IsPrompt:          isPrompt,
		ConversationState: string(sess.flow.State()),
	}
	if o.tts != nil {
		audio, err := o.tts.Synthesize(ctx, text)
		if err != nil {
			o.collaboratorFailure("tts", err)
		} else if len(audio) > 0 {
			env.Type = models.TypeAgentVoiceMessage
			env.AudioData = base64.StdEncoding.EncodeToString(audio)
			env.AudioFormat = "mp3"
		}
	}
	o.registry.Broadcast(sess.flow.RoomID(), env, "")
}

// pacingDelay scales the base response delay with text length, bounded.
func (o *Orchestrator) pacingDelay(text string) time.Duration {
	d := o.opts.ResponseDelay + time.Duration(len(text))*4*time.Millisecond
	if d > maxResponseDelay {
		d = maxResponseDelay
	}
	return d
}

// generateQuestions asks the generation collaborator for the lead's planned
// questions, substituting the fixed default list on failure.
func (o *Orchestrator) generateQuestions(ctx context.Context, lead *models.Lead) []string {
	if o.questions == nil {
		return DefaultQuestions()
	}
	qs, err := o.questions.GenerateQuestions(ctx, lead)
	if err != nil || len(qs) == 0 {
		o.collaboratorFailure("questions", err)
		return DefaultQuestions()
	}
	return qs
}

// followUpQuestion requests one contextual follow-up once planned questions
// are exhausted, with a generic fallback.
func (o *Orchestrator) followUpQuestion(ctx context.Context, flow *Flow, lead *models.Lead) string {
	if o.questions == nil {
		return fallbackFollowUp
	}
	q, err := o.questions.NextQuestion(ctx, flow.History(), lead)
	if err != nil || strings.TrimSpace(q) == "" {
		o.collaboratorFailure("questions", err)
		return fallbackFollowUp
	}
	return q
}

// analyze runs the analysis collaborator, degrading to the heuristic summary.
func (o *Orchestrator) analyze(ctx context.Context, history []Turn, lead *models.Lead) *models.Analysis {
	if o.analyzer == nil {
		return fallbackAnalysis(history, lead)
	}
	a, err := o.analyzer.Analyze(ctx, history, lead)
	if err != nil || a == nil {
		o.collaboratorFailure("analysis", err)
		return fallbackAnalysis(history, lead)
	}
	return a
}

// persistTurn appends a conversation event. Fire-and-forget: failures are
// counted and logged, never surfaced to the conversation.
func (o *Orchestrator) persistTurn(meetingID uuid.UUID, speaker, speakerID, text string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.baseCtx, 5*time.Second)
	defer cancel()
	err := o.store.AppendConversationEvent(ctx, &models.ConversationEvent{
		ID:        ulid.Make().String(),
		MeetingID: meetingID,
		Speaker:   speaker,
		SpeakerID: speakerID,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		o.collaboratorFailure("persistence", err)
	}
}

// lookupMeeting fetches the meeting record and its lead, best-effort.
func (o *Orchestrator) lookupMeeting(ctx context.Context, meetingID uuid.UUID) (*models.ScheduledMeeting, *models.Lead) {
	if o.store == nil {
		return nil, nil
	}
	meeting, err := o.store.GetMeeting(ctx, meetingID.String())
	if err != nil || meeting == nil {
		if err != nil {
			o.collaboratorFailure("persistence", err)
		}
		return nil, nil
	}
	lead, err := o.store.GetLead(ctx, meeting.LeadID.String())
	if err != nil {
		o.collaboratorFailure("persistence", err)
		return meeting, nil
	}
	return meeting, lead
}

func (o *Orchestrator) collaboratorFailure(name string, err error) {
	metrics.CollaboratorFailures.WithLabelValues(name).Inc()
	if err != nil {
		o.logger.Warn().Err(err).Str("collaborator", name).Msg("collaborator failure, degrading to fallback")
	}
}
