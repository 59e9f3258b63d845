package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/models"
)

// postProcess runs the post-meeting pipeline: analysis, transcript,
// persistence, lead update, status change, notification, and the completion
// broadcast. Every step is best-effort; failures are logged and counted but
// never reopen the conversation.
func (o *Orchestrator) postProcess(meetingID uuid.UUID, sess *session) {
	ctx, cancel := context.WithTimeout(o.baseCtx, 60*time.Second)
	defer cancel()

	history := sess.flow.History()
	analysis := o.analyze(ctx, history, sess.lead)
	transcript := RenderTranscript(history, sess.lead)

	if o.store != nil {
		scoreBefore := 0
		leadID := uuid.Nil
		if sess.lead != nil {
			scoreBefore = sess.lead.Score
			leadID = sess.lead.ID
		}
		err := o.store.SaveMeetingAnalysis(ctx, &models.MeetingAnalysis{
			MeetingID:       meetingID,
			LeadID:          leadID,
			Analysis:        *analysis,
			Transcript:      transcript,
			LeadScoreBefore: scoreBefore,
			LeadScoreAfter:  analysis.LeadScore,
			CreatedAt:       time.Now(),
		})
		if err != nil {
			o.collaboratorFailure("persistence", err)
		}

		if sess.lead != nil {
			err = o.store.UpdateLeadFromAnalysis(ctx, sess.lead.ID.String(),
				analysis.LeadScore, leadStatusFor(analysis), formatMeetingNotes(analysis))
			if err != nil {
				o.collaboratorFailure("persistence", err)
			}
		}

		if err := o.store.UpdateMeetingStatus(ctx, meetingID.String(), models.MeetingCompleted); err != nil {
			o.collaboratorFailure("persistence", err)
		}
	}

	o.sendPostMeetingEmails(ctx, meetingID, sess, analysis, transcript)

	o.registry.Broadcast(sess.flow.RoomID(), &models.Envelope{
		Type:     models.TypeMeetingCompleted,
		FromUser: sess.agentID,
		Analysis: analysis,
		Summary:  analysis.Summary,
	}, "")

	o.cleanup(meetingID)
	o.logger.Info().Str("meeting_id", meetingID.String()).Int("lead_score", analysis.LeadScore).Msg("post-meeting pipeline finished")
}

// sendPostMeetingEmails dispatches the summary and follow-up mails to the
// meeting owner, best-effort.
func (o *Orchestrator) sendPostMeetingEmails(ctx context.Context, meetingID uuid.UUID, sess *session, analysis *models.Analysis, transcript string) {
	if o.notifier == nil || o.store == nil {
		return
	}
	email, err := o.store.GetMeetingOwnerEmail(ctx, meetingID.String())
	if err != nil || email == "" {
		o.collaboratorFailure("notification", err)
		return
	}

	meeting := sess.meeting
	if meeting == nil {
		meeting, _ = o.store.GetMeeting(ctx, meetingID.String())
	}

	if err := o.notifier.SendMeetingSummary(ctx, email, meeting, sess.lead, analysis, transcript); err != nil {
		o.collaboratorFailure("notification", err)
	}
	if len(analysis.FollowUpQuestions) > 0 {
		if err := o.notifier.SendFollowUpQuestions(ctx, email, sess.lead, analysis.FollowUpQuestions); err != nil {
			o.collaboratorFailure("notification", err)
		}
	}
}

// formatMeetingNotes renders analysis highlights into the lead's notes field.
func formatMeetingNotes(a *models.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI Meeting Summary (%s)\n\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "Summary: %s\n\n", a.Summary)

	if len(a.KeyInsights) > 0 {
		b.WriteString("Key Insights:\n")
		for _, s := range a.KeyInsights {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if len(a.PainPoints) > 0 {
		b.WriteString("Pain Points:\n")
		for _, s := range a.PainPoints {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if len(a.NextSteps) > 0 {
		b.WriteString("Next Steps:\n")
		for _, s := range a.NextSteps {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}
