// Package notify sends best-effort post-meeting email: the analysis summary
// to the meeting owner and suggested follow-up questions. Delivery failures
// are returned to the caller for logging and never block the meeting
// pipeline.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/models"
)

// Mailer sends email over SMTP.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	from     string
	logger   zerolog.Logger
}

// NewMailer creates a Mailer. Returns nil when SMTP is not configured;
// callers treat a nil Mailer as notifications disabled.
func NewMailer(host, port, username, password, from string, logger zerolog.Logger) *Mailer {
	if host == "" || from == "" {
		return nil
	}
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		logger:   logger.With().Str("component", "mailer").Logger(),
	}
}

// SendMeetingSummary mails the post-meeting analysis and transcript to the
// meeting owner.
func (m *Mailer) SendMeetingSummary(ctx context.Context, to string, meeting *models.ScheduledMeeting, lead *models.Lead, analysis *models.Analysis, transcript string) error {
	leadName, company := "the prospect", ""
	if lead != nil {
		leadName, company = lead.Name, lead.Company
	}
	subject := fmt.Sprintf("Meeting Summary: %s", leadName)
	if company != "" {
		subject = fmt.Sprintf("Meeting Summary: %s (%s)", leadName, company)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your AI assistant completed a discovery meeting with %s.\n\n", leadName)
	fmt.Fprintf(&b, "SUMMARY\n%s\n\n", analysis.Summary)
	fmt.Fprintf(&b, "LEAD SCORE: %d/100 (%s)\n\n", analysis.LeadScore, analysis.QualificationStatus)
	writeSection(&b, "KEY INSIGHTS", analysis.KeyInsights)
	writeSection(&b, "PAIN POINTS", analysis.PainPoints)
	writeSection(&b, "NEXT STEPS", analysis.NextSteps)
	if transcript != "" {
		fmt.Fprintf(&b, "FULL TRANSCRIPT\n\n%s\n", transcript)
	}

	return m.send(ctx, to, subject, b.String())
}

// SendFollowUpQuestions mails suggested follow-up questions for the next
// touch with the lead.
func (m *Mailer) SendFollowUpQuestions(ctx context.Context, to string, lead *models.Lead, questions []string) error {
	if len(questions) == 0 {
		return nil
	}
	leadName := "your lead"
	if lead != nil && lead.Name != "" {
		leadName = lead.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Suggested follow-up questions for your next conversation with %s:\n\n", leadName)
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}

	return m.send(ctx, to, fmt.Sprintf("Follow-Up Questions: %s", leadName), b.String())
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	m.logger.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return nil
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}
