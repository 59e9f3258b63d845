package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/leadline-ai/leadline/internal/models"
)

// RenderTranscript formats a conversation history into a plain-text
// transcript with timestamped, speaker-labelled lines.
func RenderTranscript(history []Turn, lead *models.Lead) string {
	name := "Unknown"
	company := "Unknown Company"
	if lead != nil {
		if lead.Name != "" {
			name = lead.Name
		}
		if lead.Company != "" {
			company = lead.Company
		}
	}

	var b strings.Builder
	b.WriteString("AI Discovery Meeting Transcript\n")
	fmt.Fprintf(&b, "Date: %s\n", time.Now().Format("January 2, 2006 at 3:04 PM"))
	fmt.Fprintf(&b, "Participant: %s from %s\n", name, company)
	b.WriteString("AI Assistant: Discovery Bot\n\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, t := range history {
		speaker := name
		if t.Speaker == SpeakerAgent {
			speaker = "AI Assistant"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n\n", t.Timestamp.Format("3:04 PM"), speaker, t.Text)
	}

	b.WriteString(strings.Repeat("=", 50) + "\n")
	b.WriteString("End of Transcript")
	return b.String()
}
