package conversation

import (
	"fmt"

	"github.com/leadline-ai/leadline/internal/models"
)

// fallbackAnalysis builds a minimal heuristic summary when the analysis
// collaborator is unavailable. Scoring is engagement-based only.
func fallbackAnalysis(history []Turn, lead *models.Lead) *models.Analysis {
	responses := 0
	for _, t := range history {
		if t.Speaker == SpeakerHuman {
			responses++
		}
	}

	score := responses * 10
	if score > 70 {
		score = 70
	}

	name := "the prospect"
	company := "their company"
	if lead != nil {
		if lead.Name != "" {
			name = lead.Name
		}
		if lead.Company != "" {
			company = lead.Company
		}
	}

	return &models.Analysis{
		Summary: fmt.Sprintf("Had a discovery conversation with %s from %s. They provided %d responses during our discussion.",
			name, company, responses),
		LeadScore: score,
		KeyInsights: []string{
			"Prospect engaged in conversation",
			fmt.Sprintf("Provided %d detailed responses", responses),
			"Showed interest in discussing their business",
		},
		PainPoints: []string{
			"Specific pain points to be identified in follow-up",
		},
		Opportunities: []string{
			"Potential sales opportunity identified",
			"Needs further qualification",
		},
		BudgetIndicators:   "Budget discussion needed",
		TimelineIndicators: "Timeline to be determined",
		DecisionMakers:     "Decision makers to be identified",
		NextSteps: []string{
			"Schedule follow-up call",
			"Send additional information",
			"Qualify budget and timeline",
		},
		FollowUpQuestions: []string{
			"What's your budget range for this type of solution?",
			"When would you like to have this implemented?",
			"Who else would be involved in making this decision?",
		},
		QualificationStatus: "partially_qualified",
		Notes:               fmt.Sprintf("Initial discovery completed with %d responses. Needs follow-up for full qualification.", responses),
	}
}

// leadStatusFor derives the lead's pipeline status from an analysis.
func leadStatusFor(a *models.Analysis) string {
	switch {
	case a.QualificationStatus == "qualified" && a.LeadScore >= 80:
		return "hot"
	case a.QualificationStatus == "qualified" && a.LeadScore >= 60:
		return "warm"
	case a.QualificationStatus == "partially_qualified":
		return "warm"
	default:
		return "cold"
	}
}
