// Package ai implements the LLM collaborator boundary: discovery question
// generation and post-meeting conversation analysis via the Gemini API.
// Callers treat every method as fallible and substitute defaults on error.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/leadline-ai/leadline/internal/conversation"
	"github.com/leadline-ai/leadline/internal/models"
)

// Gemini generates questions and analyzes conversations using the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGemini creates the Gemini collaborator. Returns an error when the API
// key is missing or the client cannot be constructed; callers then run with
// built-in fallbacks instead.
func NewGemini(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// GenerateQuestions produces up to seven personalized discovery questions
// for a lead.
func (g *Gemini) GenerateQuestions(ctx context.Context, lead *models.Lead) ([]string, error) {
	name, company, industry := leadContext(lead)

	prompt := fmt.Sprintf(`Generate 7 discovery questions for a sales meeting with %s from %s in %s.

Lead Information:
- Name: %s
- Company: %s
- Industry: %s

The questions should uncover business challenges, current solutions, decision process, timeline and budget.
Return one question per line, no numbering, no extra text.`,
		name, company, industry, name, company, industry)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "0123456789.-) "))
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == 7 {
			break
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions in model response")
	}
	return questions, nil
}

// NextQuestion produces one contextual follow-up question based on the
// conversation so far.
func (g *Gemini) NextQuestion(ctx context.Context, history []conversation.Turn, lead *models.Lead) (string, error) {
	name, company, _ := leadContext(lead)

	prompt := fmt.Sprintf(`This is an ongoing sales discovery conversation with %s from %s:

%s

Generate one natural follow-up question that digs deeper into what the prospect just said.
Return only the question text.`, name, company, formatHistory(history, name))

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	// The model sometimes returns multiple lines; the first is the question.
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("empty follow-up from model")
}

// Analyze turns a finished conversation into a structured analysis.
func (g *Gemini) Analyze(ctx context.Context, history []conversation.Turn, lead *models.Lead) (*models.Analysis, error) {
	name, company, industry := leadContext(lead)

	prompt := fmt.Sprintf(`Analyze this sales discovery conversation with %s from %s.

CONVERSATION:
%s

LEAD INFORMATION:
- Company: %s
- Industry: %s

Provide a comprehensive analysis as a single JSON object with fields:
summary, lead_score (0-100), key_insights (array), pain_points (array),
opportunities (array), budget_indicators, timeline_indicators,
decision_makers, next_steps (array), follow_up_questions (array),
qualification_status (qualified|partially_qualified|not_qualified), notes.

Score the lead from 0-100 based on budget fit (25), timeline urgency (25),
authority (25) and need level (25). Return only valid JSON.`,
		name, company, formatHistory(history, name), company, industry)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	// Models wrap JSON in prose or fences; extract the outermost object.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in analysis response")
	}

	var analysis models.Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if analysis.Summary == "" || len(analysis.KeyInsights) == 0 || len(analysis.NextSteps) == 0 {
		return nil, fmt.Errorf("analysis response missing required fields")
	}
	return &analysis, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

func formatHistory(history []conversation.Turn, prospectName string) string {
	var b strings.Builder
	for _, t := range history {
		speaker := prospectName
		if t.Speaker == conversation.SpeakerAgent {
			speaker = "AI Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Text)
	}
	return b.String()
}

func leadContext(lead *models.Lead) (name, company, industry string) {
	name, company, industry = "the prospect", "their company", "their industry"
	if lead == nil {
		return
	}
	if lead.Name != "" {
		name = lead.Name
	}
	if lead.Company != "" {
		company = lead.Company
	}
	if lead.Industry != "" {
		industry = lead.Industry
	}
	return
}
