package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNothingToAnalyze = errors.New("conversation has no messages to analyze")

const (
	ObserverName     = "Conflict Analysis Observer"
	ObserverRole     = "Analyze conversations for conflict patterns and provide insights"
	DefaultModel     = "gpt-4o"
	observerTemp     = 0.7
	observerMaxToken = 5000
)

const (
	unavailableSummary  = "Analysis unavailable"
	unavailableMarkdown = "# Analysis Report\n\nAnalysis unavailable"
	errorSummary        = "Error occurred during analysis"
	errorSuggestion     = "Unable to generate suggestions due to error"
	errorMarkdown       = "# Analysis Report\n\nAn error occurred during analysis."
)

var observerSystemPrompt = fmt.Sprintf(`You are %s, a %s.

Analyze the given conversation for:
1. Overall conflict dynamics and patterns
2. Key turning points (escalations and de-escalations)
3. Communication effectiveness between agents
4. Specific suggestions for improvement

Provide your analysis in a structured JSON format with these fields:
- "summary": A comprehensive summary of the conflict dynamics (2-3 paragraphs)
- "suggestions": An array of specific, actionable suggestions for improving the conversation
- "analysis_markdown": A detailed markdown-formatted analysis report

The markdown report should include:
- Executive Summary
- Conflict Progression Analysis
- Key Turning Points
- Communication Patterns
- Recommendations for Each Agent
- Overall Conclusions`, ObserverName, strings.ToLower(ObserverRole[:1])+ObserverRole[1:])

type ConversationAnalysis struct {
	ConversationID     string         `json:"conversation_id" yaml:"conversation_id"`
	TotalMessages      int            `json:"total_messages" yaml:"total_messages"`
	EscalationPoints   []TurningPoint `json:"escalation_points" yaml:"escalation_points"`
	DeEscalationPoints []TurningPoint `json:"de_escalation_points" yaml:"de_escalation_points"`
	MoodProgression    []MoodStep     `json:"mood_progression" yaml:"mood_progression"`
	Summary            string         `json:"summary" yaml:"summary"`
	Suggestions        []string       `json:"suggestions" yaml:"suggestions"`
	AnalysisMarkdown   string         `json:"analysis_markdown" yaml:"analysis_markdown"`
	AnalysisHTML       string         `json:"analysis_html" yaml:"-"`
	Sections           []Heading      `json:"sections" yaml:"sections"`
	// Degraded is set when the observer call failed and fallback text is used.
	Degraded bool `json:"degraded" yaml:"degraded"`
}

type observerResult struct {
	Summary          *string  `json:"summary"`
	Suggestions      []string `json:"suggestions"`
	AnalysisMarkdown *string  `json:"analysis_markdown"`
}

type Analyzer struct {
	completer providers.Completer
	model     string
}

type AnalyzerOption func(*Analyzer)

func WithModel(model string) AnalyzerOption {
	return func(a *Analyzer) {
		a.model = model
	}
}

func NewAnalyzer(completer providers.Completer, options ...AnalyzerOption) *Analyzer {
	ret := &Analyzer{
		completer: completer,
		model:     DefaultModel,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// FormatConversation renders the setup and the numbered transcript the
// observer reads.
func FormatConversation(setup conversation.ConversationSetup, messages conversation.Conversation) string {
	var sb strings.Builder
	sb.WriteString("**Conversation Setup:**\n")
	fmt.Fprintf(&sb, "- General Setting: %s\n", setup.GeneralSetting)
	fmt.Fprintf(&sb, "- Specific Scenario: %s\n", setup.SpecificScenario)
	fmt.Fprintf(&sb, "- Agent A: %s - %s\n", setup.AgentA.Name, setup.AgentA.PersonalityTraits)
	fmt.Fprintf(&sb, "- Agent B: %s - %s\n\n", setup.AgentB.Name, setup.AgentB.PersonalityTraits)
	sb.WriteString("**Conversation Flow:**\n")
	sb.WriteString(messages.Transcript(setup.AgentName))
	return sb.String()
}

// Analyze computes the turning points of messages and asks the observer for a
// report. Observer failures are logged and produce a degraded analysis; only
// an empty conversation is an error.
func (a *Analyzer) Analyze(ctx context.Context, tree *conversation.Tree, messages conversation.Conversation) (*ConversationAnalysis, error) {
	if len(messages) == 0 {
		return nil, ErrNothingToAnalyze
	}

	transitions := MoodTransitions(messages)
	ret := &ConversationAnalysis{
		ConversationID:     tree.ID,
		TotalMessages:      len(messages),
		EscalationPoints:   transitions.Escalations,
		DeEscalationPoints: transitions.DeEscalations,
		MoodProgression:    transitions.MoodProgression,
	}

	user := FormatConversation(tree.Setup, messages) + "\n\n" +
		fmt.Sprintf("**Identified Escalation Points:** %d\n", len(transitions.Escalations)) +
		fmt.Sprintf("**Identified De-escalation Points:** %d\n", len(transitions.DeEscalations))

	result, err := a.observe(ctx, user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Err(err).Str("conversation_id", tree.ID).Msg("Error analyzing conversation")
		ret.Summary = errorSummary
		ret.Suggestions = []string{errorSuggestion}
		ret.AnalysisMarkdown = errorMarkdown
		ret.Degraded = true
	} else {
		ret.Summary = unavailableSummary
		if result.Summary != nil {
			ret.Summary = *result.Summary
		}
		ret.Suggestions = result.Suggestions
		if ret.Suggestions == nil {
			ret.Suggestions = []string{}
		}
		ret.AnalysisMarkdown = unavailableMarkdown
		if result.AnalysisMarkdown != nil {
			ret.AnalysisMarkdown = *result.AnalysisMarkdown
		}
	}

	html, err := RenderHTML(ret.AnalysisMarkdown)
	if err != nil {
		return nil, errors.Wrap(err, "could not render analysis")
	}
	ret.AnalysisHTML = html

	sections, err := ExtractHeadings(ret.AnalysisMarkdown)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse analysis")
	}
	ret.Sections = sections

	return ret, nil
}

func (a *Analyzer) observe(ctx context.Context, user string) (*observerResult, error) {
	if a.completer == nil {
		return nil, errors.New("no observer model configured")
	}
	content, err := a.completer.CompleteJSON(ctx, providers.CompletionRequest{
		Model:       a.model,
		System:      observerSystemPrompt,
		User:        user,
		Temperature: observerTemp,
		MaxTokens:   observerMaxToken,
	})
	if err != nil {
		return nil, err
	}
	var result observerResult
	if err := json.Unmarshal([]byte(providers.ExtractJSON(content)), &result); err != nil {
		return nil, errors.Wrap(err, "observer returned invalid JSON")
	}
	return &result, nil
}
