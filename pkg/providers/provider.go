// Package providers turns a conversation state into the next agent reply.
//
// Every provider answers with the same contract, a JSON object carrying the
// message text and the speaker's mood. Provider failures never fail a turn:
// the caller receives the fallback reply and the error is logged.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
)

type InterventionType string

const (
	InterventionNone       InterventionType = ""
	InterventionEscalate   InterventionType = "escalate"
	InterventionDeEscalate InterventionType = "de_escalate"
)

func ParseInterventionType(s string) (InterventionType, error) {
	switch InterventionType(strings.ToLower(strings.TrimSpace(s))) {
	case InterventionEscalate:
		return InterventionEscalate, nil
	case InterventionDeEscalate, "de-escalate", "deescalate":
		return InterventionDeEscalate, nil
	default:
		return "", fmt.Errorf("unknown intervention type %q", s)
	}
}

// AdjustTemperature nudges the sampling temperature in the direction of the
// intervention: hotter to escalate, cooler to de-escalate.
func (i InterventionType) AdjustTemperature(t float64) float64 {
	switch i {
	case InterventionEscalate:
		return min(1.0, t+0.1)
	case InterventionDeEscalate:
		return max(0.1, t-0.2)
	default:
		return t
	}
}

// Request carries everything a provider needs to speak for one agent.
type Request struct {
	Agent        conversation.AgentConfig
	Setup        conversation.ConversationSetup
	History      conversation.Conversation
	IsAgentA     bool
	Intervention InterventionType
}

func (r Request) Other() conversation.AgentConfig {
	if r.IsAgentA {
		return r.Setup.AgentB
	}
	return r.Setup.AgentA
}

// Reply is the parsed provider answer.
type Reply struct {
	Msg  string            `json:"msg"`
	Mood conversation.Mood `json:"mood"`
	// Fallback is set when the provider failed and the canned reply was used.
	Fallback bool `json:"-"`
}

const fallbackText = "I need a moment to collect my thoughts."

func FallbackReply() Reply {
	return Reply{Msg: fallbackText, Mood: conversation.MoodNeutral, Fallback: true}
}

type Provider interface {
	// Generate produces the next message for req.Agent.
	Generate(ctx context.Context, req Request) (Reply, error)
	// AnalyzeMood classifies free text, typically a user-written turn.
	AnalyzeMood(ctx context.Context, text string) (conversation.Mood, error)
}

// Completer runs a single system+user completion expecting a JSON object,
// used by the observer analysis.
type Completer interface {
	CompleteJSON(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

var ErrUnknownProvider = errors.New("unknown provider")

type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	if e == nil {
		return ErrUnknownProvider.Error()
	}
	return fmt.Sprintf("%s: %q", ErrUnknownProvider, e.Name)
}

func (e *UnknownProviderError) Is(target error) bool { return target == ErrUnknownProvider }
