package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
)

// moodKeywords maps lowercase keywords to the mood they signal. The first
// mood (in Moods order) with a matching keyword wins.
var moodKeywords = map[conversation.Mood][]string{
	conversation.MoodAngry:      {"furious", "angry", "outrageous", "unacceptable", "how dare"},
	conversation.MoodFrustrated: {"frustrat", "annoy", "again?", "ridiculous", "tired of"},
	conversation.MoodSad:        {"sad", "sorry", "disappoint", "hurt", "miss"},
	conversation.MoodExcited:    {"excited", "amazing", "can't wait", "wow"},
	conversation.MoodHappy:      {"happy", "glad", "great", "thank", "love"},
	conversation.MoodCalm:       {"calm", "understand", "let's", "together", "fair"},
}

var lexiconOrder = []conversation.Mood{
	conversation.MoodAngry,
	conversation.MoodFrustrated,
	conversation.MoodSad,
	conversation.MoodExcited,
	conversation.MoodHappy,
	conversation.MoodCalm,
}

// KeywordMood classifies text with a small keyword lexicon. Text without any
// signal is neutral.
func KeywordMood(text string) conversation.Mood {
	lower := strings.ToLower(text)
	for _, mood := range lexiconOrder {
		for _, kw := range moodKeywords[mood] {
			if strings.Contains(lower, kw) {
				return mood
			}
		}
	}
	return conversation.MoodNeutral
}

// ScriptedProvider answers without any network access. It is used by the
// headless simulate command, by tests and whenever the provider is set to
// "scripted".
type ScriptedProvider struct {
	mu    sync.Mutex
	calls int
	// Script, if set, is replayed in order before the generated lines.
	Script []Reply
	// Err, if set, is returned by every call.
	Err error
}

var _ Provider = (*ScriptedProvider)(nil)
var _ Completer = (*ScriptedProvider)(nil)

func NewScriptedProvider(script ...Reply) *ScriptedProvider {
	return &ScriptedProvider{Script: script}
}

func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Calls returns how many replies were generated so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *ScriptedProvider) Generate(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	// the prompt is rendered so template errors surface the same way they
	// would for a real provider
	if _, err := BuildChatMessages(req); err != nil {
		return Reply{}, err
	}

	p.mu.Lock()
	n := p.calls
	p.calls++
	p.mu.Unlock()

	if p.Err != nil {
		return Reply{}, p.Err
	}

	if n < len(p.Script) {
		reply := p.Script[n]
		if !reply.Mood.IsValid() {
			reply.Mood = conversation.MoodNeutral
		}
		return reply, nil
	}

	turn := len(req.History) + 1
	switch req.Intervention {
	case InterventionEscalate:
		return Reply{
			Msg:  fmt.Sprintf("%s (turn %d): This is unacceptable and I won't let it slide.", req.Agent.Name, turn),
			Mood: conversation.MoodAngry,
		}, nil
	case InterventionDeEscalate:
		return Reply{
			Msg:  fmt.Sprintf("%s (turn %d): Let's slow down, I understand where you are coming from.", req.Agent.Name, turn),
			Mood: conversation.MoodCalm,
		}, nil
	case InterventionNone:
	}

	mood := conversation.MoodNeutral
	if len(req.History) > 0 {
		mood = req.History[len(req.History)-1].Mood
	}
	return Reply{
		Msg:  fmt.Sprintf("%s (turn %d): About %s, here is my view.", req.Agent.Name, turn, conversation.Truncate(req.Setup.SpecificScenario, 40)),
		Mood: mood,
	}, nil
}

func (p *ScriptedProvider) AnalyzeMood(ctx context.Context, text string) (conversation.Mood, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Err != nil {
		return "", p.Err
	}
	return KeywordMood(text), nil
}

// CompleteJSON returns a canned observer analysis.
func (p *ScriptedProvider) CompleteJSON(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Err != nil {
		return "", p.Err
	}
	b, err := json.Marshal(map[string]interface{}{
		"summary": "The agents exchanged positions without reaching an agreement.",
		"suggestions": []string{
			"Acknowledge the other side's concern before restating your own.",
			"Propose one concrete next step.",
		},
		"analysis_markdown": "## Dynamics\n\nBoth agents held their ground.\n\n## Turning points\n\n- No clear turning point yet.",
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
