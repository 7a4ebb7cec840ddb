// Package analysis looks at a conversation path from the outside: mood
// turning points computed locally, plus a written report from an observer
// model.
package analysis

import (
	"strconv"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
)

const (
	progressionSnippetLength = 50
	pointSnippetLength       = 100
	// a valence move larger than this counts as a turning point
	turningPointThreshold = 1
)

type TurningPoint struct {
	FromIndex string            `json:"from_index" yaml:"from_index"`
	ToIndex   string            `json:"to_index" yaml:"to_index"`
	FromMood  conversation.Mood `json:"from_mood" yaml:"from_mood"`
	ToMood    conversation.Mood `json:"to_mood" yaml:"to_mood"`
	Message   string            `json:"message" yaml:"message"`
}

type MoodStep struct {
	MessageIndex string            `json:"message_index" yaml:"message_index"`
	AgentID      string            `json:"agent_id" yaml:"agent_id"`
	Mood         conversation.Mood `json:"mood" yaml:"mood"`
	Snippet      string            `json:"snippet" yaml:"snippet"`
}

type Transitions struct {
	Escalations     []TurningPoint
	DeEscalations   []TurningPoint
	MoodProgression []MoodStep
}

// MoodTransitions walks consecutive messages and records every valence drop
// (escalation) or rise (de-escalation) of more than one step.
func MoodTransitions(messages conversation.Conversation) Transitions {
	ret := Transitions{
		Escalations:     []TurningPoint{},
		DeEscalations:   []TurningPoint{},
		MoodProgression: make([]MoodStep, 0, len(messages)),
	}

	for i, m := range messages {
		ret.MoodProgression = append(ret.MoodProgression, MoodStep{
			MessageIndex: strconv.Itoa(i),
			AgentID:      m.AgentID,
			Mood:         m.Mood,
			Snippet:      conversation.Truncate(m.Text, progressionSnippetLength),
		})
		if i == 0 {
			continue
		}

		prev := messages[i-1]
		delta := m.Mood.Valence() - prev.Mood.Valence()
		point := TurningPoint{
			FromIndex: strconv.Itoa(i - 1),
			ToIndex:   strconv.Itoa(i),
			FromMood:  prev.Mood,
			ToMood:    m.Mood,
			Message:   conversation.Truncate(m.Text, pointSnippetLength),
		}
		switch {
		case delta < -turningPointThreshold:
			ret.Escalations = append(ret.Escalations, point)
		case delta > turningPointThreshold:
			ret.DeEscalations = append(ret.DeEscalations, point)
		}
	}

	return ret
}
