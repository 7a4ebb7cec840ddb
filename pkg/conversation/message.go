package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/ids"
)

type Mood string

const (
	MoodHappy      Mood = "happy"
	MoodExcited    Mood = "excited"
	MoodNeutral    Mood = "neutral"
	MoodCalm       Mood = "calm"
	MoodSad        Mood = "sad"
	MoodFrustrated Mood = "frustrated"
	MoodAngry      Mood = "angry"
)

// Moods lists the closed mood set in declaration order.
var Moods = []Mood{MoodHappy, MoodExcited, MoodNeutral, MoodCalm, MoodSad, MoodFrustrated, MoodAngry}

var moodValence = map[Mood]int{
	MoodHappy:      7,
	MoodExcited:    6,
	MoodCalm:       5,
	MoodNeutral:    4,
	MoodSad:        3,
	MoodFrustrated: 2,
	MoodAngry:      1,
}

func (m Mood) IsValid() bool {
	_, ok := moodValence[m]
	return ok
}

// Valence places the mood on a 1 (angry) to 7 (happy) scale. Unknown moods
// score as neutral.
func (m Mood) Valence() int {
	if v, ok := moodValence[m]; ok {
		return v
	}
	return moodValence[MoodNeutral]
}

func (m Mood) String() string {
	return string(m)
}

// ParseMood accepts a mood name in any case and with surrounding whitespace.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mood %q", s)
	}
	return m, nil
}

// NormalizeMood is ParseMood falling back to neutral.
func NormalizeMood(s string) Mood {
	m, err := ParseMood(s)
	if err != nil {
		return MoodNeutral
	}
	return m
}

// Message is one utterance. It is a value: nodes hold a copy, and path walks
// return copies, so a Message never changes once created.
type Message struct {
	ID             string    `json:"id" yaml:"id"`
	AgentID        string    `json:"agent_id" yaml:"agent_id"`
	Text           string    `json:"msg" yaml:"msg"`
	Mood           Mood      `json:"mood" yaml:"mood"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	IsUserOverride bool      `json:"is_user_override" yaml:"is_user_override"`
}

type MessageOption func(*Message)

func WithMessageID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTimestamp(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t
	}
}

func WithUserOverride() MessageOption {
	return func(m *Message) {
		m.IsUserOverride = true
	}
}

func NewMessage(agentID string, text string, mood Mood, options ...MessageOption) Message {
	ret := Message{
		ID:        ids.MustGenerate(ids.KindMessage),
		AgentID:   agentID,
		Text:      text,
		Mood:      mood,
		Timestamp: time.Now(),
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

// Snippet returns the first n runes of the text, with "..." appended when
// the text was cut.
func (m Message) Snippet(n int) string {
	return Truncate(m.Text, n)
}

func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Conversation is a linear root-to-node sequence of messages.
type Conversation []Message

// Moods returns the mood of every message, in order.
func (c Conversation) Moods() []Mood {
	ret := make([]Mood, 0, len(c))
	for _, m := range c {
		ret = append(ret, m.Mood)
	}
	return ret
}

// Transcript renders the conversation one message per line, naming the
// speaker through nameOf.
func (c Conversation) Transcript(nameOf func(agentID string) string) string {
	var sb strings.Builder
	for i, m := range c {
		fmt.Fprintf(&sb, "%d. [%s] (Mood: %s): %s\n", i+1, nameOf(m.AgentID), m.Mood, m.Text)
	}
	return sb.String()
}
