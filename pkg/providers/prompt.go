package providers

import (
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/pkg/errors"
)

const systemPromptTemplate = `You are {{ .Agent.Name }} ({{ .Role }}) in a conflict simulation.

General Setting: {{ .Setup.GeneralSetting }}
Specific Scenario: {{ .Setup.SpecificScenario }}

Your personality traits: {{ .Agent.PersonalityTraits }}

The other agent is {{ .Other.Name }} with these traits: {{ .Other.PersonalityTraits }}
{{ with .Agent.BehavioralInstructions }}
{{ . | trim }}
{{ end }}
You must respond to messages in character, considering the conversation history and your personality traits. Your response must be a JSON object with exactly these fields:
- "msg": Your response message (string)
- "mood": Your exact mood for this message, which must be one of these values: {{ .Moods | join ", " }}

Always stay in character and respond appropriately to the situation and conversation flow.`

const escalateDirective = `

IMPORTANT INTERVENTION DIRECTIVE: You must respond in a way that {{ "escalates" | upper }} the conflict.
- Increase tension and disagreement
- Be more confrontational and assertive
- Focus on points of contention
- Express stronger emotions like frustration or anger
- Make the conflict more intense`

const deEscalateDirective = `

IMPORTANT INTERVENTION DIRECTIVE: You must respond in a way that {{ "de-escalates" | upper }} the conflict.
- Reduce tension and find common ground
- Be more understanding and empathetic
- Acknowledge the other person's perspective
- Use calming language
- Seek resolution and compromise`

const (
	startPrompt    = "Start the conversation about: "
	continuePrompt = "Continue the conversation."
)

var (
	systemTemplate     = template.Must(template.New("system-prompt").Funcs(sprig.TxtFuncMap()).Parse(systemPromptTemplate))
	escalateTemplate   = template.Must(template.New("escalate").Funcs(sprig.TxtFuncMap()).Parse(escalateDirective))
	deEscalateTemplate = template.Must(template.New("de-escalate").Funcs(sprig.TxtFuncMap()).Parse(deEscalateDirective))
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a provider-neutral chat turn.
type ChatMessage struct {
	Role    Role
	Content string
}

func quotedMoods() []string {
	ret := make([]string, 0, len(conversation.Moods))
	for _, m := range conversation.Moods {
		ret = append(ret, strconv.Quote(string(m)))
	}
	return ret
}

// BuildSystemPrompt renders the in-character instructions for req.Agent,
// including the intervention directive if one is set.
func BuildSystemPrompt(req Request) (string, error) {
	role := "Agent B"
	if req.IsAgentA {
		role = "Agent A"
	}

	data := map[string]interface{}{
		"Agent": req.Agent,
		"Other": req.Other(),
		"Setup": req.Setup,
		"Role":  role,
		"Moods": quotedMoods(),
	}

	var sb strings.Builder
	if err := systemTemplate.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "could not render system prompt")
	}

	var directive *template.Template
	switch req.Intervention {
	case InterventionEscalate:
		directive = escalateTemplate
	case InterventionDeEscalate:
		directive = deEscalateTemplate
	case InterventionNone:
	default:
		return "", errors.Errorf("unknown intervention type %q", req.Intervention)
	}
	if directive != nil {
		if err := directive.Execute(&sb, data); err != nil {
			return "", errors.Wrap(err, "could not render intervention directive")
		}
	}

	return sb.String(), nil
}

// BuildChatMessages turns the history into chat turns from the point of view
// of req.Agent: its own messages are assistant turns, everything else is a
// user turn. The list always ends on a user turn so every provider has
// something to answer.
func BuildChatMessages(req Request) ([]ChatMessage, error) {
	system, err := BuildSystemPrompt(req)
	if err != nil {
		return nil, err
	}

	messages := []ChatMessage{{Role: RoleSystem, Content: system}}
	if len(req.History) == 0 {
		messages = append(messages, ChatMessage{Role: RoleUser, Content: startPrompt + req.Setup.SpecificScenario})
		return messages, nil
	}

	for _, m := range req.History {
		role := RoleUser
		if m.AgentID == req.Agent.ID {
			role = RoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Text})
	}

	if messages[len(messages)-1].Role != RoleUser {
		messages = append(messages, ChatMessage{Role: RoleUser, Content: continuePrompt})
	}
	return messages, nil
}
