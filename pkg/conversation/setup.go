package conversation

import "time"

// AgentConfig describes one simulated participant.
type AgentConfig struct {
	ID                     string    `json:"id" yaml:"id"`
	Name                   string    `json:"name" yaml:"name"`
	PersonalityTraits      string    `json:"personality_traits" yaml:"personality_traits"`
	BehavioralInstructions string    `json:"behavioral_instructions,omitempty" yaml:"behavioral_instructions,omitempty"`
	Provider               string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	ModelName              string    `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Temperature            *float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	CreatedAt              time.Time `json:"created_at" yaml:"created_at"`
}

// ConversationSetup is the scenario plus both participants. The tree stores it
// and hands it back unchanged.
type ConversationSetup struct {
	GeneralSetting   string      `json:"general_setting" yaml:"general_setting"`
	SpecificScenario string      `json:"specific_scenario" yaml:"specific_scenario"`
	AgentA           AgentConfig `json:"agent_a" yaml:"agent_a"`
	AgentB           AgentConfig `json:"agent_b" yaml:"agent_b"`
}

// AgentFor returns the participant playing speaker.
func (s *ConversationSetup) AgentFor(speaker Speaker) *AgentConfig {
	if speaker == SpeakerA {
		return &s.AgentA
	}
	return &s.AgentB
}

// Other returns the participant that is not speaker.
func (s *ConversationSetup) Other(speaker Speaker) *AgentConfig {
	if speaker == SpeakerA {
		return &s.AgentB
	}
	return &s.AgentA
}

// AgentName resolves an agent id to its display name. Anything that is not
// agent A is attributed to agent B.
func (s *ConversationSetup) AgentName(agentID string) string {
	if agentID == s.AgentA.ID {
		return s.AgentA.Name
	}
	return s.AgentB.Name
}
