// Package agents keeps the reusable agent configurations that conversations
// can be created from.
package agents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/ids"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrValidation    = errors.New("validation error")
)

// AgentNotFoundError reports a lookup of an unknown agent id.
type AgentNotFoundError struct {
	AgentID string
}

func (e *AgentNotFoundError) Error() string {
	if e == nil {
		return ErrAgentNotFound.Error()
	}
	return fmt.Sprintf("agent with ID %s not found", e.AgentID)
}

func (e *AgentNotFoundError) Is(target error) bool { return target == ErrAgentNotFound }

// ValidationError reports an agent definition missing required fields.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s (%s): %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type AgentOption func(*conversation.AgentConfig)

func WithBehavioralInstructions(instructions string) AgentOption {
	return func(a *conversation.AgentConfig) {
		a.BehavioralInstructions = instructions
	}
}

func WithProvider(provider string, model string) AgentOption {
	return func(a *conversation.AgentConfig) {
		a.Provider = provider
		a.ModelName = model
	}
}

func WithTemperature(temperature float64) AgentOption {
	return func(a *conversation.AgentConfig) {
		a.Temperature = &temperature
	}
}

// NewAgent builds an agent config with a fresh id without registering it.
func NewAgent(name string, traits string, options ...AgentOption) (*conversation.AgentConfig, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(traits) == "" {
		return nil, &ValidationError{Field: "personality_traits", Reason: "must not be empty"}
	}

	id, err := ids.Generate(ids.KindAgent)
	if err != nil {
		return nil, err
	}
	ret := &conversation.AgentConfig{
		ID:                id,
		Name:              name,
		PersonalityTraits: traits,
		CreatedAt:         time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

// Store is a thread-safe in-memory agent registry. Reads return clones.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*conversation.AgentConfig
}

func NewStore() *Store {
	return &Store{
		agents: map[string]*conversation.AgentConfig{},
	}
}

func (s *Store) Create(name string, traits string, options ...AgentOption) (*conversation.AgentConfig, error) {
	agent, err := NewAgent(name, traits, options...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.agents[agent.ID] = agent
	s.mu.Unlock()

	log.Info().Str("agent_id", agent.ID).Str("name", agent.Name).Msg("Created agent")
	return cloneAgent(agent), nil
}

func (s *Store) Get(id string) (*conversation.AgentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, false
	}
	return cloneAgent(agent), true
}

// Lookup is Get returning AgentNotFoundError for unknown ids.
func (s *Store) Lookup(id string) (*conversation.AgentConfig, error) {
	agent, ok := s.Get(id)
	if !ok {
		return nil, &AgentNotFoundError{AgentID: id}
	}
	return agent, nil
}

// List returns all agents ordered by creation time, then id.
func (s *Store) List() []*conversation.AgentConfig {
	s.mu.RLock()
	out := make([]*conversation.AgentConfig, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, cloneAgent(agent))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return &AgentNotFoundError{AgentID: id}
	}
	delete(s.agents, id)
	return nil
}

func cloneAgent(a *conversation.AgentConfig) *conversation.AgentConfig {
	return clone.Clone(a).(*conversation.AgentConfig)
}
