// Package simulation drives conversations: it picks the next speaker, asks
// the speaker's provider for a reply and records it in the tree.
package simulation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-go-golems/conflict-sim/pkg/agents"
	"github.com/go-go-golems/conflict-sim/pkg/analysis"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrInvalidRequest = errors.New("invalid request")

type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// InterventionRecorder is told about every intervention that produced a turn.
type InterventionRecorder interface {
	RecordIntervention(kind string)
}

type CreateConversationRequest struct {
	GeneralSetting   string `json:"general_setting" yaml:"general_setting"`
	SpecificScenario string `json:"specific_scenario" yaml:"specific_scenario"`
	AgentAName       string `json:"agent_a_name" yaml:"agent_a_name"`
	AgentATraits     string `json:"agent_a_traits" yaml:"agent_a_traits"`
	AgentBName       string `json:"agent_b_name" yaml:"agent_b_name"`
	AgentBTraits     string `json:"agent_b_traits" yaml:"agent_b_traits"`
	// Provider and Model apply to both inline agents; empty means the default.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

type CreateConversationWithAgentsRequest struct {
	GeneralSetting   string `json:"general_setting"`
	SpecificScenario string `json:"specific_scenario"`
	AgentAID         string `json:"agent_a_id"`
	AgentBID         string `json:"agent_b_id"`
}

// TurnResult is the outcome of one generated or user-written turn.
type TurnResult struct {
	NodeID      string                     `json:"node_id" yaml:"node_id"`
	Message     conversation.Message       `json:"message" yaml:"message"`
	CurrentPath conversation.Conversation  `json:"current_path" yaml:"current_path"`
	Fallback    bool                       `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Applied     providers.InterventionType `json:"intervention_applied,omitempty" yaml:"intervention_applied,omitempty"`
}

type Service struct {
	trees     conversation.Manager
	agents    *agents.Store
	providers *providers.Factory
	analyzer  *analysis.Analyzer
	recorder  InterventionRecorder
}

type Option func(*Service)

func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(s *Service) {
		s.analyzer = a
	}
}

func WithInterventionRecorder(r InterventionRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func NewService(trees conversation.Manager, store *agents.Store, factory *providers.Factory, options ...Option) *Service {
	ret := &Service{
		trees:     trees,
		agents:    store,
		providers: factory,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Service) Agents() *agents.Store {
	return s.agents
}

// CreateConversation starts a tree with two new inline agents. The agents
// are not added to the agent store.
func (s *Service) CreateConversation(ctx context.Context, req CreateConversationRequest) (*conversation.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SpecificScenario) == "" {
		return nil, &InvalidRequestError{Reason: "specific_scenario is required"}
	}

	var options []agents.AgentOption
	if req.Provider != "" || req.Model != "" {
		options = append(options, agents.WithProvider(req.Provider, req.Model))
	}
	agentA, err := agents.NewAgent(req.AgentAName, req.AgentATraits, options...)
	if err != nil {
		return nil, err
	}
	agentB, err := agents.NewAgent(req.AgentBName, req.AgentBTraits, options...)
	if err != nil {
		return nil, err
	}

	tree, err := s.trees.CreateTree(conversation.ConversationSetup{
		GeneralSetting:   req.GeneralSetting,
		SpecificScenario: req.SpecificScenario,
		AgentA:           *agentA,
		AgentB:           *agentB,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("conversation_id", tree.ID).Msg("Created conversation tree")
	return tree, nil
}

// CreateConversationWithAgents starts a tree with two agents from the store.
func (s *Service) CreateConversationWithAgents(ctx context.Context, req CreateConversationWithAgentsRequest) (*conversation.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SpecificScenario) == "" {
		return nil, &InvalidRequestError{Reason: "specific_scenario is required"}
	}

	agentA, err := s.agents.Lookup(req.AgentAID)
	if err != nil {
		return nil, err
	}
	agentB, err := s.agents.Lookup(req.AgentBID)
	if err != nil {
		return nil, err
	}

	tree, err := s.trees.CreateTree(conversation.ConversationSetup{
		GeneralSetting:   req.GeneralSetting,
		SpecificScenario: req.SpecificScenario,
		AgentA:           *agentA,
		AgentB:           *agentB,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("conversation_id", tree.ID).Msg("Created conversation tree with existing agents")
	return tree, nil
}

// continuation resolves where the next turn attaches and the history that
// leads there. With a node id the branch cursor moves to it first.
func (s *Service) continuation(convID, nodeID string) (*conversation.Tree, string, conversation.Conversation, error) {
	if nodeID != "" {
		if err := s.trees.SetCurrentBranch(convID, nodeID); err != nil {
			return nil, "", nil, err
		}
	}

	tree, ok := s.trees.GetTree(convID)
	if !ok {
		return nil, "", nil, &conversation.TreeNotFoundError{TreeID: convID}
	}

	parent := nodeID
	if parent == "" {
		parent = tree.CurrentBranch
	}
	if parent == "" {
		return tree, "", conversation.Conversation{}, nil
	}

	history, err := tree.GetConversationThread(parent)
	if err != nil {
		return nil, "", nil, err
	}
	return tree, parent, history, nil
}

func (s *Service) providerFor(agent conversation.AgentConfig) (providers.Provider, error) {
	return s.providers.Get(agent.Provider)
}

func (s *Service) generate(ctx context.Context, convID, nodeID string, intervention providers.InterventionType) (*TurnResult, error) {
	tree, parent, history, err := s.continuation(convID, nodeID)
	if err != nil {
		return nil, err
	}

	speaker := conversation.WhoseTurn(len(history))
	agent := *tree.Setup.AgentFor(speaker)

	provider, err := s.providerFor(agent)
	if err != nil {
		return nil, err
	}

	reply, err := provider.Generate(ctx, providers.Request{
		Agent:        agent,
		Setup:        tree.Setup,
		History:      history,
		IsAgentA:     speaker == conversation.SpeakerA,
		Intervention: intervention,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not generate response for %s", agent.Name)
	}

	msg := conversation.NewMessage(agent.ID, reply.Msg, reply.Mood)
	node, err := s.trees.AddMessage(convID, msg, parent)
	if err != nil {
		return nil, err
	}

	path, err := s.trees.GetConversationPath(convID, node.ID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("conversation_id", convID).
		Str("node_id", node.ID).
		Str("agent", agent.Name).
		Str("mood", string(reply.Mood)).
		Str("intervention", string(intervention)).
		Bool("fallback", reply.Fallback).
		Msg("Generated agent response")

	return &TurnResult{
		NodeID:      node.ID,
		Message:     node.Message,
		CurrentPath: path,
		Fallback:    reply.Fallback,
		Applied:     intervention,
	}, nil
}

// GenerateResponse produces the next agent turn, continuing from nodeID or,
// if empty, from the current branch.
func (s *Service) GenerateResponse(ctx context.Context, convID, nodeID string) (*TurnResult, error) {
	return s.generate(ctx, convID, nodeID, providers.InterventionNone)
}

// ApplyIntervention is GenerateResponse with an escalate or de-escalate
// directive for the speaking agent.
func (s *Service) ApplyIntervention(ctx context.Context, convID, nodeID string, kind providers.InterventionType) (*TurnResult, error) {
	switch kind {
	case providers.InterventionEscalate, providers.InterventionDeEscalate:
	case providers.InterventionNone:
		return nil, &InvalidRequestError{Reason: "intervention_type is required"}
	default:
		return nil, &InvalidRequestError{Reason: fmt.Sprintf("unknown intervention type %q", kind)}
	}

	ret, err := s.generate(ctx, convID, nodeID, kind)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordIntervention(string(kind))
	}
	return ret, nil
}

// AddUserResponse records text written by the user on behalf of agentID. The
// mood is classified by the agent's provider.
func (s *Service) AddUserResponse(ctx context.Context, convID, nodeID, text, agentID string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidRequestError{Reason: "message is required"}
	}

	tree, parent, _, err := s.continuation(convID, nodeID)
	if err != nil {
		return nil, err
	}

	var agent conversation.AgentConfig
	switch agentID {
	case tree.Setup.AgentA.ID:
		agent = tree.Setup.AgentA
	case tree.Setup.AgentB.ID:
		agent = tree.Setup.AgentB
	default:
		return nil, &InvalidRequestError{Reason: fmt.Sprintf("agent %s is not part of conversation %s", agentID, convID)}
	}

	provider, err := s.providerFor(agent)
	if err != nil {
		return nil, err
	}
	mood, err := provider.AnalyzeMood(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "could not analyze mood")
	}

	msg := conversation.NewMessage(agentID, text, mood, conversation.WithUserOverride())
	node, err := s.trees.AddMessage(convID, msg, parent)
	if err != nil {
		return nil, err
	}

	path, err := s.trees.GetConversationPath(convID, node.ID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("conversation_id", convID).Str("node_id", node.ID).Str("mood", string(mood)).Msg("Added user response")
	return &TurnResult{NodeID: node.ID, Message: node.Message, CurrentPath: path}, nil
}

// GetTree returns a snapshot of the tree and the path to its current branch.
func (s *Service) GetTree(convID string) (*conversation.Tree, conversation.Conversation, error) {
	tree, ok := s.trees.GetTree(convID)
	if !ok {
		return nil, nil, &conversation.TreeNotFoundError{TreeID: convID}
	}
	path := conversation.Conversation{}
	if tree.CurrentBranch != "" {
		var err error
		path, err = tree.GetConversationThread(tree.CurrentBranch)
		if err != nil {
			return nil, nil, err
		}
	}
	return tree, path, nil
}

// ListConversations returns every tree, oldest first.
func (s *Service) ListConversations() []*conversation.Tree {
	all := s.trees.GetAllTrees()
	ret := make([]*conversation.Tree, 0, len(all))
	for _, t := range all {
		ret = append(ret, t)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.Before(ret[j].CreatedAt)
		}
		return ret[i].ID < ret[j].ID
	})
	return ret
}

func (s *Service) PathTo(convID, nodeID string) (conversation.Conversation, error) {
	return s.trees.GetConversationPath(convID, nodeID)
}

// SwitchBranch moves the cursor to nodeID and returns the path to it.
func (s *Service) SwitchBranch(convID, nodeID string) (conversation.Conversation, error) {
	if err := s.trees.SetCurrentBranch(convID, nodeID); err != nil {
		return nil, err
	}
	return s.trees.GetConversationPath(convID, nodeID)
}

func (s *Service) Siblings(convID, nodeID string) ([]string, error) {
	return s.trees.GetSiblings(convID, nodeID)
}

// Analyze runs the observer on the path to nodeID, or to the current branch
// when nodeID is empty.
func (s *Service) Analyze(ctx context.Context, convID, nodeID string) (*analysis.ConversationAnalysis, error) {
	tree, ok := s.trees.GetTree(convID)
	if !ok {
		return nil, &conversation.TreeNotFoundError{TreeID: convID}
	}

	target := nodeID
	if target == "" {
		target = tree.CurrentBranch
	}
	if target == "" {
		return nil, analysis.ErrNothingToAnalyze
	}
	messages, err := tree.GetConversationThread(target)
	if err != nil {
		return nil, err
	}

	analyzer := s.analyzer
	if analyzer == nil {
		completer, err := s.providers.Completer("")
		if err != nil {
			return nil, err
		}
		analyzer = analysis.NewAnalyzer(completer)
	}
	return analyzer.Analyze(ctx, tree, messages)
}

func (s *Service) DeleteConversation(convID string) error {
	if err := s.trees.DeleteTree(convID); err != nil {
		return err
	}
	log.Info().Str("conversation_id", convID).Msg("Deleted conversation")
	return nil
}
