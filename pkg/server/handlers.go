package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/agents"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/go-go-golems/conflict-sim/pkg/visualization"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const maxBodyBytes = 1 << 20

type CreateAgentRequest struct {
	Name                   string   `json:"name"`
	PersonalityTraits      string   `json:"personality_traits"`
	BehavioralInstructions string   `json:"behavioral_instructions,omitempty"`
	Provider               string   `json:"provider,omitempty"`
	ModelName              string   `json:"model_name,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
}

type GenerateResponseRequest struct {
	ConversationID string `json:"conversation_id"`
	NodeID         string `json:"node_id,omitempty"`
}

type UserResponseRequest struct {
	ConversationID string `json:"conversation_id"`
	NodeID         string `json:"node_id,omitempty"`
	Message        string `json:"message"`
	AgentID        string `json:"agent_id"`
}

type InterventionRequest struct {
	ConversationID   string `json:"conversation_id"`
	NodeID           string `json:"node_id,omitempty"`
	InterventionType string `json:"intervention_type"`
}

type AnalyzeRequest struct {
	NodeID string `json:"node_id,omitempty"`
}

type TreeResponse struct {
	Tree        *conversation.Tree        `json:"tree" yaml:"tree"`
	CurrentPath conversation.Conversation `json:"current_path" yaml:"current_path"`
}

// decodeJSON reads the request body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return &badRequestError{err: err}
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return &simulation.InvalidRequestError{Reason: name + " is required"}
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Conflict simulation API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	}
	if st := s.settings; st != nil {
		resp["environment"] = st.Environment
		resp["config"] = map[string]interface{}{
			"log_level":         st.LogLevel,
			"default_provider":  st.DefaultProvider,
			"openai_configured": st.OpenAIAPIKey != "",
		}
		if st.IsProduction() && st.OpenAIAPIKey == "" {
			resp["status"] = "degraded"
			resp["warnings"] = []string{"OPENAI_API_KEY not configured"}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateAgent accepts the agent either as a JSON body or as query
// parameters.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := CreateAgentRequest{
		Name:                   q.Get("name"),
		PersonalityTraits:      q.Get("personality_traits"),
		BehavioralInstructions: q.Get("behavioral_instructions"),
		Provider:               q.Get("provider"),
		ModelName:              q.Get("model_name"),
	}
	if t := q.Get("temperature"); t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			s.writeError(w, r, &simulation.InvalidRequestError{Reason: "temperature must be a number"})
			return
		}
		req.Temperature = &v
	}
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	var options []agents.AgentOption
	if req.BehavioralInstructions != "" {
		options = append(options, agents.WithBehavioralInstructions(req.BehavioralInstructions))
	}
	if req.Provider != "" || req.ModelName != "" {
		options = append(options, agents.WithProvider(req.Provider, req.ModelName))
	}
	if req.Temperature != nil {
		options = append(options, agents.WithTemperature(*req.Temperature))
	}

	agent, err := s.service.Agents().Create(req.Name, req.PersonalityTraits, options...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Agents().List())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.service.Agents().Lookup(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Agents().Delete(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Agent deleted successfully"})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req simulation.CreateConversationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.service.CreateConversation(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleCreateConversationWithAgents(w http.ResponseWriter, r *http.Request) {
	var req simulation.CreateConversationWithAgentsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.service.CreateConversationWithAgents(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleGenerateResponse(w http.ResponseWriter, r *http.Request) {
	var req GenerateResponseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField("conversation_id", req.ConversationID); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.service.GenerateResponse(r.Context(), req.ConversationID, req.NodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUserResponse(w http.ResponseWriter, r *http.Request) {
	var req UserResponseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField("conversation_id", req.ConversationID); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.service.AddUserResponse(r.Context(), req.ConversationID, req.NodeID, req.Message, req.AgentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApplyIntervention(w http.ResponseWriter, r *http.Request) {
	var req InterventionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField("conversation_id", req.ConversationID); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, err := providers.ParseInterventionType(req.InterventionType)
	if err != nil {
		s.writeError(w, r, &simulation.InvalidRequestError{Reason: err.Error()})
		return
	}
	result, err := s.service.ApplyIntervention(r.Context(), req.ConversationID, req.NodeID, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListConversations())
}

// handleGetTree answers with JSON, or with YAML for ?format=yaml.
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, path, err := s.service.GetTree(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := TreeResponse{Tree: tree, CurrentPath: path}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, resp)
	case "yaml":
		out, err := yaml.Marshal(resp)
		if err != nil {
			s.writeError(w, r, errors.Wrap(err, "could not encode tree"))
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			log.Debug().Err(err).Msg("could not write response")
		}
	default:
		s.writeError(w, r, &simulation.InvalidRequestError{Reason: "unknown format " + strconv.Quote(format)})
	}
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node")
	messages, err := s.service.PathTo(r.PathValue("id"), nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"node_id":  nodeID,
	})
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node")
	messages, err := s.service.SwitchBranch(r.PathValue("id"), nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Branch point set successfully",
		"node_id":      nodeID,
		"current_path": messages,
	})
}

func (s *Server) handleSiblings(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node")
	siblings, err := s.service.Siblings(r.PathValue("id"), nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":  nodeID,
		"siblings": siblings,
	})
}

// handleAnalyze analyses the current branch, or the path to node_id when the
// optional body names one.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.service.Analyze(r.Context(), r.PathValue("id"), req.NodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteConversation(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func (s *Server) handleTreeData(w http.ResponseWriter, r *http.Request) {
	tree, _, err := s.service.GetTree(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visualization.BuildTreeData(tree))
}

func (s *Server) handleGraphData(w http.ResponseWriter, r *http.Request) {
	tree, _, err := s.service.GetTree(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visualization.BuildGraphData(tree))
}
