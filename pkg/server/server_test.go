package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/agents"
	"github.com/go-go-golems/conflict-sim/pkg/analysis"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/events"
	"github.com/go-go-golems/conflict-sim/pkg/metrics"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/go-go-golems/conflict-sim/pkg/settings"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/go-go-golems/conflict-sim/pkg/visualization"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	service  *simulation.Service
	scripted *providers.ScriptedProvider
	metrics  *metrics.Collector
	bus      *events.Bus
}

func newTestEnv(t *testing.T, st *settings.Settings) *testEnv {
	scripted := providers.NewScriptedProvider()
	collector := metrics.NewCollector("test")
	bus, err := events.NewBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	factory := providers.NewFactory(providers.Scripted, nil,
		providers.WithScripted(scripted),
		providers.WithWrapper(collector.Wrapper()),
	)
	manager := conversation.NewManager(conversation.WithEventSinks(bus, collector))
	service := simulation.NewService(manager, agents.NewStore(), factory,
		simulation.WithInterventionRecorder(collector))

	if st == nil {
		st = &settings.Settings{Environment: settings.Development, DefaultProvider: providers.Scripted, LogLevel: "debug"}
	}
	s := NewServer(service, WithBus(bus), WithMetrics(collector), WithSettings(st))
	return &testEnv{
		server:   s,
		handler:  s.Handler(),
		service:  service,
		scripted: scripted,
		metrics:  collector,
		bus:      bus,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var ret T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret), rec.Body.String())
	return ret
}

func (e *testEnv) createConversation(t *testing.T) *conversation.Tree {
	rec := e.do(t, http.MethodPost, "/api/conversations/create", simulation.CreateConversationRequest{
		GeneralSetting:   "A shared office",
		SpecificScenario: "Who cleans the coffee machine",
		AgentAName:       "Ana",
		AgentATraits:     "tidy, blunt",
		AgentBName:       "Ben",
		AgentBTraits:     "relaxed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[*conversation.Tree](t, rec)
}

func (e *testEnv) generate(t *testing.T, convID, nodeID string) simulation.TurnResult {
	rec := e.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{
		ConversationID: convID,
		NodeID:         nodeID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[simulation.TurnResult](t, rec)
}

func TestRootAndHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode[map[string]string](t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, settings.Development, health["environment"])

	prod := newTestEnv(t, &settings.Settings{Environment: settings.Production, DefaultProvider: providers.Scripted, LogLevel: "info"})
	rec = prod.do(t, http.MethodGet, "/health", nil)
	health = decode[map[string]interface{}](t, rec)
	assert.Equal(t, "degraded", health["status"])
	assert.NotEmpty(t, health["warnings"])
}

func TestAgentsEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/agents/", CreateAgentRequest{
		Name:                   "Ana",
		PersonalityTraits:      "tidy",
		BehavioralInstructions: "Never raise your voice.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ana := decode[conversation.AgentConfig](t, rec)
	assert.NotEmpty(t, ana.ID)
	assert.Equal(t, "Never raise your voice.", ana.BehavioralInstructions)

	rec = e.do(t, http.MethodPost, "/api/agents/?name=Ben&personality_traits=relaxed&temperature=0.4", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ben := decode[conversation.AgentConfig](t, rec)
	require.NotNil(t, ben.Temperature)
	assert.InDelta(t, 0.4, *ben.Temperature, 1e-9)

	rec = e.do(t, http.MethodGet, "/api/agents/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]conversation.AgentConfig](t, rec)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{ana.ID, ben.ID}, []string{list[0].ID, list[1].ID})

	rec = e.do(t, http.MethodGet, "/api/agents/"+ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ben", decode[conversation.AgentConfig](t, rec).Name)

	rec = e.do(t, http.MethodDelete, "/api/agents/"+ben.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/agents/"+ben.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode[ErrorResponse](t, rec).Error)

	rec = e.do(t, http.MethodDelete, "/api/agents/"+ben.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/agents/", CreateAgentRequest{Name: "Ana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/agents/?name=Ana&personality_traits=x&temperature=hot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/agents/", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationWithStoredAgents(t *testing.T) {
	e := newTestEnv(t, nil)
	a, err := e.service.Agents().Create("Ana", "tidy")
	require.NoError(t, err)
	b, err := e.service.Agents().Create("Ben", "relaxed")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/conversations/create-with-agents", simulation.CreateConversationWithAgentsRequest{
		SpecificScenario: "Noise after midnight",
		AgentAID:         a.ID,
		AgentBID:         b.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tree := decode[*conversation.Tree](t, rec)
	assert.Equal(t, a.ID, tree.Setup.AgentA.ID)

	rec = e.do(t, http.MethodPost, "/api/conversations/create-with-agents", simulation.CreateConversationWithAgentsRequest{
		SpecificScenario: "Noise after midnight",
		AgentAID:         a.ID,
		AgentBID:         "agent-missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)
	tree := e.createConversation(t)

	first := e.generate(t, tree.ID, "")
	assert.Equal(t, tree.Setup.AgentA.ID, first.Message.AgentID)
	second := e.generate(t, tree.ID, "")
	assert.Equal(t, tree.Setup.AgentB.ID, second.Message.AgentID)
	require.Len(t, second.CurrentPath, 2)

	rec := e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TreeResponse](t, rec)
	assert.Len(t, got.Tree.Nodes, 2)
	assert.Equal(t, second.NodeID, got.Tree.CurrentBranch)
	assert.Len(t, got.CurrentPath, 2)

	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/tree?format=yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	var fromYAML TreeResponse
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &fromYAML))
	assert.Equal(t, tree.ID, fromYAML.Tree.ID)
	assert.Len(t, fromYAML.CurrentPath, 2)

	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/tree?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/messages/"+first.NodeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode[struct {
		Messages conversation.Conversation `json:"messages"`
		NodeID   string                    `json:"node_id"`
	}](t, rec)
	require.Len(t, messages.Messages, 1)
	assert.Equal(t, first.NodeID, messages.NodeID)

	rec = e.do(t, http.MethodPost, "/api/conversations/"+tree.ID+"/branch/"+first.NodeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	alternative := e.generate(t, tree.ID, "")
	assert.Equal(t, tree.Setup.AgentB.ID, alternative.Message.AgentID)

	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/nodes/"+alternative.NodeID+"/siblings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	siblings := decode[struct {
		Siblings []string `json:"siblings"`
	}](t, rec)
	assert.Equal(t, []string{second.NodeID}, siblings.Siblings)

	rec = e.do(t, http.MethodGet, "/api/visualization/"+tree.ID+"/tree-data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	treeData := decode[visualization.TreeData](t, rec)
	assert.Equal(t, 3, treeData.TotalNodes)
	assert.Equal(t, 1, treeData.MaxDepth)
	require.NotNil(t, treeData.TreeData)
	assert.Len(t, treeData.TreeData.Children, 2)

	rec = e.do(t, http.MethodGet, "/api/visualization/"+tree.ID+"/graph-data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	graph := decode[visualization.GraphData](t, rec)
	assert.Len(t, graph.Nodes, 3)
	assert.Len(t, graph.Edges, 2)

	rec = e.do(t, http.MethodGet, "/api/conversations/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*conversation.Tree](t, rec), 1)

	rec = e.do(t, http.MethodDelete, "/api/conversations/"+tree.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/tree", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/visualization/"+tree.ID+"/graph-data", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInterventionsAndUserResponses(t *testing.T) {
	e := newTestEnv(t, nil)
	tree := e.createConversation(t)

	rec := e.do(t, http.MethodPost, "/api/conversations/apply-intervention", InterventionRequest{
		ConversationID:   tree.ID,
		InterventionType: "escalate",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	escalated := decode[simulation.TurnResult](t, rec)
	assert.Equal(t, providers.InterventionEscalate, escalated.Applied)
	assert.Equal(t, conversation.MoodAngry, escalated.Message.Mood)

	rec = e.do(t, http.MethodPost, "/api/conversations/apply-intervention", InterventionRequest{
		ConversationID:   tree.ID,
		InterventionType: "shout",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/conversations/user-response", UserResponseRequest{
		ConversationID: tree.ID,
		Message:        "Thank you, I am glad we can talk about it.",
		AgentID:        tree.Setup.AgentB.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode[simulation.TurnResult](t, rec)
	assert.True(t, user.Message.IsUserOverride)
	assert.Equal(t, conversation.MoodHappy, user.Message.Mood)
	assert.Len(t, user.CurrentPath, 2)

	rec = e.do(t, http.MethodPost, "/api/conversations/user-response", UserResponseRequest{
		ConversationID: tree.ID,
		AgentID:        tree.Setup.AgentB.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_interventions_total{type="escalate"} 1`)
}

func TestAnalyzeEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	tree := e.createConversation(t)

	rec := e.do(t, http.MethodPost, "/api/conversations/"+tree.ID+"/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	first := e.generate(t, tree.ID, "")
	e.generate(t, tree.ID, "")

	rec = e.do(t, http.MethodPost, "/api/conversations/"+tree.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[analysis.ConversationAnalysis](t, rec)
	assert.Equal(t, 2, result.TotalMessages)
	assert.NotEmpty(t, result.Summary)
	assert.Len(t, result.Suggestions, 2)
	assert.Contains(t, result.AnalysisHTML, "<h2>Dynamics</h2>")
	assert.False(t, result.Degraded)

	rec = e.do(t, http.MethodPost, "/api/conversations/"+tree.ID+"/analyze", AnalyzeRequest{NodeID: first.NodeID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[analysis.ConversationAnalysis](t, rec).TotalMessages)

	rec = e.do(t, http.MethodPost, "/api/conversations/missing/analyze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{ConversationID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/conversations/generate-response", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tree := e.createConversation(t)
	rec = e.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{
		ConversationID: tree.ID,
		NodeID:         "node-missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/conversations/"+tree.ID+"/messages/node-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/conversations/create", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInternalErrorDetail(t *testing.T) {
	dev := newTestEnv(t, nil)
	dev.scripted.Err = errors.New("provider offline")
	tree := dev.createConversation(t)
	rec := dev.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{ConversationID: tree.ID})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Detail, "provider offline")

	prod := newTestEnv(t, &settings.Settings{Environment: settings.Production, DefaultProvider: providers.Scripted, LogLevel: "info"})
	prod.scripted.Err = errors.New("provider offline")
	tree = prod.createConversation(t)
	rec = prod.do(t, http.MethodPost, "/api/conversations/generate-response", GenerateResponseRequest{ConversationID: tree.ID})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, hiddenDetail, decode[ErrorResponse](t, rec).Detail)

	// client errors keep their detail in production
	rec = prod.do(t, http.MethodGet, "/api/conversations/missing/tree", nil)
	assert.Contains(t, decode[ErrorResponse](t, rec).Detail, "missing")
}

func TestMiddleware(t *testing.T) {
	e := newTestEnv(t, nil)
	e.server.mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	handler := e.server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-fixed")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-fixed", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/conversations/create", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `test_http_requests_total{method="GET",path="GET /health",status="200"} 1`)
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	type line struct {
		text string
		err  error
	}
	var name, data string
	for {
		ch := make(chan line, 1)
		go func() {
			s, err := r.ReadString('\n')
			ch <- line{s, err}
		}()
		var l line
		select {
		case l = <-ch:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out reading event stream")
		}
		require.NoError(t, l.err)

		text := strings.TrimRight(l.text, "\n")
		switch {
		case text == "" && name != "":
			return name, data
		case strings.HasPrefix(text, "event: "):
			name = strings.TrimPrefix(text, "event: ")
		case strings.HasPrefix(text, "data: "):
			data = strings.TrimPrefix(text, "data: ")
		}
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, nil)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	tree := e.createConversation(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/conversations/"+tree.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, reader)
	require.Equal(t, EventReady, name)

	turn := e.generate(t, tree.ID, "")
	name, data := readEvent(t, reader)
	require.Equal(t, string(conversation.EventNodeAdded), name)
	var event conversation.TreeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, turn.NodeID, event.NodeID)
	assert.Equal(t, tree.ID, event.TreeID)

	rec := e.do(t, http.MethodDelete, "/api/conversations/"+tree.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	name, _ = readEvent(t, reader)
	assert.Equal(t, string(conversation.EventTreeDeleted), name)
}

func TestEventStreamUnknownConversation(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/conversations/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noBus := NewServer(e.service)
	rec = httptest.NewRecorder()
	noBus.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/missing/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	noBus.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newTestEnv(t, nil)
	s := NewServer(e.service)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, "127.0.0.1:0")
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
