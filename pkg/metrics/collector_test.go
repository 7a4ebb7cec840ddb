package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTreeEvents(t *testing.T) {
	c := NewCollector("test")
	m := conversation.NewManager(conversation.WithEventSinks(c))

	tree, err := m.CreateTree(conversation.ConversationSetup{})
	require.NoError(t, err)
	_, err = m.CreateTree(conversation.ConversationSetup{})
	require.NoError(t, err)
	_, err = m.AddMessage(tree.ID, conversation.NewMessage("a-1", "hi", conversation.MoodNeutral), "")
	require.NoError(t, err)
	require.NoError(t, m.DeleteTree(tree.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.treesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.treeEventsTotal.WithLabelValues(string(conversation.EventTreeCreated))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.treeEventsTotal.WithLabelValues(string(conversation.EventTreeDeleted))))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")
	a.RecordIntervention("escalate")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.interventions.WithLabelValues("escalate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.interventions.WithLabelValues("escalate")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	c := NewCollector("test")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.Handle("GET /metrics", c.Handler())
	handler := c.Middleware(mux)

	for _, path := range []string{"/items/1", "/items/2", "/nowhere"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "GET /items/{id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", unmatchedPath, "404")))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

// unwrapOnly hides the Flush method of the writer it wraps.
type unwrapOnly struct {
	http.ResponseWriter
}

func (u *unwrapOnly) Unwrap() http.ResponseWriter {
	return u.ResponseWriter
}

func TestMiddlewareFlushesThroughWrappedWriters(t *testing.T) {
	c := NewCollector("test")
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("event: ready\n\n"))
		require.NoError(t, http.NewResponseController(w).Flush())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(&unwrapOnly{ResponseWriter: rec}, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "event: ready\n\n", rec.Body.String())
}

func TestInstrumentedProvider(t *testing.T) {
	c := NewCollector("test")
	scripted := providers.NewScriptedProvider()
	p := c.Wrapper()(providers.Scripted, scripted)

	req := providers.Request{
		Agent: conversation.AgentConfig{ID: "a-1", Name: "Ana"},
		Setup: conversation.ConversationSetup{SpecificScenario: "noise"},
	}
	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	_, err = p.AnalyzeMood(context.Background(), "I am so happy")
	require.NoError(t, err)
	_, err = p.(providers.Completer).CompleteJSON(context.Background(), providers.CompletionRequest{})
	require.NoError(t, err)

	scripted.Err = errors.New("down")
	_, err = p.Generate(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues(providers.Scripted, "generate", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues(providers.Scripted, "generate", StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues(providers.Scripted, "analyze_mood", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues(providers.Scripted, "complete", StatusOK)))
	assert.Same(t, scripted, p.(*InstrumentedProvider).Unwrap())
}

type fallbackProvider struct{ providers.ScriptedProvider }

func (f *fallbackProvider) Generate(context.Context, providers.Request) (providers.Reply, error) {
	return providers.FallbackReply(), nil
}

func TestInstrumentedProviderCountsFallbacks(t *testing.T) {
	c := NewCollector("test")
	p := c.Wrapper()("openai", &fallbackProvider{})
	reply, err := p.Generate(context.Background(), providers.Request{})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues("openai", "generate", StatusFallback)))
}
