package metrics

import (
	"context"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/pkg/errors"
)

// InstrumentedProvider times and counts the calls of a wrapped provider.
type InstrumentedProvider struct {
	name      string
	inner     providers.Provider
	collector *Collector
}

var _ providers.Provider = (*InstrumentedProvider)(nil)
var _ providers.Completer = (*InstrumentedProvider)(nil)

// Wrapper returns a providers.Wrapper that instruments every provider the
// factory builds.
func (c *Collector) Wrapper() providers.Wrapper {
	return func(name string, p providers.Provider) providers.Provider {
		return &InstrumentedProvider{name: name, inner: p, collector: c}
	}
}

func (p *InstrumentedProvider) Unwrap() providers.Provider {
	return p.inner
}

func (p *InstrumentedProvider) Generate(ctx context.Context, req providers.Request) (providers.Reply, error) {
	start := time.Now()
	reply, err := p.inner.Generate(ctx, req)
	status := StatusOK
	switch {
	case err != nil:
		status = StatusError
	case reply.Fallback:
		status = StatusFallback
	}
	p.collector.RecordProviderRequest(p.name, "generate", status, time.Since(start))
	return reply, err
}

func (p *InstrumentedProvider) AnalyzeMood(ctx context.Context, text string) (conversation.Mood, error) {
	start := time.Now()
	mood, err := p.inner.AnalyzeMood(ctx, text)
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	p.collector.RecordProviderRequest(p.name, "analyze_mood", status, time.Since(start))
	return mood, err
}

func (p *InstrumentedProvider) CompleteJSON(ctx context.Context, req providers.CompletionRequest) (string, error) {
	completer, ok := p.inner.(providers.Completer)
	if !ok {
		return "", errors.Errorf("provider %s cannot run completions", p.name)
	}
	start := time.Now()
	out, err := completer.CompleteJSON(ctx, req)
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	p.collector.RecordProviderRequest(p.name, "complete", status, time.Since(start))
	return out, err
}
