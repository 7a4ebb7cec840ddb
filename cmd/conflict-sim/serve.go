package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-go-golems/conflict-sim/pkg/agents"
	"github.com/go-go-golems/conflict-sim/pkg/analysis"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/events"
	"github.com/go-go-golems/conflict-sim/pkg/metrics"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/go-go-golems/conflict-sim/pkg/server"
	"github.com/go-go-golems/conflict-sim/pkg/settings"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conflict simulation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, appSettings)
		},
	}
}

// observerModel picks the analysis model. The configured observer model
// names an OpenAI model, other providers use their own default.
func observerModel(s *settings.Settings) string {
	if s.DefaultProvider == providers.OpenAI {
		return s.ObserverModel
	}
	return ""
}

// newService wires the simulation service and reports every tree change to
// sinks.
func newService(
	s *settings.Settings,
	wrapper providers.Wrapper,
	sinks []conversation.EventSink,
	options ...simulation.Option,
) (*simulation.Service, error) {
	var factoryOptions []providers.FactoryOption
	if wrapper != nil {
		factoryOptions = append(factoryOptions, providers.WithWrapper(wrapper))
	}
	factory := providers.NewFactory(s.DefaultProvider, s.ProviderConfigs(), factoryOptions...)

	completer, err := factory.Completer("")
	if err != nil {
		return nil, errors.Wrap(err, "could not set up the observer")
	}
	analyzer := analysis.NewAnalyzer(completer, analysis.WithModel(observerModel(s)))

	manager := conversation.NewManager(conversation.WithEventSinks(sinks...))
	options = append([]simulation.Option{simulation.WithAnalyzer(analyzer)}, options...)
	return simulation.NewService(manager, agents.NewStore(), factory, options...), nil
}

func runServe(ctx context.Context, s *settings.Settings) error {
	collector := metrics.NewCollector(metrics.DefaultNamespace)

	bus, err := events.NewBus(events.WithLogger(events.NewZerologAdapter(log.Logger)))
	if err != nil {
		return err
	}
	defer func() {
		_ = bus.Close()
	}()
	bus.AddHandler("log", events.LogHandler)

	service, err := newService(s, collector.Wrapper(),
		[]conversation.EventSink{bus, collector},
		simulation.WithInterventionRecorder(collector),
	)
	if err != nil {
		return err
	}

	srv := server.NewServer(service,
		server.WithBus(bus),
		server.WithMetrics(collector),
		server.WithSettings(s),
	)

	log.Info().
		Str("environment", s.Environment).
		Str("default_provider", s.DefaultProvider).
		Msg("Starting conflict simulation service")
	return srv.Run(ctx, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
}
