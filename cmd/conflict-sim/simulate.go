package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-go-golems/conflict-sim/pkg/analysis"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/go-go-golems/conflict-sim/pkg/events"
	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/go-go-golems/conflict-sim/pkg/settings"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type simulateOptions struct {
	Request       simulation.CreateConversationRequest
	ScenarioFile  string
	Turns         int
	Interventions []string
	Output        string
	Analyze       bool
	// EventsOut, if set, receives a line per tree event while the
	// conversation is generated.
	EventsOut io.Writer
}

// SimulationReport is what simulate prints.
type SimulationReport struct {
	ConversationID string                         `yaml:"conversation_id"`
	Setup          conversation.ConversationSetup `yaml:"setup"`
	Messages       conversation.Conversation      `yaml:"messages"`
	Fallbacks      int                            `yaml:"fallbacks,omitempty"`
	Analysis       *analysis.ConversationAnalysis `yaml:"analysis,omitempty"`
}

func newSimulateCommand() *cobra.Command {
	opts := &simulateOptions{}
	printEvents := false
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a conversation between two inline agents without starting the server",
		Example: `  conflict-sim simulate --default-provider scripted \
    --scenario "Who forgot to pay the electricity bill" \
    --agent-a-name Ana --agent-a-traits "direct, impatient" \
    --agent-b-name Ben --agent-b-traits "avoidant" \
    --turns 6 --intervention 4=escalate --output text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyScenarioFile(cmd.Flags(), opts); err != nil {
				return err
			}
			if printEvents {
				opts.EventsOut = cmd.ErrOrStderr()
			}
			return runSimulate(cmd.Context(), appSettings, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Request.GeneralSetting, "setting", "", "General setting of the conflict")
	f.StringVar(&opts.Request.SpecificScenario, "scenario", "", "Specific scenario the agents argue about")
	f.StringVar(&opts.Request.AgentAName, "agent-a-name", "Agent A", "Name of the first agent")
	f.StringVar(&opts.Request.AgentATraits, "agent-a-traits", "assertive", "Personality traits of the first agent")
	f.StringVar(&opts.Request.AgentBName, "agent-b-name", "Agent B", "Name of the second agent")
	f.StringVar(&opts.Request.AgentBTraits, "agent-b-traits", "defensive", "Personality traits of the second agent")
	f.StringVar(&opts.Request.Provider, "provider", "", "Provider both agents use (default: --default-provider)")
	f.StringVar(&opts.Request.Model, "model", "", "Model both agents use")
	f.IntVar(&opts.Turns, "turns", 4, "Number of turns to generate")
	f.StringArrayVar(&opts.Interventions, "intervention", nil, "Intervention as TURN=TYPE, e.g. 3=escalate (repeatable)")
	f.StringVar(&opts.Output, "output", "yaml", "Output format (yaml, text)")
	f.BoolVar(&opts.Analyze, "analyze", false, "Run the observer analysis at the end")
	f.StringVar(&opts.ScenarioFile, "scenario-file", "", "YAML or JSON file holding the scenario, flags override its fields")
	f.BoolVar(&printEvents, "print-events", false, "Print tree events to stderr while generating")

	return cmd
}

// applyScenarioFile loads opts.ScenarioFile, if set, and applies the
// scenario flags that were given explicitly on top of it.
func applyScenarioFile(flags *pflag.FlagSet, opts *simulateOptions) error {
	if opts.ScenarioFile == "" {
		return nil
	}
	req, err := simulation.LoadRequestFromFile(opts.ScenarioFile)
	if err != nil {
		return err
	}

	overrides := map[string]struct {
		dst *string
		src string
	}{
		"setting":        {&req.GeneralSetting, opts.Request.GeneralSetting},
		"scenario":       {&req.SpecificScenario, opts.Request.SpecificScenario},
		"agent-a-name":   {&req.AgentAName, opts.Request.AgentAName},
		"agent-a-traits": {&req.AgentATraits, opts.Request.AgentATraits},
		"agent-b-name":   {&req.AgentBName, opts.Request.AgentBName},
		"agent-b-traits": {&req.AgentBTraits, opts.Request.AgentBTraits},
		"provider":       {&req.Provider, opts.Request.Provider},
		"model":          {&req.Model, opts.Request.Model},
	}
	for name, o := range overrides {
		if flags.Changed(name) {
			*o.dst = o.src
		}
	}
	opts.Request = *req
	return nil
}

// parseInterventions reads TURN=TYPE pairs. Turns are 1-based.
func parseInterventions(specs []string, turns int) (map[int]providers.InterventionType, error) {
	ret := map[int]providers.InterventionType{}
	for _, spec := range specs {
		turnStr, kindStr, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, errors.Errorf("invalid intervention %q, expected TURN=TYPE", spec)
		}
		turn, err := strconv.Atoi(strings.TrimSpace(turnStr))
		if err != nil || turn < 1 || turn > turns {
			return nil, errors.Errorf("invalid intervention turn %q, expected 1..%d", turnStr, turns)
		}
		kind, err := providers.ParseInterventionType(kindStr)
		if err != nil {
			return nil, err
		}
		ret[turn] = kind
	}
	return ret, nil
}

func runSimulate(ctx context.Context, s *settings.Settings, opts *simulateOptions, w io.Writer) error {
	if opts.Turns < 1 {
		return errors.Errorf("turns must be positive, got %d", opts.Turns)
	}
	interventions, err := parseInterventions(opts.Interventions, opts.Turns)
	if err != nil {
		return err
	}
	if opts.Output != "yaml" && opts.Output != "text" {
		return errors.Errorf("unknown output format %q", opts.Output)
	}

	var sinks []conversation.EventSink
	var printer *events.Printer
	if opts.EventsOut != nil {
		printer = events.NewPrinter(opts.EventsOut)
		sinks = append(sinks, printer)
	}
	service, err := newService(s, nil, sinks)
	if err != nil {
		return err
	}

	tree, err := service.CreateConversation(ctx, opts.Request)
	if err != nil {
		return err
	}
	if printer != nil {
		printer.AddAgents(tree.Setup.AgentA, tree.Setup.AgentB)
	}

	report := &SimulationReport{
		ConversationID: tree.ID,
		Setup:          tree.Setup,
	}
	for turn := 1; turn <= opts.Turns; turn++ {
		var result *simulation.TurnResult
		if kind, ok := interventions[turn]; ok {
			result, err = service.ApplyIntervention(ctx, tree.ID, "", kind)
		} else {
			result, err = service.GenerateResponse(ctx, tree.ID, "")
		}
		if err != nil {
			return errors.Wrapf(err, "turn %d failed", turn)
		}
		if result.Fallback {
			report.Fallbacks++
		}
		report.Messages = result.CurrentPath
	}

	if opts.Analyze {
		report.Analysis, err = service.Analyze(ctx, tree.ID, "")
		if err != nil {
			return err
		}
	}

	if opts.Output == "text" {
		return writeTextReport(w, report)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func writeTextReport(w io.Writer, report *SimulationReport) error {
	var sb strings.Builder
	setup := report.Setup
	fmt.Fprintf(&sb, "Scenario: %s\n", setup.SpecificScenario)
	if setup.GeneralSetting != "" {
		fmt.Fprintf(&sb, "Setting:  %s\n", setup.GeneralSetting)
	}
	sb.WriteString("\n")
	for i, m := range report.Messages {
		fmt.Fprintf(&sb, "%2d. [%s] %s: %s\n", i+1, m.Mood, setup.AgentName(m.AgentID), m.Text)
	}
	if report.Fallbacks > 0 {
		fmt.Fprintf(&sb, "\n%d turn(s) used the fallback reply\n", report.Fallbacks)
	}

	if a := report.Analysis; a != nil {
		fmt.Fprintf(&sb, "\nEscalations: %d, de-escalations: %d\n", len(a.EscalationPoints), len(a.DeEscalationPoints))
		fmt.Fprintf(&sb, "Summary: %s\n", a.Summary)
		for _, suggestion := range a.Suggestions {
			fmt.Fprintf(&sb, "  - %s\n", suggestion)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
