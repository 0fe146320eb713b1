package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Action string // optional - filter timeline to a single action
}

// TraceStats summarizes a scenario's reactive wave.
type TraceStats struct {
	TotalSteps      int `json:"total_steps"`
	TriggeringSteps int `json:"triggering_steps"`
	DistinctActions int `json:"distinct_actions"`
}

// TraceResult holds the complete trace output for one scenario.
type TraceResult struct {
	Scenario string                 `json:"scenario"`
	Timeline []harness.TriggerEvent `json:"timeline"`
	Stats    TraceStats             `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario-file>",
		Short: "Print a reactive wave trace",
		Long: `Run a harness scenario and print the resulting reactive wave: which
flow step wrote to which entity and path, and which registered
actions it triggered.

Examples:
  weave trace testdata/scenarios/reviewer_cascade.yaml
  weave trace --action reviewerCount ./scenarios/cascade.yaml
  weave trace --format json ./scenarios/cascade.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "filter the timeline to steps that triggered this action")

	return cmd
}

func runTrace(opts *TraceOptions, scenarioPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	timeline := filterTimeline(result.Trace, opts.Action)
	trace := TraceResult{
		Scenario: scenario.Name,
		Timeline: timeline,
		Stats:    buildTraceStats(timeline),
	}

	if formatter.Format == "json" {
		return formatter.Success(trace)
	}
	return outputTraceText(formatter, trace)
}

// filterTimeline narrows trace to steps that triggered action, or
// returns it unchanged when action is empty.
func filterTimeline(trace []harness.TriggerEvent, action string) []harness.TriggerEvent {
	if action == "" {
		return trace
	}

	var filtered []harness.TriggerEvent
	for _, event := range trace {
		for _, triggered := range event.Triggered {
			if string(triggered) == action {
				filtered = append(filtered, event)
				break
			}
		}
	}
	return filtered
}

func buildTraceStats(timeline []harness.TriggerEvent) TraceStats {
	distinct := map[string]bool{}
	triggering := 0
	for _, event := range timeline {
		if len(event.Triggered) > 0 {
			triggering++
		}
		for _, a := range event.Triggered {
			distinct[string(a)] = true
		}
	}
	return TraceStats{
		TotalSteps:      len(timeline),
		TriggeringSteps: triggering,
		DistinctActions: len(distinct),
	}
}

func outputTraceText(formatter *OutputFormatter, trace TraceResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Trace for scenario: %s\n", trace.Scenario)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(trace.Timeline) == 0 {
		fmt.Fprintln(w, "  (no steps)")
	} else {
		for _, event := range trace.Timeline {
			fmt.Fprintf(w, "  [%d] write %s%s\n", event.StepIndex, event.Entity, formatTracePath(event.Path))
			if len(event.Triggered) > 0 {
				fmt.Fprintf(w, "       triggered: %v\n", event.Triggered)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Steps:      %d\n", trace.Stats.TotalSteps)
	fmt.Fprintf(w, "  Triggering Steps: %d\n", trace.Stats.TriggeringSteps)
	fmt.Fprintf(w, "  Distinct Actions: %d\n", trace.Stats.DistinctActions)

	return nil
}

func formatTracePath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	out := ""
	for _, p := range path {
		out += "/" + p
	}
	return out
}
