package cli

import (
	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Execute a harness scenario file",
		Long: `Run a harness scenario against a fresh in-memory document store and
reactive engine, and report the resulting trigger trace and the
outcome of its assertions.

Example:
  weave run testdata/scenarios/reviewer_cascade.yaml
  weave run --format json ./scenarios/read_your_writes.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	return cmd
}

// RunOutput is the JSON/text payload describing one scenario execution.
type RunOutput struct {
	Scenario string                 `json:"scenario"`
	Pass     bool                   `json:"pass"`
	Trace    []harness.TriggerEvent `json:"trace"`
	Errors   []string               `json:"errors,omitempty"`
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error("E_SCENARIO_LOAD", "failed to load scenario", err.Error())
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	formatter.VerboseLog("running scenario %q in space %q", scenario.Name, scenario.Space)

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error("E_SCENARIO_RUN", "scenario execution failed", err.Error())
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	out := RunOutput{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Trace:    result.Trace,
		Errors:   result.Errors,
	}

	if !result.Pass {
		_ = formatter.Error("E_ASSERTION_FAILED", "scenario assertions failed", out)
		return NewExitError(ExitFailure, "scenario assertions failed")
	}

	return formatter.Success(out)
}
