package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/manifest"
)

// ValidationError describes one problem found while loading a
// manifest directory.
type ValidationError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Spaces int               `json:"spaces,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate a runtime manifest",
		Long: `Validate the CUE-authored runtime manifest: the space list, each
space's provider configuration, and the proxy's recursion/array limits.

Performs a full load of the manifest directory without starting any
provider connections.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, manifestDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("loading manifest from %s", manifestDir)

	m, err := manifest.Load(manifestDir)
	if err != nil {
		var loadErr *manifest.LoadError
		if errors.As(err, &loadErr) {
			return outputValidationErrors(formatter, []ValidationError{{Message: loadErr.Message}})
		}
		return outputValidationErrors(formatter, []ValidationError{{Message: err.Error()}})
	}

	formatter.VerboseLog("loaded %d space(s)", len(m.Spaces))
	for _, s := range m.Spaces {
		formatter.VerboseLog("space %q: provider=%s", s.Name, s.Provider)
	}

	return outputValidateSuccess(formatter, len(m.Spaces))
}

// outputValidateSuccess outputs a successful validation result.
func outputValidateSuccess(formatter *OutputFormatter, spaceCount int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Spaces: spaceCount})
	}

	fmt.Fprintf(formatter.Writer, "✓ manifest valid (%d space(s))\n", spaceCount)
	return nil
}

// outputValidationErrors outputs validation failures and returns the
// exit error the command should propagate.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	result := ValidationResult{Valid: false, Errors: errs}

	if formatter.Format == "json" {
		_ = formatter.Error("E_MANIFEST_INVALID", "manifest validation failed", result)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ manifest invalid")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d: %s\n", e.Line, e.Message)
			continue
		}
		fmt.Fprintln(formatter.Writer, "  "+e.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
