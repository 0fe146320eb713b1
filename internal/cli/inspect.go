package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/provider"
	"github.com/weftrun/weave/internal/value"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Space    string
}

// InspectResult reports one entity's confirmed state as seen by a provider.
type InspectResult struct {
	Space     string      `json:"space"`
	ID        string      `json:"id"`
	Found     bool        `json:"found"`
	Version   int64       `json:"version,omitempty"`
	Hash      string      `json:"hash,omitempty"`
	Tombstone bool        `json:"tombstone,omitempty"`
	Value     interface{} `json:"value,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <entity-id>",
		Short: "Print a single entity's confirmed state from a provider",
		Long: `Fetch the confirmed {version, hash, value} record a provider holds
for one entity, accepting either the "{\"/\":...}" sigil form or the
"of:" URI form for <entity-id>.

Examples:
  weave inspect --db ./home.db --space home 'of:3af2...'
  weave inspect --db ./home.db --space home --format json 'of:3af2...'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the provider's SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Space, "space", "", "space name (required)")
	_ = cmd.MarkFlagRequired("space")

	return cmd
}

func runInspect(opts *InspectOptions, rawID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	id, err := value.EntityIDFromURI(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity id", err)
	}

	p, err := provider.Open(opts.Database, opts.Space)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open provider database", err)
	}
	defer p.Close()

	formatter.VerboseLog("looking up %s in space %q", id.ToURI(), opts.Space)

	rec, found, err := p.Get(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}

	result := InspectResult{Space: opts.Space, ID: id.ToURI(), Found: found}
	if found {
		result.Version = rec.Version
		result.Hash = rec.Hash
		result.Tombstone = rec.Tombstone
		if rec.Value != nil {
			result.Value = value.ToAny(rec.Value)
		}
	}

	return formatter.Success(result)
}
