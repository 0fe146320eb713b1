package cli

import (
	"context"
	"reflect"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/provider"
	"github.com/weftrun/weave/internal/replica"
	"github.com/weftrun/weave/internal/value"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Space    string
	Since    int64
}

// EntityReplayResult reports one entity's confirmed version after replay.
type EntityReplayResult struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Space           string                `json:"space"`
	RecordsReplayed int                   `json:"records_replayed"`
	Entities        []EntityReplayResult  `json:"entities"`
	Deterministic   bool                  `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-apply a recorded commit log against a fresh replica",
		Long: `Drain a space's provider outbox and integrate each recorded commit
into a fresh replica, twice, to verify the integration is deterministic.

Exit codes:
  0 - replay is deterministic
  1 - determinism verification failed (differences detected)
  2 - command error (database not found, etc.)

Examples:
  weave replay --db ./home.db --space home
  weave replay --db ./home.db --space home --since 10 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the provider's SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Space, "space", "", "space name (required)")
	_ = cmd.MarkFlagRequired("space")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "outbox cursor to replay from")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, err := provider.Open(opts.Database, opts.Space)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open provider database", err)
	}
	defer p.Close()

	records, _, err := p.Sink(ctx, opts.Since)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to drain outbox", err)
	}

	formatter.VerboseLog("replaying %d record(s) for space %q", len(records), opts.Space)

	firstPass := integrateAll(opts.Space, records)
	secondPass := integrateAll(opts.Space, records)
	deterministic := reflect.DeepEqual(firstPass, secondPass)

	ids := make([]string, 0, len(firstPass))
	for id := range firstPass {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	entities := make([]EntityReplayResult, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, EntityReplayResult{ID: id, Version: firstPass[value.EntityID(id)]})
	}

	result := ReplayResult{
		Space:           opts.Space,
		RecordsReplayed: len(records),
		Entities:        entities,
		Deterministic:   deterministic,
	}

	return outputReplayResult(formatter, result)
}

// integrateAll replays records into a fresh replica and returns the
// confirmed version each entity settled on, keyed by entity id.
func integrateAll(spaceName string, records []provider.Record) map[value.EntityID]int64 {
	repl := replica.New()
	versions := map[value.EntityID]int64{}
	for _, rec := range records {
		perEntity := map[value.EntityID]value.Value{rec.ID: rec.Value}
		if _, err := repl.Integrate(spaceName, replica.ServerCommit{Version: rec.Version}, perEntity); err == nil {
			versions[rec.ID] = rec.Version
		}
	}
	return versions
}

func outputReplayResult(formatter *OutputFormatter, result ReplayResult) error {
	if !result.Deterministic {
		_ = formatter.Error("E_DETERMINISM", "replay determinism verification failed", result)
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return formatter.Success(result)
}
