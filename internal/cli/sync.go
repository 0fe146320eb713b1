package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weftrun/weave/internal/addr"
	"github.com/weftrun/weave/internal/docstore"
	"github.com/weftrun/weave/internal/manifest"
	"github.com/weftrun/weave/internal/queryproxy"
	"github.com/weftrun/weave/internal/reactive"
	"github.com/weftrun/weave/internal/replica"
	"github.com/weftrun/weave/internal/scheduler"
	"github.com/weftrun/weave/internal/syncmgr"
	"github.com/weftrun/weave/internal/txn"
	"github.com/weftrun/weave/internal/value"
)

const syncMediaType = "application/json"

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	BaseDir string
}

// SyncResult reports the outcome of one manifest-driven write cycle.
type SyncResult struct {
	Space     string   `json:"space"`
	Entity    string   `json:"entity"`
	Triggered []string `json:"triggered,omitempty"`
	Synced    bool     `json:"synced"`
	Swept     int      `json:"swept"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <manifest-dir> <space> <entity-id> <path> <value-json>",
		Short: "Drive one write through the manifest-configured sync pipeline",
		Long: `Load a manifest, open its configured provider for the given space, and
write value-json at path within entity-id through the query proxy (C6),
inside a transaction (C7). The commit's triggered actions run through a
scheduler (C10) bound to the reactive engine (C5); once the scheduler
reports idle, outstanding pushes are flushed to the provider and the
space's zero-refcount documents are swept (C9, C4).

path is a "/"-separated list of object keys and array indices; an
empty string addresses the entity's root.

Example:
  weave sync ./manifests/home home entity-1 status '"closed"'`,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], args[1], args[2], args[3], args[4], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.BaseDir, "base-dir", "", "base directory for resolving relative provider paths (defaults to manifest-dir)")

	return cmd
}

func runSync(opts *SyncOptions, manifestDir, space, entityArg, pathArg, valueArg string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(manifestDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	if _, ok := m.SpaceByName(space); !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("space %q not configured in manifest", space))
	}

	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = manifestDir
	}

	var decoded any
	if err := json.Unmarshal([]byte(valueArg), &decoded); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse value-json", err)
	}
	newValue, err := value.FromAny(decoded)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to convert value-json", err)
	}

	var path value.Path
	if pathArg != "" {
		path = value.Path(strings.Split(pathArg, "/"))
	}

	docs := docstore.New()
	repl := replica.New()
	engine := reactive.New()
	sched := scheduler.New()
	mgr := syncmgr.New(docs, m.NewProviderFactory(baseDir)).WithSchemas(m.SchemaForSpace)

	id := value.EntityID(entityArg)
	entityAddr := addr.Address{Space: space, ID: id, MediaType: syncMediaType}

	handle, _, err := docs.GetByEntityID(space, id, syncMediaType, true, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open entity", err)
	}
	cancelWatch := mgr.WatchDocument(space, handle)
	defer cancelWatch()
	handle.Release()

	rootSchema, _ := m.SchemaForSpace(space)

	tx := txn.New(docs, repl)

	targetAddr := entityAddr
	targetAddr.Path = path
	before, err := tx.Read(targetAddr)
	if err != nil {
		before = value.Null{}
	}

	formatter.VerboseLog("writing entity %q in space %q at path %q", entityArg, space, pathArg)

	root := queryproxy.NewWithSchema(tx, entityAddr, m.Limits.RecursionLimit, rootSchema)
	if err := root.SetPath(path, newValue); err != nil {
		return WrapExitError(ExitCommandError, "write failed", err)
	}

	after, err := tx.Read(targetAddr)
	if err != nil {
		after = value.Null{}
	}

	actionID, _ := sched.Register(func() {
		if err := mgr.Sync(ctx, space, id, rootSchema); err != nil {
			formatter.VerboseLog("sync of %s/%s failed: %v", space, id, err)
		}
	})
	engine.Register(actionID, []addr.Address{targetAddr})

	if _, err := tx.Commit(); err != nil {
		return WrapExitError(ExitCommandError, "commit failed", err)
	}

	triggeredSet := engine.DetermineTriggeredActions(space, id, syncMediaType, before, after, path)
	sched.Trigger(triggeredSet)
	<-sched.Idle()

	var triggered []string
	if triggeredSet[actionID] {
		triggered = append(triggered, string(actionID))
	}

	if err := mgr.FlushPushes(ctx, true); err != nil {
		return WrapExitError(ExitCommandError, "flushing pushes failed", err)
	}
	swept := docs.Sweep(space)

	result := SyncResult{
		Space:     space,
		Entity:    entityArg,
		Triggered: triggered,
		Synced:    mgr.Synced(),
		Swept:     swept,
	}
	return formatter.Success(result)
}
