package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iml130/mf-plugin/internal/config"
	"github.com/iml130/mf-plugin/internal/objectstore"
	"github.com/iml130/mf-plugin/internal/store"
)

// SnapshotOptions holds flags for the snapshot commands.
type SnapshotOptions struct {
	*RootOptions
	Config   string
	Database string
	RunID    string

	// NewClient overrides the object store client (for testing).
	NewClient func(objectstore.Config) (objectstore.Client, error)
}

// SnapshotInfo describes the latest snapshot of a run.
type SnapshotInfo struct {
	RunID string `json:"run_id"`
	Seq   int64  `json:"seq"`
	Hash  string `json:"hash"`
	Tasks int    `json:"tasks"`
	Key   string `json:"key,omitempty"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return newSnapshotCommand(&SnapshotOptions{RootOptions: rootOpts})
}

func newSnapshotCommand(opts *SnapshotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and export run snapshots",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.RunID, "run", "", "run id (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("run")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the latest snapshot of a run as canonical JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotShow(opts, cmd)
		},
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Upload the latest snapshot of a run to the object store",
		Long: `Upload the latest snapshot of a run to the configured S3-compatible
object store. The object key is <prefix>/<run>/<seq>-<hash>.json, so
exporting the same snapshot twice overwrites one object.

The object store is configured in the objectstore section of the
configuration file or with MFEXEC_MINIO_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotExport(opts, cmd)
		},
	}
	export.Flags().StringVarP(&opts.Config, "config", "c", "", "path to the configuration file")

	cmd.AddCommand(show, export)
	return cmd
}

// latestSnapshot reads and canonicalizes the newest snapshot of the run.
func latestSnapshot(ctx context.Context, opts *SnapshotOptions, formatter *OutputFormatter) ([]byte, SnapshotInfo, error) {
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	defer st.Close()

	snap, hash, err := st.LatestSnapshot(ctx, opts.RunID)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeNoSnapshot, err.Error(), nil)
		return nil, SnapshotInfo{}, WrapExitError(ExitCommandError, "no snapshot", err)
	}
	if err != nil {
		return nil, SnapshotInfo{}, WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	body, _, err := store.CanonicalSnapshot(snap)
	if err != nil {
		return nil, SnapshotInfo{}, WrapExitError(ExitCommandError, "failed to encode snapshot", err)
	}
	return body, SnapshotInfo{RunID: opts.RunID, Seq: snap.Seq, Hash: hash, Tasks: len(snap.Tasks)}, nil
}

func runSnapshotShow(opts *SnapshotOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	body, info, err := latestSnapshot(cmd.Context(), opts, formatter)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Snapshot of %s at seq %d (%s)", info.RunID, info.Seq, info.Hash)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return err
}

func runSnapshotExport(opts *SnapshotOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := cfg.ObjectStore.Validate(); err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid object store configuration", err)
	}

	body, info, err := latestSnapshot(ctx, opts, formatter)
	if err != nil {
		return err
	}

	newClient := opts.NewClient
	if newClient == nil {
		newClient = func(c objectstore.Config) (objectstore.Client, error) {
			return objectstore.NewMinIOClient(c)
		}
	}
	client, err := newClient(cfg.ObjectStore)
	if err != nil {
		_ = formatter.Error(ErrCodeObjectStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to create object store client", err)
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg.ObjectStore); err != nil {
		_ = formatter.Error(ErrCodeObjectStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "object store unavailable", err)
	}
	key, err := objectstore.ExportSnapshot(ctx, client, cfg.ObjectStore, info.RunID, info.Seq, info.Hash, body)
	if err != nil {
		_ = formatter.Error(ErrCodeObjectStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "export failed", err)
	}
	info.Key = key

	if opts.Format == "json" {
		return formatter.Success(info)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %s seq %d to s3://%s/%s\n", info.RunID, info.Seq, cfg.ObjectStore.Bucket, key)
	return nil
}
