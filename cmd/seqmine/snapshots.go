package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/seqmine/pkg/checkpoint"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/pipeline"
)

func (a *app) snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect and manage per-generation forest snapshots",
		Long: `Snapshots are recorded by "mine --checkpoint <backend>" after segmentation,
after every growth generation and after pruning.`,
	}
	cmd.AddCommand(a.snapshotsListCmd(), a.snapshotsRestoreCmd(), a.snapshotsCleanupCmd())
	return cmd
}

func (a *app) backend(cmd *cobra.Command) (checkpoint.Backend, func() error, error) {
	b, closeFn, err := pipeline.OpenBackend(cmd.Context(), a.cfg.Checkpoint)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, seqerr.New(seqerr.CodeMalformedInput, "no checkpoint backend configured, use --checkpoint")
	}
	return b, closeFn, nil
}

func (a *app) snapshotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [run-id]",
		Short: "List snapshots, optionally of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			prefix := ""
			if len(args) == 1 {
				prefix = args[0] + "."
			}
			snaps, err := b.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				a.printf("No snapshots in %s.\n", b.Name())
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERIES\tGEN\tPHASE\tNODES\tCREATED")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
					s.ID, s.Series, s.Generation, s.Phase, s.Nodes, s.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func (a *app) snapshotsRestoreCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Write a snapshot's forest as a manifest",
		Long: `Write the forest of a snapshot so it can be counted, pruned or exported.

Examples:
  seqmine snapshots restore --out cpu.forest.json.gz run1.cpu.g0003`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			forest, snap, err := checkpoint.Restore(cmd.Context(), b, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = manifestName(snap.Series) + ".forest.json.gz"
			}
			if err := writeForestFile(out, forest); err != nil {
				return err
			}
			a.printf("restored %s (%s, generation %d, %d nodes) to %s\n",
				snap.ID, snap.Phase, snap.Generation, snap.Nodes, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output manifest path")
	return cmd
}

func (a *app) snapshotsCleanupCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete snapshots older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if !cmd.Flags().Changed("max-age") {
				maxAge = a.cfg.Checkpoint.MaxAge
			}
			n, err := checkpoint.Cleanup(cmd.Context(), b, maxAge)
			if err != nil {
				return err
			}
			a.printf("Deleted %d snapshots older than %s from %s.\n", n, maxAge, b.Name())
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Age limit (defaults to checkpoint.max_age)")
	return cmd
}
