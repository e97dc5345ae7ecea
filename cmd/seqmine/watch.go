package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/seqmine/pkg/tui"
	"github.com/logflow/seqmine/pkg/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		debounce time.Duration
		mf       mineFlags
	)
	cmd := &cobra.Command{
		Use:   "watch <input>...",
		Short: "Mine inputs again whenever they change",
		Long: `Mine the inputs once, then watch them and mine a changed input again after
it has been quiet for --debounce. Runs for the same input never overlap; a
change during a run is mined when the run returns.

Examples:
  seqmine watch cpu.csv
  seqmine watch --debounce 2s -o out/ cpu.csv mem.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.watch(ctx, args, debounce, mf)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a change is mined")
	cmd.Flags().IntVar(&mf.variants, "variants", 5, "Patterns listed per series (0 = none, -1 = all)")
	cmd.Flags().StringVar(&mf.save, "save", "", "Directory for forest and pattern-type manifests")
	cmd.Flags().BoolVarP(&mf.quiet, "quiet", "q", false, "Only print the summary line")
	return cmd
}

func (a *app) watch(ctx context.Context, paths []string, debounce time.Duration, mf mineFlags) error {
	w, err := watch.New(debounce, a.logger())
	if err != nil {
		return err
	}
	defer w.Close()
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			return err
		}
	}

	tui.Header(a.stdout, version)
	if _, err := a.mine(ctx, paths, mf); err != nil {
		a.printf("initial run failed: %v\n", err)
	}

	w.OnChange = func(ctx context.Context, path string) error {
		a.printf("%s changed\n", path)
		_, err := a.mine(ctx, []string{path}, mf)
		return err
	}
	w.OnError = func(path string, err error) {
		a.printf("%s: %v\n", path, err)
	}
	a.printf("watching %d inputs, Ctrl+C to stop\n", len(paths))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
