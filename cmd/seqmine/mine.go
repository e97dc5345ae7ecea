package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/graphio"
	"github.com/logflow/seqmine/pkg/ingest"
	"github.com/logflow/seqmine/pkg/pipeline"
	"github.com/logflow/seqmine/pkg/temporal"
	"github.com/logflow/seqmine/pkg/tui"
)

type mineFlags struct {
	variants int
	save     string
	progress bool
	quiet    bool
}

func (a *app) mineCmd() *cobra.Command {
	var mf mineFlags
	cmd := &cobra.Command{
		Use:   "mine <input>...",
		Short: "Segment, grow, count and prune sample streams",
		Long: `Read sample streams from CSV, TSV, XLSX, Parquet or a DuckDB query and
mine every series independently.

Examples:
  seqmine mine cpu.csv
  seqmine mine -n 4 --min-support 0.1 -o out/ cpu.parquet
  seqmine mine --save forests/ --variants 10 cpu.csv mem.csv
  seqmine mine --checkpoint local --policy skip hosts.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			_, err := a.mine(ctx, args, mf)
			return err
		},
	}
	cmd.Flags().IntVar(&mf.variants, "variants", 5, "Patterns listed per series (0 = none, -1 = all)")
	cmd.Flags().StringVar(&mf.save, "save", "", "Directory for forest and pattern-type manifests")
	cmd.Flags().BoolVar(&mf.progress, "progress", false, "Show a growth progress bar")
	cmd.Flags().BoolVarP(&mf.quiet, "quiet", "q", false, "Only print the summary line")
	return cmd
}

// readInputs loads and concatenates the series of every input. Series keys
// are prefixed with the file name when more than one input is given.
func (a *app) readInputs(ctx context.Context, paths []string) ([]model.Series, error) {
	opts, err := a.cfg.IngestOptions()
	if err != nil {
		return nil, err
	}
	var all []model.Series
	for _, p := range paths {
		series, err := ingest.ReadFile(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		if len(paths) > 1 {
			base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
			for i := range series {
				if series[i].Key == "" {
					series[i].Key = base
				} else {
					series[i].Key = base + "/" + series[i].Key
				}
			}
		}
		all = append(all, series...)
	}
	return all, nil
}

func (a *app) mine(ctx context.Context, paths []string, mf mineFlags) (*pipeline.Report, error) {
	series, err := a.readInputs(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "no samples in input").WithContext("inputs", paths)
	}

	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if mf.progress {
		bar, observe := tui.GrowthProgress(a.stderr, len(series), a.cfg.Growth.Iterations)
		defer bar.Finish()
		s.runner.OnGeneration = observe
	}

	rep, err := s.runner.RunAll(ctx, series)
	if err != nil {
		return nil, err
	}

	if mf.save != "" {
		for _, res := range rep.Results {
			if err := saveResult(mf.save, res); err != nil {
				return nil, err
			}
		}
	}

	if mf.quiet {
		a.printf("%s\n", rep.Summary())
		return rep, nil
	}
	tui.PrintReport(a.stdout, rep)
	if mf.variants != 0 {
		for _, res := range rep.Results {
			a.printf("  %s\n", res.Series)
			tui.PrintVariants(a.stdout, res.Graph, mf.variants)
		}
		a.printf("\n")
	}
	return rep, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

// saveResult writes <dir>/<series>.forest.json.gz and
// <dir>/<series>.types.json.gz.
func saveResult(dir string, res *pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating output directory").WithContext("dir", dir)
	}
	name := manifestName(res.Series)
	if err := writeForestFile(filepath.Join(dir, name+".forest.json.gz"), res.Forest); err != nil {
		return err
	}
	return writeGraphFile(filepath.Join(dir, name+".types.json.gz"), res.Graph)
}

func manifestName(key string) string {
	if key == "" {
		return "series"
	}
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(key)
}

func writeForestFile(path string, ds *temporal.Dataset) error {
	return writeFile(path, func(f *os.File) error { return graphio.WriteForest(f, ds) })
}

func writeGraphFile(path string, g *count.Graph) error {
	return writeFile(path, func(f *os.File) error { return graphio.WriteGraph(f, g) })
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating file").WithContext("path", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "closing file").WithContext("path", path)
	}
	return nil
}

func readForestFile(path string) (*temporal.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeFileNotFound, "opening forest").WithContext("path", path)
	}
	defer f.Close()
	return graphio.ReadForest(f)
}

func readGraphFile(path string) (*count.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeFileNotFound, "opening pattern types").WithContext("path", path)
	}
	defer f.Close()
	return graphio.ReadGraph(f)
}
