package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logflow/seqmine/pkg/count"
	"github.com/logflow/seqmine/pkg/export"
	"github.com/logflow/seqmine/pkg/prune"
	"github.com/logflow/seqmine/pkg/tui"
)

func (a *app) countCmd() *cobra.Command {
	var (
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "count <forest.json.gz>",
		Short: "Count the pattern types of a saved forest",
		Long: `Merge a forest written by "mine --save" or restored from a snapshot into its
pattern-type graph and list the most frequent patterns.

Examples:
  seqmine count forests/cpu.forest.json.gz
  seqmine count --out cpu.types.json.gz --limit 20 forests/cpu.forest.json.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			forest, err := readForestFile(args[0])
			if err != nil {
				return err
			}
			g, err := count.Count(forest)
			if err != nil {
				return err
			}
			a.printGraph(forest.Name, g, limit)
			if out != "" {
				return writeGraphFile(out, g)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the pattern-type manifest here")
	cmd.Flags().IntVar(&limit, "limit", 10, "Patterns listed (-1 = all)")
	return cmd
}

func (a *app) printGraph(name string, g *count.Graph, limit int) {
	s := g.Stats()
	a.printf("%s: %d types (%d roots, %d leaves, depth %d), %d forest leaves, fingerprint %s\n",
		name, s.Types, s.Roots, s.Leaves, s.MaxDepth, s.Total, g.Fingerprint())
	dist := g.Distribution()
	parts := make([]string, len(dist))
	for i, n := range dist {
		parts[i] = fmt.Sprintf("d%d=%d", i, n)
	}
	a.printf("  per depth: %s\n", strings.Join(parts, " "))
	if limit != 0 {
		tui.PrintVariants(a.stdout, g, limit)
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var (
		out  string
		once bool
	)
	cmd := &cobra.Command{
		Use:   "prune <forest.json.gz>",
		Short: "Remove unsupported patterns from a saved forest",
		Long: `Remove forest leaves whose root-to-leaf pattern is supported by fewer than
--min-support of all forest leaves, repeating until nothing changes unless
--once is given.

Examples:
  seqmine prune --min-support 0.1 --out pruned.forest.json.gz cpu.forest.json.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			forest, err := readForestFile(args[0])
			if err != nil {
				return err
			}
			ratio := a.cfg.Pruning.MinSupport

			var (
				g      *count.Graph
				passes []*prune.Result
			)
			if once || !a.cfg.Pruning.Fixpoint {
				if g, err = count.Count(forest); err != nil {
					return err
				}
				res, err := prune.Prune(forest, g, ratio)
				if err != nil {
					return err
				}
				passes = append(passes, res)
				if g, err = count.Count(forest); err != nil {
					return err
				}
			} else if g, passes, err = prune.Fixpoint(forest, ratio); err != nil {
				return err
			}

			for i, p := range passes {
				a.printf("pass %d: %s\n", i+1, p)
				for _, s := range p.Skipped {
					a.printf("  skipped %v\n", s)
				}
			}
			a.printGraph(forest.Name, g, 0)
			if out != "" {
				return writeForestFile(out, forest)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the pruned forest here")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pruning pass")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var star bool
	cmd := &cobra.Command{
		Use:   "export <types.json.gz|forest.json.gz>",
		Short: "Write a pattern-type graph as Parquet",
		Long: `Write the pattern types of a saved graph (or of a saved forest, counted first)
as a Parquet table in the --export directory, optionally with a DuckDB star
schema next to it.

Examples:
  seqmine export -o out/ cpu.types.json.gz
  seqmine export -o out/ --compression zstd --star cpu.forest.json.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Export.Dir
			if dir == "" {
				dir = "."
			}
			g, name, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			c := a.compressionOrDefault()
			path := filepath.Join(dir, name+".types.parquet")
			n, err := export.WriteTypesFile(path, g, c)
			if err != nil {
				return err
			}
			a.printf("wrote %d pattern types to %s (%s)\n", n, path, c)

			if !star && !a.cfg.Export.StarSchema {
				return nil
			}
			exp, err := export.NewStarSchemaExporter(filepath.Join(dir, name), c)
			if err != nil {
				return err
			}
			defer exp.Close()
			res, err := exp.Export(cmd.Context(), path)
			if err != nil {
				return err
			}
			a.printf("star schema: %s, %s, %s\n", res.FactTypes, res.DimClasses, res.DimDepths)
			return nil
		},
	}
	cmd.Flags().BoolVar(&star, "star", false, "Also write the DuckDB star schema")
	return cmd
}

// loadGraph reads a graph manifest, or counts a forest manifest. The name is
// the file name without its manifest suffix.
func loadGraph(path string) (*count.Graph, string, error) {
	base := filepath.Base(path)
	if name, ok := strings.CutSuffix(base, ".forest.json.gz"); ok {
		forest, err := readForestFile(path)
		if err != nil {
			return nil, "", err
		}
		g, err := count.Count(forest)
		return g, name, err
	}
	name := strings.TrimSuffix(strings.TrimSuffix(base, ".json.gz"), ".types")
	g, err := readGraphFile(path)
	return g, name, err
}
