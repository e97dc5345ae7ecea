// seqmine - temporal sequence mining over interval events.
// Segments numeric sample streams into labelled events, grows pattern
// forests from temporal relations and counts the frequent pattern types.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/seqmine/pkg/checkpoint"
	"github.com/logflow/seqmine/pkg/config"
	"github.com/logflow/seqmine/pkg/export"
	"github.com/logflow/seqmine/pkg/pipeline"
	"github.com/logflow/seqmine/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// app holds the global flags and the loaded configuration shared by every
// command.
type app struct {
	configPath string
	verbose    bool

	// overrides, applied only when the flag is set
	workers     int
	policy      string
	iterations  int
	minSupport  float64
	exportDir   string
	compression string
	backend     string

	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "seqmine",
		Short: "seqmine - mine temporal patterns from sample streams",
		Long: `seqmine segments numeric sample streams into labelled interval events,
grows pattern forests from temporal relations between them and counts the
pattern types that reach a minimum support.

Configuration is read from /etc/seqmine/config.yaml, ~/.seqmine/config.yaml,
./.seqmine.yaml and --config, then SEQMINE_* environment variables and flags.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "Configuration file")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "Log stage progress to stderr")
	f.IntVarP(&a.workers, "workers", "w", 0, "Series mined in parallel (0 = unlimited)")
	f.StringVar(&a.policy, "policy", "strict", "Failing series policy (strict, skip)")
	f.IntVarP(&a.iterations, "iterations", "n", 0, "Growth generations")
	f.Float64Var(&a.minSupport, "min-support", 0, "Minimum support ratio in [0,1]")
	f.StringVarP(&a.exportDir, "export", "o", "", "Directory for Parquet pattern-type tables")
	f.StringVar(&a.compression, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	f.StringVar(&a.backend, "checkpoint", "", "Snapshot backend (none, local, redis, s3)")

	root.AddCommand(
		a.mineCmd(),
		a.countCmd(),
		a.pruneCmd(),
		a.exportCmd(),
		a.watchCmd(),
		a.snapshotsCmd(),
		a.configCmd(),
	)
	return root
}

// load reads the layered configuration and applies flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	m := config.NewManager()
	if err := m.Load(a.configPath); err != nil {
		return err
	}
	c := m.Get()

	flags := cmd.Flags()
	if flags.Changed("workers") {
		c.Growth.Workers = a.workers
	}
	if flags.Changed("iterations") {
		c.Growth.Iterations = a.iterations
	}
	if flags.Changed("min-support") {
		c.Pruning.MinSupport = a.minSupport
		c.Pruning.Enabled = true
	}
	if flags.Changed("export") {
		c.Export.Dir = a.exportDir
	}
	if flags.Changed("compression") {
		c.Export.Compression = a.compression
	}
	if flags.Changed("checkpoint") {
		c.Checkpoint.Backend = a.backend
	}
	a.cfg = c

	if a.verbose {
		for _, p := range m.GetPaths() {
			a.logger().Printf("loaded config %s", p)
		}
	}
	return nil
}

func (a *app) logger() *log.Logger {
	if !a.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(a.stderr, "seqmine: ", log.Ltime)
}

// session bundles what a mining command needs: a runner, its tracer
// provider and the snapshot backend.
type session struct {
	runner   *pipeline.Runner
	provider *telemetry.Provider
	closers  []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (a *app) session(ctx context.Context) (*session, error) {
	opts, err := pipeline.FromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	if opts.Policy, err = pipeline.ParseErrorPolicy(a.policy); err != nil {
		return nil, err
	}

	s := &session{provider: telemetry.Noop()}
	if a.cfg.Telemetry.Enabled {
		p, err := telemetry.Setup(ctx, pipeline.OTLPConfig(a.cfg.Telemetry, version))
		if err != nil {
			return nil, err
		}
		s.provider = p
		s.closers = append(s.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return p.Shutdown(sctx)
		})
	}

	backend, closeBackend, err := pipeline.OpenBackend(ctx, a.cfg.Checkpoint)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closeBackend)
	if backend != nil {
		opts.Recorder = checkpoint.NewRecorder(backend, "")
		a.logger().Printf("recording snapshots to %s as run %s", backend.Name(), opts.Recorder.RunID())
	}

	s.runner, err = pipeline.NewRunner(opts, a.logger(), s.provider.Tracer())
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) compressionOrDefault() export.Compression {
	return export.ParseCompression(a.cfg.Export.Compression)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
