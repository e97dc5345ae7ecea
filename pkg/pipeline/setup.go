package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/logflow/seqmine/pkg/calendar"
	"github.com/logflow/seqmine/pkg/checkpoint"
	"github.com/logflow/seqmine/pkg/config"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/export"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/segment"
	"github.com/logflow/seqmine/pkg/telemetry"
)

// Registry builds the calendar registry named by the config, or the
// built-in Gregorian registry.
func Registry(c config.CalendarConfig) (*calendar.Registry, error) {
	if c.Definition == "" {
		return calendar.NewRegistry(), nil
	}
	data, err := os.ReadFile(c.Definition)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeFileNotFound, "reading calendar definition").WithContext("path", c.Definition)
	}
	def, err := calendar.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return calendar.NewRegistryFromDefinition(def)
}

// FromConfig validates c and converts it into runner options. Checkpoint
// recording is configured separately with OpenBackend.
func FromConfig(c *config.Config) (Options, error) {
	if err := c.Validate(); err != nil {
		return Options{}, err
	}
	reg, err := Registry(c.Calendar)
	if err != nil {
		return Options{}, err
	}
	gran, err := reg.Lookup(c.Calendar.CalendarID, c.Calendar.Granularity, c.Calendar.Context)
	if err != nil {
		return Options{}, err
	}
	gap, err := segment.ParseGapPolicy(c.Segmentation.GapPolicy)
	if err != nil {
		return Options{}, err
	}
	templates, err := c.TemplateSet()
	if err != nil {
		return Options{}, err
	}
	tie, err := growth.ParseTieBreak(c.Growth.TieBreak)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Segment: segment.Options{
			Templates:   c.Segments(),
			Gap:         gap,
			Mutiny:      c.Segmentation.Mutiny,
			Granularity: gran,
		},
		Growth: growth.Options{
			Templates: templates,
			TieBreak:  tie,
			Lookback:  c.Growth.Lookback,
		},
		Generations: c.Growth.Iterations,
		Prune:       c.Pruning.Enabled,
		MinSupport:  c.Pruning.MinSupport,
		Fixpoint:    c.Pruning.Fixpoint,
		ExportDir:   c.Export.Dir,
		Compression: export.ParseCompression(c.Export.Compression),
		StarSchema:  c.Export.StarSchema,
		Workers:     c.Growth.Workers,
	}, nil
}

// OpenBackend connects the configured snapshot backend. It returns a nil
// backend for "none". The returned close function is never nil.
func OpenBackend(ctx context.Context, c config.CheckpointConfig) (checkpoint.Backend, func() error, error) {
	noop := func() error { return nil }
	var (
		b       checkpoint.Backend
		closeFn = noop
	)
	switch c.Backend {
	case "", "none":
		return nil, noop, nil
	case "local":
		local, err := checkpoint.NewLocalBackend(c.Dir)
		if err != nil {
			return nil, noop, err
		}
		return local, noop, nil
	case "redis":
		rc := checkpoint.DefaultRedisConfig(c.Redis.Address)
		rc.Password = c.Redis.Password
		rc.Database = c.Redis.Database
		if c.Redis.Prefix != "" {
			rc.Prefix = c.Redis.Prefix
		}
		rc.TTL = c.Redis.TTL
		rb, err := checkpoint.NewRedisBackend(ctx, rc)
		if err != nil {
			return nil, noop, err
		}
		b, closeFn = checkpoint.NewBreakerBackend(rb, 3, 30*time.Second), rb.Close
	case "s3":
		sc := checkpoint.DefaultS3Config(c.S3.Bucket)
		if c.S3.Prefix != "" {
			sc.Prefix = c.S3.Prefix
		}
		sc.Region = c.S3.Region
		sc.Endpoint = c.S3.Endpoint
		sc.UsePathStyle = c.S3.UsePathStyle
		sb, err := checkpoint.NewS3Backend(ctx, sc)
		if err != nil {
			return nil, noop, err
		}
		b = checkpoint.NewBreakerBackend(sb, 3, 30*time.Second)
	default:
		return nil, noop, seqerr.Newf(seqerr.CodeMalformedInput, "unknown checkpoint backend %q", c.Backend)
	}

	if c.Mirror != "" {
		mirror, err := checkpoint.NewLocalBackend(filepath.Clean(c.Mirror))
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		b = checkpoint.NewMultiBackend(b, mirror)
	}
	return b, closeFn, nil
}

// OTLPConfig converts the telemetry section.
func OTLPConfig(c config.TelemetryConfig, version string) telemetry.OTLPConfig {
	cfg := telemetry.DefaultOTLPConfig(c.ServiceName)
	cfg.Enabled = c.Enabled
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.InsecureTLS = c.Insecure
	cfg.SamplingRatio = c.SampleRatio
	cfg.BatchTimeout = 2 * time.Second
	return cfg
}
