// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/ingest"
	"github.com/logflow/seqmine/pkg/relation"
	"github.com/logflow/seqmine/pkg/segment"
)

// Config holds all seqmine configuration.
type Config struct {
	Version int `yaml:"version"`

	Input        InputConfig        `yaml:"input"`
	Calendar     CalendarConfig     `yaml:"calendar"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Growth       GrowthConfig       `yaml:"growth"`
	Pruning      PruningConfig      `yaml:"pruning"`
	Export       ExportConfig       `yaml:"export"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// InputConfig describes the sample source.
type InputConfig struct {
	Format    string            `yaml:"format"` // csv | tsv | parquet | xlsx | duckdb
	Columns   ingest.ColumnSpec `yaml:"columns"`
	Delimiter string            `yaml:"delimiter"`
	Sheet     string            `yaml:"sheet"`
	Query     string            `yaml:"query"`
	Sort      bool              `yaml:"sort"`
	BatchSize int               `yaml:"batch_size"`
}

// CalendarConfig selects the granularity events are tagged with.
type CalendarConfig struct {
	Granularity string `yaml:"granularity"`
	Context     string `yaml:"context"`

	// Definition optionally points at a YAML registry definition.
	Definition string `yaml:"definition"`
	CalendarID int    `yaml:"calendar_id"`
}

// SegmentTemplate is one value range of the segmentation.
type SegmentTemplate struct {
	Label string  `yaml:"label"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// SegmentationConfig controls event segmentation.
type SegmentationConfig struct {
	Templates []SegmentTemplate `yaml:"templates"`
	GapPolicy string            `yaml:"gap_policy"` // strict | spacing_allowed
	Mutiny    bool              `yaml:"mutiny"`
}

// GrowthTemplate is one growth predicate.
type GrowthTemplate struct {
	Relation    string `yaml:"relation"`
	Shift       int64  `yaml:"shift"`
	ShiftTarget string `yaml:"shift_target"` // candidate | anchor
}

// GrowthConfig controls pattern growth.
type GrowthConfig struct {
	Iterations int              `yaml:"iterations"`
	Templates  []GrowthTemplate `yaml:"templates"`
	TieBreak   string           `yaml:"tie_break"` // nearest | earliest
	Lookback   int64            `yaml:"lookback"`
	Workers    int              `yaml:"workers"` // series mined in parallel, 0 = unlimited
}

// PruningConfig controls support pruning.
type PruningConfig struct {
	Enabled    bool    `yaml:"enabled"`
	MinSupport float64 `yaml:"min_support"`
	Fixpoint   bool    `yaml:"fixpoint"`
}

// ExportConfig controls the columnar pattern-type output.
type ExportConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
	StarSchema  bool   `yaml:"star_schema"`
}

// CheckpointConfig selects the snapshot backend.
type CheckpointConfig struct {
	Backend string        `yaml:"backend"` // none | local | redis | s3
	Dir     string        `yaml:"dir"`
	Mirror  string        `yaml:"mirror"` // optional local directory mirroring a remote backend
	MaxAge  time.Duration `yaml:"max_age"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
}

// RedisConfig for the Redis snapshot backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// S3Config for the S3 snapshot backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	seqmineDir := filepath.Join(homeDir, ".seqmine")

	return &Config{
		Version: 1,
		Input: InputConfig{
			Delimiter: ",",
			BatchSize: 1024,
		},
		Calendar: CalendarConfig{
			Granularity: "millisecond",
			Context:     "top",
			CalendarID:  1,
		},
		Segmentation: SegmentationConfig{
			GapPolicy: "strict",
		},
		Growth: GrowthConfig{
			Iterations: 3,
			TieBreak:   "nearest",
		},
		Pruning: PruningConfig{
			Enabled:    true,
			MinSupport: 0.05,
			Fixpoint:   true,
		},
		Export: ExportConfig{
			Compression: "snappy",
		},
		Checkpoint: CheckpointConfig{
			Backend: "none",
			Dir:     filepath.Join(seqmineDir, "checkpoints"),
			MaxAge:  7 * 24 * time.Hour,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "seqmine:snapshots:",
				TTL:     24 * time.Hour,
			},
			S3: S3Config{
				Prefix: "snapshots/",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "seqmine",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
	getenv func(string) string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		getenv: os.Getenv,
	}
}

// Load loads configuration from all sources in priority order. An explicit
// path, when given, is applied after the discovered files and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but fail on broken ones
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}
	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return seqerr.Wrap(err, seqerr.CodeFileNotFound, "config file not found").WithContext("path", explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/seqmine/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".seqmine", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".seqmine.yaml"))
	}

	return paths
}

// loadFile decodes a config file on top of the current configuration, so
// keys absent from the file keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decodeInto(m.config, data); err != nil {
		return seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid config file").WithContext("path", path)
	}
	return nil
}

// decodeInto rejects unknown and duplicate keys.
func decodeInto(c *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Parse decodes YAML over the defaults without consulting any file or the
// environment.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := decodeInto(c, data); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid config")
	}
	return c, nil
}

// loadEnv applies SEQMINE_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config
	str := map[string]*string{
		"SEQMINE_INPUT_FORMAT":       &c.Input.Format,
		"SEQMINE_TIMESTAMP_COLUMN":   &c.Input.Columns.Timestamp,
		"SEQMINE_VALUE_COLUMN":       &c.Input.Columns.Value,
		"SEQMINE_SERIES_COLUMN":      &c.Input.Columns.Series,
		"SEQMINE_TIMESTAMP_LAYOUT":   &c.Input.Columns.Layout,
		"SEQMINE_GRANULARITY":        &c.Calendar.Granularity,
		"SEQMINE_TIE_BREAK":          &c.Growth.TieBreak,
		"SEQMINE_COMPRESSION":        &c.Export.Compression,
		"SEQMINE_CHECKPOINT_BACKEND": &c.Checkpoint.Backend,
		"SEQMINE_CHECKPOINT_DIR":     &c.Checkpoint.Dir,
		"SEQMINE_REDIS_ADDRESS":      &c.Checkpoint.Redis.Address,
		"SEQMINE_S3_BUCKET":          &c.Checkpoint.S3.Bucket,
		"SEQMINE_OTLP_ENDPOINT":      &c.Telemetry.Endpoint,
	}
	for key, dst := range str {
		if v := m.getenv(key); v != "" {
			*dst = v
		}
	}

	if v := m.getenv("SEQMINE_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("SEQMINE_ITERATIONS", v, err)
		}
		c.Growth.Iterations = n
	}
	if v := m.getenv("SEQMINE_MIN_SUPPORT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("SEQMINE_MIN_SUPPORT", v, err)
		}
		c.Pruning.MinSupport = f
	}
	if v := m.getenv("SEQMINE_TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("SEQMINE_TELEMETRY", v, err)
		}
		c.Telemetry.Enabled = b
	}
	return nil
}

func envError(key, value string, err error) error {
	return seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid environment variable").
		WithContext("variable", key).
		WithContext("value", value)
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	configDir := filepath.Join(home, ".seqmine")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Input.Format != "" {
		if _, err := ingest.ParseFormat(c.Input.Format); err != nil {
			return err
		}
	}
	if err := c.Columns().Validate(); err != nil {
		return err
	}
	if _, err := c.Delimiter(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Segmentation.Templates))
	for _, t := range c.Segmentation.Templates {
		if t.Label == "" {
			return seqerr.New(seqerr.CodeMalformedInput, "segmentation template needs a label")
		}
		if seen[t.Label] {
			return seqerr.DuplicateKey("segmentation.templates", t.Label)
		}
		seen[t.Label] = true
	}
	if _, err := segment.ParseGapPolicy(c.Segmentation.GapPolicy); err != nil {
		return err
	}

	if c.Growth.Iterations < 0 {
		return seqerr.New(seqerr.CodeMalformedInput, "growth iterations must not be negative").
			WithContext("iterations", c.Growth.Iterations)
	}
	if _, err := c.TemplateSet(); err != nil {
		return err
	}
	if _, err := growth.ParseTieBreak(c.Growth.TieBreak); err != nil {
		return err
	}

	if c.Pruning.MinSupport < 0 || c.Pruning.MinSupport > 1 {
		return seqerr.New(seqerr.CodeMalformedInput, "pruning.min_support must be within [0, 1]").
			WithContext("min_support", c.Pruning.MinSupport)
	}

	switch c.Checkpoint.Backend {
	case "", "none", "local":
	case "redis":
		if c.Checkpoint.Redis.Address == "" {
			return seqerr.New(seqerr.CodeMalformedInput, "checkpoint.redis.address is required")
		}
	case "s3":
		if c.Checkpoint.S3.Bucket == "" {
			return seqerr.New(seqerr.CodeMalformedInput, "checkpoint.s3.bucket is required")
		}
	default:
		return seqerr.Newf(seqerr.CodeMalformedInput, "unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	return nil
}

// Columns returns the input column spec. Without any time column the
// columns "timestamp" and "value" are assumed.
func (c *Config) Columns() ingest.ColumnSpec {
	spec := c.Input.Columns
	if spec.Timestamp == "" && spec.Begin == "" && spec.End == "" && spec.Duration == "" {
		spec.Timestamp = "timestamp"
	}
	if spec.Value == "" {
		spec.Value = "value"
	}
	return spec
}

// IngestOptions converts the input section.
func (c *Config) IngestOptions() (ingest.Options, error) {
	format, err := ingest.ParseFormat(c.Input.Format)
	if err != nil {
		return ingest.Options{}, err
	}
	delim, err := c.Delimiter()
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{
		Format:    format,
		Columns:   c.Columns(),
		Delimiter: delim,
		Sheet:     c.Input.Sheet,
		Query:     c.Input.Query,
		Sort:      c.Input.Sort,
		BatchSize: c.Input.BatchSize,
	}, nil
}

// Segments returns the segmentation templates in class order.
func (c *Config) Segments() []segment.Template {
	out := make([]segment.Template, len(c.Segmentation.Templates))
	for i, t := range c.Segmentation.Templates {
		out[i] = segment.Template{Label: t.Label, Min: t.Min, Max: t.Max}
	}
	return out
}

// TemplateSet builds the growth templates in predicate-class order.
func (c *Config) TemplateSet() (*relation.TemplateSet, error) {
	set, err := relation.NewTemplateSet()
	if err != nil {
		return nil, err
	}
	for i, t := range c.Growth.Templates {
		r, err := relation.Parse(t.Relation)
		if err != nil {
			return nil, seqerr.Wrapf(err, seqerr.GetCode(err), "growth template %d", i)
		}
		target, err := relation.ParseShiftTarget(t.ShiftTarget)
		if err != nil {
			return nil, err
		}
		if err := set.Add(relation.Template{Relation: r, Shift: t.Shift, Target: target}); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Delimiter returns the single-rune CSV delimiter.
func (c *Config) Delimiter() (rune, error) {
	d := []rune(c.Input.Delimiter)
	switch {
	case len(d) == 0:
		return ',', nil
	case c.Input.Delimiter == `\t`:
		return '\t', nil
	case len(d) == 1:
		return d[0], nil
	}
	return 0, seqerr.New(seqerr.CodeMalformedInput, fmt.Sprintf("delimiter %q is not a single character", c.Input.Delimiter))
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load("")
	})
	return globalManager
}
