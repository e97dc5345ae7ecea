// Package ingest reads numeric sample streams from tabular sources (CSV,
// Parquet, XLSX and DuckDB queries) and groups them into series.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apache/arrow/go/v14/parquet"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/xuri/excelize/v2"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/internal/pool"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// DefaultSeries keys the samples of sources without a series column.
const DefaultSeries = "default"

// Format identifies a source kind.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatTSV
	FormatParquet
	FormatXLSX
	FormatDuckDB
)

var formatNames = []string{"unknown", "csv", "tsv", "parquet", "xlsx", "duckdb"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// ParseFormat accepts the names printed by Format.String plus "sql".
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatUnknown, nil
	}
	if s == "sql" {
		return FormatDuckDB, nil
	}
	for i, n := range formatNames {
		if n == s {
			return Format(i), nil
		}
	}
	return FormatUnknown, seqerr.Newf(seqerr.CodeMalformedInput, "unknown input format %q", s)
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	case ".parquet", ".pq":
		return FormatParquet
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".duckdb", ".db":
		return FormatDuckDB
	}
	return FormatUnknown
}

// Options configure a read.
type Options struct {
	Format  Format
	Columns ColumnSpec

	// Delimiter overrides the field separator of delimited text.
	Delimiter rune

	// Sheet selects the worksheet of XLSX input. Empty means the first.
	Sheet string

	// Query is run by the DuckDB source. Empty reads the input path with
	// read_csv_auto.
	Query string

	// Sort orders each series by start time. Without it out-of-order rows
	// are reported by segmentation.
	Sort bool

	// BatchSize bounds how many rows are converted between context checks.
	BatchSize int
}

// Open returns the records of path in the given (or detected) format.
func Open(ctx context.Context, path string, opts Options) (Records, error) {
	format := opts.Format
	if format == FormatUnknown {
		format = DetectFormat(path)
	}
	if format == FormatDuckDB || opts.Query != "" {
		return OpenDuckDB(ctx, path, opts.Query)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeFileNotFound, "input not found").WithContext("path", path)
	}

	switch format {
	case FormatCSV, FormatTSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening input").WithContext("path", path)
		}
		delim := opts.Delimiter
		if delim == 0 && format == FormatTSV {
			delim = '\t'
		}
		rec, err := newCSVRecords(f, delim)
		if err != nil {
			f.Close()
			return nil, err
		}
		return rec, nil

	case FormatParquet:
		f, err := os.Open(path)
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening input").WithContext("path", path)
		}
		rec, err := newParquetRecords(ctx, f, batchSize(opts))
		if err != nil {
			f.Close()
			return nil, err
		}
		return rec, nil

	case FormatXLSX:
		xf, err := excelize.OpenFile(path)
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening workbook").WithContext("path", path)
		}
		rec, err := newXLSXRecords(xf, opts.Sheet, opts.Columns.Layout == pool.LayoutExcel)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, seqerr.New(seqerr.CodeMalformedInput, "cannot detect input format").WithContext("path", path)
}

// OpenDuckDB runs query on an in-memory DuckDB. An empty query scans path
// with read_csv_auto.
func OpenDuckDB(ctx context.Context, path, query string) (Records, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "opening duckdb")
	}
	if query == "" {
		if path == "" {
			db.Close()
			return nil, seqerr.New(seqerr.CodeMalformedInput, "duckdb source needs a path or a query")
		}
		query = fmt.Sprintf("SELECT * FROM read_csv_auto('%s')", escapePath(path))
	}
	rec, err := newSQLRecords(ctx, db, query)
	if err != nil {
		db.Close()
		return nil, err
	}
	rec.db = db
	return rec, nil
}

// escapePath escapes single quotes in SQL string literals.
func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

// ReadFile opens path and collects its series.
func ReadFile(ctx context.Context, path string, opts Options) ([]model.Series, error) {
	rec, err := Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	return Collect(ctx, rec, opts)
}

// ReadCSV collects the series of delimited text.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Series, error) {
	rec, err := newCSVRecords(r, opts.Delimiter)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, rec, opts)
}

// ReadXLSX collects the series of a workbook.
func ReadXLSX(ctx context.Context, r io.Reader, opts Options) ([]model.Series, error) {
	xf, err := excelize.OpenReader(r)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening workbook")
	}
	rec, err := newXLSXRecords(xf, opts.Sheet, opts.Columns.Layout == pool.LayoutExcel)
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	return Collect(ctx, rec, opts)
}

// ReadParquet collects the series of a Parquet file.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker, opts Options) ([]model.Series, error) {
	rec, err := newParquetRecords(ctx, r, batchSize(opts))
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	return Collect(ctx, rec, opts)
}

func batchSize(opts Options) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return pool.DefaultBatchSize
}

var batches = pool.NewSampleBatchPool(pool.DefaultBatchSize)

// Collect converts every record and groups the samples into series, in order
// of first appearance. The first malformed row aborts the read.
func Collect(ctx context.Context, rec Records, opts Options) ([]model.Series, error) {
	conv, err := newConverter(opts.Columns, rec.Header())
	if err != nil {
		return nil, err
	}

	g := newGrouper()
	batch := batches.Get()
	defer batches.Put(batch)
	limit := min(batchSize(opts), len(batch.Samples))
	keys := make([]string, len(batch.Samples))

	flush := func() error {
		for i := 0; i < batch.Size; i++ {
			g.add(keys[i], batch.Samples[i])
		}
		batch.Reset()
		if err := ctx.Err(); err != nil {
			return seqerr.ContextCanceled("ingest", err)
		}
		return nil
	}

	row := 0
	for {
		fields, err := rec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row++
		if isBlank(fields) {
			continue
		}
		key, smp, err := conv.convert(fields, row)
		if err != nil {
			return nil, err
		}
		keys[batch.Size] = key
		batch.Samples[batch.Size] = smp
		batch.Size++
		if batch.Size == limit {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return g.series(opts.Sort), nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// grouper accumulates samples per series key.
type grouper struct {
	order []string
	byKey map[string]*model.Series
}

func newGrouper() *grouper {
	return &grouper{byKey: make(map[string]*model.Series)}
}

func (g *grouper) add(key string, smp model.Sample) {
	if key == "" {
		key = DefaultSeries
	}
	s, ok := g.byKey[key]
	if !ok {
		s = &model.Series{Key: key}
		g.byKey[key] = s
		g.order = append(g.order, key)
	}
	s.Samples = append(s.Samples, smp)
}

func (g *grouper) series(sorted bool) []model.Series {
	out := make([]model.Series, 0, len(g.order))
	for _, k := range g.order {
		s := g.byKey[k]
		if sorted {
			slices.SortStableFunc(s.Samples, func(a, b model.Sample) int {
				if a.Timestamp != b.Timestamp {
					if a.Timestamp < b.Timestamp {
						return -1
					}
					return 1
				}
				if a.End < b.End {
					return -1
				}
				if a.End > b.End {
					return 1
				}
				return 0
			})
		}
		out = append(out, *s)
	}
	return out
}
