package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// StarSchemaExporter derives a star schema from a pattern-type table.
// Output: Fact_Types, Dim_Classes, Dim_Depths.
type StarSchemaExporter struct {
	db          *sql.DB
	outputDir   string
	compression Compression
}

// StarSchemaResult contains the paths to generated files.
type StarSchemaResult struct {
	OutputDir  string
	FactTypes  string
	DimClasses string
	DimDepths  string
}

// NewStarSchemaExporter opens an in-memory DuckDB writing into outputDir.
func NewStarSchemaExporter(outputDir string, c Compression) (*StarSchemaExporter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating output directory").WithContext("dir", outputDir)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "opening duckdb")
	}
	return &StarSchemaExporter{db: db, outputDir: outputDir, compression: c}, nil
}

// Export reads a table written by WriteTypes and generates the schema.
func (e *StarSchemaExporter) Export(ctx context.Context, typesPath string) (*StarSchemaResult, error) {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE OR REPLACE TABLE types AS SELECT * FROM read_parquet('%s')`, quote(typesPath))); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "loading pattern types").WithContext("path", typesPath)
	}

	res := &StarSchemaResult{
		OutputDir:  e.outputDir,
		DimClasses: filepath.Join(e.outputDir, "Dim_Classes.parquet"),
		DimDepths:  filepath.Join(e.outputDir, "Dim_Depths.parquet"),
		FactTypes:  filepath.Join(e.outputDir, "Fact_Types.parquet"),
	}

	steps := []struct {
		name  string
		query string
		out   string
	}{
		{"Dim_Classes", `
			SELECT
				ROW_NUMBER() OVER (ORDER BY class) AS class_key,
				class,
				MIN(label) AS label,
				COUNT(*) AS types,
				SUM(terminal) AS terminating_leaves
			FROM types
			GROUP BY class
			ORDER BY class`, res.DimClasses},
		{"Dim_Depths", `
			SELECT
				depth,
				COUNT(*) AS types,
				SUM(count) AS paths,
				MAX(count) AS max_count
			FROM types
			GROUP BY depth
			ORDER BY depth`, res.DimDepths},
		{"Fact_Types", `
			WITH classes AS (
				SELECT class, ROW_NUMBER() OVER (ORDER BY class) AS class_key
				FROM (SELECT DISTINCT class FROM types)
			)
			SELECT
				t.type_id,
				t.parent_id,
				c.class_key,
				t.edge_class,
				t.depth,
				t.count,
				t.terminal,
				t.instances,
				t.count::DOUBLE / NULLIF(p.count, 0) AS share_of_parent,
				t.pattern
			FROM types t
			LEFT JOIN classes c ON t.class = c.class
			LEFT JOIN types p ON t.parent_id = p.type_id
			ORDER BY t.type_id`, res.FactTypes},
	}
	for _, s := range steps {
		q := fmt.Sprintf(`COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')`,
			s.query, quote(s.out), e.compression)
		if _, err := e.db.ExecContext(ctx, q); err != nil {
			return nil, seqerr.Wrapf(err, seqerr.CodeWriteFailed, "generating %s", s.name)
		}
	}
	return res, nil
}

// Close releases resources.
func (e *StarSchemaExporter) Close() error {
	return e.db.Close()
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
