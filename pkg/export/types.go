// Package export writes counted pattern-type graphs as columnar tables for
// BI tools.
package export

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Compression represents Parquet compression options.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression name as DuckDB and Parquet tools spell it.
func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "uncompressed"
	}
}

// ParseCompression parses a compression name. Unknown names mean none.
func ParseCompression(s string) Compression {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func (c Compression) codec() compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// TypeSchema is the Arrow schema of the pattern-type table. Roots have a
// null parent and edge_class.
func TypeSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "type_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "parent_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "label", Type: arrow.BinaryTypes.String},
		{Name: "class", Type: arrow.PrimitiveTypes.Int64},
		{Name: "edge_class", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "depth", Type: arrow.PrimitiveTypes.Int32},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "terminal", Type: arrow.PrimitiveTypes.Int64},
		{Name: "instances", Type: arrow.PrimitiveTypes.Int64},
		{Name: "pattern", Type: arrow.BinaryTypes.String},
		{Name: "signature", Type: arrow.BinaryTypes.String},
	}, nil)
}

// TypeRecord builds one Arrow record holding every node of g.
func TypeRecord(g *count.Graph, alloc memory.Allocator) arrow.Record {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	b := array.NewRecordBuilder(alloc, TypeSchema())
	defer b.Release()

	id := b.Field(0).(*array.Int64Builder)
	parent := b.Field(1).(*array.Int64Builder)
	label := b.Field(2).(*array.StringBuilder)
	class := b.Field(3).(*array.Int64Builder)
	edge := b.Field(4).(*array.Int64Builder)
	depth := b.Field(5).(*array.Int32Builder)
	cnt := b.Field(6).(*array.Int64Builder)
	terminal := b.Field(7).(*array.Int64Builder)
	instances := b.Field(8).(*array.Int64Builder)
	pattern := b.Field(9).(*array.StringBuilder)
	sig := b.Field(10).(*array.StringBuilder)
	b.Reserve(len(g.Nodes))

	for _, n := range g.Nodes {
		id.Append(int64(n.ID))
		if n.IsRoot() {
			parent.AppendNull()
			edge.AppendNull()
		} else {
			parent.Append(int64(n.Parent))
			edge.Append(int64(n.EdgeClass))
		}
		label.Append(n.Label)
		class.Append(int64(n.Class))
		depth.Append(int32(n.Depth))
		cnt.Append(int64(n.Count))
		terminal.Append(int64(n.Terminal))
		instances.Append(int64(n.Instances.GetCardinality()))
		pattern.Append(g.Pattern(n.ID))
		sig.Append(n.Signature.FullString())
	}
	return b.NewRecord()
}

// WriteTypes writes g as a Parquet pattern-type table and returns the number
// of rows written.
func WriteTypes(w io.Writer, g *count.Graph, c Compression) (int64, error) {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(c.codec()),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	fw, err := pqarrow.NewFileWriter(TypeSchema(), w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return 0, seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating parquet writer")
	}
	rec := TypeRecord(g, nil)
	defer rec.Release()

	if err := fw.Write(rec); err != nil {
		fw.Close()
		return 0, seqerr.Wrap(err, seqerr.CodeWriteFailed, "writing pattern types")
	}
	if err := fw.Close(); err != nil {
		return 0, seqerr.Wrap(err, seqerr.CodeWriteFailed, "closing parquet writer")
	}
	return rec.NumRows(), nil
}

// WriteTypesFile writes the pattern-type table to path, creating parent
// directories.
func WriteTypesFile(path string, g *count.Graph, c Compression) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating output directory").WithContext("path", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating output file").WithContext("path", path)
	}
	n, werr := WriteTypes(f, g, c)
	// the parquet writer closes its sink
	if cerr := f.Close(); werr == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		werr = seqerr.Wrap(cerr, seqerr.CodeWriteFailed, "closing output file")
	}
	return n, werr
}
