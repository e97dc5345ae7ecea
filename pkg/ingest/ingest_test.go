package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

var ctx = context.Background()

func ms(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UnixMilli()
}

func TestColumnSpec_Encoding(t *testing.T) {
	tests := []struct {
		name string
		spec ColumnSpec
		want Encoding
		err  bool
	}{
		{"instant", ColumnSpec{Timestamp: "ts"}, Instant, false},
		{"begin end", ColumnSpec{Begin: "b", End: "e"}, BeginEnd, false},
		{"begin duration", ColumnSpec{Begin: "b", Duration: "d"}, BeginDuration, false},
		{"end duration", ColumnSpec{End: "e", Duration: "d"}, EndDuration, false},
		{"nothing", ColumnSpec{}, 0, true},
		{"begin only", ColumnSpec{Begin: "b"}, 0, true},
		{"all three", ColumnSpec{Begin: "b", End: "e", Duration: "d"}, 0, true},
		{"timestamp and begin", ColumnSpec{Timestamp: "ts", Begin: "b"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.Encoding()
			if tt.err {
				assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCSV_Instants(t *testing.T) {
	in := "ts,value,sensor\n" +
		"2024-01-01T00:00:00Z,1.5,a\n" +
		"2024-01-01T00:00:01Z,2,b\n" +
		"\n" +
		"2024-01-01T00:00:02Z,3,a\n"
	series, err := ReadCSV(ctx, strings.NewReader(in), Options{
		Columns: ColumnSpec{Timestamp: "ts", Value: "value", Series: "sensor"},
	})
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, "a", series[0].Key)
	require.Equal(t, 2, series[0].Len())
	assert.Equal(t, ms("2024-01-01T00:00:00Z"), series[0].Samples[0].Timestamp)
	assert.Equal(t, ms("2024-01-01T00:00:00Z"), series[0].Samples[0].End)
	assert.Equal(t, 1.5, series[0].Samples[0].Value)
	assert.Equal(t, 1, series[0].Samples[0].Row)
	assert.Equal(t, 3, series[0].Samples[1].Row, "blank lines are skipped")

	assert.Equal(t, "b", series[1].Key)
	assert.Equal(t, 2.0, series[1].Samples[0].Value)
}

func TestReadCSV_Intervals(t *testing.T) {
	tests := []struct {
		name string
		in   string
		spec ColumnSpec
	}{
		{"begin end", "b,e,v\n0,9,1\n", ColumnSpec{Begin: "b", End: "e", Value: "v"}},
		{"begin duration", "b,d,v\n0,9,1\n", ColumnSpec{Begin: "b", Duration: "d", Value: "v"}},
		{"end duration", "e,d,v\n9,9,1\n", ColumnSpec{End: "e", Duration: "d", Value: "v"}},
		{"duration unit", "b,d,v\n0,0.009,1\n", ColumnSpec{Begin: "b", Duration: "d", DurationUnit: "second", Value: "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series, err := ReadCSV(ctx, strings.NewReader(tt.in), Options{Columns: tt.spec})
			require.NoError(t, err)
			require.Len(t, series, 1)
			assert.Equal(t, DefaultSeries, series[0].Key)
			smp := series[0].Samples[0]
			assert.Equal(t, int64(0), smp.Timestamp)
			assert.Equal(t, int64(9), smp.End)
			assert.Equal(t, int64(9), smp.Last())
		})
	}
}

func TestReadCSV_CalendarDuration(t *testing.T) {
	in := "b,d,v\n2024-01-31,1,1\n"
	series, err := ReadCSV(ctx, strings.NewReader(in), Options{
		Columns: ColumnSpec{Begin: "b", Duration: "d", DurationUnit: "months", Value: "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, ms("2024-03-02T00:00:00Z"), series[0].Samples[0].End)

	_, err = ReadCSV(ctx, strings.NewReader("b,d,v\n2024-01-31,1.5,1\n"), Options{
		Columns: ColumnSpec{Begin: "b", Duration: "d", DurationUnit: "month", Value: "v"},
	})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput))
}

func TestReadCSV_MalformedRows(t *testing.T) {
	spec := ColumnSpec{Timestamp: "ts", Value: "value"}
	tests := []struct {
		name   string
		in     string
		spec   ColumnSpec
		row    int
		column string
	}{
		{"bad timestamp", "ts,value\n1,1\nnever,2\n", spec, 2, "ts"},
		{"empty timestamp", "ts,value\n,1\n", spec, 1, "ts"},
		{"bad value", "ts,value\n1,x\n", spec, 1, "value"},
		{"nan value", "ts,value\n1,NaN\n", spec, 1, "value"},
		{"reversed interval", "b,e,v\n5,4,1\n", ColumnSpec{Begin: "b", End: "e", Value: "v"}, 1, "e"},
		{"negative duration", "b,d,v\n5,-1,1\n", ColumnSpec{Begin: "b", Duration: "d", Value: "v"}, 1, "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(ctx, strings.NewReader(tt.in), Options{Columns: tt.spec})
			require.Error(t, err)
			var se *seqerr.SeqError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, seqerr.CodeMalformedInput, se.Code)
			assert.Equal(t, tt.row, se.Context["row"])
			assert.Equal(t, tt.column, se.Context["column"])
		})
	}
}

func TestReadCSV_HeaderProblems(t *testing.T) {
	spec := ColumnSpec{Timestamp: "ts", Value: "value"}

	_, err := ReadCSV(ctx, strings.NewReader("ts,other\n1,2\n"), Options{Columns: spec})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput), "missing column")

	_, err = ReadCSV(ctx, strings.NewReader("ts,value,ts\n1,2,3\n"), Options{Columns: spec})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeDuplicateKey), "duplicate header")

	_, err = ReadCSV(ctx, strings.NewReader(""), Options{Columns: spec})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput), "empty input")

	_, err = ReadCSV(ctx, strings.NewReader("ts\n1\n"), Options{Columns: ColumnSpec{Timestamp: "ts"}})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput), "no value column")
}

func TestReadCSV_SortAndAttributes(t *testing.T) {
	in := "ts;value;note\n3;1;c\n1;2;a\n2;3;b\n"
	opts := Options{
		Delimiter: ';',
		Sort:      true,
		Columns:   ColumnSpec{Timestamp: "ts", Value: "value", Layout: "unix", Attributes: []string{"note"}},
	}
	series, err := ReadCSV(ctx, strings.NewReader(in), opts)
	require.NoError(t, err)
	var notes []string
	var stamps []int64
	for _, s := range series[0].Samples {
		notes = append(notes, s.Attributes["note"])
		stamps = append(stamps, s.Timestamp)
	}
	assert.Equal(t, []string{"a", "b", "c"}, notes)
	assert.Equal(t, []int64{1000, 2000, 3000}, stamps)
}

func TestCollect_Canceled(t *testing.T) {
	c, cancel := context.WithCancel(ctx)
	cancel()
	_, err := ReadCSV(c, strings.NewReader("ts,value\n1,1\n"), Options{
		Columns: ColumnSpec{Timestamp: "ts", Value: "value"},
	})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeContextCanceled))
}

func TestReadFile_TSVAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.tsv")
	require.NoError(t, os.WriteFile(path, []byte("ts\tvalue\n1\t4\n2\t5\n"), 0o644))

	series, err := ReadFile(ctx, path, Options{Columns: ColumnSpec{Timestamp: "ts", Value: "value"}})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 2, series[0].Len())

	_, err = ReadFile(ctx, filepath.Join(dir, "missing.csv"), Options{Columns: ColumnSpec{Timestamp: "ts", Value: "value"}})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeFileNotFound))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"begin", "end", "level"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"2024-01-01T00:00:00Z", "2024-01-01T00:10:00Z", 3.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"2024-01-01T00:20:00Z", "2024-01-01T00:30:00Z", 1}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	series, err := ReadXLSX(ctx, bytes.NewReader(buf.Bytes()), Options{
		Columns: ColumnSpec{Begin: "begin", End: "end", Value: "level"},
	})
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Samples, 2)
	assert.Equal(t, ms("2024-01-01T00:10:00Z"), series[0].Samples[0].End)
	assert.Equal(t, 3.5, series[0].Samples[0].Value)
	assert.Equal(t, 1.0, series[0].Samples[1].Value)
}

func TestReadParquet_TypedTimestamps(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Microsecond}},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "sensor", Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMicro()))
		b.Field(1).(*array.Float64Builder).Append(float64(i) + 0.5)
		b.Field(2).(*array.StringBuilder).Append([]string{"x", "y", "x"}[i])
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	series, err := ReadParquet(ctx, bytes.NewReader(buf.Bytes()), Options{
		Columns: ColumnSpec{Timestamp: "ts", Value: "value", Series: "sensor"},
	})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "x", series[0].Key)
	require.Len(t, series[0].Samples, 2)
	assert.Equal(t, base.UnixMilli(), series[0].Samples[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second).UnixMilli(), series[0].Samples[1].Timestamp)
	assert.Equal(t, 2.5, series[0].Samples[1].Value)
	assert.Equal(t, 3, series[0].Samples[1].Row)
}

func TestFormats(t *testing.T) {
	assert.Equal(t, FormatParquet, DetectFormat("/data/x.PARQUET"))
	assert.Equal(t, FormatXLSX, DetectFormat("book.xlsx"))
	assert.Equal(t, FormatUnknown, DetectFormat("notes.md"))

	f, err := ParseFormat("sql")
	require.NoError(t, err)
	assert.Equal(t, FormatDuckDB, f)
	_, err = ParseFormat("avro")
	assert.Error(t, err)

	assert.Equal(t, "it''s.csv", escapePath("it's.csv"))
}
