package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Records is a pull iterator over the rows of a tabular source. Next returns
// io.EOF after the last row.
type Records interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// csvRecords reads delimited text.
type csvRecords struct {
	r      *csv.Reader
	header []string
	closer io.Closer
}

func newCSVRecords(r io.Reader, delim rune) (*csvRecords, error) {
	cr := csv.NewReader(r)
	if delim != 0 {
		cr.Comma = delim
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, seqerr.New(seqerr.CodeMalformedInput, "input has no header row")
		}
		return nil, csvError(err)
	}
	out := &csvRecords{r: cr, header: append([]string(nil), header...)}
	if c, ok := r.(io.Closer); ok {
		out.closer = c
	}
	return out, nil
}

func (c *csvRecords) Header() []string { return c.header }

func (c *csvRecords) Next() ([]string, error) {
	rec, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, csvError(err)
	}
	return rec, nil
}

func (c *csvRecords) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return seqerr.Wrap(err, seqerr.CodeMalformedInput, "malformed delimited text").
			WithContext("line", pe.Line).
			WithContext("column", pe.Column)
	}
	return seqerr.Wrap(err, seqerr.CodeReadFailed, "reading delimited text")
}

// xlsxRecords streams one worksheet.
type xlsxRecords struct {
	f      *excelize.File
	rows   *excelize.Rows
	header []string
	raw    bool
}

func newXLSXRecords(f *excelize.File, sheet string, raw bool) (*xlsxRecords, error) {
	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			if list := f.GetSheetList(); len(list) > 0 {
				sheet = list[0]
			}
		}
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening worksheet").WithContext("sheet", sheet)
	}
	x := &xlsxRecords{f: f, rows: rows, raw: raw}
	if !rows.Next() {
		x.Close()
		return nil, seqerr.New(seqerr.CodeMalformedInput, "worksheet has no header row").WithContext("sheet", sheet)
	}
	if x.header, err = rows.Columns(); err != nil {
		x.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading worksheet header")
	}
	return x, nil
}

func (x *xlsxRecords) Header() []string { return x.header }

func (x *xlsxRecords) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading worksheet")
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns(excelize.Options{RawCellValue: x.raw})
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading worksheet row")
	}
	return cols, nil
}

func (x *xlsxRecords) Close() error {
	if x.rows != nil {
		x.rows.Close()
	}
	return x.f.Close()
}

// parquetRecords walks an Arrow table read from a Parquet file.
type parquetRecords struct {
	pf     *file.Reader
	table  arrow.Table
	tr     *array.TableReader
	rec    arrow.Record
	row    int
	header []string
	buf    []string
}

func newParquetRecords(ctx context.Context, src parquet.ReaderAtSeeker, batchSize int) (*parquetRecords, error) {
	pf, err := file.NewParquetReader(src)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "opening parquet file")
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: int64(batchSize),
	}, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "creating arrow reader")
	}
	table, err := fr.ReadTable(ctx)
	if err != nil {
		pf.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading parquet table")
	}

	p := &parquetRecords{
		pf:    pf,
		table: table,
		tr:    array.NewTableReader(table, int64(batchSize)),
	}
	for _, f := range table.Schema().Fields() {
		p.header = append(p.header, f.Name)
	}
	p.buf = make([]string, len(p.header))
	return p, nil
}

func (p *parquetRecords) Header() []string { return p.header }

func (p *parquetRecords) Next() ([]string, error) {
	for p.rec == nil || p.row >= int(p.rec.NumRows()) {
		if !p.tr.Next() {
			if err := p.tr.Err(); err != nil {
				return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading parquet batch")
			}
			return nil, io.EOF
		}
		p.rec, p.row = p.tr.Record(), 0
	}
	for i := range p.buf {
		p.buf[i] = arrowCell(p.rec.Column(i), p.row)
	}
	p.row++
	return p.buf, nil
}

func (p *parquetRecords) Close() error {
	p.tr.Release()
	p.table.Release()
	return p.pf.Close()
}

// arrowCell renders one Arrow value as text. Typed timestamps and dates
// become RFC 3339 in UTC.
func arrowCell(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return ""
	}
	switch a := col.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano)
	case *array.Date32:
		return a.Value(i).ToTime().UTC().Format(time.RFC3339Nano)
	case *array.Date64:
		return a.Value(i).ToTime().UTC().Format(time.RFC3339Nano)
	case *array.Float64:
		return strconv.FormatFloat(a.Value(i), 'g', -1, 64)
	case *array.Float32:
		return strconv.FormatFloat(float64(a.Value(i)), 'g', -1, 32)
	case *array.Int64:
		return strconv.FormatInt(a.Value(i), 10)
	case *array.Int32:
		return strconv.FormatInt(int64(a.Value(i)), 10)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	default:
		return col.ValueStr(i)
	}
}

// sqlRecords adapts database/sql rows from DuckDB.
type sqlRecords struct {
	db     *sql.DB
	rows   *sql.Rows
	header []string
	vals   []sql.NullString
	ptrs   []any
	buf    []string
}

func newSQLRecords(ctx context.Context, db *sql.DB, query string) (*sqlRecords, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "running query").WithContext("query", query)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading query columns")
	}
	s := &sqlRecords{
		rows:   rows,
		header: header,
		vals:   make([]sql.NullString, len(header)),
		ptrs:   make([]any, len(header)),
		buf:    make([]string, len(header)),
	}
	for i := range s.vals {
		s.ptrs[i] = &s.vals[i]
	}
	return s, nil
}

func (s *sqlRecords) Header() []string { return s.header }

func (s *sqlRecords) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "iterating query rows")
		}
		return nil, io.EOF
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "scanning query row")
	}
	for i, v := range s.vals {
		s.buf[i] = v.String
	}
	return s.buf, nil
}

func (s *sqlRecords) Close() error {
	err := s.rows.Close()
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
