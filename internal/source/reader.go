package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"
)

// Row is one raw input record: header -> cell value. Values are strings,
// json.Number, float64, bool or nil depending on the reader.
type Row map[string]any

// RowReader streams rows. Next returns io.EOF after the last row.
type RowReader interface {
	Next() (Row, error)
	Close() error
}

// Format identifies an input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ErrEmptyInput is returned when the input has no header or no schema at all.
var ErrEmptyInput = errors.New("empty input: no header row or records")

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json", "jsonl", "ndjson":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported format %q (csv, json, xlsx)", s)
}

// DetectFormat guesses the format from a file name or URL path.
func DetectFormat(name string) (Format, error) {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot detect format of %q, pass --format", name)
	}
	return ParseFormat(ext)
}

// Open opens a file and returns the matching reader. An empty format is
// detected from the extension.
func Open(path string, format Format) (RowReader, error) {
	if format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if format == FormatXLSX {
		return OpenXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := NewReader(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader wraps an io.Reader. If r is an io.Closer it is closed with the
// returned reader.
func NewReader(r io.Reader, format Format) (RowReader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(r)
	case FormatJSON:
		return NewJSONReader(r)
	case FormatXLSX:
		return NewXLSXReader(r)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func closeIfCloser(r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// CSV
// --------------------------------------------------------------------------

type csvReader struct {
	src    io.Reader
	r      *csv.Reader
	header []string
}

// NewCSVReader reads a comma-separated file with a header row.
func NewCSVReader(r io.Reader) (RowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if isBlank(header) {
		return nil, ErrEmptyInput
	}
	return &csvReader{src: r, r: cr, header: header}, nil
}

func (c *csvReader) Next() (Row, error) {
	for {
		rec, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if isBlank(rec) {
			continue
		}
		row := make(Row, len(c.header))
		for i, h := range c.header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		return row, nil
	}
}

func (c *csvReader) Close() error { return closeIfCloser(c.src) }

// --------------------------------------------------------------------------
// JSON (array of objects or one object per line)
// --------------------------------------------------------------------------

type jsonReader struct {
	src   io.Reader
	dec   *json.Decoder
	array bool
	done  bool
}

// NewJSONReader reads either a top-level array of objects or JSON lines.
func NewJSONReader(r io.Reader) (RowReader, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("read json: %w", err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()
	jr := &jsonReader{src: r, dec: dec}

	switch first {
	case '[':
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read json array: %w", err)
		}
		jr.array = true
		if !dec.More() {
			return nil, ErrEmptyInput
		}
	case '{':
	default:
		return nil, fmt.Errorf("read json: expected array or object, got %q", first)
	}
	return jr, nil
}

func (j *jsonReader) Next() (Row, error) {
	if j.done {
		return nil, io.EOF
	}
	if j.array && !j.dec.More() {
		j.done = true
		return nil, io.EOF
	}
	var row Row
	if err := j.dec.Decode(&row); err != nil {
		if errors.Is(err, io.EOF) {
			j.done = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode json record: %w", err)
	}
	return row, nil
}

func (j *jsonReader) Close() error { return closeIfCloser(j.src) }

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		// UTF-8 BOM
		if b == 0xEF {
			if rest, err := br.Peek(2); err == nil && rest[0] == 0xBB && rest[1] == 0xBF {
				_, _ = br.Discard(2)
				continue
			}
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			return b, br.UnreadByte()
		}
	}
}

// --------------------------------------------------------------------------
// XLSX (first sheet, header in the first non-empty row)
// --------------------------------------------------------------------------

type xlsxReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

// OpenXLSX opens a workbook from disk.
func OpenXLSX(path string) (RowReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return newXLSXReader(f)
}

// NewXLSXReader reads a workbook from a stream.
func NewXLSXReader(r io.Reader) (RowReader, error) {
	f, err := excelize.OpenReader(r)
	_ = closeIfCloser(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return newXLSXReader(f)
}

func newXLSXReader(f *excelize.File) (RowReader, error) {
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, ErrEmptyInput
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	x := &xlsxReader{file: f, rows: rows}
	for rows.Next() {
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			x.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if !isBlank(cols) {
			x.header = cols
			return x, nil
		}
	}
	x.Close()
	return nil, ErrEmptyInput
}

func (x *xlsxReader) Next() (Row, error) {
	for x.rows.Next() {
		// Raw values keep 18-digit LWIN codes out of scientific notation.
		cols, err := x.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if isBlank(cols) {
			continue
		}
		row := make(Row, len(x.header))
		for i, h := range x.header {
			if i < len(cols) {
				row[h] = cols[i]
			}
		}
		return row, nil
	}
	if err := x.rows.Error(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return nil, io.EOF
}

func (x *xlsxReader) Close() error {
	if x.rows != nil {
		_ = x.rows.Close()
	}
	return x.file.Close()
}

// --------------------------------------------------------------------------
// In-memory rows (tests, API payloads)
// --------------------------------------------------------------------------

type sliceReader struct {
	rows []Row
	pos  int
}

// NewSliceReader serves rows from memory.
func NewSliceReader(rows []Row) RowReader {
	return &sliceReader{rows: rows}
}

func (s *sliceReader) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceReader) Close() error { return nil }

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Sniff guesses the format of a payload from its first bytes: JSON when it
// opens with a bracket or brace, XLSX for a zip header, CSV otherwise.
func Sniff(b []byte) Format {
	t := bytes.TrimLeft(b, " \t\r\n\ufeff")
	if len(t) > 0 && (t[0] == '[' || t[0] == '{') {
		return FormatJSON
	}
	if bytes.HasPrefix(t, []byte("PK")) {
		return FormatXLSX
	}
	return FormatCSV
}
