package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/phenobatch/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Format is the tabular encoding of a batch file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(fileName string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", &domain.ValidationError{
			Code:    domain.CodeUnsupportedFormat,
			Message: "Unsupported file format " + strings.TrimPrefix(ext, ".") + ". Only csv, tsv and xlsx files are accepted.",
		}
	}
}

// Record is one non-empty data row keyed by header.
type Record struct {
	Line   int
	Values map[string]string
}

// Value returns the trimmed cell under header and whether the column exists.
func (r Record) Value(header string) (string, bool) {
	v, ok := r.Values[header]
	return v, ok
}

type rowSource interface {
	// next returns io.EOF after the last row.
	next() (line int, cells []string, err error)
	Close() error
}

// Table is an open batch file positioned after its header row.
type Table struct {
	Header    []string
	HeaderRow int

	src rowSource
}

// OpenTable reads the header of r. The caller must Close the table.
func OpenTable(fileName string, r io.Reader) (*Table, error) {
	format, err := DetectFormat(fileName)
	if err != nil {
		return nil, err
	}

	var src rowSource
	switch format {
	case FormatXLSX:
		src, err = newExcelSource(r)
	case FormatTSV:
		src = newDelimitedSource(r, '\t')
	default:
		src = newDelimitedSource(r, ',')
	}
	if err != nil {
		return nil, err
	}

	for {
		line, cells, err := src.next()
		if errors.Is(err, io.EOF) {
			_ = src.Close()
			return nil, &domain.ValidationError{Code: domain.CodeEmptyFile, Message: "The file is empty, no header row was found."}
		}
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		if isBlank(cells) {
			continue
		}
		header := make([]string, len(cells))
		for i, cell := range cells {
			header[i] = strings.TrimSpace(cell)
		}
		return &Table{Header: header, HeaderRow: line, src: src}, nil
	}
}

// Records yields the data rows after the header. Blank rows are skipped and
// cells under blank header columns are dropped.
func (t *Table) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			line, cells, err := t.src.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{Line: line}, err)
				return
			}
			if isBlank(cells) {
				continue
			}
			if !yield(t.record(line, cells), nil) {
				return
			}
		}
	}
}

func (t *Table) record(line int, cells []string) Record {
	values := make(map[string]string, len(t.Header))
	for i, name := range t.Header {
		if name == "" {
			continue
		}
		if i < len(cells) {
			values[name] = strings.TrimSpace(cells[i])
		} else {
			values[name] = ""
		}
	}
	return Record{Line: line, Values: values}
}

func (t *Table) Close() error {
	return t.src.Close()
}

func isBlank(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type delimitedSource struct {
	reader *csv.Reader
}

func newDelimitedSource(r io.Reader, comma rune) *delimitedSource {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if comma == '\t' {
		reader.LazyQuotes = true
	}
	return &delimitedSource{reader: reader}
}

func (s *delimitedSource) next() (int, []string, error) {
	cells, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		var parseErr *csv.ParseError
		line := 0
		if errors.As(err, &parseErr) {
			line = parseErr.StartLine
		}
		return line, nil, &domain.ValidationError{
			Code:    domain.CodeUnreadableFile,
			Line:    line,
			Message: "The file could not be read: " + err.Error(),
		}
	}
	line, _ := s.reader.FieldPos(0)
	return line, cells, nil
}

func (s *delimitedSource) Close() error { return nil }

type excelSource struct {
	file *excelize.File
	rows *excelize.Rows
	line int
}

func newExcelSource(r io.Reader) (*excelSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.ValidationError{Code: domain.CodeUnreadableFile, Message: "The xlsx file could not be opened: " + err.Error()}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, &domain.ValidationError{Code: domain.CodeEmptyFile, Message: "The xlsx file has no sheets."}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to read rows from xlsx")
	}
	return &excelSource{file: f, rows: rows}, nil
}

func (s *excelSource) next() (int, []string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return s.line, nil, &domain.ValidationError{Code: domain.CodeUnreadableFile, Line: s.line, Message: "The xlsx file could not be read: " + err.Error()}
		}
		return 0, nil, io.EOF
	}
	s.line++
	cells, err := s.rows.Columns()
	if err != nil {
		return s.line, nil, &domain.ValidationError{Code: domain.CodeUnreadableFile, Line: s.line, Message: "The xlsx file could not be read: " + err.Error()}
	}
	return s.line, cells, nil
}

func (s *excelSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
