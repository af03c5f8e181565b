package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// LoadOptions controls how a table is read.
type LoadOptions struct {
	// Delimiter for text tables. If 0, detected from extension and header.
	Delimiter rune
	// Number controls locale-aware numeric parsing.
	Number NumberFormat
	// MaxRows rejects larger tables; 0 means unlimited.
	MaxRows int
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string
	// NoIDColumn treats the first column as data and numbers rows from 1.
	NoIDColumn bool
}

// DefaultLoadOptions returns reasonable defaults for survey tables.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{MaxRows: 100000}
}

// Load reads a table from disk. Supported: .csv, .tsv, .txt, .xlsx, each
// optionally compressed as .gz, .zst or .lz4.
func Load(path string, opt LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()
	return LoadReader(path, f, opt)
}

// LoadReader reads a table from r; name supplies the format via its extension.
func LoadReader(name string, r io.Reader, opt LoadOptions) (*Table, error) {
	inner, rc, err := decompress(name, r)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &LoadError{Path: name, Err: fmt.Errorf("read: %w", err)}
	}

	var records [][]string
	if strings.EqualFold(filepath.Ext(inner), ".xlsx") {
		records, err = readXLSX(data, opt.Sheet)
	} else {
		records, err = readDelimited(inner, data, opt.Delimiter)
	}
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	t, err := fromRecords(filepath.Base(inner), records, opt)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	log.Debug().
		Str("table", t.Name).
		Int("rows", t.Rows()).
		Int("columns", len(t.header)).
		Int("missing_cells", t.MissingCells()).
		Msg("loaded table")
	return t, nil
}

func decompress(name string, r io.Reader) (string, io.ReadCloser, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return "", nil, fmt.Errorf("open gzip: %w", err)
		}
		return name[:len(name)-len(".gz")], zr, nil
	case strings.HasSuffix(lower, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return "", nil, fmt.Errorf("open zstd: %w", err)
		}
		return name[:len(name)-len(".zst")], dec.IOReadCloser(), nil
	case strings.HasSuffix(lower, ".lz4"):
		return name[:len(name)-len(".lz4")], io.NopCloser(lz4.NewReader(r)), nil
	default:
		return name, io.NopCloser(r), nil
	}
}

func readDelimited(name string, data []byte, delim rune) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file")
	}
	if !utf8.Valid(data) {
		return nil, errors.New("invalid UTF-8 encoding")
	}
	if delim == 0 {
		delim = sniffDelimiter(name, data)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.TrimLeadingSpace = true
	// 0 enforces the header width on every row.
	r.FieldsPerRecord = 0
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited table: %w", err)
	}
	return records, nil
}

func sniffDelimiter(path string, data []byte) rune {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".tsv") {
		return '\t'
	}
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(first, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func readXLSX(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	target := sheets[0]
	if sheet != "" {
		target = ""
		for _, s := range sheets {
			if strings.EqualFold(s, sheet) {
				target = s
				break
			}
		}
		if target == "" {
			return nil, fmt.Errorf("sheet %q not found; available sheets: %s", sheet, strings.Join(sheets, ", "))
		}
	}
	rows, err := f.GetRows(target)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", target, err)
	}
	var records [][]string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		records = append(records, row)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", target)
	}
	width := len(records[0])
	for i := 1; i < len(records); i++ {
		switch {
		case len(records[i]) > width:
			return nil, fmt.Errorf("row %d has %d cells, header has %d", i+1, len(records[i]), width)
		case len(records[i]) < width:
			// excelize trims trailing empty cells
			padded := make([]string, width)
			copy(padded, records[i])
			records[i] = padded
		}
	}
	return records, nil
}

func fromRecords(name string, records [][]string, opt LoadOptions) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("empty file")
	}
	if len(records) < 2 {
		return nil, errors.New("no data rows after header")
	}
	if opt.MaxRows > 0 && len(records)-1 > opt.MaxRows {
		return nil, fmt.Errorf("table has %d rows, limit is %d (raise max_rows)", len(records)-1, opt.MaxRows)
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	idName := ""
	if !opt.NoIDColumn {
		if len(header) < 2 {
			return nil, errors.New("expected a row-identifier column followed by at least one data column")
		}
		idName, header = header[0], header[1:]
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column name %q", h)
		}
		seen[h] = true
	}

	ids := make([]string, 0, len(records)-1)
	rows := make([][]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		if opt.NoIDColumn {
			ids = append(ids, strconv.Itoa(i+1))
			rows = append(rows, trimAll(rec))
			continue
		}
		ids = append(ids, strings.TrimSpace(rec[0]))
		rows = append(rows, trimAll(rec[1:]))
	}
	return newTable(name, idName, header, ids, rows, opt.Number), nil
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
