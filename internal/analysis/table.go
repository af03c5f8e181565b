package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindText    Kind = "text"
	KindEmpty   Kind = "empty"
)

// Column is one named variable of a Table.
type Column struct {
	Name    string
	Kind    Kind
	Missing int
	values  []float64 // NaN where missing or non-numeric
}

// Values returns a copy of the parsed numeric values (NaN where missing).
func (c *Column) Values() []float64 {
	out := make([]float64, len(c.values))
	copy(out, c.values)
	return out
}

// Table is a rectangular dataset: a row-identifier column plus named columns.
type Table struct {
	Name   string
	IDName string

	ids    []string
	header []string
	rows   [][]string
	cols   []*Column
	index  map[string]int
	format NumberFormat
}

func newTable(name, idName string, header []string, ids []string, rows [][]string, nf NumberFormat) *Table {
	t := &Table{
		Name:   name,
		IDName: idName,
		ids:    ids,
		header: header,
		rows:   rows,
		index:  make(map[string]int, len(header)),
		format: nf,
	}
	t.cols = make([]*Column, len(header))
	for j, h := range header {
		t.index[h] = j
		c := &Column{Name: h, values: make([]float64, len(rows))}
		var numCnt, txtCnt int
		for i, rec := range rows {
			v := rec[j]
			if IsMissing(v) {
				c.Missing++
				c.values[i] = math.NaN()
				continue
			}
			if x, ok := parseNumeric(v, nf); ok {
				c.values[i] = x
				numCnt++
				continue
			}
			c.values[i] = math.NaN()
			txtCnt++
		}
		switch {
		case txtCnt > 0:
			c.Kind = KindText
		case numCnt > 0:
			c.Kind = KindNumeric
		default:
			c.Kind = KindEmpty
		}
		t.cols[j] = c
	}
	return t
}

// Rows returns the number of observations.
func (t *Table) Rows() int { return len(t.rows) }

// Columns returns the column names in file order (the row-identifier column excluded).
func (t *Table) Columns() []string {
	out := make([]string, len(t.header))
	copy(out, t.header)
	return out
}

// Shape returns (rows, columns).
func (t *Table) Shape() (int, int) { return len(t.rows), len(t.header) }

// RowIDs returns the row identifiers.
func (t *Table) RowIDs() []string {
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	return out
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	j, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[j], true
}

// Cell returns the raw text of a cell.
func (t *Table) Cell(row int, col string) (string, bool) {
	j, ok := t.index[col]
	if !ok || row < 0 || row >= len(t.rows) {
		return "", false
	}
	return t.rows[row][j], true
}

// HasMissing reports whether any cell is missing.
func (t *Table) HasMissing() bool {
	return t.MissingCells() > 0
}

// MissingCells counts missing cells over all columns.
func (t *Table) MissingCells() int {
	n := 0
	for _, c := range t.cols {
		n += c.Missing
	}
	return n
}

// CleanReport describes what Clean removed.
type CleanReport struct {
	HadMissing     bool     `json:"had_missing"`
	RowsDropped    int      `json:"rows_dropped"`
	ColumnsDropped []string `json:"columns_dropped"`
}

// Clean drops every row containing a missing cell, then removes exactly the
// excluded columns. An empty exclusion list keeps all columns.
func (t *Table) Clean(exclude []string) (*Table, CleanReport, error) {
	rep := CleanReport{HadMissing: t.HasMissing()}
	drop := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		if _, ok := t.index[name]; !ok {
			return nil, rep, Preconditionf("clean", "excluded column %q not found", name)
		}
		drop[name] = true
	}

	var keepIdx []int
	var header []string
	for j, h := range t.header {
		if drop[h] {
			rep.ColumnsDropped = append(rep.ColumnsDropped, h)
			continue
		}
		keepIdx = append(keepIdx, j)
		header = append(header, h)
	}

	var ids []string
	var rows [][]string
	for i, rec := range t.rows {
		complete := true
		for _, v := range rec {
			if IsMissing(v) {
				complete = false
				break
			}
		}
		if !complete {
			rep.RowsDropped++
			continue
		}
		out := make([]string, len(keepIdx))
		for k, j := range keepIdx {
			out[k] = rec[j]
		}
		ids = append(ids, t.ids[i])
		rows = append(rows, out)
	}
	log.Debug().
		Str("table", t.Name).
		Int("rows_dropped", rep.RowsDropped).
		Strs("columns_dropped", rep.ColumnsDropped).
		Msg("cleaned table")
	return newTable(t.Name, t.IDName, header, ids, rows, t.format), rep, nil
}

// Matrix returns the named columns as a dense numeric matrix. Every column must
// exist, be numeric and have no missing values.
func (t *Table) Matrix(cols []string) (*mat.Dense, error) {
	if len(cols) == 0 {
		return nil, Preconditionf("matrix", "no columns requested")
	}
	if len(t.rows) == 0 {
		return nil, Preconditionf("matrix", "table %q has no rows", t.Name)
	}
	data := make([]float64, len(t.rows)*len(cols))
	for k, name := range cols {
		c, ok := t.Column(name)
		if !ok {
			return nil, Preconditionf("matrix", "column %q not found", name)
		}
		if c.Kind != KindNumeric {
			return nil, Preconditionf("matrix", "column %q is %s, not numeric", name, c.Kind)
		}
		if c.Missing > 0 {
			return nil, Preconditionf("matrix", "column %q has %d missing values; clean the table first", name, c.Missing)
		}
		for i, v := range c.values {
			data[i*len(cols)+k] = v
		}
	}
	return mat.NewDense(len(t.rows), len(cols), data), nil
}

// NumericColumns lists the columns whose kind is numeric.
func (t *Table) NumericColumns() []string {
	var out []string
	for _, c := range t.cols {
		if c.Kind == KindNumeric {
			out = append(out, c.Name)
		}
	}
	return out
}

// Fingerprint hashes header and content so identical tables hash equal.
func (t *Table) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(t.IDName)
	_, _ = d.WriteString("\x1f")
	_, _ = d.WriteString(strings.Join(t.header, "\x1f"))
	for i, rec := range t.rows {
		_, _ = d.WriteString("\x1e")
		_, _ = d.WriteString(t.ids[i])
		_, _ = d.WriteString("\x1f")
		_, _ = d.WriteString(strings.Join(rec, "\x1f"))
	}
	return d.Sum64()
}

// String summarizes the table shape.
func (t *Table) String() string {
	return fmt.Sprintf("%s (%d rows × %d columns)", t.Name, len(t.rows), len(t.header))
}
