package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Profile is a markdown-friendly overview of a table before modeling.
type Profile struct {
	Name       string          `json:"name"`
	Rows       int             `json:"rows"`
	Columns    int             `json:"columns"`
	IDName     string          `json:"id_name"`
	HasMissing bool            `json:"has_missing"`
	Cols       []ColumnProfile `json:"cols"`
	Samples    [][]string      `json:"samples,omitempty"`
}

// ColumnProfile captures inferred kind and statistics per column.
type ColumnProfile struct {
	Name    string  `json:"name"`
	Kind    Kind    `json:"kind"`
	NonNull int     `json:"non_null"`
	Missing int     `json:"missing"`
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Mean    float64 `json:"mean,omitempty"`
	Std     float64 `json:"std,omitempty"`
	// Indicator is true when every value is 0 or 1.
	Indicator bool `json:"indicator,omitempty"`
}

// NewProfile summarizes t, keeping up to sampleRows example rows.
func NewProfile(t *Table, sampleRows int) *Profile {
	p := &Profile{
		Name:       t.Name,
		Rows:       t.Rows(),
		Columns:    len(t.header),
		IDName:     t.IDName,
		HasMissing: t.HasMissing(),
	}
	for _, c := range t.cols {
		cp := ColumnProfile{Name: c.Name, Kind: c.Kind, Missing: c.Missing, NonNull: t.Rows() - c.Missing}
		if c.Kind == KindNumeric {
			vals := make([]float64, 0, len(c.values))
			for _, v := range c.values {
				if !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) > 0 {
				cp.Min = floats.Min(vals)
				cp.Max = floats.Max(vals)
				cp.Mean, cp.Std = stat.MeanStdDev(vals, nil)
				if len(vals) < 2 {
					cp.Std = 0
				}
				cp.Indicator = isIndicator(vals)
			}
		}
		p.Cols = append(p.Cols, cp)
	}
	for i := 0; i < sampleRows && i < t.Rows(); i++ {
		row := append([]string{t.ids[i]}, t.rows[i]...)
		p.Samples = append(p.Samples, row)
	}
	return p
}

func isIndicator(vals []float64) bool {
	for _, v := range vals {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

// Markdown renders the profile.
func (p *Profile) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATA TABLE]\n")
	if p.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", p.Name))
	}
	b.WriteString(fmt.Sprintf("Shape: (%s, %d)\n", humanize.Comma(int64(p.Rows)), p.Columns))
	b.WriteString(fmt.Sprintf("Contains missing values: %t\n\n", p.HasMissing))

	b.WriteString("[SCHEMA]\n")
	for _, c := range p.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Kind, c.NonNull, missPct))
		if c.Kind == KindNumeric {
			b.WriteString(fmt.Sprintf(", min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
			if c.Indicator {
				b.WriteString(" [0/1]")
			}
		}
		b.WriteString("\n")
	}
	if len(p.Samples) > 0 {
		b.WriteString("\n[HEAD]\n")
		b.WriteString("| ")
		b.WriteString(safeName(p.IDName))
		for _, c := range p.Cols {
			b.WriteString(" | ")
			b.WriteString(safeName(c.Name))
		}
		b.WriteString(" |\n|")
		for i := 0; i <= len(p.Cols); i++ {
			b.WriteString(" --- |")
		}
		b.WriteString("\n")
		for _, row := range p.Samples {
			b.WriteString("| ")
			for i, v := range row {
				if i > 0 {
					b.WriteString(" | ")
				}
				if len(v) > 40 {
					v = v[:37] + "..."
				}
				b.WriteString(safeVal(v))
			}
			b.WriteString(" |\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
