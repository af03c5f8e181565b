package analysis

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const surveyCSV = `resp,A1,A2,B1,rating
r1,1,0,1,7
r2,0,1,,5
r3,1,0,0,NA
r4,0,1,1,4
`

func load(t *testing.T, name, body string) *Table {
	t.Helper()
	tbl, err := LoadReader(name, strings.NewReader(body), DefaultLoadOptions())
	require.NoError(t, err)
	return tbl
}

func TestLoad_SchemaAndMissing(t *testing.T) {
	tbl := load(t, "survey.csv", surveyCSV)
	rows, cols := tbl.Shape()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, "resp", tbl.IDName)
	assert.Equal(t, []string{"A1", "A2", "B1", "rating"}, tbl.Columns())
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, tbl.RowIDs())
	assert.True(t, tbl.HasMissing())
	assert.Equal(t, 2, tbl.MissingCells())

	b1, ok := tbl.Column("B1")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, b1.Kind)
	assert.Equal(t, 1, b1.Missing)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"header only": "id,a,b\n",
		"ragged":      "id,a,b\n1,2\n",
		"dup columns": "id,a,a\n1,2,3\n",
		"empty name":  "id,,b\n1,2,3\n",
		"bad utf8":    "id,a\n1,\xff\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadReader("bad.csv", strings.NewReader(body), DefaultLoadOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLoad)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"), DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoad_MaxRows(t *testing.T) {
	opt := DefaultLoadOptions()
	opt.MaxRows = 2
	_, err := LoadReader("s.csv", strings.NewReader(surveyCSV), opt)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoad_DelimiterAndLocale(t *testing.T) {
	body := "id;price;share\n1;1.234,5;10%\n2;2.000,0;20%\n"
	opt := DefaultLoadOptions()
	opt.Number = NumberFormat{DecimalSeparator: ',', ThousandsSeparator: '.'}
	tbl, err := LoadReader("eu.csv", strings.NewReader(body), opt)
	require.NoError(t, err)
	price, _ := tbl.Column("price")
	assert.Equal(t, []float64{1234.5, 2000}, price.Values())
	share, _ := tbl.Column("share")
	assert.Equal(t, KindNumeric, share.Kind)

	tsv := load(t, "data.tsv", "id\tx\ty\n1\t2\t3\n")
	assert.Equal(t, []string{"x", "y"}, tsv.Columns())
}

func TestLoad_Compressed(t *testing.T) {
	dir := t.TempDir()
	plain := []byte("id,x,y\n1,2,3\n2,4,6\n")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var l4 bytes.Buffer
	lw := lz4.NewWriter(&l4)
	_, err = lw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	for name, data := range map[string][]byte{
		"t.csv.gz":  gz.Bytes(),
		"t.csv.zst": zs.Bytes(),
		"t.csv.lz4": l4.Bytes(),
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		tbl, err := Load(p, DefaultLoadOptions())
		require.NoError(t, err, name)
		assert.Equal(t, "t.csv", tbl.Name)
		rows, cols := tbl.Shape()
		assert.Equal(t, 2, rows)
		assert.Equal(t, 2, cols)
	}
}

func TestLoad_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"id", "x", "y"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"r1", 1, 2.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"r2", 3}))
	p := filepath.Join(t.TempDir(), "survey.xlsx")
	require.NoError(t, f.SaveAs(p))

	tbl, err := Load(p, DefaultLoadOptions())
	require.NoError(t, err)
	y, ok := tbl.Column("y")
	require.True(t, ok)
	assert.Equal(t, 1, y.Missing)
	x, _ := tbl.Column("x")
	assert.Equal(t, []float64{1, 3}, x.Values())

	opt := DefaultLoadOptions()
	opt.Sheet = "Nope"
	_, err = Load(p, opt)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestClean(t *testing.T) {
	tbl := load(t, "survey.csv", surveyCSV)
	clean, rep, err := tbl.Clean(nil)
	require.NoError(t, err)
	assert.True(t, rep.HadMissing)
	assert.Equal(t, 2, rep.RowsDropped)
	assert.Empty(t, rep.ColumnsDropped)
	assert.False(t, clean.HasMissing())
	assert.Equal(t, []string{"r1", "r4"}, clean.RowIDs())
	assert.Equal(t, tbl.Columns(), clean.Columns())

	dropped, rep, err := tbl.Clean([]string{"B1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, rep.ColumnsDropped)
	assert.Equal(t, []string{"A1", "A2", "rating"}, dropped.Columns())
	// rows with a missing cell are dropped even when that column is excluded
	assert.Equal(t, 2, dropped.Rows())

	_, _, err = tbl.Clean([]string{"nope"})
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestMatrix(t *testing.T) {
	tbl := load(t, "survey.csv", surveyCSV)
	_, err := tbl.Matrix([]string{"B1"})
	assert.ErrorIs(t, err, ErrPrecondition, "missing values must be cleaned first")

	clean, _, err := tbl.Clean(nil)
	require.NoError(t, err)
	m, err := clean.Matrix([]string{"A2", "rating"})
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 4.0, m.At(1, 1))

	_, err = clean.Matrix(nil)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = clean.Matrix([]string{"zzz"})
	assert.ErrorIs(t, err, ErrPrecondition)

	text := load(t, "t.csv", "id,name,score\n1,alice,3\n2,bob,4\n")
	_, err = text.Matrix([]string{"name"})
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, []string{"score"}, text.NumericColumns())
}

func TestFingerprint(t *testing.T) {
	a := load(t, "a.csv", surveyCSV)
	b := load(t, "b.csv", surveyCSV)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	c := load(t, "c.csv", strings.Replace(surveyCSV, "r1,1,0,1,7", "r1,1,0,1,8", 1))
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestProfile(t *testing.T) {
	tbl := load(t, "survey.csv", surveyCSV)
	p := NewProfile(tbl, 2)
	assert.Equal(t, 4, p.Rows)
	assert.True(t, p.HasMissing)
	require.Len(t, p.Cols, 4)
	assert.True(t, p.Cols[0].Indicator)
	assert.False(t, p.Cols[3].Indicator)
	assert.Len(t, p.Samples, 2)

	md := p.Markdown()
	assert.Contains(t, md, "[DATA TABLE]")
	assert.Contains(t, md, "Contains missing values: true")
	assert.Contains(t, md, "[SCHEMA]")
	assert.Contains(t, md, "| resp | A1 | A2 | B1 | rating |")
}

func TestIsMissing(t *testing.T) {
	for _, s := range []string{"", " ", "NA", "n/a", "NaN", "null", "None"} {
		assert.True(t, IsMissing(s), s)
	}
	for _, s := range []string{"0", "x", "nan?"} {
		assert.False(t, IsMissing(s), s)
	}
}
