package study_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := study.New("phones", "data/phones.csv", dir)
	s.Conjoint = &study.Conjoint{
		Dependent: "rating",
		Attributes: []conjoint.Attribute{
			{Name: "Brand", Levels: []string{"brand_a", "brand_b"}},
			{Name: "Price", Levels: []string{"p_100", "p_200"}},
		},
		PriceAttribute: "Price",
		PriceRange:     100,
	}
	s.Factor = &study.Factor{NFactors: 2, Rotation: "varimax", Threshold: ptr(0.5)}
	require.NoError(t, s.Save())

	got, err := study.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, study.Version, got.Version)
	assert.Equal(t, "phones", got.Name)
	assert.Equal(t, s.Conjoint.Attributes, got.Conjoint.Attributes)
	assert.Equal(t, 2, got.Factor.NFactors)
	require.NotNil(t, got.Factor.Threshold)
	assert.Equal(t, 0.5, *got.Factor.Threshold)
	assert.Equal(t, filepath.Join(dir, "data", "phones.csv"), got.DatasetPath())
	assert.Equal(t, filepath.Join(dir, study.FileName), got.Path())

	found, err := study.Find(filepath.Join(dir))
	require.NoError(t, err)
	assert.Equal(t, got.Path(), found)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unsupported version": "version: 2.0.0\nname: x\ndataset: d.csv\n",
		"bad version":         "version: one\nname: x\ndataset: d.csv\n",
		"no name":             "version: 1.0.0\ndataset: d.csv\n",
		"no dataset":          "version: 1.0.0\nname: x\n",
		"bad id":              "version: 1.2.0\nid: nope\nname: x\ndataset: d.csv\n",
		"y in x": `version: 1.0.0
name: x
dataset: d.csv
conjoint:
  dependent: rating
  independent: [a, rating]
`,
		"unknown price attribute": `version: 1.0.0
name: x
dataset: d.csv
conjoint:
  price_attribute: Price
`,
		"bad rotation": `version: 1.0.0
name: x
dataset: d.csv
factor:
  rotation: promax
`,
		"threshold above one": `version: 1.0.0
name: x
dataset: d.csv
factor:
  threshold: 1.5
`,
		"bad pair": `version: 1.0.0
name: x
dataset: d.csv
factor:
  pair: [Factor1]
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), study.FileName)
			require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
			_, err := study.Load(p)
			assert.ErrorIs(t, err, analysis.ErrPrecondition)
		})
	}
}

func TestLoad_ZeroThresholdIsKept(t *testing.T) {
	p := filepath.Join(t.TempDir(), study.FileName)
	body := "version: 1.0.0\nname: x\ndataset: d.csv\nfactor:\n  threshold: 0\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	s, err := study.Load(p)
	require.NoError(t, err)
	require.NotNil(t, s.Factor.Threshold)
	assert.Equal(t, 0.0, *s.Factor.Threshold)

	p = filepath.Join(t.TempDir(), study.FileName)
	require.NoError(t, os.WriteFile(p, []byte("version: 1.0.0\nname: x\ndataset: d.csv\nfactor:\n  n_factors: 1\n"), 0o644))
	s, err = study.Load(p)
	require.NoError(t, err)
	assert.Nil(t, s.Factor.Threshold)
}

func TestLoad_Missing(t *testing.T) {
	_, err := study.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "study not found")
}

func TestSchema(t *testing.T) {
	b, err := study.Schema()
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, study.SchemaID, doc["$id"])
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"version", "name", "dataset", "conjoint", "factor"} {
		assert.Contains(t, props, key)
	}
}
