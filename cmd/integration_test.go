package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phonesCSV = `id,brand_x,brand_y,price_lo,price_hi,rating
1,1,0,1,0,7
2,1,0,0,1,5
3,0,1,1,0,6
4,0,1,0,1,3
5,1,0,1,0,7.5
6,0,1,0,1,2.5
7,1,0,0,1,NA
`

// weakCSV has near-zero correlations, so Bartlett's test cannot reject.
const weakCSV = `id,a,b,c
1,1,3,6
2,2,7,3
3,3,1,8
4,4,8,4
5,5,2,1
6,6,6,7
7,7,4,2
8,8,5,5
`

// resetFlags clears values and Changed state that persist between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// runCmd is a helper to execute the root command with args.
func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := execute(t, args...)
	if err != nil {
		t.Fatalf("command %v failed: %v\nstderr: %s", args, err, errOut)
	}
	return out
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func factorCSV(n int) string {
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString("id,q1,q2,q3,q4,q5\n")
	for i := 0; i < n; i++ {
		f1, f2 := rng.NormFloat64(), rng.NormFloat64()
		fmt.Fprintf(&b, "%d,%.6f,%.6f,%.6f,%.6f,%.6f\n", i+1,
			f1+0.3*rng.NormFloat64(), f1+0.3*rng.NormFloat64(), f1+0.3*rng.NormFloat64(),
			f2+0.3*rng.NormFloat64(), f2+0.3*rng.NormFloat64())
	}
	return b.String()
}

func TestCLI_Init_Add_Conjoint(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "phones.csv", phonesCSV)

	runCmd(t, "init", "phones", "--dataset", data, "-d", "phone survey")
	runCmd(t, "add", "-s", "phones", "Brand", "brand_x,brand_y")
	runCmd(t, "add", "-s", "phones", "Price", "price_lo", "price_hi", "--price", "--price-range", "10")

	s, err := study.Load(filepath.Join(home, ".surveylens", "studies", "phones"))
	require.NoError(t, err)
	require.Len(t, s.Conjoint.Attributes, 2)
	assert.Equal(t, "Price", s.Conjoint.PriceAttribute)
	assert.Equal(t, 10.0, s.Conjoint.PriceRange)

	out, errOut, err := execute(t, "conjoint", "-s", "phones",
		"--select", "brand_x,price_lo", "--market", "--product", "Product_2", "--match", "brand_x")
	require.NoError(t, err, errOut)
	for _, section := range []string{"[PART-WORTH UTILITIES]", "[ATTRIBUTES]", "Unit price per utility",
		"[PREDICTION]", "Optimal price", "[MARKET SHARE]", "[PRODUCT Product_2]", "[PRODUCT Product_1]"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, errOut, "missing values")

	out = runCmd(t, "list")
	assert.Contains(t, out, "phones")
}

func TestCLI_ConjointJSON(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "phones.csv", phonesCSV)

	out := runCmd(t, "conjoint", data, "--format", "json",
		"-a", "Brand=brand_x,brand_y", "-a", "Price=price_lo,price_hi",
		"--price-attribute", "Price", "--market")
	var rep struct {
		Model struct {
			Dependent    string             `json:"dependent"`
			Coefficients map[string]float64 `json:"coefficients"`
		} `json:"model"`
		Attributes struct {
			Attributes []map[string]any `json:"attributes"`
		} `json:"attributes"`
		Market struct {
			Bundles []struct {
				Share float64 `json:"share"`
			} `json:"bundles"`
		} `json:"market"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.Equal(t, "rating", rep.Model.Dependent)
	assert.Len(t, rep.Model.Coefficients, 4)
	assert.Len(t, rep.Attributes.Attributes, 2)
	var total float64
	for _, b := range rep.Market.Bundles {
		total += b.Share
	}
	assert.InDelta(t, 100.0, total, 1e-6)
}

func TestCLI_ConjointProductMissWarns(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "phones.csv", phonesCSV)

	out, errOut, err := execute(t, "conjoint", data,
		"-a", "Brand=brand_x,brand_y", "-a", "Price=price_lo,price_hi",
		"--price-attribute", "Price", "--product", "Product_99")
	require.NoError(t, err, errOut)
	assert.Contains(t, errOut, `product "Product_99" not found`)
	assert.Contains(t, out, "[PART-WORTH UTILITIES]")
	assert.Contains(t, out, "[MARKET SHARE]")
	assert.NotContains(t, out, "[PRODUCT Product_99]")

	out, _, err = execute(t, "conjoint", data, "--format", "json",
		"-a", "Brand=brand_x,brand_y", "-a", "Price=price_lo,price_hi",
		"--price-attribute", "Price", "--product", "Product_99")
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.NotContains(t, rep, "product")
	assert.Contains(t, rep, "market")
}

func TestCLI_ConjointErrors(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "phones.csv", phonesCSV)

	_, _, err := execute(t, "conjoint", data, "--dependent", "rating", "--independent", "brand_x,rating")
	assert.ErrorIs(t, err, analysis.ErrPrecondition)

	_, _, err = execute(t, "conjoint", data, "--market")
	assert.ErrorIs(t, err, analysis.ErrPrecondition)

	_, _, err = execute(t, "conjoint", filepath.Join(home, "missing.csv"))
	assert.ErrorIs(t, err, analysis.ErrLoad)

	_, _, err = execute(t, "conjoint", data, "-a", "no-equals-sign")
	assert.Error(t, err)
}

func TestCLI_Factor(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "survey.csv", factorCSV(300))

	out := runCmd(t, "factor", data, "--n-factors", "2", "--pair", "Factor1,Factor2", "--threshold", "0.6")
	for _, section := range []string{"[ADEQUACY]", "[SCREE]", "[LOADINGS]", "[VARIANCE]",
		"[HIGH LOADINGS > 0.60]", "[LOADING PAIR Factor1 × Factor2]"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "Rotation: varimax")

	out = runCmd(t, "factor", data, "--adequacy-only", "--exclude", "q5")
	assert.Contains(t, out, "[ADEQUACY]")
	assert.NotContains(t, out, "[LOADINGS]")
	assert.NotContains(t, out, "q5")

	out = runCmd(t, "factor", data, "--format", "json", "--rotation", "none")
	var rep struct {
		Factors  []string                      `json:"factors"`
		Loadings map[string]map[string]float64 `json:"loadings"`
		Result   struct {
			Proposed int `json:"proposed_factors"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.Equal(t, 2, rep.Result.Proposed)
	assert.Equal(t, []string{"Factor1", "Factor2"}, rep.Factors)
	assert.Len(t, rep.Loadings, 5)

	out = runCmd(t, "factor", data, "--n-factors", "2", "--threshold", "0")
	assert.Contains(t, out, "[HIGH LOADINGS > 0.00]")

	_, _, err := execute(t, "factor", data, "--n-factors", "2", "--pair", "Factor1,Factor9")
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
}

func TestCLI_FactorInadequateNeedsForce(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "weak.csv", weakCSV)

	_, _, err := execute(t, "factor", data)
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
	assert.Contains(t, err.Error(), "force")

	out, errOut, err := execute(t, "factor", data, "--force", "--n-factors", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[LOADINGS]")
	assert.Contains(t, errOut, "may not be appropriate")
}

func TestCLI_Inspect(t *testing.T) {
	home := isolate(t)
	d1 := filepath.Join(home, "d1")
	d2 := filepath.Join(home, "d2")
	require.NoError(t, os.MkdirAll(d1, 0o755))
	require.NoError(t, os.MkdirAll(d2, 0o755))
	writeFile(t, d1, "phones.csv", phonesCSV)
	writeFile(t, d2, "phones.csv", phonesCSV)

	out, errOut, err := execute(t, "inspect", filepath.Join(d1, "phones.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "[DATA TABLE]")
	assert.Contains(t, out, "Contains missing values: true")
	assert.Contains(t, errOut, "missing cells")

	outDir := filepath.Join(home, "profiles")
	runCmd(t, "inspect", filepath.Join(home, "d*", "phones.csv"), "-o", outDir, "-q")
	_, err = os.Stat(filepath.Join(outDir, "phones.profile.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "phones__2.profile.md"))
	assert.NoError(t, err)

	_, _, err = execute(t, "inspect", filepath.Join(home, "nothing*.csv"))
	assert.Error(t, err)
}

func TestCLI_ConfigAndSchema(t *testing.T) {
	home := isolate(t)

	runCmd(t, "config", "set", "high_loading_threshold", "0.4")
	runCmd(t, "config", "set", "rotation", "none")
	out := runCmd(t, "config", "show")
	assert.Contains(t, out, "high_loading_threshold: 0.400")
	assert.Contains(t, out, "rotation: none")
	_, err := os.Stat(filepath.Join(home, ".surveylens", "config.yaml"))
	assert.NoError(t, err)

	_, _, err = execute(t, "config", "set", "rotation", "promax")
	assert.Error(t, err)
	_, _, err = execute(t, "config", "set", "nope", "1")
	assert.Error(t, err)

	out = runCmd(t, "schema")
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, study.SchemaID, doc["$id"])
}

func TestCLI_InitRefusesOverwrite(t *testing.T) {
	home := isolate(t)
	data := writeFile(t, home, "phones.csv", phonesCSV)
	runCmd(t, "init", "dup", "--dataset", data)
	_, _, err := execute(t, "init", "dup", "--dataset", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "init", "nodata")
	assert.Error(t, err)
}
