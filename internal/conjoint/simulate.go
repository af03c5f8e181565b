package conjoint

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// MarketAssumption is attached to every simulated market.
const MarketAssumption = "Shares are relative preference shares under the logit choice rule. " +
	"Every distinct product in the dataset (price levels zeroed) is assumed to be the full competitive set; " +
	"they are not observed market shares."

// Bundle is one simulated product.
type Bundle struct {
	ID         string    `json:"id"`
	Levels     []string  `json:"levels"`
	Indicators []float64 `json:"indicators"`
	Utility    float64   `json:"utility"`
	Share      float64   `json:"share"`
}

// Market is the set of simulated bundles with their logit shares.
type Market struct {
	Columns     []string `json:"columns"`
	PriceLevels []string `json:"price_levels"`
	Bundles     []Bundle `json:"bundles"`
	Assumption  string   `json:"assumption"`

	byID map[string]int
}

// Simulate builds one bundle per distinct combination of the model's columns
// in t after zeroing priceLevels, predicts its utility and converts utilities
// to shares with the logit rule. Bundles keep first-occurrence order.
func Simulate(t *analysis.Table, m *Model, priceLevels []string) (*Market, error) {
	const op = "simulate market"
	if t == nil {
		return nil, analysis.Preconditionf(op, "no table loaded")
	}
	if m == nil {
		return nil, analysis.Preconditionf(op, "no fitted model")
	}
	cols := m.Columns()
	zero := make(map[int]bool, len(priceLevels))
	for _, p := range priceLevels {
		i, ok := m.index[p]
		if !ok {
			return nil, analysis.Preconditionf(op, "price level %q is not an independent variable", p)
		}
		zero[i] = true
	}
	x, err := t.Matrix(cols)
	if err != nil {
		return nil, err
	}
	n, k := x.Dims()

	mk := &Market{
		Columns:     cols,
		PriceLevels: append([]string(nil), priceLevels...),
		Assumption:  MarketAssumption,
		byID:        make(map[string]int),
	}
	seen := make(map[string]bool, n)
	var key strings.Builder
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		key.Reset()
		for j := 0; j < k; j++ {
			if !zero[j] {
				row[j] = x.At(i, j)
			}
			fmt.Fprintf(&key, "%g\x1f", row[j])
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		mk.Bundles = append(mk.Bundles, Bundle{Indicators: row})
	}
	if len(mk.Bundles) == 0 {
		return nil, analysis.Preconditionf(op, "table %q has no rows to simulate", t.Name)
	}

	utils := make([]float64, len(mk.Bundles))
	for i := range mk.Bundles {
		b := &mk.Bundles[i]
		if b.Utility, err = m.Predict(b.Indicators); err != nil {
			return nil, err
		}
		utils[i] = b.Utility
		b.ID = fmt.Sprintf("Product_%d", i+1)
		for j, v := range b.Indicators {
			if v != 0 {
				b.Levels = append(b.Levels, cols[j])
			}
		}
		mk.byID[b.ID] = i
	}
	shares, err := logitShares(utils)
	if err != nil {
		return nil, err
	}
	for i := range mk.Bundles {
		mk.Bundles[i].Share = shares[i]
	}
	log.Debug().
		Int("rows", n).
		Int("bundles", len(mk.Bundles)).
		Strs("price_levels", priceLevels).
		Msg("simulated market")
	return mk, nil
}

// logitShares returns 100·softmax(u), shifted by max(u) so large utilities do
// not overflow.
func logitShares(u []float64) ([]float64, error) {
	hi := floats.Max(u)
	out := make([]float64, len(u))
	var sum float64
	for i, v := range u {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] = 100 * out[i] / sum
	}
	if err := analysis.AllFinite("simulate market", "share", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup finds a bundle by id.
func (mk *Market) Lookup(id string) (Bundle, bool) {
	i, ok := mk.byID[id]
	if !ok {
		return Bundle{}, false
	}
	return mk.Bundles[i], true
}

// Match returns the bundle that has every given level set. It reports false
// unless exactly one bundle matches.
func (mk *Market) Match(levels []string) (Bundle, bool) {
	idx := make([]int, 0, len(levels))
	for _, lvl := range levels {
		j := indexOf(mk.Columns, lvl)
		if j < 0 {
			return Bundle{}, false
		}
		idx = append(idx, j)
	}
	found := -1
	for i, b := range mk.Bundles {
		all := true
		for _, j := range idx {
			if b.Indicators[j] == 0 {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		if found >= 0 {
			return Bundle{}, false
		}
		found = i
	}
	if found < 0 {
		return Bundle{}, false
	}
	return mk.Bundles[found], true
}

// Ranked returns the bundles by share, highest first.
func (mk *Market) Ranked() []Bundle {
	out := append([]Bundle(nil), mk.Bundles...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Share > out[j].Share })
	return out
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}
