package factor

import (
	"fmt"
	"math"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/linalg"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Rotation methods.
const (
	RotationNone    = "none"
	RotationVarimax = "varimax"
)

// KaiserCutoff is the eigenvalue a factor must exceed to be proposed.
const KaiserCutoff = 1.0

// DefaultThreshold is the loading above which a variable is attributed to a factor.
const DefaultThreshold = 0.5

// Options configures Fit.
type Options struct {
	// NFactors is the number of factors to retain, in [1, variables].
	NFactors int
	// Rotation is "varimax", "none" or empty (none).
	Rotation string
}

// Model is a fitted principal-factor solution.
type Model struct {
	variables   []string
	eigenvalues []float64
	loadings    *mat.Dense
	rotation    string
	iterations  int
	warnings    []analysis.Warning
}

// VarianceSummary is the per-factor explained-variance table.
type VarianceSummary struct {
	Factors    []string  `json:"factors"`
	SSLoadings []float64 `json:"ss_loadings"`
	Proportion []float64 `json:"proportion"`
	Cumulative []float64 `json:"cumulative"`
}

// FactorLoadings lists the variables loading highly on one factor.
type FactorLoadings struct {
	Factor    string   `json:"factor"`
	Variables []string `json:"variables"`
	// Empty reports that no variable exceeds the threshold.
	Empty bool `json:"empty"`
}

// Eigenvalues returns the eigenvalues of the correlation matrix of x, largest first.
func Eigenvalues(x *mat.Dense) ([]float64, error) {
	const op = "eigenvalues"
	corr, err := correlation(op, x)
	if err != nil {
		return nil, err
	}
	vals, _, err := linalg.EigenSym(corr)
	if err != nil {
		return nil, analysis.Degeneratef(op, "%v", err)
	}
	return vals, nil
}

// ProposeFactors applies the Kaiser criterion: the number of eigenvalues
// strictly greater than 1.
func ProposeFactors(eigenvalues []float64) int {
	n := 0
	for _, v := range eigenvalues {
		if v > KaiserCutoff {
			n++
		}
	}
	return n
}

// Fit extracts principal factors from the correlation matrix of x and
// optionally rotates them.
func Fit(x *mat.Dense, names []string, opt Options) (*Model, error) {
	const op = "fit factors"
	corr, err := correlation(op, x)
	if err != nil {
		return nil, err
	}
	p := corr.SymmetricDim()
	if opt.NFactors < 1 || opt.NFactors > p {
		return nil, analysis.Preconditionf(op, "number of factors must be between 1 and %d, got %d", p, opt.NFactors)
	}
	rot := strings.ToLower(strings.TrimSpace(opt.Rotation))
	switch rot {
	case "", RotationNone:
		rot = RotationNone
	case RotationVarimax:
	default:
		return nil, analysis.Preconditionf(op, "unknown rotation %q (use varimax or none)", opt.Rotation)
	}
	if names != nil && len(names) != p {
		return nil, analysis.Preconditionf(op, "%d names for %d variables", len(names), p)
	}

	vals, vecs, err := linalg.EigenSym(corr)
	if err != nil {
		return nil, analysis.Degeneratef(op, "%v", err)
	}
	k := opt.NFactors
	load := mat.NewDense(p, k, nil)
	for j := 0; j < k; j++ {
		// numerically tiny negatives from a near-singular matrix
		lam := math.Max(vals[j], 0)
		s := math.Sqrt(lam)
		for i := 0; i < p; i++ {
			load.Set(i, j, vecs.At(i, j)*s)
		}
	}
	normalizeSigns(load)

	m := &Model{
		variables:   labels(names, p),
		eigenvalues: vals,
		loadings:    load,
		rotation:    rot,
	}
	if rot == RotationVarimax {
		rotated, iters, converged := varimax(load, varimaxMaxIter, varimaxTol)
		normalizeSigns(rotated)
		m.loadings = rotated
		m.iterations = iters
		if !converged {
			m.warnings = append(m.warnings, analysis.Warning{
				Code:    analysis.WarnRotationNotConv,
				Message: fmt.Sprintf("varimax did not converge in %d iterations", iters),
			})
		}
	}
	if err := analysis.AllFinite(op, "loading", m.loadings.RawMatrix().Data); err != nil {
		return nil, err
	}
	log.Debug().
		Int("variables", p).
		Int("factors", k).
		Str("rotation", rot).
		Int("iterations", m.iterations).
		Msg("fitted factor model")
	return m, nil
}

// normalizeSigns flips each column so its loadings sum to a non-negative value.
func normalizeSigns(a *mat.Dense) {
	r, c := a.Dims()
	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += a.At(i, j)
		}
		if sum >= 0 {
			continue
		}
		for i := 0; i < r; i++ {
			a.Set(i, j, -a.At(i, j))
		}
	}
}

// Variables returns the variable names in row order of the loadings.
func (m *Model) Variables() []string { return append([]string(nil), m.variables...) }

// Eigenvalues returns the correlation-matrix eigenvalues, largest first.
func (m *Model) Eigenvalues() []float64 { return append([]float64(nil), m.eigenvalues...) }

// Rotation returns the applied rotation method.
func (m *Model) Rotation() string { return m.rotation }

// Warnings returns non-fatal fit diagnostics.
func (m *Model) Warnings() []analysis.Warning { return m.warnings }

// NFactors returns the number of retained factors.
func (m *Model) NFactors() int {
	_, k := m.loadings.Dims()
	return k
}

// FactorNames returns Factor1..FactorK.
func (m *Model) FactorNames() []string {
	out := make([]string, m.NFactors())
	for i := range out {
		out[i] = fmt.Sprintf("Factor%d", i+1)
	}
	return out
}

// Loadings returns a copy of the variables × factors loading matrix.
func (m *Model) Loadings() *mat.Dense { return mat.DenseCopyOf(m.loadings) }

// Loading returns one variable's loading on one factor.
func (m *Model) Loading(variable, factor string) (float64, bool) {
	i := indexOf(m.variables, variable)
	j := indexOf(m.FactorNames(), factor)
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.loadings.At(i, j), true
}

// LoadingTable returns loadings keyed by variable, then factor name.
func (m *Model) LoadingTable() map[string]map[string]float64 {
	names := m.FactorNames()
	out := make(map[string]map[string]float64, len(m.variables))
	for i, v := range m.variables {
		row := make(map[string]float64, len(names))
		for j, f := range names {
			row[f] = m.loadings.At(i, j)
		}
		out[v] = row
	}
	return out
}

// Variance returns SS loadings, proportion of total variance and cumulative
// proportion per factor.
func (m *Model) Variance() VarianceSummary {
	p, k := m.loadings.Dims()
	v := VarianceSummary{
		Factors:    m.FactorNames(),
		SSLoadings: make([]float64, k),
		Proportion: make([]float64, k),
		Cumulative: make([]float64, k),
	}
	var cum float64
	for j := 0; j < k; j++ {
		var ss float64
		for i := 0; i < p; i++ {
			l := m.loadings.At(i, j)
			ss += l * l
		}
		v.SSLoadings[j] = ss
		v.Proportion[j] = ss / float64(p)
		cum += v.Proportion[j]
		v.Cumulative[j] = cum
	}
	return v
}

// HighLoadings lists, per factor, the variables whose loading exceeds threshold.
func HighLoadings(m *Model, threshold float64) []FactorLoadings {
	p, k := m.loadings.Dims()
	names := m.FactorNames()
	out := make([]FactorLoadings, k)
	for j := 0; j < k; j++ {
		out[j].Factor = names[j]
		for i := 0; i < p; i++ {
			if m.loadings.At(i, j) > threshold {
				out[j].Variables = append(out[j].Variables, m.variables[i])
			}
		}
		out[j].Empty = len(out[j].Variables) == 0
	}
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
