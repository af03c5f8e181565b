// Package conjoint estimates part-worth utilities and derives attribute
// importance, price sensitivity and simulated market shares from them.
package conjoint

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/linalg"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Model is an ordinary-least-squares fit of the dependent column on the
// independent columns, without an intercept.
type Model struct {
	dependent string
	columns   []string
	coef      []float64
	index     map[string]int
	summary   Summary
}

// Summary holds the diagnostic statistics of a fit.
type Summary struct {
	Dependent   string  `json:"dependent"`
	NObs        int     `json:"nobs"`
	Rank        int     `json:"rank"`
	DFModel     int     `json:"df_model"`
	DFResid     int     `json:"df_resid"`
	SSR         float64 `json:"ssr"`
	RSquared    float64 `json:"r_squared"`
	AdjRSquared float64 `json:"adj_r_squared"`

	// Inference is false when the residual degrees of freedom cannot support
	// standard errors; the fields below are then zero.
	Inference bool               `json:"inference"`
	FStat     float64            `json:"f_stat,omitempty"`
	FPValue   float64            `json:"f_p_value,omitempty"`
	Terms     []Term             `json:"terms"`
	Warnings  []analysis.Warning `json:"warnings,omitempty"`
}

// Term is one estimated part-worth with its inference statistics.
type Term struct {
	Name   string  `json:"name"`
	Coef   float64 `json:"coef"`
	StdErr float64 `json:"std_err,omitempty"`
	T      float64 `json:"t,omitempty"`
	P      float64 `json:"p,omitempty"`
	// NoInference marks a term whose standard error is zero or undefined.
	NoInference bool `json:"no_inference,omitempty"`
}

// Estimate fits the part-worth model. The dependent column must not be among
// the independent columns, and at least one independent column is required.
func Estimate(t *analysis.Table, independent []string, dependent string) (*Model, error) {
	const op = "estimate part-worths"
	if t == nil {
		return nil, analysis.Preconditionf(op, "no table loaded")
	}
	if len(independent) == 0 {
		return nil, analysis.Preconditionf(op, "no independent variables selected")
	}
	if dependent == "" {
		return nil, analysis.Preconditionf(op, "no dependent variable selected")
	}
	seen := make(map[string]bool, len(independent))
	for _, c := range independent {
		if c == dependent {
			return nil, analysis.Preconditionf(op, "dependent variable %q is also selected as independent", dependent)
		}
		if seen[c] {
			return nil, analysis.Preconditionf(op, "independent variable %q selected twice", c)
		}
		seen[c] = true
	}
	x, err := t.Matrix(independent)
	if err != nil {
		return nil, err
	}
	ym, err := t.Matrix([]string{dependent})
	if err != nil {
		return nil, err
	}
	return fit(independent, dependent, x, mat.Col(nil, 0, ym))
}

func fit(columns []string, dependent string, x *mat.Dense, y []float64) (*Model, error) {
	const op = "estimate part-worths"
	n, k := x.Dims()
	pinv, rank, err := linalg.PseudoInverse(x)
	if err != nil {
		return nil, analysis.Degeneratef(op, "%v", err)
	}
	var beta mat.VecDense
	beta.MulVec(pinv, mat.NewVecDense(n, y))
	coef := make([]float64, k)
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	if err := analysis.AllFinite(op, "coefficient", coef); err != nil {
		return nil, err
	}

	var yhat mat.VecDense
	yhat.MulVec(x, &beta)
	var ssr, tss float64
	for i, yi := range y {
		r := yi - yhat.AtVec(i)
		ssr += r * r
		tss += yi * yi
	}

	s := Summary{
		Dependent: dependent,
		NObs:      n,
		Rank:      rank,
		DFModel:   rank,
		DFResid:   n - rank,
		SSR:       ssr,
	}
	// No constant term, so R² is measured against the uncentered total sum of squares.
	if tss > 0 {
		s.RSquared = 1 - ssr/tss
	}
	if s.DFResid > 0 {
		s.AdjRSquared = 1 - float64(n)/float64(s.DFResid)*(1-s.RSquared)
	}
	s.Terms = make([]Term, k)
	for i, c := range columns {
		s.Terms[i] = Term{Name: c, Coef: coef[i]}
	}
	inferTerms(&s, pinv, tss)
	if rank < k {
		log.Debug().Int("rank", rank).Int("columns", k).Msg("design matrix is rank deficient; using minimum-norm solution")
	}

	m := &Model{
		dependent: dependent,
		columns:   append([]string(nil), columns...),
		coef:      coef,
		index:     make(map[string]int, k),
		summary:   s,
	}
	for i, c := range columns {
		m.index[c] = i
	}
	log.Debug().
		Str("dependent", dependent).
		Int("nobs", n).
		Int("rank", rank).
		Float64("r_squared", s.RSquared).
		Msg("fitted part-worth model")
	return m, nil
}

const perfectFitTol = 1e-20

// inferTerms fills standard errors, t and p values, and the F test. A term
// whose statistics are not finite is marked NoInference instead of reported.
func inferTerms(s *Summary, pinv *mat.Dense, tss float64) {
	if s.DFResid <= 0 || s.DFModel == 0 {
		s.Warnings = append(s.Warnings, analysis.Warning{
			Code:    analysis.WarnNoInference,
			Message: "not enough residual degrees of freedom for standard errors",
		})
		return
	}
	if s.SSR <= perfectFitTol*tss {
		s.Warnings = append(s.Warnings, analysis.Warning{
			Code:    analysis.WarnNoInference,
			Message: "residuals are zero (perfect fit); inference omitted",
		})
		return
	}
	scale := s.SSR / float64(s.DFResid)
	var cov mat.Dense
	cov.Mul(pinv, pinv.T())
	cov.Scale(scale, &cov)

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(s.DFResid)}
	terms := make([]Term, len(s.Terms))
	copy(terms, s.Terms)
	var skipped []string
	for i := range terms {
		se := math.Sqrt(cov.At(i, i))
		tv := terms[i].Coef / se
		p := 2 * tdist.Survival(math.Abs(tv))
		// an all-zero level column leaves only rounding noise in its pinv row
		if cov.At(i, i) <= perfectFitTol*scale || analysis.AllFinite("inference", "statistic", []float64{se, tv, p}) != nil {
			terms[i].NoInference = true
			skipped = append(skipped, terms[i].Name)
			continue
		}
		terms[i].StdErr, terms[i].T, terms[i].P = se, tv, p
	}
	if len(skipped) == len(terms) {
		s.Warnings = append(s.Warnings, analysis.Warning{
			Code:    analysis.WarnNoInference,
			Message: "standard errors are not finite (perfect or degenerate fit); inference omitted",
		})
		return
	}
	if len(skipped) > 0 {
		s.Warnings = append(s.Warnings, analysis.Warning{
			Code:    analysis.WarnNoInference,
			Message: fmt.Sprintf("no standard error for %s; their inference is omitted", strings.Join(skipped, ", ")),
		})
	}
	s.Terms = terms
	s.Inference = true

	ess := tss - s.SSR
	fstat := (ess / float64(s.DFModel)) / scale
	fp := distuv.F{D1: float64(s.DFModel), D2: float64(s.DFResid)}.Survival(fstat)
	if analysis.AllFinite("inference", "statistic", []float64{fstat, fp}) == nil {
		s.FStat, s.FPValue = fstat, fp
	}
}

// FromCoefficients builds a model from known part-worths, e.g. ones estimated
// elsewhere. It carries no fit diagnostics.
func FromCoefficients(dependent string, columns []string, coef []float64) (*Model, error) {
	const op = "load part-worths"
	if len(columns) == 0 || len(columns) != len(coef) {
		return nil, analysis.Preconditionf(op, "need one coefficient per column (%d columns, %d coefficients)", len(columns), len(coef))
	}
	if err := analysis.AllFinite(op, "coefficient", coef); err != nil {
		return nil, err
	}
	m := &Model{
		dependent: dependent,
		columns:   append([]string(nil), columns...),
		coef:      append([]float64(nil), coef...),
		index:     make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := m.index[c]; dup || c == dependent {
			return nil, analysis.Preconditionf(op, "column %q is duplicated or equals the dependent variable", c)
		}
		m.index[c] = i
	}
	m.summary = Summary{Dependent: dependent, Terms: make([]Term, len(columns))}
	for i, c := range columns {
		m.summary.Terms[i] = Term{Name: c, Coef: coef[i]}
	}
	return m, nil
}

// Dependent returns the name of the dependent column.
func (m *Model) Dependent() string { return m.dependent }

// Columns returns the independent columns in fit order.
func (m *Model) Columns() []string { return append([]string(nil), m.columns...) }

// Coefficient returns the part-worth of one level.
func (m *Model) Coefficient(name string) (float64, bool) {
	i, ok := m.index[name]
	if !ok {
		return 0, false
	}
	return m.coef[i], true
}

// Coefficients returns column → part-worth.
func (m *Model) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(m.coef))
	for i, c := range m.columns {
		out[c] = m.coef[i]
	}
	return out
}

// Summary returns the fit diagnostics.
func (m *Model) Summary() Summary { return m.summary }

// Predict returns the total utility of one row aligned to Columns.
func (m *Model) Predict(row []float64) (float64, error) {
	if len(row) != len(m.coef) {
		return 0, analysis.Preconditionf("predict utility", "row has %d values, model has %d columns", len(row), len(m.coef))
	}
	u := floats.Dot(m.coef, row)
	if err := analysis.Finite("predict utility", "utility", u); err != nil {
		return 0, err
	}
	return u, nil
}

// PredictMatrix predicts every row of x.
func (m *Model) PredictMatrix(x mat.Matrix) ([]float64, error) {
	r, c := x.Dims()
	if c != len(m.coef) {
		return nil, analysis.Preconditionf("predict utility", "matrix has %d columns, model has %d", c, len(m.coef))
	}
	var out mat.VecDense
	out.MulVec(x, mat.NewVecDense(c, append([]float64(nil), m.coef...)))
	u := make([]float64, r)
	for i := range u {
		u[i] = out.AtVec(i)
	}
	if err := analysis.AllFinite("predict utility", "utility", u); err != nil {
		return nil, err
	}
	return u, nil
}

// MarshalJSON exposes the coefficient table and diagnostics.
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Dependent    string             `json:"dependent"`
		Independent  []string           `json:"independent"`
		Coefficients map[string]float64 `json:"coefficients"`
		Summary      Summary            `json:"summary"`
	}{m.dependent, m.columns, m.Coefficients(), m.summary})
}
