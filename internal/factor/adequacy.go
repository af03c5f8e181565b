// Package factor tests survey items for factorability and extracts
// principal factors with optional varimax rotation.
package factor

import (
	"fmt"
	"math"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/linalg"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Adequacy thresholds. Data is adequate when the Bartlett p-value is below
// BartlettAlpha and the overall KMO exceeds KMOThreshold.
const (
	BartlettAlpha = 0.05
	KMOThreshold  = 0.6
)

// singularTol is the smallest correlation eigenvalue treated as nonzero.
const singularTol = 1e-10

// AdequacyResult holds Bartlett's sphericity test and the KMO measure. When
// Singular is set the correlation matrix has collinear columns and Bartlett's
// statistic is undefined; ChiSquare and PValue are then left at zero.
type AdequacyResult struct {
	Variables   []string  `json:"variables"`
	Singular    bool      `json:"singular,omitempty"`
	ChiSquare   float64   `json:"chi_square"`
	DF          float64   `json:"df"`
	PValue      float64   `json:"p_value"`
	KMO         []float64 `json:"kmo"`
	KMOOverall  float64   `json:"kmo_overall"`
	Observation int       `json:"observations"`
}

// Adequate applies the fixed decision rule.
func (r *AdequacyResult) Adequate() bool {
	return !r.Singular && r.PValue < BartlettAlpha && r.KMOOverall > KMOThreshold
}

// Warning describes a failed check, or returns nil when adequate.
func (r *AdequacyResult) Warning() *analysis.Warning {
	if r.Adequate() {
		return nil
	}
	if r.Singular {
		return &analysis.Warning{
			Code:    analysis.WarnInadequate,
			Message: "factor analysis may not be appropriate for this dataset (correlation matrix is singular; Bartlett's test is undefined)",
		}
	}
	return &analysis.Warning{
		Code:    analysis.WarnInadequate,
		Message: "factor analysis may not be appropriate for this dataset (needs Bartlett p < 0.05 and KMO > 0.6)",
	}
}

// Adequacy runs both tests over the columns of x. names labels the columns and
// may be nil. Collinear columns do not fail the call; the result is marked
// Singular and is never adequate.
func Adequacy(x *mat.Dense, names []string) (*AdequacyResult, error) {
	chi, df, p, singular, err := bartlett(x)
	if err != nil {
		return nil, err
	}
	per, overall, err := KMO(x)
	if err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	res := &AdequacyResult{
		Variables:   labels(names, len(per)),
		Singular:    singular,
		ChiSquare:   chi,
		DF:          df,
		PValue:      p,
		KMO:         per,
		KMOOverall:  overall,
		Observation: n,
	}
	log.Debug().
		Float64("chi_square", chi).
		Float64("p_value", p).
		Float64("kmo", overall).
		Bool("singular", singular).
		Bool("adequate", res.Adequate()).
		Msg("adequacy tests")
	return res, nil
}

// Bartlett tests whether the correlation matrix of x differs from identity.
// A singular correlation matrix is a DegenerateError.
func Bartlett(x *mat.Dense) (chi2, p float64, err error) {
	chi2, _, p, singular, err := bartlett(x)
	if err == nil && singular {
		err = analysis.Degeneratef("bartlett sphericity", "correlation matrix is singular (perfectly collinear columns)")
	}
	return chi2, p, err
}

// bartlett reports singular instead of a statistic when the correlation
// matrix has a (numerically) zero eigenvalue.
func bartlett(x *mat.Dense) (chi2, df, p float64, singular bool, err error) {
	const op = "bartlett sphericity"
	corr, err := correlation(op, x)
	if err != nil {
		return 0, 0, 0, false, err
	}
	n, k := x.Dims()
	df = float64(k*(k-1)) / 2
	vals, _, err := linalg.EigenSym(corr)
	if err != nil {
		return 0, 0, 0, false, analysis.Degeneratef(op, "eigen-decompose correlation matrix: %v", err)
	}
	logDet, sign := mat.LogDet(corr)
	if vals[len(vals)-1] < singularTol || sign <= 0 || math.IsInf(logDet, 0) {
		return 0, df, 0, true, nil
	}
	chi2 = -logDet * (float64(n-1) - float64(2*k+5)/6)
	p = distuv.ChiSquared{K: df}.Survival(chi2)
	if err := analysis.AllFinite(op, "statistic", []float64{chi2, p}); err != nil {
		return 0, 0, 0, false, err
	}
	return chi2, df, p, false, nil
}

// KMO returns the Kaiser-Meyer-Olkin sampling adequacy per variable and overall.
func KMO(x *mat.Dense) (perVariable []float64, overall float64, err error) {
	const op = "kmo"
	corr, err := correlation(op, x)
	if err != nil {
		return nil, 0, err
	}
	inv, err := linalg.Inverse(corr)
	if err != nil {
		return nil, 0, analysis.Degeneratef(op, "invert correlation matrix: %v", err)
	}
	k := corr.SymmetricDim()
	colCorr := make([]float64, k)
	colPart := make([]float64, k)
	var sumCorr, sumPart float64
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			r := corr.At(i, j)
			pc := -inv.At(i, j) / math.Sqrt(inv.At(i, i)*inv.At(j, j))
			colCorr[j] += r * r
			colPart[j] += pc * pc
		}
	}
	perVariable = make([]float64, k)
	for j := range perVariable {
		perVariable[j] = colCorr[j] / (colCorr[j] + colPart[j])
		sumCorr += colCorr[j]
		sumPart += colPart[j]
	}
	overall = sumCorr / (sumCorr + sumPart)
	if err := analysis.AllFinite(op, "kmo", append(perVariable, overall)); err != nil {
		return nil, 0, err
	}
	return perVariable, overall, nil
}

// correlation validates x and returns its correlation matrix.
func correlation(op string, x *mat.Dense) (*mat.SymDense, error) {
	if x == nil {
		return nil, analysis.Preconditionf(op, "no data")
	}
	n, k := x.Dims()
	if k < 2 {
		return nil, analysis.Preconditionf(op, "need at least 2 variables, got %d", k)
	}
	if n < 2 {
		return nil, analysis.Preconditionf(op, "need at least 2 observations, got %d", n)
	}
	if j := linalg.ZeroVariance(x); j >= 0 {
		return nil, analysis.Preconditionf(op, "column %d has zero variance", j+1)
	}
	return linalg.Correlation(x), nil
}

func labels(names []string, k int) []string {
	if len(names) == k {
		return append([]string(nil), names...)
	}
	out := make([]string, k)
	for i := range out {
		out[i] = fmt.Sprintf("V%d", i+1)
	}
	return out
}
