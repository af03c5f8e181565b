// Package linalg holds the small dense linear-algebra helpers shared by the
// conjoint and factor pipelines.
package linalg

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrFactorize is returned when an SVD or eigen factorization fails to converge.
var ErrFactorize = errors.New("matrix factorization failed")

// PseudoInverse returns the Moore-Penrose pseudo-inverse of a together with its
// numerical rank. Singular values below max(r,c)·ε·σmax are treated as zero.
func PseudoInverse(a mat.Matrix) (*mat.Dense, int, error) {
	r, c := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, ErrFactorize
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(s) > 0 {
		tol = float64(max(r, c)) * eps * s[0]
	}
	rank := 0
	inv := make([]float64, len(s))
	for i, sv := range s {
		if sv > tol {
			inv[i] = 1 / sv
			rank++
		}
	}
	// pinv = V · diag(1/s) · Uᵀ
	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inv[j] }, &v)
	var out mat.Dense
	out.Mul(&vs, u.T())
	return &out, rank, nil
}

const eps = 2.220446049250313e-16

// Correlation returns the Pearson correlation matrix of the columns of x.
func Correlation(x mat.Matrix) *mat.SymDense {
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, x, nil)
	return &corr
}

// Inverse inverts a symmetric matrix, falling back to the pseudo-inverse when
// it is singular or ill-conditioned.
func Inverse(a mat.Matrix) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(a); err == nil {
		return &inv, nil
	}
	p, _, err := PseudoInverse(a)
	return p, err
}

// EigenSym returns the eigenvalues of a in descending order and the matching
// eigenvectors as columns.
func EigenSym(a mat.Symmetric) ([]float64, *mat.Dense, error) {
	var es mat.EigenSym
	if ok := es.Factorize(a, true); !ok {
		return nil, nil, ErrFactorize
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	n := len(vals)
	outVals := make([]float64, n)
	outVecs := mat.NewDense(n, n, nil)
	// gonum returns ascending order
	for k := 0; k < n; k++ {
		src := n - 1 - k
		outVals[k] = vals[src]
		for i := 0; i < n; i++ {
			outVecs.Set(i, k, vecs.At(i, src))
		}
	}
	return outVals, outVecs, nil
}

// ZeroVariance returns the index of the first constant column of x, or -1.
func ZeroVariance(x mat.Matrix) int {
	r, c := x.Dims()
	for j := 0; j < c; j++ {
		if r < 2 {
			return j
		}
		if v := stat.Variance(mat.Col(nil, j, x), nil); v == 0 || math.IsNaN(v) {
			return j
		}
	}
	return -1
}
