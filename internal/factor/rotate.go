package factor

import "gonum.org/v1/gonum/mat"

const (
	varimaxMaxIter = 1000
	varimaxTol     = 1e-5
)

// varimax rotates loadings with Kaiser row normalization. It returns the
// rotated matrix, the iterations used and whether the criterion converged.
// A single factor is returned unchanged.
func varimax(loadings *mat.Dense, maxIter int, tol float64) (*mat.Dense, int, bool) {
	p, k := loadings.Dims()
	x := mat.DenseCopyOf(loadings)
	if k < 2 {
		return x, 0, true
	}

	norms := make([]float64, p)
	for i := 0; i < p; i++ {
		norms[i] = mat.Norm(x.RowView(i), 2)
		if norms[i] == 0 {
			norms[i] = 1
		}
		for j := 0; j < k; j++ {
			x.Set(i, j, x.At(i, j)/norms[i])
		}
	}

	rot := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		rot.Set(j, j, 1)
	}
	var (
		basis, target, trans mat.Dense
		svd                  mat.SVD
		u, v                 mat.Dense
		d                    float64
		iter                 int
		converged            bool
	)
	colSS := make([]float64, k)
	for iter = 1; iter <= maxIter; iter++ {
		old := d
		basis.Mul(x, rot)
		for j := range colSS {
			colSS[j] = 0
			for i := 0; i < p; i++ {
				b := basis.At(i, j)
				colSS[j] += b * b
			}
		}
		target.Apply(func(i, j int, b float64) float64 {
			return b*b*b - b*colSS[j]/float64(p)
		}, &basis)
		trans.Mul(x.T(), &target)
		if ok := svd.Factorize(&trans, mat.SVDThin); !ok {
			break
		}
		svd.UTo(&u)
		svd.VTo(&v)
		rot.Mul(&u, v.T())
		d = 0
		for _, s := range svd.Values(nil) {
			d += s
		}
		if d < old*(1+tol) {
			converged = true
			break
		}
	}
	if iter > maxIter {
		iter = maxIter
	}

	var out mat.Dense
	out.Mul(x, rot)
	for i := 0; i < p; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, out.At(i, j)*norms[i])
		}
	}
	return &out, iter, converged
}
