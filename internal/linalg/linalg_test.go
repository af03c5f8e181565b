package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPseudoInverse_FullRank(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	p, rank, err := PseudoInverse(a)
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	// pinv(A)·A = I for full column rank
	var id mat.Dense
	id.Mul(p, a)
	assert.True(t, mat.EqualApprox(&id, mat.NewDiagDense(2, []float64{1, 1}), 1e-12))
}

func TestPseudoInverse_RankDeficient(t *testing.T) {
	// second column duplicates the first
	a := mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3})
	p, rank, err := PseudoInverse(a)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	// A·pinv(A)·A = A
	var apa, tmp mat.Dense
	tmp.Mul(a, p)
	apa.Mul(&tmp, a)
	assert.True(t, mat.EqualApprox(&apa, a, 1e-10))

	// minimum-norm solution splits the weight evenly
	b := mat.NewVecDense(3, []float64{2, 4, 6})
	var x mat.VecDense
	x.MulVec(p, b)
	assert.InDelta(t, 1.0, x.AtVec(0), 1e-10)
	assert.InDelta(t, 1.0, x.AtVec(1), 1e-10)
}

func TestCorrelationAndZeroVariance(t *testing.T) {
	x := mat.NewDense(4, 3, []float64{
		1, 2, 5,
		2, 4, 5,
		3, 6, 5,
		4, 8, 5,
	})
	assert.Equal(t, 2, ZeroVariance(x))

	c := Correlation(x.Slice(0, 4, 0, 2))
	assert.InDelta(t, 1.0, c.At(0, 1), 1e-12)
	assert.InDelta(t, 1.0, c.At(0, 0), 1e-12)

	assert.Equal(t, -1, ZeroVariance(x.Slice(0, 4, 0, 2)))
}

func TestEigenSym_Descending(t *testing.T) {
	a := mat.NewSymDense(3, []float64{
		1, 0.5, 0,
		0.5, 1, 0,
		0, 0, 1,
	})
	vals, vecs, err := EigenSym(a)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5, 1, 0.5}, vals, 1e-12)

	// A·v = λ·v for the leading pair
	v := vecs.ColView(0)
	var av mat.VecDense
	av.MulVec(a, v)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, vals[0]*v.AtVec(i), av.AtVec(i), 1e-12)
	}
}

func TestInverse_SingularFallsBack(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	inv, err := Inverse(a)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, inv.At(0, 0), 1e-12)

	b := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
	inv, err = Inverse(b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, inv.At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, inv.At(1, 1), 1e-12)
}
