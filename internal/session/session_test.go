package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conjointCSV = `id,brand_x,brand_y,price_lo,price_hi,rating
1,1,0,1,0,7
2,1,0,0,1,5
3,0,1,1,0,6
4,0,1,0,1,3
5,1,0,1,0,7.5
6,0,1,0,1,2.5
7,1,0,0,1,NA
`

func newSession(t *testing.T, body string) *Session {
	t.Helper()
	tbl, err := analysis.LoadReader("s.csv", strings.NewReader(body), analysis.DefaultLoadOptions())
	require.NoError(t, err)
	return New("test", tbl)
}

var attrs = AttributeConfig{
	Attributes: []conjoint.Attribute{
		{Name: "Brand", Levels: []string{"brand_x", "brand_y"}},
		{Name: "Price", Levels: []string{"price_lo", "price_hi"}},
	},
	PriceAttribute: "Price",
	PriceRange:     10,
}

func TestConjointPipeline(t *testing.T) {
	s := newSession(t, conjointCSV)
	res, err := s.FitConjoint(ConjointConfig{})
	require.NoError(t, err)
	assert.True(t, res.Clean.HadMissing)
	assert.Equal(t, 1, res.Clean.RowsDropped)
	assert.Equal(t, "rating", res.Model.Dependent())
	assert.Equal(t, []string{"brand_x", "brand_y", "price_lo", "price_hi"}, res.Model.Columns())

	sum, unit, err := s.DefineAttributes(attrs)
	require.NoError(t, err)
	require.NotNil(t, unit)
	assert.Len(t, sum.Attributes, 2)

	p, err := s.Predict([]string{"brand_x", "price_lo"})
	require.NoError(t, err)
	require.NotNil(t, p.OptimalPrice)
	assert.InDelta(t, *unit*p.Utility, *p.OptimalPrice, 1e-9)

	mk, err := s.Market()
	require.NoError(t, err)
	require.Len(t, mk.Bundles, 2)
	var total float64
	for _, b := range mk.Bundles {
		total += b.Share
	}
	assert.InDelta(t, 100.0, total, 1e-6)

	b, ok, err := s.Product("Product_2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"brand_y"}, b.Levels)

	_, ok, err = s.Product("Product_9")
	require.NoError(t, err)
	assert.False(t, ok)

	b, ok, err = s.Match([]string{"brand_x"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Product_1", b.ID)
}

func TestFitConjoint_RejectionKeepsModelButMarksStale(t *testing.T) {
	s := newSession(t, conjointCSV)
	_, err := s.FitConjoint(ConjointConfig{Dependent: "rating", Independent: []string{"brand_x", "brand_y"}})
	require.NoError(t, err)
	before := s.cj.model
	_, _, err = s.DefineAttributes(AttributeConfig{Attributes: []conjoint.Attribute{{Name: "Brand", Levels: []string{"brand_x", "brand_y"}}}})
	require.NoError(t, err)

	_, err = s.FitConjoint(ConjointConfig{Dependent: "rating", Independent: []string{"brand_x", "rating"}})
	require.ErrorIs(t, err, analysis.ErrPrecondition)
	assert.Same(t, before, s.cj.model)

	_, err = s.ConjointModel()
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
	_, err = s.Predict([]string{"brand_x"})
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
	_, err = s.Market()
	assert.ErrorIs(t, err, analysis.ErrPrecondition)

	// a successful refit clears the stale state; attributes stay invalidated
	_, err = s.FitConjoint(ConjointConfig{Dependent: "rating", Independent: []string{"brand_x", "brand_y"}})
	require.NoError(t, err)
	m, err := s.ConjointModel()
	require.NoError(t, err)
	assert.Same(t, before, m, "identical refit is served from the fingerprint cache")
	_, err = s.Predict([]string{"brand_x"})
	assert.ErrorIs(t, err, analysis.ErrPrecondition, "attributes must be redefined after a refit")
}

func TestFitConjoint_Idempotent(t *testing.T) {
	a := newSession(t, conjointCSV)
	b := newSession(t, conjointCSV)
	ra, err := a.FitConjoint(ConjointConfig{})
	require.NoError(t, err)
	rb, err := b.FitConjoint(ConjointConfig{})
	require.NoError(t, err)
	assert.Equal(t, ra.Model.Coefficients(), rb.Model.Coefficients())
}

func TestDefineAttributes_DegeneratePrice(t *testing.T) {
	s := newSession(t, `id,a1,a2,p1,p2,y
1,1,0,1,0,3
2,0,1,1,0,1
3,1,0,0,1,3
4,0,1,0,1,1
`)
	_, err := s.FitConjoint(ConjointConfig{})
	require.NoError(t, err)
	_, _, err = s.DefineAttributes(AttributeConfig{
		Attributes: []conjoint.Attribute{
			{Name: "A", Levels: []string{"a1", "a2"}},
			{Name: "P", Levels: []string{"p1", "p2"}},
		},
		PriceAttribute: "P",
		PriceRange:     5,
	})
	assert.ErrorIs(t, err, analysis.ErrDegenerate)
}

const factorCSV = `id,q1,q2,q3,q4
1,1,2,5,4
2,2,2,4,5
3,3,4,2,3
4,4,4,2,2
5,5,5,1,1
6,2,3,3,4
7,4,5,2,1
8,3,3,4,2
`

// collinearCSV has q3 = 6 - q1 in every row, so its correlation matrix is singular.
const collinearCSV = `id,q1,q2,q3,q4
1,1,2,5,4
2,2,2,4,5
3,3,4,3,3
4,4,4,2,2
5,5,5,1,1
6,2,3,4,4
7,4,5,2,1
8,3,3,3,2
`

func TestFitFactor(t *testing.T) {
	s := newSession(t, factorCSV)
	_, err := s.FactorModel()
	assert.ErrorIs(t, err, analysis.ErrPrecondition)

	adq, rep, err := s.Adequacy(nil)
	require.NoError(t, err)
	assert.False(t, rep.HadMissing)
	assert.False(t, adq.Singular)
	assert.Equal(t, []string{"q1", "q2", "q3", "q4"}, adq.Variables)

	res, err := s.FitFactor(FactorConfig{NFactors: 1, Rotation: "varimax", Force: true}, 0.5)
	require.NoError(t, err)
	assert.Len(t, res.Eigenvalues, 4)
	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 1, res.Model.NFactors())
	require.Len(t, res.High, 1)
	assert.Equal(t, []string{"q1", "q2"}, res.High[0].Variables)

	got, err := s.FactorModel()
	require.NoError(t, err)
	assert.Same(t, res, got)

	_, err = s.FitFactor(FactorConfig{NFactors: 9, Force: true}, 0.5)
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
	_, err = s.FactorModel()
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
}

func TestFitFactor_ZeroThresholdIsLiteral(t *testing.T) {
	s := newSession(t, factorCSV)
	cfg := FactorConfig{NFactors: 2, Rotation: "none", Force: true}

	res, err := s.FitFactor(cfg, 0)
	require.NoError(t, err)
	require.Len(t, res.High, 2)
	// second unrotated factor loads weakly positive on q2 and q4 only
	assert.Equal(t, []string{"q2", "q4"}, res.High[1].Variables)

	res, err = s.FitFactor(cfg, 0.5)
	require.NoError(t, err)
	assert.True(t, res.High[1].Empty)
}

func TestFitFactor_SingularNeedsForce(t *testing.T) {
	s := newSession(t, collinearCSV)
	adq, _, err := s.Adequacy(nil)
	require.NoError(t, err)
	assert.True(t, adq.Singular)
	assert.False(t, adq.Adequate())
	assert.Zero(t, adq.ChiSquare)
	assert.Len(t, adq.KMO, 4)

	_, err = s.FitFactor(FactorConfig{NFactors: 1}, 0.5)
	assert.ErrorIs(t, err, analysis.ErrPrecondition)
	assert.Contains(t, err.Error(), "force")

	res, err := s.FitFactor(FactorConfig{NFactors: 1, Force: true}, 0.5)
	require.NoError(t, err)
	assert.Len(t, res.Eigenvalues, 4)
	assert.Equal(t, 1, res.Model.NFactors())
	var msgs []string
	for _, w := range res.Warnings {
		if w.Code == analysis.WarnInadequate {
			msgs = append(msgs, w.Message)
		}
	}
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "singular")
}

func TestStore(t *testing.T) {
	tbl, err := analysis.LoadReader("s.csv", strings.NewReader(conjointCSV), analysis.DefaultLoadOptions())
	require.NoError(t, err)
	st := NewStore(2)
	a, err := st.Create(tbl)
	require.NoError(t, err)
	b, err := st.Create(tbl)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	_, err = st.Create(tbl)
	assert.ErrorIs(t, err, analysis.ErrPrecondition)

	// sessions never share fitted state
	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_, _ = s.FitConjoint(ConjointConfig{})
		}(s)
	}
	wg.Wait()
	ma, err := a.ConjointModel()
	require.NoError(t, err)
	mb, err := b.ConjointModel()
	require.NoError(t, err)
	assert.NotSame(t, ma, mb)

	got, ok := st.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, st.Delete(a.ID))
	assert.False(t, st.Delete(a.ID))
	assert.Equal(t, 1, st.Len())
}

func TestSession_ConcurrentCalls(t *testing.T) {
	s := newSession(t, conjointCSV)
	_, err := s.FitConjoint(ConjointConfig{})
	require.NoError(t, err)
	_, _, err = s.DefineAttributes(attrs)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.FitConjoint(ConjointConfig{})
				_, _, _ = s.DefineAttributes(attrs)
				return
			}
			_, _ = s.Predict([]string{"brand_x", "price_lo"})
			_, _ = s.Market()
		}(i)
	}
	wg.Wait()

	_, _, err = s.DefineAttributes(attrs)
	require.NoError(t, err)
	mk, err := s.Market()
	require.NoError(t, err)
	assert.Len(t, mk.Bundles, 2)
}
