// Package session owns the current models of one analysis context. Each
// stage is recomputed when its inputs change and everything downstream of it
// is invalidated in the same step.
package session

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/factor"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// ConjointConfig selects the columns of the part-worth model. Empty
// Independent means every column except the dependent one; empty Dependent
// means the last column.
type ConjointConfig struct {
	Exclude     []string `json:"exclude"`
	Dependent   string   `json:"dependent"`
	Independent []string `json:"independent"`
}

// AttributeConfig declares attributes and the optional price attribute.
type AttributeConfig struct {
	Attributes     []conjoint.Attribute `json:"attributes"`
	PriceAttribute string               `json:"price_attribute"`
	// PriceRange is max − min observed price; 0 skips the unit price.
	PriceRange float64 `json:"price_range"`
}

// FactorConfig configures factor extraction. NFactors 0 uses the Kaiser
// proposal.
type FactorConfig struct {
	Exclude  []string `json:"exclude"`
	NFactors int      `json:"n_factors"`
	Rotation string   `json:"rotation"`
	// Force proceeds even when the adequacy tests fail.
	Force bool `json:"force"`
}

// ConjointResult is the output of a successful conjoint fit.
type ConjointResult struct {
	Clean analysis.CleanReport `json:"clean"`
	Model *conjoint.Model      `json:"model"`
}

// FactorResult is the output of a factor fit.
type FactorResult struct {
	Clean       analysis.CleanReport    `json:"clean"`
	Adequacy    *factor.AdequacyResult  `json:"adequacy"`
	Eigenvalues []float64               `json:"eigenvalues"`
	Proposed    int                     `json:"proposed_factors"`
	Model       *factor.Model           `json:"-"`
	High        []factor.FactorLoadings `json:"high_loadings"`
	Variance    factor.VarianceSummary  `json:"variance"`
	Warnings    []analysis.Warning      `json:"warnings,omitempty"`
}

type conjointState struct {
	table     *analysis.Table
	clean     analysis.CleanReport
	model     *conjoint.Model
	attrs     *conjoint.AttributeSummary
	priceAttr string
	unitPrice *float64
	market    *conjoint.Market
	// stale holds the error of the last failed fit; the model above is then
	// kept for inspection but never served.
	stale error
}

type factorState struct {
	result *FactorResult
	stale  error
}

// Session is one independent analysis context over a loaded table.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	table *analysis.Table
	cj    conjointState
	fa    factorState
	cache map[uint64]*conjoint.Model
}

// New starts a session over t.
func New(id string, t *analysis.Table) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		table:     t,
		cache:     make(map[uint64]*conjoint.Model),
	}
}

// Table returns the raw table.
func (s *Session) Table() *analysis.Table { return s.table }

// DefaultColumns returns every column except the last as independent and the
// last as dependent.
func DefaultColumns(t *analysis.Table) (independent []string, dependent string) {
	cols := t.Columns()
	if len(cols) == 0 {
		return nil, ""
	}
	return cols[:len(cols)-1], cols[len(cols)-1]
}

// FitConjoint cleans the table and refits the part-worth model. Attributes
// and market are invalidated. On failure the previous model is kept but the
// pipeline is stale until the next successful fit.
func (s *Session) FitConjoint(cfg ConjointConfig) (*ConjointResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, tbl, err := s.fitConjoint(cfg)
	s.cj.attrs, s.cj.market, s.cj.unitPrice, s.cj.priceAttr = nil, nil, nil, ""
	if err != nil {
		s.cj.stale = err
		log.Debug().Err(err).Str("session", s.ID).Msg("conjoint fit failed; pipeline marked stale")
		return nil, err
	}
	s.cj.table, s.cj.clean, s.cj.model, s.cj.stale = tbl, res.Clean, res.Model, nil
	return res, nil
}

func (s *Session) fitConjoint(cfg ConjointConfig) (*ConjointResult, *analysis.Table, error) {
	tbl, rep, err := s.table.Clean(cfg.Exclude)
	if err != nil {
		return nil, nil, err
	}
	x, y := cfg.Independent, cfg.Dependent
	if y == "" {
		_, y = DefaultColumns(tbl)
	}
	if len(x) == 0 {
		for _, c := range tbl.Columns() {
			if c != y {
				x = append(x, c)
			}
		}
	}
	key := fingerprint(tbl.Fingerprint(), "conjoint", y, strings.Join(x, "\x1f"))
	if m, ok := s.cache[key]; ok {
		log.Debug().Str("session", s.ID).Msg("conjoint fit served from cache")
		return &ConjointResult{Clean: rep, Model: m}, tbl, nil
	}
	m, err := conjoint.Estimate(tbl, x, y)
	if err != nil {
		return nil, nil, err
	}
	s.cache[key] = m
	return &ConjointResult{Clean: rep, Model: m}, tbl, nil
}

// ConjointModel returns the current model, or the error that made it stale.
func (s *Session) ConjointModel() (*conjoint.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conjointModel()
}

func (s *Session) conjointModel() (*conjoint.Model, error) {
	if s.cj.stale != nil {
		return nil, s.cj.stale
	}
	if s.cj.model == nil {
		return nil, analysis.Preconditionf("conjoint", "no model fitted yet")
	}
	return s.cj.model, nil
}

// DefineAttributes summarizes the attributes against the current model and,
// when a price attribute and range are given, computes the unit price. The
// market is invalidated.
func (s *Session) DefineAttributes(cfg AttributeConfig) (*conjoint.AttributeSummary, *float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cj.attrs, s.cj.market, s.cj.unitPrice, s.cj.priceAttr = nil, nil, nil, ""
	m, err := s.conjointModel()
	if err != nil {
		return nil, nil, err
	}
	sum, err := conjoint.Summarize(m, cfg.Attributes)
	if err != nil {
		return nil, nil, err
	}
	var unit *float64
	if cfg.PriceAttribute != "" {
		if _, ok := sum.Attribute(cfg.PriceAttribute); !ok {
			return nil, nil, analysis.Preconditionf("define attributes", "price attribute %q is not defined", cfg.PriceAttribute)
		}
		if cfg.PriceRange != 0 {
			u, err := sum.UnitPrice(cfg.PriceAttribute, cfg.PriceRange)
			if err != nil {
				return nil, nil, err
			}
			unit = &u
		}
	}
	s.cj.attrs, s.cj.unitPrice, s.cj.priceAttr = sum, unit, cfg.PriceAttribute
	return sum, unit, nil
}

func (s *Session) attributes() (*conjoint.AttributeSummary, error) {
	if _, err := s.conjointModel(); err != nil {
		return nil, err
	}
	if s.cj.attrs == nil {
		return nil, analysis.Preconditionf("conjoint", "no attributes defined for the current model")
	}
	return s.cj.attrs, nil
}

// Predict scores one level combination with the current model.
func (s *Session) Predict(levels []string) (*conjoint.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, err := s.attributes()
	if err != nil {
		return nil, err
	}
	return sum.Predict(levels, s.cj.unitPrice)
}

// Market simulates the market for the current model, zeroing the levels of
// the price attribute. The result is reused until an upstream change.
func (s *Session) Market() (*conjoint.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market()
}

func (s *Session) market() (*conjoint.Market, error) {
	sum, err := s.attributes()
	if err != nil {
		return nil, err
	}
	if s.cj.market != nil {
		return s.cj.market, nil
	}
	var price []string
	if s.cj.priceAttr != "" {
		a, _ := sum.Attribute(s.cj.priceAttr)
		price = a.Levels
	}
	mk, err := conjoint.Simulate(s.cj.table, s.cj.model, price)
	if err != nil {
		return nil, err
	}
	s.cj.market = mk
	return mk, nil
}

// Product looks a bundle up by id. A miss is reported with ok=false.
func (s *Session) Product(id string) (conjoint.Bundle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk, err := s.market()
	if err != nil {
		return conjoint.Bundle{}, false, err
	}
	b, ok := mk.Lookup(id)
	return b, ok, nil
}

// Match finds the single bundle having every given level.
func (s *Session) Match(levels []string) (conjoint.Bundle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk, err := s.market()
	if err != nil {
		return conjoint.Bundle{}, false, err
	}
	b, ok := mk.Match(levels)
	return b, ok, nil
}

// Adequacy cleans the table and runs Bartlett and KMO over every remaining
// column. It does not change the factor pipeline.
func (s *Session) Adequacy(exclude []string) (*factor.AdequacyResult, analysis.CleanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, rep, err := s.table.Clean(exclude)
	if err != nil {
		return nil, rep, err
	}
	x, err := tbl.Matrix(tbl.Columns())
	if err != nil {
		return nil, rep, err
	}
	res, err := factor.Adequacy(x, tbl.Columns())
	return res, rep, err
}

// FitFactor runs adequacy, eigenvalues and extraction in one step. Failing
// adequacy is a PreconditionError unless cfg.Force is set. threshold is the
// high-loading cutoff and is used as given, so 0 lists every positive loading.
func (s *Session) FitFactor(cfg FactorConfig, threshold float64) (*FactorResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.fitFactor(cfg, threshold)
	if err != nil {
		s.fa.stale = err
		return nil, err
	}
	s.fa.result, s.fa.stale = res, nil
	return res, nil
}

func (s *Session) fitFactor(cfg FactorConfig, threshold float64) (*FactorResult, error) {
	tbl, rep, err := s.table.Clean(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	names := tbl.Columns()
	x, err := tbl.Matrix(names)
	if err != nil {
		return nil, err
	}
	adq, err := factor.Adequacy(x, names)
	if err != nil {
		return nil, err
	}
	res := &FactorResult{Clean: rep, Adequacy: adq}
	if rep.HadMissing {
		res.Warnings = append(res.Warnings, analysis.Warning{
			Code:    analysis.WarnMissingDropped,
			Message: "rows with missing values were removed",
		})
	}
	if w := adq.Warning(); w != nil {
		if !cfg.Force {
			return nil, analysis.Preconditionf("fit factors", "%s; rerun with force to proceed anyway", w.Message)
		}
		res.Warnings = append(res.Warnings, *w)
	}
	if res.Eigenvalues, err = factor.Eigenvalues(x); err != nil {
		return nil, err
	}
	res.Proposed = factor.ProposeFactors(res.Eigenvalues)
	n := cfg.NFactors
	if n == 0 {
		n = res.Proposed
	}
	if n == 0 {
		return nil, analysis.Preconditionf("fit factors", "no eigenvalue exceeds %.1f; set the number of factors explicitly", factor.KaiserCutoff)
	}
	if res.Model, err = factor.Fit(x, names, factor.Options{NFactors: n, Rotation: cfg.Rotation}); err != nil {
		return nil, err
	}
	res.High = factor.HighLoadings(res.Model, threshold)
	res.Variance = res.Model.Variance()
	res.Warnings = append(res.Warnings, res.Model.Warnings()...)
	return res, nil
}

// FactorModel returns the current factor result, or the error that made it stale.
func (s *Session) FactorModel() (*FactorResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fa.stale != nil {
		return nil, s.fa.stale
	}
	if s.fa.result == nil {
		return nil, analysis.Preconditionf("factor", "no factor model fitted yet")
	}
	return s.fa.result, nil
}

func fingerprint(table uint64, parts ...string) uint64 {
	d := xxhash.New()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], table)
	_, _ = d.Write(b[:])
	for _, p := range parts {
		_, _ = d.WriteString("\x1e")
		_, _ = d.WriteString(p)
	}
	return d.Sum64()
}
