package conjoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"gonum.org/v1/gonum/floats"
)

// Attribute groups mutually exclusive levels, e.g. "Color" over "Red" and "Blue".
type Attribute struct {
	Name   string   `json:"name" yaml:"name"`
	Levels []string `json:"levels" yaml:"levels"`
}

// AttributeResult is one row of the attribute summary table.
type AttributeResult struct {
	Name         string    `json:"name"`
	Levels       []string  `json:"levels"`
	Coefficients []float64 `json:"coefficients"`
	// Range is nil when the attribute has no levels.
	Range *float64 `json:"range"`
	// Importance is nil when the attribute is excluded from normalization.
	Importance *float64 `json:"importance"`
}

// AttributeSummary holds ranges and relative importance for a set of attributes.
type AttributeSummary struct {
	Attributes []AttributeResult  `json:"attributes"`
	TotalRange float64            `json:"total_range"`
	Warnings   []analysis.Warning `json:"warnings,omitempty"`

	model *Model
	owner map[string]string
}

// Summarize computes per-attribute part-worth ranges and relative importance.
// Attributes with fewer than two levels are excluded from normalization.
func Summarize(m *Model, attrs []Attribute) (*AttributeSummary, error) {
	const op = "summarize attributes"
	if m == nil {
		return nil, analysis.Preconditionf(op, "no fitted model")
	}
	if len(attrs) == 0 {
		return nil, analysis.Preconditionf(op, "no attributes defined")
	}
	s := &AttributeSummary{model: m, owner: make(map[string]string)}
	names := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if a.Name == "" {
			return nil, analysis.Preconditionf(op, "attribute name is empty")
		}
		if names[a.Name] {
			return nil, analysis.Preconditionf(op, "attribute %q defined twice", a.Name)
		}
		names[a.Name] = true

		res := AttributeResult{Name: a.Name, Levels: append([]string(nil), a.Levels...)}
		for _, lvl := range a.Levels {
			c, ok := m.Coefficient(lvl)
			if !ok {
				return nil, analysis.Preconditionf(op, "level %q of attribute %q is not an independent variable", lvl, a.Name)
			}
			res.Coefficients = append(res.Coefficients, c)
			if prev, dup := s.owner[lvl]; dup {
				s.warn(analysis.WarnDuplicateLevel, "level %q is assigned to both %q and %q", lvl, prev, a.Name)
				continue
			}
			s.owner[lvl] = a.Name
		}
		switch len(res.Coefficients) {
		case 0:
			s.warn(analysis.WarnEmptyAttribute, "attribute %q has no levels and is excluded from importance", a.Name)
		case 1:
			r := 0.0
			res.Range = &r
			s.warn(analysis.WarnSingleLevel, "attribute %q has a single level; its range is 0 and it is excluded from importance", a.Name)
		default:
			r := floats.Max(res.Coefficients) - floats.Min(res.Coefficients)
			res.Range = &r
			s.TotalRange += r
		}
		s.Attributes = append(s.Attributes, res)
	}

	if s.TotalRange == 0 || math.IsNaN(s.TotalRange) || math.IsInf(s.TotalRange, 0) {
		return nil, analysis.Degeneratef(op, "sum of part-worth ranges is %v; no attribute separates its levels", s.TotalRange)
	}
	for i := range s.Attributes {
		a := &s.Attributes[i]
		if a.Range == nil || len(a.Levels) < 2 {
			continue
		}
		imp := 100 * *a.Range / s.TotalRange
		a.Importance = &imp
	}
	return s, nil
}

func (s *AttributeSummary) warn(code, format string, args ...any) {
	s.Warnings = append(s.Warnings, analysis.Warning{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Attribute looks up one attribute's result.
func (s *AttributeSummary) Attribute(name string) (AttributeResult, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeResult{}, false
}

// ByImportance returns included attributes sorted by importance, highest first.
func (s *AttributeSummary) ByImportance() []AttributeResult {
	var out []AttributeResult
	for _, a := range s.Attributes {
		if a.Importance != nil {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Importance > *out[j].Importance })
	return out
}

// UnitPrice converts utility to currency: priceDiff (max − min observed price)
// divided by the part-worth range of the price attribute.
func (s *AttributeSummary) UnitPrice(attr string, priceDiff float64) (float64, error) {
	const op = "dollar per utility"
	if math.IsNaN(priceDiff) || math.IsInf(priceDiff, 0) || priceDiff <= 0 {
		return 0, analysis.Preconditionf(op, "price difference must be a positive number, got %v", priceDiff)
	}
	a, ok := s.Attribute(attr)
	if !ok {
		return 0, analysis.Preconditionf(op, "price attribute %q is not defined", attr)
	}
	if a.Range == nil {
		return 0, analysis.Preconditionf(op, "price attribute %q has no levels", attr)
	}
	if *a.Range <= zeroRangeTol*math.Max(1, maxAbs(a.Coefficients)) {
		return 0, analysis.Degeneratef(op, "part-worth range of %q is zero (all levels share one coefficient)", attr)
	}
	u := priceDiff / *a.Range
	if err := analysis.Finite(op, "unit price", u); err != nil {
		return 0, err
	}
	return u, nil
}

// zeroRangeTol treats ranges at rounding-error scale as zero.
const zeroRangeTol = 1e-9

func maxAbs(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

// Selection turns a list of chosen levels into a 0/1 vector aligned to the
// model columns. Choosing two levels of one attribute is flagged, not rejected.
func (s *AttributeSummary) Selection(levels []string) ([]float64, []analysis.Warning, error) {
	const op = "select levels"
	cols := s.model.Columns()
	vec := make([]float64, len(cols))
	perAttr := make(map[string][]string)
	var order []string
	for _, lvl := range levels {
		i, ok := s.model.index[lvl]
		if !ok {
			return nil, nil, analysis.Preconditionf(op, "level %q is not an independent variable", lvl)
		}
		vec[i] = 1
		if a, ok := s.owner[lvl]; ok {
			if _, seen := perAttr[a]; !seen {
				order = append(order, a)
			}
			perAttr[a] = append(perAttr[a], lvl)
		}
	}
	var warns []analysis.Warning
	for _, a := range order {
		if lv := perAttr[a]; len(lv) > 1 {
			warns = append(warns, analysis.Warning{
				Code:    analysis.WarnSameAttribute,
				Message: fmt.Sprintf("levels %v belong to the same attribute %q", lv, a),
			})
		}
	}
	return vec, warns, nil
}

// Prediction is the predicted total utility of one level combination.
type Prediction struct {
	Levels       []string           `json:"levels"`
	Utility      float64            `json:"utility"`
	OptimalPrice *float64           `json:"optimal_price,omitempty"`
	Warnings     []analysis.Warning `json:"warnings,omitempty"`
}

// Predict scores the chosen levels. When unitPrice is non-nil the optimal
// price point (unit price × utility) is included.
func (s *AttributeSummary) Predict(levels []string, unitPrice *float64) (*Prediction, error) {
	vec, warns, err := s.Selection(levels)
	if err != nil {
		return nil, err
	}
	u, err := s.model.Predict(vec)
	if err != nil {
		return nil, err
	}
	p := &Prediction{Levels: append([]string(nil), levels...), Utility: u, Warnings: warns}
	if unitPrice != nil {
		price, err := OptimalPrice(*unitPrice, u)
		if err != nil {
			return nil, err
		}
		p.OptimalPrice = &price
	}
	return p, nil
}

// OptimalPrice returns unitPrice × utility.
func OptimalPrice(unitPrice, utility float64) (float64, error) {
	p := unitPrice * utility
	if err := analysis.Finite("optimal price", "price", p); err != nil {
		return 0, err
	}
	return p, nil
}

// PredictUtility scores one 0/1 indicator row with the fitted model.
func PredictUtility(m *Model, indicator []float64) (float64, error) {
	if m == nil {
		return 0, analysis.Preconditionf("predict utility", "no fitted model")
	}
	return m.Predict(indicator)
}
