package conjoint

import (
	"fmt"
	"strings"
)

// Markdown renders the coefficient table and fit diagnostics.
func (m *Model) Markdown() string {
	s := m.summary
	var b strings.Builder
	b.WriteString("[PART-WORTH UTILITIES]\n")
	b.WriteString(fmt.Sprintf("Dependent: %s\n", m.dependent))
	if s.NObs > 0 {
		b.WriteString(fmt.Sprintf("Observations: %d, rank %d, df_resid %d\n", s.NObs, s.Rank, s.DFResid))
		b.WriteString(fmt.Sprintf("R² (uncentered): %.4f, adjusted: %.4f\n", s.RSquared, s.AdjRSquared))
		if s.Inference && s.FStat > 0 {
			b.WriteString(fmt.Sprintf("F: %.4f (p = %.4g)\n", s.FStat, s.FPValue))
		}
	}
	b.WriteString("\n")
	if s.Inference {
		b.WriteString("| Level | Coef | Std Err | t | p |\n| --- | --- | --- | --- | --- |\n")
		for _, t := range s.Terms {
			if t.NoInference {
				b.WriteString(fmt.Sprintf("| %s | %.4f | n/a | n/a | n/a |\n", t.Name, t.Coef))
				continue
			}
			b.WriteString(fmt.Sprintf("| %s | %.4f | %.4f | %.3f | %.4f |\n", t.Name, t.Coef, t.StdErr, t.T, t.P))
		}
	} else {
		b.WriteString("| Level | Coef |\n| --- | --- |\n")
		for _, t := range s.Terms {
			b.WriteString(fmt.Sprintf("| %s | %.4f |\n", t.Name, t.Coef))
		}
	}
	return b.String()
}

// Markdown renders the attribute table.
func (s *AttributeSummary) Markdown() string {
	var b strings.Builder
	b.WriteString("[ATTRIBUTES]\n")
	b.WriteString("| Attribute | Levels | Coefficients | Range | Importance |\n| --- | --- | --- | --- | --- |\n")
	for _, a := range s.Attributes {
		coefs := make([]string, len(a.Coefficients))
		for i, c := range a.Coefficients {
			coefs[i] = fmt.Sprintf("%.4f", c)
		}
		rng, imp := "n/a", "excluded"
		if a.Range != nil {
			rng = fmt.Sprintf("%.4f", *a.Range)
		}
		if a.Importance != nil {
			imp = fmt.Sprintf("%.2f%%", *a.Importance)
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			a.Name, strings.Join(a.Levels, ", "), strings.Join(coefs, ", "), rng, imp))
	}
	return b.String()
}

// Markdown renders the market-share table, highest share first.
func (mk *Market) Markdown() string {
	var b strings.Builder
	b.WriteString("[MARKET SHARE]\n")
	b.WriteString(fmt.Sprintf("Note: %s\n", mk.Assumption))
	if len(mk.PriceLevels) > 0 {
		b.WriteString(fmt.Sprintf("Price levels held constant: %s\n", strings.Join(mk.PriceLevels, ", ")))
	}
	b.WriteString("\n| Product | Levels | Utility | Share |\n| --- | --- | --- | --- |\n")
	for _, p := range mk.Ranked() {
		b.WriteString(fmt.Sprintf("| %s | %s | %.4f | %.2f%% |\n", p.ID, strings.Join(p.Levels, ", "), p.Utility, p.Share))
	}
	return b.String()
}

// Markdown renders one bundle in detail.
func (p Bundle) Markdown() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[PRODUCT %s]\n", p.ID))
	b.WriteString(fmt.Sprintf("Market share: %.2f%%\n", p.Share))
	b.WriteString(fmt.Sprintf("Utility: %.4f\n", p.Utility))
	b.WriteString("Levels:\n")
	for _, l := range p.Levels {
		b.WriteString(fmt.Sprintf("- %s\n", l))
	}
	return b.String()
}

// Markdown renders the predicted utility and, when known, the optimal price.
func (p *Prediction) Markdown() string {
	var b strings.Builder
	b.WriteString("[PREDICTION]\n")
	b.WriteString(fmt.Sprintf("Levels: %s\n", strings.Join(p.Levels, ", ")))
	b.WriteString(fmt.Sprintf("Total utility: %.4f\n", p.Utility))
	if p.OptimalPrice != nil {
		b.WriteString(fmt.Sprintf("Optimal price: %.2f\n", *p.OptimalPrice))
	}
	return b.String()
}
