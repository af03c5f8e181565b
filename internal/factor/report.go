package factor

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
)

// Markdown renders both adequacy tests and the decision.
func (r *AdequacyResult) Markdown() string {
	var b strings.Builder
	b.WriteString("[ADEQUACY]\n")
	if r.Singular {
		b.WriteString("Bartlett's sphericity: undefined, the correlation matrix is singular (collinear columns)\n")
	} else {
		b.WriteString(fmt.Sprintf("Bartlett's sphericity: chi-square %.2f (df %.0f), p-value %.4f\n", r.ChiSquare, r.DF, r.PValue))
	}
	b.WriteString(fmt.Sprintf("Kaiser-Meyer-Olkin: %.4f\n", r.KMOOverall))
	for i, v := range r.Variables {
		b.WriteString(fmt.Sprintf("- %s: %.4f\n", v, r.KMO[i]))
	}
	if r.Adequate() {
		b.WriteString("Result: the data passes the adequacy tests for factor analysis\n")
	} else {
		b.WriteString("Result: factor analysis may not be appropriate for this dataset\n")
	}
	return b.String()
}

// ScreeMarkdown lists eigenvalues against the Kaiser line.
func ScreeMarkdown(eigenvalues []float64) string {
	var b strings.Builder
	b.WriteString("[SCREE]\n")
	b.WriteString(fmt.Sprintf("Proposed factors (eigenvalue > %.1f): %d\n\n", KaiserCutoff, ProposeFactors(eigenvalues)))
	b.WriteString("| Factor | Eigenvalue | Above 1 |\n| --- | --- | --- |\n")
	for i, v := range eigenvalues {
		mark := ""
		if v > KaiserCutoff {
			mark = "yes"
		}
		b.WriteString(fmt.Sprintf("| %d | %.4f | %s |\n", i+1, v, mark))
	}
	return b.String()
}

// Markdown renders loadings, the variance summary and high loadings.
func (m *Model) Markdown(threshold float64) string {
	var b strings.Builder
	names := m.FactorNames()
	b.WriteString("[LOADINGS]\n")
	b.WriteString(fmt.Sprintf("Rotation: %s\n\n", m.rotation))
	b.WriteString("| Variable | " + strings.Join(names, " | ") + " |\n|" + strings.Repeat(" --- |", len(names)+1) + "\n")
	for i, v := range m.variables {
		b.WriteString("| " + v)
		for j := range names {
			l := m.loadings.At(i, j)
			if l > threshold {
				b.WriteString(fmt.Sprintf(" | **%.4f**", l))
			} else {
				b.WriteString(fmt.Sprintf(" | %.4f", l))
			}
		}
		b.WriteString(" |\n")
	}

	vs := m.Variance()
	b.WriteString("\n[VARIANCE]\n")
	b.WriteString("| | " + strings.Join(names, " | ") + " |\n|" + strings.Repeat(" --- |", len(names)+1) + "\n")
	row := func(label string, vals []float64) {
		b.WriteString("| " + label)
		for _, v := range vals {
			b.WriteString(fmt.Sprintf(" | %.4f", v))
		}
		b.WriteString(" |\n")
	}
	row("SS Loadings", vs.SSLoadings)
	row("Proportion Variance", vs.Proportion)
	row("Cumulative Variance", vs.Cumulative)

	b.WriteString(fmt.Sprintf("\n[HIGH LOADINGS > %.2f]\n", threshold))
	for _, f := range HighLoadings(m, threshold) {
		if f.Empty {
			b.WriteString(fmt.Sprintf("- %s has no high-loading variable\n", f.Factor))
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: %s\n", f.Factor, strings.Join(f.Variables, ", ")))
	}
	return b.String()
}

// PairMarkdown prints two loading columns side by side per variable.
func (m *Model) PairMarkdown(fx, fy string) (string, error) {
	names := m.FactorNames()
	jx, jy := indexOf(names, fx), indexOf(names, fy)
	if jx < 0 || jy < 0 {
		return "", analysis.Preconditionf("loading pair", "unknown factor in %s,%s (have %s)", fx, fy, strings.Join(names, ", "))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[LOADING PAIR %s × %s]\n", fx, fy))
	b.WriteString(fmt.Sprintf("| Variable | %s | %s |\n| --- | --- | --- |\n", fx, fy))
	for i, v := range m.variables {
		b.WriteString(fmt.Sprintf("| %s | %.4f | %.4f |\n", v, m.loadings.At(i, jx), m.loadings.At(i, jy)))
	}
	return b.String(), nil
}
