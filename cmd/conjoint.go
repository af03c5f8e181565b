package cmd

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/session"
	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/spf13/cobra"
)

var (
	cjStudyRef    string
	cjTable       tableFlags
	cjExclude     []string
	cjDependent   string
	cjIndependent []string
	cjAttributes  []string
	cjPriceAttr   string
	cjPriceRange  float64
	cjSelect      []string
	cjMarket      bool
	cjProduct     string
	cjMatch       []string
)

// conjointReport is the JSON document of one conjoint run.
type conjointReport struct {
	Dataset    string                     `json:"dataset"`
	Clean      analysis.CleanReport       `json:"clean"`
	Model      *conjoint.Model            `json:"model"`
	Attributes *conjoint.AttributeSummary `json:"attributes,omitempty"`
	UnitPrice  *float64                   `json:"unit_price,omitempty"`
	Prediction *conjoint.Prediction       `json:"prediction,omitempty"`
	Market     *conjoint.Market           `json:"market,omitempty"`
	Product    *conjoint.Bundle           `json:"product,omitempty"`
	Match      *conjoint.Bundle           `json:"match,omitempty"`
}

var conjointCmd = &cobra.Command{
	Use:   "conjoint [dataset]",
	Short: "Estimate part-worth utilities, attribute importance and market shares",
	Long: `Fit the part-worth model (OLS without intercept) on a conjoint table, then
optionally summarize attributes, score a level combination and simulate the market.

Settings come from a study file (--study, or study.yaml found upward from the
working directory) and are overridden by flags. Attributes are declared as
--attribute "Brand=brand_a,brand_b".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cj, dataset, err := conjointSettings(cmd, args)
		if err != nil {
			return err
		}
		t, err := cjTable.load(dataset)
		if err != nil {
			return err
		}
		if t.HasMissing() {
			warnf(cmd.ErrOrStderr(), "dataset contains %d missing values; incomplete rows are dropped", t.MissingCells())
		}

		sess := session.New("cli", t)
		res, err := sess.FitConjoint(session.ConjointConfig{
			Exclude:     cj.Exclude,
			Dependent:   cj.Dependent,
			Independent: cj.Independent,
		})
		if err != nil {
			return err
		}
		rep := conjointReport{Dataset: dataset, Clean: res.Clean, Model: res.Model}
		md := []string{res.Model.Markdown()}
		printWarnings(cmd, res.Model.Summary().Warnings)

		if len(cj.Attributes) > 0 {
			sum, unit, err := sess.DefineAttributes(session.AttributeConfig{
				Attributes:     cj.Attributes,
				PriceAttribute: cj.PriceAttribute,
				PriceRange:     cj.PriceRange,
			})
			if err != nil {
				return err
			}
			rep.Attributes, rep.UnitPrice = sum, unit
			printWarnings(cmd, sum.Warnings)
			text := sum.Markdown()
			if unit != nil {
				text += fmt.Sprintf("Unit price per utility: %.4f\n", *unit)
			}
			md = append(md, text)
		} else if len(cj.Selection) > 0 || cjMarket || cj.Product != "" || len(cj.Match) > 0 {
			return analysis.Preconditionf("conjoint", "declare attributes (--attribute or the study file) before predicting or simulating")
		}

		if len(cj.Selection) > 0 {
			p, err := sess.Predict(cj.Selection)
			if err != nil {
				return err
			}
			rep.Prediction = p
			printWarnings(cmd, p.Warnings)
			md = append(md, p.Markdown())
		}

		if cjMarket || cj.Product != "" || len(cj.Match) > 0 {
			mk, err := sess.Market()
			if err != nil {
				return err
			}
			rep.Market = mk
			md = append(md, mk.Markdown())
		}
		if cj.Product != "" {
			b, ok, err := sess.Product(cj.Product)
			if err != nil {
				return err
			}
			if ok {
				rep.Product = &b
				md = append(md, b.Markdown())
			} else {
				warnf(cmd.ErrOrStderr(), "product %q not found", cj.Product)
			}
		}
		if len(cj.Match) > 0 {
			b, ok, err := sess.Match(cj.Match)
			if err != nil {
				return err
			}
			if ok {
				rep.Match = &b
				md = append(md, b.Markdown())
			} else {
				warnf(cmd.ErrOrStderr(), "no single product matches %s", strings.Join(cj.Match, ", "))
			}
		}
		return emit(cmd.OutOrStdout(), strings.Join(md, "\n"), rep)
	},
}

// conjointSettings merges the study file with the flags; flags win.
func conjointSettings(cmd *cobra.Command, args []string) (*study.Conjoint, string, error) {
	cj := &study.Conjoint{}
	dataset := ""
	if len(args) == 1 {
		dataset = args[0]
	}
	if cjStudyRef != "" || dataset == "" {
		s, err := resolveStudy(cjStudyRef)
		if err != nil {
			return nil, "", err
		}
		if s.Conjoint != nil {
			cj = s.Conjoint
		}
		if dataset == "" {
			dataset = s.DatasetPath()
		}
	}
	f := cmd.Flags()
	if f.Changed("exclude") {
		cj.Exclude = splitList(cjExclude)
	}
	if f.Changed("dependent") {
		cj.Dependent = cjDependent
	}
	if f.Changed("independent") {
		cj.Independent = splitList(cjIndependent)
	}
	if f.Changed("attribute") {
		attrs, err := parseAttributes(cjAttributes)
		if err != nil {
			return nil, "", err
		}
		cj.Attributes = attrs
	}
	if f.Changed("price-attribute") {
		cj.PriceAttribute = cjPriceAttr
	}
	if f.Changed("price-range") {
		cj.PriceRange = cjPriceRange
	}
	if f.Changed("select") {
		cj.Selection = splitList(cjSelect)
	}
	if f.Changed("product") {
		cj.Product = cjProduct
	}
	if f.Changed("match") {
		cj.Match = splitList(cjMatch)
	}
	return cj, dataset, nil
}

// parseAttributes reads "Name=level1,level2" declarations.
func parseAttributes(decls []string) ([]conjoint.Attribute, error) {
	var out []conjoint.Attribute
	for _, decl := range decls {
		name, levels, ok := strings.Cut(decl, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --attribute %q (use Name=level1,level2)", decl)
		}
		out = append(out, conjoint.Attribute{Name: name, Levels: splitList([]string{levels})})
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(conjointCmd)
	cjTable.register(conjointCmd)
	f := conjointCmd.Flags()
	f.StringVarP(&cjStudyRef, "study", "s", "", "study name, directory or file")
	f.StringSliceVar(&cjExclude, "exclude", nil, "columns to drop before fitting")
	f.StringVar(&cjDependent, "dependent", "", "preference column (default: last column)")
	f.StringSliceVar(&cjIndependent, "independent", nil, "level columns (default: every other column)")
	f.StringArrayVarP(&cjAttributes, "attribute", "a", nil, "attribute declaration Name=level1,level2 (repeatable)")
	f.StringVar(&cjPriceAttr, "price-attribute", "", "attribute holding the price levels")
	f.Float64Var(&cjPriceRange, "price-range", 0, "max minus min observed price, for the unit price")
	f.StringSliceVar(&cjSelect, "select", nil, "one level per attribute to score")
	f.BoolVar(&cjMarket, "market", false, "simulate market shares over the distinct products")
	f.StringVar(&cjProduct, "product", "", "detail one simulated product, e.g. Product_3")
	f.StringSliceVar(&cjMatch, "match", nil, "one level per non-price attribute to locate a product")
}
