package cmd

import (
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/factor"
	"github.com/KaramelBytes/surveylens/internal/session"
	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/spf13/cobra"
)

var (
	faStudyRef     string
	faTable        tableFlags
	faExclude      []string
	faNFactors     int
	faRotation     string
	faThreshold    float64
	faForce        bool
	faPair         []string
	faAdequacyOnly bool
)

// factorReport is the JSON document of one factor run.
type factorReport struct {
	Dataset  string                        `json:"dataset"`
	Clean    analysis.CleanReport          `json:"clean"`
	Adequacy *factor.AdequacyResult        `json:"adequacy"`
	Result   *session.FactorResult         `json:"result,omitempty"`
	Factors  []string                      `json:"factors,omitempty"`
	Loadings map[string]map[string]float64 `json:"loadings,omitempty"`
}

var factorCmd = &cobra.Command{
	Use:   "factor [dataset]",
	Short: "Run exploratory factor analysis on a survey table",
	Long: `Test sampling adequacy (Bartlett's sphericity, KMO), propose the number of
factors by the Kaiser criterion, and extract loadings with optional varimax
rotation. When the adequacy tests fail, extraction requires --force.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fc, dataset, err := factorSettings(cmd, args)
		if err != nil {
			return err
		}
		t, err := faTable.load(dataset)
		if err != nil {
			return err
		}
		if t.HasMissing() {
			warnf(cmd.ErrOrStderr(), "dataset contains %d missing values; incomplete rows are dropped", t.MissingCells())
		}

		sess := session.New("cli", t)
		adq, clean, err := sess.Adequacy(fc.Exclude)
		if err != nil {
			return err
		}
		rep := factorReport{Dataset: dataset, Clean: clean, Adequacy: adq}
		md := []string{adq.Markdown()}
		if faAdequacyOnly {
			return emit(cmd.OutOrStdout(), strings.Join(md, "\n"), rep)
		}

		threshold := factor.DefaultThreshold
		switch {
		case fc.Threshold != nil:
			threshold = *fc.Threshold
		case cfg != nil:
			threshold = cfg.HighLoadingThreshold
		}
		res, err := sess.FitFactor(session.FactorConfig{
			Exclude:  fc.Exclude,
			NFactors: fc.NFactors,
			Rotation: fc.Rotation,
			Force:    fc.Force,
		}, threshold)
		if err != nil {
			return err
		}
		printWarnings(cmd, res.Warnings)
		rep.Result = res
		rep.Factors = res.Model.FactorNames()
		rep.Loadings = res.Model.LoadingTable()
		md = append(md, factor.ScreeMarkdown(res.Eigenvalues), res.Model.Markdown(threshold))
		if len(fc.Pair) == 2 {
			pair, err := res.Model.PairMarkdown(fc.Pair[0], fc.Pair[1])
			if err != nil {
				return err
			}
			md = append(md, pair)
		}
		return emit(cmd.OutOrStdout(), strings.Join(md, "\n"), rep)
	},
}

// factorSettings merges the study file with the flags; flags win.
func factorSettings(cmd *cobra.Command, args []string) (*study.Factor, string, error) {
	fc := &study.Factor{}
	dataset := ""
	if len(args) == 1 {
		dataset = args[0]
	}
	if faStudyRef != "" || dataset == "" {
		s, err := resolveStudy(faStudyRef)
		if err != nil {
			return nil, "", err
		}
		if s.Factor != nil {
			fc = s.Factor
		}
		if dataset == "" {
			dataset = s.DatasetPath()
		}
	}
	if fc.Rotation == "" && cfg != nil {
		fc.Rotation = cfg.Rotation
	}
	f := cmd.Flags()
	if f.Changed("exclude") {
		fc.Exclude = splitList(faExclude)
	}
	if f.Changed("n-factors") {
		fc.NFactors = faNFactors
	}
	if f.Changed("rotation") {
		fc.Rotation = faRotation
	}
	if f.Changed("threshold") {
		v := faThreshold
		fc.Threshold = &v
	}
	if f.Changed("force") {
		fc.Force = faForce
	}
	if f.Changed("pair") {
		fc.Pair = splitList(faPair)
	}
	if len(fc.Pair) != 0 && len(fc.Pair) != 2 {
		return nil, "", analysis.Preconditionf("factor", "--pair needs exactly two factors, got %d", len(fc.Pair))
	}
	return fc, dataset, nil
}

func init() {
	rootCmd.AddCommand(factorCmd)
	faTable.register(factorCmd)
	f := factorCmd.Flags()
	f.StringVarP(&faStudyRef, "study", "s", "", "study name, directory or file")
	f.StringSliceVar(&faExclude, "exclude", nil, "columns to drop before the analysis")
	f.IntVarP(&faNFactors, "n-factors", "n", 0, "number of factors (0 = Kaiser criterion)")
	f.StringVar(&faRotation, "rotation", "", "rotation: varimax | none (default from config)")
	f.Float64Var(&faThreshold, "threshold", 0, "high-loading threshold (default from config)")
	f.BoolVar(&faForce, "force", false, "extract factors even when the adequacy tests fail")
	f.StringSliceVar(&faPair, "pair", nil, "show two factors side by side, e.g. Factor1,Factor2")
	f.BoolVar(&faAdequacyOnly, "adequacy-only", false, "stop after Bartlett and KMO")
}
