package cmd

import (
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/spf13/cobra"
)

var (
	addStudyRef   string
	addPrice      bool
	addPriceRange float64
)

var addCmd = &cobra.Command{
	Use:   "add <attribute> <levels...>",
	Short: "Add or replace a conjoint attribute in a study",
	Long: `Declare an attribute and the indicator columns of its levels, e.g.
  surveylens add -s phones Brand brand_a brand_b brand_c
Levels may also be given comma separated. --price marks the attribute as the
price attribute; --price-range sets max minus min observed price.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := resolveStudy(addStudyRef)
		if err != nil {
			return err
		}
		attr := conjoint.Attribute{Name: args[0], Levels: splitList(args[1:])}
		if s.Conjoint == nil {
			s.Conjoint = &study.Conjoint{}
		}
		replaced := false
		for i, a := range s.Conjoint.Attributes {
			if a.Name == attr.Name {
				s.Conjoint.Attributes[i] = attr
				replaced = true
			}
		}
		if !replaced {
			s.Conjoint.Attributes = append(s.Conjoint.Attributes, attr)
		}
		if addPrice {
			s.Conjoint.PriceAttribute = attr.Name
		}
		if cmd.Flags().Changed("price-range") {
			s.Conjoint.PriceRange = addPriceRange
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		verb := "added"
		if replaced {
			verb = "replaced"
		}
		successf(cmd.OutOrStdout(), "Attribute %s %s (%d levels)", attr.Name, verb, len(attr.Levels))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addStudyRef, "study", "s", "", "study name, directory or file (default: search upward from cwd)")
	addCmd.Flags().BoolVar(&addPrice, "price", false, "mark this attribute as the price attribute")
	addCmd.Flags().Float64Var(&addPriceRange, "price-range", 0, "max minus min observed price")
}
