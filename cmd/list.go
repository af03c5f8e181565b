package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List studies in the studies directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := defaultStudiesDir()
		if err != nil {
			return err
		}
		dirs, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		var studies []*study.Study
		for _, e := range dirs {
			if !e.IsDir() {
				continue
			}
			s, err := study.Load(filepath.Join(root, e.Name()))
			if err != nil {
				continue
			}
			studies = append(studies, s)
		}
		sort.Slice(studies, func(i, j int) bool { return studies[i].Name < studies[j].Name })
		out := cmd.OutOrStdout()
		if format() == "json" {
			return emit(out, "", studies)
		}
		if len(studies) == 0 {
			fmt.Fprintln(out, "(no studies)")
			return nil
		}
		for _, s := range studies {
			fmt.Fprintf(out, "- %s: %s (updated %s)\n", s.Name, s.Dataset, humanize.Time(s.UpdatedAt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
