package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/utils"
	"github.com/spf13/cobra"
)

var (
	insTable      tableFlags
	insSampleRows int
	insOutputDir  string
	insQuiet      bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <files...>",
	Short: "Profile survey tables and check them for missing values",
	Long: `Profile one or more tables (CSV/TSV/XLSX, optionally .gz/.zst/.lz4 compressed):
column kinds, summary statistics, sample rows, and whether any value is missing.
Glob patterns are expanded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandFiles(args)
		if err != nil {
			return err
		}
		if insOutputDir != "" {
			if err := utils.EnsureDir(insOutputDir); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		var profiles []*analysis.Profile
		total := len(files)
		for i, path := range files {
			if total > 1 && !insQuiet && format() == "text" {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			t, err := insTable.load(path)
			if err != nil {
				return err
			}
			p := analysis.NewProfile(t, insSampleRows)
			if p.HasMissing && !insQuiet {
				warnf(cmd.ErrOrStderr(), "%s has %d missing cells; rows containing them are dropped before modeling", filepath.Base(path), t.MissingCells())
			}
			if insOutputDir == "" {
				profiles = append(profiles, p)
				continue
			}
			outFile := uniquePath(insOutputDir, profileBase(path), ".profile.md")
			if err := utils.SafeWriteFile(outFile, []byte(p.Markdown())); err != nil {
				return fmt.Errorf("write profile: %w", err)
			}
			if !insQuiet {
				successf(out, "Wrote profile to %s", outFile)
			}
		}
		if insOutputDir != "" {
			return nil
		}
		var md []string
		for _, p := range profiles {
			md = append(md, p.Markdown())
		}
		var doc any = profiles
		if len(profiles) == 1 {
			doc = profiles[0]
		}
		return emit(out, strings.Join(md, "\n"), doc)
	},
}

func profileBase(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".lz4"} {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if insTable.sheet == "" {
		return base
	}
	s := strings.ToLower(strings.TrimSpace(insTable.sheet))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else if r == ' ' || r == '-' || r == '_' {
			b.WriteRune('-')
		}
	}
	ss := strings.Trim(b.String(), "-")
	if ss == "" {
		ss = "sheet"
	}
	return base + "__sheet-" + ss
}

// uniquePath returns dir/base+suffix, or dir/base__N+suffix when taken.
func uniquePath(dir, base, suffix string) string {
	p := filepath.Join(dir, base+suffix)
	if _, err := os.Stat(p); err != nil {
		return p
	}
	for idx := 2; ; idx++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s__%d%s", base, idx, suffix))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	insTable.register(inspectCmd)
	inspectCmd.Flags().IntVar(&insSampleRows, "sample-rows", 5, "number of sample rows to include")
	inspectCmd.Flags().StringVarP(&insOutputDir, "output-dir", "o", "", "write one <name>.profile.md per table into this directory")
	inspectCmd.Flags().BoolVarP(&insQuiet, "quiet", "q", false, "suppress progress and warnings")
}
