package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	cfgpkg "github.com/KaramelBytes/surveylens/internal/config"
	"github.com/spf13/cobra"
)

// tableFlags are the input options shared by every command that reads a table.
type tableFlags struct {
	delimiter string
	decimal   string
	thousands string
	maxRows   int
	sheet     string
	noID      bool
}

func (f *tableFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "table delimiter: ',' | ';' | 'tab' (auto-detect if omitted)")
	cmd.Flags().StringVar(&f.decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	cmd.Flags().StringVar(&f.thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "maximum rows to load (0 = config default)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "XLSX: sheet name (first sheet if omitted)")
	cmd.Flags().BoolVar(&f.noID, "no-id", false, "the first column is data, not a row identifier")
}

// options merges config defaults with the flags.
func (f *tableFlags) options() (analysis.LoadOptions, error) {
	opt := analysis.DefaultLoadOptions()
	if cfg != nil {
		opt.Delimiter = cfgpkg.Rune(cfg.Delimiter)
		opt.Number.DecimalSeparator = cfgpkg.Rune(cfg.DecimalSeparator)
		opt.Number.ThousandsSeparator = cfgpkg.Rune(cfg.ThousandsSeparator)
		opt.MaxRows = cfg.MaxRows
	}
	if f.maxRows > 0 {
		opt.MaxRows = f.maxRows
	}
	opt.Sheet = f.sheet
	opt.NoIDColumn = f.noID
	if f.delimiter != "" {
		switch f.delimiter {
		case ",":
			opt.Delimiter = ','
		case "\t", `\t`, "tab":
			opt.Delimiter = '\t'
		case ";":
			opt.Delimiter = ';'
		case "|":
			opt.Delimiter = '|'
		default:
			return opt, fmt.Errorf("unsupported --delimiter: %s", f.delimiter)
		}
	}
	switch strings.ToLower(strings.TrimSpace(f.decimal)) {
	case ",", "comma":
		opt.Number.DecimalSeparator = ','
	case ".", "dot":
		opt.Number.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", f.decimal)
	}
	switch strings.ToLower(strings.TrimSpace(f.thousands)) {
	case ",":
		opt.Number.ThousandsSeparator = ','
	case ".":
		opt.Number.ThousandsSeparator = '.'
	case "space", " ":
		opt.Number.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", f.thousands)
	}
	return opt, nil
}

func (f *tableFlags) load(path string) (*analysis.Table, error) {
	opt, err := f.options()
	if err != nil {
		return nil, err
	}
	return analysis.Load(path, opt)
}

// expandFiles resolves glob patterns, keeps literal paths that exist, and
// returns the sorted, de-duplicated list.
func expandFiles(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

// splitList splits comma separated flag values, dropping blanks.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
