package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	cfgpkg "github.com/KaramelBytes/surveylens/internal/config"
	"github.com/KaramelBytes/surveylens/internal/utils"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	logLevel     string
	outputFormat string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "surveylens",
	Short: "surveylens: conjoint and factor analysis for survey tables",
	Long: `surveylens estimates part-worth utilities, attribute importance and market shares
from conjoint survey data, and runs exploratory factor analysis (Bartlett, KMO,
Kaiser criterion, varimax) on Likert-style survey tables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗ Error:"), err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.surveylens/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "output format (text, json); overrides config")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		warnf(os.Stderr, "failed to load config: %v", err)
		return
	}
	cfg = c
}

// initLogging configures the global logger
func initLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := logLevel
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.Disabled)
	}

	if format() == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// format resolves the output format: flag, then config, then text.
func format() string {
	if outputFormat != "" {
		return strings.ToLower(outputFormat)
	}
	if cfg != nil && cfg.OutputFormat != "" {
		return cfg.OutputFormat
	}
	return "text"
}

// emit writes md in text mode, or v as indented JSON in json mode.
func emit(w io.Writer, md string, v any) error {
	switch format() {
	case "json":
		b, err := utils.PrettyJSON(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "text":
		_, err := fmt.Fprintln(w, md)
		return err
	default:
		return fmt.Errorf("unsupported --format: %s (use text or json)", outputFormat)
	}
}

func warnf(w io.Writer, msg string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", color.YellowString("⚠ Warning:"), fmt.Sprintf(msg, args...))
}

func successf(w io.Writer, msg string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(msg, args...))
}

// printWarnings reports advisory warnings on stderr; text mode only, since
// JSON output carries them in the document.
func printWarnings(cmd *cobra.Command, ws []analysis.Warning) {
	if format() == "json" {
		return
	}
	for _, w := range ws {
		warnf(cmd.ErrOrStderr(), "%s", w.Message)
	}
}
