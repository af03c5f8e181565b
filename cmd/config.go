package cmd

import (
	"fmt"
	"strconv"
	"strings"

	cfgpkg "github.com/KaramelBytes/surveylens/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set surveylens configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg == nil {
			fmt.Fprintln(out, "No config loaded")
			return nil
		}
		if format() == "json" {
			return emit(out, "", cfg)
		}
		if cfg.Delimiter != "" {
			fmt.Fprintf(out, "delimiter: %q\n", cfg.Delimiter)
		}
		if cfg.DecimalSeparator != "" {
			fmt.Fprintf(out, "decimal_separator: %q\n", cfg.DecimalSeparator)
		}
		if cfg.ThousandsSeparator != "" {
			fmt.Fprintf(out, "thousands_separator: %q\n", cfg.ThousandsSeparator)
		}
		fmt.Fprintf(out, "max_rows: %d\n", cfg.MaxRows)
		fmt.Fprintf(out, "high_loading_threshold: %.3f\n", cfg.HighLoadingThreshold)
		fmt.Fprintf(out, "rotation: %s\n", cfg.Rotation)
		fmt.Fprintf(out, "output_format: %s\n", cfg.OutputFormat)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "studies_dir: %s\n", cfg.StudiesDir)
		fmt.Fprintf(out, "server_host: %s\n", cfg.ServerHost)
		fmt.Fprintf(out, "server_port: %d\n", cfg.ServerPort)
		fmt.Fprintf(out, "server_metrics: %t\n", cfg.ServerMetrics)
		fmt.Fprintf(out, "server_max_sessions: %d\n", cfg.ServerMaxSessions)
		fmt.Fprintf(out, "server_max_upload_mb: %d\n", cfg.ServerMaxUploadMB)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		next := *cfg
		switch key {
		case "delimiter":
			next.Delimiter = val
		case "decimal_separator":
			next.DecimalSeparator = val
		case "thousands_separator":
			next.ThousandsSeparator = val
		case "max_rows":
			i, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid int for max_rows: %w", err)
			}
			next.MaxRows = i
		case "high_loading_threshold":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("invalid float for high_loading_threshold: %w", err)
			}
			next.HighLoadingThreshold = f
		case "rotation":
			next.Rotation = strings.ToLower(val)
		case "output_format":
			next.OutputFormat = strings.ToLower(val)
		case "log_level":
			next.LogLevel = strings.ToLower(val)
		case "studies_dir":
			next.StudiesDir = val
		case "server_host":
			next.ServerHost = val
		case "server_port":
			i, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid int for server_port: %w", err)
			}
			next.ServerPort = i
		case "server_metrics":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid bool for server_metrics: %w", err)
			}
			next.ServerMetrics = b
		case "server_max_sessions":
			i, err := strconv.Atoi(val)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid int for server_max_sessions: %v", val)
			}
			next.ServerMaxSessions = i
		case "server_max_upload_mb":
			i, err := strconv.Atoi(val)
			if err != nil || i <= 0 {
				return fmt.Errorf("invalid int for server_max_upload_mb: %v", val)
			}
			next.ServerMaxUploadMB = i
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(&next, cfgFile); err != nil {
			return err
		}
		cfg = &next
		successf(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
