package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user configuration directory under $HOME.
const DirName = ".surveylens"

// Global configuration structure.
type Global struct {
	// Table input
	Delimiter          string `mapstructure:"delimiter" yaml:"delimiter"`
	DecimalSeparator   string `mapstructure:"decimal_separator" yaml:"decimal_separator"`
	ThousandsSeparator string `mapstructure:"thousands_separator" yaml:"thousands_separator"`
	MaxRows            int    `mapstructure:"max_rows" yaml:"max_rows"`

	// Factor analysis defaults
	HighLoadingThreshold float64 `mapstructure:"high_loading_threshold" yaml:"high_loading_threshold"`
	Rotation             string  `mapstructure:"rotation" yaml:"rotation"`

	// Output
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	StudiesDir   string `mapstructure:"studies_dir" yaml:"studies_dir"`

	// HTTP service
	ServerHost        string `mapstructure:"server_host" yaml:"server_host"`
	ServerPort        int    `mapstructure:"server_port" yaml:"server_port"`
	ServerMetrics     bool   `mapstructure:"server_metrics" yaml:"server_metrics"`
	ServerMaxSessions int    `mapstructure:"server_max_sessions" yaml:"server_max_sessions"`
	ServerMaxUploadMB int    `mapstructure:"server_max_upload_mb" yaml:"server_max_upload_mb"`
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.surveylens/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Dir returns ~/.surveylens.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env (SURVEYLENS_*, .env) > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	// a missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SURVEYLENS")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("delimiter", "")
	v.SetDefault("decimal_separator", "")
	v.SetDefault("thousands_separator", "")
	v.SetDefault("max_rows", 100000)
	v.SetDefault("high_loading_threshold", 0.5)
	v.SetDefault("rotation", "varimax")
	v.SetDefault("output_format", "text")
	v.SetDefault("log_level", "disabled")
	v.SetDefault("studies_dir", "")
	// HTTP service defaults
	v.SetDefault("server_host", "localhost")
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_metrics", true)
	v.SetDefault("server_max_sessions", 64)
	v.SetDefault("server_max_upload_mb", 32)

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.StudiesDir == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.StudiesDir = filepath.Join(dir, "studies")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges that viper cannot.
func (c *Global) Validate() error {
	for key, s := range map[string]string{
		"delimiter":           c.Delimiter,
		"decimal_separator":   c.DecimalSeparator,
		"thousands_separator": c.ThousandsSeparator,
	} {
		if len([]rune(s)) > 1 && s != `\t` {
			return fmt.Errorf("%s must be a single character, got %q", key, s)
		}
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max_rows must be >= 0, got %d", c.MaxRows)
	}
	if c.HighLoadingThreshold < 0 || c.HighLoadingThreshold > 1 {
		return fmt.Errorf("high_loading_threshold must be in [0,1], got %v", c.HighLoadingThreshold)
	}
	switch c.Rotation {
	case "varimax", "none", "":
	default:
		return fmt.Errorf("rotation must be varimax or none, got %q", c.Rotation)
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("output_format must be text or json, got %q", c.OutputFormat)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port out of range: %d", c.ServerPort)
	}
	return nil
}

// Rune returns the first rune of s, mapping `\t` to a tab; empty gives 0.
func Rune(s string) rune {
	if s == `\t` {
		return '\t'
	}
	for _, r := range s {
		return r
	}
	return 0
}
