package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Filter modes
const (
	FilterModeChain = "chain"
	FilterModeEach  = "each"
)

// Config represents the application configuration
type Config struct {
	Directories []string `yaml:"directories"`
	Scan        Scan     `yaml:"scan"`
	Decode      Decode   `yaml:"decode"`
	Rename      Rename   `yaml:"rename"`
	Threads     int      `yaml:"threads"`
	TaskTimeout Duration `yaml:"task_timeout"`

	Journal      string `yaml:"journal"`
	Report       string `yaml:"report"`
	MetricsAddr  string `yaml:"metrics_addr"`
	ShowProgress bool   `yaml:"show_progress"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// Scan controls directory discovery
type Scan struct {
	Extensions     []string `yaml:"extensions"`
	Exclude        []string `yaml:"exclude"`
	FollowSymlinks bool     `yaml:"follow_symlinks"`
}

// Decode controls image loading and the retry strategy
type Decode struct {
	Angles        []int    `yaml:"angles"`
	Filters       []string `yaml:"filters"`
	FilterMode    string   `yaml:"filter_mode"`
	Monochrome    bool     `yaml:"monochrome"`
	AutoOrient    bool     `yaml:"auto_orient"`
	TryHarder     bool     `yaml:"try_harder"`
	RequirePrefix string   `yaml:"require_prefix"`
}

// Rename controls collision resolution
type Rename struct {
	MaxSuffix int  `yaml:"max_suffix"`
	DryRun    bool `yaml:"dry_run"`
}

// Duration is a time.Duration that unmarshals from "30s" style YAML strings
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultExtensions lists the image extensions recognized when none are configured
var DefaultExtensions = []string{".jpg", ".jpeg", ".jpe", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// Default returns the configuration used before any file or flag is applied
func Default() *Config {
	return &Config{
		Scan: Scan{
			Extensions:     append([]string(nil), DefaultExtensions...),
			FollowSymlinks: true,
		},
		Decode: Decode{
			Angles:     []int{0},
			FilterMode: FilterModeChain,
			AutoOrient: true,
			TryHarder:  true,
		},
		Rename: Rename{
			MaxSuffix: 100,
		},
		Threads:      runtime.NumCPU(),
		ShowProgress: true,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet, dirs []string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, &ConfigError{Field: "config", Err: fmt.Errorf("failed to load config file: %w", err)}
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, &ConfigError{Field: "flags", Err: err}
		}
	}

	if len(dirs) > 0 {
		cfg.Directories = dirs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	changed := func(name string) bool {
		return err == nil && flags.Lookup(name) != nil && flags.Changed(name)
	}

	if changed("angles") {
		cfg.Decode.Angles, err = flags.GetIntSlice("angles")
	}
	if changed("monochrome") {
		cfg.Decode.Monochrome, err = flags.GetBool("monochrome")
	}
	if changed("filters") {
		cfg.Decode.Filters, err = flags.GetStringSlice("filters")
	}
	if changed("filter-mode") {
		cfg.Decode.FilterMode, err = flags.GetString("filter-mode")
	}
	if changed("auto-orient") {
		cfg.Decode.AutoOrient, err = flags.GetBool("auto-orient")
	}
	if changed("try-harder") {
		cfg.Decode.TryHarder, err = flags.GetBool("try-harder")
	}
	if changed("require-prefix") {
		cfg.Decode.RequirePrefix, err = flags.GetString("require-prefix")
	}
	if changed("threads") {
		cfg.Threads, err = flags.GetInt("threads")
	}
	if changed("task-timeout") {
		var d time.Duration
		d, err = flags.GetDuration("task-timeout")
		cfg.TaskTimeout = Duration(d)
	}
	if changed("extensions") {
		cfg.Scan.Extensions, err = flags.GetStringSlice("extensions")
	}
	if changed("exclude") {
		cfg.Scan.Exclude, err = flags.GetStringSlice("exclude")
	}
	if changed("follow-symlinks") {
		cfg.Scan.FollowSymlinks, err = flags.GetBool("follow-symlinks")
	}
	if changed("max-suffix") {
		cfg.Rename.MaxSuffix, err = flags.GetInt("max-suffix")
	}
	if changed("dry-run") {
		cfg.Rename.DryRun, err = flags.GetBool("dry-run")
	}
	if changed("journal") {
		cfg.Journal, err = flags.GetString("journal")
	}
	if changed("report") {
		cfg.Report, err = flags.GetString("report")
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr, err = flags.GetString("metrics-addr")
	}
	if changed("show-progress") {
		cfg.ShowProgress, err = flags.GetBool("show-progress")
	}
	if changed("log-level") {
		cfg.LogLevel, err = flags.GetString("log-level")
	}
	if changed("log-format") {
		cfg.LogFormat, err = flags.GetString("log-format")
	}

	return err
}

// Validate checks every setting that can be checked before a file is touched.
// Filter names are validated by filters.Parse, which the caller runs next.
func (c *Config) Validate() error {
	if len(c.Directories) == 0 {
		return &ConfigError{Field: "directories", Err: fmt.Errorf("at least one directory is required")}
	}

	if c.Threads <= 0 {
		return &ConfigError{Field: "threads", Err: fmt.Errorf("must be positive, got %d", c.Threads)}
	}

	if len(c.Decode.Angles) == 0 {
		c.Decode.Angles = []int{0}
	}
	for _, a := range c.Decode.Angles {
		if a < -360 || a > 360 {
			return &ConfigError{Field: "angles", Err: fmt.Errorf("angle %d out of range [-360, 360]", a)}
		}
	}

	switch c.Decode.FilterMode {
	case "":
		c.Decode.FilterMode = FilterModeChain
	case FilterModeChain, FilterModeEach:
	default:
		return &ConfigError{Field: "filter-mode", Err: fmt.Errorf("invalid filter mode %q (use 'chain' or 'each')", c.Decode.FilterMode)}
	}

	if c.Rename.MaxSuffix < 0 {
		return &ConfigError{Field: "max-suffix", Err: fmt.Errorf("must not be negative, got %d", c.Rename.MaxSuffix)}
	}

	if c.TaskTimeout < 0 {
		return &ConfigError{Field: "task-timeout", Err: fmt.Errorf("must not be negative")}
	}

	if len(c.Scan.Extensions) == 0 {
		return &ConfigError{Field: "extensions", Err: fmt.Errorf("at least one extension is required")}
	}
	for i, ext := range c.Scan.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			return &ConfigError{Field: "extensions", Err: fmt.Errorf("empty extension")}
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Scan.Extensions[i] = ext
	}

	if c.Report != "" {
		switch strings.ToLower(filepath.Ext(c.Report)) {
		case ".yaml", ".yml", ".json":
		default:
			return &ConfigError{Field: "report", Err: fmt.Errorf("unsupported report format %q (use .yaml, .yml or .json)", c.Report)}
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "log-level", Err: fmt.Errorf("invalid log level %q", c.LogLevel)}
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return &ConfigError{Field: "log-format", Err: fmt.Errorf("invalid log format %q (use 'console' or 'json')", c.LogFormat)}
	}

	return nil
}

// ConfigError is a fatal configuration problem detected before scanning starts
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
