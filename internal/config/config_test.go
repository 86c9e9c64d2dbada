package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntSliceP("angles", "a", []int{0}, "")
	fs.StringSliceP("filters", "f", nil, "")
	fs.Int("threads", 1, "")
	fs.Duration("task-timeout", 0, "")
	fs.Bool("dry-run", false, "")
	fs.StringSlice("extensions", nil, "")
	fs.String("log-level", "info", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil, []string{"/photos"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Decode.Angles) != 1 || cfg.Decode.Angles[0] != 0 {
		t.Errorf("angles = %v", cfg.Decode.Angles)
	}
	if cfg.Threads <= 0 || cfg.Rename.MaxSuffix != 100 || !cfg.Scan.FollowSymlinks {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Decode.FilterMode != FilterModeChain {
		t.Errorf("filter mode = %q", cfg.Decode.FilterMode)
	}
}

func TestLoad_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
directories: [/from/file]
threads: 3
task_timeout: 30s
decode:
  angles: [0, 90]
  filters: [blur]
  filter_mode: each
scan:
  extensions: [JPG, .png]
rename:
  max_suffix: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	flags := newFlags()
	if err := flags.Parse([]string{"--threads", "7", "-a", "0,180"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags, nil)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Directories[0] != "/from/file" {
		t.Errorf("directories = %v", cfg.Directories)
	}
	if cfg.Threads != 7 {
		t.Errorf("threads = %d, flag should override file", cfg.Threads)
	}
	if len(cfg.Decode.Angles) != 2 || cfg.Decode.Angles[1] != 180 {
		t.Errorf("angles = %v", cfg.Decode.Angles)
	}
	if cfg.Decode.FilterMode != FilterModeEach || cfg.Decode.Filters[0] != "blur" {
		t.Errorf("decode = %+v", cfg.Decode)
	}
	if time.Duration(cfg.TaskTimeout) != 30*time.Second {
		t.Errorf("task timeout = %v", time.Duration(cfg.TaskTimeout))
	}
	if cfg.Scan.Extensions[0] != ".jpg" || cfg.Scan.Extensions[1] != ".png" {
		t.Errorf("extensions = %v", cfg.Scan.Extensions)
	}
	if cfg.Rename.MaxSuffix != 5 {
		t.Errorf("max suffix = %d", cfg.Rename.MaxSuffix)
	}
}

func TestLoad_ArgsOverrideFileDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("directories: [/a]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, nil, []string{"/b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Directories) != 1 || cfg.Directories[0] != "/b" {
		t.Errorf("directories = %v", cfg.Directories)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"no directories", func(c *Config) { c.Directories = nil }, "directories"},
		{"zero threads", func(c *Config) { c.Threads = 0 }, "threads"},
		{"angle out of range", func(c *Config) { c.Decode.Angles = []int{0, 400} }, "angles"},
		{"bad filter mode", func(c *Config) { c.Decode.FilterMode = "both" }, "filter-mode"},
		{"negative suffix", func(c *Config) { c.Rename.MaxSuffix = -1 }, "max-suffix"},
		{"empty extension", func(c *Config) { c.Scan.Extensions = []string{"."} }, "extensions"},
		{"bad report", func(c *Config) { c.Report = "out.txt" }, "report"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log-level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Directories = []string{"/photos"}
			tt.modify(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil, []string{"/a"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ConfigError wrapping not-exist, got %v", err)
	}
}
