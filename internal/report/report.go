// Package report writes a run summary to a YAML or JSON file.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"qrrename/internal/worker"
)

// Counts holds the per-outcome totals
type Counts struct {
	Renamed   int `json:"renamed" yaml:"renamed"`
	Planned   int `json:"planned" yaml:"planned"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Failed    int `json:"failed" yaml:"failed"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
}

// Report is the document written to disk
type Report struct {
	RunID       string `json:"run_id" yaml:"run_id"`
	StartedAt   string `json:"started_at" yaml:"started_at"`
	Duration    string `json:"duration" yaml:"duration"`
	DryRun      bool   `json:"dry_run" yaml:"dry_run"`
	Interrupted bool   `json:"interrupted" yaml:"interrupted"`
	ExitCode    int    `json:"exit_code" yaml:"exit_code"`
	Counts      Counts `json:"counts" yaml:"counts"`
	Files       Files  `json:"files" yaml:"files"`
}

// Files lists file identities per outcome
type Files struct {
	Renamed    []worker.Move        `json:"renamed,omitempty" yaml:"renamed,omitempty"`
	Planned    []worker.Move        `json:"planned,omitempty" yaml:"planned,omitempty"`
	Unchanged  []string             `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Skipped    []string             `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed     []worker.Failure     `json:"failed,omitempty" yaml:"failed,omitempty"`
	Cancelled  []string             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	RootErrors []worker.RootFailure `json:"root_errors,omitempty" yaml:"root_errors,omitempty"`
}

// New builds a report from a summary
func New(s *worker.Summary, exitCode int) *Report {
	return &Report{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Duration:    s.Duration.String(),
		DryRun:      s.DryRun,
		Interrupted: s.Interrupted,
		ExitCode:    exitCode,
		Counts: Counts{
			Renamed:   len(s.Renamed),
			Planned:   len(s.Planned),
			Unchanged: len(s.Unchanged),
			Skipped:   len(s.Skipped),
			Failed:    len(s.Failed),
			Cancelled: len(s.Cancelled),
		},
		Files: Files{
			Renamed:    s.Renamed,
			Planned:    s.Planned,
			Unchanged:  s.Unchanged,
			Skipped:    s.Skipped,
			Failed:     s.Failed,
			Cancelled:  s.Cancelled,
			RootErrors: s.RootErrors,
		},
	}
}

// Write encodes the report by the file extension of path: .yaml, .yml or .json
func (r *Report) Write(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported report format %q (use .yaml, .yml or .json)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteText prints a plain listing of the run to w
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	verb := "Renamed"
	moves := r.Files.Renamed
	if r.DryRun {
		verb = "Would rename"
		moves = r.Files.Planned
	}
	for _, m := range moves {
		fmt.Fprintf(&b, "%s: %s -> %s\n", verb, m.Source, filepath.Base(m.Target))
	}
	for _, p := range r.Files.Skipped {
		fmt.Fprintf(&b, "No QR code: %s\n", p)
	}
	for _, f := range r.Files.Failed {
		fmt.Fprintf(&b, "Failed (%s): %s: %s\n", f.Outcome, f.Path, f.Error)
	}
	for _, re := range r.Files.RootErrors {
		fmt.Fprintf(&b, "Unreadable root: %s: %s\n", re.Root, re.Error)
	}

	fmt.Fprintf(&b, "%d renamed, %d planned, %d unchanged, %d without QR code, %d failed",
		r.Counts.Renamed, r.Counts.Planned, r.Counts.Unchanged, r.Counts.Skipped, r.Counts.Failed)
	if r.Counts.Cancelled > 0 {
		fmt.Fprintf(&b, ", %d cancelled", r.Counts.Cancelled)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
