package worker

import (
	"sort"
	"time"
)

// Move is a source and the name it was (or would be) given
type Move struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Failure is a file that could not be processed
type Failure struct {
	Path    string `json:"path" yaml:"path"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Error   string `json:"error" yaml:"error"`
}

// RootFailure is a root directory that could not be scanned
type RootFailure struct {
	Root  string `json:"root" yaml:"root"`
	Error string `json:"error" yaml:"error"`
}

// Summary is the aggregate result of a run
type Summary struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	DryRun      bool          `json:"dry_run" yaml:"dry_run"`
	Interrupted bool          `json:"interrupted" yaml:"interrupted"`

	Renamed    []Move        `json:"renamed" yaml:"renamed"`
	Planned    []Move        `json:"planned,omitempty" yaml:"planned,omitempty"`
	Unchanged  []string      `json:"unchanged" yaml:"unchanged"`
	Skipped    []string      `json:"skipped" yaml:"skipped"`
	Failed     []Failure     `json:"failed" yaml:"failed"`
	Cancelled  []string      `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	RootErrors []RootFailure `json:"root_errors,omitempty" yaml:"root_errors,omitempty"`
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case Renamed:
		s.Renamed = append(s.Renamed, Move{Source: r.Path, Target: r.Target})
	case Planned:
		s.Planned = append(s.Planned, Move{Source: r.Path, Target: r.Target})
	case Unchanged:
		s.Unchanged = append(s.Unchanged, r.Path)
	case DecodeFailed:
		s.Skipped = append(s.Skipped, r.Path)
	case Cancelled:
		s.Cancelled = append(s.Cancelled, r.Path)
	default:
		f := Failure{Path: r.Path, Outcome: r.Outcome.String()}
		if r.Err != nil {
			f.Error = r.Err.Error()
		}
		s.Failed = append(s.Failed, f)
	}
}

func (s *Summary) sort() {
	sortMoves(s.Renamed)
	sortMoves(s.Planned)
	sort.Strings(s.Unchanged)
	sort.Strings(s.Skipped)
	sort.Strings(s.Cancelled)
	sort.Slice(s.Failed, func(i, j int) bool { return s.Failed[i].Path < s.Failed[j].Path })
}

func sortMoves(m []Move) {
	sort.Slice(m, func(i, j int) bool { return m[i].Source < m[j].Source })
}

// Processed returns the number of files with a final outcome
func (s *Summary) Processed() int {
	return len(s.Renamed) + len(s.Planned) + len(s.Unchanged) + len(s.Skipped) + len(s.Failed) + len(s.Cancelled)
}

// HasFailures reports load or rename failures and unreadable roots.
// Files without a QR code are not failures.
func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0 || len(s.RootErrors) > 0
}

// Mapping returns source to target for every renamed or planned file
func (s *Summary) Mapping() map[string]string {
	m := make(map[string]string, len(s.Renamed)+len(s.Planned))
	for _, mv := range s.Renamed {
		m[mv.Source] = mv.Target
	}
	for _, mv := range s.Planned {
		m[mv.Source] = mv.Target
	}
	return m
}
