package worker

import (
	"context"
	"image"
	"time"

	"qrrename/internal/decoder"
)

// Task is one image file to process. Dir is the directory key the walker
// registered the file under with the rename coordinator.
type Task struct {
	Path string `json:"path"`
	Root string `json:"root"`
	Dir  string `json:"dir"`
}

// Outcome is the terminal state of a task
type Outcome int

const (
	Renamed Outcome = iota
	Planned
	Unchanged
	LoadFailed
	DecodeFailed
	RenameFailed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case Planned:
		return "planned"
	case Unchanged:
		return "unchanged"
	case LoadFailed:
		return "load-failed"
	case DecodeFailed:
		return "decode-failed"
	case RenameFailed:
		return "rename-failed"
	default:
		return "cancelled"
	}
}

// Result is emitted once per task
type Result struct {
	Path    string
	Outcome Outcome
	Target  string
	Payload string
	Err     error
}

// Loader reads and decodes an image file
type Loader interface {
	Load(path string) (image.Image, error)
}

// Decoder finds a payload in an image
type Decoder interface {
	Decode(ctx context.Context, img image.Image) (*decoder.Result, error)
}

// Config contains worker configuration
type Config struct {
	// TaskTimeout bounds load and decode of one file; zero disables it.
	TaskTimeout time.Duration
	// OnResult is called from the aggregating goroutine for every result.
	OnResult func(Result)
}
