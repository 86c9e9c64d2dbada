package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current run status
type Status struct {
	Discovered     int64 // files found by the walker so far
	Processed      int64 // files with a final outcome
	Renamed        int64
	Unchanged      int64
	Skipped        int64 // no QR code found
	Failed         int64 // load or rename failures
	Cancelled      int64
	WalkDone       bool
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentRate    float64 // files/second over the last few seconds
	AverageRate    float64 // files/second since start
	ETA            time.Duration
}

// Tracker tracks run progress
type Tracker struct {
	mu         sync.RWMutex
	status     Status
	samples    []time.Time // completion times used for the current rate
	maxSamples int
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		samples:    make([]time.Time, 0, 60),
		maxSamples: 60,
	}
}

// AddDiscovered adds n files to the known total
func (t *Tracker) AddDiscovered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Discovered += int64(n)
	t.calculateETA()
}

// SetWalkDone marks the total as final
func (t *Tracker) SetWalkDone() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.WalkDone = true
}

// AddOutcome records one final file outcome by its reporting name
func (t *Tracker) AddOutcome(outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch outcome {
	case "renamed", "planned":
		t.status.Renamed++
	case "unchanged":
		t.status.Unchanged++
	case "decode-failed":
		t.status.Skipped++
	case "cancelled":
		t.status.Cancelled++
	default:
		t.status.Failed++
	}
	t.status.Processed++
	t.update()
}

// update refreshes rates and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := time.Now()

	t.samples = append(t.samples, now)
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}

	t.calculateCurrentRate(now)

	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageRate = float64(t.status.Processed) / elapsed.Seconds()
	}

	t.calculateETA()
	t.status.LastUpdateTime = now
}

// calculateCurrentRate uses the samples of the last 5 seconds
func (t *Tracker) calculateCurrentRate(now time.Time) {
	if len(t.samples) < 2 {
		t.status.CurrentRate = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	count := 0
	var first time.Time
	for i := len(t.samples) - 1; i >= 0; i-- {
		if t.samples[i].Before(cutoff) {
			break
		}
		count++
		first = t.samples[i]
	}

	if d := now.Sub(first); count > 1 && d > 0 {
		t.status.CurrentRate = float64(count) / d.Seconds()
	}
}

func (t *Tracker) calculateETA() {
	remaining := t.status.Discovered - t.status.Processed
	if remaining <= 0 || t.status.AverageRate == 0 {
		t.status.ETA = 0
		return
	}
	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageRate) * time.Second
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the share of discovered files already processed
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.Discovered == 0 {
		return 0
	}
	return float64(t.status.Processed) / float64(t.status.Discovered) * 100
}

// FormatRate formats a files/second rate
func FormatRate(perSecond float64) string {
	if perSecond < 1 && perSecond > 0 {
		return fmt.Sprintf("%.1f files/min", perSecond*60)
	}
	return fmt.Sprintf("%.1f files/s", perSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
