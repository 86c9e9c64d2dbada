package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Display renders a Tracker as a terminal progress bar
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	bar      *progressbar.ProgressBar
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowIts(),
		),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final counts
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.updateDisplay()
		case <-d.stopCh:
			d.updateDisplay()
			_ = d.bar.Finish()
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) updateDisplay() {
	status := d.tracker.GetStatus()

	if status.WalkDone && int64(d.bar.GetMax()) != status.Discovered {
		d.bar.ChangeMax64(status.Discovered)
	}
	d.bar.Describe(describe(status))
	_ = d.bar.Set64(status.Processed)
}

func describe(status Status) string {
	desc := fmt.Sprintf("renamed %d, skipped %d, failed %d", status.Renamed, status.Skipped, status.Failed)
	if !status.WalkDone {
		desc = fmt.Sprintf("scanning (%d found), ", status.Discovered) + desc
	}
	return desc
}

// generateFinalDisplay generates the completion summary
func (d *Display) generateFinalDisplay(status Status) []string {
	elapsed := time.Since(status.StartTime)

	lines := []string{
		"",
		fmt.Sprintf("Processed %d of %d files in %s (%s)",
			status.Processed, status.Discovered, FormatDuration(elapsed), FormatRate(status.AverageRate)),
		fmt.Sprintf("  renamed:   %d", status.Renamed),
		fmt.Sprintf("  unchanged: %d", status.Unchanged),
		fmt.Sprintf("  no code:   %d", status.Skipped),
		fmt.Sprintf("  failed:    %d", status.Failed),
	}
	if status.Cancelled > 0 {
		lines = append(lines, fmt.Sprintf("  cancelled: %d", status.Cancelled))
	}
	return lines
}

// IsTerminalSupported checks whether stderr is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
