package training

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProgressBar renders PyTorch-style epoch progress on one terminal
// line. The trainer supplies the suffix text; the bar owns percentage,
// elapsed time, and ETA.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	out         io.Writer
}

// NewProgressBar creates a progress bar bounded at total iterations
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		out:         os.Stdout,
	}
}

// SetOutput redirects rendering, mainly for tests
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// Next advances the bar one iteration and redraws it with suffix
func (pb *ProgressBar) Next(suffix string) {
	pb.current++
	pb.render(suffix)
}

// Advance moves the iteration counter without redrawing. Periodic
// print mode uses this so elapsed/ETA stay meaningful.
func (pb *ProgressBar) Advance() {
	pb.current++
}

// Current returns the number of completed iterations
func (pb *ProgressBar) Current() int {
	return pb.current
}

// Elapsed returns wall-clock time since the bar was opened
func (pb *ProgressBar) Elapsed() time.Duration {
	return time.Since(pb.startTime)
}

// ETA estimates the remaining time from current progress
func (pb *ProgressBar) ETA() time.Duration {
	if pb.current == 0 || pb.total <= 0 {
		return 0
	}
	elapsed := pb.Elapsed()
	totalTime := time.Duration(float64(elapsed) * float64(pb.total) / float64(pb.current))
	if totalTime < elapsed {
		return 0
	}
	return totalTime - elapsed
}

// Finish completes the bar and moves to a fresh line
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render("")
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render(suffix string) {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	fmt.Fprintf(pb.out, "\r%s: %3.0f%%|%s| %d/%d %s",
		pb.description, percentage*100, bar, pb.current, pb.total, suffix)
}

// FormatDuration renders a duration as MM:SS for progress text
func FormatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
