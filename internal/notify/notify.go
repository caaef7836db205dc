// Package notify sends desktop notifications for build lifecycle
// events: start, success, failure, and queue status.
package notify

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
)

// Sink sends build-lifecycle notifications to the desktop.
type Sink struct {
	enabled bool
}

// New creates a Sink. Disabled sinks no-op, so callers can construct one
// unconditionally and gate it from config.
func New(enabled bool) *Sink {
	return &Sink{enabled: enabled}
}

func (s *Sink) notify(title, message string) {
	if !s.enabled {
		return
	}
	_ = beeep.Notify(title, message, "")
}

// BuildStarted announces a build beginning.
func (s *Sink) BuildStarted(target string) {
	s.notify("Poltergeist", fmt.Sprintf("Building %s…", target))
}

// BuildSucceeded announces a successful build.
func (s *Sink) BuildSucceeded(target string, d time.Duration) {
	s.notify("Poltergeist", fmt.Sprintf("%s built in %s", target, formatDuration(d)))
}

// BuildFailed announces a failed build with a short error summary.
func (s *Sink) BuildFailed(target, summary string) {
	s.notify("Poltergeist — build failed", fmt.Sprintf("%s: %s", target, summary))
}

// QueueStatus announces the current queue depth.
func (s *Sink) QueueStatus(pending int) {
	if pending == 0 {
		return
	}
	s.notify("Poltergeist", fmt.Sprintf("%d target(s) pending", pending))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
}
