// Package report accumulates per-stage run counters. A completed run always
// prints counts of attempted/succeeded/failed records per stage; partial
// failure is normal operation, not an abort condition.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
)

// Stats counts outcomes for a single pipeline stage.
type Stats struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Merge folds other into s.
func (s *Stats) Merge(other Stats) {
	s.Attempted += other.Attempted
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Duration += other.Duration
}

// Run collects stats per named stage in a single pipeline invocation.
type Run struct {
	Stages map[string]*Stats `json:"stages"`
	order  []string
}

// NewRun creates an empty run report.
func NewRun() *Run {
	return &Run{Stages: make(map[string]*Stats)}
}

// Stage returns the stats bucket for a stage, creating it on first use.
func (r *Run) Stage(name string) *Stats {
	if s, ok := r.Stages[name]; ok {
		return s
	}
	s := &Stats{}
	r.Stages[name] = s
	r.order = append(r.order, name)
	return s
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	skipColor = color.New(color.FgYellow)
	headColor = color.New(color.FgCyan, color.Bold)
)

// Print writes a human-readable summary of every stage to w.
func (r *Run) Print(w io.Writer) {
	names := r.order
	if len(names) == 0 {
		for name := range r.Stages {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		s := r.Stages[name]
		headColor.Fprintf(w, "%s:", name)
		fmt.Fprintf(w, " %d attempted, ", s.Attempted)
		okColor.Fprintf(w, "%d succeeded", s.Succeeded)
		if s.Failed > 0 {
			fmt.Fprint(w, ", ")
			failColor.Fprintf(w, "%d failed", s.Failed)
		}
		if s.Skipped > 0 {
			fmt.Fprint(w, ", ")
			skipColor.Fprintf(w, "%d skipped", s.Skipped)
		}
		if s.Duration > 0 {
			fmt.Fprintf(w, " (%s)", s.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
	}
}
