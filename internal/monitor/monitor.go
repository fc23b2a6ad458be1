// ============================================================================
// slotdispatch Monitor - keep a viewer pointed at the started jobs
// ============================================================================
//
// Package: internal/monitor
// File: monitor.go
// Purpose: Poll the queue and restart the external viewer as jobs leave it
//
// Algorithm (every Interval):
//   1. pending := Source.Pending()
//   2. started := Jobs - pending (input order)
//   3. started changed since the last sample → Viewer.Restart(started)
//   4. queue empty on two consecutive samples → return
//
//   Workers never talk to the monitor. Polling the shared queue is enough
//   to infer which jobs have started or finished.
//
// Lifecycle:
//   Run blocks until the queue drains or ctx is cancelled. On cancellation
//   it does one last sync so the viewer reflects the final state, then
//   returns. The viewer process itself is left running.
//
// Failures:
//   A failing Restart is logged and ignored; jobs never depend on it.
//
// ============================================================================

package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

var log = slog.Default()

// DefaultInterval is used when Monitor.Interval is not positive.
const DefaultInterval = 30 * time.Second

// PendingSource exposes the jobs still waiting in the queue.
type PendingSource interface {
	Pending() []types.Job
}

// Run is one entry handed to the viewer.
type Run struct {
	Name   string
	LogDir string
}

// Viewer is an external process that displays the logs of a set of runs.
type Viewer interface {
	// Restart replaces any running instance with one showing runs.
	Restart(runs []Run) error
	// Stop terminates the running instance, if any.
	Stop() error
}

// Recorder receives viewer restart events. *metrics.Collector satisfies it.
type Recorder interface {
	RecordViewerRestart()
}

// Monitor restarts Viewer whenever the set of started jobs changes.
type Monitor struct {
	Source   PendingSource
	Jobs     []types.Job
	Interval time.Duration
	Viewer   Viewer
	Recorder Recorder

	last string
}

// Run polls until the queue has been observed empty for a full cycle or ctx
// is cancelled. It always returns nil; viewer failures are only logged.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	drained := false
	for {
		empty := m.sync()
		if empty && drained {
			log.Debug("Monitor observed drained queue", "jobs", len(m.Jobs))
			return nil
		}
		drained = empty

		select {
		case <-ctx.Done():
			m.sync()
			log.Debug("Monitor cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// sync samples the queue once and restarts the viewer on change.
// It reports whether the queue was empty.
func (m *Monitor) sync() bool {
	pending := m.Source.Pending()
	runs := startedRuns(m.Jobs, pending)

	key := runsKey(runs)
	if len(runs) > 0 && key != m.last {
		m.last = key
		if m.Recorder != nil {
			m.Recorder.RecordViewerRestart()
		}
		if err := m.Viewer.Restart(runs); err != nil {
			log.Warn("Failed to restart viewer", "runs", len(runs), "error", err)
		} else {
			log.Info("Viewer restarted", "runs", len(runs))
		}
	}
	return len(pending) == 0
}

// startedRuns returns the jobs of all that are no longer pending, in input order.
func startedRuns(all, pending []types.Job) []Run {
	waiting := make(map[types.JobID]struct{}, len(pending))
	for _, job := range pending {
		waiting[job.ID] = struct{}{}
	}

	runs := make([]Run, 0, len(all)-len(pending))
	for _, job := range all {
		if _, ok := waiting[job.ID]; ok {
			continue
		}
		runs = append(runs, Run{Name: string(job.ID), LogDir: job.LogDir})
	}
	return runs
}

func runsKey(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Name)
		b.WriteByte(0)
	}
	return b.String()
}
