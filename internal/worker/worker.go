// ============================================================================
// slotdispatch Worker - one execution target, one job at a time
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: Drain the shared queue against a single bound target
//
// Loop:
//   ┌──────────────────────────────────────────────┐
//   │  Worker goroutine (bound to one Target)       │
//   │  for job, ok := PopPending(); ok; ...         │
//   │    ├─ mkdir logdir                            │
//   │    ├─ run cmd, stdout+stderr → {id}.log       │
//   │    ├─ re-read {id}.log                        │
//   │    ├─ RecordResult                            │
//   │    └─ warn on failure, echo filtered lines    │
//   └──────────────────────────────────────────────┘
//
// Execution:
//   The subprocess runs synchronously with no timeout. A hung job stalls
//   its target until it exits. The log file is truncated on open, so a
//   re-run never sees output of a previous run.
//
// Failures:
//   A non-zero exit is data, not an error. Run only returns an error when
//   the source refuses a result, which means the queue invariants broke.
//
// ============================================================================

package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

var log = slog.Default()

// Worker executes jobs from a shared source on one target.
type Worker struct {
	id       int
	target   types.Target
	source   Source
	executor *Executor
	opts     Options
}

func newWorker(id int, target types.Target, source Source, executor *Executor, opts Options) *Worker {
	return &Worker{
		id:       id,
		target:   target,
		source:   source,
		executor: executor,
		opts:     opts,
	}
}

// Run pops and executes jobs until the source is empty.
func (w *Worker) Run() error {
	for {
		job, ok := w.source.PopPending()
		if !ok {
			log.Debug("Worker drained", "worker", w.id, "target", w.target.String())
			return nil
		}
		w.opts.Recorder.RecordDispatch()

		result := w.execute(job)

		if err := w.source.RecordResult(job.ID, result); err != nil {
			return fmt.Errorf("worker %d: record result of %s: %w", w.id, job.ID, err)
		}
		w.opts.Recorder.RecordFinished(result.Succeeded(), result.Duration.Seconds())
		w.report(job, result)
	}
}

// execute runs one job and collects its result.
func (w *Worker) execute(job types.Job) *types.JobResult {
	start := time.Now()
	log.Info("Job started", "jobID", job.ID, "target", w.target.String(), "worker", w.id)

	code, runErr := w.run(job)
	if runErr != nil {
		log.Warn("Job could not run", "jobID", job.ID, "target", w.target.String(), "error", runErr)
	}

	lines, err := readLines(job.LogFile())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to read job log", "jobID", job.ID, "error", err)
	}
	if lines == nil {
		lines = []string{}
	}

	result := &types.JobResult{
		ExitCode:  code,
		Lines:     lines,
		Errored:   len(matchLines(lines, w.opts.ErrorToken)) > 0,
		Target:    w.target.String(),
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}

	log.Info("Job finished",
		"jobID", job.ID,
		"target", w.target.String(),
		"exit_code", code,
		"duration", result.Duration)
	return result
}

// run executes the job with its output redirected to the log file.
// The returned code is -1 when the process never produced an exit status.
func (w *Worker) run(job types.Job) (int, error) {
	if err := os.MkdirAll(job.LogDir, 0o755); err != nil {
		return -1, fmt.Errorf("create log dir: %w", err)
	}

	logFile, err := os.Create(job.LogFile())
	if err != nil {
		return -1, fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()

	cmd, err := w.executor.Command(w.target, job)
	if err != nil {
		fmt.Fprintf(logFile, "slotdispatch: %v\n", err)
		return -1, err
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	err = cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	fmt.Fprintf(logFile, "slotdispatch: %v\n", err)
	return -1, err
}

// report writes the failure warning and the filtered echo to the operator stream.
func (w *Worker) report(job types.Job, result *types.JobResult) {
	if !result.Succeeded() {
		reportable := result.Lines
		if !w.opts.Verbose {
			reportable = matchLines(result.Lines, w.opts.ErrorToken)
		}
		if len(reportable) > 0 {
			var b strings.Builder
			fmt.Fprintf(&b, "WARNING: job %s on %s exited with code %d:\n", job.ID, result.Target, result.ExitCode)
			for _, line := range reportable {
				b.WriteString(line)
			}
			if !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
			io.WriteString(w.opts.Out, b.String())
		}
	}

	if w.opts.Filter != nil {
		for _, line := range result.Lines {
			if w.opts.Filter.MatchString(line) {
				io.WriteString(w.opts.Out, line)
			}
		}
	}
}

// matchLines returns the lines containing token.
func matchLines(lines []string, token string) []string {
	var matches []string
	for _, line := range lines {
		if strings.Contains(line, token) {
			matches = append(matches, line)
		}
	}
	return matches
}

// readLines returns the file's lines with their trailing newlines. Invalid
// UTF-8 is replaced with U+FFFD so the lines survive the JSON record
// unchanged; the log file keeps the raw bytes.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.ToValidUTF8(line, "\uFFFD"))
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
	}
}
