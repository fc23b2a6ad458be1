// Package types defines the core domain model shared by slotdispatch packages.
package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrMissingField is returned when a job descriptor lacks a required field.
	ErrMissingField = errors.New("job descriptor missing required field")
	// ErrInvalidJobID is returned when a job id cannot be used as a file name.
	ErrInvalidJobID = errors.New("invalid job id")
	// ErrInvalidTarget is returned when an execution target cannot be parsed.
	ErrInvalidTarget = errors.New("invalid execution target")
)

// JobID uniquely identifies a job within one dispatch call.
// It is also the log file stem and the key of the result mapping.
type JobID string

// JobStatus is the lifecycle state of a job inside one dispatch call.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"   // queued, not yet popped by a worker
	StatusRunning   JobStatus = "running"   // popped, subprocess running
	StatusSucceeded JobStatus = "succeeded" // exited with code 0
	StatusFailed    JobStatus = "failed"    // exited non-zero or could not start
)

// Job is one unit of dispatched work.
type Job struct {
	ID     JobID  `json:"id" yaml:"id"`         // log file stem and result key
	Cmd    string `json:"cmd" yaml:"cmd"`       // command line, without interpreter
	LogDir string `json:"logdir" yaml:"logdir"` // directory holding {id}.log
}

// NewJob builds a validated job descriptor.
func NewJob(id, cmd, logdir string) (Job, error) {
	job := Job{ID: JobID(id), Cmd: cmd, LogDir: logdir}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate reports the first missing required field, or an id that is not
// a plain file name.
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case j.ID == "." || j.ID == ".." || strings.ContainsAny(string(j.ID), "/"+string(filepath.Separator)):
		return fmt.Errorf("%w: %q is not a plain file name", ErrInvalidJobID, j.ID)
	case strings.TrimSpace(j.Cmd) == "":
		return fmt.Errorf("%w: cmd (job %s)", ErrMissingField, j.ID)
	case j.LogDir == "":
		return fmt.Errorf("%w: logdir (job %s)", ErrMissingField, j.ID)
	}
	return nil
}

// LogFile returns the path of the job's combined output log.
func (j Job) LogFile() string {
	return filepath.Join(j.LogDir, string(j.ID)+".log")
}

// Target is an execution slot a single worker is bound to.
// The only implementations are LocalTarget and RemoteTarget.
type Target interface {
	fmt.Stringer
	target()
}

// LocalTarget is an accelerator slot on the control host.
type LocalTarget struct {
	Slot string
}

func (LocalTarget) target() {}

func (t LocalTarget) String() string { return t.Slot }

// RemoteTarget is an accelerator slot on a host reached through a remote shell.
type RemoteTarget struct {
	Host string
	Slot string
}

func (RemoteTarget) target() {}

func (t RemoteTarget) String() string { return t.Host + ":" + t.Slot }

// ParseTarget parses "slot" into a LocalTarget and "host:slot" into a RemoteTarget.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	host, slot, remote := strings.Cut(s, ":")
	if !remote {
		return LocalTarget{Slot: s}, nil
	}
	if host == "" || slot == "" || strings.Contains(slot, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	return RemoteTarget{Host: host, Slot: slot}, nil
}

// ParseTargets parses every entry with ParseTarget.
func ParseTargets(specs []string) ([]Target, error) {
	targets := make([]Target, 0, len(specs))
	for _, s := range specs {
		t, err := ParseTarget(s)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// JobResult is the recorded outcome of one executed job.
type JobResult struct {
	ExitCode  int           `json:"exit_code"`
	Lines     []string      `json:"lines"`   // combined stdout+stderr, newline preserved
	Errored   bool          `json:"errored"` // some line matched the error heuristic
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Succeeded reports whether the job exited with code 0.
func (r *JobResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Record is the persisted artifact of one dispatch call.
type Record struct {
	Params []Job                `json:"params"`
	Out    map[JobID]*JobResult `json:"out"`
}
