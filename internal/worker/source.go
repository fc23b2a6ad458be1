// ============================================================================
// slotdispatch Job Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Decouples workers from the job manager that owns the queue.
//
//   Workers only need "give me the next job" and "here is its result". The
//   in-process JobManager satisfies this directly; tests substitute fakes.
//
// ============================================================================

package worker

import (
	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

// Source hands out pending jobs and stores their results.
type Source interface {
	// PopPending removes the next job. ok is false once the queue is empty,
	// which ends the calling worker's loop.
	PopPending() (job types.Job, ok bool)

	// RecordResult stores the outcome of a popped job. It is called exactly
	// once per popped job, by the worker that popped it.
	RecordResult(id types.JobID, result *types.JobResult) error
}
