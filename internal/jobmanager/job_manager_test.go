package jobmanager

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestJob(id string) types.Job {
	return types.Job{
		ID:     types.JobID(id),
		Cmd:    "true",
		LogDir: "/tmp/" + id,
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func assertError(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error %v, got nil", want)
		return
	}
	if !errors.Is(err, want) {
		t.Errorf("expected error %v, got %v", want, err)
	}
}

func assertJobStatus(t *testing.T, jm *JobManager, id types.JobID, want types.JobStatus) {
	t.Helper()
	got, err := jm.Status(id)
	if err != nil {
		t.Errorf("job %s: %v", id, err)
		return
	}
	if got != want {
		t.Errorf("job %s status: got %s, want %s", id, got, want)
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()

	if jm.jobs == nil || jm.queue == nil || jm.results == nil {
		t.Fatal("internal structures not initialized")
	}
	if jm.Len() != 0 {
		t.Errorf("Len: got %d, want 0", jm.Len())
	}
	for key, value := range jm.Stats() {
		if value != 0 {
			t.Errorf("stats[%s]: got %d, want 0", key, value)
		}
	}
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*JobManager)
		job     types.Job
		wantErr error
	}{
		{
			name:  "Single job",
			setup: func(jm *JobManager) {},
			job:   newTestJob("a"),
		},
		{
			name:  "Second distinct job",
			setup: func(jm *JobManager) { jm.Enqueue(newTestJob("a")) },
			job:   newTestJob("b"),
		},
		{
			name:    "Duplicate id",
			setup:   func(jm *JobManager) { jm.Enqueue(newTestJob("a")) },
			job:     newTestJob("a"),
			wantErr: ErrDuplicateJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			tt.setup(jm)

			err := jm.Enqueue(tt.job)
			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertJobStatus(t, jm, tt.job.ID, types.StatusPending)
		})
	}
}

func TestPopPendingFIFO(t *testing.T) {
	jm := NewJobManager()
	for _, id := range []string{"a", "b", "c"} {
		assertNoError(t, jm.Enqueue(newTestJob(id)))
	}

	for _, want := range []types.JobID{"a", "b", "c"} {
		job, ok := jm.PopPending()
		if !ok {
			t.Fatalf("expected job %s, queue empty", want)
		}
		if job.ID != want {
			t.Errorf("got %s, want %s", job.ID, want)
		}
		assertJobStatus(t, jm, want, types.StatusRunning)
	}

	if _, ok := jm.PopPending(); ok {
		t.Error("expected empty queue")
	}
}

func TestRecordResult(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*JobManager)
		id         types.JobID
		result     *types.JobResult
		wantErr    error
		wantStatus types.JobStatus
	}{
		{
			name: "Success",
			setup: func(jm *JobManager) {
				jm.Enqueue(newTestJob("a"))
				jm.PopPending()
			},
			id:         "a",
			result:     &types.JobResult{ExitCode: 0},
			wantStatus: types.StatusSucceeded,
		},
		{
			name: "Failure",
			setup: func(jm *JobManager) {
				jm.Enqueue(newTestJob("a"))
				jm.PopPending()
			},
			id:         "a",
			result:     &types.JobResult{ExitCode: 2},
			wantStatus: types.StatusFailed,
		},
		{
			name:    "Unknown job",
			setup:   func(jm *JobManager) {},
			id:      "a",
			result:  &types.JobResult{},
			wantErr: ErrJobNotFound,
		},
		{
			name:    "Not popped",
			setup:   func(jm *JobManager) { jm.Enqueue(newTestJob("a")) },
			id:      "a",
			result:  &types.JobResult{},
			wantErr: ErrNotRunning,
		},
		{
			name: "Recorded twice",
			setup: func(jm *JobManager) {
				jm.Enqueue(newTestJob("a"))
				jm.PopPending()
				jm.RecordResult("a", &types.JobResult{})
			},
			id:      "a",
			result:  &types.JobResult{},
			wantErr: ErrDuplicateResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			tt.setup(jm)

			err := jm.RecordResult(tt.id, tt.result)
			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertJobStatus(t, jm, tt.id, tt.wantStatus)
			if jm.Results()[tt.id] != tt.result {
				t.Error("result not stored")
			}
		})
	}
}

func TestPendingSnapshot(t *testing.T) {
	jm := NewJobManager()
	for _, id := range []string{"a", "b", "c"} {
		jm.Enqueue(newTestJob(id))
	}
	jm.PopPending()

	pending := jm.Pending()
	if len(pending) != 2 || pending[0].ID != "b" || pending[1].ID != "c" {
		t.Fatalf("unexpected pending: %v", pending)
	}

	// mutating the copy must not touch the queue
	pending[0].ID = "zzz"
	if jm.Pending()[0].ID != "b" {
		t.Error("Pending returned shared storage")
	}
}

func TestStats(t *testing.T) {
	jm := NewJobManager()
	for _, id := range []string{"a", "b", "c", "d"} {
		jm.Enqueue(newTestJob(id))
	}
	jm.PopPending()
	jm.PopPending()
	jm.PopPending()
	jm.RecordResult("a", &types.JobResult{ExitCode: 0})
	jm.RecordResult("b", &types.JobResult{ExitCode: 1})

	want := map[string]int{"pending": 1, "running": 1, "succeeded": 1, "failed": 1}
	stats := jm.Stats()
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%s]: got %d, want %d", k, stats[k], v)
		}
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentDrain(t *testing.T) {
	const jobCount = 500
	const workers = 8

	jm := NewJobManager()
	for i := 0; i < jobCount; i++ {
		assertNoError(t, jm.Enqueue(newTestJob(fmt.Sprintf("job-%d", i))))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[types.JobID]int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := jm.PopPending()
				if !ok {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
				if err := jm.RecordResult(job.ID, &types.JobResult{}); err != nil {
					t.Errorf("record %s: %v", job.ID, err)
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobCount {
		t.Errorf("popped %d distinct jobs, want %d", len(seen), jobCount)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s popped %d times", id, n)
		}
	}
	if got := len(jm.Results()); got != jobCount {
		t.Errorf("results: got %d, want %d", got, jobCount)
	}
}
