package jobmanager

import (
	"fmt"
	"testing"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
	"pgregory.net/rapid"
)

// TestProperty_FIFOAndCompleteness: for any batch of distinct jobs, popping
// until empty yields them in enqueue order, and recording a result for each
// leaves exactly one result per id.
func TestProperty_FIFOAndCompleteness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "n")
		jm := NewJobManager()

		ids := make([]types.JobID, n)
		for i := range ids {
			ids[i] = types.JobID(fmt.Sprintf("job-%d", i))
			if err := jm.Enqueue(newTestJob(string(ids[i]))); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}

		for i := 0; ; i++ {
			job, ok := jm.PopPending()
			if !ok {
				if i != n {
					t.Fatalf("drained after %d pops, want %d", i, n)
				}
				break
			}
			if job.ID != ids[i] {
				t.Fatalf("pop %d: got %s, want %s", i, job.ID, ids[i])
			}
			code := rapid.IntRange(0, 3).Draw(t, "exit")
			if err := jm.RecordResult(job.ID, &types.JobResult{ExitCode: code}); err != nil {
				t.Fatalf("record: %v", err)
			}
		}

		results := jm.Results()
		if len(results) != n {
			t.Fatalf("results: got %d, want %d", len(results), n)
		}
		stats := jm.Stats()
		if stats["succeeded"]+stats["failed"] != n || stats["pending"] != 0 || stats["running"] != 0 {
			t.Fatalf("inconsistent stats %v", stats)
		}
	})
}

// TestProperty_PendingShrinks: the pending set only ever loses members.
func TestProperty_PendingShrinks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 32).Draw(t, "n")
		jm := NewJobManager()
		for i := 0; i < n; i++ {
			jm.Enqueue(newTestJob(fmt.Sprintf("j%d", i)))
		}

		prev := make(map[types.JobID]bool)
		for _, j := range jm.Pending() {
			prev[j.ID] = true
		}
		for jm.Len() > 0 {
			pops := rapid.IntRange(1, 3).Draw(t, "pops")
			for k := 0; k < pops; k++ {
				jm.PopPending()
			}
			cur := make(map[types.JobID]bool)
			for _, j := range jm.Pending() {
				if !prev[j.ID] {
					t.Fatalf("job %s reappeared in pending set", j.ID)
				}
				cur[j.ID] = true
			}
			prev = cur
		}
	})
}
