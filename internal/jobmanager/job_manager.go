// ============================================================================
// slotdispatch 任務管理器 - 共享佇列與結果映射
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 一次 dispatch 呼叫中，所有 worker 之間唯一共享的狀態
//
// 任務狀態轉換:
//   Pending (待處理)
//      ↓ PopPending()
//   Running (執行中)
//      ↓ RecordResult()
//   Succeeded (成功) / Failed (失敗)
//
//   沒有 Running → Pending 的轉換：被取出的任務最多執行一次
//
// 數據結構:
//   jobs map[JobID]*entry  - 本次呼叫的所有任務，單一真實來源
//   queue []JobID          - 待處理任務，嚴格 FIFO
//   results map            - 每個完成的任務一筆，只寫入一次
//
// 並發安全:
//   - 使用一把 sync.RWMutex 保護上述三個結構
//   - PopPending 不會阻塞；佇列為空時回傳 ok == false，
//     「是否還有工作」的檢查與取出是同一個原子步驟
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

var (
	// ErrDuplicateJob is returned when a job id is enqueued twice.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound is returned for an id that was never enqueued.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotRunning is returned when a result arrives for a job that was not popped.
	ErrNotRunning = errors.New("job not running")
	// ErrDuplicateResult is returned when a job's result is recorded twice.
	ErrDuplicateResult = errors.New("job result already recorded")
)

type entry struct {
	job    types.Job
	status types.JobStatus
}

// JobManager 持有一次 dispatch 呼叫的待處理佇列與結果映射
type JobManager struct {
	mu      sync.RWMutex
	jobs    map[types.JobID]*entry
	queue   []types.JobID
	results map[types.JobID]*types.JobResult
}

// NewJobManager 建立一個空的任務管理器實例
//
// Example:
//
//	jm := NewJobManager()
//	err := jm.Enqueue(types.Job{ID: "a", Cmd: "true", LogDir: "runs/a"})
//
// 回傳的實例可安全地並發使用
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:    make(map[types.JobID]*entry),
		queue:   make([]types.JobID, 0),
		results: make(map[types.JobID]*types.JobResult),
	}
}

// Enqueue 將任務加入佇列尾端
//
// Returns:
//   - ErrDuplicateJob: 此 id 已經入隊
func (jm *JobManager) Enqueue(job types.Job) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}

	jm.jobs[job.ID] = &entry{job: job, status: types.StatusPending}
	jm.queue = append(jm.queue, job.ID)
	return nil
}

// PopPending 取出佇列頭的任務並標記為執行中
// 佇列為空時 ok 為 false
func (jm *JobManager) PopPending() (job types.Job, ok bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if len(jm.queue) == 0 {
		return types.Job{}, false
	}

	id := jm.queue[0]
	jm.queue[0] = ""
	jm.queue = jm.queue[1:]

	e := jm.jobs[id]
	e.status = types.StatusRunning
	return e.job, true
}

// RecordResult 記錄執行中任務的結果
//
// Returns:
//   - ErrJobNotFound: 未知的 id
//   - ErrDuplicateResult: 此 id 已有結果
//   - ErrNotRunning: 任務從未被取出
func (jm *JobManager) RecordResult(id types.JobID, result *types.JobResult) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if _, done := jm.results[id]; done {
		return ErrDuplicateResult
	}
	if e.status != types.StatusRunning {
		return ErrNotRunning
	}

	if result.Succeeded() {
		e.status = types.StatusSucceeded
	} else {
		e.status = types.StatusFailed
	}
	jm.results[id] = result
	return nil
}

// Len 回傳待處理任務數量
func (jm *JobManager) Len() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return len(jm.queue)
}

// Pending 依佇列順序回傳待處理任務的副本
func (jm *JobManager) Pending() []types.Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	pending := make([]types.Job, 0, len(jm.queue))
	for _, id := range jm.queue {
		pending = append(pending, jm.jobs[id].job)
	}
	return pending
}

// Status 回傳任務目前的狀態
func (jm *JobManager) Status(id types.JobID) (types.JobStatus, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	e, exists := jm.jobs[id]
	if !exists {
		return "", ErrJobNotFound
	}
	return e.status, nil
}

// Results returns a copy of the result mapping. The JobResult values are shared.
func (jm *JobManager) Results() map[types.JobID]*types.JobResult {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	out := make(map[types.JobID]*types.JobResult, len(jm.results))
	for id, r := range jm.results {
		out[id] = r
	}
	return out
}

// Stats 統計各狀態的任務數量
//
// Example:
//
//	stats := jm.Stats()
//	log.Info("progress", "pending", stats["pending"], "running", stats["running"])
func (jm *JobManager) Stats() map[string]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	stats := map[string]int{
		string(types.StatusPending):   0,
		string(types.StatusRunning):   0,
		string(types.StatusSucceeded): 0,
		string(types.StatusFailed):    0,
	}
	for _, e := range jm.jobs {
		stats[string(e.status)]++
	}
	return stats
}
