// ============================================================================
// slotdispatch 控制器 - 一次 dispatch 呼叫的完整流程
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 協調佇列、worker、監控器與結果紀錄
//
// Dispatch 流程:
//   1. Setup    - 驗證任務與目標，建立所有 logdir 與輸出路徑的父目錄
//                 任何失敗都在第一個任務執行前回傳
//   2. Enqueue  - 依輸入順序加入所有任務
//   3. Monitor  - 可選的監控 goroutine，以完整任務列表初始化
//   4. Workers  - 每個目標一個 worker，共同消化同一個 JobManager
//   5. Join     - 等待所有 worker 返回
//   6. Stop     - 取消監控器並等待最後一次同步，重新同步 gauge
//   7. Persist  - 透過 snapshot.Manager 寫入 {params, out}（temp file + rename）
//   8. Return   - 回傳結果映射
//
//   ┌────────────┐  Enqueue   ┌────────────┐  PopPending   ┌──────────┐
//   │ Dispatch   │ ─────────> │ JobManager │ <──────────── │ Worker×N │
//   └────────────┘            └────────────┘  RecordResult └──────────┘
//         │                         ▲
//         │ start/cancel            │ Pending()
//         ▼                         │
//   ┌────────────┐ ─────────────────┘
//   │ Monitor    │ ──Restart──> Viewer
//   └────────────┘
//
// 失敗處理:
//   任務以非零碼結束只是結果映射中的資料，不是錯誤
//   錯誤只用於 setup、持久化與佇列不變式被破壞的情況
//
// viewer 在 Dispatch 結束後仍繼續執行，由 Close 停止
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/ChuLiYu/slotdispatch/internal/jobmanager"
	"github.com/ChuLiYu/slotdispatch/internal/metrics"
	"github.com/ChuLiYu/slotdispatch/internal/monitor"
	"github.com/ChuLiYu/slotdispatch/internal/snapshot"
	"github.com/ChuLiYu/slotdispatch/internal/worker"
	"github.com/ChuLiYu/slotdispatch/pkg/types"
	"github.com/google/uuid"
)

var log = slog.Default()

var (
	// ErrNoTargets is returned when Config.Targets is empty.
	ErrNoTargets = errors.New("at least one execution target is required")
	// ErrNoOutputPath is returned when Config.OutputPath is empty.
	ErrNoOutputPath = errors.New("output path is required")
)

// ============================================================================
// Configuration
// ============================================================================

// MonitorConfig enables the monitor for a dispatch call.
type MonitorConfig struct {
	Interval time.Duration
	Viewer   monitor.Viewer
}

// Config describes one dispatch call.
type Config struct {
	// Targets bounds parallelism: one worker per target.
	Targets []types.Target
	// OutputPath receives the {params, out} record.
	OutputPath string
	// Executor builds job commands. nil uses the zero Executor.
	Executor *worker.Executor
	// Options controls warning and echo output.
	Options worker.Options
	// Monitor is nil when no viewer should be kept up to date.
	Monitor *MonitorConfig
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Controller runs dispatch calls.
type Controller struct {
	config   Config
	snapshot *snapshot.Manager
}

// NewController creates a controller for config.
func NewController(config Config) *Controller {
	return &Controller{
		config:   config,
		snapshot: snapshot.NewManager(config.OutputPath),
	}
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch runs every job on the configured targets and blocks until all of
// them finished. The returned mapping has one entry per job.
//
// ctx only governs the monitor. Running jobs are never interrupted.
func (c *Controller) Dispatch(ctx context.Context, jobs []types.Job) (map[types.JobID]*types.JobResult, error) {
	session := uuid.NewString()
	logger := log.With("session", session)

	jm, err := c.setup(jobs)
	if err != nil {
		return nil, err
	}

	logger.Info("Dispatch started", "jobs", len(jobs), "targets", len(c.config.Targets))
	start := time.Now()

	stopMonitor := c.startMonitor(ctx, jm, jobs)

	opts := c.config.Options
	if c.config.Metrics != nil {
		opts.Recorder = c.config.Metrics
	}
	pool := worker.NewPool(jm, c.config.Executor, opts)
	if err := pool.Start(c.config.Targets); err != nil {
		stopMonitor()
		return nil, fmt.Errorf("failed to start workers: %w", err)
	}
	poolErr := pool.Wait()

	stopMonitor()

	stats := jm.Stats()
	c.config.Metrics.UpdateQueueStats(stats[string(types.StatusPending)], stats[string(types.StatusRunning)])

	results := jm.Results()
	record := types.Record{Params: jobs, Out: results}
	if err := c.snapshot.Write(record); err != nil {
		return results, fmt.Errorf("failed to persist results: %w", err)
	}
	if poolErr != nil {
		return results, fmt.Errorf("worker failed: %w", poolErr)
	}

	logger.Info("Dispatch finished",
		"succeeded", stats[string(types.StatusSucceeded)],
		"failed", stats[string(types.StatusFailed)],
		"output", c.config.OutputPath,
		"elapsed", time.Since(start))
	return results, nil
}

// setup validates the call and returns a filled job manager.
func (c *Controller) setup(jobs []types.Job) (*jobmanager.JobManager, error) {
	if len(c.config.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if c.config.OutputPath == "" {
		return nil, ErrNoOutputPath
	}

	for i, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	jm := jobmanager.NewJobManager()
	for _, job := range jobs {
		if err := jm.Enqueue(job); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}

	for _, job := range jobs {
		if err := os.MkdirAll(job.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logdir for job %s: %w", job.ID, err)
		}
	}
	if err := c.snapshot.EnsureDir(); err != nil {
		return nil, err
	}

	for range jobs {
		c.config.Metrics.RecordEnqueue()
	}
	return jm, nil
}

// startMonitor launches the monitor goroutine, if configured, and returns a
// function that cancels it and waits for it to return.
func (c *Controller) startMonitor(ctx context.Context, jm *jobmanager.JobManager, jobs []types.Job) func() {
	if c.config.Monitor == nil || c.config.Monitor.Viewer == nil {
		return func() {}
	}

	m := &monitor.Monitor{
		Source:   jm,
		Jobs:     jobs,
		Interval: c.config.Monitor.Interval,
		Viewer:   c.config.Monitor.Viewer,
	}
	if c.config.Metrics != nil {
		m.Recorder = c.config.Metrics
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	return func() {
		cancel()
		<-done
	}
}

// Close stops the viewer, if one was configured.
func (c *Controller) Close() error {
	if c.config.Monitor == nil || c.config.Monitor.Viewer == nil {
		return nil
	}
	return c.config.Monitor.Viewer.Stop()
}

// Summarize counts succeeded and failed results and lists failed ids in
// ascending order.
func Summarize(results map[types.JobID]*types.JobResult) (succeeded, failed int, failedIDs []types.JobID) {
	for id, r := range results {
		if r.Succeeded() {
			succeeded++
			continue
		}
		failed++
		failedIDs = append(failedIDs, id)
	}
	slices.Sort(failedIDs)
	return succeeded, failed, failedIDs
}
