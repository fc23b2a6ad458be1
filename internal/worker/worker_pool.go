// ============================================================================
// slotdispatch Worker Pool - 每個執行目標一個 goroutine
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理一次 dispatch 呼叫中所有 worker 的生命週期
//
// 設計理念:
//   Worker 數量取決於目標列表，而非任務數量
//   任務是待辦清單：先完成的 worker 先取下一個任務
//
//   ┌─────────────┐
//   │ Controller  │ --Start(targets)--> Pool
//   └─────────────┘                      │
//                        ┌───────────────┼───────────────┐
//                        ▼               ▼               ▼
//                   Worker[0]       Worker[1]   ...  Worker[n-1]
//                        │               │               │
//                        └──── Source.PopPending() ──────┘
//
// 生命週期:
//   1. NewPool(source, executor, opts)
//   2. Start(targets) - 每個目標啟動一個 worker
//   3. Wait()         - 阻塞直到所有 worker 消化完任務來源
//
// 並發安全:
//   - 使用 errgroup 追蹤 worker goroutine，Wait 等待全部結束
//   - 操作者輸出串流經過包裝，並發寫入不會在單一訊息內交錯
//
// ============================================================================

package worker

import (
	"errors"
	"io"
	"sync"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoTargets is returned by Start when the target list is empty.
	ErrNoTargets = errors.New("no execution targets")
	// ErrPoolStarted is returned by a second Start.
	ErrPoolStarted = errors.New("worker pool already started")
	// ErrPoolNotStarted is returned by Wait before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// Pool runs one Worker per execution target against a shared Source.
type Pool struct {
	source   Source
	executor *Executor
	opts     Options

	mu      sync.Mutex
	workers []*Worker
	group   *errgroup.Group
	started bool
}

// NewPool creates a pool. A nil executor uses the zero Executor.
func NewPool(source Source, executor *Executor, opts Options) *Pool {
	if executor == nil {
		executor = &Executor{}
	}
	opts = opts.withDefaults()
	opts.Out = &lockedWriter{w: opts.Out}

	return &Pool{
		source:   source,
		executor: executor,
		opts:     opts,
		workers:  make([]*Worker, 0),
	}
}

// Start spawns one worker per target. It returns immediately.
func (p *Pool) Start(targets []types.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if len(targets) == 0 {
		return ErrNoTargets
	}

	p.group = new(errgroup.Group)
	for i, target := range targets {
		w := newWorker(i, target, p.source, p.executor, p.opts)
		p.workers = append(p.workers, w)
		p.group.Go(w.Run)
	}

	p.started = true
	log.Info("Worker pool started", "workers", len(targets))
	return nil
}

// Wait blocks until every worker has exited and returns the first worker error.
func (p *Pool) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	group := p.group
	p.mu.Unlock()

	return group.Wait()
}

// GetWorkerCount returns the number of started workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start succeeded.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// lockedWriter serializes writes from concurrent workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
