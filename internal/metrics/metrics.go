// ============================================================================
// slotdispatch Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 在長時間的 sweep 執行期間暴露 dispatch 進度供 Prometheus 抓取
//
// 指標分類:
//
//   1. 任務計數器 (Counter) - 累計值，只增不減：
//     - slotdispatch_jobs_enqueued_total
//     - slotdispatch_jobs_dispatched_total
//     - slotdispatch_jobs_succeeded_total
//     - slotdispatch_jobs_failed_total
//     - slotdispatch_viewer_restarts_total
//
//   2. 性能指標 (Histogram) - 分佈統計：
//     - slotdispatch_job_duration_seconds (訓練任務：數分鐘到數小時)
//
//   3. 狀態指標 (Gauge) - 瞬時值，每次 dispatch 結束時重新同步：
//     - slotdispatch_jobs_pending
//     - slotdispatch_jobs_running
//
// 查詢範例:
//
//   # sweep 進度
//   slotdispatch_jobs_succeeded_total + slotdispatch_jobs_failed_total
//
//   # 失敗比例
//   slotdispatch_jobs_failed_total / slotdispatch_jobs_dispatched_total
//
// HTTP:
//   StartServer 為傳給 NewCollector 的 registry 提供 /metrics 端點
//
// nil *Collector 合法，不記錄任何指標
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// durationBuckets spans a few seconds up to roughly a day.
var durationBuckets = prometheus.ExponentialBuckets(1, 4, 9)

// Collector holds the dispatcher's Prometheus metrics.
type Collector struct {
	jobsEnqueued   prometheus.Counter
	jobsDispatched prometheus.Counter
	jobsSucceeded  prometheus.Counter
	jobsFailed     prometheus.Counter
	viewerRestarts prometheus.Counter

	jobDuration prometheus.Histogram

	jobsPending prometheus.Gauge
	jobsRunning prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdispatch_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdispatch_jobs_dispatched_total",
			Help: "Total number of jobs popped by a worker",
		}),
		jobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdispatch_jobs_succeeded_total",
			Help: "Total number of jobs that exited with code 0",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdispatch_jobs_failed_total",
			Help: "Total number of jobs that exited non-zero or could not start",
		}),
		viewerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdispatch_viewer_restarts_total",
			Help: "Total number of monitor viewer (re)launches",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slotdispatch_job_duration_seconds",
			Help:    "Wall time of finished jobs in seconds",
			Buckets: durationBuckets,
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slotdispatch_jobs_pending",
			Help: "Current number of queued jobs",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slotdispatch_jobs_running",
			Help: "Current number of running jobs",
		}),
	}

	reg.MustRegister(
		c.jobsEnqueued,
		c.jobsDispatched,
		c.jobsSucceeded,
		c.jobsFailed,
		c.viewerRestarts,
		c.jobDuration,
		c.jobsPending,
		c.jobsRunning,
	)
	return c
}

// RecordEnqueue counts one queued job.
func (c *Collector) RecordEnqueue() {
	if c == nil {
		return
	}
	c.jobsEnqueued.Inc()
	c.jobsPending.Inc()
}

// RecordDispatch counts one job popped by a worker.
func (c *Collector) RecordDispatch() {
	if c == nil {
		return
	}
	c.jobsDispatched.Inc()
	c.jobsPending.Dec()
	c.jobsRunning.Inc()
}

// RecordFinished counts one finished job and observes its duration.
func (c *Collector) RecordFinished(succeeded bool, seconds float64) {
	if c == nil {
		return
	}
	if succeeded {
		c.jobsSucceeded.Inc()
	} else {
		c.jobsFailed.Inc()
	}
	c.jobsRunning.Dec()
	c.jobDuration.Observe(seconds)
}

// RecordViewerRestart counts one viewer launch.
func (c *Collector) RecordViewerRestart() {
	if c == nil {
		return
	}
	c.viewerRestarts.Inc()
}

// UpdateQueueStats 以任務管理器的實際狀態覆寫 pending / running gauge
func (c *Collector) UpdateQueueStats(pending, running int) {
	if c == nil {
		return
	}
	c.jobsPending.Set(float64(pending))
	c.jobsRunning.Set(float64(running))
}

// Handler serves the metrics of gatherer. A nil gatherer uses the default one.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on port until the server fails.
func StartServer(port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
