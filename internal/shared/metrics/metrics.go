package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	runsStartedTotal   atomic.Uint64
	runsSucceededTotal atomic.Uint64
	runsJoinedTotal    atomic.Uint64
	runsRejectedTotal  atomic.Uint64
	runsInFlight       atomic.Int64

	jobsReceivedTotal  atomic.Uint64
	jobsCompletedTotal atomic.Uint64
	jobsRetriedTotal   atomic.Uint64
	jobsDroppedTotal   atomic.Uint64

	failures = newLabeledCounter()

	// Engine runs range from seconds to the half-hour default timeout.
	runDuration = newHistogram([]float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800})
)

// IncRunStarted increments the started counter and the in-flight gauge.
func IncRunStarted() {
	runsStartedTotal.Add(1)
	runsInFlight.Add(1)
}

// IncRunSucceeded records a successful run and leaves the in-flight gauge.
func IncRunSucceeded() {
	runsSucceededTotal.Add(1)
	runsInFlight.Add(-1)
}

// IncRunFailed records a failed run by error code and leaves the in-flight gauge.
func IncRunFailed(code string) {
	failures.Inc(code)
	runsInFlight.Add(-1)
}

// IncRunJoined counts callers that shared an in-flight run.
func IncRunJoined() {
	runsJoinedTotal.Add(1)
}

// IncRunRejected counts callers turned away because a run was in flight.
func IncRunRejected() {
	runsRejectedTotal.Add(1)
}

// IncJobReceived counts queue messages picked up by the worker.
func IncJobReceived() {
	jobsReceivedTotal.Add(1)
}

// IncJobCompleted counts queue messages processed and deleted.
func IncJobCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobRetried counts failed messages left on the queue for redelivery.
func IncJobRetried() {
	jobsRetriedTotal.Add(1)
}

// IncJobDropped counts messages deleted without a successful run.
func IncJobDropped() {
	jobsDroppedTotal.Add(1)
}

// ObserveRunDuration records an engine run duration.
func ObserveRunDuration(d time.Duration) {
	value := d.Seconds()
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_runs_started_total", "Total analysis runs started", runsStartedTotal.Load())
	writeCounter(&buf, "analysis_runs_succeeded_total", "Total analysis runs that produced a report", runsSucceededTotal.Load())
	writeLabeledCounter(&buf, "analysis_runs_failed_total", "Total analysis runs failed by error code", "code", failures.Snapshot())
	writeCounter(&buf, "analysis_runs_joined_total", "Total callers that joined an in-flight run", runsJoinedTotal.Load())
	writeCounter(&buf, "analysis_runs_rejected_total", "Total callers rejected while a run was in flight", runsRejectedTotal.Load())
	writeCounter(&buf, "analysis_jobs_received_total", "Total queue messages received", jobsReceivedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Total queue messages processed successfully", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_retried_total", "Total queue messages left for redelivery", jobsRetriedTotal.Load())
	writeCounter(&buf, "analysis_jobs_dropped_total", "Total queue messages deleted after an unrecoverable failure", jobsDroppedTotal.Load())
	writeGauge(&buf, "analysis_runs_in_flight", "Analysis runs currently executing", runsInFlight.Load())
	writeHistogram(&buf, "analysis_run_duration_seconds", "Engine run duration in seconds", runDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{counts: make(map[string]uint64)}
}

func (l *labeledCounter) Inc(label string) {
	if label == "" {
		label = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[label]++
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeGauge(buf *bytes.Buffer, name, help string, value int64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s gauge\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
