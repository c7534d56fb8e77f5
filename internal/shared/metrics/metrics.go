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
	uploadsAccepted   = newLabeledCounter("format")
	uploadsRejected   = newLabeledCounter("reason")
	transitions       = newLabeledCounter("to")
	completions       = newLabeledCounter("outcome")
	triggerFailures   atomic.Uint64
	orphanedArtifacts atomic.Uint64
	reconciledTotal   atomic.Uint64

	extractionDuration = newHistogram([]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
)

// IncUploadAccepted counts an accepted upload by format.
func IncUploadAccepted(format string) {
	uploadsAccepted.Inc(format)
}

// IncUploadRejected counts a rejected upload by error class.
func IncUploadRejected(reason string) {
	uploadsRejected.Inc(reason)
}

// IncTransition counts a terminal status transition.
func IncTransition(to string) {
	transitions.Inc(to)
}

// IncCompletionMessage counts worker completion messages by handling outcome.
func IncCompletionMessage(outcome string) {
	completions.Inc(outcome)
}

// IncTriggerFailed counts delegated extraction triggers that could not be sent.
func IncTriggerFailed() {
	triggerFailures.Add(1)
}

// IncOrphanedArtifact counts artifacts stored without a metadata row.
func IncOrphanedArtifact() {
	orphanedArtifacts.Add(1)
}

// AddReconciled counts documents failed by the reconciliation sweep.
func AddReconciled(n int) {
	if n > 0 {
		reconciledTotal.Add(uint64(n))
	}
}

// ObserveExtractionDurationMs records a synchronous extraction duration in milliseconds.
func ObserveExtractionDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	extractionDuration.Observe(value)
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
	writeLabeledCounter(&buf, "uploads_accepted_total", "Uploads accepted by format", uploadsAccepted)
	writeLabeledCounter(&buf, "uploads_rejected_total", "Uploads rejected by reason", uploadsRejected)
	writeLabeledCounter(&buf, "document_transitions_total", "Terminal status transitions by target status", transitions)
	writeLabeledCounter(&buf, "completion_messages_total", "Worker completion messages by outcome", completions)
	writeCounter(&buf, "extraction_trigger_failures_total", "Delegated extraction triggers that failed to send", triggerFailures.Load())
	writeCounter(&buf, "orphaned_artifacts_total", "Artifacts stored without a metadata row", orphanedArtifacts.Load())
	writeCounter(&buf, "reconciled_documents_total", "Documents failed by the reconciliation sweep", reconciledTotal.Load())
	writeHistogram(&buf, "extraction_duration_ms", "Synchronous extraction duration in milliseconds", extractionDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	label  string
	values map[string]uint64
}

func newLabeledCounter(label string) *labeledCounter {
	return &labeledCounter{label: label, values: make(map[string]uint64)}
}

func (c *labeledCounter) Inc(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[value]++
}

func (c *labeledCounter) snapshot() ([]string, map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	keys := make([]string, 0, len(c.values))
	for k, v := range c.values {
		out[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, out
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

// Observe records value in the first bucket whose bound contains it.
// Render accumulates the per-bucket counts.
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
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help string, c *labeledCounter) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys, values := c.snapshot()
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, c.label, k, values[k])
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

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
