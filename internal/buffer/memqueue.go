package buffer

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/log-archiver/internal/record"
)

var (
	memqueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_failover_queue_batches",
		Help: "Current number of batches in the in-memory failover queue",
	})

	memqueueBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_failover_queue_bytes",
		Help: "Estimated bytes held by the in-memory failover queue",
	})

	memqueueEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_failover_queue_evictions_total",
		Help: "Batches evicted from the failover queue when full (data lost)",
	})
)

func init() {
	prometheus.MustRegister(memqueueSize)
	prometheus.MustRegister(memqueueBytes)
	prometheus.MustRegister(memqueueEvictionsTotal)
}

type queuedBatch struct {
	batch *record.Batch
	size  int64
}

// MemoryQueue is a bounded in-memory queue of batches whose emission failed.
// Bounded by both batch count and estimated byte size.
// When full, oldest batches are evicted to make room.
type MemoryQueue struct {
	mu       sync.Mutex
	entries  []queuedBatch
	bytes    int64
	maxSize  int
	maxBytes int64
}

// NewMemoryQueue creates a new bounded in-memory failover queue.
func NewMemoryQueue(maxSize int, maxBytes int64) *MemoryQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if maxBytes <= 0 {
		maxBytes = 256 * 1024 * 1024 // 256MB
	}
	return &MemoryQueue{
		entries:  make([]queuedBatch, 0),
		maxSize:  maxSize,
		maxBytes: maxBytes,
	}
}

// Push adds a batch to the queue. If the queue is full (by count or bytes),
// oldest batches are evicted to make room. Returns error only if the single
// batch exceeds maxBytes.
func (q *MemoryQueue) Push(b *record.Batch) error {
	entrySize := b.EstimateSize()

	if entrySize > q.maxBytes {
		return fmt.Errorf("batch %s size %d exceeds max queue bytes %d", b.ID, entrySize, q.maxBytes)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) >= q.maxSize {
		q.evictOldest()
	}
	for q.bytes+entrySize > q.maxBytes && len(q.entries) > 0 {
		q.evictOldest()
	}

	q.entries = append(q.entries, queuedBatch{batch: b, size: entrySize})
	q.bytes += entrySize
	q.updateGauges()
	return nil
}

// Pop removes and returns the oldest batch, or nil if the queue is empty.
func (q *MemoryQueue) Pop() *record.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	entry := q.entries[0]
	q.entries[0] = queuedBatch{}
	q.entries = q.entries[1:]
	q.bytes -= entry.size
	q.maybeCompact()
	q.updateGauges()
	return entry.batch
}

// Len returns the current number of batches in the queue.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Size returns the estimated total bytes in the queue.
func (q *MemoryQueue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// evictOldest removes the oldest batch. Must be called with q.mu held.
func (q *MemoryQueue) evictOldest() {
	if len(q.entries) == 0 {
		return
	}
	q.bytes -= q.entries[0].size
	q.entries[0] = queuedBatch{}
	q.entries = q.entries[1:]
	memqueueEvictionsTotal.Inc()
	q.maybeCompact()
}

// maybeCompact compacts the slice if capacity is significantly larger than length.
// Must be called with q.mu held.
func (q *MemoryQueue) maybeCompact() {
	if cap(q.entries) > 256 && cap(q.entries) > len(q.entries)+64 {
		compacted := make([]queuedBatch, len(q.entries))
		copy(compacted, q.entries)
		q.entries = compacted
	}
}

func (q *MemoryQueue) updateGauges() {
	memqueueSize.Set(float64(len(q.entries)))
	memqueueBytes.Set(float64(q.bytes))
}
