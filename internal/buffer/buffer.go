// Package buffer groups incoming events by time slice and hands finished
// slices to an Emitter as batches.
package buffer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/logging"
	"github.com/szibis/log-archiver/internal/record"
)

var (
	recordsReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_records_received_total",
		Help: "Records accepted into the buffer",
	})

	recordsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_records_rejected_total",
		Help: "Records refused because the buffer was full",
	})

	bufferedRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_buffer_records",
		Help: "Records currently waiting in the buffer",
	})

	bufferedSlices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_buffer_slices",
		Help: "Time slices currently open in the buffer",
	})

	emitConcurrentWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_emit_concurrent_workers",
		Help: "Number of batch emissions currently running",
	})

	failoverQueuePushTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_failover_queue_push_total",
		Help: "Batches saved to the failover queue after a failed emission",
	})

	failoverQueueDrainTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_failover_queue_drain_total",
		Help: "Batches successfully re-emitted from the failover queue",
	})

	failoverQueueDrainErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_failover_queue_drain_errors_total",
		Help: "Failed re-emissions from the failover queue",
	})

	batchesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_batches_dropped_total",
		Help: "Batches lost because they could neither be emitted nor queued",
	})

	newStreamsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_new_streams_total",
		Help: "Tags seen for the first time since startup (approximate)",
	})

	futureRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_future_records_total",
		Help: "Records whose event time was too far ahead and were sliced by receive time",
	})
)

func init() {
	prometheus.MustRegister(recordsReceivedTotal)
	prometheus.MustRegister(recordsRejectedTotal)
	prometheus.MustRegister(bufferedRecords)
	prometheus.MustRegister(bufferedSlices)
	prometheus.MustRegister(emitConcurrentWorkers)
	prometheus.MustRegister(failoverQueuePushTotal)
	prometheus.MustRegister(failoverQueueDrainTotal)
	prometheus.MustRegister(failoverQueueDrainErrorsTotal)
	prometheus.MustRegister(batchesDroppedTotal)
	prometheus.MustRegister(newStreamsTotal)
	prometheus.MustRegister(futureRecordsTotal)
}

// Sizing of the filter that recognizes already seen tags.
const (
	streamFilterCapacity = 100_000
	streamFilterFPRate   = 0.01
)

// ErrBufferFull is returned by Add when the pending record limit is reached.
var ErrBufferFull = errors.New("buffer full")

// Emitter archives one batch.
type Emitter interface {
	Emit(ctx context.Context, b *record.Batch) error
}

// FailoverQueue holds batches whose emission failed until they can be retried.
type FailoverQueue interface {
	Push(b *record.Batch) error
	Pop() *record.Batch
	Len() int
	Size() int64
}

// Config holds the slicing policy.
type Config struct {
	// SliceFormat is the strftime pattern turning an event time into its slice id.
	SliceFormat string
	// Localtime computes slice ids in Location instead of UTC.
	Localtime bool
	Location  *time.Location
	// SliceWait is how long a slice stays open after its time has passed,
	// to collect late events.
	SliceWait time.Duration
	// FlushInterval is how often ready slices are checked.
	FlushInterval time.Duration
	// MaxSliceRecords emits a slice early once it holds this many records; 0 disables.
	MaxSliceRecords int
	// MaxPendingRecords makes Add fail with ErrBufferFull beyond this total; 0 disables.
	MaxPendingRecords int
}

// DefaultSliceFormat produces hourly slices such as 2023010112.
const DefaultSliceFormat = "%Y%m%d%H"

// BufferOption is a functional option for SliceBuffer.
type BufferOption func(*SliceBuffer)

// WithConcurrency sets how many batches may be emitted at once per flush cycle.
func WithConcurrency(n int) BufferOption {
	return func(b *SliceBuffer) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithFailoverQueue sets a failover queue for the buffer. Batches whose
// emission fails are pushed to this queue and re-emitted periodically
// instead of being dropped.
func WithFailoverQueue(q FailoverQueue) BufferOption {
	return func(b *SliceBuffer) { b.failoverQueue = q }
}

// WithDrainInterval sets how often the failover queue is drained.
func WithDrainInterval(d time.Duration) BufferOption {
	return func(b *SliceBuffer) {
		if d > 0 {
			b.drainInterval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BufferOption {
	return func(b *SliceBuffer) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) BufferOption {
	return func(b *SliceBuffer) { b.logger = l }
}

type slice struct {
	id     string
	events []record.Event
	latest time.Time
}

// SliceBuffer collects events per time slice and emits a slice once its
// time has passed by more than the configured wait.
type SliceBuffer struct {
	mu      sync.Mutex
	slices  map[string]*slice
	full    []*slice
	pending int
	streams *bloom.BloomFilter

	cfg           Config
	slicer        *format.TimeFormatter
	emitter       Emitter
	failoverQueue FailoverQueue
	concurrency   int
	drainInterval time.Duration
	now           func() time.Time
	logger        *logging.Logger

	flushChan chan struct{}
	doneChan  chan struct{}
}

// New creates a new SliceBuffer.
func New(cfg Config, emitter Emitter, opts ...BufferOption) (*SliceBuffer, error) {
	if cfg.SliceFormat == "" {
		cfg.SliceFormat = DefaultSliceFormat
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	slicer, err := format.NewTimeFormatter(cfg.SliceFormat, cfg.Localtime, cfg.Location)
	if err != nil {
		return nil, err
	}
	buf := &SliceBuffer{
		slices:        make(map[string]*slice),
		streams:       bloom.NewWithEstimates(streamFilterCapacity, streamFilterFPRate),
		cfg:           cfg,
		slicer:        slicer,
		emitter:       emitter,
		concurrency:   1,
		drainInterval: 5 * time.Second,
		now:           time.Now,
		flushChan:     make(chan struct{}, 1),
		doneChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(buf)
	}
	return buf, nil
}

// SliceID returns the slice id an event time belongs to.
func (b *SliceBuffer) SliceID(t time.Time) string {
	return b.slicer.Format(t)
}

// Add buffers events. Either all events are accepted or, when the pending
// limit would be exceeded, none are and ErrBufferFull is returned.
func (b *SliceBuffer) Add(events []record.Event) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.cfg.MaxPendingRecords > 0 && b.pending+len(events) > b.cfg.MaxPendingRecords {
		b.mu.Unlock()
		recordsRejectedTotal.Add(float64(len(events)))
		return ErrBufferFull
	}

	// Events beyond the horizon are sliced by receive time.
	now := b.now()
	horizon := now.Add(b.cfg.SliceWait)
	signal := false
	future := 0
	var newTags []string
	for _, ev := range events {
		if !b.streams.TestAndAddString(ev.Tag) {
			newTags = append(newTags, ev.Tag)
		}
		at := ev.Time
		if at.After(horizon) {
			at = now
			future++
		}
		id := b.SliceID(at)
		s, ok := b.slices[id]
		if !ok {
			s = &slice{id: id}
			b.slices[id] = s
		}
		s.events = append(s.events, ev)
		if at.After(s.latest) {
			s.latest = at
		}
		if b.cfg.MaxSliceRecords > 0 && len(s.events) >= b.cfg.MaxSliceRecords {
			b.full = append(b.full, s)
			delete(b.slices, id)
			signal = true
		}
	}
	b.pending += len(events)
	b.updateGauges()
	b.mu.Unlock()

	recordsReceivedTotal.Add(float64(len(events)))
	if future > 0 {
		futureRecordsTotal.Add(float64(future))
		b.logger.Warn("event time too far ahead, sliced by receive time", logging.F("records", future))
	}
	for _, tag := range newTags {
		newStreamsTotal.Inc()
		b.logger.Info("new stream", logging.F("tag", tag))
	}

	if signal {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of buffered records.
func (b *SliceBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// FailoverLen returns the number of batches waiting for re-emission.
func (b *SliceBuffer) FailoverLen() int {
	if b.failoverQueue == nil {
		return 0
	}
	return b.failoverQueue.Len()
}

// Start starts the background flush routine. It returns after ctx is
// cancelled and every open slice has been emitted once.
func (b *SliceBuffer) Start(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	drainTicker := time.NewTicker(b.drainInterval)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), true) // Final flush
			if n := b.FailoverLen(); n > 0 {
				b.logger.Error("shutting down with unarchived batches in failover queue", logging.F(
					"batches", n,
				))
			}
			close(b.doneChan)
			return
		case <-ticker.C:
			b.flush(ctx, false)
		case <-b.flushChan:
			b.flush(ctx, false)
		case <-drainTicker.C:
			b.drainFailoverQueue(ctx)
		}
	}
}

// Wait waits for the buffer to finish its final flush.
func (b *SliceBuffer) Wait() {
	<-b.doneChan
}

// Flush emits every ready slice; with force set every open slice is emitted.
func (b *SliceBuffer) Flush(ctx context.Context, force bool) {
	b.flush(ctx, force)
}

// ready reports whether s can no longer receive events at the given cutoff.
// Must be called with b.mu held.
func (b *SliceBuffer) ready(s *slice, cutoff time.Time) bool {
	return s.id != b.SliceID(cutoff) && !s.latest.After(cutoff)
}

func (b *SliceBuffer) take(force bool) []*record.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.cfg.SliceWait)
	taken := b.full
	b.full = nil
	for id, s := range b.slices {
		if force || b.ready(s, cutoff) {
			taken = append(taken, s)
			delete(b.slices, id)
		}
	}

	batches := make([]*record.Batch, 0, len(taken))
	for _, s := range taken {
		b.pending -= len(s.events)
		batches = append(batches, &record.Batch{ID: s.id, Events: s.events})
	}
	b.updateGauges()

	sort.SliceStable(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	return batches
}

// flush hands ready slices to the emitter, at most b.concurrency at a time.
// Batches sharing a slice id are emitted one after another in a single
// task, so each sees the keys written by the previous one.
func (b *SliceBuffer) flush(ctx context.Context, force bool) {
	batches := b.take(force)
	if len(batches) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, group := range groupByID(batches) {
		g.Go(func() error {
			emitConcurrentWorkers.Inc()
			defer emitConcurrentWorkers.Dec()
			for _, batch := range group {
				b.emitBatch(ctx, batch)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// groupByID splits batches sorted by id into runs of equal id.
func groupByID(batches []*record.Batch) [][]*record.Batch {
	var groups [][]*record.Batch
	start := 0
	for i := 1; i <= len(batches); i++ {
		if i == len(batches) || batches[i].ID != batches[start].ID {
			groups = append(groups, batches[start:i])
			start = i
		}
	}
	return groups
}

func (b *SliceBuffer) emitBatch(ctx context.Context, batch *record.Batch) {
	err := b.emitter.Emit(ctx, batch)
	if err == nil {
		return
	}

	if b.failoverQueue == nil {
		batchesDroppedTotal.Inc()
		b.logger.Error("emit failed, batch dropped", logging.F(
			"error", err.Error(),
			"batch_id", batch.ID,
			"records", batch.Len(),
		))
		return
	}

	if qErr := b.failoverQueue.Push(batch); qErr != nil {
		batchesDroppedTotal.Inc()
		b.logger.Error("CRITICAL: emit failed and failover queue push failed, data lost", logging.F(
			"error", err.Error(),
			"queue_error", qErr.Error(),
			"batch_id", batch.ID,
			"records", batch.Len(),
		))
		return
	}
	failoverQueuePushTotal.Inc()
	b.logger.Warn("emit failed, batch pushed to failover queue", logging.F(
		"error", err.Error(),
		"batch_id", batch.ID,
		"records", batch.Len(),
		"queue_size", b.failoverQueue.Len(),
	))
}

// drainFailoverQueue pops batches from the failover queue and re-emits them.
// Up to 10 batches are processed per tick. A failed batch is pushed back.
func (b *SliceBuffer) drainFailoverQueue(ctx context.Context) {
	if b.failoverQueue == nil || b.failoverQueue.Len() == 0 {
		return
	}

	const maxDrainPerTick = 10
	for i := 0; i < maxDrainPerTick; i++ {
		batch := b.failoverQueue.Pop()
		if batch == nil {
			return
		}

		if err := b.emitter.Emit(ctx, batch); err != nil {
			failoverQueueDrainErrorsTotal.Inc()
			if pushErr := b.failoverQueue.Push(batch); pushErr != nil {
				batchesDroppedTotal.Inc()
				b.logger.Error("failover drain: re-push failed, data lost", logging.F(
					"error", err.Error(),
					"push_error", pushErr.Error(),
					"batch_id", batch.ID,
				))
			}
			return // Stop draining on first failure to avoid hammering a down store
		}
		failoverQueueDrainTotal.Inc()
	}
}

// Must be called with b.mu held.
func (b *SliceBuffer) updateGauges() {
	bufferedRecords.Set(float64(b.pending))
	bufferedSlices.Set(float64(len(b.slices)))
}
