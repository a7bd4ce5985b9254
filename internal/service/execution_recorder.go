package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
)

// ExecutionRecorder appends activity records asynchronously so the
// execution hot path never blocks on the database. Records flow
// through a bounded channel into a background batcher; a small
// in-memory ring keeps the most recent records for quick reads.
type ExecutionRecorder struct {
	store         event.Store
	records       chan event.Record
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	sendTimeout   time.Duration
	dropCount     atomic.Int64

	mu        sync.Mutex
	recent    []event.Record
	recentCap int
}

// RecorderOption configures an ExecutionRecorder.
type RecorderOption func(*ExecutionRecorder)

// WithRecorderBufferSize sets the channel buffer size.
func WithRecorderBufferSize(size int) RecorderOption {
	return func(r *ExecutionRecorder) {
		r.records = make(chan event.Record, size)
	}
}

// WithRecorderBatchSize sets how many records are written per batch.
func WithRecorderBatchSize(size int) RecorderOption {
	return func(r *ExecutionRecorder) {
		r.batchSize = size
	}
}

// WithRecorderFlushInterval sets how often a partial batch is flushed.
func WithRecorderFlushInterval(interval time.Duration) RecorderOption {
	return func(r *ExecutionRecorder) {
		r.flushInterval = interval
	}
}

// WithRecorderSendTimeout sets how long Record blocks when the buffer
// is full before dropping. Zero drops immediately.
func WithRecorderSendTimeout(timeout time.Duration) RecorderOption {
	return func(r *ExecutionRecorder) {
		r.sendTimeout = timeout
	}
}

// WithRecorderRecentCapacity sets how many records the in-memory ring
// retains.
func WithRecorderRecentCapacity(n int) RecorderOption {
	return func(r *ExecutionRecorder) {
		r.recentCap = n
	}
}

// NewExecutionRecorder creates a recorder writing to store.
func NewExecutionRecorder(store event.Store, logger *slog.Logger, opts ...RecorderOption) *ExecutionRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ExecutionRecorder{
		store:         store,
		records:       make(chan event.Record, 1000),
		done:          make(chan struct{}),
		logger:        logger,
		batchSize:     64,
		flushInterval: time.Second,
		sendTimeout:   100 * time.Millisecond,
		recentCap:     256,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the background batcher.
func (r *ExecutionRecorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.worker(ctx)
}

// Stop flushes pending records and waits for the batcher to exit.
func (r *ExecutionRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// Emit records one event with the current timestamp.
func (r *ExecutionRecorder) Emit(kind, subject, detail string) {
	r.Record(event.Record{Kind: kind, Subject: subject, Detail: detail})
}

// Record queues a record for persistence. When the buffer is full it
// blocks up to the send timeout, then drops the record and counts it.
func (r *ExecutionRecorder) Record(rec event.Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.remember(rec)

	select {
	case <-r.done:
		r.recordDrop(rec)
		return
	default:
	}

	select {
	case r.records <- rec:
		return
	default:
	}

	if r.sendTimeout <= 0 {
		r.recordDrop(rec)
		return
	}

	select {
	case r.records <- rec:
	case <-r.done:
		r.recordDrop(rec)
	case <-time.After(r.sendTimeout):
		r.recordDrop(rec)
	}
}

// Recent returns the newest records from the in-memory ring, newest
// first, capped at limit (0 = all retained).
func (r *ExecutionRecorder) Recent(limit int) []event.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]event.Record, n)
	for i := 0; i < n; i++ {
		out[i] = r.recent[len(r.recent)-1-i]
	}
	return out
}

// DroppedRecords returns how many records were dropped under pressure.
func (r *ExecutionRecorder) DroppedRecords() int64 {
	return r.dropCount.Load()
}

// ChannelDepth returns how many records are queued for persistence.
func (r *ExecutionRecorder) ChannelDepth() int {
	return len(r.records)
}

// ChannelCapacity returns the record buffer capacity.
func (r *ExecutionRecorder) ChannelCapacity() int {
	return cap(r.records)
}

func (r *ExecutionRecorder) remember(rec event.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, rec)
	if len(r.recent) > r.recentCap {
		r.recent = r.recent[len(r.recent)-r.recentCap:]
	}
}

func (r *ExecutionRecorder) recordDrop(rec event.Record) {
	drops := r.dropCount.Add(1)
	r.logger.Warn("activity record dropped",
		"kind", rec.Kind,
		"subject", rec.Subject,
		"total_drops", drops,
	)
}

// worker batches and flushes records until Stop or context cancel.
func (r *ExecutionRecorder) worker(ctx context.Context) {
	defer r.wg.Done()

	batch := make([]event.Record, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-r.done:
			r.drainAndFlush(batch)
			return

		case <-ctx.Done():
			r.drainAndFlush(batch)
			return
		}
	}
}

// drainAndFlush empties the buffer and writes everything with a
// bounded deadline, used on shutdown.
func (r *ExecutionRecorder) drainAndFlush(batch []event.Record) {
	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
			continue
		default:
		}
		break
	}
	if len(batch) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.flush(flushCtx, batch)
}

// flush writes one batch. Errors are logged, never propagated:
// recording must not fail the operation being recorded.
func (r *ExecutionRecorder) flush(ctx context.Context, batch []event.Record) {
	if err := r.store.Append(ctx, batch...); err != nil {
		r.logger.Error("failed to write activity batch",
			"error", err,
			"count", len(batch),
		)
	}
}
