// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jtciou26/notestream/internal/logging"
	"github.com/jtciou26/notestream/internal/metrics"
)

// AppenderStats holds runtime statistics for monitoring.
type AppenderStats struct {
	EventsReceived int64         // Total events received via Append
	EventsFlushed  int64         // Total events durably written to the store
	EventsRejected int64         // Total rows rejected by store validation
	FlushCount     int64         // Number of flush operations
	ErrorCount     int64         // Number of failed flushes
	LastFlushTime  time.Time     // Time of last successful flush
	LastError      string        // Last error message
	BufferSize     int           // Current buffer size
	AvgFlushTime   time.Duration // Average flush duration
}

// Appender buffers normalized events and writes them to the store in
// batches, either when the batch size is reached or the flush interval
// elapses.
//
// Failure handling follows the sink contract: a transport failure
// restores the unflushed events to the buffer for retry, while per-row
// validation rejections are counted and logged but never resubmitted.
//
// Flush operations are serialized via flushMu so timer-based and
// batch-triggered flushes cannot interleave and reorder inserts.
type Appender struct {
	store  EventStore
	config AppenderConfig

	mu     sync.Mutex
	buffer []*Event

	flushMu sync.Mutex

	closed   atomic.Bool
	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	flushWg  sync.WaitGroup // Tracks in-flight async flushes for graceful shutdown

	eventsReceived atomic.Int64
	eventsFlushed  atomic.Int64
	eventsRejected atomic.Int64
	flushCount     atomic.Int64
	errorCount     atomic.Int64
	lastFlushTime  atomic.Value // stores time.Time
	lastError      atomic.Value // stores string
	totalFlushTime atomic.Int64 // nanoseconds for averaging
}

// NewAppender creates an Appender writing to the given store.
func NewAppender(store EventStore, cfg AppenderConfig) (*Appender, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}

	a := &Appender{
		store:    store,
		config:   cfg,
		buffer:   make([]*Event, 0, cfg.BatchSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	a.lastFlushTime.Store(time.Time{})
	a.lastError.Store("")

	return a, nil
}

// Start begins the periodic flush timer. Safe to call multiple times.
func (a *Appender) Start(ctx context.Context) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}
	if a.started.Swap(true) {
		return nil // Already started
	}

	go a.flushLoop(ctx)
	return nil
}

// Append adds an event to the buffer. If the buffer reaches batch size,
// an async flush is triggered.
func (a *Appender) Append(ctx context.Context, event *Event) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, event)
	bufferSize := len(a.buffer)
	received := a.eventsReceived.Add(1)
	needsFlush := bufferSize >= a.config.BatchSize
	a.mu.Unlock()

	logging.Trace().
		Int64("received", received).
		Str("event_id", event.EventID).
		Str("event_name", event.EventName).
		Int("buffer_size", bufferSize).
		Msg("Event buffered")

	if needsFlush {
		a.flushWg.Add(1)
		go func() {
			defer a.flushWg.Done()
			// The caller's context is tied to the message handler and
			// may already be canceled when this goroutine runs; the
			// flush must complete regardless, so it gets a detached
			// context with its own timeout.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.doFlush(flushCtx)
		}()
	}

	return nil
}

// Flush flushes all buffered events, waiting for in-flight async flushes
// to complete first.
func (a *Appender) Flush(ctx context.Context) error {
	a.flushWg.Wait()
	return a.doFlushSync(ctx)
}

// Close stops the appender and flushes any pending events. Safe to call
// multiple times.
func (a *Appender) Close() error {
	if a.closed.Swap(true) {
		return nil // Already closed
	}

	if a.started.Load() {
		close(a.stopChan)
		<-a.doneChan
	}

	a.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.doFlushSync(ctx)
}

// Stats returns current runtime statistics.
func (a *Appender) Stats() AppenderStats {
	a.mu.Lock()
	bufferSize := len(a.buffer)
	a.mu.Unlock()

	var avgFlushTime time.Duration
	if count := a.flushCount.Load(); count > 0 {
		avgFlushTime = time.Duration(a.totalFlushTime.Load() / count)
	}

	var lastFlushTime time.Time
	if t, ok := a.lastFlushTime.Load().(time.Time); ok {
		lastFlushTime = t
	}
	var lastError string
	if e, ok := a.lastError.Load().(string); ok {
		lastError = e
	}

	return AppenderStats{
		EventsReceived: a.eventsReceived.Load(),
		EventsFlushed:  a.eventsFlushed.Load(),
		EventsRejected: a.eventsRejected.Load(),
		FlushCount:     a.flushCount.Load(),
		ErrorCount:     a.errorCount.Load(),
		LastFlushTime:  lastFlushTime,
		LastError:      lastError,
		BufferSize:     bufferSize,
		AvgFlushTime:   avgFlushTime,
	}
}

// flushLoop runs the periodic flush timer. The parent context only
// controls shutdown; each flush gets a fresh context with its own
// timeout so a slow store cannot inherit a stale deadline.
func (a *Appender) flushLoop(ctx context.Context) {
	defer close(a.doneChan)

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.doFlush(flushCtx)
			cancel()
		}
	}
}

// doFlush performs an async flush; errors are tracked in stats and logged.
func (a *Appender) doFlush(ctx context.Context) {
	if err := a.doFlushSync(ctx); err != nil {
		a.lastError.Store(err.Error())
		logging.Debug().Err(err).Msg("Async flush error")
	}
}

// doFlushSync flushes the buffer in chunks of BatchSize so one oversized
// buffer cannot exhaust store memory. On transport failure the unflushed
// remainder is restored to the buffer for retry; rows already written
// stay written, which is safe because insertion is idempotent by
// event_id.
func (a *Appender) doFlushSync(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	events := a.buffer
	a.buffer = make([]*Event, 0, a.config.BatchSize)
	a.mu.Unlock()

	logging.Debug().
		Int("count", len(events)).
		Int("batch_size", a.config.BatchSize).
		Msg("Flushing events to store")

	totalFlushed := 0
	totalStart := time.Now()

	for start := 0; start < len(events); start += a.config.BatchSize {
		end := start + a.config.BatchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		chunkStart := time.Now()
		result, err := a.store.InsertEventsBatch(ctx, chunk)
		chunkElapsed := time.Since(chunkStart)

		if err != nil {
			// Transport failure: restore only the unflushed remainder.
			unflushed := events[start:]
			a.mu.Lock()
			a.buffer = append(unflushed, a.buffer...)
			a.mu.Unlock()

			a.errorCount.Add(1)
			a.lastError.Store(err.Error())
			metrics.RecordTransportFailure()
			if totalFlushed > 0 {
				a.eventsFlushed.Add(int64(totalFlushed))
				a.flushCount.Add(1)
			}
			logging.Warn().
				Err(err).
				Int("unflushed", len(unflushed)).
				Msg("Chunk insert failed, restoring unflushed events")
			return NewRetryableError(fmt.Sprintf("flush events (chunk %d-%d)", start, end), err)
		}

		// Rejected rows can never succeed on resubmission; surface them
		// for alerting and move on.
		if len(result.Rejected) > 0 {
			a.eventsRejected.Add(int64(len(result.Rejected)))
			for _, rowErr := range result.Rejected {
				logging.Error().
					Int("row_index", start+rowErr.RowIndex).
					Str("reason", rowErr.Reason).
					Str("event_id", chunk[rowErr.RowIndex].EventID).
					Msg("Store rejected event row")
			}
		}

		totalFlushed += result.Inserted + result.Duplicates
		metrics.RecordBatchFlush(chunkElapsed, len(chunk))
		metrics.RecordSinkOutcome(result.Inserted, result.Duplicates, len(result.Rejected))
	}

	totalElapsed := time.Since(totalStart)
	logging.Debug().
		Int("count", totalFlushed).
		Dur("elapsed", totalElapsed).
		Msg("Flushed all events")

	a.eventsFlushed.Add(int64(totalFlushed))
	a.flushCount.Add(1)
	a.totalFlushTime.Add(totalElapsed.Nanoseconds())
	a.lastFlushTime.Store(time.Now())
	a.lastError.Store("")

	return nil
}
