// Package audit persists the platform audit trail without putting a
// database write on the request path. Entries are queued in memory and
// batch-inserted by a background worker; under sustained overload the
// queue sheds entries rather than stalling API calls.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dbfleet/dbfleet/internal/core/port"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultQueueCapacity = 1000

	flushTimeout = 10 * time.Second
)

// Options tunes the batching behaviour. Zero values take the defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
	return o
}

// BatchLogger implements port.AuditLogger. A batch is written when it
// reaches BatchSize or when FlushInterval elapses with entries pending,
// whichever comes first.
type BatchLogger struct {
	repo    port.AuditRepository
	queue   chan port.AuditEntry
	done    chan struct{}
	opts    Options
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewBatchLogger(repo port.AuditRepository, logger *slog.Logger, opts ...Options) *BatchLogger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()

	l := &BatchLogger{
		repo:   repo,
		queue:  make(chan port.AuditEntry, o.QueueCapacity),
		done:   make(chan struct{}),
		opts:   o,
		logger: logger,
	}
	go l.run()
	return l
}

// Log enqueues an entry without blocking. When the queue is full the
// entry is counted as dropped and the caller proceeds unimpeded.
func (l *BatchLogger) Log(entry port.AuditEntry) {
	select {
	case l.queue <- entry:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("audit queue full, shedding entries",
				slog.Int64("dropped_total", n),
				slog.String("action", entry.Action),
			)
		}
	}
}

// Dropped reports how many entries were shed since startup.
func (l *BatchLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains the queue, flushes the final batch and stops the worker.
func (l *BatchLogger) Close() {
	close(l.queue)
	<-l.done
}

func (l *BatchLogger) run() {
	defer close(l.done)

	batch := make([]port.AuditEntry, 0, l.opts.BatchSize)
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.queue:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= l.opts.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			l.flush(batch)
			batch = batch[:0]
		}
	}
}

func (l *BatchLogger) flush(batch []port.AuditEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := l.repo.InsertBatch(ctx, batch); err != nil {
		l.logger.Error("audit batch insert failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
