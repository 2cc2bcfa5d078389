package logging

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AsyncWriter decouples record persistence from the inspection path. Submit
// never blocks: when the queue is full the record is dropped and counted.
type AsyncWriter struct {
	queue   chan AttackRecord
	writers []RecordWriter
	logger  *zap.Logger
	dropped atomic.Uint64
	onDrop  func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncWriter(size int, logger *zap.Logger, writers ...RecordWriter) *AsyncWriter {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AsyncWriter{
		queue:   make(chan AttackRecord, size),
		writers: writers,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// OnDrop registers a callback invoked for every dropped record. It must be
// set before the first Submit.
func (w *AsyncWriter) OnDrop(fn func()) {
	w.onDrop = fn
}

func (w *AsyncWriter) Submit(record AttackRecord) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop()
		return false
	}
	select {
	case w.queue <- record:
		return true
	default:
		w.drop()
		return false
	}
}

func (w *AsyncWriter) drop() {
	n := w.dropped.Add(1)
	if w.onDrop != nil {
		w.onDrop()
	}
	if n == 1 || n%100 == 0 {
		w.logger.Warn("attack log queue full, dropping records", zap.Uint64("dropped", n), zap.Int("queue_cap", cap(w.queue)))
	}
}

func (w *AsyncWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for record := range w.queue {
		for _, writer := range w.writers {
			if err := writer.Write(record); err != nil {
				w.logger.Error("write attack record", zap.String("id", record.ID), zap.Error(err))
			}
		}
	}
}
