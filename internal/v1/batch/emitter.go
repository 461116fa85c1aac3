// Package batch coalesces per-client zone traffic into batchMessage frames so
// crowded zones cost one WebSocket write per tick instead of one per event.
package batch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
)

const (
	// DefaultFlushInterval bounds how stale a queued event may get.
	DefaultFlushInterval = 100 * time.Millisecond
	// DefaultMaxSize flushes early when a tick accumulates this many events.
	DefaultMaxSize = 20

	queueSize = 256
)

// Emitter buffers sub-messages for one client and flushes them as a single
// batchMessage on a fixed tick, or immediately when the buffer fills. One
// goroutine owns the buffer, so ordering is exactly arrival order.
type Emitter struct {
	emit     func(*messages.BatchMessage)
	interval time.Duration
	maxSize  int

	subs      chan messages.BatchSub
	done      chan struct{}
	closeOnce sync.Once
}

// NewEmitter starts the flush loop. emit must not block for long; it runs on
// the emitter's goroutine.
func NewEmitter(interval time.Duration, maxSize int, emit func(*messages.BatchMessage)) *Emitter {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	e := &Emitter{
		emit:     emit,
		interval: interval,
		maxSize:  maxSize,
		subs:     make(chan messages.BatchSub, queueSize),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// Add queues one sub-message. When the queue is saturated the message is
// dropped; a client that far behind is about to be disconnected anyway.
func (e *Emitter) Add(sub messages.BatchSub) {
	select {
	case <-e.done:
	case e.subs <- sub:
		metrics.BatchedMessages.Inc()
	default:
		logging.GetLogger().Warn("Batch queue saturated, dropping message",
			zap.String("tag", sub.Tag()),
		)
	}
}

// Close stops the flush loop. Anything still queued is dropped; the client is
// gone and there is nowhere to send it.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

func (e *Emitter) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var pending []messages.BatchSub
	for {
		select {
		case sub := <-e.subs:
			pending = append(pending, sub)
			if len(pending) >= e.maxSize {
				e.flush(pending, "size")
				pending = nil
			}
		case <-ticker.C:
			if len(pending) > 0 {
				e.flush(pending, "interval")
				pending = nil
			}
		case <-e.done:
			return
		}
	}
}

func (e *Emitter) flush(pending []messages.BatchSub, reason string) {
	metrics.BatchFlushes.WithLabelValues(reason).Inc()
	e.emit(&messages.BatchMessage{Payload: pending})
}
