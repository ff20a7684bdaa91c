package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
	"github.com/trevor/mailman3/queue"
)

// Runner drains one queue through an ordered handler chain.
//
// The loop wakes on a ticker, on an explicit notification (so enqueuers can
// trigger immediate processing), and stops on context cancellation or Stop.
// Entries are processed one at a time in claim order. A handler failure or
// panic shunts the entry and the loop continues with the next one; one
// poisonous message never wedges the queue.
type Runner struct {
	queue    *queue.Queue
	shunt    *queue.Queue
	chain    []Handler
	interval time.Duration

	notifyCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewRunner creates a runner draining q through the given chain. Failed
// entries land in shunt.
func NewRunner(q, shunt *queue.Queue, chain []Handler, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		queue:    q,
		shunt:    shunt,
		chain:    chain,
		interval: interval,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start begins background processing. Safe to call more than once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
	logger.Info("Pipeline: runner started", "queue", r.queue.Name(), "interval", r.interval)
}

// Stop shuts the runner down and waits for the in-flight entry to finish.
// Safe to call more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	logger.Info("Pipeline: runner stopped", "queue", r.queue.Name())
}

// NotifyQueued wakes the runner without waiting for the next tick.
// Non-blocking; a pending notification is enough.
func (r *Runner) NotifyQueued() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Drain whatever survived the last shutdown.
	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pipeline: runner stopped by context", "queue", r.queue.Name())
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.drain(ctx)
		case <-r.notifyCh:
			r.drain(ctx)
		}
	}
}

// drain claims and processes entries until the queue is empty or the
// context is cancelled.
func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		entry, msg, err := r.queue.Claim()
		if err != nil {
			logger.Error("Pipeline: failed to claim entry", "queue", r.queue.Name(), "error", err)
			return
		}
		if entry == nil {
			return
		}
		r.processEntry(ctx, entry, msg)
	}
}

// processEntry runs one entry through the chain.
func (r *Runner) processEntry(ctx context.Context, entry *queue.Entry, msg *message.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Pipeline: handler panicked",
				"queue", r.queue.Name(), "entry", entry.ID, "panic", rec)
			r.shuntEntry(entry, msg, "", fmt.Sprintf("panic: %v", rec))
		}
	}()

	for _, h := range r.chain {
		err := h.Process(ctx, entry, msg)
		switch {
		case err == nil:
			metrics.HandlerResults.WithLabelValues(r.queue.Name(), h.Name(), "success").Inc()
		case errors.Is(err, ErrRejected):
			metrics.HandlerResults.WithLabelValues(r.queue.Name(), h.Name(), "rejected").Inc()
			logger.Info("Pipeline: entry rejected",
				"queue", r.queue.Name(), "entry", entry.ID, "handler", h.Name())
			if err := r.queue.Finish(entry.ID); err != nil {
				logger.Error("Pipeline: failed to discard rejected entry",
					"queue", r.queue.Name(), "entry", entry.ID, "error", err)
			}
			return
		default:
			metrics.HandlerResults.WithLabelValues(r.queue.Name(), h.Name(), "error").Inc()
			logger.Error("Pipeline: handler failed",
				"queue", r.queue.Name(), "entry", entry.ID, "handler", h.Name(), "error", err)
			r.shuntEntry(entry, msg, h.Name(), err.Error())
			return
		}
	}

	if err := r.queue.Finish(entry.ID); err != nil {
		logger.Error("Pipeline: failed to finish entry",
			"queue", r.queue.Name(), "entry", entry.ID, "error", err)
	}
}

func (r *Runner) shuntEntry(entry *queue.Entry, msg *message.Message, handler, lastError string) {
	metrics.EntriesShunted.WithLabelValues(r.queue.Name(), handler).Inc()
	if err := r.queue.MoveTo(r.shunt, entry, msg, lastError); err != nil {
		logger.Error("Pipeline: failed to shunt entry",
			"queue", r.queue.Name(), "entry", entry.ID, "error", err)
	}
}
