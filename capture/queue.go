package capture

import (
	"context"
	"io"
	"sync"

	"github.com/RyanBlaney/sonido-density/logging"
)

// Sink is the producer side of a Queue.
type Sink interface {
	// Put enqueues without blocking. It returns false once the queue is full
	// or closed; the producer must stop.
	Put(block []float64) bool
	// PutWait blocks while the queue is at its soft limit. Sources that can
	// wait (files, pipes, simulations) use it instead of Put.
	PutWait(ctx context.Context, block []float64) error
}

// Queue hands sample blocks from one producer goroutine to one worker.
// The soft limit doubles each time it is exceeded, up to the hard limit;
// a put beyond the hard limit fails the capture.
type Queue struct {
	logger  logging.Logger
	metrics *Metrics

	mu       sync.Mutex
	items    [][]float64
	softMax  int
	hardMax  int
	closed   bool
	overflow bool

	ready chan struct{}
	space chan struct{}
}

// NewQueue creates a queue. metrics may be nil.
func NewQueue(softMax, hardMax int, logger logging.Logger, metrics *Metrics) *Queue {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	softMax = max(softMax, 1)
	hardMax = max(hardMax, softMax)
	metrics.setQueue(0, softMax)
	return &Queue{
		logger:  logger,
		metrics: metrics,
		softMax: softMax,
		hardMax: hardMax,
		ready:   make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Put takes ownership of block.
func (q *Queue) Put(block []float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.items) >= q.hardMax {
		q.overflow = true
		q.closed = true
		q.logger.Error(ErrQueueFull, "Queue overflow", logging.Fields{"hard_max": q.hardMax})
		signal(q.ready)
		return false
	}
	if len(q.items) >= q.softMax {
		q.softMax = min(2*q.softMax, q.hardMax)
		q.logger.Warn("Queue soft limit raised", logging.Fields{
			"soft_max": q.softMax,
			"hard_max": q.hardMax,
		})
	}
	q.items = append(q.items, block)
	q.metrics.setQueue(len(q.items), q.softMax)
	signal(q.ready)
	return true
}

// PutWait takes ownership of block.
func (q *Queue) PutWait(ctx context.Context, block []float64) error {
	for {
		q.mu.Lock()
		switch {
		case q.overflow:
			q.mu.Unlock()
			return ErrQueueFull
		case q.closed:
			q.mu.Unlock()
			return ErrQueueClosed
		case len(q.items) < q.softMax:
			q.items = append(q.items, block)
			q.metrics.setQueue(len(q.items), q.softMax)
			q.mu.Unlock()
			signal(q.ready)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.space:
		}
	}
}

// Get blocks until a block is available. It returns io.EOF once the queue
// is closed and drained, and ErrQueueFull after an overflow.
func (q *Queue) Get(ctx context.Context) ([]float64, error) {
	for {
		q.mu.Lock()
		switch {
		case q.overflow:
			q.mu.Unlock()
			return nil, ErrQueueFull
		case len(q.items) > 0:
			block := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.metrics.setQueue(len(q.items), q.softMax)
			q.mu.Unlock()
			signal(q.space)
			return block, nil
		case q.closed:
			q.mu.Unlock()
			return nil, io.EOF
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Close ends the stream. Blocks already queued can still be taken.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.ready)
	signal(q.space)
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SoftMax returns the current soft limit.
func (q *Queue) SoftMax() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.softMax
}

// Overflowed reports whether a put hit the hard limit.
func (q *Queue) Overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}
