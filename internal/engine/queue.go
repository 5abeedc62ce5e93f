package engine

import (
	"sync"

	"github.com/iml130/mf-plugin/internal/ir"
)

// signalKind distinguishes external inputs.
type signalKind int

const (
	// signalSetValue writes one field of a struct instance.
	signalSetValue signalKind = iota + 1
	// signalStepDone acknowledges physical completion of an active step.
	signalStepDone
	// signalCancel retracts one task run.
	signalCancel
	// signalStop retracts every task run.
	signalStop
)

// signal is an external input waiting for the next tick.
type signal struct {
	kind     signalKind
	instance string // program name, resolved at post time
	field    string
	value    ir.Value
	target   string // step run or task run id
	source   string // "external", "timer", "agent"
}

// signalQueue is a thread-safe FIFO of signals.
//
// Producers (SetValue callers, agent adapters, the cron schedule) may run
// on any goroutine; the tick goroutine drains the queue in one batch at
// the start of each tick so every poll of that tick sees the same state.
//
// The signal channel (buffer 1) coalesces wake-ups for the Run loop.
type signalQueue struct {
	mu      sync.Mutex
	pending []signal
	closed  bool
	wake    chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{
		pending: make([]signal, 0, 16),
		wake:    make(chan struct{}, 1),
	}
}

// Push appends a signal. Returns false once the queue is closed.
func (q *signalQueue) Push(s signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, s)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending signal in arrival order.
func (q *signalQueue) Drain() []signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = make([]signal, 0, cap(out))
	return out
}

// Wait returns a channel that receives when signals may be available.
func (q *signalQueue) Wait() <-chan struct{} {
	return q.wake
}

// Len returns the number of pending signals.
func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further pushes and wakes any waiter.
func (q *signalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}
