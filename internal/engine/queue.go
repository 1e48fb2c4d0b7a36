package engine

import (
	"sync"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/graph"
)

// requestKind distinguishes the operations the session serializes.
type requestKind int

const (
	reqAddNode requestKind = iota + 1
	reqRemoveNode
	reqSetInput
	reqSetExport
	reqCompile
	reqUndo
	reqRedo
	reqInspect
	reqRebuild
)

// request is one queued operation plus the channel its caller blocks on.
// The reply channel is buffered so the Run loop never blocks on a caller.
type request struct {
	kind     requestKind
	id       graph.NodeID // target node; preset id for AddNodeWithID
	nodeType string
	pos      graph.Position
	port     int
	input    graph.Input
	reply    chan reply
}

// reply carries the result of one request back to its caller. Only the
// fields the request kind produces are set.
type reply struct {
	id     graph.NodeID // AddNode: the minted id
	prev   graph.Input  // SetInput: the displaced input
	result *compiler.Result
	report Report
	err    error
}

// requestQueue is the FIFO feeding the session's single-writer Run loop.
//
// It is unbounded: a caller never blocks on Enqueue while the loop is
// busy compiling, only on its own reply channel. The loop waits on the
// signal channel instead of polling, which lets it select against
// context cancellation at the same time.
type requestQueue struct {
	mu       sync.Mutex
	requests []request
	closed   bool
	signal   chan struct{} // buffered size 1; coalesces wakeups
}

// newRequestQueue creates an empty request queue.
func newRequestQueue() *requestQueue {
	return &requestQueue{
		requests: make([]request, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a request. Safe from any goroutine; returns false once
// the queue is closed.
func (q *requestQueue) Enqueue(r request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking send; a pending signal already covers this request.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the front request without blocking. The second return
// is false when the queue is empty.
func (q *requestQueue) TryDequeue() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return request{}, false
	}

	r := q.requests[0]

	// Nil out the slot so the backing array does not retain the reply
	// channel and input values until reallocation.
	q.requests[0] = request{}

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Wait returns the channel that fires when requests may be available,
// meant for a select alongside ctx.Done().
//
// A signal can outlive the request that produced it, so a fired Wait with
// an empty queue means "look again", not "shut down"; check Closed().
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Closed reports whether Close was called.
func (q *requestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes every waiter by closing the
// signal channel. Requests already queued stay dequeuable.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
