package zk

import "fmt"

// request is a request record (spec.md §3): the pieces the session
// engine needs to serialize it, the reply slot, and the optional pending
// watch attached to it. body is the already-encoded sub-record payload
// (everything after the request header), built by the facade before
// submission since it never depends on the xid the engine assigns.
type request struct {
	opCode    OpCode
	path      string // absolute, translated path, for logging/diagnostics
	body      []byte
	decode    func(r *reader) (any, error)
	replyCh   chan requestResult
	watchSub  *watchSub
	watchKind WatchMode
	watchPath string // absolute path the watch was registered against

	xid int32 // assigned by the engine at send time
}

// requestResult is what a pending request's reply slot receives exactly
// once: either a decoded payload or an error (spec.md §3 "reply slot").
type requestResult struct {
	zxid    int64
	payload any
	err     error
}

// pendingQueue is the ordered queue of in-flight requests awaiting a
// reply, keyed implicitly by FIFO position (spec.md §4.4 "Response
// correlation": ZooKeeper guarantees FIFO replies per session, so the
// head of this queue must match the xid of the next inbound frame).
// It is touched only by the session engine goroutine; no locking needed
// per spec.md §5's single-owner model.
type pendingQueue struct {
	items []*request
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{items: make([]*request, 0, 16)}
}

func (q *pendingQueue) push(r *request) {
	q.items = append(q.items, r)
}

func (q *pendingQueue) len() int { return len(q.items) }

// matchHead pops the head of the queue and reports a ProtocolError if its
// xid does not match, per spec.md §4.4 "Mismatch is fatal ProtocolError".
func (q *pendingQueue) matchHead(xid int32) (*request, error) {
	if len(q.items) == 0 {
		return nil, fmt.Errorf("%w: reply xid %d with no pending request", ErrProtocolError, xid)
	}
	head := q.items[0]
	if head.xid != xid {
		return nil, fmt.Errorf("%w: reply xid %d does not match pending head xid %d", ErrProtocolError, xid, head.xid)
	}
	q.items = q.items[1:]
	return head, nil
}

// completeAll drains every pending request with err, used on terminal
// session transitions (spec.md §4.5 "Terminal session transitions drain
// all pending slots").
func (q *pendingQueue) completeAll(err error) {
	for _, r := range q.items {
		completeRequest(r, requestResult{err: err})
	}
	q.items = nil
}

// completeRequest delivers a result to a request's reply slot. Dropping
// the caller's future/goroutine before this happens is not observed by
// the engine (spec.md §5 "Cancellation"): the buffered channel absorbs
// the send either way, so this never blocks.
func completeRequest(r *request, result requestResult) {
	select {
	case r.replyCh <- result:
	default:
		// replyCh is always created with capacity 1 by the facade, so
		// this branch only triggers if something already completed this
		// request — a client-internal invariant violation.
	}
}
