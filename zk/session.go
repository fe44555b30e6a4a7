package zk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// frameOrErr is what the reader goroutine hands back to the main engine
// loop: either a raw frame payload or the error that ended the read loop
// (spec.md §5 "socket readable" selection arm).
type frameOrErr struct {
	payload []byte
	err     error
}

// engine is the session actor described by spec.md §4.5 and §5: a single
// goroutine that owns the socket and every piece of session-scoped
// mutable state. Every other type in this package either is the engine,
// or talks to it exclusively through inbound/closeReq/ctx.
type engine struct {
	cfg       config
	endpoints []endpoint
	log       *zap.Logger

	inbound chan *request   // application goroutines -> engine (spec.md §4.4)
	closeReq chan chan error // graceful Close() request, reply carries the result

	watches *WatchRegistry
	stateW  *StateWatcher

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}

	// sessionMu guards the fields below, which outward-facing accessors
	// (Client.SessionID, etc.) may read concurrently with the engine
	// goroutine mutating them. The engine is the only writer and takes the
	// lock for its writes (setSession) as well as for reads.
	sessionMu sync.Mutex
	sessionID int64
	passwd    []byte
	timeout   time.Duration

	pending    *pendingQueue
	xidCounter int32

	lastZxid int64

	connectedAddr string

	// pendingCloseReply, when non-nil, is signaled once the in-flight
	// CloseSession request's reply arrives (see handleFrame).
	pendingCloseReply chan error
}

func newEngine(endpoints []endpoint, cfg config) *engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &engine{
		cfg:       cfg,
		endpoints: endpoints,
		log:       cfg.logger,
		inbound:   make(chan *request, 64),
		closeReq:  make(chan chan error, 1),
		stateW:    newStateWatcher(StateDisconnected),
		ctx:       ctx,
		cancel:    cancel,
		exited:    make(chan struct{}),
		pending:   newPendingQueue(),
		xidCounter: 1,
		timeout:   cfg.sessionTimeout,
		sessionID: cfg.resumeID,
		passwd:    cfg.resumePasswd,
	}
	e.watches = NewWatchRegistry(e.triggerInternalError, e.log)
	return e
}

func (e *engine) start() {
	go func() {
		if err := e.supervise(); err != nil {
			e.log.Error("engine supervisor exited with error", zap.Error(err))
		}
	}()
}

// triggerInternalError is the WatchRegistry's overflow callback
// (spec.md §9 "Backpressure"): a persistent watcher that does not drain
// fast enough terminates the whole session.
func (e *engine) triggerInternalError() {
	select {
	case e.inbound <- &request{opCode: -1}: // sentinel, recognized by run()
	case <-e.ctx.Done():
	}
}

func (e *engine) snapshotSession() (id int64, passwd []byte, timeout time.Duration) {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.sessionID, e.passwd, e.timeout
}

func (e *engine) setSession(id int64, passwd []byte, timeout time.Duration) {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	e.sessionID, e.passwd, e.timeout = id, passwd, timeout
}

// run is the engine's top-level loop: connect, then alternate between
// serving a live connection and reconnecting, until a terminal state is
// reached (spec.md §4.5 state machine).
func (e *engine) run() {
	defer close(e.exited)
	defer e.cancel()

	deadline := time.Now().Add(e.timeout)
	first := true
	for {
		connectCtx := e.ctx
		var cancelConnect context.CancelFunc
		if !first {
			// A reconnect attempt must not retry past the session's own
			// deadline: once it's gone, no amount of further backoff can
			// revive the same session, only a fresh one.
			connectCtx, cancelConnect = context.WithDeadline(e.ctx, deadline)
		}
		t, connResp, err := e.connectOnce(connectCtx)
		if cancelConnect != nil {
			cancelConnect()
		}
		if err != nil {
			if e.ctx.Err() != nil {
				// e.ctx itself was cancelled: Close()/abandon() raced a
				// connect attempt.
				e.setState(StateClosed)
				e.pending.completeAll(ErrSessionClosed)
				return
			}
			// e.ctx is still live: connectCtx's own deadline fired, i.e.
			// the session timeout elapsed before a reconnect succeeded.
			e.setState(StateExpired)
			e.pending.completeAll(ErrSessionExpired)
			return
		}
		first = false
		if connResp.SessionID == 0 {
			e.log.Info("session expired: server returned session id 0 on resume")
			e.setState(StateExpired)
			e.pending.completeAll(ErrSessionExpired)
			return
		}
		e.setSession(connResp.SessionID, connResp.Passwd, time.Duration(connResp.Timeout)*time.Millisecond)
		if connResp.ReadOnly {
			e.setState(StateReadOnlyConnected)
		} else {
			e.setState(StateSyncConnected)
		}
		deadline = time.Now().Add(e.currentTimeout())

		exitReason := e.serve(t)
		t.close()

		if exitReason != exitClosed && e.pendingCloseReply != nil {
			// The connection dropped before the CloseSession reply arrived;
			// don't leave the Close() caller blocked forever.
			e.pendingCloseReply <- ErrConnectionLoss
			e.pendingCloseReply = nil
		}

		switch exitReason {
		case exitClosed:
			e.setState(StateClosed)
			return
		case exitAuthFailed:
			e.setState(StateAuthFailed)
			e.pending.completeAll(ErrAuthFailed)
			return
		case exitExpired:
			e.setState(StateExpired)
			e.pending.completeAll(ErrSessionExpired)
			return
		case exitSocketError:
			e.setState(StateDisconnected)
			e.failInFlightMutations()
			if time.Now().After(deadline) {
				e.setState(StateExpired)
				e.pending.completeAll(ErrSessionExpired)
				return
			}
			// loop: reconnect
		}
		if e.ctx.Err() != nil && exitReason != exitClosed {
			return
		}
	}
}

func (e *engine) currentTimeout() time.Duration {
	_, _, t := e.snapshotSession()
	if t <= 0 {
		return e.cfg.sessionTimeout
	}
	return t
}

// failInFlightMutations completes every currently pending request with
// ConnectionLoss: they may or may not have been applied server-side, and
// spec.md §4.5 forbids automatically retrying them.
func (e *engine) failInFlightMutations() {
	e.pending.completeAll(ErrConnectionLoss)
}

func (e *engine) setState(s SessionState) {
	e.stateW.set(s)
	e.watches.BroadcastSessionEvent(s)
}

type dialResult struct {
	t    transport
	resp connectResponse
}

// connectOnce dials and handshakes against the shuffled endpoint list
// under a single backoff schedule (spec.md §4.5 "Connect protocol"): a
// failure at any point, dial or handshake, just moves on to the next
// backoff attempt rather than busy-looping the caller.
func (e *engine) connectOnce(ctx context.Context) (transport, connectResponse, error) {
	dialTimeout := e.cfg.dialTimeout
	if dialTimeout <= 0 {
		dialTimeout = e.currentTimeout() / time.Duration(max(1, len(e.endpoints)))
		if dialTimeout <= 0 {
			dialTimeout = 2 * time.Second
		}
	}

	op := func() (dialResult, error) {
		var lastErr error
		for _, ep := range shuffled(e.endpoints) {
			if ctx.Err() != nil {
				return dialResult{}, backoff.Permanent(ctx.Err())
			}
			t, err := dialTCP(ep, dialTimeout, e.cfg.tlsConfig)
			if err != nil {
				lastErr = err
				continue
			}
			resp, err := e.handshake(t)
			if err != nil {
				t.close()
				lastErr = err
				continue
			}
			e.connectedAddr = t.remoteAddr()
			return dialResult{t: t, resp: resp}, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no endpoints configured")
		}
		return dialResult{}, lastErr
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return nil, connectResponse{}, err
	}
	return res.t, res.resp, nil
}

// handshake sends the ConnectRequest and reads the ConnectResponse on a
// freshly dialed transport. Unlike every other exchange, the connect
// record is sent unframed by a requestHeader (spec.md §4.5).
func (e *engine) handshake(t transport) (connectResponse, error) {
	id, passwd, timeout := e.snapshotSession()
	w := newWriter()
	connectRequest{
		ProtocolVersion: 0,
		LastZxidSeen:    e.lastZxid,
		Timeout:         int32(timeout / time.Millisecond),
		SessionID:       id,
		Passwd:          passwd,
		ReadOnly:        e.cfg.readOnly,
	}.write(w)
	if err := t.writeFrame(w.bytes()); err != nil {
		return connectResponse{}, err
	}
	payload, err := t.readFrame()
	if err != nil {
		return connectResponse{}, err
	}
	return readConnectResponse(newReader(payload))
}

type exitReason int

const (
	exitSocketError exitReason = iota
	exitClosed
	exitExpired
	exitAuthFailed
)

// serve runs the engine's steady-state select loop over one live
// connection: inbound requests, inbound frames, the heartbeat timer, and
// an explicit Close() request (spec.md §5 "progresses by selecting
// over...").
func (e *engine) serve(t transport) exitReason {
	frames := make(chan frameOrErr, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			payload, err := t.readFrame()
			select {
			case frames <- frameOrErr{payload: payload, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	if err := e.resumeWatches(t); err != nil {
		return exitSocketError
	}
	if err := e.reapplyAuth(t); err != nil {
		// A write error here is a transport failure, not the server
		// rejecting the credential — real AuthFailed only ever arrives as
		// a reply on xidAuth, handled in handleFrame. Treat it like any
		// other socket error so the engine reconnects instead of giving up.
		return exitSocketError
	}

	heartbeatInterval := e.currentTimeout() / 3
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Second
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	lastActivity := time.Now()

	for {
		select {
		case req := <-e.inbound:
			if req.opCode == -1 { // internal-error sentinel from watch overflow
				// Terminate the session: run() moves to StateClosed and exits.
				e.pending.completeAll(ErrClientInternalError)
				return exitClosed
			}
			if err := e.send(t, req); err != nil {
				completeRequest(req, requestResult{err: ErrConnectionLoss})
				return exitSocketError
			}
			lastActivity = time.Now()

		case fe := <-frames:
			if fe.err != nil {
				return exitSocketError
			}
			reason, closed := e.handleFrame(fe.payload)
			lastActivity = time.Now()
			if closed {
				return reason
			}

		case <-ticker.C:
			if time.Since(lastActivity) >= heartbeatInterval {
				if err := e.sendPing(t); err != nil {
					return exitSocketError
				}
				lastActivity = time.Now()
			}

		case replyCh := <-e.closeReq:
			closeRequest := &request{opCode: opClose, replyCh: make(chan requestResult, 1)}
			if err := e.sendClose(t, closeRequest); err != nil {
				replyCh <- err
				return exitSocketError
			}
			// The matching reply is routed back here through handleFrame,
			// which detects opClose and reads pendingCloseReply, to avoid
			// a second goroutine racing the reader goroutine on t.readFrame.
			e.pendingCloseReply = replyCh
			lastActivity = time.Now()

		case <-e.ctx.Done():
			return exitClosed
		}
	}
}

func (e *engine) nextXid() int32 {
	for {
		x := e.xidCounter
		e.xidCounter++
		if x != xidNotification && x != xidPing && x != xidAuth && x != xidSetWatches && x > 0 {
			return x
		}
	}
}

func (e *engine) send(t transport, req *request) error {
	xid := e.nextXid()
	if req.opCode == opAuth {
		xid = xidAuth
	}
	req.xid = xid

	w := newWriter()
	requestHeader{Xid: xid, OpCode: req.opCode}.write(w)
	w.buf = append(w.buf, req.body...)
	if err := t.writeFrame(w.bytes()); err != nil {
		return err
	}
	if req.opCode == opAuth {
		// Auth packets are fire-and-forget on the wire (spec.md §4.4): the
		// server never correlates an auth reply to a particular request,
		// it only ever signals AuthFailed session-wide on xidAuth, handled
		// in handleFrame. Queueing this request would leave its reply slot
		// waiting on a match that never comes.
		completeRequest(req, requestResult{})
		return nil
	}
	e.pending.push(req)
	return nil
}

func (e *engine) sendPing(t transport) error {
	w := newWriter()
	requestHeader{Xid: xidPing, OpCode: opPing}.write(w)
	return t.writeFrame(w.bytes())
}

func (e *engine) sendClose(t transport, req *request) error {
	xid := e.nextXid()
	req.xid = xid
	w := newWriter()
	requestHeader{Xid: xid, OpCode: opClose}.write(w)
	if err := t.writeFrame(w.bytes()); err != nil {
		return err
	}
	e.pending.push(req)
	return nil
}

// handleFrame decodes one inbound frame and routes it: a watch event
// (xid -1), a ping reply (xid -2), or a normal reply matched against the
// pending queue head (spec.md §4.4 "Response correlation").
func (e *engine) handleFrame(payload []byte) (exitReason, bool) {
	r := newReader(payload)
	xid, err := r.readInt()
	if err != nil {
		return exitSocketError, true
	}

	switch xid {
	case xidNotification:
		e.handleWatchEvent(r)
		return 0, false
	case xidPing:
		// ping reply carries a reply header with no body; nothing to do.
		return 0, false
	case xidSetWatches:
		// SetWatches2 is written directly by resumeWatches and never
		// queued, so its reply is not matched against pendingQueue.
		return 0, false
	case xidAuth:
		// Auth replies are session-wide, not matched against pendingQueue
		// (spec.md §4.4 "-4 an auth reply"): the only outcome worth acting
		// on is the server rejecting a credential outright.
		_, errCode, err := readAfterXid(r)
		if err != nil {
			return exitSocketError, true
		}
		if ErrCode(errCode) == ErrAuthFailed {
			return exitAuthFailed, true
		}
		return 0, false
	default:
		zxid, errCode, err := readAfterXid(r)
		if err != nil {
			return exitSocketError, true
		}
		if zxid > e.lastZxid {
			e.lastZxid = zxid
		}
		req, err := e.pending.matchHead(xid)
		if err != nil {
			e.log.Error("protocol error correlating reply", zap.Error(err))
			return exitSocketError, true
		}
		e.completeFromWire(req, zxid, errCode, r)
		switch {
		case req.opCode == opClose:
			if e.pendingCloseReply != nil {
				if errCode != int32(ErrOK) {
					e.pendingCloseReply <- ErrCode(errCode)
				} else {
					e.pendingCloseReply <- nil
				}
			}
			return exitClosed, true
		case ErrCode(errCode) == ErrSessionExpired:
			return exitExpired, true
		default:
			return 0, false
		}
	}
}

func readAfterXid(r *reader) (zxid int64, errCode int32, err error) {
	if zxid, err = r.readLong(); err != nil {
		return
	}
	errCode, err = r.readInt()
	return
}

func (e *engine) completeFromWire(req *request, zxid int64, errCode int32, r *reader) {
	if errCode != int32(ErrOK) {
		if req.watchSub != nil {
			if req.opCode == opExists && ErrCode(errCode) == ErrNoNode {
				// Exists arms the watch even when the node is absent: it
				// fires on the node's eventual creation (spec.md §4.3).
				e.watches.Install(req.watchKind, req.watchPath, req.watchSub)
			} else {
				e.watches.Drop(req.watchSub)
			}
		}
		completeRequest(req, requestResult{zxid: zxid, err: ErrCode(errCode)})
		return
	}
	var payload any
	var err error
	if req.decode != nil {
		payload, err = req.decode(r)
	}
	if err != nil {
		if req.watchSub != nil {
			e.watches.Drop(req.watchSub)
		}
		// A multi-op's *OperationFailed still carries the fully decoded
		// sub-result slice in payload; every other decode error means
		// payload is meaningless and is dropped.
		if _, ok := err.(*OperationFailed); ok {
			completeRequest(req, requestResult{zxid: zxid, payload: payload, err: err})
		} else {
			completeRequest(req, requestResult{zxid: zxid, err: err})
		}
		return
	}
	if req.watchSub != nil {
		e.watches.Install(req.watchKind, req.watchPath, req.watchSub)
	}
	completeRequest(req, requestResult{zxid: zxid, payload: payload})
}

// handleWatchEvent decodes a xid=-1 notification and either dispatches a
// node event or drops a server-removed persistent watch (spec.md §4.3).
func (e *engine) handleWatchEvent(r *reader) {
	// watcherEvent frames do not carry a reply header (no zxid/err), only
	// the notification payload itself.
	we, err := readWatcherEvent(r)
	if err != nil {
		e.log.Error("malformed watch event", zap.Error(err))
		return
	}
	switch EventType(we.Type) {
	case EventPersistentWatchRemoved:
		e.watches.DispatchPersistentRemoved(WatchPersistent, we.Path)
		e.watches.DispatchPersistentRemoved(WatchPersistentRecursive, we.Path)
	default:
		e.watches.Dispatch(we.Path, EventType(we.Type))
	}
}

// resumeWatches replays every installed watch via SetWatches2 after a
// (re)connect (spec.md §4.5 "Resumption").
func (e *engine) resumeWatches(t transport) error {
	data, exist, child, persistent, persistentRecursive := e.watches.Snapshot()
	if len(data)+len(exist)+len(child)+len(persistent)+len(persistentRecursive) == 0 {
		return nil
	}
	w := newWriter()
	requestHeader{Xid: xidSetWatches, OpCode: opSetWatches2}.write(w)
	setWatches2Request{
		RelativeZxid:               e.lastZxid,
		DataWatches:                data,
		ExistWatches:               exist,
		ChildWatches:               child,
		PersistentWatches:          persistent,
		PersistentRecursiveWatches: persistentRecursive,
	}.write(w)
	return t.writeFrame(w.bytes())
}

// reapplyAuth resends every configured auth credential before any queued
// request is released (spec.md §4.5 "Resumption").
func (e *engine) reapplyAuth(t transport) error {
	for _, a := range e.cfg.auth {
		w := newWriter()
		requestHeader{Xid: xidAuth, OpCode: opAuth}.write(w)
		authRequest{Scheme: a.Scheme, Auth: a.Cred}.write(w)
		if err := t.writeFrame(w.bytes()); err != nil {
			return err
		}
	}
	return nil
}

// submit enqueues a request to the engine's inbound channel and blocks
// for its reply (spec.md §5 "Suspension points"). It is the only way
// application goroutines interact with session-scoped state.
func (e *engine) submit(ctx context.Context, req *request) (requestResult, error) {
	select {
	case e.inbound <- req:
	case <-ctx.Done():
		return requestResult{}, ctx.Err()
	case <-e.exited:
		return requestResult{}, ErrSessionClosed
	}
	select {
	case res := <-req.replyCh:
		return res, nil
	case <-ctx.Done():
		// Dropping here orphans the reply slot (spec.md §5 "Cancellation");
		// the engine still completes it later, the value is just discarded.
		return requestResult{}, ctx.Err()
	case <-e.exited:
		// The engine stopped without ever dequeuing req (e.g. it was still
		// sitting in the inbound channel buffer when the session closed).
		return requestResult{}, ErrSessionClosed
	}
}

// close requests a graceful shutdown and waits for the engine to exit.
func (e *engine) close() error {
	replyCh := make(chan error, 1)
	select {
	case e.closeReq <- replyCh:
	case <-e.exited:
		return nil
	}
	var err error
	select {
	case err = <-replyCh:
	case <-e.exited:
	}
	<-e.exited
	return err
}

// abandon closes the session locally without notifying the server
// (spec.md §6 "detach"): the session persists server-side until its
// timeout elapses.
func (e *engine) abandon() {
	e.cancel()
	<-e.exited
}

// supervise runs run() under an errgroup bound to e.ctx, the way
// moby-moby and wingthing supervise a long-running goroutine: if run()
// ever returns an error, the group's context is cancelled so any sibling
// goroutine added here later (serve()'s reader today lives inside run(),
// not beside it) tears down with it instead of leaking.
func (e *engine) supervise() error {
	g, _ := errgroup.WithContext(e.ctx)
	g.Go(func() error {
		e.run()
		return nil
	})
	return g.Wait()
}
