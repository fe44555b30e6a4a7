package zk

import "sync"

// StateWatcher tracks session state transitions. It is the Go analogue of
// the reference implementation's StateWatcher over a tokio watch channel:
// State/PeekState never block, Changed blocks until the next transition
// and blocks forever (not errors) once a terminal state has been
// delivered, matching original_source/src/client/watcher.rs.
type StateWatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current SessionState
	gen     uint64
}

func newStateWatcher(initial SessionState) *StateWatcher {
	sw := &StateWatcher{current: initial}
	sw.cond = sync.NewCond(&sw.mu)
	return sw
}

// set is called only by the session engine on a state transition.
func (sw *StateWatcher) set(s SessionState) {
	sw.mu.Lock()
	sw.current = s
	sw.gen++
	sw.mu.Unlock()
	sw.cond.Broadcast()
}

// State returns the most recent state. Unlike the reference's
// borrow_and_update, Go has no "consumed" distinction for a plain read;
// State and PeekState behave identically and both are provided to keep
// the call sites from the reference readable.
func (sw *StateWatcher) State() SessionState {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.current
}

// PeekState returns the most recent state without consuming it.
func (sw *StateWatcher) PeekState() SessionState {
	return sw.State()
}

// Changed blocks until the next transition after the call begins, then
// returns the new state. If the current state is already terminal (and
// at least one transition has happened), Changed blocks forever,
// mirroring the reference's std::future::pending() fallback: terminal
// states are final and there is nothing left to wait for.
func (sw *StateWatcher) Changed() SessionState {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	startGen := sw.gen
	if sw.current.Terminal() && startGen > 0 {
		// The session has already reached a terminal state; no further
		// transition can come, so block forever.
		select {}
	}
	for sw.gen == startGen {
		sw.cond.Wait()
	}
	return sw.current
}

// OneshotWatcher is returned for a one-shot data/exist/child watch
// request (spec.md §3, SPEC_FULL.md §D.2).
type OneshotWatcher struct {
	kind   WatchMode
	path   string // user-visible (chroot-relative) registration path
	ch     <-chan WatchedEvent
	client *Client
}

// Changed blocks for the single event this watcher will ever deliver:
// either the matching node event or a terminal session event.
func (w *OneshotWatcher) Changed() WatchedEvent {
	ev, ok := <-w.ch
	if !ok {
		return WatchedEvent{Type: EventSession, State: StateClosed}
	}
	return ev
}

// Remove sends a RemoveWatches RPC for this watcher's (kind, path) and
// drops it locally on success (spec.md §5 "Cancellation"). Dropping a
// OneshotWatcher without calling Remove is also valid: the server-side
// watch stays armed until it fires once or the session ends, and the
// event is then silently discarded since nothing still reads the channel.
func (w *OneshotWatcher) Remove() error {
	if w.client == nil {
		return nil
	}
	return w.client.removeWatch(w.kind, w.path)
}

// PersistentWatcher is returned for a persistent or persistent-recursive
// watch request (spec.md §3, SPEC_FULL.md §D.2). Unlike OneshotWatcher it
// delivers an ordered sequence of events from a bounded queue.
type PersistentWatcher struct {
	kind   WatchMode
	path   string // user-visible (chroot-relative) registration path
	ch     <-chan WatchedEvent
	client *Client
}

// Changed blocks for the next event: a node event, or a session event
// (which, for a terminal state, is the last value this channel will ever
// produce — the channel closes after it per spec.md §4.3).
func (w *PersistentWatcher) Changed() WatchedEvent {
	ev, ok := <-w.ch
	if !ok {
		return WatchedEvent{Type: EventSession, State: StateClosed}
	}
	return ev
}

// Remove sends a RemoveWatches RPC for this watcher's (kind, path). Per
// ZOOKEEPER-4472 the server cannot remove one persistent registration out
// of several sharing a path, so this removes every local subscriber
// sharing the descriptor (SPEC_FULL.md §D.4) — a best effort, as the
// reference implementation's doc comment puts it.
func (w *PersistentWatcher) Remove() error {
	if w.client == nil {
		return nil
	}
	return w.client.removeWatch(w.kind, w.path)
}
