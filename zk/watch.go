package zk

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// persistentQueueCapacity bounds a persistent watcher's event queue
// (spec.md §4.3 "Delivery semantics", §9 "Backpressure"). A subscriber
// that does not drain its queue causes the session to be terminated
// rather than let the registry buffer unboundedly or silently drop events.
const persistentQueueCapacity = 256

type watchKey struct {
	kind WatchMode
	path string
}

// watchSub is one subscriber sharing a WatchDescriptor (spec.md §3: a
// descriptor carries "a strong-count of subscribers").
type watchSub struct {
	chroot   string
	oneshot  bool
	ch       chan WatchedEvent
	closedMu sync.Mutex
	closed   bool
	// terminalSent is set once a terminal session event has been appended
	// to a persistent subscriber's queue; after that, no further events
	// are accepted (spec.md §4.3).
	terminalSent bool
}

func (s *watchSub) deliver(ev WatchedEvent) (overflowed bool) {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed || s.terminalSent {
		return false
	}
	if ev.IsSession() && ev.State.Terminal() {
		defer func() { s.terminalSent = true }()
	}
	select {
	case s.ch <- ev:
		return false
	default:
		return true
	}
}

func (s *watchSub) closeChan() {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// WatchDescriptor groups every subscriber registered for the same (kind,
// absolute path) pair, per spec.md §3.
type WatchDescriptor struct {
	Kind WatchMode
	Path string // absolute, server-side

	subs []*watchSub
}

// WatchRegistry tracks pending and installed watches and fans out events
// to every matching descriptor, per spec.md §4.3. Most calls come from
// the session engine goroutine, but Remove is called from application
// goroutines (via Client.removeWatch), so every method that reads or
// changes the descriptor map takes the mutex below.
type WatchRegistry struct {
	mu          sync.Mutex
	descriptors map[watchKey]*WatchDescriptor
	onOverflow  func()
	log         *zap.Logger
}

// NewWatchRegistry builds an empty registry. onOverflow is invoked
// (from the engine goroutine, synchronously) each time a persistent
// subscriber's queue overflows; the session engine wires this to its own
// termination path.
func NewWatchRegistry(onOverflow func(), log *zap.Logger) *WatchRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &WatchRegistry{
		descriptors: make(map[watchKey]*WatchDescriptor),
		onOverflow:  onOverflow,
		log:         log,
	}
}

// NewSubscriber allocates a subscriber for a pending watch attached to an
// outgoing request (spec.md §4.3 "register a pending watch on a
// request"). It is not yet visible to Dispatch until Install is called.
func (wr *WatchRegistry) NewSubscriber(chroot string, oneshot bool) *watchSub {
	capacity := 1
	if !oneshot {
		capacity = persistentQueueCapacity
	}
	return &watchSub{chroot: chroot, oneshot: oneshot, ch: make(chan WatchedEvent, capacity)}
}

// Install promotes a pending subscriber to installed after the server
// confirms it recorded the watch (spec.md §4.3).
func (wr *WatchRegistry) Install(kind WatchMode, absPath string, sub *watchSub) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	key := watchKey{kind: kind, path: absPath}
	d, ok := wr.descriptors[key]
	if !ok {
		d = &WatchDescriptor{Kind: kind, Path: absPath}
		wr.descriptors[key] = d
	}
	d.subs = append(d.subs, sub)
}

// Drop discards a pending subscriber whose attached request failed
// (spec.md §4.3: on response, "promote to installed or drop").
func (wr *WatchRegistry) Drop(sub *watchSub) {
	sub.closeChan()
}

// Dispatch fans a node event out to every descriptor whose (kind, path)
// matches, per the ZooKeeper event model (spec.md §4.3). eventType
// determines which watch kinds are eligible: a Data watch and an Exist
// watch both fire on NodeDataChanged; NodeDeleted fires every kind
// registered at the path (data, exist, child, and any persistent/
// recursive watch covering it); NodeChildrenChanged fires only child and
// persistent/recursive watches.
//
// Events are dispatched in the order they arrive on the connection. Within
// one event, matching descriptors are visited in map iteration order, so
// subscribers of different (kind, path) descriptors receive it in no
// defined order relative to each other.
func (wr *WatchRegistry) Dispatch(absPath string, eventType EventType) {
	wr.mu.Lock()
	matches := wr.matchingLocked(absPath, eventType)
	// One-shot descriptors are removed before the event is handed to the
	// subscriber (spec.md §4.3 "at-most-one-shot").
	for _, key := range matches.oneshotKeys {
		delete(wr.descriptors, key)
	}
	wr.mu.Unlock()

	ev := WatchedEvent{Type: eventType, Path: absPath}
	for _, sub := range matches.subs {
		wr.send(sub, ev)
	}
}

type matchSet struct {
	subs        []*watchSub
	oneshotKeys []watchKey
}

func (wr *WatchRegistry) matchingLocked(absPath string, eventType EventType) matchSet {
	var out matchSet
	for key, d := range wr.descriptors {
		if !kindMatchesEvent(key.kind, eventType) {
			continue
		}
		if !pathMatches(key.kind, key.path, absPath) {
			continue
		}
		out.subs = append(out.subs, d.subs...)
		if !key.kind.persistent() {
			out.oneshotKeys = append(out.oneshotKeys, key)
		}
	}
	return out
}

func kindMatchesEvent(kind WatchMode, eventType EventType) bool {
	switch eventType {
	case EventNodeCreated:
		return kind == WatchExist || kind.persistent()
	case EventNodeDeleted:
		return true
	case EventNodeDataChanged:
		return kind == WatchData || kind == WatchExist || kind.persistent()
	case EventNodeChildrenChanged:
		return kind == WatchChild || kind.persistent()
	default:
		return false
	}
}

func pathMatches(kind WatchMode, descPath, eventPath string) bool {
	if kind != WatchPersistentRecursive {
		return descPath == eventPath
	}
	if descPath == eventPath {
		return true
	}
	if descPath == "/" {
		return true
	}
	return strings.HasPrefix(eventPath, descPath+"/")
}

// send delivers ev to sub, translating a full queue into the registry's
// overflow callback rather than blocking the single-owner engine
// goroutine (spec.md §9 "Backpressure").
func (wr *WatchRegistry) send(sub *watchSub, ev WatchedEvent) {
	stripped, above := stripChroot(sub.chroot, ev.Path)
	out := ev
	out.Path = stripped
	out.AboveChroot = above
	if overflowed := sub.deliver(out); overflowed {
		wr.log.Error("persistent watch queue overflow, terminating session",
			zap.String("path", ev.Path))
		if wr.onOverflow != nil {
			wr.onOverflow()
		}
		return
	}
	if sub.oneshot {
		sub.closeChan()
	}
}

// DispatchPersistentRemoved handles a server-initiated PERSISTENT_WATCH_REMOVED
// notification (spec.md §4.3 "Dangling watches"): the descriptor is
// dropped locally without surfacing an error to any subscriber.
func (wr *WatchRegistry) DispatchPersistentRemoved(kind WatchMode, absPath string) {
	wr.mu.Lock()
	key := watchKey{kind: kind, path: absPath}
	d, ok := wr.descriptors[key]
	if ok {
		delete(wr.descriptors, key)
	}
	wr.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range d.subs {
		sub.closeChan()
	}
}

// Remove drops every subscriber registered for (kind, path) locally; the
// caller is responsible for having already sent the RemoveWatches RPC
// (spec.md §4.3 "remove(descriptor)").
func (wr *WatchRegistry) Remove(kind WatchMode, absPath string) {
	wr.mu.Lock()
	key := watchKey{kind: kind, path: absPath}
	d, ok := wr.descriptors[key]
	if ok {
		delete(wr.descriptors, key)
	}
	wr.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range d.subs {
		sub.closeChan()
	}
}

// BroadcastSessionEvent fans a session transition out to every descriptor
// currently in the registry (spec.md §4.3 "A session event ... is
// broadcast to every descriptor currently in the registry"). One-shots
// receive it as their terminal event and their channel is closed; their
// descriptors are removed from the registry only for terminal states.
// Persistent watchers receive it appended to their queue and, for
// terminal states, stop accepting further events and have their channel
// closed.
func (wr *WatchRegistry) BroadcastSessionEvent(state SessionState) {
	wr.mu.Lock()
	all := make([]*watchSub, 0)
	oneshotKeys := make([]watchKey, 0)
	for key, d := range wr.descriptors {
		all = append(all, d.subs...)
		if !key.kind.persistent() {
			oneshotKeys = append(oneshotKeys, key)
		}
	}
	if state.Terminal() {
		for _, key := range oneshotKeys {
			delete(wr.descriptors, key)
		}
	}
	wr.mu.Unlock()

	ev := WatchedEvent{Type: EventSession, State: state}
	for _, sub := range all {
		stripped := ev
		stripped.Path = ""
		if sub.deliver(stripped) {
			wr.log.Error("persistent watch queue overflow on session event")
			if wr.onOverflow != nil {
				wr.onOverflow()
			}
			continue
		}
		if sub.oneshot || state.Terminal() {
			sub.closeChan()
		}
	}
}

// Snapshot returns every installed (kind, path) pair, grouped the way
// SetWatches2 needs them for resumption on reconnect (spec.md §4.5).
func (wr *WatchRegistry) Snapshot() (data, exist, child, persistent, persistentRecursive []string) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	for key := range wr.descriptors {
		switch key.kind {
		case WatchData:
			data = append(data, key.path)
		case WatchExist:
			exist = append(exist, key.path)
		case WatchChild:
			child = append(child, key.path)
		case WatchPersistent:
			persistent = append(persistent, key.path)
		case WatchPersistentRecursive:
			persistentRecursive = append(persistentRecursive, key.path)
		}
	}
	return
}
