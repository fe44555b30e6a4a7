package zk

import "fmt"

// SessionState is the observable state of a session (spec.md §3).
type SessionState int32

const (
	StateDisconnected     SessionState = 0
	StateSyncConnected    SessionState = 1
	StateReadOnlyConnected SessionState = 2
	StateAuthFailed       SessionState = 3
	StateExpired          SessionState = 4
	StateClosed           SessionState = 5
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateSyncConnected:
		return "SyncConnected"
	case StateReadOnlyConnected:
		return "ReadOnlyConnected"
	case StateAuthFailed:
		return "AuthFailed"
	case StateExpired:
		return "Expired"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Terminal reports whether s is one of the three states from which the
// session never transitions again (spec.md §3, §8 "terminal monotonicity").
func (s SessionState) Terminal() bool {
	return s == StateAuthFailed || s == StateExpired || s == StateClosed
}

// EventType distinguishes the kinds of WatchedEvent a subscriber may
// observe, matching the wire event types in spec.md §6 plus the
// client-synthesized Session event.
type EventType int32

const (
	EventNodeCreated            EventType = 1
	EventNodeDeleted            EventType = 2
	EventNodeDataChanged        EventType = 3
	EventNodeChildrenChanged    EventType = 4
	EventPersistentWatchRemoved EventType = 5
	EventSession                EventType = -1
)

func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "NodeCreated"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	case EventPersistentWatchRemoved:
		return "PersistentWatchRemoved"
	case EventSession:
		return "Session"
	default:
		return fmt.Sprintf("EventType(%d)", int32(t))
	}
}

// WatchedEvent is delivered to a watcher. For node events Path is the
// user-visible path (already stripped of the subscriber's chroot, per
// SPEC_FULL.md §D.3); for a Session event Path is empty and State
// carries the new session state.
type WatchedEvent struct {
	Type        EventType
	State       SessionState
	Path        string
	AboveChroot bool
}

// IsSession reports whether this event is a broadcast session transition
// rather than a node event.
func (e WatchedEvent) IsSession() bool { return e.Type == EventSession }
