package zk

import "fmt"

// ErrCode is a ZooKeeper error code. It implements error so callers can
// compare with errors.Is(err, zk.ErrNoNode) the way the teacher's gozk
// compared against its Error constants directly, without losing the
// ability to wrap additional context with fmt.Errorf("...: %w", err).
type ErrCode int32

// Protocol / server-reported error codes (spec.md §7 band 1). Values
// match the ZooKeeper wire protocol's KeeperException codes.
const (
	ErrOK                      ErrCode = 0
	ErrSystemError             ErrCode = -1
	ErrRuntimeInconsistency    ErrCode = -2
	ErrDataInconsistency       ErrCode = -3
	ErrConnectionLoss          ErrCode = -4
	ErrMarshallingError        ErrCode = -5
	ErrUnimplemented           ErrCode = -6
	ErrOperationTimeout        ErrCode = -7
	ErrBadArguments            ErrCode = -8
	ErrNewConfigNoQuorum       ErrCode = -13
	ErrReconfigInProgress      ErrCode = -14
	ErrAPIError                ErrCode = -100
	ErrNoNode                  ErrCode = -101
	ErrNoAuth                  ErrCode = -102
	ErrBadVersion              ErrCode = -103
	ErrNoChildrenForEphemerals ErrCode = -108
	ErrNodeExists              ErrCode = -110
	ErrNotEmpty                ErrCode = -111
	ErrSessionExpired          ErrCode = -112
	ErrInvalidCallback         ErrCode = -113
	ErrInvalidACL              ErrCode = -114
	ErrAuthFailed              ErrCode = -115
	ErrClosing                 ErrCode = -116
	ErrNothing                 ErrCode = -117
	ErrSessionMoved            ErrCode = -118
	ErrNotReadOnly             ErrCode = -119
	ErrEphemeralOnLocalSession ErrCode = -120
	ErrNoWatcher               ErrCode = -121

	// Connection-level error codes (spec.md §7 band 2). These never come
	// off the wire as a KeeperException code; they are synthesized by
	// the session engine or pipeline itself.
	ErrClientInternalError ErrCode = -1000
	ErrProtocolError       ErrCode = -1001
	ErrSessionClosed       ErrCode = -1002
)

var errCodeText = map[ErrCode]string{
	ErrOK:                      "ok",
	ErrSystemError:             "system error",
	ErrRuntimeInconsistency:    "runtime inconsistency",
	ErrDataInconsistency:       "data inconsistency",
	ErrConnectionLoss:          "connection loss",
	ErrMarshallingError:        "marshalling error",
	ErrUnimplemented:           "unimplemented",
	ErrOperationTimeout:        "operation timeout",
	ErrBadArguments:            "bad arguments",
	ErrNewConfigNoQuorum:       "new config has no quorum",
	ErrReconfigInProgress:      "reconfiguration in progress",
	ErrAPIError:                "api error",
	ErrNoNode:                  "no node",
	ErrNoAuth:                  "not authenticated",
	ErrBadVersion:              "bad version",
	ErrNoChildrenForEphemerals: "ephemeral nodes may not have children",
	ErrNodeExists:              "node exists",
	ErrNotEmpty:                "node has children",
	ErrSessionExpired:          "session expired",
	ErrInvalidCallback:         "invalid callback",
	ErrInvalidACL:              "invalid acl",
	ErrAuthFailed:              "authentication failed",
	ErrClosing:                 "zookeeper is closing",
	ErrNothing:                 "(not an error)",
	ErrSessionMoved:            "session moved to another server",
	ErrNotReadOnly:             "state-changing request to read-only server",
	ErrEphemeralOnLocalSession: "ephemeral node on local session",
	ErrNoWatcher:               "no such watcher",
	ErrClientInternalError:     "client internal error",
	ErrProtocolError:           "protocol error",
	ErrSessionClosed:           "session closed",
}

func (e ErrCode) Error() string {
	if s, ok := errCodeText[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown zookeeper error code %d", int32(e))
}

// Is lets errors.Is(err, zk.ErrNoNode) match both a bare ErrCode and one
// wrapped with fmt.Errorf("...: %w", err).
func (e ErrCode) Is(target error) bool {
	t, ok := target.(ErrCode)
	return ok && t == e
}

// OperationFailed wraps a multi-op sub-operation failure (spec.md §4.4):
// the index of the first failing sub-op within the batch and the error
// the server reported for it.
type OperationFailed struct {
	Index int
	Err   error
}

func (e *OperationFailed) Error() string {
	return fmt.Sprintf("multi-op sub-operation %d failed: %v", e.Index, e.Err)
}

func (e *OperationFailed) Unwrap() error { return e.Err }

// BadArgumentsError decorates ErrBadArguments with the offending argument,
// caught client-side before anything is sent to the wire (spec.md §7 band 3).
type BadArgumentsError struct {
	What string
}

func (e *BadArgumentsError) Error() string {
	return fmt.Sprintf("bad argument: %s", e.What)
}

func (e *BadArgumentsError) Unwrap() error { return ErrBadArguments }

func badArguments(format string, args ...any) error {
	return &BadArgumentsError{What: fmt.Sprintf(format, args...)}
}
