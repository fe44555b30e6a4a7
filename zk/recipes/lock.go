// Package recipes builds higher-level coordination primitives on top of
// package zk, the way gozk-recipes built a session manager and lock
// helpers on top of the teacher's raw client.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gozk-project/gozk/zk"
)

// ErrLockNotHeld is returned (wrapped) by Lock when this contender's node
// disappears or the session ends before the lock is acquired. Unlock
// never returns it: releasing an unheld or already-deleted lock is not
// an error.
var ErrLockNotHeld = errors.New("recipes: lock is not held")

// Lock is a distributed mutual-exclusion lock built the way Apache
// Curator's LockInternals does it: each contender creates an
// ephemeral-sequential child node under lockPath, then waits on the
// node immediately ahead of it in sequence order rather than on the
// whole directory, so a release only wakes the one contender that can
// now proceed.
type Lock struct {
	client   *zk.Client
	lockPath string
	myID     string // uuid prefix stamped into this contender's node name
	myNode   string // full node name (basename) once the contender node is created
}

// NewLock builds a lock rooted at lockPath, which must already exist or
// be creatable by this client's ACL. lockPath itself is never removed.
func NewLock(client *zk.Client, lockPath string) *Lock {
	return &Lock{client: client, lockPath: lockPath, myID: uuid.NewString()}
}

func (l *Lock) nodePrefix() string {
	return "lock-" + l.myID + "-"
}

// Lock blocks until this contender holds the lock or ctx is done. It is
// not reentrant: calling Lock twice without an intervening Unlock leaks
// a node.
func (l *Lock) Lock(ctx context.Context) error {
	if _, err := l.client.Create(ctx, l.lockPath, nil, zk.WorldACL(zk.PermAll), zk.FlagPersistent); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("recipes: ensuring lock root %s: %w", l.lockPath, err)
	}

	created, _, err := l.client.Create(ctx, l.lockPath+"/"+l.nodePrefix(), nil, zk.WorldACL(zk.PermAll), zk.FlagEphemeralSequential)
	if err != nil {
		return fmt.Errorf("recipes: creating lock contender node: %w", err)
	}
	l.myNode = strings.TrimPrefix(created, l.lockPath+"/")

	for {
		children, _, _, err := l.client.GetChildren(ctx, l.lockPath, false)
		if err != nil {
			return fmt.Errorf("recipes: listing lock contenders: %w", err)
		}
		sortBySequence(children)

		idx := indexOf(children, l.myNode)
		if idx < 0 {
			// Our node disappeared: the session expired and the ephemeral
			// node was reaped, or something else deleted it.
			return fmt.Errorf("recipes: %w: contender node vanished before acquiring", ErrLockNotHeld)
		}
		if idx == 0 {
			return nil // we hold the lock
		}

		predecessor := children[idx-1]
		_, watcher, err := l.client.Exists(ctx, l.lockPath+"/"+predecessor, true)
		if err != nil {
			return fmt.Errorf("recipes: watching predecessor %s: %w", predecessor, err)
		}

		evCh := make(chan zk.WatchedEvent, 1)
		go func() { evCh <- watcher.Changed() }()
		var ev zk.WatchedEvent
		select {
		case ev = <-evCh:
		case <-ctx.Done():
			return fmt.Errorf("recipes: waiting for lock: %w", ctx.Err())
		}
		if ev.IsSession() && ev.State.Terminal() {
			return fmt.Errorf("recipes: %w: session ended while waiting for lock", ErrLockNotHeld)
		}
		// Any other event (NodeDeleted, or a spurious wakeup from a node
		// being recreated under the same name) just means: re-check.
	}
}

// Unlock releases the lock by deleting this contender's node. It is a
// no-op, not an error, to call Unlock without ever having acquired.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.myNode == "" {
		return nil
	}
	err := l.client.Delete(ctx, l.lockPath+"/"+l.myNode, -1)
	l.myNode = ""
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("recipes: releasing lock: %w", err)
	}
	return nil
}

// sortBySequence orders ZooKeeper sequential node names by their numeric
// suffix rather than lexicographically, since "lock-...-9" otherwise
// sorts after "lock-...-10".
func sortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return sequenceOf(names[i]) < sequenceOf(names[j])
	})
}

func sequenceOf(name string) int64 {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
