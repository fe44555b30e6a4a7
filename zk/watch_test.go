package zk

import "testing"

func TestWatchRegistryOneshotDispatchAndRemoval(t *testing.T) {
	wr := NewWatchRegistry(nil, nil)
	sub := wr.NewSubscriber("/", true)
	wr.Install(WatchData, "/a", sub)

	wr.Dispatch("/a", EventNodeDataChanged)

	ev, ok := <-sub.ch
	if !ok {
		t.Fatal("expected one delivered event before the channel closes")
	}
	if ev.Type != EventNodeDataChanged || ev.Path != "/a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok := <-sub.ch; ok {
		t.Fatal("one-shot subscriber channel should close after its single event")
	}

	// Dispatching again must be a no-op: the descriptor was removed.
	wr.Dispatch("/a", EventNodeDataChanged)
}

func TestWatchRegistryPersistentRecursiveMatchesSubtree(t *testing.T) {
	wr := NewWatchRegistry(nil, nil)
	sub := wr.NewSubscriber("/", false)
	wr.Install(WatchPersistentRecursive, "/a", sub)

	wr.Dispatch("/a/b/c", EventNodeCreated)
	select {
	case ev := <-sub.ch:
		if ev.Path != "/a/b/c" {
			t.Fatalf("unexpected path %q", ev.Path)
		}
	default:
		t.Fatal("expected recursive watch to fire for a descendant path")
	}

	wr.Dispatch("/unrelated", EventNodeCreated)
	select {
	case ev := <-sub.ch:
		t.Fatalf("unexpected event outside the watched subtree: %+v", ev)
	default:
	}
}

func TestWatchRegistryChrootStrippedOnDelivery(t *testing.T) {
	wr := NewWatchRegistry(nil, nil)
	sub := wr.NewSubscriber("/app", true)
	wr.Install(WatchData, "/app/a", sub)

	wr.Dispatch("/app/a", EventNodeDataChanged)
	ev := <-sub.ch
	if ev.Path != "/a" {
		t.Fatalf("expected chroot-stripped path /a, got %q", ev.Path)
	}
}

func TestWatchRegistryOverflowTriggersCallback(t *testing.T) {
	overflowed := false
	wr := NewWatchRegistry(func() { overflowed = true }, nil)
	sub := wr.NewSubscriber("/", false)
	wr.Install(WatchPersistent, "/a", sub)

	for i := 0; i < persistentQueueCapacity+1; i++ {
		wr.Dispatch("/a", EventNodeDataChanged)
	}
	if !overflowed {
		t.Fatal("expected onOverflow to fire once the persistent queue filled up")
	}
}

func TestWatchRegistryBroadcastSessionEventClosesOneshot(t *testing.T) {
	wr := NewWatchRegistry(nil, nil)
	sub := wr.NewSubscriber("/", true)
	wr.Install(WatchExist, "/a", sub)

	wr.BroadcastSessionEvent(StateExpired)
	ev, ok := <-sub.ch
	if !ok {
		t.Fatal("expected the terminal session event before closure")
	}
	if !ev.IsSession() || ev.State != StateExpired {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok := <-sub.ch; ok {
		t.Fatal("channel should close after the terminal session event")
	}
}

func TestWatchRegistrySnapshotGroupsByKind(t *testing.T) {
	wr := NewWatchRegistry(nil, nil)
	wr.Install(WatchData, "/d", wr.NewSubscriber("/", true))
	wr.Install(WatchExist, "/e", wr.NewSubscriber("/", true))
	wr.Install(WatchChild, "/c", wr.NewSubscriber("/", true))
	wr.Install(WatchPersistent, "/p", wr.NewSubscriber("/", false))
	wr.Install(WatchPersistentRecursive, "/r", wr.NewSubscriber("/", false))

	data, exist, child, persistent, persistentRecursive := wr.Snapshot()
	if len(data) != 1 || data[0] != "/d" {
		t.Fatalf("data snapshot: %v", data)
	}
	if len(exist) != 1 || exist[0] != "/e" {
		t.Fatalf("exist snapshot: %v", exist)
	}
	if len(child) != 1 || child[0] != "/c" {
		t.Fatalf("child snapshot: %v", child)
	}
	if len(persistent) != 1 || persistent[0] != "/p" {
		t.Fatalf("persistent snapshot: %v", persistent)
	}
	if len(persistentRecursive) != 1 || persistentRecursive[0] != "/r" {
		t.Fatalf("persistent-recursive snapshot: %v", persistentRecursive)
	}
}
