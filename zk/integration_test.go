package zk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gozk-project/gozk/zk/zktest"
)

// Scenario 1: create-then-watch. A watch registered on a not-yet-existing
// node fires once the node is created.
func TestIntegrationCreateThenWatch(t *testing.T) {
	srv, client, stateW := newConnectedFixture(t)
	defer srv.Close()
	defer client.Close()
	waitConnected(t, stateW)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, watcher, err := client.Exists(ctx, "/watched", true)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	done := make(chan WatchedEvent, 1)
	go func() { done <- watcher.Changed() }()

	if _, _, err := client.Create(ctx, "/watched", nil, WorldACL(PermAll), FlagPersistent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case ev := <-done:
		if ev.Type != EventNodeCreated || ev.Path != "/watched" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch never fired for node creation")
	}
}

// Scenario 2: chroot stripping in both directions, one underlying event
// delivered to two differently-chrooted clients.
func TestIntegrationChrootStrippingBothDirections(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	root, stateW, err := Connect(srv.Addr(), WithSessionTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer root.Close()
	waitConnected(t, stateW)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := root.Create(ctx, "/app", nil, WorldACL(PermAll), FlagPersistent); err != nil {
		t.Fatalf("Create /app: %v", err)
	}
	if _, _, err := root.Create(ctx, "/app/node", []byte("x"), WorldACL(PermAll), FlagPersistent); err != nil {
		t.Fatalf("Create /app/node: %v", err)
	}

	appClient, err := root.Chroot("/app")
	if err != nil {
		t.Fatalf("Chroot: %v", err)
	}
	defer appClient.Close()

	_, watchFromRoot, err := root.GetData(ctx, "/app/node", true)
	if err != nil {
		t.Fatalf("GetData (root view): %v", err)
	}
	_, watchFromApp, err := appClient.GetData(ctx, "/node", true)
	if err != nil {
		t.Fatalf("GetData (app view): %v", err)
	}

	rootEv := make(chan WatchedEvent, 1)
	appEv := make(chan WatchedEvent, 1)
	go func() { rootEv <- watchFromRoot.Changed() }()
	go func() { appEv <- watchFromApp.Changed() }()

	if _, err := root.SetData(ctx, "/app/node", []byte("y"), -1); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	select {
	case ev := <-rootEv:
		if ev.Path != "/app/node" {
			t.Fatalf("root-view event path: got %q, want /app/node", ev.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("root-view watch never fired")
	}
	select {
	case ev := <-appEv:
		if ev.Path != "/node" {
			t.Fatalf("app-view event path: got %q, want /node", ev.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app-view watch never fired")
	}
}

// Scenario 3: multi-op failure attribution. A batch whose second
// sub-operation fails surfaces *OperationFailed pointing at index 1,
// alongside the fully decoded partial result slice.
func TestIntegrationMultiOpFailureAttribution(t *testing.T) {
	srv, client, stateW := newConnectedFixture(t)
	defer srv.Close()
	defer client.Close()
	waitConnected(t, stateW)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := client.Create(ctx, "/existing", nil, WorldACL(PermAll), FlagPersistent); err != nil {
		t.Fatalf("Create /existing: %v", err)
	}

	results, err := client.MultiWrite(ctx, []MultiOp{
		OpCreate("/fresh", nil, WorldACL(PermAll), int32(FlagPersistent)),
		OpCreate("/existing", nil, WorldACL(PermAll), int32(FlagPersistent)), // fails: already exists
		OpDelete("/fresh", -1),
	})

	var opFailed *OperationFailed
	if !errors.As(err, &opFailed) {
		t.Fatalf("expected *OperationFailed, got %v", err)
	}
	if opFailed.Index != 1 {
		t.Fatalf("expected failure at index 1, got %d", opFailed.Index)
	}
	if !errors.Is(opFailed.Err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", opFailed.Err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 decoded results even on partial failure, got %d", len(results))
	}
}

// Scenario 4: reordering resistance. Many concurrent requests pipelined
// onto one session must each receive the reply that matches its own
// request, never another goroutine's.
func TestIntegrationReorderingResistance(t *testing.T) {
	srv, client, stateW := newConnectedFixture(t)
	defer srv.Close()
	defer client.Close()
	waitConnected(t, stateW)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 20
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/item-%02d", i)
		if _, _, err := client.Create(ctx, path, []byte(path), WorldACL(PermAll), FlagPersistent); err != nil {
			t.Fatalf("Create %s: %v", path, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/item-%02d", i)
			data, _, _, err := client.GetData(ctx, path, false)
			if err != nil {
				errs[i] = err
				return
			}
			if string(data) != path {
				errs[i] = fmt.Errorf("got %q, want %q", data, path)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("item %d: %v", i, err)
		}
	}
}

// Scenario 5: session-expiration broadcast. When the ensemble becomes
// permanently unreachable past the session deadline, the state watcher
// observes a terminal Expired transition and every outstanding watcher
// is woken with a terminal session event.
func TestIntegrationSessionExpirationBroadcast(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	client, stateW, err := Connect(srv.Addr(), WithSessionTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	waitConnected(t, stateW)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, watcher, err := client.Exists(ctx, "/never-created", true)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	srv.Close() // ensemble becomes unreachable; no further reconnect can succeed

	evDone := make(chan WatchedEvent, 1)
	go func() { evDone <- watcher.Changed() }()

	deadline := time.After(5 * time.Second)
	for stateW.State() != StateExpired {
		if stateW.State().Terminal() && stateW.State() != StateExpired {
			t.Fatalf("reached unexpected terminal state %s", stateW.State())
		}
		select {
		case <-deadline:
			t.Fatalf("session never expired, stuck at %s", stateW.State())
		default:
		}
		stateW.Changed()
	}

	select {
	case ev := <-evDone:
		if !ev.IsSession() || ev.State != StateExpired {
			t.Fatalf("expected terminal session event, got %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never received the session-expiration broadcast")
	}
}

// Scenario 6: detached resume. A client built with WithDetach abandons
// its engine locally on Close rather than sending CloseSession, and a
// fresh Client can resume the same session id/password afterwards.
func TestIntegrationDetachedResume(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	client, stateW, err := Connect(srv.Addr(), WithSessionTimeout(5*time.Second), WithDetach(true))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitConnected(t, stateW)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := client.Create(ctx, "/resumed", []byte("still here"), WorldACL(PermAll), FlagPersistent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sid, passwd := client.SessionID(), client.SessionPassword()
	if err := client.Close(); err != nil {
		t.Fatalf("detached Close: %v", err)
	}

	resumed, resumedState, err := Connect(srv.Addr(), WithSessionTimeout(5*time.Second), WithSession(sid, passwd))
	if err != nil {
		t.Fatalf("resuming Connect: %v", err)
	}
	defer resumed.Close()
	waitConnected(t, resumedState)

	data, _, _, err := resumed.GetData(ctx, "/resumed", false)
	if err != nil {
		t.Fatalf("GetData after resume: %v", err)
	}
	if string(data) != "still here" {
		t.Fatalf("unexpected data after resume: %q", data)
	}
}

func newConnectedFixture(t *testing.T) (*zktest.Server, *Client, *StateWatcher) {
	t.Helper()
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	client, stateW, err := Connect(srv.Addr(), WithSessionTimeout(5*time.Second))
	if err != nil {
		srv.Close()
		t.Fatalf("Connect: %v", err)
	}
	return srv, client, stateW
}
