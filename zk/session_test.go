package zk

import (
	"context"
	"testing"
	"time"

	"github.com/gozk-project/gozk/zk/zktest"
)

func TestConnectReachesSyncConnected(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	client, stateW, err := Connect(srv.Addr(), WithSessionTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	deadline := time.After(5 * time.Second)
	for stateW.State() != StateSyncConnected {
		select {
		case <-deadline:
			t.Fatalf("never reached SyncConnected, stuck at %s", stateW.State())
		default:
		}
		stateW.Changed()
	}
}

func TestCreateGetSetDeleteRoundTrip(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	client, stateW, err := Connect(srv.Addr(), WithSessionTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	waitConnected(t, stateW)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	path, _, err := client.Create(ctx, "/widget", []byte("v1"), WorldACL(PermAll), FlagPersistent)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if path != "/widget" {
		t.Fatalf("unexpected created path %q", path)
	}

	data, st, _, err := client.GetData(ctx, "/widget", false)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("unexpected data %q", data)
	}
	if st.Version != 0 {
		t.Fatalf("expected fresh node at version 0, got %d", st.Version)
	}

	if _, err := client.SetData(ctx, "/widget", []byte("v2"), st.Version); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	data, _, _, err = client.GetData(ctx, "/widget", false)
	if err != nil || string(data) != "v2" {
		t.Fatalf("GetData after SetData: %q, %v", data, err)
	}

	if err := client.Delete(ctx, "/widget", -1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, _, err := client.GetData(ctx, "/widget", false); err == nil {
		t.Fatal("expected ErrNoNode after Delete")
	}
}

func waitConnected(t *testing.T, sw *StateWatcher) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for sw.State() != StateSyncConnected {
		select {
		case <-deadline:
			t.Fatalf("never reached SyncConnected, stuck at %s", sw.State())
		default:
		}
		sw.Changed()
	}
}
