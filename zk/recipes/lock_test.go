package recipes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gozk-project/gozk/zk"
	"github.com/gozk-project/gozk/zk/zktest"
)

func TestLockMutualExclusion(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	const n = 5
	var holders int32
	var violations int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, stateW, err := zk.Connect(srv.Addr(), zk.WithSessionTimeout(5*time.Second))
			if err != nil {
				t.Errorf("Connect: %v", err)
				return
			}
			defer client.Close()
			for stateW.State() != zk.StateSyncConnected {
				stateW.Changed()
			}

			lock := NewLock(client, "/widget-lock")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := lock.Lock(ctx); err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			if atomic.AddInt32(&holders, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&holders, -1)

			if err := lock.Unlock(ctx); err != nil {
				t.Errorf("Unlock: %v", err)
			}
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Fatalf("observed %d concurrent lock holders", violations)
	}
}

func TestLockUnlockWithoutAcquireIsNoop(t *testing.T) {
	srv, err := zktest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	client, stateW, err := zk.Connect(srv.Addr(), zk.WithSessionTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	for stateW.State() != zk.StateSyncConnected {
		stateW.Changed()
	}

	lock := NewLock(client, "/never-acquired-lock")
	if err := lock.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock without Lock: %v", err)
	}
}
