package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "conv-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
	if l.Len() != 0 {
		t.Fatalf("expected entries to be released, got %d", l.Len())
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b should not wait for a: %v", err)
	}
	unlockB()
}

func TestLocalHonorsContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	unlock()
	unlock()
	if l.Len() != 0 {
		t.Fatalf("expected no entries, got %d", l.Len())
	}
}

type recordingLocker struct {
	name string
	log  *[]string
	fail bool
}

func (r recordingLocker) Lock(_ context.Context, key string) (Unlock, error) {
	if r.fail {
		return nil, errors.New("unavailable")
	}
	*r.log = append(*r.log, "lock "+r.name)
	return func() { *r.log = append(*r.log, "unlock "+r.name) }, nil
}

func TestChainOrdersAndRollsBack(t *testing.T) {
	var events []string
	chain := Chain{recordingLocker{name: "local", log: &events}, recordingLocker{name: "redis", log: &events}}
	unlock, err := chain.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	unlock()
	want := []string{"lock local", "lock redis", "unlock redis", "unlock local"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected events: %v", events)
		}
	}

	events = nil
	failing := Chain{recordingLocker{name: "local", log: &events}, recordingLocker{name: "redis", log: &events, fail: true}}
	if _, err := failing.Lock(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
	if len(events) != 2 || events[1] != "unlock local" {
		t.Fatalf("expected rollback of local lock, got %v", events)
	}
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	stop := keepAlive(5*time.Millisecond, func(context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	}, func(err error) {
		t.Errorf("unexpected failure: %v", err)
	})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated extensions, got %d", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("extension ran after stop: %d -> %d", after, got)
	}
}

func TestKeepAliveReportsLostLock(t *testing.T) {
	failures := make(chan error, 8)
	stop := keepAlive(5*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	defer stop()

	select {
	case err := <-failures:
		if !errors.Is(err, errLockLost) {
			t.Fatalf("expected errLockLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lost lock was never reported")
	}
}
