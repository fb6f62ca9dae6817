package receiver

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLocker_SerializesSameKey(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, _ := l.Lock(ctx, "Order:1")
	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		u, _ := l.Lock(ctx, "Order:1")
		acquired.Store(true)
		u()
		close(done)
	}()

	// A different key is never blocked.
	other, _ := l.Lock(ctx, "Order:2")
	other()

	time.Sleep(20 * time.Millisecond)
	if acquired.Load() {
		t.Fatal("second lock on the same key must wait")
	}
	unlock()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", len(l.locks))
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	client := newRedis(t)
	l := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "Order:1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		u, err := l.Lock(ctx, "Order:1")
		if err == nil {
			u()
		}
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("second lock must wait for release")
	case <-time.After(60 * time.Millisecond):
	}
	unlock()
	if err := <-got; err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if n := client.Exists(ctx, redisLockPrefix+"Order:1").Val(); n != 0 {
		t.Fatalf("expected lock key removed, got %d", n)
	}
}

func TestRedisLocker_UnlockKeepsForeignToken(t *testing.T) {
	client := newRedis(t)
	l := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "Order:9")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Simulate expiry and takeover by another holder.
	client.Set(ctx, redisLockPrefix+"Order:9", "someone-else", time.Second)
	unlock()
	if v := client.Get(ctx, redisLockPrefix+"Order:9").Val(); v != "someone-else" {
		t.Fatalf("unlock must not delete another holder's lock, got %q", v)
	}
}

func TestRedisLocker_TimesOut(t *testing.T) {
	client := newRedis(t)
	l := NewRedisLocker(client, 50*time.Millisecond)
	ctx := context.Background()

	client.Set(ctx, redisLockPrefix+"Order:5", "held", time.Minute)
	if _, err := l.Lock(ctx, "Order:5"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestRedisLocker_UnlockFailureIsLogged(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	l := NewRedisLocker(client, time.Second)

	unlock, err := l.Lock(context.Background(), "Order:6")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	mr.Close()
	unlock()

	if !strings.Contains(buf.String(), "WARN: release lock Order:6") {
		t.Fatalf("expected a release warning, got %q", buf.String())
	}
}
