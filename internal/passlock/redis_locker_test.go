package passlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"archsync/internal/graphsync"
)

var _ graphsync.Locker = (*RedisLocker)(nil)

func setupTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	locker, err := NewRedisLocker("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis locker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	return locker, s
}

func TestNewRedisLockerRejectsBadURL(t *testing.T) {
	if _, err := NewRedisLocker("not a url", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTryAcquireIsExclusive(t *testing.T) {
	locker, _ := setupTestLocker(t, time.Minute)
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, "archsync:sync:architecture")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	_, ok, err = locker.TryAcquire(ctx, "archsync:sync:architecture")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire should fail while the lock is held")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	holder, err := locker.Holder(ctx, "archsync:sync:architecture")
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != "" {
		t.Errorf("expected free lock, got holder %q", holder)
	}

	if _, ok, _ := locker.TryAcquire(ctx, "archsync:sync:architecture"); !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestExpiredLockIsNotReleasedByPreviousHolder(t *testing.T) {
	locker, s := setupTestLocker(t, time.Second)
	ctx := context.Background()
	key := "archsync:sync:architecture"

	staleRelease, ok, err := locker.TryAcquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	s.FastForward(2 * time.Second)

	_, ok, err = locker.TryAcquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
	current, _ := locker.Holder(ctx, key)

	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	after, _ := locker.Holder(ctx, key)
	if after != current {
		t.Errorf("stale release removed the new holder: before=%q after=%q", current, after)
	}
}
