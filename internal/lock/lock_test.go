package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	held, err := locker.Obtain(ctx, "tx-finalize:tx-1", time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, "tx-finalize:tx-1", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if _, err := locker.Obtain(ctx, "tx-finalize:tx-2", time.Minute); err != nil {
		t.Fatalf("other keys must be free: %v", err)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := locker.Obtain(ctx, "tx-finalize:tx-1", time.Minute); err != nil {
		t.Fatalf("released key should be obtainable: %v", err)
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	stale, err := locker.Obtain(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	now = now.Add(2 * time.Second)
	fresh, err := locker.Obtain(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("expired lock should be taken over: %v", err)
	}

	// The stale holder must not release the new holder's lock.
	_ = stale.Release(ctx)
	if _, err := locker.Obtain(ctx, "k", time.Second); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected fresh lock to survive stale release, got %v", err)
	}
	_ = fresh.Release(ctx)
}
