package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"klinikpos/backend/internal/xid"
)

var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks. Obtain does not wait: a held
// key fails immediately with ErrNotObtained.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// LocalLocker serialises holders inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrNotObtained
	}
	token := xid.New("lock")
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return &localLock{locker: l, key: key, token: token}, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
	token  string
}

func (l *localLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	// An expired lock may have been taken over; only the holder clears it.
	if entry, ok := l.locker.held[l.key]; ok && entry.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
