// Package lock provides the per-resource mutual exclusion used around tally
// approval and wallet mutation. Locks are keyed strings; the redis
// implementation works across server instances, Local within one process.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gold_tally/internal/domain"

	"github.com/google/uuid"
)

// Release frees a held lock. Calling it more than once is harmless.
type Release func()

// Locker acquires exclusive locks. Acquire waits up to wait for the key to
// become free and returns domain.ErrLockHeld when it does not.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Release, error)
}

// TallyKey is the lock key guarding one tally
func TallyKey(id uuid.UUID) string {
	return "lock:tally:" + id.String()
}

// ConversionKey is the lock key guarding one conversion request
func ConversionKey(id uuid.UUID) string {
	return "lock:conversion:" + id.String()
}

// WalletKey is the lock key guarding one wallet
func WalletKey(userID uint, typ domain.WalletType) string {
	return fmt.Sprintf("lock:wallet:%d:%s", userID, typ)
}

// AcquireAll takes every key in sorted order so two callers locking the same
// set can never deadlock. On failure nothing stays held.
func AcquireAll(ctx context.Context, l Locker, wait time.Duration, keys ...string) (Release, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]Release, 0, len(sorted))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue // Same resource named twice
		}
		last = key
		rel, err := l.Acquire(ctx, key, wait)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, rel)
	}
	return once(releaseAll), nil
}

func once(fn func()) Release {
	var o sync.Once
	return func() { o.Do(fn) }
}
