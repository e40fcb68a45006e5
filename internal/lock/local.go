package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gold_tally/internal/domain"
)

// Local is an in-process Locker backed by one-slot channels
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an empty in-process locker
func NewLocal() *Local {
	return &Local{slots: map[string]chan struct{}{}}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements Locker. A zero wait tries exactly once.
func (l *Local) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	ch := l.slot(key)
	release := once(func() { <-ch })

	if wait <= 0 {
		select {
		case ch <- struct{}{}:
			return release, nil
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return release, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
