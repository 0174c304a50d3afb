package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// versionLocks hands out one in-process slot per version. A buffered channel
// is used instead of a mutex so waiting can observe ctx.
type versionLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newVersionLocks() *versionLocks {
	return &versionLocks{slots: make(map[string]chan struct{})}
}

func (l *versionLocks) slot(version string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[version]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[version] = s
	}
	return s
}

// acquire takes the in-process slot for version, then the cross-process file
// lock when a lock directory is configured. The returned func releases both.
func (e *Engine) acquire(ctx context.Context, version string) (func(), error) {
	slot := e.locks.slot(version)
	if e.lockWait {
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case slot <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %s", ErrVersionLocked, version)
		}
	}
	releaseSlot := func() { <-slot }

	if e.lockDir == "" {
		return releaseSlot, nil
	}

	if err := os.MkdirAll(e.lockDir, 0755); err != nil {
		releaseSlot()
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(e.lockDir, version+".lock"))
	var (
		locked bool
		err    error
	)
	if e.lockWait {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		releaseSlot()
		return nil, fmt.Errorf("failed to acquire version lock: %w", err)
	}
	if !locked {
		releaseSlot()
		return nil, fmt.Errorf("%w: %s", ErrVersionLocked, version)
	}

	return func() {
		_ = fl.Unlock()
		releaseSlot()
	}, nil
}

// Waiting returns an engine over the same stores and locks that waits for a
// busy version instead of failing with ErrVersionLocked.
func (e *Engine) Waiting() *Engine {
	w := *e
	w.lockWait = true
	return &w
}
