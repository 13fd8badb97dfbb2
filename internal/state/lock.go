package state

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"surfwright/internal/types"
)

// lockRetryInitial, lockRetryCap, and lockRetryBudget shape the bounded
// exponential backoff used while waiting for the state lock file: start at
// 10ms, double up to a 200ms ceiling, give up once the cumulative wait
// would exceed 2s.
const (
	lockRetryInitial = 10 * time.Millisecond
	lockRetryCap     = 200 * time.Millisecond
	lockRetryBudget  = 2 * time.Second
)

// fileLock wraps an advisory BSD flock on the state directory's lock file.
// It is the State Store's only cross-process write barrier (spec §4.5).
type fileLock struct {
	f *os.File
}

// acquireLock opens (creating if absent) <stateRoot>/.lock and blocks,
// with bounded backoff, until an exclusive advisory lock is held or the
// retry budget is exhausted.
func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, false, "open state lock: %v", err)
	}

	wait := lockRetryInitial
	deadline := time.Now().Add(lockRetryBudget)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, types.NewError(types.ErrStateLocked, true, "state lock held by another process after %s", lockRetryBudget)
		}
		time.Sleep(wait)
		wait *= 2
		if wait > lockRetryCap {
			wait = lockRetryCap
		}
	}
}

// release drops the advisory lock and closes the underlying file handle.
func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
