package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"capit/src/paths"
)

// ErrAlreadyRunning is returned when another daemon holds the instance lock.
type ErrAlreadyRunning struct {
	Path string
}

func (e ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("capitd already running (lock held at %s)", e.Path)
}

// InstanceLock guards against a second daemon racing for the socket. The
// flock is released by the kernel if the process dies, so stale locks from
// crashes cannot wedge a restart.
type InstanceLock struct {
	path string
	f    *os.File
}

// AcquireLock takes the per-user daemon lock, writing the PID for
// debugging.
func AcquireLock(path string) (*InstanceLock, error) {
	if err := paths.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrAlreadyRunning{Path: path}
	}

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "pid=%d\n", os.Getpid())
	_ = f.Sync()
	return &InstanceLock{path: path, f: f}, nil
}

// Release drops the lock and removes the file. Best-effort.
func (l *InstanceLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = os.Remove(l.path)
	_ = l.f.Close()
	l.f = nil
}
