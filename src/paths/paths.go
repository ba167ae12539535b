// Package paths centralizes filesystem locations: the IPC socket, the
// daemon lock, log files, and screenshot output paths.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"

	"capit/src/config"
)

// DirEnvVar overrides the screenshot output directory when set.
const DirEnvVar = "CAPIT_DIR"

// runtimeDir is the per-user directory for IPC files (socket + lock).
// Prefers XDG_RUNTIME_DIR, falls back to /tmp.
func runtimeDir() string {
	base := xdg.RuntimeDir
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "capit")
}

// SocketPath returns the well-known IPC socket path,
// $XDG_RUNTIME_DIR/capit/capit.sock (fallback /tmp/capit/capit.sock).
func SocketPath() string {
	return filepath.Join(runtimeDir(), "capit.sock")
}

// LockPath returns the daemon instance lock path, next to the socket.
func LockPath() string {
	return filepath.Join(runtimeDir(), "capitd.lock")
}

// LogPath returns $XDG_STATE_HOME/capit/<file>.
func LogPath(file string) string {
	base := xdg.StateHome
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "capit", file)
}

// EnsureParentDir creates the parent directory of path if needed.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// OutputDir picks the screenshot directory. Priority:
// $CAPIT_DIR, config screenshot_directory, $XDG_RUNTIME_DIR, /tmp.
// Candidates that do not exist and cannot be created, or are not writable,
// fall through to the next one; the final fallback is the temp dir.
func OutputDir(cfg config.Config) string {
	candidates := []string{
		os.Getenv(DirEnvVar),
		cfg.ScreenshotDirectory,
		xdg.RuntimeDir,
	}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if writableDir(dir) {
			return dir
		}
	}
	return os.TempDir()
}

// writableDir reports whether dir exists (creating it if needed) and accepts
// file creation.
func writableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".capit-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// OutputResolver hands out screenshot file paths that are unique for the
// lifetime of the process. Plain second-granularity timestamps collide under
// rapid repeated captures, so same-second paths get a monotonic suffix, and
// paths already present on disk are skipped too.
type OutputResolver struct {
	mu       sync.Mutex
	lastUnix int64
	seq      int
	now      func() time.Time
}

// NewOutputResolver returns a resolver using the wall clock.
func NewOutputResolver() *OutputResolver {
	return &OutputResolver{now: time.Now}
}

// Next returns the path for the next screenshot inside dir,
// capit-<unix_timestamp>.png, disambiguated when needed.
func (r *OutputResolver) Next(dir string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().Unix()
	if ts == r.lastUnix {
		r.seq++
	} else {
		r.lastUnix = ts
		r.seq = 0
	}

	for {
		p := filepath.Join(dir, r.filename(ts))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		r.seq++
	}
}

func (r *OutputResolver) filename(ts int64) string {
	if r.seq == 0 {
		return fmt.Sprintf("capit-%d.png", ts)
	}
	return fmt.Sprintf("capit-%d-%d.png", ts, r.seq)
}
