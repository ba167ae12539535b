package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const (
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

// Setup routes the standard logger to path with basic size-based rotation
// (10MB, max 3 archives). When verbose is set, lines are mirrored to stderr.
// When path is empty and verbose is off, logs are discarded.
func Setup(path string, verbose bool) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var sinks []io.Writer
	if verbose {
		sinks = append(sinks, os.Stderr)
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			rotateIfNeeded(path)
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				sinks = append(sinks, &rotatingWriter{f: f, path: path})
			} else {
				fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			}
		}
	}

	switch len(sinks) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(sinks[0])
	default:
		log.SetOutput(io.MultiWriter(sinks...))
	}
}

type rotatingWriter struct {
	f    *os.File
	path string
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	// naive rotation check per write
	if st, err := w.f.Stat(); err == nil && st.Size()+int64(len(p)) > maxSizeBytes {
		_ = w.f.Close()
		rotateIfNeeded(w.path)
		nf, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		w.f = nf
	}
	return w.f.Write(p)
}

func rotateIfNeeded(path string) {
	// If base exceeds max size, rotate: .1, .2, .3 (oldest discarded)
	if st, err := os.Stat(path); err == nil && st.Size() > maxSizeBytes {
		_ = os.Remove(archiveName(path, maxArchives))
		for i := maxArchives - 1; i >= 1; i-- {
			_ = os.Rename(archiveName(path, i), archiveName(path, i+1))
		}
		_ = os.Rename(path, archiveName(path, 1))
	}
}

func archiveName(path string, n int) string { return fmt.Sprintf("%s.%d", path, n) }
