// Package logging provides the gateway's log setup: a size- and day-rotated
// file writer, mirrored to stdout, behind a stdlib *log.Logger with a
// per-component prefix.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes bounds a single log file before same-day rollover.
const DefaultMaxBytes = 64 << 20

// Rotator is an io.WriteCloser that starts a new file on each UTC day and
// rolls to an indexed sibling when the current file would exceed maxBytes.
// Files are named <base>-YYYY-MM-DD.log, then <base>-YYYY-MM-DD-2.log and
// so on within a day.
type Rotator struct {
	basePath string
	maxBytes int64

	mu    sync.Mutex
	day   string
	index int
	file  *os.File
	size  int64
}

// NewRotator opens a rotator for the logical path basePath. An empty path
// or "-" discards all writes.
func NewRotator(basePath string, maxBytes int64) (io.WriteCloser, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" || basePath == "-" {
		return nopCloser{io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	r := &Rotator{basePath: basePath, maxBytes: maxBytes}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rollLocked(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rollLocked(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Rotator) rollLocked(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case r.file == nil || r.day != today:
		r.day = today
		r.index = 1
	case r.size+incoming > r.maxBytes:
		r.index++
	default:
		return nil
	}
	return r.openLocked()
}

func (r *Rotator) openLocked() error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	dir := filepath.Dir(r.basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Base(r.basePath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	suffix := ""
	if r.index > 1 {
		suffix = fmt.Sprintf("-%d", r.index)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s.log", stem, r.day, suffix))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = st.Size()
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewLogger returns a component-prefixed logger writing to the rotated
// file (if filePath is non-empty) mirrored to stdout. The returned closer
// releases the file handle.
func NewLogger(component, filePath string) (*log.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{io.Discard}
	if strings.TrimSpace(filePath) != "" {
		rot, err := NewRotator(filePath, DefaultMaxBytes)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds), closer, nil
}
