package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to date-stamped log files, starting a new file at
// each UTC day boundary and whenever a write would push the current file
// past MaxBytes. For a base path logs/xagent.log the output files are
// logs/xagent-2026-08-26.log, logs/xagent-2026-08-26-2.log and so on, with
// the base path kept as a symlink to the active file.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu      sync.Mutex
	day     string // UTC date of the open file, YYYY-MM-DD
	seq     int    // same-day sequence, 1 = first file of the day
	f       *os.File
	written int64
}

// NewRotatingWriter opens a writer rooted at basePath. A basePath of "-"
// discards all output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	w := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes}
	if err := w.roll(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// roll opens a fresh file when the UTC day changed or when writing the
// incoming bytes would exceed MaxBytes.
func (w *RotatingWriter) roll(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case w.f == nil || w.day != today:
		w.day = today
		w.seq = 1
	case w.written+incoming > w.MaxBytes:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.f != nil {
		_ = w.f.Close()
	}
	dir := filepath.Dir(w.BasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, w.fileName())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.f = f
	w.written = 0
	if st, err := f.Stat(); err == nil {
		w.written = st.Size()
	}
	w.point(path)
	return nil
}

// fileName stamps the base name with the current day and, past the first
// file of the day, the sequence number.
func (w *RotatingWriter) fileName() string {
	name := filepath.Base(w.BasePath)
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".log"
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if w.seq > 1 {
		return fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.seq, ext)
	}
	return fmt.Sprintf("%s-%s%s", stem, w.day, ext)
}

// point keeps BasePath resolving to the active file so tail -F on the base
// path follows rotations. Filesystems without symlink support get a plain
// file naming the target instead.
func (w *RotatingWriter) point(target string) {
	if info, err := os.Lstat(w.BasePath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(w.BasePath); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(w.BasePath)
	}
	if os.Symlink(target, w.BasePath) == nil {
		return
	}
	if f, err := os.OpenFile(w.BasePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		fmt.Fprintf(f, "current log file: %s\n", target)
		f.Close()
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
