package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "xagent.log")
	w, err := NewRotatingWriter(base, 1024)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	dated := filepath.Join(dir, "xagent-"+day+".log")
	data, err := os.ReadFile(dated)
	if err != nil {
		t.Fatalf("read dated file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("dated file contents = %q", data)
	}
}

func TestRotatingWriterRollsOverOnSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "xagent.log")
	w, err := NewRotatingWriter(base, 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("overflow")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	rolled := filepath.Join(dir, "xagent-"+day+"-2.log")
	if _, err := os.Stat(rolled); err != nil {
		t.Fatalf("rolled file missing: %v", err)
	}
}

func TestRotatingWriterDashDiscards(t *testing.T) {
	w, err := NewRotatingWriter("-", 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if n, err := w.Write([]byte("dropped")); err != nil || n != len("dropped") {
		t.Fatalf("discard write = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSetupWithoutFile(t *testing.T) {
	logger, closer, err := Setup("[test] ", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if logger == nil || closer != nil {
		t.Fatalf("logger=%v closer=%v", logger, closer)
	}
}

func TestSetupWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closer, err := Setup("[test] ", path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if closer == nil {
		t.Fatal("expected closer for file logger")
	}
	logger.Printf("line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
