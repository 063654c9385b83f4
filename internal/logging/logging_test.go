package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatorWritesDatedFile(t *testing.T) {
	tmp := t.TempDir()
	rot, err := NewRotator(filepath.Join(tmp, "arena.log"), 1<<20)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	defer rot.Close()

	if _, err := rot.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	want := filepath.Join(tmp, "arena-"+day+".log")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %s: %v", want, err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("content = %q", data)
	}
}

func TestRotatorRollsOverOnSize(t *testing.T) {
	tmp := t.TempDir()
	rot, err := NewRotator(filepath.Join(tmp, "arena.log"), 10)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	defer rot.Close()

	for i := 0; i < 3; i++ {
		if _, err := rot.Write([]byte("0123456789")); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected size rollover to create more files, got %v", names)
	}
}

func TestDiscardPaths(t *testing.T) {
	for _, path := range []string{"", "-", "  "} {
		rot, err := NewRotator(path, 1)
		if err != nil {
			t.Fatalf("NewRotator(%q): %v", path, err)
		}
		if _, err := rot.Write([]byte("dropped")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		rot.Close()
	}
}

func TestNewLoggerPrefix(t *testing.T) {
	tmp := t.TempDir()
	logger, closer, err := NewLogger("arenad", filepath.Join(tmp, "d.log"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closer.Close()
	logger.Printf("boot")

	day := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tmp, "d-"+day+".log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "[arenad] ") || !strings.Contains(string(data), "boot") {
		t.Fatalf("log line = %q", data)
	}
}
