package overlay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRediscoverOrdersAndTagsQcow2Files(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"disk1.qcow2", "disk0.qcow2", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("not a real qcow2 image"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	entries, err := Rediscover(context.Background(), dir)
	if err != nil {
		t.Fatalf("Rediscover() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if filepath.Base(entries[0].Path) != "disk0.qcow2" || filepath.Base(entries[1].Path) != "disk1.qcow2" {
		t.Errorf("entries not in lexicographic order: %+v", entries)
	}
	for _, e := range entries {
		if e.Spec.Opts != "if=virtio" {
			t.Errorf("Spec.Opts = %q, want if=virtio", e.Spec.Opts)
		}
		if e.Spec.Format == "" {
			t.Errorf("Spec.Format should never be empty (falls back to qcow2)")
		}
	}
}

func TestRediscoverEmptyDirectory(t *testing.T) {
	entries, err := Rediscover(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Rediscover() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestProbeFormatFallsBackOnGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk0.qcow2")
	if err := os.WriteFile(path, []byte("not a real qcow2 image"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := probeFormat(context.Background(), path); got != "qcow2" {
		t.Errorf("probeFormat() = %q, want qcow2 fallback", got)
	}
}
