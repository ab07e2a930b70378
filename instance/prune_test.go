package instance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPruneRemovesTransientFilesOfDeadUnlockedInstance(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "vm1")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("setup: %v", err)
	}
	// A pid that will never be alive on the test host: use an out-of-range value.
	if err := os.WriteFile(filepath.Join(dir, "qemu.pid"), []byte("999999999"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	sockPath := filepath.Join(dir, "virtiofs-root.sock")
	if err := os.WriteFile(sockPath, []byte{}, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	diskPath := filepath.Join(dir, "disk0.qcow2")
	if err := os.WriteFile(diskPath, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := Prune(context.Background(), root); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "qemu.pid")); !os.IsNotExist(err) {
		t.Errorf("qemu.pid should have been removed, stat err = %v", err)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Errorf("virtiofs socket should have been removed, stat err = %v", err)
	}
	if _, err := os.Stat(diskPath); err != nil {
		t.Errorf("disk overlay must survive prune, stat err = %v", err)
	}
}

func TestPruneLeavesLockedInstanceAlone(t *testing.T) {
	root := t.TempDir()
	sess, err := CreateAndLock(context.Background(), root, "vm2")
	if err != nil {
		t.Fatalf("CreateAndLock() error = %v", err)
	}
	defer func() { _ = sess.Unlock(context.Background()) }()

	if err := sess.WritePID(999999999); err != nil {
		t.Fatalf("WritePID() error = %v", err)
	}

	if err := Prune(context.Background(), root); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(sess.Dir, "qemu.pid")); err != nil {
		t.Errorf("qemu.pid of a locked instance must survive prune, stat err = %v", err)
	}
}

func TestPruneEmptyRootIsNoop(t *testing.T) {
	if err := Prune(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Prune() on an empty root error = %v", err)
	}
}
