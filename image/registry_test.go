package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zTrix/qemu-compose/qerr"
)

func writeManifest(t *testing.T, imageRoot, id, body string) {
	t.Helper()
	dir := filepath.Join(imageRoot, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("setup mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("setup write manifest: %v", err)
	}
}

const alpineManifest = `{
	"id": "alpine123",
	"architecture": "x86_64",
	"os": "linux",
	"created": "2026-01-01T00:00:00Z",
	"repo_tags": ["alpine:latest", "alpine:3.19"],
	"disks": [["disk0.qcow2", "qcow2", ""]],
	"qemu_args": ["-smp", "2"],
	"digest": "sha256:deadbeefcafedeadbeefcafedeadbeefcafedeadbeefcafedeadbeefcafe00"
}`

func TestLoadByID(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)

	m, err := LoadByID(root, "alpine123")
	if err != nil {
		t.Fatalf("LoadByID() error = %v", err)
	}
	if m.ID != "alpine123" {
		t.Errorf("ID = %q, want alpine123", m.ID)
	}
	if len(m.RepoTags) != 2 {
		t.Errorf("len(RepoTags) = %d, want 2", len(m.RepoTags))
	}
	if len(m.Disks) != 1 || m.Disks[0].Filename != "disk0.qcow2" {
		t.Errorf("Disks = %+v", m.Disks)
	}
}

func TestLoadByIDMissingDirectory(t *testing.T) {
	root := t.TempDir()
	if _, err := LoadByID(root, "nope"); err == nil {
		t.Error("expected error for a nonexistent image directory")
	}
}

func TestListSkipsMalformedManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)
	writeManifest(t, root, "broken", "{not json")

	manifests := List(context.Background(), root)
	if len(manifests) != 1 {
		t.Fatalf("List() returned %d manifests, want 1", len(manifests))
	}
	if manifests[0].ID != "alpine123" {
		t.Errorf("ID = %q, want alpine123", manifests[0].ID)
	}
}

func TestLoadByName(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)

	m, ok := LoadByName(root, "alpine:3.19")
	if !ok {
		t.Fatal("LoadByName() did not find alpine:3.19")
	}
	if m.ID != "alpine123" {
		t.Errorf("ID = %q, want alpine123", m.ID)
	}

	m, ok = LoadByName(root, "alpine")
	if !ok || m.ID != "alpine123" {
		t.Error("LoadByName() should match a bare name against the :latest tag")
	}

	if _, ok := LoadByName(root, "missing"); ok {
		t.Error("LoadByName() should not match an unknown name")
	}
}

func TestResolveByPrefixExactAndUnique(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)
	writeManifest(t, root, "alpine999", alpineManifest)

	id, matches := ResolveByPrefix(root, "alpine123")
	if id != "alpine123" {
		t.Errorf("exact match id = %q, want alpine123", id)
	}
	if len(matches) != 1 {
		t.Errorf("exact match candidates = %+v, want 1", matches)
	}

	id, matches = ResolveByPrefix(root, "alpine1")
	if id != "alpine123" {
		t.Errorf("unique prefix id = %q, want alpine123", id)
	}
	_ = matches

	id, matches = ResolveByPrefix(root, "alpine")
	if id != "" || len(matches) != 2 {
		t.Errorf("ambiguous prefix: id = %q, matches = %+v", id, matches)
	}
}

func TestResolvePrefersNameOverID(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)

	m, err := Resolve(root, "alpine:3.19")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if m.ID != "alpine123" {
		t.Errorf("ID = %q, want alpine123", m.ID)
	}
}

func TestResolveNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "nope")
	var qe *qerr.Error
	if !errors.As(err, &qe) || qe.Kind != qerr.KindImageNotFound {
		t.Errorf("expected qerr.KindImageNotFound, got %v", err)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpine123", alpineManifest)
	writeManifest(t, root, "alpine999", alpineManifest)

	_, err := Resolve(root, "alpine")
	var qe *qerr.Error
	if !errors.As(err, &qe) || qe.Kind != qerr.KindAmbiguous {
		t.Errorf("expected qerr.KindAmbiguous, got %v", err)
	}
}

func TestShortDigestHash(t *testing.T) {
	got := ShortDigestHash("sha256:deadbeefcafedeadbeefcafedeadbeefcafedeadbeefcafedeadbeefcafe00")
	if got != "deadbeefcafe" {
		t.Errorf("ShortDigestHash() = %q, want deadbeefcafe", got)
	}
}

func TestShortDigestHashFallsBackOnUnparseableDigest(t *testing.T) {
	got := ShortDigestHash("not-a-valid-digest")
	if got == "" {
		t.Error("ShortDigestHash() should fall back rather than return empty")
	}
}
