package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestToHostname(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "web-1", "web-1"},
		{"uppercase lowered", "Web", "web"},
		{"spaces collapse to dash", "my vm name", "my-vm-name"},
		{"runs of invalid chars collapse", "foo___bar", "foo-bar"},
		{"leading and trailing dashes trimmed", "-foo-", "foo"},
		{"empty becomes vm", "", "vm"},
		{"only invalid chars becomes vm", "!!!", "vm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToHostname(tt.in); got != tt.want {
				t.Errorf("ToHostname(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToHostnameTruncatesTo63(t *testing.T) {
	in := strings.Repeat("a", 100)
	got := ToHostname(in)
	if len(got) != 63 {
		t.Errorf("len(ToHostname(...)) = %d, want 63", len(got))
	}
}

func TestToHostnameIdempotent(t *testing.T) {
	tests := []string{"Web Server 1", "already-valid", "!!!", ""}
	for _, in := range tests {
		once := ToHostname(in)
		twice := ToHostname(once)
		if once != twice {
			t.Errorf("ToHostname not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNewVMIDLengthAndAlphabet(t *testing.T) {
	dir := t.TempDir()
	vmid, err := NewVMID(dir)
	if err != nil {
		t.Fatalf("NewVMID() error = %v", err)
	}
	if len(vmid) != vmidLength {
		t.Errorf("len(vmid) = %d, want %d", len(vmid), vmidLength)
	}
	for _, r := range vmid {
		if !strings.ContainsRune(vmidAlphabet, r) {
			t.Errorf("vmid %q contains char %q not in alphabet", vmid, r)
		}
	}
}

func TestNewVMIDAvoidsExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	first, err := NewVMID(dir)
	if err != nil {
		t.Fatalf("NewVMID() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, first), 0o750); err != nil {
		t.Fatalf("setup mkdir: %v", err)
	}
	second, err := NewVMID(dir)
	if err != nil {
		t.Fatalf("NewVMID() error = %v", err)
	}
	if second == first {
		t.Error("NewVMID should not repeat a vmid whose directory already exists")
	}
}

type fakeNameGenerator struct{ name string }

func (f fakeNameGenerator) Generate(map[string]struct{}) string { return f.name }

func TestAssertUniqueNameRequestedFree(t *testing.T) {
	dir := t.TempDir()
	name, err := AssertUniqueName(dir, "web", nil)
	if err != nil {
		t.Fatalf("AssertUniqueName() error = %v", err)
	}
	if name != "web" {
		t.Errorf("name = %q, want web", name)
	}
}

func TestAssertUniqueNameRejectsCollision(t *testing.T) {
	dir := t.TempDir()
	instDir := filepath.Join(dir, "abc123")
	if err := os.MkdirAll(instDir, 0o750); err != nil {
		t.Fatalf("setup mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(instDir, "name"), []byte("web\n"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}
	if _, err := AssertUniqueName(dir, "web", nil); err == nil {
		t.Error("expected error for name already in use")
	}
}

func TestAssertUniqueNameGeneratesWhenUnset(t *testing.T) {
	dir := t.TempDir()
	name, err := AssertUniqueName(dir, "", fakeNameGenerator{name: "generated-name"})
	if err != nil {
		t.Fatalf("AssertUniqueName() error = %v", err)
	}
	if name != "generated-name" {
		t.Errorf("name = %q, want generated-name", name)
	}
}
