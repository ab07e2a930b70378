package sshkey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateWritesKeyFiles(t *testing.T) {
	dir := t.TempDir()
	kp, err := Generate(dir, "abc123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	privPath := filepath.Join(dir, "ssh-key")
	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}

	if _, err := os.Stat(filepath.Join(dir, "ssh-key.pub")); err != nil {
		t.Errorf("public key not written: %v", err)
	}

	if !strings.Contains(string(kp.PublicLine), "qemu-compose-abc123") {
		t.Errorf("public line missing vmid comment: %s", kp.PublicLine)
	}
}

func TestGenerateProducesParseableKeyPair(t *testing.T) {
	dir := t.TempDir()
	kp, err := Generate(dir, "abc123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	signer, err := ssh.ParsePrivateKey(kp.PrivatePEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(kp.PublicLine)
	if err != nil {
		t.Fatalf("ParseAuthorizedKey() error = %v", err)
	}

	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Error("private and public key do not correspond to the same keypair")
	}
}

func TestLoadPublicLineRoundTrips(t *testing.T) {
	dir := t.TempDir()
	kp, err := Generate(dir, "abc123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	loaded, err := LoadPublicLine(dir)
	if err != nil {
		t.Fatalf("LoadPublicLine() error = %v", err)
	}
	if string(loaded) != string(kp.PublicLine) {
		t.Errorf("LoadPublicLine() = %q, want %q", loaded, kp.PublicLine)
	}
}

func TestLoadPublicLineMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPublicLine(dir); err == nil {
		t.Error("expected an error reading a nonexistent public key")
	}
}
