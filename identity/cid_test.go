package identity

import (
	"errors"
	"os"
	"testing"

	"github.com/zTrix/qemu-compose/qerr"
)

// TestAllocateCIDWithoutDeviceReturnsNoCIDAvailable exercises the failure
// path that runs on any host without /dev/vhost-vsock (most CI runners and
// non-KVM sandboxes): AllocateCID must fail with the typed NoCIDAvailable
// error rather than a bare open() error, since cmd/ dispatches on Kind.
func TestAllocateCIDWithoutDeviceReturnsNoCIDAvailable(t *testing.T) {
	if _, err := os.Stat(vsockDevicePath); err == nil {
		t.Skip("this host has /dev/vhost-vsock; allocation-failure path not exercisable here")
	}
	_, err := AllocateCID()
	if err == nil {
		t.Fatal("expected an error when the vsock control device is absent")
	}
	var qe *qerr.Error
	if !errors.As(err, &qe) {
		t.Fatalf("expected a *qerr.Error, got %T: %v", err, err)
	}
	if qe.Kind != qerr.KindNoCIDAvailable {
		t.Errorf("Kind = %v, want KindNoCIDAvailable", qe.Kind)
	}
}

func TestCIDAllocatorReleaseIsNilSafe(t *testing.T) {
	var a *CIDAllocator
	if err := a.Release(); err != nil {
		t.Errorf("Release() on nil allocator should be a no-op, got %v", err)
	}
}
