package identity

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zTrix/qemu-compose/qerr"
)

// vsockDevicePath is the host control device used to reserve guest CIDs.
const vsockDevicePath = "/dev/vhost-vsock"

// vhostVsockSetGuestCID is VHOST_VSOCK_SET_GUEST_CID, an ioctl taking a
// pointer to a u64 guest CID (_IOW(0xAF, 0x60, __u64)). No higher-level
// wrapper for this vsock control op exists in the pack or the broader
// ecosystem, so it is issued directly via golang.org/x/sys/unix (see
// DESIGN.md for why this is the one place raw syscalls are unavoidable).
const vhostVsockSetGuestCID = 0x4008AF60

const (
	firstGuestCID = 1000
	maxGuestCID   = 0xFFFFFFFF - 1 // spec: "incrementing to U32_MAX−1"
)

// CIDAllocator reserves one guest CID for the session's lifetime by holding
// the vsock control device open; closing it releases the CID back to the
// kernel (spec §4.2, §5 "global mutable state").
type CIDAllocator struct {
	fd  int
	cid uint32
}

// AllocateCID opens /dev/vhost-vsock and walks candidate CIDs starting at
// 1000 until VHOST_VSOCK_SET_GUEST_CID succeeds. EADDRINUSE advances to the
// next candidate; any other ioctl error, or failure to open the device,
// fails immediately with qerr.NoCIDAvailable.
func AllocateCID() (*CIDAllocator, error) {
	fd, err := unix.Open(vsockDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, qerr.NoCIDAvailable(fmt.Errorf("open %s: %w", vsockDevicePath, err))
	}
	for cid := uint32(firstGuestCID); cid <= maxGuestCID; cid++ {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(cid))
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(vhostVsockSetGuestCID), uintptr(unsafe.Pointer(&buf[0]))); errno != 0 { //nolint:gosec
			if errno == unix.EADDRINUSE {
				continue
			}
			_ = unix.Close(fd)
			return nil, qerr.NoCIDAvailable(fmt.Errorf("ioctl SET_GUEST_CID(%d): %w", cid, errno))
		}
		return &CIDAllocator{fd: fd, cid: cid}, nil
	}
	_ = unix.Close(fd)
	return nil, qerr.NoCIDAvailable(fmt.Errorf("exhausted guest CID space"))
}

// CID returns the reserved guest context id.
func (a *CIDAllocator) CID() uint32 { return a.cid }

// Release closes the control-device handle, returning the CID to the pool.
func (a *CIDAllocator) Release() error {
	if a == nil || a.fd < 0 {
		return nil
	}
	err := unix.Close(a.fd)
	a.fd = -1
	return err
}
