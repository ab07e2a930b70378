// Package instance implements the Instance Directory & Lock component
// (spec §4.3): creating and exclusively locking the per-vmid directory for
// the session's duration, plus the persisted metadata files spec §6 names
// and the instance-side resolve-by-ref algorithm (supplemented from the
// original's instance/name.py and instance/__init__.py:list_instance_ids).
package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zTrix/qemu-compose/lock"
	"github.com/zTrix/qemu-compose/lock/flock"
	"github.com/zTrix/qemu-compose/qerr"
	"github.com/zTrix/qemu-compose/utils"
)

// Session owns the instance directory and its lock for the lifetime of one
// lifecycle engine run. Unlock must be called on every exit path (spec §5).
type Session struct {
	VMID string
	Dir  string

	locker lock.Locker
}

// CreateAndLock creates "<instanceRoot>/<vmid>/" with parents and takes an
// exclusive non-blocking advisory lock on it. Failure to acquire the lock
// is immediate and fatal for the session (qerr.LockBusy); directory creation
// failure surfaces as qerr.DirectoryCreate.
func CreateAndLock(ctx context.Context, instanceRoot, vmid string) (*Session, error) {
	dir := filepath.Join(instanceRoot, vmid)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, qerr.DirectoryCreate(dir, err)
	}

	// flock(2) on a directory fd is valid and is exactly "open the
	// directory for read [and] take an exclusive advisory lock" (spec
	// §4.3); lock/flock opens a directory target read-only and without
	// O_CREATE, so the directory itself is locked rather than a file inside it.
	l := flock.New(dir)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindLockBusy, err, "lock instance %s", vmid)
	}
	if !ok {
		return nil, qerr.LockBusy(vmid)
	}

	return &Session{VMID: vmid, Dir: dir, locker: l}, nil
}

// Unlock releases the instance-directory lock. Idempotent.
func (s *Session) Unlock(ctx context.Context) error {
	if s == nil || s.locker == nil {
		return nil
	}
	return s.locker.Unlock(ctx)
}

// WriteName persists the VM name (spec §6's "name" file).
func (s *Session) WriteName(name string) error {
	return os.WriteFile(filepath.Join(s.Dir, "name"), []byte(name+"\n"), 0o644) //nolint:mnd
}

// WriteCID persists the decimal guest CID (spec §6's "cid" file).
func (s *Session) WriteCID(cid uint32) error {
	return os.WriteFile(filepath.Join(s.Dir, "cid"), []byte(strconv.FormatUint(uint64(cid), 10)+"\n"), 0o644) //nolint:mnd
}

// WritePID persists the VMM pid (spec §6's "qemu.pid" file); writing an
// empty pid (VMM not yet launched) is valid.
func (s *Session) WritePID(pid int) error {
	val := ""
	if pid > 0 {
		val = strconv.Itoa(pid)
	}
	return os.WriteFile(filepath.Join(s.Dir, "qemu.pid"), []byte(val+"\n"), 0o644) //nolint:mnd
}

// WriteInstanceID persists the vmid itself (spec §6's "instance-id" file).
func (s *Session) WriteInstanceID() error {
	return os.WriteFile(filepath.Join(s.Dir, "instance-id"), []byte(s.VMID+"\n"), 0o644) //nolint:mnd
}

// ReadName reads a persisted "name" file from an arbitrary instance
// directory (used by list/resolve without holding the instance's lock).
func ReadName(instanceDir string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(instanceDir, "name"))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(raw)), true
}

// ReadCID reads a persisted "cid" file, returning (0, false) if absent,
// empty, or unparseable.
func ReadCID(instanceDir string) (uint32, bool) {
	raw, err := os.ReadFile(filepath.Join(instanceDir, "cid"))
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, false
	}
	cid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(cid), true
}

// ReadPID reads a persisted "qemu.pid" file, returning (0, false) if absent
// or empty.
func ReadPID(instanceDir string) (int, bool) {
	raw, err := os.ReadFile(filepath.Join(instanceDir, "qemu.pid"))
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, false
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// List returns every vmid under instanceRoot in lexicographic order
// (original's list_instance_ids).
func List(instanceRoot string) []string {
	ids := utils.ScanSubdirs(instanceRoot)
	sort.Strings(ids)
	return ids
}

// ResolveByPrefix resolves token against instanceRoot using the same
// exact-id/unique-prefix algorithm as the Image Registry (spec §4.1); the
// two packages each carry their own copy of it rather than a shared helper.
// Instances additionally resolve by their persisted name first.
func ResolveByPrefix(instanceRoot, token string) (string, []string) {
	ids := List(instanceRoot)

	for _, id := range ids {
		if name, ok := ReadName(filepath.Join(instanceRoot, id)); ok && name == token {
			return id, []string{id}
		}
	}

	for _, id := range ids {
		if id == token {
			return id, []string{id}
		}
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, token) {
			matches = append(matches, id)
		}
	}
	if len(matches) == 1 {
		return matches[0], matches
	}
	return "", matches
}

// Resolve resolves token to a vmid or fails with qerr.InstanceNotFound /
// qerr.Ambiguous, mirroring image.Resolve's contract.
func Resolve(instanceRoot, token string) (string, error) {
	id, candidates := ResolveByPrefix(instanceRoot, token)
	if id != "" {
		return id, nil
	}
	if len(candidates) == 0 {
		return "", qerr.InstanceNotFound(token)
	}
	return "", qerr.Ambiguous("instance", token, candidates)
}

// CheckAndGetName validates a requested name is free, or returns an error;
// name generation itself is delegated to identity.AssertUniqueName, which
// this package's callers (session orchestration) invoke directly — kept
// here only as a thin documented alias to spec-name the operation the same
// way spec §4.2/§8 do ("check_and_lock").
func CheckAndGetName(instanceRoot, requested string) error {
	if requested == "" {
		return nil
	}
	_, owners, err := existingNamesForCheck(instanceRoot)
	if err != nil {
		return err
	}
	if owner, ok := owners[requested]; ok {
		return qerr.NameInUse(requested, owner)
	}
	return nil
}

func existingNamesForCheck(instanceRoot string) (map[string]struct{}, map[string]string, error) {
	existing := map[string]struct{}{}
	owners := map[string]string{}
	entries, err := os.ReadDir(instanceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return existing, owners, nil
		}
		return nil, nil, fmt.Errorf("list instance root %s: %w", instanceRoot, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, ok := ReadName(filepath.Join(instanceRoot, e.Name()))
		if !ok || name == "" {
			continue
		}
		existing[name] = struct{}{}
		owners[name] = e.Name()
	}
	return existing, owners, nil
}
