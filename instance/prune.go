package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/zTrix/qemu-compose/gc"
	"github.com/zTrix/qemu-compose/lock/flock"
	"github.com/zTrix/qemu-compose/utils"
)

// pruneSnapshot is the per-instance state the prune module inspects: which
// instances exist, and for each, whether its lock is currently free and
// whether its persisted pid still names a live process.
type pruneSnapshot struct {
	instanceRoot string
	candidates   []string // vmids with a free lock and a dead (or absent) pid
}

// transientFiles are removed for a pruned instance; the persisted disk,
// key, and log artifacts spec §5 says must survive cleanup are left alone.
var transientFiles = []string{"qemu.pid"}

// isTransient matches the pid file and any virtiofsd socket, the entries
// Collect removes for a pruned instance.
func isTransient(e os.DirEntry) bool {
	if slices.Contains(transientFiles, e.Name()) {
		return true
	}
	matched, _ := filepath.Match("virtiofs-*.sock", e.Name())
	return matched
}

// NewPruneModule builds a gc.Module for the instance_root, adapting the
// teacher's generic gc.Module[S]/gc.Register/gc.Orchestrator pattern
// (gc/orchestrator.go, gc/runner.go) to the single "instance" subsystem —
// the "prune procedure" SPEC_FULL.md recovers from the original source's
// lock-ordering comment. It removes orphaned virtiofs sockets and pid
// files for instances whose lock is free and whose qemu.pid names a dead
// process; it never touches overlays, keys, or the session log.
func NewPruneModule(instanceRoot string) gc.Module[pruneSnapshot] {
	return gc.Module[pruneSnapshot]{
		Name:   "instance",
		Locker: flock.New(filepath.Join(instanceRoot, ".prune-lock")),
		ReadSnapshot: func(_ context.Context) (pruneSnapshot, error) {
			snap := pruneSnapshot{instanceRoot: instanceRoot}
			for _, vmid := range List(instanceRoot) {
				dir := filepath.Join(instanceRoot, vmid)
				l := flock.New(dir)
				held, err := l.TryLock(context.Background())
				if err != nil {
					continue
				}
				if !held {
					continue // a live session owns this instance; skip
				}
				pid, ok := ReadPID(dir)
				alive := ok && utils.IsProcessAlive(pid)
				_ = l.Unlock(context.Background())
				if !alive {
					snap.candidates = append(snap.candidates, vmid)
				}
			}
			return snap, nil
		},
		ResolveTargets: func(snap pruneSnapshot, _ map[string]any) []string {
			return snap.candidates
		},
		Collect: func(ctx context.Context, ids []string) error {
			var errs []error
			for _, vmid := range ids {
				dir := filepath.Join(instanceRoot, vmid)
				errs = append(errs, utils.RemoveMatching(ctx, dir, isTransient)...)
			}
			if len(errs) > 0 {
				return fmt.Errorf("prune: %v", errs)
			}
			return nil
		},
	}
}

// Prune runs one prune cycle over instanceRoot via a fresh gc.Orchestrator.
func Prune(ctx context.Context, instanceRoot string) error {
	o := gc.New()
	gc.Register(o, NewPruneModule(instanceRoot))
	return o.Run(ctx)
}
