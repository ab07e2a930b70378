package gc

import (
	"context"

	"github.com/zTrix/qemu-compose/lock"
)

// Module describes one GC-able subsystem. S is the shape of the snapshot
// this module reads under lock and hands to ResolveTargets; other modules'
// snapshots are visible to ResolveTargets only as map[string]any, since the
// Orchestrator holds a heterogeneous slice of modules with different S.
type Module[S any] struct {
	Name   string
	Locker lock.Locker

	// ReadSnapshot is called with the module's lock held.
	ReadSnapshot func(ctx context.Context) (S, error)
	// ResolveTargets runs with no locks held; it decides which ids are
	// eligible for Collect given this module's typed snapshot and every
	// snapshotted module's untyped snapshot.
	ResolveTargets func(snap S, others map[string]any) []string
	// Collect runs with the module's lock re-acquired; it is called even
	// when ids is empty so a module can perform plain housekeeping.
	Collect func(ctx context.Context, ids []string) error
}

// Register adds a typed Module to the Orchestrator. A package-level function
// because Go methods cannot carry their own type parameters.
func Register[S any](o *Orchestrator, m Module[S]) {
	o.modules = append(o.modules, &typedRunner[S]{m: m})
}

type typedRunner[S any] struct{ m Module[S] }

func (r *typedRunner[S]) getName() string        { return r.m.Name }
func (r *typedRunner[S]) getLocker() lock.Locker { return r.m.Locker }

func (r *typedRunner[S]) readSnapshot(ctx context.Context) (any, error) {
	return r.m.ReadSnapshot(ctx)
}

func (r *typedRunner[S]) resolveTargets(snap any, others map[string]any) []string {
	typed, ok := snap.(S)
	if !ok {
		return nil
	}
	return r.m.ResolveTargets(typed, others)
}

func (r *typedRunner[S]) collect(ctx context.Context, ids []string) error {
	return r.m.Collect(ctx, ids)
}
