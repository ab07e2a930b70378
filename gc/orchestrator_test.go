package gc

import (
	"context"
	"testing"
)

type noopLocker struct{ busy bool }

func (l *noopLocker) Lock(context.Context) error    { return nil }
func (l *noopLocker) Unlock(context.Context) error  { return nil }
func (l *noopLocker) TryLock(context.Context) (bool, error) {
	return !l.busy, nil
}

func TestRunCollectsResolvedTargets(t *testing.T) {
	var collected []string
	o := New()
	Register(o, Module[[]string]{
		Name:   "widgets",
		Locker: &noopLocker{},
		ReadSnapshot: func(context.Context) ([]string, error) {
			return []string{"a", "b", "c"}, nil
		},
		ResolveTargets: func(snap []string, _ map[string]any) []string {
			var stale []string
			for _, id := range snap {
				if id != "a" {
					stale = append(stale, id)
				}
			}
			return stale
		},
		Collect: func(_ context.Context, ids []string) error {
			collected = ids
			return nil
		},
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(collected) != 2 || collected[0] != "b" || collected[1] != "c" {
		t.Errorf("collected = %v, want [b c]", collected)
	}
}

func TestRunCallsCollectWithNilIDsForHousekeeping(t *testing.T) {
	called := false
	o := New()
	Register(o, Module[int]{
		Name:           "housekeeping",
		Locker:         &noopLocker{},
		ReadSnapshot:   func(context.Context) (int, error) { return 0, nil },
		ResolveTargets: func(int, map[string]any) []string { return nil },
		Collect: func(_ context.Context, ids []string) error {
			called = true
			if len(ids) != 0 {
				t.Errorf("ids = %v, want empty", ids)
			}
			return nil
		},
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !called {
		t.Error("Collect was not called despite an empty target list")
	}
}

func TestRunSkipsModuleWithBusyLock(t *testing.T) {
	readCalled := false
	o := New()
	Register(o, Module[int]{
		Name:   "locked",
		Locker: &noopLocker{busy: true},
		ReadSnapshot: func(context.Context) (int, error) {
			readCalled = true
			return 0, nil
		},
		ResolveTargets: func(int, map[string]any) []string { return nil },
		Collect:        func(context.Context, []string) error { return nil },
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if readCalled {
		t.Error("ReadSnapshot should not run when TryLock reports busy")
	}
}

func TestRunAggregatesCollectErrors(t *testing.T) {
	o := New()
	Register(o, Module[int]{
		Name:           "failing",
		Locker:         &noopLocker{},
		ReadSnapshot:   func(context.Context) (int, error) { return 0, nil },
		ResolveTargets: func(int, map[string]any) []string { return []string{"x"} },
		Collect: func(context.Context, []string) error {
			return errCollectFailed
		},
	})

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected an aggregated error from a failing Collect")
	}
}

var errCollectFailed = collectError("collect failed")

type collectError string

func (e collectError) Error() string { return string(e) }
