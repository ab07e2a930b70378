package types

import (
	"reflect"
	"testing"
)

func TestRuntimeConfigMergeOverrideScalars(t *testing.T) {
	base := RuntimeConfig{Name: "base", Binary: "qemu-system-x86_64", Image: "alpine"}
	override := RuntimeConfig{Name: "override"}
	got := base.MergeOverride(override)
	if got.Name != "override" {
		t.Errorf("Name = %q, want override", got.Name)
	}
	if got.Binary != "qemu-system-x86_64" {
		t.Errorf("Binary should be unchanged, got %q", got.Binary)
	}
	if got.Image != "alpine" {
		t.Errorf("Image should be unchanged, got %q", got.Image)
	}
}

func TestRuntimeConfigMergeOverrideEnvMerges(t *testing.T) {
	base := RuntimeConfig{Env: map[string]string{"A": "1", "B": "2"}}
	override := RuntimeConfig{Env: map[string]string{"B": "override", "C": "3"}}
	got := base.MergeOverride(override)
	want := map[string]string{"A": "1", "B": "override", "C": "3"}
	if !reflect.DeepEqual(got.Env, want) {
		t.Errorf("Env = %+v, want %+v", got.Env, want)
	}
}

func TestRuntimeConfigMergeOverrideSlicesReplaceWholesale(t *testing.T) {
	base := RuntimeConfig{Ports: []string{"8080:80"}}
	override := RuntimeConfig{Ports: []string{"2222:22"}}
	got := base.MergeOverride(override)
	if len(got.Ports) != 1 || got.Ports[0] != "2222:22" {
		t.Errorf("Ports = %+v, want [2222:22]", got.Ports)
	}
}

func TestRuntimeConfigMergeOverrideNilLeavesBaseUntouched(t *testing.T) {
	base := RuntimeConfig{Ports: []string{"8080:80"}}
	got := base.MergeOverride(RuntimeConfig{})
	if len(got.Ports) != 1 || got.Ports[0] != "8080:80" {
		t.Errorf("Ports = %+v, want unchanged [8080:80]", got.Ports)
	}
}

func TestRuntimeConfigInitSetsEnvMap(t *testing.T) {
	var c RuntimeConfig
	c.Init()
	if c.Env == nil {
		t.Error("Init should allocate a non-nil Env map")
	}
}
