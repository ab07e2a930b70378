package qemuargs

import (
	"strings"
	"testing"

	"github.com/zTrix/qemu-compose/types"
)

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		name         string
		spec         string
		wantProto    string
		wantHostIP   string
		wantHostPort string
		wantVMPort   string
		wantOK       bool
	}{
		{"host:vm defaults tcp", "8080:80", "tcp", "", "8080", "80", true},
		{"explicit udp", "53:53/udp", "udp", "", "53", "53", true},
		{"explicit tcp", "8080:80/tcp", "tcp", "", "8080", "80", true},
		{"unknown proto falls back to tcp", "8080:80/sctp", "tcp", "", "8080", "80", true},
		{"host ip form", "127.0.0.1:8080:80", "tcp", "127.0.0.1", "8080", "80", true},
		{"malformed spec rejected", "justaport", "", "", "", "", false},
		{"too many segments rejected", "a:b:c:d", "", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proto, hostIP, hostPort, vmPort, ok := ParsePortSpec(tt.spec)
			if proto != tt.wantProto || hostIP != tt.wantHostIP || hostPort != tt.wantHostPort || vmPort != tt.wantVMPort || ok != tt.wantOK {
				t.Errorf("ParsePortSpec(%q) = (%q, %q, %q, %q, %v), want (%q, %q, %q, %q, %v)",
					tt.spec, proto, hostIP, hostPort, vmPort, ok,
					tt.wantProto, tt.wantHostIP, tt.wantHostPort, tt.wantVMPort, tt.wantOK)
			}
		})
	}
}

func TestExpandTemplate(t *testing.T) {
	env := map[string]string{"NAME": "web-1", "PORT": "8080"}
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no braces returns as-is", "plain-value", "plain-value"},
		{"single substitution", "host={NAME}", "host=web-1"},
		{"multiple substitutions", "{NAME}:{PORT}", "web-1:8080"},
		{"unknown key left literal", "id={MISSING}", "id={MISSING}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandTemplate(tt.raw, env); got != tt.want {
				t.Errorf("expandTemplate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildIncludesNameAndDefaults(t *testing.T) {
	args := Build(Params{VMName: "web-1"})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-name web-1") {
		t.Errorf("Build() missing -name web-1: %s", joined)
	}
	if !strings.Contains(joined, "-cpu max") {
		t.Errorf("Build() missing default -cpu max: %s", joined)
	}
	if !strings.Contains(joined, "-netdev user,id=user.qemu-compose,hostname=web-1") {
		t.Errorf("Build() missing expected netdev: %s", joined)
	}
}

func TestBuildImageArgOverridesDefault(t *testing.T) {
	args := Build(Params{ImageArgs: []string{"-cpu", "host"}})
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-cpu max") {
		t.Errorf("Build() should not keep the default -cpu once image overrides it: %s", joined)
	}
	if !strings.Contains(joined, "-cpu host") {
		t.Errorf("Build() should append the image's -cpu host verbatim: %s", joined)
	}
}

func TestBuildConfigOverridesDefault(t *testing.T) {
	args := Build(Params{
		ConfigArgs: []types.QemuArgFragment{{"smp": "4"}},
	})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-smp 4") {
		t.Errorf("Build() should apply config override for a default key: %s", joined)
	}
}

func TestBuildIncludesVsockDeviceWhenCIDSet(t *testing.T) {
	cid := uint32(1001)
	args := Build(Params{CID: &cid})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "guest-cid=1001") {
		t.Errorf("Build() missing vsock device for CID: %s", joined)
	}
}

func TestBuildOmitsVsockDeviceWhenCIDNil(t *testing.T) {
	args := Build(Params{})
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "vhost-vsock-pci") {
		t.Errorf("Build() should omit vsock device when CID is nil: %s", joined)
	}
}

func TestBuildIncludesDriveForEachOverlay(t *testing.T) {
	args := Build(Params{
		Overlays: []types.OverlayEntry{
			{Path: "/data/disk0.qcow2", Spec: types.DiskSpec{Format: "qcow2", Opts: "cache=none"}},
		},
	})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-drive file=/data/disk0.qcow2,format=qcow2,cache=none") {
		t.Errorf("Build() missing drive for overlay: %s", joined)
	}
}
