// Package qemuargs implements the Argument Synthesizer (spec §4.7): the
// deterministic assembly of the qemu command line from the safe defaults,
// the image manifest, the runtime config, and the session's allocated
// resources. Grounded on the original qemu_runner.py's setup_qemu_args and
// the teacher's hypervisor/cloudhypervisor/conf.go buildCLIArgs pattern of
// building an ordered []string via small composable helpers.
package qemuargs

import (
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"github.com/zTrix/qemu-compose/identity"
	"github.com/zTrix/qemu-compose/types"
	"github.com/zTrix/qemu-compose/utils"
	"github.com/zTrix/qemu-compose/virtiofs"
)

const defaultMemSize = "1G"

// defaultOrder is the safe-defaults key order the original always emits in
// (map iteration in the original is insertion-ordered; here it's explicit).
var defaultOrder = []string{"cpu", "machine", "accel", "m", "smp"}

// Params collects everything one invocation of Build needs. Every field is
// already resolved by the caller (session orchestration); Build's only I/O
// is the utils.DetectHugePages probe that picks the virtio-fs memory
// backend path.
type Params struct {
	VMName string
	Env    map[string]string

	ImageArgs  []string              // ImageManifest.QemuArgs, raw tokens
	ConfigArgs []types.QemuArgFragment // RuntimeConfig.QemuArgs, one-key maps

	Network string // "", "none", "user"
	Ports   []string

	CID *uint32

	SSHAuthorizedKey []byte // OpenSSH public key line, for SMBIOS injection

	Overlays []types.OverlayEntry
	Volumes  []virtiofs.Volume
}

// Build assembles the full qemu argv (excluding argv[0], the binary itself)
// in the fixed order spec §4.7 names: name, safe defaults (overridden by
// image then config), network, vsock device, ssh credential, disks,
// virtio-fs devices plus shared memory backend, image-appended args,
// config-appended args.
func Build(p Params) []string {
	defaults, memSize := resolveDefaults(p.ImageArgs, p.ConfigArgs, p.Env)

	var args []string

	if p.VMName != "" {
		args = append(args, "-name", p.VMName)
	}

	for _, key := range defaultOrder {
		if val, ok := defaults[key]; ok {
			args = append(args, "-"+key, val)
		}
	}

	hostname := ""
	if p.VMName != "" {
		hostname = identity.ToHostname(p.VMName)
		args = append(args, "-smbios", "type=11,value=io.systemd.credential:system.hostname="+hostname)
	}

	if p.Network == "" || strings.EqualFold(p.Network, "user") {
		base := "user,id=user.qemu-compose"
		if hostname != "" {
			base += ",hostname=" + hostname
		}
		args = append(args, "-netdev", base+hostfwdSegments(p.Ports), "-device", "virtio-net,netdev=user.qemu-compose")
	}

	if p.CID != nil {
		args = append(args, "-device", fmt.Sprintf("vhost-vsock-pci,id=vhost-vsock-pci0,guest-cid=%d", *p.CID))
	}

	if len(p.SSHAuthorizedKey) > 0 {
		b64 := base64.StdEncoding.EncodeToString(p.SSHAuthorizedKey)
		args = append(args, "-smbios", "type=11,value=io.systemd.credential.binary:ssh.authorized_keys.root="+b64)
	}

	for _, o := range p.Overlays {
		args = append(args, "-drive", driveParamFor(o))
	}

	var fstabEntries []string
	for i, v := range p.Volumes {
		chardevID := fmt.Sprintf("qcfs-char%d", i)
		args = append(args,
			"-chardev", fmt.Sprintf("socket,id=%s,path=%s", chardevID, v.SocketPath),
			"-device", fmt.Sprintf("vhost-user-fs-pci,chardev=%s,tag=%s", chardevID, v.Tag),
		)
		fstabEntries = append(fstabEntries, virtiofs.FstabEntry(v))
	}

	if len(fstabEntries) > 0 {
		// virtio-fs's shared memory-backend-file benefits from hugepage
		// backing when the host has them reserved; fall back to /dev/shm
		// otherwise (spec §4.6's DAX window).
		memPath := "/dev/shm"
		if utils.DetectHugePages() {
			memPath = "/dev/hugepages"
		}
		args = append(args,
			"-object", fmt.Sprintf("memory-backend-file,id=qc-mem,size=%s,mem-path=%s,share=on", memSize, memPath),
			"-numa", "node,memdev=qc-mem",
		)
		fstabB64 := base64.StdEncoding.EncodeToString([]byte(strings.Join(fstabEntries, "\n")))
		args = append(args, "-smbios", "type=11,value=io.systemd.credential.binary:fstab.extra="+fstabB64)
	}

	// image-provided args appended verbatim after defaults, each expanded
	// against env (spec §4.7's template substitution).
	for _, a := range p.ImageArgs {
		args = append(args, expandTemplate(a, p.Env))
	}

	// config-provided args not already consumed as a default override are
	// appended as "-key value" pairs, in document order.
	for _, block := range p.ConfigArgs {
		for key, raw := range block {
			if _, isDefault := defaults[key]; isDefault {
				continue
			}
			val := expandTemplate(raw, p.Env)
			args = append(args, "-"+key)
			if val != "" {
				args = append(args, val)
			}
		}
	}

	return args
}

// resolveDefaults starts from the five safe defaults, removes any key the
// image's qemu_args overrides (image args win by simply not being in the
// default set any more — they are re-emitted later in the image-append
// pass), then applies config overrides that name one of the surviving
// default keys (spec §4.7 "image overrides defaults; config overrides
// image"). memSize tracks whatever "-m" value is in effect for the
// virtio-fs shared-memory backend.
func resolveDefaults(imageArgs []string, configArgs []types.QemuArgFragment, env map[string]string) (map[string]string, string) {
	defaults := map[string]string{
		"cpu":     "max",
		"machine": "type=q35,hpet=off",
		"accel":   "kvm",
		"m":       defaultMemSize,
		"smp":     fmt.Sprintf("%d", runtime.NumCPU()),
	}
	memSize := defaultMemSize

	for i := 0; i < len(imageArgs); i++ {
		a := imageArgs[i]
		if !strings.HasPrefix(a, "-") {
			continue
		}
		key := a[1:]
		if _, ok := defaults[key]; !ok {
			continue
		}
		delete(defaults, key)
		if key == "m" && i+1 < len(imageArgs) {
			memSize = imageArgs[i+1]
		}
	}

	for _, block := range configArgs {
		for key, raw := range block {
			if _, ok := defaults[key]; !ok {
				continue
			}
			val := expandTemplate(raw, env)
			defaults[key] = val
			if key == "m" {
				memSize = val
			}
		}
	}

	return defaults, memSize
}

// expandTemplate substitutes "{NAME}" placeholders against env, mirroring
// the original's str.format(**env). Unknown keys are left as literal "{NAME}"
// text rather than erroring, since qemu_args values may legitimately contain
// brace-free text that happens to not need expansion.
func expandTemplate(raw string, env map[string]string) string {
	if !strings.Contains(raw, "{") {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); {
		if raw[i] == '{' {
			if end := strings.IndexByte(raw[i:], '}'); end > 0 {
				name := raw[i+1 : i+end]
				if val, ok := env[name]; ok {
					b.WriteString(val)
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(raw[i])
		i++
	}
	return b.String()
}

// driveParamFor builds one "-drive" value from an overlay entry, combining
// the manifest's format/opts with the overlay path the Overlay Builder
// produced (spec §4.5, §4.7).
func driveParamFor(o types.OverlayEntry) string {
	parts := []string{"file=" + o.Path}
	if o.Spec.Format != "" {
		parts = append(parts, "format="+o.Spec.Format)
	}
	if o.Spec.Opts != "" {
		parts = append(parts, o.Spec.Opts)
	}
	return strings.Join(parts, ",")
}

// hostfwdSegments renders every accepted port spec as a ",hostfwd=..."
// segment appended to the user-mode netdev option (spec §4.7's port
// grammar: "host_ip:host_port:vm_port[/proto]" or "host_port:vm_port[/proto]").
func hostfwdSegments(ports []string) string {
	var b strings.Builder
	for _, spec := range ports {
		proto, hostIP, hostPort, vmPort, ok := ParsePortSpec(spec)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, ",hostfwd=%s:%s:%s-:%s", proto, hostIP, hostPort, vmPort)
	}
	return b.String()
}

// ParsePortSpec parses one port mapping spec: an optional "/tcp" or "/udp"
// suffix (default tcp), then either "host_ip:host_port:vm_port" or
// "host_port:vm_port". An unrecognized proto suffix silently falls back to
// tcp rather than rejecting the spec, matching the original.
func ParsePortSpec(spec string) (proto, hostIP, hostPort, vmPort string, ok bool) {
	proto = "tcp"
	body := spec
	if idx := strings.LastIndexByte(spec, '/'); idx >= 0 {
		body = spec[:idx]
		if suffix := strings.ToLower(strings.TrimSpace(spec[idx+1:])); suffix == "tcp" || suffix == "udp" {
			proto = suffix
		}
	}
	parts := strings.Split(body, ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 3: //nolint:mnd
		return proto, parts[0], parts[1], parts[2], true
	case 2: //nolint:mnd
		return proto, "", parts[0], parts[1], true
	default:
		return "", "", "", "", false
	}
}

