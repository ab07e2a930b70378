package types

// QemuArgFragment is one `-key value` fragment from a runtime config
// document; represented as a single-entry map to match the wire shape
// (`qemu_args: sequence<map<string,string>>`).
type QemuArgFragment map[string]string

// HTTPServeConfig configures the out-of-scope embedded static file server;
// only the contract shape is carried by the engine (spec §1, §4.7 env keys
// HTTP_PORT/HTTP_HOST).
type HTTPServeConfig struct {
	Listen   string `yaml:"listen,omitempty" json:"listen,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Root     string `yaml:"root,omitempty" json:"root,omitempty"`
	AccessIP string `yaml:"access_ip,omitempty" json:"access_ip,omitempty"`
}

// RuntimeConfig is the parsed user-provided configuration document
// (qemu-compose.yml, or a persisted qemu_config.json, or a `start -f`
// override document — all three share this shape).
type RuntimeConfig struct {
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Binary   string `yaml:"binary,omitempty" json:"binary,omitempty"`
	Network  string `yaml:"network,omitempty" json:"network,omitempty"` // "", "none", "user"
	Image    string `yaml:"image,omitempty" json:"image,omitempty"`
	Instance string `yaml:"instance,omitempty" json:"instance,omitempty"`

	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	QemuArgs []QemuArgFragment `yaml:"qemu_args,omitempty" json:"qemu_args,omitempty"`

	Ports   []string `yaml:"ports,omitempty" json:"ports,omitempty"`
	Volumes []string `yaml:"volumes,omitempty" json:"volumes,omitempty"`

	BootCommands []any `yaml:"boot_commands,omitempty" json:"boot_commands,omitempty"`

	BeforeScript []string `yaml:"before_script,omitempty" json:"before_script,omitempty"`
	AfterScript  []string `yaml:"after_script,omitempty" json:"after_script,omitempty"`

	HTTPServe *HTTPServeConfig `yaml:"http_serve,omitempty" json:"http_serve,omitempty"`
}

// Init satisfies storage.Initer so a zero-value or freshly-deserialized
// RuntimeConfig never carries a nil map into merge logic.
func (c *RuntimeConfig) Init() {
	if c.Env == nil {
		c.Env = map[string]string{}
	}
}

// MergeOverride overlays the non-zero fields of override onto c, field by
// field, matching spec §3's "CLI document overrides persisted keys
// field-by-field" invariant. Slice fields replace wholesale when present in
// override; Env is merged key by key, override values winning; scalar fields
// replace when non-empty.
func (c RuntimeConfig) MergeOverride(override RuntimeConfig) RuntimeConfig {
	out := c
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Binary != "" {
		out.Binary = override.Binary
	}
	if override.Network != "" {
		out.Network = override.Network
	}
	if override.Image != "" {
		out.Image = override.Image
	}
	if override.Instance != "" {
		out.Instance = override.Instance
	}
	if len(override.Env) > 0 {
		merged := make(map[string]string, len(out.Env)+len(override.Env))
		for k, v := range out.Env {
			merged[k] = v
		}
		for k, v := range override.Env {
			merged[k] = v
		}
		out.Env = merged
	}
	if override.QemuArgs != nil {
		out.QemuArgs = override.QemuArgs
	}
	if override.Ports != nil {
		out.Ports = override.Ports
	}
	if override.Volumes != nil {
		out.Volumes = override.Volumes
	}
	if override.BootCommands != nil {
		out.BootCommands = override.BootCommands
	}
	if override.BeforeScript != nil {
		out.BeforeScript = override.BeforeScript
	}
	if override.AfterScript != nil {
		out.AfterScript = override.AfterScript
	}
	if override.HTTPServe != nil {
		out.HTTPServe = override.HTTPServe
	}
	return out
}

// InstanceState is the in-memory state the engine threads through a session.
// Persisted subsets live as individual files under the instance directory
// (see spec §6); this struct is the engine's working copy, not itself
// serialized wholesale.
type InstanceState struct {
	VMID    string
	Name    string
	CID     uint32
	PID     int
	Image   *ImageManifest
	Overlays []OverlayEntry
}

// OverlayEntry pairs a materialized overlay path with the DiskSpec it
// implements, preserving manifest order end to end (spec §8 "Overlay
// ordering" invariant).
type OverlayEntry struct {
	Path string
	Spec DiskSpec
}
