// Package core holds the shared command-handler plumbing reused by every
// cmd/ subpackage, generalizing the teacher's cmd/core/helpers.go
// BaseHandler pattern: a config provider plus an Init() that returns a
// ready-to-use context and store in one call.
package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/jesseduffield/yaml"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/zTrix/qemu-compose/config"
	"github.com/zTrix/qemu-compose/progress"
	"github.com/zTrix/qemu-compose/session"
	"github.com/zTrix/qemu-compose/store"
	"github.com/zTrix/qemu-compose/types"
)

// BaseHandler provides shared config/store access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context, validated config, and an opened Store
// in one call — every handler's first line.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, *store.Store, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := OpenStore(conf)
	if err != nil {
		return nil, nil, nil, err
	}
	return CommandContext(cmd), conf, st, nil
}

// Conf validates and returns the config.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// OpenStore resolves the Local Store from conf: an explicit DataDir if
// configured, the XDG default otherwise.
func OpenStore(conf *config.Config) (*store.Store, error) {
	if conf.DataDir != "" {
		return store.NewAt(conf.DataDir)
	}
	return store.New()
}

// CommandContext returns the command's context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// LoadRuntimeConfig parses a YAML runtime-configuration document from path.
func LoadRuntimeConfig(path string) (types.RuntimeConfig, error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return types.RuntimeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg types.RuntimeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return types.RuntimeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Init()
	return cfg, nil
}

// DefaultConfigPath returns "./qemu-compose.yml" or "./qemu-compose.yaml",
// whichever exists; empty if neither does (spec §6 `up`'s default lookup).
func DefaultConfigPath() string {
	for _, name := range []string{"qemu-compose.yml", "qemu-compose.yaml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// LogTracker returns a progress.Tracker that logs each lifecycle event
// (overlays built, virtiofsd ready, VMM launched, console attached) at
// info level, for CLI commands that don't otherwise surface progress to
// the user.
func LogTracker(ctx context.Context) progress.Tracker {
	return progress.NewTracker(func(e session.Event) {
		log.WithFunc("cmd.session").Infof(ctx, "[%s] %s: %s", e.VMID, e.Stage, e.Detail)
	})
}

var nameAdjectives = []string{"brave", "calm", "eager", "fuzzy", "gentle", "happy", "jolly", "lively", "quiet", "swift"}
var nameNouns = []string{"falcon", "otter", "badger", "heron", "lynx", "marten", "osprey", "raven", "swan", "weasel"}

// WordlistNameGenerator implements identity.NameGenerator with a random
// adjective+noun pair, retrying on collision — the out-of-scope "random
// human-friendly name generation" external collaborator spec §1 names,
// given a concrete contract-level implementation here.
type WordlistNameGenerator struct{}

// Generate returns an adjective-noun name not present in existing, falling
// back to appending a numeric suffix after a bounded number of collisions.
func (WordlistNameGenerator) Generate(existing map[string]struct{}) string {
	for range 50 { //nolint:mnd
		candidate := nameAdjectives[rand.IntN(len(nameAdjectives))] + "-" + nameNouns[rand.IntN(len(nameNouns))] //nolint:gosec
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%s-%d", nameAdjectives[0], nameNouns[0], i)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}
