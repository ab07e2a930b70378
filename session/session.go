// Package session implements the top-level lifecycle engine that wires
// every component together per spec §2's data flow: image reference →
// Image Registry → manifest; manifest + config + allocated identity →
// Instance Directory (locked) → Storage Overlay Builder + SSH Identity +
// Shared-Filesystem Supervisor → Argument Synthesizer → VMM Supervisor →
// Terminal Bridge/Boot Script Interpreter → cleanup. Grounded on the
// original qemu_compose/instance/qemu_runner.py's QemuRunner class, which
// plays the same "one object owns the whole session" role.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/projecteru2/core/log"

	"github.com/zTrix/qemu-compose/identity"
	"github.com/zTrix/qemu-compose/image"
	"github.com/zTrix/qemu-compose/instance"
	"github.com/zTrix/qemu-compose/overlay"
	"github.com/zTrix/qemu-compose/progress"
	"github.com/zTrix/qemu-compose/qemuargs"
	"github.com/zTrix/qemu-compose/qerr"
	"github.com/zTrix/qemu-compose/sshkey"
	"github.com/zTrix/qemu-compose/store"
	jsonstore "github.com/zTrix/qemu-compose/storage/json"
	"github.com/zTrix/qemu-compose/terminal"
	"github.com/zTrix/qemu-compose/types"
	"github.com/zTrix/qemu-compose/virtiofs"
	"github.com/zTrix/qemu-compose/vmm"
)

const gatewayIP = "10.0.2.2"
const configFileName = "qemu_config.json"
const configLockName = "qemu_config.lock"
const consoleLogName = "qemu-compose.log"

// Event is one entry in the session lifecycle event stream (overlays built,
// virtiofsd ready, VMM launched, console attached), emitted through the
// caller-supplied progress.Tracker so a CLI or other frontend can render
// progress without the engine importing any UI concern.
type Event struct {
	VMID   string
	Stage  string
	Detail string
}

// Engine owns every resource acquired for one instance lifecycle and is
// responsible for releasing all of them on every exit path (spec §5).
type Engine struct {
	Store *store.Store

	vmid     string
	dir      string
	inst     *instance.Session
	manifest types.ImageManifest
	overlays []types.OverlayEntry
	cid      *identity.CIDAllocator
	vmm      *vmm.VMM
	fsSup    *virtiofs.Supervisor
	console  *terminal.Bridge
	tracker  progress.Tracker
}

// NewOptions is everything a fresh (non-restart) session needs.
type NewOptions struct {
	Cfg      types.RuntimeConfig
	NameGen  identity.NameGenerator // only consulted when Cfg.Name == ""
	Interact bool                   // not read by New; RunBootProgram's interact argument controls the handoff
	Tracker  progress.Tracker       // defaults to progress.Nop when nil
}

func (e *Engine) emit(stage, detail string) {
	if e.tracker == nil {
		return
	}
	e.tracker.OnEvent(Event{VMID: e.vmid, Stage: stage, Detail: detail})
}

// WithTracker attaches a progress.Tracker to an Engine obtained from Resume,
// which has no NewOptions of its own to carry one.
func (e *Engine) WithTracker(t progress.Tracker) *Engine {
	e.tracker = t
	return e
}

// New resolves the image, allocates a vmid/name, creates and locks the
// instance directory, and returns an Engine positioned to call Launch.
// This is the `up`/`run` path (spec §4.1-§4.3).
func New(ctx context.Context, st *store.Store, opt NewOptions) (*Engine, types.ImageManifest, error) {
	imageRoot, err := st.ImageRoot()
	if err != nil {
		return nil, types.ImageManifest{}, err
	}
	manifest, err := image.Resolve(imageRoot, opt.Cfg.Image)
	if err != nil {
		return nil, types.ImageManifest{}, err
	}

	instanceRoot, err := st.InstanceRoot()
	if err != nil {
		return nil, types.ImageManifest{}, err
	}

	name, err := identity.AssertUniqueName(instanceRoot, opt.Cfg.Name, opt.NameGen)
	if err != nil {
		return nil, types.ImageManifest{}, err
	}

	vmid, err := identity.NewVMID(instanceRoot)
	if err != nil {
		return nil, types.ImageManifest{}, err
	}

	sess, err := instance.CreateAndLock(ctx, instanceRoot, vmid)
	if err != nil {
		return nil, types.ImageManifest{}, err
	}
	if err := sess.WriteName(name); err != nil {
		log.WithFunc("session.New").Warnf(ctx, "persist name for %s: %v", vmid, err)
	}
	if err := sess.WriteInstanceID(); err != nil {
		log.WithFunc("session.New").Warnf(ctx, "persist instance-id for %s: %v", vmid, err)
	}

	imageDir, err := st.ImageDir(manifest.ID)
	if err != nil {
		return nil, manifest, err
	}

	overlays, err := overlay.Build(ctx, imageDir, sess.Dir, manifest.Disks)
	if err != nil {
		return nil, manifest, err
	}

	eng := newEngine(st, sess, overlays, manifest)
	eng.tracker = opt.Tracker
	eng.emit("overlays-built", fmt.Sprintf("%d disk(s)", len(overlays)))
	return eng, manifest, nil
}

// Resume reopens an existing instance directory by token (id/name/prefix),
// rediscovers its overlays, and merges an optional override config over the
// persisted one (spec §3 "CLI document overrides persisted keys
// field-by-field", §4.5 restart path). This is the `start` path.
func Resume(ctx context.Context, st *store.Store, token string, override *types.RuntimeConfig) (*Engine, types.RuntimeConfig, error) {
	instanceRoot, err := st.InstanceRoot()
	if err != nil {
		return nil, types.RuntimeConfig{}, err
	}
	vmid, err := instance.Resolve(instanceRoot, token)
	if err != nil {
		return nil, types.RuntimeConfig{}, err
	}

	sess, err := instance.CreateAndLock(ctx, instanceRoot, vmid)
	if err != nil {
		return nil, types.RuntimeConfig{}, err
	}

	cfg, err := loadPersistedConfig(ctx, sess.Dir)
	if err != nil {
		_ = sess.Unlock(ctx)
		return nil, types.RuntimeConfig{}, err
	}
	if override != nil {
		cfg = cfg.MergeOverride(*override)
	}
	cfg.Instance = vmid

	overlays, err := overlay.Rediscover(ctx, sess.Dir)
	if err != nil {
		_ = sess.Unlock(ctx)
		return nil, cfg, err
	}

	var manifest types.ImageManifest
	if cfg.Image != "" {
		if imageRoot, err := st.ImageRoot(); err == nil {
			manifest, _ = image.Resolve(imageRoot, cfg.Image)
		}
	}

	return newEngine(st, sess, overlays, manifest), cfg, nil
}

func newEngine(st *store.Store, sess *instance.Session, overlays []types.OverlayEntry, manifest types.ImageManifest) *Engine {
	return &Engine{
		Store:    st,
		vmid:     sess.VMID,
		dir:      sess.Dir,
		inst:     sess,
		manifest: manifest,
		overlays: overlays,
		fsSup:    virtiofs.New(sess.Dir),
	}
}

// Manifest returns the resolved image manifest (zero value on a restarted
// instance whose persisted config no longer names an image).
func (e *Engine) Manifest() types.ImageManifest { return e.manifest }

// VMID returns the instance's allocated id.
func (e *Engine) VMID() string { return e.vmid }

// Dir returns the instance directory.
func (e *Engine) Dir() string { return e.dir }

// Launch allocates a guest CID, generates/loads the SSH identity, starts
// the shared-filesystem daemons, synthesizes the qemu argument vector, and
// starts the VMM (spec §4.2-§4.8). Callers must call Cleanup regardless of
// the outcome.
func (e *Engine) Launch(ctx context.Context, cfg types.RuntimeConfig) error {
	cidAlloc, err := identity.AllocateCID()
	if err != nil {
		return err
	}
	e.cid = cidAlloc
	if err := e.inst.WriteCID(cidAlloc.CID()); err != nil {
		log.WithFunc("session.Launch").Warnf(ctx, "persist cid: %v", err)
	}

	var pubKey []byte
	if existing, err := sshkey.LoadPublicLine(e.dir); err == nil {
		pubKey = existing
	} else {
		kp, err := sshkey.Generate(e.dir, e.vmid)
		if err != nil {
			return err
		}
		pubKey = kp.PublicLine
	}

	volumes, err := e.fsSup.Launch(ctx, cfg.Volumes)
	if err != nil {
		return err
	}
	e.emit("virtiofs-ready", fmt.Sprintf("%d volume(s)", len(volumes)))

	env := e.buildEnv(cfg, e.manifest)

	cid := cidAlloc.CID()
	args := qemuargs.Build(qemuargs.Params{
		VMName:           cfg.Name,
		Env:              env,
		ImageArgs:        e.manifest.QemuArgs,
		ConfigArgs:       cfg.QemuArgs,
		Network:          cfg.Network,
		Ports:            cfg.Ports,
		CID:              &cid,
		SSHAuthorizedKey: pubKey,
		Overlays:         e.overlays,
		Volumes:          volumes,
	})

	e.vmm = vmm.New(e.dir, cfg.Binary)
	if err := e.vmm.Launch(ctx, args); err != nil {
		return err
	}
	if err := e.inst.WritePID(e.vmm.PID()); err != nil {
		log.WithFunc("session.Launch").Warnf(ctx, "persist pid: %v", err)
	}
	e.emit("vmm-launched", fmt.Sprintf("pid=%d cid=%d", e.vmm.PID(), cid))
	return nil
}

// buildEnv populates the template-expansion environment spec §4.7 names,
// in order: fixed keys, optional image keys, then user env (CLI overrides
// are merged into cfg.Env by the caller before Launch, per
// RuntimeConfig.MergeOverride).
func (e *Engine) buildEnv(cfg types.RuntimeConfig, manifest types.ImageManifest) map[string]string {
	env := map[string]string{}
	if cwd, err := os.Getwd(); err == nil {
		env["CWD"] = cwd
	}
	env["GATEWAY_IP"] = gatewayIP
	if w, h, err := terminalSize(); err == nil {
		env["TERM_COLS"] = strconv.Itoa(w)
		env["TERM_ROWS"] = strconv.Itoa(h)
	}
	env["ID"] = e.vmid
	env["STORAGE_PATH"] = e.Store.DataDir()
	if root, err := e.Store.ImageRoot(); err == nil {
		env["IMAGE_ROOT"] = root
	}
	if root, err := e.Store.InstanceRoot(); err == nil {
		env["INSTANCE_ROOT"] = root
	}
	env["INSTANCE_DIR"] = e.dir

	if manifest.ID != "" {
		env["IMAGE_ID"] = manifest.ID
		if imageDir, err := e.Store.ImageDir(manifest.ID); err == nil {
			env["IMAGE_DIR"] = imageDir
		}
		if len(manifest.RepoTags) > 0 {
			env["IMAGE_TAG"] = manifest.RepoTags[0].String()
		}
	}
	if cfg.HTTPServe != nil {
		if cfg.HTTPServe.Port != 0 {
			env["HTTP_PORT"] = strconv.Itoa(cfg.HTTPServe.Port)
		}
		if cfg.HTTPServe.AccessIP != "" {
			env["HTTP_HOST"] = cfg.HTTPServe.AccessIP
		}
	}

	for k, v := range cfg.Env {
		env[k] = v
	}
	return env
}

// RunBootProgram drives the guest console through cfg.BootCommands in
// batch mode if present, then (unless interact is false) hands the
// terminal to an interactive pass-through (spec §4.9, §4.10).
func (e *Engine) RunBootProgram(ctx context.Context, cfg types.RuntimeConfig, interact bool) error {
	console, err := terminal.Dial(e.vmm.ConsoleSocketPath(), filepath.Join(e.dir, consoleLogName))
	if err != nil {
		return err
	}
	e.console = console
	e.emit("console-attached", e.vmm.ConsoleSocketPath())

	if len(cfg.BootCommands) > 0 {
		if err := console.RunBatch(ctx, cfg.BootCommands, nil); err != nil {
			return qerr.InterpreterError(err)
		}
	}
	if interact {
		return console.Interact(ctx, nil, true)
	}
	return nil
}

// RunBeforeScript/RunAfterScript execute the configured shell hook lines in
// order via /bin/sh -c, aborting on the first failure (supplemented
// feature; spec's Non-goals do not exclude these hooks).
func (e *Engine) RunBeforeScript(ctx context.Context, cfg types.RuntimeConfig) error {
	return runScriptLines(ctx, e.dir, cfg.BeforeScript)
}

func (e *Engine) RunAfterScript(ctx context.Context, cfg types.RuntimeConfig) error {
	return runScriptLines(ctx, e.dir, cfg.AfterScript)
}

func runScriptLines(ctx context.Context, dir string, lines []string) error {
	for _, line := range lines {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line) //nolint:gosec
		cmd.Dir = dir
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("script %q: %w", line, err)
		}
	}
	return nil
}

// configStore returns the flock-protected JSON store for this instance's
// persisted config. A dedicated lock file (configLockName) is used instead
// of locking the instance directory itself: that directory is already held
// for the life of the session by instance.CreateAndLock, and a second
// acquisition of the same path from within the same process would contend
// against itself.
func configStore(instanceDir string) *jsonstore.Store[types.RuntimeConfig] {
	return jsonstore.New[types.RuntimeConfig](
		filepath.Join(instanceDir, configLockName),
		filepath.Join(instanceDir, configFileName),
	)
}

// PersistConfig writes cfg as qemu_config.json into the instance directory
// so a later `start` can restore it (spec §6's optional persisted file).
func (e *Engine) PersistConfig(ctx context.Context, cfg types.RuntimeConfig) error {
	return configStore(e.dir).Update(ctx, func(data *types.RuntimeConfig) error {
		*data = cfg
		return nil
	})
}

func loadPersistedConfig(ctx context.Context, instanceDir string) (types.RuntimeConfig, error) {
	var cfg types.RuntimeConfig
	err := configStore(instanceDir).With(ctx, func(data *types.RuntimeConfig) error {
		cfg = *data
		return nil
	})
	if err != nil {
		return types.RuntimeConfig{}, fmt.Errorf("read persisted config: %w", err)
	}
	return cfg, nil
}

// Cleanup tears everything down, idempotently and on every exit path (spec
// §5, §8 "Idempotent cleanup"): terminate virtiofs children, hard-shutdown
// the VMM, release the guest CID, close the console connection, and unlock
// the instance directory. The lock, key files, metadata files, overlays,
// and socket files themselves are left in place.
func (e *Engine) Cleanup(ctx context.Context) {
	logger := log.WithFunc("session.Cleanup")

	if e.console != nil {
		_ = e.console.Close()
	}
	if e.fsSup != nil {
		e.fsSup.Cleanup(ctx)
	}
	if e.vmm != nil {
		if err := e.vmm.Shutdown(ctx); err != nil {
			logger.Warnf(ctx, "vmm shutdown: %v", err)
		}
	}
	if e.cid != nil {
		if err := e.cid.Release(); err != nil {
			logger.Warnf(ctx, "release cid: %v", err)
		}
	}
	if e.inst != nil {
		if err := e.inst.Unlock(ctx); err != nil {
			logger.Warnf(ctx, "unlock instance %s: %v", e.vmid, err)
		}
	}
}

func terminalSize() (width, height int, err error) {
	w, h, err := ttySize()
	if err != nil {
		return 80, 24, err //nolint:mnd
	}
	return w, h, nil
}
