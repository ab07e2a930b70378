// Package virtiofs implements the Shared-Filesystem Supervisor (spec §4.6):
// one virtiofsd child per declared volume, socket-appearance polling, fstab
// aggregation, and cleanup. Grounded on the original qemu_runner.py's
// prepare_storage volume handling and the teacher's utils/poll.go +
// utils/process.go for the wait/terminate primitives.
package virtiofs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/zTrix/qemu-compose/utils"
)

const (
	socketWaitTimeout  = 30 * time.Second
	socketPollInterval = 50 * time.Millisecond
	terminateGrace     = 2 * time.Second
)

// Volume is a parsed and tagged shared-directory mount.
type Volume struct {
	Src        string
	Dst        string
	ReadOnly   bool
	Tag        string
	SocketPath string
}

// ParseSpec parses "src:dst[:ro]" per spec §4.6's volume grammar: exactly
// two or three colon-separated segments; "ro" is the only recognized
// option; empty src or dst rejects the spec.
func ParseSpec(spec string) (src, dst string, ro bool, ok bool) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 { //nolint:mnd
		return "", "", false, false
	}
	src = strings.TrimSpace(parts[0])
	dst = strings.TrimSpace(parts[1])
	if src == "" || dst == "" {
		return "", "", false, false
	}
	if len(parts) == 3 { //nolint:mnd
		ro = strings.EqualFold(strings.TrimSpace(parts[2]), "ro")
	}
	return src, dst, ro, true
}

var tagSanitizer = func(r rune) rune {
	if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
		return r
	}
	return '_'
}

// TagFor derives the virtio-fs mount tag: the basename of dst (or
// "vol<index>" if empty), sanitized to [A-Za-z0-9_-], with "-<index>"
// appended (spec §4.6).
func TagFor(dst string, index int) string {
	base := filepath.Base(dst)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = fmt.Sprintf("vol%d", index)
	}
	sanitized := strings.Map(tagSanitizer, base)
	return fmt.Sprintf("%s-%d", sanitized, index)
}

// FstabEntry formats a guest-visible fstab line for v.
func FstabEntry(v Volume) string {
	roSuffix := ""
	if v.ReadOnly {
		roSuffix = ",ro"
	}
	return fmt.Sprintf("%s %s virtiofs defaults%s 0 0", v.Tag, v.Dst, roSuffix)
}

// Child is a launched virtiofsd process plus its accepted Volume.
type Child struct {
	Volume Volume
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// pump copies r line-by-line into the session log until r is closed, tagged
// with the virtiofsd instance's socket path. One goroutine is started per
// pipe in spawn so waitForSocket never has to read the child's output
// itself.
func pump(ctx context.Context, tag string, r io.Reader) {
	logger := log.WithFunc("virtiofs.pump")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debugf(ctx, "virtiofsd[%s]: %s", tag, scanner.Text())
	}
}

// Supervisor launches and tracks the virtiofsd children for one session.
type Supervisor struct {
	instanceDir string
	children    []*Child
}

// New creates a Supervisor rooted at instanceDir, where per-volume sockets
// are placed.
func New(instanceDir string) *Supervisor {
	return &Supervisor{instanceDir: instanceDir}
}

// Launch starts one virtiofsd per accepted volume spec, all volumes
// concurrently, each waiting for its own socket to appear; the returned
// volumes keep the order of volumeSpecs. Rejected or
// unavailable volumes are skipped with a warning, never fatal to the
// session (spec §4.6, §7 HelperMissing "skip with warning").
func (s *Supervisor) Launch(ctx context.Context, volumeSpecs []string) ([]Volume, error) {
	logger := log.WithFunc("virtiofs.Launch")
	virtiofsdBin, lookErr := lookVirtiofsd()

	// Each goroutine owns only its own index, the way the teacher's
	// images/oci/pull.go fans layer processing out into results[layerIdx] —
	// no slice here is ever appended to from more than one goroutine.
	launched := make([]*Child, len(volumeSpecs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range volumeSpecs {
		g.Go(func() error {
			src, dst, ro, ok := ParseSpec(spec)
			if !ok {
				logger.Warnf(gctx, "skip invalid volume spec %q", spec)
				return nil
			}
			if lookErr != nil {
				logger.Warnf(gctx, "virtiofsd not found; volume %q will not be available", spec)
				return nil
			}

			tag := TagFor(dst, i)
			sockPath := filepath.Join(s.instanceDir, fmt.Sprintf("virtiofs-%s.sock", tag))

			child, err := s.spawn(gctx, virtiofsdBin, src, sockPath, ro)
			if err != nil {
				logger.Warnf(gctx, "failed to start virtiofsd for %s: %v", src, err)
				return nil
			}

			if err := s.waitForSocket(gctx, child, sockPath); err != nil {
				logger.Warnf(gctx, "virtiofsd socket not ready, skipping mount %s -> %s: %v", src, dst, err)
				_ = terminateChild(gctx, child)
				return nil
			}

			child.Volume = Volume{Src: src, Dst: dst, ReadOnly: ro, Tag: tag, SocketPath: sockPath}
			launched[i] = child
			return nil
		})
	}
	_ = g.Wait() // per-volume failures are logged and skipped, never fatal to Launch

	var accepted []Volume
	for _, child := range launched {
		if child == nil {
			continue
		}
		s.children = append(s.children, child)
		accepted = append(accepted, child.Volume)
	}
	return accepted, nil
}

func lookVirtiofsd() (string, error) {
	for _, dir := range []string{"/usr/lib", "/usr/libexec"} {
		p := filepath.Join(dir, "virtiofsd")
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return exec.LookPath("virtiofsd")
}

// hasUnshare reports whether the unshare(1) helper is available for
// unprivileged user-namespace sandboxing of virtiofsd (spec §4.6: "under an
// unprivileged user namespace when the process lacks root and a
// namespace-unsharing helper is available").
func hasUnshare() bool {
	_, err := exec.LookPath("unshare")
	return err == nil
}

func (s *Supervisor) spawn(ctx context.Context, virtiofsdBin, sharedDir, socketPath string, readOnly bool) (*Child, error) {
	args := []string{
		"--shared-dir", sharedDir,
		"--socket-path", socketPath,
		"--cache", "never",
		"--sandbox", "chroot",
	}
	if supportsAllowMmap(virtiofsdBin) {
		args = append(args, "--allow-mmap")
	}
	if readOnly {
		args = append(args, "--readonly")
	}

	var name string
	var fullArgs []string
	if os.Getuid() != 0 && hasUnshare() {
		name = "unshare"
		fullArgs = append([]string{"-r", "--map-auto", "--", virtiofsdBin}, args...)
	} else {
		name = virtiofsdBin
		fullArgs = args
	}

	cmd := exec.CommandContext(ctx, name, fullArgs...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	tag := filepath.Base(socketPath)
	go pump(ctx, tag, stdout)
	go pump(ctx, tag, stderr)
	return &Child{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// supportsAllowMmap opportunistically appends --allow-mmap if the daemon
// advertises it in its help output (spec §4.6).
func supportsAllowMmap(virtiofsdBin string) bool {
	out, err := exec.Command(virtiofsdBin, "-h").CombinedOutput() //nolint:gosec
	return err == nil && bytes.Contains(out, []byte("--allow-mmap"))
}

// waitForSocket polls for the socket's appearance with a 30s budget and a
// 50ms interval; the child's stdout/stderr are drained concurrently by the
// pump goroutines started in spawn (spec §4.6).
func (s *Supervisor) waitForSocket(ctx context.Context, _ *Child, path string) error {
	return utils.WaitFor(ctx, socketWaitTimeout, socketPollInterval, func() (bool, error) {
		_, err := os.Stat(path)
		return err == nil, nil
	})
}

// Cleanup terminates every tracked virtiofsd child: SIGTERM, wait up to 2s,
// SIGKILL, wait, close stdio. Errors are logged, not returned — cleanup
// must be idempotent and total (spec §4.6, §8 "Idempotent cleanup").
func (s *Supervisor) Cleanup(ctx context.Context) {
	logger := log.WithFunc("virtiofs.Cleanup")
	for _, child := range s.children {
		if err := terminateChild(ctx, child); err != nil {
			logger.Warnf(ctx, "cleanup virtiofsd for %s: %v", child.Volume.Src, err)
		}
	}
	s.children = nil
}

func terminateChild(ctx context.Context, child *Child) error {
	if child.cmd.Process == nil {
		return nil
	}
	err := utils.TerminateProcess(ctx, child.cmd.Process.Pid, terminateGrace)
	_ = child.stdin.Close()
	_ = child.stdout.Close()
	_ = child.stderr.Close()
	return err
}
