// Package vmm implements the VMM Supervisor (spec §4.8): launching the qemu
// child with its console and monitor connectors wired up, persisting runtime
// metadata, and tearing it down. Grounded on the original qemu_runner.py's
// QEMUMachine-derived launch/shutdown and the teacher's
// hypervisor/cloudhypervisor process-lifecycle idiom (pid file, is_running
// via signal-0, graceful-then-hard shutdown). The QMP round trip itself uses
// digitalocean/go-qemu/qmp rather than a hand-rolled socket client — it is
// already in the retrieved pack's dependency graph (coreos-assembler's
// go.mod) and is the real QEMU QMP client of the Go ecosystem.
package vmm

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/zTrix/qemu-compose/qerr"
	"github.com/zTrix/qemu-compose/utils"
)

const (
	consoleSocketName = "console.sock"
	monitorSocketName = "monitor.sock"

	qmpDialTimeout    = 5 * time.Second
	shutdownGrace     = 10 * time.Second
	shutdownKillGrace = 3 * time.Second
)

// VMM supervises one launched qemu process for the session's lifetime.
type VMM struct {
	instanceDir string
	binary      string

	cmd *exec.Cmd
	pid int

	consoleSocketPath string
	monitorSocketPath string
}

// New prepares a VMM bound to instanceDir; binary is the qemu executable
// name or path (config "binary", default "qemu-system-x86_64").
func New(instanceDir, binary string) *VMM {
	if binary == "" {
		binary = "qemu-system-x86_64"
	}
	return &VMM{
		instanceDir:       instanceDir,
		binary:            binary,
		consoleSocketPath: filepath.Join(instanceDir, consoleSocketName),
		monitorSocketPath: filepath.Join(instanceDir, monitorSocketName),
	}
}

// ConsoleSocketPath is where the Terminal Bridge dials to reach the guest
// serial console (spec §4.10).
func (v *VMM) ConsoleSocketPath() string { return v.consoleSocketPath }

// Launch starts qemu with synthesizedArgs plus the console/monitor
// connectors this package owns: a null-sink-capable QMP monitor and a
// stream-socket isa-serial console, both server-side unix sockets that
// qemu listens on without blocking startup ("server=on,wait=off").
func (v *VMM) Launch(ctx context.Context, synthesizedArgs []string) error {
	if _, err := exec.LookPath(v.binary); err != nil {
		return qerr.HelperMissing(v.binary)
	}

	args := append([]string{}, synthesizedArgs...)
	args = append(args,
		"-chardev", fmt.Sprintf("socket,id=qc-console,path=%s,server=on,wait=off", v.consoleSocketPath),
		"-serial", "chardev:qc-console",
		"-chardev", fmt.Sprintf("socket,id=qc-monitor,path=%s,server=on,wait=off", v.monitorSocketPath),
		"-mon", "chardev=qc-monitor,mode=control",
	)

	cmd := exec.CommandContext(ctx, v.binary, args...) //nolint:gosec
	logger := log.WithFunc("vmm.Launch")
	logger.Infof(ctx, "launching %s with %d args", v.binary, len(args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", v.binary, err)
	}

	v.cmd = cmd
	v.pid = cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// PID returns the launched process id, or 0 before Launch succeeds.
func (v *VMM) PID() int { return v.pid }

// IsRunning reports liveness by signaling the pid with 0 (spec §4.8).
func (v *VMM) IsRunning() bool {
	return v.pid > 0 && utils.IsProcessAlive(v.pid)
}

// Shutdown issues qemu's hard-shutdown QMP verb ("quit") and waits for the
// process to exit, escalating to SIGKILL if it doesn't within
// shutdownGrace. Any failure in the QMP round trip is wrapped as
// qerr.AbnormalShutdown (spec §4.8, §7); the process is still forced down
// via SIGTERM/SIGKILL so cleanup always makes progress.
func (v *VMM) Shutdown(ctx context.Context) error {
	if !v.IsRunning() {
		return nil
	}

	qmpErr := v.quitViaQMP(ctx)

	if err := utils.WaitFor(ctx, shutdownGrace, 100*time.Millisecond, func() (bool, error) { //nolint:mnd
		return !v.IsRunning(), nil
	}); err != nil {
		_ = utils.TerminateProcess(ctx, v.pid, shutdownKillGrace)
	}

	if qmpErr != nil {
		return qerr.AbnormalShutdown(qmpErr)
	}
	return nil
}

// quitViaQMP dials the monitor socket via qmp.SocketMonitor (which performs
// the greeting read and "qmp_capabilities" handshake internally on Connect)
// and issues {"execute":"quit"}. The monitor socket may not exist yet (or
// ever, if qemu failed to create it) — that is itself reported as the
// abnormal-shutdown cause rather than retried, since a supervisor whose
// monitor never came up has no graceful path left.
//
// The command carries a uuid request id in its optional QMP "id" field so
// the reply can be correlated back to this exact request; qemu echoes "id"
// verbatim in its response.
func (v *VMM) quitViaQMP(ctx context.Context) error {
	mon, err := qmp.NewSocketMonitor("unix", v.monitorSocketPath, qmpDialTimeout)
	if err != nil {
		return fmt.Errorf("dial qmp monitor: %w", err)
	}
	if err := mon.Connect(); err != nil {
		return fmt.Errorf("qmp handshake: %w", err)
	}
	defer mon.Disconnect() //nolint:errcheck

	reqID := uuid.NewString()
	cmd, err := json.Marshal(map[string]any{"execute": "quit", "id": reqID})
	if err != nil {
		return fmt.Errorf("marshal qmp quit command: %w", err)
	}
	resp, err := mon.Run(cmd)
	if err != nil {
		return fmt.Errorf("run qmp quit: %w", err)
	}

	var reply struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &reply); err == nil && reply.ID != "" && reply.ID != reqID {
		log.WithFunc("vmm.quitViaQMP").Warnf(ctx, "qmp reply id %s does not match request %s", reply.ID, reqID)
	}
	return nil
}
