// Package terminal implements the Terminal Bridge (spec §4.10): it
// multiplexes the controlling terminal with the guest console socket in
// batch mode (driven by the Boot Script Interpreter) or hands off to a
// raw-mode interactive pass-through. Grounded on the original
// qemu_compose/instance/terminal.py, with the zio-based byte-stream reader
// it depended on reimplemented directly against the console unix socket
// using golang.org/x/term for raw-mode control (present in the pack via
// AbuCTF-Anvil's go.mod alongside x/crypto/ssh).
package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/projecteru2/core/log"

	"github.com/zTrix/qemu-compose/bootscript"
)

const pumpPollInterval = 200 * time.Millisecond

// Bridge owns the connection to the VMM's console socket and the
// controlling terminal's raw/cooked mode state.
type Bridge struct {
	conn    net.Conn
	logFile *os.File

	readBuf bytes.Buffer
	readMu  sync.Mutex

	pumpRunning bool
	pumpDone    chan struct{}
	pumpMu      sync.Mutex
}

// Dial connects to the VMM's console socket (spec §4.8's stream-socket
// isa-serial chardev) and opens logPath (if non-empty) to mirror all
// console bytes for post-mortem debugging.
func Dial(consoleSocketPath, logPath string) (*Bridge, error) {
	conn, err := net.Dial("unix", consoleSocketPath)
	if err != nil {
		return nil, fmt.Errorf("dial console socket %s: %w", consoleSocketPath, err)
	}
	b := &Bridge{conn: conn}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:mnd
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open console log %s: %w", logPath, err)
		}
		b.logFile = f
	}
	return b, nil
}

// Close releases the console connection and log file.
func (b *Bridge) Close() error {
	if b.logFile != nil {
		_ = b.logFile.Close()
	}
	return b.conn.Close()
}

// AssertAttachedTTY enforces spec §4.10's "must run attached to a
// terminal" precondition.
func AssertAttachedTTY() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("terminal bridge requires a controlling tty on stdin")
	}
	return nil
}

func (b *Bridge) teeLog(p []byte) {
	if b.logFile != nil {
		_, _ = b.logFile.Write(p)
	}
}

// fill reads whatever is currently available from the console connection
// (bounded by deadline) into the internal buffer.
func (b *Bridge) fill(deadline time.Time) error {
	if err := b.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	chunk := make([]byte, 4096) //nolint:mnd
	n, err := b.conn.Read(chunk)
	if n > 0 {
		b.readBuf.Write(chunk[:n])
		b.teeLog(chunk[:n])
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

// ReadUntil reads from the console until pattern matches somewhere in the
// accumulated bytes, or timeout elapses, mirroring the original's
// `read_until` host binding. The matched prefix (through the end of the
// match) is returned and consumed; bytes past the match stay buffered.
func (b *Bridge) ReadUntil(pattern *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if loc := pattern.FindIndex(b.readBuf.Bytes()); loc != nil {
			all := b.readBuf.Bytes()
			matched := append([]byte{}, all[:loc[1]]...)
			remainder := append([]byte{}, all[loc[1]:]...)
			b.readBuf.Reset()
			b.readBuf.Write(remainder)
			return matched, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("read_until: timeout after %s waiting for %s", timeout, pattern.String())
		}
		if err := b.fill(deadline); err != nil {
			return nil, err
		}
	}
}

// ReadAvailable reads whatever arrives within timeout without requiring a
// pattern match, mirroring the original's `wait` (io.read_until_timeout).
func (b *Bridge) ReadAvailable(timeout time.Duration) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if err := b.fill(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	out := append([]byte{}, b.readBuf.Bytes()...)
	b.readBuf.Reset()
	return out, nil
}

// Write sends data to the console's write side unmodified.
func (b *Bridge) Write(data []byte) error {
	_, err := b.conn.Write(data)
	return err
}

// WriteLine writes data followed by a newline.
func (b *Bridge) WriteLine(data []byte) error {
	return b.Write(append(append([]byte{}, data...), '\n'))
}

// RunBatch sets the controlling terminal raw, starts the input-pump
// goroutine, builds a bootscript.Env carrying this bridge's host bindings
// plus envVariables, and interprets cmds (spec §4.10 batch mode). The
// terminal mode is always restored on return.
func (b *Bridge) RunBatch(ctx context.Context, cmds []any, envVariables map[string]any) error {
	if err := AssertAttachedTTY(); err != nil {
		return err
	}
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	b.startPump(ctx)
	defer b.stopPump()

	env := bootscript.DefaultEnv()
	env.Define("read_until", bootscript.BuiltinFunc{Name: "read_until", Fn: b.bindReadUntil()})
	env.Define("write", bootscript.BuiltinFunc{Name: "write", Fn: b.bindWrite()})
	env.Define("writeline", bootscript.BuiltinFunc{Name: "writeline", Fn: b.bindWriteLine()})
	env.Define("wait", bootscript.BuiltinFunc{Name: "wait", Fn: b.bindWait()})
	env.Define("RegExp", bootscript.BuiltinFunc{Name: "RegExp", Fn: bindRegExp})
	env.Define("interact", bootscript.BuiltinFunc{Name: "interact", Fn: b.bindInteract(ctx)})
	for k, v := range envVariables {
		env.Define(k, v)
	}

	if _, err := bootscript.RunProgram(cmds, env); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) bindReadUntil() func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("read_until requires a pattern")
		}
		re, ok := args[0].(*regexp.Regexp)
		if !ok {
			return nil, fmt.Errorf("read_until requires a RegExp value")
		}
		timeout := 3600 * time.Second //nolint:mnd
		if len(args) > 1 {
			timeout = time.Duration(toFloat(args[1])) * time.Second
		}
		data, err := b.ReadUntil(re, timeout)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

func (b *Bridge) bindWait() func([]any) (any, error) {
	return func(args []any) (any, error) {
		timeout := 1 * time.Second
		if len(args) > 0 {
			timeout = time.Duration(toFloat(args[0])) * time.Second
		}
		data, err := b.ReadAvailable(timeout)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

func (b *Bridge) bindWrite() func([]any) (any, error) {
	return func(args []any) (any, error) {
		for _, a := range args {
			if err := b.Write([]byte(fmt.Sprint(a))); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func (b *Bridge) bindWriteLine() func([]any) (any, error) {
	return func(args []any) (any, error) {
		for _, a := range args {
			if err := b.WriteLine([]byte(fmt.Sprint(a))); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func bindRegExp(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("RegExp requires a pattern string")
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("RegExp requires a string pattern")
	}
	return regexp.Compile(pattern)
}

func (b *Bridge) bindInteract(ctx context.Context) func([]any) (any, error) {
	return func(args []any) (any, error) {
		var buffered []byte
		rawMode := false
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				buffered = []byte(s)
			}
		}
		if len(args) > 1 {
			if bv, ok := args[1].(bool); ok {
				rawMode = bv
			}
		}
		return nil, b.Interact(ctx, buffered, rawMode)
	}
}

func toFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func (b *Bridge) startPump(ctx context.Context) {
	b.pumpMu.Lock()
	defer b.pumpMu.Unlock()
	if b.pumpRunning {
		return
	}
	b.pumpRunning = true
	b.pumpDone = make(chan struct{})
	go b.pumpLoop(ctx, b.pumpDone)
}

func (b *Bridge) stopPump() {
	b.pumpMu.Lock()
	if !b.pumpRunning {
		b.pumpMu.Unlock()
		return
	}
	b.pumpRunning = false
	done := b.pumpDone
	b.pumpMu.Unlock()
	<-done
}

// pumpLoop polls stdin every 200ms (non-blocking, via poll(2)) and forwards
// whatever arrives to the console write side, until stopPump flips
// pumpRunning false — the "cooperative input-pump thread" of spec §4.10,
// joined rather than killed so it never races a mode switch.
func (b *Bridge) pumpLoop(ctx context.Context, done chan<- struct{}) {
	logger := log.WithFunc("terminal.pumpLoop")
	defer close(done)
	for {
		b.pumpMu.Lock()
		running := b.pumpRunning
		b.pumpMu.Unlock()
		if !running {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		fds := []unix.PollFd{{Fd: 0, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(pumpPollInterval/time.Millisecond))
		if err != nil || n <= 0 {
			continue
		}
		buf := make([]byte, 1024) //nolint:mnd
		read, err := unix.Read(0, buf)
		if err != nil || read <= 0 {
			continue
		}
		if _, err := b.conn.Write(buf[:read]); err != nil {
			logger.Warnf(ctx, "pump write to console failed: %v", err)
			return
		}
	}
}

// Interact cedes the terminal to a raw-mode full-duplex pass-through
// between stdin/stdout and the console connection until EOF (spec §4.10
// "switching to interactive"). It stops the input pump first so the two
// never race on stdin.
func (b *Bridge) Interact(ctx context.Context, buffered []byte, rawMode bool) error {
	b.stopPump()

	if len(buffered) > 0 {
		if _, err := os.Stdout.Write(buffered); err != nil {
			return err
		}
	}

	if rawMode {
		fd := int(os.Stdin.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}

	errCh := make(chan error, 2) //nolint:mnd
	go func() {
		_, err := io.Copy(b.conn, os.Stdin)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, b.conn)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// WatchResize starts a background goroutine logging the controlling
// terminal's new dimensions on SIGWINCH; propagating the resize to the
// guest via QMP is left unimplemented, matching spec §4.10's stated
// intent ("planned"). Returns a stop function.
func WatchResize(ctx context.Context) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	logger := log.WithFunc("terminal.WatchResize")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
					logger.Infof(ctx, "terminal resized to %dx%d", w, h)
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
