package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mcpipe/mcpipe/internal/rpc"
)

// stdioKillGrace is how long Close waits for a polite exit before killing.
const stdioKillGrace = 3 * time.Second

// StdioConfig describes the subprocess to run as the MCP server.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// Stdio runs an MCP server as a child process and speaks newline-delimited
// JSON-RPC over its stdin/stdout. The child's stderr is relayed to the log.
type Stdio struct {
	lifecycle
	cfg StdioConfig

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	killMu    sync.Mutex
	killTimer *time.Timer
}

// NewStdio builds a stdio transport. The command must be non-empty.
func NewStdio(cfg StdioConfig, events Events) (*Stdio, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: stdio transport requires a command", ErrInvalidConfig)
	}
	t := &Stdio{cfg: cfg}
	t.name = "stdio:" + cfg.Command
	t.events = events
	return t, nil
}

// Connect spawns the child and starts the read loops. The transport is
// ready as soon as the pipes are up; the MCP handshake rides on top as
// ordinary messages.
func (t *Stdio) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.setState(StateClosed)
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.setState(StateClosed)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.setState(StateClosed)
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.setState(StateClosed)
		return fmt.Errorf("start %s: %w", t.cfg.Command, err)
	}
	t.cmd = cmd
	t.stdin = stdin
	slog.Info("server process started", "command", t.cfg.Command, "pid", cmd.Process.Pid)

	t.setState(StateReady)

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go t.waitLoop()
	return nil
}

// Send writes one newline-terminated JSON line to the child's stdin.
func (t *Stdio) Send(msg *rpc.Message) error {
	if !t.ready() {
		return ErrNotReady
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to server stdin: %w", err)
	}
	return nil
}

// Close shuts the child down: stdin is closed to signal EOF, then the
// process gets an interrupt and, after a grace period, a kill. OnClose
// fires from the wait loop once the process is gone.
func (t *Stdio) Close() error {
	if t.State() == StateClosed {
		return nil
	}
	t.setState(StateClosing)

	t.writeMu.Lock()
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	t.writeMu.Unlock()

	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(os.Interrupt)
		// The wait loop disarms this once the child is reaped; a child
		// that ignores the interrupt gets killed when the grace expires.
		t.killMu.Lock()
		t.killTimer = time.AfterFunc(stdioKillGrace, func() {
			slog.Warn("server ignored interrupt, killing", "command", t.cfg.Command)
			_ = t.cmd.Process.Kill()
		})
		t.killMu.Unlock()
	}
	return nil
}

// readLoop frames the child's stdout into messages. Lines that fail to
// parse are logged and skipped; they never abort the stream.
func (t *Stdio) readLoop(stdout io.Reader) {
	var framer rpc.Framer
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				msg, derr := rpc.Decode(line)
				if derr != nil {
					slog.Warn("skipping unparseable server output", "err", derr, "line", string(line))
					continue
				}
				t.emitMessage(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Stdio) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Warn("server stderr", "command", t.cfg.Command, "line", scanner.Text())
	}
}

// waitLoop reaps the child and fires OnClose with its exit error. This is
// the single close source for the stdio variant, so a crash and a local
// Close both funnel through the same at-most-once emission.
func (t *Stdio) waitLoop() {
	err := t.cmd.Wait()
	t.killMu.Lock()
	if t.killTimer != nil {
		t.killTimer.Stop()
	}
	t.killMu.Unlock()
	if err != nil {
		slog.Warn("server process exited", "command", t.cfg.Command, "err", err)
	} else {
		slog.Info("server process exited", "command", t.cfg.Command)
	}
	t.emitClose(err)
}
