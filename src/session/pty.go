package session

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/relaydeck/vtmux/src/apperr"
)

// killGracePeriod is the graceful-to-hard termination window in spec §4.1
// and §5 ("kill(session) graceful-to-hard termination window: 2s").
const killGracePeriod = 2 * time.Second

const (
	defaultCols = 120
	defaultRows = 30
)

// ptyProcess wraps a single PTY-attached child process. It is the PTY
// Manager unit spec §4.1 describes; liveSession (in manager.go) composes one
// of these with a stream.Writer and exposes the higher-level operations.
type ptyProcess struct {
	ptmx *os.File
	cmd  *exec.Cmd

	mu      sync.Mutex
	closed  bool
	usePgrp bool

	exitCh   chan struct{} // closed once the child has been reaped
	exitCode int
}

// spawnOptions mirrors spawn(command, cwd, env, cols, rows) from spec §4.1.
type spawnOptions struct {
	Command []string
	Cwd     string
	Env     map[string]string
	Cols    int
	Rows    int
}

func spawnPTY(opts spawnOptions) (*ptyProcess, error) {
	if len(opts.Command) == 0 {
		return nil, apperr.BadRequest("command must be a non-empty array")
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	systemEnv := os.Environ()
	overridden := make(map[string]bool, len(opts.Env))
	for k := range opts.Env {
		overridden[k] = true
	}
	finalEnv := make([]string, 0, len(systemEnv)+len(opts.Env))
	for _, kv := range systemEnv {
		if idx := indexByte(kv, '='); idx > 0 && !overridden[kv[:idx]] {
			finalEnv = append(finalEnv, kv)
		}
	}
	for k, v := range opts.Env {
		finalEnv = append(finalEnv, k+"="+v)
	}
	cmd.Env = finalEnv

	usePgrp := runtime.GOOS == "linux"
	if usePgrp {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, apperr.SpawnFailed(err)
	}

	p := &ptyProcess{
		ptmx:    ptmx,
		cmd:     cmd,
		usePgrp: usePgrp,
		exitCh:  make(chan struct{}),
	}
	return p, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Read reads raw PTY output. Returns io.EOF (or another error) once the
// child has exited and the master side is closed.
func (p *ptyProcess) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

// WriteInput forwards bytes verbatim to the PTY master. Never buffered
// across restarts, per spec §4.1.
func (p *ptyProcess) WriteInput(b []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperr.Gone("session is not running")
	}
	p.mu.Unlock()
	_, err := p.ptmx.Write(b)
	return err
}

// Resize validates cols/rows and sends a window-size change to the PTY.
func (p *ptyProcess) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apperr.BadRequest("cols and rows must be strictly positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperr.Gone("session is not running")
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill sends a graceful termination signal immediately and returns without
// waiting for the child to exit; a background goroutine escalates to
// SIGKILL after killGracePeriod if the child hasn't been reaped by then.
// Idempotent: calling it twice concurrently is safe, only the first call
// sends a signal, and both calls observe the same final state (spec §8,
// "Kill idempotence").
func (p *ptyProcess) Kill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	proc := p.cmd.Process
	pid := 0
	if proc != nil {
		pid = proc.Pid
	}
	usePgrp := p.usePgrp
	p.mu.Unlock()

	if proc == nil {
		return
	}

	if usePgrp {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	} else {
		_ = proc.Signal(syscall.SIGTERM)
	}

	go func() {
		select {
		case <-p.exitCh:
			return
		case <-time.After(killGracePeriod):
		}
		if usePgrp {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		} else {
			_ = proc.Kill()
		}
	}()
}

// wait blocks until the child is reaped and returns its exit code. It
// waits on the process first, then closes the PTY master so concurrent
// readers observe EOF.
func (p *ptyProcess) wait() int {
	err := p.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = status.ExitStatus()
			} else {
				exitCode = 1
			}
		} else {
			exitCode = 1
		}
	}

	p.mu.Lock()
	p.exitCode = exitCode
	p.closed = true
	p.mu.Unlock()

	_ = p.ptmx.Close()
	close(p.exitCh)
	return exitCode
}

func (p *ptyProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

var _ io.Reader = (*ptyProcess)(nil)
