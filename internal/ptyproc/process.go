// Package ptyproc is the PTY Process Manager (spec.md §4.1): it launches a
// child under a fresh pseudo-terminal, pumps its master side asynchronously,
// and reports read/exit events back to whoever owns the process.
//
// Grounded on services/terminal.go's aymanbagabas/go-pty wrapper in the
// teacher repo, generalized from a long-lived reconnect-friendly shell
// session into the one-process-per-session, pause/resume-driven manager
// spec.md §4.1 and §5 require.
package ptyproc

import (
	"fmt"
	"sync"
	"sync/atomic"

	gopty "github.com/aymanbagabas/go-pty"
	"go.uber.org/zap"
)

// ReadFunc is invoked with either a non-empty owned buffer (eof=false) or a
// nil buffer (eof=true). It must not block for long — it is called from the
// process's own read goroutine.
type ReadFunc func(buf []byte, eof bool)

// ExitFunc is invoked exactly once, after the child has been reaped.
type ExitFunc func(exitCode int, exitSignal int)

// Process is one PTY-backed child. The zero value is not usable; build one
// with New.
type Process struct {
	logger *zap.Logger

	argv []string
	envp []string
	cwd  string

	mu         sync.Mutex
	cols       uint16
	rows       uint16
	pty        gopty.Pty
	cmd        *gopty.Cmd
	pid        int
	exitSet    bool
	exitCode   int
	exitSignal int

	running  atomic.Bool
	paused   atomic.Bool
	resumeCh chan struct{}
	writeCh  chan []byte
	closeCh  chan struct{}
	closed   atomic.Bool

	onRead ReadFunc
	onExit ExitFunc

	waitOnce sync.Once
}

// New allocates a Process without spawning it (spec.md §4.1 init). Default
// size is 80x24 until Resize is called or a handshake overrides it.
func New(argv, envp []string, cwd string, logger *zap.Logger) *Process {
	return &Process{
		logger: logger,
		argv:   argv,
		envp:   envp,
		cwd:    cwd,
		cols:   80,
		rows:   24,
	}
}

// SetSize stores the window size to apply at spawn time (and is also used
// by Resize once running).
func (p *Process) SetSize(cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
}

// Spawn creates the PTY pair, forks/execs argv, and starts the read and
// child-waiter goroutines. The process starts paused: onRead will not fire
// until Resume is called (spec.md §4.1).
func (p *Process) Spawn(onRead ReadFunc, onExit ExitFunc) error {
	p.mu.Lock()
	cols, rows := p.cols, p.rows
	p.mu.Unlock()

	if cols == 0 || rows == 0 {
		return fmt.Errorf("ptyproc: columns*rows must be > 0 before spawn")
	}
	if len(p.argv) == 0 {
		return fmt.Errorf("ptyproc: empty argv")
	}

	pt, err := gopty.New()
	if err != nil {
		return fmt.Errorf("ptyproc: allocate pty: %w", err)
	}

	cmd := pt.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.cwd
	cmd.Env = p.envp

	if err := pt.Resize(int(cols), int(rows)); err != nil {
		p.logger.Warn("initial resize failed", zap.Error(err))
	}

	if err := cmd.Start(); err != nil {
		pt.Close()
		return fmt.Errorf("ptyproc: spawn: %w", err)
	}

	p.mu.Lock()
	p.pty = pt
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.mu.Unlock()

	p.onRead = onRead
	p.onExit = onExit
	p.resumeCh = make(chan struct{}, 1)
	p.writeCh = make(chan []byte, 256)
	p.closeCh = make(chan struct{})
	p.running.Store(true)

	go p.readLoop()
	go p.writeLoop()
	go p.waitLoop()

	return nil
}

// readLoop delivers at most one buffer per Resume, per the pause/resume
// backpressure contract (spec.md §4.1, §5).
func (p *Process) readLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-p.resumeCh:
		case <-p.closeCh:
			return
		}

		n, err := p.pty.Read(buf)
		if err != nil {
			p.onRead(nil, true)
			return
		}
		if n == 0 {
			// Spurious zero-length read; drop silently and wait to be
			// resumed again rather than spinning.
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		// A read that was already in flight when Pause was called is held
		// back until Resume, so a pause also covers that buffer.
		for p.paused.Load() {
			select {
			case <-p.resumeCh:
			case <-p.closeCh:
				return
			}
		}
		p.onRead(cp, false)
	}
}

func (p *Process) writeLoop() {
	for {
		select {
		case buf, ok := <-p.writeCh:
			if !ok {
				return
			}
			p.mu.Lock()
			pt := p.pty
			p.mu.Unlock()
			if pt == nil {
				continue
			}
			if _, err := pt.Write(buf); err != nil {
				p.logger.Debug("pty write failed", zap.Error(err))
			}
		case <-p.closeCh:
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	exitCode := -1
	exitSignal := 0
	if err == nil {
		exitCode = 0
	} else if exitErr, ok := asExitError(err); ok {
		exitCode, exitSignal = exitErr.codeAndSignal()
	}

	p.waitOnce.Do(func() {
		p.mu.Lock()
		p.exitSet = true
		p.exitCode = exitCode
		p.exitSignal = exitSignal
		p.mu.Unlock()
		// Cleared only once the exit code is stored, so a caller that sees
		// Running() == false always reads the real ExitCode().
		p.running.Store(false)
		p.onExit(exitCode, exitSignal)
	})
}

// ExitCode returns the child's exit code (spec.md §4.1: WEXITSTATUS on
// normal exit, 128+signo on signal termination), or -1 if it hasn't
// exited yet.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exitSet {
		return -1
	}
	return p.exitCode
}

// Write enqueues buf for asynchronous delivery to the PTY master, preserving
// receive order (spec.md §5). Returns an error if the process has already
// exited.
func (p *Process) Write(buf []byte) error {
	if !p.running.Load() {
		return fmt.Errorf("ptyproc: write: %w", errNoProcess)
	}
	select {
	case p.writeCh <- buf:
		return nil
	case <-p.closeCh:
		return fmt.Errorf("ptyproc: write: %w", errNoProcess)
	}
}

// Resize applies the current (or given) window size to the PTY.
func (p *Process) Resize(cols, rows uint16) bool {
	p.SetSize(cols, rows)
	p.mu.Lock()
	pt := p.pty
	p.mu.Unlock()
	if pt == nil {
		return false
	}
	return pt.Resize(int(cols), int(rows)) == nil
}

// Pause latches the process paused: the internal post-write backpressure
// continuation (ContinueReading) will not restart the master-side reader,
// and no further buffer is delivered, until Resume (client RESUME) clears it
// (spec.md §4.2 client tag '2', §4.1 "stop/start the master-side reader").
func (p *Process) Pause() {
	p.paused.Store(true)
}

// Resume clears a client-initiated pause and restarts the master-side
// reader for one more delivery (spec.md §4.2 client tag '3'). Idempotent:
// a Resume with no intervening read is a no-op (channel is already full).
func (p *Process) Resume() {
	p.paused.Store(false)
	p.kick()
}

// ContinueReading requests the next read as part of the internal
// backpressure loop (spec.md §5: one buffer delivered per completed
// write), but is a no-op while Pause is in effect — PAUSE must actually
// stop output, not merely delay it by one round trip.
func (p *Process) ContinueReading() {
	if p.paused.Load() {
		return
	}
	p.kick()
}

func (p *Process) kick() {
	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
}

// Kill sends signal to the child's process group (spec.md §4.1, §6).
func (p *Process) Kill(signal int) bool {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()
	if pid == 0 {
		return false
	}
	return killProcessGroup(pid, signal) == nil
}

// Running reports whether the process is still alive.
func (p *Process) Running() bool {
	return p.running.Load()
}

// Pid returns the child's process id, or 0 if not yet spawned.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Free releases the process's buffers and channels. Must not be called
// while a read or exit callback is still pending (spec.md §4.1).
func (p *Process) Free() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.closeCh)
	}
	p.mu.Lock()
	pt := p.pty
	p.mu.Unlock()
	if pt != nil {
		pt.Close()
	}
}

var errNoProcess = fmt.Errorf("no process")
