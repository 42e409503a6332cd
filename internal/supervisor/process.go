package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const defaultKillDeadline = 3 * time.Second

// SpawnSpec is a fully resolved launch attempt.
type SpawnSpec struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
	Cols   int
	Rows   int
}

// Process is a running child attached to a terminal.
type Process interface {
	io.ReadWriter
	PID() int
	Resize(cols, rows int) error
	// Wait blocks until the child exits and returns its exit code. A child
	// killed by a signal reports 128+signal.
	Wait() (int, error)
	// Terminate signals the process group and escalates to SIGKILL after
	// deadline. Terminating an exited process is a no-op.
	Terminate(deadline time.Duration)
	Close() error
}

type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// PTYSpawner starts children under a pseudo-terminal.
type PTYSpawner struct {
	// StartWithSize defaults to pty.StartWithSize.
	StartWithSize func(*exec.Cmd, *pty.Winsize) (*os.File, error)
}

func (s PTYSpawner) Spawn(spec SpawnSpec) (Process, error) {
	start := s.StartWithSize
	if start == nil {
		start = pty.StartWithSize
	}
	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec // binary and args come from the launch contract
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	ptmx, err := start(cmd, &pty.Winsize{Rows: uint16(spec.Rows), Cols: uint16(spec.Cols)})
	if err != nil {
		return nil, fmt.Errorf("start %s under pty: %w", spec.Binary, err)
	}
	p := &ptyProcess{cmd: cmd, ptmx: ptmx, done: make(chan struct{})}
	if cmd.Process != nil && cmd.Process.Pid > 0 {
		if pgid, pgErr := syscall.Getpgid(cmd.Process.Pid); pgErr == nil {
			p.pgid = pgid
		}
	}
	go p.wait()
	return p, nil
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pgid int

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (p *ptyProcess) wait() {
	err := p.cmd.Wait()
	p.exitCode, p.waitErr = exitCodeOf(err)
	close(p.done)
}

func (p *ptyProcess) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

func (p *ptyProcess) Terminate(deadline time.Duration) {
	if deadline <= 0 {
		deadline = defaultKillDeadline
	}
	select {
	case <-p.done:
		return
	default:
	}
	sendSignal(p.PID(), p.pgid, syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(deadline):
		sendSignal(p.PID(), p.pgid, syscall.SIGKILL)
		select {
		case <-p.done:
		case <-time.After(deadline):
		}
	}
}

func (p *ptyProcess) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.ptmx.Close() })
	return err
}

func exitCodeOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

func sendSignal(pid, pgid int, sig syscall.Signal) {
	if pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil || errors.Is(err, syscall.ESRCH) {
			return
		}
	}
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, sig)
}
