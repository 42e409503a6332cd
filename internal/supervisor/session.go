// Package supervisor owns the external agent process of a session and runs
// the retry ladder on abnormal exits.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/launch"
	"agentdeck/internal/logging"
	"agentdeck/internal/runlog"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("agent is already running")
	ErrNotRunning     = errors.New("agent is not running")
	ErrSpawnFailed    = errors.New("agent failed to start")
)

const outputDrainTimeout = 500 * time.Millisecond

// Recorder persists launch attempts. runlog.Store implements it.
type Recorder interface {
	RunStarted(run runlog.Run) error
	RunEnded(runID, status string, exitCode int, lastErr string) error
	AppendEvent(sessionID, runID, level, message string) error
}

type Options struct {
	ID string
	// Contract is read on every explicit start.
	Contract func() (launch.Contract, error)
	// BaseDir anchors a relative install_dir.
	BaseDir      string
	Spawner      Spawner
	Exec         launch.Exec
	Recorder     Recorder
	Sink         Sink
	Logger       *slog.Logger
	Environ      func() []string
	LookPath     func(string) (string, error)
	KillDeadline time.Duration
}

type Snapshot struct {
	Session      string `json:"session"`
	Status       string `json:"status"`
	Attempt      int    `json:"attempt"`
	MaxAttempts  int    `json:"max_attempts"`
	Profile      string `json:"profile,omitempty"`
	PID          int    `json:"pid,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	RetryPending bool   `json:"retry_pending"`
}

// Session holds at most one agent process. Every state transition and every
// event emission happens under mu, so clients see a process's output in
// order and a stopped status before the next running one.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	contract launch.Contract
	creds    launch.Credentials
	proc     Process
	// exiting is a process that has exited but whose output is still
	// draining. It is no longer running.
	exiting  Process
	exitCode int
	exitErr  error
	runID    string
	profile  string
	attempt  int
	cols     int
	rows     int
	paths    launch.Paths
	env      []string
	timer    *time.Timer
	retryGen uint64
	// epoch changes on every explicit start or stop and invalidates
	// background work started before it.
	epoch uint64
}

func NewSession(opts Options) *Session {
	if strings.TrimSpace(opts.ID) == "" {
		opts.ID = "default"
	}
	if opts.Contract == nil {
		opts.Contract = func() (launch.Contract, error) { return launch.DefaultContract(), nil }
	}
	if opts.Spawner == nil {
		opts.Spawner = PTYSpawner{}
	}
	if opts.Exec == nil {
		opts.Exec = launch.RealExec{}
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.KillDeadline <= 0 {
		opts.KillDeadline = defaultKillDeadline
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Session{
		opts:     opts,
		logger:   logger.With("module", "supervisor", "session", opts.ID),
		contract: launch.DefaultContract(),
	}
}

func (s *Session) ID() string { return s.opts.ID }

// Start launches profile 0 of a freshly read contract. A pending retry is
// cancelled and the attempt counter resets.
func (s *Session) Start(creds launch.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		s.logger.Warn("start while agent is running")
		return ErrAlreadyRunning
	}
	if s.exiting != nil {
		s.finishExitLocked(false)
	}
	s.cancelRetryLocked()
	s.epoch++
	s.attempt = 0

	c, err := s.opts.Contract()
	if err != nil {
		s.logLocked(LevelError, fmt.Sprintf("Cannot read launch contract: %v. Run `agentdeck contract check` to see what is wrong.", err))
		return err
	}
	s.contract = c
	s.creds = creds
	return s.launchLocked()
}

// Write sends text plus a carriage return to the agent's terminal.
func (s *Session) Write(text string) error {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.logger.Warn("write without running agent")
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	if _, err := proc.Write([]byte(text + "\r")); err != nil {
		s.logger.Warn("write to agent failed", "err", err)
		return fmt.Errorf("write to agent: %w", err)
	}
	return nil
}

// Stop cancels any pending retry, terminates the agent's process group and
// resets the ladder. Stopping an idle session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	pending := s.timer != nil
	s.cancelRetryLocked()
	s.epoch++
	s.attempt = 0
	if s.exiting != nil {
		s.finishExitLocked(false)
	}
	proc, runID := s.proc, s.runID
	s.proc = nil
	if proc == nil && !pending {
		s.mu.Unlock()
		return
	}
	if proc != nil {
		s.recordEnd(runID, runlog.StatusStopped, 0, "")
	}
	s.emitLocked(Event{Kind: EventStatus, Status: StatusStopped})
	s.logLocked(LevelInfo, "Agent stopped")
	s.mu.Unlock()

	if proc != nil {
		proc.Terminate(s.opts.KillDeadline)
		_ = proc.Close()
	}
}

// Resize changes the terminal size of the running agent and of later
// attempts.
func (s *Session) Resize(cols, rows int) error {
	if cols < 2 || rows < 2 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = cols, rows
	if s.proc == nil {
		return nil
	}
	return s.proc.Resize(cols, rows)
}

// Idle reports whether the session has no process, no draining exit and no
// pending retry.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc == nil && s.exiting == nil && s.timer == nil
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// WithSnapshot runs fn with the session locked so that no event is emitted
// between reading the snapshot and whatever fn registers.
func (s *Session) WithSnapshot(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Session:      s.opts.ID,
		Status:       StatusStopped,
		Attempt:      s.attempt,
		MaxAttempts:  s.contract.MaxAttempts,
		RetryPending: s.timer != nil,
	}
	if s.proc != nil {
		snap.Status = StatusRunning
		snap.Profile = s.profile
		snap.PID = s.proc.PID()
		snap.RunID = s.runID
	}
	return snap
}

// launchLocked runs one attempt with profile[attempt]. Failures before the
// child exists are reported once and never enter the ladder.
func (s *Session) launchLocked() error {
	c := s.contract
	p := c.Select(s.attempt)

	paths, err := c.ResolveInstall(s.opts.BaseDir)
	if err == nil {
		paths, err = launch.ResolveProfile(paths, p, s.opts.LookPath)
	}
	if err != nil {
		s.logger.Error("resolve agent failed", "profile", p.Name, "err", err)
		s.logLocked(LevelError, fmt.Sprintf("Cannot locate the agent: %v. Install it or fix install_dir and the profile command in the launch contract.", err))
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	model := c.ModelOrDefault(s.creds.Model)
	if paths.ArtifactPath != "" {
		doc := launch.ArtifactDoc{Model: model, Profile: p.Name, Attempt: s.attempt}
		if err := launch.WriteArtifact(paths.ArtifactPath, c.Artifact.Format, doc); err != nil {
			s.logger.Warn("write config artifact failed", "path", paths.ArtifactPath, "err", err)
			s.logLocked(LevelError, fmt.Sprintf("Failed to write agent config: %v", err))
		}
	}
	if paths.StateDir != "" {
		if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
			s.logLocked(LevelWarning, fmt.Sprintf("Failed to create state dir: %v", err))
		}
	}

	env := c.BuildEnv(s.opts.Environ(), s.creds, p, paths)
	cols, rows := c.TermCols, c.TermRows
	if s.cols > 0 && s.rows > 0 {
		cols, rows = s.cols, s.rows
	}
	runID := uuid.NewString()
	proc, err := s.opts.Spawner.Spawn(SpawnSpec{
		Binary: paths.Binary,
		Args:   append([]string(nil), p.Args...),
		Dir:    paths.WorkDir,
		Env:    env,
		Cols:   cols,
		Rows:   rows,
	})
	if err != nil {
		s.logger.Error("spawn agent failed", "profile", p.Name, "err", err)
		s.record(runlog.Run{RunID: runID, SessionID: s.opts.ID, Attempt: s.attempt, Profile: p.Name, Model: model, Status: runlog.StatusSpawnFailed, LastError: err.Error(), EndedAt: time.Now()})
		s.logLocked(LevelError, fmt.Sprintf("Failed to start agent: %v", err))
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	s.proc, s.runID, s.profile = proc, runID, p.Name
	s.exiting = nil
	s.paths, s.env = paths, env
	s.record(runlog.Run{RunID: runID, SessionID: s.opts.ID, Attempt: s.attempt, Profile: p.Name, Model: model, PID: proc.PID(), Status: runlog.StatusRunning})
	s.logger.Info("agent started", "profile", p.Name, "attempt", s.attempt, "pid", proc.PID(), "run_id", runID)
	s.logLocked(LevelSuccess, fmt.Sprintf("Agent started (profile %s, attempt %d/%d)", p.Name, s.attempt+1, c.MaxAttempts+1))
	s.emitLocked(Event{Kind: EventStatus, Status: StatusRunning})

	go s.watch(proc)
	return nil
}

func (s *Session) watch(proc Process) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		// A read may end inside a multi-byte character; hold those bytes
		// until the rest arrives so chunks stay valid text.
		var carry []byte
		for {
			n, err := proc.Read(buf)
			if n > 0 {
				var ready []byte
				ready, carry = splitOutput(carry, buf[:n])
				if len(ready) > 0 {
					s.onOutput(proc, ready)
				}
			}
			if err != nil {
				if len(carry) > 0 {
					s.onOutput(proc, carry)
				}
				return
			}
		}
	}()

	code, err := proc.Wait()
	s.onWaitDone(proc, code, err)
	select {
	case <-readDone:
	case <-time.After(outputDrainTimeout):
	}
	_ = proc.Close()
	s.onExit(proc)
}

func (s *Session) onOutput(proc Process, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc && s.exiting != proc {
		return
	}
	s.emitLocked(Event{Kind: EventTerminalData, Data: chunk})
}

// onWaitDone marks proc as exiting so the session stops accepting input for
// it while its remaining output drains.
func (s *Session) onWaitDone(proc Process, code int, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return
	}
	s.proc = nil
	s.exiting, s.exitCode, s.exitErr = proc, code, waitErr
}

func (s *Session) onExit(proc Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Stopped, replaced or already finished processes were accounted for.
	if s.exiting != proc {
		return
	}
	s.finishExitLocked(true)
}

// finishExitLocked reports the exit of the draining process. With retry
// unset the ladder is skipped because a client action supersedes it.
func (s *Session) finishExitLocked(retry bool) {
	code, waitErr := s.exitCode, s.exitErr
	s.exiting, s.exitErr = nil, nil
	runID := s.runID
	lastErr := ""
	if waitErr != nil {
		lastErr = waitErr.Error()
	}
	s.recordEnd(runID, runlog.StatusExited, code, lastErr)
	s.emitLocked(Event{Kind: EventStatus, Status: StatusStopped})

	if code == 0 && waitErr == nil {
		s.attempt = 0
		s.logger.Info("agent exited", "run_id", runID)
		s.logLocked(LevelInfo, "Agent exited cleanly")
		return
	}

	s.logger.Warn("agent exited abnormally", "run_id", runID, "exit_code", code, "attempt", s.attempt)
	s.logLocked(LevelWarning, fmt.Sprintf("Agent exited with code %d", code))
	if !retry {
		return
	}

	c := s.contract
	if s.attempt < c.MaxAttempts {
		s.attempt++
		delay := c.RetryDelay(s.attempt)
		next := c.Select(s.attempt)
		s.logLocked(LevelInfo, fmt.Sprintf("Retrying in %s with profile %s (attempt %d/%d)", delay, next.Name, s.attempt+1, c.MaxAttempts+1))
		s.scheduleRetryLocked(delay)
		return
	}
	s.giveUpLocked()
}

func (s *Session) scheduleRetryLocked(delay time.Duration) {
	s.retryGen++
	gen := s.retryGen
	s.timer = time.AfterFunc(delay, func() { s.retry(gen) })
}

func (s *Session) cancelRetryLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.retryGen++
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.retryGen || s.timer == nil {
		return
	}
	s.timer = nil
	if s.proc != nil {
		return
	}
	_ = s.launchLocked()
}

// giveUpLocked ends the ladder. The contract's diagnostic, if any, runs in
// the background and its output precedes the fatal notice.
func (s *Session) giveUpLocked() {
	c := s.contract
	notice := fmt.Sprintf("Too many failed attempts (%d launches). Check the agent install at %s and the profiles in the launch contract, then start again.", c.MaxAttempts+1, s.paths.InstallDir)
	s.logger.Error("agent retry ladder exhausted", "attempts", c.MaxAttempts+1)
	if !c.HasDiagnostic() {
		s.logLocked(LevelError, notice)
		return
	}

	s.logLocked(LevelInfo, "Running diagnostic: "+strings.TrimSpace(c.Diagnostic.Command+" "+strings.Join(c.Diagnostic.Args, " ")))
	epoch, paths, env := s.epoch, s.paths, s.env
	go func() {
		out, err := c.RunDiagnostic(context.Background(), s.opts.Exec, paths, env)
		s.mu.Lock()
		defer s.mu.Unlock()
		if epoch != s.epoch {
			return
		}
		if len(out) > 0 {
			s.emitLocked(Event{Kind: EventTerminalData, Data: out})
		}
		if err != nil {
			s.logLocked(LevelWarning, fmt.Sprintf("Diagnostic failed: %v", err))
		}
		s.logLocked(LevelError, notice)
	}()
}

func (s *Session) emitLocked(ev Event) {
	ev.Session = s.opts.ID
	s.opts.Sink.Emit(ev)
}

func (s *Session) logLocked(level, msg string) {
	s.emitLocked(Event{Kind: EventLog, Level: level, Message: msg})
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.AppendEvent(s.opts.ID, s.runID, level, msg); err != nil {
			s.logger.Warn("record event failed", "err", err)
		}
	}
}

func (s *Session) record(run runlog.Run) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.RunStarted(run); err != nil {
		s.logger.Warn("record run failed", "run_id", run.RunID, "err", err)
	}
}

func (s *Session) recordEnd(runID, status string, code int, lastErr string) {
	if s.opts.Recorder == nil || runID == "" {
		return
	}
	if err := s.opts.Recorder.RunEnded(runID, status, code, lastErr); err != nil {
		s.logger.Warn("record run end failed", "run_id", runID, "err", err)
	}
}
