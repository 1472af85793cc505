// Package supervise manages the lifecycle of external processes: start,
// bounded or run-to-completion supervision, and graceful-then-forced
// teardown.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultGrace is the wait window after a termination request before
// escalating to a forced kill.
const DefaultGrace = 5 * time.Second

// stderrTailBytes caps how much captured stderr is surfaced in diagnostics.
const stderrTailBytes = 2048

// Process is a supervised external process: a launched Proc plus the
// identity and timing the supervisor tracks for it.
type Process struct {
	ID      string // unique run identifier
	Name    string // human-readable step name
	Started time.Time

	proc Proc
}

// PID returns the OS process ID.
func (p *Process) PID() int { return p.proc.PID() }

// ExitCode returns the exit code. Meaningful only once the process
// has exited.
func (p *Process) ExitCode() int { return ExitCode(p.proc.Err()) }

// Stderr returns captured stderr. Stable once the process has exited.
func (p *Process) Stderr() []byte { return p.proc.Stderr() }

// Supervisor starts, times, and tears down named external processes.
// A single control goroutine drives it; the tracked-process map is
// guarded so teardown is safe from an interrupt path.
type Supervisor struct {
	Launcher Launcher
	Clock    clock.Clock   // nil means the real clock
	Grace    time.Duration // zero means DefaultGrace
	Log      *log.Logger

	mu    sync.Mutex
	procs map[string]*Process
}

// New returns a Supervisor using the real clock and default grace period.
func New(launcher Launcher, logger *log.Logger) *Supervisor {
	return &Supervisor{Launcher: launcher, Log: logger}
}

func (s *Supervisor) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.New()
}

func (s *Supervisor) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return DefaultGrace
}

// Start launches the named program. A launch failure is logged and nil
// is returned; it never aborts the caller, so callers must check for nil.
// The process is tracked until it completes or is stopped.
func (s *Supervisor) Start(name string, argv []string) *Process {
	s.Log.Info("starting", "name", name)

	proc, err := s.Launcher.Launch(argv)
	if err != nil {
		s.Log.Error("failed to start", "name", name, "err", err)
		return nil
	}

	p := &Process{
		ID:      uuid.New().String(),
		Name:    name,
		Started: s.clock().Now(),
		proc:    proc,
	}

	s.mu.Lock()
	if s.procs == nil {
		s.procs = make(map[string]*Process)
	}
	s.procs[name] = p
	s.mu.Unlock()

	s.Log.Info("started", "name", name, "pid", proc.PID())
	return p
}

// ErrForcedKill reports that a process ignored the graceful-termination
// request and had to be killed.
var ErrForcedKill = errors.New("process required forced kill")

// RunBounded supervises p for up to d of wall-clock time (or until ctx is
// cancelled), then applies the graceful-then-forced shutdown protocol. A
// process that exits on its own ends the wait early; a non-zero early exit
// is logged with its stderr tail and returned as an error. It always
// leaves the process terminated; ErrForcedKill reports that the graceful
// path did not suffice.
func (s *Supervisor) RunBounded(ctx context.Context, p *Process, d time.Duration) error {
	s.Log.Info("running for bounded duration", "name", p.Name, "duration", d)

	timer := s.clock().Timer(d)
	exited := false
	select {
	case <-timer.C:
	case <-p.proc.Done():
		// Exited on its own before the budget elapsed.
		timer.Stop()
		exited = true
	case <-ctx.Done():
		timer.Stop()
	}

	graceful := s.stop(p)
	s.untrack(p.Name)

	if exited {
		if code := ExitCode(p.proc.Err()); code != 0 {
			s.Log.Error("exited early with failure", "name", p.Name,
				"exit_code", code, "stderr", tail(p.proc.Stderr()))
			return fmt.Errorf("exited with code %d", code)
		}
		return nil
	}
	if !graceful {
		return ErrForcedKill
	}
	return nil
}

// RunToCompletion blocks until p exits on its own (or ctx is cancelled,
// which triggers the shutdown protocol). It returns true iff the exit
// code is zero; on non-zero exit the captured stderr tail is logged.
func (s *Supervisor) RunToCompletion(ctx context.Context, p *Process) bool {
	select {
	case <-p.proc.Done():
	case <-ctx.Done():
		s.stop(p)
		s.untrack(p.Name)
		s.Log.Warn("interrupted", "name", p.Name)
		return false
	}
	s.untrack(p.Name)

	if code := ExitCode(p.proc.Err()); code != 0 {
		s.Log.Error("failed", "name", p.Name, "exit_code", code,
			"stderr", tail(p.proc.Stderr()))
		return false
	}

	s.Log.Info("completed successfully", "name", p.Name)
	return true
}

// Run executes argv to completion as a one-shot supervised run with
// captured output, without tracking it for teardown. Cancellation of ctx
// kills the process. A failure to launch is returned as an error.
func (s *Supervisor) Run(ctx context.Context, argv []string) (*Result, error) {
	proc, err := s.Launcher.Launch(argv)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", argv[0], err)
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
	}

	return &Result{
		RunID:     uuid.New().String(),
		ExitCode:  ExitCode(proc.Err()),
		Stdout:    proc.Stdout(),
		Stderr:    proc.Stderr(),
		Truncated: proc.Truncated(),
	}, nil
}

// StopAll tears down every still-tracked process using the
// graceful-then-forced protocol. It is idempotent and safe to call from
// an interrupt path: the tracked set is drained before stopping, so a
// second call finds nothing to do, and already-exited processes receive
// no signals.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	procs := s.procs
	s.procs = nil
	s.mu.Unlock()

	for _, p := range procs {
		s.stop(p)
	}
}

// stop applies the shutdown protocol to a single process: request
// graceful termination, wait up to the grace period, then force-kill.
// Returns true when the process exited without a forced kill (including
// when it had already exited).
func (s *Supervisor) stop(p *Process) bool {
	if !p.proc.Alive() {
		return true
	}

	s.Log.Info("stopping", "name", p.Name)
	if err := p.proc.Signal(syscall.SIGTERM); err != nil {
		// The process may have exited between the liveness check and
		// the signal; the wait below resolves either way.
		s.Log.Debug("terminate request failed", "name", p.Name, "err", err)
	}

	timer := s.clock().Timer(s.grace())
	select {
	case <-p.proc.Done():
		timer.Stop()
		s.Log.Info("stopped gracefully", "name", p.Name)
		return true
	case <-timer.C:
		s.Log.Warn("did not terminate gracefully, killing", "name", p.Name)
		_ = p.proc.Kill()
		<-p.proc.Done()
		return false
	}
}

func (s *Supervisor) untrack(name string) {
	s.mu.Lock()
	delete(s.procs, name)
	s.mu.Unlock()
}

// tail returns the last stderrTailBytes of b as trimmed text.
func tail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(b))
}
