package supervise

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
)

// Proc is the capability set the supervisor needs from a launched process:
// start has already happened; what remains is waiting, signalling, killing,
// liveness, and captured output. The demo sequencer and the CLI depend only
// on this interface, so tests can substitute in-process fakes.
type Proc interface {
	// PID returns the OS process ID.
	PID() int
	// Done returns a channel closed once the process has exited and
	// been reaped.
	Done() <-chan struct{}
	// Err returns the wait error. Valid only after Done is closed;
	// nil means a zero exit.
	Err() error
	// Signal delivers sig to the process (graceful-termination request).
	Signal(sig os.Signal) error
	// Kill forcibly terminates the process.
	Kill() error
	// Alive reports whether the process has not yet exited.
	Alive() bool
	// Stdout and Stderr return captured output. Stable once Done is closed.
	Stdout() []byte
	Stderr() []byte
	// Truncated reports whether captured output exceeded the size cap.
	Truncated() bool
}

// Launcher starts external programs. Implemented by ExecLauncher for real
// OS processes and by fakes in tests.
type Launcher interface {
	Launch(argv []string) (Proc, error)
}

// ExecLauncher launches OS processes via os/exec with captured,
// size-capped output streams.
type ExecLauncher struct {
	Dir       string // working directory for launched processes
	MaxOutput int    // per-stream output cap in bytes
}

// Launch starts argv[0] with the remaining elements as arguments.
// The binary is resolved via PATH.
func (l *ExecLauncher) Launch(argv []string) (Proc, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}

	limit := l.MaxOutput
	if limit <= 0 {
		limit = 1 << 20
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.Dir

	p := &execProc{
		cmd:    cmd,
		stdout: &limitWriter{limit: limit},
		stderr: &limitWriter{limit: limit},
		done:   make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// execProc adapts *exec.Cmd to the Proc interface. The wait goroutine
// started at launch is the only writer of err; readers observe it through
// the done channel close.
type execProc struct {
	cmd    *exec.Cmd
	stdout *limitWriter
	stderr *limitWriter
	done   chan struct{}
	err    error
}

func (p *execProc) PID() int                   { return p.cmd.Process.Pid }
func (p *execProc) Done() <-chan struct{}      { return p.done }
func (p *execProc) Stdout() []byte             { return p.stdout.buf.Bytes() }
func (p *execProc) Stderr() []byte             { return p.stderr.buf.Bytes() }
func (p *execProc) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProc) Kill() error                { return p.cmd.Process.Kill() }

func (p *execProc) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProc) Truncated() bool {
	return p.stdout.buf.Len() >= p.stdout.limit || p.stderr.buf.Len() >= p.stderr.limit
}

// ExitCode extracts the process exit code from a wait error.
// nil means 0; a non-exit error (e.g. wait failure) maps to -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
