package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/deixis/conductor/internal/config"
	"github.com/deixis/conductor/internal/report"
	"github.com/deixis/conductor/internal/supervise"
)

// eventLog records launcher and process events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

// fakeProc either completes immediately at launch or runs until signalled.
type fakeProc struct {
	name    string
	log     *eventLog
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
	closed  bool
}

func (p *fakeProc) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.exitErr = err
		p.closed = true
		close(p.done)
	}
}

func (p *fakeProc) PID() int              { return 1 }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Stdout() []byte        { return nil }
func (p *fakeProc) Stderr() []byte        { return nil }
func (p *fakeProc) Truncated() bool       { return false }

func (p *fakeProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProc) Signal(os.Signal) error {
	p.log.add("term " + p.name)
	p.exit(nil)
	return nil
}

func (p *fakeProc) Kill() error {
	p.log.add("kill " + p.name)
	p.exit(errors.New("killed"))
	return nil
}

// fakeLauncher builds procs keyed by argv[0] (the step name in tests).
type fakeLauncher struct {
	log        *eventLog
	completes  map[string]error // steps that exit immediately, with their wait error
	failLaunch map[string]bool
}

func (l *fakeLauncher) Launch(argv []string) (supervise.Proc, error) {
	name := argv[0]
	if l.failLaunch[name] {
		return nil, errors.New("no such file or directory")
	}
	l.log.add("launch " + name)

	p := &fakeProc{name: name, log: l.log, done: make(chan struct{})}
	if err, ok := l.completes[name]; ok {
		p.exit(err)
	}
	return p, nil
}

// fakeCluster stands in for the compose checker.
type fakeCluster struct {
	log *eventLog
	err error
}

func (c *fakeCluster) Ensure(context.Context) error {
	c.log.add("ensure")
	return c.err
}

func testConfig(outputDir string) *config.Config {
	return &config.Config{
		Scripts: config.ScriptsConfig{
			Producer:  []string{"producer"},
			Streaming: []string{"streaming"},
			Batch:     []string{"batch"},
			Scheduler: []string{"scheduler"},
			Compare:   []string{"compare"},
		},
		Demo:      config.DemoConfig{RawProduceFor: "5ms", RawStreamFor: "5ms"},
		Start:     config.StartConfig{RawStreamingDelay: "1ms", RawSchedulerDelay: "1ms"},
		OutputDir: outputDir,
	}
}

func newTestEngine(t *testing.T, l *fakeLauncher, c *fakeCluster, out io.Writer) *Engine {
	t.Helper()
	logger := log.New(io.Discard)
	return &Engine{
		Config: testConfig(t.TempDir()),
		Super: &supervise.Supervisor{
			Launcher: l,
			Grace:    100 * time.Millisecond,
			Log:      logger,
		},
		Cluster: c,
		Log:     logger,
		Out:     out,
	}
}

func writeSummary(t *testing.T, dir string) {
	t.Helper()
	data := `{"windows_count": 10, "windows_within_threshold": 96.0, "latency_within_target": 94.0}`
	if err := os.WriteFile(filepath.Join(dir, "summary_20250101.json"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDemo_HappyPathOrdering(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events, completes: map[string]error{"batch": nil, "compare": nil}}
	var out bytes.Buffer
	e := newTestEngine(t, l, &fakeCluster{log: events}, &out)
	writeSummary(t, e.Config.Output())

	rr, err := e.Demo(context.Background())
	if err != nil {
		t.Fatalf("Demo: %v", err)
	}
	if rr.Outcome != report.OutcomePassed {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomePassed)
	}
	for _, s := range rr.Steps {
		if s.Status != report.StatusPass {
			t.Errorf("step %s status = %q, want pass (%s)", s.Name, s.Status, s.Detail)
		}
	}

	// Precheck runs before anything launches.
	if events.index("ensure") != 0 {
		t.Errorf("events = %v, want ensure first", events.events)
	}
	// The batch step never starts before streaming was signalled to stop.
	if b, s := events.index("launch batch"), events.index("term streaming"); b < 0 || s < 0 || b < s {
		t.Errorf("events = %v, want streaming stopped before batch launch", events.events)
	}
	// The comparison step never starts before the batch step exited.
	if c, b := events.index("launch compare"), events.index("launch batch"); c < b {
		t.Errorf("events = %v, want batch before compare", events.events)
	}

	if !strings.Contains(out.String(), "RESULTS SUMMARY") {
		t.Errorf("results block not rendered:\n%s", out.String())
	}
}

func TestDemo_BatchFailureAborts(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events, completes: map[string]error{"batch": errors.New("exit status 1")}}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)

	rr, err := e.Demo(context.Background())
	if err == nil {
		t.Fatal("Demo = nil error, want fatal failure")
	}
	if rr.Outcome != report.OutcomeAborted {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomeAborted)
	}
	if events.index("launch compare") >= 0 {
		t.Errorf("events = %v, compare must not run after batch failure", events.events)
	}
	if got := rr.Steps[stepCompare].Status; got != report.StatusSkipped {
		t.Errorf("compare status = %q, want skipped", got)
	}
	if got := rr.Steps[stepReport].Status; got != report.StatusSkipped {
		t.Errorf("report status = %q, want skipped", got)
	}
}

func TestDemo_PrecheckFailureAborts(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events}
	e := newTestEngine(t, l, &fakeCluster{log: events, err: errors.New("kafka down")}, io.Discard)

	rr, err := e.Demo(context.Background())
	if err == nil {
		t.Fatal("Demo = nil error, want abort on cluster failure")
	}
	if rr.Outcome != report.OutcomeAborted {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomeAborted)
	}
	if events.index("launch producer") >= 0 {
		t.Errorf("events = %v, nothing may launch after precheck failure", events.events)
	}
}

func TestDemo_ProducerLaunchFailureContinues(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{
		log:        events,
		completes:  map[string]error{"batch": nil, "compare": nil},
		failLaunch: map[string]bool{"producer": true},
	}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)
	writeSummary(t, e.Config.Output())

	rr, err := e.Demo(context.Background())
	if err != nil {
		t.Fatalf("Demo: %v, want launch failure to be non-fatal", err)
	}
	if got := rr.Steps[stepProducer].Status; got != report.StatusFail {
		t.Errorf("producer status = %q, want fail", got)
	}
	if events.index("launch streaming") < 0 {
		t.Errorf("events = %v, streaming must still run", events.events)
	}
	if rr.Outcome != report.OutcomePassed {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomePassed)
	}
}

func TestDemo_ProducerCrashRecordedFailed(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{
		log: events,
		completes: map[string]error{
			"producer": errors.New("exit status 1"),
			"batch":    nil,
			"compare":  nil,
		},
	}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)
	writeSummary(t, e.Config.Output())

	rr, err := e.Demo(context.Background())
	if err != nil {
		t.Fatalf("Demo: %v, want producer crash to be non-fatal", err)
	}
	if got := rr.Steps[stepProducer].Status; got != report.StatusFail {
		t.Errorf("producer status = %q, want fail for a non-zero self-exit", got)
	}
	if detail := rr.Steps[stepProducer].Detail; !strings.Contains(detail, "exited with code") {
		t.Errorf("producer detail = %q, want the exit failure recorded", detail)
	}
	if events.index("launch streaming") < 0 {
		t.Errorf("events = %v, streaming must still run", events.events)
	}
	if rr.Outcome != report.OutcomePassed {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomePassed)
	}
}

func TestDemo_MissingResultsNonFatal(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events, completes: map[string]error{"batch": nil, "compare": nil}}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)
	// No summary artifact written.

	rr, err := e.Demo(context.Background())
	if err != nil {
		t.Fatalf("Demo: %v, want missing results to be non-fatal", err)
	}
	if got := rr.Steps[stepReport].Status; got != report.StatusFail {
		t.Errorf("report status = %q, want fail", got)
	}
	if rr.Outcome != report.OutcomePassed {
		t.Errorf("Outcome = %q, want %q", rr.Outcome, report.OutcomePassed)
	}
}

func TestDemo_SavesRunRecord(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events, completes: map[string]error{"batch": errors.New("exit status 2")}}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)
	store := report.NewDiskStore(filepath.Join(t.TempDir(), "runs"))
	e.Store = store

	rr, _ := e.Demo(context.Background())

	loaded, err := store.Load(rr.ID)
	if err != nil {
		t.Fatalf("Load saved record: %v", err)
	}
	if loaded.Outcome != report.OutcomeAborted {
		t.Errorf("saved Outcome = %q, want %q", loaded.Outcome, report.OutcomeAborted)
	}
}

func TestServices_StaggeredStartAndTeardown(t *testing.T) {
	events := &eventLog{}
	l := &fakeLauncher{log: events}
	e := newTestEngine(t, l, &fakeCluster{log: events}, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Allow the staggers (1ms each) to elapse before interrupting.
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	rr := e.Services(ctx)

	p, s, b := events.index("launch producer"), events.index("launch streaming"), events.index("launch scheduler")
	if p < 0 || s < 0 || b < 0 || !(p < s && s < b) {
		t.Fatalf("events = %v, want producer, streaming, scheduler in order", events.events)
	}
	for _, name := range []string{"producer", "streaming", "scheduler"} {
		if events.index("term "+name) < 0 {
			t.Errorf("events = %v, want %s terminated at teardown", events.events, name)
		}
	}
	if rr.Kind != report.Services {
		t.Errorf("Kind = %q, want %q", rr.Kind, report.Services)
	}
	if len(rr.Steps) != 3 {
		t.Errorf("len(Steps) = %d, want 3", len(rr.Steps))
	}
}
