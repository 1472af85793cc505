// Package pipeline sequences the end-to-end demo: cluster precheck,
// bounded producer and streaming runs, batch and comparison jobs, and
// the results report. It drives the process supervisor one step at a
// time on a single control goroutine.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/deixis/conductor/internal/config"
	"github.com/deixis/conductor/internal/report"
	"github.com/deixis/conductor/internal/supervise"
)

// State names the sequencer's phase.
type State string

const (
	StatePrecheck  State = "precheck"
	StateProducing State = "producing"
	StateStreaming State = "streaming"
	StateBatching  State = "batching"
	StateComparing State = "comparing"
	StateReporting State = "reporting"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// ClusterChecker verifies the external cluster is up.
// Implemented by *cluster.Checker.
type ClusterChecker interface {
	Ensure(ctx context.Context) error
}

// Step indices into a demo run's step records.
const (
	stepPrecheck = iota
	stepProducer
	stepStreaming
	stepBatch
	stepCompare
	stepReport
	numSteps
)

var stepNames = [numSteps]string{"precheck", "producer", "streaming", "batch", "compare", "report"}

// Engine holds shared dependencies for pipeline runs.
type Engine struct {
	Config  *config.Config
	Super   *supervise.Supervisor
	Cluster ClusterChecker
	Store   report.Store // nil disables run-record persistence
	Log     *log.Logger
	Clock   clock.Clock // nil means the real clock
	Out     io.Writer   // results block destination; nil means stdout
}

func (e *Engine) clock() clock.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clock.New()
}

func (e *Engine) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

// Demo runs the full demo sequence. The returned record describes every
// step; the error is non-nil only when a fatal step aborted the run.
// All started processes are torn down before return, whichever path
// exits.
func (e *Engine) Demo(ctx context.Context) (*report.RunRecord, error) {
	e.Log.Info("starting analytics pipeline demo")
	started := e.clock().Now()

	rr := &report.RunRecord{
		ID:        uuid.New().String(),
		Kind:      report.Demo,
		StartedAt: started,
		Steps:     make([]report.StepRecord, numSteps),
	}
	for i := range rr.Steps {
		rr.Steps[i] = report.StepRecord{Name: stepNames[i], Status: report.StatusSkipped}
	}

	defer e.Super.StopAll()
	defer func() {
		rr.Elapsed = e.clock().Since(started).Seconds()
		e.save(rr)
	}()

	// Precheck: the cluster must be up before anything runs.
	e.transition(StatePrecheck)
	if err := e.timed(rr, stepPrecheck, func() error { return e.Cluster.Ensure(ctx) }); err != nil {
		rr.Outcome = report.OutcomeAborted
		e.Log.Error("cluster not available, demo aborted", "err", err)
		return rr, err
	}

	// Producer and streaming are continuous services with no natural
	// completion signal; both are time-boxed and non-fatal.
	e.transition(StateProducing)
	e.bounded(ctx, rr, stepProducer, e.Config.ProducerArgv(), e.Config.ProduceFor())
	if interrupted(ctx) {
		rr.Outcome = report.OutcomeInterrupted
		return rr, ctx.Err()
	}

	e.transition(StateStreaming)
	e.bounded(ctx, rr, stepStreaming, e.Config.StreamingArgv(), e.Config.StreamFor())
	if interrupted(ctx) {
		rr.Outcome = report.OutcomeInterrupted
		return rr, ctx.Err()
	}

	// Batch and comparison are finite jobs; their exit code is the
	// success signal and later steps depend on their output.
	e.transition(StateBatching)
	if err := e.completion(ctx, rr, stepBatch, e.Config.BatchArgv()); err != nil {
		rr.Outcome = report.OutcomeAborted
		e.Log.Error("batch processing failed, demo cannot continue", "err", err)
		return rr, err
	}

	e.transition(StateComparing)
	if err := e.completion(ctx, rr, stepCompare, e.Config.CompareArgv()); err != nil {
		rr.Outcome = report.OutcomeAborted
		e.Log.Error("comparison analysis failed, cannot display results", "err", err)
		return rr, err
	}

	// Reporting is always attempted; absence of results is reported,
	// not fatal.
	e.transition(StateReporting)
	e.report(rr)

	e.transition(StateDone)
	rr.Outcome = report.OutcomePassed
	elapsed := e.clock().Since(started)
	e.Log.Info("demo completed", "elapsed", elapsed.Round(100*time.Millisecond))
	return rr, nil
}

// bounded starts a time-boxed step. Launch failure, an early crash and a
// forced kill are all recorded as step failures, but the pipeline
// continues either way.
func (e *Engine) bounded(ctx context.Context, rr *report.RunRecord, idx int, argv []string, d time.Duration) {
	name := stepNames[idx]
	stepStart := e.clock().Now()

	p := e.Super.Start(name, argv)
	if p == nil {
		// No duration is charged for a failed launch; move on at once.
		rr.Steps[idx] = report.StepRecord{Name: name, Status: report.StatusFail, Detail: "failed to launch"}
		e.Log.Warn("step encountered issues, but continuing with the demo", "step", name)
		return
	}

	status := report.StatusPass
	detail := ""
	if err := e.Super.RunBounded(ctx, p, d); err != nil {
		status = report.StatusFail
		detail = err.Error()
		e.Log.Warn("step encountered issues, but continuing with the demo", "step", name)
	}
	rr.Steps[idx] = report.StepRecord{
		Name:    name,
		Status:  status,
		Detail:  detail,
		Elapsed: e.clock().Since(stepStart).Seconds(),
	}
}

// completion runs a fatal run-to-completion step.
func (e *Engine) completion(ctx context.Context, rr *report.RunRecord, idx int, argv []string) error {
	name := stepNames[idx]
	return e.timed(rr, idx, func() error {
		p := e.Super.Start(name, argv)
		if p == nil {
			return fmt.Errorf("%s failed to launch", name)
		}
		if !e.Super.RunToCompletion(ctx, p) {
			return fmt.Errorf("%s exited with code %d", name, p.ExitCode())
		}
		return nil
	})
}

// timed runs fn for the given step, recording status and elapsed time.
func (e *Engine) timed(rr *report.RunRecord, idx int, fn func() error) error {
	stepStart := e.clock().Now()
	err := fn()

	rec := report.StepRecord{
		Name:    stepNames[idx],
		Status:  report.StatusPass,
		Elapsed: e.clock().Since(stepStart).Seconds(),
	}
	if err != nil {
		rec.Status = report.StatusFail
		rec.Detail = err.Error()
	}
	rr.Steps[idx] = rec
	return err
}

// report discovers and renders the latest result artifacts.
func (e *Engine) report(rr *report.RunRecord) {
	err := e.timed(rr, stepReport, func() error {
		res, err := report.Collect(e.Config.Output())
		if err != nil {
			return err
		}
		fmt.Fprint(e.out(), report.Render(res))
		return nil
	})
	if err != nil {
		e.Log.Error("results not found", "err", err)
	}
}

func (e *Engine) transition(s State) {
	e.Log.Debug("state transition", "state", s)
}

func (e *Engine) save(rr *report.RunRecord) {
	if e.Store == nil {
		return
	}
	if err := e.Store.Save(rr); err != nil {
		e.Log.Warn("could not save run record", "run_id", rr.ID, "err", err)
	}
}

func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}
