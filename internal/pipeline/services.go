package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/conductor/internal/report"
)

// Services starts the producer, streaming job and batch scheduler as
// concurrent long-lived processes with staggered starts, then blocks
// until ctx is cancelled and tears everything down. The staggers give
// each process time to create the topics and connections the next one
// expects; they are advisory timing, not a readiness check.
func (e *Engine) Services(ctx context.Context) *report.RunRecord {
	started := e.clock().Now()
	rr := &report.RunRecord{
		ID:        uuid.New().String(),
		Kind:      report.Services,
		StartedAt: started,
	}

	e.startService(rr, "producer", e.Config.ProducerArgv())
	if !e.pause(ctx, e.Config.StreamingDelay()) {
		return e.finishServices(rr, started)
	}

	e.startService(rr, "streaming", e.Config.StreamingArgv())
	if !e.pause(ctx, e.Config.SchedulerDelay()) {
		return e.finishServices(rr, started)
	}

	e.startService(rr, "scheduler", e.Config.SchedulerArgv())

	e.Log.Info("all services started, press ctrl+c to stop")
	<-ctx.Done()
	e.Log.Info("received interrupt signal, stopping all services")

	return e.finishServices(rr, started)
}

func (e *Engine) startService(rr *report.RunRecord, name string, argv []string) {
	status := report.StatusPass
	detail := ""
	if p := e.Super.Start(name, argv); p == nil {
		status = report.StatusFail
		detail = "failed to launch"
	}
	rr.Steps = append(rr.Steps, report.StepRecord{Name: name, Status: status, Detail: detail})
}

func (e *Engine) finishServices(rr *report.RunRecord, started time.Time) *report.RunRecord {
	e.Super.StopAll()
	e.Log.Info("all services stopped")

	rr.Outcome = report.OutcomeInterrupted
	rr.Elapsed = e.clock().Since(started).Seconds()
	e.save(rr)
	return rr
}

// pause blocks for d or until ctx is cancelled; it reports whether the
// full delay elapsed.
func (e *Engine) pause(ctx context.Context, d time.Duration) bool {
	timer := e.clock().Timer(d)
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}
