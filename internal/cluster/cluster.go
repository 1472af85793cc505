// Package cluster checks and brings up the compose-managed services the
// pipeline depends on (queueing broker, relational store, stream-processing
// master and worker).
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/deixis/conductor/internal/supervise"
)

// ErrUnavailable reports that the required services could not be confirmed
// running or started. Fatal at precheck.
var ErrUnavailable = errors.New("cluster unavailable")

// Runner executes one-shot commands with captured output.
// Implemented by *supervise.Supervisor.
type Runner interface {
	Run(ctx context.Context, argv []string) (*supervise.Result, error)
}

// Checker verifies the expected compose services are running, starts any
// missing ones, and polls until they are ready.
type Checker struct {
	Compose  []string // compose argv prefix, e.g. ["docker-compose"]
	Services []string // expected service names
	Settle   time.Duration
	Poll     time.Duration
	Runner   Runner
	Log      *log.Logger
}

// ServiceStatus reports one service's running state.
type ServiceStatus struct {
	Name    string
	Running bool
}

// Status returns the running state of every expected service.
func (c *Checker) Status(ctx context.Context) ([]ServiceStatus, error) {
	running, err := c.running(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]ServiceStatus, len(c.Services))
	for i, svc := range c.Services {
		statuses[i] = ServiceStatus{Name: svc, Running: running[svc]}
	}
	return statuses, nil
}

// Ensure checks that all expected services are running, brings up any
// missing ones, and polls until the full set is ready or the settle
// deadline passes.
func (c *Checker) Ensure(ctx context.Context) error {
	c.Log.Info("checking cluster status")

	missing, err := c.missing(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(missing) == 0 {
		c.Log.Info("all cluster services are running")
		return nil
	}

	c.Log.Info("starting missing services", "services", strings.Join(missing, ", "))
	res, err := c.Runner.Run(ctx, c.composeArgv("up", "-d"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: compose up exited %d: %s",
			ErrUnavailable, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	c.Log.Info("waiting for services to start", "deadline", c.Settle)
	if err := c.waitReady(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.Log.Info("cluster ready")
	return nil
}

// waitReady polls service status at the configured interval until every
// expected service is running or the settle deadline passes.
func (c *Checker) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Settle)
	defer cancel()

	op := func() error {
		missing, err := c.missing(ctx)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("still waiting for: %s", strings.Join(missing, ", "))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(c.Poll), ctx))
}

// missing returns expected services not currently running.
func (c *Checker) missing(ctx context.Context) ([]string, error) {
	running, err := c.running(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, svc := range c.Services {
		if !running[svc] {
			missing = append(missing, svc)
		}
	}
	return missing, nil
}

// running queries compose for the set of running services.
func (c *Checker) running(ctx context.Context) (map[string]bool, error) {
	res, err := c.Runner.Run(ctx, c.composeArgv("ps", "--services", "--filter", "status=running"))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("compose ps exited %d: %s",
			res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	running := make(map[string]bool)
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if svc := strings.TrimSpace(line); svc != "" {
			running[svc] = true
		}
	}
	return running, nil
}

// composeArgv builds a compose invocation without aliasing the prefix slice.
func (c *Checker) composeArgv(args ...string) []string {
	argv := make([]string, 0, len(c.Compose)+len(args))
	argv = append(argv, c.Compose...)
	return append(argv, args...)
}
