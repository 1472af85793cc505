// Command conductor orchestrates the real-time vs batch analytics pipeline:
// it supervises the producer, streaming, batch and comparison processes and
// the docker-compose cluster they run against.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conductor"
	"github.com/deixis/conductor/internal/cluster"
	"github.com/deixis/conductor/internal/config"
	"github.com/deixis/conductor/internal/logging"
	condmcp "github.com/deixis/conductor/internal/mcp"
	"github.com/deixis/conductor/internal/pipeline"
	"github.com/deixis/conductor/internal/report"
	"github.com/deixis/conductor/internal/supervise"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches the subcommand and returns the process exit code.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "conductor: please specify a command")
		usage()
		return 2
	}

	cmd := args[0]
	args = args[1:]

	var err error
	switch cmd {
	case "demo":
		err = demoMain(args)
	case "start":
		err = startMain(args)
	case "producer":
		err = serviceMain("producer", args, (*config.Config).ProducerArgv)
	case "streaming":
		err = serviceMain("streaming", args, (*config.Config).StreamingArgv)
	case "scheduler":
		err = serviceMain("scheduler", args, (*config.Config).SchedulerArgv)
	case "batch":
		err = batchMain(args)
	case "compare":
		err = compareMain(args)
	case "results":
		err = resultsMain(args)
	case "history":
		err = historyMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(conductor.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "conductor: unknown command %q\n", cmd)
		usage()
		return 2
	}

	if err != nil {
		var code exitError
		if errors.As(err, &code) {
			// The supervisor already narrated the failure.
			return int(code)
		}
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		return 1
	}
	return 0
}

// exitError propagates a supervised process's own exit code.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", int(e)) }

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: conductor <command> [flags]

Commands:
  demo        Run the full demo: precheck, produce, stream, batch, compare, report
  start       Start producer, streaming and batch scheduler until interrupted
  producer    Run the tweet producer until it exits or is interrupted
  streaming   Run the Spark streaming job until it exits or is interrupted
  scheduler   Run the batch scheduler until it exits or is interrupted
  batch       Run the batch job once; exits with the batch job's exit code
  compare     Run the comparison analysis once
  results     Display the latest comparison results
  history     List recent pipeline runs
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "conductor <command> -h" for command-specific flags.`)
}

// app bundles the shared collaborators every command needs.
type app struct {
	cfg     *config.Config
	root    string
	logger  *log.Logger
	super   *supervise.Supervisor
	checker *cluster.Checker
	store   report.Store
}

func newApp(level string) (*app, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	logger := logging.New(level)

	super := &supervise.Supervisor{
		Launcher: &supervise.ExecLauncher{Dir: loaded.RepoRoot, MaxOutput: cfg.MaxOutputBytes()},
		Grace:    cfg.Grace(),
		Log:      logger,
	}

	checker := &cluster.Checker{
		Compose:  cfg.ComposeArgv(),
		Services: cfg.Services(),
		Settle:   cfg.Settle(),
		Poll:     cfg.Poll(),
		Runner:   super,
		Log:      logger,
	}

	historyDir := cfg.History.Dir
	if historyDir == "" {
		historyDir = filepath.Join(loaded.RepoRoot, ".conductor-runs")
	}
	store := report.NewLRUStore(cfg.HistoryKeep(), report.NewDiskStore(historyDir))

	return &app{
		cfg:     cfg,
		root:    loaded.RepoRoot,
		logger:  logger,
		super:   super,
		checker: checker,
		store:   store,
	}, nil
}

// output resolves the artifact directory against the repo root.
func (a *app) output() string {
	dir := a.cfg.Output()
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(a.root, dir)
}

func (a *app) engine() *pipeline.Engine {
	cfg := *a.cfg
	cfg.OutputDir = a.output()
	return &pipeline.Engine{
		Config:  &cfg,
		Super:   a.super,
		Cluster: a.checker,
		Store:   a.store,
		Log:     a.logger,
	}
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// --- demo ---

func demoMain(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	if _, err := a.engine().Demo(ctx); err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	return nil
}

// --- start ---

func startMain(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	a.engine().Services(ctx)
	return nil
}

// --- single long-running services ---

func serviceMain(name string, args []string, argvOf func(*config.Config) []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()
	defer a.super.StopAll()

	p := a.super.Start(name, argvOf(a.cfg))
	if p == nil {
		return fmt.Errorf("%s failed to launch", name)
	}

	ok := a.super.RunToCompletion(ctx, p)
	if !ok && ctx.Err() == nil {
		return fmt.Errorf("%s exited with code %d", name, p.ExitCode())
	}
	return nil
}

// --- batch ---

func batchMain(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()
	defer a.super.StopAll()

	p := a.super.Start("batch", a.cfg.BatchArgv())
	if p == nil {
		return errors.New("batch failed to launch")
	}

	if ok := a.super.RunToCompletion(ctx, p); !ok {
		// Propagate the batch job's own exit code where it has one.
		if code := p.ExitCode(); code > 0 {
			return exitError(code)
		}
		return errors.New("batch job failed")
	}
	return nil
}

// --- compare ---

func compareMain(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()
	defer a.super.StopAll()

	p := a.super.Start("compare", a.cfg.CompareArgv())
	if p == nil {
		return errors.New("comparison analysis failed to launch")
	}
	if ok := a.super.RunToCompletion(ctx, p); !ok {
		return errors.New("comparison analysis failed")
	}
	return nil
}

// --- results ---

func resultsMain(args []string) error {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	res, err := report.Collect(a.output())
	if err != nil {
		return err
	}
	fmt.Print(report.Render(res))
	return nil
}

// --- history ---

func historyMain(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	limit := fs.Int("n", 10, "maximum number of runs to list")
	_ = fs.Parse(args)

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	records, err := a.store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No pipeline runs recorded yet.")
		return nil
	}
	if len(records) > *limit {
		records = records[:*limit]
	}
	for _, r := range records {
		fmt.Println(r.String())
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	level := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(condmcp.Instructions)
		return nil
	}

	a, err := newApp(*level)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	server := condmcp.NewServer(a.checker, a.store, a.output())

	if *httpAddr != "" {
		return serveHTTP(ctx, a.logger, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, logger *log.Logger, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
