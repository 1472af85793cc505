// Package config loads and validates the optional .conductor YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for supervisor and demo configuration.
const (
	DefaultGrace     = 5 * time.Second
	DefaultMaxOutput = 1 << 20 // 1 MB

	DefaultProduceFor = 180 * time.Second
	DefaultStreamFor  = 60 * time.Second

	DefaultStreamingDelay = 5 * time.Second
	DefaultSchedulerDelay = 10 * time.Second

	DefaultSettle = 30 * time.Second
	DefaultPoll   = 2 * time.Second

	DefaultOutputDir   = "comparison/output"
	DefaultHistoryKeep = 5
)

// DefaultServices are the compose services the pipeline depends on.
var DefaultServices = []string{"zookeeper", "kafka", "mysql", "spark-master", "spark-worker"}

// Config holds the parsed .conductor configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int           `yaml:"version"`
	RawGrace     string        `yaml:"grace"`      // e.g. "5s"
	RawMaxOutput int           `yaml:"max_output"` // bytes
	Scripts      ScriptsConfig `yaml:"scripts"`
	Demo         DemoConfig    `yaml:"demo"`
	Start        StartConfig   `yaml:"start"`
	Cluster      ClusterConfig `yaml:"cluster"`
	OutputDir    string        `yaml:"output_dir"`
	History      HistoryConfig `yaml:"history"`
}

// ScriptsConfig names the argv of each collaborator script.
type ScriptsConfig struct {
	Producer  []string `yaml:"producer"`
	Streaming []string `yaml:"streaming"`
	Batch     []string `yaml:"batch"`
	Scheduler []string `yaml:"scheduler"`
	Compare   []string `yaml:"compare"`
}

// DemoConfig controls the bounded steps of the demo run.
type DemoConfig struct {
	RawProduceFor string `yaml:"produce_for"` // e.g. "3m"
	RawStreamFor  string `yaml:"stream_for"`  // e.g. "1m"
}

// StartConfig controls the staggered starts of the long-running services mode.
type StartConfig struct {
	RawStreamingDelay string `yaml:"streaming_delay"` // wait after producer
	RawSchedulerDelay string `yaml:"scheduler_delay"` // wait after streaming
}

// ClusterConfig describes the compose-managed cluster.
type ClusterConfig struct {
	Compose   []string `yaml:"compose"`  // compose argv prefix, default ["docker-compose"]
	Services  []string `yaml:"services"` // expected running services
	RawSettle string   `yaml:"settle"`   // readiness polling deadline
	RawPoll   string   `yaml:"poll"`     // readiness polling interval
}

// HistoryConfig controls run-record persistence.
type HistoryConfig struct {
	Dir  string `yaml:"dir"`  // default <repo root>/.conductor-runs
	Keep int    `yaml:"keep"` // in-memory LRU capacity
}

// Grace returns the configured termination grace period or the default.
func (c *Config) Grace() time.Duration {
	return duration(c.RawGrace, DefaultGrace)
}

// MaxOutputBytes returns the configured output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ProduceFor returns how long the demo runs the producer.
func (c *Config) ProduceFor() time.Duration {
	return duration(c.Demo.RawProduceFor, DefaultProduceFor)
}

// StreamFor returns how long the demo runs the streaming job.
func (c *Config) StreamFor() time.Duration {
	return duration(c.Demo.RawStreamFor, DefaultStreamFor)
}

// StreamingDelay returns the stagger between producer and streaming starts.
func (c *Config) StreamingDelay() time.Duration {
	return duration(c.Start.RawStreamingDelay, DefaultStreamingDelay)
}

// SchedulerDelay returns the stagger between streaming and scheduler starts.
func (c *Config) SchedulerDelay() time.Duration {
	return duration(c.Start.RawSchedulerDelay, DefaultSchedulerDelay)
}

// Settle returns the cluster readiness polling deadline.
func (c *Config) Settle() time.Duration {
	return duration(c.Cluster.RawSettle, DefaultSettle)
}

// Poll returns the cluster readiness polling interval.
func (c *Config) Poll() time.Duration {
	return duration(c.Cluster.RawPoll, DefaultPoll)
}

// ComposeArgv returns the compose command prefix.
func (c *Config) ComposeArgv() []string {
	if len(c.Cluster.Compose) > 0 {
		return c.Cluster.Compose
	}
	return []string{"docker-compose"}
}

// Services returns the expected compose services.
func (c *Config) Services() []string {
	if len(c.Cluster.Services) > 0 {
		return c.Cluster.Services
	}
	return DefaultServices
}

// Output returns the artifact output directory.
func (c *Config) Output() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return DefaultOutputDir
}

// HistoryKeep returns the in-memory run-record cache capacity.
func (c *Config) HistoryKeep() int {
	if c.History.Keep > 0 {
		return c.History.Keep
	}
	return DefaultHistoryKeep
}

// Default script argvs, matching the pipeline's repository layout.
var (
	defaultProducer  = []string{"python3", filepath.Join("producer", "tweet_producer.py")}
	defaultStreaming = []string{"python3", filepath.Join("streaming", "spark_streaming.py")}
	defaultBatch     = []string{"python3", filepath.Join("batch", "batch_processor.py")}
	defaultScheduler = []string{"python3", filepath.Join("batch", "scheduler.py")}
	defaultCompare   = []string{"python3", filepath.Join("comparison", "comparison_analyzer.py")}
)

// ProducerArgv returns the producer script argv.
func (c *Config) ProducerArgv() []string { return argv(c.Scripts.Producer, defaultProducer) }

// StreamingArgv returns the streaming script argv.
func (c *Config) StreamingArgv() []string { return argv(c.Scripts.Streaming, defaultStreaming) }

// BatchArgv returns the batch script argv.
func (c *Config) BatchArgv() []string { return argv(c.Scripts.Batch, defaultBatch) }

// SchedulerArgv returns the batch scheduler script argv.
func (c *Config) SchedulerArgv() []string { return argv(c.Scripts.Scheduler, defaultScheduler) }

// CompareArgv returns the comparison script argv.
func (c *Config) CompareArgv() []string { return argv(c.Scripts.Compare, defaultCompare) }

func argv(configured, fallback []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return fallback
}

func duration(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing the .conductor or compose file; falls back to workspace
}

// Load reads the .conductor file from the repository root.
// The repository root is discovered by walking upward from workspace
// looking for a .conductor or docker-compose.yml file. If no .conductor
// file exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		root = workspace
	}

	path := filepath.Join(root, ".conductor")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Config: &Config{}, RepoRoot: root}, nil
		}
		return nil, fmt.Errorf("reading .conductor: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing .conductor: %w", err)
	}
	return &LoadResult{Config: cfg, RepoRoot: root}, nil
}

// findRepoRoot walks upward from dir looking for a directory containing
// a .conductor or docker-compose.yml file.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range []string{".conductor", "docker-compose.yml", "docker-compose.yaml"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .conductor or docker-compose.yml found")
		}
		dir = parent
	}
}
