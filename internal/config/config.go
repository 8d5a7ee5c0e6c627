package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file consulted when --config is not given.
const DefaultPath = "scarf.yaml"

type Config struct {
	BenchmarkDir string `yaml:"benchmark_dir"`
	EvalOut      string `yaml:"eval_out"`
	Jobs         int    `yaml:"jobs"`
	Bench        Bench  `yaml:"bench"`
	Agent        Agent  `yaml:"agent"`
}

type Bench struct {
	Command       []string      `yaml:"command"`
	DryRunCommand []string      `yaml:"dry_run_command"`
	Marker        string        `yaml:"marker"`
	Workers       int           `yaml:"workers"`
	Timeout       time.Duration `yaml:"timeout"`
}

type Agent struct {
	Entrypoint  string            `yaml:"entrypoint"`
	Image       string            `yaml:"image"`
	Env         map[string]string `yaml:"env"`
	EnvFile     string            `yaml:"env_file"`
	Timeout     time.Duration     `yaml:"timeout"`
	CaptureDiff *bool             `yaml:"capture_diff"`
}

// Diff reports whether change capture is enabled. Unset means enabled.
func (a Agent) Diff() bool {
	return a.CaptureDiff == nil || *a.CaptureDiff
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML config at path. A missing file at DefaultPath is not
// an error and yields Default(); any other missing path is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			slog.Debug("no config file, using defaults", "path", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BenchmarkDir == "" {
		cfg.BenchmarkDir = "benchmark"
	}
	if cfg.EvalOut == "" {
		cfg.EvalOut = "eval_out"
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = 1
	}
	if len(cfg.Bench.Command) == 0 {
		cfg.Bench.Command = []string{"make", "test"}
	}
	if len(cfg.Bench.DryRunCommand) == 0 {
		cfg.Bench.DryRunCommand = []string{"make", "-n", "test"}
	}
	if cfg.Bench.Marker == "" {
		cfg.Bench.Marker = "Makefile"
	}
	if cfg.Agent.Entrypoint == "" {
		cfg.Agent.Entrypoint = "run.sh"
	}
}

func validate(cfg *Config) error {
	applyDefaults(cfg)
	if cfg.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative")
	}
	if cfg.Bench.Workers < 0 {
		return fmt.Errorf("bench.workers must not be negative")
	}
	if cfg.Bench.Timeout < 0 {
		return fmt.Errorf("bench.timeout must not be negative")
	}
	if cfg.Agent.Timeout < 0 {
		return fmt.Errorf("agent.timeout must not be negative")
	}
	if cfg.Bench.Command[0] == "" {
		return fmt.Errorf("bench.command: program is required")
	}
	if cfg.Bench.DryRunCommand[0] == "" {
		return fmt.Errorf("bench.dry_run_command: program is required")
	}
	return nil
}

// AgentEnv merges the env file (if any) with the inline agent env. Inline
// values win.
func (c *Config) AgentEnv() (map[string]string, error) {
	env := make(map[string]string, len(c.Agent.Env))
	if c.Agent.EnvFile != "" {
		fromFile, err := ParseEnvFile(c.Agent.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("reading agent env file: %w", err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}
	for k, v := range c.Agent.Env {
		env[k] = v
	}
	return env, nil
}
