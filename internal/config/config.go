// Package config provides configuration management for planloop.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Project config (.planloop/config.yaml in cwd, or $PLANLOOP_CONFIG)
// 3. Home config (~/.planloop/config.yaml)
// 4. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PermissionMode selects the arbiter policy for a run.
type PermissionMode string

const (
	// PermAuto approves every tool request.
	PermAuto PermissionMode = "auto"

	// PermTUI leaves approval to an attached interactive console.
	PermTUI PermissionMode = "tui"

	// PermWorkdir approves file operations inside the working directory
	// and denies everything else.
	PermWorkdir PermissionMode = "workdir"
)

// Duration wraps time.Duration so YAML values like "90s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all planloop configuration.
type Config struct {
	// Agent configures the agent subprocess.
	Agent AgentConfig `yaml:"agent"`

	// Permissions selects the arbiter policy (auto, tui, workdir).
	Permissions PermissionMode `yaml:"permissions"`

	// ShowReasoning renders the agent's reasoning parts, dimmed.
	ShowReasoning bool `yaml:"show_reasoning"`

	// Quiet suppresses console rendering. Invocation logs are written
	// regardless.
	Quiet bool `yaml:"quiet"`

	// Loop bounds the author/review cycle.
	Loop LoopConfig `yaml:"loop"`

	// Quality lists gate commands run after each authored phase.
	Quality QualityConfig `yaml:"quality"`

	// StateDir is the project-local directory for the run database and
	// invocation logs (default: .planloop).
	StateDir string `yaml:"state_dir"`
}

// AgentConfig holds agent subprocess settings.
type AgentConfig struct {
	// Command is the agent executable and its fixed arguments.
	Command []string `yaml:"command"`

	// Model is forwarded to the agent on every invocation.
	Model string `yaml:"model"`

	// Timeout bounds one invocation end to end.
	Timeout Duration `yaml:"timeout"`

	// Grace is the window between the polite terminate signal and the
	// forced kill.
	Grace Duration `yaml:"grace"`

	// Drain bounds post-exit stream draining.
	Drain Duration `yaml:"drain"`
}

// LoopConfig bounds the orchestration loop.
type LoopConfig struct {
	// MaxIterations caps review iterations per phase.
	MaxIterations int `yaml:"max_iterations"`

	// MaxQualityAttempts caps quality-gate retries per phase.
	MaxQualityAttempts int `yaml:"max_quality_attempts"`
}

// QualityConfig holds quality-gate settings.
type QualityConfig struct {
	// Commands run in order after each authored phase; a non-zero exit
	// fails the gate.
	Commands []string `yaml:"commands"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command: []string{"agent", "--output-format", "ndjson"},
			Timeout: Duration(10 * time.Minute),
			Grace:   Duration(5 * time.Second),
			Drain:   Duration(2 * time.Second),
		},
		Permissions: PermWorkdir,
		Loop: LoopConfig{
			MaxIterations:      3,
			MaxQualityAttempts: 2,
		},
		StateDir: ".planloop",
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > project > home > defaults.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil {
		return nil, err
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, err := loadFromPath(projectConfigPath())
	if err != nil {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DBPath is the run database location under the state dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "planloop.db")
}

// LogDir is where per-invocation logs live.
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

func (c *Config) validate() error {
	switch c.Permissions {
	case PermAuto, PermTUI, PermWorkdir:
	default:
		return fmt.Errorf("unknown permission mode %q (want auto, tui, or workdir)", c.Permissions)
	}
	if len(c.Agent.Command) == 0 {
		return fmt.Errorf("agent.command must not be empty")
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1")
	}
	return nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".planloop", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("PLANLOOP_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".planloop", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing file is not an
// error; a malformed one is.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// merge overlays non-zero values from overlay onto base.
func merge(base, overlay *Config) *Config {
	out := *base
	if len(overlay.Agent.Command) > 0 {
		out.Agent.Command = overlay.Agent.Command
	}
	if overlay.Agent.Model != "" {
		out.Agent.Model = overlay.Agent.Model
	}
	if overlay.Agent.Timeout != 0 {
		out.Agent.Timeout = overlay.Agent.Timeout
	}
	if overlay.Agent.Grace != 0 {
		out.Agent.Grace = overlay.Agent.Grace
	}
	if overlay.Agent.Drain != 0 {
		out.Agent.Drain = overlay.Agent.Drain
	}
	if overlay.Permissions != "" {
		out.Permissions = overlay.Permissions
	}
	if overlay.ShowReasoning {
		out.ShowReasoning = true
	}
	if overlay.Quiet {
		out.Quiet = true
	}
	if overlay.Loop.MaxIterations != 0 {
		out.Loop.MaxIterations = overlay.Loop.MaxIterations
	}
	if overlay.Loop.MaxQualityAttempts != 0 {
		out.Loop.MaxQualityAttempts = overlay.Loop.MaxQualityAttempts
	}
	if len(overlay.Quality.Commands) > 0 {
		out.Quality.Commands = overlay.Quality.Commands
	}
	if overlay.StateDir != "" {
		out.StateDir = overlay.StateDir
	}
	return &out
}
