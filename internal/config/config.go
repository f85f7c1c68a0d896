// Package config loads the application's YAML configuration with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"lifelog/internal/checkpoint"
	"lifelog/internal/distill"
	"lifelog/internal/engine"
	"lifelog/internal/llm"
)

// Config is the full application configuration.
type Config struct {
	LLM        llm.Config        `yaml:"llm"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	Ledger     LedgerConfig      `yaml:"ledger"`
	Distill    distill.Config    `yaml:"distill"`
	Engine     EngineConfig      `yaml:"engine"`
	Skills     SkillsConfig      `yaml:"skills"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// LedgerConfig locates the thread/usage ledger database.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes the orchestration loop.
type EngineConfig struct {
	ToolCallBudget int `yaml:"tool_call_budget"`
}

// SkillsConfig locates user-provided skill definitions.
type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // empty logs to stderr
}

// DefaultConfig returns the configuration used when no file exists.
// Data lives under ~/.lifelog.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".lifelog")
	return &Config{
		LLM: llm.Config{
			Provider: "gemini",
		},
		Checkpoint: checkpoint.Config{
			Backend: checkpoint.BackendSQLite,
			Path:    filepath.Join(dataDir, "checkpoints.db"),
		},
		Ledger: LedgerConfig{
			Path: filepath.Join(dataDir, "ledger.db"),
		},
		Distill: distill.DefaultConfig(),
		Engine: EngineConfig{
			ToolCallBudget: engine.DefaultToolCallBudget,
		},
		Skills: SkillsConfig{
			Dir: filepath.Join(dataDir, "skills"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets LIFELOG_* variables (and the conventional
// GEMINI_API_KEY) win over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("LIFELOG_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("LIFELOG_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if backend := os.Getenv("LIFELOG_CHECKPOINT_BACKEND"); backend != "" {
		c.Checkpoint.Backend = checkpoint.Backend(backend)
	}
	if path := os.Getenv("LIFELOG_CHECKPOINT_PATH"); path != "" {
		c.Checkpoint.Path = path
	}
	if dsn := os.Getenv("LIFELOG_CHECKPOINT_DSN"); dsn != "" {
		c.Checkpoint.DSN = dsn
	}
	if path := os.Getenv("LIFELOG_LEDGER_PATH"); path != "" {
		c.Ledger.Path = path
	}
	if budget := os.Getenv("LIFELOG_TOOL_BUDGET"); budget != "" {
		if n, err := strconv.Atoi(budget); err == nil && n > 0 {
			c.Engine.ToolCallBudget = n
		}
	}
	if dir := os.Getenv("LIFELOG_SKILLS_DIR"); dir != "" {
		c.Skills.Dir = dir
	}
	if level := os.Getenv("LIFELOG_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
