package config

import (
	"os"
	"path/filepath"
	"testing"

	"lifelog/internal/checkpoint"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checkpoint.Backend != checkpoint.BackendSQLite {
		t.Errorf("default backend = %q", cfg.Checkpoint.Backend)
	}
	if cfg.Engine.ToolCallBudget != 10 {
		t.Errorf("default budget = %d", cfg.Engine.ToolCallBudget)
	}
	if cfg.Distill.RecentMessages == 0 {
		t.Error("distill defaults missing")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
llm:
  provider: gemini
  model: gemini-2.5-pro
checkpoint:
  backend: postgres
  dsn: postgres://localhost/lifelog
engine:
  tool_call_budget: 4
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Checkpoint.Backend != checkpoint.BackendPostgres || cfg.Checkpoint.DSN == "" {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Engine.ToolCallBudget != 4 {
		t.Errorf("budget = %d", cfg.Engine.ToolCallBudget)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIFELOG_MODEL", "gemini-env")
	t.Setenv("LIFELOG_CHECKPOINT_BACKEND", "memory")
	t.Setenv("LIFELOG_TOOL_BUDGET", "7")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gemini-env" {
		t.Errorf("model override = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api key override = %q", cfg.LLM.APIKey)
	}
	if cfg.Checkpoint.Backend != checkpoint.BackendMemory {
		t.Errorf("backend override = %q", cfg.Checkpoint.Backend)
	}
	if cfg.Engine.ToolCallBudget != 7 {
		t.Errorf("budget override = %d", cfg.Engine.ToolCallBudget)
	}
}
