package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"thinkgate/internal/config"
	"thinkgate/internal/llm"
	"thinkgate/internal/pipeline"

	"go.uber.org/zap"
)

func TestBuildProviderFromConfigAnthropic(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Provider.Default = "anthropic"
	cfg.Provider.Anthropic.APIKey = "test-key"
	cfg.Provider.Anthropic.Model = "claude-sonnet-4-20250514"
	cfg.Provider.Anthropic.BaseURL = "https://api.example"
	cfg.Provider.Anthropic.Version = "2023-06-01"
	cfg.Provider.Anthropic.Retry.MaxRetries = 7
	cfg.Provider.Anthropic.Retry.BaseDelay = "700ms"
	cfg.Provider.Anthropic.Retry.MaxDelay = "9s"

	provider, model, err := buildProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("buildProviderFromConfig() error = %v", err)
	}
	if provider == nil {
		t.Fatalf("expected provider, got nil")
	}
	if model != "claude-sonnet-4-20250514" {
		t.Fatalf("model = %q, want %q", model, "claude-sonnet-4-20250514")
	}
}

func TestBuildProviderFromConfigUnsupportedProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Provider.Default = "openai"

	_, _, err := buildProviderFromConfig(cfg)
	if !errors.Is(err, errUnsupportedProvider) {
		t.Fatalf("expected errUnsupportedProvider, got %v", err)
	}
}

func TestBuildProviderFromConfigMissingAPIKeyFailsFast(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Provider.Default = "anthropic"
	cfg.Provider.Anthropic.APIKey = ""

	_, _, err := buildProviderFromConfig(cfg)
	if !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Fatalf("expected llm.ErrMissingAPIKey, got %v", err)
	}
}

func TestBuildPipelineFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Pipeline.ThinkingBudget = "4096"
	cfg.Pipeline.ReasoningKeywords = []string{"ruminate"}

	p, err := buildPipeline(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildPipeline() error = %v", err)
	}

	_, decision := p.TransformDetail([]llm.Message{
		llm.NewTextMessage(llm.RoleUser, "ruminate on this"),
	})
	if decision.Task != pipeline.TaskReasoning {
		t.Fatalf("Task = %q, want %q", decision.Task, pipeline.TaskReasoning)
	}
	if decision.Budget != 4096 {
		t.Fatalf("Budget = %d, want 4096", decision.Budget)
	}
	if !decision.Thinking {
		t.Fatalf("Thinking = false, want true for reasoning in task-aware band")
	}
}

func writeTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[pipeline]\nthinking_budget = \"8192\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBudgetCommandReportsBandAndSwitch(t *testing.T) {
	t.Setenv("THINKGATE_PIPELINE_DISABLED", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", writeTempConfig(t), "budget", "2048"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var report struct {
		Budget   int             `json:"budget"`
		Band     string          `json:"band"`
		Thinking map[string]bool `json:"thinking"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal report: %v (output %q)", err, out.String())
	}
	if report.Budget != 2048 {
		t.Fatalf("budget = %d, want 2048", report.Budget)
	}
	if report.Thinking[string(pipeline.TaskReasoning)] {
		t.Fatalf("thinking[reasoning] = true, want false in low band")
	}
}

func TestClassifyCommandPrintsDecision(t *testing.T) {
	t.Setenv("THINKGATE_PIPELINE_DISABLED", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", writeTempConfig(t), "classify", "run", "the", "tests"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var decision pipeline.Decision
	if err := json.Unmarshal(out.Bytes(), &decision); err != nil {
		t.Fatalf("unmarshal decision: %v (output %q)", err, out.String())
	}
	if decision.Task != pipeline.TaskExecution {
		t.Fatalf("Task = %q, want %q", decision.Task, pipeline.TaskExecution)
	}
}
