package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thinkgate/internal/agent"
	"thinkgate/internal/config"
	"thinkgate/internal/llm"
	"thinkgate/internal/pipeline"
	"thinkgate/internal/session"
	"thinkgate/internal/tools"
	"thinkgate/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultRunMaxTokens = 1024

var errUnsupportedProvider = errors.New("unsupported provider")

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "thinkgate: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		logger     *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "thinkgate",
		Short: "thinkgate is a TUI chat client with a thinking control pipeline",
		Long: "thinkgate sits between a terminal chat session and a reasoning-capable\n" +
			"model API. Each request is classified, the extended-thinking switch is\n" +
			"resolved from the configured budget, an English output directive is\n" +
			"injected, and streamed responses are watched for planning loops.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zapCfg := zap.NewProductionConfig()
			if verbose {
				zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			// The TUI owns the terminal, so logs go to a file.
			zapCfg.OutputPaths = []string{filepath.Join(os.TempDir(), "thinkgate.log")}
			zapCfg.ErrorOutputPaths = zapCfg.OutputPaths

			built, err := zapCfg.Build()
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			logger = built
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider, model, err := buildProviderFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}

			workspace, err := resolveWorkspace(cfg)
			if err != nil {
				return err
			}

			registry, err := buildToolRegistry(workspace)
			if err != nil {
				return fmt.Errorf("build tool registry: %w", err)
			}

			p, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}

			ag, err := agent.New(agent.Config{
				Provider:     provider,
				ToolRegistry: registry,
				Pipeline:     p,
				MaxTurns:     cfg.Agent.MaxTurns,
			})
			if err != nil {
				return fmt.Errorf("create agent: %w", err)
			}

			store, err := session.NewStore(session.DefaultDir(workspace))
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}

			app := tui.NewApp(tui.AppConfig{
				Version:       "v0.1.0",
				ModelName:     model,
				CWD:           workspace,
				SessionID:     time.Now().UTC().Format("20060102-150405"),
				ThemeName:     cfg.TUI.Theme,
				ShowInspector: cfg.TUI.ShowInspector,
				Runner:        ag,
				MaxTokens:     defaultRunMaxTokens,
				Tools:         registry.Specs(),
				SessionStore:  store,
				Decision:      ag.LastDecision,
			})

			program := tea.NewProgram(app, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newClassifyCmd(&configPath, func() *zap.Logger { return logger }))
	cmd.AddCommand(newBudgetCmd(&configPath, func() *zap.Logger { return logger }))
	return cmd
}

// newClassifyCmd runs a prompt through the request pipeline without calling
// the provider and prints the resulting decision as JSON.
func newClassifyCmd(configPath *string, logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <prompt...>",
		Short: "Classify a prompt and print the pipeline decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			prompt := strings.Join(args, " ")
			p, err := buildPipeline(cfg, logger())
			if err != nil {
				return err
			}
			_, decision := p.TransformDetail([]llm.Message{
				llm.NewTextMessage(llm.RoleUser, prompt),
			})

			raw, err := json.MarshalIndent(decision, "", "  ")
			if err != nil {
				return fmt.Errorf("encode decision: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
}

// newBudgetCmd resolves a raw budget value and prints its band plus the
// thinking switch per task label.
func newBudgetCmd(configPath *string, logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "budget [value]",
		Short: "Resolve a thinking budget to its band and thinking switch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			raw := cfg.Pipeline.ThinkingBudget
			if len(args) > 0 {
				raw = args[0]
			}
			budget := pipeline.ParseBudget(raw, pipeline.DefaultBudget)

			if log := logger(); log != nil {
				log.Debug("resolved budget",
					zap.String("raw", raw),
					zap.Int("budget", budget))
			}

			report := struct {
				Raw      string          `json:"raw"`
				Budget   int             `json:"budget"`
				Band     string          `json:"band"`
				Thinking map[string]bool `json:"thinking"`
			}{
				Raw:    raw,
				Budget: budget,
				Band:   pipeline.DescribeBudget(budget),
				Thinking: map[string]bool{
					string(pipeline.TaskReasoning): pipeline.ShouldEnableThinking(pipeline.TaskReasoning, budget),
					string(pipeline.TaskExecution): pipeline.ShouldEnableThinking(pipeline.TaskExecution, budget),
					string(pipeline.TaskMixed):     pipeline.ShouldEnableThinking(pipeline.TaskMixed, budget),
				},
			}

			raw2, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(raw2))
			return nil
		},
	}
}

func buildPipeline(cfg config.Config, logger *zap.Logger) (*pipeline.Pipeline, error) {
	settings, err := cfg.PipelineSettings()
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline settings: %w", err)
	}

	forceEnglish := settings.ForceEnglish
	return pipeline.New(pipeline.Options{
		Budget:                 settings.ThinkingBudget,
		ForceEnglish:           &forceEnglish,
		LoopThreshold:          settings.LoopThreshold,
		Disabled:               settings.Disabled,
		ExtraReasoningKeywords: settings.ReasoningKeywords,
		ExtraExecutionKeywords: settings.ExecutionKeywords,
		Logger:                 logger,
	}), nil
}

func buildProviderFromConfig(cfg config.Config) (llm.Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Default)) {
	case "", "anthropic":
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return nil, "", fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if strings.TrimSpace(settings.APIKey) == "" {
			return nil, "", llm.ErrMissingAPIKey
		}

		provider := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Version: settings.Version,
			Retry: llm.RetryPolicy{
				MaxRetries: settings.Retry.MaxRetries,
				BaseDelay:  settings.Retry.BaseDelay,
				MaxDelay:   settings.Retry.MaxDelay,
			},
		})
		return provider, settings.Model, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedProvider, cfg.Provider.Default)
	}
}

func resolveWorkspace(cfg config.Config) (string, error) {
	workspace := strings.TrimSpace(cfg.Agent.Workspace)
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve cwd: %w", err)
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func buildToolRegistry(workspace string) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	for _, tool := range builtinTools(workspace) {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}

func builtinTools(workspace string) []tools.Tool {
	return []tools.Tool{
		tools.NewReadTool(workspace),
		tools.NewBashTool(),
	}
}
