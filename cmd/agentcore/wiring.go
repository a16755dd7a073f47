package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	// Driver registrations for convstore.OpenSQLStore's "postgres" and
	// "sqlite" driver names.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/forgecore/agentcore/internal/compactor"
	"github.com/forgecore/agentcore/internal/config"
	"github.com/forgecore/agentcore/internal/convstore"
	"github.com/forgecore/agentcore/internal/observability"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/policyengine"
	"github.com/forgecore/agentcore/internal/providergw"
	"github.com/forgecore/agentcore/internal/retryclass"
	"github.com/forgecore/agentcore/internal/snapshot"
	"github.com/forgecore/agentcore/internal/toolexec"
	"github.com/forgecore/agentcore/pkg/domain"
)

// app bundles every wired component a command needs, built once from
// config in runApp.
type app struct {
	cfg        *config.Config
	store      convstore.Store
	engine     *policyengine.Engine
	snapshots  *snapshot.Store
	executor   *toolexec.Executor
	router     *providergw.Router
	compactor  *compactor.Compactor
	metrics    *observability.Metrics
	logger     *observability.Logger
	orch       *orchestrator.Orchestrator
	workingDir string
}

// policyAdapter satisfies toolexec.PolicyChecker over a *policyengine.Engine,
// whose Evaluate returns a richer Decision than the executor needs.
type policyAdapter struct {
	engine *policyengine.Engine
}

func (a policyAdapter) Evaluate(ctx context.Context, op domain.Operation) (domain.Permission, string, error) {
	decision, err := a.engine.Evaluate(ctx, op)
	if err != nil {
		return domain.Deny, "", err
	}
	return decision.Permission, decision.Reason, nil
}

// httpFetcher adapts net/http to toolexec's unexported httpGetter
// interface (Get(ctx, url) (status int, body []byte, err error)).
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body := make([]byte, 0, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return resp.StatusCode, body, nil
}

// buildApp loads configuration and wires every component together:
// conversation store, policy engine, snapshot store, tool executor,
// provider router, compactor, and the orchestrator itself.
func buildApp(ctx context.Context, configPath, dataDir string) (*app, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	store := convstore.NewMemoryStore()

	persister := policyengine.NewYAMLPersister(filepath.Join(dataDir, "policy.yaml"))
	engine, err := policyengine.New(defaultPolicies(), confirmOnStdin, persister)
	if err != nil {
		return nil, fmt.Errorf("build policy engine: %w", err)
	}

	snaps := snapshot.New(filepath.Join(dataDir, "snapshots"), cfg.Snapshot.MaxPerFile, cfg.Snapshot.MaxAge)

	workspace := toolexec.Workspace{Root: dataDir}
	executor := toolexec.New(policyAdapter{engine: engine}, toolexec.OutputLimits{
		MaxBytes:  cfg.Tools.InlineMaxOutputLength,
		HeadBytes: cfg.Tools.StdoutMaxPrefixLength,
		TailBytes: cfg.Tools.StdoutMaxSuffixLength,
	})
	toolCfg := toolexec.Config{
		Workspace: workspace,
		Snapshots: snaps,
		HTTPClient: httpFetcher{client: &http.Client{}},
		ShellLimits: toolexec.ShellLimits{
			MaxLineLength:   cfg.Tools.StdoutMaxLineLength,
			MaxPrefixLength: cfg.Tools.StdoutMaxPrefixLength,
			MaxSuffixLength: cfg.Tools.StdoutMaxSuffixLength,
			Timeout:         cfg.Tools.InlineCommandTimeout,
		},
		Shell:         []string{"/bin/sh", "-c"},
		MaxReadBytes:  cfg.Tools.InlineMaxOutputLength,
		MaxFetchBytes: cfg.Tools.FetchTruncationLimit,
	}
	if err := toolexec.RegisterDefaults(executor, toolCfg); err != nil {
		return nil, fmt.Errorf("register tool handlers: %w", err)
	}

	router, err := buildRouter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build provider router: %w", err)
	}

	comp := compactor.New(compactor.Settings{
		HeadMessages:     2,
		TrailingMessages: 10,
		TriggerRatio:     cfg.Compact.Threshold,
		TargetRatio:      0.6,
	}, compactor.EstimateTokenCounter{}, nil)

	orch := orchestrator.New(store, router, executor, comp)
	orch = orch.WithRetryConfig(retryclass.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		RetryStatusCodes: retryclass.DefaultConfig().RetryStatusCodes,
		InitialDelay:     cfg.Retry.InitialDelay,
		MaxDelay:         cfg.Retry.MaxDelay,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		snapshots:  snaps,
		executor:   executor,
		router:     router,
		compactor:  comp,
		metrics:    metrics,
		logger:     logger,
		orch:       orch,
		workingDir: dataDir,
	}, nil
}

// buildRouter constructs a Router over every provider with a resolvable
// credential, in config's preferred order (ActiveProvider first).
func buildRouter(ctx context.Context, cfg *config.Config) (*providergw.Router, error) {
	var providers []providergw.Provider

	add := func(name string, build func() (providergw.Provider, error)) error {
		p, err := build()
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if p != nil {
			providers = append(providers, p)
		}
		return nil
	}

	order := []string{cfg.ActiveProvider, "anthropic", "openai", "gemini", "bedrock"}
	seen := map[string]bool{}
	for _, name := range order {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "anthropic":
			if key := cfg.ResolveAnthropicKey(); key != "" {
				if err := add("anthropic", func() (providergw.Provider, error) {
					return providergw.NewAnthropicProvider(key, modelFor(cfg, "anthropic")), nil
				}); err != nil {
					return nil, err
				}
			}
		case "openai":
			if key := cfg.ResolveOpenAIKey(); key != "" {
				if err := add("openai", func() (providergw.Provider, error) {
					return providergw.NewOpenAIProvider(key, modelFor(cfg, "openai"), cfg.Providers.OpenAI.BaseURL), nil
				}); err != nil {
					return nil, err
				}
			}
		case "gemini":
			if key := cfg.ResolveGeminiKey(); key != "" {
				if err := add("gemini", func() (providergw.Provider, error) {
					return providergw.NewGeminiProvider(ctx, key, modelFor(cfg, "gemini"))
				}); err != nil {
					return nil, err
				}
			}
		case "bedrock":
			b := cfg.Providers.Bedrock
			if b.Region != "" {
				if err := add("bedrock", func() (providergw.Provider, error) {
					return providergw.NewBedrockProvider(ctx, b.Region, b.AccessKeyID, b.SecretAccessKey, modelFor(cfg, "bedrock"))
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no provider has a resolvable credential; set %s_API_KEY or configure one in providers", cfg.ActiveProvider)
	}
	return providergw.NewRouter(providergw.DefaultCircuitConfig(), providers...), nil
}

func modelFor(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		if cfg.Providers.Anthropic.Model != "" {
			return cfg.Providers.Anthropic.Model
		}
	case "openai":
		if cfg.Providers.OpenAI.Model != "" {
			return cfg.Providers.OpenAI.Model
		}
	case "gemini":
		if cfg.Providers.Gemini.Model != "" {
			return cfg.Providers.Gemini.Model
		}
	case "bedrock":
		if cfg.Providers.Bedrock.Model != "" {
			return cfg.Providers.Bedrock.Model
		}
	}
	if m, ok := cfg.DefaultModels[name]; ok {
		return m
	}
	return ""
}

// defaultPolicies seeds the engine with a conservative starting point:
// reads are allowed anywhere in the workspace, writes and shell commands
// require confirmation, and nothing outside the workspace is reachable
// (enforced upstream by toolexec.Workspace.Resolve, not by policy).
func defaultPolicies() []domain.Policy {
	return []domain.Policy{
		{Permission: domain.Allow, Rule: domain.Rule{Kind: domain.OpRead, Pattern: "*"}},
		{Permission: domain.Confirm, Rule: domain.Rule{Kind: domain.OpWrite, Pattern: "*"}},
		{Permission: domain.Confirm, Rule: domain.Rule{Kind: domain.OpExecute, Pattern: "*"}},
		{Permission: domain.Confirm, Rule: domain.Rule{Kind: domain.OpFetch, Pattern: "*"}},
	}
}

// confirmOnStdin prompts the operator on the controlling terminal for a
// Confirm-permission operation. Used as the Engine's ConfirmFunc.
func confirmOnStdin(ctx context.Context, op domain.Operation) (approved bool, remember bool) {
	subject := op.Path
	if subject == "" {
		subject = op.Command
	}
	if subject == "" {
		subject = op.URL
	}
	fmt.Printf("confirm %s %s? [y/N, or \"a\" to always allow]: ", op.Kind, subject)
	var answer string
	fmt.Scanln(&answer)
	switch answer {
	case "a", "A":
		return true, true
	case "y", "Y":
		return true, false
	default:
		return false, false
	}
}
