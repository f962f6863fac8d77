package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/config"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/httpboundary"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/memory"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/orchestrator"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/store/pg"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sync"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tools"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway's HTTP boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := pg.Open(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer kv.Close()

	sessionMgr := sessions.NewManager(cfg.Sessions.Storage)
	resolver := identity.NewResolver(kv, sessionMgr)
	ledger := credit.NewLedger(kv)
	syncTracker := sync.NewTracker(kv)
	memoryStore := memory.NewStore(kv, logger)

	lb := buildProvider(cfg)

	registry := tools.NewRegistry()
	registry.Register(tools.NewWebSearchTool())

	tp := tracing.NewProvider()
	defer tp.Shutdown(context.Background())

	scheduler := memory.NewScheduler(memoryStore, lb, func(ctx context.Context) []string {
		ids, err := resolver.ListUserIDs(ctx)
		if err != nil {
			logger.Warn("memory scheduler: list users failed", "error", err)
			return nil
		}
		return ids
	}, logger)
	if _, err := scheduler.Start(); err != nil {
		return fmt.Errorf("start memory scheduler: %w", err)
	}
	defer scheduler.Stop()

	orch := orchestrator.New(orchestrator.Deps{
		Resolver:           resolver,
		Sessions:           sessionMgr,
		Ledger:             ledger,
		Sync:               syncTracker,
		Memory:             memoryStore,
		Tools:              registry,
		Provider:           lb,
		Logger:             logger,
		GlobalDefaultModel: lb.DefaultModel(),
	})

	server := httpboundary.NewServer(httpboundary.Deps{
		Config:       cfg,
		Resolver:     resolver,
		Sessions:     sessionMgr,
		Ledger:       ledger,
		Sync:         syncTracker,
		Memory:       memoryStore,
		Orchestrator: orch,
		Provider:     lb,
		Logger:       logger,
	})

	return server.Start(ctx)
}

// buildProvider assembles the Load-Balanced Provider from every
// provider family configured via §6.2's key-discovery scheme: a primary
// key plus up to 10 extras instantiates one adapter slot per key found.
func buildProvider(cfg *config.Config) *providers.LoadBalancedProvider {
	var adapters []providers.Provider

	addAnthropic := func(keys config.ProviderKeys) {
		for _, key := range allKeys(keys) {
			opts := []providers.AnthropicOption{}
			if keys.APIBase != "" {
				opts = append(opts, providers.WithAnthropicBaseURL(keys.APIBase))
			}
			adapters = append(adapters, providers.NewAnthropicProvider(key, opts...))
		}
	}
	addGemini := func(keys config.ProviderKeys) {
		for _, key := range allKeys(keys) {
			adapters = append(adapters, providers.NewGeminiProvider(key, ""))
		}
	}
	addOpenAICompat := func(name string, keys config.ProviderKeys, apiBase string) {
		if keys.APIBase != "" {
			apiBase = keys.APIBase
		}
		for _, key := range allKeys(keys) {
			adapters = append(adapters, providers.NewOpenAICompatProvider(name, key, apiBase, ""))
		}
	}

	addAnthropic(cfg.Providers.Anthropic)
	addGemini(cfg.Providers.Gemini)
	addOpenAICompat("openai", cfg.Providers.OpenAI, "")
	addOpenAICompat("groq", cfg.Providers.Groq, "https://api.groq.com/openai/v1")
	addOpenAICompat("deepseek", cfg.Providers.DeepSeek, "https://api.deepseek.com/v1")
	addOpenAICompat("openrouter", cfg.Providers.OpenRouter, "https://openrouter.ai/api/v1")

	lb := providers.NewLoadBalancedProvider(adapters)
	return lb.WithLocalFallback(providers.NewLocalFallbackProvider())
}

func allKeys(keys config.ProviderKeys) []string {
	if keys.APIKey == "" {
		return nil
	}
	return append([]string{keys.APIKey}, keys.Extra...)
}
