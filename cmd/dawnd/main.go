// Command dawnd is the entry point for the DAWN command-dispatch and
// LLM-tool-orchestration server.
//
// Same flag-parse → config-load → logger → provider-registry → wiring →
// run → graceful-shutdown shape as the rest of the codebase, narrowed to
// the two provider kinds DAWN's core owns directly (LLM, embeddings) and
// extended with the WebSocket transport, message bus, and Conversation
// Store a voice-only pipeline never needed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"dawn/internal/bus"
	"dawn/internal/bus/mqtt"
	"dawn/internal/config"
	"dawn/internal/embeddings"
	embeddingsopenai "dawn/internal/embeddings/openai"
	"dawn/internal/health"
	"dawn/internal/llm"
	"dawn/internal/llmprovider/anyllm"
	"dawn/internal/mcp"
	"dawn/internal/memory"
	"dawn/internal/memory/pgvector"
	"dawn/internal/observe"
	"dawn/internal/orchestrator"
	"dawn/internal/resilience"
	"dawn/internal/session"
	"dawn/internal/store"
	"dawn/internal/store/sqlite"
	"dawn/internal/tool"
	"dawn/internal/tool/builtin"
	"dawn/internal/tool/executor"
	"dawn/internal/tool/router"
	"dawn/internal/ws"
)

// defaultBusTopic and defaultReplyTopic are DAWN's fixed MQTT topic
// convention. The core has a single command bus, so these are constants
// rather than per-provider config fields.
const (
	defaultBusTopic   = "dawn/commands"
	defaultReplyTopic = "dawn/replies"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	vacuum := flag.Bool("vacuum", false, "run Conversation Store maintenance and exit")
	dumpAudit := flag.Bool("dump-audit", false, "print one user's conversations and message counts, then exit")
	auditUser := flag.String("user", "", "user id to audit (required with -dump-audit; the store's per-method authorization has no cross-user listing)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dawnd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dawnd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	conversations, err := sqlite.Open(context.Background(), cfg.Store.Path)
	if err != nil {
		slog.Error("failed to open conversation store", "err", err)
		return 1
	}
	defer conversations.Close()

	if *vacuum {
		return runMaintenance(conversations)
	}
	if *dumpAudit {
		if *auditUser == "" {
			fmt.Fprintln(os.Stderr, "dawnd: -dump-audit requires -user")
			return 1
		}
		return runAudit(conversations, *auditUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, embedder, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	reg, mcpHost := buildToolRegistry(ctx, cfg, embedder)
	if mcpHost != nil {
		defer mcpHost.Close()
	}

	messageBus, busRouter, err := buildBus(cfg)
	if err != nil {
		slog.Error("failed to connect message bus", "err", err)
		return 1
	}
	if messageBus != nil {
		defer messageBus.Close()
	}

	metrics := observe.DefaultMetrics()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "command-executor"})
	exec := executor.New(messageBus, busRouter, executor.WithCircuitBreaker(breaker))

	// ShapeOpenAI here is only the fallback for a session that hasn't
	// configured a tool mode; RunTurn derives the shape each session
	// actually uses from its own LLMConfig.ToolMode.
	orch := orchestrator.New(provider, reg, exec, orchestrator.ShapeOpenAI)
	sessions := session.New()
	handler := ws.NewHandler(sessions, orch, conversations, ws.WithMetrics(metrics))

	healthHandler := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := conversations.Count(ctx, "__healthcheck__")
			return err
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/chat", observe.Middleware(metrics)(handler))
	healthHandler.Register(mux)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("dawnd listening", "addr", cfg.Server.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// anyllmOpts translates the common fields of a [config.ProviderEntry] into
// any-llm-go options, leaving unset fields to any-llm-go's own environment-
// variable fallback (e.g. OPENAI_API_KEY).
func anyllmOpts(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// buildProviders constructs the LLM and embeddings providers named in cfg,
// wrapping each in a [resilience] fallback group of size one (no fallback
// entries are configured from cfg today, but the wrapping gives every call
// path circuit-breaker protection uniformly — SPEC_FULL.md §6).
func buildProviders(cfg *config.Config) (llm.Provider, embeddings.Provider, error) {
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOpenAI(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewAnthropic(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOllama(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(e.APIKey, e.Model)
	})

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	llmFallback := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm-" + cfg.Providers.LLM.Name},
	})

	var embedder embeddings.Provider
	if cfg.Memory.Enabled {
		embedProvider, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
		}
		embedder = resilience.NewEmbeddingsFallback(embedProvider, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "embeddings-" + cfg.Providers.Embeddings.Name},
		})
	}

	return llmFallback, embedder, nil
}

// buildToolRegistry registers the tools the core ships with directly
// (memory_search — only when cfg.Memory.Enabled, since it needs an embedder
// and a vector index — search, and shutdown), then imports every tool
// advertised by the MCP servers named in cfg.MCP.Servers. Returns the MCP
// host alongside the registry so the caller can close its server
// connections on shutdown; the host is nil when no MCP servers are
// configured.
func buildToolRegistry(ctx context.Context, cfg *config.Config, embedder embeddings.Provider) (*tool.Registry, *mcp.Host) {
	reg := tool.NewRegistry()

	if cfg.Memory.Enabled && embedder != nil {
		index, err := pgvector.New(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to connect memory store, memory_search disabled", "err", err)
		} else {
			collab := memory.NewCollaborator(memory.NewGuardedIndex(index), embedder, cfg.Memory.TopK, func() bool { return cfg.Memory.Enabled })
			if err := reg.Register(collab.SearchTool()); err != nil {
				slog.Error("failed to register memory_search tool", "err", err)
			}
		}
	}

	if err := reg.Register(builtin.SearchTool(nil, func() string { return cfg.Search.Endpoint })); err != nil {
		slog.Error("failed to register search tool", "err", err)
	}
	if err := reg.Register(builtin.ShutdownTool(func() string {
		if !cfg.Shutdown.Enabled {
			return ""
		}
		return cfg.Shutdown.Passphrase
	}, nil)); err != nil {
		slog.Error("failed to register shutdown tool", "err", err)
	}

	var mcpHost *mcp.Host
	if len(cfg.MCP.Servers) > 0 {
		mcpHost = mcp.New()
		for _, sc := range cfg.MCP.Servers {
			if err := mcpHost.RegisterServer(ctx, mcp.ServerConfig{
				Name:      sc.Name,
				Transport: mcp.Transport(sc.Transport),
				Command:   sc.Command,
				URL:       sc.URL,
				Env:       sc.Env,
			}); err != nil {
				slog.Error("failed to register mcp server", "server", sc.Name, "err", err)
				continue
			}
		}
		for _, def := range mcpHost.Tools() {
			if err := reg.Register(def); err != nil {
				slog.Error("failed to register mcp tool", "tool", def.Name, "err", err)
			}
		}
	}

	reg.Refresh()
	return reg, mcpHost
}

// buildBus connects the message bus used by message-only and sync-wait
// tools. When no broker is configured it returns a nil bus alongside a
// fresh router and a nil error — a deployment running only direct-callback
// tools needs no bus.
func buildBus(cfg *config.Config) (bus.Bus, *router.Router, error) {
	if cfg.Bus.BrokerURL == "" {
		return nil, router.New(), nil
	}
	r := router.New()
	b, err := mqtt.New(mqtt.Config{
		Brokers:      []string{cfg.Bus.BrokerURL},
		ClientID:     cfg.Bus.ClientID,
		Username:     cfg.Secrets.MQTTUsername,
		Password:     cfg.Secrets.MQTTPassword,
		DefaultTopic: defaultBusTopic,
		ReplyTopic:   defaultReplyTopic,
	}, r)
	if err != nil {
		return nil, nil, err
	}
	return b, r, nil
}

// runMaintenance runs the Conversation Store's periodic maintenance pass
// once, for cron-driven invocation (dawnd -vacuum), and returns the process
// exit code: 0 on success, 2 on failure (distinct from the general error
// code 1 used elsewhere, per SPEC_FULL.md §6's maintenance-subcommand exit
// codes).
func runMaintenance(st store.Store) int {
	if err := st.Maintain(context.Background()); err != nil {
		slog.Error("maintenance failed", "err", err)
		return 2
	}
	slog.Info("maintenance completed")
	return 0
}

// runAudit prints one user's conversations and message counts, for
// operators auditing store growth without a full SQL client. Scoped to a
// single user because [store.Store] authorizes every read by user id and
// has no cross-user listing operation (SPEC_FULL.md §4.8).
func runAudit(st store.Store, user string) int {
	ctx := context.Background()
	var total, messages int
	err := st.List(ctx, user, true, store.Pagination{Limit: 1000}, func(c store.Conversation) bool {
		total++
		messages += c.MessageCount
		fmt.Printf("conversation %d  user=%s  messages=%d  archived=%v\n", c.ID, c.UserID, c.MessageCount, c.Archived)
		return true
	})
	if err != nil {
		slog.Error("audit failed", "err", err)
		return 2
	}
	fmt.Printf("total: %d conversations, %d messages\n", total, messages)
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
