// a2aengine-server is the composition root: it loads configuration,
// wires the persistence layer, Task Service, capability sources, and
// Request Handler together, and serves the external adapter's
// JSON-RPC + SSE endpoint over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/delivery/a2a"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/handler"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/narrator"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/taskservice"
	"github.com/cklxx-elephant-ai/a2aengine/internal/infra/capabilities"
	"github.com/cklxx-elephant-ai/a2aengine/internal/infra/sqlitestore"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm/mockllm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/config"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/metrics"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "a2aengine-server",
		Short: "Agent-to-Agent protocol execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			if configPath != "" {
				opts = append(opts, config.WithConfigFile(configPath))
			}
			cfg, err := config.Load(opts...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a2aengine-config.yaml (defaults to $HOME or ./a2aengine-config.yaml)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log := logging.NewComponentLogger("main")
		log.Error("a2aengine-server exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logging.NewComponentLogger("main")

	reg := prometheus.NewRegistry()
	metricsHandler := metrics.NewHandler(reg)

	tp, shutdownTracing := setupTracing(ctx, cfg.Telemetry, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer provider shutdown: %v", err)
		}
	}()
	mp, shutdownMetrics := setupMetrics(reg, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			log.Warn("meter provider shutdown: %v", err)
		}
	}()

	store, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open persistence layer: %w", err)
	}
	defer store.Close()

	tasks := taskservice.New(store, taskservice.WithSnapshotPath(cfg.DBPath+".index"))

	caps, err := buildCapabilities(ctx, cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("build capabilities: %w", err)
	}

	client := buildLLMClient(cfg.Model, log)

	h := handler.New(handler.Deps{
		Tasks:  tasks,
		Convo:  store,
		Client: client,
		Config: handler.Config{
			Narrator: narrator.Config{
				Interval:     cfg.NarratorInterval(),
				RecentWindow: cfg.Narrator.RecentWindow,
				MaxChars:     cfg.Narrator.MaxChars,
			},
			AlwaysTask: cfg.Routing.AlwaysTask,
		},
		Metrics: metricsHandler,
		Tracer:  tp.Tracer("a2aengine/handler"),
		Meter:   meterFor(mp),
		Tokens:  llm.NewTokenCounter(cfg.Model.CostPerThousand),
	})

	adapter := a2a.NewAdapter(h, caps)
	router := a2a.NewRouter(adapter)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("a2aengine-server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildLLMClient wires the configured model provider. The provider
// itself is an opaque external collaborator — this engine ships no
// provider SDK integration, so an unconfigured provider runs against
// a deterministic mock client rather than failing to start; operators
// wire a real llm.Client by replacing this one call with their
// provider's implementation of the same interface.
func buildLLMClient(m config.ModelConfig, log logging.Logger) llm.Client {
	if m.Provider == "" {
		log.Warn("model.provider not configured; serving with the deterministic mock LLM client")
	}
	return mockllm.New()
}

// buildCapabilities mounts every configured capability source into a
// single immutable capability.Set offered to every request — an
// immutable per-process snapshot computed once at startup.
func buildCapabilities(ctx context.Context, entries []config.CapabilityConfig) (capability.Set, error) {
	var items []capability.Capability
	mcpReg := capabilities.NewMCPRegistry()

	for _, entry := range entries {
		switch entry.Kind {
		case config.CapabilityPrebuilt:
			switch entry.Name {
			case "exec":
				items = append(items, capabilities.NewExec())
			case "memory":
				items = append(items, capabilities.NewMemory())
			case "search":
				// No search backend is wired by default; see
				// capabilities.Searcher for the injection point.
				items = append(items, capabilities.NewSearch(nil))
			default:
				return capability.Set{}, fmt.Errorf("unknown prebuilt capability %q", entry.Name)
			}
		case config.CapabilityA2A:
			var opts []capabilities.A2AOption
			if token, ok := entry.Headers["Authorization"]; ok {
				opts = append(opts, capabilities.WithA2ABearerToken(token))
			}
			name := entry.Name
			if name == "" {
				name = "a2a_peer"
			}
			items = append(items, capabilities.NewA2A(name, entry.URL, nil, opts...))
		case config.CapabilityMCP:
			// Only an HTTP JSON-RPC transport is implemented
			// (capabilities.MCPRegistry); "sse" transport values
			// fall back to the same HTTP client since no pack
			// repo carries a separate MCP SSE client to ground one on.
			mounted, err := mcpReg.Mount(ctx, capabilities.MCPServerConfig{
				Name:     entry.Name,
				Endpoint: entry.URL,
				Headers:  entry.Headers,
			})
			if err != nil {
				return capability.Set{}, fmt.Errorf("mount mcp server %s: %w", entry.Name, err)
			}
			items = append(items, mounted...)
		default:
			return capability.Set{}, fmt.Errorf("unknown capability kind %q", entry.Kind)
		}
	}

	return capability.NewSet(items...), nil
}
