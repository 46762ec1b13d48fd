package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsmithy/agentsmithy/internal/chat"
	"github.com/agentsmithy/agentsmithy/internal/config"
	"github.com/agentsmithy/agentsmithy/internal/httpapi"
	"github.com/agentsmithy/agentsmithy/internal/observability"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/tasks"
	"github.com/agentsmithy/agentsmithy/internal/tools"
)

const tasksShutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the AgentSmithy server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			slog.Error("config problem", "problem", p)
		}
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := observability.Setup(ctx, snap.Telemetry)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	proj, err := project.Open(cfg.ProjectRoot(), snap.Project.StateDirName)
	if err != nil {
		slog.Error("failed to open project state", "error", err)
		os.Exit(1)
	}

	client, err := providers.FromConfig(snap.Agent.Provider, snap.Providers)
	if err != nil {
		slog.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(snap)
	if err != nil {
		slog.Error("failed to register tools", "error", err)
		os.Exit(1)
	}

	index := buildRAGIndex(cfg, snap)
	manager := tasks.NewManager()

	service := chat.NewService(chat.Config{
		Project:   proj,
		Client:    client,
		Registry:  registry,
		RAG:       index,
		Tasks:     manager,
		Agent:     snap.Agent,
		Summarize: snap.Summarization,
		RAGMax:    snap.RAG.MaxResults,
	})

	// Hot reload keeps env secrets and notifies; structural changes still
	// need a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, cfg, func(next *config.Config) {
			slog.Info("config reloaded", "path", cfgPath)
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	server := httpapi.NewServer(httpapi.Deps{
		Config:  cfg,
		Project: proj,
		Chat:    service,
		RAG:     index,
		Tasks:   manager,
	})
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server failed", "error", err)
	}

	if err := manager.Shutdown(tasksShutdownTimeout); err != nil {
		slog.Warn("background tasks did not finish in time", "error", err)
	}
	if err := index.Close(); err != nil {
		slog.Warn("failed to close retrieval index", "error", err)
	}
	if err := proj.Close(); err != nil {
		slog.Warn("failed to close project state", "error", err)
	}
	if err := traceShutdown(context.Background()); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}
}

func buildRegistry(snap config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	set := []tools.Tool{
		tools.NewReadFileTool(),
		tools.NewWriteFileTool(),
		tools.NewReplaceInFileTool(),
		tools.NewDeleteFileTool(),
		tools.NewListFilesTool(),
		tools.NewSearchFilesTool(),
		tools.NewGetPreviousResultTool(),
		tools.NewSetDialogTitleTool(),
		tools.NewWebFetchTool(tools.WebFetchConfig{}),
	}
	if snap.Tools.Web.SearchEnabled {
		set = append(set, tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveAPIKey: snap.Tools.Web.BraveAPIKey,
		}))
	}
	for _, t := range set {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildRAGIndex(cfg *config.Config, snap config.Config) rag.Index {
	if !snap.RAG.Enabled {
		return rag.Noop{}
	}
	index, err := rag.NewWorkspace(
		cfg.ProjectRoot(),
		filepath.Join(cfg.StateDir(), "rag"),
		snap.RAG.EmbeddingAPIKey,
		snap.RAG.EmbeddingModel,
	)
	if err != nil {
		slog.Warn("retrieval index disabled", "error", err)
		return rag.Noop{}
	}
	return index
}
