// Package httpapi exposes the chat, dialog, and versioning surface over
// HTTP and SSE.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/agentsmithy/agentsmithy/internal/chat"
	"github.com/agentsmithy/agentsmithy/internal/config"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/tasks"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownGrace = 10 * time.Second

// Server wires the handlers to their dependencies.
type Server struct {
	cfg     *config.Config
	project *project.Project
	chat    *chat.Service
	rag     rag.Index
	tasks   *tasks.Manager
	log     *slog.Logger

	http *http.Server
}

// Deps carries everything the server needs.
type Deps struct {
	Config  *config.Config
	Project *project.Project
	Chat    *chat.Service
	RAG     rag.Index
	Tasks   *tasks.Manager
}

func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		project: deps.Project,
		chat:    deps.Chat,
		rag:     deps.RAG,
		tasks:   deps.Tasks,
		log:     slog.With("component", "http"),
	}
	if s.rag == nil {
		s.rag = rag.Noop{}
	}
	return s
}

// Handler builds the route table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/dialogs", s.handleListDialogs)
	mux.HandleFunc("POST /api/dialogs", s.handleCreateDialog)
	mux.HandleFunc("GET /api/dialogs/current", s.handleGetCurrent)
	mux.HandleFunc("PATCH /api/dialogs/current", s.handleSetCurrent)
	mux.HandleFunc("GET /api/dialogs/{id}", s.handleGetDialog)
	mux.HandleFunc("PATCH /api/dialogs/{id}", s.handlePatchDialog)
	mux.HandleFunc("DELETE /api/dialogs/{id}", s.handleDeleteDialog)
	mux.HandleFunc("GET /api/dialogs/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/dialogs/{id}/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("POST /api/dialogs/{id}/restore", s.handleRestore)
	mux.HandleFunc("POST /api/dialogs/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/dialogs/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /api/dialogs/{id}/session", s.handleSession)
	mux.HandleFunc("GET /health", s.handleHealth)

	snap := s.cfg.Snapshot()
	var h http.Handler = mux
	h = s.rateLimitMiddleware(h, snap.Server.RateLimitRPM)
	h = s.authMiddleware(h, snap.Server.Token)
	h = s.logMiddleware(h)
	return h
}

// ListenAndServe runs the server until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	snap := s.cfg.Snapshot()
	addr := net.JoinHostPort(snap.Server.Host, fmt.Sprintf("%d", snap.Server.Port))

	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// No global write timeout: SSE streams are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.project.Status().Update(func(st *project.Status) {
			st.ServerStatus = "error"
			st.ServerError = err.Error()
		})
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.project.Status().Set(project.Status{
		ServerStatus: "running",
		ServerPID:    os.Getpid(),
		Port:         snap.Server.Port,
	})
	s.log.Info("server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.chat.NotifyShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err = s.http.Shutdown(shutdownCtx)
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	s.project.Status().Update(func(st *project.Status) {
		st.ServerStatus = "stopped"
		st.ServerPID = 0
		st.Port = 0
	})
	return err
}
