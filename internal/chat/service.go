// Package chat orchestrates one dialog turn end to end: checkpoint, user
// message, context assembly, the agent loop, buffer flushes, and the
// terminal event pair.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentsmithy/agentsmithy/internal/agent"
	"github.com/agentsmithy/agentsmithy/internal/config"
	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/internal/rag"
	"github.com/agentsmithy/agentsmithy/internal/summarize"
	"github.com/agentsmithy/agentsmithy/internal/tasks"
	"github.com/agentsmithy/agentsmithy/internal/tools"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

const checkpointPreviewLen = 50

// Request is one chat turn.
type Request struct {
	DialogID string
	Query    string
	// Context is caller-supplied extra context, merged into the system
	// prompt under a well-known heading.
	Context map[string]any
}

// Result is the non-streaming response.
type Result struct {
	Content    string
	Checkpoint string
	Session    string
}

// Service runs turns. At most one turn per dialog is active at a time.
type Service struct {
	project  *project.Project
	client   providers.Client
	registry *tools.Registry
	rag      rag.Index
	tasks    *tasks.Manager

	agentCfg     config.AgentConfig
	summarizeCfg config.SummarizationConfig
	ragMax       int

	locks       keyedMutex
	summarizers sync.Map // dialogID -> *summarize.Summarizer
	shutdown    atomic.Bool
	log         *slog.Logger
}

// Config wires a Service.
type Config struct {
	Project   *project.Project
	Client    providers.Client
	Registry  *tools.Registry
	RAG       rag.Index
	Tasks     *tasks.Manager
	Agent     config.AgentConfig
	Summarize config.SummarizationConfig
	RAGMax    int
}

func NewService(cfg Config) *Service {
	r := cfg.RAG
	if r == nil {
		r = rag.Noop{}
	}
	return &Service{
		project:      cfg.Project,
		client:       cfg.Client,
		registry:     cfg.Registry,
		rag:          r,
		tasks:        cfg.Tasks,
		agentCfg:     cfg.Agent,
		summarizeCfg: cfg.Summarize,
		ragMax:       cfg.RAGMax,
		log:          slog.With("component", "chat"),
	}
}

// NotifyShutdown flips the service into shutdown mode: in-flight streams get
// a dedicated error before done instead of a silent cancellation.
func (s *Service) NotifyShutdown() { s.shutdown.Store(true) }

// StreamChat runs a streaming turn. Every event goes through emit; a failed
// emit means the client is gone and the turn unwinds silently. On any other
// failure emit receives error followed by done.
func (s *Service) StreamChat(ctx context.Context, req Request, emit func(protocol.Event) error) error {
	unlock := s.locks.lock(req.DialogID)
	defer unlock()

	d, err := s.project.Dialog(ctx, req.DialogID)
	if err != nil {
		_ = emit(protocol.ErrorEvent(err.Error()))
		_ = emit(protocol.DoneEvent())
		return err
	}

	turn, err := s.beginTurn(ctx, d, req)
	if err != nil {
		_ = emit(protocol.ErrorEvent(err.Error()))
		_ = emit(protocol.DoneEvent())
		return err
	}

	if err := emit(protocol.UserEvent(req.Query, turn.checkpoint, turn.session)); err != nil {
		return nil // client gone before the first event
	}

	sink := &turnSink{ctx: ctx, svc: s, dialog: d, emit: emit, model: s.modelName()}
	outcome := s.runLoop(ctx, d, turn, sink)
	sink.flushReasoning(ctx)

	switch outcome.Kind {
	case agent.OutcomeCompleted:
		s.flushAssistant(ctx, d, outcome, sink.assistantText())
		s.maybeSummarize(ctx, d, emit)
		_ = emit(protocol.DoneEvent())
		s.finishTurn(d)
		return nil

	case agent.OutcomeCanceled:
		s.flushAssistant(ctx, d, outcome, sink.assistantText())
		if s.shutdown.Load() {
			_ = emit(protocol.ErrorEvent("server is shutting down"))
			_ = emit(protocol.DoneEvent())
		}
		// Client disconnects end the stream without further events.
		s.finishTurn(d)
		return nil

	case agent.OutcomeErrorBudgetExhausted:
		s.flushAssistant(ctx, d, outcome, sink.assistantText())
		_ = emit(protocol.ErrorEvent(fmt.Sprintf("maximum consecutive errors reached: %v", outcome.Err)))
		_ = emit(protocol.DoneEvent())
		s.finishTurn(d)
		return nil

	default: // OutcomeStreamFailed
		s.flushAssistant(ctx, d, outcome, sink.assistantText())
		_ = emit(protocol.ErrorEvent(outcome.Err.Error()))
		_ = emit(protocol.DoneEvent())
		s.finishTurn(d)
		return outcome.Err
	}
}

// Chat runs a non-streaming turn to completion.
func (s *Service) Chat(ctx context.Context, req Request) (Result, error) {
	unlock := s.locks.lock(req.DialogID)
	defer unlock()

	d, err := s.project.Dialog(ctx, req.DialogID)
	if err != nil {
		return Result{}, err
	}
	turn, err := s.beginTurn(ctx, d, req)
	if err != nil {
		return Result{}, err
	}

	outcome := s.runLoop(ctx, d, turn, nil)
	switch outcome.Kind {
	case agent.OutcomeCompleted:
		s.flushAssistant(ctx, d, outcome, "")
		s.backgroundSummarize(d)
		s.finishTurn(d)
		return Result{Content: outcome.Content, Checkpoint: turn.checkpoint, Session: turn.session}, nil
	case agent.OutcomeCanceled:
		s.finishTurn(d)
		return Result{}, outcome.Err
	case agent.OutcomeErrorBudgetExhausted:
		s.finishTurn(d)
		return Result{}, fmt.Errorf("maximum consecutive errors reached: %w", outcome.Err)
	default:
		s.finishTurn(d)
		return Result{}, outcome.Err
	}
}

// turnState carries what steps 1-4 of the pipeline produced.
type turnState struct {
	checkpoint   string
	session      string
	system       string
	conversation []providers.Message
}

// beginTurn runs the shared pre-loop pipeline: checkpoint, user append, RAG
// sync, context assembly.
func (s *Service) beginTurn(ctx context.Context, d *project.Dialog, req Request) (*turnState, error) {
	turn := &turnState{}

	if d.Repo != nil {
		msg := "Before user message: " + preview(req.Query, checkpointPreviewLen)
		cp, err := d.Repo.CreateCheckpoint(ctx, msg)
		if err != nil {
			s.log.Warn("pre-turn checkpoint failed", "dialog", d.ID, "error", err)
		} else {
			turn.checkpoint = cp.CommitID
			if err := s.project.SetInitialCheckpoint(ctx, d.ID, cp.CommitID); err != nil {
				s.log.Warn("failed to record initial checkpoint", "dialog", d.ID, "error", err)
			}
		}
		if name, err := d.Repo.ActiveSessionName(ctx); err == nil {
			turn.session = name
		}
	}

	if _, err := d.DB.Append(ctx, d.ID, journal.Message{
		Role:       journal.RoleUser,
		Content:    req.Query,
		Checkpoint: turn.checkpoint,
		Session:    turn.session,
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	if stats, err := s.rag.Sync(ctx); err != nil {
		s.log.Warn("rag sync failed", "dialog", d.ID, "error", err)
	} else if stats.Indexed > 0 || stats.Removed > 0 {
		s.log.Info("rag sync", "dialog", d.ID, "indexed", stats.Indexed, "removed", stats.Removed)
	}

	system, conversation, err := s.assembleContext(ctx, d, req)
	if err != nil {
		return nil, err
	}
	turn.system = system
	turn.conversation = conversation
	return turn, nil
}

// runLoop builds the per-turn tool context and drives the executor.
func (s *Service) runLoop(ctx context.Context, d *project.Dialog, turn *turnState, sink *turnSink) agent.Outcome {
	toolCtx := &tools.ToolContext{
		DialogID:      d.ID,
		WorkspaceRoot: s.project.Root(),
		Repo:          d.Repo,
		Results:       d.Results,
		MessageIndex:  -1,
		SetTitle: func(ctx context.Context, title string) error {
			return s.project.SetTitle(ctx, d.ID, title)
		},
	}
	var emit func(protocol.Event) error
	if sink != nil {
		sink.toolCtx = toolCtx
		toolCtx.Emit = func(ev protocol.Event) { _ = sink.send(ev) }
		emit = sink.send
	}

	exec := agent.NewExecutor(agent.ExecutorConfig{
		Client:               s.client,
		Registry:             s.registry,
		DB:                   d.DB,
		MaxConsecutiveErrors: s.agentCfg.MaxConsecutiveErrors,
	})
	return exec.Run(ctx, agent.RunParams{
		DialogID:     d.ID,
		System:       turn.system,
		Conversation: turn.conversation,
		Model:        s.agentCfg.Model,
		MaxTokens:    s.agentCfg.MaxTokens,
		Temperature:  s.agentCfg.Temperature,
		ToolCtx:      toolCtx,
		Emit:         emit,
	})
}

// flushAssistant journals the final assistant text unless the loop already
// persisted assistant messages for this turn's terminal answer.
func (s *Service) flushAssistant(ctx context.Context, d *project.Dialog, outcome agent.Outcome, buffered string) {
	content := outcome.Content
	if content == "" {
		content = buffered
	}
	if content == "" {
		return
	}
	// Persist even when the turn was canceled mid-stream.
	ctx = context.WithoutCancel(ctx)
	_, err := d.DB.Append(ctx, d.ID, journal.Message{
		Role:    journal.RoleAssistant,
		Content: content,
	})
	if err != nil {
		s.log.Warn("failed to journal assistant message", "dialog", d.ID, "error", err)
	}
}

// finishTurn refreshes the dialog's derived metadata after the stream closed.
func (s *Service) finishTurn(d *project.Dialog) {
	s.project.Touch(context.Background(), d.ID)
}

func (s *Service) maybeSummarize(ctx context.Context, d *project.Dialog, emit func(protocol.Event) error) {
	err := s.summarizer(d).MaybeSummarize(ctx, d.ID, emit)
	if err != nil {
		s.log.Warn("summarization failed", "dialog", d.ID, "error", err)
	}
}

func (s *Service) backgroundSummarize(d *project.Dialog) {
	if s.tasks == nil {
		return
	}
	s.tasks.Go("summarize-"+d.ID, func(ctx context.Context) {
		s.maybeSummarize(ctx, d, nil)
	})
}

func (s *Service) summarizer(d *project.Dialog) *summarize.Summarizer {
	if v, ok := s.summarizers.Load(d.ID); ok {
		return v.(*summarize.Summarizer)
	}
	sm := summarize.New(s.client, d.DB, s.summarizeCfg.TriggerTokenBudget, s.summarizeCfg.KeepLastMessages)
	actual, _ := s.summarizers.LoadOrStore(d.ID, sm)
	return actual.(*summarize.Summarizer)
}

func (s *Service) modelName() string {
	if s.agentCfg.Model != "" {
		return s.agentCfg.Model
	}
	return s.client.DefaultModel()
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
