// Package summarize compacts long dialog histories: when the last model
// turn's prompt grew past a token budget, the older part of the history is
// folded into a stored summary and only a tail of recent messages is kept
// in the context window.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

const (
	// DefaultTriggerTokenBudget is the prompt-token threshold that arms
	// summarization for the next turn.
	DefaultTriggerTokenBudget = 120000
	// DefaultKeepLast is how many recent messages survive compaction.
	DefaultKeepLast = 24

	generationTimeout = 120 * time.Second
)

// Decision is the outcome of the trigger check.
type Decision struct {
	Summarize bool
	KeepLast  int
}

// Summarizer owns the trigger policy and the generation call.
type Summarizer struct {
	client   providers.Client
	db       *journal.DB
	budget   int
	keepLast int
	group    singleflight.Group
	log      *slog.Logger
}

func New(client providers.Client, db *journal.DB, triggerBudget, keepLast int) *Summarizer {
	if triggerBudget <= 0 {
		triggerBudget = DefaultTriggerTokenBudget
	}
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	return &Summarizer{
		client:   client,
		db:       db,
		budget:   triggerBudget,
		keepLast: keepLast,
		log:      slog.With("component", "summarize"),
	}
}

// ShouldSummarize applies the token policy to the last recorded prompt size.
func (s *Summarizer) ShouldSummarize(promptTokens int) Decision {
	if promptTokens >= s.budget {
		return Decision{Summarize: true, KeepLast: s.keepLast}
	}
	return Decision{}
}

// MaybeSummarize checks the trigger and, when armed, generates and persists
// a summary. Concurrent calls for the same dialog collapse into one
// generation. Events bracket the generation so clients can show progress;
// emit may be nil.
func (s *Summarizer) MaybeSummarize(ctx context.Context, dialogID string, emit func(protocol.Event) error) error {
	last, ok, err := s.db.LastUsage(ctx, dialogID)
	if err != nil {
		return fmt.Errorf("read last usage: %w", err)
	}
	if !ok {
		return nil
	}
	decision := s.ShouldSummarize(last.PromptTokens)
	if !decision.Summarize {
		return nil
	}

	_, err, _ = s.group.Do(dialogID, func() (any, error) {
		if emit != nil {
			if err := emit(protocol.SummaryStartEvent()); err != nil {
				return nil, err
			}
		}
		genErr := s.generate(ctx, dialogID, decision.KeepLast)
		if emit != nil {
			if err := emit(protocol.SummaryEndEvent()); err != nil {
				return nil, err
			}
		}
		return nil, genErr
	})
	return err
}

func (s *Summarizer) generate(ctx context.Context, dialogID string, keepLast int) error {
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	msgs, err := s.db.All(ctx, dialogID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(msgs) <= keepLast {
		return nil
	}

	older := msgs[:len(msgs)-keepLast]
	cutoff := msgs[len(msgs)-keepLast].Index

	// A previous summary covers part of the prefix; fold it in so the new
	// summary stays cumulative.
	prev, hasPrev, err := s.db.LatestSummary(ctx, dialogID)
	if err != nil {
		return fmt.Errorf("load previous summary: %w", err)
	}

	var sb strings.Builder
	if hasPrev {
		sb.WriteString("Earlier conversation summary:\n")
		sb.WriteString(prev.SummaryText)
		sb.WriteString("\n\n")
	}
	summarized := 0
	for _, m := range older {
		if hasPrev && m.Index < prev.CutoffMessageIndex {
			continue
		}
		text := renderMessage(m.Msg)
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		summarized++
	}
	if summarized == 0 {
		return nil
	}

	resp, err := s.client.Complete(ctx, providers.Request{
		System: "You are a conversation summarizer. Produce a dense, factual summary " +
			"of the dialog below. Preserve file paths, decisions, open questions, and " +
			"any constraints the user stated. Write plain prose, no preamble.",
		Messages: []providers.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return fmt.Errorf("summary generation: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return fmt.Errorf("summary generation returned empty content")
	}

	err = s.db.SaveSummary(ctx, dialogID, journal.Summary{
		CutoffMessageIndex: cutoff,
		SummaryText:        resp.Content,
		KeepLast:           keepLast,
		SummarizedCount:    summarized,
	})
	if err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	s.log.Info("dialog summarized", "dialog", dialogID, "cutoff", cutoff, "messages", summarized)
	return nil
}

func renderMessage(m journal.Message) string {
	switch m.Role {
	case journal.RoleUser:
		return "User: " + m.Content
	case journal.RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			return "Assistant called tools: " + strings.Join(names, ", ")
		}
		return "Assistant: " + m.Content
	case journal.RoleTool:
		// Slim envelopes carry no payload worth summarizing.
		return ""
	}
	return ""
}
