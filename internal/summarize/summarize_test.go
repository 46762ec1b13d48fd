package summarize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

type fakeClient struct {
	content   string
	err       error
	completes int
	lastReq   providers.Request
}

func (c *fakeClient) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	c.completes++
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return &providers.Response{Content: c.content, StopReason: "stop"}, nil
}

func (c *fakeClient) Stream(ctx context.Context, req providers.Request, emit func(providers.Chunk) error) (*providers.Response, error) {
	return c.Complete(ctx, req)
}

func (c *fakeClient) Name() string         { return "fake" }
func (c *fakeClient) DefaultModel() string { return "fake-model" }

func openDB(t *testing.T) *journal.DB {
	t.Helper()
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTurns(t *testing.T, db *journal.DB, dialogID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := journal.RoleUser
		if i%2 == 1 {
			role = journal.RoleAssistant
		}
		if _, err := db.Append(ctx, dialogID, journal.Message{
			Role: role, Content: fmt.Sprintf("message %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestShouldSummarize(t *testing.T) {
	s := New(&fakeClient{}, nil, 1000, 4)

	if d := s.ShouldSummarize(999); d.Summarize {
		t.Fatal("below budget must not trigger")
	}
	d := s.ShouldSummarize(1000)
	if !d.Summarize || d.KeepLast != 4 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(&fakeClient{}, nil, 0, 0)
	if s.budget != DefaultTriggerTokenBudget || s.keepLast != DefaultKeepLast {
		t.Fatalf("defaults not applied: budget=%d keepLast=%d", s.budget, s.keepLast)
	}
}

func TestMaybeSummarizeBelowBudgetIsNoop(t *testing.T) {
	db := openDB(t)
	client := &fakeClient{content: "summary"}
	s := New(client, db, 1000, 2)
	ctx := context.Background()

	seedTurns(t, db, "d1", 6)
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 100}); err != nil {
		t.Fatal(err)
	}

	if err := s.MaybeSummarize(ctx, "d1", nil); err != nil {
		t.Fatal(err)
	}
	if client.completes != 0 {
		t.Fatal("generation must not run below the budget")
	}
	if _, ok, _ := db.LatestSummary(ctx, "d1"); ok {
		t.Fatal("no summary row expected")
	}
}

func TestMaybeSummarizeGenerates(t *testing.T) {
	db := openDB(t)
	client := &fakeClient{content: "the dialog so far discussed messages"}
	s := New(client, db, 1000, 2)
	ctx := context.Background()

	seedTurns(t, db, "d1", 6)
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 5000}); err != nil {
		t.Fatal(err)
	}

	var events []protocol.Event
	emit := func(ev protocol.Event) error {
		events = append(events, ev)
		return nil
	}
	if err := s.MaybeSummarize(ctx, "d1", emit); err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if client.completes != 1 {
		t.Fatalf("completes = %d", client.completes)
	}

	sum, ok, err := db.LatestSummary(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("summary: ok=%v err=%v", ok, err)
	}
	// keepLast=2 over 6 messages: indices 0..3 summarized, cutoff at 4.
	if sum.CutoffMessageIndex != 4 {
		t.Fatalf("cutoff = %d, want 4", sum.CutoffMessageIndex)
	}
	if sum.SummarizedCount != 4 || sum.KeepLast != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.SummaryText != client.content {
		t.Fatalf("text = %q", sum.SummaryText)
	}

	if len(events) != 2 ||
		events[0].Type != protocol.EventSummaryStart ||
		events[1].Type != protocol.EventSummaryEnd {
		t.Fatalf("events = %v", events)
	}
}

func TestMaybeSummarizeShortDialog(t *testing.T) {
	db := openDB(t)
	client := &fakeClient{content: "summary"}
	s := New(client, db, 1000, 10)
	ctx := context.Background()

	seedTurns(t, db, "d1", 4) // fewer than keepLast
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 5000}); err != nil {
		t.Fatal(err)
	}

	if err := s.MaybeSummarize(ctx, "d1", nil); err != nil {
		t.Fatal(err)
	}
	if client.completes != 0 {
		t.Fatal("nothing to fold when the dialog fits in the tail")
	}
}

func TestMaybeSummarizeGenerationFailure(t *testing.T) {
	db := openDB(t)
	client := &fakeClient{err: errors.New("upstream down")}
	s := New(client, db, 1000, 2)
	ctx := context.Background()

	seedTurns(t, db, "d1", 6)
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 5000}); err != nil {
		t.Fatal(err)
	}

	if err := s.MaybeSummarize(ctx, "d1", nil); err == nil {
		t.Fatal("generation failure must propagate")
	}
	if _, ok, _ := db.LatestSummary(ctx, "d1"); ok {
		t.Fatal("failed generation must not persist a summary")
	}
}

func TestSummaryIsCumulative(t *testing.T) {
	db := openDB(t)
	client := &fakeClient{content: "first summary"}
	s := New(client, db, 1000, 2)
	ctx := context.Background()

	seedTurns(t, db, "d1", 6)
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 5000}); err != nil {
		t.Fatal(err)
	}
	if err := s.MaybeSummarize(ctx, "d1", nil); err != nil {
		t.Fatal(err)
	}

	seedTurns(t, db, "d1", 4) // grow past the previous cutoff
	client.content = "second summary"
	if err := db.RecordUsage(ctx, "d1", journal.Usage{PromptTokens: 6000}); err != nil {
		t.Fatal(err)
	}
	if err := s.MaybeSummarize(ctx, "d1", nil); err != nil {
		t.Fatal(err)
	}

	// The second generation prompt folds in the first summary text.
	prompt := client.lastReq.Messages[0].Content
	if !strings.Contains(prompt, "first summary") {
		t.Fatalf("prompt missing previous summary:\n%s", prompt)
	}

	sum, ok, _ := db.LatestSummary(ctx, "d1")
	if !ok || sum.SummaryText != "second summary" {
		t.Fatalf("latest = %+v", sum)
	}
	if sum.CutoffMessageIndex != 8 {
		t.Fatalf("cutoff = %d, want 8", sum.CutoffMessageIndex)
	}
}

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		msg  journal.Message
		want string
	}{
		{journal.Message{Role: journal.RoleUser, Content: "hi"}, "User: hi"},
		{journal.Message{Role: journal.RoleAssistant, Content: "yo"}, "Assistant: yo"},
		{
			journal.Message{Role: journal.RoleAssistant, ToolCalls: []journal.ToolCall{{Name: "read_file"}, {Name: "web_search"}}},
			"Assistant called tools: read_file, web_search",
		},
		{journal.Message{Role: journal.RoleTool, Content: "{}"}, ""},
	}
	for _, tt := range tests {
		if got := renderMessage(tt.msg); got != tt.want {
			t.Errorf("renderMessage(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
