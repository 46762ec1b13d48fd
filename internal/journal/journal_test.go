package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendReturnsFullLogIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msgs := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{ID: "c1", Name: "read_file"}}},
		{Role: RoleTool, Content: "result", ToolCallID: "c1"},
		{Role: RoleAssistant, Content: "done"},
	}
	for i, m := range msgs {
		idx, err := db.Append(ctx, "d1", m)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if idx != i {
			t.Fatalf("append %d returned index %d", i, idx)
		}
	}

	n, err := db.MessageCount(ctx, "d1")
	if err != nil || n != 4 {
		t.Fatalf("MessageCount = %d, %v", n, err)
	}
	// Tool results and the empty-assistant carrier are invisible.
	v, err := db.CountVisible(ctx, "d1")
	if err != nil || v != 2 {
		t.Fatalf("CountVisible = %d, %v", v, err)
	}
}

func TestAppendIsolatesDialogs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Append(ctx, "a", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	idx, err := db.Append(ctx, "b", Message{Role: RoleUser, Content: "y"})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("first message of dialog b got index %d", idx)
	}
}

func TestSliceIncludesAdjacentCarriers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := []Message{
		{Role: RoleUser, Content: "q1"},                                                      // visible 0
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "read_file"}}},          // carrier
		{Role: RoleTool, Content: "r1", ToolCallID: "c1"},                                    // invisible
		{Role: RoleAssistant, Content: "a1"},                                                 // visible 1
		{Role: RoleUser, Content: "q2"},                                                      // visible 2
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c2", Name: "list_files"}}},         // carrier
		{Role: RoleAssistant, Content: "a2"},                                                 // visible 3
	}
	for _, m := range seed {
		if _, err := db.Append(ctx, "d1", m); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("bounded window pulls trailing carrier", func(t *testing.T) {
		end := 1
		got, err := db.Slice(ctx, "d1", 0, &end)
		if err != nil {
			t.Fatal(err)
		}
		// q1 plus the carrier that immediately follows it.
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2: %+v", len(got), got)
		}
		if got[0].Msg.Content != "q1" || !got[1].Msg.isCarrier() {
			t.Fatalf("unexpected slice: %+v", got)
		}
	})

	t.Run("tail load", func(t *testing.T) {
		got, err := db.Slice(ctx, "d1", 2, nil)
		if err != nil {
			t.Fatal(err)
		}
		// q2, carrier for c2, a2.
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3: %+v", len(got), got)
		}
		if got[0].Msg.Content != "q2" || !got[1].Msg.isCarrier() || got[2].Msg.Content != "a2" {
			t.Fatalf("unexpected slice: %+v", got)
		}
	})

	t.Run("tool results never surface", func(t *testing.T) {
		got, err := db.Slice(ctx, "d1", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, sm := range got {
			if sm.Msg.Role == RoleTool {
				t.Fatalf("tool result leaked into slice: %+v", sm)
			}
		}
	})
}

func TestMessagesAfter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, c := range []string{"m0", "m1", "m2", "m3"} {
		if _, err := db.Append(ctx, "d1", Message{Role: RoleUser, Content: c}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.MessagesAfter(ctx, "d1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Msg.Content != "m2" {
		t.Fatalf("MessagesAfter(1) = %+v", got)
	}
}

func TestUsageTotalsAccumulate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.RecordUsage(ctx, "d1", Usage{Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 20}); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordUsage(ctx, "d1", Usage{Model: "gpt-4o", PromptTokens: 200, CompletionTokens: 30, TotalTokens: 230}); err != nil {
		t.Fatal(err)
	}

	u, err := db.UsageTotals(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if u.PromptTokens != 300 || u.CompletionTokens != 50 || u.TotalTokens != 350 {
		t.Fatalf("totals = %+v", u)
	}

	last, ok, err := db.LastUsage(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("LastUsage: ok=%v err=%v", ok, err)
	}
	if last.TotalTokens != 230 {
		t.Fatalf("last total = %d, want 230", last.TotalTokens)
	}
}

func TestUsageTotalsEmptyDialog(t *testing.T) {
	db := openTestDB(t)
	u, err := db.UsageTotals(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalTokens != 0 {
		t.Fatalf("expected zero totals, got %+v", u)
	}
	_, ok, err := db.LastUsage(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("LastUsage on empty dialog: ok=%v err=%v", ok, err)
	}
}

func TestSummariesLatestWins(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.LatestSummary(ctx, "d1"); err != nil || ok {
		t.Fatalf("expected no summary yet: ok=%v err=%v", ok, err)
	}

	if err := db.SaveSummary(ctx, "d1", Summary{CutoffMessageIndex: 4, SummaryText: "first", KeepLast: 2, SummarizedCount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSummary(ctx, "d1", Summary{CutoffMessageIndex: 9, SummaryText: "second", KeepLast: 2, SummarizedCount: 10}); err != nil {
		t.Fatal(err)
	}

	s, ok, err := db.LatestSummary(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("LatestSummary: ok=%v err=%v", ok, err)
	}
	if s.SummaryText != "second" || s.CutoffMessageIndex != 9 {
		t.Fatalf("latest = %+v", s)
	}
}

func TestReasoningRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	long := "thinking about the problem step by step"
	if err := db.AddReasoning(ctx, "d1", long, "o3", 2); err != nil {
		t.Fatal(err)
	}
	if err := db.AddReasoning(ctx, "d1", "unattached", "o3", -1); err != nil {
		t.Fatal(err)
	}

	blocks, err := db.ReasoningForIndices(ctx, "d1", []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Content != long || blocks[0].ModelName != "o3" {
		t.Fatalf("blocks = %+v", blocks)
	}

	orphans, err := db.OrphanReasoning(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 || orphans[0].Content != "unattached" {
		t.Fatalf("orphans = %+v", orphans)
	}

	n, err := db.ReasoningCount(ctx, "d1")
	if err != nil || n != 2 {
		t.Fatalf("ReasoningCount = %d, %v", n, err)
	}
}

func TestFileEditsForIndices(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.AddFileEdit(ctx, "d1", "main.go", "--- a\n+++ b\n", "abc123", 3); err != nil {
		t.Fatal(err)
	}
	if err := db.AddFileEdit(ctx, "d1", "other.go", "", "", 7); err != nil {
		t.Fatal(err)
	}

	edits, err := db.FileEditsForIndices(ctx, "d1", []int{3})
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 1 || edits[0].File != "main.go" || edits[0].Checkpoint != "abc123" {
		t.Fatalf("edits = %+v", edits)
	}

	none, err := db.FileEditsForIndices(ctx, "d1", nil)
	if err != nil || none != nil {
		t.Fatalf("empty indices should return nil, got %+v, %v", none, err)
	}
}

func TestClearWipesDialog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Append(ctx, "d1", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddReasoning(ctx, "d1", "r", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Append(ctx, "keep", Message{Role: RoleUser, Content: "y"}); err != nil {
		t.Fatal(err)
	}

	if err := db.Clear(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.MessageCount(ctx, "d1"); n != 0 {
		t.Fatalf("messages remain after clear: %d", n)
	}
	if n, _ := db.ReasoningCount(ctx, "d1"); n != 0 {
		t.Fatalf("reasoning remains after clear: %d", n)
	}
	if n, _ := db.MessageCount(ctx, "keep"); n != 1 {
		t.Fatalf("other dialog was touched: %d", n)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte("the same byte sequence repeated many times: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	out, err := Decompress(Compress(in))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}
