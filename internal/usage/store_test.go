package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:      now,
			RequestID:      "r_001",
			ConversationID: "living-room",
			Model:          "gpt-4o-mini",
			Provider:       "openai",
			InputTokens:    1000,
			OutputTokens:   500,
		},
		{
			Timestamp:      now,
			RequestID:      "r_001",
			ConversationID: "living-room",
			Model:          "gpt-4o-mini",
			Provider:       "openai",
			InputTokens:    2000,
			OutputTokens:   1000,
			Iteration:      1,
			Final:          true,
		},
	}

	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3000 {
		t.Errorf("TotalInputTokens = %d, want 3000", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 1500 {
		t.Errorf("TotalOutputTokens = %d, want 1500", sum.TotalOutputTokens)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", Model: "gpt-4o", Provider: "openai", InputTokens: 100, OutputTokens: 50},
		{Timestamp: now, RequestID: "r2", Model: "gpt-4o", Provider: "openai", InputTokens: 200, OutputTokens: 100},
		{Timestamp: now, RequestID: "r3", Model: "llama3.1:8b", Provider: "ollama", InputTokens: 50, OutputTokens: 25},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	result, err := s.SummaryByModel(start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d groups, want 2", len(result))
	}

	gpt := result["gpt-4o"]
	if gpt == nil {
		t.Fatal("missing 'gpt-4o' group")
	}
	if gpt.TotalRecords != 2 {
		t.Errorf("gpt-4o.TotalRecords = %d, want 2", gpt.TotalRecords)
	}
	if gpt.TotalInputTokens != 300 {
		t.Errorf("gpt-4o.TotalInputTokens = %d, want 300", gpt.TotalInputTokens)
	}

	llama := result["llama3.1:8b"]
	if llama == nil {
		t.Fatal("missing 'llama3.1:8b' group")
	}
	if llama.TotalRecords != 1 {
		t.Errorf("llama.TotalRecords = %d, want 1", llama.TotalRecords)
	}
}

func TestSummaryByConversation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", ConversationID: "den", Model: "m", Provider: "p", InputTokens: 10},
		{Timestamp: now, RequestID: "r2", ConversationID: "den", Model: "m", Provider: "p", InputTokens: 20},
		{Timestamp: now, RequestID: "r3", Model: "m", Provider: "p", InputTokens: 5},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := s.SummaryByConversation(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByConversation: %v", err)
	}
	if den := result["den"]; den == nil || den.TotalInputTokens != 30 {
		t.Errorf("den = %+v, want 30 input tokens", den)
	}
	if none := result[""]; none == nil || none.TotalRecords != 1 {
		t.Errorf("empty conversation group = %+v, want 1 record", none)
	}
}

func TestQueryByPeriod_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), RequestID: "old", Model: "m", Provider: "p", InputTokens: 1},
		{Timestamp: base, RequestID: "in-range", Model: "m", Provider: "p", InputTokens: 2},
		{Timestamp: base.Add(2 * time.Hour), RequestID: "future", Model: "m", Provider: "p", InputTokens: 3},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Only "in-range" should match.
	start := base.Add(-1 * time.Minute)
	end := base.Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (only in-range)", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 2 {
		t.Errorf("TotalInputTokens = %d, want 2", sum.TotalInputTokens)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)

	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(24 * time.Hour)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil {
		t.Fatal("Summary returned nil, want non-nil zero-value Summary")
	}
	if sum.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0", sum.TotalRecords)
	}
}

func TestSummaryByModel_EmptyDB(t *testing.T) {
	s := testStore(t)

	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(24 * time.Hour)
	result, err := s.SummaryByModel(start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if result == nil {
		t.Fatal("SummaryByModel returned nil, want empty map")
	}
	if len(result) != 0 {
		t.Errorf("got %d groups, want 0", len(result))
	}
}

func TestRecord_AutoID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := Record{
		Timestamp: time.Now(),
		RequestID: "r_test",
		Model:     "m",
		Provider:  "p",
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// A second record with the same fields gets its own id.
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	start := time.Now().Add(-1 * time.Minute)
	end := time.Now().Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
}

func TestToolStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	calls := []ToolCall{
		{Timestamp: now, Tool: "tmdb_search", OK: true, ElapsedMS: 100, ResultBytes: 2000},
		{Timestamp: now, Tool: "tmdb_search", OK: true, ElapsedMS: 300, ResultBytes: 20000, Cached: true},
		{Timestamp: now, Tool: "tmdb_search", OK: false, ElapsedMS: 200, ResultBytes: 60},
		{Timestamp: now, Tool: "radarr_add_movie", OK: true, ElapsedMS: 50, ResultBytes: 400},
		{Timestamp: now.Add(-time.Hour), Tool: "search_plex", OK: true},
	}
	for _, c := range calls {
		if err := s.RecordToolCall(ctx, c); err != nil {
			t.Fatalf("RecordToolCall: %v", err)
		}
	}

	stats, err := s.ToolStats(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d tools, want 2: %+v", len(stats), stats)
	}

	search := stats[0]
	if search.Tool != "tmdb_search" {
		t.Fatalf("busiest tool = %q, want tmdb_search", search.Tool)
	}
	if search.Calls != 3 || search.Failures != 1 || search.Cached != 1 {
		t.Errorf("tmdb_search = %+v", search)
	}
	if search.AvgElapsedMS != 200 {
		t.Errorf("AvgElapsedMS = %f, want 200", search.AvgElapsedMS)
	}
	if search.TotalBytes != 22060 {
		t.Errorf("TotalBytes = %d, want 22060", search.TotalBytes)
	}
	if stats[1].Tool != "radarr_add_movie" || stats[1].Calls != 1 {
		t.Errorf("second = %+v", stats[1])
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := NewStore("/nonexistent/path/usage.db")
	if err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}
