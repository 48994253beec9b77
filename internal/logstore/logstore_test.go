package logstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreImplementsWriterAndReader(_ *testing.T) {
	var _ Writer = (*SQLStore)(nil)
	var _ Reader = (*SQLStore)(nil)
}

func TestSQLStoreRequestLogRoundtrip(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.WriteRequestLog(ctx, RequestLogEntry{
		CLIType: "claude_code", ProviderName: "P1", Method: "POST", Path: "/v1/messages",
		StatusCode: 200, Success: true, PromptTokens: 10, Completion: 20,
	}); err != nil {
		t.Fatalf("write request log: %v", err)
	}

	entries, total, err := store.ListRequestLogs(ctx, RequestLogFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("list request logs: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected 1 request log, got total=%d len=%d", total, len(entries))
	}
	if entries[0].ProviderName != "P1" || entries[0].PromptTokens != 10 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestSQLStoreSystemLogRoundtrip(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.WriteSystemLog(ctx, SystemLogEntry{Level: "WARN", EventType: "provider_failure", ProviderName: "P1", Message: "1/3"}); err != nil {
		t.Fatalf("write system log: %v", err)
	}

	entries, total, err := store.ListSystemLogs(ctx, SystemLogFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("list system logs: %v", err)
	}
	if total != 1 || entries[0].EventType != "provider_failure" {
		t.Fatalf("unexpected system logs: total=%d entries=%+v", total, entries)
	}
}

func TestSQLStoreRequestLogFilterByProviderAndSuccess(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("write request log: %v", err)
		}
	}
	must(store.WriteRequestLog(ctx, RequestLogEntry{CLIType: "claude_code", ProviderName: "P1", Success: true, StatusCode: 200}))
	must(store.WriteRequestLog(ctx, RequestLogEntry{CLIType: "claude_code", ProviderName: "P1", Success: false, StatusCode: 500}))
	must(store.WriteRequestLog(ctx, RequestLogEntry{CLIType: "codex", ProviderName: "P2", Success: true, StatusCode: 200}))

	failed := false
	entries, total, err := store.ListRequestLogs(ctx, RequestLogFilter{ProviderName: "P1", Success: &failed}, 10, 0)
	if err != nil {
		t.Fatalf("list request logs: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].ProviderName != "P1" || entries[0].Success {
		t.Fatalf("expected exactly the one failed P1 log, got total=%d entries=%+v", total, entries)
	}
}

func TestSQLStoreUsageDailyAccumulates(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()
	key := UsageDailyKey{UsageDate: "2026-07-30", ProviderName: "P1", CLIType: "claude_code"}

	if err := store.UpsertUsageDaily(ctx, key, 17, 42, true); err != nil {
		t.Fatalf("upsert usage daily: %v", err)
	}
	if err := store.UpsertUsageDaily(ctx, key, 3, 7, false); err != nil {
		t.Fatalf("upsert usage daily again: %v", err)
	}

	rows, err := store.ListUsageDaily(ctx, "")
	if err != nil {
		t.Fatalf("list usage daily: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 usage_daily row, got %d", len(rows))
	}
	r := rows[0]
	if r.PromptTokens != 20 || r.CompletionTokens != 49 || r.SuccessCount != 1 || r.FailureCount != 1 {
		t.Fatalf("unexpected accumulated totals: %+v", r)
	}
}

func newSQLiteTestStore(t *testing.T) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "logs.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() {
		if store.db != nil {
			_ = store.db.Close()
		}
		_ = os.Remove(path)
	})
	return store
}
