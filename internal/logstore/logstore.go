// Package logstore persists the append-only request/system logs and the
// daily usage counters. It is kept on its own *sql.DB handle, entirely
// independent of internal/configstore: per the data model, writes here must
// never block or share a transaction with the config store, and they are
// fire-and-forget from the request path's perspective.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// RequestLogEntry is an append-only row per completed (or rejected) request.
type RequestLogEntry struct {
	TraceID       string
	CLIType       string
	ProviderName  string
	Method        string
	Path          string
	OriginalModel string
	FinalModel    string
	RequestBody   string
	ResponseBody  string
	StatusCode    int
	Success       bool
	PromptTokens  int
	Completion    int
	ErrorMessage  string
	LatencyMs     int64
	CreatedAt     time.Time
}

// SystemLogEntry is a structured event row (provider_switch, provider_failure, ...).
type SystemLogEntry struct {
	Level        string // INFO | WARN | ERROR
	EventType    string
	ProviderName string
	Message      string
	Details      string // opaque JSON, empty if none
	CreatedAt    time.Time
}

// UsageDailyKey identifies one UsageDaily counter row.
type UsageDailyKey struct {
	UsageDate    string // YYYY-MM-DD
	ProviderName string
	CLIType      string
}

// UsageDailyTotals is the current state of one UsageDaily row.
type UsageDailyTotals struct {
	PromptTokens     int64
	CompletionTokens int64
	SuccessCount     int64
	FailureCount     int64
}

// Writer is what the request path needs: fire-and-forget appends.
type Writer interface {
	WriteRequestLog(ctx context.Context, entry RequestLogEntry) error
	WriteSystemLog(ctx context.Context, entry SystemLogEntry) error
	UpsertUsageDaily(ctx context.Context, key UsageDailyKey, promptTokens, completionTokens int64, success bool) error
}

// RequestLogFilter narrows a ListRequestLogs page. Zero values are "no filter".
type RequestLogFilter struct {
	ProviderName string
	CLIType      string
	Success      *bool
	Before       *time.Time
	After        *time.Time
}

// SystemLogFilter narrows a ListSystemLogs page. Zero values are "no filter".
type SystemLogFilter struct {
	ProviderName string
	Level        string
	EventType    string
}

// Reader backs the admin facade's read surface over logs/stats.
type Reader interface {
	ListRequestLogs(ctx context.Context, f RequestLogFilter, limit, offset int) ([]RequestLogEntry, int, error)
	ListSystemLogs(ctx context.Context, f SystemLogFilter, limit, offset int) ([]SystemLogEntry, int, error)
	ListUsageDaily(ctx context.Context, since string) ([]UsageDailyRow, error)
}

// UsageDailyRow is a full UsageDaily row including its key, for admin reads.
type UsageDailyRow struct {
	UsageDailyKey
	UsageDailyTotals
}

// NoopWriter discards every write. Useful for tests of the request path that
// do not care about logging side effects.
type NoopWriter struct{}

func (NoopWriter) WriteRequestLog(context.Context, RequestLogEntry) error { return nil }
func (NoopWriter) WriteSystemLog(context.Context, SystemLogEntry) error  { return nil }
func (NoopWriter) UpsertUsageDaily(context.Context, UsageDailyKey, int64, int64, bool) error {
	return nil
}

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore is the dual-dialect Writer+Reader implementation.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ccrelay-logs.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s log store: %w", s.dialect, err)
	}

	requestDDL := `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	cli_type TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	original_model TEXT,
	final_model TEXT,
	request_body TEXT,
	response_body TEXT,
	status_code INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs(created_at DESC);`

	systemDDL := `
CREATE TABLE IF NOT EXISTS system_logs (
	id INTEGER PRIMARY KEY,
	level TEXT NOT NULL,
	event_type TEXT NOT NULL,
	provider_name TEXT,
	message TEXT NOT NULL,
	details TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_logs_created_at ON system_logs(created_at DESC);`

	usageDDL := `
CREATE TABLE IF NOT EXISTS usage_daily (
	usage_date TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	cli_type TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(usage_date, provider_name, cli_type)
);`

	if s.dialect == dialectPostgres {
		requestDDL = strings.NewReplacer(
			"id INTEGER PRIMARY KEY,", "id BIGSERIAL PRIMARY KEY,",
			"DATETIME", "TIMESTAMPTZ",
		).Replace(requestDDL)
		systemDDL = strings.NewReplacer(
			"id INTEGER PRIMARY KEY,", "id BIGSERIAL PRIMARY KEY,",
			"DATETIME", "TIMESTAMPTZ",
		).Replace(systemDDL)
	}

	for _, ddl := range []string{requestDDL, systemDDL, usageDDL} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("initialize %s log schema: %w", s.dialect, err)
		}
	}
	return nil
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	argNum := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the underlying database connection is reachable, used by the
// /healthz endpoint (§12.1).
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) WriteRequestLog(ctx context.Context, e RequestLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := s.bind(`
INSERT INTO request_logs(trace_id, cli_type, provider_name, method, path, original_model, final_model,
                          request_body, response_body, status_code, success, prompt_tokens, completion_tokens,
                          error_message, latency_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, e.TraceID, e.CLIType, e.ProviderName, e.Method, e.Path, e.OriginalModel,
		e.FinalModel, e.RequestBody, e.ResponseBody, e.StatusCode, e.Success, e.PromptTokens, e.Completion,
		e.ErrorMessage, e.LatencyMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

func (s *SQLStore) WriteSystemLog(ctx context.Context, e SystemLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := s.bind(`INSERT INTO system_logs(level, event_type, provider_name, message, details, created_at) VALUES(?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, e.Level, e.EventType, e.ProviderName, e.Message, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("write system log: %w", err)
	}
	return nil
}

// UpsertUsageDaily atomically increments the counters for (usage_date,
// provider_name, cli_type). Counters are monotonically non-decreasing within
// a day, so this is always an add, never a replace.
func (s *SQLStore) UpsertUsageDaily(ctx context.Context, key UsageDailyKey, promptTokens, completionTokens int64, success bool) error {
	successInc, failureInc := int64(0), int64(0)
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}

	var q string
	if s.dialect == dialectPostgres {
		q = `
INSERT INTO usage_daily(usage_date, provider_name, cli_type, prompt_tokens, completion_tokens, success_count, failure_count)
VALUES($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT(usage_date, provider_name, cli_type) DO UPDATE SET
	prompt_tokens = usage_daily.prompt_tokens + excluded.prompt_tokens,
	completion_tokens = usage_daily.completion_tokens + excluded.completion_tokens,
	success_count = usage_daily.success_count + excluded.success_count,
	failure_count = usage_daily.failure_count + excluded.failure_count`
	} else {
		q = `
INSERT INTO usage_daily(usage_date, provider_name, cli_type, prompt_tokens, completion_tokens, success_count, failure_count)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(usage_date, provider_name, cli_type) DO UPDATE SET
	prompt_tokens = prompt_tokens + excluded.prompt_tokens,
	completion_tokens = completion_tokens + excluded.completion_tokens,
	success_count = success_count + excluded.success_count,
	failure_count = failure_count + excluded.failure_count`
	}

	_, err := s.db.ExecContext(ctx, q, key.UsageDate, key.ProviderName, key.CLIType, promptTokens, completionTokens, successInc, failureInc)
	if err != nil {
		return fmt.Errorf("upsert usage_daily: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRequestLogs(ctx context.Context, f RequestLogFilter, limit, offset int) ([]RequestLogEntry, int, error) {
	limit, offset = clampPage(limit, offset)

	where, args := requestLogWhere(f)

	var total int
	countQ := s.bind("SELECT COUNT(*) FROM request_logs" + where)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count request logs: %w", err)
	}

	q := s.bind(`
SELECT trace_id, cli_type, provider_name, method, path, original_model, final_model, response_body,
       status_code, success, prompt_tokens, completion_tokens, error_message, latency_ms, created_at
FROM request_logs` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, append(append([]interface{}{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	entries := make([]RequestLogEntry, 0)
	for rows.Next() {
		var e RequestLogEntry
		var traceID, originalModel, finalModel, responseBody, errMsg sql.NullString
		if err := rows.Scan(&traceID, &e.CLIType, &e.ProviderName, &e.Method, &e.Path, &originalModel, &finalModel,
			&responseBody, &e.StatusCode, &e.Success, &e.PromptTokens, &e.Completion, &errMsg, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan request log row: %w", err)
		}
		e.TraceID, e.OriginalModel, e.FinalModel, e.ResponseBody, e.ErrorMessage =
			traceID.String, originalModel.String, finalModel.String, responseBody.String, errMsg.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *SQLStore) ListSystemLogs(ctx context.Context, f SystemLogFilter, limit, offset int) ([]SystemLogEntry, int, error) {
	limit, offset = clampPage(limit, offset)

	where, args := systemLogWhere(f)

	var total int
	countQ := s.bind("SELECT COUNT(*) FROM system_logs" + where)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count system logs: %w", err)
	}

	q := s.bind(`SELECT level, event_type, provider_name, message, details, created_at FROM system_logs` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, append(append([]interface{}{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list system logs: %w", err)
	}
	defer rows.Close()

	entries := make([]SystemLogEntry, 0)
	for rows.Next() {
		var e SystemLogEntry
		var providerName, details sql.NullString
		if err := rows.Scan(&e.Level, &e.EventType, &providerName, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan system log row: %w", err)
		}
		e.ProviderName, e.Details = providerName.String, details.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *SQLStore) ListUsageDaily(ctx context.Context, since string) ([]UsageDailyRow, error) {
	q := `SELECT usage_date, provider_name, cli_type, prompt_tokens, completion_tokens, success_count, failure_count FROM usage_daily`
	args := []interface{}{}
	if since != "" {
		q += " WHERE usage_date >= ?"
		args = append(args, since)
	}
	q += " ORDER BY usage_date DESC, provider_name ASC"
	q = s.bind(q)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage_daily: %w", err)
	}
	defer rows.Close()

	out := make([]UsageDailyRow, 0)
	for rows.Next() {
		var r UsageDailyRow
		if err := rows.Scan(&r.UsageDate, &r.ProviderName, &r.CLIType, &r.PromptTokens, &r.CompletionTokens, &r.SuccessCount, &r.FailureCount); err != nil {
			return nil, fmt.Errorf("scan usage_daily row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func requestLogWhere(f RequestLogFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.ProviderName != "" {
		clauses = append(clauses, "provider_name = ?")
		args = append(args, f.ProviderName)
	}
	if f.CLIType != "" {
		clauses = append(clauses, "cli_type = ?")
		args = append(args, f.CLIType)
	}
	if f.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *f.Success)
	}
	if f.After != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *f.After)
	}
	if f.Before != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *f.Before)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func systemLogWhere(f SystemLogFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.ProviderName != "" {
		clauses = append(clauses, "provider_name = ?")
		args = append(args, f.ProviderName)
	}
	if f.Level != "" {
		clauses = append(clauses, "level = ?")
		args = append(args, f.Level)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
