package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore is the dual-dialect (SQLite/Postgres) implementation of Store.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed config store.
// dsn can be a file path or a SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ccrelay-config.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite config store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed config store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres config store: %w", err)
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
		return fmt.Errorf("ping %s config store: %w", s.dialect, err)
	}

	providerDDL := `
CREATE TABLE IF NOT EXISTS providers (
	id INTEGER PRIMARY KEY,
	cli_type TEXT NOT NULL,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	api_key TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	failure_threshold INTEGER NOT NULL DEFAULT 3,
	blacklist_minutes INTEGER NOT NULL DEFAULT 10,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	blacklisted_until INTEGER NULL,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(cli_type, name)
);
CREATE INDEX IF NOT EXISTS idx_providers_cli_type ON providers(cli_type, enabled, sort_order, id);`

	modelMapDDL := `
CREATE TABLE IF NOT EXISTS model_maps (
	id INTEGER PRIMARY KEY,
	provider_id INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	source_model TEXT NOT NULL,
	target_model TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	UNIQUE(provider_id, source_model)
);`

	timeoutDDL := `
CREATE TABLE IF NOT EXISTS timeout_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	stream_first_byte_timeout INTEGER NOT NULL,
	stream_idle_timeout INTEGER NOT NULL,
	non_stream_timeout INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);`

	gatewayDDL := `
CREATE TABLE IF NOT EXISTS gateway_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	debug_log BOOLEAN NOT NULL,
	updated_at DATETIME NOT NULL
);`

	if s.dialect == dialectPostgres {
		providerDDL = strings.NewReplacer(
			"id INTEGER PRIMARY KEY,", "id BIGSERIAL PRIMARY KEY,",
			"DATETIME", "TIMESTAMPTZ",
		).Replace(providerDDL)
		modelMapDDL = strings.ReplaceAll(modelMapDDL, "id INTEGER PRIMARY KEY,", "id BIGSERIAL PRIMARY KEY,")
		timeoutDDL = strings.ReplaceAll(timeoutDDL, "DATETIME", "TIMESTAMPTZ")
		gatewayDDL = strings.ReplaceAll(gatewayDDL, "DATETIME", "TIMESTAMPTZ")
	}

	for _, ddl := range []string{providerDDL, modelMapDDL, timeoutDDL, gatewayDDL} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("initialize %s config schema: %w", s.dialect, err)
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

// --- Provider CRUD ---

func (s *SQLStore) ListProviders(ctx context.Context, cliType CLIType) ([]Provider, error) {
	q := `
SELECT id, cli_type, name, base_url, api_key, enabled, failure_threshold, blacklist_minutes,
       consecutive_failures, blacklisted_until, sort_order, created_at, updated_at
FROM providers`
	args := []interface{}{}
	if cliType != "" {
		q += " WHERE cli_type = ?"
		args = append(args, string(cliType))
	}
	q += " ORDER BY sort_order ASC, id ASC"
	q = s.bind(q)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	providers := make([]Provider, 0)
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return providers, nil
}

func (s *SQLStore) GetProvider(ctx context.Context, id int64) (Provider, error) {
	q := s.bind(`
SELECT id, cli_type, name, base_url, api_key, enabled, failure_threshold, blacklist_minutes,
       consecutive_failures, blacklisted_until, sort_order, created_at, updated_at
FROM providers WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, q, id)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return Provider{}, ErrNotFound
	}
	if err != nil {
		return Provider{}, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

func (s *SQLStore) CreateProvider(ctx context.Context, p Provider) (Provider, error) {
	now := time.Now().UTC()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = DefaultValues.FailureThreshold
	}
	if p.BlacklistMinutes < 0 {
		p.BlacklistMinutes = DefaultValues.BlacklistMinutes
	}

	base := `
INSERT INTO providers(cli_type, name, base_url, api_key, enabled, failure_threshold, blacklist_minutes,
                       consecutive_failures, blacklisted_until, sort_order, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`
	args := []interface{}{string(p.CLIType), p.Name, p.BaseURL, p.APIKey, p.Enabled,
		p.FailureThreshold, p.BlacklistMinutes, p.SortOrder, now, now}

	id, err := s.insertReturningID(ctx, base, "providers", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Provider{}, ErrConflict
		}
		return Provider{}, fmt.Errorf("create provider: %w", err)
	}
	return s.GetProvider(ctx, id)
}

func (s *SQLStore) UpdateProvider(ctx context.Context, p Provider) (Provider, error) {
	now := time.Now().UTC()
	q := s.bind(`
UPDATE providers
SET cli_type = ?, name = ?, base_url = ?, api_key = ?, enabled = ?, failure_threshold = ?,
    blacklist_minutes = ?, sort_order = ?, updated_at = ?
WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, string(p.CLIType), p.Name, p.BaseURL, p.APIKey, p.Enabled,
		p.FailureThreshold, p.BlacklistMinutes, p.SortOrder, now, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Provider{}, ErrConflict
		}
		return Provider{}, fmt.Errorf("update provider: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Provider{}, ErrNotFound
	}
	return s.GetProvider(ctx, p.ID)
}

func (s *SQLStore) DeleteProvider(ctx context.Context, id int64) error {
	q := s.bind(`DELETE FROM providers WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	// model_maps cascades via FK in Postgres; SQLite needs foreign_keys=ON,
	// which modernc.org/sqlite does not enable by default, so clean up
	// explicitly to honor the cascade-delete invariant on every backend.
	_, _ = s.db.ExecContext(ctx, s.bind(`DELETE FROM model_maps WHERE provider_id = ?`), id)
	return nil
}

// --- ModelMap CRUD ---

func (s *SQLStore) ListModelMaps(ctx context.Context, providerID int64) ([]ModelMap, error) {
	q := s.bind(`SELECT id, provider_id, source_model, target_model, enabled FROM model_maps WHERE provider_id = ? ORDER BY id ASC`)
	rows, err := s.db.QueryContext(ctx, q, providerID)
	if err != nil {
		return nil, fmt.Errorf("list model maps: %w", err)
	}
	defer rows.Close()

	maps := make([]ModelMap, 0)
	for rows.Next() {
		var m ModelMap
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.SourceModel, &m.TargetModel, &m.Enabled); err != nil {
			return nil, fmt.Errorf("scan model map row: %w", err)
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

func (s *SQLStore) CreateModelMap(ctx context.Context, m ModelMap) (ModelMap, error) {
	base := `INSERT INTO model_maps(provider_id, source_model, target_model, enabled) VALUES(?, ?, ?, ?)`
	id, err := s.insertReturningID(ctx, base, "model_maps", m.ProviderID, m.SourceModel, m.TargetModel, m.Enabled)
	if err != nil {
		if isUniqueViolation(err) {
			return ModelMap{}, ErrConflict
		}
		return ModelMap{}, fmt.Errorf("create model map: %w", err)
	}
	m.ID = id
	return m, nil
}

func (s *SQLStore) UpdateModelMap(ctx context.Context, m ModelMap) (ModelMap, error) {
	q := s.bind(`UPDATE model_maps SET source_model = ?, target_model = ?, enabled = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, m.SourceModel, m.TargetModel, m.Enabled, m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ModelMap{}, ErrConflict
		}
		return ModelMap{}, fmt.Errorf("update model map: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ModelMap{}, ErrNotFound
	}
	return m, nil
}

func (s *SQLStore) DeleteModelMap(ctx context.Context, id int64) error {
	q := s.bind(`DELETE FROM model_maps WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete model map: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings singletons ---

func (s *SQLStore) GetTimeoutSettings(ctx context.Context) (TimeoutSettings, error) {
	q := `SELECT stream_first_byte_timeout, stream_idle_timeout, non_stream_timeout FROM timeout_settings WHERE id = 1`
	var fb, idle, nonStream int
	err := s.db.QueryRowContext(ctx, q).Scan(&fb, &idle, &nonStream)
	if err == sql.ErrNoRows {
		return TimeoutSettings{}, ErrNotFound
	}
	if err != nil {
		return TimeoutSettings{}, fmt.Errorf("get timeout settings: %w", err)
	}
	return TimeoutSettings{
		StreamFirstByteTimeout: time.Duration(fb) * time.Second,
		StreamIdleTimeout:      time.Duration(idle) * time.Second,
		NonStreamTimeout:       time.Duration(nonStream) * time.Second,
	}, nil
}

func (s *SQLStore) UpdateTimeoutSettings(ctx context.Context, set TimeoutSettings) error {
	now := time.Now().UTC()
	var q string
	if s.dialect == dialectPostgres {
		q = `
INSERT INTO timeout_settings(id, stream_first_byte_timeout, stream_idle_timeout, non_stream_timeout, updated_at)
VALUES(1, $1, $2, $3, $4)
ON CONFLICT(id) DO UPDATE SET stream_first_byte_timeout = excluded.stream_first_byte_timeout,
	stream_idle_timeout = excluded.stream_idle_timeout, non_stream_timeout = excluded.non_stream_timeout,
	updated_at = excluded.updated_at`
	} else {
		q = `
INSERT INTO timeout_settings(id, stream_first_byte_timeout, stream_idle_timeout, non_stream_timeout, updated_at)
VALUES(1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET stream_first_byte_timeout = excluded.stream_first_byte_timeout,
	stream_idle_timeout = excluded.stream_idle_timeout, non_stream_timeout = excluded.non_stream_timeout,
	updated_at = excluded.updated_at`
	}
	_, err := s.db.ExecContext(ctx, q,
		int(set.StreamFirstByteTimeout/time.Second), int(set.StreamIdleTimeout/time.Second),
		int(set.NonStreamTimeout/time.Second), now)
	if err != nil {
		return fmt.Errorf("update timeout settings: %w", err)
	}
	return nil
}

func (s *SQLStore) GetGatewaySettings(ctx context.Context) (GatewaySettings, error) {
	q := `SELECT debug_log FROM gateway_settings WHERE id = 1`
	var debugLog bool
	err := s.db.QueryRowContext(ctx, q).Scan(&debugLog)
	if err == sql.ErrNoRows {
		return GatewaySettings{}, ErrNotFound
	}
	if err != nil {
		return GatewaySettings{}, fmt.Errorf("get gateway settings: %w", err)
	}
	return GatewaySettings{DebugLog: debugLog}, nil
}

func (s *SQLStore) UpdateGatewaySettings(ctx context.Context, set GatewaySettings) error {
	now := time.Now().UTC()
	var q string
	if s.dialect == dialectPostgres {
		q = `
INSERT INTO gateway_settings(id, debug_log, updated_at) VALUES(1, $1, $2)
ON CONFLICT(id) DO UPDATE SET debug_log = excluded.debug_log, updated_at = excluded.updated_at`
	} else {
		q = `
INSERT INTO gateway_settings(id, debug_log, updated_at) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET debug_log = excluded.debug_log, updated_at = excluded.updated_at`
	}
	_, err := s.db.ExecContext(ctx, q, set.DebugLog, now)
	if err != nil {
		return fmt.Errorf("update gateway settings: %w", err)
	}
	return nil
}

// --- Health recorder support (§4.2) ---

func (s *SQLStore) GetProviderHealth(ctx context.Context, id int64) (ProviderHealth, error) {
	q := s.bind(`SELECT name, consecutive_failures, failure_threshold, blacklist_minutes, blacklisted_until FROM providers WHERE id = ?`)
	var h ProviderHealth
	var blacklistedUntil sql.NullInt64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&h.Name, &h.ConsecutiveFailures, &h.FailureThreshold, &h.BlacklistMinutes, &blacklistedUntil)
	if err == sql.ErrNoRows {
		return ProviderHealth{}, ErrNotFound
	}
	if err != nil {
		return ProviderHealth{}, fmt.Errorf("get provider health: %w", err)
	}
	if blacklistedUntil.Valid {
		v := blacklistedUntil.Int64
		h.BlacklistedUntil = &v
	}
	return h, nil
}

func (s *SQLStore) ApplyFailure(ctx context.Context, id int64, consecutiveFailures int, blacklistedUntil *int64) error {
	q := s.bind(`UPDATE providers SET consecutive_failures = ?, blacklisted_until = ?, updated_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, consecutiveFailures, blacklistedUntil, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("apply provider failure: %w", err)
	}
	return nil
}

func (s *SQLStore) ApplySuccessReset(ctx context.Context, id int64) (int, error) {
	q := s.bind(`SELECT consecutive_failures FROM providers WHERE id = ?`)
	var prev int
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&prev); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read provider for success reset: %w", err)
	}
	if prev == 0 {
		return 0, nil
	}
	upd := s.bind(`UPDATE providers SET consecutive_failures = 0, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, upd, time.Now().UTC(), id); err != nil {
		return 0, fmt.Errorf("reset provider failures: %w", err)
	}
	return prev, nil
}

func (s *SQLStore) ResetFailures(ctx context.Context, id int64) error {
	q := s.bind(`UPDATE providers SET consecutive_failures = 0, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Unblacklist(ctx context.Context, id int64) error {
	q := s.bind(`UPDATE providers SET consecutive_failures = 0, blacklisted_until = NULL, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("unblacklist: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProvider(scanner interface {
	Scan(dest ...interface{}) error
}) (Provider, error) {
	var p Provider
	var cliType string
	var blacklistedUntil sql.NullInt64
	err := scanner.Scan(&p.ID, &cliType, &p.Name, &p.BaseURL, &p.APIKey, &p.Enabled, &p.FailureThreshold,
		&p.BlacklistMinutes, &p.ConsecutiveFailures, &blacklistedUntil, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Provider{}, err
	}
	p.CLIType = CLIType(cliType)
	if blacklistedUntil.Valid {
		v := blacklistedUntil.Int64
		p.BlacklistedUntil = &v
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// insertReturningID runs an INSERT written with "?" placeholders and reports
// the new row's ID. SQLite's driver supports LastInsertId(); lib/pq does not,
// so on Postgres the same statement is run with a RETURNING id clause and
// QueryRowContext instead of ExecContext.
func (s *SQLStore) insertReturningID(ctx context.Context, insertSQL, table string, args ...interface{}) (int64, error) {
	if s.dialect == dialectPostgres {
		q := s.bind(insertSQL) + " RETURNING id"
		var id int64
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, s.bind(insertSQL), args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for %s: %w", table, err)
	}
	return id, nil
}
