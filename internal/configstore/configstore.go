// Package configstore persists the admin-mutable routing state: providers,
// their model maps, and the two settings singletons. It owns exactly the
// entities named in the Data Model's "config store" ownership line — Provider
// and ModelMap — plus TimeoutSettings and GatewaySettings. It never touches
// request logs, system logs, or usage counters; those belong to
// internal/logstore, kept on an entirely independent *sql.DB handle.
package configstore

import (
	"context"
	"errors"
	"time"
)

// CLIType identifies which command-line assistant a provider serves.
type CLIType string

// Supported CLI variants. These are the concrete values carried on the wire
// and in storage; the spec refers to them abstractly as A, B, C.
const (
	Claude CLIType = "claude_code"
	Codex  CLIType = "codex"
	Gemini CLIType = "gemini"
)

// ErrNotFound is returned when a lookup by ID (or a singleton settings read)
// finds no row.
var ErrNotFound = errors.New("configstore: not found")

// ErrConflict is returned when a create/update would violate a uniqueness
// constraint ((cli_type, name) for providers, (provider_id, source_model) for
// model maps).
var ErrConflict = errors.New("configstore: conflict")

// Provider is a single upstream endpoint eligible to serve one CLI variant.
type Provider struct {
	ID                  int64
	CLIType             CLIType
	Name                string
	BaseURL             string
	APIKey              string
	Enabled             bool
	FailureThreshold    int
	BlacklistMinutes    int
	ConsecutiveFailures int
	BlacklistedUntil    *int64 // epoch seconds; nil means not blacklisted
	SortOrder           int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsBlacklisted reports whether the provider is currently suppressed from
// routing, per §3: "blacklisted_until is non-null and strictly greater than
// current epoch".
func (p Provider) IsBlacklisted(now time.Time) bool {
	return p.BlacklistedUntil != nil && *p.BlacklistedUntil > now.Unix()
}

// ModelMap is a per-provider source→target model rewrite rule.
type ModelMap struct {
	ID          int64
	ProviderID  int64
	SourceModel string
	TargetModel string
	Enabled     bool
}

// TimeoutSettings is the singleton timeout configuration row.
type TimeoutSettings struct {
	StreamFirstByteTimeout time.Duration
	StreamIdleTimeout      time.Duration
	NonStreamTimeout       time.Duration
}

// GatewaySettings is the singleton gateway flag row.
type GatewaySettings struct {
	DebugLog bool
}

// Defaults are applied by callers when GetTimeoutSettings/GetGatewaySettings
// return ErrNotFound (§6 "Defaults").
type Defaults struct {
	StreamFirstByteTimeout time.Duration
	StreamIdleTimeout      time.Duration
	NonStreamTimeout       time.Duration
	DebugLog               bool
	FailureThreshold       int
	BlacklistMinutes       int
}

// DefaultValues are the literal fallback values named in §6.
var DefaultValues = Defaults{
	StreamFirstByteTimeout: 30 * time.Second,
	StreamIdleTimeout:      60 * time.Second,
	NonStreamTimeout:       120 * time.Second,
	DebugLog:               false,
	FailureThreshold:       3,
	BlacklistMinutes:       10,
}

// ProviderHealth is the narrow projection the health recorder needs for its
// read-modify-write failure transition (§4.2 step 1).
type ProviderHealth struct {
	Name                string
	ConsecutiveFailures int
	FailureThreshold    int
	BlacklistMinutes    int
	BlacklistedUntil    *int64
}

// Store is the full config-store contract: the read-only subset the core
// engine consumes (§4.6), the two request-path writes the health recorder
// issues, and the CRUD the admin facade exposes (§12.2).
type Store interface {
	// ListProviders returns all providers for cliType, enabled or not,
	// ordered by (sort_order ASC, id ASC); callers filter on Enabled
	// themselves. Pass "" to list across all CLI variants (used by the admin
	// facade, not the router).
	ListProviders(ctx context.Context, cliType CLIType) ([]Provider, error)
	GetProvider(ctx context.Context, id int64) (Provider, error)
	CreateProvider(ctx context.Context, p Provider) (Provider, error)
	UpdateProvider(ctx context.Context, p Provider) (Provider, error)
	DeleteProvider(ctx context.Context, id int64) error

	ListModelMaps(ctx context.Context, providerID int64) ([]ModelMap, error)
	CreateModelMap(ctx context.Context, m ModelMap) (ModelMap, error)
	UpdateModelMap(ctx context.Context, m ModelMap) (ModelMap, error)
	DeleteModelMap(ctx context.Context, id int64) error

	GetTimeoutSettings(ctx context.Context) (TimeoutSettings, error)
	UpdateTimeoutSettings(ctx context.Context, s TimeoutSettings) error
	GetGatewaySettings(ctx context.Context) (GatewaySettings, error)
	UpdateGatewaySettings(ctx context.Context, s GatewaySettings) error

	// GetProviderHealth and ApplyFailure/ApplySuccessReset back the health
	// recorder's transitions (§4.2). They are not meant to be called directly
	// by the admin facade, which uses ResetFailures/Unblacklist instead.
	GetProviderHealth(ctx context.Context, id int64) (ProviderHealth, error)
	ApplyFailure(ctx context.Context, id int64, consecutiveFailures int, blacklistedUntil *int64) error
	ApplySuccessReset(ctx context.Context, id int64) (previousFailures int, err error)

	// ResetFailures and Unblacklist implement the admin write contract (§4.6).
	ResetFailures(ctx context.Context, id int64) error
	Unblacklist(ctx context.Context, id int64) error

	// Ping backs the /healthz endpoint (§12.1).
	Ping(ctx context.Context) error

	Close() error
}
