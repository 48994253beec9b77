// Package ccrelay is a local reverse proxy that sits between command-line
// coding assistants (Claude-, Codex-, and Gemini-style CLIs) and a fleet of
// competing upstream providers. For each inbound request it selects one
// healthy provider by strict priority order, rewrites auth headers and
// model names, forwards the request — including SSE streaming — and
// maintains the health/usage state that drives future routing.
//
// Proxy is the composition root: New wires the config store, log store,
// router, health recorder, and forwarder together from a Config.
package ccrelay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/forwarder"
	"github.com/ccrelay/ccrelay/internal/health"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/ccrelay/ccrelay/internal/router"
)

// Proxy is the top-level request-forwarding engine.
type Proxy struct {
	configStore configstore.Store
	logStore    *logstore.SQLStore
	router      *router.Router
	health      *health.Recorder
	forwarder   *forwarder.Forwarder
}

// New opens both database handles and wires the core components. cfg must
// already have its Defaults populated (LoadConfig does this).
func New(cfg Config) (*Proxy, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configStore, err := openConfigStore(cfg.ConfigDSN)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}

	logStore, err := openLogStore(cfg.LogDSN)
	if err != nil {
		_ = configStore.Close()
		return nil, fmt.Errorf("open log store: %w", err)
	}

	if err := seedDefaults(context.Background(), configStore, cfg.Defaults); err != nil {
		_ = configStore.Close()
		_ = logStore.Close()
		return nil, fmt.Errorf("seed default settings: %w", err)
	}

	r := router.New(configStore, logStore)
	rec := health.New(configStore, logStore)
	fwd := forwarder.New(configStore, r, rec, logStore)

	return &Proxy{
		configStore: configStore,
		logStore:    logStore,
		router:      r,
		health:      rec,
		forwarder:   fwd,
	}, nil
}

// seedDefaults writes the TimeoutSettings/GatewaySettings singleton rows
// from the bootstrap config's Defaults (§10) the first time a fresh config
// database is opened. If either row already exists, it is left untouched —
// admin-set values always win over bootstrap defaults. d arrives with
// DefaultSettings.withDefaults() already applied by LoadConfig.
func seedDefaults(ctx context.Context, cs configstore.Store, d DefaultSettings) error {
	if _, err := cs.GetTimeoutSettings(ctx); err == configstore.ErrNotFound {
		err := cs.UpdateTimeoutSettings(ctx, configstore.TimeoutSettings{
			StreamFirstByteTimeout: time.Duration(d.StreamFirstByteTimeoutSeconds) * time.Second,
			StreamIdleTimeout:      time.Duration(d.StreamIdleTimeoutSeconds) * time.Second,
			NonStreamTimeout:       time.Duration(d.NonStreamTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("seed timeout settings: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("check timeout settings: %w", err)
	}

	if _, err := cs.GetGatewaySettings(ctx); err == configstore.ErrNotFound {
		if err := cs.UpdateGatewaySettings(ctx, configstore.GatewaySettings{DebugLog: d.DebugLog}); err != nil {
			return fmt.Errorf("seed gateway settings: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("check gateway settings: %w", err)
	}

	return nil
}

func openConfigStore(dsn string) (*configstore.SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return configstore.NewPostgresStore(dsn)
	}
	return configstore.NewSQLiteStore(dsn)
}

func openLogStore(dsn string) (*logstore.SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return logstore.NewPostgresStore(dsn)
	}
	return logstore.NewSQLiteStore(dsn)
}

// ServeHTTP implements the catch-all inbound surface (§6): any method, any
// path, forwarded transparently to the selected provider.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	p.forwarder.Forward(w, r, path)
}

// ConfigStore exposes the admin-facing read/write contract (§4.6) to the
// admin HTTP facade without leaking the forwarder's internals.
func (p *Proxy) ConfigStore() configstore.Store { return p.configStore }

// LogStore exposes the log/stats reader to the admin HTTP facade.
func (p *Proxy) LogStore() logstore.Reader { return p.logStore }

// AuditLogStore exposes the log writer so the admin facade can emit
// best-effort SystemLog rows for its own write endpoints (§12.2).
func (p *Proxy) AuditLogStore() logstore.Writer { return p.logStore }

// Ping verifies both database handles are reachable, backing the /healthz
// endpoint (§12.1). It counts as neither CLI traffic nor a routing decision.
func (p *Proxy) Ping(ctx context.Context) error {
	if err := p.configStore.Ping(ctx); err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	if err := p.logStore.Ping(ctx); err != nil {
		return fmt.Errorf("log store: %w", err)
	}
	return nil
}

// Close releases both database handles.
func (p *Proxy) Close() error {
	var errs []error
	if err := p.configStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.logStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing proxy stores: %v", errs)
	}
	return nil
}

// LogSystemEvent is a small helper used by cmd/ccrelayd to emit a one-off
// startup/shutdown SystemLog row best-effort.
func (p *Proxy) LogSystemEvent(ctx context.Context, level, eventType, message string) {
	if err := p.logStore.WriteSystemLog(ctx, logstore.SystemLogEntry{Level: level, EventType: eventType, Message: message}); err != nil {
		logging.FromContext(ctx).Warn("ccrelay: system log write failed", "error", err.Error())
	}
}
