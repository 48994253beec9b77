// Package router picks the next eligible provider for a CLI variant: a
// stateless, lock-free snapshot read followed by a priority scan — no
// weighting, no stickiness, just (sort_order, id) order with blacklisted
// providers skipped.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/logstore"
)

// Store is the read surface the router needs.
type Store interface {
	ListProviders(ctx context.Context, cliType configstore.CLIType) ([]configstore.Provider, error)
}

// EventLogger lets the router emit a best-effort provider_switch SystemLog
// row when it had to skip one or more blacklisted providers.
type EventLogger interface {
	WriteSystemLog(ctx context.Context, entry logstore.SystemLogEntry) error
}

// Router selects providers for a CLI variant.
type Router struct {
	store Store
	logs  EventLogger
}

// New builds a Router. logs may be nil to disable provider_switch logging.
func New(store Store, logs EventLogger) *Router {
	return &Router{store: store, logs: logs}
}

// Select returns the highest-priority non-blacklisted, enabled provider for
// cliType, or (Provider{}, false) if none qualify.
func (r *Router) Select(ctx context.Context, cliType configstore.CLIType) (configstore.Provider, bool) {
	providers, err := r.store.ListProviders(ctx, cliType)
	if err != nil {
		logging.FromContext(ctx).Warn("router: list providers failed", "cli_type", string(cliType), "error", err.Error())
		return configstore.Provider{}, false
	}

	now := time.Now()
	var skipped []string
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		if p.IsBlacklisted(now) {
			remaining := *p.BlacklistedUntil - now.Unix()
			skipped = append(skipped, fmt.Sprintf("%s(%ds)", p.Name, remaining))
			continue
		}

		if len(skipped) > 0 {
			r.emitSwitch(ctx, skipped, p.Name)
		}
		return p, true
	}

	return configstore.Provider{}, false
}

func (r *Router) emitSwitch(ctx context.Context, skipped []string, selected string) {
	if r.logs == nil {
		return
	}
	detailsJSON, err := json.Marshal(struct {
		Skipped  []string `json:"skipped"`
		Selected string   `json:"selected"`
	}{Skipped: skipped, Selected: selected})
	if err != nil {
		logging.FromContext(ctx).Warn("router: marshal provider_switch details failed", "error", err.Error())
		return
	}
	details := string(detailsJSON)
	if err := r.logs.WriteSystemLog(ctx, logstore.SystemLogEntry{
		Level:     "INFO",
		EventType: "provider_switch",
		Message:   fmt.Sprintf("selected %s after skipping %v", selected, skipped),
		Details:   details,
	}); err != nil {
		logging.FromContext(ctx).Warn("router: provider_switch log failed", "error", err.Error())
	}
}
