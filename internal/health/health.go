// Package health applies the success/failure transitions that drive
// provider blacklisting. RecordFailure is serialized per provider: a lazily
// populated map of mutexes, guarded by a single map-guard mutex, ensures
// that no two in-flight failures for the same provider can race past the
// threshold and clobber consecutive_failures.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/ccrelay/ccrelay/internal/metrics"
)

// Store is the subset of configstore.Store the recorder touches.
type Store interface {
	GetProviderHealth(ctx context.Context, id int64) (configstore.ProviderHealth, error)
	ApplyFailure(ctx context.Context, id int64, consecutiveFailures int, blacklistedUntil *int64) error
	ApplySuccessReset(ctx context.Context, id int64) (previousFailures int, err error)
}

// EventLogger is the subset of logstore.Writer the recorder uses to emit
// best-effort SystemLog rows. A nil EventLogger is valid: events are skipped.
type EventLogger interface {
	WriteSystemLog(ctx context.Context, entry logstore.SystemLogEntry) error
}

// Recorder applies the read-modify-write transitions of §4.2.
type Recorder struct {
	store Store
	logs  EventLogger

	locksGuard sync.Mutex
	locks      map[int64]*sync.Mutex
}

// New builds a Recorder. logs may be nil to disable SystemLog emission
// (tests commonly do this).
func New(store Store, logs EventLogger) *Recorder {
	return &Recorder{
		store: store,
		logs:  logs,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (r *Recorder) lockFor(id int64) *sync.Mutex {
	r.locksGuard.Lock()
	defer r.locksGuard.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// RecordFailure runs the full failure transition under the per-provider
// lock. Any store error is logged and swallowed: failure accounting must
// never surface into the request path.
func (r *Recorder) RecordFailure(ctx context.Context, providerID int64) {
	log := logging.FromContext(ctx)
	lock := r.lockFor(providerID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	h, err := r.store.GetProviderHealth(ctx, providerID)
	if err != nil {
		log.Warn("health: read provider for failure transition failed", "provider_id", providerID, "error", err.Error())
		return
	}

	if h.BlacklistedUntil != nil && *h.BlacklistedUntil > now.Unix() {
		// Already blacklisted; a late failure from a request issued before
		// the trip must not re-arm the counter.
		return
	}

	newCount := h.ConsecutiveFailures + 1
	tripped := newCount >= h.FailureThreshold

	var blacklistedUntil *int64
	consecutive := newCount
	if tripped {
		until := now.Unix() + 60*int64(h.BlacklistMinutes)
		blacklistedUntil = &until
		consecutive = 0
	}

	if err := r.store.ApplyFailure(ctx, providerID, consecutive, blacklistedUntil); err != nil {
		log.Warn("health: apply failure transition failed", "provider_id", providerID, "error", err.Error())
		return
	}

	metrics.ProviderErrors.WithLabelValues(h.Name, "forward_failure").Inc()
	r.emitSystemLog(ctx, logstore.SystemLogEntry{
		Level:        "WARN",
		EventType:    "provider_failure",
		ProviderName: h.Name,
		Message:      fmt.Sprintf("%d/%d", newCount, h.FailureThreshold),
	})
	if tripped {
		metrics.ProviderBlacklisted.WithLabelValues(h.Name).Set(1)
		r.emitSystemLog(ctx, logstore.SystemLogEntry{
			Level:        "ERROR",
			EventType:    "provider_blacklist",
			ProviderName: h.Name,
			Message:      fmt.Sprintf("blacklisted for %d minutes after %d consecutive failures", h.BlacklistMinutes, newCount),
		})
	}
}

// RecordSuccess resets consecutive_failures to zero if it was non-zero, and
// clears the ProviderBlacklisted gauge unless the provider's blacklist is
// still in force. No lock is required for a reset-to-zero write: it is
// idempotent and racing with a concurrent failure only ever produces a
// value ≥ 0.
func (r *Recorder) RecordSuccess(ctx context.Context, providerID int64) {
	log := logging.FromContext(ctx)

	name := ""
	blacklisted := false
	if h, err := r.store.GetProviderHealth(ctx, providerID); err == nil {
		name = h.Name
		blacklisted = h.BlacklistedUntil != nil && *h.BlacklistedUntil > time.Now().Unix()
	}

	prev, err := r.store.ApplySuccessReset(ctx, providerID)
	if err != nil {
		log.Warn("health: apply success reset failed", "provider_id", providerID, "error", err.Error())
		return
	}
	if name != "" && !blacklisted {
		ClearBlacklistGauge(name)
	}
	if prev == 0 {
		return
	}
	r.emitSystemLog(ctx, logstore.SystemLogEntry{
		Level:        "INFO",
		EventType:    "provider_recovered",
		ProviderName: name,
		Message:      fmt.Sprintf("reset after %d consecutive failures", prev),
	})
}

// ClearBlacklistGauge zeroes the ProviderBlacklisted gauge for name. Used by
// the admin facade's Unblacklist endpoint (§4.6/§12.2), which writes directly
// to the config store and therefore bypasses RecordSuccess.
func ClearBlacklistGauge(name string) {
	metrics.ProviderBlacklisted.WithLabelValues(name).Set(0)
}

func (r *Recorder) emitSystemLog(ctx context.Context, entry logstore.SystemLogEntry) {
	if r.logs == nil {
		return
	}
	if err := r.logs.WriteSystemLog(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("health: system log write failed", "error", err.Error())
	}
}
