// Package admin implements the HTTP/JSON facade (§12.2) around the config
// store's admin write contract (C8) and a read-only view of the log store.
// Every route is mounted under /admin and gated by AuthMiddleware; write
// routes additionally validate their decoded body against an embedded JSON
// Schema document before it reaches the store.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/go-chi/chi/v5"
)

// Handlers holds the dependencies for the admin HTTP handlers.
type Handlers struct {
	Config   configstore.Store
	Logs     logstore.Reader
	AuditLog logstore.Writer
}

// Routes returns a chi.Router with every admin endpoint mounted. The caller
// is responsible for wrapping it in AuthMiddleware.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", h.listProviders)
		r.Post("/", h.createProvider)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getProvider)
			r.Patch("/", h.updateProvider)
			r.Delete("/", h.deleteProvider)
			r.Post("/reset-failures", h.resetFailures)
			r.Post("/unblacklist", h.unblacklist)

			r.Route("/model-maps", func(r chi.Router) {
				r.Get("/", h.listModelMaps)
				r.Post("/", h.createModelMap)
				r.Patch("/{mapID}", h.updateModelMap)
				r.Delete("/{mapID}", h.deleteModelMap)
			})
		})
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/timeouts", h.getTimeoutSettings)
		r.Put("/timeouts", h.updateTimeoutSettings)
		r.Get("/gateway", h.getGatewaySettings)
		r.Put("/gateway", h.updateGatewaySettings)
	})

	r.Route("/logs", func(r chi.Router) {
		r.Get("/requests", h.listRequestLogs)
		r.Get("/system", h.listSystemLogs)
	})

	r.Get("/stats/daily", h.listUsageDaily)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// auditf emits a best-effort SystemLog row for an admin write, matching the
// health recorder's "log failures are swallowed" discipline (§4.2).
func (h *Handlers) auditf(r *http.Request, providerName, eventType, message string) {
	if h.AuditLog == nil {
		return
	}
	_ = h.AuditLog.WriteSystemLog(r.Context(), logstore.SystemLogEntry{
		Level: "INFO", EventType: eventType, ProviderName: providerName, Message: message, CreatedAt: time.Time{},
	})
}
