package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ccrelay/ccrelay/internal/logstore"
)

func parsePageParams(r *http.Request) (limit, offset int) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parseRFC3339Query(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (h *Handlers) listRequestLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePageParams(r)
	filter := logstore.RequestLogFilter{
		ProviderName: r.URL.Query().Get("provider_name"),
		CLIType:      r.URL.Query().Get("cli_type"),
		Before:       parseRFC3339Query(r, "before"),
		After:        parseRFC3339Query(r, "after"),
	}
	if raw := r.URL.Query().Get("success"); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			filter.Success = &b
		}
	}

	entries, total, err := h.Logs.ListRequestLogs(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total, "limit": limit, "offset": offset})
}

func (h *Handlers) listSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePageParams(r)
	filter := logstore.SystemLogFilter{
		ProviderName: r.URL.Query().Get("provider_name"),
		Level:        r.URL.Query().Get("level"),
		EventType:    r.URL.Query().Get("event_type"),
	}

	entries, total, err := h.Logs.ListSystemLogs(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total, "limit": limit, "offset": offset})
}

func (h *Handlers) listUsageDaily(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	rows, err := h.Logs.ListUsageDaily(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	providerFilter := r.URL.Query().Get("provider_name")
	cliFilter := r.URL.Query().Get("cli_type")
	if providerFilter == "" && cliFilter == "" {
		writeJSON(w, http.StatusOK, rows)
		return
	}

	filtered := make([]logstore.UsageDailyRow, 0, len(rows))
	for _, row := range rows {
		if providerFilter != "" && row.ProviderName != providerFilter {
			continue
		}
		if cliFilter != "" && row.CLIType != cliFilter {
			continue
		}
		filtered = append(filtered, row)
	}
	writeJSON(w, http.StatusOK, filtered)
}
