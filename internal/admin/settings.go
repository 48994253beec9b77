package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
)

type timeoutSettingsView struct {
	StreamFirstByteTimeoutSeconds int `json:"stream_first_byte_timeout_seconds"`
	StreamIdleTimeoutSeconds      int `json:"stream_idle_timeout_seconds"`
	NonStreamTimeoutSeconds       int `json:"non_stream_timeout_seconds"`
}

func toTimeoutSettingsView(s configstore.TimeoutSettings) timeoutSettingsView {
	return timeoutSettingsView{
		StreamFirstByteTimeoutSeconds: int(s.StreamFirstByteTimeout / time.Second),
		StreamIdleTimeoutSeconds:      int(s.StreamIdleTimeout / time.Second),
		NonStreamTimeoutSeconds:       int(s.NonStreamTimeout / time.Second),
	}
}

func (v timeoutSettingsView) toDomain() configstore.TimeoutSettings {
	return configstore.TimeoutSettings{
		StreamFirstByteTimeout: time.Duration(v.StreamFirstByteTimeoutSeconds) * time.Second,
		StreamIdleTimeout:      time.Duration(v.StreamIdleTimeoutSeconds) * time.Second,
		NonStreamTimeout:       time.Duration(v.NonStreamTimeoutSeconds) * time.Second,
	}
}

func (h *Handlers) getTimeoutSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Config.GetTimeoutSettings(r.Context())
	if err == configstore.ErrNotFound {
		writeJSON(w, http.StatusOK, toTimeoutSettingsView(configstore.TimeoutSettings{
			StreamFirstByteTimeout: configstore.DefaultValues.StreamFirstByteTimeout,
			StreamIdleTimeout:      configstore.DefaultValues.StreamIdleTimeout,
			NonStreamTimeout:       configstore.DefaultValues.NonStreamTimeout,
		}))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toTimeoutSettingsView(s))
}

func (h *Handlers) updateTimeoutSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(timeoutSettingsSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var view timeoutSettingsView
	if err := json.Unmarshal(raw, &view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.Config.UpdateTimeoutSettings(r.Context(), view.toDomain()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.auditf(r, "", "timeout_settings_updated", "timeout settings updated via admin API")
	writeJSON(w, http.StatusOK, view)
}

type gatewaySettingsView struct {
	DebugLog bool `json:"debug_log"`
}

func (h *Handlers) getGatewaySettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Config.GetGatewaySettings(r.Context())
	if err == configstore.ErrNotFound {
		writeJSON(w, http.StatusOK, gatewaySettingsView{DebugLog: configstore.DefaultValues.DebugLog})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gatewaySettingsView{DebugLog: s.DebugLog})
}

func (h *Handlers) updateGatewaySettings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(gatewaySettingsSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var view gatewaySettingsView
	if err := json.Unmarshal(raw, &view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.Config.UpdateGatewaySettings(r.Context(), configstore.GatewaySettings{DebugLog: view.DebugLog}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.auditf(r, "", "gateway_settings_updated", "gateway settings updated via admin API")
	writeJSON(w, http.StatusOK, view)
}
