package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/health"
	"github.com/go-chi/chi/v5"
)

// providerView is the wire representation of a Provider, adding the
// computed is_blacklisted field §12.2 requires on single-resource reads and
// omitting consecutive_failures/blacklisted_until from writes (those are
// request-path-only per §3's lifecycle rule).
type providerView struct {
	ID                  int64   `json:"id"`
	CLIType             string  `json:"cli_type"`
	Name                string  `json:"name"`
	BaseURL             string  `json:"base_url"`
	APIKey              string  `json:"api_key"`
	Enabled             bool    `json:"enabled"`
	FailureThreshold    int     `json:"failure_threshold"`
	BlacklistMinutes    int     `json:"blacklist_minutes"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	BlacklistedUntil    *int64  `json:"blacklisted_until,omitempty"`
	IsBlacklisted       bool    `json:"is_blacklisted"`
	SortOrder           int     `json:"sort_order"`
}

func toProviderView(p configstore.Provider) providerView {
	return providerView{
		ID: p.ID, CLIType: string(p.CLIType), Name: p.Name, BaseURL: p.BaseURL, APIKey: p.APIKey,
		Enabled: p.Enabled, FailureThreshold: p.FailureThreshold, BlacklistMinutes: p.BlacklistMinutes,
		ConsecutiveFailures: p.ConsecutiveFailures, BlacklistedUntil: p.BlacklistedUntil,
		IsBlacklisted: p.BlacklistedUntil != nil, SortOrder: p.SortOrder,
	}
}

func providerIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	cliType := configstore.CLIType(r.URL.Query().Get("cli_type"))
	providers, err := h.Config.ListProviders(r.Context(), cliType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, toProviderView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	id, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	p, err := h.Config.GetProvider(r.Context(), id)
	if err == configstore.ErrNotFound {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

type providerCreateBody struct {
	CLIType          string `json:"cli_type"`
	Name             string `json:"name"`
	BaseURL          string `json:"base_url"`
	APIKey           string `json:"api_key"`
	Enabled          *bool  `json:"enabled"`
	FailureThreshold int    `json:"failure_threshold"`
	BlacklistMinutes int    `json:"blacklist_minutes"`
	SortOrder        int    `json:"sort_order"`
}

func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(providerCreateSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body providerCreateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	failureThreshold := body.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = configstore.DefaultValues.FailureThreshold
	}
	blacklistMinutes := body.BlacklistMinutes
	if blacklistMinutes <= 0 {
		blacklistMinutes = configstore.DefaultValues.BlacklistMinutes
	}

	p, err := h.Config.CreateProvider(r.Context(), configstore.Provider{
		CLIType: configstore.CLIType(body.CLIType), Name: body.Name, BaseURL: body.BaseURL, APIKey: body.APIKey,
		Enabled: enabled, FailureThreshold: failureThreshold, BlacklistMinutes: blacklistMinutes, SortOrder: body.SortOrder,
	})
	if err == configstore.ErrConflict {
		writeError(w, http.StatusConflict, "a provider with this name already exists for this cli_type")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.auditf(r, p.Name, "provider_created", "provider created via admin API")
	writeJSON(w, http.StatusCreated, toProviderView(p))
}

type providerUpdateBody struct {
	Name             *string `json:"name"`
	BaseURL          *string `json:"base_url"`
	APIKey           *string `json:"api_key"`
	Enabled          *bool   `json:"enabled"`
	FailureThreshold *int    `json:"failure_threshold"`
	BlacklistMinutes *int    `json:"blacklist_minutes"`
	SortOrder        *int    `json:"sort_order"`
}

func (h *Handlers) updateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(providerUpdateSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body providerUpdateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	existing, err := h.Config.GetProvider(r.Context(), id)
	if err == configstore.ErrNotFound {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.BaseURL != nil {
		existing.BaseURL = *body.BaseURL
	}
	if body.APIKey != nil {
		existing.APIKey = *body.APIKey
	}
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}
	if body.FailureThreshold != nil {
		existing.FailureThreshold = *body.FailureThreshold
	}
	if body.BlacklistMinutes != nil {
		existing.BlacklistMinutes = *body.BlacklistMinutes
	}
	if body.SortOrder != nil {
		existing.SortOrder = *body.SortOrder
	}

	updated, err := h.Config.UpdateProvider(r.Context(), existing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.auditf(r, updated.Name, "provider_updated", "provider updated via admin API")
	writeJSON(w, http.StatusOK, toProviderView(updated))
}

func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	if err := h.Config.DeleteProvider(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.auditf(r, "", "provider_deleted", "provider deleted via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resetFailures(w http.ResponseWriter, r *http.Request) {
	id, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	if err := h.Config.ResetFailures(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.auditf(r, "", "provider_failures_reset", "failures reset via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) unblacklist(w http.ResponseWriter, r *http.Request) {
	id, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	name := ""
	if p, err := h.Config.GetProvider(r.Context(), id); err == nil {
		name = p.Name
	}
	if err := h.Config.Unblacklist(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if name != "" {
		health.ClearBlacklistGauge(name)
	}
	h.auditf(r, name, "provider_unblacklisted", "provider unblacklisted via admin API")
	w.WriteHeader(http.StatusNoContent)
}

type modelMapView struct {
	ID          int64  `json:"id"`
	ProviderID  int64  `json:"provider_id"`
	SourceModel string `json:"source_model"`
	TargetModel string `json:"target_model"`
	Enabled     bool   `json:"enabled"`
}

func toModelMapView(m configstore.ModelMap) modelMapView {
	return modelMapView{ID: m.ID, ProviderID: m.ProviderID, SourceModel: m.SourceModel, TargetModel: m.TargetModel, Enabled: m.Enabled}
}

func (h *Handlers) listModelMaps(w http.ResponseWriter, r *http.Request) {
	providerID, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	maps, err := h.Config.ListModelMaps(r.Context(), providerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]modelMapView, 0, len(maps))
	for _, m := range maps {
		views = append(views, toModelMapView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

type modelMapBody struct {
	SourceModel string `json:"source_model"`
	TargetModel string `json:"target_model"`
	Enabled     *bool  `json:"enabled"`
}

func (h *Handlers) createModelMap(w http.ResponseWriter, r *http.Request) {
	providerID, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(modelMapSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body modelMapBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	m, err := h.Config.CreateModelMap(r.Context(), configstore.ModelMap{
		ProviderID: providerID, SourceModel: body.SourceModel, TargetModel: body.TargetModel, Enabled: enabled,
	})
	if err == configstore.ErrConflict {
		writeError(w, http.StatusConflict, "a model map with this source_model already exists for this provider")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toModelMapView(m))
}

func (h *Handlers) updateModelMap(w http.ResponseWriter, r *http.Request) {
	providerID, err := providerIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	mapID, err := strconv.ParseInt(chi.URLParam(r, "mapID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model map id")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := validateBody(modelMapSchema, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body modelMapBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	m, err := h.Config.UpdateModelMap(r.Context(), configstore.ModelMap{
		ID: mapID, ProviderID: providerID, SourceModel: body.SourceModel, TargetModel: body.TargetModel, Enabled: enabled,
	})
	if err == configstore.ErrNotFound {
		writeError(w, http.StatusNotFound, "model map not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toModelMapView(m))
}

func (h *Handlers) deleteModelMap(w http.ResponseWriter, r *http.Request) {
	mapID, err := strconv.ParseInt(chi.URLParam(r, "mapID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model map id")
		return
	}
	if err := h.Config.DeleteModelMap(r.Context(), mapID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
