package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/health"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/ccrelay/ccrelay/internal/router"
)

type fakeConfigReader struct {
	timeouts  configstore.TimeoutSettings
	gateway   configstore.GatewaySettings
	modelMaps []configstore.ModelMap
}

func (f *fakeConfigReader) GetTimeoutSettings(context.Context) (configstore.TimeoutSettings, error) {
	return f.timeouts, nil
}
func (f *fakeConfigReader) GetGatewaySettings(context.Context) (configstore.GatewaySettings, error) {
	return f.gateway, nil
}
func (f *fakeConfigReader) ListModelMaps(context.Context, int64) ([]configstore.ModelMap, error) {
	return f.modelMaps, nil
}

type fakeRouterStore struct {
	providers []configstore.Provider
}

func (f *fakeRouterStore) ListProviders(_ context.Context, cliType configstore.CLIType) ([]configstore.Provider, error) {
	out := make([]configstore.Provider, 0)
	for _, p := range f.providers {
		if p.CLIType == cliType {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeHealthStore struct {
	failures map[int64]int
}

func newFakeHealthStore() *fakeHealthStore { return &fakeHealthStore{failures: map[int64]int{}} }

func (f *fakeHealthStore) GetProviderHealth(_ context.Context, id int64) (configstore.ProviderHealth, error) {
	return configstore.ProviderHealth{Name: "P1", ConsecutiveFailures: f.failures[id], FailureThreshold: 3, BlacklistMinutes: 10}, nil
}
func (f *fakeHealthStore) ApplyFailure(_ context.Context, id int64, n int, _ *int64) error {
	f.failures[id] = n
	return nil
}
func (f *fakeHealthStore) ApplySuccessReset(_ context.Context, id int64) (int, error) {
	prev := f.failures[id]
	f.failures[id] = 0
	return prev, nil
}

func defaultTestSettings() configstore.TimeoutSettings {
	return configstore.TimeoutSettings{
		StreamFirstByteTimeout: 200 * time.Millisecond,
		StreamIdleTimeout:      150 * time.Millisecond,
		NonStreamTimeout:       2 * time.Second,
	}
}

func newTestForwarder(t *testing.T, upstream *httptest.Server, cliType configstore.CLIType, modelMaps []configstore.ModelMap) (*Forwarder, configstore.Provider) {
	t.Helper()
	provider := configstore.Provider{ID: 1, Name: "P1", CLIType: cliType, BaseURL: upstream.URL, APIKey: "K", Enabled: true}
	cfg := &fakeConfigReader{timeouts: defaultTestSettings(), modelMaps: modelMaps}
	r := router.New(&fakeRouterStore{providers: []configstore.Provider{provider}}, nil)
	rec := health.New(newFakeHealthStore(), nil)
	return New(cfg, r, rec, logstore.NoopWriter{}), provider
}

func TestForward_HappyNonStream(t *testing.T) {
	var gotAuth, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"type":"message_delta","usage":{"input_tokens":1,"output_tokens":2}}`))
	}))
	defer upstream.Close()

	f, _ := newTestForwarder(t, upstream, configstore.Claude, nil)

	body := `{"model":"claude-3","stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("User-Agent", "claude-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1/messages")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-CCG-Provider") != "P1" {
		t.Fatalf("expected X-CCG-Provider P1, got %q", w.Header().Get("X-CCG-Provider"))
	}
	if gotAuth != "Bearer K" {
		t.Fatalf("expected upstream Authorization Bearer K, got %q", gotAuth)
	}
	if gotBody != body {
		t.Fatalf("expected unchanged body, got %q", gotBody)
	}
}

func TestForward_NoProviderReturns503(t *testing.T) {
	cfg := &fakeConfigReader{timeouts: defaultTestSettings()}
	r := router.New(&fakeRouterStore{}, nil)
	rec := health.New(newFakeHealthStore(), nil)
	f := New(cfg, r, rec, logstore.NoopWriter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	req.Header.Set("User-Agent", "claude-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1/messages")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestForward_ModelRewriteGeminiURL(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	maps := []configstore.ModelMap{{SourceModel: "gemini-2.5-*", TargetModel: "gemini-2.5-pro", Enabled: true}}
	f, _ := newTestForwarder(t, upstream, configstore.Gemini, maps)

	req := httptest.NewRequest(http.MethodGet, "/v1beta/models/gemini-2.5-flash:generateContent", nil)
	req.Header.Set("User-Agent", "gemini-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1beta/models/gemini-2.5-flash:generateContent")

	if !strings.Contains(gotPath, "gemini-2.5-pro:generateContent") {
		t.Fatalf("expected rewritten path, got %q", gotPath)
	}
}

func TestForward_UpstreamErrorRecordsFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()

	healthStore := newFakeHealthStore()
	cfg := &fakeConfigReader{timeouts: defaultTestSettings()}
	provider := configstore.Provider{ID: 1, Name: "P1", CLIType: configstore.Claude, BaseURL: upstream.URL, APIKey: "K", Enabled: true}
	r := router.New(&fakeRouterStore{providers: []configstore.Provider{provider}}, nil)
	rec := health.New(healthStore, nil)
	f := New(cfg, r, rec, logstore.NoopWriter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"x"}`))
	req.Header.Set("User-Agent", "claude-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1/messages")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected upstream status passed through, got %d", w.Code)
	}
	if healthStore.failures[1] != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", healthStore.failures[1])
	}
}

func TestForward_StreamingHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":9}}}\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	f, _ := newTestForwarder(t, upstream, configstore.Codex, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4","stream":true}`))
	req.Header.Set("User-Agent", "codex-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1/responses")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "response.completed") {
		t.Fatalf("expected passthrough of SSE body, got %q", w.Body.String())
	}
}

func TestForward_StreamIdleTimeoutInjectsSyntheticError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: x\n\n"))
		flusher.Flush()
		time.Sleep(400 * time.Millisecond) // longer than the test idle timeout
	}))
	defer upstream.Close()

	f, _ := newTestForwarder(t, upstream, configstore.Claude, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"x","stream":true}`))
	req.Header.Set("User-Agent", "claude-cli/1.0")
	w := httptest.NewRecorder()

	f.Forward(w, req, "v1/messages")

	if !strings.Contains(w.Body.String(), "event: error") {
		t.Fatalf("expected synthetic error frame, got %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Idle timeout") {
		t.Fatalf("expected idle timeout message, got %q", w.Body.String())
	}
}
