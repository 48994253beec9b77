package ccrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
)

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		ListenAddr: ":0",
		ConfigDSN:  filepath.Join(dir, "config.db"),
		LogDSN:     filepath.Join(dir, "logs.db"),
		AdminToken: "s3cret",
		Defaults:   DefaultSettings{NonStreamTimeoutSeconds: 45}.withDefaults(),
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_SeedsTimeoutSettingsFromBootstrapDefaults(t *testing.T) {
	p := newTestProxy(t)

	s, err := p.ConfigStore().GetTimeoutSettings(context.Background())
	if err != nil {
		t.Fatalf("get timeout settings: %v", err)
	}
	if s.NonStreamTimeout.Seconds() != 45 {
		t.Fatalf("expected seeded non_stream_timeout 45s, got %v", s.NonStreamTimeout)
	}
}

func TestNew_SeedDoesNotOverwriteExistingSettings(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		ListenAddr: ":0",
		ConfigDSN:  filepath.Join(dir, "config.db"),
		LogDSN:     filepath.Join(dir, "logs.db"),
		Defaults:   DefaultSettings{}.withDefaults(),
	}

	p1, err := New(cfg)
	if err != nil {
		t.Fatalf("New (first open): %v", err)
	}
	adminSet := configstore.TimeoutSettings{
		StreamFirstByteTimeout: 5 * time.Second,
		StreamIdleTimeout:      6 * time.Second,
		NonStreamTimeout:       7 * time.Second,
	}
	if err := p1.ConfigStore().UpdateTimeoutSettings(context.Background(), adminSet); err != nil {
		t.Fatalf("update timeout settings: %v", err)
	}
	if err := p1.Close(); err != nil {
		t.Fatalf("close first proxy: %v", err)
	}

	p2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer p2.Close()

	s, err := p2.ConfigStore().GetTimeoutSettings(context.Background())
	if err != nil {
		t.Fatalf("get timeout settings: %v", err)
	}
	if s.NonStreamTimeout.Seconds() != 7 {
		t.Fatalf("expected the admin-set value (7s) to survive reopen, got %v", s.NonStreamTimeout)
	}
}

func TestProxy_ServeHTTP_NoProviderReturns503(t *testing.T) {
	p := newTestProxy(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("User-Agent", "claude-cli/1.0")
	w := httptest.NewRecorder()

	p.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no providers configured, got %d", w.Code)
	}
}

func TestProxy_Ping(t *testing.T) {
	p := newTestProxy(t)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping to succeed against live stores, got %v", err)
	}
}
