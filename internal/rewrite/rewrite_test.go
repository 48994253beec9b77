package rewrite

import (
	"net/http"
	"testing"

	"github.com/ccrelay/ccrelay/internal/configstore"
)

func TestDetectCLI(t *testing.T) {
	cases := map[string]CLI{
		"claude-cli/1.0":  CLIClaude,
		"Codex-CLI/2.1":   CLICodex,
		"gemini-cli/0.9":  CLIGemini,
		"":                CLIClaude,
		"some-other-tool": CLIClaude,
	}
	for ua, want := range cases {
		if got := DetectCLI(ua); got != want {
			t.Errorf("DetectCLI(%q) = %v, want %v", ua, got, want)
		}
	}
}

func TestFilterRequestHeaders_StripsHopByHopAndSetsAuth(t *testing.T) {
	h := http.Header{}
	h.Set("Host", "example.com")
	h.Set("Connection", "keep-alive")
	h.Set("Content-Length", "10")
	h.Set("Authorization", "Bearer old-token")
	h.Set("X-Custom", "keep-me")

	out := FilterRequestHeaders(h, CLIClaude, "new-key")

	for _, hop := range hopByHopRequest {
		if out.Get(hop) != "" {
			t.Errorf("expected %s to be stripped, got %q", hop, out.Get(hop))
		}
	}
	if out.Get("Authorization") != "Bearer new-key" {
		t.Errorf("expected Authorization Bearer new-key, got %q", out.Get("Authorization"))
	}
	if out.Get("X-Custom") != "keep-me" {
		t.Errorf("expected non-hop-by-hop header preserved")
	}
}

func TestFilterRequestHeaders_GeminiUsesAPIKeyHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer whatever")

	out := FilterRequestHeaders(h, CLIGemini, "gkey")
	if out.Get("x-goog-api-key") != "gkey" {
		t.Errorf("expected x-goog-api-key gkey, got %q", out.Get("x-goog-api-key"))
	}
	if out.Get("Authorization") != "" {
		t.Errorf("expected no Authorization header for gemini, got %q", out.Get("Authorization"))
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Encoding", "gzip")
	h.Set("Content-Type", "application/json")

	out := FilterResponseHeaders(h, "My Provider")
	if out.Get("Content-Encoding") != "" {
		t.Errorf("expected content-encoding stripped")
	}
	if out.Get("X-CCG-Provider") != "My+Provider" {
		t.Errorf("expected percent-encoded provider name, got %q", out.Get("X-CCG-Provider"))
	}
}

func TestRewriteBodyModel_FirstMatchWins(t *testing.T) {
	body := []byte(`{"model":"gpt-4-turbo","stream":false}`)
	maps := []configstore.ModelMap{
		{SourceModel: "gpt-3*", TargetModel: "wrong", Enabled: true},
		{SourceModel: "GPT-4*", TargetModel: "claude-opus", Enabled: true},
		{SourceModel: "gpt-4*", TargetModel: "claude-sonnet", Enabled: true},
	}

	out, result := RewriteBodyModel(body, maps)
	if !result.Matched || result.FinalModel != "claude-opus" {
		t.Fatalf("expected first matching rule claude-opus, got %+v", result)
	}
	if got := string(out); got == string(body) {
		t.Fatalf("expected body to be rewritten")
	}
}

func TestRewriteBodyModel_NoMatchPassesThrough(t *testing.T) {
	body := []byte(`{"model":"unmapped-model"}`)
	out, result := RewriteBodyModel(body, []configstore.ModelMap{{SourceModel: "foo*", TargetModel: "bar", Enabled: true}})
	if result.Matched {
		t.Fatalf("expected no match")
	}
	if string(out) != string(body) {
		t.Fatalf("expected unchanged body")
	}
}

func TestRewriteBodyModel_NonJSONPassesThrough(t *testing.T) {
	body := []byte("not json")
	out, result := RewriteBodyModel(body, nil)
	if result.Matched || string(out) != string(body) {
		t.Fatalf("expected passthrough for non-JSON body")
	}
}

func TestRewriteURLModel(t *testing.T) {
	maps := []configstore.ModelMap{{SourceModel: "gemini-2.5-*", TargetModel: "gemini-2.5-pro", Enabled: true}}
	path, result := RewriteURLModel("v1beta/models/gemini-2.5-flash:streamGenerateContent", maps)
	if path != "v1beta/models/gemini-2.5-pro:streamGenerateContent" {
		t.Fatalf("unexpected rewritten path: %s", path)
	}
	if !result.Matched || result.FinalModel != "gemini-2.5-pro" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRewriteURLModel_NoMatchPattern(t *testing.T) {
	path, result := RewriteURLModel("v1/some/other/path", nil)
	if path != "v1/some/other/path" || result.Matched {
		t.Fatalf("expected passthrough for non-matching path")
	}
}

func TestIsGeminiStream(t *testing.T) {
	if !IsGeminiStream("v1beta/models/gemini-pro:streamGenerateContent") {
		t.Fatalf("expected streaming detection to match")
	}
	if IsGeminiStream("v1beta/models/gemini-pro:generateContent") {
		t.Fatalf("expected non-streaming path to not match")
	}
}

func TestIsJSONBodyStream(t *testing.T) {
	if !IsJSONBodyStream([]byte(`{"stream":true}`)) {
		t.Fatalf("expected stream:true to be detected")
	}
	if IsJSONBodyStream([]byte(`{"stream":false}`)) {
		t.Fatalf("expected stream:false to not be detected")
	}
	if IsJSONBodyStream([]byte(`{}`)) {
		t.Fatalf("expected missing field to default false")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"gpt-4*", "gpt-4-turbo", true},
		{"gpt-4*", "GPT-4-TURBO", true},
		{"gemini-2.5-*", "gemini-2.5-flash", true},
		{"gemini-2.5-*", "gemini-1.5-flash", false},
		{"gpt-?", "gpt-4", true},
		{"gpt-?", "gpt-44", false},
		{"exact-match", "exact-match", true},
		{"exact-match", "exact-match-plus", false},
	}
	for _, c := range cases {
		if got := GlobMatch(c.pattern, c.s); got != c.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}
