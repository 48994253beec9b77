// Package rewrite implements the per-CLI request transforms: auth header
// injection, hop-by-hop header stripping, and model-name substitution
// (JSON body field for CLI A/B, URL path segment for CLI C).
package rewrite

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ccrelay/ccrelay/internal/configstore"
)

// CLI identifies which wire convention a request follows.
type CLI int

const (
	CLIClaude CLI = iota
	CLICodex
	CLIGemini
)

// DetectCLI performs the case-insensitive User-Agent substring match fixed
// by §4.5 step 2 and §9: unknown/empty User-Agent defaults to CLIClaude so
// existing unauthenticated clients keep working.
func DetectCLI(userAgent string) CLI {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "codex"):
		return CLICodex
	case strings.Contains(ua, "claude"):
		return CLIClaude
	case strings.Contains(ua, "gemini"):
		return CLIGemini
	default:
		return CLIClaude
	}
}

// CLIType maps a detected CLI to its configstore.CLIType wire value.
func (c CLI) CLIType() configstore.CLIType {
	switch c {
	case CLICodex:
		return configstore.Codex
	case CLIGemini:
		return configstore.Gemini
	default:
		return configstore.Claude
	}
}

// hopByHopRequest are stripped from every outbound request, case-insensitive.
var hopByHopRequest = []string{
	"host", "connection", "keep-alive", "transfer-encoding", "te", "trailer", "upgrade", "content-length",
}

// hopByHopResponse additionally strips content-encoding: the HTTP client
// transparently decompresses the upstream body, so re-advertising the
// original encoding would corrupt the stream relayed to the CLI.
var hopByHopResponse = append(append([]string{}, hopByHopRequest...), "content-encoding")

// FilterRequestHeaders returns a copy of h with hop-by-hop headers removed
// and the auth header for cli set from apiKey.
func FilterRequestHeaders(h http.Header, cli CLI, apiKey string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if isHopByHop(k, hopByHopRequest) {
			continue
		}
		if strings.EqualFold(k, "authorization") || strings.EqualFold(k, "x-goog-api-key") {
			continue
		}
		out[k] = append([]string(nil), v...)
	}

	switch cli {
	case CLIGemini:
		out.Set("x-goog-api-key", apiKey)
	default:
		out.Set("Authorization", "Bearer "+apiKey)
	}
	return out
}

// FilterResponseHeaders returns a copy of h with hop-by-hop (+ content-encoding)
// headers removed, plus X-CCG-Provider set to providerName escaped with
// url.QueryEscape.
func FilterResponseHeaders(h http.Header, providerName string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if isHopByHop(k, hopByHopResponse) {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	out.Set("X-CCG-Provider", url.QueryEscape(providerName))
	return out
}

func isHopByHop(name string, set []string) bool {
	for _, n := range set {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}

// ModelResult reports what RewriteModel* did, for log-row population.
type ModelResult struct {
	OriginalModel string
	FinalModel    string
	Matched       bool
}

// RewriteBodyModel rewrites the JSON body's top-level "model" field for CLI
// A/B requests, per the first enabled ModelMap (in declaration order) whose
// source_model glob matches case-insensitively. If the body is not JSON or
// has no "model" field, it is returned unchanged.
func RewriteBodyModel(body []byte, maps []configstore.ModelMap) ([]byte, ModelResult) {
	value := gjson.GetBytes(body, "model")
	if !value.Exists() || value.Type != gjson.String {
		return body, ModelResult{}
	}
	model := value.String()

	for _, m := range maps {
		if !m.Enabled {
			continue
		}
		if !GlobMatch(m.SourceModel, model) {
			continue
		}
		rewritten, err := sjson.SetBytes(body, "model", m.TargetModel)
		if err != nil {
			return body, ModelResult{FinalModel: model}
		}
		return rewritten, ModelResult{OriginalModel: model, FinalModel: m.TargetModel, Matched: true}
	}

	return body, ModelResult{FinalModel: model}
}

// geminiPathPattern matches "v1beta/models/<model>:<action>", capturing the
// model segment for rewrite and leaving everything else untouched.
var geminiPathPattern = regexp.MustCompile(`^(.*v1beta/models/)([^/:]+)(:.+)$`)

// RewriteURLModel rewrites the Gemini URL path's <model> segment of
// "v1beta/models/<model>:<action>" using the same glob-match rule as
// RewriteBodyModel. Paths that don't match the pattern pass through unchanged.
func RewriteURLModel(path string, maps []configstore.ModelMap) (string, ModelResult) {
	parts := geminiPathPattern.FindStringSubmatch(path)
	if parts == nil {
		return path, ModelResult{}
	}
	prefix, model, suffix := parts[1], parts[2], parts[3]

	for _, m := range maps {
		if !m.Enabled {
			continue
		}
		if !GlobMatch(m.SourceModel, model) {
			continue
		}
		return prefix + m.TargetModel + suffix, ModelResult{OriginalModel: model, FinalModel: m.TargetModel, Matched: true}
	}

	return path, ModelResult{FinalModel: model}
}

// IsGeminiStream reports whether a Gemini path requests the streaming action.
func IsGeminiStream(path string) bool {
	return strings.Contains(path, ":streamGenerateContent")
}

// IsJSONBodyStream reports whether a CLI A/B JSON body requests streaming
// via a top-level boolean "stream": true field.
func IsJSONBodyStream(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// GlobMatch implements fnmatch-style matching anchored to the whole string:
// '*' matches any run of characters (including none), '?' matches exactly
// one character, comparison is case-insensitive. No library in the pack
// exposes this particular anchored two-wildcard grammar, and the stdlib's
// path.Match rejects patterns containing '/' and treats unescaped brackets
// specially in ways fnmatch does not — a hand-rolled matcher is the
// faithful and simpler choice here.
func GlobMatch(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)
	return globMatch([]rune(pattern), []rune(s))
}

func globMatch(pattern, s []rune) bool {
	// Standard greedy backtracking matcher for '*'/'?' globs.
	var pi, si, star, match int
	star = -1
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			match = si
			pi++
		case star != -1:
			pi = star + 1
			match++
			si = match
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
