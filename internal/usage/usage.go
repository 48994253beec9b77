// Package usage extracts token counts from the three CLI-specific response
// schemas, whether the source is a full non-streaming body or an
// accumulated SSE stream. Parsing is advisory: any malformed input yields
// zero counts and never returns an error to the caller.
package usage

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/ccrelay/ccrelay/internal/rewrite"
)

// Tokens is the extracted usage for one response.
type Tokens struct {
	Input  int
	Output int
}

// IsZero reports whether neither count was observed.
func (t Tokens) IsZero() bool { return t.Input == 0 && t.Output == 0 }

// Parse extracts token counts from buf per the schema for cli. It first
// tries to split buf as SSE ("data: <payload>" lines); if no payloads are
// found there, it falls back to treating the whole buffer as one JSON
// object.
func Parse(buf []byte, cli rewrite.CLI) Tokens {
	text := toUTF8(buf)

	payloads := extractSSEPayloads(text)
	if len(payloads) == 0 {
		payloads = [][]byte{[]byte(text)}
	}

	var t Tokens
	for _, p := range payloads {
		if !gjson.ValidBytes(p) {
			continue
		}
		applySchema(gjson.ParseBytes(p), cli, &t)
	}
	return t
}

// toUTF8 decodes buf as UTF-8, substituting the replacement character for
// any invalid byte sequence rather than failing.
func toUTF8(buf []byte) string {
	if utf8.Valid(buf) {
		return string(buf)
	}
	return strings.ToValidUTF8(string(buf), "�")
}

func extractSSEPayloads(text string) [][]byte {
	var out [][]byte
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		out = append(out, []byte(payload))
	}
	return out
}

func applySchema(v gjson.Result, cli rewrite.CLI, t *Tokens) {
	switch cli {
	case rewrite.CLICodex:
		applyCodexSchema(v, t)
	case rewrite.CLIGemini:
		applyGeminiSchema(v, t)
	default:
		applyClaudeSchema(v, t)
	}
}

// applyClaudeSchema merges message.usage (message_start) and top-level
// usage (message_delta); later events win for each field that is present,
// matching the spec's "last-write-wins" resolution of the _parse_sse_usage
// double-count bug named in §9.
func applyClaudeSchema(v gjson.Result, t *Tokens) {
	if msgUsage := v.Get("message.usage"); msgUsage.Exists() {
		if in := msgUsage.Get("input_tokens"); in.Exists() {
			t.Input = int(in.Int())
		}
		if out := msgUsage.Get("output_tokens"); out.Exists() {
			t.Output = int(out.Int())
		}
	}
	if topUsage := v.Get("usage"); topUsage.Exists() {
		if in := topUsage.Get("input_tokens"); in.Exists() {
			t.Input = int(in.Int())
		}
		if out := topUsage.Get("output_tokens"); out.Exists() {
			t.Output = int(out.Int())
		}
	}
}

func applyCodexSchema(v gjson.Result, t *Tokens) {
	if v.Get("type").String() != "response.completed" {
		return
	}
	usage := v.Get("response.usage")
	t.Input = int(usage.Get("input_tokens").Int())
	t.Output = int(usage.Get("output_tokens").Int())
}

func applyGeminiSchema(v gjson.Result, t *Tokens) {
	meta := v.Get("usageMetadata")
	if !meta.Exists() {
		return
	}
	t.Input = int(meta.Get("promptTokenCount").Int())
	output := meta.Get("candidatesTokenCount").Int()
	if thoughts := meta.Get("thoughtsTokenCount").Int(); thoughts != 0 {
		output += thoughts
	}
	t.Output = int(output)
}
