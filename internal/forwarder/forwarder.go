// Package forwarder drives the per-request lifecycle named in §4.5: detect
// the calling CLI, route to a healthy provider, rewrite the request,
// dispatch it (streaming or non-streaming), parse usage out of the
// response, and update provider health plus the log/stats store — without
// ever letting a logging or stats failure turn a successful forward into a
// failed response.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/health"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/ccrelay/ccrelay/internal/metrics"
	"github.com/ccrelay/ccrelay/internal/rewrite"
	"github.com/ccrelay/ccrelay/internal/router"
	"github.com/ccrelay/ccrelay/internal/usage"
)

// Error taxonomy surfaced to the CLI (§7). These live here rather than in
// the root package's errors.go to avoid a root→forwarder→root import cycle:
// the root composition type imports forwarder, not the reverse.
var (
	ErrNoProvider         = errors.New("no eligible provider")
	ErrUpstreamTimeout    = errors.New("upstream request timed out")
	ErrUpstreamTransport  = errors.New("upstream transport error")
	noProviderPlaceholder = "[NO_PROVIDER]"
)

// maxLoggedResponseBody is the §4.5.2h threshold: streamed bodies at or
// above this size are logged as a placeholder instead of verbatim.
const maxLoggedResponseBody = 100_000

// ConfigReader is the read surface the forwarder needs from the config
// store beyond what Router already covers.
type ConfigReader interface {
	GetTimeoutSettings(ctx context.Context) (configstore.TimeoutSettings, error)
	GetGatewaySettings(ctx context.Context) (configstore.GatewaySettings, error)
	ListModelMaps(ctx context.Context, providerID int64) ([]configstore.ModelMap, error)
}

// Forwarder is the C7 request-lifecycle driver.
type Forwarder struct {
	client   *http.Client
	config   ConfigReader
	router   *router.Router
	recorder *health.Recorder
	logs     logstore.Writer
}

// New builds a Forwarder around a shared, pooled HTTP client (§5: max 100
// connections, 20 idle/keepalive, connect=10s, pool idle=10s; the read
// timeout is applied per request via context).
func New(config ConfigReader, r *router.Router, recorder *health.Recorder, logs logstore.Writer) *Forwarder {
	if logs == nil {
		logs = logstore.NoopWriter{}
	}
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				MaxConnsPerHost:       100,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       10 * time.Second,
				ResponseHeaderTimeout: 0, // governed explicitly per request below
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		config:   config,
		router:   r,
		recorder: recorder,
		logs:     logs,
	}
}

// Forward implements the full §4.5 lifecycle for one inbound request. w is
// the client-facing ResponseWriter; r is the inbound request (already
// read/buffered by the caller is not required — Forward reads the body
// itself); path is the request path without the leading slash trimmed by
// the router (the catch-all route's wildcard match).
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	start := time.Now()
	log := logging.FromContext(ctx)

	cli := rewrite.DetectCLI(r.Header.Get("User-Agent"))
	cliType := cli.CLIType()

	provider, ok := f.router.Select(ctx, cliType)
	if !ok {
		metrics.NoProviderTotal.WithLabelValues(string(cliType)).Inc()
		f.logRequest(ctx, logstore.RequestLogEntry{
			TraceID: logging.TraceIDFromContext(ctx),
			CLIType: string(cliType), ProviderName: noProviderPlaceholder, Method: r.Method, Path: path,
			StatusCode: http.StatusServiceUnavailable, Success: false, ErrorMessage: ErrNoProvider.Error(),
			LatencyMs: time.Since(start).Milliseconds(),
		}, false)
		writeJSONError(w, http.StatusServiceUnavailable, "no eligible provider is available")
		return
	}

	settings, err := f.config.GetTimeoutSettings(ctx)
	if err != nil {
		settings = configstore.TimeoutSettings{
			StreamFirstByteTimeout: configstore.DefaultValues.StreamFirstByteTimeout,
			StreamIdleTimeout:      configstore.DefaultValues.StreamIdleTimeout,
			NonStreamTimeout:       configstore.DefaultValues.NonStreamTimeout,
		}
	}
	gatewaySettings, err := f.config.GetGatewaySettings(ctx)
	if err != nil {
		gatewaySettings = configstore.GatewaySettings{DebugLog: configstore.DefaultValues.DebugLog}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.finishUnexpectedError(ctx, provider, cliType, r, path, start, gatewaySettings, err, w)
		return
	}

	modelMaps, err := f.config.ListModelMaps(ctx, provider.ID)
	if err != nil {
		log.Warn("forwarder: list model maps failed", "provider", provider.Name, "error", err.Error())
	}

	upstreamPath := path
	var modelResult rewrite.ModelResult
	switch cli {
	case rewrite.CLIGemini:
		upstreamPath, modelResult = rewrite.RewriteURLModel(path, modelMaps)
	default:
		body, modelResult = rewrite.RewriteBodyModel(body, modelMaps)
	}

	upstreamURL := buildUpstreamURL(provider.BaseURL, upstreamPath, r.URL.RawQuery)
	headers := rewrite.FilterRequestHeaders(r.Header, cli, provider.APIKey)

	streaming := classifyStream(cli, upstreamPath, body)

	if streaming {
		f.forwardStreaming(w, r, streamRequest{
			cli: cli, cliType: cliType, provider: provider, path: path, upstreamURL: upstreamURL,
			headers: headers, body: body, settings: settings, gateway: gatewaySettings, model: modelResult, start: start,
		})
		return
	}

	f.forwardNonStreaming(w, r, nonStreamRequest{
		cli: cli, cliType: cliType, provider: provider, path: path, upstreamURL: upstreamURL,
		headers: headers, body: body, settings: settings, gateway: gatewaySettings, model: modelResult, start: start,
	})
}

func classifyStream(cli rewrite.CLI, upstreamPath string, body []byte) bool {
	if cli == rewrite.CLIGemini {
		return rewrite.IsGeminiStream(upstreamPath)
	}
	return rewrite.IsJSONBodyStream(body)
}

func buildUpstreamURL(baseURL, path, rawQuery string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	path = strings.TrimPrefix(path, "/")
	u := baseURL + "/" + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (f *Forwarder) finishUnexpectedError(ctx context.Context, provider configstore.Provider, cliType configstore.CLIType, r *http.Request, path string, start time.Time, gw configstore.GatewaySettings, err error, w http.ResponseWriter) {
	f.recorder.RecordFailure(ctx, provider.ID)
	metrics.RequestsTotal.WithLabelValues(provider.Name, string(cliType), "error").Inc()
	f.logRequest(ctx, logstore.RequestLogEntry{
		TraceID: logging.TraceIDFromContext(ctx),
		CLIType: string(cliType), ProviderName: provider.Name, Method: r.Method, Path: path,
		StatusCode: http.StatusBadGateway, Success: false, ErrorMessage: err.Error(),
		LatencyMs: time.Since(start).Milliseconds(),
	}, gw.DebugLog)
	writeJSONError(w, http.StatusBadGateway, "unexpected forwarding error")
}

func (f *Forwarder) logRequest(ctx context.Context, entry logstore.RequestLogEntry, debugLog bool) {
	if !debugLog {
		// With debug_log off only successful forwards are skipped: every
		// unsuccessful request, including no-provider rejections, is logged.
		if entry.ProviderName != noProviderPlaceholder && entry.Success {
			return
		}
	}
	if err := f.logs.WriteRequestLog(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("forwarder: request log write failed", "error", err.Error())
	}
}

func (f *Forwarder) upsertUsage(ctx context.Context, cliType configstore.CLIType, providerName string, tok usage.Tokens, success bool) {
	key := logstore.UsageDailyKey{
		UsageDate:    time.Now().UTC().Format("2006-01-02"),
		ProviderName: providerName,
		CLIType:      string(cliType),
	}
	if err := f.logs.UpsertUsageDaily(ctx, key, int64(tok.Input), int64(tok.Output), success); err != nil {
		logging.FromContext(ctx).Warn("forwarder: usage upsert failed", "error", err.Error())
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"message":%q}}`, message)
}
