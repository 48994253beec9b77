package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ccrelay/ccrelay/internal/configstore"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/logstore"
	"github.com/ccrelay/ccrelay/internal/metrics"
	"github.com/ccrelay/ccrelay/internal/rewrite"
	"github.com/ccrelay/ccrelay/internal/usage"
)

type nonStreamRequest struct {
	cli         rewrite.CLI
	cliType     configstore.CLIType
	provider    configstore.Provider
	path        string
	upstreamURL string
	headers     http.Header
	body        []byte
	settings    configstore.TimeoutSettings
	gateway     configstore.GatewaySettings
	model       rewrite.ModelResult
	start       time.Time
}

// forwardNonStreaming implements §4.5.1: a single request bounded by
// non_stream_timeout, with usage parsed from the full response body.
func (f *Forwarder) forwardNonStreaming(w http.ResponseWriter, r *http.Request, req nonStreamRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), req.settings.NonStreamTimeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, req.upstreamURL, bytes.NewReader(req.body))
	if err != nil {
		f.finishNonStreamError(ctx, req, w, http.StatusBadGateway, err, false)
		return
	}
	upstreamReq.Header = req.headers

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.finishNonStreamError(ctx, req, w, http.StatusGatewayTimeout, ErrUpstreamTimeout, true)
			return
		}
		f.finishNonStreamError(ctx, req, w, http.StatusBadGateway, ErrUpstreamTransport, false)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.finishNonStreamError(ctx, req, w, http.StatusBadGateway, ErrUpstreamTransport, false)
		return
	}

	tok := usage.Parse(respBody, req.cli)
	success := resp.StatusCode < 400

	if success {
		f.recorder.RecordSuccess(ctx, req.provider.ID)
	} else {
		f.recorder.RecordFailure(ctx, req.provider.ID)
	}
	f.upsertUsage(ctx, req.cliType, req.provider.Name, tok, success)

	status := "success"
	if !success {
		status = "upstream_error"
	}
	metrics.RequestsTotal.WithLabelValues(req.provider.Name, string(req.cliType), status).Inc()
	metrics.RequestDuration.WithLabelValues(req.provider.Name, string(req.cliType)).Observe(time.Since(req.start).Seconds())
	metrics.TokensInput.WithLabelValues(req.provider.Name, string(req.cliType)).Add(float64(tok.Input))
	metrics.TokensOutput.WithLabelValues(req.provider.Name, string(req.cliType)).Add(float64(tok.Output))

	filtered := rewrite.FilterResponseHeaders(resp.Header, req.provider.Name)
	for k, v := range filtered {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	f.logRequest(ctx, logstore.RequestLogEntry{
		TraceID: logging.TraceIDFromContext(ctx),
		CLIType: string(req.cliType), ProviderName: req.provider.Name, Method: r.Method, Path: req.path,
		OriginalModel: req.model.OriginalModel, FinalModel: req.model.FinalModel, RequestBody: logBody(req.body),
		ResponseBody: logBody(respBody), StatusCode: resp.StatusCode, Success: success,
		PromptTokens: tok.Input, Completion: tok.Output, LatencyMs: time.Since(req.start).Milliseconds(),
	}, req.gateway.DebugLog)
}

func (f *Forwarder) finishNonStreamError(ctx context.Context, req nonStreamRequest, w http.ResponseWriter, status int, cause error, isTimeout bool) {
	f.recorder.RecordFailure(ctx, req.provider.ID)
	f.upsertUsage(ctx, req.cliType, req.provider.Name, usage.Tokens{}, false)
	metrics.RequestsTotal.WithLabelValues(req.provider.Name, string(req.cliType), "error").Inc()
	if isTimeout {
		metrics.StreamTimeouts.WithLabelValues(req.provider.Name, "non_stream").Inc()
	}

	errMsg := cause.Error()
	if isTimeout {
		errMsg = "Upstream timeout"
	}
	f.logRequest(ctx, logstore.RequestLogEntry{
		TraceID: logging.TraceIDFromContext(ctx),
		CLIType: string(req.cliType), ProviderName: req.provider.Name, Method: "", Path: req.path,
		OriginalModel: req.model.OriginalModel, FinalModel: req.model.FinalModel, StatusCode: status,
		Success: false, ErrorMessage: errMsg, LatencyMs: time.Since(req.start).Milliseconds(),
	}, req.gateway.DebugLog)

	writeJSONError(w, status, errMsg)

	log := logging.FromContext(ctx)
	log.Error("non-stream forward failed", "provider", req.provider.Name, "status", status, "error", errMsg)
}
