package forwarder

import (
	"bytes"
	"context"
	"fmt"
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

type streamRequest struct {
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

// forwardStreaming implements §4.5.2: it opens the upstream request
// without an overall deadline (each chunk carries its own timeout), pumps
// chunks to the client as they arrive, and finalizes health/usage/log state
// unconditionally once the pump stops for any reason.
func (f *Forwarder) forwardStreaming(w http.ResponseWriter, r *http.Request, req streamRequest) {
	traceID := logging.TraceIDFromContext(r.Context())

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, req.upstreamURL, bytes.NewReader(req.body))
	if err != nil {
		f.finishNonStreamError(r.Context(), nonStreamRequest(req), w, http.StatusBadGateway, err, false)
		return
	}
	upstreamReq.Header = req.headers

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		f.finishNonStreamError(r.Context(), nonStreamRequest(req), w, http.StatusBadGateway, ErrUpstreamTransport, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Error passthrough (§4.5.2b): not a synthesized 502, the upstream's
		// own status and body are relayed verbatim.
		errBody, _ := io.ReadAll(resp.Body)
		f.recorder.RecordFailure(r.Context(), req.provider.ID)
		f.upsertUsage(r.Context(), req.cliType, req.provider.Name, usage.Tokens{}, false)
		metrics.RequestsTotal.WithLabelValues(req.provider.Name, string(req.cliType), "upstream_error").Inc()

		filtered := rewrite.FilterResponseHeaders(resp.Header, req.provider.Name)
		for k, v := range filtered {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(errBody)

		f.logRequest(r.Context(), logstore.RequestLogEntry{
			TraceID: traceID,
			CLIType: string(req.cliType), ProviderName: req.provider.Name, Method: r.Method, Path: req.path,
			OriginalModel: req.model.OriginalModel, FinalModel: req.model.FinalModel, ResponseBody: logBody(errBody),
			StatusCode: resp.StatusCode, Success: false, LatencyMs: time.Since(req.start).Milliseconds(),
		}, req.gateway.DebugLog)
		return
	}

	filtered := rewrite.FilterResponseHeaders(resp.Header, req.provider.Name)
	for k, v := range filtered {
		w.Header()[k] = v
	}
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	pump := newChunkPump(resp.Body, req.settings.StreamFirstByteTimeout, req.settings.StreamIdleTimeout)
	var accumulator bytes.Buffer
	success := true
	var outcomeErr error

	for {
		chunk, done, err := pump.next(r.Context())
		if len(chunk) > 0 {
			accumulator.Write(chunk)
			_, _ = w.Write(chunk)
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			success = false
			outcomeErr = err
			writeSyntheticError(w, flusher, canFlush, err)
			break
		}
		if done {
			break
		}
	}

	tok := usage.Parse(accumulator.Bytes(), req.cli)

	ctx := context.Background() // finalization must run even if the request context was cancelled
	if success {
		f.recorder.RecordSuccess(ctx, req.provider.ID)
	} else {
		f.recorder.RecordFailure(ctx, req.provider.ID)
	}
	f.upsertUsage(ctx, req.cliType, req.provider.Name, tok, success)

	status := "success"
	if !success {
		status = "stream_error"
	}
	metrics.RequestsTotal.WithLabelValues(req.provider.Name, string(req.cliType), status).Inc()
	metrics.RequestDuration.WithLabelValues(req.provider.Name, string(req.cliType)).Observe(time.Since(req.start).Seconds())
	metrics.TokensInput.WithLabelValues(req.provider.Name, string(req.cliType)).Add(float64(tok.Input))
	metrics.TokensOutput.WithLabelValues(req.provider.Name, string(req.cliType)).Add(float64(tok.Output))

	errMsg := ""
	if outcomeErr != nil {
		errMsg = outcomeErr.Error()
		if isTimeoutErr(outcomeErr) {
			metrics.StreamTimeouts.WithLabelValues(req.provider.Name, timeoutKind(outcomeErr)).Inc()
		}
	}

	f.logRequest(ctx, logstore.RequestLogEntry{
		TraceID: traceID,
		CLIType: string(req.cliType), ProviderName: req.provider.Name, Method: r.Method, Path: req.path,
		OriginalModel: req.model.OriginalModel, FinalModel: req.model.FinalModel, ResponseBody: logBody(accumulator.Bytes()),
		StatusCode: http.StatusOK, Success: success, PromptTokens: tok.Input, Completion: tok.Output,
		ErrorMessage: errMsg, LatencyMs: time.Since(req.start).Milliseconds(),
	}, req.gateway.DebugLog)
}

// logBody applies the §4.5.2h truncation placeholder.
func logBody(b []byte) string {
	if len(b) < maxLoggedResponseBody {
		return string(b)
	}
	return fmt.Sprintf("[streaming] %d bytes", len(b))
}

// chunkTimeoutError distinguishes the two §4.5.2e timeout kinds from a
// generic transport error for the synthetic SSE frame and metrics label.
type chunkTimeoutError struct {
	firstByte bool
}

func (e *chunkTimeoutError) Error() string {
	if e.firstByte {
		return "First byte timeout"
	}
	return "Idle timeout"
}

func isTimeoutErr(err error) bool {
	_, ok := err.(*chunkTimeoutError)
	return ok
}

func timeoutKind(err error) string {
	if e, ok := err.(*chunkTimeoutError); ok {
		if e.firstByte {
			return "first_byte"
		}
		return "idle"
	}
	return "transport"
}

// writeSyntheticError injects the synthetic SSE error frame fixed by §6 into
// the already-committed client stream.
func writeSyntheticError(w http.ResponseWriter, flusher http.Flusher, canFlush bool, err error) {
	kind := "error"
	if isTimeoutErr(err) {
		kind = "timeout"
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: {\"type\":%q,\"message\":%q}\n\n", kind, err.Error())
	if canFlush {
		flusher.Flush()
	}
}
