package gateway

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
)

// Relay forwards the transformed request upstream and copies the response
// back, streamed or buffered, with the reverse lexical rewrite applied.
type Relay struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewRelay creates a Relay with the given hard upstream timeout.
func NewRelay(timeout time.Duration, logger *zap.Logger) *Relay {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Relay{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		logger:  logger,
	}
}

// Forward issues the upstream POST and writes the response to w. It returns
// an *Error only while the client response is still unwritten; once any bytes
// have gone out, later failures close the stream and return nil. The upstream
// call inherits cancellation from the client request, so a client disconnect
// aborts the upstream socket.
func (rl *Relay) Forward(w http.ResponseWriter, r *http.Request, target, apiKey string, body []byte, rw *Rewriter, stream bool) *Error {
	ctx, cancel := context.WithTimeout(r.Context(), rl.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return newError(http.StatusInternalServerError, CodeInternalError, "failed to build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Connection", "keep-alive")
	if stream {
		// Compressed frames cannot be rewritten chunk by chunk.
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := rl.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return newError(http.StatusGatewayTimeout, CodeUpstreamTimeout,
				fmt.Sprintf("upstream did not answer within %s", rl.timeout))
		case errors.Is(err, context.Canceled):
			rl.logger.Info("client disconnected before upstream answered", zap.String("target", target))
			return nil
		default:
			rl.logger.Error("upstream request failed", zap.String("target", target), zap.Error(err))
			return newError(http.StatusBadGateway, CodeUpstreamUnreachable, "upstream is unreachable")
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rl.upstreamError(resp, rw)
	}
	if stream || isEventStream(resp) {
		rl.streamResponse(ctx, w, resp, rw)
		return nil
	}
	return rl.bufferResponse(w, resp, rw)
}

// upstreamError surfaces a non-success upstream status with its body attached.
// The body goes through the same reverse substitution as success responses so
// that upstream error text never exposes the actual model id.
func (rl *Relay) upstreamError(resp *http.Response, rw *Rewriter) *Error {
	raw, err := decodedBody(resp)
	if err != nil {
		raw = nil
	}
	e := newError(resp.StatusCode, CodeUpstreamError, "upstream returned an error")
	if len(raw) > 0 {
		e.With("upstream", string(rw.Rewrite(raw)))
	}
	rl.logger.Warn("upstream error response", zap.Int("status", resp.StatusCode))
	return e
}

// streamResponse copies the event stream to the client, rewriting each line.
// Lines keep SSE frames intact so model identifiers are not split across
// rewrite boundaries.
func (rl *Relay) streamResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, rw *Rewriter) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(rw.Rewrite(line)); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				rl.logger.Warn("upstream stream ended abnormally", zap.Error(err))
			}
			return
		}
	}
}

// bufferResponse reads the whole upstream body, rewrites it and returns it
// as one response.
func (rl *Relay) bufferResponse(w http.ResponseWriter, resp *http.Response, rw *Rewriter) *Error {
	raw, err := decodedBody(resp)
	if err != nil {
		rl.logger.Error("failed to read upstream body", zap.Error(err))
		return newError(http.StatusBadGateway, CodeStreamIOError, "failed to read upstream response")
	}
	raw = rw.Rewrite(raw)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)
	return nil
}

// decodedBody reads the response body, undoing gzip or brotli encoding.
func decodedBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

func isEventStream(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}
