// Package gateway implements the forwarding pipeline: authentication, quota,
// route resolution, model policy, prompt injection and the upstream relay.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/quota"
	"github.com/chatgate/chatgate/internal/settings"
)

// Config carries the collaborators and tunables for a Handler.
type Config struct {
	Keys           keystore.Store
	Settings       settings.Store
	Enforcer       quota.Enforcer
	Relay          *Relay
	Rules          []Rule
	Logger         *zap.Logger
	MaxRequestSize int64
}

// Handler serves the chat-completion gateway under its mount prefix. Every
// request runs the same sequential pipeline; all cross-request state lives
// in the stores.
type Handler struct {
	keys     keystore.Store
	auth     *keystore.Authenticator
	store    settings.Store
	enforcer quota.Enforcer
	relay    *Relay
	rules    []Rule
	logger   *zap.Logger
	maxBody  int64
	now      func() time.Time
}

// New creates the gateway handler.
func New(cfg Config) *Handler {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = 20 << 20
	}
	return &Handler{
		keys:     cfg.Keys,
		auth:     keystore.NewAuthenticator(cfg.Keys),
		store:    cfg.Settings,
		enforcer: cfg.Enforcer,
		relay:    cfg.Relay,
		rules:    cfg.Rules,
		logger:   cfg.Logger,
		maxBody:  cfg.MaxRequestSize,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
	h.auth = h.auth.WithClock(now)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	ctx := logging.WithRequestID(r.Context(), requestID)
	r = r.WithContext(ctx)
	logger := h.logger.With(zap.String("request_id", requestID))

	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, newError(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"only POST and OPTIONS are supported"))
		return
	}

	key, err := h.auth.Authenticate(ctx, r.Header.Get("Authorization"))
	if err != nil {
		h.writeAuthError(w, logger, err)
		return
	}
	logger = logger.With(zap.String("key", keystore.Obfuscate(key.Key)))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, newError(http.StatusBadRequest, CodeInternalError, "failed to read request body"))
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, newError(http.StatusBadRequest, CodeInternalError, "request body is not valid JSON"))
		return
	}

	if quota.Countable(payload) {
		day := keystore.Day(h.now())
		decision, err := h.enforcer.Consume(ctx, key, day)
		if err != nil {
			logger.Error("quota check failed", zap.Error(err))
			writeError(w, newError(http.StatusInternalServerError, CodeInternalError, "quota check failed"))
			return
		}
		if !decision.Allowed {
			logger.Info("daily quota exhausted",
				zap.Int("current_usage", decision.Count),
				zap.Int("daily_limit", decision.Limit))
			writeError(w, newError(http.StatusTooManyRequests, CodeQuotaExceeded, "daily quota exhausted").
				With("current_usage", decision.Count).
				With("daily_limit", decision.Limit))
			return
		}
	}

	globals, err := h.store.GetSettings(ctx)
	if err != nil {
		logger.Error("failed to load settings", zap.Error(err))
		writeError(w, newError(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}

	route, routeErr := ResolveRoute(ctx, key, globals, h.store)
	if routeErr != nil {
		logger.Error("no upstream credential configured")
		writeError(w, routeErr)
		return
	}

	requestedModel, _ := payload["model"].(string)
	if gateErr := CheckModel(requestedModel, globals.ModelDisplay); gateErr != nil {
		logger.Info("rejected model", zap.String("model", requestedModel))
		writeError(w, gateErr)
		return
	}
	if route.ModelActual != "" {
		payload["model"] = route.ModelActual
	}

	prompt := ResolvePrompt(ctx, key, globals, h.store)
	InjectPrompt(payload, r.URL.Path, prompt)

	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, newError(http.StatusInternalServerError, CodeInternalError, "failed to encode upstream request"))
		return
	}

	target := JoinUpstreamURL(route.BaseURL, requestPath(r))
	rewriter := NewRewriter(route.ModelActual, globals.ModelDisplay, h.rules)
	streaming, _ := payload["stream"].(bool)

	logger.Info("forwarding request",
		zap.String("target", target),
		zap.Bool("stream", streaming))
	if relayErr := h.relay.Forward(w, r, target, route.APIKey, body, rewriter, streaming); relayErr != nil {
		writeError(w, relayErr)
	}
}

func (h *Handler) writeAuthError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, keystore.ErrMissingAuth):
		writeError(w, newError(http.StatusUnauthorized, CodeAuthMissing, "missing bearer key"))
	case errors.Is(err, keystore.ErrKeyExpired):
		logger.Info("expired key")
		writeError(w, newError(http.StatusForbidden, CodeKeyExpired, "access key has expired"))
	case errors.Is(err, keystore.ErrKeyNotFound):
		logger.Info("unknown key")
		writeError(w, newError(http.StatusUnauthorized, CodeInvalidKey, "invalid access key"))
	default:
		logger.Error("authentication failed", zap.Error(err))
		writeError(w, newError(http.StatusInternalServerError, CodeInternalError, "authentication failed"))
	}
}

// requestPath returns the client path with its query string preserved.
func requestPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
