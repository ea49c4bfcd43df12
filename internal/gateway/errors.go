package gateway

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the JSON error envelope.
const (
	CodeAuthMissing          = "auth_missing"
	CodeInvalidKey           = "invalid_key"
	CodeKeyExpired           = "key_expired"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeInvalidModel         = "invalid_model"
	CodeNoUpstreamCredential = "no_upstream_credential"
	CodeUpstreamUnreachable  = "upstream_unreachable"
	CodeUpstreamTimeout      = "upstream_timeout"
	CodeUpstreamError        = "upstream_error"
	CodeStreamIOError        = "stream_io_error"
	CodeInternalError        = "internal_error"
	CodeMethodNotAllowed     = "method_not_allowed"
)

// Error is a terminal pipeline failure with everything needed to answer the
// client: HTTP status, stable code, human message and extra context fields
// that are flattened into the envelope.
type Error struct {
	Status  int
	Code    string
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// With attaches a context field to the envelope and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// writeError renders the envelope: {"error": code, "message": ..., <context>}.
func writeError(w http.ResponseWriter, e *Error) {
	body := map[string]any{"error": e.Code}
	if e.Message != "" {
		body["message"] = e.Message
	}
	for k, v := range e.Context {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}
