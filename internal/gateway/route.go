package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/settings"
)

// Route is the resolved upstream destination for one request.
type Route struct {
	BaseURL     string
	APIKey      string
	ModelActual string
}

// ProfileGetter loads one API profile by id.
type ProfileGetter interface {
	GetProfile(ctx context.Context, id string) (settings.Profile, error)
}

// ResolveRoute picks the upstream URL and credential for a key. Global
// settings are the default; an active profile selected on the key overrides
// them field by field. A stale or inactive profile reference falls back to
// the defaults silently, it never fails the request.
func ResolveRoute(ctx context.Context, key keystore.Key, s settings.Settings, profiles ProfileGetter) (Route, *Error) {
	route := Route{BaseURL: s.APIURL, APIKey: s.APIKey, ModelActual: s.ModelActual}
	if key.SelectedProfileID != "" && profiles != nil {
		p, err := profiles.GetProfile(ctx, key.SelectedProfileID)
		if err == nil && p.Active {
			if p.APIURL != "" {
				route.BaseURL = p.APIURL
			}
			if p.APIKey != "" {
				route.APIKey = p.APIKey
			}
			if p.ModelActual != "" {
				route.ModelActual = p.ModelActual
			}
		}
	}
	if route.APIKey == "" {
		return Route{}, newError(http.StatusInternalServerError, CodeNoUpstreamCredential,
			"no upstream API key is configured")
	}
	return route, nil
}

// JoinUpstreamURL concatenates the base URL and the client path. A trailing
// slash on the base is dropped, and when both the base and the client path
// carry the "/v1" version segment the client's copy is stripped so it does
// not double up. The client path keeps its query string untouched.
func JoinUpstreamURL(base, clientPath string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(clientPath, "/v1") {
		clientPath = strings.TrimPrefix(clientPath, "/v1")
	}
	return base + clientPath
}
