package gateway

import (
	"context"
	"testing"

	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/settings"
)

type profileMap map[string]settings.Profile

func (m profileMap) GetProfile(ctx context.Context, id string) (settings.Profile, error) {
	p, ok := m[id]
	if !ok {
		return settings.Profile{}, settings.ErrProfileNotFound
	}
	return p, nil
}

func TestJoinUpstreamURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://u.example/v1", "/v1/chat/completions", "https://u.example/v1/chat/completions"},
		{"https://u.example", "/v1/messages", "https://u.example/v1/messages"},
		{"https://u.example/v1/", "/v1/chat/completions", "https://u.example/v1/chat/completions"},
		{"https://u.example/", "/v1/messages", "https://u.example/v1/messages"},
		{"https://u.example/v1", "/chat/completions", "https://u.example/v1/chat/completions"},
		{"https://u.example/v1", "/v1/chat/completions?beta=true", "https://u.example/v1/chat/completions?beta=true"},
	}
	for _, tt := range tests {
		if got := JoinUpstreamURL(tt.base, tt.path); got != tt.want {
			t.Errorf("JoinUpstreamURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestResolveRoute(t *testing.T) {
	ctx := context.Background()
	globals := settings.Settings{
		APIURL:      "https://global.example/v1",
		APIKey:      "sk-global",
		ModelActual: "vendor-model-4",
	}
	profiles := profileMap{
		"active": {
			ID: "active", Active: true,
			APIURL: "https://eu.example/v1", APIKey: "sk-eu", ModelActual: "vendor-model-4-eu",
		},
		"inactive": {
			ID: "inactive", Active: false,
			APIURL: "https://off.example/v1", APIKey: "sk-off",
		},
		"partial": {
			ID: "partial", Active: true,
			APIKey: "sk-partial",
		},
	}

	tests := []struct {
		name    string
		key     keystore.Key
		want    Route
		wantErr bool
	}{
		{
			name: "defaults from globals",
			key:  keystore.Key{Key: "ck-a"},
			want: Route{BaseURL: "https://global.example/v1", APIKey: "sk-global", ModelActual: "vendor-model-4"},
		},
		{
			name: "active profile overrides",
			key:  keystore.Key{Key: "ck-b", SelectedProfileID: "active"},
			want: Route{BaseURL: "https://eu.example/v1", APIKey: "sk-eu", ModelActual: "vendor-model-4-eu"},
		},
		{
			name: "inactive profile falls back",
			key:  keystore.Key{Key: "ck-c", SelectedProfileID: "inactive"},
			want: Route{BaseURL: "https://global.example/v1", APIKey: "sk-global", ModelActual: "vendor-model-4"},
		},
		{
			name: "stale profile reference falls back",
			key:  keystore.Key{Key: "ck-d", SelectedProfileID: "gone"},
			want: Route{BaseURL: "https://global.example/v1", APIKey: "sk-global", ModelActual: "vendor-model-4"},
		},
		{
			name: "partial profile keeps unset fields from globals",
			key:  keystore.Key{Key: "ck-e", SelectedProfileID: "partial"},
			want: Route{BaseURL: "https://global.example/v1", APIKey: "sk-partial", ModelActual: "vendor-model-4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRoute(ctx, tt.key, globals, profiles)
			if err != nil {
				t.Fatalf("ResolveRoute: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveRoute = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveRouteNoCredential(t *testing.T) {
	_, err := ResolveRoute(context.Background(), keystore.Key{Key: "ck"}, settings.Settings{APIURL: "https://u.example"}, nil)
	if err == nil {
		t.Fatal("expected an error with no API key configured")
	}
	if err.Code != CodeNoUpstreamCredential || err.Status != 500 {
		t.Errorf("error = %d %s, want 500 %s", err.Status, err.Code, CodeNoUpstreamCredential)
	}
}
