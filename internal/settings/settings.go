// Package settings holds the global gateway settings, upstream API
// profiles, and model configurations, together with their store contract.
package settings

import (
	"context"
	"errors"
)

var (
	// ErrProfileNotFound is returned when a profile id has no record.
	ErrProfileNotFound = errors.New("api profile not found")
	// ErrModelConfigNotFound is returned when a model id has no record.
	ErrModelConfigNotFound = errors.New("model config not found")
)

// Speed tiers a profile can advertise.
const (
	SpeedFast     = "fast"
	SpeedStandard = "standard"
	SpeedSlow     = "slow"
)

// Settings is the global singleton: the default upstream endpoint and
// credential, the single public model name, and the default system prompt.
type Settings struct {
	APIURL       string `json:"api_url"`
	APIKey       string `json:"api_key"`
	ModelDisplay string `json:"model_display"` // name clients must request
	ModelActual  string `json:"model_actual"`  // true upstream model id
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Profile is an alternate upstream endpoint/credential a key can select,
// superseding the global settings when active.
type Profile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	APIURL       string   `json:"api_url"`
	APIKey       string   `json:"api_key"`
	Speed        string   `json:"speed"`
	Active       bool     `json:"is_active"`
	Capabilities []string `json:"capabilities,omitempty"`
	Description  string   `json:"description,omitempty"`
	ModelActual  string   `json:"model_actual,omitempty"` // optional upstream model override
}

// ModelConfig maps a selectable model id to its display name and the system
// prompt injected for keys that select it.
type ModelConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

// Store is the persistence contract for settings, profiles and model
// configs. The gateway re-fetches on every request; nothing is cached
// across invocations.
type Store interface {
	GetSettings(ctx context.Context) (Settings, error)
	SetSettings(ctx context.Context, s Settings) error

	GetProfile(ctx context.Context, id string) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
	DeleteProfile(ctx context.Context, id string) error

	GetModelConfig(ctx context.Context, id string) (ModelConfig, error)
	ListModelConfigs(ctx context.Context) ([]ModelConfig, error)
	SaveModelConfig(ctx context.Context, m ModelConfig) error
	DeleteModelConfig(ctx context.Context, id string) error
}
