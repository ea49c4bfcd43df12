package gateway

import (
	"context"
	"strings"

	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/settings"
)

// maxPromptRunes bounds the injected system prompt length.
const maxPromptRunes = 10000

// ModelConfigGetter loads one model config by id.
type ModelConfigGetter interface {
	GetModelConfig(ctx context.Context, id string) (settings.ModelConfig, error)
}

// ResolvePrompt picks the system prompt for a request: the model config
// selected on the key wins, otherwise the global prompt. The result is
// trimmed and truncated; an empty result means no injection.
func ResolvePrompt(ctx context.Context, key keystore.Key, s settings.Settings, models ModelConfigGetter) string {
	prompt := s.SystemPrompt
	if key.SelectedModelID != "" && models != nil {
		if mc, err := models.GetModelConfig(ctx, key.SelectedModelID); err == nil {
			prompt = mc.SystemPrompt
		}
	}
	prompt = strings.TrimSpace(prompt)
	if runes := []rune(prompt); len(runes) > maxPromptRunes {
		prompt = string(runes[:maxPromptRunes])
	}
	return prompt
}

// InjectPrompt places the resolved prompt into the outbound payload. When the
// payload already has a top-level system field, or the request path targets a
// /messages endpoint, the system field is replaced wholesale. Otherwise the
// first role "system" message is replaced, or one is prepended.
func InjectPrompt(payload map[string]any, path, prompt string) {
	if prompt == "" {
		return
	}
	if _, ok := payload["system"]; ok || strings.Contains(path, "/messages") {
		payload["system"] = prompt
		return
	}
	systemMessage := map[string]any{"role": "system", "content": prompt}
	messages, ok := payload["messages"].([]any)
	if !ok {
		payload["messages"] = []any{systemMessage}
		return
	}
	for i, raw := range messages {
		if m, ok := raw.(map[string]any); ok {
			if role, _ := m["role"].(string); role == "system" {
				m["content"] = prompt
				messages[i] = m
				payload["messages"] = messages
				return
			}
		}
	}
	payload["messages"] = append([]any{systemMessage}, messages...)
}
