package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatgate/chatgate/internal/settings"
)

// GetSettings returns the global settings singleton.
func (d *DB) GetSettings(ctx context.Context) (settings.Settings, error) {
	var s settings.Settings
	err := d.db.QueryRowContext(ctx, `
	SELECT api_url, api_key, model_display, model_actual, system_prompt
	FROM gateway_settings WHERE id = 1
	`).Scan(&s.APIURL, &s.APIKey, &s.ModelDisplay, &s.ModelActual, &s.SystemPrompt)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, nil
}

// SetSettings replaces the global settings singleton.
func (d *DB) SetSettings(ctx context.Context, s settings.Settings) error {
	_, err := d.db.ExecContext(ctx, `
	UPDATE gateway_settings
	SET api_url = ?, api_key = ?, model_display = ?, model_actual = ?, system_prompt = ?
	WHERE id = 1
	`, s.APIURL, s.APIKey, s.ModelDisplay, s.ModelActual, s.SystemPrompt)
	if err != nil {
		return fmt.Errorf("failed to set settings: %w", err)
	}
	return nil
}

// GetProfile retrieves an API profile by id.
func (d *DB) GetProfile(ctx context.Context, id string) (settings.Profile, error) {
	var (
		p            settings.Profile
		capabilities string
	)
	err := d.db.QueryRowContext(ctx, `
	SELECT id, name, api_url, api_key, speed, is_active, capabilities, description, model_actual
	FROM api_profiles WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.Speed, &p.Active,
		&capabilities, &p.Description, &p.ModelActual)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings.Profile{}, settings.ErrProfileNotFound
		}
		return settings.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(capabilities), &p.Capabilities); err != nil {
		p.Capabilities = nil
	}
	return p, nil
}

// ListProfiles retrieves all API profiles.
func (d *DB) ListProfiles(ctx context.Context) ([]settings.Profile, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, name, api_url, api_key, speed, is_active, capabilities, description, model_actual
	FROM api_profiles ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []settings.Profile
	for rows.Next() {
		var (
			p            settings.Profile
			capabilities string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.Speed, &p.Active,
			&capabilities, &p.Description, &p.ModelActual); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(capabilities), &p.Capabilities); err != nil {
			p.Capabilities = nil
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SaveProfile inserts or replaces an API profile.
func (d *DB) SaveProfile(ctx context.Context, p settings.Profile) error {
	capabilities, err := json.Marshal(p.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	if p.Speed == "" {
		p.Speed = settings.SpeedStandard
	}
	_, err = d.db.ExecContext(ctx, `
	INSERT INTO api_profiles (id, name, api_url, api_key, speed, is_active, capabilities, description, model_actual)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name, api_url = excluded.api_url, api_key = excluded.api_key,
		speed = excluded.speed, is_active = excluded.is_active,
		capabilities = excluded.capabilities, description = excluded.description,
		model_actual = excluded.model_actual
	`, p.ID, p.Name, p.APIURL, p.APIKey, p.Speed, p.Active, string(capabilities), p.Description, p.ModelActual)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// DeleteProfile deletes an API profile.
func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM api_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return requireRowAffected(result, settings.ErrProfileNotFound)
}

// GetModelConfig retrieves a model config by id.
func (d *DB) GetModelConfig(ctx context.Context, id string) (settings.ModelConfig, error) {
	var m settings.ModelConfig
	err := d.db.QueryRowContext(ctx, `
	SELECT id, name, system_prompt FROM model_configs WHERE id = ?
	`, id).Scan(&m.ID, &m.Name, &m.SystemPrompt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings.ModelConfig{}, settings.ErrModelConfigNotFound
		}
		return settings.ModelConfig{}, fmt.Errorf("failed to get model config: %w", err)
	}
	return m, nil
}

// ListModelConfigs retrieves all model configs.
func (d *DB) ListModelConfigs(ctx context.Context) ([]settings.ModelConfig, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, system_prompt FROM model_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []settings.ModelConfig
	for rows.Next() {
		var m settings.ModelConfig
		if err := rows.Scan(&m.ID, &m.Name, &m.SystemPrompt); err != nil {
			return nil, fmt.Errorf("failed to scan model config: %w", err)
		}
		configs = append(configs, m)
	}
	return configs, rows.Err()
}

// SaveModelConfig inserts or replaces a model config.
func (d *DB) SaveModelConfig(ctx context.Context, m settings.ModelConfig) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO model_configs (id, name, system_prompt)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, system_prompt = excluded.system_prompt
	`, m.ID, m.Name, m.SystemPrompt)
	if err != nil {
		return fmt.Errorf("failed to save model config: %w", err)
	}
	return nil
}

// DeleteModelConfig deletes a model config.
func (d *DB) DeleteModelConfig(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model config: %w", err)
	}
	return requireRowAffected(result, settings.ErrModelConfigNotFound)
}
