package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/keystore"
)

// GetKey retrieves an access key record. Legacy rows (no daily limit) are
// migrated to the current shape and persisted before they are returned; a
// stale usage window is likewise reset and persisted on read.
func (d *DB) GetKey(ctx context.Context, key string) (keystore.Key, error) {
	query := `
	SELECT key, expires_at, daily_limit, usage_date, usage_count,
	       session_timeout_minutes, max_activations,
	       selected_model, selected_api_profile_id, created_at, updated_at
	FROM access_keys
	WHERE key = ?
	`

	var (
		k              keystore.Key
		expiresAt      sql.NullTime
		dailyLimit     sql.NullInt64
		usageDate      sql.NullString
		sessionTimeout sql.NullInt64
		maxActivations sql.NullInt64
		selectedModel  sql.NullString
		selectedProf   sql.NullString
	)

	err := d.db.QueryRowContext(ctx, query, key).Scan(
		&k.Key,
		&expiresAt,
		&dailyLimit,
		&usageDate,
		&k.UsageCount,
		&sessionTimeout,
		&maxActivations,
		&selectedModel,
		&selectedProf,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return keystore.Key{}, keystore.ErrKeyNotFound
		}
		return keystore.Key{}, fmt.Errorf("failed to get key: %w", err)
	}

	if expiresAt.Valid {
		k.ExpiresAt = expiresAt.Time
	}
	k.UsageDate = usageDate.String
	if sessionTimeout.Valid {
		k.SessionTimeoutMinutes = int(sessionTimeout.Int64)
	}
	k.SelectedModelID = selectedModel.String
	k.SelectedProfileID = selectedProf.String

	now := d.now()

	if !dailyLimit.Valid {
		// Legacy row: migrate once at the store boundary.
		var seats *int
		if maxActivations.Valid {
			s := int(maxActivations.Int64)
			seats = &s
		}
		migrated := keystore.MigrateLegacy(k.Key, k.ExpiresAt, seats, now)
		migrated.SelectedModelID = k.SelectedModelID
		migrated.SelectedProfileID = k.SelectedProfileID
		migrated.CreatedAt = k.CreatedAt
		if err := d.persistUsageShape(ctx, migrated); err != nil {
			return keystore.Key{}, fmt.Errorf("failed to persist migrated key: %w", err)
		}
		return migrated, nil
	}
	k.DailyLimit = int(dailyLimit.Int64)

	if day := keystore.Day(now); k.UsageDate != day {
		// Lazy daily reset, persisted immediately.
		k.UsageDate = day
		k.UsageCount = 0
		if err := d.persistUsageShape(ctx, k); err != nil {
			return keystore.Key{}, fmt.Errorf("failed to persist usage reset: %w", err)
		}
	}

	return k, nil
}

// persistUsageShape writes the limit/usage/session fields of a record.
func (d *DB) persistUsageShape(ctx context.Context, k keystore.Key) error {
	_, err := d.db.ExecContext(ctx, `
	UPDATE access_keys
	SET daily_limit = ?, usage_date = ?, usage_count = ?,
	    session_timeout_minutes = ?, updated_at = CURRENT_TIMESTAMP
	WHERE key = ?
	`, k.DailyLimit, k.UsageDate, k.UsageCount, k.SessionTimeoutMinutes, k.Key)
	return err
}

// CreateKey creates a new access key record.
func (d *DB) CreateKey(ctx context.Context, k keystore.Key) error {
	query := `
	INSERT INTO access_keys (key, expires_at, daily_limit, usage_date, usage_count,
	                         session_timeout_minutes, selected_model, selected_api_profile_id,
	                         created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := d.now()
	createdAt := k.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := d.db.ExecContext(ctx, query,
		k.Key,
		nullTime(k.ExpiresAt),
		k.DailyLimit,
		k.UsageDate,
		k.UsageCount,
		k.SessionTimeoutMinutes,
		nullString(k.SelectedModelID),
		nullString(k.SelectedProfileID),
		createdAt,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return keystore.ErrKeyExists
		}
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// UpdateKey updates an existing access key record.
func (d *DB) UpdateKey(ctx context.Context, k keystore.Key) error {
	query := `
	UPDATE access_keys
	SET expires_at = ?, daily_limit = ?, usage_date = ?, usage_count = ?,
	    session_timeout_minutes = ?, selected_model = ?, selected_api_profile_id = ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE key = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		nullTime(k.ExpiresAt),
		k.DailyLimit,
		k.UsageDate,
		k.UsageCount,
		k.SessionTimeoutMinutes,
		nullString(k.SelectedModelID),
		nullString(k.SelectedProfileID),
		k.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}
	return requireRowAffected(result, keystore.ErrKeyNotFound)
}

// DeleteKey deletes an access key record.
func (d *DB) DeleteKey(ctx context.Context, key string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM access_keys WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return requireRowAffected(result, keystore.ErrKeyNotFound)
}

// ListKeys retrieves all access key records. Legacy rows are listed as
// stored; they are migrated on their first authenticated read.
func (d *DB) ListKeys(ctx context.Context) ([]keystore.Key, error) {
	query := `
	SELECT key, expires_at, daily_limit, usage_date, usage_count,
	       session_timeout_minutes, selected_model, selected_api_profile_id,
	       created_at, updated_at
	FROM access_keys
	ORDER BY created_at
	`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []keystore.Key
	for rows.Next() {
		var (
			k              keystore.Key
			expiresAt      sql.NullTime
			dailyLimit     sql.NullInt64
			usageDate      sql.NullString
			sessionTimeout sql.NullInt64
			selectedModel  sql.NullString
			selectedProf   sql.NullString
		)
		if err := rows.Scan(
			&k.Key, &expiresAt, &dailyLimit, &usageDate, &k.UsageCount,
			&sessionTimeout, &selectedModel, &selectedProf, &k.CreatedAt, &k.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = expiresAt.Time
		}
		k.DailyLimit = int(dailyLimit.Int64)
		k.UsageDate = usageDate.String
		if sessionTimeout.Valid {
			k.SessionTimeoutMinutes = int(sessionTimeout.Int64)
		}
		k.SelectedModelID = selectedModel.String
		k.SelectedProfileID = selectedProf.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ConsumeQuota atomically rolls the usage window to day and increments the
// count, but only while the count is below the daily limit. The single
// conditional UPDATE is the atomicity boundary; no in-process lock is
// involved, so concurrent gateway processes sharing the database stay
// correct.
func (d *DB) ConsumeQuota(ctx context.Context, key string, day string) (keystore.QuotaDecision, error) {
	result, err := d.db.ExecContext(ctx, `
	UPDATE access_keys
	SET usage_count = CASE WHEN usage_date = ? THEN usage_count + 1 ELSE 1 END,
	    usage_date = ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE key = ?
	  AND daily_limit IS NOT NULL
	  AND (usage_date IS NULL OR usage_date <> ? OR usage_count < daily_limit)
	`, day, day, key, day)
	if err != nil {
		return keystore.QuotaDecision{}, fmt.Errorf("failed to consume quota: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return keystore.QuotaDecision{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	var count, limit int
	err = d.db.QueryRowContext(ctx,
		`SELECT usage_count, IFNULL(daily_limit, 0) FROM access_keys WHERE key = ?`, key,
	).Scan(&count, &limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return keystore.QuotaDecision{}, keystore.ErrKeyNotFound
		}
		return keystore.QuotaDecision{}, fmt.Errorf("failed to read quota state: %w", err)
	}

	return keystore.QuotaDecision{Allowed: affected == 1, Count: count, Limit: limit}, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
