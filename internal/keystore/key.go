// Package keystore defines the access-key record, its legacy migration, and
// the store contract the gateway authenticates and counts quota against.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Errors returned by key lookup and validation.
var (
	// ErrMissingAuth is returned when no bearer key is present on a request.
	ErrMissingAuth = errors.New("missing or malformed authorization header")
	// ErrKeyNotFound is returned when a key does not exist in the store.
	ErrKeyNotFound = errors.New("access key not found")
	// ErrKeyExists is returned when creating a key that already exists.
	ErrKeyExists = errors.New("access key already exists")
	// ErrKeyExpired is returned when a key's expiry date has passed.
	ErrKeyExpired = errors.New("access key has expired")
)

const (
	// KeyPrefix is prepended to generated access keys.
	KeyPrefix = "ck-"

	// DefaultDailyLimit is applied when no limit can be inferred during
	// legacy migration.
	DefaultDailyLimit = 100

	// LegacySeatFactor converts a legacy concurrent-seat count into a daily
	// request limit during migration.
	LegacySeatFactor = 50

	// DefaultSessionTimeoutMinutes is applied to migrated legacy records.
	DefaultSessionTimeoutMinutes = 15

	// DayFormat is the calendar-date layout used for usage windows.
	DayFormat = "2006-01-02"
)

// Key is the current-version access key record. A single record owns the
// key's expiry, its per-day usage window, and its optional model/profile
// selections.
type Key struct {
	Key                   string    `json:"key"`
	ExpiresAt             time.Time `json:"expires_at"` // calendar date; zero means no expiry
	DailyLimit            int       `json:"daily_limit"`
	UsageDate             string    `json:"usage_date"` // DayFormat
	UsageCount            int       `json:"usage_count"`
	SessionTimeoutMinutes int       `json:"session_timeout_minutes"`
	SelectedModelID       string    `json:"selected_model,omitempty"`
	SelectedProfileID     string    `json:"selected_api_profile_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Day formats t as the calendar date used for usage windows.
func Day(t time.Time) string {
	return t.Format(DayFormat)
}

// Expired reports whether the key's expiry date has passed, comparing
// calendar dates only. A key expiring today is still valid for the whole day.
func (k Key) Expired(now time.Time) bool {
	if k.ExpiresAt.IsZero() {
		return false
	}
	ny, nm, nd := now.Date()
	ey, em, ed := k.ExpiresAt.Date()
	nowDate := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	expDate := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return nowDate.After(expDate)
}

// UsageFor returns the usage count that applies on day, treating a stale
// window as zero.
func (k Key) UsageFor(day string) int {
	if k.UsageDate != day {
		return 0
	}
	return k.UsageCount
}

// MigrateLegacy builds the current-version record for a legacy row that
// predates daily limits. The daily limit is inferred from the legacy
// concurrent-seat count when present; the usage window starts empty today.
func MigrateLegacy(key string, expiresAt time.Time, legacySeats *int, now time.Time) Key {
	limit := DefaultDailyLimit
	if legacySeats != nil && *legacySeats > 0 {
		limit = *legacySeats * LegacySeatFactor
	}
	return Key{
		Key:                   key,
		ExpiresAt:             expiresAt,
		DailyLimit:            limit,
		UsageDate:             Day(now),
		UsageCount:            0,
		SessionTimeoutMinutes: DefaultSessionTimeoutMinutes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// QuotaDecision is the outcome of an atomic conditional quota increment.
type QuotaDecision struct {
	Allowed bool
	Count   int // usage after the decision (unchanged when rejected)
	Limit   int
}

// Store is the persistence contract for access keys. ConsumeQuota must be
// atomic with respect to concurrent callers on the same key: of N
// simultaneous calls with limit-count=k remaining, exactly k are allowed.
type Store interface {
	GetKey(ctx context.Context, key string) (Key, error)
	CreateKey(ctx context.Context, k Key) error
	UpdateKey(ctx context.Context, k Key) error
	DeleteKey(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]Key, error)

	// ConsumeQuota resets the usage window to day if stale, then increments
	// the count only while it is below the daily limit.
	ConsumeQuota(ctx context.Context, key string, day string) (QuotaDecision, error)
}

// GenerateKey returns a new random access key with the standard prefix.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// Obfuscate partially masks a key for display and logging. The whole key
// never appears in log output.
func Obfuscate(key string) string {
	const show = 4
	if len(key) <= len(KeyPrefix)+show {
		return "****"
	}
	return key[:len(KeyPrefix)+show] + "****" + key[len(key)-show:]
}
