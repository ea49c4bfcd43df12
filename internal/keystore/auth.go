package keystore

import (
	"context"
	"strings"
	"time"
)

// Authenticator resolves and validates the bearer key on a request. It is
// the first pipeline stage; every later stage works on the record it
// returns.
type Authenticator struct {
	store Store
	now   func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store, now: time.Now}
}

// WithClock overrides the authenticator's clock. Intended for tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Authenticate extracts the bearer key from an Authorization header value,
// resolves its record, and checks expiry. Legacy records are migrated by the
// store on read, so the returned record is always current-version.
func (a *Authenticator) Authenticate(ctx context.Context, authHeader string) (Key, error) {
	keyString, ok := ExtractKeyFromHeader(authHeader)
	if !ok {
		return Key{}, ErrMissingAuth
	}

	k, err := a.store.GetKey(ctx, keyString)
	if err != nil {
		return Key{}, err
	}

	if k.Expired(a.now()) {
		return Key{}, ErrKeyExpired
	}

	return k, nil
}

// ExtractKeyFromHeader extracts a bearer key from an Authorization header
// value. Only the "Bearer <key>" scheme is accepted.
func ExtractKeyFromHeader(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", false
	}
	return key, true
}
