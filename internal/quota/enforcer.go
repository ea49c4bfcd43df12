package quota

import (
	"context"

	"github.com/chatgate/chatgate/internal/keystore"
)

// Enforcer performs the atomic check-and-increment for one countable request.
// Implementations must guarantee that concurrent calls for the same key never
// admit more requests than the key's daily limit allows.
type Enforcer interface {
	Consume(ctx context.Context, key keystore.Key, day string) (keystore.QuotaDecision, error)
}

// StoreEnforcer enforces quotas through the key store's conditional increment.
type StoreEnforcer struct {
	store keystore.Store
}

// NewStoreEnforcer creates an Enforcer backed by the key store.
func NewStoreEnforcer(store keystore.Store) *StoreEnforcer {
	return &StoreEnforcer{store: store}
}

// Consume delegates to the store's atomic ConsumeQuota operation.
func (e *StoreEnforcer) Consume(ctx context.Context, key keystore.Key, day string) (keystore.QuotaDecision, error) {
	return e.store.ConsumeQuota(ctx, key.Key, day)
}
