package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatgate/chatgate/internal/keystore"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestKeyCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	db.SetClock(fixedClock(now))

	k := keystore.Key{
		Key:                   "ck-crud",
		ExpiresAt:             time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		DailyLimit:            20,
		UsageDate:             "2026-08-29",
		UsageCount:            0,
		SessionTimeoutMinutes: 15,
		SelectedModelID:       "model-a",
	}
	if err := db.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := db.CreateKey(ctx, k); !errors.Is(err, keystore.ErrKeyExists) {
		t.Errorf("duplicate CreateKey error = %v, want ErrKeyExists", err)
	}

	got, err := db.GetKey(ctx, "ck-crud")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.DailyLimit != 20 || got.SelectedModelID != "model-a" {
		t.Errorf("GetKey = %+v", got)
	}

	got.DailyLimit = 50
	got.SelectedProfileID = "prof-1"
	if err := db.UpdateKey(ctx, got); err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}
	got, _ = db.GetKey(ctx, "ck-crud")
	if got.DailyLimit != 50 || got.SelectedProfileID != "prof-1" {
		t.Errorf("after update = %+v", got)
	}

	keys, err := db.ListKeys(ctx)
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListKeys = %v, %v", keys, err)
	}

	if err := db.DeleteKey(ctx, "ck-crud"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if _, err := db.GetKey(ctx, "ck-crud"); !errors.Is(err, keystore.ErrKeyNotFound) {
		t.Errorf("GetKey after delete error = %v, want ErrKeyNotFound", err)
	}
	if err := db.DeleteKey(ctx, "ck-crud"); !errors.Is(err, keystore.ErrKeyNotFound) {
		t.Errorf("DeleteKey twice error = %v, want ErrKeyNotFound", err)
	}
}

func TestGetKeyMigratesLegacyRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	db.SetClock(fixedClock(now))

	// Legacy shape: no daily_limit/usage window, only a concurrent-seat count.
	_, err := db.db.ExecContext(ctx, `
	INSERT INTO access_keys (key, expires_at, max_activations) VALUES (?, ?, ?)
	`, "ck-legacy", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	if err != nil {
		t.Fatalf("inserting legacy row: %v", err)
	}

	k, err := db.GetKey(ctx, "ck-legacy")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if k.DailyLimit != 150 {
		t.Errorf("migrated DailyLimit = %d, want 150", k.DailyLimit)
	}
	if k.UsageDate != "2026-08-29" || k.UsageCount != 0 {
		t.Errorf("migrated usage = {%s, %d}, want {2026-08-29, 0}", k.UsageDate, k.UsageCount)
	}
	if k.SessionTimeoutMinutes != 15 {
		t.Errorf("migrated SessionTimeoutMinutes = %d, want 15", k.SessionTimeoutMinutes)
	}
	if k.ExpiresAt.Format("2006-01-02") != "2026-01-01" {
		t.Errorf("migrated ExpiresAt = %v, want preserved", k.ExpiresAt)
	}

	// The migration is persisted: a raw read now sees the current shape.
	var limit int
	if err := db.db.QueryRow(`SELECT daily_limit FROM access_keys WHERE key = 'ck-legacy'`).Scan(&limit); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if limit != 150 {
		t.Errorf("persisted daily_limit = %d, want 150", limit)
	}
}

func TestGetKeyMigratesLegacyRowWithoutSeats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SetClock(fixedClock(time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)))

	_, err := db.db.ExecContext(ctx, `INSERT INTO access_keys (key) VALUES ('ck-bare')`)
	if err != nil {
		t.Fatalf("inserting legacy row: %v", err)
	}

	k, err := db.GetKey(ctx, "ck-bare")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if k.DailyLimit != keystore.DefaultDailyLimit {
		t.Errorf("DailyLimit = %d, want default %d", k.DailyLimit, keystore.DefaultDailyLimit)
	}
}

func TestGetKeyResetsStaleUsageWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SetClock(fixedClock(time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)))

	k := keystore.Key{Key: "ck-stale", DailyLimit: 5, UsageDate: "2026-08-28", UsageCount: 5}
	if err := db.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	// Next day: the read itself resets and persists the window.
	db.SetClock(fixedClock(time.Date(2026, 8, 29, 0, 5, 0, 0, time.UTC)))
	got, err := db.GetKey(ctx, "ck-stale")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.UsageDate != "2026-08-29" || got.UsageCount != 0 {
		t.Errorf("usage after rollover = {%s, %d}, want {2026-08-29, 0}", got.UsageDate, got.UsageCount)
	}

	var count int
	var date string
	if err := db.db.QueryRow(`SELECT usage_count, usage_date FROM access_keys WHERE key = 'ck-stale'`).Scan(&count, &date); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if count != 0 || date != "2026-08-29" {
		t.Errorf("persisted usage = {%s, %d}, want {2026-08-29, 0}", date, count)
	}
}

func TestConsumeQuotaIncrementsUntilLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	k := keystore.Key{Key: "ck-quota", DailyLimit: 3, UsageDate: "2026-08-29", UsageCount: 0}
	if err := db.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	for i := 1; i <= 3; i++ {
		dec, err := db.ConsumeQuota(ctx, "ck-quota", "2026-08-29")
		if err != nil {
			t.Fatalf("ConsumeQuota #%d: %v", i, err)
		}
		if !dec.Allowed || dec.Count != i {
			t.Errorf("ConsumeQuota #%d = %+v, want allowed with count %d", i, dec, i)
		}
	}

	dec, err := db.ConsumeQuota(ctx, "ck-quota", "2026-08-29")
	if err != nil {
		t.Fatalf("ConsumeQuota over limit: %v", err)
	}
	if dec.Allowed {
		t.Error("request over the daily limit was admitted")
	}
	if dec.Count != 3 || dec.Limit != 3 {
		t.Errorf("rejected decision = %+v, want count 3, limit 3", dec)
	}
}

func TestConsumeQuotaRollsOverStaleWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	k := keystore.Key{Key: "ck-roll", DailyLimit: 5, UsageDate: "2026-08-28", UsageCount: 5}
	if err := db.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	dec, err := db.ConsumeQuota(ctx, "ck-roll", "2026-08-29")
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if !dec.Allowed || dec.Count != 1 {
		t.Errorf("first request of new day = %+v, want allowed with count 1", dec)
	}
}

func TestConsumeQuotaUnknownKey(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.ConsumeQuota(context.Background(), "ck-ghost", "2026-08-29"); !errors.Is(err, keystore.ErrKeyNotFound) {
		t.Errorf("error = %v, want ErrKeyNotFound", err)
	}
}

func TestConsumeQuotaConcurrentAdmitsExactlyRemaining(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const limit, used, workers = 10, 7, 25
	k := keystore.Key{Key: "ck-race", DailyLimit: limit, UsageDate: "2026-08-29", UsageCount: used}
	if err := db.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	var wg sync.WaitGroup
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := db.ConsumeQuota(ctx, "ck-race", "2026-08-29")
			if err != nil {
				t.Errorf("ConsumeQuota: %v", err)
				return
			}
			admitted <- dec.Allowed
		}()
	}
	wg.Wait()
	close(admitted)

	got := 0
	for ok := range admitted {
		if ok {
			got++
		}
	}
	if want := limit - used; got != want {
		t.Errorf("admitted %d of %d concurrent requests, want exactly %d", got, workers, want)
	}
}
