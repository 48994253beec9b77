package configstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreImplementsStore(_ *testing.T) {
	var _ Store = (*SQLStore)(nil)
}

func TestSQLiteStoreContract(t *testing.T) {
	store := newSQLiteTestStore(t)
	runStoreContract(t, store)
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("CCG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set CCG_TEST_POSTGRES_DSN to run Postgres store integration tests")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.db.Exec("DELETE FROM model_maps")
		_, _ = store.db.Exec("DELETE FROM providers")
		_, _ = store.db.Exec("DELETE FROM timeout_settings")
		_, _ = store.db.Exec("DELETE FROM gateway_settings")
		_ = store.db.Close()
	})

	_, _ = store.db.Exec("DELETE FROM model_maps")
	_, _ = store.db.Exec("DELETE FROM providers")
	runStoreContract(t, store)
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	created, err := store.CreateProvider(ctx, Provider{
		CLIType: Claude, Name: "primary", BaseURL: "https://api.example.com", APIKey: "key-1",
		Enabled: true, SortOrder: 1,
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected created provider to have an id")
	}
	if created.FailureThreshold != DefaultValues.FailureThreshold {
		t.Fatalf("expected default failure_threshold %d, got %d", DefaultValues.FailureThreshold, created.FailureThreshold)
	}

	fetched, err := store.GetProvider(ctx, created.ID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if fetched.Name != "primary" {
		t.Fatalf("expected name primary, got %s", fetched.Name)
	}

	second, err := store.CreateProvider(ctx, Provider{
		CLIType: Claude, Name: "secondary", BaseURL: "https://fallback.example.com", APIKey: "key-2",
		Enabled: true, SortOrder: 2,
	})
	if err != nil {
		t.Fatalf("create second provider: %v", err)
	}

	listed, err := store.ListProviders(ctx, Claude)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(listed))
	}
	if listed[0].ID != created.ID || listed[1].ID != second.ID {
		t.Fatalf("expected providers ordered by sort_order, got %v", listed)
	}

	if _, err := store.CreateProvider(ctx, Provider{CLIType: Claude, Name: "primary", BaseURL: "x", APIKey: "y"}); err == nil {
		t.Fatalf("expected conflict creating duplicate (cli_type, name)")
	}

	updated := fetched
	updated.BaseURL = "https://updated.example.com"
	updated.Enabled = false
	if _, err := store.UpdateProvider(ctx, updated); err != nil {
		t.Fatalf("update provider: %v", err)
	}
	reread, err := store.GetProvider(ctx, created.ID)
	if err != nil {
		t.Fatalf("get provider after update: %v", err)
	}
	if reread.BaseURL != "https://updated.example.com" || reread.Enabled {
		t.Fatalf("update did not persist: %+v", reread)
	}

	mm, err := store.CreateModelMap(ctx, ModelMap{ProviderID: created.ID, SourceModel: "gpt-*", TargetModel: "claude-opus", Enabled: true})
	if err != nil {
		t.Fatalf("create model map: %v", err)
	}
	maps, err := store.ListModelMaps(ctx, created.ID)
	if err != nil {
		t.Fatalf("list model maps: %v", err)
	}
	if len(maps) != 1 || maps[0].ID != mm.ID {
		t.Fatalf("expected 1 model map, got %v", maps)
	}

	mm.TargetModel = "claude-sonnet"
	if _, err := store.UpdateModelMap(ctx, mm); err != nil {
		t.Fatalf("update model map: %v", err)
	}

	if _, err := store.GetTimeoutSettings(ctx); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before timeout settings are set, got %v", err)
	}
	want := TimeoutSettings{StreamFirstByteTimeout: DefaultValues.StreamFirstByteTimeout, StreamIdleTimeout: DefaultValues.StreamIdleTimeout, NonStreamTimeout: DefaultValues.NonStreamTimeout}
	if err := store.UpdateTimeoutSettings(ctx, want); err != nil {
		t.Fatalf("update timeout settings: %v", err)
	}
	got, err := store.GetTimeoutSettings(ctx)
	if err != nil {
		t.Fatalf("get timeout settings: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	// idempotent re-write exercises the upsert path.
	if err := store.UpdateTimeoutSettings(ctx, want); err != nil {
		t.Fatalf("re-update timeout settings: %v", err)
	}

	if err := store.UpdateGatewaySettings(ctx, GatewaySettings{DebugLog: true}); err != nil {
		t.Fatalf("update gateway settings: %v", err)
	}
	gs, err := store.GetGatewaySettings(ctx)
	if err != nil {
		t.Fatalf("get gateway settings: %v", err)
	}
	if !gs.DebugLog {
		t.Fatalf("expected debug_log true")
	}

	future := int64(9999999999)
	if err := store.ApplyFailure(ctx, created.ID, 3, &future); err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	health, err := store.GetProviderHealth(ctx, created.ID)
	if err != nil {
		t.Fatalf("get provider health: %v", err)
	}
	if health.ConsecutiveFailures != 3 || health.BlacklistedUntil == nil || *health.BlacklistedUntil != future {
		t.Fatalf("unexpected health after failure: %+v", health)
	}

	if err := store.Unblacklist(ctx, created.ID); err != nil {
		t.Fatalf("unblacklist: %v", err)
	}
	health, err = store.GetProviderHealth(ctx, created.ID)
	if err != nil {
		t.Fatalf("get provider health after unblacklist: %v", err)
	}
	if health.ConsecutiveFailures != 0 || health.BlacklistedUntil != nil {
		t.Fatalf("expected cleared health after unblacklist, got %+v", health)
	}

	if err := store.ApplyFailure(ctx, created.ID, 1, nil); err != nil {
		t.Fatalf("apply failure again: %v", err)
	}
	prev, err := store.ApplySuccessReset(ctx, created.ID)
	if err != nil {
		t.Fatalf("apply success reset: %v", err)
	}
	if prev != 1 {
		t.Fatalf("expected previous failure count 1, got %d", prev)
	}

	if err := store.ResetFailures(ctx, second.ID); err != nil {
		t.Fatalf("reset failures: %v", err)
	}

	if err := store.DeleteModelMap(ctx, mm.ID); err != nil {
		t.Fatalf("delete model map: %v", err)
	}
	if err := store.DeleteProvider(ctx, created.ID); err != nil {
		t.Fatalf("delete provider: %v", err)
	}
	if _, err := store.GetProvider(ctx, created.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteProvider(ctx, second.ID); err != nil {
		t.Fatalf("delete second provider: %v", err)
	}
}

func TestSQLiteStoreGetProviderNotFound(t *testing.T) {
	store := newSQLiteTestStore(t)
	if _, err := store.GetProvider(context.Background(), 9999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreMissingDSN(t *testing.T) {
	if _, err := NewPostgresStore(""); err == nil {
		t.Fatalf("expected error for missing postgres dsn")
	}
}

func newSQLiteTestStore(t *testing.T) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() {
		if store.db != nil {
			_ = store.db.Close()
		}
		_ = os.Remove(path)
	})

	return store
}
