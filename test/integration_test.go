package test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/internal/index"
	"github.com/selivandex/crypto-index/pkg/models"
	"github.com/selivandex/crypto-index/test/testdb"
)

// TestRepositories exercises the Postgres-backed stores against a real
// database. Set TEST_DATABASE_URL to run.
func TestRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := testdb.Setup(t)
	ctx := context.Background()

	t.Run("settings", func(t *testing.T) {
		const name = "it-settings"
		testdb.CleanIndex(t, db, name)

		repo := index.NewSettingsRepository(db, name)

		got, err := repo.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !got.Enabled || len(got.Assets) != 0 {
			t.Errorf("missing row must read as defaults, got %+v", got)
		}

		settings := models.DefaultSettings()
		settings.Sources = []string{"bitfinex"}
		settings.Assets = []string{"BTC", "ETH"}
		settings.TopCount = 2
		settings.AutoFreezeChangePercents = decimal.RequireFromString("10")
		if err := repo.Set(ctx, settings); err != nil {
			t.Fatalf("set failed: %v", err)
		}

		// A fresh repository must read back the persisted row, not a cache.
		fresh := index.NewSettingsRepository(db, name)
		got, err = fresh.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(got.Assets) != 2 || got.TopCount != 2 {
			t.Errorf("round trip lost data: %+v", got)
		}
		if !got.AutoFreezeChangePercents.Equal(decimal.RequireFromString("10")) {
			t.Errorf("auto freeze threshold lost: %s", got.AutoFreezeChangePercents)
		}

		// Upsert replaces the document.
		settings.TopCount = 3
		if err := repo.Set(ctx, settings); err != nil {
			t.Fatalf("second set failed: %v", err)
		}
		got, err = index.NewSettingsRepository(db, name).Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.TopCount != 3 {
			t.Errorf("expected top count 3, got %d", got.TopCount)
		}
	})

	t.Run("state", func(t *testing.T) {
		const name = "it-state"
		testdb.CleanIndex(t, db, name)

		repo := index.NewStateRepository(db, name)

		got, err := repo.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != nil {
			t.Fatalf("expected no state, got %+v", got)
		}

		state := &models.IndexState{
			Value: decimal.RequireFromString("1005.52"),
			MiddlePrices: map[string]decimal.Decimal{
				"BTC": decimal.RequireFromString("4001"),
				"ETH": decimal.RequireFromString("101"),
			},
			FrozenAssets: []string{"ETH"},
		}
		if err := repo.Set(ctx, state); err != nil {
			t.Fatalf("set failed: %v", err)
		}

		got, err = repo.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got == nil || !got.Value.Equal(state.Value) {
			t.Fatalf("round trip lost value: %+v", got)
		}
		if !got.MiddlePrices["BTC"].Equal(decimal.RequireFromString("4001")) {
			t.Errorf("middle prices lost: %+v", got.MiddlePrices)
		}
		if len(got.FrozenAssets) != 1 || got.FrozenAssets[0] != "ETH" {
			t.Errorf("frozen assets lost: %v", got.FrozenAssets)
		}

		// Upsert keeps a single row per index.
		state.Value = decimal.RequireFromString("1000.16")
		if err := repo.Set(ctx, state); err != nil {
			t.Fatalf("second set failed: %v", err)
		}
		got, err = repo.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !got.Value.Equal(decimal.RequireFromString("1000.16")) {
			t.Errorf("expected 1000.16, got %s", got.Value)
		}

		if err := repo.Clear(ctx); err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		got, err = repo.Get(ctx)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected no state after clear, got %+v", got)
		}
	})

	t.Run("warnings", func(t *testing.T) {
		const name = "it-warnings"
		testdb.CleanIndex(t, db, name)

		repo := index.NewWarningRepository(db, name)

		base := time.Now().UTC().Truncate(time.Second)
		for i, msg := range []string{"first", "second", "third"} {
			if err := repo.Record(ctx, msg, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("record failed: %v", err)
			}
		}

		warnings, err := repo.TakeLast(ctx, 2)
		if err != nil {
			t.Fatalf("take last failed: %v", err)
		}
		if len(warnings) != 2 {
			t.Fatalf("expected 2 warnings, got %d", len(warnings))
		}
		if warnings[0].Message != "third" || warnings[1].Message != "second" {
			t.Errorf("expected newest first, got %q, %q", warnings[0].Message, warnings[1].Message)
		}
	})
}
