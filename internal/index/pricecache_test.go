package index

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/pkg/models"
)

func tick(source, pair, bid, ask string) models.TickPrice {
	return models.TickPrice{
		Source:    source,
		AssetPair: pair,
		Bid:       dec(bid),
		Ask:       dec(ask),
		Timestamp: time.Now().UTC(),
	}
}

func singlePrice(t *testing.T, snapshot map[string][]models.AssetPrice, assetID string) models.AssetPrice {
	t.Helper()
	prices, ok := snapshot[assetID]
	if !ok {
		t.Fatalf("no prices for %s", assetID)
	}
	if len(prices) != 1 {
		t.Fatalf("expected one price for %s, got %d", assetID, len(prices))
	}
	return prices[0]
}

func TestPriceCacheDirectResolution(t *testing.T) {
	cache := NewPriceCache()
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4002"))

	price := singlePrice(t, cache.Snapshot(nil), "BTC")
	if price.CrossAssetID != models.USD {
		t.Errorf("expected direct USD resolution, got cross %s", price.CrossAssetID)
	}
	if price.Source != "bitfinex" {
		t.Errorf("unexpected source %s", price.Source)
	}
	if !price.Price.Equal(dec("4001")) {
		t.Errorf("expected middle 4001, got %s", price.Price)
	}
}

func TestPriceCacheOneSidedTicks(t *testing.T) {
	cache := NewPriceCache()

	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "0"))
	price := singlePrice(t, cache.Snapshot(nil), "BTC")
	if !price.Price.Equal(dec("4000")) {
		t.Errorf("bid-only tick: expected 4000, got %s", price.Price)
	}

	cache.Ingest(tick("bitfinex", "ETHUSD", "0", "0"))
	if _, ok := cache.Snapshot(nil)["ETH"]; ok {
		t.Error("tick with no sides must be discarded")
	}
}

func TestPriceCacheLatestTickWins(t *testing.T) {
	cache := NewPriceCache()
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4000"))
	cache.Ingest(tick("bitfinex", "BTCUSD", "4100", "4100"))

	price := singlePrice(t, cache.Snapshot(nil), "BTC")
	if !price.Price.Equal(dec("4100")) {
		t.Errorf("expected latest price 4100, got %s", price.Price)
	}
}

func TestPriceCacheCrossResolution(t *testing.T) {
	cache := NewPriceCache()
	cache.SetCrossAssets([]string{"BTC", "ETH"})

	// USD leg must already be cached for the cross to resolve.
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4000"))
	cache.Ingest(tick("bitfinex", "XLMBTC", "0.00002", "0.00004"))

	price := singlePrice(t, cache.Snapshot(nil), "XLM")
	if price.CrossAssetID != "BTC" {
		t.Errorf("expected BTC cross, got %s", price.CrossAssetID)
	}
	// bid*bid=0.08, ask*ask=0.16, middle=0.12
	if !price.Price.Equal(dec("0.12")) {
		t.Errorf("expected 0.12, got %s", price.Price)
	}
}

func TestPriceCacheCrossOrderMatters(t *testing.T) {
	cache := NewPriceCache()
	cache.SetCrossAssets([]string{"BTC", "ETH"})

	cache.Ingest(tick("bitfinex", "ETHUSD", "100", "100"))
	// BTC comes first in the cross list but its USD leg is missing, and the
	// pair does not end in BTC anyway: ETH resolves it.
	cache.Ingest(tick("bitfinex", "XLMETH", "0.001", "0.001"))

	price := singlePrice(t, cache.Snapshot(nil), "XLM")
	if price.CrossAssetID != "ETH" {
		t.Errorf("expected ETH cross, got %s", price.CrossAssetID)
	}
	if !price.Price.Equal(dec("0.1")) {
		t.Errorf("expected 0.1, got %s", price.Price)
	}
}

func TestPriceCacheCrossWithoutUSDLegIsDiscarded(t *testing.T) {
	cache := NewPriceCache()
	cache.SetCrossAssets([]string{"BTC"})

	cache.Ingest(tick("bitfinex", "XLMBTC", "0.00002", "0.00004"))
	if _, ok := cache.Snapshot(nil)["XLM"]; ok {
		t.Error("cross tick without a cached USD leg must be discarded")
	}
}

func TestPriceCacheSnapshotFiltering(t *testing.T) {
	cache := NewPriceCache()
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4000"))
	cache.Ingest(tick("kraken", "BTCUSD", "4010", "4010"))

	t.Run("nil filter returns all sources", func(t *testing.T) {
		snapshot := cache.Snapshot(nil)
		if len(snapshot["BTC"]) != 2 {
			t.Errorf("expected 2 prices, got %d", len(snapshot["BTC"]))
		}
	})

	t.Run("filter keeps listed sources only", func(t *testing.T) {
		price := singlePrice(t, cache.Snapshot([]string{"kraken"}), "BTC")
		if price.Source != "kraken" {
			t.Errorf("expected kraken, got %s", price.Source)
		}
	})

	t.Run("empty filter returns nothing", func(t *testing.T) {
		snapshot := cache.Snapshot([]string{})
		if len(snapshot) != 0 {
			t.Errorf("expected empty snapshot, got %d assets", len(snapshot))
		}
	})
}

func TestPriceCacheSnapshotIsolation(t *testing.T) {
	cache := NewPriceCache()
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4000"))

	snapshot := cache.Snapshot(nil)
	snapshot["BTC"][0].Price = decimal.Zero
	snapshot["FAKE"] = []models.AssetPrice{{AssetID: "FAKE"}}

	fresh := cache.Snapshot(nil)
	if _, ok := fresh["FAKE"]; ok {
		t.Error("mutating a snapshot leaked into the cache")
	}
	if !fresh["BTC"][0].Price.Equal(dec("4000")) {
		t.Errorf("expected 4000 after snapshot mutation, got %s", fresh["BTC"][0].Price)
	}
}

func TestPriceCacheTickSnapshot(t *testing.T) {
	cache := NewPriceCache()
	cache.Ingest(tick("bitfinex", "BTCUSD", "4000", "4000"))
	cache.Ingest(tick("bitfinex", "ETHUSD", "100", "100"))

	ticks := cache.TickSnapshot()
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
}
