package index

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/pkg/models"
)

// PriceCache absorbs per-source tick updates and exposes consistent
// snapshots of resolved, USD-denominated asset prices. A pair quoted in USD
// resolves directly; other pairs resolve through the first configured cross
// asset whose USD leg from the same source is already cached. Ticks that
// resolve neither way are discarded.
//
// All mutation and snapshotting happens under one mutex; the calculation
// cycle copies the cache and then works lock-free on the copy.
type PriceCache struct {
	mu          sync.Mutex
	crossAssets []string

	// resolved prices, keyed asset -> source -> pair; latest tick wins
	prices map[string]map[string]map[string]models.AssetPrice

	// latest raw tick per (source, pair), kept for history records and as
	// the USD leg for cross resolution
	ticks map[string]map[string]models.TickPrice
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		prices: make(map[string]map[string]map[string]models.AssetPrice),
		ticks:  make(map[string]map[string]models.TickPrice),
	}
}

// SetCrossAssets replaces the configured cross-asset list. Order matters:
// resolution short-circuits on the first cross asset that yields a price.
func (c *PriceCache) SetCrossAssets(crossAssets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crossAssets = append([]string(nil), crossAssets...)
}

// Ingest records a tick. A tick with neither bid nor ask is a no-op.
func (c *PriceCache) Ingest(tick models.TickPrice) {
	middle, ok := tick.MiddlePrice()
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasSuffix(tick.AssetPair, models.USD) {
		assetID := strings.TrimSuffix(tick.AssetPair, models.USD)
		if assetID == "" {
			return
		}
		c.store(tick, models.AssetPrice{
			AssetID:      assetID,
			CrossAssetID: models.USD,
			Source:       tick.Source,
			Price:        middle,
		})
		return
	}

	for _, cross := range c.crossAssets {
		if !strings.HasSuffix(tick.AssetPair, cross) {
			continue
		}
		assetID := strings.TrimSuffix(tick.AssetPair, cross)
		if assetID == "" {
			continue
		}
		crossLeg, ok := c.ticks[tick.Source][cross+models.USD]
		if !ok {
			continue
		}
		price, ok := crossMiddlePrice(tick, crossLeg)
		if !ok {
			continue
		}
		c.store(tick, models.AssetPrice{
			AssetID:      assetID,
			CrossAssetID: cross,
			Source:       tick.Source,
			Price:        price,
		})
		return
	}
	// no direct or cross resolution: the tick contributes to no asset's price
}

// crossMiddlePrice multiplies the tick's legs with the cross USD legs side by
// side (bid*bid, ask*ask) and applies the usual middle-price rule.
func crossMiddlePrice(tick, crossLeg models.TickPrice) (decimal.Decimal, bool) {
	synthetic := models.TickPrice{}
	if tick.Bid.IsPositive() && crossLeg.Bid.IsPositive() {
		synthetic.Bid = tick.Bid.Mul(crossLeg.Bid)
	}
	if tick.Ask.IsPositive() && crossLeg.Ask.IsPositive() {
		synthetic.Ask = tick.Ask.Mul(crossLeg.Ask)
	}
	return synthetic.MiddlePrice()
}

func (c *PriceCache) store(tick models.TickPrice, price models.AssetPrice) {
	if c.ticks[tick.Source] == nil {
		c.ticks[tick.Source] = make(map[string]models.TickPrice)
	}
	c.ticks[tick.Source][tick.AssetPair] = tick

	bySource := c.prices[price.AssetID]
	if bySource == nil {
		bySource = make(map[string]map[string]models.AssetPrice)
		c.prices[price.AssetID] = bySource
	}
	byPair := bySource[price.Source]
	if byPair == nil {
		byPair = make(map[string]models.AssetPrice)
		bySource[price.Source] = byPair
	}
	byPair[tick.AssetPair] = price
}

// Snapshot returns a deep copy of resolved prices per asset. A nil filter
// returns everything; a non-nil filter keeps only the listed sources, so an
// empty filter yields an empty result ("no sources configured" means "no
// data", not "all data").
func (c *PriceCache) Snapshot(sources []string) map[string][]models.AssetPrice {
	var allowed map[string]struct{}
	if sources != nil {
		allowed = make(map[string]struct{}, len(sources))
		for _, s := range sources {
			allowed[s] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]models.AssetPrice, len(c.prices))
	for assetID, bySource := range c.prices {
		for source, byPair := range bySource {
			if allowed != nil {
				if _, ok := allowed[source]; !ok {
					continue
				}
			}
			for _, price := range byPair {
				out[assetID] = append(out[assetID], price)
			}
		}
	}
	return out
}

// TickSnapshot returns a copy of the latest raw ticks.
func (c *PriceCache) TickSnapshot() []models.TickPrice {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.TickPrice
	for _, byPair := range c.ticks {
		for _, tick := range byPair {
			out = append(out, tick)
		}
	}
	return out
}
