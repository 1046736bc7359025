package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// USD is the base currency every index price is denominated in.
const USD = "USD"

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// AssetSettings holds per-asset overrides inside Settings
type AssetSettings struct {
	AssetID        string          `json:"asset_id"`
	FrozenPrice    decimal.Decimal `json:"frozen_price"`
	IsDisabled     bool            `json:"is_disabled"`
	IsAutoDisabled bool            `json:"is_auto_disabled"`
}

// Settings is the index configuration document. It is loaded lazily, cached
// in memory and mutated only through SettingsStore.Set.
type Settings struct {
	// Sources lists the exchanges whose quotes participate in the index.
	Sources []string `json:"sources"`
	// Assets is the whitelist the constituents are selected from.
	Assets []string `json:"assets"`
	// TopCount is how many of the highest-capitalized assets become constituents.
	TopCount int  `json:"top_count"`
	Enabled  bool `json:"enabled"`
	// RebuildTime is the time of day (offset from midnight UTC) after which
	// the daily constituent rebuild becomes eligible.
	RebuildTime              time.Duration   `json:"rebuild_time"`
	AutoFreezeChangePercents decimal.Decimal `json:"auto_freeze_change_percents"`
	AssetSettings            []AssetSettings `json:"asset_settings"`
	// CrossAssets are usable as pricing intermediaries for pairs that are not
	// quoted in USD directly.
	CrossAssets []string `json:"cross_assets"`
}

// DefaultSettings is what a missing settings record initializes to.
func DefaultSettings() *Settings {
	return &Settings{
		Sources:                  []string{},
		Assets:                   []string{},
		Enabled:                  true,
		AutoFreezeChangePercents: decimal.Zero,
		AssetSettings:            []AssetSettings{},
		CrossAssets:              []string{},
	}
}

// AssetSettingsFor returns the per-asset settings entry, if present.
func (s *Settings) AssetSettingsFor(assetID string) *AssetSettings {
	for i := range s.AssetSettings {
		if s.AssetSettings[i].AssetID == assetID {
			return &s.AssetSettings[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Callers mutate copies and persist through the
// settings store, never the cached document itself.
func (s *Settings) Clone() *Settings {
	clone := *s
	clone.Sources = append([]string(nil), s.Sources...)
	clone.Assets = append([]string(nil), s.Assets...)
	clone.AssetSettings = append([]AssetSettings(nil), s.AssetSettings...)
	clone.CrossAssets = append([]string(nil), s.CrossAssets...)
	return &clone
}

// SetAssetSettings inserts or replaces the entry for the asset.
func (s *Settings) SetAssetSettings(as AssetSettings) {
	for i := range s.AssetSettings {
		if s.AssetSettings[i].AssetID == as.AssetID {
			s.AssetSettings[i] = as
			return
		}
	}
	s.AssetSettings = append(s.AssetSettings, as)
}

// Money is an amount denominated in a currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// AssetMarketCap is produced fresh on every constituent rebuild; immutable.
type AssetMarketCap struct {
	AssetID           string          `json:"asset_id"`
	MarketCap         Money           `json:"market_cap"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
}

// AssetWeight pairs an asset with its fractional index weight in (0,1].
type AssetWeight struct {
	AssetID string          `json:"asset_id"`
	Weight  decimal.Decimal `json:"weight"`
}

// Weights is an ordered weight map, descending by weight. Order carries the
// determinism of top-N selection, so it is a slice rather than a Go map.
type Weights []AssetWeight

// Get returns the weight for the asset.
func (w Weights) Get(assetID string) (decimal.Decimal, bool) {
	for _, aw := range w {
		if aw.AssetID == assetID {
			return aw.Weight, true
		}
	}
	return decimal.Zero, false
}

// Assets returns asset IDs in weight order.
func (w Weights) Assets() []string {
	ids := make([]string, 0, len(w))
	for _, aw := range w {
		ids = append(ids, aw.AssetID)
	}
	return ids
}

// TickPrice is a single quote from one source for one asset pair.
// Bid and ask are optional; a zero (or negative) value means absent.
type TickPrice struct {
	Source    string          `json:"source"`
	AssetPair string          `json:"asset_pair"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// MiddlePrice derives a single price from bid and ask: the average when both
// are present, whichever side is present otherwise. The second return value
// is false when neither side is present.
func (t TickPrice) MiddlePrice() (decimal.Decimal, bool) {
	hasBid := t.Bid.IsPositive()
	hasAsk := t.Ask.IsPositive()
	switch {
	case hasBid && hasAsk:
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2)), true
	case hasAsk:
		return t.Ask, true
	case hasBid:
		return t.Bid, true
	default:
		return decimal.Zero, false
	}
}

// AssetPrice is a resolved, USD-denominated, per-source price: either a
// direct USD pair or one derived via a cross asset.
type AssetPrice struct {
	AssetID      string          `json:"asset_id"`
	CrossAssetID string          `json:"cross_asset_id"`
	Source       string          `json:"source"`
	Price        decimal.Decimal `json:"price"`
}

// IndexState carries the previous cycle's final value and the prices it was
// computed from. It is the only input the next cycle's return needs.
// Overwritten on every successful cycle, cleared on reset.
type IndexState struct {
	Value        decimal.Decimal            `json:"value"`
	MiddlePrices map[string]decimal.Decimal `json:"middle_prices"`
	FrozenAssets []string                   `json:"frozen_assets"`
}

// IndexHistory is one immutable record per successful calculation cycle.
type IndexHistory struct {
	Value         decimal.Decimal            `json:"value"`
	Time          time.Time                  `json:"time"`
	Weights       Weights                    `json:"weights"`
	MarketCaps    []AssetMarketCap           `json:"market_caps"`
	TickPrices    []TickPrice                `json:"tick_prices"`
	AssetPrices   map[string][]AssetPrice    `json:"asset_prices"`
	MiddlePrices  map[string]decimal.Decimal `json:"middle_prices"`
	AssetSettings []AssetSettings            `json:"asset_settings"`
}

// Warning is one append-only anomaly record.
type Warning struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// IndexTickAsset describes one constituent inside a published index tick.
type IndexTickAsset struct {
	AssetID  string          `json:"asset_id"`
	Weight   decimal.Decimal `json:"weight"`
	Price    decimal.Decimal `json:"price"`
	IsFrozen bool            `json:"is_frozen"`
}

// IndexTick is the event published after a committed calculation cycle.
// The index value is carried as both bid and ask.
type IndexTick struct {
	Source    string           `json:"source"`
	AssetPair string           `json:"asset_pair"`
	Bid       decimal.Decimal  `json:"bid"`
	Ask       decimal.Decimal  `json:"ask"`
	Timestamp time.Time        `json:"timestamp"`
	Assets    []IndexTickAsset `json:"assets"`
}
