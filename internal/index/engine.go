package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/pkg/logger"
	"github.com/selivandex/crypto-index/pkg/models"
)

// valuePrecision is the number of decimal places the index value carries.
const valuePrecision = 2

// Policy selects the optional behaviors of the engine. The full index runs
// with both enabled; a plain capitalization index can switch them off.
type Policy struct {
	FreezeEnabled        bool
	ResetRecoveryEnabled bool
}

// EngineParams wires an Engine.
type EngineParams struct {
	Name         string
	Source       string
	InitialValue decimal.Decimal
	Policy       Policy

	Settings  SettingsStore
	State     StateStore
	History   HistoryStore
	Warnings  WarningSink
	Provider  MarketCapProvider
	Publisher Publisher
	Cache     *PriceCache

	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Engine holds the authoritative in-memory constituent/weight snapshot and
// runs the two independent periodic steps: constituent rebuild and index
// recomputation. The two steps and the inbound tick path are concurrent;
// shared snapshot fields are serialized through narrow critical sections and
// no lock is ever held across a store or provider call.
type Engine struct {
	name         string
	source       string
	initialValue decimal.Decimal
	policy       Policy

	settings  SettingsStore
	state     StateStore
	history   HistoryStore
	warnings  WarningSink
	provider  MarketCapProvider
	publisher Publisher
	cache     *PriceCache
	selector  *ConstituentSelector

	now func() time.Time

	mu             sync.Mutex
	weights        models.Weights
	marketCaps     []models.AssetMarketCap
	universe       []models.AssetMarketCap
	lastRebuild    time.Time
	rebuildPending bool

	resetMu      sync.Mutex
	resetPending bool
	lastReset    *time.Time
}

// NewEngine creates an engine. Start must be called before the periodic
// steps run.
func NewEngine(p EngineParams) *Engine {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		name:         p.Name,
		source:       p.Source,
		initialValue: p.InitialValue,
		policy:       p.Policy,
		settings:     p.Settings,
		state:        p.State,
		history:      p.History,
		warnings:     p.Warnings,
		provider:     p.Provider,
		publisher:    p.Publisher,
		cache:        p.Cache,
		selector:     NewConstituentSelector(),
		now:          now,
	}
}

// Start recovers the last committed constituent/weight snapshot from history
// after a process restart. Without any history the first rebuild is forced.
func (e *Engine) Start(ctx context.Context) error {
	records, err := e.history.TakeLast(ctx, 1, nil)
	if err != nil {
		return fmt.Errorf("failed to recover index history: %w", err)
	}

	if len(records) == 0 {
		logger.Info("no index history found, forcing initial rebuild",
			zap.String("index", e.name),
		)
		e.Rebuild()
		return nil
	}

	last := records[0]
	e.mu.Lock()
	e.weights = last.Weights
	e.marketCaps = last.MarketCaps
	e.universe = last.MarketCaps
	e.lastRebuild = last.Time
	e.mu.Unlock()

	logger.Info("recovered constituents from history",
		zap.String("index", e.name),
		zap.Int("constituents", len(last.Weights)),
		zap.Time("as_of", last.Time),
	)
	return nil
}

// Rebuild requests a constituent rebuild on the next rebuild step.
func (e *Engine) Rebuild() {
	e.mu.Lock()
	e.rebuildPending = true
	e.mu.Unlock()
}

// Reset clears the persisted index state and forces the next calculation
// cycles through the reset-recovery guard until the index lands back on its
// initial value.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.state.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index state: %w", err)
	}

	e.resetMu.Lock()
	e.resetPending = true
	e.lastReset = nil
	e.resetMu.Unlock()

	logger.Info("index state reset", zap.String("index", e.name))
	return nil
}

// LastReset returns when the most recent reset completed, if one has.
func (e *Engine) LastReset() *time.Time {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	if e.lastReset == nil {
		return nil
	}
	t := *e.lastReset
	return &t
}

// RunRebuild refreshes the market-cap universe and recomputes the
// constituent weights when the rebuild trigger fires: an explicit rebuild
// request, or the daily rebuild time passed on a new calendar date.
func (e *Engine) RunRebuild(ctx context.Context) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	e.cache.SetCrossAssets(settings.CrossAssets)

	now := e.now()
	e.mu.Lock()
	fire := e.rebuildPending ||
		(beforeDay(e.lastRebuild, now) && timeOfDay(now) > settings.RebuildTime)
	e.mu.Unlock()
	if !fire {
		return nil
	}

	if len(settings.Assets) == 0 {
		logger.Info("rebuild skipped, empty asset whitelist",
			zap.String("index", e.name),
		)
		return nil
	}

	// Refresh the universe; a provider failure keeps the stale one.
	universe, err := e.provider.GetAll(ctx)
	if err != nil {
		e.mu.Lock()
		stale := len(e.universe) > 0
		e.mu.Unlock()
		logger.Warn("market cap provider failed",
			zap.String("index", e.name),
			zap.Bool("stale_universe_available", stale),
			zap.Error(err),
		)
		if !stale {
			return nil
		}
	} else {
		e.mu.Lock()
		e.universe = universe
		e.mu.Unlock()
	}

	e.mu.Lock()
	supplies := make(map[string]decimal.Decimal, len(e.universe))
	for _, mc := range e.universe {
		supplies[mc.AssetID] = mc.CirculatingSupply
	}
	e.mu.Unlock()

	snapshot := e.cache.Snapshot(settings.Sources)
	usable, _, err := resolveUsablePrices(settings, snapshot, settings.Assets)
	if err != nil {
		return err
	}

	// Assets without a cached price or a known supply sit this cycle out;
	// they stay on the whitelist.
	whitelist := make([]string, 0, len(settings.Assets))
	cycleSupplies := make(map[string]decimal.Decimal)
	cyclePrices := make(map[string]decimal.Decimal)
	for _, assetID := range settings.Assets {
		price, hasPrice := usable[assetID]
		supply, hasSupply := supplies[assetID]
		if !hasPrice || !hasSupply {
			continue
		}
		whitelist = append(whitelist, assetID)
		cycleSupplies[assetID] = supply
		cyclePrices[assetID] = price
	}
	if len(whitelist) == 0 {
		logger.Info("rebuild skipped, no asset has both supply and price yet",
			zap.String("index", e.name),
		)
		return nil
	}

	weights, marketCaps, err := e.selector.ComputeWeights(whitelist, cycleSupplies, cyclePrices, settings.TopCount)
	if err != nil {
		return fmt.Errorf("failed to compute weights: %w", err)
	}

	e.mu.Lock()
	e.weights = weights
	e.marketCaps = marketCaps
	e.lastRebuild = now
	e.rebuildPending = false
	e.mu.Unlock()

	logger.Info("constituents rebuilt",
		zap.String("index", e.name),
		zap.Int("constituents", len(weights)),
		zap.Strings("assets", weights.Assets()),
	)
	return nil
}

// RunCalculate performs one index recomputation cycle. Cycles either commit
// in full (state, history, publication) or leave no trace.
func (e *Engine) RunCalculate(ctx context.Context) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	e.cache.SetCrossAssets(settings.CrossAssets)

	if len(settings.Assets) == 0 {
		logger.Debug("calculation skipped, empty asset whitelist",
			zap.String("index", e.name),
		)
		return nil
	}

	e.mu.Lock()
	weights := make(models.Weights, len(e.weights))
	copy(weights, e.weights)
	marketCaps := make([]models.AssetMarketCap, len(e.marketCaps))
	copy(marketCaps, e.marketCaps)
	e.mu.Unlock()

	if len(weights) == 0 {
		// Quiescent until the first rebuild resolves constituents.
		logger.Debug("calculation skipped, constituents not resolved yet",
			zap.String("index", e.name),
		)
		return nil
	}

	snapshot := e.cache.Snapshot(settings.Sources)
	ticks := e.cache.TickSnapshot()

	usable, missing, err := resolveUsablePrices(settings, snapshot, weights.Assets())
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		e.recordWarning(ctx, fmt.Sprintf("index %s calculation aborted, no usable price for: %s",
			e.name, strings.Join(missing, ", ")))
		return nil
	}

	prevState, err := e.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load index state: %w", err)
	}

	if e.policy.FreezeEnabled && prevState != nil && settings.AutoFreezeChangePercents.IsPositive() {
		if err := e.autoFreeze(ctx, settings, prevState, weights, usable); err != nil {
			return err
		}
	}

	value := e.initialValue
	if prevState != nil {
		signal := decimal.Zero
		for _, aw := range weights {
			cur := usable[aw.AssetID]
			prev, ok := prevState.MiddlePrices[aw.AssetID]
			if !ok || !prev.IsPositive() {
				prev = cur
			}
			signal = signal.Add(aw.Weight.Mul(cur.Div(prev)))
		}
		value = prevState.Value.Mul(signal).Round(valuePrecision)
	}

	if e.policy.ResetRecoveryEnabled {
		e.resetMu.Lock()
		resetPending := e.resetPending
		e.resetMu.Unlock()
		if resetPending {
			// TODO: if a rebuild lands between Reset and the next cycle this
			// comparison can keep discarding forever; needs a tolerance or a
			// forced reseed of the state row.
			if prevState != nil || !value.Equal(e.initialValue) {
				logger.Warn("cycle discarded, reset recovery in progress",
					zap.String("index", e.name),
					zap.String("value", value.String()),
				)
				return nil
			}
			completed := e.now()
			e.resetMu.Lock()
			e.resetPending = false
			e.lastReset = &completed
			e.resetMu.Unlock()
			logger.Info("reset recovery completed",
				zap.String("index", e.name),
				zap.Time("at", completed),
			)
		}
	}

	// Re-read enablement at commit time so a live disable takes effect
	// without restarting the timers.
	fresh, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload settings: %w", err)
	}
	if !fresh.Enabled {
		logger.Info("cycle discarded, index disabled",
			zap.String("index", e.name),
			zap.String("value", value.String()),
		)
		return nil
	}

	now := e.now()
	frozenAssets := frozenConstituents(fresh, weights)

	state := &models.IndexState{
		Value:        value,
		MiddlePrices: usable,
		FrozenAssets: frozenAssets,
	}
	if err := e.state.Set(ctx, state); err != nil {
		return fmt.Errorf("failed to persist index state: %w", err)
	}

	record := &models.IndexHistory{
		Value:         value,
		Time:          now,
		Weights:       weights,
		MarketCaps:    marketCaps,
		TickPrices:    ticks,
		AssetPrices:   snapshot,
		MiddlePrices:  usable,
		AssetSettings: fresh.AssetSettings,
	}
	if err := e.history.Append(ctx, record); err != nil {
		return fmt.Errorf("failed to append index history: %w", err)
	}

	tick := e.buildTick(now, value, weights, usable, frozenAssets)
	if err := e.publisher.Publish(ctx, tick); err != nil {
		return fmt.Errorf("failed to publish index tick: %w", err)
	}

	logger.Info("index calculated",
		zap.String("index", e.name),
		zap.String("value", value.String()),
		zap.Int("constituents", len(weights)),
	)
	return nil
}

// autoFreeze pins constituents whose price moved more than the configured
// threshold since the previous cycle, and warns about moves past half the
// threshold. Pinned assets keep the previous price for this cycle and their
// settings entry is persisted as frozen.
func (e *Engine) autoFreeze(
	ctx context.Context,
	settings *models.Settings,
	prevState *models.IndexState,
	weights models.Weights,
	usable map[string]decimal.Decimal,
) error {
	threshold := settings.AutoFreezeChangePercents
	half := threshold.Div(decimal.NewFromInt(2))
	changed := false

	for _, aw := range weights {
		assetID := aw.AssetID
		if as := settings.AssetSettingsFor(assetID); as != nil && as.IsDisabled {
			continue
		}
		cur := usable[assetID]
		prev, ok := prevState.MiddlePrices[assetID]
		if !ok || !prev.IsPositive() {
			// No prior record: treat as 0% change.
			continue
		}

		changePercent := prev.Sub(cur).Abs().Div(prev).Mul(decimal.NewFromInt(100))
		switch {
		case changePercent.GreaterThan(threshold):
			usable[assetID] = prev
			settings.SetAssetSettings(models.AssetSettings{
				AssetID:        assetID,
				FrozenPrice:    prev,
				IsDisabled:     true,
				IsAutoDisabled: true,
			})
			changed = true
			e.recordWarning(ctx, fmt.Sprintf(
				"asset %s became frozen at %s: price change %s%% exceeded %s%%",
				assetID, prev.String(), changePercent.Round(2).String(), threshold.String()))
		case changePercent.GreaterThan(half):
			e.recordWarning(ctx, fmt.Sprintf(
				"asset %s price change %s%% exceeded half the auto-freeze threshold %s%%",
				assetID, changePercent.Round(2).String(), threshold.String()))
		}
	}

	if changed {
		if err := e.settings.Set(ctx, settings); err != nil {
			return fmt.Errorf("failed to persist auto-frozen settings: %w", err)
		}
	}
	return nil
}

func (e *Engine) buildTick(
	now time.Time,
	value decimal.Decimal,
	weights models.Weights,
	usable map[string]decimal.Decimal,
	frozenAssets []string,
) *models.IndexTick {
	frozen := make(map[string]struct{}, len(frozenAssets))
	for _, assetID := range frozenAssets {
		frozen[assetID] = struct{}{}
	}

	assets := make([]models.IndexTickAsset, 0, len(weights))
	for _, aw := range weights {
		_, isFrozen := frozen[aw.AssetID]
		assets = append(assets, models.IndexTickAsset{
			AssetID:  aw.AssetID,
			Weight:   aw.Weight,
			Price:    usable[aw.AssetID],
			IsFrozen: isFrozen,
		})
	}

	return &models.IndexTick{
		Source:    e.source,
		AssetPair: e.name,
		Bid:       value,
		Ask:       value,
		Timestamp: now,
		Assets:    assets,
	}
}

func (e *Engine) recordWarning(ctx context.Context, message string) {
	logger.Warn(message, zap.String("index", e.name))
	if err := e.warnings.Record(ctx, message, e.now()); err != nil {
		logger.Error("failed to record warning",
			zap.String("index", e.name),
			zap.Error(err),
		)
	}
}

// resolveUsablePrices maps each asset to its usable price: the configured
// frozen price for disabled assets, the trimmed mean over cached per-source
// prices otherwise. Assets without a positive usable price end up in
// missing; a disabled asset whose frozen price was never set must not feed
// a zero into the signal math.
func resolveUsablePrices(
	settings *models.Settings,
	snapshot map[string][]models.AssetPrice,
	assets []string,
) (map[string]decimal.Decimal, []string, error) {
	usable := make(map[string]decimal.Decimal, len(assets))
	var missing []string

	for _, assetID := range assets {
		if as := settings.AssetSettingsFor(assetID); as != nil && as.IsDisabled {
			if !as.FrozenPrice.IsPositive() {
				missing = append(missing, assetID)
				continue
			}
			usable[assetID] = as.FrozenPrice
			continue
		}
		assetPrices := snapshot[assetID]
		if len(assetPrices) == 0 {
			missing = append(missing, assetID)
			continue
		}
		prices := make([]decimal.Decimal, 0, len(assetPrices))
		for _, ap := range assetPrices {
			prices = append(prices, ap.Price)
		}
		middle, err := TrimmedMeanPrice(assetID, prices)
		if err != nil {
			return nil, nil, err
		}
		usable[assetID] = middle
	}
	return usable, missing, nil
}

func frozenConstituents(settings *models.Settings, weights models.Weights) []string {
	var frozen []string
	for _, aw := range weights {
		if as := settings.AssetSettingsFor(aw.AssetID); as != nil && as.IsDisabled {
			frozen = append(frozen, aw.AssetID)
		}
	}
	return frozen
}

// beforeDay reports whether a's calendar date is earlier than b's.
func beforeDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

// timeOfDay returns the offset from midnight UTC.
func timeOfDay(t time.Time) time.Duration {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return u.Sub(midnight)
}
