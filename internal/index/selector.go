package index

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/pkg/models"
)

// weightPrecision is the number of decimal places index weights carry.
const weightPrecision = 8

// ConstituentSelector converts a whitelist plus supplies and usable prices
// into a ranked, weighted constituent set.
type ConstituentSelector struct{}

// NewConstituentSelector creates a selector.
func NewConstituentSelector() *ConstituentSelector {
	return &ConstituentSelector{}
}

// ComputeWeights ranks the whitelist by market capitalization (usable price
// times circulating supply, in USD), selects the top topCount assets and
// weights them by their share of the selected set's total capitalization.
//
// The whitelist, supplies and prices must cover exactly the same assets; a
// mismatch means upstream data loss and is a fatal configuration error, not
// a condition to retry. topCount <= 0 selects the whole whitelist.
//
// Returns the ordered weight map (descending, ties kept in whitelist order)
// and the full market-cap list in whitelist order.
func (s *ConstituentSelector) ComputeWeights(
	whitelist []string,
	supplies map[string]decimal.Decimal,
	usablePrices map[string]decimal.Decimal,
	topCount int,
) (models.Weights, []models.AssetMarketCap, error) {
	if len(whitelist) != len(supplies) || len(whitelist) != len(usablePrices) {
		return nil, nil, fmt.Errorf("%w: mismatched sets: whitelist=%d supplies=%d prices=%d",
			ErrInvalidInput, len(whitelist), len(supplies), len(usablePrices))
	}
	if len(whitelist) == 0 {
		return nil, nil, fmt.Errorf("%w: empty whitelist", ErrInvalidInput)
	}

	marketCaps := make([]models.AssetMarketCap, 0, len(whitelist))
	for _, assetID := range whitelist {
		supply, ok := supplies[assetID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no supply for asset %s", ErrInvalidInput, assetID)
		}
		price, ok := usablePrices[assetID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no usable price for asset %s", ErrInvalidInput, assetID)
		}
		marketCaps = append(marketCaps, models.AssetMarketCap{
			AssetID:           assetID,
			MarketCap:         models.Money{Amount: price.Mul(supply), Currency: models.USD},
			CirculatingSupply: supply,
		})
	}

	ranked := make([]models.AssetMarketCap, len(marketCaps))
	copy(ranked, marketCaps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MarketCap.Amount.GreaterThan(ranked[j].MarketCap.Amount)
	})

	if topCount > 0 && topCount < len(ranked) {
		ranked = ranked[:topCount]
	}

	total := decimal.Zero
	for _, mc := range ranked {
		total = total.Add(mc.MarketCap.Amount)
	}
	if !total.IsPositive() {
		return nil, nil, fmt.Errorf("%w: total market cap is not positive", ErrInvalidInput)
	}

	weights := make(models.Weights, 0, len(ranked))
	for _, mc := range ranked {
		weights = append(weights, models.AssetWeight{
			AssetID: mc.AssetID,
			Weight:  mc.MarketCap.Amount.Div(total).Round(weightPrecision),
		})
	}

	return weights, marketCaps, nil
}
