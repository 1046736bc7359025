package marketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/selivandex/crypto-index/internal/adapters/config"
	"github.com/selivandex/crypto-index/pkg/models"
)

// CoinGeckoProvider fetches the market-capitalization universe from the
// CoinGecko API (free, no API key needed).
type CoinGeckoProvider struct {
	client   *http.Client
	baseURL  string
	currency string
	pageSize int
}

// NewCoinGeckoProvider creates new CoinGecko market-cap provider
func NewCoinGeckoProvider(cfg *config.MarketCapConfig) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		currency: cfg.Currency,
		pageSize: cfg.PageSize,
	}
}

// GetName returns the provider label.
func (cg *CoinGeckoProvider) GetName() string {
	return "CoinGecko"
}

type coinGeckoMarket struct {
	Symbol            string  `json:"symbol"`
	MarketCap         float64 `json:"market_cap"`
	CirculatingSupply float64 `json:"circulating_supply"`
}

// GetAll returns the current universe: per-asset market cap and circulating
// supply, denominated in USD. Transport failures surface as errors; the
// engine keeps its previous universe.
func (cg *CoinGeckoProvider) GetAll(ctx context.Context) ([]models.AssetMarketCap, error) {
	url := fmt.Sprintf("%s/coins/markets?vs_currency=%s&order=market_cap_desc&per_page=%d&page=1",
		cg.baseURL, cg.currency, cg.pageSize)

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := cg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var markets []coinGeckoMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	universe := make([]models.AssetMarketCap, 0, len(markets))
	for _, m := range markets {
		if m.Symbol == "" || m.CirculatingSupply <= 0 {
			continue
		}
		universe = append(universe, models.AssetMarketCap{
			AssetID: strings.ToUpper(m.Symbol),
			MarketCap: models.Money{
				Amount:   models.NewDecimal(m.MarketCap),
				Currency: models.USD,
			},
			CirculatingSupply: models.NewDecimal(m.CirculatingSupply),
		})
	}

	return universe, nil
}
