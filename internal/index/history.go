package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/selivandex/crypto-index/pkg/models"
)

// HistoryRepository stores one immutable record per committed cycle in
// ClickHouse. Only the final commit step writes here, so a crash earlier in
// a cycle is indistinguishable from a skipped cycle.
type HistoryRepository struct {
	db   *sqlx.DB
	name string
}

// NewHistoryRepository creates a history repository for one index.
func NewHistoryRepository(db *sqlx.DB, indexName string) *HistoryRepository {
	return &HistoryRepository{db: db, name: indexName}
}

// EnsureSchema creates the history table if it does not exist.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_history (
			index_name     String,
			time           DateTime64(3, 'UTC'),
			value          Float64,
			weights        String,
			market_caps    String,
			tick_prices    String,
			asset_prices   String,
			middle_prices  String,
			asset_settings String
		)
		ENGINE = MergeTree()
		ORDER BY (index_name, time)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure index_history schema: %w", err)
	}
	return nil
}

// Append writes one history record.
func (r *HistoryRepository) Append(ctx context.Context, record *models.IndexHistory) error {
	weights, err := json.Marshal(record.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	marketCaps, err := json.Marshal(record.MarketCaps)
	if err != nil {
		return fmt.Errorf("failed to encode market caps: %w", err)
	}
	tickPrices, err := json.Marshal(record.TickPrices)
	if err != nil {
		return fmt.Errorf("failed to encode tick prices: %w", err)
	}
	assetPrices, err := json.Marshal(record.AssetPrices)
	if err != nil {
		return fmt.Errorf("failed to encode asset prices: %w", err)
	}
	middlePrices, err := json.Marshal(record.MiddlePrices)
	if err != nil {
		return fmt.Errorf("failed to encode middle prices: %w", err)
	}
	assetSettings, err := json.Marshal(record.AssetSettings)
	if err != nil {
		return fmt.Errorf("failed to encode asset settings: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO index_history
		(index_name, time, value, weights, market_caps, tick_prices, asset_prices, middle_prices, asset_settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.name,
		record.Time,
		record.Value.InexactFloat64(),
		string(weights),
		string(marketCaps),
		string(tickPrices),
		string(assetPrices),
		string(middlePrices),
		string(assetSettings),
	)
	if err != nil {
		return fmt.Errorf("failed to append index history: %w", err)
	}
	return nil
}

// TakeLast returns up to n most recent records, newest first, optionally
// bounded below by since. The engine uses it at start-up to recover the last
// committed constituent set.
func (r *HistoryRepository) TakeLast(ctx context.Context, n int, since *time.Time) ([]models.IndexHistory, error) {
	query := `
		SELECT time, value, weights, market_caps, tick_prices, asset_prices, middle_prices, asset_settings
		FROM index_history
		WHERE index_name = ?
	`
	args := []interface{}{r.name}
	if since != nil {
		query += ` AND time >= ?`
		args = append(args, *since)
	}
	query += ` ORDER BY time DESC LIMIT ?`
	args = append(args, n)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index history: %w", err)
	}
	defer rows.Close()

	records := []models.IndexHistory{}
	for rows.Next() {
		var (
			rec           models.IndexHistory
			value         float64
			weights       string
			marketCaps    string
			tickPrices    string
			assetPrices   string
			middlePrices  string
			assetSettings string
		)
		if err := rows.Scan(&rec.Time, &value, &weights, &marketCaps,
			&tickPrices, &assetPrices, &middlePrices, &assetSettings); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Value = models.NewDecimal(value)
		if err := json.Unmarshal([]byte(weights), &rec.Weights); err != nil {
			return nil, fmt.Errorf("failed to decode weights: %w", err)
		}
		if err := json.Unmarshal([]byte(marketCaps), &rec.MarketCaps); err != nil {
			return nil, fmt.Errorf("failed to decode market caps: %w", err)
		}
		if err := json.Unmarshal([]byte(tickPrices), &rec.TickPrices); err != nil {
			return nil, fmt.Errorf("failed to decode tick prices: %w", err)
		}
		if err := json.Unmarshal([]byte(assetPrices), &rec.AssetPrices); err != nil {
			return nil, fmt.Errorf("failed to decode asset prices: %w", err)
		}
		if err := json.Unmarshal([]byte(middlePrices), &rec.MiddlePrices); err != nil {
			return nil, fmt.Errorf("failed to decode middle prices: %w", err)
		}
		if err := json.Unmarshal([]byte(assetSettings), &rec.AssetSettings); err != nil {
			return nil, fmt.Errorf("failed to decode asset settings: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
