package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/selivandex/crypto-index/pkg/models"
)

// SettingsRepository persists the settings document as a single JSONB row
// per index and caches it in memory. A missing row reads as safe defaults.
type SettingsRepository struct {
	db   *sqlx.DB
	name string

	mu     sync.Mutex
	cached *models.Settings
}

// NewSettingsRepository creates a settings repository for one index.
func NewSettingsRepository(db *sqlx.DB, indexName string) *SettingsRepository {
	return &SettingsRepository{db: db, name: indexName}
}

// Get returns a copy of the cached settings, loading them on first use.
func (r *SettingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return r.cached.Clone(), nil
	}

	var doc []byte
	err := r.db.GetContext(ctx, &doc,
		`SELECT doc FROM index_settings WHERE index_name = $1`, r.name)
	if errors.Is(err, sql.ErrNoRows) {
		r.cached = models.DefaultSettings()
		return r.cached.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var settings models.Settings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	r.cached = &settings
	return r.cached.Clone(), nil
}

// Set persists the settings and replaces the cached document.
func (r *SettingsRepository) Set(ctx context.Context, settings *models.Settings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO index_settings (index_name, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (index_name) DO UPDATE SET doc = $2, updated_at = NOW()
	`, r.name, doc)
	if err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}

	r.mu.Lock()
	r.cached = settings.Clone()
	r.mu.Unlock()
	return nil
}

// StateRepository keeps the single latest index state row, upserted on every
// committed cycle so a crash mid-cycle cannot leave a partial state.
type StateRepository struct {
	db   *sqlx.DB
	name string
}

// NewStateRepository creates a state repository for one index.
func NewStateRepository(db *sqlx.DB, indexName string) *StateRepository {
	return &StateRepository{db: db, name: indexName}
}

// Get returns the current state, or (nil, nil) when none exists.
func (r *StateRepository) Get(ctx context.Context) (*models.IndexState, error) {
	var row struct {
		Value        decimal.Decimal `db:"value"`
		MiddlePrices []byte          `db:"middle_prices"`
		FrozenAssets []byte          `db:"frozen_assets"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT value, middle_prices, frozen_assets
		FROM index_state WHERE index_name = $1
	`, r.name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index state: %w", err)
	}

	state := &models.IndexState{Value: row.Value}
	if err := json.Unmarshal(row.MiddlePrices, &state.MiddlePrices); err != nil {
		return nil, fmt.Errorf("failed to decode middle prices: %w", err)
	}
	if err := json.Unmarshal(row.FrozenAssets, &state.FrozenAssets); err != nil {
		return nil, fmt.Errorf("failed to decode frozen assets: %w", err)
	}
	return state, nil
}

// Set upserts the state row.
func (r *StateRepository) Set(ctx context.Context, state *models.IndexState) error {
	middlePrices, err := json.Marshal(state.MiddlePrices)
	if err != nil {
		return fmt.Errorf("failed to encode middle prices: %w", err)
	}
	frozenAssets, err := json.Marshal(state.FrozenAssets)
	if err != nil {
		return fmt.Errorf("failed to encode frozen assets: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO index_state (index_name, value, middle_prices, frozen_assets, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (index_name) DO UPDATE
		SET value = $2, middle_prices = $3, frozen_assets = $4, updated_at = NOW()
	`, r.name, state.Value, middlePrices, frozenAssets)
	if err != nil {
		return fmt.Errorf("failed to persist index state: %w", err)
	}
	return nil
}

// Clear removes the state row.
func (r *StateRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM index_state WHERE index_name = $1`, r.name)
	if err != nil {
		return fmt.Errorf("failed to clear index state: %w", err)
	}
	return nil
}

// WarningRepository is the durable, queryable anomaly trail.
type WarningRepository struct {
	db   *sqlx.DB
	name string
}

// NewWarningRepository creates a warning repository for one index.
func NewWarningRepository(db *sqlx.DB, indexName string) *WarningRepository {
	return &WarningRepository{db: db, name: indexName}
}

// Record appends one warning.
func (r *WarningRepository) Record(ctx context.Context, message string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO index_warnings (index_name, message, created_at)
		VALUES ($1, $2, $3)
	`, r.name, message, at)
	if err != nil {
		return fmt.Errorf("failed to record warning: %w", err)
	}
	return nil
}

// TakeLast returns the n most recent warnings, newest first.
func (r *WarningRepository) TakeLast(ctx context.Context, n int) ([]models.Warning, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT message, created_at
		FROM index_warnings
		WHERE index_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, r.name, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	warnings := []models.Warning{}
	for rows.Next() {
		var w models.Warning
		if err := rows.Scan(&w.Message, &w.Time); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}
