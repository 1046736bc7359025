package index

import (
	"context"
	"errors"
	"time"

	"github.com/selivandex/crypto-index/pkg/models"
)

// SettingsStore loads and persists the index settings document. Get returns
// safe defaults when no record exists yet.
type SettingsStore interface {
	Get(ctx context.Context) (*models.Settings, error)
	Set(ctx context.Context, settings *models.Settings) error
}

// StateStore keeps the single latest IndexState. Get returns (nil, nil) when
// no state exists (fresh start or after reset).
type StateStore interface {
	Get(ctx context.Context) (*models.IndexState, error)
	Set(ctx context.Context, state *models.IndexState) error
	Clear(ctx context.Context) error
}

// HistoryStore is the append-only record of committed cycles.
type HistoryStore interface {
	Append(ctx context.Context, record *models.IndexHistory) error
	TakeLast(ctx context.Context, n int, since *time.Time) ([]models.IndexHistory, error)
}

// WarningSink is the append-only anomaly trail.
type WarningSink interface {
	Record(ctx context.Context, message string, at time.Time) error
}

// MarketCapProvider returns the current market-cap universe. Transport
// failures surface as errors; the engine keeps its stale universe.
type MarketCapProvider interface {
	GetAll(ctx context.Context) ([]models.AssetMarketCap, error)
}

// Publisher receives the index tick of every committed cycle.
type Publisher interface {
	Publish(ctx context.Context, tick *models.IndexTick) error
}

// MultiPublisher fans a tick out to several publishers.
type MultiPublisher []Publisher

// Publish delivers to every publisher and joins their errors.
func (m MultiPublisher) Publish(ctx context.Context, tick *models.IndexTick) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, tick); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiWarningSink fans a warning out to several sinks.
type MultiWarningSink []WarningSink

// Record delivers to every sink and joins their errors.
func (m MultiWarningSink) Record(ctx context.Context, message string, at time.Time) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, message, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
