package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/internal/adapters/feed"
	"github.com/selivandex/crypto-index/internal/index"
	"github.com/selivandex/crypto-index/pkg/logger"
)

// FeedWorker drains the websocket tick feed into the price cache.
type FeedWorker struct {
	ws    *feed.BitfinexWebSocket
	cache *index.PriceCache
}

// NewFeedWorker creates new feed worker
func NewFeedWorker(ws *feed.BitfinexWebSocket, cache *index.PriceCache) *FeedWorker {
	return &FeedWorker{ws: ws, cache: cache}
}

// Name returns worker name for logging
func (w *FeedWorker) Name() string {
	return "tick-feed"
}

// Run connects the feed and ingests ticks until the context ends.
func (w *FeedWorker) Run(ctx context.Context) error {
	logger.Info("starting tick feed worker")

	if err := w.ws.Connect(); err != nil {
		return err
	}
	defer w.ws.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Info("tick feed worker stopping")
			return nil

		case tick := <-w.ws.Ticks():
			w.cache.Ingest(tick)

		case err := <-w.ws.Errors():
			logger.Error("tick feed error",
				zap.Error(err),
			)
			// The feed reconnects on its own.
		}
	}
}
