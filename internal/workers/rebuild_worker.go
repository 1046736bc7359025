package workers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/internal/index"
	"github.com/selivandex/crypto-index/pkg/logger"
)

// RebuildWorker checks the daily constituent-rebuild trigger.
type RebuildWorker struct {
	engine *index.Engine
}

// NewRebuildWorker creates new rebuild worker
func NewRebuildWorker(engine *index.Engine) *RebuildWorker {
	return &RebuildWorker{engine: engine}
}

// Name returns worker name for logging
func (w *RebuildWorker) Name() string {
	return "index-rebuild"
}

// Run executes one rebuild check.
func (w *RebuildWorker) Run(ctx context.Context) error {
	err := w.engine.RunRebuild(ctx)
	if errors.Is(err, index.ErrInvalidInput) {
		logger.Fatal("fatal index configuration inconsistency",
			zap.Error(err),
		)
	}
	return err
}
