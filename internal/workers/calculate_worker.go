package workers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/internal/index"
	"github.com/selivandex/crypto-index/pkg/logger"
)

// CalculateWorker drives the fast index recomputation cadence.
type CalculateWorker struct {
	engine *index.Engine
}

// NewCalculateWorker creates new calculate worker
func NewCalculateWorker(engine *index.Engine) *CalculateWorker {
	return &CalculateWorker{engine: engine}
}

// Name returns worker name for logging
func (w *CalculateWorker) Name() string {
	return "index-calculate"
}

// Run executes one calculation cycle. A configuration inconsistency means
// upstream data assembly is broken; that is never retried silently.
func (w *CalculateWorker) Run(ctx context.Context) error {
	err := w.engine.RunCalculate(ctx)
	if errors.Is(err, index.ErrInvalidInput) {
		logger.Fatal("fatal index configuration inconsistency",
			zap.Error(err),
		)
	}
	return err
}
