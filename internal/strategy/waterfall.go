package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
)

// Stage is one extraction technique in a waterfall.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (*entity.ExtractionResult, error)
}

// RunWaterfall tries stages in order and returns the first result that has a
// title and a non-zero price. Stages after a winning one never run. When no
// stage wins, the last stage error (if any) is returned.
func RunWaterfall(ctx context.Context, logger *zap.Logger, stages ...Stage) (*entity.ExtractionResult, error) {
	var lastErr error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := stage.Run(ctx)
		if err != nil {
			logger.Debug("waterfall stage failed", zap.String("stage", stage.Name), zap.Error(err))
			lastErr = err
			continue
		}
		if res.IsValid() {
			if res.Source == "" {
				res.Source = stage.Name
			}
			logger.Debug("waterfall stage matched", zap.String("stage", stage.Name), zap.String("price", res.Price))
			return res, nil
		}
	}
	return nil, lastErr
}
