package scheduler

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"go.uber.org/zap"
)

// Worker drives the tick loop on a fixed interval until the context is
// canceled.
type Worker struct {
	Service  *Service
	Interval time.Duration
	Limit    int
}

func NewWorker(service *Service) *Worker {
	return &Worker{
		Service:  service,
		Interval: time.Duration(config.Conf.TickIntervalSeconds) * time.Second,
		Limit:    config.Conf.TickLimit,
	}
}

func (w *Worker) Run(ctx context.Context) {
	logging.Logger.Info("scheduler worker started",
		zap.Duration("interval", w.Interval),
		zap.Int("limit", w.Limit),
	)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info("scheduler worker stopping (context canceled)")
			return
		case <-ticker.C:
			_, err := w.Service.Tick(ctx, w.Limit)
			if err != nil {
				logging.Logger.Error("tick failed", zap.String("error", err.Error()))
			}
		}
	}
}
