package main

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/chime"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/prometheus"
	"go.uber.org/zap"
)

func main() {
	go prometheus.Run()

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := chime.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create chime app", zap.String("error", err.Error()))
		}

		err = app.Run(ctx)
		if err != nil {
			logging.Logger.Error("app run returned error", zap.String("error", err.Error()))
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
