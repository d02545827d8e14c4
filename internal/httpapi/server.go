package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/recordings"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// Server exposes the reminder CRUD surface, the manual tick trigger and the
// voice webhooks the telephony provider calls back into.
type Server struct {
	Store     reminder.Store
	Scheduler *scheduler.Service
	Outcomes  *reminder.OutcomeService
	Archiver  *recordings.Archiver

	httpServer *http.Server
}

func NewServer(
	store reminder.Store,
	schedulerService *scheduler.Service,
	outcomes *reminder.OutcomeService,
	archiver *recordings.Archiver,
) *Server {
	return &Server{
		Store:     store,
		Scheduler: schedulerService,
		Outcomes:  outcomes,
		Archiver:  archiver,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Healthz)

	router.POST("/reminders", s.CreateReminder)
	router.GET("/reminders", s.ListReminders)
	router.GET("/reminders/:id", s.GetReminder)
	router.POST("/reminders/:id/call-now", s.CallNow)

	router.POST("/scheduler/tick", s.TriggerTick)

	router.POST("/voice/answer", s.VoiceAnswer)
	router.POST("/voice/gather", s.VoiceGather)
	router.POST("/voice/status", s.VoiceStatus)

	return router
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              ":" + config.Conf.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		logging.Logger.Info("start http server on port " + config.Conf.HTTPPort)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
