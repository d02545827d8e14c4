package chime

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/events"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/httpapi"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/minio"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/recordings"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/scheduler"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/twilio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrMissingPostgresConfig = errors.New("postgres connection settings are required")
	ErrMissingTwilioConfig   = errors.New("twilio credentials and app base url are required unless mock mode is enabled")
)

type Chime struct {
	DBConn               *gorm.DB
	Store                *reminder.Repository
	Policy               reminder.Policy
	Dialer               twilio.Dialer
	KafkaProducer        *kafka.Producer
	MinioClient          *minio.MinioClient
	Archiver             *recordings.Archiver
	Outcomes             *reminder.OutcomeService
	SchedulerService     *scheduler.Service
	SchedulerWorker      *scheduler.Worker
	HTTPServer           *httpapi.Server
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFunc context.CancelFunc) (*Chime, error) {
	logging.Logger.Info("[NewApp] Initializing Chime application...")

	err := validateRequiredConfig()
	if err != nil {
		return nil, err
	}

	healthcheckerService := healthchecker.NewService(ctxCancelFunc)

	logging.Logger.Info("[NewApp] Health checker service created")

	dbConn, err := database.NewDatabase()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize database", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Database connection established")

	store := reminder.NewRepository(dbConn)
	policy := buildPolicy()
	dialer := twilio.NewDialer()

	kafkaProducer, publisher, err := initializePublisher()
	if err != nil {
		return nil, err
	}

	minioClient, archiver, err := initializeArchiver()
	if err != nil {
		return nil, err
	}

	outcomes := reminder.NewOutcomeService(store, policy, publisher)

	schedulerService, err := scheduler.NewService(store, policy, dialer, outcomes, config.Conf.DispatchPoolSize)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create scheduler service", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Scheduler service created",
		zap.Int("dispatch_pool_size", config.Conf.DispatchPoolSize),
	)

	schedulerWorker := scheduler.NewWorker(schedulerService)
	httpServer := httpapi.NewServer(store, schedulerService, outcomes, archiver)

	logging.Logger.Info("[NewApp] Initializing circuit breakers...")
	circuitbreak.Init()
	logging.Logger.Info("[NewApp] Circuit breakers initialized")

	return &Chime{
		DBConn:               dbConn,
		Store:                store,
		Policy:               policy,
		Dialer:               dialer,
		KafkaProducer:        kafkaProducer,
		MinioClient:          minioClient,
		Archiver:             archiver,
		Outcomes:             outcomes,
		SchedulerService:     schedulerService,
		SchedulerWorker:      schedulerWorker,
		HTTPServer:           httpServer,
		HealthCheckerService: healthcheckerService,
	}, nil
}

func validateRequiredConfig() error {
	if config.Conf.PostgresHost == "" || config.Conf.PostgresDatabase == "" {
		return ErrMissingPostgresConfig
	}

	if config.Conf.TwilioMock {
		return nil
	}

	if config.Conf.TwilioAccountSID == "" ||
		config.Conf.TwilioAuthToken == "" ||
		config.Conf.TwilioPhoneNumber == "" ||
		config.Conf.AppBaseURL == "" {
		return ErrMissingTwilioConfig
	}

	return nil
}

func buildPolicy() reminder.Policy {
	return reminder.Policy{
		MaxPrimaryAttempts: config.Conf.MaxPrimaryAttempts,
		MaxBackupAttempts:  config.Conf.MaxBackupAttempts,
		RetryDelay:         time.Duration(config.Conf.RetryDelaySeconds) * time.Second,
		SnoozeDelay:        time.Duration(config.Conf.SnoozeDelayMinutes) * time.Minute,
		StuckCallTimeout:   time.Duration(config.Conf.StuckCallTimeoutMin) * time.Minute,
	}
}

func initializePublisher() (*kafka.Producer, events.Publisher, error) {
	if config.Conf.KafkaBootstrapServer == "" {
		logging.Logger.Info("[NewApp] Kafka bootstrap server not configured, transition events disabled")
		return nil, events.NoopPublisher{}, nil
	}

	logging.Logger.Info("[NewApp] Creating Kafka producer...")

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka producer", zap.Error(err))
		return nil, nil, err
	}

	logging.Logger.Info("[NewApp] Kafka producer created")

	return kafkaProducer, events.NewKafkaPublisher(kafkaProducer), nil
}

func initializeArchiver() (*minio.MinioClient, *recordings.Archiver, error) {
	if config.Conf.MinioEndpointURL == "" {
		logging.Logger.Info("[NewApp] MinIO endpoint not configured, recording archival disabled")
		return nil, nil, nil
	}

	logging.Logger.Info("[NewApp] Creating MinIO client...")

	minioClient, err := minio.NewMinioClient()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize MinIO client", zap.Error(err))
		return nil, nil, err
	}

	archiver, err := recordings.NewArchiver(minioClient)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create recording archiver", zap.Error(err))
		return nil, nil, err
	}

	logging.Logger.Info("[NewApp] Recording archiver created")

	return minioClient, archiver, nil
}

func (app *Chime) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	logging.Logger.Info("[Run] Starting health checker monitor goroutine")

	go app.HealthCheckerService.Monitor()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		app.SchedulerWorker.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		return app.HTTPServer.Run(groupCtx)
	})

	err := group.Wait()

	app.shutdown()

	return err
}

func (app *Chime) shutdown() {
	logging.Logger.Info("[Run] Shutting down...")

	app.SchedulerService.Close()
	app.Archiver.Close()

	if app.KafkaProducer != nil {
		_ = app.KafkaProducer.Close()
	}

	logging.Logger.Info("[Run] Shutdown complete")
}
