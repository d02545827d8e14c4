package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	AppBaseURL string `mapstructure:"app_base_url"`
	HTTPPort   string `mapstructure:"http_port"`

	PostgresHost            string `mapstructure:"postgres_host"`
	PostgresUsername        string `mapstructure:"postgres_username"`
	PostgresPassword        string `mapstructure:"postgres_password"`
	PostgresPort            string `mapstructure:"postgres_port"`
	PostgresDatabase        string `mapstructure:"postgres_database"`
	DBIntervalCB            uint32 `mapstructure:"db_interval_cb"`
	DBConsecutiveFailuresCB uint32 `mapstructure:"db_consecutive_failures_cb"`

	TwilioAccountSID            string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken             string `mapstructure:"twilio_auth_token"`
	TwilioPhoneNumber           string `mapstructure:"twilio_phone_number"`
	TwilioBaseUrl               string `mapstructure:"twilio_base_url"`
	TwilioTimeout               int    `mapstructure:"twilio_timeout"`
	TwilioMock                  bool   `mapstructure:"twilio_mock"`
	TwilioRetryMaxAttempts      uint   `mapstructure:"twilio_retry_max_attempts"`
	TwilioRetryBackoffMin       int    `mapstructure:"twilio_retry_backoff_min"`
	TwilioRetryBackoffMax       int    `mapstructure:"twilio_retry_backoff_max"`
	TwilioIntervalCB            uint32 `mapstructure:"twilio_interval_cb"`
	TwilioConsecutiveFailuresCB uint32 `mapstructure:"twilio_consecutive_failures_cb"`

	MaxPrimaryAttempts  int `mapstructure:"max_primary_attempts"  validate:"omitempty,min=1"`
	MaxBackupAttempts   int `mapstructure:"max_backup_attempts"   validate:"omitempty,min=1"`
	RetryDelaySeconds   int `mapstructure:"retry_delay_seconds"`
	SnoozeDelayMinutes  int `mapstructure:"snooze_delay_minutes"`
	StuckCallTimeoutMin int `mapstructure:"stuck_call_timeout_minutes"`

	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
	TickLimit           int `mapstructure:"tick_limit"`
	DispatchPoolSize    int `mapstructure:"dispatch_pool_size"`

	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"`
	KafkaUsername              string `mapstructure:"kafka_username"`
	KafkaPassword              string `mapstructure:"kafka_password"`
	KafkaEventTopic            string `mapstructure:"kafka_event_topic"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	MinioEndpointURL           string `mapstructure:"minio_endpoint_url"`
	MinioAccessKey             string `mapstructure:"minio_access_key"`
	MinioSecretKey             string `mapstructure:"minio_secret_key"`
	MinioBucketName            string `mapstructure:"minio_bucket_name"`
	MinioPathPrefix            string `mapstructure:"minio_path_prefix"`
	MinioTimeout               int    `mapstructure:"minio_timeout"`
	MinioMaxRetryAttempts      uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMin       int    `mapstructure:"minio_retry_backoff_min"`
	MinioRetryBackoffMax       int    `mapstructure:"minio_retry_backoff_max"`
	MinioIntervalCB            uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB uint32 `mapstructure:"minio_consecutive_failures_cb"`
	RecordingPoolSize          int    `mapstructure:"recording_pool_size"`

	LogLevel    string `mapstructure:"log_level"    validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFilePath string `mapstructure:"log_file_path"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return err
	}

	return nil
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	viper.SetDefault("TWILIO_TIMEOUT", "30")
	viper.SetDefault("TWILIO_MOCK", "false")
	viper.SetDefault("TWILIO_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("TWILIO_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("TWILIO_RETRY_BACKOFF_MAX", "10")
	viper.SetDefault("TWILIO_INTERVAL_CB", "30")
	viper.SetDefault("TWILIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("MAX_PRIMARY_ATTEMPTS", "1")
	viper.SetDefault("MAX_BACKUP_ATTEMPTS", "1")
	viper.SetDefault("RETRY_DELAY_SECONDS", "60")
	viper.SetDefault("SNOOZE_DELAY_MINUTES", "60")
	viper.SetDefault("STUCK_CALL_TIMEOUT_MINUTES", "10")
	viper.SetDefault("TICK_INTERVAL_SECONDS", "30")
	viper.SetDefault("TICK_LIMIT", "10")
	viper.SetDefault("DISPATCH_POOL_SIZE", "10")
	viper.SetDefault("RECORDING_POOL_SIZE", "3")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX", "10")
	viper.SetDefault("MINIO_PATH_PREFIX", "recordings")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("KAFKA_EVENT_TOPIC", "chime.reminder.transitions")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("DB_INTERVAL_CB", "30")
	viper.SetDefault("DB_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
