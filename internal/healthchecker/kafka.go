package healthchecker

import (
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var healthcheckerMsg = "healthchecker msg"

func CheckKafkaProducer() error {
	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("failed to create new kafka producer client", zap.String("error", err.Error()))
		return err
	}

	defer func() {
		_ = kafkaProducer.Close()
	}()

	_, _, err = kafkaProducer.SendMessage(
		config.Conf.KafkaEventTopic,
		[]byte(uuid.New().String()),
		[]byte(healthcheckerMsg),
	)

	return err
}
