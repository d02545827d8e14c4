package circuitbreak

import "git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"

var CircuitBreakChan chan string

const (
	DBService            = "database"
	TwilioService        = "twilio"
	KafkaProducerService = "kafka_producer"
	MinioService         = "minio"
)

func Init() {
	CircuitBreakChan = make(chan string)
}

func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Fatal("chime app is not created")
	}

	CircuitBreakChan <- service
}
