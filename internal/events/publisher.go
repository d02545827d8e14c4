package events

import (
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TransitionEvent records a reminder status change for downstream consumers
// (audit pipelines, notification fan-out). Publishing is fire-and-forget and
// never blocks a state transition.
type TransitionEvent struct {
	ReminderID string    `json:"reminder_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Target     string    `json:"target,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	CallSID    string    `json:"call_sid,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishTransition(event TransitionEvent)
}

// NoopPublisher is used when no Kafka bootstrap server is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransition(event TransitionEvent) {}

type KafkaPublisher struct {
	Producer *kafka.Producer
	Topic    string
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{
		Producer: producer,
		Topic:    config.Conf.KafkaEventTopic,
	}
}

func (p *KafkaPublisher) PublishTransition(event TransitionEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logging.Logger.Error("failed to marshal transition event",
			zap.String("reminder_id", event.ReminderID),
			zap.String("error", err.Error()),
		)

		return
	}

	p.Producer.Produce(p.Topic, event.ReminderID, payload)
}
