package repository

import (
	"context"

	"OBFlow/internal/domain/models"
	domrepo "OBFlow/internal/domain/repository"
	pkgkafka "OBFlow/pkg/kafka"
	applogger "OBFlow/pkg/logger"
)

// KafkaNotifier publishes engine events to a Kafka topic, keyed by symbol
// so events for one symbol stay ordered within a partition. Publishing is
// best-effort: failures are logged and dropped, never surfaced to lanes.
type KafkaNotifier struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

func NewKafkaNotifier(producer *pkgkafka.Producer, topic string, l *applogger.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, l: l}
}

var _ domrepo.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) Notify(ctx context.Context, ev models.EngineEvent) {
	if err := n.producer.Publish(ctx, n.topic, []byte(ev.Symbol), ev); err != nil {
		if n.l != nil {
			n.l.Warn("kafka notify failed",
				applogger.String("topic", n.topic),
				applogger.String("kind", string(ev.Kind)),
				applogger.String("symbol", ev.Symbol),
				applogger.Error(err),
			)
		}
	}
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}

// NopNotifier drops every event. Used when Kafka is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, models.EngineEvent) {}
func (NopNotifier) Close() error                               { return nil }
