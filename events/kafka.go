package events

import (
	"context"
	"encoding/json"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"chatserver/models"
)

// KafkaBus publishes events to a topic. Paired with a Reader on every
// instance, it gives multi-instance deployments a shared fan-out path.
type KafkaBus struct {
	writer *kafka.Writer
	dlq    *kafka.Writer
	logger *zap.Logger
}

func NewKafkaBus(broker, topic, dlqTopic string, logger *zap.Logger) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		dlq: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    dlqTopic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, ev models.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Name),
		Value: value,
	})
}

// PublishDLQ parks an event that could not be delivered, tagged with the
// failure reason for later inspection.
func (b *KafkaBus) PublishDLQ(ctx context.Context, ev models.Event, reason string) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.dlq.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.Name),
		Value:   value,
		Headers: []kafka.Header{{Key: "reason", Value: []byte(reason)}},
	})
}

func (b *KafkaBus) Close() error {
	err := b.writer.Close()
	if derr := b.dlq.Close(); err == nil {
		err = derr
	}
	return err
}

// Reader consumes the topic back into the broadcast channel until ctx is
// canceled.
func Reader(ctx context.Context, broker, topic string, broadcast chan<- models.Event, logger *zap.Logger) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()
	logger.Info("kafka event reader started", zap.String("topic", topic))

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("kafka read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			logger.Error("kafka event unmarshal failed", zap.Error(err),
				zap.Int64("offset", m.Offset))
			continue
		}
		select {
		case broadcast <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// CheckLag probes broker reachability for the readiness endpoint.
func CheckLag(ctx context.Context, broker, topic string) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1,
	})
	defer r.Close()
	_, err := r.ReadLag(ctx)
	return err
}
