package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by job ID, so all
// events of one job land on the same partition in order.
type KafkaPublisher struct {
	w     MessageWriter
	topic string
	log   zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{Dial: dialer.DialFunc},
	}
	log = log.With().Str("component", "kafka").Logger()
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("kafka publisher initialized")
	return newKafkaPublisher(w, topic, log)
}

func newKafkaPublisher(w MessageWriter, topic string, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.JobID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(e.Type)},
			{Key: "eventId", Value: []byte(e.ID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	p.log.Debug().Str("type", e.Type).Str("job_id", e.JobID).Msg("event published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
