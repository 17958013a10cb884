package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// MQTTClient is the subset of mqttclient.Client used for publishing.
type MQTTClient interface {
	Topic(parts ...string) string
	Publish(topic string, retained bool, payload []byte) error
}

// MQTTPublisher publishes events to <prefix>/<type path>/<job id>, e.g.
// talkpace/job/completed/7f1c...
type MQTTPublisher struct {
	client MQTTClient
}

func NewMQTTPublisher(c MQTTClient) *MQTTPublisher {
	return &MQTTPublisher{client: c}
}

func (p *MQTTPublisher) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(p.client.Topic(e.Type, e.JobID), false, payload)
}
