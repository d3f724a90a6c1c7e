// Package kafka exports domain events to Kafka as JSON envelopes. The export
// is one-way: downstream consumers (SIEMs, audit pipelines, dashboards)
// subscribe to the topics; the orchestration core never consumes them.
package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
)

// Config contains the settings needed to establish the Kafka producer and the
// topics each event category is routed to.
type Config struct {
	// Brokers is the list of broker addresses to bootstrap from.
	Brokers []string

	// JobLifecycleTopic receives job state transition events.
	JobLifecycleTopic string

	// FindingsTopic receives finding-recorded events.
	FindingsTopic string

	// AlertsTopic receives alert-fired events.
	AlertsTopic string

	// ClientID identifies this producer to the brokers.
	ClientID string
}

// NewProducer creates a synchronous Kafka producer configured for durable
// publishing: full-ISR acks and bounded retries.
func NewProducer(cfg *Config) (sarama.SyncProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return producer, nil
}
