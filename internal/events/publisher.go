// Package events publishes settlement outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Outcome is the envelope published once per terminal settlement attempt.
type Outcome struct {
	Type          string    `json:"type"`
	SpendTxHash   string    `json:"spendTxHash"`
	SpendChainID  int64     `json:"spendChainId"`
	AccountID     string    `json:"accountId,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	SpendAmount   string    `json:"spendAmount"`
	Savings       string    `json:"savings,omitempty"`
	DepositAmount string    `json:"yieldDepositAmount,omitempty"`
	DepositChain  int64     `json:"yieldDepositChainId,omitempty"`
	DepositTxHash string    `json:"yieldDepositTxHash,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher emits settlement outcomes.
type Publisher interface {
	Publish(ctx context.Context, outcome Outcome) error
	Close() error
}

// Options configure the Kafka publisher.
type Options struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher writes outcomes to one topic keyed by spend transaction hash, so every
// attempt for the same transfer lands on the same partition in order.
type KafkaPublisher struct {
	topic    string
	producer sarama.SyncProducer
	logger   zerolog.Logger
}

// NewConfig returns the producer configuration used for outcome events.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0
	return cfg
}

// NewKafkaPublisher dials the brokers.
func NewKafkaPublisher(opts Options, logger zerolog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, errors.New("events topic empty")
	}
	brokers := make([]string, 0, len(opts.Brokers))
	for _, b := range opts.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("events: no brokers")
	}

	producer, err := sarama.NewSyncProducer(brokers, NewConfig(opts.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(opts.Topic, producer, logger), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(topic string, producer sarama.SyncProducer, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		topic:    topic,
		producer: producer,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Publish sends outcome and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, outcome Outcome) error {
	// SyncProducer has no context parameter; honour cancellation before sending.
	if err := ctx.Err(); err != nil {
		return err
	}
	if outcome.Type == "" {
		outcome.Type = "settlement." + outcome.Status
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strings.ToLower(outcome.SpendTxHash)),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}

	p.logger.Debug().
		Str("spend_tx_hash", outcome.SpendTxHash).
		Str("status", outcome.Status).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("outcome published")
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ Publisher = (*KafkaPublisher)(nil)
