// Package events publishes payment outcomes for downstream consumers
// (accounting sync, tenant notifications).
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"storagedesk/internal/apperr"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	TypeChargeSucceeded = "payment.charge.succeeded"
	TypeChargeFailed    = "payment.charge.failed"
	TypeRefunded        = "payment.refunded"
	TypeRunCompleted    = "autopay.run.completed"
)

// Event is one message on the payments topic.
type Event struct {
	Type        string    `json:"type"`
	LeaseID     uint      `json:"lease_id,omitempty"`
	PaymentID   uint      `json:"payment_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	RunDate     string    `json:"run_date,omitempty"`
	NextDueDate string    `json:"next_due_date,omitempty"`
	Error       string    `json:"error,omitempty"`
	Count       int       `json:"count,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// KafkaPublisher writes events synchronously to one topic, keyed by lease so a
// lease's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.ClientID = "storagedesk"
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, apperr.ConfigError.New("kafka producer: %v", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, log: log.Named("kafka")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(e.Type)},
		},
	}
	if e.LeaseID != 0 {
		msg.Key = sarama.StringEncoder(strconv.FormatUint(uint64(e.LeaseID), 10))
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Warn("publish failed", zap.String("type", e.Type), zap.Uint("lease_id", e.LeaseID), zap.Error(err))
		return err
	}
	p.log.Debug("published", zap.String("type", e.Type), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
