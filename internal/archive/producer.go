package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// Producer publishes accepted messages, keyed by conversation so one
// conversation stays on one partition.
type Producer struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if err := ensureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	ap := &Producer{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}
	go ap.deliveryReportHandler()

	return ap, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

func (p *Producer) deliveryReportHandler() {
	l := log.L()
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Warn().Err(ev.TopicPartition.Error).Str("key", string(ev.Key)).Msg("kafka delivery failed")
			}
		case kafka.Error:
			l.Warn().Err(ev).Msg("kafka producer error")
		}
	}
	close(p.doneCh)
}

// Archive enqueues msg and returns immediately. Failures are logged; the live
// delivery has already happened.
func (p *Producer) Archive(ctx context.Context, msg domain.Message) {
	value, err := encodeRecord(msg)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("message_id", msg.ID).Msg("failed to encode archive record")
		return
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(msg.Conversation()),
		Value: value,
	}, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to produce archive record")
	}
}

// Close flushes outstanding records for up to five seconds.
func (p *Producer) Close() error {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		l := log.L()
		l.Warn().Int("remaining", remaining).Msg("archive producer closed with undelivered records")
	}
	p.producer.Close()
	<-p.doneCh
	return nil
}
