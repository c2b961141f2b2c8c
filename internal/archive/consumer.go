package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// Appender stores an accepted message idempotently.
type Appender interface {
	Append(ctx context.Context, msg domain.Message) error
}

// Consumer reads archive records and appends them to history.
type Consumer struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
	appender Appender
}

func NewConsumer(cfg config.KafkaConfig, appender Appender) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                cfg.GroupID,
		"auto.offset.reset":       cfg.AutoOffsetReset,
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
		"max.poll.interval.ms":    cfg.MaxPollIntervalMs,
		"session.timeout.ms":      cfg.SessionTimeoutMs,
		"heartbeat.interval.ms":   cfg.HeartbeatIntervalMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		topic:    cfg.Topic,
		groupID:  cfg.GroupID,
		appender: appender,
	}, nil
}

// Run polls until ctx is done or a fatal broker error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	l := log.Ctx(ctx)
	l.Info().Str("topic", c.topic).Str("group", c.groupID).Msg("archive consumer started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("archive consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handleRecord(ctx, c.appender, e.Value); err != nil {
				l.Error().Err(err).
					Int32("partition", e.TopicPartition.Partition).
					Str("offset", e.TopicPartition.Offset.String()).
					Msg("failed to archive record")
			}
		case kafka.Error:
			l.Warn().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		}
	}
}

// handleRecord decodes and appends one record. Malformed records are logged
// and skipped so they cannot wedge the partition.
func handleRecord(ctx context.Context, appender Appender, value []byte) error {
	msg, err := decodeRecord(value)
	if err != nil {
		if errors.Is(err, ErrInvalidRecord) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("skipping malformed archive record")
			return nil
		}
		return err
	}

	if err := appender.Append(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist message %s: %w", msg.ID, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	l := log.L()
	l.Info().Msg("closing archive consumer")
	return c.consumer.Close()
}
