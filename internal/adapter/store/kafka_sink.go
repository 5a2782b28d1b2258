package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDirectiveSink hands directives to the command-push service through a Kafka topic,
// keyed by zone so a zone's directives stay ordered.
type KafkaDirectiveSink struct {
	writer messageWriter
}

// ensure interface compliance
var _ port.DirectiveSink = (*KafkaDirectiveSink)(nil)

func NewKafkaDirectiveSink(cfg config.KafkaConfig) *KafkaDirectiveSink {
	return &KafkaDirectiveSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DirectiveTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaDirectiveSink) Publish(ctx context.Context, directive domain.Directive) error {
	payload, err := json.Marshal(directive)
	if err != nil {
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(directive.ZoneId),
		Value: payload,
		Time:  directive.IssuedAt,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(directive.Reason)},
		},
	})
	if err != nil {
		return fmt.Errorf("writing directive for %s: %w", directive.ZoneId, err)
	}
	return nil
}

func (s *KafkaDirectiveSink) Close() error {
	return s.writer.Close()
}
