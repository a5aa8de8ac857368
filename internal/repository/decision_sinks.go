package repository

import (
	"context"
	"fmt"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/queue"
)

// DecisionQueueType is the Redis list type carrying trade decisions.
const DecisionQueueType = "trade_decisions"

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaDecisionSink publishes decisions keyed by symbol so that one symbol's
// decisions stay ordered within a partition.
type KafkaDecisionSink struct {
	producer Publisher
	topic    string
}

func NewKafkaDecisionSink(producer Publisher, topic string) *KafkaDecisionSink {
	return &KafkaDecisionSink{producer: producer, topic: topic}
}

func (s *KafkaDecisionSink) Publish(ctx context.Context, d models.TradeDecision) error {
	if err := s.producer.Publish(ctx, s.topic, []byte(d.Symbol), d); err != nil {
		return fmt.Errorf("publish decision %s: %w", d.DecisionKey, err)
	}
	return nil
}

// Close is a no-op; the producer is shared and closed by its owner.
func (s *KafkaDecisionSink) Close() error { return nil }

// QueueDecisionSink pushes decisions onto a Redis list.
type QueueDecisionSink struct {
	queue *queue.RedisQueue
}

func NewQueueDecisionSink(q *queue.RedisQueue) *QueueDecisionSink {
	return &QueueDecisionSink{queue: q}
}

func (s *QueueDecisionSink) Publish(ctx context.Context, d models.TradeDecision) error {
	if err := s.queue.Enqueue(ctx, DecisionQueueType, d); err != nil {
		return fmt.Errorf("enqueue decision %s: %w", d.DecisionKey, err)
	}
	return nil
}

func (s *QueueDecisionSink) Close() error { return nil }

// LogDecisionSink only logs decisions.
type LogDecisionSink struct {
	log *logger.Logger
}

func NewLogDecisionSink(log *logger.Logger) *LogDecisionSink {
	return &LogDecisionSink{log: log}
}

func (s *LogDecisionSink) Publish(_ context.Context, d models.TradeDecision) error {
	s.log.Info("trade decision",
		logger.String("decision_key", d.DecisionKey),
		logger.String("run_id", d.RunID),
		logger.String("symbol", d.Symbol),
		logger.String("side", string(d.Side)),
		logger.String("timeframe", string(d.Timeframe)),
	)
	return nil
}

func (s *LogDecisionSink) Close() error { return nil }
