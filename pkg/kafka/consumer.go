package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"SignalGate/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics and hands messages to a worker pool.
// Offsets are committed after the handler succeeds or the message is
// dead-lettered.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	msgs     chan fetched
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type fetched struct {
	reader *kafka.Reader
	msg    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "signalgate",
		WorkerCount: 1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
		MinBytes:    1,
		MaxBytes:    1 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		msgs:     make(chan fetched, cfg.BufferSize),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}

	initConsumerMetricsOnce()
	return c, nil
}

// RegisterHandler registers a handler for its topic.
func (c *Consumer) RegisterHandler(h MessageHandler) error {
	if _, ok := c.handlers[h.Topic()]; ok {
		return fmt.Errorf("handler already registered for topic %s", h.Topic())
	}
	c.handlers[h.Topic()] = h
	return nil
}

// Start launches one fetch loop per topic plus the worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	var fetchers sync.WaitGroup
	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers[topic] = r
		fetchers.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer fetchers.Done()
			c.fetchLoop(ctx, topic, r)
		}(topic, r)
	}
	go func() {
		fetchers.Wait()
		close(c.msgs)
	}()

	var workers sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for f := range c.msgs {
				c.process(ctx, f)
			}
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		workers.Wait()
	}()

	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount),
	)
	return nil
}

// Stop cancels fetching, drains workers and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return stopErr
}

func (c *Consumer) fetchLoop(ctx context.Context, topic string, r *kafka.Reader) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn("fetch message", logger.String("topic", topic), logger.Error(err))
			continue
		}
		select {
		case c.msgs <- fetched{reader: r, msg: msg}:
			if consumerQueueDepth != nil {
				consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgs)))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) process(ctx context.Context, f fetched) {
	start := time.Now()
	topic := f.msg.Topic
	h := c.handlers[topic]
	if h == nil {
		return
	}

	err := c.handleWithRetry(ctx, h, f.msg.Value)
	if err != nil {
		c.log.Error("handle message",
			logger.String("topic", topic),
			logger.Int64("offset", f.msg.Offset),
			logger.Error(err),
		)
		if c.dlq == nil {
			observeHandle(topic, start, err)
			return
		}
		dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
			Key:     f.msg.Key,
			Value:   f.msg.Value,
			Headers: []kafka.Header{{Key: "source_topic", Value: []byte(topic)}},
		})
		if dlqErr != nil {
			c.log.Error("write dlq", logger.String("topic", c.cfg.DLQTopic), logger.Error(dlqErr))
			observeHandle(topic, start, err)
			return
		}
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if cerr := f.reader.CommitMessages(commitCtx, f.msg); cerr != nil {
		c.log.Warn("commit offset", logger.String("topic", topic), logger.Error(cerr))
	}
	cancel()
	observeHandle(topic, start, err)
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, data []byte) (err error) {
	for attempt := 1; ; attempt++ {
		err = safeHandle(ctx, h, data)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// up to 50% jitter
	return exp - time.Duration(rand.Int63n(int64(exp)/2+1))
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerHandledTotal  *prometheus.CounterVec
	consumerOnce          sync.Once
)

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "signalgate_kafka_consumer_queue_depth", Help: "Messages waiting for a worker"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "signalgate_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
		consumerHandledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "signalgate_kafka_consumer_messages_total", Help: "Handled messages by result"},
			[]string{"topic", "result"},
		)
	})
}

func observeHandle(topic string, start time.Time, err error) {
	if consumerHandleLatency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	consumerHandledTotal.WithLabelValues(topic, result).Inc()
	consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
}
