package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/pkg/logger"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestProducerEncodesValues(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "decisions", []byte("BTCUSDT"), map[string]string{"side": "long"}))
	require.NoError(t, p.PublishBatch(context.Background(), "decisions", []Message{
		{Key: []byte("ETHUSDT"), Value: "raw"},
		{Key: []byte("SOLUSDT"), Value: []byte("bytes")},
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "decisions", w.msgs[0].Topic)
	assert.Equal(t, []byte("BTCUSDT"), w.msgs[0].Key)
	assert.JSONEq(t, `{"side":"long"}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, "bytes", string(w.msgs[2].Value))
}

func TestProducerWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewProducerWithWriter(&recordingWriter{err: boom}, "snappy")

	err := p.Publish(context.Background(), "decisions", nil, "x")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, p.PublishBatch(context.Background(), "decisions", nil))
}

func TestProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer(logger.Nop())
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		exp := min << uint(attempt-1)
		if exp > max {
			exp = max
		}
		assert.LessOrEqual(t, d, exp)
		assert.GreaterOrEqual(t, d, exp/2)
	}
}

type flakyHandler struct {
	calls int
	fails int
}

func (h *flakyHandler) Topic() string { return "runs" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

type panicHandler struct{}

func (panicHandler) Topic() string                        { return "runs" }
func (panicHandler) Handle(context.Context, []byte) error { panic("bad payload") }

func TestConsumerRetriesHandler(t *testing.T) {
	c, err := NewConsumer(logger.Nop(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, time.Millisecond),
	)
	require.NoError(t, err)

	h := &flakyHandler{fails: 2}
	require.NoError(t, c.handleWithRetry(context.Background(), h, nil))
	assert.Equal(t, 3, h.calls)

	h = &flakyHandler{fails: 5}
	assert.Error(t, c.handleWithRetry(context.Background(), h, nil))
	assert.Equal(t, 3, h.calls)

	err = c.handleWithRetry(context.Background(), panicHandler{}, nil)
	assert.ErrorContains(t, err, "handler panic")

	require.NoError(t, c.RegisterHandler(h))
	assert.Error(t, c.RegisterHandler(h))
}
