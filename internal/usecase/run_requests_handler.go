package usecase

import (
	"context"
	"encoding/json"
	"errors"

	domrepo "SignalGate/internal/domain/repository"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

// RunRequestsHandler starts runs from Kafka messages.
type RunRequestsHandler struct {
	topic   string
	orch    *Orchestrator
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewRunRequestsHandler(topic string, orch *Orchestrator, metrics domrepo.Metrics, log *logger.Logger) *RunRequestsHandler {
	return &RunRequestsHandler{topic: topic, orch: orch, metrics: metrics, log: log}
}

func (h *RunRequestsHandler) Topic() string { return h.topic }

// runRequestMessage is the wire form; switch_duration accepts 12h, 1d, 1w.
type runRequestMessage struct {
	RunRequest
	SwitchDuration string `json:"switch_duration,omitempty"`
}

// Handle runs the request synchronously. Malformed or unstartable requests
// are logged and acknowledged; a busy orchestrator is retried by the consumer.
func (h *RunRequestsHandler) Handle(ctx context.Context, b []byte) error {
	var m runRequestMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.log.Warn("malformed run request", logger.Error(err))
		return nil
	}
	req := m.RunRequest
	if m.SwitchDuration != "" {
		d, err := util.ParseDuration(m.SwitchDuration)
		if err != nil {
			h.log.Warn("invalid run request", logger.Error(err))
			return nil
		}
		req.SwitchDuration = d
	}

	summary, err := h.orch.Run(ctx, req, nil)
	switch {
	case errors.Is(err, ErrRunActive):
		return err
	case err != nil:
		h.metrics.RecordError("run_request")
		h.log.Warn("run request rejected", logger.Error(err))
		return nil
	}
	h.log.Info("run request completed",
		logger.String("run_id", summary.RunID),
		logger.String("state", string(summary.State)),
		logger.Int("exit_code", ExitCode(summary)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*RunRequestsHandler)(nil)

