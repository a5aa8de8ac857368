package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	svcmetrics "SignalGate/internal/service/metrics"
	"SignalGate/pkg/logger"
)

func TestRunRequestsHandler(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	o := e.orchestrator(OrchestratorConfig{})
	h := NewRunRequestsHandler("signalgate.runs", o, svcmetrics.Nop{}, logger.Nop())
	ctx := context.Background()

	assert.Equal(t, "signalgate.runs", h.Topic())

	msg := `{"run_id":"k-1","symbols":["btcusdt"],"dry_run":true,"auto_switch_invalid":true,"switch_duration":"1d"}`
	require.NoError(t, h.Handle(ctx, []byte(msg)))
	got, ok := o.Runs().Get("k-1")
	require.True(t, ok)
	assert.Equal(t, models.RunDone, got.State)
	assert.True(t, got.DryRun)
	assert.Empty(t, e.sink.decisions)

	// malformed and unstartable requests are acknowledged
	assert.NoError(t, h.Handle(ctx, []byte(`{not json`)))
	assert.NoError(t, h.Handle(ctx, []byte(`{"symbols":["BTCUSDT"],"switch_duration":"soon"}`)))
	assert.NoError(t, h.Handle(ctx, []byte(`{"profile":"swing","symbols":["BTCUSDT"]}`)))

	o.active.Store(true)
	assert.ErrorIs(t, h.Handle(ctx, []byte(`{"symbols":["BTCUSDT"]}`)), ErrRunActive)
}

func TestRunRequestMessageDecodesDuration(t *testing.T) {
	var m runRequestMessage
	require.NoError(t, json.Unmarshal([]byte(`{"symbols":["A"],"tf":"5m","switch_duration":"12h"}`), &m))
	assert.Equal(t, "12h", m.SwitchDuration)
	assert.Equal(t, models.TF5m, m.Timeframe)
	assert.Equal(t, []string{"A"}, m.Symbols)
}
