package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: staging
indicators:
  base_url: http://indicators:8000
kafka:
  brokers: [kafka:9092]
run:
  profile: scalp
  workers: 8
profiles:
  scalp:
    context_timeframes: [1h]
    execution_timeframes: [5m]
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, 8, c.Run.Workers)
	assert.Equal(t, 30*time.Second, c.Run.GraceWindow)
	assert.Equal(t, "1d", c.Run.SwitchDuration)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, 6379, c.Redis.Port)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, "signalgate.decisions", c.Kafka.DecisionTopic)
	assert.Contains(t, c.Profiles, "scalp")
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"unknown profile":   "indicators: {base_url: http://x}\nkafka: {brokers: [k]}\nrun: {profile: nope}\nprofiles: {scalp: {}}\n",
		"no brokers":        "indicators: {base_url: http://x}\nrun: {profile: scalp}\nprofiles: {scalp: {}}\n",
		"missing url":       "kafka: {brokers: [k]}\nrun: {profile: scalp}\nprofiles: {scalp: {}}\n",
		"clickhouse source": "indicators: {source: clickhouse}\nkafka: {brokers: [k]}\nrun: {profile: scalp}\nprofiles: {scalp: {}}\n",
		"bad workers":       "indicators: {base_url: http://x}\nkafka: {brokers: [k]}\nrun: {profile: scalp, workers: 0}\nprofiles: {scalp: {}}\n",
		"no profiles":       "indicators: {base_url: http://x}\nsink: {type: none}\n",
		"unknown sink":      "indicators: {base_url: http://x}\nsink: {type: webhook}\nprofiles: {default: {}}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := Parse([]byte(src))
			require.NoError(t, err)
			assert.Error(t, c.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	env := map[string]string{
		"KAFKA_BROKERS":      "a:9092,b:9092",
		"SIGNALGATE_SYMBOLS": "BTCUSDT,ETHUSDT",
		"REDIS_PORT":         "6380",
		"INDICATORS_API_KEY": "k",
	}
	require.NoError(t, c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Run.Symbols)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "k", c.Indicators.APIKey)

	env["REDIS_PORT"] = "x"
	assert.Error(t, c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
}

func TestLoadSampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("sample config not present")
	}
	c, err := LoadWithEnv(path, func(k string) (string, bool) {
		if k == "REDIS_HOST" {
			return "redis.internal", true
		}
		return "", false
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Profiles)
	assert.Equal(t, "redis.internal", c.Redis.Host)
}
