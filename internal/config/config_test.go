package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "contact", cfg.TrackedSet)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxDeliveryAttempts)
	assert.False(t, cfg.ContinueWithDataLoss)
	assert.Equal(t, "default", cfg.ConsumerGroup)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRACKED_SET", "posts")
	t.Setenv("MAX_BATCH_SIZE", "250")
	t.Setenv("POLL_INTERVAL_SEC", "5")
	t.Setenv("CONTINUE_WITH_DATA_LOSS", "true")
	t.Setenv("CONSUMER_GROUP", "reporting")

	cfg := Load()

	assert.Equal(t, "posts", cfg.TrackedSet)
	assert.Equal(t, 250, cfg.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.ContinueWithDataLoss)
	assert.Equal(t, "reporting", cfg.ConsumerGroup)
}

func TestLoadClampsBatchSize(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "100000")
	assert.Equal(t, MaxBatchSize, Load().MaxBatchSize)

	t.Setenv("MAX_BATCH_SIZE", "0")
	assert.Equal(t, MinBatchSize, Load().MaxBatchSize)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "lots")
	t.Setenv("CONTINUE_WITH_DATA_LOSS", "yes please")

	cfg := Load()
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.False(t, cfg.ContinueWithDataLoss)
}
