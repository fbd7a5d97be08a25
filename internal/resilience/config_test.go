package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := FromRetryConfig(5, 100, 2000, 7, 3, 0)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 7*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.Equal(t, 0.0, cfg.JitterFraction)

	def := FromRetryConfig(0, 0, 0, 0, 0, -1)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().JitterFraction, def.JitterFraction)
}

func TestFromCircuitConfig(t *testing.T) {
	t.Parallel()

	cfg := FromCircuitConfig(2, 10)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.ResetTimeout)

	def := FromCircuitConfig(0, 0)
	assert.Equal(t, 5, def.FailureThreshold)
}
