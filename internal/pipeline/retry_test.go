package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"walter/apps/backend/internal/pipeline"
)

func TestDecideRetry_BelowMaxQueues(t *testing.T) {
	assert.Equal(t, pipeline.StatusQueued, pipeline.DecideRetry(1, 3))
	assert.Equal(t, pipeline.StatusQueued, pipeline.DecideRetry(0, 1))
	assert.Equal(t, pipeline.StatusQueued, pipeline.DecideRetry(2, 3))
}

func TestDecideRetry_AtMaxFails(t *testing.T) {
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(3, 3))
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(4, 3))
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(1, 1))
}

func TestDecideRetry_CorruptedCounters(t *testing.T) {
	// A broken attempts counter must not bury the job.
	assert.Equal(t, pipeline.StatusQueued, pipeline.DecideRetry(-1, 2))

	// A broken max-attempts configuration must not grant unbounded retries.
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(2, 0))
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(2, -5))
	assert.Equal(t, pipeline.StatusFailed, pipeline.DecideRetry(-1, -1))
}
