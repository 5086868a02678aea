package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorld_RunIsExclusive(t *testing.T) {
	h := newServerHarness(t, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.world.Run(ctx) }()
	require.Eventually(t, h.world.running.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.world.Run(ctx), ErrServerAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, h.world.running.Load())
}
