package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSecondRequest(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second request waits ~100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.partstown.com/modelManual/a.pdf"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.partstown.com/modelManual/b.pdf"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPerHostOverrideAndCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHost: map[string]Rule{"slow.example.com": {RPS: 0.1, Burst: 1}}})

	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/x"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com/y"))

	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "https://fast.example.com/z"), "zero rate is unlimited")
	}
}
