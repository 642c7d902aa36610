package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

func TestLedgerChannels(t *testing.T) {
	assert.Equal(t, "ledger:unmatched_sell", domain.LedgerEventUnmatchedSell.Channel())
	assert.True(t, hasPattern(domain.LedgerChannelPattern))
	assert.False(t, hasPattern(domain.LedgerEventApplied.Channel()))
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:symbol:AAPL", lockKey("symbol:AAPL"))
}

func TestRateLimitKeyBuckets(t *testing.T) {
	base := time.UnixMilli(60_000 * 10)
	a := rateLimitKey("submit:10.0.0.1", time.Minute, base)
	b := rateLimitKey("submit:10.0.0.1", time.Minute, base.Add(59*time.Second))
	c := rateLimitKey("submit:10.0.0.1", time.Minute, base.Add(time.Minute))

	assert.Equal(t, "ratelimit:submit:10.0.0.1:10", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewFailsFastOnUnreachableAddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "redis: ping 127.0.0.1:1")
}
