package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	want := sampleResult("sig-a", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, c.Put(ctx, want))

	got, err := c.Get(ctx, "sig-a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = c.Get(ctx, "sig-b")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestMemoryLatestAndInfo(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	_, err := c.Latest(ctx)
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	newest := time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, sampleResult("sig-old", newest.Add(-time.Hour))))
	require.NoError(t, c.Put(ctx, sampleResult("sig-new", newest)))

	got, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sig-new", got.Signature)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Entries)
	assert.True(t, info.LastScan.Equal(newest))
	assert.Equal(t, int64(0), info.SizeBytes)
}

func TestMemoryClear(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleResult("sig-a", time.Now().UTC())))
	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "sig-a")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	assert.NoError(t, c.Close())
}
