package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

func testSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleResult(sig string, scannedAt time.Time) *core.ScanResult {
	return &core.ScanResult{
		Signature:     sig,
		Query:         "in:inbox",
		MaxMessages:   500,
		ScannedAt:     scannedAt,
		TotalMessages: 12,
		Unreadable:    1,
		Profiles: []*core.SenderProfile{
			{
				Email:          "noreply@shop.example",
				Name:           "Shop",
				MessageCount:   9,
				MessageIDs:     []string{"m1", "m2"},
				SampleSubjects: []string{"Sale", "Receipt"},
				Signals:        core.SenderSignals{HasListUnsubscribe: true, IsAutomatedPattern: true},
				Score:          0.75,
				Classification: core.ClassNewsletter,
			},
			{
				Email:          "alice@gmail.com",
				MessageCount:   3,
				MessageIDs:     []string{"m3"},
				Score:          0,
				Classification: core.ClassPersonal,
			},
		},
	}
}

func TestSQLitePutGetRoundTrip(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	want := sampleResult("sig-a", time.Date(2025, 7, 1, 10, 30, 0, 123456789, time.UTC))
	require.NoError(t, c.Put(ctx, want))

	got, err := c.Get(ctx, "sig-a")
	require.NoError(t, err)

	assert.Equal(t, want.Signature, got.Signature)
	assert.Equal(t, want.Query, got.Query)
	assert.Equal(t, want.MaxMessages, got.MaxMessages)
	assert.Equal(t, want.TotalMessages, got.TotalMessages)
	assert.Equal(t, want.Unreadable, got.Unreadable)
	assert.True(t, want.ScannedAt.Equal(got.ScannedAt), "want %v got %v", want.ScannedAt, got.ScannedAt)
	assert.Equal(t, want.Profiles, got.Profiles)
}

func TestSQLiteGetMiss(t *testing.T) {
	c := testSQLiteCache(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestSQLiteSignatureIsolation(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	a := sampleResult("sig-a", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	b := sampleResult("sig-b", time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC))
	b.Query = "from:other"
	b.Profiles = b.Profiles[:1]
	require.NoError(t, c.Put(ctx, a))
	require.NoError(t, c.Put(ctx, b))

	gotA, err := c.Get(ctx, "sig-a")
	require.NoError(t, err)
	gotB, err := c.Get(ctx, "sig-b")
	require.NoError(t, err)

	assert.Equal(t, "in:inbox", gotA.Query)
	assert.Len(t, gotA.Profiles, 2)
	assert.Equal(t, "from:other", gotB.Query)
	assert.Len(t, gotB.Profiles, 1)
}

func TestSQLitePutReplacesPrevious(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	first := sampleResult("sig-a", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, c.Put(ctx, first))

	second := sampleResult("sig-a", time.Date(2025, 7, 3, 10, 0, 0, 0, time.UTC))
	second.Profiles = second.Profiles[:1]
	second.TotalMessages = 20
	require.NoError(t, c.Put(ctx, second))

	got, err := c.Get(ctx, "sig-a")
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalMessages)
	assert.Len(t, got.Profiles, 1, "old sender rows must not survive the replace")

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Entries)
}

func TestSQLiteLatest(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	_, err := c.Latest(ctx)
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	older := sampleResult("sig-old", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	newer := sampleResult("sig-new", time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, c.Put(ctx, newer))
	require.NoError(t, c.Put(ctx, older))

	got, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sig-new", got.Signature, "insertion order must not matter")
}

func TestSQLiteClear(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleResult("sig-a", time.Now().UTC())))
	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "sig-a")
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Entries)

	// The recreated schema accepts new writes.
	require.NoError(t, c.Put(ctx, sampleResult("sig-b", time.Now().UTC())))
}

func TestSQLiteInfo(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	newest := time.Date(2025, 7, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, sampleResult("sig-a", newest.Add(-24*time.Hour))))
	require.NoError(t, c.Put(ctx, sampleResult("sig-b", newest)))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Entries)
	assert.True(t, info.LastScan.Equal(newest))
	assert.Greater(t, info.SizeBytes, int64(0))
}

func TestSQLiteCorruptSenderRowIsCorruption(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleResult("sig-a", time.Now().UTC())))

	_, err := c.db.Exec(`UPDATE scan_senders SET sample_subjects = 'not json' WHERE signature = 'sig-a'`)
	require.NoError(t, err)

	_, err = c.Get(ctx, "sig-a")
	require.Error(t, err)
	assert.True(t, core.IsCacheCorruption(err))
	assert.False(t, errors.Is(err, core.ErrCacheMiss))
}

func TestSQLiteCorruptMessageIDsIsCorruption(t *testing.T) {
	c := testSQLiteCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleResult("sig-a", time.Now().UTC())))

	_, err := c.db.Exec(`UPDATE scan_senders SET message_ids = '{broken' WHERE signature = 'sig-a'`)
	require.NoError(t, err)

	_, err = c.Get(ctx, "sig-a")
	assert.True(t, core.IsCacheCorruption(err))
}
