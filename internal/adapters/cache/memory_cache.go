package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// MemoryCache is an in-memory implementation of the ScanCache interface.
// Useful for tests and for runs with the durable cache disabled.
type MemoryCache struct {
	entries map[string]*core.ScanResult
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(logger *zap.Logger) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*core.ScanResult),
		logger:  logger,
	}
}

// Get retrieves the cached result for a signature
func (c *MemoryCache) Get(ctx context.Context, signature string) (*core.ScanResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.entries[signature]
	if !ok {
		return nil, core.ErrCacheMiss
	}
	return result, nil
}

// Put stores a scan result, replacing any previous entry for its signature
func (c *MemoryCache) Put(ctx context.Context, result *core.ScanResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[result.Signature] = result
	return nil
}

// Latest returns the most recently scanned result
func (c *MemoryCache) Latest(ctx context.Context) (*core.ScanResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest *core.ScanResult
	for _, r := range c.entries {
		if latest == nil || r.ScannedAt.After(latest.ScannedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, core.ErrCacheMiss
	}
	return latest, nil
}

// Clear removes all entries
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*core.ScanResult)
	return nil
}

// Info reports entry count and last scan time. Size is always zero since
// nothing is persisted.
func (c *MemoryCache) Info(ctx context.Context) (*core.CacheInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := &core.CacheInfo{Entries: len(c.entries)}
	for _, r := range c.entries {
		if r.ScannedAt.After(info.LastScan) {
			info.LastScan = r.ScannedAt
		}
	}
	return info, nil
}

// Close releases nothing for the in-memory cache
func (c *MemoryCache) Close() error {
	return nil
}
