package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/adapters/cache"
	"github.com/mikey/inbox-sweeper/internal/config"
	"github.com/mikey/inbox-sweeper/internal/core"
)

// CacheFactory creates scan caches based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateScanCache creates a scan cache based on the configuration
func (f *CacheFactory) CreateScanCache() (core.ScanCache, error) {
	cacheCfg := f.cfg.GetCache()

	switch cacheCfg.Type {
	case "memory":
		return cache.NewMemoryCache(f.logger), nil
	case "sqlite":
		return cache.NewSQLiteCache(cacheCfg.SQLitePath, f.logger)
	case "mysql":
		return cache.NewMySQLCache(cacheCfg.MySQLDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheCfg.Type)
	}
}

// IsCacheEnabled returns whether caching is enabled
func (f *CacheFactory) IsCacheEnabled() bool {
	return f.cfg.GetBool("cache.enabled")
}
