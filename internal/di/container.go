package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/adapters/audit"
	"github.com/mikey/inbox-sweeper/internal/adapters/export"
	"github.com/mikey/inbox-sweeper/internal/config"
	"github.com/mikey/inbox-sweeper/internal/core"
	"github.com/mikey/inbox-sweeper/internal/factory"
	"github.com/mikey/inbox-sweeper/internal/logging"
	"github.com/mikey/inbox-sweeper/internal/whitelist"
)

// CLIFlags holds the command line options shared across subcommands.
// Fields that belong to a single subcommand keep their zero value elsewhere.
type CLIFlags struct {
	Query       string
	MaxMessages int
	NoCache     bool
	MinScore    float64
	Execute     bool
	Format      string
	Output      string
	Verbose     bool
	JSONLog     bool
	ConfigFile  string
}

// BuildContainer creates and configures a dependency injection container.
// Constructors are lazy, so a command only builds the pieces it asks for
// and cache-only commands never touch the Gmail client.
func BuildContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Debug("Loaded configuration file", zap.String("file", flags.ConfigFile))
			return cfg, nil
		}
		return config.New()
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailboxFactory); err != nil {
		return nil, err
	}

	// Register scorer
	if err := container.Provide(func(cfg *config.Config) *core.Scorer {
		scoring := cfg.GetScoring()
		return core.NewScorer(
			core.ScoringWeights{
				ListUnsubscribe: scoring.WeightListUnsubscribe,
				SenderPattern:   scoring.WeightSenderPattern,
				PrecedenceBulk:  scoring.WeightPrecedenceBulk,
				HighVolume:      scoring.WeightHighVolume,
				Promotions:      scoring.WeightPromotions,
			},
			scoring.AutomatedPatterns,
			scoring.HighVolumeThreshold,
			core.ClassThresholds{
				Newsletter:       scoring.ThresholdNewsletter,
				LikelyNewsletter: scoring.ThresholdLikely,
				Uncertain:        scoring.ThresholdUncertain,
			},
		)
	}); err != nil {
		return nil, err
	}

	// Register scan cache
	if err := container.Provide(func(f *factory.CacheFactory) (core.ScanCache, error) {
		return f.CreateScanCache()
	}); err != nil {
		return nil, err
	}

	// Register cache enabled flag
	if err := container.Provide(func(f *factory.CacheFactory) bool {
		return f.IsCacheEnabled()
	}); err != nil {
		return nil, err
	}

	// Register trash audit log
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (core.AuditLog, error) {
		return audit.NewTrashLog(cfg.GetAudit().Path, logger)
	}); err != nil {
		return nil, err
	}

	// Register protected domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *whitelist.Checker {
		return whitelist.NewChecker(cfg.GetClean().ProtectedDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register exporter
	if err := container.Provide(export.NewExporter); err != nil {
		return nil, err
	}

	return container, nil
}
