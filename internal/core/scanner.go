package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ScanOptions selects what a scan covers and how it runs.
type ScanOptions struct {
	Query       string
	MaxMessages int
	ForceFresh  bool
	Progress    ProgressFunc
}

// ScanService runs the scan pipeline: list ids, fetch metadata, group by
// sender, score, cache.
type ScanService struct {
	mailbox      MailboxClient
	cache        ScanCache
	scorer       *Scorer
	logger       *zap.Logger
	cacheEnabled bool
	sampleLimit  int
}

// NewScanService creates a scan service.
func NewScanService(
	mailbox MailboxClient,
	cache ScanCache,
	scorer *Scorer,
	logger *zap.Logger,
	cacheEnabled bool,
	sampleLimit int,
) *ScanService {
	return &ScanService{
		mailbox:      mailbox,
		cache:        cache,
		scorer:       scorer,
		logger:       logger,
		cacheEnabled: cacheEnabled,
		sampleLimit:  sampleLimit,
	}
}

// Scan produces a ScanResult for the query, serving from cache when a result
// with the same signature exists. When listing degrades mid-way the returned
// result covers the ids that were reachable and err is a
// RemoteUnavailableError; callers treat that as partial success.
func (s *ScanService) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	sig := ScanQuery{Query: opts.Query, MaxMessages: opts.MaxMessages}.Signature()

	if s.cacheEnabled && !opts.ForceFresh {
		cached, err := s.cache.Get(ctx, sig)
		if err == nil {
			s.logger.Info("Serving scan from cache",
				zap.String("signature", sig),
				zap.Time("scanned_at", cached.ScannedAt),
				zap.Int("senders", len(cached.Profiles)))
			return cached, nil
		}
		if IsCacheCorruption(err) {
			s.logger.Warn("Cache entry unreadable, scanning fresh", zap.Error(err))
		} else if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Cache lookup failed, scanning fresh", zap.Error(err))
		}
	}

	report(opts.Progress, "list", 0, opts.MaxMessages)
	ids, listErr := s.mailbox.ListMessageIDs(ctx, opts.Query, opts.MaxMessages)
	if listErr != nil {
		if IsAuthError(listErr) || len(ids) == 0 {
			return nil, listErr
		}
		if !IsRemoteUnavailable(listErr) {
			return nil, listErr
		}
		s.logger.Warn("Listing degraded, continuing with partial ids",
			zap.Int("listed", len(ids)), zap.Error(listErr))
	}
	report(opts.Progress, "list", len(ids), len(ids))

	result := &ScanResult{
		Signature:     sig,
		Query:         opts.Query,
		MaxMessages:   opts.MaxMessages,
		ScannedAt:     time.Now().UTC(),
		TotalMessages: len(ids),
	}

	if len(ids) > 0 {
		metas, failed, err := s.mailbox.FetchMetadata(ctx, ids, opts.Progress)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message metadata: %w", err)
		}
		if len(failed) > 0 {
			s.logger.Warn("Some messages were unreadable", zap.Int("count", len(failed)))
		}
		result.Unreadable = len(failed)
		result.Profiles = s.buildProfiles(metas)
	}

	if s.cacheEnabled {
		if err := s.cache.Put(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to store scan result: %w", err)
		}
	}

	s.logger.Info("Scan complete",
		zap.String("query", opts.Query),
		zap.Int("messages", result.TotalMessages),
		zap.Int("unreadable", result.Unreadable),
		zap.Int("senders", len(result.Profiles)))

	return result, listErr
}

// buildProfiles groups metadata by sender address, scores each group and
// returns the profiles in display order.
func (s *ScanService) buildProfiles(metas map[string]*MessageMetadata) []*SenderProfile {
	builders := make(map[string]*profileBuilder)
	for _, m := range metas {
		key := strings.ToLower(strings.TrimSpace(m.SenderEmail))
		if key == "" {
			s.logger.Debug("Skipping message without sender address", zap.String("id", m.ID))
			continue
		}
		b, ok := builders[key]
		if !ok {
			b = newProfileBuilder(key)
			builders[key] = b
		}
		b.Add(m)
	}

	profiles := make([]*SenderProfile, 0, len(builders))
	for _, b := range builders {
		p := b.Finalize(s.sampleLimit)
		s.scorer.Grade(p)
		profiles = append(profiles, p)
	}
	SortProfiles(profiles)
	return profiles
}

// Latest returns the most recent cached scan.
func (s *ScanService) Latest(ctx context.Context) (*ScanResult, error) {
	return s.cache.Latest(ctx)
}

func report(fn ProgressFunc, stage string, done, total int) {
	if fn != nil {
		fn(Progress{Stage: stage, Done: done, Total: total})
	}
}
