package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/adapters/gmail"
	"github.com/mikey/inbox-sweeper/internal/config"
)

// MailboxFactory creates authenticated Gmail clients. Client construction is
// deferred until a command actually needs the remote side, so cache-only
// commands never touch the network.
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAuthenticator builds the OAuth authenticator from the configured
// credential and token paths.
func (f *MailboxFactory) CreateAuthenticator() (*gmail.Authenticator, error) {
	gmailCfg := f.cfg.GetGmail()
	return gmail.NewAuthenticator(gmailCfg.CredentialsPath, gmailCfg.TokenPath, f.logger)
}

// CreateClient builds the rate-limited client and establishes a session.
func (f *MailboxFactory) CreateClient(ctx context.Context) (*gmail.Client, error) {
	gmailCfg := f.cfg.GetGmail()

	initial, err := f.cfg.GetDuration("gmail.retry.initial_backoff")
	if err != nil {
		return nil, fmt.Errorf("invalid retry initial backoff: %w", err)
	}
	maxBackoff, err := f.cfg.GetDuration("gmail.retry.max_backoff")
	if err != nil {
		return nil, fmt.Errorf("invalid retry max backoff: %w", err)
	}

	auth, err := f.CreateAuthenticator()
	if err != nil {
		return nil, err
	}

	retry := gmail.NewRetryPolicy(gmailCfg.RetryMaxAttempts, initial, maxBackoff, f.logger)

	return gmail.NewClient(ctx, auth, retry, gmail.ClientConfig{
		PageSize:          gmailCfg.PageSize,
		FetchBatchSize:    gmailCfg.FetchBatchSize,
		TrashBatchSize:    gmailCfg.TrashBatchSize,
		FetchWorkers:      gmailCfg.FetchWorkers,
		RequestsPerSecond: gmailCfg.RequestsPerSecond,
		Burst:             gmailCfg.Burst,
	}, f.logger)
}
