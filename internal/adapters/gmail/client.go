package gmail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/mikey/inbox-sweeper/internal/core"
	"github.com/mikey/inbox-sweeper/internal/utils"
)

// metadataHeaders are the only headers we ever request. Everything the
// scoring engine needs is here; message bodies are never fetched.
var metadataHeaders = []string{"From", "Subject", "List-Unsubscribe", "Precedence", "Date"}

// ClientConfig sizes the client's batching and throttling.
type ClientConfig struct {
	PageSize          int64
	FetchBatchSize    int
	TrashBatchSize    int
	FetchWorkers      int
	RequestsPerSecond float64
	Burst             int
}

// Client is the rate-limited Gmail implementation of core.MailboxClient.
// Every API call goes through the shared limiter and the retry policy, so
// callers never see transient failures, only outcomes.
type Client struct {
	auth   *Authenticator
	retry  *RetryPolicy
	cfg    ClientConfig
	logger *zap.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	session *Session
	svc     *gmailv1.Service
}

// NewClient creates a client and establishes a session up front so auth
// problems surface before any work starts.
func NewClient(ctx context.Context, auth *Authenticator, retry *RetryPolicy, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		auth:    auth,
		retry:   retry,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Gmail client ready", zap.Stringer("config", &cfg))
	return c, nil
}

// ensureSession checks session expiry and swaps in a refreshed session and
// service when needed. Runs before every remote batch.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Valid() {
		return nil
	}

	sess, err := c.auth.Ensure(ctx)
	if err != nil {
		return err
	}
	svc, err := c.auth.Service(ctx, sess)
	if err != nil {
		return err
	}
	c.session = sess
	c.svc = svc
	c.logger.Debug("Session established", zap.Time("expiry", sess.Expiry()))
	return nil
}

func (c *Client) service() *gmailv1.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc
}

// Profile returns the authenticated account's email address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	var email string
	err := c.retry.Do(ctx, "get profile", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		p, err := c.service().Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		email = p.EmailAddress
		return nil
	})
	return email, err
}

// ListMessageIDs pages through the mailbox and returns up to maxMessages ids
// matching the query. When a page cannot be listed after retries, the ids
// collected so far come back together with a RemoteUnavailableError.
func (c *Client) ListMessageIDs(ctx context.Context, query string, maxMessages int) ([]string, error) {
	ids := make([]string, 0)
	pageToken := ""

	for {
		if err := c.ensureSession(ctx); err != nil {
			return ids, err
		}

		pageSize := c.cfg.PageSize
		if maxMessages > 0 {
			if remaining := int64(maxMessages - len(ids)); remaining < pageSize {
				pageSize = remaining
			}
		}

		var resp *gmailv1.ListMessagesResponse
		err := c.retry.Do(ctx, "list messages", func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			call := c.service().Users.Messages.List("me").
				MaxResults(pageSize).
				PageToken(pageToken).
				Fields("messages/id", "nextPageToken").
				Context(ctx)
			if query != "" {
				call = call.Q(query)
			}
			r, err := call.Do()
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			if core.IsAuthError(err) {
				return ids, err
			}
			return ids, &core.RemoteUnavailableError{Op: "list messages", Affected: len(ids), Err: err}
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if maxMessages > 0 && len(ids) >= maxMessages {
				return ids, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

// FetchMetadata resolves ids to metadata in batches of FetchBatchSize, using
// a bounded worker pool within each batch. Unreadable ids land in the failed
// map; only authentication loss aborts the whole fetch.
func (c *Client) FetchMetadata(ctx context.Context, ids []string, progress core.ProgressFunc) (map[string]*core.MessageMetadata, map[string]error, error) {
	metas := make(map[string]*core.MessageMetadata, len(ids))
	failed := make(map[string]error)

	batchSize := c.cfg.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		if err := c.ensureSession(ctx); err != nil {
			return metas, failed, err
		}
		if err := c.fetchBatch(ctx, ids[start:end], metas, failed); err != nil {
			return metas, failed, err
		}
		notify(progress, "fetch", end, len(ids))
	}
	return metas, failed, nil
}

type fetchResult struct {
	id   string
	meta *core.MessageMetadata
	err  error
}

// fetchBatch fans one batch of ids out over the worker pool and collects the
// results. A fatal auth error cancels remaining work.
func (c *Client) fetchBatch(ctx context.Context, ids []string, metas map[string]*core.MessageMetadata, failed map[string]error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := c.cfg.FetchWorkers
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, len(ids))

	jobs := make(chan string)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				meta, err := c.fetchOne(cctx, id)
				select {
				case results <- fetchResult{id: id, meta: meta, err: err}:
				case <-cctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-cctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		switch {
		case res.err == nil:
			metas[res.id] = res.meta
		case core.IsAuthError(res.err):
			if fatal == nil {
				fatal = res.err
				cancel()
			}
		default:
			c.logger.Debug("Message unreadable",
				zap.String("id", res.id), zap.Error(res.err))
			failed[res.id] = res.err
		}
	}
	return fatal
}

func (c *Client) fetchOne(ctx context.Context, id string) (*core.MessageMetadata, error) {
	var msg *gmailv1.Message
	err := c.retry.Do(ctx, "get message", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		m, err := c.service().Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return metadataFromMessage(msg), nil
}

// TrashMessages moves ids to trash in batches of TrashBatchSize via
// batchModify. The modify call is all-or-nothing per batch, so a failed
// batch marks exactly its ids as failed and later batches still run.
func (c *Client) TrashMessages(ctx context.Context, ids []string, progress core.ProgressFunc) (int, map[string]error, error) {
	failed := make(map[string]error)
	trashed := 0

	batchSize := c.cfg.TrashBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch := ids[start:end]

		if err := c.ensureSession(ctx); err != nil {
			return trashed, failed, err
		}

		err := c.retry.Do(ctx, "batch trash", func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			return c.service().Users.Messages.BatchModify("me", &gmailv1.BatchModifyMessagesRequest{
				Ids:            batch,
				AddLabelIds:    []string{"TRASH"},
				RemoveLabelIds: []string{"INBOX"},
			}).Context(ctx).Do()
		})
		if err != nil {
			for _, id := range batch {
				failed[id] = err
			}
			if core.IsAuthError(err) {
				return trashed, failed, err
			}
			c.logger.Warn("Trash batch failed",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			continue
		}

		trashed += len(batch)
		notify(progress, "trash", end, len(ids))
	}
	return trashed, failed, nil
}

// metadataFromMessage converts the raw API message into the typed metadata
// the rest of the system works with. Received time prefers the provider's
// internal timestamp and falls back to the Date header.
func metadataFromMessage(msg *gmailv1.Message) *core.MessageMetadata {
	meta := &core.MessageMetadata{
		ID:     msg.Id,
		Labels: msg.LabelIds,
	}

	var dateHeader string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				meta.SenderName, meta.SenderEmail = utils.ParseFrom(h.Value)
			case "subject":
				meta.Subject = h.Value
			case "list-unsubscribe":
				meta.HasListUnsubscribe = true
			case "precedence":
				meta.Precedence = h.Value
			case "date":
				dateHeader = h.Value
			}
		}
	}

	if msg.InternalDate > 0 {
		meta.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	} else if dateHeader != "" {
		if t, err := mail.ParseDate(dateHeader); err == nil {
			meta.ReceivedAt = t.UTC()
		}
	}

	return meta
}

func notify(progress core.ProgressFunc, stage string, done, total int) {
	if progress != nil {
		progress(core.Progress{Stage: stage, Done: done, Total: total})
	}
}

var _ core.MailboxClient = (*Client)(nil)

// String describes the client configuration for debug logging.
func (c *ClientConfig) String() string {
	return fmt.Sprintf("page=%d fetch_batch=%d trash_batch=%d workers=%d rps=%.1f",
		c.PageSize, c.FetchBatchSize, c.TrashBatchSize, c.FetchWorkers, c.RequestsPerSecond)
}
