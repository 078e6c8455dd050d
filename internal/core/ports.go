package core

import (
	"context"
	"time"
)

// Progress is a coarse progress event emitted by long phases.
type Progress struct {
	Stage string
	Done  int
	Total int
}

// ProgressFunc receives progress events. A nil ProgressFunc is always legal.
type ProgressFunc func(Progress)

// MailboxClient is the remote mailbox the scanner and cleaner talk to.
// Implementations own rate limiting and retry; callers only see outcomes.
type MailboxClient interface {
	// ListMessageIDs returns up to maxMessages ids matching the query,
	// paginating transparently. When listing dies mid-way it returns the ids
	// collected so far together with a RemoteUnavailableError.
	ListMessageIDs(ctx context.Context, query string, maxMessages int) ([]string, error)

	// FetchMetadata resolves ids to metadata in bounded batches. Ids that
	// cannot be read end up in the failed map; the error return is reserved
	// for fatal conditions such as authentication loss.
	FetchMetadata(ctx context.Context, ids []string, progress ProgressFunc) (map[string]*MessageMetadata, map[string]error, error)

	// TrashMessages moves ids to trash in bounded batches. Never a permanent
	// delete. Returns the number trashed and per-id failures.
	TrashMessages(ctx context.Context, ids []string, progress ProgressFunc) (int, map[string]error, error)
}

// CacheInfo describes a cache for the info command.
type CacheInfo struct {
	Entries   int
	SizeBytes int64
	LastScan  time.Time
}

// ScanCache stores scan results keyed by query signature. Entries never
// expire on their own; invalidation is explicit.
type ScanCache interface {
	// Get returns the cached result for a signature, ErrCacheMiss when none
	// exists, or a CacheCorruptionError when the entry cannot be decoded.
	Get(ctx context.Context, signature string) (*ScanResult, error)

	// Put stores a result, replacing any previous entry for its signature.
	Put(ctx context.Context, result *ScanResult) error

	// Latest returns the most recently stored result, or ErrCacheMiss.
	Latest(ctx context.Context) (*ScanResult, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Info reports entry count, storage size and last scan time.
	Info(ctx context.Context) (*CacheInfo, error)

	// Close releases the underlying store.
	Close() error
}

// AuditLog is the append-only record of destructive actions.
type AuditLog interface {
	// Append durably writes one entry. Entries are never rewritten.
	Append(ctx context.Context, entry *TrashLogEntry) error

	// Entries returns all readable entries in append order.
	Entries(ctx context.Context) ([]*TrashLogEntry, error)
}
