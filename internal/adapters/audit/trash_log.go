package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// TrashLog is an append-only JSONL implementation of the AuditLog interface.
// Each entry is one line written in a single Write call, so a crash can at
// worst leave one truncated trailing line, never damage earlier entries.
type TrashLog struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewTrashLog creates a trash log at path, creating the parent directory
// when missing.
func NewTrashLog(path string, logger *zap.Logger) (*TrashLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	return &TrashLog{
		path:   path,
		logger: logger,
	}, nil
}

// Append durably writes one entry. Missing id and timestamp are filled in.
func (l *TrashLog) Append(ctx context.Context, entry *core.TrashLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode trash log entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open trash log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write trash log entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync trash log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close trash log: %w", err)
	}

	l.logger.Debug("Appended trash log entry",
		zap.String("id", entry.ID),
		zap.String("sender", entry.SenderEmail),
		zap.Int("messages", entry.MessageCount))
	return nil
}

// Entries returns all readable entries in append order. Corrupt lines are
// skipped with a warning so one bad line never hides the rest of the log.
func (l *TrashLog) Entries(ctx context.Context) ([]*core.TrashLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open trash log: %w", err)
	}
	defer f.Close()

	var entries []*core.TrashLogEntry
	scanner := bufio.NewScanner(f)
	// Entries carry full message id lists, which can far exceed the default
	// token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		entry := &core.TrashLogEntry{}
		if err := json.Unmarshal(line, entry); err != nil {
			l.logger.Warn("Skipping corrupt trash log line", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trash log: %w", err)
	}
	return entries, nil
}
