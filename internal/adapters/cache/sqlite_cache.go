package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// SQLiteCache is a SQLite implementation of the ScanCache interface. One row
// in scans per query signature, one row in scan_senders per profile.
type SQLiteCache struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteCache creates a new SQLite cache at dbPath, creating the parent
// directory and schema when missing.
func NewSQLiteCache(dbPath string, logger *zap.Logger) (*SQLiteCache, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCache{
		db:     db,
		path:   dbPath,
		logger: logger,
	}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			signature TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			max_messages INTEGER NOT NULL,
			scanned_at TEXT NOT NULL,
			scanned_unix_ns INTEGER NOT NULL,
			total_messages INTEGER NOT NULL,
			unreadable INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scans table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scan_senders (
			signature TEXT NOT NULL,
			rank INTEGER NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			score REAL NOT NULL,
			classification TEXT NOT NULL,
			has_list_unsubscribe BOOLEAN NOT NULL,
			has_precedence_bulk BOOLEAN NOT NULL,
			is_automated_pattern BOOLEAN NOT NULL,
			is_high_volume BOOLEAN NOT NULL,
			is_promotions BOOLEAN NOT NULL,
			sample_subjects TEXT NOT NULL,
			message_ids TEXT NOT NULL,
			PRIMARY KEY (signature, rank)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scan_senders table: %w", err)
	}

	return nil
}

// Put stores a scan result, replacing any previous entry for its signature.
func (c *SQLiteCache) Put(ctx context.Context, result *core.ScanResult) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_senders WHERE signature = ?`, result.Signature); err != nil {
		return fmt.Errorf("failed to clear previous senders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE signature = ?`, result.Signature); err != nil {
		return fmt.Errorf("failed to clear previous scan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (signature, query, max_messages, scanned_at, scanned_unix_ns, total_messages, unreadable)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.Signature, result.Query, result.MaxMessages,
		result.ScannedAt.UTC().Format(time.RFC3339Nano), result.ScannedAt.UnixNano(),
		result.TotalMessages, result.Unreadable)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	for rank, p := range result.Profiles {
		subjects, err := json.Marshal(p.SampleSubjects)
		if err != nil {
			return fmt.Errorf("failed to encode sample subjects: %w", err)
		}
		ids, err := json.Marshal(p.MessageIDs)
		if err != nil {
			return fmt.Errorf("failed to encode message ids: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_senders (
				signature, rank, email, name, message_count, score, classification,
				has_list_unsubscribe, has_precedence_bulk, is_automated_pattern,
				is_high_volume, is_promotions, sample_subjects, message_ids
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, result.Signature, rank, p.Email, p.Name, p.MessageCount, p.Score, string(p.Classification),
			p.Signals.HasListUnsubscribe, p.Signals.HasPrecedenceBulk, p.Signals.IsAutomatedPattern,
			p.Signals.IsHighVolume, p.Signals.IsPromotionsCategory, string(subjects), string(ids))
		if err != nil {
			return fmt.Errorf("failed to insert sender: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan: %w", err)
	}

	c.logger.Debug("Stored scan result",
		zap.String("signature", result.Signature),
		zap.Int("senders", len(result.Profiles)))
	return nil
}

// Get returns the cached result for a signature. Missing entries return
// ErrCacheMiss; entries that cannot be decoded return a CacheCorruptionError.
func (c *SQLiteCache) Get(ctx context.Context, signature string) (*core.ScanResult, error) {
	result := &core.ScanResult{Signature: signature}

	var scannedNS int64
	var scannedAt string
	err := c.db.QueryRowContext(ctx, `
		SELECT query, max_messages, scanned_at, scanned_unix_ns, total_messages, unreadable
		FROM scans WHERE signature = ?
	`, signature).Scan(&result.Query, &result.MaxMessages, &scannedAt, &scannedNS,
		&result.TotalMessages, &result.Unreadable)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	result.ScannedAt = time.Unix(0, scannedNS).UTC()

	rows, err := c.db.QueryContext(ctx, `
		SELECT email, name, message_count, score, classification,
			has_list_unsubscribe, has_precedence_bulk, is_automated_pattern,
			is_high_volume, is_promotions, sample_subjects, message_ids
		FROM scan_senders WHERE signature = ? ORDER BY rank
	`, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to query senders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &core.SenderProfile{}
		var class, subjects, ids string
		err := rows.Scan(&p.Email, &p.Name, &p.MessageCount, &p.Score, &class,
			&p.Signals.HasListUnsubscribe, &p.Signals.HasPrecedenceBulk,
			&p.Signals.IsAutomatedPattern, &p.Signals.IsHighVolume,
			&p.Signals.IsPromotionsCategory, &subjects, &ids)
		if err != nil {
			return nil, &core.CacheCorruptionError{Signature: signature, Err: err}
		}
		p.Classification = core.Classification(class)
		if err := json.Unmarshal([]byte(subjects), &p.SampleSubjects); err != nil {
			return nil, &core.CacheCorruptionError{Signature: signature, Err: err}
		}
		if err := json.Unmarshal([]byte(ids), &p.MessageIDs); err != nil {
			return nil, &core.CacheCorruptionError{Signature: signature, Err: err}
		}
		result.Profiles = append(result.Profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read senders: %w", err)
	}

	return result, nil
}

// Latest returns the most recently stored scan result.
func (c *SQLiteCache) Latest(ctx context.Context) (*core.ScanResult, error) {
	var signature string
	err := c.db.QueryRowContext(ctx, `
		SELECT signature FROM scans ORDER BY scanned_unix_ns DESC LIMIT 1
	`).Scan(&signature)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to query latest scan: %w", err)
	}
	return c.Get(ctx, signature)
}

// Clear drops and recreates the cache tables.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS scan_senders`,
		`DROP TABLE IF EXISTS scans`,
	} {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	if err := createSchema(c.db); err != nil {
		return err
	}
	c.logger.Info("Cache cleared", zap.String("path", c.path))
	return nil
}

// Info reports entry count, database file size and last scan time.
func (c *SQLiteCache) Info(ctx context.Context) (*core.CacheInfo, error) {
	info := &core.CacheInfo{}

	var lastNS sql.NullInt64
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(scanned_unix_ns) FROM scans
	`).Scan(&info.Entries, &lastNS)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache info: %w", err)
	}
	if lastNS.Valid {
		info.LastScan = time.Unix(0, lastNS.Int64).UTC()
	}

	if st, err := os.Stat(c.path); err == nil {
		info.SizeBytes = st.Size()
	}

	return info, nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}
	return nil
}
