package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ledger statuses. A file whose latest attempt for a given partition is
// StatusComplete is skipped on subsequent runs; anything else is retried.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// FileComplete reports whether fileName has a completed ledger entry for
// the given partition key (the empty key means the whole file).
func (s *Store) FileComplete(ctx context.Context, fileName, partition string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ingest_log
		WHERE file_name = ? AND partition_key = ? AND status = ?`,
		fileName, partition, StatusComplete).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: check ledger for %s: %w", fileName, err)
	}
	return n > 0, nil
}

// BeginFile records the start of an ingestion attempt and returns the
// ledger row id to complete or fail later. An attempt interrupted before
// either stays at StatusRunning, which does not block a retry.
func (s *Store) BeginFile(ctx context.Context, fileName, fileType, partition string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_log (file_name, file_type, partition_key, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		fileName, fileType, partition, StatusRunning, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: begin ledger for %s: %w", fileName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: begin ledger for %s: %w", fileName, err)
	}
	return id, nil
}

// CompleteFile marks a ledger attempt as finished with the rows written.
func (s *Store) CompleteFile(ctx context.Context, logID, rowsInserted int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_log SET status = ?, rows_inserted = ?, completed_at = ?
		WHERE id = ?`,
		StatusComplete, rowsInserted, time.Now().Unix(), logID)
	if err != nil {
		return fmt.Errorf("store: complete ledger %d: %w", logID, err)
	}
	return nil
}

// FailFile marks a ledger attempt as failed with the error text.
func (s *Store) FailFile(ctx context.Context, logID int64, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_log SET status = ?, error_text = ?, completed_at = ?
		WHERE id = ?`,
		StatusFailed, errText, time.Now().Unix(), logID)
	if err != nil {
		return fmt.Errorf("store: fail ledger %d: %w", logID, err)
	}
	return nil
}

// LedgerEntry is one ingestion attempt.
type LedgerEntry struct {
	ID           int64
	FileName     string
	FileType     string
	PartitionKey string
	Status       string
	RowsInserted int64
	ErrorText    string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// LedgerEntries returns all attempts for a file, oldest first.
func (s *Store) LedgerEntries(ctx context.Context, fileName string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, file_type, partition_key, status, rows_inserted,
		       COALESCE(error_text, ''), started_at, completed_at
		FROM ingest_log WHERE file_name = ? ORDER BY id`, fileName)
	if err != nil {
		return nil, fmt.Errorf("store: ledger entries for %s: %w", fileName, err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e           LedgerEntry
			startedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.FileName, &e.FileType, &e.PartitionKey,
			&e.Status, &e.RowsInserted, &e.ErrorText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: scan ledger entry: %w", err)
		}
		e.StartedAt = time.Unix(startedAt, 0).UTC()
		e.CompletedAt = timeFrom(completedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ledger entries for %s: %w", fileName, err)
	}
	return out, nil
}
