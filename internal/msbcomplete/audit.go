package msbcomplete

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AuditStore is a durable, append-only log of accept/reject/ignore
// decisions, independent of the pending-accepts JSON file (which only
// tracks outstanding decisions). It exists for operator audit, not for
// crash recovery — grounded on the teacher's internal/opstate.Store
// (single SQLite table, upsert-free, mattn/go-sqlite3 in production).
type AuditStore struct {
	db *sql.DB
}

// OpenAuditStore opens (creating if necessary) the audit database at path.
func OpenAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return s, nil
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

func (s *AuditStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS msb_decisions (
		key        TEXT NOT NULL,
		project_id TEXT NOT NULL,
		msb_id     TEXT NOT NULL,
		decision   INTEGER NOT NULL,
		user_id    TEXT,
		reason     TEXT,
		decided_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one decision to the audit log.
func (s *AuditStore) Record(ctx context.Context, key, projectID, msbID string, decision int, userID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO msb_decisions (key, project_id, msb_id, decision, user_id, reason, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, projectID, msbID, decision, userID, reason, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record audit decision for %s: %w", key, err)
	}
	return nil
}

// DecisionRecord is a row read back from the audit log.
type DecisionRecord struct {
	Key       string
	ProjectID string
	MSBID     string
	Decision  int
	UserID    string
	Reason    string
	DecidedAt string
}

// Recent returns up to limit most recent decisions, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, project_id, msb_id, decision, user_id, reason, decided_at
		 FROM msb_decisions ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.Key, &r.ProjectID, &r.MSBID, &r.Decision, &r.UserID, &r.Reason, &r.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan audit decision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
