// Package sqlite persists the content-digest registry in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/product-image-harvester/internal/dedup"
)

const schema = `
CREATE TABLE IF NOT EXISTS digests (
    digest     TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    first_seen DATETIME NOT NULL,
    last_seen  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digests_status ON digests(status);
`

// DigestStore implements dedup.DigestStore on SQLite.
type DigestStore struct {
	db *sql.DB
}

// Open creates the registry at path, initializing the schema if needed.
func Open(path string) (*DigestStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open digest registry: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent downloads.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init digest schema: %w", err)
	}
	return &DigestStore{db: db}, nil
}

// Close closes the database connection.
func (s *DigestStore) Close() error {
	return s.db.Close()
}

// LoadDigests returns every known digest, kept or rejected.
func (s *DigestStore) LoadDigests(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT digest FROM digests`)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, digest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digests: %w", err)
	}
	return digests, nil
}

// SaveDigest upserts a digest with its latest status.
func (s *DigestStore) SaveDigest(ctx context.Context, digest string, status dedup.Status) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digests (digest, status, first_seen, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET status = excluded.status, last_seen = excluded.last_seen`,
		digest, string(status), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert digest: %w", err)
	}
	return nil
}

// CountByStatus returns the number of digests recorded with status.
func (s *DigestStore) CountByStatus(ctx context.Context, status dedup.Status) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM digests WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count digests: %w", err)
	}
	return n, nil
}
