// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides review persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// AUTOINCREMENT keeps review ids strictly increasing even across deletes.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reviews (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pr_number  INTEGER,
			pr_url     TEXT NOT NULL DEFAULT '',
			branch     TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at DATETIME NOT NULL,

			CHECK (status IN ('pending', 'approved', 'merged'))
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);

		CREATE TABLE IF NOT EXISTS review_files (
			review_id      INTEGER NOT NULL,
			path           TEXT NOT NULL,
			before_content TEXT NOT NULL,
			after_content  TEXT NOT NULL,

			PRIMARY KEY (review_id, path),
			FOREIGN KEY (review_id) REFERENCES reviews(id) ON DELETE CASCADE
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateReview inserts a review and its file changes in one transaction.
func (s *SQLiteStore) CreateReview(ctx context.Context, review *Review) (int64, error) {
	if len(review.Files) == 0 {
		return 0, ErrEmptyFiles
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status := review.Status
	if status == "" {
		status = StatusPending
	}
	createdAt := review.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO reviews (pr_number, pr_url, branch, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		review.PRNumber, review.PRURL, review.Branch, status, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting review: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading review id: %w", err)
	}

	for path, change := range review.Files {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO review_files (review_id, path, before_content, after_content) VALUES (?, ?, ?, ?)`,
			id, path, change.Before, change.After,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting review file %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing review: %w", err)
	}

	s.logger.Debug("created review", "id", id, "files", len(review.Files))
	return id, nil
}

// GetReview fetches one review by id.
func (s *SQLiteStore) GetReview(ctx context.Context, id int64) (*Review, error) {
	review := &Review{ID: id, Files: make(map[string]FileChange)}

	var prNumber sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT pr_number, pr_url, branch, status, created_at FROM reviews WHERE id = ?`, id,
	).Scan(&prNumber, &review.PRURL, &review.Branch, &review.Status, &review.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying review %d: %w", id, err)
	}
	if prNumber.Valid {
		n := int(prNumber.Int64)
		review.PRNumber = &n
	}

	if err := s.loadFiles(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// loadFiles populates a review's Files map.
func (s *SQLiteStore) loadFiles(ctx context.Context, review *Review) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, before_content, after_content FROM review_files WHERE review_id = ?`, review.ID)
	if err != nil {
		return fmt.Errorf("querying review files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var change FileChange
		if err := rows.Scan(&path, &change.Before, &change.After); err != nil {
			return fmt.Errorf("scanning review file: %w", err)
		}
		review.Files[path] = change
	}
	return rows.Err()
}

// ListReviews returns reviews with the given status, oldest first.
func (s *SQLiteStore) ListReviews(ctx context.Context, status string) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM reviews WHERE status = ? ORDER BY id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning review id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reviews := make([]*Review, 0, len(ids))
	for _, id := range ids {
		review, err := s.GetReview(ctx, id)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

// SetPullRequest records the remote pull request backing a review.
func (s *SQLiteStore) SetPullRequest(ctx context.Context, id int64, number int, url, branch string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET pr_number = ?, pr_url = ?, branch = ? WHERE id = ?`,
		number, url, branch, id)
	if err != nil {
		return fmt.Errorf("setting pull request on review %d: %w", id, err)
	}
	return checkOneRow(res, ErrNotFound)
}

// TransitionStatus moves a review between statuses with a compare-and-swap
// guard: the update only applies if the review currently has status from.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, id int64, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("transitioning review %d to %s: %w", id, to, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing review from a lost race on status
	if _, err := s.GetReview(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// UpdateReviewFile replaces the After content of one file in a review.
func (s *SQLiteStore) UpdateReviewFile(ctx context.Context, id int64, path, after string) error {
	if _, err := s.GetReview(ctx, id); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE review_files SET after_content = ? WHERE review_id = ? AND path = ?`,
		after, id, path)
	if err != nil {
		return fmt.Errorf("updating review %d file %s: %w", id, path, err)
	}
	return checkOneRow(res, ErrFileNotInReview)
}

// Clear removes every review.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reviews`); err != nil {
		return fmt.Errorf("clearing reviews: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkOneRow returns notFoundErr when an update touched no rows.
func checkOneRow(res sql.Result, notFoundErr error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return notFoundErr
	}
	return nil
}
