package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const bookColumns = `id, media_id, title, author, odm_path, staging_dir,
	assembled_file, library_dir, status, error_message, created_at, updated_at`

// NewBook inserts a pending record for a media id, or returns the existing
// record when the book is already tracked.
func (s *Store) NewBook(ctx context.Context, mediaID, odmPath string) (*Book, error) {
	existing, err := s.GetByMediaID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO books (media_id, odm_path, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		mediaID,
		odmPath,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getByID(ctx, id)
}

func (s *Store) getByID(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// GetByMediaID fetches the tracked record for a media id, or nil when the
// book is unknown.
func (s *Store) GetByMediaID(ctx context.Context, mediaID string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE media_id = ?`, mediaID)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book by media id: %w", err)
	}
	return book, nil
}

// Update persists changes to an existing book record.
func (s *Store) Update(ctx context.Context, book *Book) error {
	if book == nil {
		return errors.New("book is nil")
	}
	book.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE books SET
			title = ?, author = ?, odm_path = ?, staging_dir = ?,
			assembled_file = ?, library_dir = ?, status = ?, error_message = ?,
			updated_at = ?
		 WHERE id = ?`,
		book.Title,
		book.Author,
		book.ODMPath,
		book.StagingDir,
		book.AssembledFile,
		book.LibraryDir,
		book.Status,
		book.ErrorMessage,
		book.UpdatedAt.Format(time.RFC3339Nano),
		book.ID,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// SetStatus commits a stage transition for a book, clearing any stale error.
func (s *Store) SetStatus(ctx context.Context, mediaID string, status Status) error {
	if _, ok := statusSet[status]; !ok {
		return fmt.Errorf("unknown status %q", status)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE books SET status = ?, error_message = '', updated_at = ? WHERE media_id = ?`,
		status,
		timestamp,
		mediaID,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set status: media id %q not tracked", mediaID)
	}
	return nil
}

// MarkFailed records a failure message without losing track of the book.
func (s *Store) MarkFailed(ctx context.Context, mediaID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE books SET status = ?, error_message = ?, updated_at = ? WHERE media_id = ?`,
		StatusFailed,
		message,
		timestamp,
		mediaID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// List returns all tracked books, oldest first.
func (s *Store) List(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// Delete removes a book's record entirely.
func (s *Store) Delete(ctx context.Context, mediaID string) error {
	_, err := s.execWithRetry(ctx, `DELETE FROM books WHERE media_id = ?`, mediaID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// RecoverProcessing rolls books stranded in an in-flight status back to their
// last committed stage, returning the number of rows touched. Called on
// startup before any stage runs.
func (s *Store) RecoverProcessing(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	var total int64
	for _, transition := range processingRollbacks {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE books SET status = ?, updated_at = ? WHERE status = ?`,
			transition.to,
			timestamp,
			transition.from,
		)
		if err != nil {
			return total, fmt.Errorf("recover %s: %w", transition.from, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("recover %s: %w", transition.from, err)
		}
		total += affected
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var (
		book      Book
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&book.ID,
		&book.MediaID,
		&book.Title,
		&book.Author,
		&book.ODMPath,
		&book.StagingDir,
		&book.AssembledFile,
		&book.LibraryDir,
		&status,
		&book.ErrorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	book.Status = Status(status)
	book.CreatedAt = parseTimestamp(createdAt)
	book.UpdatedAt = parseTimestamp(updatedAt)
	return &book, nil
}

func parseTimestamp(value string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}
