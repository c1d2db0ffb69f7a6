package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/migrations"

	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		// Pragmas in the DSN apply to every pooled connection.
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := migrations.Up(context.Background(), db.DB, goose.DialectSQLite3); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// submissionRow mirrors the submissions table. Timestamps are stored as
// RFC 3339 text.
type submissionRow struct {
	ID           string         `db:"id"`
	Language     string         `db:"language"`
	SourceKey    string         `db:"code_path"`
	Status       string         `db:"status"`
	OutputKey    sql.NullString `db:"output_path"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    string         `db:"created_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
}

func (r submissionRow) submission() storage.Submission {
	sub := storage.Submission{
		ID:        r.ID,
		Language:  r.Language,
		SourceKey: r.SourceKey,
		Status:    storage.Status(r.Status),
	}
	if r.OutputKey.Valid {
		v := r.OutputKey.String
		sub.OutputKey = &v
	}
	if r.ErrorMessage.Valid {
		v := r.ErrorMessage.String
		sub.ErrorMessage = &v
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	if r.CompletedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, r.CompletedAt.String); err == nil {
			sub.CompletedAt = &t
		}
	}
	return sub
}

const selectColumns = `SELECT id, language, code_path, status, output_path, error_message, created_at, completed_at FROM submissions`

func (s *SQLiteStore) Create(ctx context.Context, sub *storage.Submission) error {
	if sub.Status == "" {
		sub.Status = storage.StatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO submissions (id, language, code_path, status, created_at)
		VALUES (:id, :language, :code_path, :status, :created_at)`,
		map[string]any{
			"id":         sub.ID,
			"language":   sub.Language,
			"code_path":  sub.SourceKey,
			"status":     string(sub.Status),
			"created_at": sub.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*storage.Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, selectColumns+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	sub := row.submission()
	return &sub, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectColumns
	var args []any

	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var rows []submissionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}

	subs := make([]storage.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.submission())
	}
	return subs, nil
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET status = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(storage.StatusRunning), id,
		string(storage.StatusPending), string(storage.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("marking submission running: %w", err)
	}
	return checkTransitioned(res, id)
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, out storage.Outcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("finish submission %s: %q is not a terminal status", id, out.Status)
	}

	var outputKey, errMsg sql.NullString
	if out.OutputKey != nil {
		outputKey = sql.NullString{String: *out.OutputKey, Valid: true}
	}
	if out.ErrorMessage != nil {
		errMsg = sql.NullString{String: *out.ErrorMessage, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, output_path = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(out.Status), outputKey, errMsg, time.Now().UTC().Format(time.RFC3339Nano),
		id, string(storage.StatusPending), string(storage.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finishing submission: %w", err)
	}
	return checkTransitioned(res, id)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkTransitioned(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotTransitioned, id)
	}
	return nil
}
