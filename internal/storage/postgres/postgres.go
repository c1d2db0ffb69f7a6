// Package postgres implements storage.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/migrations"
)

// Store implements storage.Store backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, sizes the pool to at least maxConns, and applies
// migrations through a database/sql view of the same pool.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns > 0 && cfg.MaxConns < maxConns {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrations.Up(ctx, db, goose.DialectPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `SELECT id, language, code_path, status, output_path, error_message, created_at, completed_at FROM submissions`

func (s *Store) Create(ctx context.Context, sub *storage.Submission) error {
	if sub.Status == "" {
		sub.Status = storage.StatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (id, language, code_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.Language, sub.SourceKey, string(sub.Status), sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Submission, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	sub, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[storage.Submission])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning submission: %w", err)
	}
	return &sub, nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectColumns
	args := []any{}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, pgx.RowToStructByName[storage.Submission])
	if err != nil {
		return nil, fmt.Errorf("scanning submissions: %w", err)
	}
	return subs, nil
}

func (s *Store) MarkRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions SET status = 'running'
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("marking submission running: %w", err)
	}
	return checkTransitioned(tag, id)
}

func (s *Store) Finish(ctx context.Context, id string, out storage.Outcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("finish submission %s: %q is not a terminal status", id, out.Status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions
		SET status = $2, output_path = $3, error_message = $4, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(out.Status), out.OutputKey, out.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("finishing submission: %w", err)
	}
	return checkTransitioned(tag, id)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func checkTransitioned(tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotTransitioned, id)
	}
	return nil
}
