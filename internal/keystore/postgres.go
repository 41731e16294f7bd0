package keystore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/idgen"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	insertLinkSQL = `INSERT INTO links (id, slug, original_url) VALUES ($1, $2, $3)`
	existsLinkSQL = `SELECT EXISTS (SELECT 1 FROM links WHERE slug = $1)`
	findLinkSQL   = `SELECT slug, original_url, created_at FROM links WHERE slug = $1`
	listSlugsSQL  = `SELECT slug FROM links`
)

// pgxDB is the subset of *pgxpool.Pool the store uses.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore keeps records in the links table.
type PostgresStore struct {
	db  pgxDB
	ids idgen.Generator
}

// PostgresConfig holds optional dependencies of the store.
type PostgresConfig struct {
	IDGenerator idgen.Generator // row ids (default: UUID v7)
}

// NewPostgresStore returns a store over db, usually a *pgxpool.Pool.
// cfg may be nil.
func NewPostgresStore(db pgxDB, cfg *PostgresConfig) *PostgresStore {
	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	return &PostgresStore{db: db, ids: idgen.OrDefault(cfg.IDGenerator)}
}

func isSlugUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" &&
		pgErr.ConstraintName == "links_slug_unique"
}

func mapPgError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)
	case isSlugUniqueViolation(err):
		return errx.E(op, errx.Conflict, err)
	default:
		return errx.E(op, errx.Internal, err)
	}
}

func (s *PostgresStore) Insert(ctx context.Context, slug, destinationURL string) error {
	const op = "keystore.postgres.Insert"

	id, err := s.ids.Generate()
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	if _, err := s.db.Exec(ctx, insertLinkSQL, id, slug, destinationURL); err != nil {
		return mapPgError(op, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, slug string) (bool, error) {
	const op = "keystore.postgres.Exists"

	var exists bool
	if err := s.db.QueryRow(ctx, existsLinkSQL, slug).Scan(&exists); err != nil {
		return false, mapPgError(op, err)
	}
	return exists, nil
}

func (s *PostgresStore) Find(ctx context.Context, slug string) (Record, error) {
	const op = "keystore.postgres.Find"

	var rec Record
	err := s.db.QueryRow(ctx, findLinkSQL, slug).Scan(&rec.Slug, &rec.DestinationURL, &rec.CreatedAt)
	if err != nil {
		return Record{}, mapPgError(op, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *PostgresStore) EachSlug(ctx context.Context, fn func(string) error) error {
	const op = "keystore.postgres.EachSlug"

	rows, err := s.db.Query(ctx, listSlugsSQL)
	if err != nil {
		return mapPgError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return mapPgError(op, err)
		}
		if err := fn(slug); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return mapPgError(op, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	const op = "keystore.postgres.Ping"
	if err := s.db.Ping(ctx); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// Migrate applies the embedded schema files that have not been applied yet,
// in lexical order, and returns the names it applied.
func (s *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		var done bool
		err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name,
		).Scan(&done)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}
		if err := s.applyMigration(ctx, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func (s *PostgresStore) applyMigration(ctx context.Context, name string) error {
	body, err := migrationFiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, name, time.Now(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit(ctx)
}
