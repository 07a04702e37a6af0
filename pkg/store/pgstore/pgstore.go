// Package pgstore is the PostgreSQL store.Adapter, built on a pgx
// connection pool. Schema management goes through golang-migrate with the
// migration files embedded into the binary.
package pgstore

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/codeready-toolchain/murmur/pkg/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Store implements store.Adapter on PostgreSQL. Init and Close run during
// runtime boot and shutdown; every other method is safe for concurrent
// use through the pool.
type Store struct {
	dsn    string
	logger *slog.Logger

	pool *pgxpool.Pool

	mu           sync.RWMutex
	embeddingDim int
}

var (
	_ store.Adapter  = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// New prepares a store for the given connection string. No connection is
// opened until Init.
func New(dsn string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dsn:    dsn,
		logger: logger.With("component", "pgstore"),
	}
}

// Init opens the connection pool and verifies connectivity.
func (s *Store) Init(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return store.NewIOError("open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return store.NewIOError("ping", err)
	}
	s.pool = pool
	s.logger.Info("Connected to PostgreSQL")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *Store) IsReady(ctx context.Context) (bool, error) {
	if s.pool == nil {
		return false, nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return false, nil
	}
	return true, nil
}

// Connection exposes the underlying *pgxpool.Pool.
func (s *Store) Connection() any {
	if s.pool == nil {
		return nil
	}
	return s.pool
}

// RunMigrations applies the embedded migrations and then, in order, any
// additional migration directories. Each extra directory tracks its
// versions in its own table so plugin schemas cannot collide with the
// core schema history.
func (s *Store) RunMigrations(ctx context.Context, paths ...string) error {
	// golang-migrate works against database/sql, so migrations run on a
	// dedicated connection independent of the pgx pool.
	db, err := stdsql.Open("pgx", s.dsn)
	if err != nil {
		return store.NewIOError("open migration connection", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return store.NewIOError("ping migration connection", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return store.NewIOError("load embedded migrations", err)
	}
	if err := applyMigrations(db, src, "schema_migrations"); err != nil {
		return store.NewIOError("apply embedded migrations", err)
	}

	for _, path := range paths {
		extra, err := iofs.New(os.DirFS(path), ".")
		if err != nil {
			return store.NewIOError("load migrations from "+path, err)
		}
		table := "schema_migrations_" + sanitizeIdentifier(filepath.Base(path))
		if err := applyMigrations(db, extra, table); err != nil {
			return store.NewIOError("apply migrations from "+path, err)
		}
	}

	s.logger.Info("Database migrations applied", "extraPaths", len(paths))
	return nil
}

// applyMigrations runs one migration source to its latest version. Only
// the source driver is closed afterwards: m.Close() would also close the
// shared *sql.DB handed to postgres.WithInstance.
func applyMigrations(db *stdsql.DB, src source.Driver, table string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply: %w", err)
	}
	return src.Close()
}

// sanitizeIdentifier maps an arbitrary string onto a safe SQL identifier
// fragment.
func sanitizeIdentifier(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)
}

// db guards against use before Init.
func (s *Store) db() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, store.NewIOError("query", errors.New("store is not initialized"))
	}
	return s.pool, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// unmarshalJSON decodes a jsonb column, treating NULL as absent.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// marshalMap encodes a map for a jsonb column, mapping nil to SQL NULL.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
