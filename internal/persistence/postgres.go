package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/lib/pq"
)

// PostgresDB implements the Database interface for PostgreSQL
type PostgresDB struct {
	db        *sql.DB
	rawItems  RawItemRepository
	units     UnitRepository
	clusters  ClusterRepository
	snapshots SnapshotRepository
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresDB(db), nil
}

func newPostgresDB(db *sql.DB) *PostgresDB {
	return &PostgresDB{
		db:        db,
		rawItems:  &postgresRawItemRepo{db: db},
		units:     &postgresUnitRepo{db: db},
		clusters:  &postgresClusterRepo{db: db},
		snapshots: &postgresSnapshotRepo{db: db},
	}
}

func (p *PostgresDB) RawItems() RawItemRepository   { return p.rawItems }
func (p *PostgresDB) Units() UnitRepository         { return p.units }
func (p *PostgresDB) Clusters() ClusterRepository   { return p.clusters }
func (p *PostgresDB) Snapshots() SnapshotRepository { return p.snapshots }

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// TryLock implements Database with a session-level advisory lock. The lock
// pins one pooled connection until release.
func (p *PostgresDB) TryLock(ctx context.Context, name string) (func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection for lock %s: %w", name, err)
	}

	key := advisoryKey(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take lock %s: %w", name, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrLocked)
	}

	unlockCtx := context.WithoutCancel(ctx)
	return func() {
		// Closing returns the connection to the pool, so unlock explicitly.
		_, _ = conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", key)
		_ = conn.Close()
	}, nil
}

// advisoryKey maps a lock name onto Postgres' bigint lock space.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// classify maps driver errors onto the package sentinels.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}
