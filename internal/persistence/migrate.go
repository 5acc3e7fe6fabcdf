package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"narrativeos/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// versionsTable records which schema versions have been applied.
const versionsTable = "narrativeos_schema_versions"

// Migration is one embedded SQL file.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus pairs an embedded migration with whether the database has it.
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// Migrator brings a Postgres schema up to the embedded version set.
type Migrator struct {
	db  *PostgresDB
	log *slog.Logger
}

// NewMigrator creates a Migrator for db.
func NewMigrator(db *PostgresDB) *Migrator {
	return &Migrator{db: db, log: logger.Get()}
}

// Up applies every embedded migration the database lacks, oldest first.
// Processes migrating the same database at once wait on each other, and a
// version applied by one is skipped by the rest.
func (m *Migrator) Up(ctx context.Context) error {
	available, applied, err := m.state(ctx)
	if err != nil {
		return err
	}

	pending := PendingMigrations(available, applied)
	if len(pending) == 0 {
		m.log.Info("Schema is up to date", "versions", len(available))
		return nil
	}

	for _, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", mig.Version, mig.Description, err)
		}
	}
	m.log.Info("Schema migrated", "applied", len(pending))
	return nil
}

// Status lists every embedded migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	available, applied, err := m.state(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	out := make([]MigrationStatus, 0, len(available))
	for _, mig := range available {
		out = append(out, MigrationStatus{
			Version:     mig.Version,
			Description: mig.Description,
			Applied:     done[mig.Version],
		})
	}
	return out, nil
}

// state returns the embedded migrations and the versions already applied,
// creating the versions table on first use.
func (m *Migrator) state(ctx context.Context) ([]Migration, []int, error) {
	if _, err := m.db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionsTable+` (
			version     INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", versionsTable, err)
	}

	rows, err := m.db.db.QueryContext(ctx, `SELECT version FROM `+versionsTable+` ORDER BY version`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", versionsTable, err)
	}
	defer rows.Close()

	var applied []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	available, err := LoadMigrations()
	if err != nil {
		return nil, nil, err
	}
	return available, applied, nil
}

// apply runs one migration in a transaction holding the migration lock.
func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(versionsTable)); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+versionsTable+` WHERE version = $1`, mig.Version).Scan(&one)
	switch {
	case err == nil:
		m.log.Debug("Migration applied concurrently, skipping", "version", mig.Version)
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	m.log.Info("Applying migration", "version", mig.Version, "description", mig.Description)
	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+versionsTable+` (version, description) VALUES ($1, $2)`,
		mig.Version, mig.Description); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}

// LoadMigrations returns the embedded migrations sorted by version. Files
// whose names do not parse are skipped with a warning.
func LoadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, desc, ok := parseMigrationName(e.Name())
		if !ok {
			logger.Warn("Ignoring migration file", "file", e.Name())
			continue
		}
		body, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Description: desc, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName splits "007_add_alert_index.sql" into 7 and
// "add alert index".
func parseMigrationName(name string) (int, string, bool) {
	stem, isSQL := strings.CutSuffix(name, ".sql")
	if !isSQL {
		return 0, "", false
	}
	num, rest, found := strings.Cut(stem, "_")
	if !found || rest == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, strings.ReplaceAll(rest, "_", " "), true
}

// PendingMigrations filters available down to versions not in applied,
// keeping their order.
func PendingMigrations(available []Migration, applied []int) []Migration {
	skip := make(map[int]struct{}, len(applied))
	for _, v := range applied {
		skip[v] = struct{}{}
	}
	var out []Migration
	for _, mig := range available {
		if _, ok := skip[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}
