package persistence

import (
	"context"
	"fmt"

	"narrativeos/internal/config"
)

// Open returns the configured Database. Postgres connections are migrated
// before they are returned.
func Open(ctx context.Context, cfg config.Database) (Database, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryDB(), nil
	case "postgres":
		db, err := NewPostgresDB(cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		if err := NewMigrator(db).Up(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
