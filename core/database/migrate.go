package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one schema step, applied in version order inside a transaction.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Migrate applies every migration for the named component with a version
// greater than that component's current version, in ascending order.
// Versions are tracked per component in the schema_versions table, so
// independent subsystems can each run their own migration set against one
// shared pool without clobbering each other's bookkeeping.
func Migrate(ctx context.Context, pool *Pool, component string, migrations []Migration) error {
	if component == "" {
		return fmt.Errorf("migrate: component name is required")
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	current, err := SchemaVersion(ctx, pool, component)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	for _, migration := range sorted {
		if migration.Version <= current {
			continue
		}

		if err := apply(ctx, pool, component, migration); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w",
				component, migration.Version, migration.Description, err)
		}
	}

	return nil
}

// SchemaVersion reads a component's current schema version, zero when the
// component has never migrated.
func SchemaVersion(ctx context.Context, pool *Pool, component string) (int, error) {
	if err := ensureVersionTable(ctx, pool); err != nil {
		return 0, fmt.Errorf("ensure version table: %w", err)
	}

	var version int
	err := pool.db.QueryRowContext(ctx,
		`SELECT version FROM schema_versions WHERE component = ?`, component).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func ensureVersionTable(ctx context.Context, pool *Pool) error {
	_, err := pool.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			component TEXT    PRIMARY KEY,
			version   INTEGER NOT NULL
		)`)
	return err
}

// apply runs one migration and the version bump in a single transaction.
func apply(ctx context.Context, pool *Pool, component string, migration Migration) error {
	tx, err := pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_versions (component, version) VALUES (?, ?)
		ON CONFLICT(component) DO UPDATE SET version = excluded.version`,
		component, migration.Version); err != nil {
		return fmt.Errorf("set version: %w", err)
	}

	return tx.Commit()
}
