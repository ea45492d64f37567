package pg

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationNames returns the embedded migrations in the order they are applied
func MigrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migrations directory")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// RunMigrations applies the embedded migrations not applied yet; returns the names it applied
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	if pool == nil {
		return nil, errors.New("connection pool not initialized")
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire connection")
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+SchemaName); err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+TblMigrations.Qualified()+` (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrations table")
	}

	applied, err := appliedMigrations(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}

	names, err := MigrationNames()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, name := range names {
		if applied[name] {
			klog.V(4).InfoS("migration already applied", "migration", name)
			continue
		}
		sql, err := fs.ReadFile(migrationsFS, path.Join("migrations", name))
		if err != nil {
			return done, errors.Wrapf(err, "failed to read migration %s", name)
		}

		err = pgx.BeginFunc(ctx, conn.Conn(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return errors.Wrapf(err, "failed to apply migration %s", name)
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+TblMigrations.Qualified()+` (name) VALUES ($1)`, name)
			return errors.Wrapf(err, "failed to record migration %s", name)
		})
		if err != nil {
			return done, err
		}
		klog.InfoS("applied migration", "migration", name)
		done = append(done, name)
	}
	return done, nil
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT name FROM `+TblMigrations.Qualified()+` ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query migrations")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan migration names")
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}
