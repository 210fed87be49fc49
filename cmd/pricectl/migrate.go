package main

import (
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/pricesync/internal/database"
)

type migrator struct {
	pool *pgxpool.Pool
}

func (m migrator) up() error            { return database.Migrate(m.pool) }
func (m migrator) down(steps int) error { return database.MigrateDown(m.pool, steps) }

func (m migrator) printVersion(w io.Writer) error {
	version, dirty, err := database.MigrationVersion(m.pool)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	_, err = fmt.Fprintf(w, "schema version %d (%s)\n", version, state)
	return err
}

// withPool connects with the full configuration and hands fn a migrator.
func withPool(cmd *cobra.Command, fn func(m migrator) error) error {
	cfg, err := loadOnline(cmd)
	if err != nil {
		return err
	}
	pool, err := database.Connect(cmd.Context(), cfg.Database.URL, cfg.PoolOptions())
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(migrator{pool: pool})
}
