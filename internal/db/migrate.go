package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/bidhouse/apiserver/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Direction selects which way Migrate moves the schema.
type Direction int

const (
	Up Direction = iota
	Down
)

func newMigrator(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	migrator, err := migrate.NewWithSourceInstance("iofs", source, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return migrator, nil
}

func withMigrator(cfg config.DatabaseConfig, fn func(*migrate.Migrate) error) error {
	migrator, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := fn(migrator); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Migrate applies or rolls back every embedded migration. A schema already
// at the target version is not an error.
func Migrate(cfg config.DatabaseConfig, dir Direction) error {
	return withMigrator(cfg, func(m *migrate.Migrate) error {
		switch dir {
		case Up:
			return m.Up()
		case Down:
			return m.Down()
		default:
			return fmt.Errorf("unknown migration direction %d", dir)
		}
	})
}

// Steps moves the schema n migrations forward, or back when n is negative.
func Steps(cfg config.DatabaseConfig, n int) error {
	if n == 0 {
		return nil
	}
	return withMigrator(cfg, func(m *migrate.Migrate) error {
		return m.Steps(n)
	})
}

// Version reports the applied schema version. ok is false on an empty
// database.
func Version(cfg config.DatabaseConfig) (version uint, dirty, ok bool, err error) {
	err = withMigrator(cfg, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		ok = verr == nil
		return verr
	})
	return version, dirty, ok, err
}
