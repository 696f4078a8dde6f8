package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"expensync/internal/log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrator owns its own connection so that migrate never holds the
// store's single pooled connection.
type migrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

func openMigrator(dbPath string) (*migrator, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &migrator{db: db, m: m}, nil
}

func (mg *migrator) close() {
	mg.m.Close()
	mg.db.Close()
}

// version returns the applied schema version, 0 for an empty database.
func (mg *migrator) version() (uint, error) {
	v, dirty, err := mg.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// RunMigrations brings the schema at dbPath up to the latest embedded version.
func RunMigrations(dbPath string) error {
	mg, err := openMigrator(dbPath)
	if err != nil {
		return err
	}
	defer mg.close()

	before, err := mg.version()
	if err != nil {
		return err
	}
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	after, err := mg.version()
	if err != nil {
		return err
	}

	if after != before {
		log.Default(log.ComponentStorage).Info("Local store schema migrated", "from", before, "to", after)
	}
	return nil
}

// SchemaVersion reports the schema version of the database at dbPath.
func SchemaVersion(dbPath string) (uint, error) {
	mg, err := openMigrator(dbPath)
	if err != nil {
		return 0, err
	}
	defer mg.close()
	return mg.version()
}
