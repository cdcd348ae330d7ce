package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// RunMigrations applies every pending .up.sql migration found in migrations.
func RunMigrations(migrations fs.FS, config Config, log *logrus.Entry) error {
	m, err := newMigrator(migrations, config)
	if err != nil {
		return err
	}
	defer closeMigrator(m, log)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("successfully applied migrations")
	return nil
}

// RollbackMigrations reverts the given number of applied migrations.
func RollbackMigrations(migrations fs.FS, config Config, steps int, log *logrus.Entry) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}

	m, err := newMigrator(migrations, config)
	if err != nil {
		return err
	}
	defer closeMigrator(m, log)

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	log.WithField("steps", steps).Info("rolled back migrations")
	return nil
}

func newMigrator(migrations fs.FS, config Config) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, config.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, log *logrus.Entry) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		log.WithError(sourceErr).Warn("failed to close migration source")
	}
	if dbErr != nil {
		log.WithError(dbErr).Warn("failed to close migration database")
	}
}
