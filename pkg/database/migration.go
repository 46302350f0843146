package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	// MigrationFolderPath holds one sub folder per driver, e.g. db/postgres.
	MigrationFolderPath string
	Version             uint
	Force               int
	AutoRollback        bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) folder(driver string) string {
	folder := filepath.Join(ms.config.MigrationFolderPath, driver)
	if filepath.IsAbs(folder) {
		return folder
	}
	if _, err := os.Stat(folder); err == nil {
		abs, _ := filepath.Abs(folder)
		return abs
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, folder)
}

// MigrateDB applies the migrations for the database's dialect.
func (ms *MigrationService) MigrateDB(db DB) error {
	var (
		driver migratedb.Driver
		err    error
	)
	name := db.Dialect().Name()
	switch name {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.Raw(), &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.Raw(), &sqlite.Config{})
	default:
		err = fmt.Errorf("unsupported database driver %q", name)
	}
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}
	return ms.Migrate(name, driver)
}

func (ms *MigrationService) Migrate(driverName string, instance migratedb.Driver) error {
	folder := ms.folder(driverName)
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, driverName, instance)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, verErr := m.Version()
	if verErr != nil && verErr != migrate.ErrNilVersion {
		ms.logger.WithError(verErr).Warn("Failed to read current migration version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("Database migrations finished in %v", time.Since(start))

	return ms.handleMigrationError(m, err, previous, folder)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previous uint, folder string) error {
	switch {
	case err == nil:
		ms.logger.Info("Successfully applied migrations")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("No new migrations to apply")
		return nil
	case strings.Contains(err.Error(), "no migration found for version"):
		latest, latestErr := latestVersion(folder)
		if latestErr != nil {
			return errors.Wrap(latestErr, "failed to read latest migration version")
		}
		ms.logger.Warnf("No migration found for version %d, forcing version %d", previous, latest)
		return m.Force(latest)
	}

	version, dirty, verErr := m.Version()
	if verErr == nil && dirty && ms.config.AutoRollback {
		target := int(previous)
		if target == 0 && version > 0 {
			target = int(version) - 1
		}
		ms.logger.WithError(err).Warnf("Database is dirty at version %d, reverting to version %d", version, target)
		if forceErr := m.Force(target); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", target)
			return forceErr
		}
	}

	ms.logger.WithError(err).Errorf("Failed to apply migrations. dirty=%t version=%d", dirty, version)
	return err
}

var migrationFile = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func latestVersion(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if match := migrationFile.FindStringSubmatch(entry.Name()); len(match) > 1 {
			v, err := strconv.Atoi(match[1])
			if err != nil {
				return 0, err
			}
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folder)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
