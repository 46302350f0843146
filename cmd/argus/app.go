package main

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/Ramsey-B/argus/config"
	"github.com/Ramsey-B/argus/internal/repositories/contract"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/internal/repositories/request"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/events"
	"github.com/Ramsey-B/argus/pkg/inject"
	"github.com/Ramsey-B/argus/pkg/matching"
	"github.com/Ramsey-B/argus/pkg/routes/contracts"
	"github.com/Ramsey-B/argus/pkg/routes/requests"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid LOG_LEVEL %q", cfg.LogLevel)
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		Path:            cfg.DatabaseSQLitePath,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func migrationService(cfg *config.Config, logger ectologger.Logger) *database.MigrationService {
	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(max(cfg.DatabaseMigrationVersion, 0)),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
}

// services is the wired record layer over one database.
type services struct {
	probe     *capability.Probe
	contracts *contract.Repository
	requests  *request.Repository
	search    *matching.Engine
}

func newServices(cfg *config.Config, db database.DB, guard record.Guard, notifier events.Notifier, logger ectologger.Logger) *services {
	probe := capability.NewProbe(db, logger)
	contracts := contract.NewRepository(db, probe, guard, notifier, logger)
	requests := request.NewRepository(db, probe, contracts, guard, notifier, logger)
	search := matching.NewEngine(requests, contracts, probe, matching.Config{
		DefaultLimit: cfg.SearchDefaultLimit,
		MaxLimit:     cfg.SearchMaxLimit,
		ScanLimit:    cfg.SearchFallbackScanLimit,
	}, logger)
	return &services{probe: probe, contracts: contracts, requests: requests, search: search}
}

// container registers the repositories the route handlers resolve.
func (s *services) container(id string, logger ectologger.Logger) (ectocontainer.DIContainer, error) {
	container, err := inject.NewContainer(id, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create dependency container")
	}
	if err := ectoinject.RegisterInstance[contracts.Repository](container, s.contracts); err != nil {
		return nil, errors.Wrap(err, "register contract repository")
	}
	if err := ectoinject.RegisterInstance[requests.Repository](container, s.requests); err != nil {
		return nil, errors.Wrap(err, "register request repository")
	}
	if err := ectoinject.RegisterInstance[requests.Searcher](container, s.search); err != nil {
		return nil, errors.Wrap(err, "register match search")
	}
	return container, nil
}

// warm resolves the column plans and the JSON mode so the first request
// does not pay for catalog queries.
func (s *services) warm(ctx context.Context) error {
	if _, err := s.contracts.Store().Plan(ctx); err != nil {
		return errors.Wrap(err, "probe contract columns")
	}
	if _, err := s.requests.Store().Plan(ctx); err != nil {
		return errors.Wrap(err, "probe request columns")
	}
	s.probe.SupportsJSONQuery(ctx)
	return nil
}
