package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"tapline/internal/config"
	"tapline/internal/db"
	"tapline/internal/engine"
	"tapline/internal/migrate"
	"tapline/internal/refdata"
)

// Runtime is an opened workspace: config, migrated database and an engine
// whose catalog reflects the stored reference data.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open loads the workspace config (falling back to defaults), opens and
// migrates the database and seeds the bundled reference data when the
// catalog is empty.
func Open(ctx context.Context, workspace string, logger *logrus.Entry) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *logrus.Entry) (*Runtime, error) {
	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Dialect: dbCfg.Dialect()}
	if err := migrate.Migrate(conn, rt.Dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rt.Engine = engine.New(conn, rt.Dialect, cfg, nil)
	rt.Engine.Logger = logger
	if err := ensureReferenceData(ctx, rt.Engine); err != nil {
		conn.Close()
		return nil, err
	}
	if err := rt.ReloadCatalog(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

// ReloadCatalog rebuilds the engine catalog from the database.
func (r *Runtime) ReloadCatalog(ctx context.Context) error {
	catalog, err := r.Engine.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	r.Engine.Resolver = refdata.Resolver{Catalog: catalog}
	return nil
}

func ensureReferenceData(ctx context.Context, e engine.Engine) error {
	n, err := e.Repo.CountReferenceData(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	seed, err := refdata.DefaultSeed()
	if err != nil {
		return err
	}
	if err := e.ImportReferenceData(ctx, seed); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}
	return nil
}
