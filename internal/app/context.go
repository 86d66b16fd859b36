package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"workplan/internal/blob"
	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/events"
	"workplan/internal/logging"
	"workplan/internal/metrics"
	"workplan/internal/migrate"
	"workplan/internal/notify"
	"workplan/internal/repo"
)

// Settings are the process-level knobs, bound from flags and WORKPLAN_* env.
type Settings struct {
	Workspace      string
	InstitutionID  string
	DBDriver       string
	DBDSN          string
	LogLevel       string
	LogFormat      string
	NotifyEndpoint string
	NotifySecret   string
	NotifyTimeout  time.Duration
	Blob           blob.Config
}

// Runtime is an opened store with the engine wired to it.
type Runtime struct {
	Engine  engine.Engine
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// Open opens and migrates the store, resolves the institution config and
// wires the collaborators.
func Open(ctx context.Context, s Settings) (*Runtime, error) {
	logger, err := logging.New(s.LogLevel, s.LogFormat)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(db.Config{Workspace: s.Workspace, Driver: s.DBDriver, DSN: s.DBDSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	cfg, err := ResolveConfig(ctx, r, s.Workspace, s.InstitutionID, time.Now())
	if err != nil {
		conn.Close()
		return nil, err
	}
	store, err := blob.Open(ctx, s.Blob)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	eng := engine.New(conn, dialect, cfg)
	eng.Log = logger
	eng.Metrics = metrics.New()
	eng.Notifier = notify.New(s.NotifyEndpoint, s.NotifySecret, s.NotifyTimeout)
	eng.Blobs = store
	logger.Debug("runtime opened",
		zap.String("dialect", string(dialect)),
		zap.String("institution", cfg.Institution.ID),
		zap.String("blob_driver", string(store.Driver())))
	return &Runtime{Engine: eng, Log: logger, Metrics: eng.Metrics}, nil
}

func (rt *Runtime) Close() error {
	_ = rt.Log.Sync()
	return rt.Engine.DB.Close()
}

// ResolveConfig returns the institution config stored in the DB. When none is
// stored yet it is seeded from the workspace workplan.yml, or from the
// default template.
func ResolveConfig(ctx context.Context, r repo.Repo, workspace, institutionID string, now time.Time) (*config.Config, error) {
	cfg, err := r.GetInstitutionConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace config: %w", err)
	}
	if seed == nil {
		if institutionID == "" {
			institutionID = "default"
		}
		seed = config.Default(institutionID)
	}
	if err := r.UpsertInstitutionConfig(ctx, seed, now); err != nil {
		return nil, fmt.Errorf("seed institution config: %w", err)
	}
	return seed, nil
}

// ImportConfig replaces the stored institution config and records the change.
func ImportConfig(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.WithTx(tx).UpsertInstitutionConfig(ctx, cfg, now); err != nil {
		return err
	}
	w := events.Writer{DB: r.DB, Dialect: r.Dialect, Now: func() time.Time { return now }}
	if err := w.Append(ctx, tx, "config.imported", "", events.KindConfig, cfg.Institution.ID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// Bootstrap names the records Init seeds.
type Bootstrap struct {
	CampusID   string
	CampusName string
	AdminID    string
	AdminName  string
	AdminEmail string
}

// Init seeds a default campus and a global administrator. Records that
// already exist are left untouched, so Init can run on every start.
func Init(ctx context.Context, r repo.Repo, b Bootstrap, now time.Time) (domain.Actor, error) {
	if b.CampusID == "" {
		b.CampusID = "main"
	}
	if b.CampusName == "" {
		b.CampusName = "Main campus"
	}
	if b.AdminID == "" {
		b.AdminID = "admin"
	}
	if b.AdminName == "" {
		b.AdminName = "Administrator"
	}
	ts := domain.FormatTime(now)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	rp := r.WithTx(tx)
	w := events.Writer{DB: r.DB, Dialect: r.Dialect, Now: func() time.Time { return now }}

	if err := ensure(func() error { _, err := rp.GetCampus(ctx, b.CampusID); return err }, func() error {
		if err := rp.InsertCampus(ctx, domain.Campus{ID: b.CampusID, Name: b.CampusName, CreatedAt: ts}); err != nil {
			return fmt.Errorf("insert campus: %w", err)
		}
		return w.Append(ctx, tx, "campus.created", b.CampusID, events.KindCampus, b.CampusID, b.AdminID, events.EventPayload{"seeded": true})
	}); err != nil {
		return domain.Actor{}, err
	}
	admin := domain.Actor{ID: b.AdminID, Name: b.AdminName, Email: b.AdminEmail, Role: "administrator", CreatedAt: ts}
	if err := ensure(func() error {
		existing, err := rp.GetActor(ctx, b.AdminID)
		if err == nil {
			admin = existing
		}
		return err
	}, func() error {
		if err := rp.InsertActor(ctx, admin); err != nil {
			return fmt.Errorf("insert admin: %w", err)
		}
		return w.Append(ctx, tx, "actor.registered", "", events.KindActor, admin.ID, admin.ID, events.EventPayload{"role": admin.Role, "seeded": true})
	}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return admin, nil
}

// ensure runs create when lookup reports the record missing.
func ensure(lookup, create func() error) error {
	err := lookup()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return create()
	default:
		return err
	}
}
