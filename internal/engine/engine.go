package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workplan/internal/blob"
	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/metrics"
	"workplan/internal/notify"
	"workplan/internal/repo"
)

const uploadTimeout = 30 * time.Second

type Engine struct {
	DB       *sql.DB
	Dialect  db.Dialect
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Blobs    blob.Store
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Now      func() time.Time
}

// New wires an engine over conn with no-op collaborators. Callers replace
// Notifier, Blobs, Metrics and Log as needed.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	return Engine{
		DB:       conn,
		Dialect:  dialect,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{DB: conn, Dialect: dialect},
		Config:   cfg,
		Notifier: notify.Noop{},
		Blobs:    blob.NewMemory(""),
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

// begin opens a write transaction and a repo bound to it.
func (e Engine) begin(ctx context.Context) (*sql.Tx, repo.Repo, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, repo.Repo{}, err
	}
	return tx, e.Repo.WithTx(tx), nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, campusID, kind, id, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, campusID, kind, id, actorID, payload)
}

func newID(prefix, given string) string {
	if given != "" {
		return given
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// LoadActor reads the stored actor behind id.
func (e Engine) LoadActor(ctx context.Context, id string) (auth.Actor, error) {
	a, err := e.Repo.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return auth.Actor{}, fmt.Errorf("actor %s: %w", id, ErrNotFound)
		}
		return auth.Actor{}, err
	}
	return auth.FromDomain(a), nil
}

// ResolveScope returns the visibility of actor. For a global administrator
// CampusIDs lists every campus currently in the store.
func (e Engine) ResolveScope(ctx context.Context, actor auth.Actor) (auth.Scope, error) {
	s := auth.Resolve(actor)
	if !s.AllCampuses {
		return s, nil
	}
	campuses, err := e.Repo.ListCampuses(ctx, nil)
	if err != nil {
		return auth.Scope{}, err
	}
	s.CampusIDs = make([]string, 0, len(campuses))
	for _, c := range campuses {
		s.CampusIDs = append(s.CampusIDs, c.ID)
	}
	return s, nil
}

// managerInScope loads the manager owning a record and checks that actor can
// see it.
func managerInScope(ctx context.Context, rp repo.Repo, actor auth.Actor, managerID, action string) (domain.Actor, error) {
	owner, err := rp.GetActor(ctx, managerID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("owner %s: %w", managerID, err)
	}
	if !auth.Resolve(actor).ContainsManager(owner) {
		return domain.Actor{}, auth.Forbidden(action, "record outside actor scope")
	}
	return owner, nil
}

func requireOwner(actor auth.Actor, managerID, action string) error {
	if actor.ID == "" || actor.ID != managerID {
		return auth.Forbidden(action, "only the owning manager may do this")
	}
	return nil
}

func requireAdmin(actor auth.Actor, action string) error {
	if !actor.IsAdmin() {
		return auth.Forbidden(action, "administrator role required")
	}
	return nil
}

// requirePeriodOpen evaluates the period gate at the engine clock.
func (e Engine) requirePeriodOpen(ctx context.Context, rp repo.Repo, op, periodID string) error {
	open, err := rp.PeriodActive(ctx, periodID, e.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("period %s: %w", periodID, ErrNotFound)
		}
		return err
	}
	if !open {
		return invalid(op, "period_id", IssuePeriodClosed, fmt.Sprintf("report period %s is not open", periodID))
	}
	return nil
}

// sendNotification runs after commit. Failures become warnings.
func (e Engine) sendNotification(ctx context.Context, req notify.Request) []string {
	if e.Notifier == nil || len(req.Recipients) == 0 {
		return nil
	}
	if err := e.Notifier.Send(ctx, req); err != nil {
		e.log().Warn("notification failed",
			zap.String("template", req.TemplateType),
			zap.Int("recipients", len(req.Recipients)),
			zap.Error(err))
		e.Metrics.NotifyFailed(req.TemplateType)
		return []string{fmt.Sprintf("notification %s not delivered: %v", req.TemplateType, errors.Join(ErrUpstreamUnavailable, err))}
	}
	return nil
}

func emails(actors []domain.Actor) []string {
	var out []string
	for _, a := range actors {
		if a.Email != "" {
			out = append(out, a.Email)
		}
	}
	return out
}

func templateName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
