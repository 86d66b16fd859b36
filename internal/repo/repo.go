package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusChanged is returned by conditional updates that matched no row
	// because the record was not in the expected state.
	ErrStatusChanged = errors.New("status changed")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the data access layer. The zero tx value reads and writes through
// the pool; WithTx binds every call to one transaction.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	tx      *sql.Tx
}

// WithTx returns a copy of r bound to tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	r.tx = tx
	return r
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q().ExecContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q().QueryContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q().QueryRowContext(ctx, db.Rebind(r.Dialect, query), args...)
}

// IsUniqueViolation reports whether err came from a unique index or primary
// key collision on either supported backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func affectedOrErr(res sql.Result, err error, missing error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(items []string) []any {
	args := make([]any, len(items))
	for i, s := range items {
		args[i] = s
	}
	return args
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(raw string) []string {
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// ScopeFilter restricts rows to the managers an actor can see. A filter with
// All unset and no ids matches nothing.
type ScopeFilter struct {
	All        bool
	CampusIDs  []string
	ProgramIDs []string
	ManagerIDs []string
}

// Empty reports whether the filter can match no manager at all.
func (f ScopeFilter) Empty() bool {
	return !f.All && len(f.CampusIDs) == 0 && len(f.ManagerIDs) == 0
}

// managerClause renders a predicate on col (a manager id column). ok is false
// when the filter is empty and the caller should return no rows.
func (f ScopeFilter) managerClause(col string) (clause string, args []any, ok bool) {
	switch {
	case f.Empty():
		return "", nil, false
	case f.ManagerIDs != nil:
		return fmt.Sprintf("%s IN (%s)", col, placeholders(len(f.ManagerIDs))), stringArgs(f.ManagerIDs), true
	case f.All:
		return "1=1", nil, true
	}
	sub := fmt.Sprintf("SELECT id FROM actors WHERE campus_id IN (%s)", placeholders(len(f.CampusIDs)))
	args = stringArgs(f.CampusIDs)
	if len(f.ProgramIDs) > 0 {
		sub += fmt.Sprintf(" AND program_id IN (%s)", placeholders(len(f.ProgramIDs)))
		args = append(args, stringArgs(f.ProgramIDs)...)
	}
	return fmt.Sprintf("%s IN (%s)", col, sub), args, true
}

// UpsertInstitutionConfig validates and stores the institution config.
func (r Repo) UpsertInstitutionConfig(ctx context.Context, cfg *config.Config, now time.Time) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	ts := domain.FormatTime(now)
	_, err = r.exec(ctx, `INSERT INTO institution_config(institution_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(institution_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		cfg.Institution.ID, string(payload), ts, ts)
	return err
}

// GetInstitutionConfig returns the most recently stored config.
func (r Repo) GetInstitutionConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.queryRow(ctx, `SELECT config_json FROM institution_config ORDER BY updated_at DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertCampus(ctx context.Context, c domain.Campus) error {
	_, err := r.exec(ctx, `INSERT INTO campuses(id,name,created_at) VALUES (?,?,?)`, c.ID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCampus(ctx context.Context, id string) (domain.Campus, error) {
	var c domain.Campus
	err := r.queryRow(ctx, `SELECT id,name,created_at FROM campuses WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListCampuses returns all campuses, or only ids when non-nil.
func (r Repo) ListCampuses(ctx context.Context, ids []string) ([]domain.Campus, error) {
	query := `SELECT id,name,created_at FROM campuses`
	var args []any
	if ids != nil {
		if len(ids) == 0 {
			return nil, nil
		}
		query += fmt.Sprintf(` WHERE id IN (%s)`, placeholders(len(ids)))
		args = stringArgs(ids)
	}
	query += ` ORDER BY name, id`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campus
	for rows.Next() {
		var c domain.Campus
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertProgram(ctx context.Context, p domain.Program) error {
	_, err := r.exec(ctx, `INSERT INTO programs(id,campus_id,name,created_at) VALUES (?,?,?,?)`, p.ID, p.CampusID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	var p domain.Program
	err := r.queryRow(ctx, `SELECT id,campus_id,name,created_at FROM programs WHERE id=?`, id).Scan(&p.ID, &p.CampusID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPrograms(ctx context.Context, campusID string) ([]domain.Program, error) {
	query := `SELECT id,campus_id,name,created_at FROM programs`
	var args []any
	if campusID != "" {
		query += ` WHERE campus_id=?`
		args = append(args, campusID)
	}
	query += ` ORDER BY name, id`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		var p domain.Program
		if err := rows.Scan(&p.ID, &p.CampusID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const actorColumns = `id,name,COALESCE(email,''),role,COALESCE(campus_id,''),COALESCE(program_id,''),weekly_hours,number_of_weeks,created_at`

func scanActor(scan func(...any) error) (domain.Actor, error) {
	var a domain.Actor
	err := scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.CampusID, &a.ProgramID, &a.WeeklyHours, &a.NumberOfWeeks, &a.CreatedAt)
	return a, err
}

// InsertActor stores an actor and its managed campuses.
func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	if a.ID == "" {
		return errors.New("actor_id required")
	}
	_, err := r.exec(ctx, `INSERT INTO actors(id,name,email,role,campus_id,program_id,weekly_hours,number_of_weeks,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Email), a.Role, nullable(a.CampusID), nullable(a.ProgramID), a.WeeklyHours, a.NumberOfWeeks, a.CreatedAt)
	if err != nil {
		return err
	}
	return r.SetManagedCampuses(ctx, a.ID, a.ManagedCampusIDs)
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	a, err := scanActor(r.queryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ManagedCampusIDs, err = r.managedCampuses(ctx, a.ID)
	return a, err
}

func (r Repo) managedCampuses(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT campus_id FROM actor_managed_campuses WHERE actor_id=? ORDER BY campus_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetManagedCampuses replaces the managed campus set of an actor.
func (r Repo) SetManagedCampuses(ctx context.Context, actorID string, campusIDs []string) error {
	if _, err := r.exec(ctx, `DELETE FROM actor_managed_campuses WHERE actor_id=?`, actorID); err != nil {
		return err
	}
	for _, c := range campusIDs {
		if _, err := r.exec(ctx, `INSERT INTO actor_managed_campuses(actor_id,campus_id) VALUES (?,?)`, actorID, c); err != nil {
			return fmt.Errorf("managed campus %s: %w", c, err)
		}
	}
	return nil
}

type ActorFilters struct {
	Scope ScopeFilter
	Role  string
}

// ListActors returns actors visible through the scope filter.
func (r Repo) ListActors(ctx context.Context, f ActorFilters) ([]domain.Actor, error) {
	clause, args, ok := f.Scope.managerClause("id")
	if !ok {
		return nil, nil
	}
	clauses := []string{clause}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	rows, err := r.query(ctx, `SELECT `+actorColumns+` FROM actors WHERE `+strings.Join(clauses, " AND ")+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].ManagedCampusIDs, err = r.managedCampuses(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateActorProfile writes the self-service fields of an actor.
func (r Repo) UpdateActorProfile(ctx context.Context, a domain.Actor) error {
	res, err := r.exec(ctx, `UPDATE actors SET name=?, email=?, campus_id=?, program_id=?, weekly_hours=?, number_of_weeks=? WHERE id=?`,
		a.Name, nullable(a.Email), nullable(a.CampusID), nullable(a.ProgramID), a.WeeklyHours, a.NumberOfWeeks, a.ID)
	return affectedOrErr(res, err, ErrNotFound)
}

// UpdateActorRole sets role and managed campuses together.
func (r Repo) UpdateActorRole(ctx context.Context, actorID, role string, managed []string) error {
	res, err := r.exec(ctx, `UPDATE actors SET role=? WHERE id=?`, role, actorID)
	if err := affectedOrErr(res, err, ErrNotFound); err != nil {
		return err
	}
	return r.SetManagedCampuses(ctx, actorID, managed)
}

// ListReviewers returns coordinators and administrators responsible for a
// campus, including global administrators.
func (r Repo) ListReviewers(ctx context.Context, campusID string) ([]domain.Actor, error) {
	rows, err := r.query(ctx, `SELECT `+actorColumns+` FROM actors a
WHERE (a.role='coordinator' AND (a.campus_id=? OR EXISTS (SELECT 1 FROM actor_managed_campuses m WHERE m.actor_id=a.id AND m.campus_id=?)))
   OR (a.role='administrator' AND (NOT EXISTS (SELECT 1 FROM actor_managed_campuses m WHERE m.actor_id=a.id)
        OR EXISTS (SELECT 1 FROM actor_managed_campuses m WHERE m.actor_id=a.id AND m.campus_id=?)))
ORDER BY a.id`, campusID, campusID, campusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActors returns the number of stored actors.
func (r Repo) CountActors(ctx context.Context) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT count(*) FROM actors`).Scan(&n)
	return n, err
}

type EventFilters struct {
	Limit      int
	Cursor     int64
	Type       string
	CampusID   string
	EntityKind string
	EntityID   string
}

// LatestEvents returns events newest first, starting below the cursor.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CampusID != "" {
		clauses = append(clauses, "campus_id=?")
		args = append(args, f.CampusID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := `SELECT id,ts,type,COALESCE(campus_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CampusID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
