package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
)

// IsOpen reports whether writes against p are accepted at now.
func IsOpen(p domain.ReportPeriod, now time.Time) bool {
	if !p.IsActive {
		return false
	}
	ts := domain.FormatTime(now)
	return p.StartDate <= ts && ts <= p.EndDate
}

// CheckPeriodActive evaluates the period gate at the engine clock.
func (e Engine) CheckPeriodActive(ctx context.Context, periodID string) (bool, error) {
	open, err := e.Repo.PeriodActive(ctx, periodID, e.now())
	if err != nil {
		return false, err
	}
	if !open {
		if _, err := e.Repo.GetPeriod(ctx, periodID); err != nil {
			return false, fmt.Errorf("period %s: %w", periodID, err)
		}
	}
	return open, nil
}

type PeriodInput struct {
	ID     string
	Name   string
	Start  string
	End    string
	Active bool
}

// periodBound parses a period date. A date-only end covers that whole day.
func periodBound(s string, end bool) (string, error) {
	t, err := domain.ParseTime(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	if end && len(strings.TrimSpace(s)) == len("2006-01-02") {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return domain.FormatTime(t), nil
}

func (e Engine) CreatePeriod(ctx context.Context, actor auth.Actor, in PeriodInput) (domain.ReportPeriod, error) {
	const op = "period.create"
	if err := requireAdmin(actor, op); err != nil {
		return domain.ReportPeriod{}, err
	}
	var issues []Issue
	if strings.TrimSpace(in.Name) == "" {
		issues = append(issues, Issue{Field: "name", Kind: IssueRequired, Message: "name is required"})
	}
	start, err := periodBound(in.Start, false)
	if err != nil {
		issues = append(issues, Issue{Field: "start_date", Kind: IssueInvalid, Message: err.Error()})
	}
	end, err := periodBound(in.End, true)
	if err != nil {
		issues = append(issues, Issue{Field: "end_date", Kind: IssueInvalid, Message: err.Error()})
	}
	if start != "" && end != "" && start > end {
		issues = append(issues, Issue{Field: "end_date", Kind: IssueInvalid, Message: "end_date precedes start_date"})
	}
	if len(issues) > 0 {
		return domain.ReportPeriod{}, &ValidationError{Op: op, Issues: issues}
	}

	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ReportPeriod{}, err
	}
	defer tx.Rollback()

	p := domain.ReportPeriod{
		ID:        newID("period", in.ID),
		Name:      in.Name,
		StartDate: start,
		EndDate:   end,
		IsActive:  in.Active,
		CreatedAt: e.stamp(),
	}
	if err := rp.InsertPeriod(ctx, p); err != nil {
		return domain.ReportPeriod{}, fmt.Errorf("insert period: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "period.created", "", events.KindPeriod, p.ID, actor.ID,
		events.EventPayload{"start_date": p.StartDate, "end_date": p.EndDate, "is_active": p.IsActive}); err != nil {
		return domain.ReportPeriod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReportPeriod{}, err
	}
	return p, nil
}

func (e Engine) SetPeriodActive(ctx context.Context, actor auth.Actor, id string, active bool) (domain.ReportPeriod, error) {
	if err := requireAdmin(actor, "period.activate"); err != nil {
		return domain.ReportPeriod{}, err
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ReportPeriod{}, err
	}
	defer tx.Rollback()

	if err := rp.SetPeriodActive(ctx, id, active); err != nil {
		return domain.ReportPeriod{}, fmt.Errorf("period %s: %w", id, err)
	}
	p, err := rp.GetPeriod(ctx, id)
	if err != nil {
		return domain.ReportPeriod{}, err
	}
	if err := e.appendEvent(ctx, tx, "period.activation", "", events.KindPeriod, id, actor.ID, events.EventPayload{"is_active": active}); err != nil {
		return domain.ReportPeriod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReportPeriod{}, err
	}
	return p, nil
}

func (e Engine) ListPeriods(ctx context.Context, activeOnly bool) ([]domain.ReportPeriod, error) {
	return e.Repo.ListPeriods(ctx, activeOnly)
}

func (e Engine) GetPeriod(ctx context.Context, id string) (domain.ReportPeriod, error) {
	p, err := e.Repo.GetPeriod(ctx, id)
	if err != nil {
		return p, fmt.Errorf("period %s: %w", id, err)
	}
	return p, nil
}
