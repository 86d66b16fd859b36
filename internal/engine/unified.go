package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/repo"
)

// FamilyError names a report family whose fetch failed.
type FamilyError struct {
	Family string `json:"family"`
	Error  string `json:"error"`
}

type UnifiedResult struct {
	Reports        []domain.UnifiedReport `json:"reports"`
	FailedFamilies []FamilyError          `json:"failed_families,omitempty"`
}

type familyFetch func(ctx context.Context, f repo.ScopeFilter, managerID string) ([]domain.UnifiedReport, error)

func planReportStatus(s string) string {
	switch s {
	case PlanReportSubmitted:
		return domain.UnifiedSubmitted
	case PlanReportApproved, PlanReportRejected:
		return domain.UnifiedReviewed
	}
	return domain.UnifiedDraft
}

func templateReportStatus(s string) string {
	switch s {
	case TemplateReportSubmitted:
		return domain.UnifiedSubmitted
	case TemplateReportReviewed:
		return domain.UnifiedReviewed
	}
	return domain.UnifiedDraft
}

func indicatorStatus(s string) string {
	switch s {
	case IndicatorCompleted:
		return domain.UnifiedSubmitted
	case IndicatorEvaluated:
		return domain.UnifiedReviewed
	}
	return domain.UnifiedDraft
}

func (e Engine) families() []struct {
	name  string
	fetch familyFetch
} {
	return []struct {
		name  string
		fetch familyFetch
	}{
		{domain.ReportTypeWorkPlan, func(ctx context.Context, f repo.ScopeFilter, managerID string) ([]domain.UnifiedReport, error) {
			rows, err := e.Repo.ListPlanReports(ctx, f, managerID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.UnifiedReport, 0, len(rows))
			for _, r := range rows {
				out = append(out, domain.UnifiedReport{ID: r.ID, ManagerID: r.ManagerID, Title: r.Title, Status: planReportStatus(r.Status),
					SubmittedDate: r.SubmittedDate, CreatedAt: r.CreatedAt, ReportType: domain.ReportTypeWorkPlan})
			}
			return out, nil
		}},
		{domain.ReportTypeTemplate, func(ctx context.Context, f repo.ScopeFilter, managerID string) ([]domain.UnifiedReport, error) {
			rows, err := e.Repo.ListTemplateReports(ctx, f, managerID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.UnifiedReport, 0, len(rows))
			for _, r := range rows {
				out = append(out, domain.UnifiedReport{ID: r.ID, ManagerID: r.ManagerID, Title: r.Title, Status: templateReportStatus(r.Status),
					SubmittedDate: r.SubmittedDate, CreatedAt: r.CreatedAt, ReportType: domain.ReportTypeTemplate})
			}
			return out, nil
		}},
		{domain.ReportTypeIndicators, func(ctx context.Context, f repo.ScopeFilter, managerID string) ([]domain.UnifiedReport, error) {
			rows, err := e.Repo.ListIndicatorReports(ctx, f, managerID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.UnifiedReport, 0, len(rows))
			for _, r := range rows {
				out = append(out, domain.UnifiedReport{ID: r.ID, ManagerID: r.ManagerID, Title: r.Title, Status: indicatorStatus(r.Status),
					SubmittedDate: r.SubmittedDate, CreatedAt: r.CreatedAt, ReportType: domain.ReportTypeIndicators})
			}
			return out, nil
		}},
	}
}

// ListUnifiedReports merges every report family of managerID (or of the whole
// scope when empty) into one list, newest first. A family that fails is
// reported in FailedFamilies; the others are still returned.
func (e Engine) ListUnifiedReports(ctx context.Context, actor auth.Actor, managerID string) (UnifiedResult, error) {
	scope := auth.Resolve(actor)
	if managerID != "" {
		m, err := e.Repo.GetActor(ctx, managerID)
		if errors.Is(err, repo.ErrNotFound) {
			return UnifiedResult{}, nil
		}
		if err != nil {
			return UnifiedResult{}, err
		}
		if !scope.ContainsManager(m) {
			return UnifiedResult{}, nil
		}
	}
	filter := scope.Filter()
	if filter.Empty() {
		return UnifiedResult{}, nil
	}

	fams := e.families()
	results := make([][]domain.UnifiedReport, len(fams))
	errs := make([]error, len(fams))
	var wg conc.WaitGroup
	for i, fam := range fams {
		i, fam := i, fam
		wg.Go(func() {
			results[i], errs[i] = fam.fetch(ctx, filter, managerID)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return UnifiedResult{}, fmt.Errorf("unified reports: %v", r.Value)
	}

	var out UnifiedResult
	for i, fam := range fams {
		if errs[i] != nil {
			e.log().Warn("report family failed", zap.String("family", fam.name), zap.Error(errs[i]))
			e.Metrics.FamilyFailed(fam.name)
			out.FailedFamilies = append(out.FailedFamilies, FamilyError{Family: fam.name, Error: errs[i].Error()})
			continue
		}
		out.Reports = append(out.Reports, results[i]...)
	}
	sort.SliceStable(out.Reports, func(a, b int) bool {
		ra, rb := out.Reports[a], out.Reports[b]
		if ra.CreatedAt != rb.CreatedAt {
			return ra.CreatedAt > rb.CreatedAt
		}
		return ra.ID > rb.ID
	})
	return out, nil
}
