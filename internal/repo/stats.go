package repo

import "context"

// Statistics is the aggregate view over plans and template reports inside a
// scope.
type Statistics struct {
	PlansByStatus           map[string]int `json:"plans_by_status"`
	AssignedHours           float64        `json:"assigned_hours"`
	TemplateReportsByStatus map[string]int `json:"template_reports_by_status"`
	Managers                int            `json:"managers"`
}

// AggregateStatistics computes counts for the scope in a handful of grouped
// queries.
func (r Repo) AggregateStatistics(ctx context.Context, scope ScopeFilter) (Statistics, error) {
	stats := Statistics{PlansByStatus: map[string]int{}, TemplateReportsByStatus: map[string]int{}}
	clause, args, ok := scope.managerClause("manager_id")
	if !ok {
		return stats, nil
	}
	if err := r.countByStatus(ctx, `SELECT status, count(*) FROM work_plans WHERE `+clause+` GROUP BY status`, args, stats.PlansByStatus); err != nil {
		return stats, err
	}
	if err := r.countByStatus(ctx, `SELECT status, count(*) FROM template_reports WHERE `+clause+` GROUP BY status`, args, stats.TemplateReportsByStatus); err != nil {
		return stats, err
	}
	err := r.queryRow(ctx, `SELECT COALESCE(SUM(a.hours),0) FROM plan_assignments a JOIN work_plans p ON p.id=a.plan_id WHERE `+
		qualify(scope, "p.manager_id"), args...).Scan(&stats.AssignedHours)
	if err != nil {
		return stats, err
	}
	actorClause, actorArgs, _ := scope.managerClause("id")
	err = r.queryRow(ctx, `SELECT count(*) FROM actors WHERE role='manager' AND `+actorClause, actorArgs...).Scan(&stats.Managers)
	return stats, err
}

func qualify(scope ScopeFilter, col string) string {
	clause, _, _ := scope.managerClause(col)
	return clause
}

func (r Repo) countByStatus(ctx context.Context, query string, args []any, into map[string]int) error {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		into[status] = count
	}
	return rows.Err()
}
