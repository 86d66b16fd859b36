package engine

import (
	"context"

	"workplan/internal/engine/auth"
	"workplan/internal/repo"
)

// Statistics aggregates plans, hours and template reports inside the scope
// of actor. An empty scope yields zero counts.
func (e Engine) Statistics(ctx context.Context, actor auth.Actor) (repo.Statistics, error) {
	return e.Repo.AggregateStatistics(ctx, scopeFilter(actor))
}
