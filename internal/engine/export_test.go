package engine

import (
	"context"

	"workplan/internal/domain"
	"workplan/internal/repo"
)

// SetBeforeVersionInsert installs f as the pre-insert hook of CreateVersion
// and returns a func restoring the previous one.
func SetBeforeVersionInsert(f func(ctx context.Context, rp repo.Repo, v domain.ManagerReportVersion) error) func() {
	prev := beforeVersionInsert
	beforeVersionInsert = f
	return func() { beforeVersionInsert = prev }
}
