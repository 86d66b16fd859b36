package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/migrate"
	"workplan/internal/repo"
)

func openRepo(t *testing.T, workspace string) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn, Dialect: dialect}
}

func TestResolveConfigSeedsOnce(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg, err := ResolveConfig(ctx, r, t.TempDir(), "inst-x", now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Institution.ID != "inst-x" {
		t.Fatalf("expected seeded institution, got %q", cfg.Institution.ID)
	}
	again, err := ResolveConfig(ctx, r, "", "other", now)
	if err != nil || again.Institution.ID != "inst-x" {
		t.Fatalf("stored config should win over a new id: %v (%v)", again.Institution.ID, err)
	}
}

func TestResolveConfigPrefersWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "workplan.yml"), []byte(config.GenerateDefault("from-file")), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	r := openRepo(t, t.TempDir())
	cfg, err := ResolveConfig(context.Background(), r, ws, "ignored", time.Now())
	if err != nil || cfg.Institution.ID != "from-file" {
		t.Fatalf("expected workspace config, got %+v (%v)", cfg, err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := Init(ctx, r, Bootstrap{AdminEmail: "root@example.edu"}, now)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if first.ID != "admin" || first.Role != "administrator" {
		t.Fatalf("unexpected admin %+v", first)
	}
	second, err := Init(ctx, r, Bootstrap{AdminName: "Renamed"}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second.Name != first.Name || second.Email != "root@example.edu" {
		t.Fatalf("existing admin must be kept, got %+v", second)
	}
	n, err := r.CountActors(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one actor, got %d (%v)", n, err)
	}
	if _, err := r.GetCampus(ctx, "main"); err != nil {
		t.Fatalf("default campus: %v", err)
	}
}

func TestImportConfigRecordsEvent(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())
	cfg := config.Default("imported")
	if err := ImportConfig(ctx, r, cfg, "admin", time.Now()); err != nil {
		t.Fatalf("import: %v", err)
	}
	stored, err := r.GetInstitutionConfig(ctx)
	if err != nil || stored.Institution.ID != "imported" {
		t.Fatalf("stored config: %+v (%v)", stored, err)
	}
	evts, err := r.LatestEvents(ctx, repo.EventFilters{Type: "config.imported"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one import event, got %d (%v)", len(evts), err)
	}
}
