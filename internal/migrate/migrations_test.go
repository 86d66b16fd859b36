package migrate

import (
	"testing"

	"workplan/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("expected schema version >= 1, got %d", v)
	}
	if _, err := conn.Exec(`INSERT INTO campuses(id,name,created_at) VALUES ('c1','North','2025-01-01T00:00:00.000000Z')`); err != nil {
		t.Fatalf("schema missing campuses: %v", err)
	}
}

func TestBothDialectsShipMigrations(t *testing.T) {
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		ms, err := loadMigrations(d)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		if len(ms) == 0 || ms[0].Version != 1 {
			t.Fatalf("%s: unexpected migrations %+v", d, ms)
		}
		if len(statements(ms[0].UpSQL)) < 20 {
			t.Fatalf("%s: too few statements parsed", d)
		}
	}
}
