package db

import "testing"

func TestRebind(t *testing.T) {
	q := `UPDATE work_plans SET status=?, note='why?' WHERE id=? AND status=?`
	got := Rebind(Postgres, q)
	want := `UPDATE work_plans SET status=$1, note='why?' WHERE id=$2 AND status=$3`
	if got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}
	if Rebind(SQLite, q) != q {
		t.Fatalf("sqlite queries must pass through")
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite": SQLite, "pgx": Postgres, "PostgreSQL": Postgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	conn, dialect, err := Open(Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", dialect)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign keys not enabled")
	}
}
