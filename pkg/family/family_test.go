package family

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/db"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(zapcore.WarnLevel); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testStore(t *testing.T) *db.RefDB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	stmts := []string{
		`CREATE TABLE PFAM (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE SSF (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE INTERPRO (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE GENE3D (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`INSERT INTO PFAM VALUES ('PF00001', 'A1', 10, 50)`,
		`INSERT INTO PFAM VALUES ('PF00001', 'A2', 1, 99)`,
		`INSERT INTO PFAM VALUES ('PF00002', 'A1', 100, 140)`,
		`INSERT INTO SSF VALUES ('SSF12345', 'A3', 1, 200)`,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatal(err)
		}
	}

	return db.OpenWith(conn)
}

func TestExpandUnionsSpans(t *testing.T) {
	store := testStore(t)
	accum := make(Spans)

	err := Expand(context.Background(), store, "pfam", []string{"PF00001", "PF00002"}, accum)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(accum) != 2 {
		t.Fatalf("expected 2 accessions, got %d", len(accum))
	}
	if len(accum["A1"]) != 2 {
		t.Errorf("A1 should carry spans from both families: %v", accum["A1"])
	}
}

func TestExpandAll(t *testing.T) {
	store := testStore(t)

	accum, err := ExpandAll(context.Background(), store,
		nil, []string{"PF00001"}, nil, []string{"SSF12345"})
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}

	if len(accum) != 3 {
		t.Errorf("expected A1, A2, A3; got %v", accum)
	}
}
