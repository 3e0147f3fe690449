package selectseq

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/db"
	"github.com/yumyai/ssngen/pkg/family"
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
		`INSERT INTO PFAM VALUES ('PF00001', 'P00001', 10, 50)`,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatal(err)
		}
	}

	return db.OpenWith(conn)
}

func spansOf(accs ...string) family.Spans {
	spans := make(family.Spans)
	for _, a := range accs {
		spans[a] = nil
	}
	return spans
}

func TestVerify(t *testing.T) {
	store := testStore(t)
	spans := make(family.Spans)

	noMatches, err := Verify(context.Background(), store, []string{"P00001", "P99999"}, false, spans)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if len(spans["P00001"]) != 1 {
		t.Errorf("P00001 spans = %v", spans["P00001"])
	}
	if len(noMatches) != 1 || noMatches[0].Reason != NotFoundDatabase {
		t.Errorf("noMatches = %v", noMatches)
	}
	if _, ok := spans["P99999"]; ok {
		t.Error("unverified accession must be excluded")
	}
}

func TestVerifyDuplicate(t *testing.T) {
	store := testStore(t)

	spans := make(family.Spans)
	spans.Add(db.Range{Accession: "P00001", Start: 10, End: 50})

	noMatches, err := Verify(context.Background(), store, []string{"P00001"}, false, spans)
	if err != nil {
		t.Fatal(err)
	}

	if len(noMatches) != 1 || noMatches[0].Reason != Duplicate {
		t.Errorf("expected DUPLICATE record, got %v", noMatches)
	}
	if len(spans["P00001"]) != 1 {
		t.Errorf("duplicate must still be included once: %v", spans["P00001"])
	}
}

func TestVerifySkip(t *testing.T) {
	store := testStore(t)
	spans := make(family.Spans)

	noMatches, err := Verify(context.Background(), store, []string{"P99999"}, true, spans)
	if err != nil {
		t.Fatal(err)
	}

	if len(noMatches) != 0 {
		t.Errorf("skip-verify records no misses: %v", noMatches)
	}
	if _, ok := spans["P99999"]; !ok {
		t.Error("skip-verify keeps the accession")
	}
}

func TestFinalizeFractionExactness(t *testing.T) {
	spans := spansOf("A1", "A2", "A3", "A4", "A5", "A6", "A7")

	sel, err := Finalize(spans, nil, 0, "", 3, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// 7 accessions, fraction 3: floor(7/3) = 2 survive, every 3rd of the
	// sorted order.
	if len(sel.Order) != 2 {
		t.Fatalf("Order = %v", sel.Order)
	}
	if sel.Order[0] != "A3" || sel.Order[1] != "A6" {
		t.Errorf("Order = %v", sel.Order)
	}
}

func TestFinalizeRandomFraction(t *testing.T) {
	spans := spansOf("A1", "A2", "A3", "A4", "A5", "A6")

	sel, err := Finalize(spans, nil, 0, "", 2, true, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}

	if len(sel.Order) != 3 {
		t.Fatalf("random fraction must keep the same cardinality: %v", sel.Order)
	}
}

func TestFinalizeMaxSequence(t *testing.T) {
	dir := t.TempDir()
	failed := path.Join(dir, "accession.txt.failed")

	spans := spansOf("A1", "A2", "A3")

	_, err := Finalize(spans, nil, 2, failed, 1, false, nil)

	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Count != 3 {
		t.Errorf("Count = %d", capErr.Count)
	}
	if _, statErr := os.Stat(failed); statErr != nil {
		t.Error(".failed marker not written")
	}
}

func TestWriteAccessionFileDomain(t *testing.T) {
	spans := make(family.Spans)
	spans.Add(db.Range{Accession: "A1", Start: 10, End: 50})
	spans.Add(db.Range{Accession: "A1", Start: 100, End: 140})

	sel := &Selection{Spans: spans, Order: []string{"A1"}}

	var buf bytes.Buffer
	if err := sel.WriteAccessionFile(&buf, true); err != nil {
		t.Fatal(err)
	}

	want := "A1:10:50\nA1:100:140\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := sel.WriteAccessionFile(&buf, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "A1\n" {
		t.Errorf("domain off: got %q", buf.String())
	}
}

func TestWriteNoMatchFile(t *testing.T) {
	var buf bytes.Buffer

	err := WriteNoMatchFile(&buf, []NoMatch{
		{QueryID: "NP_000001", Reason: NotFoundIDMapping},
		{QueryID: "P99999", Reason: NotFoundDatabase},
	})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[0] != "NP_000001\tNOT_FOUND_IDMAPPING" {
		t.Errorf("output:\n%s", buf.String())
	}
}
