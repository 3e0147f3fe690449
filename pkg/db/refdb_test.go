package db

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *RefDB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	schema := []string{
		`CREATE TABLE INTERPRO (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE PFAM (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE GENE3D (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE SSF (id TEXT, accession TEXT, start INTEGER, end INTEGER)`,
		`CREATE TABLE idmapping (foreign_id TEXT, foreign_type TEXT, uniprot_id TEXT)`,
		`CREATE TABLE taxonomy (taxid TEXT, accession TEXT)`,
		`CREATE TABLE version (version TEXT)`,
	}
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}

	seed := []string{
		`INSERT INTO PFAM VALUES ('PF00001', 'P00001', 10, 50)`,
		`INSERT INTO PFAM VALUES ('PF00001', 'P00002', 1, 120)`,
		`INSERT INTO PFAM VALUES ('PF00002', 'P00001', 100, 140)`,
		`INSERT INTO INTERPRO VALUES ('IPR000010', 'Q8XYZ1', 5, 90)`,
		`INSERT INTO idmapping VALUES ('NP_000001', 'genbank', 'P00001')`,
		`INSERT INTO idmapping VALUES ('12345', 'gi', 'P00002')`,
		`INSERT INTO idmapping VALUES ('12345', 'gi', 'P00009')`,
		`INSERT INTO taxonomy VALUES ('562', 'P00001')`,
		`INSERT INTO taxonomy VALUES ('562', 'Q8XYZ1')`,
		`INSERT INTO version VALUES ('2024_06')`,
	}
	for _, stmt := range seed {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	return OpenWith(conn)
}

func TestFamilyMembers(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	members, err := store.FamilyMembers(ctx, "pfam", "PF00001")
	if err != nil {
		t.Fatalf("FamilyMembers: %v", err)
	}

	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].Accession != "P00001" || members[0].Start != 10 || members[0].End != 50 {
		t.Errorf("unexpected first member: %+v", members[0])
	}
}

func TestFamilyMembersUnknownKind(t *testing.T) {
	store := testStore(t)

	if _, err := store.FamilyMembers(context.Background(), "prosite", "PS00001"); err == nil {
		t.Error("unknown family kind should fail")
	}
}

func TestAccessionRanges(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ranges, err := store.AccessionRanges(ctx, "pfam", "P00001")
	if err != nil {
		t.Fatalf("AccessionRanges: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected spans from both families, got %d", len(ranges))
	}

	// A miss is an empty result, not an error.
	ranges, err = store.AccessionRanges(ctx, "pfam", "P99999")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if len(ranges) != 0 {
		t.Errorf("expected no spans, got %d", len(ranges))
	}
}

func TestReverseLookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ids, err := store.ReverseLookup(ctx, "gi", "12345")
	if err != nil {
		t.Fatalf("ReverseLookup: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("one gi may map to several accessions, got %d", len(ids))
	}

	ids, err = store.ReverseLookup(ctx, "genbank", "NP_999999")
	if err != nil {
		t.Fatalf("ReverseLookup miss: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no match, got %v", ids)
	}
}

func TestTaxidAccessions(t *testing.T) {
	store := testStore(t)

	accs, err := store.TaxidAccessions(context.Background(), "562")
	if err != nil {
		t.Fatalf("TaxidAccessions: %v", err)
	}
	if len(accs) != 2 {
		t.Errorf("expected 2 accessions, got %d", len(accs))
	}
}

func TestVersion(t *testing.T) {
	store := testStore(t)

	v, err := store.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "2024_06" {
		t.Errorf("version = %q", v)
	}
}

func TestParseFastacmdMisses(t *testing.T) {
	stderr := `[fastacmd] ERROR: Entry "P99999" not found
[fastacmd] ERROR: Entry "zzzzz1" not found
some unrelated noise
`
	missing := ParseFastacmdMisses(stderr)

	if len(missing) != 2 {
		t.Fatalf("expected 2 misses, got %v", missing)
	}
	if missing[0] != "P99999" || missing[1] != "zzzzz1" {
		t.Errorf("unexpected misses: %v", missing)
	}
}
