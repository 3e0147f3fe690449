// Reference relational store: family indexes and the id-mapping table.

package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Family tables in the reference store. The table name is always taken
// from this map, never from user input.
var familyTables = map[string]string{
	"interpro": "INTERPRO",
	"pfam":     "PFAM",
	"gene3d":   "GENE3D",
	"ssf":      "SSF",
}

// Range is a domain span on one accession, 1-based inclusive.
type Range struct {
	Accession string
	Start     int
	End       int
}

type RefDB struct {
	sql *sql.DB
}

// Open opens the relational half of the reference store. The store is
// read-only; any open failure is a precondition failure for the caller.
func Open(path string) (*RefDB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open reference store %s: %w", path, err)
	}
	return &RefDB{sql: conn}, nil
}

// OpenWith wraps an existing connection. Tests build their store in
// memory and hand it in here.
func OpenWith(conn *sql.DB) *RefDB {
	return &RefDB{sql: conn}
}

func (r *RefDB) Close() error {
	return r.sql.Close()
}

// FamilyTable resolves a family kind ("pfam", "interpro", ...) to its
// table name, refusing unknown kinds.
func FamilyTable(kind string) (string, error) {
	table, ok := familyTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown family kind %q", kind)
	}
	return table, nil
}

// FamilyMembers returns every (accession, start, end) filed under one
// family ID.
func (r *RefDB) FamilyMembers(ctx context.Context, kind, familyID string) ([]Range, error) {
	table, err := FamilyTable(kind)
	if err != nil {
		return nil, err
	}

	qstring := fmt.Sprintf(`select accession, start, end from %s where id == ?`, table)

	stm, err := r.sql.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Range

	for rows.Next() {
		var rg Range
		if err := rows.Scan(&rg.Accession, &rg.Start, &rg.End); err != nil {
			return nil, fmt.Errorf("scanning %s row for %s: %w", table, familyID, err)
		}
		results = append(results, rg)
	}

	return results, rows.Err()
}

// AccessionRanges is the verification lookup: the spans filed for one
// accession in one family index. An empty result is a miss, not an error.
func (r *RefDB) AccessionRanges(ctx context.Context, kind, accession string) ([]Range, error) {
	table, err := FamilyTable(kind)
	if err != nil {
		return nil, err
	}

	qstring := fmt.Sprintf(`select accession, start, end from %s where accession == ?`, table)

	stm, err := r.sql.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, accession)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Range

	for rows.Next() {
		var rg Range
		if err := rows.Scan(&rg.Accession, &rg.Start, &rg.End); err != nil {
			return nil, err
		}
		results = append(results, rg)
	}

	return results, rows.Err()
}

// ReverseLookup maps one foreign identifier to its UniProt accessions
// through the idmapping table. Several accessions may share a foreign id.
func (r *RefDB) ReverseLookup(ctx context.Context, foreignType, id string) ([]string, error) {
	qstring := `select uniprot_id from idmapping where foreign_type == ? and foreign_id == ?`

	stm, err := r.sql.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, foreignType, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		results = append(results, u)
	}

	return results, rows.Err()
}

// TaxidAccessions enumerates every accession under one NCBI taxid.
func (r *RefDB) TaxidAccessions(ctx context.Context, taxid string) ([]string, error) {
	qstring := `select accession from taxonomy where taxid == ?`

	stm, err := r.sql.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, taxid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string

	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		results = append(results, a)
	}

	return results, rows.Err()
}

// Version returns the reference-database version stamp.
func (r *RefDB) Version(ctx context.Context) (string, error) {
	var v string
	err := r.sql.QueryRowContext(ctx, `select version from version`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("reading database version: %w", err)
	}
	return v, nil
}
