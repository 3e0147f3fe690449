// Reverse-mapping of arbitrary accession identifiers to UniProt space.

package idmap

import (
	"context"
	"regexp"

	"github.com/yumyai/ssngen/pkg/db"
)

// Kind of identifier being looked up. Auto sniffs from string shape.
type Kind string

const (
	Auto    Kind = "auto"
	Uniprot Kind = "uniprot"
	GI      Kind = "gi"
	Genbank Kind = "genbank"
)

var (
	uniprotShapeRe = regexp.MustCompile(`^([OPQ][0-9][A-Z0-9]{3}[0-9]|[A-NR-Z][0-9](?:[A-Z][A-Z0-9]{2}[0-9]){1,2})$`)
	giShapeRe      = regexp.MustCompile(`^[0-9]+$`)
)

// Sniff guesses the identifier kind from its shape.
func Sniff(id string) Kind {
	switch {
	case uniprotShapeRe.MatchString(id):
		return Uniprot
	case giShapeRe.MatchString(id):
		return GI
	default:
		return Genbank
	}
}

// Result of a reverse lookup over a batch of query IDs.
type Result struct {
	UniprotIDs []string
	Unmatched  []string
	// ReverseMap records provenance: uniprot id -> every query id that
	// resolved to it.
	ReverseMap map[string][]string
}

// ReverseLookup resolves query IDs to UniProt accessions through the
// reference store. IDs the store cannot answer land in Unmatched; they
// are never fabricated and never silently dropped.
func ReverseLookup(ctx context.Context, store *db.RefDB, kind Kind, ids []string) (*Result, error) {

	res := &Result{ReverseMap: make(map[string][]string)}
	seen := make(map[string]bool)

	for _, id := range ids {
		k := kind
		if k == Auto {
			k = Sniff(id)
		}

		// A uniprot-shaped query is already in the target space.
		if k == Uniprot {
			res.ReverseMap[id] = append(res.ReverseMap[id], id)
			if !seen[id] {
				seen[id] = true
				res.UniprotIDs = append(res.UniprotIDs, id)
			}
			continue
		}

		matches, err := store.ReverseLookup(ctx, string(k), id)
		if err != nil {
			return nil, err
		}

		if len(matches) == 0 {
			res.Unmatched = append(res.Unmatched, id)
			continue
		}

		for _, u := range matches {
			res.ReverseMap[u] = append(res.ReverseMap[u], id)
			if !seen[u] {
				seen[u] = true
				res.UniprotIDs = append(res.UniprotIDs, u)
			}
		}
	}

	return res, nil
}
