// Family expansion: enumerate accessions and their domain windows for
// InterPro, Pfam, Gene3D and SSF family IDs.

package family

import (
	"context"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/db"
	"go.uber.org/zap"
)

// Spans accumulates domain windows per accession. An accession hit by
// several families keeps the union of its spans; duplicate spans are
// allowed and kept as they are (the selection step dedupes accessions,
// not spans).
type Spans map[string][]db.Range

// Add folds one range into the map.
func (s Spans) Add(r db.Range) {
	s[r.Accession] = append(s[r.Accession], r)
}

// Expand looks up every family ID of one kind and folds the results into
// accum. Families are independent; the union is taken. The running total
// is logged after each family so an operator can follow long expansions.
func Expand(ctx context.Context, store *db.RefDB, kind string, familyIDs []string, accum Spans) error {

	for _, fam := range familyIDs {
		members, err := store.FamilyMembers(ctx, kind, fam)
		if err != nil {
			return err
		}

		for _, m := range members {
			accum.Add(m)
		}

		logger.Info("family expanded",
			zap.String("kind", kind),
			zap.String("family", fam),
			zap.Int("members", len(members)),
			zap.Int("total_accessions", len(accum)))
	}

	return nil
}

// ExpandAll runs Expand for every family kind that has IDs.
func ExpandAll(ctx context.Context, store *db.RefDB, interpro, pfam, gene3d, ssf []string) (Spans, error) {
	accum := make(Spans)

	kinds := []struct {
		kind string
		ids  []string
	}{
		{"interpro", interpro},
		{"pfam", pfam},
		{"gene3d", gene3d},
		{"ssf", ssf},
	}

	for _, k := range kinds {
		if len(k.ids) == 0 {
			continue
		}
		if err := Expand(ctx, store, k.kind, k.ids, accum); err != nil {
			return nil, err
		}
	}

	return accum, nil
}
