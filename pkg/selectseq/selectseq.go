// Sequence selection: compose resolver, header-parser and family-expander
// output into the final accession set.

package selectseq

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/db"
	"github.com/yumyai/ssngen/pkg/family"
	"go.uber.org/zap"
)

// Reason codes for the no-match report.
type Reason string

const (
	NotFoundIDMapping Reason = "NOT_FOUND_IDMAPPING"
	NotFoundDatabase  Reason = "NOT_FOUND_DATABASE"
	Duplicate         Reason = "DUPLICATE"
	Fastacmd          Reason = "FASTACMD"
)

type NoMatch struct {
	QueryID string
	Reason  Reason
}

// CapacityError is raised when the accession count exceeds maxsequence.
// The .failed marker has already been written when this is returned.
type CapacityError struct {
	Count int
	Max   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d accessions exceed the maxsequence limit of %d", e.Count, e.Max)
}

// Selection is the finished accession set.
type Selection struct {
	Spans     family.Spans
	Order     []string // deterministic iteration order
	NoMatches []NoMatch
}

// Verify runs the authoritative Pfam-index lookup for accession-query and
// FASTA-matched IDs, folding the found spans into spans. IDs absent from
// the index are recorded as NOT_FOUND_DATABASE and excluded, unless
// skipVerify keeps them with no spans.
func Verify(ctx context.Context, store *db.RefDB, ids []string, skipVerify bool, spans family.Spans) ([]NoMatch, error) {

	var noMatches []NoMatch

	for _, id := range ids {
		if _, ok := spans[id]; ok {
			// Already present from a family source or an earlier ID of
			// this list; keep one copy.
			noMatches = append(noMatches, NoMatch{QueryID: id, Reason: Duplicate})
			continue
		}

		if skipVerify {
			spans[id] = nil
			continue
		}

		ranges, err := store.AccessionRanges(ctx, "pfam", id)
		if err != nil {
			return nil, err
		}

		if len(ranges) == 0 {
			noMatches = append(noMatches, NoMatch{QueryID: id, Reason: NotFoundDatabase})
			continue
		}

		for _, r := range ranges {
			spans.Add(r)
		}
	}

	return noMatches, nil
}

// Finalize orders, limits and fractionates the accession set.
//
// The order is sorted so the deterministic fraction path is reproducible
// across runs. With maxsequence > 0 an oversized set writes the .failed
// marker next to the accession output and aborts.
func Finalize(spans family.Spans, noMatches []NoMatch, maxSequence int, failedPath string,
	fraction int, randomFraction bool, rng *rand.Rand) (*Selection, error) {

	order := make([]string, 0, len(spans))
	for acc := range spans {
		order = append(order, acc)
	}
	sort.Strings(order)

	if maxSequence > 0 && len(order) > maxSequence {
		f, err := os.Create(failedPath)
		if err == nil {
			fmt.Fprintf(f, "%d sequences, maxsequence %d\n", len(order), maxSequence)
			f.Close()
		}
		return nil, &CapacityError{Count: len(order), Max: maxSequence}
	}

	order = applyFraction(order, fraction, randomFraction, rng)

	logger.Info("selection finalized",
		zap.Int("accessions", len(order)),
		zap.Int("fraction", fraction))

	return &Selection{Spans: spans, Order: order, NoMatches: noMatches}, nil
}

// applyFraction keeps every k-th accession (1-indexed, i mod k == 0) of
// the sorted order, or a uniform random sample of the same size.
func applyFraction(order []string, k int, random bool, rng *rand.Rand) []string {
	if k <= 1 {
		return order
	}

	want := len(order) / k

	if random {
		picked := rng.Perm(len(order))[:want]
		sort.Ints(picked)
		kept := make([]string, 0, want)
		for _, i := range picked {
			kept = append(kept, order[i])
		}
		return kept
	}

	kept := make([]string, 0, want)
	for i := 1; i <= len(order); i++ {
		if i%k == 0 {
			kept = append(kept, order[i-1])
		}
	}
	return kept
}

// WriteAccessionFile emits one line per accession, or one line per
// (accession, span) in domain mode, formatted id:start:end.
func (s *Selection) WriteAccessionFile(w io.Writer, domainOn bool) error {
	for _, acc := range s.Order {
		if domainOn && len(s.Spans[acc]) > 0 {
			for _, r := range s.Spans[acc] {
				if _, err := fmt.Fprintf(w, "%s:%d:%d\n", acc, r.Start, r.End); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := fmt.Fprintln(w, acc); err != nil {
			return err
		}
	}
	return nil
}

// WriteNoMatchFile writes the query_id<TAB>REASON report.
func WriteNoMatchFile(w io.Writer, noMatches []NoMatch) error {
	for _, nm := range noMatches {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", nm.QueryID, nm.Reason); err != nil {
			return err
		}
	}
	return nil
}
