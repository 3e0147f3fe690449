// Pairwise hit table handling: parse the raw search output, normalize
// edge direction, and reduce to one edge per unordered pair.

package hits

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Hit is one row of the tab-separated search output:
// query, subject, pident, alignment length, bitscore, evalue, qlen, slen.
type Hit struct {
	Query    string
	Subject  string
	PIdent   float64
	AlignLen int
	Bitscore float64
	EValue   string
	QLen     int
	SLen     int
}

// ParseTab reads the raw hit table. Short rows are an error; extra
// trailing columns are ignored.
func ParseTab(r io.Reader) ([]Hit, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var hits []Hit
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 8 {
			return nil, fmt.Errorf("hit table line %d has %d columns, need 8", lineNo, len(fields))
		}

		var h Hit
		var err error
		h.Query = fields[0]
		h.Subject = fields[1]
		if h.PIdent, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("line %d pident: %w", lineNo, err)
		}
		if h.AlignLen, err = strconv.Atoi(fields[3]); err != nil {
			return nil, fmt.Errorf("line %d align_len: %w", lineNo, err)
		}
		if h.Bitscore, err = strconv.ParseFloat(fields[4], 64); err != nil {
			return nil, fmt.Errorf("line %d bitscore: %w", lineNo, err)
		}
		h.EValue = fields[5]
		if h.QLen, err = strconv.Atoi(fields[6]); err != nil {
			return nil, fmt.Errorf("line %d qlen: %w", lineNo, err)
		}
		if h.SLen, err = strconv.Atoi(fields[7]); err != nil {
			return nil, fmt.Errorf("line %d slen: %w", lineNo, err)
		}

		hits = append(hits, h)
	}

	return hits, scanner.Err()
}

// Alphabetize normalizes one hit so the lexicographically smaller
// accession is the query. Self-hits return ok=false. The operation is
// idempotent.
func Alphabetize(h Hit) (Hit, bool) {
	if h.Query == h.Subject {
		return h, false
	}
	if h.Query > h.Subject {
		h.Query, h.Subject = h.Subject, h.Query
		h.QLen, h.SLen = h.SLen, h.QLen
	}
	return h, true
}

// Reduce keeps the best-scoring edge per unordered pair:
// alphabetize, sort by (a, b, bitscore desc), take the first row of each
// group, then re-sort by bitscore desc for downstream consumers.
func Reduce(raw []Hit) []Hit {
	edges := make([]Hit, 0, len(raw))
	for _, h := range raw {
		if e, ok := Alphabetize(h); ok {
			edges = append(edges, e)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Query != b.Query {
			return a.Query < b.Query
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Bitscore > b.Bitscore
	})

	reduced := edges[:0]
	for i, e := range edges {
		if i > 0 && e.Query == reduced[len(reduced)-1].Query && e.Subject == reduced[len(reduced)-1].Subject {
			continue
		}
		reduced = append(reduced, e)
	}

	sort.Slice(reduced, func(i, j int) bool {
		return reduced[i].Bitscore > reduced[j].Bitscore
	})

	return reduced
}

// AlignmentScore is the database-size-independent per-edge score:
// floor(-log10(qlen*slen) + bitscore*log10(2)).
func AlignmentScore(h Hit) float64 {
	return math.Floor(-math.Log10(float64(h.QLen)*float64(h.SLen)) + h.Bitscore*math.Log10(2))
}

// WriteTab writes the reduced edge list in the same column order the
// parser reads.
func WriteTab(w io.Writer, edges []Hit) error {
	for _, e := range edges {
		_, err := fmt.Fprintf(w, "%s\t%s\t%g\t%d\t%g\t%s\t%d\t%d\n",
			e.Query, e.Subject, e.PIdent, e.AlignLen, e.Bitscore, e.EValue, e.QLen, e.SLen)
		if err != nil {
			return err
		}
	}
	return nil
}
