// Streaming FASTA header parser. Headers in merged FASTAs carry several
// IDs, sometimes over several consecutive ">" lines; every UniProt-shaped
// token is scraped out, and sequences with none get a synthetic ID.

package fasta

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// LineState classifies one input line. Flush marks the first sequence
// line after a header region; the record's header metadata is complete at
// that point.
type LineState int

const (
	HeaderContinuation LineState = iota
	Flush
	Sequence
)

const (
	SrcUserFasta      = "USER_FASTA"
	SrcFamily         = "FAMILY"
	SrcAccessionQuery = "ACCESSION_QUERY"
)

// descriptionLimit caps how much of the original header is kept for
// user-supplied sequences.
const descriptionLimit = 200

const syntheticWidth = 6

var (
	// Bare UniProt accession, 6 or 10 characters.
	uniprotRe = regexp.MustCompile(`\b([OPQ][0-9][A-Z0-9]{3}[0-9]|[A-NR-Z][0-9](?:[A-Z][A-Z0-9]{2}[0-9]){1,2})\b`)
	// sp|P00001|FOO_BAR and tr|A0A0B4J2F2|NAME forms.
	dbTagRe = regexp.MustCompile(`(?:sp|tr)\|([A-Z0-9]+)(?:\|(\S+))?`)

	digitsRe = regexp.MustCompile(`[^0-9]`)
)

// IDPair is one UniProt ID found in a header together with the
// neighboring identifier it was tagged with, if any.
type IDPair struct {
	UniprotID string
	OtherID   string
}

// Record accumulates everything observed for one FASTA entry.
type Record struct {
	UniprotIDs []IDPair
	Duplicates map[string][]string
	OtherIDs   []string
	RawHeaders string
	seqLines   []string
}

// Sequence returns the concatenated sequence body.
func (r *Record) Sequence() string {
	return strings.Join(r.seqLines, "")
}

// Entry is one element of the parsed metadata stream.
type Entry struct {
	ID          string
	Description string
	Src         string
	QueryIDs    []string
	OtherIDs    []string
	SeqLength   int
	Seq         string // retained only for synthetic entries
	Synthetic   bool
}

// Result is the full parser output: the metadata stream in canonical
// order, plus the map from matched UniProt IDs back to query IDs.
type Result struct {
	Entries    []*Entry
	QueryIDMap map[string][]string // uniprot id -> ids the user wrote
}

// SyntheticID formats counter n as a z-padded fixed-width identifier.
// The leading z's push these after real accessions in lexicographic
// order, and mark them as user sequences at a glance.
func SyntheticID(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= syntheticWidth {
		return "z" + s
	}
	return strings.Repeat("z", syntheticWidth-len(s)) + s
}

// IsSynthetic reports whether id has the synthetic z-prefixed form.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, "z")
}

// syntheticOrd extracts the numeric part of a synthetic ID for sorting.
func syntheticOrd(id string) int {
	n, _ := strconv.Atoi(digitsRe.ReplaceAllString(id, ""))
	return n
}

// SortIDs orders real accessions lexicographically and synthetic IDs
// numerically, synthetic after real.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		si, sj := IsSynthetic(ids[i]), IsSynthetic(ids[j])
		if si != sj {
			return sj
		}
		if si {
			return syntheticOrd(ids[i]) < syntheticOrd(ids[j])
		}
		return ids[i] < ids[j]
	})
}

// Parser walks FASTA input line by line.
type Parser struct {
	scanner  *bufio.Scanner
	inHeader bool
}

func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Parser{scanner: s}
}

// classify returns the state for one line and updates region tracking.
func (p *Parser) classify(line string) LineState {
	if strings.HasPrefix(line, ">") {
		p.inHeader = true
		return HeaderContinuation
	}
	if p.inHeader {
		p.inHeader = false
		return Flush
	}
	return Sequence
}

// scrapeHeader pulls IDs out of one header line and folds them into rec.
func scrapeHeader(rec *Record, line string) {
	text := strings.TrimPrefix(line, ">")

	if rec.RawHeaders == "" {
		rec.RawHeaders = text
	} else {
		rec.RawHeaders += " " + text
	}

	seen := make(map[string]bool)
	for _, p := range rec.UniprotIDs {
		seen[p.UniprotID] = true
	}

	// db|ACC|NAME tags first; they carry the companion id.
	consumed := make(map[string]bool)
	for _, m := range dbTagRe.FindAllStringSubmatch(text, -1) {
		acc, other := m[1], m[2]
		if !uniprotRe.MatchString(acc) {
			continue
		}
		consumed[acc] = true
		if seen[acc] {
			if rec.Duplicates == nil {
				rec.Duplicates = make(map[string][]string)
			}
			rec.Duplicates[acc] = append(rec.Duplicates[acc], other)
			continue
		}
		seen[acc] = true
		rec.UniprotIDs = append(rec.UniprotIDs, IDPair{UniprotID: acc, OtherID: other})
	}

	// Bare accessions anywhere else in the header.
	for _, acc := range uniprotRe.FindAllString(text, -1) {
		if consumed[acc] {
			continue
		}
		if seen[acc] {
			if rec.Duplicates == nil {
				rec.Duplicates = make(map[string][]string)
			}
			rec.Duplicates[acc] = append(rec.Duplicates[acc], "")
			continue
		}
		seen[acc] = true
		rec.UniprotIDs = append(rec.UniprotIDs, IDPair{UniprotID: acc})
	}

	// Leftover tokens that look like identifiers but not UniProt ones.
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ">|,;")
		if tok == "" || uniprotRe.MatchString(tok) || strings.Contains(tok, "=") {
			continue
		}
		rec.OtherIDs = append(rec.OtherIDs, tok)
	}
}

// Parse consumes the whole input and builds the metadata stream. Matched
// sequences drop their body; the canonical content is fetched from the
// reference blob by accession afterwards.
func Parse(r io.Reader) (*Result, error) {
	p := NewParser(r)

	var records []*Record
	var current *Record

	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" {
			continue
		}

		state := p.classify(line)

		switch state {
		case HeaderContinuation:
			if current == nil || len(current.seqLines) > 0 {
				current = &Record{}
				records = append(records, current)
			}
			scrapeHeader(current, line)
		case Flush, Sequence:
			if current == nil {
				return nil, fmt.Errorf("sequence data before any header: %q", line)
			}
			current.seqLines = append(current.seqLines, line)
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}

	return assemble(records), nil
}

func assemble(records []*Record) *Result {
	res := &Result{QueryIDMap: make(map[string][]string)}

	nextSynthetic := 1

	for _, rec := range records {
		seq := rec.Sequence()

		if len(rec.UniprotIDs) == 0 {
			id := SyntheticID(nextSynthetic)
			nextSynthetic++

			desc := rec.RawHeaders
			if len(desc) > descriptionLimit {
				desc = desc[:descriptionLimit]
			}

			res.Entries = append(res.Entries, &Entry{
				ID:          id,
				Description: desc,
				Src:         SrcUserFasta,
				QueryIDs:    append([]string(nil), rec.OtherIDs...),
				OtherIDs:    append([]string(nil), rec.OtherIDs...),
				SeqLength:   len(seq),
				Seq:         seq,
				Synthetic:   true,
			})
			continue
		}

		for _, pair := range rec.UniprotIDs {
			queryIDs := []string{pair.UniprotID}
			if pair.OtherID != "" {
				queryIDs = append(queryIDs, pair.OtherID)
			}
			for _, dup := range rec.Duplicates[pair.UniprotID] {
				if dup != "" {
					queryIDs = append(queryIDs, dup)
				}
			}

			res.QueryIDMap[pair.UniprotID] = append(res.QueryIDMap[pair.UniprotID], queryIDs...)

			res.Entries = append(res.Entries, &Entry{
				ID:        pair.UniprotID,
				Src:       SrcUserFasta,
				QueryIDs:  queryIDs,
				OtherIDs:  append([]string(nil), rec.OtherIDs...),
				SeqLength: len(seq),
			})
		}
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		a, b := res.Entries[i], res.Entries[j]
		if a.Synthetic != b.Synthetic {
			return b.Synthetic
		}
		if a.Synthetic {
			return syntheticOrd(a.ID) < syntheticOrd(b.ID)
		}
		return a.ID < b.ID
	})

	return res
}

// WriteFiltered emits the FASTA containing only the synthetic (unmatched
// user) sequences, 60 columns per line.
func (r *Result) WriteFiltered(w io.Writer) error {
	for _, e := range r.Entries {
		if !e.Synthetic {
			continue
		}
		if _, err := fmt.Fprintf(w, ">%s %s\n", e.ID, e.Description); err != nil {
			return err
		}
		if err := writeWrapped(w, e.Seq); err != nil {
			return err
		}
	}
	return nil
}

func writeWrapped(w io.Writer, seq string) error {
	const cols = 60
	for len(seq) > 0 {
		n := cols
		if n > len(seq) {
			n = len(seq)
		}
		if _, err := fmt.Fprintln(w, seq[:n]); err != nil {
			return err
		}
		seq = seq[n:]
	}
	return nil
}
