// Clustering bookkeeping around the external cd-hit tool: drive it,
// parse its .clstr output, and expand representative-level edges back to
// member-level edges after the search.

package cluster

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/yumyai/ssngen/pkg/hits"
)

// Table maps cluster representatives to their members. Every sequence is
// in exactly one cluster, possibly as its own representative.
type Table struct {
	members   map[string][]string
	memberRep map[string]string
}

func NewTable() *Table {
	return &Table{
		members:   make(map[string][]string),
		memberRep: make(map[string]string),
	}
}

// Add places member under rep. The representative itself is a member of
// its own cluster.
func (t *Table) Add(rep, member string) {
	if _, ok := t.members[rep]; !ok {
		t.members[rep] = append(t.members[rep], rep)
		t.memberRep[rep] = rep
	}
	if member == rep {
		return
	}
	t.members[rep] = append(t.members[rep], member)
	t.memberRep[member] = rep
}

// Representative returns the representative of member's cluster.
func (t *Table) Representative(member string) (string, bool) {
	rep, ok := t.memberRep[member]
	return rep, ok
}

// Members returns the full member list of rep's cluster, representative
// included.
func (t *Table) Members(rep string) []string {
	return t.members[rep]
}

// Representatives returns all representatives, sorted.
func (t *Table) Representatives() []string {
	reps := make([]string, 0, len(t.members))
	for rep := range t.members {
		reps = append(reps, rep)
	}
	sort.Strings(reps)
	return reps
}

// Size is the number of sequences across all clusters.
func (t *Table) Size() int {
	return len(t.memberRep)
}

// cd-hit .clstr member lines look like
//   0	440aa, >P12345... *
//   1	430aa, >Q99999... at 98.86%
// with the representative carrying the trailing star.
var clstrMemberRe = regexp.MustCompile(`>\s*(\S+?)\.\.\.\s*(\*|at)`)

// ParseClstr reads cd-hit cluster output into a Table.
func ParseClstr(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	t := NewTable()

	var rep string
	var pending []string

	flush := func() error {
		if rep == "" && len(pending) > 0 {
			return fmt.Errorf("cluster block without a representative: %v", pending)
		}
		for _, m := range pending {
			t.Add(rep, m)
		}
		rep = ""
		pending = nil
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, ">Cluster") {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		m := clstrMemberRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		id := m[1]
		if m[2] == "*" {
			rep = id
			t.Add(rep, rep)
		} else {
			pending = append(pending, id)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

// RunCDHit clusters the input FASTA at the given identity and length
// difference cutoffs. Output names follow cd-hit's convention: out plus
// out.clstr.
func RunCDHit(cdhit, in, out string, sim, lengthDif float64) error {
	args := []string{
		"-i", in,
		"-o", out,
		"-c", fmt.Sprintf("%g", sim),
		"-s", fmt.Sprintf("%g", lengthDif),
		"-d", "0",
	}
	if cdhit == "" {
		cdhit = "cd-hit"
	}

	cmd := exec.Command(cdhit, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %v - %s", cdhit, err, output)
	}

	return nil
}

// Demux expands every representative-level edge to the cartesian product
// of the two clusters' members, minus self-loops, preserving the
// original scores. Endpoints without a cluster entry pass through as
// singleton clusters.
func Demux(edges []hits.Hit, t *Table) []hits.Hit {
	var out []hits.Hit

	for _, e := range edges {
		as := t.Members(e.Query)
		if as == nil {
			as = []string{e.Query}
		}
		bs := t.Members(e.Subject)
		if bs == nil {
			bs = []string{e.Subject}
		}

		for _, a := range as {
			for _, b := range bs {
				expanded := e
				expanded.Query = a
				expanded.Subject = b
				if norm, ok := hits.Alphabetize(expanded); ok {
					out = append(out, norm)
				}
			}
		}
	}

	return out
}

// RemoveDups collapses duplicate edges between representatives, keeping
// the first per unordered pair. Used in no-demux mode where cluster
// membership is carried as a node attribute instead.
func RemoveDups(edges []hits.Hit) []hits.Hit {
	seen := make(map[string]bool)
	var out []hits.Hit

	for _, e := range edges {
		norm, ok := hits.Alphabetize(e)
		if !ok {
			continue
		}
		key := norm.Query + "\t" + norm.Subject
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, norm)
	}

	return out
}

// WriteTable serializes the representative->member map, one
// rep<TAB>member line per sequence. This is the on-disk contract between
// the multiplex and demultiplex stages.
func (t *Table) WriteTable(w io.Writer) error {
	for _, rep := range t.Representatives() {
		for _, m := range t.Members(rep) {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", rep, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadTable reads the WriteTable format back.
func LoadTable(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	t := NewTable()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed cluster table line: %q", line)
		}
		t.Add(parts[0], parts[1])
	}

	return t, scanner.Err()
}

// FilterFasta keeps only the records whose ID is in keep. Used by the
// manual-cd-hit mode to cut the working set down to representatives.
func FilterFasta(r io.Reader, w io.Writer, keep map[string]bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	keeping := false
	var buf bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ">") {
			id := strings.TrimPrefix(strings.Fields(line)[0], ">")
			keeping = keep[id]
		}
		if keeping {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}
