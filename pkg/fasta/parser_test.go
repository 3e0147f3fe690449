package fasta

import (
	"bytes"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	p := NewParser(strings.NewReader(""))

	states := []struct {
		line string
		want LineState
	}{
		{">sp|P00001|FOO_BAR", HeaderContinuation},
		{">P00002 merged entry", HeaderContinuation},
		{"MKLVI", Flush},
		{"AGGTT", Sequence},
		{">next", HeaderContinuation},
		{"MKL", Flush},
	}

	for _, s := range states {
		if got := p.classify(s.line); got != s.want {
			t.Errorf("classify(%q) = %v, want %v", s.line, got, s.want)
		}
	}
}

func TestParseMatchedAndSynthetic(t *testing.T) {
	input := ">sp|P00001|FOO_BAR some protein\nMKLVIAGGTT\n" +
		">custom_xyz hypothetical\nMKLVI\nAGGTT\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}

	matched := res.Entries[0]
	if matched.ID != "P00001" {
		t.Errorf("matched ID = %q", matched.ID)
	}
	if matched.Seq != "" {
		t.Error("matched sequence body must be discarded")
	}
	if len(matched.QueryIDs) != 2 || matched.QueryIDs[1] != "FOO_BAR" {
		t.Errorf("QueryIDs = %v", matched.QueryIDs)
	}

	synth := res.Entries[1]
	if synth.ID != "zzzzz1" {
		t.Errorf("synthetic ID = %q, want zzzzz1", synth.ID)
	}
	if synth.Seq != "MKLVIAGGTT" {
		t.Errorf("synthetic seq = %q", synth.Seq)
	}
	if synth.SeqLength != 10 {
		t.Errorf("SeqLength = %d", synth.SeqLength)
	}
	if synth.Description == "" || !strings.Contains(synth.Description, "custom_xyz") {
		t.Errorf("Description = %q", synth.Description)
	}
}

func TestParseMultipleIDsInOneHeader(t *testing.T) {
	input := ">sp|P00001|FOO_BAR sp|Q8XYZ1|BAZ_QUX merged\nMKLVI\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.Entries) != 2 {
		t.Fatalf("expected one entry per uniprot id, got %d", len(res.Entries))
	}
	// Sorted lexicographically.
	if res.Entries[0].ID != "P00001" || res.Entries[1].ID != "Q8XYZ1" {
		t.Errorf("ids = %q, %q", res.Entries[0].ID, res.Entries[1].ID)
	}
}

func TestParseHeaderContinuationMerges(t *testing.T) {
	// Two consecutive header lines belong to one record.
	input := ">sp|P00001|FOO_BAR\n>more header text\nMKLVI\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Entries))
	}
	if !strings.Contains(res.Entries[0].QueryIDs[0], "P00001") {
		t.Errorf("QueryIDs = %v", res.Entries[0].QueryIDs)
	}
}

func TestParseDuplicateIDs(t *testing.T) {
	input := ">sp|P00001|FOO_BAR sp|P00001|ALT_NAME\nMKLVI\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.Entries) != 1 {
		t.Fatalf("duplicate occurrences collapse to one entry, got %d", len(res.Entries))
	}

	queryIDs := res.Entries[0].QueryIDs
	found := false
	for _, q := range queryIDs {
		if q == "ALT_NAME" {
			found = true
		}
	}
	if !found {
		t.Errorf("duplicate other_id lost: %v", queryIDs)
	}
}

func TestQueryIDProvenance(t *testing.T) {
	input := ">sp|P00001|FOO_BAR\nMKLVI\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	qids := res.QueryIDMap["P00001"]
	if len(qids) == 0 {
		t.Fatal("no provenance recorded for P00001")
	}
}

func TestSyntheticID(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{1, "zzzzz1"},
		{10, "zzzz10"},
		{99999, "z99999"},
	}
	for _, c := range cases {
		if got := SyntheticID(c.n); got != c.want {
			t.Errorf("SyntheticID(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestSortIDs(t *testing.T) {
	ids := []string{"zzzz10", "P00002", "zzzzz2", "A0A0B4", "P00001"}
	SortIDs(ids)

	want := []string{"A0A0B4", "P00001", "P00002", "zzzzz2", "zzzz10"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("sorted = %v, want %v", ids, want)
		}
	}
}

func TestWriteFilteredRoundTrip(t *testing.T) {
	input := ">sp|P00001|FOO_BAR\nMKLVI\n>unknown_thing\nMKLVIAGGTTMKLVIAGGTT\n"

	res, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var buf bytes.Buffer
	if err := res.WriteFiltered(&buf); err != nil {
		t.Fatalf("WriteFiltered: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "P00001") {
		t.Error("matched entry leaked into filtered fasta")
	}
	if !strings.Contains(out, ">zzzzz1") {
		t.Errorf("synthetic entry missing:\n%s", out)
	}

	// Re-parse yields the one synthetic record with its sequence intact.
	again, err := Parse(&buf)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(again.Entries) != 1 || again.Entries[0].Seq != "MKLVIAGGTTMKLVIAGGTT" {
		t.Errorf("round trip lost the sequence: %+v", again.Entries)
	}
}
