// Plain FASTA reading and writing for pipeline artifacts.

package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SeqRecord is one plain FASTA record.
type SeqRecord struct {
	ID          string
	Description string
	Seq         string
}

// ReadSequences parses plain FASTA, keeping record order. The ID is the
// first header token; the rest of the line is the description.
func ReadSequences(r io.Reader) ([]SeqRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []SeqRecord
	var current *SeqRecord
	var seq strings.Builder

	flush := func() {
		if current != nil {
			current.Seq = seq.String()
			records = append(records, *current)
			seq.Reset()
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			header := strings.TrimPrefix(line, ">")
			fields := strings.SplitN(header, " ", 2)
			current = &SeqRecord{ID: fields[0]}
			if len(fields) == 2 {
				current.Description = fields[1]
			}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("sequence data before any header: %q", line)
		}
		seq.WriteString(line)
	}
	flush()

	return records, scanner.Err()
}

// WriteRecords emits records as wrapped FASTA.
func WriteRecords(w io.Writer, records []SeqRecord) error {
	for _, rec := range records {
		header := ">" + rec.ID
		if rec.Description != "" {
			header += " " + rec.Description
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		if err := writeWrapped(w, rec.Seq); err != nil {
			return err
		}
	}
	return nil
}

// ParseAsUser treats every record as user-supplied: no header scraping,
// every sequence gets a synthetic ID. Used when use-fasta-headers is
// off.
func ParseAsUser(r io.Reader) (*Result, error) {
	records, err := ReadSequences(r)
	if err != nil {
		return nil, err
	}

	res := &Result{QueryIDMap: make(map[string][]string)}

	for i, rec := range records {
		desc := strings.TrimSpace(rec.ID + " " + rec.Description)
		if len(desc) > descriptionLimit {
			desc = desc[:descriptionLimit]
		}
		res.Entries = append(res.Entries, &Entry{
			ID:          SyntheticID(i + 1),
			Description: desc,
			Src:         SrcUserFasta,
			QueryIDs:    []string{rec.ID},
			SeqLength:   len(rec.Seq),
			Seq:         rec.Seq,
			Synthetic:   true,
		})
	}

	return res, nil
}
