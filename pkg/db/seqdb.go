// Flat FASTA blob access through the external fastacmd tool.

package db

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// fastacmd writes one line per missing entry to stderr:
//   [fastacmd] ERROR: Entry "P99999" not found
var fastacmdMissRe = regexp.MustCompile(`ERROR: Entry "([^"]+)" not found`)

// FastacmdError is a hard fastacmd failure, after miss lines have been
// separated out.
type FastacmdError struct {
	Msg string
}

func (e *FastacmdError) Error() string {
	return fmt.Sprintf("fastacmd error: %s", e.Msg)
}

// SequenceDB fetches sequences from the formatted reference blob by
// accession, in PerPass-sized batches.
type SequenceDB struct {
	BlobPath string
	PerPass  int
	Fastacmd string
}

func NewSequenceDB(blobPath string, perPass int, fastacmd string) *SequenceDB {
	if perPass <= 0 {
		perPass = 1000
	}
	if fastacmd == "" {
		fastacmd = "fastacmd"
	}
	return &SequenceDB{
		BlobPath: blobPath,
		PerPass:  perPass,
		Fastacmd: fastacmd,
	}
}

// Fetch retrieves the FASTA records for the given accessions. Missing
// entries are returned as data, in input order, so the caller can record
// FASTACMD no-match rows instead of failing the run.
func (s *SequenceDB) Fetch(accessions []string) ([]byte, []string, error) {

	var fasta bytes.Buffer
	var missing []string

	for start := 0; start < len(accessions); start += s.PerPass {
		end := start + s.PerPass
		if end > len(accessions) {
			end = len(accessions)
		}

		out, miss, err := s.fetchBatch(accessions[start:end])
		if err != nil {
			return nil, nil, err
		}

		fasta.Write(out)
		missing = append(missing, miss...)
	}

	return fasta.Bytes(), missing, nil
}

func (s *SequenceDB) fetchBatch(batch []string) ([]byte, []string, error) {

	// fastacmd -d blob -s "id1,id2,..."
	args := []string{"-d", s.BlobPath, "-s", strings.Join(batch, ",")}
	cmd := exec.Command(s.Fastacmd, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	missing := ParseFastacmdMisses(stderr.String())

	if runErr != nil {
		// A non-zero exit caused only by missing entries is not fatal;
		// everything it did find is still on stdout.
		if len(missing) == 0 {
			return nil, nil, &FastacmdError{Msg: fmt.Sprintf("%v - %s", runErr, stderr.String())}
		}
	}

	return stdout.Bytes(), missing, nil
}

// ParseFastacmdMisses extracts the accessions named by fastacmd
// entry-not-found lines.
func ParseFastacmdMisses(stderr string) []string {
	var missing []string
	for _, line := range strings.Split(stderr, "\n") {
		if m := fastacmdMissRe.FindStringSubmatch(line); m != nil {
			missing = append(missing, m[1])
		}
	}
	return missing
}
