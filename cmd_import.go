// The initial_import stage: fetch the selected sequences from the
// reference blob, cut domain windows, fold in user sequences and write
// allsequences.fa.

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/config"
	"github.com/yumyai/ssngen/pkg/db"
	"github.com/yumyai/ssngen/pkg/fasta"
	"github.com/yumyai/ssngen/pkg/selectseq"
	"go.uber.org/zap"
)

// accessionLine is one parsed line of accession.txt: a bare accession,
// or accession:start:end in domain mode.
type accessionLine struct {
	Accession string
	Start     int
	End       int
	Domain    bool
}

func parseAccessionLine(line string) (accessionLine, error) {
	parts := strings.Split(line, ":")
	switch len(parts) {
	case 1:
		return accessionLine{Accession: parts[0]}, nil
	case 3:
		start, err1 := strconv.Atoi(parts[1])
		end, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || start < 1 || end < start {
			return accessionLine{}, fmt.Errorf("bad domain span %q", line)
		}
		return accessionLine{Accession: parts[0], Start: start, End: end, Domain: true}, nil
	}
	return accessionLine{}, fmt.Errorf("bad accession line %q", line)
}

// NodeID is the sequence identifier this line produces: the accession,
// or accession:start:end for a domain window.
func (a accessionLine) NodeID() string {
	if a.Domain {
		return fmt.Sprintf("%s:%d:%d", a.Accession, a.Start, a.End)
	}
	return a.Accession
}

func readAccessionLines(p string) ([]accessionLine, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []accessionLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		line, err := parseAccessionLine(text)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// blobID normalizes a fastacmd header ID (lcl|P00001) to the bare
// accession.
func blobID(id string) string {
	if i := strings.LastIndex(id, "|"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func newImportCmd() *cobra.Command {
	var dir, configFile, domain, userFasta, seqCountFile string
	var minLen, maxLen int

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Fetch selected sequences into allsequences.fa",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDatabase(configFile)
			if err != nil {
				return err
			}

			lines, err := readAccessionLines(path.Join(dir, "accession.txt"))
			if err != nil {
				return err
			}

			// The flag is the mode of record; a domain-windowed line in a
			// domain-off run means the artifacts disagree with the
			// submission. Bare lines in domain mode are fine: the span is
			// implicitly the whole sequence.
			domainOn := domain == "on"
			for _, l := range lines {
				if l.Domain && !domainOn {
					return fmt.Errorf("accession.txt carries domain span %s but domain is off", l.NodeID())
				}
			}

			var bases []string
			seen := make(map[string]bool)
			for _, l := range lines {
				if !seen[l.Accession] {
					seen[l.Accession] = true
					bases = append(bases, l.Accession)
				}
			}

			sdb := db.NewSequenceDB(cfg.BlobPath, cfg.PerPass, cfg.Fastacmd)
			blob, missing, err := sdb.Fetch(bases)
			if err != nil {
				return err
			}

			if len(missing) > 0 {
				if err := appendFastacmdMisses(path.Join(dir, "no_accession_matches.txt"), missing); err != nil {
					return err
				}
			}

			fetched, err := fasta.ReadSequences(bytes.NewReader(blob))
			if err != nil {
				return err
			}
			seqByAcc := make(map[string]string, len(fetched))
			for _, rec := range fetched {
				seqByAcc[blobID(rec.ID)] = rec.Seq
			}

			var out []fasta.SeqRecord
			total := 0
			for _, l := range lines {
				seq, ok := seqByAcc[l.Accession]
				if !ok {
					continue
				}
				if l.Domain {
					if l.End > len(seq) {
						logger.Warn("domain span past sequence end",
							zap.String("accession", l.Accession), zap.Int("end", l.End))
						continue
					}
					seq = seq[l.Start-1 : l.End]
				}
				if minLen > 0 && len(seq) < minLen {
					continue
				}
				if maxLen > 0 && len(seq) > maxLen {
					continue
				}
				out = append(out, fasta.SeqRecord{ID: l.NodeID(), Seq: seq})
				total++
			}

			if userFasta != "" {
				userRecs, err := readOptionalFasta(path.Join(dir, userFasta))
				if err != nil {
					return err
				}
				for _, rec := range userRecs {
					if minLen > 0 && len(rec.Seq) < minLen {
						continue
					}
					if maxLen > 0 && len(rec.Seq) > maxLen {
						continue
					}
					out = append(out, rec)
					total++
				}
			}

			allOut, err := os.Create(path.Join(dir, "allsequences.fa"))
			if err != nil {
				return err
			}
			if err := fasta.WriteRecords(allOut, out); err != nil {
				allOut.Close()
				return err
			}
			allOut.Close()

			if seqCountFile != "" {
				unique := make(map[string]bool)
				for _, rec := range out {
					unique[strings.SplitN(rec.ID, ":", 2)[0]] = true
				}
				counts := fmt.Sprintf("Total\t%d\nUniqueTotal\t%d\n", total, len(unique))
				if err := os.WriteFile(path.Join(dir, seqCountFile), []byte(counts), 0644); err != nil {
					return err
				}
			}

			logger.Info("import complete",
				zap.Int("sequences", total),
				zap.Int("fastacmd_misses", len(missing)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")
	cmd.Flags().StringVar(&domain, "domain", "off", "domain windowing: on or off")
	cmd.Flags().StringVar(&userFasta, "user-fasta", "", "filtered user FASTA to append")
	cmd.Flags().StringVar(&seqCountFile, "seq-count-file", "", "sequence count output file")
	cmd.Flags().IntVar(&minLen, "minlen", 0, "drop sequences shorter than this")
	cmd.Flags().IntVar(&maxLen, "maxlen", 0, "drop sequences longer than this (0 = unlimited)")

	return cmd
}

func appendFastacmdMisses(noMatchPath string, missing []string) error {
	f, err := os.OpenFile(noMatchPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	var misses []selectseq.NoMatch
	for _, m := range missing {
		misses = append(misses, selectseq.NoMatch{QueryID: m, Reason: selectseq.Fastacmd})
	}
	return selectseq.WriteNoMatchFile(f, misses)
}

func readOptionalFasta(p string) ([]fasta.SeqRecord, error) {
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fasta.ReadSequences(f)
}

func init() {
	rootCmd.AddCommand(newImportCmd())
}
