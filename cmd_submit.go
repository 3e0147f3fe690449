// The orchestrator: resolve inputs to the accession set, write the
// selection artifacts, then build and submit the pipeline DAG.

package main

import (
	"bufio"
	"context"
	"math/rand"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/annot"
	"github.com/yumyai/ssngen/pkg/config"
	"github.com/yumyai/ssngen/pkg/db"
	"github.com/yumyai/ssngen/pkg/family"
	"github.com/yumyai/ssngen/pkg/fasta"
	"github.com/yumyai/ssngen/pkg/idmap"
	"github.com/yumyai/ssngen/pkg/pipeline"
	"github.com/yumyai/ssngen/pkg/selectseq"
	"go.uber.org/zap"
)

func runSubmit() error {
	// The .env loaded at startup may carry the config location.
	if opts.ConfigFile == "" {
		opts.ConfigFile = os.Getenv("SSN_CFG")
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	cfg, err := config.LoadDatabase(opts.ConfigFile)
	if err != nil {
		return err
	}

	store, err := db.Open(cfg.SQLPath)
	if err != nil {
		return err
	}
	defer store.Close()

	workDir := opts.TmpDir
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	ctx := context.Background()

	version := cfg.Version
	if v, err := store.Version(ctx); err == nil && v != "" {
		version = v
	}
	if err := os.WriteFile(path.Join(workDir, "database_version"), []byte(version+"\n"), 0644); err != nil {
		return err
	}
	logger.Info("reference database", zap.String("version", version))

	// Family expansion fills the span map; resolver and FASTA input feed
	// the verification set.
	spans, err := family.ExpandAll(ctx, store, opts.InterPro, opts.Pfam, opts.Gene3D, opts.SSF)
	if err != nil {
		return err
	}

	var noMatches []selectseq.NoMatch
	var verifyIDs []string
	queryProvenance := make(map[string][]string)
	srcByID := make(map[string]string)

	accessionQueries, err := collectAccessionQueries()
	if err != nil {
		return err
	}
	if len(accessionQueries) > 0 {
		resolved, err := idmap.ReverseLookup(ctx, store, idmap.Auto, accessionQueries)
		if err != nil {
			return err
		}
		for _, id := range resolved.Unmatched {
			noMatches = append(noMatches, selectseq.NoMatch{QueryID: id, Reason: selectseq.NotFoundIDMapping})
		}
		for _, u := range resolved.UniprotIDs {
			verifyIDs = append(verifyIDs, u)
			queryProvenance[u] = append(queryProvenance[u], resolved.ReverseMap[u]...)
			srcByID[u] = fasta.SrcAccessionQuery
		}
	}

	var fastaResult *fasta.Result
	if opts.FastaFile != "" {
		fastaResult, err = parseUserFasta()
		if err != nil {
			return err
		}
		for _, e := range fastaResult.Entries {
			if e.Synthetic {
				continue
			}
			verifyIDs = append(verifyIDs, e.ID)
			queryProvenance[e.ID] = append(queryProvenance[e.ID], e.QueryIDs...)
			srcByID[e.ID] = fasta.SrcUserFasta
		}

		userOut, err := os.Create(path.Join(workDir, "user_filtered.fa"))
		if err != nil {
			return err
		}
		if err := fastaResult.WriteFiltered(userOut); err != nil {
			userOut.Close()
			return err
		}
		userOut.Close()
	}

	if opts.Taxid != "" {
		accs, err := store.TaxidAccessions(ctx, opts.Taxid)
		if err != nil {
			return err
		}
		for _, a := range accs {
			verifyIDs = append(verifyIDs, a)
			srcByID[a] = fasta.SrcAccessionQuery
		}
		logger.Info("taxid expanded", zap.String("taxid", opts.Taxid), zap.Int("accessions", len(accs)))
	}

	verifyMisses, err := selectseq.Verify(ctx, store, verifyIDs, opts.SkipFamilyVerify, spans)
	if err != nil {
		return err
	}
	noMatches = append(noMatches, verifyMisses...)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failedPath := path.Join(workDir, "accession.txt.failed")
	selection, err := selectseq.Finalize(spans, noMatches, opts.MaxSequence, failedPath,
		opts.Fraction, opts.RandomFraction, rng)
	if err != nil {
		return err
	}

	if err := writeSelectionArtifacts(workDir, selection, fastaResult, queryProvenance, srcByID); err != nil {
		return err
	}

	bin, err := os.Executable()
	if err != nil {
		bin = "ssngen"
	}

	graph := pipeline.BuildGraph(pipeline.GraphParams{
		Opts:    opts,
		DB:      cfg,
		WorkDir: workDir,
		Bin:     bin,
	})

	sub, err := pipeline.NewSubmitter(opts.Scheduler, opts.DryRun)
	if err != nil {
		return err
	}

	if opts.DryRun {
		logger.Info("dry run: scripts rendered, nothing submitted")
	}

	return graph.Submit(sub)
}

// collectAccessionQueries merges --accession-id with --accession-file.
func collectAccessionQueries() ([]string, error) {
	ids := append([]string(nil), opts.AccessionIDs...)

	if opts.AccessionFile != "" {
		f, err := os.Open(opts.AccessionFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			id := strings.TrimSpace(scanner.Text())
			if id != "" {
				ids = append(ids, id)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func parseUserFasta() (*fasta.Result, error) {
	f, err := os.Open(opts.FastaFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if opts.UseFastaHeaders {
		return fasta.Parse(f)
	}
	return fasta.ParseAsUser(f)
}

// writeSelectionArtifacts emits accession.txt, the no-match report and
// the metadata file.
func writeSelectionArtifacts(workDir string, selection *selectseq.Selection,
	fastaResult *fasta.Result, provenance map[string][]string, srcByID map[string]string) error {

	// accession.txt is a stable artifact name the import stage relies
	// on; a custom --accession-output gets its own copy.
	accPaths := []string{path.Join(workDir, "accession.txt")}
	if opts.AccessionOutput != "" && opts.AccessionOutput != "accession.txt" {
		accPaths = append(accPaths, path.Join(workDir, opts.AccessionOutput))
	}
	for _, p := range accPaths {
		accOut, err := os.Create(p)
		if err != nil {
			return err
		}
		if err := selection.WriteAccessionFile(accOut, opts.DomainOn()); err != nil {
			accOut.Close()
			return err
		}
		accOut.Close()
	}

	nmOut, err := os.Create(path.Join(workDir, opts.NoMatchFile))
	if err != nil {
		return err
	}
	if err := selectseq.WriteNoMatchFile(nmOut, selection.NoMatches); err != nil {
		nmOut.Close()
		return err
	}
	nmOut.Close()

	blocks := metaBlocks(selection, fastaResult, provenance, srcByID)
	metaOut, err := os.Create(path.Join(workDir, opts.MetaFile))
	if err != nil {
		return err
	}
	defer metaOut.Close()

	logger.Info("selection written",
		zap.Int("accessions", len(selection.Order)),
		zap.Int("no_matches", len(selection.NoMatches)))

	return annot.Write(metaOut, blocks)
}

// metaBlocks builds the metadata stream: one block per selected
// accession, then one per synthetic user sequence.
func metaBlocks(selection *selectseq.Selection, fastaResult *fasta.Result,
	provenance map[string][]string, srcByID map[string]string) []*annot.Block {

	var blocks []*annot.Block

	for _, acc := range selection.Order {
		b := &annot.Block{Accession: acc}

		src := srcByID[acc]
		if src == "" {
			src = fasta.SrcFamily
		}
		b.Set("Sequence_Source", src)

		if qids := provenance[acc]; len(qids) > 0 {
			b.Set("Query_IDs", strings.Join(dedupe(qids), ","))
		}

		b.SortAttrs()
		blocks = append(blocks, b)
	}

	if fastaResult != nil {
		for _, e := range fastaResult.Entries {
			if !e.Synthetic {
				continue
			}
			b := &annot.Block{Accession: e.ID}
			b.Set("Sequence_Source", e.Src)
			b.Set("Description", e.Description)
			if len(e.QueryIDs) > 0 {
				b.Set("Query_IDs", strings.Join(dedupe(e.QueryIDs), ","))
			}
			if len(e.OtherIDs) > 0 {
				b.Set("Other_IDs", strings.Join(dedupe(e.OtherIDs), ","))
			}
			b.Set("Sequence_Length", strconv.Itoa(e.SeqLength))
			b.SortAttrs()
			blocks = append(blocks, b)
		}
	}

	return blocks
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
