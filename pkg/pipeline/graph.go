// Pipeline DAG construction and staged submission.

package pipeline

import (
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/config"
	"go.uber.org/zap"
)

// Graph is the ordered stage DAG. Stages is in submission order, which
// is a topological order by construction.
type Graph struct {
	Stages    []*Stage
	Scheduler string
	WorkDir   string
	RunTag    string
}

// GraphParams carries everything stage payloads need.
type GraphParams struct {
	Opts    *config.Options
	DB      *config.Database
	WorkDir string
	Bin     string // the ssngen binary, re-invoked by worker stages
}

// FanOut returns the search fan-out width; DIAMOND parallelizes
// internally, so its array is cut by a factor of 24.
func FanOut(opts *config.Options) int {
	np := opts.NP
	if opts.DiamondTool() {
		np = (np + 23) / 24
		if np < 1 {
			np = 1
		}
	}
	return np
}

func formatDBLine(tool string) string {
	switch tool {
	case "blast":
		return "formatdb -i sequences.fa -p T -o T"
	case "diamond", "diamondsensitive":
		return "diamond makedb --in sequences.fa -d database"
	default: // blast+, blast+simple
		return "makeblastdb -in sequences.fa -dbtype prot -out database"
	}
}

func blastLine(opts *config.Options, idx string) string {
	hits := opts.BlastHits
	if hits == 0 {
		hits = 250
	}

	switch opts.Blast {
	case "blast":
		return fmt.Sprintf(
			"blastall -p blastp -i fracfile-%s.fa -d sequences.fa -m 8 -e %s -b %d -o blastout-%s.fa.tab",
			idx, opts.EValue, hits, idx)
	case "diamond", "diamondsensitive":
		sensitive := ""
		if opts.Blast == "diamondsensitive" {
			sensitive = " --sensitive"
		}
		return fmt.Sprintf(
			"diamond blastp%s -d database -q fracfile-%s.fa -e %s -k %d "+
				"--outfmt 6 qseqid sseqid pident length bitscore evalue qlen slen -o blastout-%s.fa.tab",
			sensitive, idx, opts.EValue, hits, idx)
	default: // blast+, blast+simple
		return fmt.Sprintf(
			"blastp -query fracfile-%s.fa -db database -evalue %s -max_target_seqs %d "+
				"-outfmt '6 qseqid sseqid pident length bitscore evalue qlen slen' -out blastout-%s.fa.tab",
			idx, opts.EValue, hits, idx)
	}
}

// BuildGraph wires the staged pipeline:
//
//	initial_import -> multiplex -> fracfile -> createdb -> blast[1..np]
//	  -> (afterany) catjob -> blastreduce -> demux -> {conv_ratio?, graphs}
func BuildGraph(p GraphParams) *Graph {
	opts := p.Opts
	dirFlags := fmt.Sprintf("--dir %s --config %s", p.WorkDir, opts.ConfigFile)

	runTag := opts.JobID
	if runTag == "" {
		runTag = uuid.New().String()[:8]
	}

	g := &Graph{
		Scheduler: opts.Scheduler,
		WorkDir:   p.WorkDir,
		RunTag:    runTag,
	}

	importLine := fmt.Sprintf("%s import %s --domain %s --minlen %d --maxlen %d",
		p.Bin, dirFlags, opts.Domain, opts.MinLen, opts.MaxLen)
	if opts.FastaFile != "" {
		importLine += " --user-fasta user_filtered.fa"
	}
	if opts.SeqCountFile != "" {
		importLine += fmt.Sprintf(" --seq-count-file %s", opts.SeqCountFile)
	}
	initialImport := NewStage("initial_import", opts.Queue, []string{importLine})

	muxLine := fmt.Sprintf("%s multiplex %s --multiplex %s --sim %g --lengthdif %g",
		p.Bin, dirFlags, opts.Multiplex, opts.Sim, opts.LengthDif)
	if opts.CDHitFile != "" {
		muxLine += fmt.Sprintf(" --cd-hit %s --maxsequence %d", opts.CDHitFile, opts.MaxSequence)
	}
	multiplex := NewStage("multiplex", opts.Queue, []string{muxLine})
	multiplex.After(initialImport, AfterOK)

	np := FanOut(opts)

	fracfile := NewStage("fracfile", opts.Queue, []string{
		fmt.Sprintf("%s fracfile %s --np %d", p.Bin, dirFlags, np),
	})
	fracfile.After(multiplex, AfterOK)

	createdb := NewStage("createdb", opts.Queue, []string{formatDBLine(opts.Blast)})
	createdb.After(fracfile, AfterOK)

	idx := ArrayIndexVar(opts.Scheduler)
	blast := NewStage("blast", opts.Queue, []string{blastLine(opts, idx)})
	blast.ArraySize = np
	blast.After(createdb, AfterOK)

	// Fan-in waits for every array element regardless of exit status;
	// catjob itself decides whether the output is usable.
	catjob := NewStage("catjob", opts.MemQueue, []string{
		fmt.Sprintf("%s catjob %s", p.Bin, dirFlags),
	})
	catjob.After(blast, AfterAny)

	blastreduce := NewStage("blastreduce", opts.MemQueue, []string{
		fmt.Sprintf("%s blastreduce %s", p.Bin, dirFlags),
	})
	blastreduce.After(catjob, AfterOK)

	demuxLine := fmt.Sprintf("%s demux %s --multiplex %s", p.Bin, dirFlags, opts.Multiplex)
	if opts.NoDemux {
		demuxLine += " --no-demux"
	}
	demux := NewStage("demux", opts.MemQueue, []string{demuxLine})
	demux.After(blastreduce, AfterOK)

	g.Stages = []*Stage{initialImport, multiplex, fracfile, createdb, blast, catjob, blastreduce, demux}

	if opts.ConvRatioFile != "" {
		convRatio := NewStage("conv_ratio", opts.Queue, []string{
			fmt.Sprintf("%s convratio %s --out %s", p.Bin, dirFlags, opts.ConvRatioFile),
		})
		convRatio.After(demux, AfterOK)
		g.Stages = append(g.Stages, convRatio)
	}

	graphsLine := fmt.Sprintf("%s xgmml %s --out %s", p.Bin, dirFlags, opts.Out)
	if opts.MaxFull > 0 {
		graphsLine += fmt.Sprintf(" --maxfull %d", opts.MaxFull)
	}
	graphs := NewStage("graphs", opts.MemQueue, []string{graphsLine})
	graphs.After(demux, AfterOK)
	graphs.MailAtEnd = true
	g.Stages = append(g.Stages, graphs)

	return g
}

// Submit renders and submits every stage in order. A stage whose afterok
// dependency failed is skipped; a scheduler refusal is fatal.
func (g *Graph) Submit(sub Submitter) error {
	for _, s := range g.Stages {
		if s.Status != StagePending {
			continue
		}
		if s.Blocked() {
			s.MarkSkipped()
			logger.Warn("stage skipped", zap.String("stage", s.Name))
			continue
		}

		jobName := fmt.Sprintf("ssn-%s-%s", s.Name, g.RunTag)
		script, err := RenderScript(g.Scheduler, g.WorkDir, jobName, s)
		if err != nil {
			s.MarkFailed()
			return err
		}

		scriptPath := path.Join(g.WorkDir, s.Name+".sh")
		if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
			s.MarkFailed()
			return fmt.Errorf("writing %s: %w", scriptPath, err)
		}

		jobID, err := sub.Submit(scriptPath, s)
		if err != nil {
			s.MarkFailed()
			return fmt.Errorf("submitting stage %s: %w", s.Name, err)
		}

		s.MarkSubmitted(jobID)
		logger.Info("stage submitted",
			zap.String("stage", s.Name),
			zap.String("job_id", jobID))
	}

	return nil
}
