package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/config"
	"go.uber.org/zap/zapcore"
)

var opts = &config.Options{}

var rootCmd = &cobra.Command{
	Use:           "ssngen",
	Short:         "Build sequence-similarity networks from protein-family inputs",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit()
	},
}

func init() {
	f := rootCmd.Flags()

	// Input selection
	f.StringSliceVar(&opts.InterPro, "ipro", nil, "InterPro family IDs, comma separated")
	f.StringSliceVar(&opts.Pfam, "pfam", nil, "Pfam family IDs, comma separated")
	f.StringSliceVar(&opts.Gene3D, "gene3d", nil, "Gene3D family IDs, comma separated")
	f.StringSliceVar(&opts.SSF, "ssf", nil, "SSF family IDs, comma separated")
	f.StringSliceVar(&opts.AccessionIDs, "accession-id", nil, "explicit accession IDs")
	f.StringVar(&opts.AccessionFile, "accession-file", "", "file of accession IDs, one per line")
	f.StringVar(&opts.FastaFile, "fasta-file", "", "user-supplied FASTA input")
	f.BoolVar(&opts.UseFastaHeaders, "use-fasta-headers", false, "scrape UniProt IDs out of FASTA headers")
	f.StringVar(&opts.Taxid, "taxid", "", "NCBI taxonomy ID")

	// Filtering
	f.StringVar(&opts.Domain, "domain", "off", "domain windowing: on or off")
	f.IntVar(&opts.Fraction, "fraction", 1, "keep every k-th sequence")
	f.BoolVar(&opts.RandomFraction, "random-fraction", false, "sample the fraction uniformly at random")
	f.IntVar(&opts.MaxSequence, "maxsequence", 0, "abort when the accession count exceeds this (0 = unlimited)")
	f.IntVar(&opts.MaxLen, "maxlen", 0, "drop sequences longer than this (0 = unlimited)")
	f.IntVar(&opts.MinLen, "minlen", 0, "drop sequences shorter than this")
	f.StringVar(&opts.EValue, "evalue", "5", "e-value cutoff: integer N means 1e-N")
	f.BoolVar(&opts.SkipFamilyVerify, "skip-family-verify", false, "keep accession-query IDs absent from the Pfam index")

	// Clustering
	f.StringVar(&opts.Multiplex, "multiplex", "on", "pre-search clustering: on or off")
	f.Float64Var(&opts.Sim, "sim", 1.0, "cd-hit identity cutoff")
	f.Float64Var(&opts.LengthDif, "lengthdif", 1.0, "cd-hit length difference cutoff")
	f.StringVar(&opts.CDHitFile, "cd-hit", "", "use a precomputed .clstr file (clustering-only mode)")
	f.BoolVar(&opts.NoDemux, "no-demux", false, "keep representative-level edges; carry clusters as node attributes")

	// Similarity search
	f.StringVar(&opts.Blast, "blast", "blast", "search tool: blast, blast+, blast+simple, diamond, diamondsensitive")
	f.IntVar(&opts.BlastHits, "blasthits", 0, "maximum hits per query (0 = tool default)")
	f.IntVar(&opts.NP, "np", 48, "search fan-out width")

	// Scheduler
	f.StringVar(&opts.Queue, "queue", "", "scheduler queue for regular stages")
	f.StringVar(&opts.MemQueue, "memqueue", "", "scheduler queue for memory-heavy stages")
	f.StringVar(&opts.Scheduler, "scheduler", "torque", "batch scheduler: torque or slurm")
	f.StringVar(&opts.TmpDir, "tmp", ".", "working directory")
	f.StringVar(&opts.JobID, "job-id", "", "tag prepended to job names")
	f.BoolVar(&opts.DryRun, "dryrun", false, "render scripts without submitting")

	// Outputs
	f.IntVar(&opts.MaxFull, "maxfull", 0, "edge count above which a notice replaces the XGMML (0 = unlimited)")
	f.StringVar(&opts.Out, "out", "network.xgmml", "network output file")
	f.StringVar(&opts.MetaFile, "meta-file", "struct.out", "metadata/annotation output file")
	f.StringVar(&opts.AccessionOutput, "accession-output", "accession.txt", "accession list output file")
	f.StringVar(&opts.NoMatchFile, "no-match-file", "no_accession_matches.txt", "unmatched-ID report file")
	f.StringVar(&opts.SeqCountFile, "seq-count-file", "", "sequence count output file")
	f.StringVar(&opts.ConvRatioFile, "conv-ratio-file", "", "write the convergence ratio and add its stage")

	f.StringVar(&opts.ConfigFile, "config", "", "database-location config file (required)")
}

func main() {
	if err := logger.InitLogger(zapcore.InfoLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Try load env
	dotenvErr := godotenv.Load()

	if dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	if err := rootCmd.Execute(); err != nil {
		// The logger is up once any command ran; precondition failures
		// must still reach the operator.
		logger.Error("run failed: " + err.Error())
		os.Exit(1)
	}
}
