// Invocation options and database-location config for the SSN pipeline.

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Keys expected in the config file (KEY=VALUE, same format as a .env file).
const (
	keyDB        = "SSN_DB"
	keyDBPath    = "SSN_DBPATH"
	keyPerPass   = "SSN_PERPASS"
	keyDBVersion = "SSN_DBVERSION"
	keyFastacmd  = "SSN_FASTACMD"
)

const defaultPerPass = 1000

// Database locates the reference store: the relational half (sqlite file)
// and the flat FASTA blob indexed by accession.
type Database struct {
	SQLPath  string // relational store
	BlobPath string // formatted FASTA blob for fastacmd
	PerPass  int    // batch size for blob fetches
	Version  string
	Fastacmd string // fastacmd executable, default "fastacmd"
}

// Options collects every invocation flag. One value of this struct is
// threaded through all components. The only environment read is the
// orchestrator's SSN_CFG fallback for ConfigFile.
type Options struct {
	// Input selection. Exactly one source must be given.
	InterPro        []string
	Pfam            []string
	Gene3D          []string
	SSF             []string
	AccessionIDs    []string
	AccessionFile   string
	FastaFile       string
	UseFastaHeaders bool
	Taxid           string

	// Filtering
	Domain           string // "on" or "off"
	SkipFamilyVerify bool   // trust resolver output without the Pfam-index pass
	Fraction         int
	RandomFraction   bool
	MaxSequence      int
	MinLen           int
	MaxLen           int
	EValue           string // normalized, e.g. "1e-5"

	// Clustering
	Multiplex string // "on" or "off"
	Sim       float64
	LengthDif float64
	CDHitFile string
	NoDemux   bool

	// Similarity search
	Blast     string
	BlastHits int
	NP        int

	// Scheduler
	Queue     string
	MemQueue  string
	Scheduler string // "torque" or "slurm"
	TmpDir    string
	JobID     string
	DryRun    bool

	// Outputs
	MaxFull         int // edge count above which the writer emits a notice instead of XGMML
	Out             string
	MetaFile        string
	AccessionOutput string
	NoMatchFile     string
	SeqCountFile    string
	ConvRatioFile   string

	ConfigFile string
}

var blastTools = map[string]bool{
	"blast":            true,
	"blast+":           true,
	"blast+simple":     true,
	"diamond":          true,
	"diamondsensitive": true,
}

var evalueRe = regexp.MustCompile(`^1e-(\d+)$`)

// NormalizeEvalue accepts either a bare integer N (meaning 1e-N) or an
// explicit 1e-N form, and returns the explicit form.
func NormalizeEvalue(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("evalue is empty")
	}
	if evalueRe.MatchString(s) {
		return s, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return "", fmt.Errorf("evalue must be a non-negative integer or 1e-N form, got %q", s)
	}
	return fmt.Sprintf("1e-%d", n), nil
}

// LoadDatabase reads the database-location config file. The file is
// required; refusing to run without it avoids guessing at a reference
// store path.
func LoadDatabase(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("a config file is required (--config)")
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	db := &Database{
		SQLPath:  env[keyDB],
		BlobPath: env[keyDBPath],
		Version:  env[keyDBVersion],
		Fastacmd: env[keyFastacmd],
		PerPass:  defaultPerPass,
	}

	if pp, ok := env[keyPerPass]; ok {
		n, err := strconv.Atoi(pp)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer, got %q", keyPerPass, pp)
		}
		db.PerPass = n
	}

	if db.SQLPath == "" {
		return nil, fmt.Errorf("config %s does not define %s", path, keyDB)
	}
	if db.BlobPath == "" {
		return nil, fmt.Errorf("config %s does not define %s", path, keyDBPath)
	}
	if db.Fastacmd == "" {
		db.Fastacmd = "fastacmd"
	}

	return db, nil
}

// inputSources counts the mutually exclusive input kinds that were given.
// The four family flags together count as one source.
func (o *Options) inputSources() int {
	n := 0
	if len(o.InterPro)+len(o.Pfam)+len(o.Gene3D)+len(o.SSF) > 0 {
		n++
	}
	if len(o.AccessionIDs) > 0 || o.AccessionFile != "" {
		n++
	}
	if o.FastaFile != "" {
		n++
	}
	if o.Taxid != "" {
		n++
	}
	return n
}

// HasFamilies reports whether any family input flag was given.
func (o *Options) HasFamilies() bool {
	return len(o.InterPro)+len(o.Pfam)+len(o.Gene3D)+len(o.SSF) > 0
}

// DomainOn reports whether domain windowing is enabled.
func (o *Options) DomainOn() bool { return o.Domain == "on" }

// MultiplexOn reports whether pre-search clustering is enabled.
func (o *Options) MultiplexOn() bool { return o.Multiplex == "on" }

// DiamondTool reports whether the configured search tool is a DIAMOND
// variant, which parallelizes internally.
func (o *Options) DiamondTool() bool {
	return o.Blast == "diamond" || o.Blast == "diamondsensitive"
}

// Validate checks mutual constraints between the options. It is the only
// gate before any script is rendered or submitted.
func (o *Options) Validate() error {
	if o.ConfigFile == "" {
		return errors.New("a config file is required (--config)")
	}

	switch o.inputSources() {
	case 0:
		return errors.New("one input source is required: families, accession list, FASTA file, or taxid")
	case 1:
		// ok
	default:
		return errors.New("only one input source may be given")
	}

	if o.Domain != "on" && o.Domain != "off" {
		return fmt.Errorf("domain must be on or off, got %q", o.Domain)
	}
	if o.Multiplex != "on" && o.Multiplex != "off" {
		return fmt.Errorf("multiplex must be on or off, got %q", o.Multiplex)
	}
	if o.DomainOn() && !o.HasFamilies() {
		return errors.New("domain on requires family input")
	}
	if o.Fraction < 1 {
		return fmt.Errorf("fraction must be a positive integer, got %d", o.Fraction)
	}
	if o.RandomFraction && o.Fraction == 1 {
		return errors.New("random-fraction needs fraction > 1")
	}
	if o.Sim < 0 || o.Sim > 1 {
		return fmt.Errorf("sim must be within [0, 1], got %g", o.Sim)
	}
	if o.LengthDif < 0 || o.LengthDif > 1 {
		return fmt.Errorf("lengthdif must be within [0, 1], got %g", o.LengthDif)
	}
	if o.MaxSequence < 0 {
		return fmt.Errorf("maxsequence must not be negative, got %d", o.MaxSequence)
	}
	if o.MinLen < 0 || o.MaxLen < 0 {
		return errors.New("minlen and maxlen must not be negative")
	}
	if o.MaxLen > 0 && o.MinLen > o.MaxLen {
		return fmt.Errorf("minlen %d exceeds maxlen %d", o.MinLen, o.MaxLen)
	}

	ev, err := NormalizeEvalue(o.EValue)
	if err != nil {
		return err
	}
	o.EValue = ev

	if !blastTools[o.Blast] {
		return fmt.Errorf("unknown blast tool %q", o.Blast)
	}
	if o.NP < 1 {
		return fmt.Errorf("np must be at least 1, got %d", o.NP)
	}
	if o.BlastHits < 0 {
		return fmt.Errorf("blasthits must not be negative, got %d", o.BlastHits)
	}
	if o.MaxFull < 0 {
		return fmt.Errorf("maxfull must not be negative, got %d", o.MaxFull)
	}

	if o.Scheduler != "torque" && o.Scheduler != "slurm" {
		return fmt.Errorf("scheduler must be torque or slurm, got %q", o.Scheduler)
	}
	if o.Queue == "" {
		return errors.New("a queue is required (--queue)")
	}
	if o.MemQueue == "" {
		o.MemQueue = o.Queue
	}

	if o.UseFastaHeaders && o.FastaFile == "" {
		return errors.New("use-fasta-headers needs a fasta file")
	}
	if o.NoDemux && o.Multiplex != "on" {
		return errors.New("no-demux only makes sense with multiplex on")
	}

	return nil
}
