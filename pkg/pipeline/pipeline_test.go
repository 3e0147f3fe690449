package pipeline

import (
	"os"
	"path"
	"strings"
	"testing"

	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/config"
	"go.uber.org/zap/zapcore"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(zapcore.WarnLevel); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testOptions() *config.Options {
	return &config.Options{
		Pfam:       []string{"PF00001"},
		Domain:     "off",
		Fraction:   1,
		Multiplex:  "on",
		Sim:        1.0,
		LengthDif:  1.0,
		EValue:     "1e-5",
		Blast:      "blast",
		NP:         48,
		Queue:      "default",
		MemQueue:   "highmem",
		Scheduler:  "torque",
		Out:        "network.xgmml",
		ConfigFile: "ssn.cfg",
	}
}

func testGraph(t *testing.T, opts *config.Options) *Graph {
	t.Helper()
	return BuildGraph(GraphParams{
		Opts:    opts,
		WorkDir: t.TempDir(),
		Bin:     "/usr/local/bin/ssngen",
	})
}

func TestBuildGraphShape(t *testing.T) {
	g := testGraph(t, testOptions())

	want := []string{"initial_import", "multiplex", "fracfile", "createdb",
		"blast", "catjob", "blastreduce", "demux", "graphs"}
	if len(g.Stages) != len(want) {
		t.Fatalf("stages = %d, want %d", len(g.Stages), len(want))
	}
	for i, name := range want {
		if g.Stages[i].Name != name {
			t.Errorf("stage %d = %q, want %q", i, g.Stages[i].Name, name)
		}
	}
}

func TestBuildGraphDependencies(t *testing.T) {
	g := testGraph(t, testOptions())

	byName := map[string]*Stage{}
	for _, s := range g.Stages {
		byName[s.Name] = s
	}

	// The fan-in after the array job must be afterany.
	catjob := byName["catjob"]
	if len(catjob.Deps) != 1 || catjob.Deps[0].Kind != AfterAny || catjob.Deps[0].On.Name != "blast" {
		t.Errorf("catjob deps = %+v", catjob.Deps)
	}

	// Everything else is afterok.
	demux := byName["demux"]
	if demux.Deps[0].Kind != AfterOK || demux.Deps[0].On.Name != "blastreduce" {
		t.Errorf("demux deps = %+v", demux.Deps)
	}

	blast := byName["blast"]
	if blast.ArraySize != 48 {
		t.Errorf("blast ArraySize = %d", blast.ArraySize)
	}
}

func TestBuildGraphConvRatio(t *testing.T) {
	opts := testOptions()
	opts.ConvRatioFile = "conv_ratio.txt"

	g := testGraph(t, opts)

	found := false
	for _, s := range g.Stages {
		if s.Name == "conv_ratio" {
			found = true
			if s.Deps[0].On.Name != "demux" {
				t.Errorf("conv_ratio deps = %+v", s.Deps)
			}
		}
	}
	if !found {
		t.Error("conv_ratio stage missing")
	}
}

func TestDiamondFanOutRescale(t *testing.T) {
	opts := testOptions()
	opts.Blast = "diamond"
	opts.NP = 48

	if np := FanOut(opts); np != 2 {
		t.Errorf("FanOut = %d, want 2", np)
	}

	opts.NP = 10
	if np := FanOut(opts); np != 1 {
		t.Errorf("FanOut = %d, want 1", np)
	}

	opts.Blast = "blast"
	opts.NP = 48
	if np := FanOut(opts); np != 48 {
		t.Errorf("FanOut = %d, want 48", np)
	}
}

func TestRenderScriptTorque(t *testing.T) {
	opts := testOptions()
	g := testGraph(t, opts)

	blast := g.Stages[4]
	script, err := RenderScript("torque", "/work/run1", "ssn-blast-abc", blast)
	if err != nil {
		t.Fatalf("RenderScript: %v", err)
	}

	for _, want := range []string{
		"#PBS -N ssn-blast-abc",
		"#PBS -q default",
		"#PBS -t 1-48",
		"cd /work/run1",
		"$PBS_ARRAYID",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestRenderScriptSlurmDependencies(t *testing.T) {
	a := NewStage("a", "default", []string{"true"})
	a.MarkSubmitted("100")
	b := NewStage("b", "default", []string{"true"})
	b.MarkSubmitted("101")

	c := NewStage("c", "default", []string{"echo done"})
	c.After(a, AfterOK)
	c.After(b, AfterOK)

	script, err := RenderScript("slurm", "/work", "ssn-c", c)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(script, "#SBATCH --dependency=afterok:100:101") {
		t.Errorf("dependency line wrong:\n%s", script)
	}
}

func TestRenderScriptMailAtEnd(t *testing.T) {
	s := NewStage("graphs", "default", []string{"true"})
	s.MailAtEnd = true

	script, err := RenderScript("torque", "/work", "ssn-graphs", s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "#PBS -m e") {
		t.Errorf("mail directive missing:\n%s", script)
	}
}

func TestSubmitDryRun(t *testing.T) {
	opts := testOptions()
	g := BuildGraph(GraphParams{Opts: opts, WorkDir: t.TempDir(), Bin: "ssngen"})

	sub := &DrySubmitter{}
	if err := g.Submit(sub); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(sub.Submitted) != len(g.Stages) {
		t.Errorf("submitted %d of %d stages", len(sub.Submitted), len(g.Stages))
	}
	for _, s := range g.Stages {
		if s.Status != StageSubmitted {
			t.Errorf("stage %s status = %s", s.Name, s.Status)
		}
		if !strings.HasPrefix(s.JobID, "dry-") {
			t.Errorf("stage %s job id = %q", s.Name, s.JobID)
		}
	}

	// Scripts were rendered to disk even in dry-run.
	if _, err := os.Stat(path.Join(g.WorkDir, "blast.sh")); err != nil {
		t.Error("blast.sh not rendered")
	}
}

func TestSubmitSkipsBlockedStages(t *testing.T) {
	a := NewStage("a", "q", []string{"true"})
	b := NewStage("b", "q", []string{"true"})
	b.After(a, AfterOK)
	c := NewStage("c", "q", []string{"true"})
	c.After(b, AfterOK)
	d := NewStage("d", "q", []string{"true"})
	d.After(b, AfterAny)

	a.MarkFailed()

	g := &Graph{Stages: []*Stage{a, b, c, d}, Scheduler: "torque", WorkDir: t.TempDir(), RunTag: "t"}

	// a already failed before submission; b and c must be skipped,
	// d has only an afterany edge and still goes out.
	sub := &DrySubmitter{}
	if err := g.Submit(sub); err != nil {
		t.Fatal(err)
	}

	if b.Status != StageSkipped || c.Status != StageSkipped {
		t.Errorf("b = %s, c = %s", b.Status, c.Status)
	}
	if d.Status != StageSubmitted {
		t.Errorf("d = %s", d.Status)
	}
}

func TestReadRunStatus(t *testing.T) {
	dir := t.TempDir()

	status := ReadRunStatus(dir)
	if status.BlastFailed || status.Completed {
		t.Errorf("fresh dir status = %+v", status)
	}

	if err := WriteSentinel(dir, SentinelCompleted); err != nil {
		t.Fatal(err)
	}
	if err := WriteSentinel(dir, SentinelGraphsFailed); err != nil {
		t.Fatal(err)
	}

	status = ReadRunStatus(dir)
	if !status.Completed || !status.GraphsFailed || status.BlastFailed {
		t.Errorf("status = %+v", status)
	}
}
