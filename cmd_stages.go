// Mid-pipeline worker stages: multiplex, fracfile, catjob, blastreduce,
// demux and conv_ratio. Each runs inside a scheduler job and talks to
// its neighbors only through working-directory artifacts.

package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yumyai/ssngen/internal/util"
	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/annot"
	"github.com/yumyai/ssngen/pkg/cluster"
	"github.com/yumyai/ssngen/pkg/fasta"
	"github.com/yumyai/ssngen/pkg/hits"
	"github.com/yumyai/ssngen/pkg/pipeline"
	"go.uber.org/zap"
)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func newMultiplexCmd() *cobra.Command {
	var dir, configFile, multiplex, cdhitFile string
	var sim, lengthDif float64
	var maxSequence int

	cmd := &cobra.Command{
		Use:   "multiplex",
		Short: "Cluster allsequences.fa into the representative set",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := path.Join(dir, "allsequences.fa")
			reps := path.Join(dir, "sequences.fa")

			// Manual mode: a precomputed .clstr defines the working set.
			if cdhitFile != "" {
				return manualCDHit(dir, all, reps, cdhitFile, maxSequence)
			}

			if multiplex != "on" {
				return copyFile(all, reps)
			}

			if err := cluster.RunCDHit("", all, reps, sim, lengthDif); err != nil {
				return err
			}

			clstr, err := os.Open(reps + ".clstr")
			if err != nil {
				return err
			}
			table, err := cluster.ParseClstr(clstr)
			clstr.Close()
			if err != nil {
				return err
			}

			logger.Info("clustering complete",
				zap.Int("sequences", table.Size()),
				zap.Int("representatives", len(table.Representatives())))

			return writeClusterTable(dir, table)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")
	cmd.Flags().StringVar(&multiplex, "multiplex", "on", "pre-search clustering: on or off")
	cmd.Flags().Float64Var(&sim, "sim", 1.0, "cd-hit identity cutoff")
	cmd.Flags().Float64Var(&lengthDif, "lengthdif", 1.0, "cd-hit length difference cutoff")
	cmd.Flags().StringVar(&cdhitFile, "cd-hit", "", "precomputed .clstr file")
	cmd.Flags().IntVar(&maxSequence, "maxsequence", 0, "re-checked cluster-count limit")

	return cmd
}

func writeClusterTable(dir string, table *cluster.Table) error {
	mux, err := os.Create(path.Join(dir, "mux.out"))
	if err != nil {
		return err
	}
	defer mux.Close()
	return table.WriteTable(mux)
}

// manualCDHit treats the representatives of a user-provided clustering
// as the new working set: maxsequence is re-checked and the annotation
// file is cut down to match.
func manualCDHit(dir, all, reps, cdhitFile string, maxSequence int) error {
	clstr, err := os.Open(cdhitFile)
	if err != nil {
		return err
	}
	table, err := cluster.ParseClstr(clstr)
	clstr.Close()
	if err != nil {
		return err
	}

	repIDs := table.Representatives()
	if maxSequence > 0 && len(repIDs) > maxSequence {
		failed := path.Join(dir, "accession.txt.failed")
		os.WriteFile(failed, []byte(fmt.Sprintf("%d clusters, maxsequence %d\n", len(repIDs), maxSequence)), 0644)
		return fmt.Errorf("%d cluster representatives exceed the maxsequence limit of %d", len(repIDs), maxSequence)
	}

	keep := make(map[string]bool, len(repIDs))
	for _, r := range repIDs {
		keep[r] = true
	}

	in, err := os.Open(all)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(reps)
	if err != nil {
		return err
	}
	if err := cluster.FilterFasta(in, out, keep); err != nil {
		out.Close()
		return err
	}
	out.Close()

	metaPath := path.Join(dir, "struct.out")
	if util.FileExists(metaPath) {
		mf, err := os.Open(metaPath)
		if err != nil {
			return err
		}
		blocks, err := annot.Load(mf)
		mf.Close()
		if err != nil {
			return err
		}
		kept := annot.Filter(blocks, keep)
		mo, err := os.Create(metaPath)
		if err != nil {
			return err
		}
		if err := annot.Write(mo, kept); err != nil {
			mo.Close()
			return err
		}
		mo.Close()
	}

	return writeClusterTable(dir, table)
}

func newFracfileCmd() *cobra.Command {
	var dir string
	var np int

	cmd := &cobra.Command{
		Use:   "fracfile",
		Short: "Split sequences.fa into the search fan-out chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path.Join(dir, "sequences.fa"))
			if err != nil {
				return err
			}
			records, err := fasta.ReadSequences(f)
			f.Close()
			if err != nil {
				return err
			}

			chunks := make([][]fasta.SeqRecord, np)
			for i, rec := range records {
				chunks[i%np] = append(chunks[i%np], rec)
			}

			for i, chunk := range chunks {
				out, err := os.Create(path.Join(dir, fmt.Sprintf("fracfile-%d.fa", i+1)))
				if err != nil {
					return err
				}
				if err := fasta.WriteRecords(out, chunk); err != nil {
					out.Close()
					return err
				}
				out.Close()
			}

			logger.Info("fractionation complete",
				zap.Int("sequences", len(records)), zap.Int("chunks", np))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().IntVar(&np, "np", 1, "number of chunks")

	return cmd
}

func newCatjobCmd() *cobra.Command {
	var dir, configFile string

	cmd := &cobra.Command{
		Use:   "catjob",
		Short: "Concatenate the search outputs into blastfinal.tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := filepath.Glob(path.Join(dir, "blastout-*.fa.tab"))
			if err != nil {
				return err
			}
			sort.Strings(parts)

			final := path.Join(dir, "blastfinal.tab")
			out, err := os.Create(final)
			if err != nil {
				return err
			}
			for _, p := range parts {
				in, err := os.Open(p)
				if err != nil {
					out.Close()
					return err
				}
				if _, err := io.Copy(out, in); err != nil {
					in.Close()
					out.Close()
					return err
				}
				in.Close()
			}
			out.Close()

			// An empty fan-in means the search produced nothing; gate
			// the afterok stages behind the sentinel.
			if util.FileEmpty(final) {
				pipeline.WriteSentinel(dir, pipeline.SentinelBlastFailed)
				return fmt.Errorf("blastfinal.tab is empty; wrote %s", pipeline.SentinelBlastFailed)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")

	return cmd
}

func newBlastreduceCmd() *cobra.Command {
	var dir, configFile string

	cmd := &cobra.Command{
		Use:   "blastreduce",
		Short: "Reduce raw hits to one edge per pair into 1.out",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path.Join(dir, "blastfinal.tab"))
			if err != nil {
				return err
			}
			raw, err := hits.ParseTab(f)
			f.Close()
			if err != nil {
				return err
			}

			reduced := hits.Reduce(raw)

			out, err := os.Create(path.Join(dir, "1.out"))
			if err != nil {
				return err
			}
			if err := hits.WriteTab(out, reduced); err != nil {
				out.Close()
				return err
			}
			out.Close()

			logger.Info("reduction complete",
				zap.Int("raw_hits", len(raw)), zap.Int("edges", len(reduced)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")

	return cmd
}

func newDemuxCmd() *cobra.Command {
	var dir, configFile, multiplex string
	var noDemux bool

	cmd := &cobra.Command{
		Use:   "demux",
		Short: "Expand representative edges back to cluster members",
		RunE: func(cmd *cobra.Command, args []string) error {
			if multiplex != "on" {
				return nil
			}

			mux, err := os.Open(path.Join(dir, "mux.out"))
			if err != nil {
				return err
			}
			table, err := cluster.LoadTable(mux)
			mux.Close()
			if err != nil {
				return err
			}

			edgePath := path.Join(dir, "1.out")
			f, err := os.Open(edgePath)
			if err != nil {
				return err
			}
			edges, err := hits.ParseTab(f)
			f.Close()
			if err != nil {
				return err
			}

			var out []hits.Hit
			if noDemux {
				out = cluster.RemoveDups(edges)
				if err := attachClusterAttrs(dir, table); err != nil {
					return err
				}
			} else {
				out = cluster.Demux(edges, table)
			}

			w, err := os.Create(edgePath)
			if err != nil {
				return err
			}
			if err := hits.WriteTab(w, out); err != nil {
				w.Close()
				return err
			}
			w.Close()

			logger.Info("demultiplex complete",
				zap.Int("edges_in", len(edges)), zap.Int("edges_out", len(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")
	cmd.Flags().StringVar(&multiplex, "multiplex", "on", "pre-search clustering: on or off")
	cmd.Flags().BoolVar(&noDemux, "no-demux", false, "keep representative edges; annotate clusters instead")

	return cmd
}

// attachClusterAttrs records cluster membership on the representative
// nodes when the edges stay at representative level.
func attachClusterAttrs(dir string, table *cluster.Table) error {
	metaPath := path.Join(dir, "struct.out")

	f, err := os.Open(metaPath)
	if err != nil {
		return err
	}
	blocks, err := annot.Load(f)
	f.Close()
	if err != nil {
		return err
	}

	byAcc := make(map[string]*annot.Block, len(blocks))
	for _, b := range blocks {
		byAcc[b.Accession] = b
	}

	for _, rep := range table.Representatives() {
		b, ok := byAcc[rep]
		if !ok {
			continue
		}
		members := table.Members(rep)
		b.Set("Cluster_Size", fmt.Sprintf("%d", len(members)))
		b.Set("Cluster_Members", strings.Join(members, ","))
		b.SortAttrs()
	}

	out, err := os.Create(metaPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return annot.Write(out, blocks)
}

func newConvRatioCmd() *cobra.Command {
	var dir, configFile, out string

	cmd := &cobra.Command{
		Use:   "convratio",
		Short: "Compute the convergence ratio of the final edge set",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path.Join(dir, "1.out"))
			if err != nil {
				return err
			}
			edges, err := hits.ParseTab(f)
			f.Close()
			if err != nil {
				return err
			}

			nodes := make(map[string]bool)
			for _, e := range edges {
				nodes[e.Query] = true
				nodes[e.Subject] = true
			}

			n := len(nodes)
			ratio := 0.0
			if n > 1 {
				ratio = 2 * float64(len(edges)) / (float64(n) * float64(n-1))
			}

			content := fmt.Sprintf("ConvergenceRatio\t%.6f\nEdgeCount\t%d\nNodeCount\t%d\n",
				ratio, len(edges), n)
			return os.WriteFile(path.Join(dir, out), []byte(content), 0644)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")
	cmd.Flags().StringVar(&out, "out", "conv_ratio.txt", "output file")

	return cmd
}

func init() {
	rootCmd.AddCommand(newMultiplexCmd())
	rootCmd.AddCommand(newFracfileCmd())
	rootCmd.AddCommand(newCatjobCmd())
	rootCmd.AddCommand(newBlastreduceCmd())
	rootCmd.AddCommand(newDemuxCmd())
	rootCmd.AddCommand(newConvRatioCmd())
}
