// The graphs stage: merge nodes, reduced edges and annotations into the
// XGMML network, and drop the completion sentinel.

package main

import (
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yumyai/ssngen/internal/util"
	"github.com/yumyai/ssngen/logger"
	"github.com/yumyai/ssngen/pkg/annot"
	"github.com/yumyai/ssngen/pkg/fasta"
	"github.com/yumyai/ssngen/pkg/hits"
	"github.com/yumyai/ssngen/pkg/pipeline"
	"github.com/yumyai/ssngen/pkg/render"
	"go.uber.org/zap"
)

func newXgmmlCmd() *cobra.Command {
	var dir, configFile, out, label string
	var maxFull int

	cmd := &cobra.Command{
		Use:   "xgmml",
		Short: "Write the final network",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Whatever happens below, the run is over when this stage
			// finishes; the completion sentinel is the success marker
			// for the whole pipeline.
			defer pipeline.WriteSentinel(dir, pipeline.SentinelCompleted)

			version := readDatabaseVersion(dir)

			edges, edgesOK := readEdges(dir)
			if !edgesOK {
				// Best effort: record the anomaly, finish cleanly.
				pipeline.WriteSentinel(dir, pipeline.SentinelGraphsFailed)
				logger.Warn("no usable edge file; network not generated")
				return nil
			}

			if maxFull > 0 && len(edges) > maxFull {
				f, err := os.Create(path.Join(dir, out))
				if err != nil {
					return err
				}
				defer f.Close()
				logger.Warn("edge count exceeds maxfull",
					zap.Int("edges", len(edges)), zap.Int("maxfull", maxFull))
				return render.WriteNotice(f, len(edges), maxFull)
			}

			nodes, err := buildNodes(dir)
			if err != nil {
				return err
			}

			if label == "" {
				label = strings.TrimSuffix(path.Base(out), ".xgmml")
			}

			network := &render.Network{
				Label:           label,
				DatabaseVersion: version,
				Nodes:           nodes,
			}
			for _, e := range edges {
				network.Edges = append(network.Edges, render.EdgeFromHit(e))
			}

			f, err := os.Create(path.Join(dir, out))
			if err != nil {
				return err
			}
			if err := render.WriteXGMML(f, network); err != nil {
				f.Close()
				return err
			}
			f.Close()

			logger.Info("network written",
				zap.String("out", out),
				zap.Int("nodes", len(nodes)),
				zap.Int("edges", len(edges)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&configFile, "config", "", "database-location config file")
	cmd.Flags().StringVar(&out, "out", "network.xgmml", "network output file")
	cmd.Flags().StringVar(&label, "label", "", "graph label (defaults to the output name)")
	cmd.Flags().IntVar(&maxFull, "maxfull", 0, "emit a notice instead of XGMML above this edge count (0 = unlimited)")

	return cmd
}

func readDatabaseVersion(dir string) string {
	b, err := os.ReadFile(path.Join(dir, "database_version"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// readEdges loads 1.out. A missing or empty edge file is a data
// anomaly handled by the caller, not an error.
func readEdges(dir string) ([]hits.Hit, bool) {
	edgePath := path.Join(dir, "1.out")
	if !util.FileExists(edgePath) || util.FileEmpty(edgePath) {
		return nil, false
	}

	f, err := os.Open(edgePath)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	edges, err := hits.ParseTab(f)
	if err != nil {
		logger.Error("unparseable edge file: " + err.Error())
		return nil, false
	}
	return edges, true
}

// buildNodes walks allsequences.fa in order and attaches each node's
// annotations. Domain node IDs map back to their base accession's
// block.
func buildNodes(dir string) ([]render.Node, error) {
	f, err := os.Open(path.Join(dir, "allsequences.fa"))
	if err != nil {
		return nil, err
	}
	records, err := fasta.ReadSequences(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	byAcc := make(map[string]*annot.Block)
	if mf, err := os.Open(path.Join(dir, "struct.out")); err == nil {
		blocks, loadErr := annot.Load(mf)
		mf.Close()
		if loadErr != nil {
			return nil, loadErr
		}
		for _, b := range blocks {
			byAcc[b.Accession] = b
		}
	}

	var nodes []render.Node
	for _, rec := range records {
		node := render.Node{ID: rec.ID}

		base := strings.SplitN(rec.ID, ":", 2)[0]
		if b, ok := byAcc[base]; ok {
			node.Attrs = append(node.Attrs, b.Attrs...)
		}

		// Every node carries its length; domain IDs are overridden by
		// the writer.
		hasLen := false
		for _, a := range node.Attrs {
			if a.Key == "Sequence_Length" {
				hasLen = true
			}
		}
		if !hasLen {
			node.Attrs = append(node.Attrs, annot.Attr{Key: "Sequence_Length", Value: strconv.Itoa(len(rec.Seq))})
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

func init() {
	rootCmd.AddCommand(newXgmmlCmd())
}
