// XGMML network rendering: merge nodes, reduced edges and annotations
// into the XML dialect Cytoscape reads.

package render

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/yumyai/ssngen/pkg/annot"
	"github.com/yumyai/ssngen/pkg/hits"
)

const xgmmlNS = "http://www.cs.rpi.edu/XGMML"

// Domain node IDs carry their span: ID:start:end.
var domainNodeRe = regexp.MustCompile(`^(\S+):(\d+):(\d+)$`)

// Control characters that are illegal in XML 1.0 attribute values.
var controlCharRe = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")

type Node struct {
	ID    string
	Attrs []annot.Attr
}

type Edge struct {
	Source       string
	Target       string
	PIdent       float64
	AlignScore   float64
	AlignmentLen int
}

// EdgeFromHit derives the rendered edge from a reduced hit.
func EdgeFromHit(h hits.Hit) Edge {
	return Edge{
		Source:       h.Query,
		Target:       h.Subject,
		PIdent:       h.PIdent,
		AlignScore:   hits.AlignmentScore(h),
		AlignmentLen: h.AlignLen,
	}
}

type Network struct {
	Label           string
	DatabaseVersion string
	Nodes           []Node
	Edges           []Edge
}

// escape strips control characters and XML-escapes the remainder.
func escape(s string) string {
	s = controlCharRe.ReplaceAllString(s, "")
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// NodeSequenceLength resolves the Sequence_Length attribute for one
// node: domain nodes report their window size, everything else keeps the
// stored value.
func NodeSequenceLength(id, stored string) string {
	m := domainNodeRe.FindStringSubmatch(id)
	if m == nil {
		return stored
	}
	start, _ := strconv.Atoi(m[2])
	end, _ := strconv.Atoi(m[3])
	return strconv.Itoa(end - start + 1)
}

func writeAtt(w io.Writer, key, value string) error {
	attType := annot.Type(key)

	switch attType {
	case "list":
		if _, err := fmt.Fprintf(w, "    <att type=\"list\" name=\"%s\">\n", escape(key)); err != nil {
			return err
		}
		for _, item := range annot.SplitList(value) {
			if _, err := fmt.Fprintf(w, "      <att type=\"string\" name=\"%s\" value=\"%s\" />\n",
				escape(key), escape(item)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(w, "    </att>")
		return err
	case "integer":
		// Empty integers are elided entirely.
		if value == "" || value == "None" {
			return nil
		}
	}

	_, err := fmt.Fprintf(w, "    <att type=\"%s\" name=\"%s\" value=\"%s\" />\n",
		attType, escape(key), escape(value))
	return err
}

// WriteXGMML renders the network. Node order follows the given slice;
// the caller hands nodes in FASTA iteration order and edges in reduced
// sort order.
func WriteXGMML(w io.Writer, n *Network) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, `<?xml version="1.0"?>`)
	fmt.Fprintf(bw, "<!-- Database: %s -->\n", escape(n.DatabaseVersion))
	fmt.Fprintf(bw, "<graph label=\"%s\" xmlns=\"%s\">\n", escape(n.Label), xgmmlNS)

	for _, node := range n.Nodes {
		fmt.Fprintf(bw, "  <node id=\"%s\" label=\"%s\">\n", escape(node.ID), escape(node.ID))
		for _, a := range node.Attrs {
			value := a.Value
			if a.Key == "Sequence_Length" {
				value = NodeSequenceLength(node.ID, value)
			}
			if err := writeAtt(bw, a.Key, value); err != nil {
				return err
			}
		}
		fmt.Fprintln(bw, "  </node>")
	}

	for _, e := range n.Edges {
		fmt.Fprintf(bw, "  <edge source=\"%s\" target=\"%s\" label=\"%s,%s\">\n",
			escape(e.Source), escape(e.Target), escape(e.Source), escape(e.Target))
		fmt.Fprintf(bw, "    <att type=\"real\" name=\"%%id\" value=\"%g\" />\n", e.PIdent)
		fmt.Fprintf(bw, "    <att type=\"real\" name=\"alignment_score\" value=\"%g\" />\n", e.AlignScore)
		fmt.Fprintf(bw, "    <att type=\"integer\" name=\"alignment_len\" value=\"%d\" />\n", e.AlignmentLen)
		fmt.Fprintln(bw, "  </edge>")
	}

	fmt.Fprintln(bw, "</graph>")

	return bw.Flush()
}

// WriteNotice writes the plain-text stand-in emitted when the edge count
// exceeds maxfull. The caller distinguishes the two outputs by content.
func WriteNotice(w io.Writer, edgeCount, maxFull int) error {
	_, err := fmt.Fprintf(w,
		"Too many edges (%d) to generate the full network; the maximum is %d.\n"+
			"Rerun with a stricter e-value or a higher maxfull limit.\n",
		edgeCount, maxFull)
	return err
}
