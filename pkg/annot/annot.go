// Annotation file handling. The file is block-structured: a line opening
// with an accession starts a block, and indented tab-separated key/value
// lines fill it until the next accession.

package annot

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// displayOrder is the canonical attribute order in the rendered network.
// Unknown keys are kept and placed after these.
var displayOrder = []string{
	"Sequence_Source",
	"Description",
	"Query_IDs",
	"Other_IDs",
	"Organism",
	"Taxonomy_ID",
	"Superkingdom",
	"Kingdom",
	"Phylum",
	"Class",
	"Sequence_Length",
	"GN",
	"PFAM",
	"IPRO",
	"GDNA",
	"PDB",
	"GI",
	"NCBI_IDs",
	"Cluster_Size",
	"Cluster_Members",
}

var displayRank = func() map[string]int {
	m := make(map[string]int, len(displayOrder))
	for i, k := range displayOrder {
		m[k] = i
	}
	return m
}()

// listKeys are comma-delimited and rendered as repeated sub-elements.
var listKeys = map[string]bool{
	"Query_IDs":       true,
	"Other_IDs":       true,
	"PFAM":            true,
	"IPRO":            true,
	"PDB":             true,
	"GI":              true,
	"NCBI_IDs":        true,
	"Cluster_Members": true,
}

// integerKeys carry integer values; empty integers are elided on render.
var integerKeys = map[string]bool{
	"Sequence_Length": true,
	"Taxonomy_ID":     true,
	"Cluster_Size":    true,
}

// IsList reports whether key holds a comma-delimited list.
func IsList(key string) bool { return listKeys[key] }

// Type returns the XGMML attribute type for key.
func Type(key string) string {
	switch {
	case listKeys[key]:
		return "list"
	case integerKeys[key]:
		return "integer"
	default:
		return "string"
	}
}

// SortKeys orders keys by the canonical display order. Unknown keys go
// to the end, alphabetically so the output is stable.
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ri, iKnown := displayRank[keys[i]]
		rj, jKnown := displayRank[keys[j]]
		if iKnown && jKnown {
			return ri < rj
		}
		if iKnown != jKnown {
			return iKnown
		}
		return keys[i] < keys[j]
	})
}

// SplitList breaks a comma-delimited value into trimmed items.
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Attr is one key/value pair of a block. Values stay textual; typing is
// applied by the network writer.
type Attr struct {
	Key   string
	Value string
}

// Block carries the annotations of one accession.
type Block struct {
	Accession string
	Attrs     []Attr
}

// Get returns the value for key, or "".
func (b *Block) Get(key string) string {
	for _, a := range b.Attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Set replaces or appends key.
func (b *Block) Set(key, value string) {
	for i := range b.Attrs {
		if b.Attrs[i].Key == key {
			b.Attrs[i].Value = value
			return
		}
	}
	b.Attrs = append(b.Attrs, Attr{Key: key, Value: value})
}

// SortAttrs puts the block's attributes into display order.
func (b *Block) SortAttrs() {
	keys := make([]string, len(b.Attrs))
	byKey := make(map[string]string, len(b.Attrs))
	for i, a := range b.Attrs {
		keys[i] = a.Key
		byKey[a.Key] = a.Value
	}
	SortKeys(keys)
	attrs := make([]Attr, len(keys))
	for i, k := range keys {
		attrs[i] = Attr{Key: k, Value: byKey[k]}
	}
	b.Attrs = attrs
}

// Load parses the block-structured tab file. Empty values are stored as
// "None".
func Load(r io.Reader) ([]*Block, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var blocks []*Block
	var current *Block

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			current = &Block{Accession: strings.TrimSpace(line)}
			blocks = append(blocks, current)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("attribute line before any accession: %q", line)
		}

		parts := strings.SplitN(strings.TrimPrefix(line, "\t"), "\t", 2)
		key := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		if value == "" {
			value = "None"
		}

		current.Attrs = append(current.Attrs, Attr{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return blocks, nil
}

// Write serializes blocks back into the block tab format Load reads.
func Write(w io.Writer, blocks []*Block) error {
	for _, b := range blocks {
		if _, err := fmt.Fprintln(w, b.Accession); err != nil {
			return err
		}
		for _, a := range b.Attrs {
			if _, err := fmt.Fprintf(w, "\t%s\t%s\n", a.Key, a.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Filter keeps only the blocks whose accession is in keep. The
// manual-cd-hit mode trims annotations to the representative set.
func Filter(blocks []*Block, keep map[string]bool) []*Block {
	var out []*Block
	for _, b := range blocks {
		if keep[b.Accession] {
			out = append(out, b)
		}
	}
	return out
}
