package graphio

import (
	"bytes"
	"encoding/hex"
	"io"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// GraphManifest is the serializable form of a counted pattern-type graph.
type GraphManifest struct {
	Version     string      `json:"version"`
	Kind        string      `json:"kind"`
	Fingerprint string      `json:"fingerprint"`
	Stats       count.Stats `json:"stats"`
	Nodes       []GraphNode `json:"nodes"`
}

// GraphNode is one pattern type.
type GraphNode struct {
	ID        int      `json:"id"`
	Label     string   `json:"label"`
	Class     int      `json:"class"`
	EdgeClass int      `json:"edge_class"`
	Depth     int      `json:"depth"`
	Parent    int      `json:"parent"`
	Count     int      `json:"count"`
	Terminal  int      `json:"terminal"`
	Signature string   `json:"signature"`
	Instances []uint32 `json:"instances,omitempty"`
	Support   []uint32 `json:"support,omitempty"`
}

// ToGraphManifest converts g to its manifest.
func ToGraphManifest(g *count.Graph) *GraphManifest {
	m := &GraphManifest{
		Version:     Version,
		Kind:        "pattern-types",
		Fingerprint: g.Fingerprint().FullString(),
		Stats:       g.Stats(),
		Nodes:       make([]GraphNode, 0, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		m.Nodes = append(m.Nodes, GraphNode{
			ID:        n.ID,
			Label:     n.Label,
			Class:     n.Class,
			EdgeClass: n.EdgeClass,
			Depth:     n.Depth,
			Parent:    n.Parent,
			Count:     n.Count,
			Terminal:  n.Terminal,
			Signature: n.Signature.FullString(),
			Instances: n.Instances.ToArray(),
			Support:   n.Support.ToArray(),
		})
	}
	return m
}

// Graph rebuilds the graph and checks its fingerprint.
func (m *GraphManifest) Graph() (*count.Graph, error) {
	nodes := make([]*count.Node, len(m.Nodes))
	for i, gn := range m.Nodes {
		sig, err := hex.DecodeString(gn.Signature)
		if err != nil || len(sig) != len(count.Hash{}) {
			return nil, seqerr.New(seqerr.CodeReadFailed, "bad node signature").WithContext("node", gn.ID)
		}
		n := &count.Node{
			ID:        gn.ID,
			Label:     gn.Label,
			Class:     gn.Class,
			EdgeClass: gn.EdgeClass,
			Depth:     gn.Depth,
			Parent:    gn.Parent,
			Count:     gn.Count,
			Terminal:  gn.Terminal,
			Instances: roaring.BitmapOf(gn.Instances...),
			Support:   roaring.BitmapOf(gn.Support...),
		}
		copy(n.Signature[:], sig)
		nodes[i] = n
	}
	g, err := count.FromNodes(nodes)
	if err != nil {
		return nil, err
	}
	if fp := g.Fingerprint().FullString(); m.Fingerprint != "" && fp != m.Fingerprint {
		return nil, seqerr.New(seqerr.CodeReadFailed, "graph fingerprint mismatch").
			WithContext("want", m.Fingerprint).
			WithContext("got", fp)
	}
	return g, nil
}

// WriteGraph writes g as a gzip-compressed manifest.
func WriteGraph(w io.Writer, g *count.Graph) error {
	return writeCompressed(w, ToGraphManifest(g))
}

// ReadGraph reads a graph written by WriteGraph.
func ReadGraph(r io.Reader) (*count.Graph, error) {
	var m GraphManifest
	if err := readCompressed(r, &m); err != nil {
		return nil, err
	}
	if m.Kind != "pattern-types" {
		return nil, seqerr.New(seqerr.CodeReadFailed, "manifest is not a pattern-type graph").WithContext("kind", m.Kind)
	}
	return m.Graph()
}

// MarshalGraph returns the compressed manifest bytes of g.
func MarshalGraph(g *count.Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteGraph(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
