package cellgraph

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// gexf mirrors the 1.2draft schema closely enough for Gephi to open the
// output directly.
type gexfDoc struct {
	XMLName xml.Name  `xml:"gexf"`
	XMLNS   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Graph   gexfGraph `xml:"graph"`
}

type gexfGraph struct {
	EdgeType   string         `xml:"defaultedgetype,attr"`
	Mode       string         `xml:"mode,attr"`
	Attributes gexfAttributes `xml:"attributes"`
	Nodes      []gexfNode     `xml:"nodes>node"`
	Edges      []gexfEdge     `xml:"edges>edge"`
}

type gexfAttributes struct {
	Class string          `xml:"class,attr"`
	Attrs []gexfAttribute `xml:"attribute"`
}

type gexfAttribute struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type gexfNode struct {
	ID        string          `xml:"id,attr"`
	Label     string          `xml:"label,attr"`
	AttValues []gexfAttValue `xml:"attvalues>attvalue"`
}

type gexfAttValue struct {
	For   string `xml:"for,attr"`
	Value string `xml:"value,attr"`
}

type gexfEdge struct {
	ID     int    `xml:"id,attr"`
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

// ExportGEXF writes the dependency graph as GEXF XML. Edges point from
// precedent to dependent, the direction values flow.
func (s *Session) ExportGEXF(w io.Writer) error {
	doc := gexfDoc{
		XMLNS:   "http://www.gexf.net/1.2draft",
		Version: "1.2",
		Graph: gexfGraph{
			EdgeType: "directed",
			Mode:     "static",
			Attributes: gexfAttributes{
				Class: "node",
				Attrs: []gexfAttribute{
					{ID: "0", Title: "kind", Type: "string"},
					{ID: "1", Title: "formula", Type: "string"},
					{ID: "2", Title: "value", Type: "string"},
				},
			},
		},
	}

	edgeID := 0
	for _, rec := range s.Nodes() {
		node := gexfNode{
			ID:    rec.Address,
			Label: rec.Address,
			AttValues: []gexfAttValue{
				{For: "0", Value: rec.Kind},
				{For: "1", Value: rec.Formula},
				{For: "2", Value: fmt.Sprint(rec.Value)},
			},
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
		for _, p := range rec.Precedents {
			doc.Graph.Edges = append(doc.Graph.Edges, gexfEdge{
				ID: edgeID, Source: p, Target: rec.Address,
			})
			edgeID++
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding gexf: %w", err)
	}
	return enc.Close()
}

// ExportDOT writes the dependency graph in Graphviz DOT form. Formula nodes
// show their formula under the address, constants show their value.
func (s *Session) ExportDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph cellgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	for _, rec := range s.Nodes() {
		label := rec.Address
		if rec.Formula != "" {
			label += "\n=" + rec.Formula
		} else if rec.Value != nil {
			label += "\n" + fmt.Sprint(rec.Value)
		}
		fmt.Fprintf(&b, "  %s [label=%s];\n", dotQuote(rec.Address), dotQuote(label))
		for _, p := range rec.Precedents {
			fmt.Fprintf(&b, "  %s -> %s;\n", dotQuote(p), dotQuote(rec.Address))
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}
