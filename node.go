package cellgraph

import (
	"sort"
	"strings"
)

// NodeKind discriminates the three graph node flavors.
type NodeKind int

const (
	// KindConstant holds a literal value and no precedents.
	KindConstant NodeKind = iota
	// KindFormula holds formula text, a compiled expression, and precedents.
	KindFormula
	// KindRange represents a range as the ordered collection of its
	// constituent cell nodes; its value is the collection of their values.
	KindRange
)

func (k NodeKind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindFormula:
		return "formula"
	case KindRange:
		return "range"
	}
	return "unknown"
}

// node is the unit of the graph. Nodes are created on first reference,
// compiled once, and keyed by the canonical address string.
type node struct {
	key   string
	kind  NodeKind
	addr  CellRef    // cell nodes
	areas MultiRange // range nodes

	formula    string // original formula text, formula nodes only
	expr       expression
	parseErr   error // FormulaSyntaxError, surfaced on resolve
	precedents []string

	value    Value
	resolved bool // value is populated
	dirty    bool // value needs recomputation before next read

	cycleSeeded bool // value is an iterative-solving seed, not a result
}

// needsEval reports whether resolving this node requires recomputation.
func (n *node) needsEval() bool {
	if n.kind == KindConstant {
		return false
	}
	return n.dirty || !n.resolved
}

// nodeStore is the address-keyed arena. Edges are stored as address sets so
// cycles are just aliasing of keys, never owned back-references.
type nodeStore struct {
	nodes      map[string]*node
	dependents map[string]map[string]struct{} // key -> keys of formulas reading it
}

func newNodeStore() *nodeStore {
	return &nodeStore{
		nodes:      make(map[string]*node),
		dependents: make(map[string]map[string]struct{}),
	}
}

func (s *nodeStore) get(key string) (*node, bool) {
	n, ok := s.nodes[key]
	return n, ok
}

func (s *nodeStore) put(n *node) {
	s.nodes[n.key] = n
	for _, p := range n.precedents {
		s.addEdge(n.key, p)
	}
}

// addEdge records that `from` reads `to`.
func (s *nodeStore) addEdge(from, to string) {
	deps, ok := s.dependents[to]
	if !ok {
		deps = make(map[string]struct{})
		s.dependents[to] = deps
	}
	deps[from] = struct{}{}
}

// severPrecedents cuts a node loose from everything it reads, turning it into
// a boundary: its former precedents no longer count it as a dependent.
func (s *nodeStore) severPrecedents(n *node) {
	for _, p := range n.precedents {
		if deps, ok := s.dependents[p]; ok {
			delete(deps, n.key)
			if len(deps) == 0 {
				delete(s.dependents, p)
			}
		}
	}
	n.precedents = nil
	n.expr = nil
}

// remove deletes a node and all edges touching it.
func (s *nodeStore) remove(key string) {
	n, ok := s.nodes[key]
	if !ok {
		return
	}
	s.severPrecedents(n)
	delete(s.dependents, key)
	delete(s.nodes, key)
}

// markDirty marks the node and every transitive dependent dirty. Propagation
// is an explicit work list; nothing is recomputed here.
func (s *nodeStore) markDirty(key string) {
	work := []string{key}
	seen := map[string]struct{}{key: {}}
	for len(work) > 0 {
		k := work[len(work)-1]
		work = work[:len(work)-1]
		if n, ok := s.nodes[k]; ok {
			n.dirty = true
		}
		for dep := range s.dependents[k] {
			if _, visited := seen[dep]; !visited {
				seen[dep] = struct{}{}
				work = append(work, dep)
			}
		}
	}
}

// descendants returns the transitive dependent closure of the given keys,
// excluding the keys themselves.
func (s *nodeStore) descendants(keys []string) map[string]struct{} {
	out := make(map[string]struct{})
	work := append([]string(nil), keys...)
	for len(work) > 0 {
		k := work[len(work)-1]
		work = work[:len(work)-1]
		for dep := range s.dependents[k] {
			if _, seen := out[dep]; !seen {
				out[dep] = struct{}{}
				work = append(work, dep)
			}
		}
	}
	return out
}

// sortedKeys returns all node keys in lexical order for deterministic
// iteration surfaces.
func (s *nodeStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseNodeKey interprets a canonical node key: a multi-area union when it
// contains commas, a range when it contains a colon, a cell otherwise.
func parseNodeKey(key string) (CellRef, MultiRange, bool, error) {
	if strings.Contains(key, ",") {
		areas, err := ParseMultiRange(key)
		return CellRef{}, areas, true, err
	}
	if strings.Contains(key, ":") {
		r, err := ParseRangeRef(key)
		if err != nil {
			return CellRef{}, nil, true, err
		}
		return CellRef{}, MultiRange{r}, true, nil
	}
	c, err := ParseCellRef(key)
	return c, nil, false, err
}
