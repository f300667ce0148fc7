package cellgraph

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// Session owns one model: the graph node store, the source it is built from,
// the function registry handle, and the iterative-solving configuration.
// There is no process-wide state; concurrent use of one Session requires an
// external lock.
type Session struct {
	source   Source
	store    *nodeStore
	registry FunctionRegistry
	log      *slog.Logger

	cycles        bool
	maxIterations int
	tolerance     float64
}

// Option configures a Session.
type Option func(*Session)

// WithRegistry sets the function registry consulted at evaluation time.
func WithRegistry(r FunctionRegistry) Option {
	return func(s *Session) { s.registry = r }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithCycles enables iterative solving of circular references. Without it a
// cycle fails resolution with a CircularReferenceError.
func WithCycles(maxIterations int, tolerance float64) Option {
	return func(s *Session) {
		s.cycles = true
		s.maxIterations = maxIterations
		s.tolerance = tolerance
	}
}

// NewSession creates a Session over the given source. The graph starts empty
// and is built incrementally as addresses are resolved.
func NewSession(source Source, opts ...Option) *Session {
	s := &Session{
		source:   source,
		store:    newNodeStore(),
		registry: NewRegistry(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefinedName implements NameResolver against the source.
func (s *Session) DefinedName(name string) (MultiRange, bool) {
	if s.source == nil {
		return nil, false
	}
	return s.source.DefinedName(name)
}

// NamedFormula implements NameResolver against the source.
func (s *Session) NamedFormula(name string) (string, bool) {
	if s.source == nil {
		return "", false
	}
	return s.source.NamedFormula(name)
}

// Table implements NameResolver against the source.
func (s *Session) Table(name string) (RangeRef, bool) {
	if s.source == nil {
		return RangeRef{}, false
	}
	return s.source.Table(name)
}

// precedentValue implements valueEnv: by the time an expression runs, every
// precedent node has a value (resolved or cycle-seeded).
func (s *Session) precedentValue(key string) Value {
	n, ok := s.store.get(key)
	if !ok || !n.resolved {
		return NewErrorValue(ErrorRef, "unresolved precedent "+key)
	}
	return n.value
}

// invoke implements valueEnv against the registry.
func (s *Session) invoke(name string, args []Value) (Value, error) {
	return s.registry.Invoke(name, args)
}

// ensureNode creates the node for a key on first reference: a Constant for a
// literal source cell, a compiled Formula for a formula cell, a Range
// aggregate for a range key. An empty source cell becomes a nil-valued
// Constant.
func (s *Session) ensureNode(key string) (*node, error) {
	if n, ok := s.store.get(key); ok {
		return n, nil
	}

	addr, areas, isRange, err := parseNodeKey(key)
	if err != nil {
		return nil, err
	}

	if isRange {
		n := &node{key: key, kind: KindRange, areas: areas}
		for _, c := range areas.Cells() {
			n.precedents = append(n.precedents, c.String())
		}
		s.store.put(n)
		return n, nil
	}

	n := &node{key: key, kind: KindConstant, addr: addr}
	if s.source != nil {
		if src, ok := s.source.Cell(addr); ok {
			if src.IsFormula() {
				n.kind = KindFormula
				n.formula = src.Formula
				compiled, err := parseFormula(src.Formula, addr, s)
				if err != nil {
					// attached to the node; surfaces when it is resolved
					n.parseErr = err
				} else {
					n.expr = compiled.root
					n.precedents = compiled.precedents
				}
			} else {
				n.value = src.Value
				n.resolved = true
			}
		} else {
			n.resolved = true // empty cell
		}
	} else {
		n.resolved = true
	}
	s.store.put(n)
	return n, nil
}

// Resolve evaluates the address (cell or range) and returns its value,
// building graph nodes on demand and reusing cached values for clean nodes.
// A ConvergenceWarning is returned together with the best-effort value when
// iterative solving hits the iteration limit.
func (s *Session) Resolve(addr string) (Value, error) {
	key, err := canonicalKey(addr)
	if err != nil {
		return nil, err
	}

	ev := &evaluation{session: s}
	if err := ev.run(key); err != nil {
		return nil, err
	}
	warn := ev.settleCycles(key)

	n, _ := s.store.get(key)
	if n.parseErr != nil {
		return n.value, n.parseErr
	}
	return n.value, warn
}

// SetValue assigns a literal to a cell, overwriting any formula there; the
// node becomes a boundary Constant. Every transitive dependent is marked
// dirty; nothing is recomputed until the next Resolve.
func (s *Session) SetValue(addr string, v Value) error {
	key, err := canonicalKey(addr)
	if err != nil {
		return err
	}
	n, ok := s.store.get(key)
	if !ok {
		n, err = s.ensureNode(key)
		if err != nil {
			return err
		}
	}
	if n.kind == KindRange {
		return fmt.Errorf("cannot assign a value to range %s: assign its cells individually", key)
	}

	s.store.severPrecedents(n)
	n.kind = KindConstant
	n.formula = ""
	n.parseErr = nil
	n.value = v
	s.store.markDirty(key)
	n.dirty = false
	n.resolved = true
	return nil
}

// canonicalKey normalizes an address string to its node key. A 1x1 range
// collapses to its cell.
func canonicalKey(addr string) (string, error) {
	ref, areas, isRange, err := parseNodeKey(addr)
	if err != nil {
		return "", err
	}
	if !isRange {
		return ref.String(), nil
	}
	if len(areas) == 1 {
		if areas[0].IsCell() {
			return areas[0].Start.String(), nil
		}
		return areas[0].String(), nil
	}
	return areas.String(), nil
}

// NodeRecord is the iteration surface exposed to persistence and export
// collaborators: enough to reconstruct the store exactly.
type NodeRecord struct {
	Address    string   `json:"address" yaml:"address"`
	Kind       string   `json:"kind" yaml:"kind"`
	Formula    string   `json:"formula,omitempty" yaml:"formula,omitempty"`
	Value      Value    `json:"value,omitempty" yaml:"value,omitempty"`
	Resolved   bool     `json:"resolved,omitempty" yaml:"resolved,omitempty"`
	Precedents []string `json:"precedents,omitempty" yaml:"precedents,omitempty"`
}

// Nodes returns a record per node, sorted by address.
func (s *Session) Nodes() []NodeRecord {
	var out []NodeRecord
	for _, key := range s.store.sortedKeys() {
		n := s.store.nodes[key]
		out = append(out, NodeRecord{
			Address:    n.key,
			Kind:       n.kind.String(),
			Formula:    n.formula,
			Value:      exportValue(n.value),
			Resolved:   n.resolved && !n.dirty,
			Precedents: append([]string(nil), n.precedents...),
		})
	}
	return out
}

// Len returns the number of nodes currently in the store.
func (s *Session) Len() int { return len(s.store.nodes) }

// Precedents returns the direct precedent addresses of a node, or nil if the
// address has no node.
func (s *Session) Precedents(addr string) []string {
	key, err := canonicalKey(addr)
	if err != nil {
		return nil
	}
	n, ok := s.store.get(key)
	if !ok {
		return nil
	}
	return append([]string(nil), n.precedents...)
}

// Dependents returns the direct dependent addresses of a node.
func (s *Session) Dependents(addr string) []string {
	key, err := canonicalKey(addr)
	if err != nil {
		return nil
	}
	deps := s.store.dependents[key]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// exportValue converts in-band errors to their token strings so records
// round-trip through JSON/YAML.
func exportValue(v Value) Value {
	if ev, ok := v.(ErrorValue); ok {
		return ev.String()
	}
	return v
}
