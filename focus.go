package cellgraph

import (
	"errors"
	"fmt"
)

// Focus extracts the minimal subgraph that computes the output addresses
// from the input addresses, in place:
//
//   - every output is resolved first, forcing full graph construction;
//   - declared inputs become boundary Constants; a "buried" input that is
//     itself a formula is cut loose from its own precedents and frozen at
//     its last resolved value;
//   - nodes on no input→output path are removed, and needed nodes whose
//     value cannot change under the declared inputs are folded to Constants.
//
// Re-resolving any output afterwards, for any assignment of the declared
// inputs, reproduces the full model's value within floating-point tolerance.
func (s *Session) Focus(inputs, outputs []string) error {
	if len(outputs) == 0 {
		return errors.New("focus requires at least one output address")
	}

	outputKeys, err := s.focusOutputs(outputs)
	if err != nil {
		return err
	}
	inputKeys, inputSet, err := s.focusInputs(inputs)
	if err != nil {
		return err
	}

	// forward closure: everything whose value can change under the inputs
	alive := s.store.descendants(inputKeys)
	for _, k := range inputKeys {
		alive[k] = struct{}{}
	}

	// backward walk from the outputs, stopping at inputs (a buried input's
	// upstream is about to be severed) and at fixed nodes (about to become
	// constants, so their precedents are no longer needed)
	needed := make(map[string]struct{})
	work := append([]string(nil), outputKeys...)
	for len(work) > 0 {
		k := work[len(work)-1]
		work = work[:len(work)-1]
		if _, seen := needed[k]; seen {
			continue
		}
		needed[k] = struct{}{}
		if _, isInput := inputSet[k]; isInput {
			continue
		}
		if _, changes := alive[k]; !changes {
			continue
		}
		n, ok := s.store.get(k)
		if !ok {
			continue
		}
		work = append(work, n.precedents...)
	}

	// constituents of a needed input range are needed through it
	for _, k := range inputKeys {
		if _, ok := needed[k]; !ok {
			continue
		}
		if n, ok := s.store.get(k); ok && n.kind == KindRange {
			for _, p := range n.precedents {
				needed[p] = struct{}{}
			}
		}
	}

	// unconnected inputs are kept as unused constants, not an error
	for _, k := range inputKeys {
		if _, ok := needed[k]; !ok {
			s.log.Warn("input is not connected to any output", "address", k)
			needed[k] = struct{}{}
		}
	}

	s.buryInputs(inputKeys)
	s.foldFixed(needed, alive, inputSet)

	removed := 0
	for _, key := range s.store.sortedKeys() {
		if _, keep := needed[key]; !keep {
			s.store.remove(key)
			removed++
		}
	}
	s.log.Info("focused model",
		"inputs", len(inputKeys), "outputs", len(outputKeys),
		"retained", len(s.store.nodes), "removed", removed)
	return nil
}

// focusOutputs resolves every output so the graph exists down to its true
// leaves, and verifies each output is actually part of the model.
func (s *Session) focusOutputs(outputs []string) ([]string, error) {
	keys := make([]string, 0, len(outputs))
	for _, out := range outputs {
		key, err := canonicalKey(out)
		if err != nil {
			return nil, fmt.Errorf("focus output %q: %w", out, err)
		}
		if _, err := s.Resolve(key); err != nil {
			var warn *ConvergenceWarning
			if !errors.As(err, &warn) {
				return nil, fmt.Errorf("focus output %s: %w", key, err)
			}
		}
		n, _ := s.store.get(key)
		if n.kind == KindConstant && !s.sourceHas(n.addr) {
			return nil, &DisconnectedOutputError{Address: key}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// focusInputs resolves the inputs (their last resolved values become the
// boundary constants) and expands range inputs into their constituent cells,
// so individual cells of an input range stay assignable after focusing.
func (s *Session) focusInputs(inputs []string) ([]string, map[string]struct{}, error) {
	var keys []string
	set := make(map[string]struct{})
	add := func(k string) {
		if _, ok := set[k]; !ok {
			set[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	for _, in := range inputs {
		key, err := canonicalKey(in)
		if err != nil {
			return nil, nil, &UnreachableInputError{Address: in}
		}
		if _, err := s.Resolve(key); err != nil {
			var warn *ConvergenceWarning
			if !errors.As(err, &warn) {
				return nil, nil, &UnreachableInputError{Address: key}
			}
		}
		add(key)
		n, _ := s.store.get(key)
		if n.kind == KindRange {
			for _, p := range n.precedents {
				add(p)
			}
		}
	}
	return keys, set, nil
}

// buryInputs turns every input node into a true boundary. A formula input is
// converted to a Constant holding its last resolved value and its former
// precedent edges are removed; recomputing outputs no longer depends on
// whatever fed it. Range inputs keep their constituent edges: the aggregate
// must still see per-cell assignments.
func (s *Session) buryInputs(inputKeys []string) {
	for _, key := range inputKeys {
		n, ok := s.store.get(key)
		if !ok || n.kind != KindFormula {
			continue
		}
		s.log.Debug("severing buried input", "address", key, "formula", n.formula)
		s.store.severPrecedents(n)
		n.kind = KindConstant
		n.formula = ""
		n.parseErr = nil
		n.dirty = false
		n.resolved = true
	}
}

// foldFixed converts needed Formula and Range nodes that no declared input
// can reach into Constants at their last resolved value: their value is fixed
// under the focusing contract, so the subgraph that computed them can go.
func (s *Session) foldFixed(needed, alive, inputSet map[string]struct{}) {
	for key := range needed {
		if _, isInput := inputSet[key]; isInput {
			continue
		}
		if _, changes := alive[key]; changes {
			continue
		}
		n, ok := s.store.get(key)
		if !ok || n.kind == KindConstant {
			continue
		}
		s.store.severPrecedents(n)
		n.kind = KindConstant
		n.formula = ""
		n.parseErr = nil
		n.dirty = false
		n.resolved = true
	}
}

// sourceHas reports whether the source holds content for the cell.
func (s *Session) sourceHas(ref CellRef) bool {
	if s.source == nil {
		return false
	}
	_, ok := s.source.Cell(ref)
	return ok
}
