package cellgraph

import (
	"math"
)

// evaluation drives one Resolve call. Resolution is an explicit work list,
// never native call-stack recursion, so chain depth is bounded by heap rather
// than goroutine stack. The in-progress path doubles as the cycle detector.
type evaluation struct {
	session *Session

	path   []string       // in-progress resolution chain
	onPath map[string]int // key -> index into path

	cycleOrder []string // cycle members in evaluation-completion order
	cycleSet   map[string]struct{}
}

type evalFrame struct {
	key      string
	expanded bool
}

// run resolves key and every uncached precedent beneath it. Precedents are
// always evaluated before the node that reads them: the work list performs a
// reverse topological walk without ever computing a global sort.
func (ev *evaluation) run(rootKey string) error {
	s := ev.session
	if ev.onPath == nil {
		ev.onPath = make(map[string]int)
	}

	stack := []evalFrame{{key: rootKey}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		n, err := s.ensureNode(f.key)
		if err != nil {
			return err
		}

		if f.expanded {
			// every precedent now has a value (resolved or seeded)
			ev.evalNode(n)
			ev.path = ev.path[:len(ev.path)-1]
			delete(ev.onPath, f.key)
			stack = stack[:len(stack)-1]
			continue
		}

		if !n.needsEval() {
			stack = stack[:len(stack)-1]
			continue
		}

		f.expanded = true
		ev.onPath[f.key] = len(ev.path)
		ev.path = append(ev.path, f.key)

		for _, p := range n.precedents {
			pn, err := s.ensureNode(p)
			if err != nil {
				return err
			}
			if !pn.needsEval() {
				continue
			}
			if at, inProgress := ev.onPath[p]; inProgress {
				if err := ev.enterCycle(ev.path[at:]); err != nil {
					return err
				}
				continue
			}
			stack = append(stack, evalFrame{key: p})
		}
	}
	return nil
}

// enterCycle handles re-entry into an in-progress node. With iterative
// solving disabled this is fatal; otherwise every member on the cycle is
// seeded so the first pass can complete, and the fixed-point loop in
// settleCycles takes over.
func (ev *evaluation) enterCycle(members []string) error {
	s := ev.session
	if !s.cycles {
		cycle := append(append([]string(nil), members...), members[0])
		return &CircularReferenceError{Members: cycle}
	}
	if ev.cycleSet == nil {
		ev.cycleSet = make(map[string]struct{})
	}
	for _, m := range members {
		if _, known := ev.cycleSet[m]; known {
			continue
		}
		ev.cycleSet[m] = struct{}{}
		n, _ := s.store.get(m)
		if !n.resolved {
			n.value = float64(0) // no prior value to start from
		}
		n.resolved = true
		n.cycleSeeded = true
		s.log.Debug("seeded cycle member", "address", m)
	}
	return nil
}

// evalNode computes a node's value from its compiled expression and caches
// it, clearing the dirty flag.
func (ev *evaluation) evalNode(n *node) {
	s := ev.session
	switch n.kind {
	case KindFormula:
		if n.parseErr != nil {
			n.value = NewErrorValue(ErrorValuE, n.parseErr.Error())
		} else {
			n.value = n.expr.eval(s)
		}
	case KindRange:
		n.value = ev.materializeRange(n)
	}
	n.resolved = true
	n.dirty = false
	if _, inCycle := ev.cycleSet[n.key]; inCycle && n.cycleSeeded {
		n.cycleSeeded = false
		ev.cycleOrder = append(ev.cycleOrder, n.key)
	}
}

// materializeRange collects constituent cell values row-major, one row slice
// per row with areas concatenated. This is the lazy expansion point for
// whole-range arguments.
func (ev *evaluation) materializeRange(n *node) [][]Value {
	s := ev.session
	var rows [][]Value
	for _, area := range n.areas {
		for row := area.Start.Row; row <= area.End.Row; row++ {
			vals := make([]Value, 0, area.Cols())
			for col := area.Start.Col; col <= area.End.Col; col++ {
				key := CellRef{Sheet: area.Start.Sheet, Row: row, Col: col}.String()
				vals = append(vals, s.precedentValue(key))
			}
			rows = append(rows, vals)
		}
	}
	return rows
}

// settleCycles runs the fixed-point loop over every cycle member discovered
// during the pass: each member is re-evaluated with the previous iteration's
// values feeding back in, until all deltas drop below tolerance or the
// iteration budget runs out. Returns a ConvergenceWarning in the latter case.
func (ev *evaluation) settleCycles(rootKey string) error {
	s := ev.session
	if len(ev.cycleOrder) == 0 {
		return nil
	}

	var warn error
	lastDelta := math.Inf(1)
	// the seeding pass was iteration 1
	for iter := 2; iter <= s.maxIterations; iter++ {
		maxDelta := 0.0
		for _, key := range ev.cycleOrder {
			n, _ := s.store.get(key)
			prev := n.value
			switch {
			case n.kind == KindFormula && n.expr != nil:
				n.value = n.expr.eval(s)
			case n.kind == KindRange:
				n.value = ev.materializeRange(n)
			default:
				continue
			}
			if d := valueDelta(prev, n.value); d > maxDelta {
				maxDelta = d
			}
		}
		lastDelta = maxDelta
		if maxDelta <= s.tolerance {
			s.log.Debug("iterative solving converged", "iterations", iter, "delta", maxDelta)
			lastDelta = 0
			break
		}
	}
	if lastDelta > s.tolerance {
		warn = &ConvergenceWarning{
			Iterations: s.maxIterations,
			Delta:      lastDelta,
			Tolerance:  s.tolerance,
		}
		s.log.Warn("iterative solving did not converge",
			"iterations", s.maxIterations, "delta", lastDelta, "tolerance", s.tolerance)
	}

	// nodes downstream of the cycle were computed from provisional values;
	// recompute them from the settled ones
	for dep := range s.store.descendants(ev.cycleOrder) {
		if _, member := ev.cycleSet[dep]; member {
			continue
		}
		if n, ok := s.store.get(dep); ok {
			n.dirty = true
		}
	}
	repass := &evaluation{session: s}
	if err := repass.run(rootKey); err != nil {
		return err
	}
	return warn
}

// valueDelta measures the per-iteration change of one cycle member. Numeric
// values compare by absolute difference; any other change counts as
// non-converged.
func valueDelta(old, new Value) float64 {
	on, ook := toNumber(old)
	nn, nok := toNumber(new)
	if ook && nok {
		return math.Abs(on - nn)
	}
	if toText(old) == toText(new) {
		return 0
	}
	return math.Inf(1)
}
