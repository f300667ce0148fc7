package cellgraph

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// TreeEntry is one row of a value tree: a node visited during a pre-order
// walk of an address's precedents. Cycle is set when the walk re-enters a
// node already on the current path; the walk does not descend past it.
type TreeEntry struct {
	Address string
	Value   Value
	Depth   int
	Cycle   bool
}

type treeFrame struct {
	key   string
	depth int
	leave bool
}

// ValueTree resolves the address and returns a restartable pre-order walk
// over it and its transitive precedents. Precedents appear in first-reference
// order, matching the formula text.
func (s *Session) ValueTree(addr string) (iter.Seq[TreeEntry], error) {
	key, err := canonicalKey(addr)
	if err != nil {
		return nil, err
	}
	if _, err := s.Resolve(key); err != nil {
		var warn *ConvergenceWarning
		if !errors.As(err, &warn) {
			return nil, err
		}
	}

	walk := func(yield func(TreeEntry) bool) {
		onPath := make(map[string]struct{})
		stack := []treeFrame{{key: key, depth: 0}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.leave {
				delete(onPath, f.key)
				continue
			}
			n, ok := s.store.get(f.key)
			if !ok {
				continue
			}
			if _, cycle := onPath[f.key]; cycle {
				if !yield(TreeEntry{Address: f.key, Value: n.value, Depth: f.depth, Cycle: true}) {
					return
				}
				continue
			}
			if !yield(TreeEntry{Address: f.key, Value: n.value, Depth: f.depth}) {
				return
			}
			onPath[f.key] = struct{}{}
			stack = append(stack, treeFrame{key: f.key, leave: true})
			for i := len(n.precedents) - 1; i >= 0; i-- {
				stack = append(stack, treeFrame{key: n.precedents[i], depth: f.depth + 1})
			}
		}
	}
	return walk, nil
}

// ValueTreeString renders the value tree as indented text, one node per
// line, with re-entrant nodes marked.
func (s *Session) ValueTreeString(addr string) (string, error) {
	tree, err := s.ValueTree(addr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for entry := range tree {
		b.WriteString(strings.Repeat(" ", entry.Depth))
		fmt.Fprintf(&b, "%s = %v", entry.Address, exportValue(entry.Value))
		if entry.Cycle {
			b.WriteString(" <- cycle")
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
