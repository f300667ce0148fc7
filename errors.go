package cellgraph

import (
	"fmt"
	"strings"
)

// FormulaSyntaxError reports a malformed formula. It is attached to the node
// that holds the formula and surfaces only when that node is resolved, so
// other cells remain evaluable.
type FormulaSyntaxError struct {
	Formula string
	Token   string
	Pos     int
	Reason  string
}

func (e *FormulaSyntaxError) Error() string {
	return fmt.Sprintf("syntax error in formula %q at position %d near %q: %s",
		e.Formula, e.Pos, e.Token, e.Reason)
}

// CircularReferenceError reports a cycle encountered while iterative solving
// is disabled. Members lists the addresses on the cycle.
type CircularReferenceError struct {
	Members []string
}

func (e *CircularReferenceError) Error() string {
	return "circular reference: " + strings.Join(e.Members, " -> ")
}

// ConvergenceWarning is returned alongside a best-effort value when iterative
// solving hits the iteration limit before every cycle member settled within
// tolerance. Callers detect it with errors.As; the returned value is the last
// computed one and remains usable.
type ConvergenceWarning struct {
	Iterations int
	Delta      float64
	Tolerance  float64
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("did not converge after %d iterations: delta %g exceeds tolerance %g",
		e.Iterations, e.Delta, e.Tolerance)
}

// FunctionNotImplementedError names a function unknown to the registry. The
// evaluator converts it into a #NAME? value rather than failing the resolve.
type FunctionNotImplementedError struct {
	Name string
}

func (e *FunctionNotImplementedError) Error() string {
	return fmt.Sprintf("function %s is not implemented", e.Name)
}

// DisconnectedOutputError reports a Focus output address that has no node in
// the store. Fatal to the Focus call only.
type DisconnectedOutputError struct {
	Address string
}

func (e *DisconnectedOutputError) Error() string {
	return fmt.Sprintf("output %s is not part of the model", e.Address)
}

// UnreachableInputError reports a Focus input address that cannot be built
// from the source at all. Fatal to the Focus call only.
type UnreachableInputError struct {
	Address string
}

func (e *UnreachableInputError) Error() string {
	return fmt.Sprintf("input %s cannot be resolved from the source", e.Address)
}
