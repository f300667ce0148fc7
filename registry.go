package cellgraph

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FunctionRegistry is the function-library collaborator. The evaluator
// resolves function names here at evaluation time, never at parse time, so
// unknown functions fail only when the cell that calls them is resolved.
type FunctionRegistry interface {
	// Invoke calls the named function. An unknown name fails with a
	// FunctionNotImplementedError; other failures become in-band #VALUE!.
	Invoke(name string, args []Value) (Value, error)
}

// Function is a registered spreadsheet function implementation.
type Function func(args []Value) (Value, error)

// Registry maps function names to implementations. New functions are added
// by registration, not subclassing; names are case-insensitive.
type Registry struct {
	funcs map[string]Function
}

// NewRegistry creates a registry preloaded with the built-in function set.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Function)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a function implementation.
func (r *Registry) Register(name string, fn Function) {
	r.funcs[strings.ToUpper(name)] = fn
}

// RegisterExpr registers a function whose body is an expr-lang expression
// over the variable `args` (the flattened argument list). Example:
//
//	r.RegisterExpr("DOUBLE", "args[0] * 2")
func (r *Registry) RegisterExpr(name, expression string) error {
	program, err := expr.Compile(expression, expr.Env(map[string]any{"args": []any{}}))
	if err != nil {
		return fmt.Errorf("compile %s body %q: %w", name, expression, err)
	}
	r.Register(name, exprFunction(program))
	return nil
}

func exprFunction(program *vm.Program) Function {
	return func(args []Value) (Value, error) {
		if ev, ok := errorIn(flatten(args)...); ok {
			return ev, nil
		}
		out, err := expr.Run(program, map[string]any{"args": flatten(args)})
		if err != nil {
			return nil, err
		}
		if i, ok := out.(int); ok {
			return float64(i), nil
		}
		return out, nil
	}
}

// Invoke implements FunctionRegistry.
func (r *Registry) Invoke(name string, args []Value) (Value, error) {
	fn, ok := r.funcs[strings.ToUpper(name)]
	if !ok {
		return nil, &FunctionNotImplementedError{Name: strings.ToUpper(name)}
	}
	return fn(args)
}

// --- built-ins ---

// numericArgs flattens range arguments and keeps the values a math function
// consumes: numbers and numeric-looking cells; text and empty cells are
// skipped the way SUM skips them. In-band errors short-circuit.
func numericArgs(args []Value) ([]float64, *ErrorValue) {
	var nums []float64
	for _, v := range flatten(args) {
		if ev, ok := v.(ErrorValue); ok {
			return nil, &ev
		}
		switch v.(type) {
		case nil, string:
			continue // blank and text cells are ignored by aggregates
		}
		if n, ok := toNumber(v); ok {
			nums = append(nums, n)
		}
	}
	return nums, nil
}

// strictNumber coerces one scalar argument, propagating in-band errors.
func strictNumber(v Value) (float64, Value) {
	if ev, ok := v.(ErrorValue); ok {
		return 0, ev
	}
	n, ok := toNumber(v)
	if !ok {
		return 0, NewErrorValue(ErrorValuE, fmt.Sprintf("%v is not numeric", v))
	}
	return n, nil
}

func registerBuiltins(r *Registry) {
	r.Register("SUM", func(args []Value) (Value, error) {
		nums, ev := numericArgs(args)
		if ev != nil {
			return *ev, nil
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})

	r.Register("AVERAGE", func(args []Value) (Value, error) {
		nums, ev := numericArgs(args)
		if ev != nil {
			return *ev, nil
		}
		if len(nums) == 0 {
			return NewErrorValue(ErrorDiv0, "AVERAGE of no numbers"), nil
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total / float64(len(nums)), nil
	})

	r.Register("MIN", func(args []Value) (Value, error) {
		nums, ev := numericArgs(args)
		if ev != nil {
			return *ev, nil
		}
		if len(nums) == 0 {
			return 0.0, nil
		}
		m := nums[0]
		for _, n := range nums[1:] {
			m = math.Min(m, n)
		}
		return m, nil
	})

	r.Register("MAX", func(args []Value) (Value, error) {
		nums, ev := numericArgs(args)
		if ev != nil {
			return *ev, nil
		}
		if len(nums) == 0 {
			return 0.0, nil
		}
		m := nums[0]
		for _, n := range nums[1:] {
			m = math.Max(m, n)
		}
		return m, nil
	})

	r.Register("COUNT", func(args []Value) (Value, error) {
		nums, ev := numericArgs(args)
		if ev != nil {
			return *ev, nil
		}
		return float64(len(nums)), nil
	})

	r.Register("COUNTA", func(args []Value) (Value, error) {
		count := 0
		for _, v := range flatten(args) {
			if v != nil {
				count++
			}
		}
		return float64(count), nil
	})

	r.Register("IF", func(args []Value) (Value, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("IF takes 2 or 3 arguments, got %d", len(args))
		}
		if ev, ok := errorIn(args[0]); ok {
			return ev, nil
		}
		cond, ok := toBool(args[0])
		if !ok {
			return NewErrorValue(ErrorValuE, "IF condition is not boolean"), nil
		}
		if cond {
			return args[1], nil
		}
		if len(args) == 3 {
			return args[2], nil
		}
		return false, nil
	})

	r.Register("AND", func(args []Value) (Value, error) {
		if ev, ok := errorIn(flatten(args)...); ok {
			return ev, nil
		}
		for _, v := range flatten(args) {
			b, ok := toBool(v)
			if !ok {
				return NewErrorValue(ErrorValuE, "AND argument is not boolean"), nil
			}
			if !b {
				return false, nil
			}
		}
		return true, nil
	})

	r.Register("OR", func(args []Value) (Value, error) {
		if ev, ok := errorIn(flatten(args)...); ok {
			return ev, nil
		}
		for _, v := range flatten(args) {
			b, ok := toBool(v)
			if !ok {
				return NewErrorValue(ErrorValuE, "OR argument is not boolean"), nil
			}
			if b {
				return true, nil
			}
		}
		return false, nil
	})

	r.Register("NOT", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("NOT takes 1 argument, got %d", len(args))
		}
		if ev, ok := errorIn(args[0]); ok {
			return ev, nil
		}
		b, ok := toBool(args[0])
		if !ok {
			return NewErrorValue(ErrorValuE, "NOT argument is not boolean"), nil
		}
		return !b, nil
	})

	r.Register("ABS", unaryMath("ABS", math.Abs))
	r.Register("SQRT", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("SQRT takes 1 argument, got %d", len(args))
		}
		n, ev := strictNumber(args[0])
		if ev != nil {
			return ev, nil
		}
		if n < 0 {
			return NewErrorValue(ErrorNum, "SQRT of negative number"), nil
		}
		return math.Sqrt(n), nil
	})
	r.Register("INT", unaryMath("INT", math.Floor))

	r.Register("ROUND", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("ROUND takes 2 arguments, got %d", len(args))
		}
		n, ev := strictNumber(args[0])
		if ev != nil {
			return ev, nil
		}
		digits, ev := strictNumber(args[1])
		if ev != nil {
			return ev, nil
		}
		scale := math.Pow(10, math.Trunc(digits))
		return math.Round(n*scale) / scale, nil
	})

	r.Register("POWER", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("POWER takes 2 arguments, got %d", len(args))
		}
		base, ev := strictNumber(args[0])
		if ev != nil {
			return ev, nil
		}
		exp, ev := strictNumber(args[1])
		if ev != nil {
			return ev, nil
		}
		res := math.Pow(base, exp)
		if math.IsNaN(res) || math.IsInf(res, 0) {
			return NewErrorValue(ErrorNum, "POWER result is not a number"), nil
		}
		return res, nil
	})

	r.Register("MOD", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("MOD takes 2 arguments, got %d", len(args))
		}
		n, ev := strictNumber(args[0])
		if ev != nil {
			return ev, nil
		}
		d, ev := strictNumber(args[1])
		if ev != nil {
			return ev, nil
		}
		if d == 0 {
			return NewErrorValue(ErrorDiv0, "MOD by zero"), nil
		}
		// Excel MOD follows the divisor's sign
		return n - d*math.Floor(n/d), nil
	})

	r.Register("CONCATENATE", func(args []Value) (Value, error) {
		if ev, ok := errorIn(flatten(args)...); ok {
			return ev, nil
		}
		var sb strings.Builder
		for _, v := range flatten(args) {
			sb.WriteString(toText(v))
		}
		return sb.String(), nil
	})

	r.Register("LEN", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("LEN takes 1 argument, got %d", len(args))
		}
		if ev, ok := errorIn(args[0]); ok {
			return ev, nil
		}
		return float64(len([]rune(toText(args[0])))), nil
	})

	r.Register("UPPER", unaryText("UPPER", strings.ToUpper))
	r.Register("LOWER", unaryText("LOWER", strings.ToLower))
	r.Register("TRIM", unaryText("TRIM", strings.TrimSpace))

	r.Register("PI", func(args []Value) (Value, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("PI takes no arguments")
		}
		return math.Pi, nil
	})

	r.Register("ISERROR", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("ISERROR takes 1 argument, got %d", len(args))
		}
		_, isErr := args[0].(ErrorValue)
		return isErr, nil
	})

	r.Register("IFERROR", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("IFERROR takes 2 arguments, got %d", len(args))
		}
		if _, isErr := args[0].(ErrorValue); isErr {
			return args[1], nil
		}
		return args[0], nil
	})
}

func unaryMath(name string, fn func(float64) float64) Function {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
		}
		n, ev := strictNumber(args[0])
		if ev != nil {
			return ev, nil
		}
		return fn(n), nil
	}
}

func unaryText(name string, fn func(string) string) Function {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
		}
		if ev, ok := errorIn(args[0]); ok {
			return ev, nil
		}
		return fn(toText(args[0])), nil
	}
}
