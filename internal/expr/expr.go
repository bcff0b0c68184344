// Package expr compiles small arithmetic expressions used by model files to
// describe derivation steps. Expressions use Go syntax via go/parser, so the
// grammar needs no hand-written lexer: identifiers are parameter ids, the
// binary operators are + - * / and ^ (exponentiation), and a few math
// functions are built in.
//
// go/parser assigns ^ the precedence of Go's bitwise xor, which is lower
// than * and /. Exponentiation must therefore stand alone or be
// parenthesized: `t ^ 2` and `0.5 * g * (t ^ 2)` compile, `0.5 * g * t ^ 2`
// does not.
package expr

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"sort"
	"strconv"
)

// Expr is a compiled expression ready for repeated evaluation.
type Expr struct {
	src  string
	root ast.Expr
	vars []string
}

type function struct {
	arity int
	apply func(args []float64) float64
}

var functions = map[string]function{
	"sqrt": {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"log":  {1, func(a []float64) float64 { return math.Log(a[0]) }},
	"exp":  {1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"abs":  {1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"pow":  {2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"min":  {2, func(a []float64) float64 { return math.Min(a[0], a[1]) }},
	"max":  {2, func(a []float64) float64 { return math.Max(a[0], a[1]) }},
}

// Compile parses src and validates that it only uses supported constructs.
func Compile(src string) (*Expr, error) {
	root, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", src, err)
	}
	seen := make(map[string]struct{})
	if err := check(root, seen); err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &Expr{src: src, root: root, vars: vars}, nil
}

// String returns the original source text.
func (e *Expr) String() string { return e.src }

// Vars returns the sorted identifiers the expression reads.
func (e *Expr) Vars() []string {
	return append([]string(nil), e.vars...)
}

// Eval computes the expression against the provided variable bindings.
// Every identifier collected at compile time must be bound.
func (e *Expr) Eval(vars map[string]float64) (float64, error) {
	return eval(e.root, vars)
}

func check(node ast.Expr, vars map[string]struct{}) error {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return fmt.Errorf("unsupported literal %s", n.Value)
		}
		return nil
	case *ast.Ident:
		vars[n.Name] = struct{}{}
		return nil
	case *ast.ParenExpr:
		return check(n.X, vars)
	case *ast.UnaryExpr:
		if n.Op != token.SUB && n.Op != token.ADD {
			return fmt.Errorf("unsupported unary operator %s", n.Op)
		}
		return check(n.X, vars)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.XOR:
			// ^ parses at xor precedence, so an unparenthesized operand
			// expression would regroup silently: 0.5*g*t^2 arrives here as
			// (0.5*g*t)^2. Operands must be atoms or parenthesized.
			if err := checkPowOperand(n.X, false); err != nil {
				return err
			}
			if err := checkPowOperand(n.Y, true); err != nil {
				return err
			}
		case token.ADD, token.SUB, token.MUL, token.QUO:
			if isPow(n.X) || isPow(n.Y) {
				return errAmbiguousPow
			}
		default:
			return fmt.Errorf("unsupported operator %s", n.Op)
		}
		if err := check(n.X, vars); err != nil {
			return err
		}
		return check(n.Y, vars)
	case *ast.CallExpr:
		ident, ok := n.Fun.(*ast.Ident)
		if !ok {
			return fmt.Errorf("unsupported call target")
		}
		fn, ok := functions[ident.Name]
		if !ok {
			return fmt.Errorf("unknown function %s", ident.Name)
		}
		if len(n.Args) != fn.arity {
			return fmt.Errorf("function %s takes %d arguments, got %d", ident.Name, fn.arity, len(n.Args))
		}
		for _, arg := range n.Args {
			if err := check(arg, vars); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported syntax %T", node)
	}
}

var errAmbiguousPow = fmt.Errorf("exponentiation must be parenthesized when combined with other operators")

// checkPowOperand admits only unambiguous exponentiation operands. A unary
// sign is allowed on the exponent (2^-k) but not on the base, where -a^2
// would read as (-a)^2.
func checkPowOperand(node ast.Expr, exponent bool) error {
	switch n := node.(type) {
	case *ast.BasicLit, *ast.Ident, *ast.ParenExpr, *ast.CallExpr:
		return nil
	case *ast.UnaryExpr:
		if exponent {
			return checkPowOperand(n.X, false)
		}
	}
	return errAmbiguousPow
}

func isPow(node ast.Expr) bool {
	b, ok := node.(*ast.BinaryExpr)
	return ok && b.Op == token.XOR
}

func eval(node ast.Expr, vars map[string]float64) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return strconv.ParseFloat(n.Value, 64)
	case *ast.Ident:
		v, ok := vars[n.Name]
		if !ok {
			return 0, fmt.Errorf("unbound variable %s", n.Name)
		}
		return v, nil
	case *ast.ParenExpr:
		return eval(n.X, vars)
	case *ast.UnaryExpr:
		v, err := eval(n.X, vars)
		if err != nil {
			return 0, err
		}
		if n.Op == token.SUB {
			return -v, nil
		}
		return v, nil
	case *ast.BinaryExpr:
		x, err := eval(n.X, vars)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y, vars)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		case token.XOR:
			// ^ is repurposed as exponentiation.
			return math.Pow(x, y), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	case *ast.CallExpr:
		ident := n.Fun.(*ast.Ident)
		fn := functions[ident.Name]
		args := make([]float64, len(n.Args))
		for i, arg := range n.Args {
			v, err := eval(arg, vars)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		return fn.apply(args), nil
	default:
		return 0, fmt.Errorf("unsupported syntax %T", node)
	}
}
