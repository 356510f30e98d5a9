package mathsandbox

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
)

// poly is a multivariate polynomial with exact rational coefficients, keyed
// by canonical monomial ("" is the constant term, "x:2|y:1" is x**2*y).
type poly map[string]*big.Rat

func constant(r *big.Rat) poly {
	p := poly{}
	if r.Sign() != 0 {
		p[""] = new(big.Rat).Set(r)
	}
	return p
}

func variable(name string) poly {
	return poly{name + ":1": big.NewRat(1, 1)}
}

func (p poly) isConstant() (*big.Rat, bool) {
	switch len(p) {
	case 0:
		return new(big.Rat), true
	case 1:
		if c, ok := p[""]; ok {
			return c, true
		}
	}
	return nil, false
}

func (p poly) addTerm(key string, c *big.Rat) {
	if cur, ok := p[key]; ok {
		cur.Add(cur, c)
		if cur.Sign() == 0 {
			delete(p, key)
		}
		return
	}
	if c.Sign() != 0 {
		p[key] = new(big.Rat).Set(c)
	}
}

func add(a, b poly, sign int) poly {
	out := poly{}
	for k, c := range a {
		out.addTerm(k, c)
	}
	for k, c := range b {
		if sign < 0 {
			out.addTerm(k, new(big.Rat).Neg(c))
		} else {
			out.addTerm(k, c)
		}
	}
	return out
}

func scale(p poly, r *big.Rat) poly {
	out := poly{}
	for k, c := range p {
		out.addTerm(k, new(big.Rat).Mul(c, r))
	}
	return out
}

type evaluator struct {
	ctx    context.Context
	limits Limits
	steps  int
}

func (e *evaluator) tick() error {
	e.steps++
	if e.steps%256 == 0 {
		return e.ctx.Err()
	}
	return nil
}

func (e *evaluator) mul(a, b poly) (poly, error) {
	out := poly{}
	for ka, ca := range a {
		for kb, cb := range b {
			if err := e.tick(); err != nil {
				return nil, err
			}
			out.addTerm(mulKeys(ka, kb), new(big.Rat).Mul(ca, cb))
		}
		if len(out) > e.limits.MaxTerms {
			return nil, fmt.Errorf("%w: more than %d terms", ErrTooComplex, e.limits.MaxTerms)
		}
	}
	if err := e.bounded(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *evaluator) bounded(p poly) error {
	for _, c := range p {
		if c.Num().BitLen() > e.limits.MaxBits || c.Denom().BitLen() > e.limits.MaxBits {
			return fmt.Errorf("%w: coefficient wider than %d bits", ErrTooComplex, e.limits.MaxBits)
		}
	}
	return nil
}

func (e *evaluator) pow(base poly, exp poly) (poly, error) {
	r, ok := exp.isConstant()
	if !ok || !r.IsInt() {
		return nil, fmt.Errorf("%w: exponent must be an integer constant", ErrUnsupported)
	}
	if !r.Num().IsInt64() || abs64(r.Num().Int64()) > int64(e.limits.MaxExponent) {
		return nil, fmt.Errorf("%w: exponent larger than %d", ErrTooComplex, e.limits.MaxExponent)
	}
	n := int(r.Num().Int64())

	if n < 0 {
		c, ok := base.isConstant()
		if !ok {
			return nil, fmt.Errorf("%w: negative exponent of non-constant", ErrUnsupported)
		}
		if c.Sign() == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrUnsupported)
		}
		inv := new(big.Rat).Inv(c)
		return e.pow(constant(inv), constant(big.NewRat(int64(-n), 1)))
	}

	result := constant(big.NewRat(1, 1))
	for range n {
		if err := e.ctx.Err(); err != nil {
			return nil, err
		}
		next, err := e.mul(result, base)
		if err != nil {
			return nil, err
		}
		result = next
	}
	return result, nil
}

func (e *evaluator) eval(node ast.Node) (poly, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *ast.IntegerNode:
		return constant(big.NewRat(int64(n.Value), 1)), nil
	case *ast.FloatNode:
		r, ok := new(big.Rat).SetString(strconv.FormatFloat(n.Value, 'g', -1, 64))
		if !ok {
			return nil, fmt.Errorf("%w: number %v", ErrUnsupported, n.Value)
		}
		return constant(r), nil
	case *ast.IdentifierNode:
		return variable(n.Value), nil
	case *ast.UnaryNode:
		inner, err := e.eval(n.Node)
		if err != nil {
			return nil, err
		}
		if n.Operator == "-" {
			return scale(inner, big.NewRat(-1, 1)), nil
		}
		return inner, nil
	case *ast.BinaryNode:
		return e.binary(n)
	case *ast.CallNode:
		// simplify and expand both reduce to the canonical expanded form.
		return e.eval(n.Arguments[0])
	default:
		return nil, fmt.Errorf("%w: %T", ErrDisallowed, n)
	}
}

func (e *evaluator) binary(n *ast.BinaryNode) (poly, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "+":
		return add(left, right, 1), nil
	case "-":
		return add(left, right, -1), nil
	case "*":
		return e.mul(left, right)
	case "/":
		c, ok := right.isConstant()
		if !ok {
			return nil, fmt.Errorf("%w: division by a non-constant expression", ErrUnsupported)
		}
		if c.Sign() == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrUnsupported)
		}
		return scale(left, new(big.Rat).Inv(c)), nil
	case "**", "^":
		return e.pow(left, right)
	default:
		return nil, fmt.Errorf("%w: operator %q", ErrUnsupported, n.Operator)
	}
}

func decodeKey(key string) map[string]int {
	out := map[string]int{}
	if key == "" {
		return out
	}
	for _, part := range strings.Split(key, "|") {
		name, exp, _ := strings.Cut(part, ":")
		n, _ := strconv.Atoi(exp)
		out[name] += n
	}
	return out
}

func encodeKey(vars map[string]int) string {
	names := make([]string, 0, len(vars))
	for name, exp := range vars {
		if exp != 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + strconv.Itoa(vars[name])
	}
	return strings.Join(parts, "|")
}

func mulKeys(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	vars := decodeKey(a)
	for name, exp := range decodeKey(b) {
		vars[name] += exp
	}
	return encodeKey(vars)
}

func degree(key string) int {
	total := 0
	for _, exp := range decodeKey(key) {
		total += exp
	}
	return total
}

// String renders p in a stable, sympy-like canonical form: terms by
// descending total degree, then lexicographically; "0" for the zero
// polynomial.
func (p poly) String() string {
	if len(p) == 0 {
		return "0"
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if da, db := degree(a), degree(b); da != db {
			return db - da
		}
		return strings.Compare(a, b)
	})

	var sb strings.Builder
	for i, k := range keys {
		c := p[k]
		negative := c.Sign() < 0
		mag := new(big.Rat).Abs(c)

		switch {
		case i == 0 && negative:
			sb.WriteString("-")
		case i > 0 && negative:
			sb.WriteString(" - ")
		case i > 0:
			sb.WriteString(" + ")
		}
		sb.WriteString(formatTerm(mag, k))
	}
	return sb.String()
}

func formatTerm(mag *big.Rat, key string) string {
	coef := mag.RatString()
	if key == "" {
		return coef
	}

	vars := decodeKey(key)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	factors := make([]string, len(names))
	for i, name := range names {
		if exp := vars[name]; exp == 1 {
			factors[i] = name
		} else {
			factors[i] = name + "**" + strconv.Itoa(exp)
		}
	}
	mono := strings.Join(factors, "*")

	if coef == "1" {
		return mono
	}
	return coef + "*" + mono
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
