package mathsandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

var deniedTokens = []string{
	"import", "__", "exec", "eval", "open", "compile", "globals", "locals",
	"getattr", "setattr", "delattr", "lambda", "builtins", "subprocess",
	"system", "os.", "sys.", "file", "input", "\\", ";", "`", "$", "{", "}",
	"[", "]", "'", "\"", "=", "|", "&", "?", ":",
}

// Functions callable from an expression.
var allowedFunctions = map[string]struct{}{
	"simplify": {},
	"expand":   {},
}

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

func screen(expression string, maxLength int) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if len(expression) > maxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrDisallowed, maxLength)
	}

	lower := strings.ToLower(expression)
	for _, tok := range deniedTokens {
		if strings.Contains(lower, tok) {
			return fmt.Errorf("%w: %q", ErrDisallowed, tok)
		}
	}
	return nil
}

func parse(expression string) (ast.Node, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return tree.Node, nil
}

// checker rejects every node outside the arithmetic subset.
type checker struct {
	err error
}

func (c *checker) Visit(node *ast.Node) {
	if c.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode:
	case *ast.IdentifierNode:
		if !identPattern.MatchString(n.Value) {
			c.err = fmt.Errorf("%w: identifier %q", ErrDisallowed, n.Value)
		}
	case *ast.UnaryNode:
		if n.Operator != "-" && n.Operator != "+" {
			c.err = fmt.Errorf("%w: unary operator %q", ErrUnsupported, n.Operator)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "+", "-", "*", "/", "**", "^":
		default:
			c.err = fmt.Errorf("%w: operator %q", ErrUnsupported, n.Operator)
		}
	case *ast.CallNode:
		name, ok := calleeName(n)
		if !ok {
			c.err = fmt.Errorf("%w: indirect call", ErrDisallowed)
			return
		}
		if _, allowed := allowedFunctions[name]; !allowed {
			c.err = fmt.Errorf("%w: function %q", ErrDisallowed, name)
			return
		}
		if len(n.Arguments) != 1 {
			c.err = fmt.Errorf("%w: %s takes exactly one argument", ErrUnsupported, name)
		}
	default:
		c.err = fmt.Errorf("%w: %T", ErrDisallowed, n)
	}
}

func calleeName(n *ast.CallNode) (string, bool) {
	id, ok := n.Callee.(*ast.IdentifierNode)
	if !ok {
		return "", false
	}
	return id.Value, true
}

func validate(node ast.Node) error {
	c := &checker{}
	ast.Walk(&node, c)
	return c.err
}
