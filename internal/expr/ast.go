// Package expr implements the guard condition language used by job
// level if expressions. Expressions are parsed into a small typed AST
// at definition-load time so that malformed syntax is rejected before
// any job runs; evaluation happens later, at dispatch time, against a
// run context.
package expr

import "fmt"

// Node is a parsed guard expression node.
type Node interface {
	// eval returns the node's value for the given context. A reference
	// to a name the context does not know yields errUnknownRef.
	eval(ctx *Context) (value, error)
	String() string
}

// value is the evaluator's runtime value: a string or a bool.
type value struct {
	str     string
	boolean bool
	isBool  bool
}

func boolValue(b bool) value { return value{boolean: b, isBool: true} }
func strValue(s string) value { return value{str: s} }

// truthy mirrors the coercion rule for bare references in boolean
// position: bools as-is, strings true when non-empty.
func (v value) truthy() bool {
	if v.isBool {
		return v.boolean
	}
	return v.str != ""
}

func (v value) equal(other value) bool {
	if v.isBool || other.isBool {
		return v.truthy() == other.truthy()
	}
	return v.str == other.str
}

// LitNode is a quoted string or boolean literal.
type LitNode struct {
	val value
}

func (n *LitNode) eval(*Context) (value, error) { return n.val, nil }

func (n *LitNode) String() string {
	if n.val.isBool {
		return fmt.Sprintf("%t", n.val.boolean)
	}
	return fmt.Sprintf("'%s'", n.val.str)
}

// RefNode is a dotted context reference such as branch, event or
// needs.build.outputs.image_tag.
type RefNode struct {
	Path []string
}

func (n *RefNode) eval(ctx *Context) (value, error) {
	return ctx.resolve(n.Path)
}

func (n *RefNode) String() string {
	s := n.Path[0]
	for _, p := range n.Path[1:] {
		s += "." + p
	}
	return s
}

// CompareNode is an equality or inequality comparison.
type CompareNode struct {
	Op    string // "==" or "!="
	Left  Node
	Right Node
}

func (n *CompareNode) eval(ctx *Context) (value, error) {
	left, err := n.Left.eval(ctx)
	if err != nil {
		return value{}, err
	}
	right, err := n.Right.eval(ctx)
	if err != nil {
		return value{}, err
	}
	eq := left.equal(right)
	if n.Op == "!=" {
		eq = !eq
	}
	return boolValue(eq), nil
}

func (n *CompareNode) String() string {
	return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
}

// NotNode is logical negation.
type NotNode struct {
	Inner Node
}

func (n *NotNode) eval(ctx *Context) (value, error) {
	inner, err := n.Inner.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return boolValue(!inner.truthy()), nil
}

func (n *NotNode) String() string { return "!" + n.Inner.String() }

// LogicNode is conjunction or disjunction. Both operands short-circuit
// but reference errors on the evaluated side still fail the whole
// expression, keeping the fail-closed guarantee.
type LogicNode struct {
	Op    string // "&&" or "||"
	Left  Node
	Right Node
}

func (n *LogicNode) eval(ctx *Context) (value, error) {
	left, err := n.Left.eval(ctx)
	if err != nil {
		return value{}, err
	}
	if n.Op == "&&" && !left.truthy() {
		return boolValue(false), nil
	}
	if n.Op == "||" && left.truthy() {
		return boolValue(true), nil
	}
	right, err := n.Right.eval(ctx)
	if err != nil {
		return value{}, err
	}
	return boolValue(right.truthy()), nil
}

func (n *LogicNode) String() string {
	return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
}
