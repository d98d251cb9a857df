// Package ir holds the typed, lowered form of a program. It is structurally
// parallel to the AST but flattened for code generation: every variable
// reference has already been resolved and every call target checked, so the
// backends trust it without re-validation.
package ir

import (
	"github.com/spongelang/sponge/pkg/ast"
)

type Program struct {
	Functions []Function
}

type Parameter struct {
	Name string
	Type ast.Type
}

type Function struct {
	Name       string
	Parameters []Parameter
	ReturnType ast.Type
	Body       []Instr
}

// Instr is one lowered statement.
type Instr interface {
	isInstr()
}

type StoreVar struct {
	Name  string
	Value Expr
}

type Return struct {
	Value Expr
}

type If struct {
	Condition Expr
	Then      []Instr
	Else      []Instr
}

// Println is the lowered builtin output statement. Newline distinguishes
// `println` from `print`.
type Println struct {
	Value   Expr
	Newline bool
}

// CallFunc is a statement-position call whose result is discarded.
type CallFunc struct {
	Name      string
	Arguments []Expr
}

func (*StoreVar) isInstr() {}
func (*Return) isInstr()   {}
func (*If) isInstr()       {}
func (*Println) isInstr()  {}
func (*CallFunc) isInstr() {}

type Expr interface {
	isExpr()
	Type() ast.Type
}

type Int struct {
	Value int64
}

type Str struct {
	Value string
}

type Var struct {
	Name string
	Typ  ast.Type
}

type Binary struct {
	Left     Expr
	Operator string
	Right    Expr
	Typ      ast.Type
}

type Call struct {
	Name      string
	Arguments []Expr
	Typ       ast.Type
}

func (*Int) isExpr()    {}
func (*Str) isExpr()    {}
func (*Var) isExpr()    {}
func (*Binary) isExpr() {}
func (*Call) isExpr()   {}

func (*Int) Type() ast.Type {
	return ast.Int
}

func (*Str) Type() ast.Type {
	return ast.String
}

func (v *Var) Type() ast.Type {
	return v.Typ
}

func (b *Binary) Type() ast.Type {
	return b.Typ
}

func (c *Call) Type() ast.Type {
	return c.Typ
}
