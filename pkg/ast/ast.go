package ast

import (
	"github.com/spongelang/sponge/pkg/token"
)

// Type is the whole type universe: int and string. There is no boolean;
// conditions are ints and any non-zero value is truthy.
type Type int

const (
	Int Type = iota
	String
)

func (t Type) String() string {
	if t == Int {
		return "int"
	}
	return "string"
}

// Program is an ordered list of functions. Order is significant: it is the
// emission order, and the entry function is found by name, never by index.
type Program struct {
	Functions []Function
}

type Parameter struct {
	Identifier token.Token
	Type       Type
}

type Function struct {
	Identifier token.Token
	Parameters []Parameter
	ReturnType Type
	Body       []Statement
}

type Statement interface {
	isStatement()
}

type LetStatement struct {
	Identifier token.Token
	Type       Type
	Value      Expression
}

type ReturnStatement struct {
	Expression Expression

	ReturnToken token.Token
}

// IfStatement always has both branches; `else` is mandatory in the grammar.
type IfStatement struct {
	Condition Expression
	ThenBlock []Statement
	ElseBlock []Statement

	IfToken token.Token
}

type ExpressionStatement struct {
	Expression Expression
}

func (*LetStatement) isStatement()        {}
func (*ReturnStatement) isStatement()     {}
func (*IfStatement) isStatement()         {}
func (*ExpressionStatement) isStatement() {}

type Expression interface {
	isExpression()
	ErrorToken() token.Token
}

type IntLiteral struct {
	Token token.Token
	Value int64
}

type StringLiteral struct {
	Token token.Token
	Value string
}

type VariableExpression struct {
	Identifier token.Token
}

type BinaryExpression struct {
	Left     Expression
	Operator token.Token
	Right    Expression
}

type CallExpression struct {
	Callee    token.Token
	Arguments []Expression

	LeftParenToken token.Token
}

func (*IntLiteral) isExpression()         {}
func (*StringLiteral) isExpression()      {}
func (*VariableExpression) isExpression() {}
func (*BinaryExpression) isExpression()   {}
func (*CallExpression) isExpression()     {}

func (l *IntLiteral) ErrorToken() token.Token {
	return l.Token
}

func (l *StringLiteral) ErrorToken() token.Token {
	return l.Token
}

func (v *VariableExpression) ErrorToken() token.Token {
	return v.Identifier
}

func (b *BinaryExpression) ErrorToken() token.Token {
	return b.Operator
}

func (c *CallExpression) ErrorToken() token.Token {
	return c.Callee
}
