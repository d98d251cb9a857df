package parser

import (
	"fmt"
	"strconv"

	"github.com/spongelang/sponge/pkg/ast"
	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/token"
)

type Parser struct {
	source  string
	tokens  []token.Token
	current int
}

func (p *Parser) parseError(t token.Token, message string) {
	diag.Bail(diag.New(diag.Parse, p.source, t.Pos, message))
}

func (p *Parser) peek(distance int) token.Token {
	return p.tokens[p.current+distance]
}

func (p *Parser) expect(typ token.TokenType, message string) token.Token {
	if p.peek(0).Type != typ {
		p.parseError(p.peek(0), message)
	}

	p.current++
	return p.peek(-1)
}

func (p *Parser) parseType() ast.Type {
	t := p.peek(0)
	if !t.Type.IsType() {
		p.parseError(t, fmt.Sprintf("Expected type, found '%s' instead.", t.Lexeme))
	}

	p.current++
	if t.Type == token.INT_TYPE {
		return ast.Int
	}
	return ast.String
}

func (p *Parser) parseFunction() ast.Function {
	p.expect(token.FUNC, "Expect `func` at top level.")
	name := p.expect(token.IDENTIFIER, "Expect function name.")
	p.expect(token.LEFT_PAREN, "Expect `(` after function name.")

	parameters := []ast.Parameter{}
	if p.peek(0).Type != token.RIGHT_PAREN {
		for {
			paramName := p.expect(token.IDENTIFIER, "Expect name for function parameter.")
			p.expect(token.COLON, "Expect `:` after parameter name.")
			paramType := p.parseType()
			parameters = append(parameters, ast.Parameter{
				Identifier: paramName,
				Type:       paramType,
			})

			if p.peek(0).Type != token.COMMA {
				break
			} else {
				p.current++ // skip the comma
			}
		}
	}
	p.expect(token.RIGHT_PAREN, "Missing closing `)` after parameter list.")

	p.expect(token.COLON, "Expect `:` before return type.")
	returnType := p.parseType()

	body := p.parseBlock()

	return ast.Function{
		Identifier: name,
		Parameters: parameters,
		ReturnType: returnType,
		Body:       body,
	}
}

func (p *Parser) parseBlock() []ast.Statement {
	p.expect(token.LEFT_BRACE, "Expect `{` to open block.")
	statements := []ast.Statement{}
	for p.peek(0).Type != token.RIGHT_BRACE {
		if p.peek(0).Type == token.EOF {
			p.parseError(p.peek(0), "Unclosed block.")
		}
		statements = append(statements, p.parseStatement())
	}
	p.current++ // skip the `}`
	return statements
}

func (p *Parser) parseStatement() ast.Statement {
	t := p.peek(0)

	if t.Type == token.LET {
		p.current++
		name := p.expect(token.IDENTIFIER, "Expect identifier after `let`.")
		p.expect(token.COLON, "Expect `:` and type annotation after `let` name.")
		typ := p.parseType()
		p.expect(token.EQUAL, "Expect `=` after `let` type annotation.")
		value := p.parseExpression()
		p.expect(token.SEMICOLON, "Expect `;` after variable declaration.")
		return &ast.LetStatement{
			Identifier: name,
			Type:       typ,
			Value:      value,
		}
	} else if t.Type == token.RETURN {
		p.current++
		expr := p.parseExpression()
		p.expect(token.SEMICOLON, "Expect `;` after return statement.")
		return &ast.ReturnStatement{
			Expression:  expr,
			ReturnToken: t,
		}
	} else if t.Type == token.IF {
		p.current++
		condition := p.parseExpression()
		thenBlock := p.parseBlock()
		p.expect(token.ELSE, "Expect `else` after `if` block.")
		elseBlock := p.parseBlock()
		return &ast.IfStatement{
			IfToken:   t,
			Condition: condition,
			ThenBlock: thenBlock,
			ElseBlock: elseBlock,
		}
	}

	expr := p.parseExpression()
	p.expect(token.SEMICOLON, "Expect `;` after expression statement.")
	return &ast.ExpressionStatement{
		Expression: expr,
	}
}

// parseExpression is a single flat left-associative loop: every binary
// operator binds at the same level, so `1 + 2 * 3` is `(1 + 2) * 3`. This is
// a property of the language, not a missing precedence table.
func (p *Parser) parseExpression() ast.Expression {
	lhs := p.parsePrimary()

	for p.peek(0).Type.IsBinaryOperator() {
		op := p.peek(0)
		p.current++
		rhs := p.parsePrimary()
		lhs = &ast.BinaryExpression{Left: lhs, Operator: op, Right: rhs}
	}

	return lhs
}

func (p *Parser) parsePrimary() ast.Expression {
	t := p.peek(0)

	switch t.Type {
	case token.INT:
		p.current++
		value, err := strconv.ParseInt(t.Lexeme, 10, 64)
		if err != nil {
			p.parseError(t, fmt.Sprintf("Invalid integer literal '%s'.", t.Lexeme))
		}
		return &ast.IntLiteral{Token: t, Value: value}
	case token.STRING:
		p.current++
		return &ast.StringLiteral{Token: t, Value: t.Lexeme}
	case token.IDENTIFIER:
		p.current++
		if p.peek(0).Type == token.LEFT_PAREN {
			leftParen := p.peek(0)
			p.current++

			arguments := []ast.Expression{}
			if p.peek(0).Type != token.RIGHT_PAREN {
				for {
					arguments = append(arguments, p.parseExpression())

					if p.peek(0).Type != token.COMMA {
						break
					} else {
						p.current++ // skip the comma
					}
				}
			}
			p.expect(token.RIGHT_PAREN, "Missing closing parenthesis in function call.")

			return &ast.CallExpression{
				Callee:         t,
				Arguments:      arguments,
				LeftParenToken: leftParen,
			}
		}

		return &ast.VariableExpression{Identifier: t}
	case token.LEFT_PAREN:
		p.current++
		expr := p.parseExpression()
		p.expect(token.RIGHT_PAREN, "Unclosed grouping expression.")
		return expr
	}

	p.parseError(t, "Expected expression.")
	return nil
}

// Parse consumes the token sequence into a Program. The first structural
// mismatch aborts the parse; there is no recovery and no partial AST.
func Parse(source string, tokens []token.Token) (program *ast.Program, err error) {
	defer diag.Recover(&err)

	p := Parser{source: source, tokens: tokens}

	functions := []ast.Function{}
	for p.peek(0).Type != token.EOF {
		functions = append(functions, p.parseFunction())
	}

	return &ast.Program{Functions: functions}, nil
}
