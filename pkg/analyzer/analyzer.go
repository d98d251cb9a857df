package analyzer

import (
	"fmt"

	"github.com/spongelang/sponge/pkg/ast"
	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/token"
)

// Builtins are resolved by the analyzer instead of the function table. They
// are only meaningful in statement position.
var Builtins = [...]string{"println", "print"}

func isBuiltin(name string) bool {
	for _, b := range Builtins {
		if b == name {
			return true
		}
	}
	return false
}

type Analyzer struct {
	source string

	// Whole-program function table, built before any body is lowered so
	// forward references across functions work.
	functions map[string]*ast.Function
}

func (a *Analyzer) analysisError(t token.Token, message string) {
	diag.Bail(diag.New(diag.Analysis, a.source, t.Pos, message))
}

// scope is a per-function flat symbol table. A `let` overwrites any earlier
// binding of the same name, and a name declared inside an `if` branch stays
// visible for the rest of the function. That matches the language as shipped;
// see DESIGN.md before "fixing" it.
type scope map[string]ast.Type

func (a *Analyzer) analyzeFunction(f *ast.Function) ir.Function {
	sc := scope{}

	params := make([]ir.Parameter, 0, len(f.Parameters))
	for _, p := range f.Parameters {
		sc[p.Identifier.Lexeme] = p.Type
		params = append(params, ir.Parameter{Name: p.Identifier.Lexeme, Type: p.Type})
	}

	var body []ir.Instr
	for _, stmt := range f.Body {
		body = append(body, a.analyzeStatement(stmt, sc, f)...)
	}

	return ir.Function{
		Name:       f.Identifier.Lexeme,
		Parameters: params,
		ReturnType: f.ReturnType,
		Body:       body,
	}
}

func (a *Analyzer) analyzeStatement(stmt ast.Statement, sc scope, f *ast.Function) []ir.Instr {
	switch s := stmt.(type) {
	case *ast.LetStatement:
		value := a.analyzeExpression(s.Value, sc)
		if value.Type() != s.Type {
			a.analysisError(s.Identifier, fmt.Sprintf(
				"'%s' is declared as `%s` but its initializer has type `%s`.",
				s.Identifier.Lexeme, s.Type, value.Type(),
			))
		}
		sc[s.Identifier.Lexeme] = s.Type
		return []ir.Instr{&ir.StoreVar{Name: s.Identifier.Lexeme, Value: value}}

	case *ast.ReturnStatement:
		value := a.analyzeExpression(s.Expression, sc)
		if value.Type() != f.ReturnType {
			a.analysisError(s.ReturnToken, fmt.Sprintf(
				"Function '%s' returns `%s` but the return expression has type `%s`.",
				f.Identifier.Lexeme, f.ReturnType, value.Type(),
			))
		}
		return []ir.Instr{&ir.Return{Value: value}}

	case *ast.IfStatement:
		condition := a.analyzeExpression(s.Condition, sc)
		if condition.Type() != ast.Int {
			a.analysisError(s.IfToken, fmt.Sprintf(
				"If condition must have type `int`, got `%s` instead.",
				condition.Type(),
			))
		}

		var thenInstrs []ir.Instr
		for _, inner := range s.ThenBlock {
			thenInstrs = append(thenInstrs, a.analyzeStatement(inner, sc, f)...)
		}

		var elseInstrs []ir.Instr
		for _, inner := range s.ElseBlock {
			elseInstrs = append(elseInstrs, a.analyzeStatement(inner, sc, f)...)
		}

		return []ir.Instr{&ir.If{Condition: condition, Then: thenInstrs, Else: elseInstrs}}

	case *ast.ExpressionStatement:
		if call, ok := s.Expression.(*ast.CallExpression); ok && isBuiltin(call.Callee.Lexeme) {
			return []ir.Instr{a.analyzeBuiltinCall(call, sc)}
		}

		value := a.analyzeExpression(s.Expression, sc)
		if call, ok := value.(*ir.Call); ok {
			// Statement-position call; the result is discarded.
			return []ir.Instr{&ir.CallFunc{Name: call.Name, Arguments: call.Arguments}}
		}

		// Any other expression statement is evaluated into a scratch slot.
		return []ir.Instr{&ir.StoreVar{Name: "_expr_tmp", Value: value}}
	}

	panic("Statement node has invalid static type.")
}

func (a *Analyzer) analyzeBuiltinCall(call *ast.CallExpression, sc scope) ir.Instr {
	if len(call.Arguments) != 1 {
		a.analysisError(call.LeftParenToken, fmt.Sprintf(
			"Builtin '%s' expects exactly 1 argument, got %d.",
			call.Callee.Lexeme, len(call.Arguments),
		))
	}

	value := a.analyzeExpression(call.Arguments[0], sc)
	if value.Type() != ast.String {
		a.analysisError(call.LeftParenToken, fmt.Sprintf(
			"Builtin '%s' expects a `string` argument, got `%s`.",
			call.Callee.Lexeme, value.Type(),
		))
	}

	return &ir.Println{Value: value, Newline: call.Callee.Lexeme == "println"}
}

func (a *Analyzer) analyzeExpression(expr ast.Expression, sc scope) ir.Expr {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		return &ir.Int{Value: e.Value}

	case *ast.StringLiteral:
		return &ir.Str{Value: e.Value}

	case *ast.VariableExpression:
		typ, ok := sc[e.Identifier.Lexeme]
		if !ok {
			a.analysisError(e.Identifier, fmt.Sprintf(
				"Undefined variable '%s'.", e.Identifier.Lexeme,
			))
		}
		return &ir.Var{Name: e.Identifier.Lexeme, Typ: typ}

	case *ast.BinaryExpression:
		left := a.analyzeExpression(e.Left, sc)
		right := a.analyzeExpression(e.Right, sc)

		// The single non-int rule: `+` over two strings concatenates.
		if e.Operator.Type == token.PLUS && left.Type() == ast.String && right.Type() == ast.String {
			return &ir.Binary{Left: left, Operator: e.Operator.Lexeme, Right: right, Typ: ast.String}
		}

		if left.Type() != ast.Int || right.Type() != ast.Int {
			a.analysisError(e.Operator, fmt.Sprintf(
				"Operator '%s' requires `int` operands, got `%s` and `%s`.",
				e.Operator.Lexeme, left.Type(), right.Type(),
			))
		}

		return &ir.Binary{Left: left, Operator: e.Operator.Lexeme, Right: right, Typ: ast.Int}

	case *ast.CallExpression:
		if isBuiltin(e.Callee.Lexeme) {
			a.analysisError(e.Callee, fmt.Sprintf(
				"Builtin '%s' cannot be used as an expression.", e.Callee.Lexeme,
			))
		}

		callee, ok := a.functions[e.Callee.Lexeme]
		if !ok {
			a.analysisError(e.Callee, fmt.Sprintf(
				"Unknown function '%s'.", e.Callee.Lexeme,
			))
		}

		if len(e.Arguments) != len(callee.Parameters) {
			a.analysisError(e.LeftParenToken, fmt.Sprintf(
				"Function '%s' expects %d arguments, got %d.",
				e.Callee.Lexeme, len(callee.Parameters), len(e.Arguments),
			))
		}

		arguments := make([]ir.Expr, 0, len(e.Arguments))
		for i, arg := range e.Arguments {
			value := a.analyzeExpression(arg, sc)
			if value.Type() != callee.Parameters[i].Type {
				a.analysisError(arg.ErrorToken(), fmt.Sprintf(
					"Argument %d to '%s' has type `%s`, expected `%s`.",
					i+1, e.Callee.Lexeme, value.Type(), callee.Parameters[i].Type,
				))
			}
			arguments = append(arguments, value)
		}

		return &ir.Call{Name: e.Callee.Lexeme, Arguments: arguments, Typ: callee.ReturnType}
	}

	panic("Expression node has invalid static type.")
}

// Analyze type-checks the program and lowers it to IR, preserving function
// declaration order exactly.
func Analyze(source string, program *ast.Program) (irProgram *ir.Program, err error) {
	defer diag.Recover(&err)

	a := Analyzer{
		source:    source,
		functions: make(map[string]*ast.Function, len(program.Functions)),
	}

	for i := range program.Functions {
		f := &program.Functions[i]
		if _, exists := a.functions[f.Identifier.Lexeme]; exists {
			a.analysisError(f.Identifier, fmt.Sprintf(
				"Function '%s' is declared more than once.", f.Identifier.Lexeme,
			))
		}
		a.functions[f.Identifier.Lexeme] = f
	}

	functions := make([]ir.Function, 0, len(program.Functions))
	for i := range program.Functions {
		functions = append(functions, a.analyzeFunction(&program.Functions[i]))
	}

	return &ir.Program{Functions: functions}, nil
}
