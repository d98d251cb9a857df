// Package llvmgen emits textual LLVM IR as an alternative backend. Ints are
// i64 and strings are pointers into private global character arrays. Locals
// all live in i64 stack slots (string pointers round-trip through
// ptrtoint/inttoptr), which lets a name be re-bound at a different type the
// same way the assembly backends' untyped 8-byte slots do.
package llvmgen

import (
	"fmt"

	llvmir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/spongelang/sponge/pkg/ast"
	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/ir"
)

type generator struct {
	program *ir.Program
	module  *llvmir.Module

	printf *llvmir.Func
	funcs  map[string]*llvmir.Func

	strs  map[string]*llvmStr
	fmtLn *llvmStr
	fmtNo *llvmStr
}

type llvmStr struct {
	raw string
	def *llvmir.Global
}

func (l *llvmStr) gep() value.Value {
	return constant.NewGetElementPtr(
		types.NewArray(uint64(len(l.raw)), types.I8),
		l.def,
		constant.NewInt(types.I32, 0),
		constant.NewInt(types.I32, 0),
	)
}

func (g *generator) bail(message string) {
	diag.Bail(&diag.Error{Stage: diag.Codegen, Message: message})
}

func (g *generator) internString(raw string) *llvmStr {
	if s, ok := g.strs[raw]; ok {
		return s
	}
	s := &llvmStr{raw: raw + "\x00"}
	s.def = g.module.NewGlobalDef("", constant.NewCharArrayFromString(s.raw))
	s.def.Linkage = enum.LinkagePrivate
	g.strs[raw] = s
	return s
}

func genType(t ast.Type) types.Type {
	if t == ast.String {
		return types.I8Ptr
	}
	return types.I64
}

func llvmFuncName(name string) string {
	if name == "main" {
		return "main_func"
	}
	return name
}

type funcState struct {
	fn     *ir.Function
	irFunc *llvmir.Func
	slots  map[string]*llvmir.InstAlloca
}

func collectSlots(instrs []ir.Instr, order *[]string, seen map[string]bool) {
	for _, instr := range instrs {
		switch i := instr.(type) {
		case *ir.StoreVar:
			if !seen[i.Name] {
				seen[i.Name] = true
				*order = append(*order, i.Name)
			}
		case *ir.If:
			collectSlots(i.Then, order, seen)
			collectSlots(i.Else, order, seen)
		}
	}
}

func (g *generator) genFunction(fn *ir.Function) {
	irFunc := g.funcs[fn.Name]
	block := irFunc.NewBlock("")

	seen := map[string]bool{}
	var order []string
	for _, p := range fn.Parameters {
		seen[p.Name] = true
		order = append(order, p.Name)
	}
	collectSlots(fn.Body, &order, seen)

	st := &funcState{
		fn:     fn,
		irFunc: irFunc,
		slots:  make(map[string]*llvmir.InstAlloca, len(order)),
	}
	for _, name := range order {
		st.slots[name] = block.NewAlloca(types.I64)
	}

	for i, p := range fn.Parameters {
		block.NewStore(g.toSlotWord(block, irFunc.Params[i]), st.slots[p.Name])
	}

	for _, instr := range fn.Body {
		block = g.genInstr(st, block, instr)
	}

	if block.Term == nil {
		// Falling off the end of a function returns a zero value, matching
		// the assembly backends' epilogue with whatever is in the result
		// register.
		if fn.ReturnType == ast.String {
			block.NewRet(constant.NewNull(types.I8Ptr))
		} else {
			block.NewRet(constant.NewInt(types.I64, 0))
		}
	}
}

// toSlotWord coerces a value into the i64 a local slot holds.
func (g *generator) toSlotWord(block *llvmir.Block, v value.Value) value.Value {
	if types.IsPointer(v.Type()) {
		return block.NewPtrToInt(v, types.I64)
	}
	return v
}

func (g *generator) genInstr(st *funcState, block *llvmir.Block, instr ir.Instr) *llvmir.Block {
	if block.Term != nil {
		// Statements after a return are unreachable; nothing to emit.
		return block
	}

	switch i := instr.(type) {
	case *ir.StoreVar:
		v := g.genExpr(st, block, i.Value)
		block.NewStore(g.toSlotWord(block, v), st.slots[i.Name])
		return block

	case *ir.Return:
		block.NewRet(g.genExpr(st, block, i.Value))
		return block

	case *ir.If:
		condition := g.genExpr(st, block, i.Condition)
		notZero := block.NewICmp(enum.IPredNE, condition, constant.NewInt(types.I64, 0))

		thenBlock := st.irFunc.NewBlock("")
		elseBlock := st.irFunc.NewBlock("")
		afterBlock := st.irFunc.NewBlock("")
		block.NewCondBr(notZero, thenBlock, elseBlock)

		out := thenBlock
		for _, inner := range i.Then {
			out = g.genInstr(st, out, inner)
		}
		if out.Term == nil {
			out.NewBr(afterBlock)
		}

		out = elseBlock
		for _, inner := range i.Else {
			out = g.genInstr(st, out, inner)
		}
		if out.Term == nil {
			out.NewBr(afterBlock)
		}

		return afterBlock

	case *ir.Println:
		format := g.fmtNo
		if i.Newline {
			format = g.fmtLn
		}
		block.NewCall(g.printf, format.gep(), g.genExpr(st, block, i.Value))
		return block

	case *ir.CallFunc:
		args := make([]value.Value, 0, len(i.Arguments))
		for _, a := range i.Arguments {
			args = append(args, g.genExpr(st, block, a))
		}
		block.NewCall(g.funcs[i.Name], args...)
		return block
	}

	panic("IR instruction has invalid static type.")
}

func (g *generator) genExpr(st *funcState, block *llvmir.Block, expr ir.Expr) value.Value {
	switch e := expr.(type) {
	case *ir.Int:
		return constant.NewInt(types.I64, e.Value)

	case *ir.Str:
		return g.internString(e.Value).gep()

	case *ir.Var:
		word := block.NewLoad(types.I64, st.slots[e.Name])
		if e.Typ == ast.String {
			return block.NewIntToPtr(word, types.I8Ptr)
		}
		return word

	case *ir.Binary:
		if e.Type() == ast.String {
			g.bail("string concatenation is not supported by the llvm backend")
		}

		left := g.genExpr(st, block, e.Left)
		right := g.genExpr(st, block, e.Right)

		switch e.Operator {
		case "+":
			return block.NewAdd(left, right)
		case "-":
			return block.NewSub(left, right)
		case "*":
			return block.NewMul(left, right)
		case "/":
			return block.NewSDiv(left, right)
		case ">":
			return block.NewZExt(block.NewICmp(enum.IPredSGT, left, right), types.I64)
		case "<":
			return block.NewZExt(block.NewICmp(enum.IPredSLT, left, right), types.I64)
		case "==":
			return block.NewZExt(block.NewICmp(enum.IPredEQ, left, right), types.I64)
		case "!=":
			return block.NewZExt(block.NewICmp(enum.IPredNE, left, right), types.I64)
		}
		g.bail(fmt.Sprintf("unknown binary operator '%s'", e.Operator))

	case *ir.Call:
		args := make([]value.Value, 0, len(e.Arguments))
		for _, a := range e.Arguments {
			args = append(args, g.genExpr(st, block, a))
		}
		return block.NewCall(g.funcs[e.Name], args...)
	}

	panic("IR expression has invalid static type.")
}

func (g *generator) generate() string {
	mainFound := false
	for i := range g.program.Functions {
		if g.program.Functions[i].Name == "main" {
			mainFound = true
		}
	}
	if !mainFound {
		g.bail("no 'main' function to generate an entry point for")
	}

	g.printf = g.module.NewFunc("printf", types.I32, llvmir.NewParam("", types.I8Ptr))
	g.printf.Sig.Variadic = true

	g.fmtLn = g.internString("%s\n")
	g.fmtNo = g.internString("%s")

	// Declare every function before lowering any body so forward references
	// resolve.
	for i := range g.program.Functions {
		fn := &g.program.Functions[i]
		params := make([]*llvmir.Param, 0, len(fn.Parameters))
		for _, p := range fn.Parameters {
			params = append(params, llvmir.NewParam(p.Name, genType(p.Type)))
		}
		g.funcs[fn.Name] = g.module.NewFunc(llvmFuncName(fn.Name), genType(fn.ReturnType), params...)
	}

	for i := range g.program.Functions {
		g.genFunction(&g.program.Functions[i])
	}

	// C-style entry wrapper: call the Sponge entry function and narrow its
	// result to the process exit status.
	wrapper := g.module.NewFunc("main", types.I32)
	block := wrapper.NewBlock("")
	result := block.NewCall(g.funcs["main"])
	if g.mainReturnsInt() {
		block.NewRet(block.NewTrunc(result, types.I32))
	} else {
		block.NewRet(constant.NewInt(types.I32, 0))
	}

	return g.module.String()
}

func (g *generator) mainReturnsInt() bool {
	for i := range g.program.Functions {
		if g.program.Functions[i].Name == "main" {
			return g.program.Functions[i].ReturnType == ast.Int
		}
	}
	return false
}

// Gen lowers the program to textual LLVM IR.
func Gen(program *ir.Program) (out string, err error) {
	defer diag.Recover(&err)

	g := &generator{
		program: program,
		module:  llvmir.NewModule(),
		funcs:   make(map[string]*llvmir.Func),
		strs:    make(map[string]*llvmStr),
	}

	return g.generate(), nil
}
