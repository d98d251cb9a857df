// Package arm64gen emits GNU-syntax assembly for AArch64 (Linux and macOS).
//
// Calling convention: arguments travel in x0..x7 at both call sites and
// prologues; the prologue spills every parameter into a frame slot so the
// body addresses parameters and locals uniformly as [x29, #-off]. Expression
// results travel in x0. Loads of data labels use adrp plus a low-12 add
// (:lo12: on Linux, @PAGE/@PAGEOFF on macOS).
package arm64gen

import (
	"fmt"
	"strings"

	"github.com/spongelang/sponge/pkg/ast"
	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/target"
)

const maxRegisterArgs = 8

type generator struct {
	program *ir.Program
	target  target.Target
	desc    target.Descriptor
	text    strings.Builder

	labelCount int

	strLabels map[string]string
	strOrder  []string
	strValues map[string]string

	needStrlen  bool
	needNewline bool
	needFmtLn   bool
	needFmt     bool
}

type frame struct {
	fn      *ir.Function
	slots   map[string]int // name -> negative x29 offset
	size    int
	exitLbl string
}

func (g *generator) bail(message string) {
	diag.Bail(&diag.Error{Stage: diag.Codegen, Message: message})
}

func (g *generator) ins(format string, args ...interface{}) {
	g.text.WriteString("    " + fmt.Sprintf(format, args...) + "\n")
}

func (g *generator) label(name string) {
	g.text.WriteString(name + ":\n")
}

func (g *generator) raw(s string) {
	g.text.WriteString(s)
}

func (g *generator) newLabel(base string) string {
	l := fmt.Sprintf(".L%s_%d", base, g.labelCount)
	g.labelCount++
	return l
}

func (g *generator) funcSym(name string) string {
	if name == "main" {
		name = "main_func"
	}
	return g.target.Sym(name)
}

func (g *generator) internString(value string) string {
	if label, ok := g.strLabels[value]; ok {
		return label
	}
	label := fmt.Sprintf("str_%d", len(g.strOrder))
	g.strLabels[value] = label
	g.strOrder = append(g.strOrder, label)
	g.strValues[label] = value
	return label
}

func (g *generator) collectStrings(instrs []ir.Instr) {
	for _, instr := range instrs {
		switch i := instr.(type) {
		case *ir.StoreVar:
			g.collectExprStrings(i.Value)
		case *ir.Return:
			g.collectExprStrings(i.Value)
		case *ir.Println:
			g.collectExprStrings(i.Value)
		case *ir.CallFunc:
			for _, a := range i.Arguments {
				g.collectExprStrings(a)
			}
		case *ir.If:
			g.collectExprStrings(i.Condition)
			g.collectStrings(i.Then)
			g.collectStrings(i.Else)
		}
	}
}

func (g *generator) collectExprStrings(expr ir.Expr) {
	switch e := expr.(type) {
	case *ir.Str:
		g.internString(e.Value)
	case *ir.Binary:
		g.collectExprStrings(e.Left)
		g.collectExprStrings(e.Right)
	case *ir.Call:
		for _, a := range e.Arguments {
			g.collectExprStrings(a)
		}
	}
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

// newFrame assigns slots to all parameters first, then every stored name in
// first-occurrence order (branches included).
func (g *generator) newFrame(fn *ir.Function) *frame {
	seen := map[string]bool{}
	var order []string
	for _, p := range fn.Parameters {
		seen[p.Name] = true
		order = append(order, p.Name)
	}
	collectSlots(fn.Body, &order, seen)

	f := &frame{
		fn:      fn,
		slots:   make(map[string]int, len(order)),
		exitLbl: g.newLabel("exit"),
	}
	for i, name := range order {
		f.slots[name] = -8 * (i + 1)
	}
	f.size = (8*len(order) + 15) &^ 15
	return f
}

func (g *generator) varOffset(f *frame, name string) int {
	off, ok := f.slots[name]
	if !ok {
		g.bail(fmt.Sprintf("variable '%s' has no stack slot", name))
	}
	return off
}

// loadAddr materializes the address of a data label into reg.
func (g *generator) loadAddr(reg, label string) {
	if g.target.OS == target.Darwin {
		g.ins("adrp %s, %s@PAGE", reg, label)
		g.ins("add %s, %s, %s@PAGEOFF", reg, reg, label)
	} else {
		g.ins("adrp %s, %s", reg, label)
		g.ins("add %s, %s, :lo12:%s", reg, reg, label)
	}
}

func (g *generator) genFunction(fn *ir.Function) {
	if len(fn.Parameters) > maxRegisterArgs {
		g.bail(fmt.Sprintf(
			"function '%s' has %d parameters; the arm64 backend passes at most %d in registers",
			fn.Name, len(fn.Parameters), maxRegisterArgs,
		))
	}

	f := g.newFrame(fn)
	sym := g.funcSym(fn.Name)

	g.raw(".globl " + sym + "\n")
	g.raw(".p2align 2\n")
	g.label(sym)
	g.ins("stp x29, x30, [sp, #-16]!")
	g.ins("mov x29, sp")
	if f.size > 0 {
		g.ins("sub sp, sp, #%d", f.size)
	}

	for i, p := range fn.Parameters {
		g.ins("str x%d, [x29, #%d]", i, f.slots[p.Name])
	}

	for _, instr := range fn.Body {
		g.genInstr(f, instr)
	}

	g.label(f.exitLbl)
	g.ins("mov sp, x29")
	g.ins("ldp x29, x30, [sp], #16")
	g.ins("ret")
	g.raw("\n")
}

func (g *generator) genInstr(f *frame, instr ir.Instr) {
	switch i := instr.(type) {
	case *ir.StoreVar:
		g.genExpr(f, i.Value)
		g.ins("str x0, [x29, #%d]", g.varOffset(f, i.Name))

	case *ir.Return:
		g.genExpr(f, i.Value)
		g.ins("b %s", f.exitLbl)

	case *ir.If:
		thenLabel := g.newLabel("then")
		elseLabel := g.newLabel("else")
		endLabel := g.newLabel("endif")

		g.genExpr(f, i.Condition)
		g.ins("cbnz x0, %s", thenLabel)
		g.ins("b %s", elseLabel)

		g.label(thenLabel)
		for _, inner := range i.Then {
			g.genInstr(f, inner)
		}
		g.ins("b %s", endLabel)

		g.label(elseLabel)
		for _, inner := range i.Else {
			g.genInstr(f, inner)
		}

		g.label(endLabel)

	case *ir.Println:
		g.genPrintln(f, i)

	case *ir.CallFunc:
		g.genCall(f, i.Name, i.Arguments)
	}
}

func (g *generator) genPrintln(f *frame, p *ir.Println) {
	if g.desc.SyscallWrite {
		if lit, ok := p.Value.(*ir.Str); ok {
			label := g.internString(lit.Value)
			g.loadAddr("x1", label)
			g.ins("ldr x2, =%s_len", label)
		} else {
			g.needStrlen = true
			g.genExpr(f, p.Value)
			g.ins("mov x1, x0")
			g.ins("bl sponge_strlen")
		}
		g.ins("mov x0, #1")
		g.ins("mov x8, #64")
		g.ins("svc #0")

		if p.Newline {
			g.needNewline = true
			g.loadAddr("x1", "nl")
			g.ins("mov x0, #1")
			g.ins("mov x2, #1")
			g.ins("mov x8, #64")
			g.ins("svc #0")
		}
		return
	}

	format := "fmt_s"
	if p.Newline {
		format = "fmt_s_ln"
		g.needFmtLn = true
	} else {
		g.needFmt = true
	}

	// Apple's AArch64 ABI passes variadic arguments on the stack.
	g.genExpr(f, p.Value)
	g.ins("mov x9, x0")
	g.loadAddr("x0", format)
	g.ins("str x9, [sp, #-16]!")
	g.ins("bl %s", g.target.Sym("printf"))
	g.ins("add sp, sp, #16")
}

func (g *generator) genCall(f *frame, name string, args []ir.Expr) {
	if len(args) > maxRegisterArgs {
		g.bail(fmt.Sprintf(
			"call to '%s' passes %d arguments; the arm64 backend passes at most %d in registers",
			name, len(args), maxRegisterArgs,
		))
	}

	for _, arg := range args {
		g.genExpr(f, arg)
		g.ins("str x0, [sp, #-16]!")
	}
	for i := len(args) - 1; i >= 0; i-- {
		g.ins("ldr x%d, [sp], #16", i)
	}

	g.ins("bl %s", g.funcSym(name))
}

func (g *generator) genExpr(f *frame, expr ir.Expr) {
	switch e := expr.(type) {
	case *ir.Int:
		g.loadImm("x0", e.Value)

	case *ir.Str:
		g.loadAddr("x0", g.internString(e.Value))

	case *ir.Var:
		g.ins("ldr x0, [x29, #%d]", g.varOffset(f, e.Name))

	case *ir.Binary:
		if e.Type() == ast.String {
			g.bail("string concatenation is not supported by the arm64 backend")
		}

		g.genExpr(f, e.Left)
		g.ins("str x0, [sp, #-16]!")
		g.genExpr(f, e.Right)
		g.ins("mov x1, x0")
		g.ins("ldr x0, [sp], #16")

		switch e.Operator {
		case "+":
			g.ins("add x0, x0, x1")
		case "-":
			g.ins("sub x0, x0, x1")
		case "*":
			g.ins("mul x0, x0, x1")
		case "/":
			g.ins("sdiv x0, x0, x1")
		case ">":
			g.genCompare("gt")
		case "<":
			g.genCompare("lt")
		case "==":
			g.genCompare("eq")
		case "!=":
			g.genCompare("ne")
		default:
			g.bail(fmt.Sprintf("unknown binary operator '%s'", e.Operator))
		}

	case *ir.Call:
		g.genCall(f, e.Name, e.Arguments)
	}
}

// loadImm materializes a 64-bit constant with movz/movk half-word chunks;
// a single mov covers the common small cases.
func (g *generator) loadImm(reg string, value int64) {
	if value >= 0 && value < 1<<16 {
		g.ins("mov %s, #%d", reg, value)
		return
	}

	u := uint64(value)
	g.ins("movz %s, #%d", reg, u&0xffff)
	for shift := 16; shift < 64; shift += 16 {
		chunk := (u >> shift) & 0xffff
		if chunk != 0 {
			g.ins("movk %s, #%d, lsl #%d", reg, chunk, shift)
		}
	}
}

func (g *generator) genCompare(cond string) {
	g.ins("cmp x0, x1")
	g.ins("cset x0, %s", cond)
}

func (g *generator) genEntry() {
	entry := g.desc.EntrySymbol
	g.raw(".globl " + entry + "\n")
	g.raw(".p2align 2\n")
	g.label(entry)

	if g.desc.SyscallWrite {
		g.ins("bl %s", g.funcSym("main"))
		// Exit status is already in x0.
		g.ins("mov x8, #93")
		g.ins("svc #0")
	} else {
		g.ins("stp x29, x30, [sp, #-16]!")
		g.ins("mov x29, sp")
		g.ins("bl %s", g.funcSym("main"))
		g.ins("ldp x29, x30, [sp], #16")
		g.ins("ret")
	}
	g.raw("\n")
}

// genStrlenHelper emits the runtime length scan used by the syscall write
// path for strings whose length is not known at generation time. Pointer in
// x1, length out in x2.
func (g *generator) genStrlenHelper() {
	g.label("sponge_strlen")
	g.ins("mov x2, #0")
	g.label(".Lstrlen_scan")
	g.ins("ldrb w9, [x1, x2]")
	g.ins("cbz w9, .Lstrlen_done")
	g.ins("add x2, x2, #1")
	g.ins("b .Lstrlen_scan")
	g.label(".Lstrlen_done")
	g.ins("ret")
	g.raw("\n")
}

func gasQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteString(fmt.Sprintf(`\%03o`, c))
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (g *generator) genData() string {
	if len(g.strOrder) == 0 && !g.needNewline && !g.needFmt && !g.needFmtLn {
		return ""
	}

	var data strings.Builder
	if g.target.OS == target.Darwin {
		data.WriteString(".section __DATA,__data\n")
	} else {
		data.WriteString(".data\n")
	}

	for _, label := range g.strOrder {
		value := g.strValues[label]
		data.WriteString(fmt.Sprintf("%s:\n    .asciz %s\n", label, gasQuote(value)))
		data.WriteString(fmt.Sprintf(".equ %s_len, %d\n", label, len(value)))
	}
	if g.needNewline {
		data.WriteString("nl:\n    .asciz \"\\n\"\n")
	}
	if g.needFmtLn {
		data.WriteString("fmt_s_ln:\n    .asciz \"%s\\n\"\n")
	}
	if g.needFmt {
		data.WriteString("fmt_s:\n    .asciz \"%s\"\n")
	}
	return data.String()
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

	for i := range g.program.Functions {
		g.collectStrings(g.program.Functions[i].Body)
	}

	var out strings.Builder
	out.WriteString("// Sponge arm64 codegen (" + g.target.String() + ")\n")
	if g.target.OS == target.Darwin {
		out.WriteString(".section __TEXT,__text\n")
	} else {
		out.WriteString(".text\n")
	}

	g.genEntry()
	for i := range g.program.Functions {
		g.genFunction(&g.program.Functions[i])
	}
	if g.needStrlen {
		g.genStrlenHelper()
	}

	out.WriteString(g.text.String())
	out.WriteString(g.genData())
	return out.String()
}

// Gen emits GNU assembly for the whole program on the given target.
func Gen(program *ir.Program, tgt target.Target) (asm string, err error) {
	defer diag.Recover(&err)

	if tgt.OS == target.Windows {
		return "", fmt.Errorf("arm64 windows is not a supported target")
	}

	g := &generator{
		program:   program,
		target:    tgt,
		desc:      tgt.Descriptor(),
		strLabels: make(map[string]string),
		strValues: make(map[string]string),
	}

	return g.generate(), nil
}
