// Package x86gen emits Intel-syntax NASM assembly for x86-64.
//
// Calling convention: arguments are pushed right to left and the callee
// reads parameter i at [rbp + 16 + 8*i]. Every local gets an 8-byte slot
// below rbp, assigned in first-occurrence order by a pre-scan of the whole
// function body, so a name declared in only one `if` branch still owns a
// slot for the entire frame. Expression results travel in rax.
//
// Calls into the C library (printf on macOS/Windows) use that platform's
// ABI instead; the two conventions never mix on one call site.
package x86gen

import (
	"fmt"
	"strings"

	"github.com/spongelang/sponge/pkg/ast"
	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/target"
)

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
	slots   map[string]int // name -> negative rbp offset
	params  map[string]int // name -> positive rbp offset
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
	l := fmt.Sprintf(".%s_%d", base, g.labelCount)
	g.labelCount++
	return l
}

// funcSym maps a Sponge function to its assembly symbol. The user's `main`
// becomes main_func so the OS entry wrapper can keep the entry symbol name.
func (g *generator) funcSym(name string) string {
	if name == "main" {
		name = "main_func"
	}
	return g.target.Sym(name)
}

// internString registers a literal in the data section, deduplicated by
// exact text, and returns its label.
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

// collectSlots walks a body in textual order, descending into both branches
// of every `if`, and assigns one slot per distinct stored name.
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

func (g *generator) newFrame(fn *ir.Function) *frame {
	var order []string
	collectSlots(fn.Body, &order, map[string]bool{})

	f := &frame{
		fn:      fn,
		slots:   make(map[string]int, len(order)),
		params:  make(map[string]int, len(fn.Parameters)),
		exitLbl: g.newLabel("exit"),
	}

	for i, name := range order {
		f.slots[name] = -8 * (i + 1)
	}
	// Return address and saved rbp sit between rbp and the arguments.
	for i, p := range fn.Parameters {
		f.params[p.Name] = 16 + 8*i
	}

	f.size = (8*len(order) + 15) &^ 15
	return f
}

// varAddr returns the rbp-relative operand for a name. Stored names win over
// parameters of the same name; the prologue copies such parameters into
// their shadow slot so reads before the first store still see the argument.
func (g *generator) varAddr(f *frame, name string) string {
	if off, ok := f.slots[name]; ok {
		return fmt.Sprintf("[rbp%d]", off)
	}
	if off, ok := f.params[name]; ok {
		return fmt.Sprintf("[rbp+%d]", off)
	}
	g.bail(fmt.Sprintf("variable '%s' has no stack slot", name))
	return ""
}

func (g *generator) genFunction(fn *ir.Function) {
	f := g.newFrame(fn)
	sym := g.funcSym(fn.Name)

	g.raw("global " + sym + "\n")
	g.label(sym)
	g.ins("push rbp")
	g.ins("mov rbp, rsp")
	if f.size > 0 {
		g.ins("sub rsp, %d", f.size)
	}

	for _, p := range fn.Parameters {
		if slot, shadowed := f.slots[p.Name]; shadowed {
			g.ins("mov rax, [rbp+%d]", f.params[p.Name])
			g.ins("mov [rbp%d], rax", slot)
		}
	}

	for _, instr := range fn.Body {
		g.genInstr(f, instr)
	}

	g.label(f.exitLbl)
	g.ins("mov rsp, rbp")
	g.ins("pop rbp")
	g.ins("ret")
	g.raw("\n")
}

func (g *generator) genInstr(f *frame, instr ir.Instr) {
	switch i := instr.(type) {
	case *ir.StoreVar:
		g.genExpr(f, i.Value)
		g.ins("mov %s, rax", g.varAddr(f, i.Name))

	case *ir.Return:
		g.genExpr(f, i.Value)
		g.ins("jmp %s", f.exitLbl)

	case *ir.If:
		thenLabel := g.newLabel("then")
		elseLabel := g.newLabel("else")
		endLabel := g.newLabel("endif")

		g.genExpr(f, i.Condition)
		g.ins("cmp rax, 0")
		g.ins("jne %s", thenLabel)
		g.ins("jmp %s", elseLabel)

		g.label(thenLabel)
		for _, inner := range i.Then {
			g.genInstr(f, inner)
		}
		g.ins("jmp %s", endLabel)

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
			g.ins("mov rax, 1")
			g.ins("mov rdi, 1")
			g.ins("lea rsi, [rel %s]", label)
			g.ins("mov rdx, %s_len", label)
			g.ins("syscall")
		} else {
			g.needStrlen = true
			g.genExpr(f, p.Value)
			g.ins("mov rsi, rax")
			g.ins("call sponge_strlen")
			g.ins("mov rax, 1")
			g.ins("mov rdi, 1")
			g.ins("syscall")
		}

		if p.Newline {
			g.needNewline = true
			g.ins("mov rax, 1")
			g.ins("mov rdi, 1")
			g.ins("lea rsi, [rel nl]")
			g.ins("mov rdx, 1")
			g.ins("syscall")
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

	g.genExpr(f, p.Value)
	g.ins("mov %s, rax", g.desc.PrintfValueReg)
	g.ins("lea %s, [rel %s]", g.desc.PrintfFormatReg, format)

	// The stack-push call convention leaves rsp alignment dependent on the
	// caller's argument count, so the C ABI's 16-byte alignment has to be
	// established explicitly. The pre-adjustment rsp is parked above the
	// shadow space and restored from there after the call.
	g.ins("mov r10, rsp")
	g.ins("sub rsp, %d", g.desc.ShadowSpace+16)
	g.ins("and rsp, -16")
	g.ins("mov [rsp+%d], r10", g.desc.ShadowSpace)
	if g.desc.ShadowSpace == 0 {
		g.ins("xor eax, eax")
	}
	g.ins("call %s", g.target.Sym("printf"))
	g.ins("mov rsp, [rsp+%d]", g.desc.ShadowSpace)
}

func (g *generator) genCall(f *frame, name string, args []ir.Expr) {
	for i := len(args) - 1; i >= 0; i-- {
		g.genExpr(f, args[i])
		g.ins("push rax")
	}

	g.ins("call %s", g.funcSym(name))

	if len(args) > 0 {
		g.ins("add rsp, %d", len(args)*8)
	}
}

func (g *generator) genExpr(f *frame, expr ir.Expr) {
	switch e := expr.(type) {
	case *ir.Int:
		g.ins("mov rax, %d", e.Value)

	case *ir.Str:
		g.ins("lea rax, [rel %s]", g.internString(e.Value))

	case *ir.Var:
		g.ins("mov rax, %s", g.varAddr(f, e.Name))

	case *ir.Binary:
		if e.Type() == ast.String {
			g.bail("string concatenation is not supported by the x86-64 backend")
		}

		// r11 is caller-saved in both System V and Win x64, so the entry
		// wrapper returns to the C runtime with callee-saved registers
		// untouched.
		g.genExpr(f, e.Left)
		g.ins("push rax")
		g.genExpr(f, e.Right)
		g.ins("mov r11, rax")
		g.ins("pop rax")

		switch e.Operator {
		case "+":
			g.ins("add rax, r11")
		case "-":
			g.ins("sub rax, r11")
		case "*":
			g.ins("imul rax, r11")
		case "/":
			g.ins("cqo")
			g.ins("idiv r11")
		case ">":
			g.genCompare("setg")
		case "<":
			g.genCompare("setl")
		case "==":
			g.genCompare("sete")
		case "!=":
			g.genCompare("setne")
		default:
			g.bail(fmt.Sprintf("unknown binary operator '%s'", e.Operator))
		}

	case *ir.Call:
		g.genCall(f, e.Name, e.Arguments)
	}
}

func (g *generator) genCompare(set string) {
	g.ins("cmp rax, r11")
	g.ins("%s al", set)
	g.ins("movzx rax, al")
}

func (g *generator) genEntry() {
	entry := g.desc.EntrySymbol
	g.raw("global " + entry + "\n")
	g.label(entry)

	if g.desc.SyscallWrite {
		// Raw _start: no frame to tear down, exit via syscall.
		g.ins("call %s", g.funcSym("main"))
		g.ins("mov rdi, rax")
		g.ins("mov rax, 60")
		g.ins("syscall")
	} else {
		g.ins("push rbp")
		g.ins("mov rbp, rsp")
		g.ins("call %s", g.funcSym("main"))
		g.ins("mov rsp, rbp")
		g.ins("pop rbp")
		g.ins("ret")
	}
	g.raw("\n")
}

func (g *generator) genStrlenHelper() {
	g.label("sponge_strlen")
	g.ins("xor rdx, rdx")
	g.label(".scan")
	g.ins("cmp byte [rsi+rdx], 0")
	g.ins("je .done")
	g.ins("inc rdx")
	g.ins("jmp .scan")
	g.label(".done")
	g.ins("ret")
	g.raw("\n")
}

// nasmBytes renders a string as db operands, NUL-terminated. NASM quoted
// strings are verbatim, so only the printable runs go in quotes and
// everything else is emitted numerically.
func nasmBytes(s string) string {
	var parts []string
	run := ""
	flush := func() {
		if run != "" {
			parts = append(parts, `"`+run+`"`)
			run = ""
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' {
			run += string(c)
		} else {
			flush()
			parts = append(parts, fmt.Sprintf("%d", c))
		}
	}
	flush()
	parts = append(parts, "0")
	return strings.Join(parts, ", ")
}

func (g *generator) genData() string {
	var data strings.Builder

	if len(g.strOrder) == 0 && !g.needNewline && !g.needFmt && !g.needFmtLn {
		return ""
	}

	data.WriteString("section .data\n")
	for _, label := range g.strOrder {
		value := g.strValues[label]
		data.WriteString(fmt.Sprintf("%s: db %s\n", label, nasmBytes(value)))
		data.WriteString(fmt.Sprintf("%s_len equ $ - %s - 1\n", label, label))
	}
	if g.needNewline {
		data.WriteString("nl: db 10\n")
	}
	if g.needFmtLn {
		data.WriteString(`fmt_s_ln: db "%s", 10, 0` + "\n")
	}
	if g.needFmt {
		data.WriteString(`fmt_s: db "%s", 0` + "\n")
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

	// Intern every literal up front so data labels are assigned in
	// first-reference order across the whole program.
	for i := range g.program.Functions {
		g.collectStrings(g.program.Functions[i].Body)
	}

	var out strings.Builder
	out.WriteString("; Sponge x86-64 codegen (" + g.target.String() + ")\n")
	if !g.desc.SyscallWrite {
		out.WriteString("extern " + g.target.Sym("printf") + "\n")
	}
	out.WriteString("\nsection .text\n")

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

// Gen emits NASM assembly for the whole program on the given target.
func Gen(program *ir.Program, tgt target.Target) (asm string, err error) {
	defer diag.Recover(&err)

	g := &generator{
		program:   program,
		target:    tgt,
		desc:      tgt.Descriptor(),
		strLabels: make(map[string]string),
		strValues: make(map[string]string),
	}

	return g.generate(), nil
}
