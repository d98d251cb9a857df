package x86gen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spongelang/sponge/pkg/analyzer"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/lexer"
	"github.com/spongelang/sponge/pkg/parser"
	"github.com/spongelang/sponge/pkg/target"
)

func lower(t *testing.T, source string) *ir.Program {
	t.Helper()
	tokens, err := lexer.Lex(source)
	if err != nil {
		t.Fatalf("Lex returned error: %v", err)
	}
	program, err := parser.Parse(source, tokens)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	typed, err := analyzer.Analyze(source, program)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	return typed
}

func emit(t *testing.T, source string, tgt target.Target) string {
	t.Helper()
	asm, err := Gen(lower(t, source), tgt)
	if err != nil {
		t.Fatalf("Gen returned error: %v", err)
	}
	return asm
}

const helloSource = `
func main(): int {
    println("hello");
    return 0;
}
`

func TestGenLinuxEntry(t *testing.T) {
	asm := emit(t, helloSource, target.Target{Arch: target.AMD64, OS: target.Linux})

	for _, want := range []string{
		"global _start",
		"_start:",
		"call main_func",
		"mov rax, 60", // exit syscall
		"global main_func",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
	if strings.Contains(asm, "extern") {
		t.Error("linux output should not need the C library")
	}
	if strings.Contains(asm, "printf") {
		t.Error("linux output should write via syscall, not printf")
	}
}

func TestGenDarwinEntry(t *testing.T) {
	asm := emit(t, helloSource, target.Target{Arch: target.AMD64, OS: target.Darwin})

	for _, want := range []string{
		"global _main",
		"extern _printf",
		"call _main_func",
		"call _printf",
		"xor eax, eax", // no vector registers in the variadic call
		"fmt_s_ln",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
}

func TestGenWindowsEntry(t *testing.T) {
	asm := emit(t, helloSource, target.Target{Arch: target.AMD64, OS: target.Windows})

	for _, want := range []string{
		"global main",
		"extern printf",
		"sub rsp, 48", // 32 bytes of shadow space plus the saved-rsp slot
		"and rsp, -16",
		"mov [rsp+32], r10",
		"mov rsp, [rsp+32]",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
}

// The stack-push convention gives a function body no fixed rsp alignment, so
// every C-library call site realigns explicitly. Both printf platforms park
// the old rsp above the shadow space and restore it from there.
func TestGenPrintfRealignsStack(t *testing.T) {
	for _, tgt := range []target.Target{
		{Arch: target.AMD64, OS: target.Darwin},
		{Arch: target.AMD64, OS: target.Windows},
	} {
		asm := emit(t, helloSource, tgt)

		if !strings.Contains(asm, "and rsp, -16") {
			t.Errorf("%s: printf call site missing the rsp realignment", tgt)
		}
		if !strings.Contains(asm, "mov r10, rsp") {
			t.Errorf("%s: printf call site should save rsp before realigning", tgt)
		}
		restore := fmt.Sprintf("mov rsp, [rsp+%d]", tgt.Descriptor().ShadowSpace)
		if !strings.Contains(asm, restore) {
			t.Errorf("%s: printf call site missing %q", tgt, restore)
		}
	}
}

func TestGenStringDeduplication(t *testing.T) {
	asm := emit(t, `
func main(): int {
    println("same");
    println("same");
    println("other");
    return 0;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if got := strings.Count(asm, `str_0: db "same", 0`); got != 1 {
		t.Errorf("str_0 defined %d times, want 1", got)
	}
	if !strings.Contains(asm, `str_1: db "other", 0`) {
		t.Error("second distinct literal should get the next label")
	}
	if strings.Contains(asm, "str_2") {
		t.Error("duplicate literal should not allocate a new label")
	}
}

func TestGenPrintWithoutNewline(t *testing.T) {
	asm := emit(t, `
func main(): int {
    print("x");
    return 0;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if strings.Contains(asm, "nl: db 10") {
		t.Error("print should not emit the newline write")
	}
}

func TestGenPrintlnEmitsNewlineWrite(t *testing.T) {
	asm := emit(t, helloSource, target.Target{Arch: target.AMD64, OS: target.Linux})

	if !strings.Contains(asm, "nl: db 10") {
		t.Error("println should define the newline byte")
	}
	if !strings.Contains(asm, "lea rsi, [rel nl]") {
		t.Error("println should write the newline byte")
	}
}

func TestGenNonLiteralPrintlnUsesStrlen(t *testing.T) {
	asm := emit(t, `
func main(): int {
    let s: string = "dynamic";
    println(s);
    return 0;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if !strings.Contains(asm, "call sponge_strlen") {
		t.Error("non-literal println should measure the string at runtime")
	}
	if !strings.Contains(asm, "sponge_strlen:") {
		t.Error("strlen helper body missing")
	}
}

func TestGenParameterAccess(t *testing.T) {
	asm := emit(t, `
func add(a: int, b: int): int {
    return a + b;
}
func main(): int {
    return add(1, 2);
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	// Stack convention: first parameter above the saved rbp and return
	// address, second one 8 bytes further up.
	if !strings.Contains(asm, "mov rax, [rbp+16]") {
		t.Error("first parameter should load from [rbp+16]")
	}
	if !strings.Contains(asm, "mov rax, [rbp+24]") {
		t.Error("second parameter should load from [rbp+24]")
	}
	// Caller cleans up both pushed arguments.
	if !strings.Contains(asm, "add rsp, 16") {
		t.Error("caller should pop both arguments after the call")
	}
}

// A name declared in only one branch still owns one frame slot for the whole
// function, and both branches store to the same slot.
func TestGenBranchSlotSharing(t *testing.T) {
	asm := emit(t, `
func main(): int {
    if 1 {
        let x: int = 1;
    } else {
        let x: int = 2;
    }
    return x;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if got := strings.Count(asm, "mov [rbp-8], rax"); got != 2 {
		t.Errorf("stores to the shared slot = %d, want 2", got)
	}
	if !strings.Contains(asm, "sub rsp, 16") {
		t.Error("frame should reserve one aligned slot")
	}
	if strings.Contains(asm, "[rbp-16]") {
		t.Error("sibling branches must not get separate slots")
	}
}

func TestGenComparisonOperators(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 1 < 2;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	for _, want := range []string{"cmp rax, r11", "setl al", "movzx rax, al"} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
}

// Binary expressions must scratch in caller-saved registers only; the entry
// wrapper returns to the C runtime, which expects rbx and friends preserved.
func TestGenScratchRegisterIsCallerSaved(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 1 + 2 * 3 / 4 - 5;
}
`, target.Target{Arch: target.AMD64, OS: target.Darwin})

	if strings.Contains(asm, "rbx") {
		t.Error("emitted code must not clobber callee-saved rbx")
	}
	if !strings.Contains(asm, "mov r11, rax") {
		t.Error("binary expressions should scratch in r11")
	}
}

func TestGenDivisionSignExtends(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 7 / 2;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if !strings.Contains(asm, "cqo") {
		t.Error("division must sign-extend rax into rdx first")
	}
	if !strings.Contains(asm, "idiv r11") {
		t.Error("division should use idiv")
	}
}

// The minimal program's exit status is main's return value.
func TestGenReturnValueBecomesExitStatus(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 42;
}
`, target.Target{Arch: target.AMD64, OS: target.Linux})

	if !strings.Contains(asm, "mov rax, 42") {
		t.Error("return value should land in rax")
	}
	if !strings.Contains(asm, "jmp .exit_") {
		t.Error("return should jump to the function epilogue")
	}
	// Entry threads rax into the exit syscall's status register.
	if !strings.Contains(asm, "mov rdi, rax") {
		t.Error("entry should pass main's result to exit")
	}
}

func TestGenMissingMain(t *testing.T) {
	_, err := Gen(lower(t, `func helper(): int { return 1; }`), target.Target{Arch: target.AMD64, OS: target.Linux})
	if err == nil {
		t.Fatal("expected an error for a program without main")
	}
	if !strings.Contains(err.Error(), "no 'main' function") {
		t.Errorf("error = %q, want it to mention the missing main", err.Error())
	}
}

func TestGenStringConcatenationUnsupported(t *testing.T) {
	_, err := Gen(lower(t, `
func main(): int {
    let s: string = "a" + "b";
    return 0;
}
`), target.Target{Arch: target.AMD64, OS: target.Linux})
	if err == nil {
		t.Fatal("expected an error for runtime string concatenation")
	}
	if !strings.Contains(err.Error(), "string concatenation is not supported") {
		t.Errorf("error = %q, want the concatenation message", err.Error())
	}
}

func TestNasmBytes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", `"abc", 0`},
		{"", `0`},
		{"a\nb", `"a", 10, "b", 0`},
		{`say "hi"`, `"say ", 34, "hi", 34, 0`},
	}
	for _, tt := range tests {
		if got := nasmBytes(tt.in); got != tt.want {
			t.Errorf("nasmBytes(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
