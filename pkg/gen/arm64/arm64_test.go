package arm64gen

import (
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
	asm := emit(t, helloSource, target.Target{Arch: target.ARM64, OS: target.Linux})

	for _, want := range []string{
		".globl _start",
		"_start:",
		"bl main_func",
		"mov x8, #93", // exit syscall
		"mov x8, #64", // write syscall
		"svc #0",
		":lo12:str_0",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
	if strings.Contains(asm, "printf") {
		t.Error("linux output should write via syscall, not printf")
	}
}

func TestGenDarwinEntry(t *testing.T) {
	asm := emit(t, helloSource, target.Target{Arch: target.ARM64, OS: target.Darwin})

	for _, want := range []string{
		".globl _main",
		"bl _main_func",
		"bl _printf",
		"str_0@PAGE",
		"str_0@PAGEOFF",
		".section __DATA,__data",
		".section __TEXT,__text",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("assembly missing %q", want)
		}
	}
	if strings.Contains(asm, "svc #0") {
		t.Error("darwin output should not issue raw syscalls")
	}
}

func TestGenWindowsRejected(t *testing.T) {
	_, err := Gen(lower(t, helloSource), target.Target{Arch: target.ARM64, OS: target.Windows})
	if err == nil {
		t.Fatal("expected an error for arm64 windows")
	}
	if !strings.Contains(err.Error(), "not a supported target") {
		t.Errorf("error = %q, want the unsupported-target message", err.Error())
	}
}

func TestGenParametersSpillToFrame(t *testing.T) {
	asm := emit(t, `
func add(a: int, b: int): int {
    return a + b;
}
func main(): int {
    return add(1, 2);
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	// The prologue spills x0 and x1 into frame slots so the body reads
	// parameters and locals the same way.
	if !strings.Contains(asm, "str x0, [x29, #-8]") {
		t.Error("first parameter should spill to [x29, #-8]")
	}
	if !strings.Contains(asm, "str x1, [x29, #-16]") {
		t.Error("second parameter should spill to [x29, #-16]")
	}
	if !strings.Contains(asm, "ldr x0, [x29, #-8]") {
		t.Error("parameter reads should go through the frame slot")
	}
}

func TestGenLoadImmediate(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 100000;
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	// 100000 = 0x186A0, which does not fit one mov.
	if !strings.Contains(asm, "movz x0, #34464") {
		t.Error("large immediate should start with a movz of the low half-word")
	}
	if !strings.Contains(asm, "movk x0, #1, lsl #16") {
		t.Error("large immediate should patch the next half-word with movk")
	}
}

func TestGenSmallImmediate(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 42;
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	if !strings.Contains(asm, "mov x0, #42") {
		t.Error("small immediate should use a single mov")
	}
	if strings.Contains(asm, "movz") {
		t.Error("small immediate should not need movz")
	}
}

func TestGenComparison(t *testing.T) {
	asm := emit(t, `
func main(): int {
    return 1 < 2;
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	if !strings.Contains(asm, "cmp x0, x1") {
		t.Error("comparison should compare x0 against x1")
	}
	if !strings.Contains(asm, "cset x0, lt") {
		t.Error("comparison should materialize the flag with cset")
	}
}

func TestGenIfBranches(t *testing.T) {
	asm := emit(t, `
func main(): int {
    if 1 {
        return 1;
    } else {
        return 2;
    }
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	if !strings.Contains(asm, "cbnz x0, .Lthen_") {
		t.Error("if should branch on a non-zero condition")
	}
	if !strings.Contains(asm, ".Lelse_") || !strings.Contains(asm, ".Lendif_") {
		t.Error("if should emit else and endif labels")
	}
}

func TestGenTooManyArguments(t *testing.T) {
	_, err := Gen(lower(t, `
func wide(a: int, b: int, c: int, d: int, e: int, f: int, g: int, h: int, i: int): int {
    return a;
}
func main(): int {
    return 0;
}
`), target.Target{Arch: target.ARM64, OS: target.Linux})
	if err == nil {
		t.Fatal("expected an error for more than eight parameters")
	}
	if !strings.Contains(err.Error(), "at most 8 in registers") {
		t.Errorf("error = %q, want the register-limit message", err.Error())
	}
}

func TestGenNonLiteralPrintlnUsesStrlen(t *testing.T) {
	asm := emit(t, `
func main(): int {
    let s: string = "dynamic";
    println(s);
    return 0;
}
`, target.Target{Arch: target.ARM64, OS: target.Linux})

	if !strings.Contains(asm, "bl sponge_strlen") {
		t.Error("non-literal println should measure the string at runtime")
	}
	if !strings.Contains(asm, "sponge_strlen:") {
		t.Error("strlen helper body missing")
	}
}

func TestGenStringConcatenationUnsupported(t *testing.T) {
	_, err := Gen(lower(t, `
func main(): int {
    let s: string = "a" + "b";
    return 0;
}
`), target.Target{Arch: target.ARM64, OS: target.Linux})
	if err == nil {
		t.Fatal("expected an error for runtime string concatenation")
	}
	if !strings.Contains(err.Error(), "string concatenation is not supported") {
		t.Errorf("error = %q, want the concatenation message", err.Error())
	}
}

func TestGasQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", `"abc"`},
		{"a\nb", `"a\nb"`},
		{`say "hi"`, `"say \"hi\""`},
		{"a\x01b", `"a\001b"`},
	}
	for _, tt := range tests {
		if got := gasQuote(tt.in); got != tt.want {
			t.Errorf("gasQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
