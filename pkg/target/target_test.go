package target

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		archName string
		osName   string
		want     Target
	}{
		{"amd64", "linux", Target{AMD64, Linux}},
		{"x86_64", "linux", Target{AMD64, Linux}},
		{"x86-64", "windows", Target{AMD64, Windows}},
		{"arm64", "darwin", Target{ARM64, Darwin}},
		{"aarch64", "macos", Target{ARM64, Darwin}},
		{"amd64", "darwin", Target{AMD64, Darwin}},
	}

	for _, tt := range tests {
		t.Run(tt.archName+"-"+tt.osName, func(t *testing.T) {
			got, err := Parse(tt.archName, tt.osName)
			if err != nil {
				t.Fatalf("Parse(%q, %q) returned error: %v", tt.archName, tt.osName, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q, %q) = %v, want %v", tt.archName, tt.osName, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("mips", "linux"); err == nil || !strings.Contains(err.Error(), "unknown architecture") {
		t.Errorf("Parse with bad arch: err = %v", err)
	}
	if _, err := Parse("amd64", "plan9"); err == nil || !strings.Contains(err.Error(), "unknown os") {
		t.Errorf("Parse with bad os: err = %v", err)
	}
	if _, err := Parse("arm64", "windows"); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("Parse(arm64, windows): err = %v", err)
	}
}

func TestDescriptor(t *testing.T) {
	linux := Target{AMD64, Linux}.Descriptor()
	if linux.EntrySymbol != "_start" || !linux.SyscallWrite {
		t.Errorf("linux descriptor = %+v, want _start with syscall output", linux)
	}

	darwin := Target{AMD64, Darwin}.Descriptor()
	if darwin.EntrySymbol != "_main" || darwin.SymbolPrefix != "_" {
		t.Errorf("darwin descriptor = %+v, want _main with underscore prefix", darwin)
	}
	if darwin.SyscallWrite {
		t.Error("darwin descriptor should route output through printf")
	}

	windows := Target{AMD64, Windows}.Descriptor()
	if windows.ShadowSpace != 32 {
		t.Errorf("windows shadow space = %d, want 32", windows.ShadowSpace)
	}
	if windows.PrintfFormatReg != "rcx" || windows.PrintfValueReg != "rdx" {
		t.Errorf("windows printf registers = %s/%s, want rcx/rdx", windows.PrintfFormatReg, windows.PrintfValueReg)
	}
}

func TestSym(t *testing.T) {
	if got := (Target{AMD64, Darwin}).Sym("main_func"); got != "_main_func" {
		t.Errorf("darwin Sym = %q, want %q", got, "_main_func")
	}
	if got := (Target{AMD64, Linux}).Sym("main_func"); got != "main_func" {
		t.Errorf("linux Sym = %q, want %q", got, "main_func")
	}
}

func TestString(t *testing.T) {
	if got := (Target{ARM64, Darwin}).String(); got != "arm64-darwin" {
		t.Errorf("String() = %q, want %q", got, "arm64-darwin")
	}
}
