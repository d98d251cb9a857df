// Package target models the architecture × OS pairs the code generators can
// emit for. The pair is selected once per run and carried as a value; the
// emitters read descriptor fields instead of branching on build tags.
package target

import (
	"fmt"
	"runtime"
)

type Arch int

const (
	AMD64 Arch = iota
	ARM64
)

func (a Arch) String() string {
	if a == AMD64 {
		return "amd64"
	}
	return "arm64"
}

type OS int

const (
	Linux OS = iota
	Darwin
	Windows
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case Darwin:
		return "darwin"
	}
	return "windows"
}

type Target struct {
	Arch Arch
	OS   OS
}

func (t Target) String() string {
	return fmt.Sprintf("%s-%s", t.Arch, t.OS)
}

// Descriptor collects everything the emitters need to know about a target:
// how the process starts, how symbols are spelled, and how strings reach the
// terminal.
type Descriptor struct {
	// EntrySymbol is the label the OS loader invokes.
	EntrySymbol string

	// SymbolPrefix is prepended to every function symbol (macOS C symbols
	// carry a leading underscore).
	SymbolPrefix string

	// SyscallWrite selects the raw write-syscall output path; otherwise
	// strings go through the C library's printf.
	SyscallWrite bool

	// ShadowSpace is the stack reservation (bytes) a C-library call needs
	// before `call` on this target.
	ShadowSpace int

	// PrintfFormatReg and PrintfValueReg are the x86-64 registers carrying
	// printf's format pointer and first variadic argument.
	PrintfFormatReg string
	PrintfValueReg  string
}

func (t Target) Descriptor() Descriptor {
	switch t.OS {
	case Linux:
		// Raw _start entry, write/exit syscalls, no C runtime.
		return Descriptor{
			EntrySymbol:  "_start",
			SyscallWrite: true,
		}
	case Darwin:
		return Descriptor{
			EntrySymbol:     "_main",
			SymbolPrefix:    "_",
			PrintfFormatReg: "rdi",
			PrintfValueReg:  "rsi",
		}
	default: // Windows
		return Descriptor{
			EntrySymbol:     "main",
			ShadowSpace:     32,
			PrintfFormatReg: "rcx",
			PrintfValueReg:  "rdx",
		}
	}
}

// Sym applies the target's symbol prefix to a function name.
func (t Target) Sym(name string) string {
	return t.Descriptor().SymbolPrefix + name
}

// Default picks the target matching the machine the compiler runs on.
func Default() Target {
	t := Target{}
	if runtime.GOARCH == "arm64" {
		t.Arch = ARM64
	}
	switch runtime.GOOS {
	case "darwin":
		t.OS = Darwin
	case "windows":
		t.OS = Windows
	}
	return t
}

// Parse resolves user-facing arch/os names. Empty strings keep the default's
// value for that axis.
func Parse(archName, osName string) (Target, error) {
	t := Default()

	switch archName {
	case "":
	case "amd64", "x86_64", "x86-64":
		t.Arch = AMD64
	case "arm64", "aarch64":
		t.Arch = ARM64
	default:
		return Target{}, fmt.Errorf("unknown architecture %q (want amd64 or arm64)", archName)
	}

	switch osName {
	case "":
	case "linux":
		t.OS = Linux
	case "darwin", "macos":
		t.OS = Darwin
	case "windows":
		t.OS = Windows
	default:
		return Target{}, fmt.Errorf("unknown os %q (want linux, darwin or windows)", osName)
	}

	if t.Arch == ARM64 && t.OS == Windows {
		return Target{}, fmt.Errorf("target %s is not supported", t)
	}

	return t, nil
}
