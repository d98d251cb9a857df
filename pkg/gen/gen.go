// Package gen picks the assembly backend matching a compilation target.
package gen

import (
	arm64gen "github.com/spongelang/sponge/pkg/gen/arm64"
	llvmgen "github.com/spongelang/sponge/pkg/gen/llvm"
	x86gen "github.com/spongelang/sponge/pkg/gen/x86"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/target"
)

// Generate emits assembly for the given target.
func Generate(program *ir.Program, tgt target.Target) (string, error) {
	if tgt.Arch == target.ARM64 {
		return arm64gen.Gen(program, tgt)
	}
	return x86gen.Gen(program, tgt)
}

// LLVM emits textual LLVM IR instead of target assembly.
func LLVM(program *ir.Program) (string, error) {
	return llvmgen.Gen(program)
}
