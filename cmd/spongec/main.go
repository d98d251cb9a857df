package main

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/alecthomas/repr"
	"github.com/urfave/cli/v2"

	"github.com/spongelang/sponge/pkg/analyzer"
	"github.com/spongelang/sponge/pkg/gen"
	"github.com/spongelang/sponge/pkg/ir"
	"github.com/spongelang/sponge/pkg/lexer"
	"github.com/spongelang/sponge/pkg/parser"
	"github.com/spongelang/sponge/pkg/target"
)

var (
	NASM_EXECUTABLE_PATH = "nasm"
	AS_EXECUTABLE_PATH   = "as"
	CC_EXECUTABLE_PATH   = "gcc"
)

func irFromFile(filename string) *ir.Program {
	code, err := ioutil.ReadFile(filename)
	if err != nil {
		log.Fatalf("Failed while attempting to read source file.\n%s", err.Error())
	}
	source := string(code)

	tokens, err := lexer.Lex(source)
	if err != nil {
		log.Fatal(err)
	}
	program, err := parser.Parse(source, tokens)
	if err != nil {
		log.Fatal(err)
	}
	typed, err := analyzer.Analyze(source, program)
	if err != nil {
		log.Fatal(err)
	}

	return typed
}

func emitFromFile(filename string, tgt target.Target, emit string) string {
	typed := irFromFile(filename)

	var out string
	var err error
	if emit == "llvm" {
		out, err = gen.LLVM(typed)
	} else {
		out, err = gen.Generate(typed, tgt)
	}
	if err != nil {
		log.Fatal(err)
	}
	return out
}

// nasmFormat maps an object-file target onto nasm's -f argument.
func nasmFormat(tgt target.Target) string {
	switch tgt.OS {
	case target.Darwin:
		return "macho64"
	case target.Windows:
		return "win64"
	default:
		return "elf64"
	}
}

// assembleAndLink turns emitted assembly into an executable in a temp
// directory and returns its path. x86-64 goes through nasm, arm64 through
// the system assembler; both link with the C compiler so printf resolves.
func assembleAndLink(asm string, tgt target.Target) string {
	if nasm := os.Getenv("SPONGE_NASM"); nasm != "" {
		NASM_EXECUTABLE_PATH = nasm
	}
	if as := os.Getenv("SPONGE_AS"); as != "" {
		AS_EXECUTABLE_PATH = as
	}
	if cc := os.Getenv("SPONGE_CC"); cc != "" {
		CC_EXECUTABLE_PATH = cc
	}

	tmpDir, err := ioutil.TempDir("", "sponge-tmp--*")
	if err != nil {
		log.Fatalf("Failed while creating temp directory.\n%s", err.Error())
	}

	objFilePath := filepath.Join(tmpDir, "sponge.o")
	exeFilePath := filepath.Join(tmpDir, "sponge-exe.out")

	var assembleCommand *exec.Cmd
	if tgt.Arch == target.AMD64 {
		asmFilePath := filepath.Join(tmpDir, "sponge.asm")
		if err := ioutil.WriteFile(asmFilePath, []byte(asm), 0644); err != nil {
			log.Fatalf("Failed while writing assembly.\n%s", err.Error())
		}
		assembleCommand = exec.Command(
			NASM_EXECUTABLE_PATH,
			"-f", nasmFormat(tgt),
			"-o", objFilePath,
			asmFilePath,
		)
	} else {
		asmFilePath := filepath.Join(tmpDir, "sponge.s")
		if err := ioutil.WriteFile(asmFilePath, []byte(asm), 0644); err != nil {
			log.Fatalf("Failed while writing assembly.\n%s", err.Error())
		}
		assembleCommand = exec.Command(
			AS_EXECUTABLE_PATH,
			"-o", objFilePath,
			asmFilePath,
		)
	}

	assembleCommand.Stdout = os.Stdout
	assembleCommand.Stderr = os.Stderr
	if err := assembleCommand.Run(); err != nil {
		log.Fatalf("Failed while assembling.\n%s", err.Error())
	}

	linkArgs := []string{"-o", exeFilePath, objFilePath}
	if tgt.OS == target.Linux {
		// The Linux emitters carry their own _start and exit syscall, so
		// the C runtime must stay out of the way.
		linkArgs = append(linkArgs, "-nostartfiles")
	}
	linkCommand := exec.Command(CC_EXECUTABLE_PATH, linkArgs...)
	linkCommand.Stdout = os.Stdout
	linkCommand.Stderr = os.Stderr
	if err := linkCommand.Run(); err != nil {
		log.Fatalf("Failed while linking.\n%s", err.Error())
	}

	return exeFilePath
}

func copyFile(srcPath string, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return err
	}
	return out.Close()
}

func resolveTarget(archName string, osName string) target.Target {
	if archName == "" && osName == "" {
		return target.Default()
	}
	if archName == "" {
		archName = target.Default().Arch.String()
	}
	if osName == "" {
		osName = target.Default().OS.String()
	}
	tgt, err := target.Parse(archName, osName)
	if err != nil {
		log.Fatal(err)
	}
	return tgt
}

func singleFileArg(c *cli.Context) (string, error) {
	if c.Args().Len() > 1 {
		return "", errors.New(`

Too many arguments provided.

If you've provided flags make sure they go before the arguments.
    Wrong: $ spongec build file.sponge -o foo
    Right: $ spongec build -o foo file.sponge
`)
	}
	filename := c.Args().First()
	if filename == "" {
		return "", errors.New("Source file not provided.")
	}
	return filename, nil
}

func main() {
	var outputFile string
	var archName string
	var osName string
	var emitKind string
	var buildBinary bool
	var inspectStage string

	app := &cli.App{
		Name:  "spongec",
		Usage: "Compiler for the Sponge programming language.",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Compiles the provided source file to assembly (or an executable).",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Usage:       "Name of the output file.",
						Destination: &outputFile,
					},
					&cli.StringFlag{
						Name:        "arch",
						Usage:       "Target architecture (amd64 or arm64).",
						Destination: &archName,
					},
					&cli.StringFlag{
						Name:        "os",
						Usage:       "Target operating system (linux, darwin, or windows).",
						Destination: &osName,
					},
					&cli.StringFlag{
						Name:        "emit",
						Value:       "asm",
						Usage:       "Output kind: asm or llvm.",
						Destination: &emitKind,
					},
					&cli.BoolFlag{
						Name:        "bin",
						Usage:       "Assemble and link the output into an executable.",
						Destination: &buildBinary,
					},
				},
				Action: func(c *cli.Context) error {
					filename, err := singleFileArg(c)
					if err != nil {
						return err
					}
					if emitKind != "asm" && emitKind != "llvm" {
						return fmt.Errorf("unknown emit kind '%s' (expected asm or llvm)", emitKind)
					}
					if buildBinary && emitKind == "llvm" {
						return errors.New("--bin only works with --emit asm")
					}

					tgt := resolveTarget(archName, osName)
					out := emitFromFile(filename, tgt, emitKind)

					if buildBinary {
						exePath := assembleAndLink(out, tgt)
						dst := outputFile
						if dst == "" {
							dst = "a.out"
						}
						if err := copyFile(exePath, dst); err != nil {
							return err
						}
						return os.Chmod(dst, 0755)
					}

					if outputFile == "" {
						fmt.Print(out)
						return nil
					}
					return ioutil.WriteFile(outputFile, []byte(out), 0644)
				},
			},
			{
				Name:  "run",
				Usage: "Builds and immediately runs the provided source file.",
				Action: func(c *cli.Context) error {
					filename, err := singleFileArg(c)
					if err != nil {
						return err
					}

					tgt := target.Default()
					asm := emitFromFile(filename, tgt, "asm")
					exePath := assembleAndLink(asm, tgt)

					runCmd := exec.Command(exePath)
					runCmd.Stdout = os.Stdout
					runCmd.Stderr = os.Stderr
					if err := runCmd.Run(); err != nil {
						if exitErr, ok := err.(*exec.ExitError); ok {
							os.Exit(exitErr.ExitCode())
						}
						log.Fatalf("Failed to run compiled binary.\n%s", err.Error())
					}
					return nil
				},
			},
			{
				Name:  "inspect",
				Usage: "Dumps an intermediate stage of the compiler for a source file.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "stage",
						Value:       "ir",
						Usage:       "Stage to dump: tokens, ast, or ir.",
						Destination: &inspectStage,
					},
				},
				Action: func(c *cli.Context) error {
					filename, err := singleFileArg(c)
					if err != nil {
						return err
					}

					code, err := ioutil.ReadFile(filename)
					if err != nil {
						return err
					}
					source := string(code)

					tokens, err := lexer.Lex(source)
					if err != nil {
						return err
					}
					if inspectStage == "tokens" {
						repr.Println(tokens)
						return nil
					}

					program, err := parser.Parse(source, tokens)
					if err != nil {
						return err
					}
					if inspectStage == "ast" {
						repr.Println(program)
						return nil
					}

					if inspectStage != "ir" {
						return fmt.Errorf("unknown stage '%s' (expected tokens, ast, or ir)", inspectStage)
					}
					typed, err := analyzer.Analyze(source, program)
					if err != nil {
						return err
					}
					repr.Println(typed)
					return nil
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
