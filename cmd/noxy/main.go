package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/estevaofon/noxy-vm/internal/chunk"
	"github.com/estevaofon/noxy-vm/internal/compiler"
	"github.com/estevaofon/noxy-vm/internal/natives"
	"github.com/estevaofon/noxy-vm/internal/vm"
)

const Version = "v1.0.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("Recovered from panic:", r)
			debug.PrintStack()
		}
	}()

	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: noxy [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("Noxy %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		startREPL(*showDisassembly)
		return
	}

	filename := args[0]
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %s\n", err)
		os.Exit(1)
	}

	run(string(content), *showDisassembly)
}

// run compiles and executes a complete, self-contained script.
func run(source string, showDisasm bool) {
	fn, errs := compiler.Compile(source)
	if fn == nil {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		os.Exit(65)
	}

	if showDisasm {
		fn.Chunk.(*chunk.Chunk).Disassemble("main")
		fmt.Println()
	}

	machine := vm.New()
	natives.NewRegistry().Register(machine)
	if err := machine.Interpret(fn); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(70)
	}
}

// startREPL runs a line-at-a-time prompt. Each accepted line compiles as
// its own top-level script, but the VM instance (and therefore its
// globals) is shared across lines, so declarations from earlier lines
// remain visible.
func startREPL(showDisasm bool) {
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	if interactive {
		fmt.Printf("Noxy %s\n", Version)
		fmt.Println("Type 'exit' to quit.")
	}

	machine := vm.New()
	natives.NewRegistry().Register(machine)
	scanner := bufio.NewScanner(os.Stdin)

	var buffer string
	for {
		if interactive {
			if buffer == "" {
				fmt.Print(">>> ")
			} else {
				fmt.Print("... ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if buffer == "" && strings.TrimSpace(line) == "exit" {
			break
		}
		if buffer == "" && strings.TrimSpace(line) == "" {
			continue
		}

		if buffer == "" {
			buffer = line
		} else {
			buffer += "\n" + line
		}

		source := replSource(buffer)
		fn, errs := compiler.Compile(source)
		if fn == nil {
			if incomplete(errs) {
				continue
			}
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, e.Error())
			}
			buffer = ""
			continue
		}

		if showDisasm {
			fn.Chunk.(*chunk.Chunk).Disassemble("repl")
		}
		if err := machine.Interpret(fn); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		buffer = ""
	}
}

// replSource wraps a bare expression (no trailing ';' or '}') in a print
// call so typing "1 + 2" at the prompt shows its value, the way the
// teacher's REPL auto-prints a lone ExpressionStmt.
func replSource(buffer string) string {
	trimmed := strings.TrimSpace(buffer)
	if strings.HasSuffix(trimmed, ";") || strings.HasSuffix(trimmed, "}") || trimmed == "" {
		return buffer
	}
	return "print " + buffer + ";"
}

// incomplete reports whether every compile error was raised at Eof,
// which is the signature of a statement or block the user hasn't
// finished typing yet rather than a real syntax error.
func incomplete(errs []*compiler.CompileError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !e.AtEnd {
			return false
		}
	}
	return true
}
