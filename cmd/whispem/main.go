// Command whispem runs whispem source files and provides an
// interactive REPL, wiring the lexer, parser, compiler, and VM into a
// single executable.
package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"

	"whispem/internal/ast"
	"whispem/internal/chunk"
	"whispem/internal/compiler"
	"whispem/internal/langerr"
	"whispem/internal/lexer"
	"whispem/internal/parser"
	"whispem/internal/vm"
)

const version = "0.1.0"

func main() {
	log := newLogger(false)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("panic: %v", r)
			os.Exit(1)
		}
	}()

	root := newRootCmd(log)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&easy.Formatter{
		TimestampFormat: "15:04:05",
		LogFormat:       "[%lvl%] %time% %msg%\n",
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	var dump bool
	var verbose bool
	var showVersion bool

	cmd := &cobra.Command{
		Use:           "whispem [file]",
		Short:         "whispem compiles and runs whispem scripts",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			if showVersion {
				fmt.Println("whispem " + version)
				return nil
			}
			if len(args) == 0 {
				return runREPL(log)
			}
			return runFile(log, args[0], dump)
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "disassemble the program instead of running it")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "emit debug-level compiler/VM logging to stderr")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the version and exit")
	return cmd
}

// compileSource runs the lexer, parser, and compiler over src,
// returning the joined lex/parse errors (if any) or the single
// compile error.
func compileSource(log *logrus.Logger, src string) (*chunk.Chunk, map[string]*chunk.Chunk, error) {
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if err := p.Errors(); err != nil {
		return nil, nil, err
	}
	return compiler.New(log).Compile(program)
}

func runFile(log *logrus.Logger, path string, dump bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: Error: %s\n", path, err)
		return err
	}

	main, functions, err := compileSource(log, string(src))
	if err != nil {
		printFileError(path, err)
		return err
	}

	if dump {
		main.Disassemble(os.Stdout, main.Name)
		names := make([]string, 0, len(functions))
		for name := range functions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			functions[name].Disassemble(os.Stdout, name)
		}
		return nil
	}

	machine := vm.New(os.Stdout, os.Stdin, log)
	machine.RegisterFunctions(functions)
	if err := machine.Run(main); err != nil {
		printFileError(path, err)
		return err
	}
	return nil
}

// printFileError prints one stderr line per underlying error (a
// compile/runtime failure is always one error; a lex/parse failure
// may be a multierror bundling several).
func printFileError(filename string, err error) {
	for _, line := range strings.Split(formatLangErr(err), "\n") {
		fmt.Fprintf(os.Stderr, "%s: %s\n", filename, line)
	}
}

// formatLangErr renders err per the spec's stderr format: "[line L,
// col C] Error: msg" when a span is known, else "Error: msg". A
// multierror.Error is expanded to one such line per wrapped error.
func formatLangErr(err error) string {
	if me, ok := err.(*multierror.Error); ok {
		lines := make([]string, len(me.Errors))
		for i, e := range me.Errors {
			lines[i] = formatSingleErr(e)
		}
		return strings.Join(lines, "\n")
	}
	return formatSingleErr(err)
}

func formatSingleErr(err error) string {
	if le, ok := err.(*langerr.Error); ok {
		if le.HasSpan() {
			return fmt.Sprintf("[line %d, col %d] Error: %s", le.Span.Line, le.Span.Column, le.Message)
		}
		return fmt.Sprintf("Error: %s", le.Message)
	}
	return fmt.Sprintf("Error: %s", err)
}

func runREPL(log *logrus.Logger) error {
	historyFile := ""
	if dir, err := os.UserCacheDir(); err == nil {
		path := dir + "/whispem"
		if os.MkdirAll(path, 0o755) == nil {
			historyFile = path + "/history"
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	machine := vm.New(os.Stdout, os.Stdin, log)

	for {
		entry, ok := readREPLEntry(rl)
		if !ok {
			return nil
		}
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "exit" || entry == "quit" {
			return nil
		}

		program, err := parseREPLEntry(entry)
		if err != nil {
			fmt.Fprintln(os.Stderr, formatLangErr(err))
			continue
		}
		sugarPrintLoneExpression(program)

		main, functions, err := compiler.New(log).Compile(program)
		if err != nil {
			fmt.Fprintln(os.Stderr, formatLangErr(err))
			continue
		}
		machine.RegisterFunctions(functions)
		if err := machine.Run(main); err != nil {
			fmt.Fprintln(os.Stderr, formatLangErr(err))
		}
	}
}

func parseREPLEntry(entry string) (*ast.Program, error) {
	l := lexer.New(entry)
	p := parser.New(l)
	program := p.ParseProgram()
	if err := p.Errors(); err != nil {
		return nil, err
	}
	return program, nil
}

// sugarPrintLoneExpression rewrites a REPL entry consisting of exactly
// one bare expression statement into an implicit print, so evaluating
// `1 + 2` at the prompt echoes `3` without requiring `print`.
func sugarPrintLoneExpression(program *ast.Program) {
	if len(program.Statements) != 1 {
		return
	}
	exprStmt, ok := program.Statements[0].(*ast.ExpressionStmt)
	if !ok {
		return
	}
	program.Statements[0] = &ast.PrintStmt{Token: exprStmt.Token, Value: exprStmt.Expression}
}

// readREPLEntry reads one logical REPL entry: a single line, or, if
// that line ends with '{', successive lines (prompted with "... ")
// until a line containing only '}' closes the block.
func readREPLEntry(rl *readline.Instance) (string, bool) {
	line, err := rl.Readline()
	if err == readline.ErrInterrupt {
		return "", true
	}
	if err != nil {
		return "", false
	}
	if !strings.HasSuffix(strings.TrimSpace(line), "{") {
		return line, true
	}

	rl.SetPrompt("... ")
	defer rl.SetPrompt(">>> ")

	var buf strings.Builder
	buf.WriteString(line)
	buf.WriteByte('\n')
	for {
		next, err := rl.Readline()
		if err == readline.ErrInterrupt {
			return "", true
		}
		if err != nil {
			return buf.String(), true
		}
		buf.WriteString(next)
		buf.WriteByte('\n')
		if strings.TrimSpace(next) == "}" {
			break
		}
	}
	return buf.String(), true
}
