package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/funvibe/rulevm/internal/config"
	"github.com/funvibe/rulevm/pkg/rulevm"
)

// isWorldFile checks if a file has a recognized world definition extension
func isWorldFile(path string) bool {
	for _, ext := range config.WorldFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

const usageText = `Usage: rulevm [options] [query]

Options:
  --world <file>     load a YAML world definition
  --snapshot <file>  load a SQLite snapshot
  --verbose          enable debug logging
  --help             show this help

With a query argument the query runs once and the results are printed.
Without one, rulevm starts an interactive shell:

  <query>            run a query
  \plan <query>      print the compiled program
  \save <file>       write a snapshot of the world
  \quit              exit
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	os.Exit(2)
}

func main() {
	var worldPath, snapshotPath, query string
	verbose := false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--world":
			i++
			if i >= len(args) {
				usage()
			}
			worldPath = args[i]
		case "--snapshot":
			i++
			if i >= len(args) {
				usage()
			}
			snapshotPath = args[i]
		case "--verbose":
			verbose = true
		case "--help", "-h":
			usage()
		default:
			if strings.HasPrefix(arg, "-") || query != "" {
				usage()
			}
			query = arg
		}
	}

	var opts []rulevm.WorldOption
	if verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "rulevm: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
		opts = append(opts, rulevm.WithLogger(log))
	}

	w, err := loadWorld(worldPath, snapshotPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rulevm: %v\n", err)
		os.Exit(1)
	}

	if query != "" {
		if !runQuery(w, query) {
			os.Exit(1)
		}
		return
	}

	repl(w)
}

func loadWorld(worldPath, snapshotPath string, opts []rulevm.WorldOption) (*rulevm.World, error) {
	switch {
	case worldPath != "" && snapshotPath != "":
		return nil, fmt.Errorf("--world and --snapshot are mutually exclusive")
	case worldPath != "":
		if !isWorldFile(worldPath) {
			fmt.Fprintf(os.Stderr, "rulevm: warning: %s does not look like a world file\n", worldPath)
		}
		return rulevm.LoadWorldFile(worldPath, opts...)
	case snapshotPath != "":
		return rulevm.LoadSnapshot(snapshotPath, opts...)
	default:
		return rulevm.NewWorld(opts...), nil
	}
}

// runQuery compiles and runs a single query, printing one line per result.
func runQuery(w *rulevm.World, query string) bool {
	r, err := rulevm.Compile(w, query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return false
	}

	n := 0
	it := r.Iter()
	for it.Next() {
		n++
		fmt.Println(formatResult(w, r, it))
	}
	if n == 0 {
		fmt.Println("no results")
		return true
	}
	return true
}

// formatResult renders one yielded row: the matched entities plus every
// named variable's value.
func formatResult(w *rulevm.World, r *rulevm.Rule, it *rulevm.Iter) string {
	var sb strings.Builder

	if it.Count == 0 {
		sb.WriteString("true")
	} else {
		names := make([]string, 0, it.Count)
		for _, e := range it.Entities[:it.Count] {
			names = append(names, entityName(w, e))
		}
		sb.WriteString(strings.Join(names, ", "))
	}

	for v := 0; v < r.VariableCount(); v++ {
		if !r.VariableIsEntity(v) || strings.HasPrefix(r.VariableName(v), "_") {
			continue
		}
		if r.VariableName(v) == "." {
			continue
		}
		fmt.Fprintf(&sb, "  %s=%s", r.VariableName(v), entityName(w, it.Variable(v)))
	}

	return sb.String()
}

func entityName(w *rulevm.World, e rulevm.Id) string {
	if name := w.NameOf(e); name != "" {
		return name
	}
	return e.String()
}

func repl(w *rulevm.World) {
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	colored := isatty.IsTerminal(os.Stdout.Fd())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("rulevm> ")
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == `\quit`, line == `\q`:
			return
		case strings.HasPrefix(line, `\plan `):
			printPlan(w, strings.TrimSpace(line[len(`\plan`):]), colored)
		case strings.HasPrefix(line, `\save `):
			path := strings.TrimSpace(line[len(`\save`):])
			if err := rulevm.SaveSnapshot(w, path); err != nil {
				fmt.Fprintln(os.Stderr, err)
			} else {
				fmt.Printf("saved %s\n", path)
			}
		case strings.HasPrefix(line, `\`):
			fmt.Fprintf(os.Stderr, "unknown command %s\n", line)
		default:
			runQuery(w, line)
		}
	}
}

func printPlan(w *rulevm.World, query string, colored bool) {
	r, err := rulevm.Compile(w, query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	plan := r.String()
	if !colored {
		fmt.Print(plan)
		return
	}

	// Highlight the mnemonic column when writing to a terminal.
	for _, line := range strings.Split(strings.TrimRight(plan, "\n"), "\n") {
		if i := strings.Index(line, "] "); i != -1 && len(line) > i+11 {
			fmt.Printf("%s] \x1b[36m%s\x1b[0m%s\n", line[:i], line[i+2:i+11], line[i+11:])
		} else {
			fmt.Println(line)
		}
	}
}
