// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

// Command pkgutil expands Apple-style installer package archives into a
// directory tree.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/cerisier/pkgutil"
)

// exit codes per the tool contract.
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses arguments and drives one expansion.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, errHelpRequested) {
			usage(stdout)
			return exitOK
		}

		fmt.Fprintf(stderr, "pkgutil: %v\n", err)
		usage(stderr)
		return exitUsage
	}

	opts := pkgutil.ExpandOptions{
		Mode:            cfg.mode,
		Force:           cfg.force,
		Include:         cfg.include,
		Exclude:         cfg.exclude,
		StripComponents: cfg.strip,
	}

	if cfg.verbose {
		opts.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		opts.OnEntryDone = func(logicalPath string, written int64, outputPath string) {
			fmt.Fprintf(stderr, "%s -> %s (%s)\n",
				logicalPath, outputPath, humanize.Bytes(uint64(written)))
		}
	}

	if err := pkgutil.Expand(cfg.archive, cfg.outDir, opts); err != nil {
		fmt.Fprintf(stderr, "pkgutil: %v\n", err)
		return exitRuntime
	}

	return exitOK
}

// usage writes the usage guide.
func usage(out io.Writer) {
	fmt.Fprint(out, `Usage: pkgutil [OPTIONS] ARCHIVE DIR

Expand an installer package archive (use "-" to read it from stdin).

Options:
  --expand, -X            Write flat package entries to DIR
  --expand-full, -E       Fully expand package contents to DIR
  --force, -f             Overwrite existing outputs, drop ownership preservation
  --include PATTERN       Extract only paths matching PATTERN (repeatable)
  --exclude PATTERN       Skip paths matching PATTERN (repeatable)
  --strip-components N    Remove N leading path segments from entry paths
  --verbose, -v           Show contextual information and per-entry progress
  --help, -h              Show this usage guide
`)
}

// errHelpRequested signals that -h/--help was given.
var errHelpRequested = errors.New("help requested")

// config holds one parsed invocation.
type config struct {
	archive string
	outDir  string
	include []string
	exclude []string
	mode    pkgutil.ExpandMode
	strip   int
	force   bool
	verbose bool
	hasMode bool
}

// parseArgs converts raw arguments into a config, validating the contract:
// exactly one of --expand/--expand-full, then an archive path and an
// output directory.
func parseArgs(args []string) (*config, error) {
	cfg := &config{}
	parser := newArgParser(args)

	for {
		opt, arg, ok, err := parser.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		switch opt {
		case "expand":
			cfg.mode = pkgutil.ModeFlat
			cfg.hasMode = true
		case "expand-full":
			cfg.mode = pkgutil.ModeFull
			cfg.hasMode = true
		case "force":
			cfg.force = true
		case "verbose":
			cfg.verbose = true
		case "help":
			return nil, errHelpRequested
		case "include":
			cfg.include = append(cfg.include, arg)
		case "exclude":
			cfg.exclude = append(cfg.exclude, arg)
		case "strip-components":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid --strip-components value %q", arg)
			}

			cfg.strip = n
		}
	}

	if !cfg.hasMode {
		return nil, errors.New("one of --expand or --expand-full is required")
	}

	positional := parser.rest()
	if len(positional) != 2 {
		return nil, fmt.Errorf("expected ARCHIVE and DIR, got %d arguments", len(positional))
	}

	cfg.archive = positional[0]
	cfg.outDir = positional[1]
	return cfg, nil
}

// option describes one recognized flag.
type option struct {
	name     string
	short    byte
	takesArg bool
}

// options is the closed set of recognized flags.
var options = []option{
	{name: "expand", short: 'X'},
	{name: "expand-full", short: 'E'},
	{name: "force", short: 'f'},
	{name: "verbose", short: 'v'},
	{name: "help", short: 'h'},
	{name: "include", takesArg: true},
	{name: "exclude", takesArg: true},
	{name: "strip-components", takesArg: true},
}

// argParser yields one option token per call. All cursor state lives in the
// parser value; nothing is shared between invocations.
type argParser struct {
	args   []string
	shorts string
	index  int
	done   bool
}

// newArgParser returns a parser positioned at the first argument.
func newArgParser(args []string) *argParser {
	return &argParser{args: args}
}

// next returns the canonical long name of the next option and its argument
// when the option takes one. ok is false once only positional arguments
// remain; "--" terminates option parsing.
func (p *argParser) next() (string, string, bool, error) {
	if len(p.shorts) > 0 {
		return p.nextShort()
	}
	if p.done || p.index >= len(p.args) {
		p.done = true
		return "", "", false, nil
	}

	word := p.args[p.index]
	switch {
	case word == "--":
		p.index++
		p.done = true
		return "", "", false, nil
	case strings.HasPrefix(word, "--"):
		p.index++
		return p.nextLong(word[2:])
	case len(word) > 1 && word[0] == '-':
		p.index++
		p.shorts = word[1:]
		return p.nextShort()
	default:
		p.done = true
		return "", "", false, nil
	}
}

// rest returns the remaining positional arguments.
func (p *argParser) rest() []string {
	if p.index > len(p.args) {
		return nil
	}

	return p.args[p.index:]
}

// nextLong resolves one --long or --long=arg token. Unambiguous prefixes
// of a long name are accepted.
func (p *argParser) nextLong(word string) (string, string, bool, error) {
	name, inline, hasInline := strings.Cut(word, "=")

	var match *option
	for i := range options {
		if options[i].name == name {
			match = &options[i]
			break
		}

		if strings.HasPrefix(options[i].name, name) {
			if match != nil {
				return "", "", false, fmt.Errorf("ambiguous option --%s", name)
			}

			match = &options[i]
		}
	}
	if match == nil {
		return "", "", false, fmt.Errorf("unknown option --%s", name)
	}

	if !match.takesArg {
		if hasInline {
			return "", "", false, fmt.Errorf("option --%s takes no argument", match.name)
		}

		return match.name, "", true, nil
	}

	if hasInline {
		return match.name, inline, true, nil
	}
	if p.index >= len(p.args) {
		return "", "", false, fmt.Errorf("option --%s requires an argument", match.name)
	}

	arg := p.args[p.index]
	p.index++
	return match.name, arg, true, nil
}

// nextShort resolves one bundled short option.
func (p *argParser) nextShort() (string, string, bool, error) {
	short := p.shorts[0]
	p.shorts = p.shorts[1:]

	for i := range options {
		if options[i].short == short {
			return options[i].name, "", true, nil
		}
	}

	return "", "", false, fmt.Errorf("unknown option -%c", short)
}
