// Command pingback fetches URLs, sends pingbacks and serves a pingback
// endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: pingback <command> [flags] [args]

commands:
  fetch URL               print the response for URL
  send SOURCE TARGET      notify TARGET that SOURCE links to it
  send -all SOURCE        ping every link found in SOURCE
  serve                   serve the blog and its pingback endpoint
`

// env is what a running command gets besides its arguments.
type env struct {
	logger *zap.Logger
	stdout io.Writer
}

// command registers its flags on fs and returns the function that runs it.
type command func(fs *flag.FlagSet) func(ctx context.Context, args []string, e env) error

var commands = map[string]command{
	"fetch": fetchCmd,
	"send":  sendCmd,
	"serve": serveCmd,
}

// errUsage marks errors caused by bad arguments.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "pingback: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	fs := flag.NewFlagSet("pingback "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "log debug output")
	exec := cmd(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := newLogger(stderr, *verbose)
	defer logger.Sync()

	if err := exec(ctx, fs.Args(), env{logger: logger, stdout: stdout}); err != nil {
		fmt.Fprintf(stderr, "pingback %s: %v\n", args[0], err)
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		return 1
	}
	return 0
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// newLogger writes development style console logs to w. Debug output is
// enabled by verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return zap.New(core)
}
