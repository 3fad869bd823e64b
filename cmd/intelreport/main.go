// main.go - Command line entry point for intelreport
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"intelreport/internal"
	"intelreport/internal/report"
	"intelreport/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&RunCommand{out: os.Stdout},
	&ServeCommand{},
	&MigrateCommand{},
	&ImportCommand{in: os.Stdin},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}
	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	err = cmd.Execute(ctx, app, args)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()
	if serr := app.Shutdown(shutdownCtx); serr != nil {
		log.Printf("Warning: Cleanup error: %v", serr)
	}

	if err != nil {
		log.Printf("Command %s failed: %v", cmd.Name(), err)
		os.Exit(exitCode(err))
	}
}

// RunCommand builds one report and prints it
type RunCommand struct {
	out io.Writer
}

func (c *RunCommand) interactive() bool {
	f, ok := c.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *RunCommand) Name() string        { return "run" }
func (c *RunCommand) Description() string { return "Builds a report: run --period daily|weekly|monthly [--test] [--format json|text|html]" }

func (c *RunCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	periodName := fs.String("period", string(timeframe.PeriodDaily), "report period: daily, weekly or monthly")
	test := fs.Bool("test", false, "build the report without dispatching or archiving it")
	formatName := fs.String("format", "", "output format: json, text or html (default text on a terminal, json otherwise)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	period, err := timeframe.ParsePeriod(*periodName)
	if err != nil {
		return &report.ConfigurationError{Field: "period", Reason: err.Error()}
	}
	format, err := report.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	if *formatName == "" && c.interactive() {
		format = report.FormatText
	}

	res, err := app.Pipeline.Run(ctx, report.RunOptions{Period: period, Test: *test})
	if err != nil {
		return err
	}

	body, err := report.Encode(res, format)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := c.out.Write(append(body, '\n')); err != nil {
		return err
	}

	if !res.Dispatch.OK() {
		log.Printf("Dispatch failed: %s", res.Dispatch.Error)
	}
	return nil
}

// ServeCommand runs the HTTP trigger server until a signal arrives
type ServeCommand struct{}

func (c *ServeCommand) Name() string        { return "serve" }
func (c *ServeCommand) Description() string { return "Serves report triggers, /health and /metrics over HTTP and runs scheduled reports" }

func (c *ServeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	srv := app.NewServer()

	if app.Config.ScheduleEnabled {
		scheduler, err := app.NewScheduler()
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(":" + app.Config.GetPort())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("Server shutdown complete")
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// ImportCommand loads newline-delimited JSON events into the sqlite store
type ImportCommand struct {
	in io.Reader
}

func (c *ImportCommand) Name() string        { return "import" }
func (c *ImportCommand) Description() string { return "Imports NDJSON events from a file, or stdin when none is given" }

func (c *ImportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	in := c.in
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	result, err := app.Importer().Import(in)
	if err != nil {
		return err
	}
	log.Printf("Imported %d of %d events (%d duplicates, %d invalid)",
		result.Inserted, result.Read, result.Duplicates, result.Invalid)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage(os.Stdout)
	return nil
}

// Helper functions

// exitCode distinguishes configuration problems from runtime failures.
func exitCode(err error) int {
	var cfgErr *report.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return 2
	case errors.Is(err, report.ErrRunTimeout):
		return 3
	default:
		return 1
	}
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: intelreport [command] [args...]")
	fmt.Fprintln(w, "Available commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage(os.Stdout)
	os.Exit(1)
}
