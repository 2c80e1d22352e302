// Command datasync fetches datasets from configured sources, cleans and
// maps them onto destination tables, and writes only new or changed rows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/config"
	"github.com/ruslano69/datasync/pkg/logging"
	"github.com/ruslano69/datasync/pkg/pipeline"
)

// Version information, set at build time via -ldflags
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	flags, err := ParseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Handle version
	if flags.Version {
		fmt.Fprintf(stdout, "datasync %s (built %s)\n", Version, BuildDate)
		return 0
	}

	// Handle config creation
	if flags.CreateConfig != "" {
		if err := createConfigTemplate(flags.Config, flags.CreateConfig); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Created sample %s config: %s\n", flags.CreateConfig, flags.Config)
		fmt.Fprintf(stdout, "Edit the file and run:\n  datasync -config %s -list\n", flags.Config)
		return 0
	}

	if !flags.commandWasSpecified() {
		fmt.Fprintln(stderr, "Error: no command specified (use -pipeline, -interface, -list or -serve)")
		return 2
	}

	cfg, err := config.LoadConfig(flags.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	logger, err := logging.NewWithWriter(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("shutdown finished with errors")
		}
	}()

	if flags.List || flags.Search != "" {
		printList(stdout, app, flags.Search)
		if !flags.Serve && flags.Pipeline == "" && flags.Interface == "" {
			return 0
		}
	}

	code := 0
	if flags.Pipeline != "" || flags.Interface != "" {
		code = runCommand(ctx, app, flags, stdout, logger)
	}

	if flags.Serve {
		addr := flags.Addr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if err := serve(ctx, addr, NewRouter(app, logger), logger); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			return 1
		}
	}
	return code
}

// runCommand runs the selected pipelines or the ad-hoc interface.
// The exit code is 1 when any run did not complete.
func runCommand(ctx context.Context, app *App, flags *Flags, stdout io.Writer, logger zerolog.Logger) int {
	var pcs []pipeline.Config
	if flags.Interface != "" {
		params, err := ParseParams(flags.Params)
		if err != nil {
			logger.Error().Err(err).Msg("invalid -params")
			return 2
		}
		pc, err := adhocPipeline(app, flags.Fetcher, flags.Interface, params)
		if err != nil {
			logger.Error().Err(err).Msg("invalid ad-hoc run")
			return 2
		}
		pcs = append(pcs, pc)
	}
	if flags.Pipeline != "" {
		selected, err := selectPipelines(app, flags.Pipeline)
		if err != nil {
			logger.Error().Err(err).Msg("invalid -pipeline")
			return 2
		}
		pcs = append(pcs, selected...)
	}

	runs, err := runPipelines(ctx, app, pcs, flags.Parallel)
	summary, ok := summarize(runs)
	fmt.Fprint(stdout, summary)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline execution failed")
		return 1
	}
	if !ok {
		return 1
	}
	return 0
}

// createConfigTemplate writes a sample configuration, never overwriting an existing file
func createConfigTemplate(path, dbType string) error {
	switch dbType {
	case "sqlite", "postgres", "mysql", "mssql":
	default:
		return fmt.Errorf("unsupported database type %q (sqlite, postgres, mysql, mssql)", dbType)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return config.Save(path, config.Sample(dbType))
}

// printList prints configured pipelines and the interfaces of every fetcher
func printList(w io.Writer, app *App, search string) {
	if search == "" {
		fmt.Fprintf(w, "Pipelines (%d):\n", len(app.cfg.Pipelines))
		for _, p := range app.cfg.Pipelines {
			fmt.Fprintf(w, "  - %s: %s/%s (%s)\n", p.Name, p.Fetcher, p.Interface, p.Operation)
		}
	}

	ifaces := app.Interfaces()
	names := make([]string, 0, len(ifaces))
	for n := range ifaces {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		var matched []string
		for _, iface := range ifaces[name] {
			if search == "" || strings.Contains(strings.ToLower(iface), strings.ToLower(search)) {
				matched = append(matched, iface)
			}
		}
		fmt.Fprintf(w, "Fetcher %s interfaces (%d):\n", name, len(matched))
		for _, iface := range matched {
			fmt.Fprintf(w, "  - %s\n", iface)
		}
	}
}
