package main

import (
	"flag"
	"io"
)

// Flags holds all command-line flags
type Flags struct {
	// Commands
	Pipeline  string
	Interface string
	List      bool
	Search    string
	Serve     bool

	// Options
	Config   string
	Fetcher  string
	Params   string
	Parallel int
	Addr     string
	LogLevel string

	// Config Creation
	CreateConfig string

	// Misc
	Version bool
}

// ParseFlags defines and parses command-line flags from args
func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("datasync", flag.ContinueOnError)
	fs.SetOutput(output)

	// Commands
	fs.StringVar(&f.Pipeline, "pipeline", "", "Run configured pipelines (comma-separated names or 'all')")
	fs.StringVar(&f.Interface, "interface", "", "Ad-hoc run of a fetcher interface (use with -params)")
	fs.BoolVar(&f.List, "list", false, "List configured pipelines and fetcher interfaces")
	fs.StringVar(&f.Search, "search", "", "List only interfaces containing the substring")
	fs.BoolVar(&f.Serve, "serve", false, "Serve /healthz, /metrics and run results over HTTP")

	// Options
	fs.StringVar(&f.Config, "config", "datasync.yaml", "Configuration file path")
	fs.StringVar(&f.Fetcher, "fetcher", "", "Fetcher for -interface (default: the only configured fetcher)")
	fs.StringVar(&f.Params, "params", "", `Interface params as JSON, e.g. '{"symbol": ".INX"}'`)
	fs.IntVar(&f.Parallel, "parallel", 1, "Maximum number of pipelines running at once")
	fs.StringVar(&f.Addr, "addr", "", "HTTP listen address for -serve (default: metrics.addr)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level override: debug, info, warn, error")

	// Config Creation
	fs.StringVar(&f.CreateConfig, "create-config", "", "Write a sample config for a database type (sqlite, postgres, mysql, mssql)")

	// Misc
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// commandWasSpecified checks if any command was specified
func (f *Flags) commandWasSpecified() bool {
	return f.Pipeline != "" || f.Interface != "" || f.List || f.Search != "" || f.Serve
}
