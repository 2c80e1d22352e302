package main

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ruslano69/datasync/pkg/pipeline"
)

// selectPipelines resolves a comma-separated list of names ("all" selects every pipeline)
func selectPipelines(app *App, list string) ([]pipeline.Config, error) {
	if strings.TrimSpace(list) == "all" {
		if len(app.cfg.Pipelines) == 0 {
			return nil, fmt.Errorf("no pipelines configured")
		}
		return app.cfg.Pipelines, nil
	}
	var out []pipeline.Config
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		pc, ok := app.cfg.Pipeline(name)
		if !ok {
			return nil, fmt.Errorf("unknown pipeline %q", name)
		}
		out = append(out, pc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no pipeline selected")
	}
	return out, nil
}

// adhocPipeline describes a one-off run of a fetcher interface
func adhocPipeline(app *App, fetcherName, iface string, params map[string]any) (pipeline.Config, error) {
	if fetcherName == "" {
		names := app.cfg.FetcherNames()
		if len(names) != 1 {
			return pipeline.Config{}, fmt.Errorf("-fetcher is required when %d fetchers are configured", len(names))
		}
		fetcherName = names[0]
	}
	return pipeline.Config{
		Name:      iface,
		Fetcher:   fetcherName,
		Interface: iface,
		Params:    params,
		Operation: string(pipeline.OpSync),
	}, nil
}

// runPipelines executes pipelines with at most parallel runs at once.
// Runs are returned in the order of pcs. A failed run does not stop the others.
func runPipelines(ctx context.Context, app *App, pcs []pipeline.Config, parallel int) ([]*pipeline.Run, error) {
	if parallel < 1 {
		parallel = 1
	}
	runs := make([]*pipeline.Run, len(pcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, pc := range pcs {
		g.Go(func() error {
			run, err := app.Run(gctx, pc)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", pc.Name, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// summarize prints one line per run and reports whether all runs succeeded
func summarize(runs []*pipeline.Run) (string, bool) {
	var sb strings.Builder
	ok := true
	for _, run := range runs {
		if run == nil {
			continue
		}
		fmt.Fprintf(&sb, "%-24s %-10s inserted=%d updated=%d unchanged=%d failed=%d duration=%.3fs",
			run.Pipeline, run.Status, run.Counts.Inserted, run.Counts.Updated,
			run.Counts.Unchanged, run.Counts.Failed, run.Duration)
		if !run.Succeeded() {
			ok = false
		}
		if err := run.Err(); err != nil {
			fmt.Fprintf(&sb, " error=%q", err.Error())
		}
		sb.WriteByte('\n')
	}
	return sb.String(), ok
}
