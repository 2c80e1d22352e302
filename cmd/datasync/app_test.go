package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/config"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/pipeline"
)

const testConfig = `
database:
  type: sqlite
  dsn: %s
  key_columns:
    prices: [ticker]
logging:
  level: error
  format: json
fetchers:
  demo:
    type: static
    params:
      interfaces:
        quotes:
          - {ticker: AAA, price: 1.5}
          - {ticker: BBB, price: 2.5}
cleaner:
  type: passthrough
transform:
  mappings:
    quotes:
      table_name: prices
      transformers:
        ticker: lower
pipelines:
  - name: quotes
    fetcher: demo
    interface: quotes
audit:
  enabled: true
  level: standard
  file:
    path: %s
  table: datasync_audit
state:
  path: %s
  auto_save: true
`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "audit.jsonl")
	body := fmt.Sprintf(testConfig,
		filepath.Join(dir, "dest.db"), auditPath, filepath.Join(dir, "state.json"))
	path := filepath.Join(dir, "datasync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, auditPath
}

func TestRun_PipelineTwice(t *testing.T) {
	cfgPath, auditPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-pipeline", "all"}, &stdout, &stderr); code != 0 {
		t.Fatalf("first run exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "inserted=2") {
		t.Errorf("first run summary = %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"-config", cfgPath, "-pipeline", "quotes"}, &stdout, &stderr); code != 0 {
		t.Fatalf("second run exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "inserted=0 updated=0 unchanged=2") {
		t.Errorf("second run summary = %q", stdout.String())
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("audit file: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"write"`) {
		t.Errorf("audit file has no write entry: %s", data)
	}
}

func TestRun_AdhocInterface(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", cfgPath, "-interface", "quotes", "-params", `{'day': '2024-01-02'}`}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "quotes") || !strings.Contains(stdout.String(), "completed") {
		t.Errorf("summary = %q", stdout.String())
	}
}

func TestRun_UnknownInterfaceFails(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-interface", "missing"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "failed") {
		t.Errorf("summary = %q", stdout.String())
	}
}

func TestRun_ListAndErrors(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-list"}, &stdout, &stderr); code != 0 {
		t.Fatalf("list exit code = %d, stderr: %s", code, stderr.String())
	}
	for _, want := range []string{"quotes: demo/quotes (sync)", "Fetcher demo interfaces (1):"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("list output missing %q:\n%s", want, stdout.String())
		}
	}

	if code := run([]string{"-config", cfgPath}, &stdout, &stderr); code != 2 {
		t.Errorf("no command exit code = %d, want 2", code)
	}
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "none.yaml"), "-list"}, &stdout, &stderr); code != 1 {
		t.Errorf("missing config exit code = %d, want 1", code)
	}
	if code := run([]string{"-config", cfgPath, "-pipeline", "nope"}, &stdout, &stderr); code != 2 {
		t.Errorf("unknown pipeline exit code = %d, want 2", code)
	}
}

func TestRun_CreateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", path, "-create-config", "sqlite"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if cfg.Database.Conn.Type != "sqlite" {
		t.Errorf("database type = %q", cfg.Database.Conn.Type)
	}

	if code := run([]string{"-config", path, "-create-config", "sqlite"}, &stdout, &stderr); code != 1 {
		t.Errorf("overwrite exit code = %d, want 1", code)
	}
	if code := run([]string{"-config", path + ".2", "-create-config", "oracle"}, &stdout, &stderr); code != 1 {
		t.Errorf("unsupported type exit code = %d, want 1", code)
	}
}

func TestRouter(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close(ctx)

	srv := httptest.NewServer(NewRouter(app, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/last/quotes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("last run before any run: status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/pipelines/quotes/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var run pipeline.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || run.Status != pipeline.StatusCompleted || run.Counts.Inserted != 2 {
		t.Errorf("run: status = %d, run = %+v", resp.StatusCode, run)
	}

	resp, err = http.Get(srv.URL + "/runs/last/quotes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var last pipeline.Run
	if err := json.NewDecoder(resp.Body).Decode(&last); err != nil {
		t.Fatalf("decode last: %v", err)
	}
	resp.Body.Close()
	if last.ID != run.ID {
		t.Errorf("last run id = %q, want %q", last.ID, run.ID)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), `datasync_rows_total{op="insert",table="prices"} 2`) {
		t.Errorf("metrics missing rows counter:\n%s", body.String())
	}

	resp, err = http.Get(srv.URL + "/breakers")
	if err != nil {
		t.Fatalf("GET breakers: %v", err)
	}
	var breakers map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&breakers); err != nil {
		t.Fatalf("decode breakers: %v", err)
	}
	resp.Body.Close()
	if _, ok := breakers["demo"]["static/quotes"]; !ok {
		t.Errorf("breakers = %v, want demo static/quotes entry", breakers)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/pipelines/nope/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown pipeline status = %d, want 404", resp.StatusCode)
	}
}

// busyAdapter always fails introspection with a transient error
type busyAdapter struct {
	adapters.Adapter
	introspections int
	probes         int
}

func (b *busyAdapter) GetTableSchema(context.Context, string) (schema.Table, error) {
	b.introspections++
	return schema.Table{}, syncerr.New(syncerr.KindTransient, "test", "database is locked")
}

func (b *busyAdapter) ProbeTableSchema(_ context.Context, table string) (schema.Table, error) {
	b.probes++
	return schema.NewBuilder(table).AddColumn("ticker", schema.ColumnType{Type: schema.TypeText}).Build(), nil
}

func (b *busyAdapter) ClassifyError(error) syncerr.Kind { return syncerr.KindUnknown }

func TestNewCatalog_UsesDatabaseSettings(t *testing.T) {
	for _, retries := range []int{1, 2} {
		t.Run(fmt.Sprintf("retry_count=%d", retries), func(t *testing.T) {
			a := &busyAdapter{}
			db := config.DatabaseConfig{KeyColumns: map[string][]string{"prices": {"ticker"}}}
			db.Store.RetryCount = retries

			cat := newCatalog(a, db, zerolog.Nop())
			if _, err := cat.Get(context.Background(), "prices"); err != nil {
				t.Fatalf("Get: %v", err)
			}
			if a.introspections != retries || a.probes != 1 {
				t.Errorf("introspection/probe calls = %d/%d, want %d/1", a.introspections, a.probes, retries)
			}
			if got := cat.ResolveKey("prices", []string{"ticker", "price"}); len(got) != 1 || got[0] != "ticker" {
				t.Errorf("ResolveKey = %v, want [ticker]", got)
			}
		})
	}
}
