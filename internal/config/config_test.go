package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
log:
  level: debug
  format: console
metrics:
  port: 9100
database:
  driver: sqlite
  dsn: /tmp/collector.db
  max_conns: 8
  max_conn_lifetime: 5m
  transaction_mode: item
http:
  max_retries: 3
  backoff_seconds: 0.5
laws:
  oc: law-key
  default_page_size: 20
  default_sort: lasc
  static_params:
    nw: "3"
precedents:
  search_endpoint: precList.do
  detail_endpoint: precService.do
archive:
  provider: local
  local_dir: /tmp/pages
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Port != 9100 {
		t.Fatalf("metrics.port = %d", cfg.Metrics.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.MaxConns != 8 {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.MaxConnLifetime != 5*time.Minute {
		t.Fatalf("max_conn_lifetime = %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Database.TransactionMode != TransactionPerItem {
		t.Fatalf("transaction_mode = %q", cfg.Database.TransactionMode)
	}
	if cfg.HTTP.MaxRetries != 3 || cfg.HTTP.BackoffSeconds != 0.5 {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.Laws.DefaultPageSize != 20 || cfg.Laws.DefaultSort != "lasc" {
		t.Fatalf("unexpected laws config: %+v", cfg.Laws)
	}
	if cfg.Laws.StaticParams["nw"] != "3" {
		t.Fatalf("static params = %v", cfg.Laws.StaticParams)
	}
	if cfg.Precedents.SearchEndpoint != "precList.do" || cfg.Precedents.DetailEndpoint != "precService.do" {
		t.Fatalf("unexpected precedents config: %+v", cfg.Precedents)
	}
	if cfg.Archive.Provider != "local" || cfg.Archive.LocalDir != "/tmp/pages" {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
}

func TestLoadDefaultsAndPrecedentFallbacks(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
database:
  dsn: postgres://localhost/collector
laws:
  oc: shared-key
  base_url: https://api.example.test/DRF/
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Precedents.BaseURL != "https://api.example.test/DRF/" {
		t.Fatalf("precedents.base_url = %q", cfg.Precedents.BaseURL)
	}
	if cfg.Precedents.OC != "shared-key" {
		t.Fatalf("precedents.oc = %q", cfg.Precedents.OC)
	}
	if cfg.Laws.SearchEndpoint != "lawSearch.do" || cfg.Laws.DetailEndpoint != "lawService.do" {
		t.Fatalf("unexpected law endpoints: %+v", cfg.Laws)
	}
	if cfg.Laws.PageSizeParam != "display" || cfg.Precedents.QueryParam != "search" {
		t.Fatalf("unexpected param names: %q %q", cfg.Laws.PageSizeParam, cfg.Precedents.QueryParam)
	}
	if cfg.Precedents.DetailEndpoint != "" {
		t.Fatalf("precedents.detail_endpoint should default to empty")
	}
	if cfg.Laws.Timeout() != 15*time.Second || cfg.Laws.RateLimitRPS != 3 {
		t.Fatalf("unexpected pacing defaults: %v %v", cfg.Laws.Timeout(), cfg.Laws.RateLimitRPS)
	}
	if cfg.HTTP.MaxRetries != 5 || cfg.Database.TransactionMode != TransactionPerRun {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.HTTP, cfg.Database)
	}
}

func TestLoadStaticParamsFromEnv(t *testing.T) {
	t.Setenv("COLLECTOR_DATABASE_DSN", "postgres://env/collector")
	t.Setenv("COLLECTOR_LAWS_OC", "env-key")
	t.Setenv("COLLECTOR_LAWS_STATIC_PARAMS", "nw=3, efYd=20240101,broken")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://env/collector" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	want := map[string]string{"nw": "3", "efYd": "20240101"}
	if len(cfg.Laws.StaticParams) != len(want) {
		t.Fatalf("static params = %v", cfg.Laws.StaticParams)
	}
	for k, v := range want {
		if cfg.Laws.StaticParams[k] != v {
			t.Fatalf("static param %s = %q, want %q", k, cfg.Laws.StaticParams[k], v)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"dsn": `
laws:
  oc: key
`,
		"database.driver": `
database:
  driver: mysql
  dsn: x
laws:
  oc: key
`,
		"transaction_mode": `
database:
  dsn: x
  transaction_mode: page
laws:
  oc: key
`,
		"laws.oc": `
database:
  dsn: x
`,
		"archive.gcs_bucket": `
database:
  dsn: x
laws:
  oc: key
archive:
  provider: gcs
`,
		"publisher": `
database:
  dsn: x
laws:
  oc: key
publisher:
  provider: kafka
`,
	}
	for want, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil {
			t.Fatalf("expected error mentioning %q", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseKeyValuePairs(t *testing.T) {
	t.Parallel()

	got := ParseKeyValuePairs(" a = 1 ,b=,=c,d")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "" {
		t.Fatalf("ParseKeyValuePairs() = %v", got)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Precedents.OC != cfg.Laws.OC || cfg.Precedents.BaseURL != cfg.Laws.BaseURL {
		t.Fatalf("precedents did not inherit laws endpoint: %+v", cfg.Precedents)
	}
	if cfg.Precedents.DetailEndpoint != "" {
		t.Fatalf("precedents.detail_endpoint = %q", cfg.Precedents.DetailEndpoint)
	}
}
