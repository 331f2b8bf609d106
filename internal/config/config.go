// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Transaction modes for database.transaction_mode.
const (
	TransactionPerRun  = "run"
	TransactionPerItem = "item"
)

// Config captures all collector configuration knobs loaded via Viper.
type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Database   DatabaseConfig  `mapstructure:"database"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Laws       APIConfig       `mapstructure:"laws"`
	Precedents APIConfig       `mapstructure:"precedents"`
	Archive    ArchiveConfig   `mapstructure:"archive"`
	Publisher  PublisherConfig `mapstructure:"publisher"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig controls access to the record store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TransactionMode string        `mapstructure:"transaction_mode"`
}

// HTTPConfig configures retry behavior shared by every API client.
type HTTPConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffSeconds    float64 `mapstructure:"backoff_seconds"`
	MaxBackoffSeconds float64 `mapstructure:"max_backoff_seconds"`
}

// APIConfig describes one upstream endpoint family and its query parameter names.
type APIConfig struct {
	BaseURL         string            `mapstructure:"base_url"`
	OC              string            `mapstructure:"oc"`
	UserAgent       string            `mapstructure:"user_agent"`
	SearchEndpoint  string            `mapstructure:"search_endpoint"`
	DetailEndpoint  string            `mapstructure:"detail_endpoint"`
	DetailIDParam   string            `mapstructure:"detail_id_param"`
	Target          string            `mapstructure:"target"`
	DetailTarget    string            `mapstructure:"detail_target"`
	Type            string            `mapstructure:"type"`
	QueryParam      string            `mapstructure:"query_param"`
	PageParam       string            `mapstructure:"page_param"`
	PageSizeParam   string            `mapstructure:"page_size_param"`
	SortParam       string            `mapstructure:"sort_param"`
	DefaultSort     string            `mapstructure:"default_sort"`
	StartDateParam  string            `mapstructure:"start_date_param"`
	EndDateParam    string            `mapstructure:"end_date_param"`
	DefaultPageSize int               `mapstructure:"default_page_size"`
	RequestTimeout  float64           `mapstructure:"request_timeout_seconds"`
	RateLimitRPS    float64           `mapstructure:"rate_limit_rps"`
	StaticParams    map[string]string `mapstructure:"static_params"`
}

// Timeout converts the per-request timeout to a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.RequestTimeout * float64(time.Second))
}

// ArchiveConfig selects where raw list pages are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig selects where record notifications are published.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		keyValueHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyPrecedentFallbacks()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.port", 8000)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.transaction_mode", TransactionPerRun)

	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_seconds", 1.0)
	v.SetDefault("http.max_backoff_seconds", 30.0)

	v.SetDefault("laws.base_url", "https://www.law.go.kr/DRF/")
	v.SetDefault("laws.oc", "")
	v.SetDefault("laws.user_agent", "lawdata-collector/0.1")
	v.SetDefault("laws.search_endpoint", "lawSearch.do")
	v.SetDefault("laws.detail_endpoint", "lawService.do")
	v.SetDefault("laws.detail_id_param", "ID")
	v.SetDefault("laws.target", "law")
	v.SetDefault("laws.detail_target", "law")
	v.SetDefault("laws.type", "JSON")
	v.SetDefault("laws.query_param", "query")
	v.SetDefault("laws.page_param", "page")
	v.SetDefault("laws.page_size_param", "display")
	v.SetDefault("laws.sort_param", "sort")
	v.SetDefault("laws.default_sort", "")
	v.SetDefault("laws.default_page_size", 100)
	v.SetDefault("laws.request_timeout_seconds", 15.0)
	v.SetDefault("laws.rate_limit_rps", 3.0)
	v.SetDefault("laws.static_params", map[string]string{})

	v.SetDefault("precedents.base_url", "")
	v.SetDefault("precedents.oc", "")
	v.SetDefault("precedents.user_agent", "lawdata-collector/0.1")
	v.SetDefault("precedents.search_endpoint", "precSearch.do")
	v.SetDefault("precedents.detail_endpoint", "")
	v.SetDefault("precedents.detail_id_param", "ID")
	v.SetDefault("precedents.target", "prec")
	v.SetDefault("precedents.detail_target", "prec")
	v.SetDefault("precedents.type", "JSON")
	v.SetDefault("precedents.query_param", "search")
	v.SetDefault("precedents.page_param", "page")
	v.SetDefault("precedents.page_size_param", "display")
	v.SetDefault("precedents.sort_param", "sort")
	v.SetDefault("precedents.default_sort", "")
	v.SetDefault("precedents.start_date_param", "startDate")
	v.SetDefault("precedents.end_date_param", "endDate")
	v.SetDefault("precedents.default_page_size", 100)
	v.SetDefault("precedents.request_timeout_seconds", 15.0)
	v.SetDefault("precedents.rate_limit_rps", 3.0)
	v.SetDefault("precedents.static_params", map[string]string{})

	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "")
}

// applyPrecedentFallbacks reuses the statute endpoint and key when the
// precedent ones are unset.
func (c *Config) applyPrecedentFallbacks() {
	if c.Precedents.BaseURL == "" {
		c.Precedents.BaseURL = c.Laws.BaseURL
	}
	if c.Precedents.OC == "" {
		c.Precedents.OC = c.Laws.OC
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Database.TransactionMode {
	case TransactionPerRun, TransactionPerItem:
	default:
		return fmt.Errorf("database.transaction_mode must be %q or %q", TransactionPerRun, TransactionPerItem)
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Metrics.Port < 0 {
		return fmt.Errorf("metrics.port must be >= 0")
	}
	if err := c.Laws.validate("laws"); err != nil {
		return err
	}
	if c.Laws.DetailEndpoint == "" {
		return fmt.Errorf("laws.detail_endpoint is required")
	}
	if err := c.Precedents.validate("precedents"); err != nil {
		return err
	}
	switch c.Archive.Provider {
	case "none", "":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	switch c.Publisher.Provider {
	case "none", "":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider %q", c.Publisher.Provider)
	}
	return nil
}

func (a APIConfig) validate(name string) error {
	if a.BaseURL == "" {
		return fmt.Errorf("%s.base_url is required", name)
	}
	if a.OC == "" {
		return fmt.Errorf("%s.oc is required", name)
	}
	if a.SearchEndpoint == "" {
		return fmt.Errorf("%s.search_endpoint is required", name)
	}
	if a.DefaultPageSize <= 0 {
		return fmt.Errorf("%s.default_page_size must be > 0", name)
	}
	if a.RequestTimeout <= 0 {
		return fmt.Errorf("%s.request_timeout_seconds must be > 0", name)
	}
	return nil
}

// ParseKeyValuePairs parses "k=v,k2=v2"; entries without "=" or a key are skipped.
func ParseKeyValuePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// keyValueHook lets static_params be given as a "k=v,k2=v2" string, which is
// how they arrive from environment variables.
func keyValueHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(map[string]string{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		return ParseKeyValuePairs(data.(string)), nil
	}
}
