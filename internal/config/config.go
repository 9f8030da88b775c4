// Package config loads and validates biodumpy configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources"
)

// Config captures all configuration knobs loaded via Viper. Module sections
// (gbif, bold, ...) live at the top level.
type Config struct {
	Output          OutputConfig   `mapstructure:"output"`
	HTTP            HTTPConfig     `mapstructure:"http"`
	Logging         LoggingConfig  `mapstructure:"logging"`
	Storage         StorageConfig  `mapstructure:"storage"`
	Manifest        ManifestConfig `mapstructure:"manifest"`
	PubSub          PubSubConfig   `mapstructure:"pubsub"`
	Server          ServerConfig   `mapstructure:"server"`
	Headless        HeadlessConfig `mapstructure:"headless"`
	sources.Modules `mapstructure:",squash"`
}

// OutputConfig controls where and how dumps are written.
type OutputConfig struct {
	Path            string `mapstructure:"path"`
	ContinueOnError bool   `mapstructure:"continue_on_error"`
	Progress        bool   `mapstructure:"progress"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	UserAgent        string     `mapstructure:"user_agent"`
	TimeoutSeconds   int        `mapstructure:"timeout_seconds"`
	MaxRetries       int        `mapstructure:"max_retries"`
	BackoffInitialMs int        `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int        `mapstructure:"backoff_max_ms"`
	RatePerSecond    float64    `mapstructure:"rate_per_second"`
	Burst            int        `mapstructure:"burst"`
	PerHost          []HostRate `mapstructure:"per_host"`
}

// HostRate overrides the request rate for one host. Hosts are listed rather
// than keyed because viper splits keys on dots.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// StorageConfig selects the blob store dumps are written to.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalRoot string `mapstructure:"local_root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ManifestConfig points at the postgres table dump records are kept in.
// An empty DSN disables the manifest.
type ManifestConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for dump notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls serve mode.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	Workers                int `mapstructure:"workers"`
	QueueDepth             int `mapstructure:"queue_depth"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// APIKey, when set, is required in X-API-Key on every /v1 request.
	APIKey      string `mapstructure:"api_key"`
	MaxElements int    `mapstructure:"max_elements"`
}

// HeadlessConfig configures the Chrome renderer used by paperdown.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeoutSec int           `mapstructure:"nav_timeout_seconds"`
	Settle        time.Duration `mapstructure:"settle"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIODUMPY")
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
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.path", biodumpy.DefaultOutputTemplate)
	v.SetDefault("output.continue_on_error", true)
	v.SetDefault("output.progress", true)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rate_per_second", 5.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_root", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("manifest.dsn", "")
	v.SetDefault("manifest.table", "biodumpy_dumps")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.queue_depth", 64)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_elements", 1000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle", 3*time.Second)

	// Every key needs a default for AutomaticEnv to see its variable.
	for _, name := range sources.Names() {
		v.SetDefault(name+".base_url", "")
		v.SetDefault(name+".bulk", false)
		v.SetDefault(name+".output_format", string(biodumpy.FormatJSON))
		v.SetDefault(name+".sleep", time.Duration(0))
	}
	v.SetDefault("gbif.dataset_key", "d7dddbf4-2cf0-4f39-9b2a-bb099caae36c")
	v.SetDefault("gbif.limit", 20)
	v.SetDefault("gbif.accepted_only", true)
	v.SetDefault("gbif.occ", false)
	v.SetDefault("gbif.geometry", "")
	v.SetDefault("bold.summary", false)
	v.SetDefault("bold.fasta", false)
	v.SetDefault("col.dataset_key", "9923")
	v.SetDefault("col.check_syn", false)
	v.SetDefault("crossref.summary", false)
	v.SetDefault("crossref.mailto", "")
	v.SetDefault("crossref.sleep", 500*time.Millisecond)
	v.SetDefault("worms.marine_only", false)
	v.SetDefault("worms.distribution", false)
	v.SetDefault("iucn.api_key", "")
	v.SetDefault("iucn.regions", []string{"global"})
	v.SetDefault("iucn.habitat", false)
	v.SetDefault("iucn.historical", false)
	v.SetDefault("iucn.threats", false)
	v.SetDefault("iucn.weblink", false)
	v.SetDefault("ncbi.mail", "")
	v.SetDefault("ncbi.api_key", "")
	v.SetDefault("ncbi.db", "nucleotide")
	v.SetDefault("ncbi.step", 100)
	v.SetDefault("ncbi.max_bp", 5000)
	v.SetDefault("ncbi.summary", false)
	v.SetDefault("ncbi.by_id", false)
	v.SetDefault("ncbi.query_type", "")
	v.SetDefault("ncbi.rettype", "gb")
	v.SetDefault("zoobank.dataset_size", "small")
	v.SetDefault("zoobank.info", false)
	v.SetDefault("obis.occurrences", false)
	v.SetDefault("obis.geometry", "")
	v.SetDefault("obis.areaid", "")
	v.SetDefault("obis.page_size", 5000)
	v.SetDefault("paperdown.always_render", false)
	v.SetDefault("paperdown.min_page_bytes", 2048)
}

// Validate enforces required values and reasonable limits. Module options
// are validated by the module constructors when a module is selected.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	for i, hr := range c.HTTP.PerHost {
		if hr.Host == "" || hr.RPS <= 0 {
			return fmt.Errorf("http.per_host[%d] needs a host and rps > 0", i)
		}
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory (got %q)", c.Storage.Backend)
	}
	if c.Manifest.DSN != "" && !tableName.MatchString(c.Manifest.Table) {
		return fmt.Errorf("manifest.table %q is not a valid table name", c.Manifest.Table)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// HostRates flattens the per-host overrides for the rate limiter.
func (c Config) HostRates() map[string]float64 {
	if len(c.HTTP.PerHost) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.HTTP.PerHost))
	for _, hr := range c.HTTP.PerHost {
		out[strings.ToLower(hr.Host)] = hr.RPS
	}
	return out
}

// ShutdownTimeout converts the serve shutdown budget into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
