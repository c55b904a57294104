package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server"`
	Worker WorkerConfig `koanf:"worker"`
	Cache  CacheConfig  `koanf:"cache"`
	Log    LogConfig    `koanf:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int         `koanf:"port" env:"OFFLINE_CACHE_PORT"`
	MetricsPort int         `koanf:"metrics_port" env:"OFFLINE_CACHE_METRICS_PORT"`
	HTTPS       HTTPSConfig `koanf:"https"`
}

// HTTPSConfig controls TLS interception of CONNECT requests
type HTTPSConfig struct {
	Mitm       bool   `koanf:"mitm" env:"OFFLINE_CACHE_HTTPS_MITM"`
	CACertFile string `koanf:"ca_cert_file" env:"OFFLINE_CACHE_HTTPS_CA_CERT"`
	CAKeyFile  string `koanf:"ca_key_file" env:"OFFLINE_CACHE_HTTPS_CA_KEY"`
}

// WorkerConfig describes the deployed cache version and what it pre-caches
type WorkerConfig struct {
	// Version names the active cache store. Bumping it rotates the store.
	Version string `koanf:"version" env:"OFFLINE_CACHE_VERSION"`
	// Origin is the base URL app shell paths are resolved against.
	Origin             string     `koanf:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	AppShell           []string   `koanf:"app_shell" env:"OFFLINE_CACHE_APP_SHELL" envSeparator:","`
	Scope              []string   `koanf:"scope" env:"OFFLINE_CACHE_SCOPE" envSeparator:","`
	PurgeStaleVersions bool       `koanf:"purge_stale_versions" env:"OFFLINE_CACHE_PURGE_STALE_VERSIONS"`
	NetworkTimeout     string     `koanf:"network_timeout" env:"OFFLINE_CACHE_NETWORK_TIMEOUT"`
	InstallConcurrency int        `koanf:"install_concurrency" env:"OFFLINE_CACHE_INSTALL_CONCURRENCY"`
	Rules              []RuleSpec `koanf:"rules"`
}

// RuleSpec maps a URL path pattern to a caching strategy
type RuleSpec struct {
	Name       string `koanf:"name"`
	Strategy   string `koanf:"strategy"` // "network_first" or "cache_first"
	PathPrefix string `koanf:"path_prefix"`
	PathSuffix string `koanf:"path_suffix"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Backend       string      `koanf:"backend" env:"OFFLINE_CACHE_BACKEND"` // "disk", "memory", "sqlite" or "redis"
	TTL           string      `koanf:"ttl" env:"OFFLINE_CACHE_TTL"`
	Folder        string      `koanf:"folder" env:"OFFLINE_CACHE_FOLDER"`
	SQLitePath    string      `koanf:"sqlite_path" env:"OFFLINE_CACHE_SQLITE_PATH"`
	MemoryEntries int64       `koanf:"memory_entries" env:"OFFLINE_CACHE_MEMORY_ENTRIES"`
	Redis         RedisConfig `koanf:"redis"`
}

// RedisConfig configures the redis backend
type RedisConfig struct {
	Addr     string `koanf:"addr" env:"OFFLINE_CACHE_REDIS_ADDR"`
	Password string `koanf:"password" env:"OFFLINE_CACHE_REDIS_PASSWORD"`
	DB       int    `koanf:"db" env:"OFFLINE_CACHE_REDIS_DB"`
	Prefix   string `koanf:"prefix" env:"OFFLINE_CACHE_REDIS_PREFIX"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `koanf:"level" env:"OFFLINE_CACHE_LOG_LEVEL"`
	Format string `koanf:"format" env:"OFFLINE_CACHE_LOG_FORMAT"`
}

// DefaultAppShell is the set of resources the blog needs to boot offline
var DefaultAppShell = []string{"/", "/index.html", "/styles.css", "/app.js", "/rss.xml"}

// DefaultRules sends the post index and every feed to the network first
var DefaultRules = []RuleSpec{
	{Name: "index", Strategy: "network_first", PathPrefix: "/blogs/index.json"},
	{Name: "feeds", Strategy: "network_first", PathSuffix: ".xml"},
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{
			Version:            "0xkiire-v1",
			PurgeStaleVersions: true,
			NetworkTimeout:     "30s",
			InstallConcurrency: 4,
		},
		Cache: CacheConfig{
			Backend:       "disk",
			Folder:        "./cache",
			SQLitePath:    "./cache.db",
			MemoryEntries: 1024,
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "offline-cache:"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from a YAML file, then applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	// Set defaults
	if len(config.Worker.AppShell) == 0 {
		config.Worker.AppShell = append([]string(nil), DefaultAppShell...)
	}
	if len(config.Worker.Rules) == 0 {
		config.Worker.Rules = append([]RuleSpec(nil), DefaultRules...)
	}

	return &config, nil
}

// GetCacheTTL parses and returns the cache TTL duration. An empty TTL means entries never expire.
func (c *Config) GetCacheTTL() (time.Duration, error) {
	if c.Cache.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Cache.TTL)
}

// GetNetworkTimeout parses the time-to-first-byte budget for network fetches
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	if c.Worker.NetworkTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.Worker.NetworkTimeout)
}
