package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var validBackends = map[string]bool{"disk": true, "memory": true, "sqlite": true, "redis": true}

var validStrategies = map[string]bool{"network_first": true, "cache_first": true}

// Validate validates the configuration and reports every problem found
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("invalid port: %d", c.Server.Port))
	}

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		result = multierror.Append(result, fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort))
	}

	if c.Server.HTTPS.Mitm && (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		result = multierror.Append(result, fmt.Errorf("https ca_cert_file and ca_key_file must be set together"))
	}

	if err := c.validateWorker(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := c.validateCache(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (c *Config) validateWorker() error {
	var result *multierror.Error

	if strings.TrimSpace(c.Worker.Version) == "" {
		result = multierror.Append(result, fmt.Errorf("worker version is required"))
	} else if strings.Contains(c.Worker.Version, "/") {
		result = multierror.Append(result, fmt.Errorf("worker version must not contain '/': %s", c.Worker.Version))
	}

	origin, err := url.Parse(c.Worker.Origin)
	if c.Worker.Origin == "" {
		result = multierror.Append(result, fmt.Errorf("worker origin is required"))
	} else if err != nil || !origin.IsAbs() || origin.Host == "" {
		result = multierror.Append(result, fmt.Errorf("worker origin must be an absolute URL, got: %s", c.Worker.Origin))
	}

	if _, err := c.GetNetworkTimeout(); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid network timeout format: %w", err))
	}

	if c.Worker.InstallConcurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("install concurrency must not be negative, got: %d", c.Worker.InstallConcurrency))
	}

	for i, rule := range c.Worker.Rules {
		if !validStrategies[rule.Strategy] {
			result = multierror.Append(result, fmt.Errorf("rule %d: strategy must be 'network_first' or 'cache_first', got: %s", i, rule.Strategy))
		}
		if rule.PathPrefix == "" && rule.PathSuffix == "" {
			result = multierror.Append(result, fmt.Errorf("rule %d: path_prefix or path_suffix is required", i))
		}
	}

	return result.ErrorOrNil()
}

func (c *Config) validateCache() error {
	var result *multierror.Error

	if !validBackends[c.Cache.Backend] {
		result = multierror.Append(result, fmt.Errorf("cache backend must be one of disk, memory, sqlite, redis, got: %s", c.Cache.Backend))
	}

	if _, err := c.GetCacheTTL(); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid cache TTL format: %w", err))
	}

	switch c.Cache.Backend {
	case "disk":
		if c.Cache.Folder == "" {
			result = multierror.Append(result, fmt.Errorf("cache folder is required"))
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			result = multierror.Append(result, fmt.Errorf("cache sqlite_path is required"))
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("cache redis addr is required"))
		}
	}

	if c.Cache.MemoryEntries < 0 {
		result = multierror.Append(result, fmt.Errorf("memory entries must not be negative, got: %d", c.Cache.MemoryEntries))
	}

	return result.ErrorOrNil()
}
