// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Auth         AuthConfig                  `mapstructure:"auth"`
	DB           DBConfig                    `mapstructure:"db"`
	Registry     RegistryConfig              `mapstructure:"registry"`
	Harvest      HarvestConfig               `mapstructure:"harvest"`
	Logging      LoggingConfig               `mapstructure:"logging"`
	Repositories map[string]RepositoryConfig `mapstructure:"repositories"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RegistryConfig points at the DAR registry API.
type RegistryConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	AuthToken         string `mapstructure:"auth_token"`
	SourceURIField    string `mapstructure:"source_uri_field"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	DeletesPerMinute  int    `mapstructure:"deletes_per_minute"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// HarvestConfig governs job-wide behavior shared by all repositories.
type HarvestConfig struct {
	CleanupAfterDays int  `mapstructure:"cleanup_after_days"`
	ReconcileDelete  bool `mapstructure:"reconcile_delete"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RepositoryConfig describes one source repository. Type selects the mapper
// and version handling; the key paths locate records inside the vendor's
// listing and single-record payloads.
type RepositoryConfig struct {
	Type              string `mapstructure:"type"`
	APIURL            string `mapstructure:"api_url"`
	PageSize          int    `mapstructure:"page_size"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	DataKey           string `mapstructure:"data_key"`
	SelfLinkKey       string `mapstructure:"self_link_key"`
	SingleRecordKey   string `mapstructure:"single_record_key"`
	SitemapURL        string `mapstructure:"sitemap_url"`
	AllVersionsKey    string `mapstructure:"all_versions_key"`
	LatestFlagKey     string `mapstructure:"latest_flag_key"`
	RegistryQuery     string `mapstructure:"registry_query"`
}

// Repository types understood by the capability table.
const (
	TypeB2Share      = "b2share"
	TypeZenodo       = "zenodo"
	TypeDataRegistry = "dataregistry"
	TypeSites        = "sites"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("registry.source_uri_field", "metadata_externalSourceInformation_externalSourceURI")
	v.SetDefault("registry.requests_per_minute", 100)
	v.SetDefault("registry.deletes_per_minute", 10)
	v.SetDefault("registry.timeout_seconds", 30)
	v.SetDefault("harvest.cleanup_after_days", 30)
	v.SetDefault("harvest.reconcile_delete", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Harvest.CleanupAfterDays <= 0 {
		return fmt.Errorf("harvest.cleanup_after_days must be > 0")
	}
	for name, repo := range c.Repositories {
		switch repo.Type {
		case TypeB2Share, TypeZenodo, TypeDataRegistry, TypeSites:
		default:
			return fmt.Errorf("repositories.%s.type %q is not supported", name, repo.Type)
		}
		if repo.Type == TypeSites {
			if repo.SitemapURL == "" {
				return fmt.Errorf("repositories.%s.sitemap_url must be set for sites repositories", name)
			}
		} else {
			if repo.APIURL == "" {
				return fmt.Errorf("repositories.%s.api_url must be set", name)
			}
			if repo.PageSize <= 0 {
				return fmt.Errorf("repositories.%s.page_size must be > 0", name)
			}
		}
		if repo.RequestsPerMinute < 0 {
			return fmt.Errorf("repositories.%s.requests_per_minute must be >= 0", name)
		}
	}
	return nil
}

// RegistryTimeout converts the configured registry timeout into a duration.
func (c Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}

// CleanupCutoff returns the last_seen_at threshold below which records are
// retired, relative to now.
func (c Config) CleanupCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.Harvest.CleanupAfterDays)
}
