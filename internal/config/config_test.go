package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://localhost/harvester
  max_conns: 4
registry:
  base_url: https://dar.elter-ri.eu/api
  auth_token: token
  requests_per_minute: 60
  deletes_per_minute: 5
  timeout_seconds: 45
harvest:
  cleanup_after_days: 14
  reconcile_delete: true
logging:
  development: false
repositories:
  zenodo:
    type: zenodo
    api_url: https://zenodo.org/api/records
    page_size: 25
    requests_per_minute: 30
    data_key: hits.hits
    self_link_key: links.self
    all_versions_key: links.versions
    registry_query: "source:zenodo"
  sites-data:
    type: sites
    sitemap_url: https://data.fieldsites.se/sitemap.xml
    requests_per_minute: 20
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Harvest.CleanupAfterDays != 14 || !cfg.Harvest.ReconcileDelete {
		t.Fatalf("expected harvest overrides to apply: %+v", cfg.Harvest)
	}
	repo, ok := cfg.Repositories["zenodo"]
	if !ok || repo.Type != TypeZenodo || repo.PageSize != 25 {
		t.Fatalf("expected zenodo repository to be loaded: %+v", cfg.Repositories)
	}
	if repo.DataKey != "hits.hits" || repo.SelfLinkKey != "links.self" {
		t.Fatalf("expected key paths to be preserved: %+v", repo)
	}
	if got := cfg.RegistryTimeout(); got != 45*time.Second {
		t.Fatalf("expected registry timeout 45s, got %v", got)
	}
	if cfg.Registry.SourceURIField == "" {
		t.Fatalf("expected source uri field default to survive overrides")
	}
}

func TestCleanupCutoff(t *testing.T) {
	t.Parallel()

	cfg := Config{Harvest: HarvestConfig{CleanupAfterDays: 30}}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if got := cfg.CleanupCutoff(now); !got.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Registry: RegistryConfig{BaseURL: "https://dar.example.org"},
		Harvest:  HarvestConfig{CleanupAfterDays: 30},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing registry base url",
			cfg: func() Config {
				c := base
				c.Registry.BaseURL = ""
				return c
			}(),
			want: "registry.base_url",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "invalid cleanup window",
			cfg: func() Config {
				c := base
				c.Harvest.CleanupAfterDays = 0
				return c
			}(),
			want: "harvest.cleanup_after_days",
		},
		{
			name: "unsupported repository type",
			cfg: func() Config {
				c := base
				c.Repositories = map[string]RepositoryConfig{
					"weird": {Type: "gopher", APIURL: "https://x"},
				}
				return c
			}(),
			want: "repositories.weird.type",
		},
		{
			name: "api repository without page size",
			cfg: func() Config {
				c := base
				c.Repositories = map[string]RepositoryConfig{
					"zenodo": {Type: TypeZenodo, APIURL: "https://zenodo.org/api/records"},
				}
				return c
			}(),
			want: "page_size",
		},
		{
			name: "sites repository without sitemap",
			cfg: func() Config {
				c := base
				c.Repositories = map[string]RepositoryConfig{
					"sites-data": {Type: TypeSites},
				}
				return c
			}(),
			want: "sitemap_url",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
