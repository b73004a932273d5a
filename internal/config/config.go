package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models papertrail.yaml.
type Config struct {
	Platform struct {
		Name string `yaml:"name"`
	} `yaml:"platform"`
	Engine struct {
		MaxFoldEvents int `yaml:"max_fold_events"`
	} `yaml:"engine"`
	Licenses struct {
		Default string             `yaml:"default,omitempty"`
		Catalog map[string]License `yaml:"catalog"`
	} `yaml:"licenses"`
	Auth     AuthConfig      `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// License is one catalog entry, keyed by its URI. Inactive licenses stay in
// the catalog so historical submissions keep resolving.
type License struct {
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
}

type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret,omitempty"`
	TrustUserHeader bool   `yaml:"trust_user_header,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pt init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.Name == "" {
		return fmt.Errorf("config.platform.name is required")
	}
	if c.Engine.MaxFoldEvents < 0 {
		return fmt.Errorf("config.engine.max_fold_events must not be negative")
	}
	for uri, lic := range c.Licenses.Catalog {
		if uri == "" {
			return fmt.Errorf("config.licenses.catalog contains an empty URI")
		}
		if lic.Name == "" {
			return fmt.Errorf("license %s has no name", uri)
		}
	}
	if c.Licenses.Default != "" {
		if _, ok := c.Licenses.Catalog[c.Licenses.Default]; !ok {
			return fmt.Errorf("default license %s not in catalog", c.Licenses.Default)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// LicenseURIs returns the catalog keys in a stable order.
func (c *Config) LicenseURIs() []string {
	uris := make([]string, 0, len(c.Licenses.Catalog))
	for uri := range c.Licenses.Catalog {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// ValidLicense reports whether the URI names an active catalog entry.
func (c *Config) ValidLicense(uri string) bool {
	lic, ok := c.Licenses.Catalog[uri]
	return ok && lic.Active
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "papertrail.yaml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `platform:
  name: papertrail

engine:
  max_fold_events: 100

licenses:
  default: "http://arxiv.org/licenses/nonexclusive-distrib/1.0/"
  catalog:
    "http://arxiv.org/licenses/nonexclusive-distrib/1.0/":
      name: "arXiv.org perpetual, non-exclusive license to distribute"
      active: true
    "http://arxiv.org/licenses/assumed-1991-2003/":
      name: "Assumed arXiv.org license (submissions before 2004)"
      active: false
    "http://creativecommons.org/licenses/by/4.0/":
      name: "Creative Commons Attribution 4.0 International"
      active: true
    "http://creativecommons.org/licenses/by-sa/4.0/":
      name: "Creative Commons Attribution-ShareAlike 4.0 International"
      active: true
    "http://creativecommons.org/licenses/by-nc-sa/4.0/":
      name: "Creative Commons Attribution-NonCommercial-ShareAlike 4.0 International"
      active: true
    "http://creativecommons.org/publicdomain/zero/1.0/":
      name: "CC0 1.0 Universal Public Domain Dedication"
      active: true

auth:
  jwt_secret: ""
  trust_user_header: true
`
