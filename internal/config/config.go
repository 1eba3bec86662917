package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads Go duration strings ("5m",
// "30s") from both YAML profiles and environment variables.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

const (
	defaultAPIURL       = "https://timed.example.com"
	defaultAPINamespace = "api/v1"
	defaultDiscoveryURL = "https://sso.example.com/realms/example"
	defaultClientID     = "timed-client"
	defaultCacheTTL     = 5 * time.Minute
)

// Config holds all configuration for the timed client. Values are
// resolved in order: built-in defaults, then the YAML profile at
// ~/.timed/config.yaml, then environment variables.
type Config struct {
	// Timed backend base URL and API namespace.
	APIURL       string `env:"TIMED_API_URL" yaml:"api_url"`
	APINamespace string `env:"TIMED_API_NAMESPACE" yaml:"api_namespace"`

	// OIDC provider settings for the device flow.
	SSODiscoveryURL string `env:"TIMED_SSO_DISCOVERY_URL" yaml:"sso_discovery_url"`
	SSOClientID     string `env:"TIMED_SSO_CLIENT_ID" yaml:"sso_client_id"`

	// Username identifies the local profile; required.
	Username string `env:"TIMED_USERNAME" yaml:"username"`

	// TTL for cached read responses within one invocation.
	CacheTTL Duration `env:"TIMED_CACHE_TTL" yaml:"cache_ttl"`

	// Environment controls log format, LogLevel the verbosity.
	Environment string `env:"ENVIRONMENT" yaml:"environment"`
	LogLevel    string `env:"TIMED_LOG_LEVEL" yaml:"log_level"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from the default profile path and the
// environment. It first attempts to load a .env file if present.
func Load() (*Config, error) {
	path, err := DefaultProfilePath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt reads configuration using the profile file at the given path.
// A missing profile is not an error; the file only supplies defaults.
func LoadAt(profilePath string) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{
		APIURL:          defaultAPIURL,
		APINamespace:    defaultAPINamespace,
		SSODiscoveryURL: defaultDiscoveryURL,
		SSOClientID:     defaultClientID,
		CacheTTL:        Duration(defaultCacheTTL),
		Environment:     "development",
	}

	if err := applyProfile(cfg, profilePath); err != nil {
		return nil, err
	}

	// env.Parse leaves fields untouched when the variable is unset, so
	// profile values survive unless explicitly overridden.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.APINamespace = strings.Trim(cfg.APINamespace, "/")

	return cfg, nil
}

func applyProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("reading profile %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing profile %s: %w", path, err)
	}

	return nil
}

func (c *Config) validate() error {
	if c.Username == "" {
		return fmt.Errorf("username is required (set TIMED_USERNAME or the profile file)")
	}

	if c.APIURL == "" {
		return fmt.Errorf("API URL must not be empty")
	}

	if c.SSODiscoveryURL == "" || c.SSOClientID == "" {
		return fmt.Errorf("SSO discovery URL and client ID must not be empty")
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	return nil
}

// BaseURL returns the fully qualified API root, namespace included,
// with a trailing slash.
func (c *Config) BaseURL() string {
	if c.APINamespace == "" {
		return c.APIURL + "/"
	}

	return c.APIURL + "/" + c.APINamespace + "/"
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultProfilePath returns ~/.timed/config.yaml.
func DefaultProfilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".timed", "config.yaml"), nil
}

// WriteProfile serializes the config to the given path, creating the
// parent directory with owner-only permissions. Used by first-run
// setup so later invocations need no environment.
func (c *Config) WriteProfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing profile: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing profile %s: %w", path, err)
	}

	return nil
}
