package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBacklogFile is the backlog document read when nothing else is configured
const DefaultBacklogFile = "issues.yml"

// Environment variables read by Resolve
const (
	EnvToken       = "GITHUB_TOKEN"
	EnvRepository  = "GITHUB_REPOSITORY"
	EnvBacklogFile = "BACKLOG_FILE"
	EnvAPIURL      = "GITHUB_API_URL"
)

var (
	// ErrMissingToken is returned when no GitHub token is configured
	ErrMissingToken = errors.New("GITHUB_TOKEN not set (did you run in GitHub Actions with permissions?)")

	// ErrInvalidRepository is returned when the repository is not of the form owner/name
	ErrInvalidRepository = errors.New("GITHUB_REPOSITORY not set or invalid")
)

// Config represents the backlog-sync configuration file
type Config struct {
	GitHub  GitHubConfig  `yaml:"github"`
	Backlog BacklogConfig `yaml:"backlog"`
}

// GitHubConfig represents GitHub-specific configuration
type GitHubConfig struct {
	Token             string        `yaml:"token,omitempty"`
	Repository        string        `yaml:"repository,omitempty"`
	APIURL            string        `yaml:"api_url,omitempty"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown,omitempty"`
	RequestInterval   time.Duration `yaml:"request_interval,omitempty"`
}

// BacklogConfig represents backlog document settings
type BacklogConfig struct {
	File string `yaml:"file,omitempty"`
}

// Settings is the resolved configuration for a single run
type Settings struct {
	Token             string
	Owner             string
	Repo              string
	BacklogFile       string
	APIURL            string
	RateLimitCooldown time.Duration
	RequestInterval   time.Duration
}

// FullName returns owner/repo
func (s *Settings) FullName() string {
	return s.Owner + "/" + s.Repo
}

// Overrides carries values given on the command line; empty fields are ignored
type Overrides struct {
	Repository        string
	BacklogFile       string
	APIURL            string
	RateLimitCooldown time.Duration
	RequestInterval   time.Duration
}

// LookupFunc looks up an environment variable
type LookupFunc func(key string) (string, bool)

// Resolve builds Settings with precedence: overrides, then environment, then
// the configuration file, then defaults. The token and repository are required.
func Resolve(cfg *Config, lookup LookupFunc, overrides Overrides) (*Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	env := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	token := firstNonEmpty(env(EnvToken), strings.TrimSpace(cfg.GitHub.Token))
	if token == "" {
		return nil, ErrMissingToken
	}

	owner, repo, err := ParseRepository(firstNonEmpty(overrides.Repository, env(EnvRepository), cfg.GitHub.Repository))
	if err != nil {
		return nil, err
	}

	settings := &Settings{
		Token:             token,
		Owner:             owner,
		Repo:              repo,
		BacklogFile:       ResolveBacklogFile(cfg, lookup, overrides.BacklogFile),
		APIURL:            firstNonEmpty(overrides.APIURL, env(EnvAPIURL), cfg.GitHub.APIURL),
		RateLimitCooldown: firstPositive(overrides.RateLimitCooldown, cfg.GitHub.RateLimitCooldown),
		RequestInterval:   firstPositive(overrides.RequestInterval, cfg.GitHub.RequestInterval),
	}

	return settings, nil
}

// ResolveBacklogFile returns the backlog document path using the same precedence as Resolve
func ResolveBacklogFile(cfg *Config, lookup LookupFunc, override string) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	fromEnv, _ := lookup(EnvBacklogFile)

	fileSetting := ""
	if cfg != nil {
		fileSetting = cfg.Backlog.File
	}

	return firstNonEmpty(override, strings.TrimSpace(fromEnv), fileSetting, DefaultBacklogFile)
}

// ParseRepository splits an owner/name repository identifier
func ParseRepository(full string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		if full == "" {
			return "", "", ErrInvalidRepository
		}
		return "", "", fmt.Errorf("%w: %q, expected owner/name", ErrInvalidRepository, full)
	}
	return owner, name, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// LoadConfig loads configuration from the default location
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(configPath)
}

// LoadConfigFromPath loads configuration from a specific path
func LoadConfigFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil // Return empty config if file doesn't exist
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveConfigToPath saves configuration to a specific path
func (c *Config) SaveConfigToPath(path string) error {
	// Create config directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".backlog-sync", "config.yaml"), nil
}
