package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/bedrock-up/internal/domain/release"
)

// Config holds everything a single update run needs.
type Config struct {
	// CatalogURL is the endpoint listing the current download links.
	CatalogURL string `yaml:"catalog_url"`
	// DownloadType is the channel to update from (e.g. "linux", "preview-windows").
	DownloadType string `yaml:"download_type"`
	// ServerPath is the server installation directory.
	ServerPath string `yaml:"server_path"`
	// CachePath is the JSON file remembering the last applied link per channel.
	CachePath string `yaml:"cache_path"`
	// Exclude lists relative paths (or path.Match globs) never overwritten once they exist.
	Exclude []string `yaml:"exclude"`
	// Prune removes previously installed files that the new build no longer ships.
	Prune bool `yaml:"prune"`
	// CatalogTimeout bounds the catalog request.
	CatalogTimeout time.Duration `yaml:"catalog_timeout"`
	// DownloadTimeout bounds the archive download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is looked up in the working directory when --config is not given.
	DefaultConfigFilename = "bedrock-up.yaml"

	// DefaultCatalogURL is the public Minecraft download links endpoint.
	DefaultCatalogURL = "https://net-secondary.web.minecraft-services.net/api/v1.0/download/links"

	// DefaultCachePath is where applied links are remembered between runs.
	DefaultCachePath = "~/.bedrock-up/links.json"

	// DefaultCatalogTimeout is the default duration for the catalog request.
	DefaultCatalogTimeout = 30 * time.Second

	// DefaultDownloadTimeout is the default duration for the archive download.
	DefaultDownloadTimeout = 10 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// DefaultExclude returns the operator-edited files preserved by default.
func DefaultExclude() []string {
	return []string{"server.properties", "permissions.json", "allowlist.json"}
}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerPathRequired is returned when the installation directory is missing.
	errServerPathRequired = errors.New("server path must be provided")
	// errDownloadTypeRequired is returned when no channel was chosen.
	errDownloadTypeRequired = errors.New("download type must be provided")
	// errHomeUnavailable is returned when "~" cannot be expanded.
	errHomeUnavailable = errors.New("home directory is unavailable")
)

// Load reads configuration from the provided path. Defaults are not applied; call Validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadOptional behaves like Load but returns an empty Config when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return new(Config), nil
	}

	return cfg, err
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, fills defaults and expands "~" in paths.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.DownloadType) == "" {
		return errDownloadTypeRequired
	}

	if _, err := release.ParseChannel(cfg.DownloadType); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.ServerPath) == "" {
		return errServerPathRequired
	}

	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}

	if _, err := url.ParseRequestURI(cfg.CatalogURL); err != nil {
		return fmt.Errorf("invalid catalog URL: %w", err)
	}

	if cfg.CachePath == "" {
		cfg.CachePath = DefaultCachePath
	}

	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExclude()
	}

	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = DefaultCatalogTimeout
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}

	var err error

	if cfg.ServerPath, err = ExpandHome(cfg.ServerPath); err != nil {
		return err
	}

	if cfg.CachePath, err = ExpandHome(cfg.CachePath); err != nil {
		return err
	}

	return nil
}

// Channel returns the parsed download type. It assumes Validate succeeded.
func (c *Config) Channel() release.Channel {
	channel, _ := release.ParseChannel(c.DownloadType)
	return channel
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errHomeUnavailable, err)
	}

	return filepath.Join(home, path[1:]), nil
}
