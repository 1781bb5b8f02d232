package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "tablet.yml"

// Platform selects filesystem quirks for attachment copies.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Config models tablet.yml.
type Config struct {
	Store struct {
		Root     string   `yaml:"root"`
		Platform Platform `yaml:"platform"`
	} `yaml:"store"`
	Attachments Attachments `yaml:"attachments"`
	Log         Log         `yaml:"log"`
	Remote      struct {
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout"`
		ClientID     string        `yaml:"client_id"`
		RequiredRole string        `yaml:"required_role"`
	} `yaml:"remote"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

type Attachments struct {
	Thumbnail struct {
		MaxDimension   int   `yaml:"max_dimension"`
		Quality        int   `yaml:"quality"`
		MaxSourceBytes int64 `yaml:"max_source_bytes"`
	} `yaml:"thumbnail"`
	Parallelism int    `yaml:"parallelism"`
	ShareDir    string `yaml:"share_dir"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and validates the config in dir.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tablet config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional is Load, falling back to Default when the file is absent.
func LoadOptional(dir string) (*Config, error) {
	if _, err := os.Stat(Path(dir)); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(dir)
}

// FromYAML parses data over the defaults so omitted keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Root) == "" {
		return fmt.Errorf("config.store.root is required")
	}
	switch c.Store.Platform {
	case PlatformAndroid, PlatformIOS:
	default:
		return fmt.Errorf("config.store.platform must be %q or %q", PlatformAndroid, PlatformIOS)
	}
	th := c.Attachments.Thumbnail
	if th.MaxDimension <= 0 {
		return fmt.Errorf("config.attachments.thumbnail.max_dimension must be positive")
	}
	if th.Quality < 1 || th.Quality > 100 {
		return fmt.Errorf("config.attachments.thumbnail.quality must be between 1 and 100")
	}
	if th.MaxSourceBytes <= 0 {
		return fmt.Errorf("config.attachments.thumbnail.max_source_bytes must be positive")
	}
	if c.Attachments.Parallelism <= 0 {
		return fmt.Errorf("config.attachments.parallelism must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("config.remote.timeout must not be negative")
	}
	return nil
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// ShareDir returns the directory exported files are staged in.
func (c *Config) ShareDir() string {
	if c.Attachments.ShareDir != "" {
		return c.Attachments.ShareDir
	}
	return filepath.Join(os.TempDir(), "tablet-share")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(defaultTemplate), cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// Template returns the default config file contents.
func Template() string {
	return defaultTemplate
}

const defaultTemplate = `store:
  root: ./data
  platform: android
attachments:
  thumbnail:
    max_dimension: 300
    quality: 30
    max_source_bytes: 10000000
  parallelism: 8
  share_dir: ""
log:
  level: info
  format: text
  file: ""
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
remote:
  base_url: ""
  timeout: 30s
  client_id: tablet
  required_role: fieldReportManager
server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
`

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
