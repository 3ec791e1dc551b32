// Package config loads the client configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/fetch"
	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/transport"
)

// Environment variables that override secrets in the file.
const (
	EnvApplicationID = "PARSEKIT_APPLICATION_ID"
	EnvRESTKey       = "PARSEKIT_REST_KEY"
	EnvMasterKey     = "PARSEKIT_MASTER_KEY"
	EnvSessionToken  = "PARSEKIT_SESSION_TOKEN"
)

// ErrInvalid wraps every parse and validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the whole configuration file.
//
//	server:
//	  url: https://api.example.com/1
//	  applicationId: my-app
//	  restKey: secret
//	cache:
//	  dir: ~/.cache/parsekit
//	  backend: bolt
//	classes:
//	  Note:
//	    expireAfter: 1h
//	schemaDir: ./schema
type Config struct {
	Server    Server                 `yaml:"server"`
	Cache     Cache                  `yaml:"cache"`
	Classes   map[string]ClassConfig `yaml:"classes"`
	SchemaDir string                 `yaml:"schemaDir"`
}

// Server describes the backend.
type Server struct {
	URL           string        `yaml:"url"`
	ApplicationID string        `yaml:"applicationId"`
	RESTKey       string        `yaml:"restKey"`
	MasterKey     string        `yaml:"masterKey"`
	SessionToken  string        `yaml:"sessionToken"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
}

// Cache configures the local store and query engine.
type Cache struct {
	Dir                string        `yaml:"dir"`
	Backend            blob.Kind     `yaml:"backend"`
	Debounce           time.Duration `yaml:"debounce"`
	PageSize           int           `yaml:"pageSize"`
	DefaultLimit       int           `yaml:"defaultLimit"`
	PersistConcurrency int           `yaml:"persistConcurrency"`
}

// ClassConfig declares one locally cached class.
type ClassConfig struct {
	ExpireAfter time.Duration `yaml:"expireAfter"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Server: Server{
			URL:     transport.DefaultBaseURL,
			Timeout: 30 * time.Second,
			Retries: transport.DefaultRetryMax,
		},
		Cache: Cache{
			Dir:                defaultCacheDir(),
			Backend:            blob.KindFile,
			Debounce:           fetch.DefaultDelay,
			PageSize:           query.DefaultPageSize,
			DefaultLimit:       query.DefaultLimit,
			PersistConcurrency: localstore.DefaultPersistConcurrency,
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "parsekit")
	}
	return filepath.Join(dir, "parsekit")
}

// Load reads path, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.SchemaDir != "" && !filepath.IsAbs(cfg.SchemaDir) {
		cfg.SchemaDir = filepath.Join(filepath.Dir(path), cfg.SchemaDir)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, rejecting unknown fields.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalid, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides credentials from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for env, field := range map[string]*string{
		EnvApplicationID: &c.Server.ApplicationID,
		EnvRESTKey:       &c.Server.RESTKey,
		EnvMasterKey:     &c.Server.MasterKey,
		EnvSessionToken:  &c.Server.SessionToken,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*field = v
		}
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Server.ApplicationID == "" {
		return fmt.Errorf("server.applicationId is required")
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Server.Retries < 0 {
		return fmt.Errorf("server.retries must not be negative")
	}
	if !slices.Contains(blob.Kinds, c.Cache.Backend) {
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend != blob.KindMemory && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required for the %s backend", c.Cache.Backend)
	}
	if c.Cache.Debounce < 0 {
		return fmt.Errorf("cache.debounce must not be negative")
	}
	if c.Cache.PageSize <= 0 || c.Cache.PageSize > query.DefaultPageSize {
		return fmt.Errorf("cache.pageSize must be between 1 and %d", query.DefaultPageSize)
	}
	if c.Cache.DefaultLimit <= 0 {
		return fmt.Errorf("cache.defaultLimit must be positive")
	}
	if c.Cache.PersistConcurrency <= 0 {
		return fmt.Errorf("cache.persistConcurrency must be positive")
	}
	for name, cc := range c.Classes {
		if cc.ExpireAfter <= 0 {
			return fmt.Errorf("classes.%s.expireAfter must be positive", name)
		}
	}
	return nil
}

// BlobPath is the location handed to blob.Open for the configured backend.
func (c *Config) BlobPath() string {
	switch c.Cache.Backend {
	case blob.KindBolt:
		return filepath.Join(c.Cache.Dir, "cache.db")
	case blob.KindSQLite:
		return filepath.Join(c.Cache.Dir, "cache.sqlite")
	default:
		return c.Cache.Dir
	}
}
