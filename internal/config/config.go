// Package config loads liftsync settings.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional YAML file, an optional .env file, then LIFTSYNC_* environment
// variables. The merged result is validated against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote backends.
const (
	RemoteMemory   = "memory"
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
)

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "liftsync.yaml"

// DefaultEnvFile is the dotenv file read from the working directory.
const DefaultEnvFile = ".env"

//go:embed schema.cue
var schemaSource string

// Config holds every liftsync setting.
type Config struct {
	// DBPath is the local SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path" env:"LIFTSYNC_DB_PATH"`

	// Remote selects the backend: memory, http or postgres.
	Remote      string `yaml:"remote" json:"remote" env:"LIFTSYNC_REMOTE"`
	RemoteURL   string `yaml:"remote_url" json:"remote_url,omitempty" env:"LIFTSYNC_REMOTE_URL"`
	DatabaseURL string `yaml:"database_url" json:"-" env:"LIFTSYNC_DATABASE_URL"`

	// AuthToken is the bearer JWT for the http remote. Its subject is the
	// owner id.
	AuthToken string `yaml:"auth_token" json:"-" env:"LIFTSYNC_AUTH_TOKEN"`
	// JWTSecret signs and verifies tokens on the serve side.
	JWTSecret string `yaml:"jwt_secret" json:"-" env:"LIFTSYNC_JWT_SECRET"`
	// Owner is the signed-in user when no token is configured.
	Owner string `yaml:"owner" json:"owner,omitempty" env:"LIFTSYNC_OWNER"`

	ListenAddr string `yaml:"listen_addr" json:"listen_addr" env:"LIFTSYNC_LISTEN_ADDR"`

	PushBatch   int           `yaml:"push_batch" json:"push_batch" env:"LIFTSYNC_PUSH_BATCH"`
	PageSize    int           `yaml:"page_size" json:"page_size" env:"LIFTSYNC_PAGE_SIZE"`
	MaxPages    int           `yaml:"max_pages" json:"max_pages" env:"LIFTSYNC_MAX_PAGES"`
	Interval    time.Duration `yaml:"interval" json:"interval" env:"LIFTSYNC_INTERVAL"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" env:"LIFTSYNC_MAX_ATTEMPTS"`

	LogFile       string `yaml:"log_file" json:"log_file,omitempty" env:"LIFTSYNC_LOG_FILE"`
	LogLevel      string `yaml:"log_level" json:"log_level" env:"LIFTSYNC_LOG_LEVEL"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" json:"log_max_size_mb" env:"LIFTSYNC_LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" json:"log_max_backups" env:"LIFTSYNC_LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" json:"log_max_age_days" env:"LIFTSYNC_LOG_MAX_AGE_DAYS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:        DefaultDBPath(),
		Remote:        RemoteMemory,
		ListenAddr:    "127.0.0.1:8787",
		PushBatch:     200,
		PageSize:      500,
		MaxPages:      100,
		Interval:      60 * time.Second,
		MaxAttempts:   10,
		LogLevel:      "info",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// DefaultDBPath is ~/.liftsync/liftsync.db, or liftsync.db in the working
// directory when there is no home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "liftsync.db"
	}
	return filepath.Join(home, ".liftsync", "liftsync.db")
}

// Load builds the configuration. path names a YAML file; when empty,
// LIFTSYNC_CONFIG is consulted, then DefaultFile if it exists. A file that
// was named explicitly must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("LIFTSYNC_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	vars, err := environment(DefaultEnvFile)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. Unknown keys are an error.
func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// environment merges the dotenv file (if any) under the process
// environment. The process environment is left untouched.
func environment(dotenv string) (map[string]string, error) {
	vars := make(map[string]string)
	file, err := godotenv.Read(dotenv)
	switch {
	case err == nil:
		for k, v := range file {
			vars[k] = v
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", dotenv, err)
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}
	return vars, nil
}

// Validate checks the configuration against the CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// view is the shape the schema checks.
func (c Config) view() map[string]any {
	return map[string]any{
		"db_path":          c.DBPath,
		"remote":           c.Remote,
		"remote_url":       c.RemoteURL,
		"database_url":     c.DatabaseURL,
		"auth_token":       c.AuthToken,
		"jwt_secret":       c.JWTSecret,
		"owner":            c.Owner,
		"listen_addr":      c.ListenAddr,
		"push_batch":       c.PushBatch,
		"page_size":        c.PageSize,
		"max_pages":        c.MaxPages,
		"max_attempts":     c.MaxAttempts,
		"interval":         c.Interval.Seconds(),
		"log_file":         c.LogFile,
		"log_level":        c.LogLevel,
		"log_max_size_mb":  c.LogMaxSizeMB,
		"log_max_backups":  c.LogMaxBackups,
		"log_max_age_days": c.LogMaxAgeDays,
	}
}
