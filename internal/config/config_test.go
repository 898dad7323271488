package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no config-related
// environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{
		"LIFTSYNC_CONFIG", "LIFTSYNC_DB_PATH", "LIFTSYNC_REMOTE", "LIFTSYNC_REMOTE_URL",
		"LIFTSYNC_PAGE_SIZE", "LIFTSYNC_INTERVAL", "LIFTSYNC_OWNER", "LIFTSYNC_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, RemoteMemory, cfg.Remote)
	assert.Equal(t, 200, cfg.PushBatch)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 10, cfg.MaxAttempts)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
db_path: /tmp/x.db
remote: http
remote_url: https://sync.example.com
page_size: 250
interval: 30s
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, RemoteHTTP, cfg.Remote)
	assert.Equal(t, "https://sync.example.com", cfg.RemoteURL)
	assert.Equal(t, 250, cfg.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 200, cfg.PushBatch, "unset keys keep defaults")
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, DefaultFile), "owner: u1\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "u1", cfg.Owner)
}

func TestLoad_ConfigFromEnvVar(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "elsewhere.yaml")
	writeFile(t, path, "max_pages: 7\n")
	t.Setenv("LIFTSYNC_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxPages)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "empty.yaml")
	writeFile(t, path, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "typo.yaml")
	writeFile(t, path, "page_sise: 10\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_DotEnvAndEnvironment(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, DefaultFile), "page_size: 100\nowner: from-file\n")
	writeFile(t, filepath.Join(dir, DefaultEnvFile), "LIFTSYNC_PAGE_SIZE=200\nLIFTSYNC_OWNER=from-dotenv\n")
	t.Setenv("LIFTSYNC_OWNER", "from-env")
	t.Setenv("LIFTSYNC_INTERVAL", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.PageSize, ".env beats the YAML file")
	assert.Equal(t, "from-env", cfg.Owner, "process environment beats .env")
	assert.Equal(t, 2*time.Minute, cfg.Interval)

	_, set := os.LookupEnv("LIFTSYNC_PAGE_SIZE")
	assert.False(t, set, ".env does not leak into the process environment")
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("LIFTSYNC_PAGE_SIZE", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown remote", mutate: func(c *Config) { c.Remote = "ftp" }, wantErr: "remote"},
		{name: "zero page size", mutate: func(c *Config) { c.PageSize = 0 }, wantErr: "page_size"},
		{name: "page size too large", mutate: func(c *Config) { c.PageSize = 5000 }, wantErr: "page_size"},
		{name: "zero push batch", mutate: func(c *Config) { c.PushBatch = 0 }, wantErr: "push_batch"},
		{name: "sub-second interval", mutate: func(c *Config) { c.Interval = 500 * time.Millisecond }, wantErr: "interval"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "db_path"},
		{
			name:    "http without url",
			mutate:  func(c *Config) { c.Remote = RemoteHTTP },
			wantErr: "remote_url",
		},
		{
			name:   "http with url",
			mutate: func(c *Config) { c.Remote = RemoteHTTP; c.RemoteURL = "http://localhost:8787" },
		},
		{
			name:    "postgres without database url",
			mutate:  func(c *Config) { c.Remote = RemotePostgres },
			wantErr: "database_url",
		},
		{
			name:   "postgres with database url",
			mutate: func(c *Config) { c.Remote = RemotePostgres; c.DatabaseURL = "postgres://localhost/liftsync" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
