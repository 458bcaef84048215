package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filevault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", secret)

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, BackendFS, c.StorageBackend)
	assert.Equal(t, 5*time.Minute, c.ShareTTL)
	assert.Equal(t, 512, c.ChunkSize)
	assert.Equal(t, int64(2*1024*1024*1024), c.MaxFileSize)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
port: "9090"
base_url: https://files.example.com/
share_ttl: 10m
chunk_size: 4096
session_secret: `+secret+`
autotls_hosts: [files.example.com]
`)
	t.Setenv("CHUNK_SIZE", "1024")
	t.Setenv("LOG_JSON", "true")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, "https://files.example.com", c.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, 10*time.Minute, c.ShareTTL)
	assert.Equal(t, 1024, c.ChunkSize, "env overrides file")
	assert.True(t, c.LogJSON)
	assert.Equal(t, []string{"files.example.com"}, c.AutoTLSHosts)
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("SESSION_SECRET", secret)
	t.Setenv("AUTOTLS_HOSTS", "a.example.com, b.example.com,")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, c.AutoTLSHosts)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "port: [1, 2"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Port = "http" }},
		{"relative base url", func(c *Config) { c.BaseURL = "/files" }},
		{"unknown backend", func(c *Config) { c.StorageBackend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = BackendS3 }},
		{"s3 half credentials", func(c *Config) {
			c.StorageBackend = BackendS3
			c.S3Bucket = "vault"
			c.S3AccessKey = "AKIA"
		}},
		{"zero share ttl", func(c *Config) { c.ShareTTL = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative cleanup interval", func(c *Config) { c.CleanupInterval = -time.Second }},
		{"short session secret", func(c *Config) { c.SessionSecret = "short" }},
		{"zero max file size", func(c *Config) { c.MaxFileSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			c.SessionSecret = secret
			require.NoError(t, c.Validate())

			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
