package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("REDIS_CONNECTION_STRING", "localhost:6379")
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "secret")
	t.Setenv("DEDUPER_TTL", "1h")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendTables, cfg.Backend)
	assert.Equal(t, "UseDevelopmentStorage=true", cfg.Storage.ConnectionString)
	assert.Equal(t, "projexdocuments", cfg.Storage.Table)
	assert.Equal(t, "7071", cfg.Port)
	assert.True(t, cfg.Auth.TestMode)
	assert.Equal(t, time.Hour, cfg.Redis.DeduperTTL)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.Session.PersistTimeout)
}

func TestLoadFileThenDotEnvThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "projex.yaml", `
backend: mongo
mongo:
  uri: mongodb://file:27017
  database: boards
redis:
  connectionString: file:6379
auth:
  audience: api://projex
  domain: file.auth0.com
session:
  idleTTL: 1m
`)
	writeFile(t, dir, ".env", "MONGO_DATABASE=fromdotenv\nAUTH0_DOMAIN=dotenv.auth0.com\n")
	t.Setenv("AUTH0_DOMAIN", "env.auth0.com")
	// restores MONGO_DATABASE after godotenv sets it
	t.Setenv("MONGO_DATABASE", "")
	require.NoError(t, os.Unsetenv("MONGO_DATABASE"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, "mongodb://file:27017", cfg.Mongo.URI)
	assert.Equal(t, "fromdotenv", cfg.Mongo.Database)
	assert.Equal(t, "documents", cfg.Mongo.Collection)
	assert.Equal(t, "env.auth0.com", cfg.Auth.Domain)
	assert.Equal(t, "https://env.auth0.com/", cfg.Auth.Issuer())
	assert.Equal(t, "https://env.auth0.com/.well-known/jwks.json", cfg.Auth.JWKSURL())
	assert.Equal(t, time.Minute, cfg.Session.IdleTTL)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Backend: BackendMemory,
		Redis:   RedisConfig{DeduperTTL: time.Hour},
		Auth:    AuthConfig{TestMode: true, TestSecret: "s"},
		Session: SessionConfig{PersistTimeout: time.Second},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "sqlite" }, want: `unknown storage backend "sqlite"`},
		{name: "tables without connection", mutate: func(c *Config) { c.Backend = BackendTables; c.Storage.Table = "t" }, want: "STORAGE_CONNECTION_STRING"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Backend = BackendMongo; c.Redis.ConnectionString = "r:1" }, want: "MONGO_URI"},
		{name: "remote without redis", mutate: func(c *Config) { c.Backend = BackendMongo; c.Mongo.URI = "mongodb://x" }, want: "REDIS_CONNECTION_STRING"},
		{name: "test mode without secret", mutate: func(c *Config) { c.Auth.TestSecret = "" }, want: "TEST_JWT_SECRET"},
		{name: "auth0 without domain", mutate: func(c *Config) { c.Auth = AuthConfig{Audience: "a"} }, want: "missing Auth0 config"},
		{name: "deduper ttl", mutate: func(c *Config) { c.Redis.DeduperTTL = 0 }, want: "DEDUPER_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = RedisOptions("cache.redis.windows.net:6380,password=secret,ssl=True,abortConnect=False")
	require.NoError(t, err)
	assert.Equal(t, "cache.redis.windows.net:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.NotNil(t, opts.TLSConfig)

	_, err = RedisOptions("")
	assert.Error(t, err)
}
