package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendTables = "tables"
	BackendMongo  = "mongo"
)

// Config is the runtime configuration of the projex service.
type Config struct {
	Debug   bool          `mapstructure:"debug"`
	Port    string        `mapstructure:"port"`
	Backend string        `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Session SessionConfig `mapstructure:"session"`
}

// StorageConfig holds the Azure Storage settings.
type StorageConfig struct {
	ConnectionString string `mapstructure:"connectionString"`
	Table            string `mapstructure:"table"`
	// EventQueue receives change events; empty disables publishing.
	EventQueue string `mapstructure:"eventQueue"`
}

// MongoConfig holds the MongoDB settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig holds the Redis settings. Redis carries change notifications,
// the read cache and idempotency keys.
type RedisConfig struct {
	ConnectionString string        `mapstructure:"connectionString"`
	ChannelPrefix    string        `mapstructure:"channelPrefix"`
	CacheTTL         time.Duration `mapstructure:"cacheTTL"`
	DeduperTTL       time.Duration `mapstructure:"deduperTTL"`
}

// AuthConfig holds the identity provider settings.
type AuthConfig struct {
	Audience    string        `mapstructure:"audience"`
	Domain      string        `mapstructure:"domain"`
	TestMode    bool          `mapstructure:"testMode"`
	TestSecret  string        `mapstructure:"testSecret"`
	KeyCacheTTL time.Duration `mapstructure:"keyCacheTTL"`
}

// SessionConfig tunes board sessions.
type SessionConfig struct {
	IdleTTL        time.Duration `mapstructure:"idleTTL"`
	PersistTimeout time.Duration `mapstructure:"persistTimeout"`
}

// Issuer returns the token issuer of the configured Auth0 tenant.
func (a AuthConfig) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// JWKSURL returns the key set location of the configured Auth0 tenant.
func (a AuthConfig) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

var envBindings = map[string]string{
	"debug":                    "DEBUG",
	"port":                     "FUNCTIONS_CUSTOMHANDLER_PORT",
	"backend":                  "STORAGE_BACKEND",
	"storage.connectionString": "STORAGE_CONNECTION_STRING",
	"storage.table":            "DOCUMENTS_TABLE",
	"storage.eventQueue":       "EVENTS_QUEUE",
	"mongo.uri":                "MONGO_URI",
	"mongo.database":           "MONGO_DATABASE",
	"mongo.collection":         "MONGO_COLLECTION",
	"redis.connectionString":   "REDIS_CONNECTION_STRING",
	"redis.channelPrefix":      "REDIS_CHANNEL_PREFIX",
	"redis.cacheTTL":           "CACHE_TTL",
	"redis.deduperTTL":         "DEDUPER_TTL",
	"auth.audience":            "AUTH0_AUDIENCE",
	"auth.domain":              "AUTH0_DOMAIN",
	"auth.testMode":            "AUTH0_TEST_MODE",
	"auth.testSecret":          "TEST_JWT_SECRET",
	"auth.keyCacheTTL":         "JWKS_CACHE_TTL",
	"session.idleTTL":          "SESSION_IDLE_TTL",
	"session.persistTimeout":   "PERSIST_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("backend", BackendTables)
	v.SetDefault("storage.table", "projexdocuments")
	v.SetDefault("storage.eventQueue", "projex-events")
	v.SetDefault("mongo.database", "projex")
	v.SetDefault("mongo.collection", "documents")
	v.SetDefault("redis.channelPrefix", "projex:doc:")
	v.SetDefault("redis.cacheTTL", "5m")
	v.SetDefault("redis.deduperTTL", "24h")
	v.SetDefault("auth.keyCacheTTL", "15m")
	v.SetDefault("session.idleTTL", "30m")
	v.SetDefault("session.persistTimeout", "10s")
}

// Load reads the configuration. Values come from, in increasing priority,
// defaults, the YAML file at path (optional), a .env file in the working
// directory (optional) and the environment. Load does not validate; commands
// call Validate for the settings they need.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory:
	case BackendTables:
		if c.Storage.ConnectionString == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING"))
		}
		if c.Storage.Table == "" {
			errs = append(errs, errors.New("missing storage config: DOCUMENTS_TABLE"))
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("missing mongo config: MONGO_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Backend))
	}
	if c.Backend != BackendMemory && c.Redis.ConnectionString == "" {
		errs = append(errs, errors.New("missing redis config: REDIS_CONNECTION_STRING"))
	}
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth.Audience == "" || c.Auth.Domain == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	if c.Redis.DeduperTTL <= 0 {
		errs = append(errs, errors.New("invalid DEDUPER_TTL"))
	}
	if c.Session.PersistTimeout <= 0 {
		errs = append(errs, errors.New("invalid PERSIST_TIMEOUT"))
	}
	return errors.Join(errs...)
}

// RedisOptions parses a Redis URL or an Azure style connection string such
// as "host:6380,password=secret,ssl=True".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(v, "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
