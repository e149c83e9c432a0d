package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the data-access core and the
// development API server.
type Config struct {
	App      AppConfig
	Client   ClientConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Session  SessionConfig
}

// AppConfig controls development server behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// ClientConfig holds the only tunables of the HTTP client.
type ClientConfig struct {
	BaseURL       string
	TimeoutMs     int
	MaxAttempts   int
	BackoffStepMs int
}

// StoreConfig selects and configures the persistent store backend.
type StoreConfig struct {
	Backend            string
	Dir                string
	Namespace          string
	CleanupIntervalSec int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines the development server's authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	SeedAdminEmail        string
	SeedAdminPassword     string
}

// SessionConfig names the persisted keys the session manager owns.
type SessionConfig struct {
	TokenKey string
	UserKey  string
}

// Store backend identifiers.
const (
	StoreBackendMemory   = "memory"
	StoreBackendFile     = "file"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "garage-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Client: ClientConfig{
			BaseURL:       strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
			TimeoutMs:     getEnvAsInt("API_TIMEOUT_MS", 10000),
			MaxAttempts:   getEnvAsInt("API_MAX_ATTEMPTS", 3),
			BackoffStepMs: getEnvAsInt("API_BACKOFF_STEP_MS", 1000),
		},
		Store: StoreConfig{
			Backend:            strings.ToLower(getEnv("STORE_BACKEND", StoreBackendFile)),
			Dir:                getEnv("STORE_DIR", defaultStoreDir()),
			Namespace:          getEnv("STORE_NAMESPACE", "garage"),
			CleanupIntervalSec: getEnvAsInt("STORE_CLEANUP_INTERVAL_SECONDS", 300),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			SeedAdminEmail:        os.Getenv("AUTH_SEED_ADMIN_EMAIL"),
			SeedAdminPassword:     os.Getenv("AUTH_SEED_ADMIN_PASSWORD"),
		},
		Session: SessionConfig{
			TokenKey: getEnv("SESSION_TOKEN_KEY", "auth_token"),
			UserKey:  getEnv("SESSION_USER_KEY", "user_data"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendFile, StoreBackendRedis, StoreBackendPostgres:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.Backend == StoreBackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("STORE_BACKEND=postgres requires POSTGRES_DSN")
	}
	if c.Client.MaxAttempts < 1 {
		return fmt.Errorf("API_MAX_ATTEMPTS must be at least 1, got %d", c.Client.MaxAttempts)
	}
	if c.Client.TimeoutMs <= 0 {
		return fmt.Errorf("API_TIMEOUT_MS must be positive, got %d", c.Client.TimeoutMs)
	}
	if c.Session.TokenKey == c.Session.UserKey {
		return fmt.Errorf("SESSION_TOKEN_KEY and SESSION_USER_KEY must differ")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-attempt request timeout.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BackoffStep returns the linear backoff unit between retries.
func (c ClientConfig) BackoffStep() time.Duration {
	return time.Duration(c.BackoffStepMs) * time.Millisecond
}

// CleanupInterval returns how often expired entries are swept; zero disables the sweeper.
func (s StoreConfig) CleanupInterval() time.Duration {
	if s.CleanupIntervalSec <= 0 {
		return 0
	}
	return time.Duration(s.CleanupIntervalSec) * time.Second
}

// AccessTokenTTL returns the lifetime of issued tokens.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir + string(os.PathSeparator) + "garage"
	}
	return ".garage"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
