// Package config handles application configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, and environment variables. Environment variable names are flat
// (SERVER_PORT, STORE_BACKEND, RATE_RULES, ...); YAML keys are the dotted
// lower-case equivalents (server.port, store.backend, rate.rules, ...).
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Storage backends understood by store.Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	Cleanup  CleanupConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string
	LogLevel string `validate:"oneof=debug info warn warning error"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the server address in host:port format.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects and configures the record storage backend.
type StoreConfig struct {
	Backend     string `validate:"oneof=file memory redis sqlite postgres"`
	Dir         string `validate:"required_if=Backend file"`
	SQLitePath  string `validate:"required_if=Backend sqlite"`
	RedisPrefix string `validate:"required_if=Backend redis"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Address returns the Redis address in host:port format.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RuleConfig is a configured limit for one limiter type.
type RuleConfig struct {
	Limit  int           `validate:"gt=0"`
	Window time.Duration `validate:"gte=1s"`
}

// RateLimitConfig holds limiter rules and the settings of the middleware
// guarding the service's own API.
type RateLimitConfig struct {
	Enabled        bool
	SelfType       string `validate:"required"`
	TrustProxy     bool
	APIKeyHeader   string
	TrustedProxies []string
	Rules          map[string]RuleConfig `validate:"dive"`
}

// CleanupConfig controls the background sweep of stale records.
// An Interval of zero disables the sweep.
type CleanupConfig struct {
	Interval time.Duration `validate:"gte=0"`
	MaxAge   time.Duration `validate:"gt=0"`
}

// setting binds a config key to its environment variable and default.
type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{"app.env", "APP_ENV", "development"},
	{"app.log_level", "LOG_LEVEL", "info"},

	{"server.host", "SERVER_HOST", "0.0.0.0"},
	{"server.port", "SERVER_PORT", "8080"},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", "5s"},
	{"server.write_timeout", "SERVER_WRITE_TIMEOUT", "10s"},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", "30s"},

	{"store.backend", "STORE_BACKEND", BackendFile},
	{"store.dir", "STORE_DIR", "data/ratelimit"},
	{"store.sqlite_path", "STORE_SQLITE_PATH", "data/throttle.db"},
	{"store.redis_prefix", "STORE_REDIS_PREFIX", "throttle:"},

	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", "5432"},
	{"database.user", "DB_USER", "throttle"},
	{"database.password", "DB_PASSWORD", ""},
	{"database.name", "DB_NAME", "throttle"},
	{"database.sslmode", "DB_SSLMODE", "disable"},
	{"database.max_open_conns", "DB_MAX_OPEN_CONNS", "10"},
	{"database.max_idle_conns", "DB_MAX_IDLE_CONNS", "2"},
	{"database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME", "5m"},

	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", "6379"},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", "0"},
	{"redis.pool_size", "REDIS_POOL_SIZE", "10"},

	{"rate.enabled", "RATE_ENABLED", "true"},
	{"rate.self_type", "RATE_SELF_TYPE", "api"},
	{"rate.trust_proxy", "RATE_TRUST_PROXY", "false"},
	{"rate.api_key_header", "RATE_API_KEY_HEADER", ""},
	{"rate.trusted_proxies", "RATE_TRUSTED_PROXIES", ""},
	{"rate.rules", "RATE_RULES", ""},

	{"cleanup.interval", "CLEANUP_INTERVAL", "10m"},
	{"cleanup.max_age", "CLEANUP_MAX_AGE", "768h"},
}

// envName maps a config key to its environment variable, for error messages.
var envName = func() map[string]string {
	m := make(map[string]string, len(settings))
	for _, s := range settings {
		m[s.key] = s.env
	}
	return m
}()

// Load reads configuration from environment variables only.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from the given YAML file (if non-empty) and
// environment variables, then validates the result.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		_ = v.BindEnv(s.key, s.env)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	r := &reader{v: v}
	cfg := &Config{}

	cfg.App.Env = r.str("app.env")
	cfg.App.LogLevel = strings.ToLower(r.str("app.log_level"))

	cfg.Server.Host = r.str("server.host")
	cfg.Server.Port = r.int("server.port")
	cfg.Server.ReadTimeout = r.duration("server.read_timeout")
	cfg.Server.WriteTimeout = r.duration("server.write_timeout")
	cfg.Server.ShutdownTimeout = r.duration("server.shutdown_timeout")

	cfg.Store.Backend = strings.ToLower(r.str("store.backend"))
	cfg.Store.Dir = r.str("store.dir")
	cfg.Store.SQLitePath = r.str("store.sqlite_path")
	cfg.Store.RedisPrefix = r.str("store.redis_prefix")

	cfg.Database.Host = r.str("database.host")
	cfg.Database.Port = r.int("database.port")
	cfg.Database.User = r.str("database.user")
	cfg.Database.Password = r.str("database.password")
	cfg.Database.DBName = r.str("database.name")
	cfg.Database.SSLMode = r.str("database.sslmode")
	cfg.Database.MaxOpenConns = r.int("database.max_open_conns")
	cfg.Database.MaxIdleConns = r.int("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = r.duration("database.conn_max_lifetime")

	cfg.Redis.Host = r.str("redis.host")
	cfg.Redis.Port = r.int("redis.port")
	cfg.Redis.Password = r.str("redis.password")
	cfg.Redis.DB = r.int("redis.db")
	cfg.Redis.PoolSize = r.int("redis.pool_size")

	cfg.Rate.Enabled = r.bool("rate.enabled")
	cfg.Rate.SelfType = r.str("rate.self_type")
	cfg.Rate.TrustProxy = r.bool("rate.trust_proxy")
	cfg.Rate.APIKeyHeader = r.str("rate.api_key_header")
	cfg.Rate.TrustedProxies = r.list("rate.trusted_proxies")

	cfg.Cleanup.Interval = r.duration("cleanup.interval")
	cfg.Cleanup.MaxAge = r.duration("cleanup.max_age")

	if r.err != nil {
		return nil, r.err
	}

	rules, err := r.rules("rate.rules")
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_RULES: %w", err)
	}
	cfg.Rate.Rules = rules

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and returns the first violation in a
// readable form.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseRules parses a comma separated rule list such as
// "login=5/300s,api=1000/1h,upload=20/3600". A window without a unit is
// taken as seconds.
func ParseRules(s string) (map[string]RuleConfig, error) {
	rules := make(map[string]RuleConfig)
	for _, part := range splitList(s) {
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("rule %q: expected name=limit/window", part)
		}

		limitStr, windowStr, ok := strings.Cut(value, "/")
		if !ok {
			return nil, fmt.Errorf("rule %q: expected limit/window", part)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("rule %q: limit must be a positive integer", part)
		}

		window, err := parseWindow(strings.TrimSpace(windowStr))
		if err != nil || window < time.Second {
			return nil, fmt.Errorf("rule %q: window must be at least 1s", part)
		}

		rules[name] = RuleConfig{Limit: limit, Window: window}
	}
	return rules, nil
}

// RuleNames returns the configured rule names in sorted order.
func (r RateLimitConfig) RuleNames() []string {
	names := make([]string, 0, len(r.Rules))
	for name := range r.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseWindow(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// reader pulls typed values out of viper and keeps the first parse error,
// named after the environment variable that carries the key.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) int(key string) int {
	raw := r.str(key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return n
}

func (r *reader) bool(key string) bool {
	raw := r.str(key)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, err)
		return false
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return d
}

// list accepts a comma separated string or a YAML sequence.
func (r *reader) list(key string) []string {
	items, ok := r.v.Get(key).([]interface{})
	if !ok {
		return splitList(r.str(key))
	}
	var out []string
	for _, item := range items {
		if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rules accepts the RATE_RULES string, a YAML sequence of name=limit/window
// entries, or a YAML mapping from name to either "limit/window" or
// {limit, window}. Viper lower-cases mapping keys.
func (r *reader) rules(key string) (map[string]RuleConfig, error) {
	switch raw := r.v.Get(key).(type) {
	case []interface{}:
		return ParseRules(strings.Join(r.list(key), ","))
	case map[string]interface{}:
		parts := make([]string, 0, len(raw))
		for name, value := range raw {
			switch rule := value.(type) {
			case map[string]interface{}:
				parts = append(parts, fmt.Sprintf("%s=%v/%v", name, rule["limit"], rule["window"]))
			default:
				parts = append(parts, fmt.Sprintf("%s=%v", name, rule))
			}
		}
		return ParseRules(strings.Join(parts, ","))
	default:
		return ParseRules(r.str(key))
	}
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", envName[key], err)
	}
}
