package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the binaries.
// All values come from env (optionally seeded from a .env file).
type Config struct {
	App      AppConfig
	Store    StoreConfig
	DB       DBConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Retell   RetellConfig
	Calls    CallsConfig
	Jobs     JobsConfig
	Realtime RealtimeConfig
	Webhook  WebhookConfig
}

type AppConfig struct {
	Env  string
	Port int
	// MetricsEnabled mounts /metrics on the API.
	MetricsEnabled bool
}

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string
	// MigrateOnStart runs the embedded goose migrations before serving (postgres only).
	MigrateOnStart bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RetellConfig struct {
	APIKey      string
	AgentID     string
	FromNumber  string
	BaseURL     string
	Timeout     time.Duration
	PhoneRegion string
}

type CallsConfig struct {
	// MaxInFlightPerUser caps concurrent initiations per user. 0 disables the cap.
	MaxInFlightPerUser int
	InFlightTTL        time.Duration
	// FollowUpTimeout bounds the detached post-initiation write.
	FollowUpTimeout time.Duration
}

// Follow-up dispatch modes.
const (
	FollowUpModeInline = "inline"
	FollowUpModeQueue  = "queue"
)

type JobsConfig struct {
	FollowUpMode string
	Queue        string
	Concurrency  int
}

type RealtimeConfig struct {
	// RedisRelay fans broadcasts out across API instances through Redis pub/sub.
	RedisRelay bool
}

type WebhookConfig struct {
	Secret     string
	RatePerMin int
	Burst      int
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment.
func FromEnv() (Config, error) {
	c := Config{}
	r := &envReader{}

	c.App.Env = r.str("APP_ENV")
	c.App.Port = r.requiredInt("APP_PORT")
	c.App.MetricsEnabled = r.boolean("METRICS_ENABLED", true)

	c.Store.Driver = strings.ToLower(r.str("STORE_DRIVER"))
	c.Store.MigrateOnStart = r.boolean("DB_MIGRATE_ON_START", false)

	c.DB.Host = r.str("DB_HOST")
	c.DB.Port = r.integer("DB_PORT", 5432)
	c.DB.User = r.str("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = r.str("DB_NAME")
	c.DB.SSLMode = r.str("DB_SSLMODE")

	c.Mongo.URI = r.str("MONGO_URI")
	c.Mongo.Database = r.str("MONGO_DATABASE")

	c.Redis.Host = r.str("REDIS_HOST")
	c.Redis.Port = r.integer("REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = r.integer("REDIS_DB", 0)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = r.str("JWT_ISSUER")
	c.Auth.JWTAudience = r.str("JWT_AUDIENCE")
	// Durations are optional; Validate applies defaults.
	c.Auth.AccessTokenTTL = r.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = r.duration("JWT_REFRESH_TTL")

	c.Retell.APIKey = os.Getenv("RETELL_API_KEY")
	c.Retell.AgentID = r.str("RETELL_AGENT_ID")
	c.Retell.FromNumber = r.str("COMPANY_PHONE_NUMBER")
	c.Retell.BaseURL = r.str("RETELL_BASE_URL")
	c.Retell.Timeout = r.duration("RETELL_TIMEOUT")
	c.Retell.PhoneRegion = strings.ToUpper(r.str("PHONE_DEFAULT_REGION"))

	c.Calls.MaxInFlightPerUser = r.integer("CALLS_MAX_INFLIGHT_PER_USER", 0)
	c.Calls.InFlightTTL = r.duration("CALLS_INFLIGHT_TTL")
	c.Calls.FollowUpTimeout = r.duration("CALLS_FOLLOWUP_TIMEOUT")

	c.Jobs.FollowUpMode = strings.ToLower(r.str("CALLS_FOLLOWUP_MODE"))
	c.Jobs.Queue = r.str("ASYNQ_QUEUE")
	c.Jobs.Concurrency = r.integer("ASYNQ_CONCURRENCY", 10)

	c.Realtime.RedisRelay = r.boolean("REALTIME_REDIS_RELAY", false)

	c.Webhook.Secret = os.Getenv("RETELL_WEBHOOK_SECRET")
	c.Webhook.RatePerMin = r.integer("WEBHOOK_RATE_PER_MIN", 600)
	c.Webhook.Burst = r.integer("WEBHOOK_BURST", 60)

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults in place and reports every violation at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		errs = append(errs, c.validateDB()...)
	case StoreDriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE_DRIVER=mongo"))
		}
		if c.Mongo.Database == "" {
			c.Mongo.Database = "crm"
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of postgres, mongo, memory, got %q", c.Store.Driver))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Retell.APIKey == "" {
		errs = append(errs, errors.New("RETELL_API_KEY is required"))
	}
	if c.Retell.AgentID == "" {
		errs = append(errs, errors.New("RETELL_AGENT_ID is required"))
	}
	if c.Retell.FromNumber == "" {
		errs = append(errs, errors.New("COMPANY_PHONE_NUMBER is required"))
	}
	if c.Retell.Timeout <= 0 {
		c.Retell.Timeout = 10 * time.Second
	}
	if c.Retell.PhoneRegion == "" {
		c.Retell.PhoneRegion = "US"
	}

	if c.Calls.MaxInFlightPerUser < 0 {
		errs = append(errs, fmt.Errorf("CALLS_MAX_INFLIGHT_PER_USER must be >= 0, got %d", c.Calls.MaxInFlightPerUser))
	}
	if c.Calls.InFlightTTL <= 0 {
		c.Calls.InFlightTTL = 30 * time.Second
	}
	if c.Calls.FollowUpTimeout <= 0 {
		c.Calls.FollowUpTimeout = 15 * time.Second
	}

	if c.Jobs.FollowUpMode == "" {
		c.Jobs.FollowUpMode = FollowUpModeInline
	}
	if c.Jobs.FollowUpMode != FollowUpModeInline && c.Jobs.FollowUpMode != FollowUpModeQueue {
		errs = append(errs, fmt.Errorf("CALLS_FOLLOWUP_MODE must be inline or queue, got %q", c.Jobs.FollowUpMode))
	}
	if c.Jobs.Queue == "" {
		c.Jobs.Queue = "default"
	}
	if c.Jobs.Concurrency < 1 {
		c.Jobs.Concurrency = 10
	}

	if c.Webhook.RatePerMin <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_RATE_PER_MIN must be > 0, got %d", c.Webhook.RatePerMin))
	}
	if c.Webhook.Burst <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_BURST must be > 0, got %d", c.Webhook.Burst))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// envReader collects parse errors so Load can report all of them at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) requiredInt(key string) int {
	v := r.str(key)
	if v == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.integer(key, 0)
}

func (r *envReader) integer(key string, def int) int {
	v := r.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (r *envReader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
