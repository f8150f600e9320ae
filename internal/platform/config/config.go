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

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	PublicBaseURL string
	StoreBackend  string
	RosterFile    string
	SubmitRetries int

	Log       LogConfig
	Postgres  PostgresConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Admin     AdminConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string
	Format string
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// MongoConfig configures the document backend.
type MongoConfig struct {
	URL          string
	Database     string
	Transactions bool
}

// RedisConfig configures the voting-settings cache and pub/sub.
// An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit publisher. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// AdminConfig configures the admin bearer-token gate.
type AdminConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// ReconcileConfig drives the tally reconciliation worker.
type ReconcileConfig struct {
	Interval time.Duration
	Repair   bool
}

// RateLimitConfig caps requests per client address per minute. Zero
// disables a class.
type RateLimitConfig struct {
	ReadPerMinute  int
	WritePerMinute int
}

// Load reads a .env file when present and then builds the config from the
// environment. Real environment variables win over .env entries.
func Load() (Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          getEnv("HUSTINGS_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		RosterFile:    os.Getenv("ROSTER_FILE"),
		SubmitRetries: getInt("SUBMIT_RETRIES", 3),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Mongo: MongoConfig{
			URL:          os.Getenv("MONGO_URL"),
			Database:     getEnv("MONGO_DATABASE", "hustings"),
			Transactions: getBool("MONGO_TRANSACTIONS", false),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("AUDIT_TOPIC", "hustings.audit"),
		},
		Admin: AdminConfig{
			// development default; override in any shared environment
			JWTSecret: getEnv("ADMIN_JWT_SECRET", "dev-admin-secret-change-me"),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", "hustings"),
			Audience:  getEnv("ADMIN_JWT_AUDIENCE", "hustings-admin"),
		},
		Reconcile: ReconcileConfig{
			Interval: getDuration("RECONCILE_INTERVAL", 5*time.Minute),
			Repair:   getBool("RECONCILE_REPAIR", false),
		},
		RateLimit: RateLimitConfig{
			ReadPerMinute:  getInt("RATE_LIMIT_READ_PER_MINUTE", 300),
			WritePerMinute: getInt("RATE_LIMIT_WRITE_PER_MINUTE", 30),
		},
	}
}

// Validate rejects incoherent combinations.
func (s Server) Validate() error {
	switch s.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if s.Postgres.URL == "" {
			return errors.New("config: STORE_BACKEND=postgres requires DATABASE_URL")
		}
	case BackendMongo:
		if s.Mongo.URL == "" {
			return errors.New("config: STORE_BACKEND=mongo requires MONGO_URL")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", s.StoreBackend)
	}
	if s.Admin.JWTSecret == "" {
		return errors.New("config: ADMIN_JWT_SECRET must not be empty")
	}
	if s.SubmitRetries < 0 {
		return errors.New("config: SUBMIT_RETRIES must not be negative")
	}
	if s.RateLimit.ReadPerMinute < 0 || s.RateLimit.WritePerMinute < 0 {
		return errors.New("config: RATE_LIMIT_* must not be negative")
	}
	if s.Reconcile.Interval < 0 {
		return errors.New("config: RECONCILE_INTERVAL must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
