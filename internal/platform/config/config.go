package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "certbridge/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Kafka     KafkaConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Reconcile ReconcileConfig
	Identity  IdentityConfig
	Logging   LoggingConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// KafkaConfig selects the Kafka-backed bus. Without brokers the process runs
// on the in-memory bus.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisConfig configures the payload blob store used with the Kafka bus.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PayloadTTL   time.Duration
}

// PostgresConfig configures the optional student store.
type PostgresConfig struct {
	DSN string
}

// ReconcileConfig bounds a reconciliation pass.
type ReconcileConfig struct {
	MessageLimit  int
	Concurrency   int
	CallTimeout   time.Duration
	RetryAttempts int
}

// IdentityConfig names this node and its counterparties on the bus.
type IdentityConfig struct {
	OrgName  string
	OrgID    string
	Issuer   string
	Receiver string
	// Directory is "Name=ID,Name=ID" for organizations known to this node.
	Directory string
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	orgName := envString("ORG_NAME", "Sender University")
	return Config{
		Server: Server{
			Addr:            envString("CERTBRIDGE_ADDR", ":8080"),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           envList("KAFKA_BROKERS"),
			Topic:             envString("KAFKA_TOPIC", "certbridge.private"),
			Partitions:        int32(envInt("KAFKA_PARTITIONS", 1)),
			ReplicationFactor: int16(envInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Redis: RedisConfig{
			URL:          envString("REDIS_URL", ""),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PayloadTTL:   envDuration("PAYLOAD_TTL", 0),
		},
		Postgres: PostgresConfig{
			DSN: envString("DATABASE_URL", ""),
		},
		Reconcile: ReconcileConfig{
			MessageLimit:  envInt("RECONCILE_MESSAGE_LIMIT", 1000),
			Concurrency:   envInt("RECONCILE_CONCURRENCY", 8),
			CallTimeout:   envDuration("RECONCILE_CALL_TIMEOUT", 10*time.Second),
			RetryAttempts: envInt("BUS_RETRY_ATTEMPTS", 3),
		},
		Identity: IdentityConfig{
			OrgName:   orgName,
			OrgID:     envString("ORG_ID", "did:certbridge:"+strings.ToLower(strings.ReplaceAll(orgName, " ", "-"))),
			Issuer:    envString("ISSUER_ORG", "Issuing Authority"),
			Receiver:  envString("RECEIVER_ORG", orgName),
			Directory: envString("ORG_DIRECTORY", ""),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func envList(key string) []string {
	return platformstrings.SplitList(os.Getenv(key))
}
