package variables

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

const (
	BROKER_AUTO  = "auto"
	BROKER_REDIS = "redis"
	BROKER_NATS  = "nats"
	BROKER_LOCAL = "local"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPPort   string `env:"HTTP_PORT" envDefault:"8080"`
	InstanceID string `env:"INSTANCE_ID"`

	RedisURL     string        `env:"REDIS_URL"`
	RedisTimeout time.Duration `env:"REDIS_TIMEOUT" envDefault:"2s"`
	BrokerDriver string        `env:"BROKER_DRIVER" envDefault:"auto"`
	NatsURL      string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	EntityStoreDSN string        `env:"ENTITY_STORE_DSN" envDefault:":memory:"`
	DirectoryTTL   time.Duration `env:"DIRECTORY_TTL" envDefault:"2m"`

	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"20s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT" envDefault:"60s"`
	KickGrace    time.Duration `env:"KICK_GRACE" envDefault:"2s"`

	IdentityHMACSecret string `env:"IDENTITY_HMAC_SECRET"`
	IdentityJWKSPath   string `env:"IDENTITY_JWKS_PATH"`
	IdentityIssuer     string `env:"IDENTITY_ISSUER" envDefault:"room-coordinator"`
	IdentityAudience   string `env:"IDENTITY_AUDIENCE"`
	DevAuth            bool   `env:"DEV_AUTH" envDefault:"false"`

	OtelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment, fills derived defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	// Connection ids are <instance>.<uuid>.
	cfg.InstanceID = strings.ReplaceAll(cfg.InstanceID, ".", "-")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "coordinator"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (c Config) Validate() error {
	switch c.BrokerDriver {
	case BROKER_AUTO, BROKER_LOCAL, BROKER_NATS:
	case BROKER_REDIS:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: BROKER_DRIVER=redis requires REDIS_URL", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown BROKER_DRIVER %q", ErrInvalidConfig, c.BrokerDriver)
	}
	if c.PingInterval <= 0 || c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("%w: PONG_TIMEOUT must exceed PING_INTERVAL", ErrInvalidConfig)
	}
	if c.DirectoryTTL <= c.PingInterval {
		return fmt.Errorf("%w: DIRECTORY_TTL must exceed PING_INTERVAL", ErrInvalidConfig)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + c.HTTPPort
}
